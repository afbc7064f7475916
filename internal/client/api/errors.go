package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/iudanet/gophsync/pkg/api"
)

// ErrNoTokenSource защищённый запрос без источника токенов
var ErrNoTokenSource = errors.New("not authenticated")

// Error ответ сервера с кодом вне 2xx
type Error struct {
	Message    string
	Violations []api.Violation
	RetryAfter time.Duration // из заголовка Retry-After, 0 если его нет
	StatusCode int
}

func (e *Error) Error() string {
	if len(e.Violations) > 0 {
		parts := make([]string, 0, len(e.Violations))
		for _, v := range e.Violations {
			parts = append(parts, fmt.Sprintf("#%d %s/%s: %s", v.Index, v.EntityType, v.EntityID, v.Reason))
		}
		return fmt.Sprintf("server error (%d): %s: %s", e.StatusCode, e.Message, strings.Join(parts, "; "))
	}
	return fmt.Sprintf("server error (%d): %s", e.StatusCode, e.Message)
}

// StatusCode возвращает HTTP код из ошибки сервера или 0
func StatusCode(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

func newError(resp *http.Response, body []byte) *Error {
	e := &Error{StatusCode: resp.StatusCode}

	var errResp api.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && (errResp.Error != "" || errResp.Message != "") {
		e.Message = errResp.Error
		if errResp.Message != "" {
			e.Message = errResp.Message
		}
		e.Violations = errResp.Violations
	} else {
		e.Message = strings.TrimSpace(string(body))
	}
	if e.Message == "" {
		e.Message = http.StatusText(resp.StatusCode)
	}

	if s := resp.Header.Get("Retry-After"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil && secs > 0 {
			e.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return e
}
