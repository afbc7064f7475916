package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/iudanet/gophsync/internal/scope"
	"github.com/iudanet/gophsync/internal/validation"
)

var (
	// ErrAuthentication вызывающий не аутентифицирован или устройство отозвано
	ErrAuthentication = errors.New("authentication failed")

	// ErrValidation батч или запрос нарушает правила формы, повтор без исправления бесполезен
	ErrValidation = errors.New("validation failed")

	// ErrStorage временная ошибка хранилища или превышен дедлайн, батч можно повторить целиком
	ErrStorage = errors.New("storage unavailable")

	// ErrScopeViolation изменение принадлежит другому пользователю
	ErrScopeViolation = scope.ErrScopeViolation
)

// ValidationError перечисляет все нарушения батча
type ValidationError struct {
	Violations []validation.Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.String())
	}
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func storageError(err error) error {
	return fmt.Errorf("%w: %w", ErrStorage, err)
}
