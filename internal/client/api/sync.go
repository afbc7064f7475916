package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/iudanet/gophsync/pkg/api"
)

// eventsBuffer сколько событий ждёт читателя, прежде чем чтение из сокета встанет
const eventsBuffer = 16

// Pull запрашивает страницу изменений после версии since
func (c *Client) Pull(ctx context.Context, since uint64, types []string, pageSize int) (*api.PullResponse, error) {
	q := url.Values{}
	q.Set("since", strconv.FormatUint(since, 10))
	if pageSize > 0 {
		q.Set("page_size", strconv.Itoa(pageSize))
	}
	if len(types) > 0 {
		q.Set("types", strings.Join(types, ","))
	}

	var resp api.PullResponse
	if err := c.doAuthRequest(ctx, http.MethodGet, "/api/v1/sync/pull?"+q.Encode(), nil, &resp); err != nil {
		return nil, fmt.Errorf("pull request failed: %w", err)
	}
	return &resp, nil
}

// Push отправляет батч изменений устройства
func (c *Client) Push(ctx context.Context, changes []api.EntityChange) (*api.PushResponse, error) {
	var resp api.PushResponse
	if err := c.doAuthRequest(ctx, http.MethodPost, "/api/v1/sync/push", api.PushRequest{Changes: changes}, &resp); err != nil {
		return nil, fmt.Errorf("push request failed: %w", err)
	}
	return &resp, nil
}

// Events подписывается на уведомления о новых версиях.
// Канал закрывается при разрыве соединения или отмене ctx.
func (c *Client) Events(ctx context.Context) (<-chan api.ChangeEvent, error) {
	conn, err := c.dialEvents(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan api.ChangeEvent, eventsBuffer)
	go func() {
		defer close(out)
		defer conn.Close()

		// ReadJSON не принимает ctx, закрытие соединения прерывает чтение
		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
		defer stop()

		for {
			var ev api.ChangeEvent
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (c *Client) dialEvents(ctx context.Context) (*websocket.Conn, error) {
	if c.tokens == nil {
		return nil, ErrNoTokenSource
	}

	wsURL, err := websocketURL(c.baseURL + "/api/v1/sync/events")
	if err != nil {
		return nil, err
	}

	dial := func() (*websocket.Conn, *http.Response, error) {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, nil, err
		}
		header := http.Header{}
		header.Set("Authorization", "Bearer "+token)
		return c.dialer.DialContext(ctx, wsURL, header)
	}

	conn, resp, err := dial()
	if resp != nil && resp.StatusCode == http.StatusUnauthorized {
		if rerr := c.tokens.Refresh(ctx); rerr != nil {
			return nil, errors.Join(fmt.Errorf("events handshake: %w", &Error{StatusCode: resp.StatusCode, Message: "unauthorized"}), rerr)
		}
		conn, resp, err = dial()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("events handshake failed: %w", &Error{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)})
		}
		return nil, fmt.Errorf("events handshake failed: %w", err)
	}
	return conn, nil
}

// websocketURL переводит http(s) адрес в ws(s)
func websocketURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	return u.String(), nil
}
