package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/iudanet/gophsync/pkg/api"
)

// Devices возвращает устройства пользователя
func (c *Client) Devices(ctx context.Context) (*api.DevicesResponse, error) {
	var resp api.DevicesResponse
	if err := c.doAuthRequest(ctx, http.MethodGet, "/api/v1/devices", nil, &resp); err != nil {
		return nil, fmt.Errorf("devices request failed: %w", err)
	}
	return &resp, nil
}

// RevokeDevice отзывает устройство пользователя
func (c *Client) RevokeDevice(ctx context.Context, deviceID string) error {
	path := "/api/v1/devices/" + url.PathEscape(deviceID) + "/revoke"
	if err := c.doAuthRequest(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("revoke request failed: %w", err)
	}
	return nil
}

// Conflicts возвращает журнал конфликтов, resolution фильтрует по способу разрешения
func (c *Client) Conflicts(ctx context.Context, resolution string) (*api.ConflictsResponse, error) {
	path := "/api/v1/conflicts"
	if resolution != "" {
		path += "?" + url.Values{"resolution": {resolution}}.Encode()
	}

	var resp api.ConflictsResponse
	if err := c.doAuthRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("conflicts request failed: %w", err)
	}
	return &resp, nil
}

// DeleteConflict удаляет запись из журнала конфликтов
func (c *Client) DeleteConflict(ctx context.Context, id string) error {
	if err := c.doAuthRequest(ctx, http.MethodDelete, "/api/v1/conflicts/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("delete conflict request failed: %w", err)
	}
	return nil
}
