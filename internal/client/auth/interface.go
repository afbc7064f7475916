package auth

import (
	"context"

	"github.com/iudanet/gophsync/pkg/api"
)

//go:generate moq -out api_mock.go . API

// API запросы аутентификации к серверу
type API interface {
	Register(ctx context.Context, req api.RegisterRequest) (*api.RegisterResponse, error)
	Login(ctx context.Context, req api.LoginRequest) (*api.TokenResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*api.TokenResponse, error)
	Logout(ctx context.Context) error
}
