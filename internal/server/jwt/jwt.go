// Package jwt выпускает и проверяет access токены устройств.
package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/iudanet/gophsync/internal/crypto"
)

const issuer = "gophsync"

// ErrInvalidToken токен не прошёл проверку подписи, срока или формата
var ErrInvalidToken = errors.New("invalid token")

// Claims claims access токена. Токен выдаётся устройству,
// поэтому кроме пользователя содержит device_id.
type Claims struct {
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id"`
	jwt.RegisteredClaims
}

// Service provides JWT token generation and validation
type Service struct {
	now             func() time.Time
	secret          []byte
	accessTokenTTL  time.Duration
	refreshTokenTTL time.Duration
}

// NewService creates a new JWT service
// secret should be a cryptographically secure random string
func NewService(secret string, accessTokenTTL, refreshTokenTTL time.Duration) *Service {
	return &Service{
		now:             time.Now,
		secret:          []byte(secret),
		accessTokenTTL:  accessTokenTTL,
		refreshTokenTTL: refreshTokenTTL,
	}
}

// GenerateAccessToken создает новый JWT access token, возвращает токен и срок жизни в секундах
func (s *Service) GenerateAccessToken(userID, deviceID string) (string, int64, error) {
	now := s.now()

	claims := Claims{
		UserID:   userID,
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", 0, fmt.Errorf("failed to sign token: %w", err)
	}

	return token, int64(s.accessTokenTTL.Seconds()), nil
}

// ValidateAccessToken валидирует и парсит JWT access token
func (s *Service) ValidateAccessToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		// Проверяем что используется правильный алгоритм подписи
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID == "" || claims.DeviceID == "" {
		return nil, fmt.Errorf("%w: missing user or device", ErrInvalidToken)
	}

	return claims, nil
}

// GenerateRefreshToken создает новый random refresh token и время его истечения
func (s *Service) GenerateRefreshToken() (string, time.Time, error) {
	token, err := crypto.GenerateToken(32)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, s.now().Add(s.refreshTokenTTL), nil
}

// RefreshTokenTTL срок жизни refresh токена
func (s *Service) RefreshTokenTTL() time.Duration {
	return s.refreshTokenTTL
}
