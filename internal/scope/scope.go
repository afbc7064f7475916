// Package scope привязывает все операции хранилища к аутентифицированному пользователю.
//
// Scope нельзя собрать вручную: поля не экспортируются, единственный
// конструктор New требует непустой user_id. Хранилище принимает Scope
// вместо голой строки user_id, поэтому путь чтения или записи без владельца
// не компилируется.
package scope

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnscoped операция хранилища вызвана с нулевым Scope
	ErrUnscoped = errors.New("operation is not bound to a user scope")

	// ErrScopeViolation данные принадлежат другому пользователю
	// или запрос не ограничен user_id
	ErrScopeViolation = errors.New("user scope violation")
)

// Scope аутентифицированный пользователь и устройство, от имени которых выполняется операция
type Scope struct {
	userID   string
	deviceID string
}

// New создаёт Scope. deviceID может быть пустым для операций вне сессии устройства.
func New(userID, deviceID string) (Scope, error) {
	if userID == "" {
		return Scope{}, fmt.Errorf("%w: empty user id", ErrUnscoped)
	}
	return Scope{userID: userID, deviceID: deviceID}, nil
}

// UserID возвращает владельца
func (s Scope) UserID() string { return s.userID }

// DeviceID возвращает устройство
func (s Scope) DeviceID() string { return s.deviceID }

// Valid сообщает, был ли Scope создан через New
func (s Scope) Valid() bool { return s.userID != "" }

// Check возвращает ErrScopeViolation, если ownerID не совпадает с пользователем Scope
func (s Scope) Check(ownerID string) error {
	if !s.Valid() {
		return ErrUnscoped
	}
	if ownerID != s.userID {
		return fmt.Errorf("%w: record owned by another user", ErrScopeViolation)
	}
	return nil
}

func (s Scope) String() string {
	return fmt.Sprintf("user=%s device=%s", s.userID, s.deviceID)
}

type contextKey struct{}

// WithContext кладёт Scope в контекст запроса
func WithContext(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext достаёт Scope из контекста запроса
func FromContext(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(contextKey{}).(Scope)
	if !ok || !s.Valid() {
		return Scope{}, false
	}
	return s, true
}
