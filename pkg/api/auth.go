package api

// RegisterRequest представляет запрос на регистрацию нового пользователя
type RegisterRequest struct {
	Username string `json:"username"` // username пользователя
	Password string `json:"password"` // пароль, сервер хранит только bcrypt хеш
}

// RegisterResponse представляет ответ на успешную регистрацию
type RegisterResponse struct {
	UserID  string `json:"user_id"` // UUID пользователя
	Message string `json:"message"` // сообщение об успешной регистрации
}

// LoginRequest представляет запрос на аутентификацию.
// Вход привязывает токены к устройству и регистрирует его в реестре.
type LoginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	DeviceID   string `json:"device_id"`             // стабильный идентификатор устройства
	DeviceName string `json:"device_name,omitempty"` // человекочитаемое имя
	DeviceKind string `json:"device_kind,omitempty"` // full или capture, по умолчанию full
}

// TokenResponse представляет ответ с токенами доступа
type TokenResponse struct {
	AccessToken  string `json:"access_token"`  // JWT access token
	RefreshToken string `json:"refresh_token"` // refresh token
	UserID       string `json:"user_id"`
	ExpiresIn    int64  `json:"expires_in"` // время жизни access token в секундах
}

// ErrorResponse представляет ответ с ошибкой
type ErrorResponse struct {
	Error      string      `json:"error"`                // описание ошибки
	Message    string      `json:"message,omitempty"`    // дополнительное сообщение
	Violations []Violation `json:"violations,omitempty"` // нарушения правил по отдельным изменениям
}

// Violation одно нарушение в батче push
type Violation struct {
	EntityType string `json:"entity_type,omitempty"`
	EntityID   string `json:"entity_id,omitempty"`
	Reason     string `json:"reason"`
	Index      int    `json:"index"`
}
