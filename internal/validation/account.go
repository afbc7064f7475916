package validation

import (
	"fmt"
	"regexp"
)

// UsernamePattern определяет допустимый формат username:
// латинские буквы, цифры и '_', длина 3-32 символа
var UsernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,32}$`)

// DeviceIDPattern допустимый идентификатор устройства (обычно UUID)
var DeviceIDPattern = regexp.MustCompile(`^[a-zA-Z0-9-]{8,64}$`)

const (
	// MinUsernameLen минимальная длина username
	MinUsernameLen = 3
	// MaxUsernameLen максимальная длина username
	MaxUsernameLen = 32
	// MinPasswordLen минимальная длина пароля
	MinPasswordLen = 12
	// MaxPasswordBytes bcrypt игнорирует всё после 72 байт
	MaxPasswordBytes = 72
	// MaxDeviceNameLen максимальная длина имени устройства
	MaxDeviceNameLen = 64
)

// ValidateUsername проверяет, что username соответствует требованиям
func ValidateUsername(username string) error {
	if username == "" {
		return fmt.Errorf("username cannot be empty")
	}

	if len(username) < MinUsernameLen {
		return fmt.Errorf("username must be at least %d characters long", MinUsernameLen)
	}

	if len(username) > MaxUsernameLen {
		return fmt.Errorf("username must not exceed %d characters", MaxUsernameLen)
	}

	if !UsernamePattern.MatchString(username) {
		return fmt.Errorf("username can only contain letters (a-z, A-Z), numbers (0-9), and underscores (_)")
	}

	return nil
}

// ValidatePassword проверяет требования к паролю аккаунта
func ValidatePassword(password string) error {
	if password == "" {
		return fmt.Errorf("password cannot be empty")
	}

	if len([]rune(password)) < MinPasswordLen {
		return fmt.Errorf("password must be at least %d characters long", MinPasswordLen)
	}

	if len(password) > MaxPasswordBytes {
		return fmt.Errorf("password must not exceed %d bytes", MaxPasswordBytes)
	}

	return nil
}

// ValidateDevice проверяет идентификатор и имя устройства при входе
func ValidateDevice(deviceID, name string) error {
	if !DeviceIDPattern.MatchString(deviceID) {
		return fmt.Errorf("device id must be 8-64 characters of letters, digits and '-'")
	}
	if len(name) > MaxDeviceNameLen {
		return fmt.Errorf("device name must not exceed %d characters", MaxDeviceNameLen)
	}
	return nil
}
