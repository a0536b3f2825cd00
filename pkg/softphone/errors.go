package softphone

import (
	"fmt"
	"time"
)

// ErrorCategory категории ошибок ядра для классификации
type ErrorCategory string

const (
	// ErrorCategoryDevice аудио устройства не найдены или не перечислены
	ErrorCategoryDevice ErrorCategory = "DEVICE"
	// ErrorCategoryLookup операция ссылается на несуществующую линию
	ErrorCategoryLookup ErrorCategory = "LOOKUP"
	// ErrorCategoryCommand сигнальная команда отклонена движком
	ErrorCategoryCommand ErrorCategory = "COMMAND"
	// ErrorCategoryRegistration сбой регистрации или транспорта
	ErrorCategoryRegistration ErrorCategory = "REGISTRATION"
	// ErrorCategoryStorage сбой записи истории вызовов
	ErrorCategoryStorage ErrorCategory = "STORAGE"
)

// PhoneError структурированная ошибка ядра с контекстом.
//
// Ни одна ошибка этих категорий не фатальна: все деградируют до
// уведомления пользователю и продолжения работы.
type PhoneError struct {
	Code      string        `json:"code"`
	Message   string        `json:"message"`
	Category  ErrorCategory `json:"category"`
	LineID    string        `json:"line_id,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Cause     error         `json:"-"`
}

// Error реализует интерфейс error
func (e *PhoneError) Error() string {
	if e.LineID != "" {
		return fmt.Sprintf("[%s:%s] %s (line: %s)", e.Category, e.Code, e.Message, e.LineID)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap позволяет использовать errors.Is и errors.As
func (e *PhoneError) Unwrap() error {
	return e.Cause
}

// newPhoneError создает ошибку с текущим временем
func newPhoneError(category ErrorCategory, code, message string, cause error) *PhoneError {
	return &PhoneError{
		Code:      code,
		Message:   message,
		Category:  category,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

// WithLine добавляет к ошибке идентификатор линии
func (e *PhoneError) WithLine(lineID string) *PhoneError {
	e.LineID = lineID
	return e
}

// Предопределенные конструкторы по категориям

func errNoAudioDevice() *PhoneError {
	return newPhoneError(ErrorCategoryDevice, "NO_AUDIO_DEVICE", "no audio input/output device detected", nil)
}

func errDeviceEnumeration(cause error) *PhoneError {
	return newPhoneError(ErrorCategoryDevice, "ENUMERATION_FAILED", "device enumeration failed", cause)
}

func errLineNotFound(lineID string) *PhoneError {
	return newPhoneError(ErrorCategoryLookup, "LINE_NOT_FOUND", "line no longer exists", nil).WithLine(lineID)
}

func errCommandFailed(command string, cause error) *PhoneError {
	return newPhoneError(ErrorCategoryCommand, "COMMAND_FAILED",
		fmt.Sprintf("signaling command %s rejected", command), cause)
}

func errStorage(cause error) *PhoneError {
	return newPhoneError(ErrorCategoryStorage, "PERSIST_FAILED", "call log persistence failed", cause)
}
