// Package notify показывает пользователю одно эфемерное сообщение.
//
// Модель одного слота, не очередь: новое сообщение перезаписывает
// предыдущее, каждое показанное сообщение планирует собственную
// безусловную очистку слота.
package notify

import (
	"sync"
	"time"
)

// Severity важность сообщения
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// DefaultTimeout время жизни сообщения по умолчанию
const DefaultTimeout = 3000 * time.Millisecond

// Service одно-слотовый сервис уведомлений. Потокобезопасен.
type Service struct {
	mu       sync.RWMutex
	message  string
	severity Severity
	timeout  time.Duration
}

// New создает сервис с указанным временем жизни сообщений.
// timeout <= 0 заменяется на DefaultTimeout.
func New(timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Service{timeout: timeout, severity: SeveritySuccess}
}

// Show показывает сообщение со стандартным таймаутом
func (s *Service) Show(msg string, severity Severity) {
	s.ShowTimeout(msg, severity, s.timeout)
}

// ShowTimeout показывает сообщение с индивидуальным таймаутом.
//
// Очистка каждого показа независима и безусловна: таймер более раннего
// долгоживущего сообщения может очистить и более позднее. Это сознательное
// поведение одного слота, подавление старых таймеров не выполняется.
func (s *Service) ShowTimeout(msg string, severity Severity, timeout time.Duration) {
	if timeout <= 0 {
		timeout = s.timeout
	}
	s.mu.Lock()
	s.message = msg
	s.severity = severity
	s.mu.Unlock()

	time.AfterFunc(timeout, s.Clear)
}

// Clear очищает слот сообщения
func (s *Service) Clear() {
	s.mu.Lock()
	s.message = ""
	s.mu.Unlock()
}

// Current возвращает текущее сообщение и его важность.
// Пустое сообщение означает пустой слот.
func (s *Service) Current() (string, Severity) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.message, s.severity
}
