// Package mockengine содержит mock реализацию сигнального движка для тестов.
//
// Позволяет тестировать ядро софтфона без сети: команды записываются,
// ошибки инжектируются, а события (ход вызова, bye/cancel, смена состояний
// транспорта и регистрации) запускаются вручную из теста.
package mockengine

import (
	"context"
	"sync"

	"github.com/arzzra/webphone/pkg/signaling"
)

// MockSession управляемая из теста сигнальная сессия
type MockSession struct {
	mu sync.Mutex

	state    signaling.SessionState
	delegate signaling.SessionDelegate
	progress signaling.ProgressDelegate

	// Инжектируемые ошибки команд
	InviteErr error
	AcceptErr error
	RejectErr error
	ByeErr    error
	CancelErr error

	// Счетчики вызовов команд
	InviteCalls int
	AcceptCalls int
	RejectCalls int
	ByeCalls    int
	CancelCalls int

	// LastAcceptOptions опции последнего Accept
	LastAcceptOptions signaling.AcceptOptions
}

// NewSession создает mock сессию в начальном состоянии
func NewSession() *MockSession {
	return &MockSession{state: signaling.SessionInitial}
}

// State возвращает текущее состояние сессии
func (s *MockSession) State() signaling.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState выставляет состояние сессии напрямую (для тестов)
func (s *MockSession) SetState(st signaling.SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

// SetDelegate сохраняет обработчики терминальных событий
func (s *MockSession) SetDelegate(d signaling.SessionDelegate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delegate = d
}

// Delegate возвращает назначенные обработчики
func (s *MockSession) Delegate() signaling.SessionDelegate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delegate
}

// Invite записывает команду и сохраняет progress delegate
func (s *MockSession) Invite(_ context.Context, progress signaling.ProgressDelegate) error {
	s.mu.Lock()
	s.InviteCalls++
	s.progress = progress
	err := s.InviteErr
	if err == nil {
		s.state = signaling.SessionEstablishing
	}
	s.mu.Unlock()
	return err
}

// Accept записывает команду принятия вызова
func (s *MockSession) Accept(_ context.Context, opts signaling.AcceptOptions) error {
	s.mu.Lock()
	s.AcceptCalls++
	s.LastAcceptOptions = opts
	err := s.AcceptErr
	if err == nil {
		s.state = signaling.SessionEstablished
	}
	s.mu.Unlock()
	return err
}

// Reject записывает команду отклонения
func (s *MockSession) Reject(_ context.Context) error {
	s.mu.Lock()
	s.RejectCalls++
	err := s.RejectErr
	if err == nil {
		s.state = signaling.SessionTerminated
	}
	s.mu.Unlock()
	return err
}

// Bye записывает команду завершения
func (s *MockSession) Bye(_ context.Context) error {
	s.mu.Lock()
	s.ByeCalls++
	err := s.ByeErr
	if err == nil {
		s.state = signaling.SessionTerminated
	}
	s.mu.Unlock()
	return err
}

// Cancel записывает команду отмены
func (s *MockSession) Cancel(_ context.Context) error {
	s.mu.Lock()
	s.CancelCalls++
	err := s.CancelErr
	if err == nil {
		s.state = signaling.SessionTerminated
	}
	s.mu.Unlock()
	return err
}

// FireTrying имитирует предварительный ответ 100 от сервера
func (s *MockSession) FireTrying() {
	s.mu.Lock()
	fn := s.progress.OnTrying
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// FireProgress имитирует предварительный ответ 180/183
func (s *MockSession) FireProgress() {
	s.mu.Lock()
	fn := s.progress.OnProgress
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// FireAccept имитирует финальный положительный ответ
func (s *MockSession) FireAccept() {
	s.mu.Lock()
	fn := s.progress.OnAccept
	s.state = signaling.SessionEstablished
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// FireBye имитирует завершение вызова удаленной стороной
func (s *MockSession) FireBye() {
	s.mu.Lock()
	fn := s.delegate.OnBye
	s.state = signaling.SessionTerminated
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// FireCancel имитирует отмену входящего вызова
func (s *MockSession) FireCancel(completedElsewhere bool) {
	s.mu.Lock()
	fn := s.delegate.OnCancel
	s.state = signaling.SessionTerminated
	s.mu.Unlock()
	if fn != nil {
		fn(completedElsewhere)
	}
}

// MockRegistrar управляемый из теста регистратор
type MockRegistrar struct {
	mu        sync.Mutex
	listeners []func(signaling.RegistrarState)

	RegisterErr   error
	UnregisterErr error

	RegisterCalls   int
	UnregisterCalls int
}

// Register записывает запрос регистрации
func (r *MockRegistrar) Register(_ context.Context) error {
	r.mu.Lock()
	r.RegisterCalls++
	err := r.RegisterErr
	r.mu.Unlock()
	return err
}

// Unregister записывает запрос снятия регистрации
func (r *MockRegistrar) Unregister(_ context.Context) error {
	r.mu.Lock()
	r.UnregisterCalls++
	err := r.UnregisterErr
	r.mu.Unlock()
	return err
}

// OnStateChange подписывает обработчик
func (r *MockRegistrar) OnStateChange(fn func(signaling.RegistrarState)) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// FireState доставляет состояние регистрации всем подписчикам
func (r *MockRegistrar) FireState(st signaling.RegistrarState) {
	r.mu.Lock()
	listeners := make([]func(signaling.RegistrarState), len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.Unlock()
	for _, fn := range listeners {
		fn(st)
	}
}

// MockTransport управляемый из теста транспорт
type MockTransport struct {
	mu        sync.Mutex
	state     signaling.TransportState
	listeners []func(signaling.TransportState)
}

// State возвращает текущее состояние транспорта
func (t *MockTransport) State() signaling.TransportState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// OnStateChange подписывает обработчик
func (t *MockTransport) OnStateChange(fn func(signaling.TransportState)) {
	t.mu.Lock()
	t.listeners = append(t.listeners, fn)
	t.mu.Unlock()
}

// FireState выставляет состояние транспорта и уведомляет подписчиков
func (t *MockTransport) FireState(st signaling.TransportState) {
	t.mu.Lock()
	t.state = st
	listeners := make([]func(signaling.TransportState), len(t.listeners))
	copy(listeners, t.listeners)
	t.mu.Unlock()
	for _, fn := range listeners {
		fn(st)
	}
}

// MockEngine сигнальный движок для тестов
type MockEngine struct {
	mu       sync.Mutex
	incoming signaling.IncomingHandler

	registrar *MockRegistrar
	transport *MockTransport

	// DialErr инжектируемая ошибка создания исходящей сессии
	DialErr error
	// SessionInviteErr ошибка Invite, назначаемая создаваемым сессиям
	SessionInviteErr error
	// DialedSessions созданные через Dial сессии в порядке создания
	DialedSessions []*MockSession
	// DialedNumbers номера в порядке набора
	DialedNumbers []string

	StartCalls int
	StopCalls  int
}

// New создает mock движок
func New() *MockEngine {
	return &MockEngine{
		registrar: &MockRegistrar{},
		transport: &MockTransport{},
	}
}

// Registrar возвращает mock регистратор
func (e *MockEngine) Registrar() signaling.Registrar { return e.registrar }

// MockRegistrar возвращает регистратор с тестовыми методами
func (e *MockEngine) MockRegistrar() *MockRegistrar { return e.registrar }

// Transport возвращает mock транспорт
func (e *MockEngine) Transport() signaling.Transport { return e.transport }

// MockTransport возвращает транспорт с тестовыми методами
func (e *MockEngine) MockTransport() *MockTransport { return e.transport }

// OnIncoming назначает обработчик входящих вызовов
func (e *MockEngine) OnIncoming(fn signaling.IncomingHandler) {
	e.mu.Lock()
	e.incoming = fn
	e.mu.Unlock()
}

// Dial создает новую mock сессию
func (e *MockEngine) Dial(number string) (signaling.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.DialErr != nil {
		return nil, e.DialErr
	}
	sess := NewSession()
	sess.InviteErr = e.SessionInviteErr
	e.DialedSessions = append(e.DialedSessions, sess)
	e.DialedNumbers = append(e.DialedNumbers, number)
	return sess, nil
}

// Start записывает запуск движка
func (e *MockEngine) Start(_ context.Context) error {
	e.mu.Lock()
	e.StartCalls++
	e.mu.Unlock()
	return nil
}

// Stop записывает остановку движка и, как реальный движок,
// сообщает транспорту Disconnected
func (e *MockEngine) Stop() error {
	e.mu.Lock()
	e.StopCalls++
	e.mu.Unlock()
	e.transport.FireState(signaling.TransportDisconnected)
	return nil
}

// IncomingCall имитирует входящий вызов, возвращает созданную сессию.
// Если обработчик не назначен, возвращает nil.
func (e *MockEngine) IncomingCall(number, displayName string) *MockSession {
	e.mu.Lock()
	fn := e.incoming
	e.mu.Unlock()
	if fn == nil {
		return nil
	}
	sess := NewSession()
	fn(sess, signaling.RemoteIdentity{Number: number, DisplayName: displayName})
	return sess
}
