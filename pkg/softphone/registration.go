package softphone

import (
	"context"
	"sync"
	"time"

	"github.com/arzzra/webphone/pkg/notify"
	"github.com/arzzra/webphone/pkg/signaling"
)

// Тексты статуса регистрации, видимые view-слою
const (
	statusRegistered     = "Registered"
	statusSendingReg     = "Sending Registration..."
	statusUnregistered   = "Unregistered"
	statusTerminated     = "Terminated"
	statusConnecting     = "Connecting to web socket"
	statusDisconnected   = "Disconnected from web socket"
	statusUnregister     = "Unregister..."
	statusUnregisterDone = "Unregister complete"
)

// Сообщения пользователю
const (
	msgRegisterFailed = "Failed to register"
	msgSocketFailed   = "Failed to connect to web socket"
)

// EngineFactory создает сигнальный движок.
// Вызывается при инициализации и при каждом refresh регистрации.
type EngineFactory func() (signaling.Engine, error)

// lineController часть LineManager, нужная менеджеру регистрации
type lineController interface {
	Receive(sess signaling.Session, remote signaling.RemoteIdentity)
	TeardownAll(reason string)
}

// RegistrationManager владеет соединением с сигнальным движком и машиной
// состояний регистрации.
//
// События регистрации учитываются только пока транспорт в состоянии
// Connected. Переход транспорта в Connected запускает регистрацию,
// в Disconnected — снятие регистрации и ошибку пользователю.
type RegistrationManager struct {
	mu sync.RWMutex

	cfg      *Config
	logger   *Logger
	notifier *notify.Service
	factory  EngineFactory

	engine signaling.Engine
	lines  lineController

	status string

	// reRegistering подавляет уведомление об ошибке регистрации
	// на время цикла refresh
	reRegistering bool
}

// NewRegistrationManager создает менеджер регистрации.
// До Initialize движок не создан и статус пуст.
func NewRegistrationManager(cfg *Config, factory EngineFactory, notifier *notify.Service) *RegistrationManager {
	cfg = cfg.normalize()
	return &RegistrationManager{
		cfg:      cfg,
		logger:   cfg.Logger.WithComponent("registration"),
		notifier: notifier,
		factory:  factory,
	}
}

// BindLines связывает менеджер с менеджером линий.
// Должен быть вызван до Initialize.
func (r *RegistrationManager) BindLines(lines lineController) {
	r.mu.Lock()
	r.lines = lines
	r.mu.Unlock()
}

// Engine возвращает текущий сигнальный движок (nil до Initialize)
func (r *RegistrationManager) Engine() signaling.Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.engine
}

// Status возвращает человекочитаемый статус последнего значимого перехода.
// Исходящие вызовы разрешены только при статусе "Registered".
func (r *RegistrationManager) Status() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Initialize создает движок, подписывает слушателей и запускает соединение
func (r *RegistrationManager) Initialize(ctx context.Context) error {
	engine, err := r.factory()
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.engine = engine
	lines := r.lines
	r.mu.Unlock()

	if lines != nil {
		engine.OnIncoming(lines.Receive)
	}
	// Обработчики привязаны к конкретному движку: события снятого с
	// эксплуатации движка после refresh не должны влиять на состояние
	engine.Registrar().OnStateChange(func(st signaling.RegistrarState) {
		r.handleRegistrarState(engine, st)
	})
	engine.Transport().OnStateChange(func(st signaling.TransportState) {
		r.handleTransportState(engine, st)
	})

	if err := engine.Start(ctx); err != nil {
		return err
	}
	r.logger.Info("signaling engine started")
	return nil
}

// Refresh переинициализирует регистрацию с нуля.
//
// Все активные линии завершаются с причиной "Re-registering", регистрация
// снимается, после паузы SettleDelay движок создается заново. Уведомление
// "Failed to register" на транзиентную разрегистрацию в этом окне подавлено.
func (r *RegistrationManager) Refresh(ctx context.Context) {
	r.mu.Lock()
	r.reRegistering = true
	lines := r.lines
	engine := r.engine
	r.mu.Unlock()

	r.setStatus(statusUnregister)

	if lines != nil {
		lines.TeardownAll(reasonReRegistering)
	}
	if engine != nil {
		if err := engine.Registrar().Unregister(ctx); err != nil {
			r.logger.Warn("unregister failed during refresh", Err(err))
		}
	}

	time.AfterFunc(r.cfg.SettleDelay, func() {
		r.setStatus(statusUnregisterDone)

		// Старый движок останавливается до сброса reRegistering:
		// Stop сообщает Disconnected, и этот транзиентный разрыв не должен
		// дойти до пользователя как ошибка соединения
		if engine != nil {
			if err := engine.Stop(); err != nil {
				r.logger.Warn("engine stop failed during refresh", Err(err))
			}
		}

		r.mu.Lock()
		r.reRegistering = false
		r.mu.Unlock()

		if err := r.Initialize(context.Background()); err != nil {
			r.logger.Error("reinitialize failed", Err(err))
			r.notifier.Show(msgRegisterFailed, notify.SeverityError)
		}
	})
}

// handleRegistrarState обрабатывает смену состояния регистрации.
// События чужого (снятого) движка и события вне состояния транспорта
// Connected игнорируются.
func (r *RegistrationManager) handleRegistrarState(engine signaling.Engine, st signaling.RegistrarState) {
	if engine != r.Engine() || engine.Transport().State() != signaling.TransportConnected {
		return
	}

	switch st {
	case signaling.RegistrarInitial, signaling.RegistrarRegistering:
		r.setStatus(statusSendingReg)
	case signaling.RegistrarRegistered:
		r.setStatus(statusRegistered)
	case signaling.RegistrarUnregistered:
		r.setStatus(statusUnregistered)
		r.mu.RLock()
		suppress := r.reRegistering
		r.mu.RUnlock()
		if !suppress {
			r.notifier.Show(msgRegisterFailed, notify.SeverityError)
		}
	case signaling.RegistrarTerminated:
		r.setStatus(statusTerminated)
	}
}

// handleTransportState обрабатывает смену состояния транспорта.
// События чужого (снятого) движка игнорируются.
func (r *RegistrationManager) handleTransportState(engine signaling.Engine, st signaling.TransportState) {
	if engine != r.Engine() {
		return
	}

	switch st {
	case signaling.TransportDisconnected:
		// Остановка движка в цикле refresh сообщает Disconnected;
		// этот транзиентный разрыв не ошибка соединения
		r.mu.RLock()
		suppress := r.reRegistering
		r.mu.RUnlock()
		if suppress {
			return
		}
		r.notifier.Show(msgSocketFailed, notify.SeverityError)
		r.setStatus(statusDisconnected)
		go func() {
			if err := engine.Registrar().Unregister(context.Background()); err != nil {
				r.logger.Warn("unregister on disconnect failed", Err(err))
			}
		}()
	case signaling.TransportConnecting:
		r.setStatus(statusConnecting)
	case signaling.TransportConnected:
		go func() {
			if err := engine.Registrar().Register(context.Background()); err != nil {
				r.logger.Warn("register failed", Err(err))
			}
		}()
	}
}

// setStatus фиксирует новый статус
func (r *RegistrationManager) setStatus(status string) {
	r.mu.Lock()
	old := r.status
	r.status = status
	r.mu.Unlock()

	if old != status {
		r.logger.Info("registration status changed",
			String("from", old), String("to", status))
	}
	r.cfg.Metrics.setRegistered(status == statusRegistered)
}
