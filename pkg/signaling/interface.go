// Package signaling определяет контракт внешнего сигнального движка.
//
// Ядро софтфона (pkg/softphone) не работает с SIP напрямую: оно видит только
// узкий набор возможностей — сессию с командами invite/accept/reject/bye/cancel,
// регистратор и транспорт с подпиской на смену состояний. Конкретная
// реализация (sipgo, mock для тестов) подключается через эти интерфейсы.
package signaling

import "context"

// TransportState состояние транспортного соединения с сигнальным сервером
type TransportState int

const (
	TransportDisconnected TransportState = iota
	TransportConnecting
	TransportConnected
)

// String возвращает строковое представление состояния транспорта
func (s TransportState) String() string {
	switch s {
	case TransportDisconnected:
		return "Disconnected"
	case TransportConnecting:
		return "Connecting"
	case TransportConnected:
		return "Connected"
	default:
		return "Unknown"
	}
}

// RegistrarState состояние регистрации на сигнальном сервере
type RegistrarState int

const (
	RegistrarInitial RegistrarState = iota
	RegistrarRegistering
	RegistrarRegistered
	RegistrarUnregistered
	RegistrarTerminated
)

// String возвращает строковое представление состояния регистрации
func (s RegistrarState) String() string {
	switch s {
	case RegistrarInitial:
		return "Initial"
	case RegistrarRegistering:
		return "Registering"
	case RegistrarRegistered:
		return "Registered"
	case RegistrarUnregistered:
		return "Unregistered"
	case RegistrarTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// SessionState состояние сигнальной сессии (вызова)
type SessionState int

const (
	SessionInitial SessionState = iota
	SessionEstablishing
	SessionEstablished
	SessionTerminated
)

// String возвращает строковое представление состояния сессии
func (s SessionState) String() string {
	switch s {
	case SessionInitial:
		return "Initial"
	case SessionEstablishing:
		return "Establishing"
	case SessionEstablished:
		return "Established"
	case SessionTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// Direction направление сигнальной сессии
type Direction int

const (
	DirectionInbound Direction = iota
	DirectionOutbound
)

// String возвращает строковое представление направления
func (d Direction) String() string {
	if d == DirectionOutbound {
		return "outbound"
	}
	return "inbound"
}

// RemoteIdentity идентификация удаленной стороны входящего вызова
type RemoteIdentity struct {
	// Number номер удаленного абонента (user-часть URI)
	Number string
	// DisplayName отображаемое имя, может быть пустым
	DisplayName string
}

// SessionDelegate обработчики терминальных событий сессии.
//
// Назначаются один раз после создания сессии. Любой обработчик может быть
// nil. Движок вызывает их из собственных горутин: получатель обязан заново
// валидировать свое состояние по id и не полагаться на порядок доставки.
type SessionDelegate struct {
	// OnBye вызывается при получении нормального завершения от удаленной стороны
	OnBye func()
	// OnCancel вызывается при отмене входящего вызова до ответа.
	// completedElsewhere=true означает, что вызов был принят на другом устройстве.
	OnCancel func(completedElsewhere bool)
}

// ProgressDelegate обработчики хода исходящего вызова.
//
// Используются только для исходящих INVITE. Доставка at-least-once и без
// гарантий порядка: повторный или запоздавший OnTrying после OnAccept
// допустим и должен игнорироваться получателем.
type ProgressDelegate struct {
	// OnTrying предварительный ответ 100
	OnTrying func()
	// OnProgress предварительный ответ 180/183
	OnProgress func()
	// OnAccept финальный положительный ответ
	OnAccept func()
}

// AcceptOptions медиа-ограничения для команды принятия вызова.
// Само медиа ядром не обрабатывается, опции передаются движку как есть.
type AcceptOptions struct {
	AudioDeviceID string
	Video         bool
}

// Session сигнальная сессия одного вызова.
//
// Все команды best-effort: ошибка команды не означает, что локальная
// бухгалтерия вызова должна остановиться — ядро продолжает teardown
// независимо от результата.
type Session interface {
	// State текущее состояние сессии
	State() SessionState

	// SetDelegate назначает обработчики терминальных событий
	SetDelegate(d SessionDelegate)

	// Invite отправляет исходящий INVITE. Ход вызова приходит через delegate.
	// Возвращает ошибку если запрос не удалось отправить или он отклонен.
	Invite(ctx context.Context, progress ProgressDelegate) error

	// Accept принимает входящий вызов
	Accept(ctx context.Context, opts AcceptOptions) error

	// Reject отклоняет входящий вызов до установления
	Reject(ctx context.Context) error

	// Bye завершает установленный вызов
	Bye(ctx context.Context) error

	// Cancel отменяет исходящий вызов до ответа
	Cancel(ctx context.Context) error
}

// Registrar управление регистрацией на сервере
type Registrar interface {
	Register(ctx context.Context) error
	Unregister(ctx context.Context) error

	// OnStateChange подписывает обработчик на смену состояния регистрации
	OnStateChange(fn func(RegistrarState))
}

// Transport наблюдение за транспортным соединением
type Transport interface {
	State() TransportState

	// OnStateChange подписывает обработчик на смену состояния транспорта
	OnStateChange(fn func(TransportState))
}

// IncomingHandler обработчик входящего вызова
type IncomingHandler func(sess Session, remote RemoteIdentity)

// Engine сигнальный движок целиком: транспорт, регистратор и фабрика сессий.
//
// Один Engine соответствует одному соединению с сервером. Для переинициализации
// (refresh регистрации) движок останавливается и создается заново.
type Engine interface {
	Registrar() Registrar
	Transport() Transport

	// OnIncoming назначает обработчик входящих вызовов
	OnIncoming(fn IncomingHandler)

	// Dial создает исходящую сессию к указанному номеру.
	// INVITE не отправляется до вызова Session.Invite.
	Dial(number string) (Session, error)

	// Start запускает движок (слушатели, соединение с сервером)
	Start(ctx context.Context) error

	// Stop останавливает движок и освобождает ресурсы
	Stop() error
}
