package softphone

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arzzra/webphone/pkg/calllog"
	"github.com/arzzra/webphone/pkg/notify"
	"github.com/arzzra/webphone/pkg/signaling"
)

// Сообщения пользователю
const (
	msgNoAudioDevice = "No audio device found"
	msgDetectFailed  = "Failed to detect audio devices"
	msgLineNotFound  = "Line not found"
	msgRejectFailed  = "Failed to reject the session"
	msgCancelFailed  = "Failed to cancel the session"
	msgEndFailed     = "Failed to end the session"
	msgAnswerFailed  = "Failed to answer call"
	msgDialFailed    = "Failed to dial"
)

// Причины завершения вызова, попадающие в историю
const (
	reasonBye                = "Bye"
	reasonCompletedElsewhere = "Call completed elsewhere"
	reasonCallTerminated     = "Call Terminated"
	reasonBusyHere           = "Busy Here"
	reasonBusyAnotherCall    = "Busy with another call"
	reasonCallCancelled      = "Call Cancelled"
	reasonCallEnded          = "Call Ended"
	reasonClientError        = "Client Error"
	reasonFailedToDial       = "Failed to dial"
	reasonReRegistering      = "Re-registering"
)

// numberUnknown подставляется вместо пустого номера входящего вызова
const numberUnknown = "Unknown"

// LineManager владеет набором активных линий и ведет жизненный цикл вызовов.
//
// Инварианты:
//   - не более одной линии в статусе InProgress: новый входящий вызов при
//     занятой линии немедленно отклоняется ("Busy with another call");
//   - каждая линия достигает ровно одного терминального статуса и
//     демонтируется ровно один раз;
//   - каждый терминальный путь проходит через единый teardown, который
//     дописывает историю и планирует отложенное удаление линии.
//
// Сигнальные события приходят из горутин движка без гарантий порядка,
// поэтому каждый обработчик заново находит линию по id и прогоняет
// смену статуса через конечный автомат, отвергающий дубликаты и регрессы.
type LineManager struct {
	mu sync.RWMutex

	cfg      *Config
	logger   *Logger
	reg      *RegistrationManager
	store    *calllog.Store
	notifier *notify.Service
	nav      Navigator
	devices  DeviceEnumerator

	lines        []*line
	activeLineID string

	// Кэш перечисления устройств; повторно не запрашивается на каждый вызов
	hasAudioInput  bool
	hasAudioOutput bool
}

// NewLineManager создает менеджер линий и связывает его с менеджером регистрации
func NewLineManager(cfg *Config, reg *RegistrationManager, store *calllog.Store,
	notifier *notify.Service, nav Navigator, devices DeviceEnumerator) *LineManager {

	cfg = cfg.normalize()
	if nav == nil {
		nav = NopNavigator{}
	}
	m := &LineManager{
		cfg:      cfg,
		logger:   cfg.Logger.WithComponent("lines"),
		reg:      reg,
		store:    store,
		notifier: notifier,
		nav:      nav,
		devices:  devices,
	}
	if reg != nil {
		reg.BindLines(m)
	}
	return m
}

// DetectDevices выполняет перечисление аудио устройств и кэширует результат.
// Отсутствие входа или выхода делает все пути вызова недоступными.
func (m *LineManager) DetectDevices(ctx context.Context) {
	devices, err := m.devices.Enumerate(ctx)
	if err != nil {
		m.logger.Error("device enumeration failed", Err(errDeviceEnumeration(err)))
		m.notifier.Show(msgDetectFailed, notify.SeverityError)
		return
	}

	var input, output bool
	for _, d := range devices {
		switch d.Kind {
		case DeviceAudioInput:
			input = true
		case DeviceAudioOutput:
			output = true
		}
	}

	m.mu.Lock()
	m.hasAudioInput = input
	m.hasAudioOutput = output
	m.mu.Unlock()

	if !input || !output {
		m.logger.Warn("audio devices missing", Err(errNoAudioDevice()),
			Bool("input", input), Bool("output", output))
		m.notifier.Show(msgNoAudioDevice, notify.SeverityError)
	}
}

// audioReady сообщает, обнаружены ли вход и выход
func (m *LineManager) audioReady() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hasAudioInput && m.hasAudioOutput
}

// Lines возвращает снимки активных линий
func (m *LineManager) Lines() []Line {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Line, 0, len(m.lines))
	for _, l := range m.lines {
		out = append(out, l.snapshot())
	}
	return out
}

// FindLine возвращает снимок линии по id
func (m *LineManager) FindLine(lineID string) (Line, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if l := m.findLocked(lineID); l != nil {
		return l.snapshot(), true
	}
	return Line{}, false
}

// ActiveLineID возвращает id линии, показываемой view-слоем
func (m *LineManager) ActiveLineID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeLineID
}

// Receive обрабатывает извещение о входящем вызове.
//
// Сводка абонента создается или обновляется всегда, даже если вызов тут же
// отклоняется политикой занятости. При уже идущем разговоре новая линия
// немедленно отклоняется с причиной "Busy with another call" без навигации.
func (m *LineManager) Receive(sess signaling.Session, remote signaling.RemoteIdentity) {
	number := remote.Number
	if number == "" {
		number = numberUnknown
	}
	displayName := remote.DisplayName
	if displayName == "" {
		displayName = number
	}
	now := m.cfg.Now()

	item, err := m.store.Touch(number, displayName, now, true)
	if err != nil {
		m.logger.Error("call log upsert failed", Err(errStorage(err)))
	}

	l := newLine(number, item.DisplayName, item.LogID, calllog.DirectionInbound, now)
	l.session = sess

	m.mu.Lock()
	busy := m.anyInProgressLocked()
	m.lines = append(m.lines, l)
	m.mu.Unlock()

	m.cfg.Metrics.callStarted(string(calllog.DirectionInbound))
	m.logger.Info("incoming call",
		String("line_id", l.id), String("number", number), Bool("busy", busy))

	if busy {
		m.rejectLine(l.id, reasonBusyAnotherCall)
		return
	}

	if m.nav.Current().Name != RouteLine {
		m.mu.Lock()
		m.activeLineID = l.id
		m.mu.Unlock()
		m.nav.GoToLine(l.id)
	}

	if !m.audioReady() {
		m.notifier.Show(msgNoAudioDevice, notify.SeverityError)
		return
	}

	lineID := l.id
	sess.SetDelegate(signaling.SessionDelegate{
		OnBye: func() {
			m.teardownByID(lineID, StatusEnded, reasonBye)
		},
		OnCancel: func(completedElsewhere bool) {
			if completedElsewhere {
				m.teardownByID(lineID, StatusEnded, reasonCompletedElsewhere)
			} else {
				m.teardownByID(lineID, StatusCancelled, reasonCallTerminated)
			}
		},
	})
}

// Dial начинает исходящий вызов.
//
// Без статуса регистрации "Registered" вызов молча не выполняется:
// ни сводки, ни линии, ни навигации.
func (m *LineManager) Dial(ctx context.Context, number string) {
	if m.reg == nil || m.reg.Status() != statusRegistered {
		m.logger.Debug("dial refused: not registered", String("number", number))
		return
	}
	now := m.cfg.Now()

	// У нового абонента имя по умолчанию — набранный номер;
	// существующему обновляется только lastActivity.
	item, err := m.store.Touch(number, number, now, false)
	if err != nil {
		m.logger.Error("call log upsert failed", Err(errStorage(err)))
	}

	if !m.audioReady() {
		m.notifier.Show(msgNoAudioDevice, notify.SeverityError)
		return
	}

	l := newLine(number, item.DisplayName, item.LogID, calllog.DirectionOutbound, now)

	m.mu.Lock()
	m.lines = append(m.lines, l)
	m.activeLineID = l.id
	m.mu.Unlock()

	m.cfg.Metrics.callStarted(string(calllog.DirectionOutbound))
	m.logger.Info("dialing", String("line_id", l.id), String("number", number))
	m.nav.GoToLine(l.id)

	sess, err := m.reg.Engine().Dial(number)
	if err != nil {
		m.logger.Error("outbound session create failed", Err(errCommandFailed("invite", err)))
		m.notifier.Show(msgDialFailed, notify.SeverityError)
		m.cfg.Metrics.callFailed()
		m.teardownByID(l.id, StatusCancelled, reasonFailedToDial)
		return
	}

	m.mu.Lock()
	l.session = sess
	m.mu.Unlock()

	lineID := l.id
	sess.SetDelegate(signaling.SessionDelegate{
		OnBye: func() {
			m.teardownByID(lineID, StatusEnded, reasonBye)
		},
	})

	go func() {
		err := sess.Invite(ctx, signaling.ProgressDelegate{
			OnTrying:   func() { m.applyProgress(lineID, eventTrying, false) },
			OnProgress: func() { m.applyProgress(lineID, eventProgress, false) },
			OnAccept:   func() { m.applyProgress(lineID, eventAccept, true) },
		})
		if err != nil {
			m.logger.Error("invite failed", Err(errCommandFailed("invite", err).WithLine(lineID)))
			m.notifier.Show(msgDialFailed, notify.SeverityError)
			m.cfg.Metrics.callFailed()
			m.teardownByID(lineID, StatusCancelled, reasonFailedToDial)
		}
	}()
}

// Answer принимает входящий вызов.
//
// Статус и answerTime выставляются единственный раз — после подтверждения
// команды accept движком. Оптимистичного обновления до подтверждения нет:
// при сбое accept линия сразу уходит в teardown с причиной "Client Error".
func (m *LineManager) Answer(lineID string) {
	m.mu.RLock()
	l := m.findLocked(lineID)
	var sess signaling.Session
	if l != nil {
		sess = l.session
	}
	m.mu.RUnlock()

	if l == nil {
		m.warnLineNotFound(lineID)
		return
	}
	if !m.audioReady() {
		m.notifier.Show(msgNoAudioDevice, notify.SeverityError)
		return
	}
	if sess == nil {
		m.warnLineNotFound(lineID)
		return
	}

	go func() {
		err := sess.Accept(context.Background(), signaling.AcceptOptions{
			AudioDeviceID: "default",
			Video:         false,
		})
		if err != nil {
			m.logger.Error("accept failed", Err(errCommandFailed("accept", err).WithLine(lineID)))
			m.notifier.Show(msgAnswerFailed, notify.SeverityError)
			m.teardownByID(lineID, StatusEnded, reasonClientError)
			return
		}
		m.applyProgress(lineID, eventAccept, true)
	}()
}

// Reject отклоняет вызов с причиной "Busy Here"
func (m *LineManager) Reject(lineID string) {
	m.rejectLine(lineID, reasonBusyHere)
}

// rejectLine отклоняет линию. Для установленной сессии используется bye,
// иначе reject; сбой команды уведомляется, но демонтаж идет независимо.
func (m *LineManager) rejectLine(lineID, reason string) {
	m.mu.Lock()
	l := m.findLocked(lineID)
	if l == nil {
		m.mu.Unlock()
		m.warnLineNotFound(lineID)
		return
	}
	sess := l.session
	if l.apply(eventReject) {
		t := m.cfg.Now()
		l.rejectTime = &t
	}
	m.mu.Unlock()

	if sess != nil {
		go func() {
			var err error
			if sess.State() == signaling.SessionEstablished {
				err = sess.Bye(context.Background())
			} else {
				err = sess.Reject(context.Background())
			}
			if err != nil {
				m.logger.Warn("reject command failed", Err(errCommandFailed("reject", err).WithLine(lineID)))
				m.notifier.Show(msgRejectFailed, notify.SeverityError)
			}
		}()
	}

	m.teardown(l, StatusRejected, reason)
}

// Cancel отменяет исходящий вызов до ответа.
// Линия уходит в Cancelled независимо от результата команды.
func (m *LineManager) Cancel(lineID string) {
	m.mu.RLock()
	l := m.findLocked(lineID)
	var sess signaling.Session
	if l != nil {
		sess = l.session
	}
	m.mu.RUnlock()

	if l == nil {
		m.warnLineNotFound(lineID)
		return
	}

	if sess != nil {
		go func() {
			if err := sess.Cancel(context.Background()); err != nil {
				m.logger.Warn("cancel command failed", Err(errCommandFailed("cancel", err).WithLine(lineID)))
				m.notifier.Show(msgCancelFailed, notify.SeverityError)
			}
		}()
	}

	m.teardown(l, StatusCancelled, reasonCallCancelled)
}

// End завершает установленный вызов.
// Линия уходит в Ended независимо от результата команды.
func (m *LineManager) End(lineID string) {
	m.mu.RLock()
	l := m.findLocked(lineID)
	var sess signaling.Session
	if l != nil {
		sess = l.session
	}
	m.mu.RUnlock()

	if l == nil {
		m.warnLineNotFound(lineID)
		return
	}

	if sess != nil {
		go func() {
			if err := sess.Bye(context.Background()); err != nil {
				m.logger.Warn("bye command failed", Err(errCommandFailed("bye", err).WithLine(lineID)))
				m.notifier.Show(msgEndFailed, notify.SeverityError)
			}
		}()
	}

	m.teardown(l, StatusEnded, reasonCallEnded)
}

// TeardownAll завершает все активные линии с одной причиной.
// Используется циклом refresh регистрации.
func (m *LineManager) TeardownAll(reason string) {
	m.mu.RLock()
	snapshot := make([]*line, len(m.lines))
	copy(snapshot, m.lines)
	m.mu.RUnlock()

	for _, l := range snapshot {
		m.teardown(l, StatusEnded, reason)
	}
}

// applyProgress применяет событие хода вызова к линии.
// Линия ищется заново по id: событие могло прийти после ее удаления.
func (m *LineManager) applyProgress(lineID, event string, setAnswer bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := m.findLocked(lineID)
	if l == nil {
		m.logger.Debug("progress for missing line",
			String("line_id", lineID), String("event", event))
		return
	}
	if !l.apply(event) {
		// Дубликат или запоздавшее событие, статус не меняется
		m.logger.Debug("progress event refused",
			String("line_id", lineID), String("event", event),
			String("status", string(l.status())))
		return
	}
	if setAnswer {
		t := m.cfg.Now()
		l.answerTime = &t
	}
}

// teardownByID находит линию и выполняет teardown
func (m *LineManager) teardownByID(lineID string, status LineStatus, reason string) {
	m.mu.RLock()
	l := m.findLocked(lineID)
	m.mu.RUnlock()
	if l == nil {
		m.warnLineNotFound(lineID)
		return
	}
	m.teardown(l, status, reason)
}

// teardown единый терминальный обработчик линии.
//
// Выполняется ровно один раз на линию; повторные терминальные сигналы
// (гонка сбоя команды и удаленного bye) игнорируются. Шаги всегда
// выполняются даже при сбое сетевой команды: обновление lastActivity,
// терминальный статус с endTime, повторная выборка линии по id, запись
// LogDetail и отложенное удаление линии с навигацией на детали вызова.
func (m *LineManager) teardown(l *line, status LineStatus, reason string) {
	m.mu.Lock()
	if l.tornDown {
		m.mu.Unlock()
		m.logger.Debug("teardown already performed", String("line_id", l.id))
		return
	}
	l.tornDown = true
	lineID := l.id
	logID := l.logID
	m.mu.Unlock()

	now := m.cfg.Now()
	if err := m.store.UpdateLog(logID, calllog.ItemPatch{LastActivity: &now}); err != nil {
		m.logger.Error("call log update failed", Err(errStorage(err)))
	}

	m.mu.Lock()
	l.apply(terminalEvent(status))
	l.endTime = &now
	found := m.findLocked(lineID) != nil
	detail := calllog.LogDetail{
		LogID:      logID,
		ID:         uuid.NewString(),
		Number:     l.number,
		Direction:  l.direction,
		StartTime:  l.startTime,
		AnswerTime: l.answerTime,
		RejectTime: l.rejectTime,
		EndTime:    l.endTime,
		ReasonText: reason,
	}
	m.mu.Unlock()

	if !found {
		m.warnLineNotFound(lineID)
		return
	}

	if err := m.store.AddDetail(detail); err != nil {
		m.logger.Error("call log append failed", Err(errStorage(err)))
	}
	m.cfg.Metrics.teardownDone()
	m.logger.Info("line torn down",
		String("line_id", lineID), String("status", string(status)), String("reason", reason))

	m.mu.Lock()
	l.removeTimer = time.AfterFunc(m.cfg.RemoveDelay, func() {
		m.removeLine(lineID, logID)
	})
	m.mu.Unlock()
}

// removeLine убирает линию из активного набора по истечении паузы teardown.
// Принудительная навигация на детали вызова выполняется только если
// пользователь все еще на экране этой линии.
func (m *LineManager) removeLine(lineID, logID string) {
	m.mu.Lock()
	removed := false
	for i, l := range m.lines {
		if l.id == lineID {
			m.lines = append(m.lines[:i], m.lines[i+1:]...)
			removed = true
			break
		}
	}
	if m.activeLineID == lineID {
		m.activeLineID = ""
	}
	m.mu.Unlock()

	if !removed {
		return
	}
	m.cfg.Metrics.lineRemoved()

	route := m.nav.Current()
	if route.Name == RouteLine && route.Param == lineID {
		m.nav.GoToCall(logID)
	}
}

// anyInProgressLocked проверяет инвариант единственного разговора. Под mu.
func (m *LineManager) anyInProgressLocked() bool {
	for _, l := range m.lines {
		if l.status() == StatusInProgress {
			return true
		}
	}
	return false
}

// findLocked ищет линию по id. Под mu.
func (m *LineManager) findLocked(lineID string) *line {
	for _, l := range m.lines {
		if l.id == lineID {
			return l
		}
	}
	return nil
}

// warnLineNotFound уведомляет о ссылке на несуществующую линию
func (m *LineManager) warnLineNotFound(lineID string) {
	m.logger.Warn("line not found", Err(errLineNotFound(lineID)))
	m.notifier.Show(msgLineNotFound, notify.SeverityWarning)
}
