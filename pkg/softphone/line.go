package softphone

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"

	"github.com/arzzra/webphone/pkg/calllog"
	"github.com/arzzra/webphone/pkg/signaling"
)

// LineStatus состояние линии. Закрытое множество: терминальные статусы
// достигаются ровно один раз, после них переходы запрещены.
type LineStatus string

const (
	StatusRinging    LineStatus = "Ringing"
	StatusTrying     LineStatus = "Trying"
	StatusInProgress LineStatus = "InProgress"
	StatusEnded      LineStatus = "Ended"
	StatusRejected   LineStatus = "Rejected"
	StatusCancelled  LineStatus = "Cancelled"
)

// Terminal сообщает, является ли статус терминальным
func (s LineStatus) Terminal() bool {
	switch s {
	case StatusEnded, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// События конечного автомата линии
const (
	eventTrying   = "trying"
	eventProgress = "progress"
	eventAccept   = "accept"
	eventEnd      = "end"
	eventReject   = "reject"
	eventCancel   = "cancel"
)

// newLineFSM создает автомат статусов линии.
//
// Переходы допускают at-least-once доставку сигнальных событий:
// недопустимое событие (регресс из InProgress, любое событие после
// терминального статуса) просто отвергается автоматом.
// Trying -> Ringing разрешен: предварительный 180 после 100 возвращает
// исходящую линию в Ringing.
func newLineFSM() *fsm.FSM {
	return fsm.NewFSM(
		string(StatusRinging),
		fsm.Events{
			// Предварительный 100 на исходящий INVITE
			{Name: eventTrying, Src: []string{string(StatusRinging)}, Dst: string(StatusTrying)},
			// Предварительный 180/183
			{Name: eventProgress, Src: []string{string(StatusTrying)}, Dst: string(StatusRinging)},
			// Финальное принятие вызова
			{Name: eventAccept, Src: []string{string(StatusRinging), string(StatusTrying)}, Dst: string(StatusInProgress)},
			// Терминальные переходы: любой нетерминальный статус может
			// уйти в любой терминальный
			{Name: eventEnd, Src: []string{string(StatusRinging), string(StatusTrying), string(StatusInProgress)}, Dst: string(StatusEnded)},
			{Name: eventReject, Src: []string{string(StatusRinging), string(StatusTrying), string(StatusInProgress)}, Dst: string(StatusRejected)},
			{Name: eventCancel, Src: []string{string(StatusRinging), string(StatusTrying), string(StatusInProgress)}, Dst: string(StatusCancelled)},
		},
		fsm.Callbacks{},
	)
}

// terminalEvent возвращает событие автомата для терминального статуса
func terminalEvent(status LineStatus) string {
	switch status {
	case StatusRejected:
		return eventReject
	case StatusCancelled:
		return eventCancel
	default:
		return eventEnd
	}
}

// line внутреннее состояние одного вызова.
// Мутабельные поля защищены мьютексом LineManager.
type line struct {
	id          string
	number      string
	displayName string
	logID       string
	direction   calllog.Direction

	startTime  time.Time
	answerTime *time.Time
	rejectTime *time.Time
	endTime    *time.Time

	// session nil у исходящей линии до создания сигнальной сессии
	session signaling.Session

	machine *fsm.FSM

	// tornDown защита от повторного teardown
	tornDown bool

	// removeTimer отложенное удаление линии после teardown
	removeTimer *time.Timer
}

// newLine создает линию в статусе Ringing
func newLine(number, displayName, logID string, direction calllog.Direction, start time.Time) *line {
	return &line{
		id:          uuid.NewString(),
		number:      number,
		displayName: displayName,
		logID:       logID,
		direction:   direction,
		startTime:   start,
		machine:     newLineFSM(),
	}
}

// status возвращает текущий статус линии
func (l *line) status() LineStatus {
	return LineStatus(l.machine.Current())
}

// apply применяет событие автомата.
// false означает, что переход отвергнут (дубликат, регресс или
// событие после терминального статуса) и состояние не изменилось.
func (l *line) apply(event string) bool {
	return l.machine.Event(context.Background(), event) == nil
}

// Line снимок линии для view-слоя
type Line struct {
	ID          string
	Number      string
	DisplayName string
	LogID       string
	Direction   calllog.Direction
	Status      LineStatus
	StartTime   time.Time
	AnswerTime  *time.Time
	RejectTime  *time.Time
	EndTime     *time.Time
}

// snapshot возвращает копию линии для чтения вне мьютекса
func (l *line) snapshot() Line {
	return Line{
		ID:          l.id,
		Number:      l.number,
		DisplayName: l.displayName,
		LogID:       l.logID,
		Direction:   l.direction,
		Status:      l.status(),
		StartTime:   l.startTime,
		AnswerTime:  l.answerTime,
		RejectTime:  l.rejectTime,
		EndTime:     l.endTime,
	}
}
