package softphone_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/webphone/pkg/calllog"
	"github.com/arzzra/webphone/pkg/softphone"
)

// TestIncomingCallCreatesLineAndLog проверяет прием входящего вызова:
// линия в Ringing, сводка в истории, навигация на экран линии
func TestIncomingCallCreatesLineAndLog(t *testing.T) {
	p := newTestPhone(t)
	p.register(t)

	sess := p.engine().IncomingCall("100", "Alice")
	require.NotNil(t, sess)

	l := p.lineByNumber(t, "100")
	assert.Equal(t, softphone.StatusRinging, l.Status)
	assert.Equal(t, calllog.DirectionInbound, l.Direction)
	assert.Equal(t, "Alice", l.DisplayName)
	assert.NotEmpty(t, l.LogID)

	item, ok := p.store.FindByNumber("100")
	require.True(t, ok)
	assert.Equal(t, item.LogID, l.LogID, "Линия привязана к сводке абонента")

	assert.Equal(t, l.ID, p.lines.ActiveLineID())
	assert.Equal(t, []string{l.ID}, p.nav.LineVisits())
	assert.NotNil(t, sess.Delegate().OnBye, "Обработчики терминальных событий назначены")
}

// TestIncomingCallEmptyIdentity проверяет подстановки для анонимного вызова
func TestIncomingCallEmptyIdentity(t *testing.T) {
	p := newTestPhone(t)
	p.register(t)

	p.engine().IncomingCall("", "")

	l := p.lineByNumber(t, "Unknown")
	assert.Equal(t, "Unknown", l.DisplayName)
}

// TestSecondIncomingCallRejectedWhileBusy проверяет политику занятости:
// при разговоре новый входящий отклоняется с "Busy with another call"
func TestSecondIncomingCallRejectedWhileBusy(t *testing.T) {
	p := newTestPhone(t)
	p.register(t)

	first := p.engine().IncomingCall("100", "Alice")
	require.NotNil(t, first)
	firstLine := p.lineByNumber(t, "100")

	p.lines.Answer(firstLine.ID)
	require.Eventually(t, func() bool {
		return p.lineStatus(firstLine.ID) == softphone.StatusInProgress
	}, waitFor, tick)

	second := p.engine().IncomingCall("200", "Bob")
	require.NotNil(t, second)

	secondLine := p.lineByNumber(t, "200")
	assert.Equal(t, softphone.StatusRejected, secondLine.Status)

	// Сводка второго абонента создана несмотря на немедленный отказ
	item, ok := p.store.FindByNumber("200")
	require.True(t, ok)
	details := p.store.Details(item.LogID)
	require.Len(t, details, 1)
	assert.Equal(t, "Busy with another call", details[0].ReasonText)

	require.Eventually(t, func() bool { return second.RejectCalls == 1 }, waitFor, tick)

	// Навигация на экран отклоненной линии не выполняется
	assert.Equal(t, []string{firstLine.ID}, p.nav.LineVisits())
	assert.Equal(t, firstLine.ID, p.lines.ActiveLineID())
}

// TestAnswerUpdatesStatusOnlyAfterConfirmation проверяет, что InProgress и
// answerTime выставляются после подтверждения команды движком
func TestAnswerUpdatesStatusOnlyAfterConfirmation(t *testing.T) {
	p := newTestPhone(t)
	p.register(t)

	sess := p.engine().IncomingCall("100", "Alice")
	l := p.lineByNumber(t, "100")
	assert.Nil(t, l.AnswerTime)

	p.lines.Answer(l.ID)

	require.Eventually(t, func() bool {
		return p.lineStatus(l.ID) == softphone.StatusInProgress
	}, waitFor, tick)

	got, ok := p.lines.FindLine(l.ID)
	require.True(t, ok)
	assert.NotNil(t, got.AnswerTime)
	assert.Equal(t, 1, sess.AcceptCalls)
	assert.Equal(t, "default", sess.LastAcceptOptions.AudioDeviceID)
	assert.False(t, sess.LastAcceptOptions.Video)
}

// TestAnswerFailureTearsDownLine проверяет сбой команды принятия:
// уведомление и teardown с причиной "Client Error"
func TestAnswerFailureTearsDownLine(t *testing.T) {
	p := newTestPhone(t)
	p.register(t)

	sess := p.engine().IncomingCall("100", "Alice")
	sess.AcceptErr = errors.New("media failure")
	l := p.lineByNumber(t, "100")

	p.lines.Answer(l.ID)

	require.Eventually(t, func() bool {
		return p.lineStatus(l.ID) == softphone.StatusEnded
	}, waitFor, tick)

	assert.Equal(t, "Failed to answer call", p.message())

	got, _ := p.lines.FindLine(l.ID)
	assert.Nil(t, got.AnswerTime, "Оптимистичного answerTime быть не должно")

	details := p.store.Details(l.LogID)
	require.Len(t, details, 1)
	assert.Equal(t, "Client Error", details[0].ReasonText)
}

// TestDialRefusedWithoutRegistration проверяет, что без статуса "Registered"
// набор молча не выполняется
func TestDialRefusedWithoutRegistration(t *testing.T) {
	p := newTestPhone(t)

	p.lines.Dial(context.Background(), "200")

	assert.Empty(t, p.lines.Lines())
	assert.Empty(t, p.store.Logs(), "Сводка не создается")
	assert.Empty(t, p.nav.LineVisits(), "Навигация не выполняется")
	assert.Empty(t, p.message())
}

// TestDialOutboundCallFlow проверяет полный ход исходящего вызова:
// Ringing -> Trying -> Ringing -> InProgress
func TestDialOutboundCallFlow(t *testing.T) {
	p := newTestPhone(t)
	p.register(t)

	p.lines.Dial(context.Background(), "200")

	l := p.lineByNumber(t, "200")
	assert.Equal(t, softphone.StatusRinging, l.Status)
	assert.Equal(t, calllog.DirectionOutbound, l.Direction)
	assert.Equal(t, l.ID, p.lines.ActiveLineID())
	assert.Equal(t, []string{l.ID}, p.nav.LineVisits())

	item, ok := p.store.FindByNumber("200")
	require.True(t, ok)
	assert.Equal(t, "200", item.DisplayName, "Имя нового абонента — набранный номер")

	eng := p.engine()
	require.Equal(t, []string{"200"}, eng.DialedNumbers)
	sess := eng.DialedSessions[0]
	require.Eventually(t, func() bool { return sess.InviteCalls == 1 }, waitFor, tick)

	sess.FireTrying()
	require.Eventually(t, func() bool {
		return p.lineStatus(l.ID) == softphone.StatusTrying
	}, waitFor, tick)

	sess.FireProgress()
	require.Eventually(t, func() bool {
		return p.lineStatus(l.ID) == softphone.StatusRinging
	}, waitFor, tick)

	sess.FireAccept()
	require.Eventually(t, func() bool {
		return p.lineStatus(l.ID) == softphone.StatusInProgress
	}, waitFor, tick)

	got, _ := p.lines.FindLine(l.ID)
	assert.NotNil(t, got.AnswerTime)
}

// TestDialKeepsExistingDisplayName проверяет, что набор существующего
// абонента не перетирает его имя
func TestDialKeepsExistingDisplayName(t *testing.T) {
	p := newTestPhone(t)
	p.register(t)

	p.engine().IncomingCall("200", "Bob")
	p.lines.Dial(context.Background(), "200")

	item, ok := p.store.FindByNumber("200")
	require.True(t, ok)
	assert.Equal(t, "Bob", item.DisplayName)
	assert.Len(t, p.store.Logs(), 1, "Сводка абонента единственная")
}

// TestDialEngineFailure проверяет сбой создания исходящей сессии
func TestDialEngineFailure(t *testing.T) {
	p := newTestPhone(t)
	p.register(t)
	p.engine().DialErr = errors.New("engine down")

	p.lines.Dial(context.Background(), "200")

	l := p.lineByNumber(t, "200")
	assert.Equal(t, softphone.StatusCancelled, l.Status)
	assert.Equal(t, "Failed to dial", p.message())

	details := p.store.Details(l.LogID)
	require.Len(t, details, 1)
	assert.Equal(t, "Failed to dial", details[0].ReasonText)
}

// TestDialInviteFailure проверяет отклоненный исходящий INVITE
func TestDialInviteFailure(t *testing.T) {
	p := newTestPhone(t)
	p.register(t)
	p.engine().SessionInviteErr = errors.New("503 Service Unavailable")

	p.lines.Dial(context.Background(), "200")
	l := p.lineByNumber(t, "200")

	require.Eventually(t, func() bool {
		return p.lineStatus(l.ID) == softphone.StatusCancelled
	}, waitFor, tick)
	assert.Equal(t, "Failed to dial", p.message())

	details := p.store.Details(l.LogID)
	require.Len(t, details, 1)
	assert.Equal(t, "Failed to dial", details[0].ReasonText)
}

// TestRejectIncomingCall проверяет отклонение входящего вызова пользователем
func TestRejectIncomingCall(t *testing.T) {
	p := newTestPhone(t)
	p.register(t)

	sess := p.engine().IncomingCall("100", "Alice")
	l := p.lineByNumber(t, "100")

	p.lines.Reject(l.ID)

	got, ok := p.lines.FindLine(l.ID)
	require.True(t, ok)
	assert.Equal(t, softphone.StatusRejected, got.Status)
	assert.NotNil(t, got.RejectTime)
	assert.NotNil(t, got.EndTime)

	require.Eventually(t, func() bool { return sess.RejectCalls == 1 }, waitFor, tick)

	details := p.store.Details(l.LogID)
	require.Len(t, details, 1)
	assert.Equal(t, "Busy Here", details[0].ReasonText)
}

// TestRejectEstablishedSessionSendsBye проверяет, что отклонение
// установленной сессии завершает ее командой bye
func TestRejectEstablishedSessionSendsBye(t *testing.T) {
	p := newTestPhone(t)
	p.register(t)

	sess := p.engine().IncomingCall("100", "Alice")
	l := p.lineByNumber(t, "100")

	p.lines.Answer(l.ID)
	require.Eventually(t, func() bool {
		return p.lineStatus(l.ID) == softphone.StatusInProgress
	}, waitFor, tick)

	p.lines.Reject(l.ID)

	assert.Equal(t, softphone.StatusRejected, p.lineStatus(l.ID))
	require.Eventually(t, func() bool { return sess.ByeCalls == 1 }, waitFor, tick)
	assert.Equal(t, 0, sess.RejectCalls)
}

// TestCancelOutboundCall проверяет отмену исходящего вызова до ответа
func TestCancelOutboundCall(t *testing.T) {
	p := newTestPhone(t)
	p.register(t)

	p.lines.Dial(context.Background(), "200")
	l := p.lineByNumber(t, "200")
	sess := p.engine().DialedSessions[0]

	p.lines.Cancel(l.ID)

	assert.Equal(t, softphone.StatusCancelled, p.lineStatus(l.ID))
	require.Eventually(t, func() bool { return sess.CancelCalls == 1 }, waitFor, tick)

	details := p.store.Details(l.LogID)
	require.Len(t, details, 1)
	assert.Equal(t, "Call Cancelled", details[0].ReasonText)
}

// TestCancelAnsweredLine проверяет отмену уже отвеченной линии:
// снимок и запись истории согласованы — оба показывают Cancelled
func TestCancelAnsweredLine(t *testing.T) {
	p := newTestPhone(t)
	p.register(t)

	p.lines.Dial(context.Background(), "200")
	l := p.lineByNumber(t, "200")
	sess := p.engine().DialedSessions[0]
	require.Eventually(t, func() bool { return sess.InviteCalls == 1 }, waitFor, tick)

	sess.FireAccept()
	require.Eventually(t, func() bool {
		return p.lineStatus(l.ID) == softphone.StatusInProgress
	}, waitFor, tick)

	p.lines.Cancel(l.ID)

	assert.Equal(t, softphone.StatusCancelled, p.lineStatus(l.ID),
		"Статус линии не должен оставаться InProgress после отмены")
	details := p.store.Details(l.LogID)
	require.Len(t, details, 1)
	assert.Equal(t, "Call Cancelled", details[0].ReasonText)
}

// TestEndCallAndDelayedRemoval проверяет завершение разговора и отложенное
// удаление линии с навигацией на детали вызова
func TestEndCallAndDelayedRemoval(t *testing.T) {
	p := newTestPhone(t)
	p.register(t)

	sess := p.engine().IncomingCall("100", "Alice")
	l := p.lineByNumber(t, "100")

	p.lines.Answer(l.ID)
	require.Eventually(t, func() bool {
		return p.lineStatus(l.ID) == softphone.StatusInProgress
	}, waitFor, tick)

	p.lines.End(l.ID)

	got, ok := p.lines.FindLine(l.ID)
	require.True(t, ok, "Линия остается видимой до паузы удаления")
	assert.Equal(t, softphone.StatusEnded, got.Status)
	require.Eventually(t, func() bool { return sess.ByeCalls == 1 }, waitFor, tick)

	details := p.store.Details(l.LogID)
	require.Len(t, details, 1)
	assert.Equal(t, "Call Ended", details[0].ReasonText)
	assert.NotNil(t, details[0].AnswerTime)
	assert.NotNil(t, details[0].EndTime)

	// Пауза истекает: линия удалена, навигация на детали вызова
	require.Eventually(t, func() bool { return len(p.lines.Lines()) == 0 }, waitFor, tick)
	assert.Empty(t, p.lines.ActiveLineID())
	assert.Equal(t, []string{l.LogID}, p.nav.CallVisits())
}

// TestRemovalSkipsNavigationWhenUserLeft проверяет, что принудительная
// навигация не выполняется, если пользователь ушел с экрана линии
func TestRemovalSkipsNavigationWhenUserLeft(t *testing.T) {
	p := newTestPhone(t)
	p.register(t)

	p.engine().IncomingCall("100", "Alice")
	l := p.lineByNumber(t, "100")

	// Пользователь ушел на другой экран
	p.nav.GoToCall("some-other-log")

	p.lines.End(l.ID)
	require.Eventually(t, func() bool { return len(p.lines.Lines()) == 0 }, waitFor, tick)

	assert.Equal(t, []string{"some-other-log"}, p.nav.CallVisits(),
		"GoToCall после удаления не вызывался")
}

// TestRemoteByeTerminatesLine проверяет завершение вызова удаленной стороной
func TestRemoteByeTerminatesLine(t *testing.T) {
	p := newTestPhone(t)
	p.register(t)

	sess := p.engine().IncomingCall("100", "Alice")
	l := p.lineByNumber(t, "100")

	sess.FireBye()

	assert.Equal(t, softphone.StatusEnded, p.lineStatus(l.ID))
	details := p.store.Details(l.LogID)
	require.Len(t, details, 1)
	assert.Equal(t, "Bye", details[0].ReasonText)
}

// TestRemoteCancelCompletedElsewhere проверяет отмену вызова, принятого
// на другом устройстве
func TestRemoteCancelCompletedElsewhere(t *testing.T) {
	p := newTestPhone(t)
	p.register(t)

	sess := p.engine().IncomingCall("100", "Alice")
	l := p.lineByNumber(t, "100")

	sess.FireCancel(true)

	assert.Equal(t, softphone.StatusEnded, p.lineStatus(l.ID))
	details := p.store.Details(l.LogID)
	require.Len(t, details, 1)
	assert.Equal(t, "Call completed elsewhere", details[0].ReasonText)
}

// TestRemoteCancelTerminated проверяет обычную отмену входящего вызова
func TestRemoteCancelTerminated(t *testing.T) {
	p := newTestPhone(t)
	p.register(t)

	sess := p.engine().IncomingCall("100", "Alice")
	l := p.lineByNumber(t, "100")

	sess.FireCancel(false)

	assert.Equal(t, softphone.StatusCancelled, p.lineStatus(l.ID))
	details := p.store.Details(l.LogID)
	require.Len(t, details, 1)
	assert.Equal(t, "Call Terminated", details[0].ReasonText)
}

// TestTeardownIdempotent проверяет, что гонка локального завершения и
// удаленного bye дает ровно одну запись истории
func TestTeardownIdempotent(t *testing.T) {
	p := newTestPhone(t)
	p.register(t)

	sess := p.engine().IncomingCall("100", "Alice")
	l := p.lineByNumber(t, "100")

	p.lines.End(l.ID)
	sess.FireBye()
	sess.FireBye()

	assert.Equal(t, softphone.StatusEnded, p.lineStatus(l.ID))
	assert.Len(t, p.store.Details(l.LogID), 1, "Повторный teardown не дописывает историю")

	require.Eventually(t, func() bool { return len(p.lines.Lines()) == 0 }, waitFor, tick)
	assert.Len(t, p.nav.CallVisits(), 1, "Удаление выполняется один раз")
}

// TestStaleProgressEventsIgnored проверяет, что запоздавшие события хода
// вызова не регрессируют статус
func TestStaleProgressEventsIgnored(t *testing.T) {
	p := newTestPhone(t)
	p.register(t)

	p.lines.Dial(context.Background(), "200")
	l := p.lineByNumber(t, "200")
	sess := p.engine().DialedSessions[0]
	require.Eventually(t, func() bool { return sess.InviteCalls == 1 }, waitFor, tick)

	sess.FireAccept()
	require.Eventually(t, func() bool {
		return p.lineStatus(l.ID) == softphone.StatusInProgress
	}, waitFor, tick)

	// Запоздавший предварительный ответ после принятия
	sess.FireTrying()
	sess.FireProgress()
	assert.Equal(t, softphone.StatusInProgress, p.lineStatus(l.ID))
}

// TestTeardownAll проверяет завершение всех линий одной причиной
func TestTeardownAll(t *testing.T) {
	p := newTestPhone(t)
	p.register(t)

	p.engine().IncomingCall("100", "Alice")
	l1 := p.lineByNumber(t, "100")
	p.lines.Dial(context.Background(), "200")
	l2 := p.lineByNumber(t, "200")

	p.lines.TeardownAll("Re-registering")

	assert.Equal(t, softphone.StatusEnded, p.lineStatus(l1.ID))
	assert.Equal(t, softphone.StatusEnded, p.lineStatus(l2.ID))
	for _, logID := range []string{l1.LogID, l2.LogID} {
		details := p.store.Details(logID)
		require.Len(t, details, 1)
		assert.Equal(t, "Re-registering", details[0].ReasonText)
	}
}

// TestCommandOnUnknownLine проверяет уведомление о несуществующей линии
func TestCommandOnUnknownLine(t *testing.T) {
	p := newTestPhone(t)
	p.register(t)

	p.lines.Answer("missing-line")
	assert.Equal(t, "Line not found", p.message())
}

// TestNoAudioDeviceBlocksCallPaths проверяет поведение без аудио устройств:
// уведомление при обнаружении, входящий без обработчиков, набор без линии
func TestNoAudioDeviceBlocksCallPaths(t *testing.T) {
	p := newTestPhoneDevices(t, softphone.StaticDevices{})
	assert.Equal(t, "No audio device found", p.message())
	p.register(t)

	sess := p.engine().IncomingCall("100", "Alice")
	require.NotNil(t, sess)
	assert.Nil(t, sess.Delegate().OnBye, "Обработчики не назначаются без аудио")

	// Сводка абонента тем не менее создана
	_, ok := p.store.FindByNumber("100")
	assert.True(t, ok)

	p.notifier.Clear()
	p.lines.Dial(context.Background(), "300")
	assert.Equal(t, "No audio device found", p.message())
	_, ok = p.lines.FindLine("")
	assert.False(t, ok)
	for _, l := range p.lines.Lines() {
		assert.NotEqual(t, "300", l.Number, "Исходящая линия не создается без аудио")
	}
}
