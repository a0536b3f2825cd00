package calllog_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/webphone/pkg/calllog"
)

// TestTouchCreatesItem проверяет создание новой сводки абонента
func TestTouchCreatesItem(t *testing.T) {
	store, err := calllog.Open(calllog.NewMemoryKV())
	require.NoError(t, err)

	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	item, err := store.Touch("100", "Alice", now, true)
	require.NoError(t, err)

	assert.Equal(t, "100", item.Number)
	assert.Equal(t, "Alice", item.DisplayName)
	assert.Equal(t, now, item.LastActivity)
	assert.False(t, item.Pinned, "Новая сводка не закреплена")
	assert.NotEmpty(t, item.LogID, "Сводка должна получить logId")
}

// TestTouchEmptyDisplayNameFallsBackToNumber проверяет подстановку номера
// вместо пустого имени
func TestTouchEmptyDisplayNameFallsBackToNumber(t *testing.T) {
	store, err := calllog.Open(calllog.NewMemoryKV())
	require.NoError(t, err)

	item, err := store.Touch("200", "", time.Now(), true)
	require.NoError(t, err)
	assert.Equal(t, "200", item.DisplayName)
}

// TestTouchKeepsItemUniquePerNumber проверяет, что у номера ровно одна сводка
func TestTouchKeepsItemUniquePerNumber(t *testing.T) {
	store, err := calllog.Open(calllog.NewMemoryKV())
	require.NoError(t, err)

	t0 := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	first, err := store.Touch("100", "Alice", t0, true)
	require.NoError(t, err)

	second, err := store.Touch("100", "Alice Smith", t0.Add(time.Minute), true)
	require.NoError(t, err)

	assert.Equal(t, first.LogID, second.LogID, "logId существующей сводки не меняется")
	assert.Equal(t, "Alice Smith", second.DisplayName)
	assert.Len(t, store.Logs(), 1, "Повторный Touch не создает вторую сводку")
}

// TestTouchWithoutNameUpdate проверяет, что updateName=false сохраняет
// существующее отображаемое имя
func TestTouchWithoutNameUpdate(t *testing.T) {
	store, err := calllog.Open(calllog.NewMemoryKV())
	require.NoError(t, err)

	t0 := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	_, err = store.Touch("100", "Alice", t0, true)
	require.NoError(t, err)

	// Исходящий набор не перетирает имя номером
	item, err := store.Touch("100", "100", t0.Add(time.Minute), false)
	require.NoError(t, err)
	assert.Equal(t, "Alice", item.DisplayName)
	assert.Equal(t, t0.Add(time.Minute), item.LastActivity)
}

// TestLogsOrderPinnedFirstThenRecent проверяет порядок сводок:
// закрепленные первыми, внутри групп по убыванию lastActivity
func TestLogsOrderPinnedFirstThenRecent(t *testing.T) {
	store, err := calllog.Open(calllog.NewMemoryKV())
	require.NoError(t, err)

	t0 := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	old, err := store.Touch("100", "Old", t0, true)
	require.NoError(t, err)
	_, err = store.Touch("200", "Mid", t0.Add(time.Minute), true)
	require.NoError(t, err)
	_, err = store.Touch("300", "New", t0.Add(2*time.Minute), true)
	require.NoError(t, err)

	require.NoError(t, store.TogglePin(old.LogID))

	numbers := func() []string {
		var out []string
		for _, it := range store.Logs() {
			out = append(out, it.Number)
		}
		return out
	}
	assert.Equal(t, []string{"100", "300", "200"}, numbers(),
		"Закрепленная сводка выше, остальные по убыванию lastActivity")

	// Снятие закрепления возвращает обычный порядок
	require.NoError(t, store.TogglePin(old.LogID))
	assert.Equal(t, []string{"300", "200", "100"}, numbers())
}

// TestAddDetailAppendOnly проверяет, что история вызовов только дописывается
func TestAddDetailAppendOnly(t *testing.T) {
	store, err := calllog.Open(calllog.NewMemoryKV())
	require.NoError(t, err)

	item, err := store.Touch("100", "Alice", time.Now(), true)
	require.NoError(t, err)

	require.NoError(t, store.AddDetail(calllog.LogDetail{
		LogID: item.LogID, ID: "d1", Number: "100",
		Direction: calllog.DirectionInbound, ReasonText: "Bye",
	}))
	require.NoError(t, store.AddDetail(calllog.LogDetail{
		LogID: item.LogID, ID: "d2", Number: "100",
		Direction: calllog.DirectionOutbound, ReasonText: "Call Ended",
	}))

	details := store.Details(item.LogID)
	require.Len(t, details, 2)
	assert.Equal(t, "d1", details[0].ID, "Порядок добавления сохраняется")
	assert.Equal(t, "d2", details[1].ID)
	assert.Equal(t, "Bye", details[0].ReasonText)
}

// TestUpdateLogPartialPatch проверяет частичное обновление сводки
func TestUpdateLogPartialPatch(t *testing.T) {
	store, err := calllog.Open(calllog.NewMemoryKV())
	require.NoError(t, err)

	t0 := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	item, err := store.Touch("100", "Alice", t0, true)
	require.NoError(t, err)

	name := "Alice Smith"
	require.NoError(t, store.UpdateLog(item.LogID, calllog.ItemPatch{DisplayName: &name}))

	got, ok := store.Find(item.LogID)
	require.True(t, ok)
	assert.Equal(t, "Alice Smith", got.DisplayName)
	assert.Equal(t, t0, got.LastActivity, "Незаданные поля патча не трогаются")
}

// TestPersistenceRoundTrip проверяет восстановление состояния из KV
func TestPersistenceRoundTrip(t *testing.T) {
	kv := calllog.NewMemoryKV()
	store, err := calllog.Open(kv)
	require.NoError(t, err)

	t0 := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	item, err := store.Touch("100", "Alice", t0, true)
	require.NoError(t, err)
	require.NoError(t, store.TogglePin(item.LogID))
	require.NoError(t, store.AddDetail(calllog.LogDetail{
		LogID: item.LogID, ID: "d1", Number: "100",
		Direction: calllog.DirectionInbound, StartTime: t0, ReasonText: "Bye",
	}))

	// Открываем второй Store поверх того же KV
	reopened, err := calllog.Open(kv)
	require.NoError(t, err)

	logs := reopened.Logs()
	require.Len(t, logs, 1)
	assert.Equal(t, item.LogID, logs[0].LogID)
	assert.True(t, logs[0].Pinned)
	require.Len(t, reopened.Details(item.LogID), 1)
}

// TestPersistWritesBothKeysAtomically проверяет, что каждая мутация пишет
// обе коллекции одним вызовом PutAll
func TestPersistWritesBothKeysAtomically(t *testing.T) {
	kv := calllog.NewMemoryKV()
	store, err := calllog.Open(kv)
	require.NoError(t, err)

	_, err = store.Touch("100", "Alice", time.Now(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, kv.PutCalls, "Одна мутация — одна атомарная запись")

	item := store.Logs()[0]
	require.NoError(t, store.AddDetail(calllog.LogDetail{LogID: item.LogID, ID: "d1"}))
	assert.Equal(t, 2, kv.PutCalls)
}

// TestPersistErrorPropagates проверяет доставку ошибки записи вызывающему
func TestPersistErrorPropagates(t *testing.T) {
	kv := calllog.NewMemoryKV()
	store, err := calllog.Open(kv)
	require.NoError(t, err)

	kv.PutErr = errors.New("disk full")
	_, err = store.Touch("100", "Alice", time.Now(), true)
	assert.Error(t, err)
}

// TestFindByNumber проверяет поиск сводки по номеру
func TestFindByNumber(t *testing.T) {
	store, err := calllog.Open(calllog.NewMemoryKV())
	require.NoError(t, err)

	_, err = store.Touch("100", "Alice", time.Now(), true)
	require.NoError(t, err)

	item, ok := store.FindByNumber("100")
	assert.True(t, ok)
	assert.Equal(t, "Alice", item.DisplayName)

	_, ok = store.FindByNumber("999")
	assert.False(t, ok)
}
