package calllog

import "sync"

// Ключи долговременного хранилища. Формат значений — JSON: массив LogItem
// и объект logId -> []LogDetail соответственно.
const (
	keyLogs    = "logsArray"
	keyDetails = "logsDetails"
)

// KV долговременное key-value хранилище.
//
// PutAll записывает все пары за одну атомарную операцию: либо записываются
// обе коллекции, либо ни одной.
type KV interface {
	// Get возвращает значение ключа. ok=false если ключа нет.
	Get(key string) (value []byte, ok bool, err error)

	// PutAll атомарно записывает все пары
	PutAll(pairs map[string][]byte) error

	// Close освобождает ресурсы хранилища
	Close() error
}

// MemoryKV хранилище в памяти для тестов
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string][]byte

	// PutErr инжектируемая ошибка записи
	PutErr error
	// PutCalls количество вызовов PutAll
	PutCalls int
}

// NewMemoryKV создает пустое in-memory хранилище
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

// Get возвращает значение ключа
func (m *MemoryKV) Get(key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

// PutAll записывает все пары
func (m *MemoryKV) PutAll(pairs map[string][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PutCalls++
	if m.PutErr != nil {
		return m.PutErr
	}
	for k, v := range pairs {
		cp := make([]byte, len(v))
		copy(cp, v)
		m.data[k] = cp
	}
	return nil
}

// Close ничего не делает
func (m *MemoryKV) Close() error { return nil }
