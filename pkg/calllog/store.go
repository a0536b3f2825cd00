package calllog

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store хранилище истории вызовов.
//
// Все мутации пересчитывают порядок сводок (закрепленные выше, внутри групп
// по убыванию lastActivity) и переписывают обе коллекции в KV атомарно.
// Потокобезопасен.
type Store struct {
	mu      sync.RWMutex
	kv      KV
	items   []LogItem
	details map[string][]LogDetail
}

// Open создает Store и загружает состояние из хранилища
func Open(kv KV) (*Store, error) {
	s := &Store{
		kv:      kv,
		details: make(map[string][]LogDetail),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// load читает обе коллекции из KV
func (s *Store) load() error {
	raw, ok, err := s.kv.Get(keyLogs)
	if err != nil {
		return fmt.Errorf("load logs: %w", err)
	}
	if ok {
		if err := json.Unmarshal(raw, &s.items); err != nil {
			return fmt.Errorf("decode logs: %w", err)
		}
	}

	raw, ok, err = s.kv.Get(keyDetails)
	if err != nil {
		return fmt.Errorf("load details: %w", err)
	}
	if ok {
		if err := json.Unmarshal(raw, &s.details); err != nil {
			return fmt.Errorf("decode details: %w", err)
		}
	}
	if s.details == nil {
		s.details = make(map[string][]LogDetail)
	}

	s.sortLocked()
	return nil
}

// Logs возвращает упорядоченный снимок сводок
func (s *Store) Logs() []LogItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]LogItem, len(s.items))
	copy(out, s.items)
	return out
}

// FindByNumber ищет сводку по номеру абонента
func (s *Store) FindByNumber(number string) (LogItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, it := range s.items {
		if it.Number == number {
			return it, true
		}
	}
	return LogItem{}, false
}

// Find ищет сводку по logId
func (s *Store) Find(logID string) (LogItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, it := range s.items {
		if it.LogID == logID {
			return it, true
		}
	}
	return LogItem{}, false
}

// Details возвращает историю вызовов абонента в порядке добавления
func (s *Store) Details(logID string) []LogDetail {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seq := s.details[logID]
	out := make([]LogDetail, len(seq))
	copy(out, seq)
	return out
}

// AddLog добавляет новую сводку
func (s *Store) AddLog(item LogItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, item)
	s.sortLocked()
	return s.persistLocked()
}

// UpdateLog применяет частичное обновление к сводке с указанным logId
func (s *Store) UpdateLog(logID string, patch ItemPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].LogID != logID {
			continue
		}
		if patch.DisplayName != nil {
			s.items[i].DisplayName = *patch.DisplayName
		}
		if patch.LastActivity != nil {
			s.items[i].LastActivity = *patch.LastActivity
		}
		if patch.Pinned != nil {
			s.items[i].Pinned = *patch.Pinned
		}
		break
	}
	s.sortLocked()
	return s.persistLocked()
}

// Touch находит или создает сводку для номера.
//
// Существующей сводке обновляется lastActivity и, при updateName,
// displayName. Новая создается незакрепленной со свежим logId;
// пустое displayName замещается номером.
func (s *Store) Touch(number, displayName string, now time.Time, updateName bool) (LogItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if displayName == "" {
		displayName = number
	}

	for i := range s.items {
		if s.items[i].Number != number {
			continue
		}
		s.items[i].LastActivity = now
		if updateName {
			s.items[i].DisplayName = displayName
		}
		item := s.items[i]
		s.sortLocked()
		return item, s.persistLocked()
	}

	item := LogItem{
		Number:       number,
		DisplayName:  displayName,
		LastActivity: now,
		Pinned:       false,
		LogID:        uuid.NewString(),
	}
	s.items = append(s.items, item)
	s.sortLocked()
	return item, s.persistLocked()
}

// TogglePin переключает закрепление сводки
func (s *Store) TogglePin(logID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].LogID == logID {
			s.items[i].Pinned = !s.items[i].Pinned
			break
		}
	}
	s.sortLocked()
	return s.persistLocked()
}

// AddDetail дописывает запись вызова в историю абонента.
// Записи только добавляются, существующие не изменяются.
func (s *Store) AddDetail(d LogDetail) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.details[d.LogID] = append(s.details[d.LogID], d)
	return s.persistLocked()
}

// sortLocked пересчитывает порядок сводок: закрепленные первыми,
// внутри групп по убыванию lastActivity. Вызывается под mu.
func (s *Store) sortLocked() {
	sort.SliceStable(s.items, func(i, j int) bool {
		if s.items[i].Pinned != s.items[j].Pinned {
			return s.items[i].Pinned
		}
		return s.items[i].LastActivity.After(s.items[j].LastActivity)
	})
}

// persistLocked переписывает обе коллекции в KV. Вызывается под mu.
func (s *Store) persistLocked() error {
	logs, err := json.Marshal(s.items)
	if err != nil {
		return fmt.Errorf("encode logs: %w", err)
	}
	details, err := json.Marshal(s.details)
	if err != nil {
		return fmt.Errorf("encode details: %w", err)
	}
	if err := s.kv.PutAll(map[string][]byte{
		keyLogs:    logs,
		keyDetails: details,
	}); err != nil {
		return fmt.Errorf("persist call log: %w", err)
	}
	return nil
}
