package calllog

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteKV key-value хранилище поверх sqlite.
//
// Одна таблица kv(key, value); PutAll пишет все ключи в одной транзакции,
// что дает требуемую атомарность записи обеих коллекций лога.
type SQLiteKV struct {
	db *sql.DB
}

// OpenSQLite открывает (или создает) файл базы и инициализирует схему
func OpenSQLite(path string) (*SQLiteKV, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// Хранилище используется из одного процесса, конкуренцию за файл
	// ограничиваем на уровне пула соединений.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		key   TEXT PRIMARY KEY,
		value BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init kv schema: %w", err)
	}
	return &SQLiteKV{db: db}, nil
}

// Get возвращает значение ключа
func (s *SQLiteKV) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %q: %w", key, err)
	}
	return value, true, nil
}

// PutAll записывает все пары в одной транзакции
func (s *SQLiteKV) PutAll(pairs map[string][]byte) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	for k, v := range pairs {
		if _, err := tx.Exec(
			`INSERT INTO kv (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, k, v,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("put %q: %w", k, err)
		}
	}
	return tx.Commit()
}

// Close закрывает базу
func (s *SQLiteKV) Close() error {
	return s.db.Close()
}
