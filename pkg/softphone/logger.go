package softphone

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"
)

// LogLevel уровни логирования
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

var logLevelNames = map[LogLevel]string{
	LogLevelDebug: "DEBUG",
	LogLevelInfo:  "INFO",
	LogLevelWarn:  "WARN",
	LogLevelError: "ERROR",
}

func (l LogLevel) String() string {
	if name, ok := logLevelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

// Field поле структурированного лога
type Field struct {
	Key   string
	Value interface{}
}

// Helpers для создания полей
func String(key, value string) Field              { return Field{key, value} }
func Int(key string, value int) Field             { return Field{key, value} }
func Bool(key string, value bool) Field           { return Field{key, value} }
func Duration(key string, v time.Duration) Field  { return Field{key, v.String()} }
func Any(key string, value interface{}) Field     { return Field{key, value} }
func Err(err error) Field                         { return Field{"error", err.Error()} }

// logEntry структура записи лога
type logEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Logger структурированный JSON логгер ядра.
//
// Намеренно минимальный: уровни, компонент, произвольные поля.
// Потокобезопасен.
type Logger struct {
	mu        sync.Mutex
	level     LogLevel
	output    io.Writer
	component string
}

// NewLogger создает логгер с указанным уровнем, пишущий в stderr
func NewLogger(level LogLevel) *Logger {
	return &Logger{level: level, output: os.Stderr}
}

// NewLoggerWithOutput создает логгер с произвольным приемником
func NewLoggerWithOutput(level LogLevel, out io.Writer) *Logger {
	return &Logger{level: level, output: out}
}

// NopLogger возвращает логгер, отбрасывающий все записи
func NopLogger() *Logger {
	return &Logger{level: LogLevelError + 1, output: io.Discard}
}

// WithComponent возвращает копию логгера с именем компонента
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{level: l.level, output: l.output, component: component}
}

// SetLevel изменяет минимальный уровень записи
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

func (l *Logger) log(level LogLevel, msg string, fields []Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.level {
		return
	}

	entry := logEntry{
		Timestamp: time.Now(),
		Level:     level.String(),
		Component: l.component,
		Message:   msg,
	}
	if len(fields) > 0 {
		entry.Fields = make(map[string]interface{}, len(fields))
		for _, f := range fields {
			entry.Fields[f.Key] = f.Value
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	data = append(data, '\n')
	_, _ = l.output.Write(data)
}

// Debug пишет отладочную запись
func (l *Logger) Debug(msg string, fields ...Field) { l.log(LogLevelDebug, msg, fields) }

// Info пишет информационную запись
func (l *Logger) Info(msg string, fields ...Field) { l.log(LogLevelInfo, msg, fields) }

// Warn пишет предупреждение
func (l *Logger) Warn(msg string, fields ...Field) { l.log(LogLevelWarn, msg, fields) }

// Error пишет запись об ошибке
func (l *Logger) Error(msg string, fields ...Field) { l.log(LogLevelError, msg, fields) }
