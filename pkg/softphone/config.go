package softphone

import "time"

// Config параметры работы ядра софтфона.
//
// Таймауты вынесены в конфигурацию, чтобы тесты могли их сжимать.
type Config struct {
	// RemoveDelay задержка между teardown линии и ее удалением из
	// активного набора (окно, в котором view еще показывает итог вызова)
	RemoveDelay time.Duration

	// SettleDelay пауза между снятием регистрации и реинициализацией
	// движка при refresh
	SettleDelay time.Duration

	// Logger логгер ядра. nil отключает логирование.
	Logger *Logger

	// Metrics метрики ядра. nil отключает сбор.
	Metrics *Metrics

	// Now источник времени. nil использует time.Now.
	Now func() time.Time
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() *Config {
	return &Config{
		RemoveDelay: 5 * time.Second,
		SettleDelay: 500 * time.Millisecond,
		Logger:      NewLogger(LogLevelInfo),
	}
}

// normalize заполняет отсутствующие поля значениями по умолчанию
func (c *Config) normalize() *Config {
	if c == nil {
		c = DefaultConfig()
	}
	if c.RemoveDelay <= 0 {
		c.RemoveDelay = 5 * time.Second
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 500 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = NopLogger()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}
