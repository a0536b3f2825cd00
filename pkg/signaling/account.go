package signaling

import (
	"fmt"
	"os"
	"strconv"
)

// Account учетные данные SIP аккаунта.
//
// Поставляются окружением при развертывании, ядро их содержимое не
// интерпретирует — только передает движку при инициализации.
type Account struct {
	// Domain SIP домен сервера
	Domain string
	// Port порт сигнального сервера
	Port int
	// Path путь WebSocket endpoint (для ws/wss транспорта)
	Path string
	// Username имя пользователя для авторизации и URI
	Username string
	// Password пароль для авторизации
	Password string
	// DisplayName отображаемое имя в исходящих запросах
	DisplayName string
}

// DefaultAccount возвращает аккаунт со значениями по умолчанию
func DefaultAccount() Account {
	return Account{
		Domain: "localhost",
		Port:   5060,
	}
}

// AccountFromEnv читает аккаунт из переменных окружения WEBPHONE_SIP_*.
// Отсутствующие переменные оставляют значения по умолчанию.
func AccountFromEnv() (Account, error) {
	acc := DefaultAccount()

	if v := os.Getenv("WEBPHONE_SIP_DOMAIN"); v != "" {
		acc.Domain = v
	}
	if v := os.Getenv("WEBPHONE_SIP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return acc, fmt.Errorf("invalid WEBPHONE_SIP_PORT %q: %w", v, err)
		}
		acc.Port = port
	}
	if v := os.Getenv("WEBPHONE_SIP_PATH"); v != "" {
		acc.Path = v
	}
	if v := os.Getenv("WEBPHONE_SIP_USERNAME"); v != "" {
		acc.Username = v
	}
	if v := os.Getenv("WEBPHONE_SIP_PASSWORD"); v != "" {
		acc.Password = v
	}
	if v := os.Getenv("WEBPHONE_SIP_DISPLAY_NAME"); v != "" {
		acc.DisplayName = v
	}

	return acc, acc.Validate()
}

// Validate проверяет обязательные поля аккаунта
func (a Account) Validate() error {
	if a.Domain == "" {
		return fmt.Errorf("account: domain is required")
	}
	if a.Username == "" {
		return fmt.Errorf("account: username is required")
	}
	if a.Port <= 0 || a.Port > 65535 {
		return fmt.Errorf("account: invalid port %d", a.Port)
	}
	return nil
}

// URI возвращает SIP URI аккаунта
func (a Account) URI() string {
	return fmt.Sprintf("sip:%s@%s", a.Username, a.Domain)
}
