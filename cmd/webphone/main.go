// Консольный софтфон: регистрация на SIP сервере, входящие и исходящие
// вызовы, история в SQLite и метрики Prometheus.
//
// Учетные данные аккаунта читаются из переменных окружения WEBPHONE_SIP_*.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arzzra/webphone/pkg/calllog"
	"github.com/arzzra/webphone/pkg/notify"
	"github.com/arzzra/webphone/pkg/signaling"
	"github.com/arzzra/webphone/pkg/signaling/sipgoua"
	"github.com/arzzra/webphone/pkg/softphone"
)

func main() {
	var (
		dbPath      = flag.String("db", "webphone.db", "Путь к базе истории вызовов")
		metricsAddr = flag.String("metrics", "", "Адрес HTTP endpoint метрик (пусто — выключено)")
		debug       = flag.Bool("debug", false, "Подробное логирование")
	)
	flag.Parse()

	account, err := signaling.AccountFromEnv()
	if err != nil {
		log.Fatalf("Некорректный аккаунт: %v", err)
	}

	kv, err := calllog.OpenSQLite(*dbPath)
	if err != nil {
		log.Fatalf("Не удалось открыть базу: %v", err)
	}
	defer kv.Close()

	store, err := calllog.Open(kv)
	if err != nil {
		log.Fatalf("Не удалось загрузить историю: %v", err)
	}

	level := softphone.LogLevelInfo
	if *debug {
		level = softphone.LogLevelDebug
	}

	registry := prometheus.NewRegistry()
	cfg := softphone.DefaultConfig()
	cfg.Logger = softphone.NewLogger(level)
	cfg.Metrics = softphone.NewMetrics(registry)

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Printf("Сервер метрик остановлен: %v", err)
			}
		}()
	}

	notifier := notify.New(notify.DefaultTimeout)
	factory := func() (signaling.Engine, error) {
		return sipgoua.New(account)
	}

	reg := softphone.NewRegistrationManager(cfg, factory, notifier)
	lines := softphone.NewLineManager(cfg, reg, store, notifier,
		softphone.NopNavigator{}, softphone.DefaultDevices())

	ctx := context.Background()
	lines.DetectDevices(ctx)
	if err := reg.Initialize(ctx); err != nil {
		log.Fatalf("Не удалось инициализировать регистрацию: %v", err)
	}

	fmt.Printf("Аккаунт %s, команды: dial, answer, reject, cancel, end, lines, logs, details, pin, refresh, status, quit\n", account.URI())
	runConsole(ctx, reg, lines, store, notifier)
}

// runConsole читает команды пользователя из stdin
func runConsole(ctx context.Context, reg *softphone.RegistrationManager,
	lines *softphone.LineManager, store *calllog.Store, notifier *notify.Service) {

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		cmd, args := fields[0], fields[1:]

		switch cmd {
		case "dial":
			if len(args) != 1 {
				fmt.Println("Использование: dial <номер>")
				continue
			}
			lines.Dial(ctx, args[0])
		case "answer":
			lines.Answer(activeOrArg(lines, args))
		case "reject":
			lines.Reject(activeOrArg(lines, args))
		case "cancel":
			lines.Cancel(activeOrArg(lines, args))
		case "end":
			lines.End(activeOrArg(lines, args))
		case "lines":
			printLines(lines)
		case "logs":
			printLogs(store)
		case "details":
			if len(args) != 1 {
				fmt.Println("Использование: details <номер>")
				continue
			}
			printDetails(store, args[0])
		case "pin":
			if len(args) != 1 {
				fmt.Println("Использование: pin <номер>")
				continue
			}
			togglePin(store, args[0])
		case "refresh":
			reg.Refresh(ctx)
		case "status":
			fmt.Printf("Регистрация: %s\n", reg.Status())
			if msg, severity := notifier.Current(); msg != "" {
				fmt.Printf("Уведомление [%s]: %s\n", severity, msg)
			}
		case "quit", "exit":
			return
		default:
			fmt.Printf("Неизвестная команда: %s\n", cmd)
		}
	}
}

// activeOrArg возвращает id линии из аргумента или активную линию
func activeOrArg(lines *softphone.LineManager, args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return lines.ActiveLineID()
}

func printLines(lines *softphone.LineManager) {
	snapshot := lines.Lines()
	if len(snapshot) == 0 {
		fmt.Println("Активных линий нет")
		return
	}
	for _, l := range snapshot {
		fmt.Printf("%s  %-10s %-12s %s (%s)\n",
			l.ID, l.Status, l.Number, l.DisplayName, l.Direction)
	}
}

func printLogs(store *calllog.Store) {
	logs := store.Logs()
	if len(logs) == 0 {
		fmt.Println("История пуста")
		return
	}
	for _, item := range logs {
		pin := " "
		if item.Pinned {
			pin = "*"
		}
		fmt.Printf("%s %-12s %-20s %s\n",
			pin, item.Number, item.DisplayName,
			item.LastActivity.Format("2006-01-02 15:04:05"))
	}
}

func printDetails(store *calllog.Store, number string) {
	item, ok := store.FindByNumber(number)
	if !ok {
		fmt.Printf("Абонент %s не найден\n", number)
		return
	}
	for _, d := range store.Details(item.LogID) {
		line := fmt.Sprintf("%s %-9s %s",
			d.StartTime.Format("2006-01-02 15:04:05"), d.Direction, d.ReasonText)
		if d.AnswerTime != nil && d.EndTime != nil {
			line += fmt.Sprintf(" (разговор %s)", d.EndTime.Sub(*d.AnswerTime).Round(time.Second))
		}
		fmt.Println(line)
	}
}

func togglePin(store *calllog.Store, number string) {
	item, ok := store.FindByNumber(number)
	if !ok {
		fmt.Printf("Абонент %s не найден\n", number)
		return
	}
	if err := store.TogglePin(item.LogID); err != nil {
		fmt.Printf("Не удалось изменить закрепление: %v\n", err)
	}
}
