package softphone_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/webphone/pkg/calllog"
	"github.com/arzzra/webphone/pkg/notify"
	"github.com/arzzra/webphone/pkg/signaling"
	"github.com/arzzra/webphone/pkg/signaling/mockengine"
	"github.com/arzzra/webphone/pkg/softphone"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// fakeNav навигатор, записывающий переходы
type fakeNav struct {
	mu         sync.Mutex
	route      softphone.Route
	lineVisits []string
	callVisits []string
}

func (n *fakeNav) Current() softphone.Route {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.route
}

func (n *fakeNav) GoToLine(lineID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.route = softphone.Route{Name: softphone.RouteLine, Param: lineID}
	n.lineVisits = append(n.lineVisits, lineID)
}

func (n *fakeNav) GoToCall(callID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.route = softphone.Route{Name: softphone.RouteCall, Param: callID}
	n.callVisits = append(n.callVisits, callID)
}

func (n *fakeNav) LineVisits() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.lineVisits))
	copy(out, n.lineVisits)
	return out
}

func (n *fakeNav) CallVisits() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.callVisits))
	copy(out, n.callVisits)
	return out
}

// testPhone собранное ядро софтфона поверх mock движка
type testPhone struct {
	mu      sync.Mutex
	engines []*mockengine.MockEngine

	reg      *softphone.RegistrationManager
	lines    *softphone.LineManager
	store    *calllog.Store
	notifier *notify.Service
	nav      *fakeNav
}

// newTestPhone собирает ядро с ужатыми таймаутами и устройствами по умолчанию
func newTestPhone(t *testing.T) *testPhone {
	t.Helper()
	return newTestPhoneDevices(t, softphone.DefaultDevices())
}

// newTestPhoneDevices собирает ядро с указанным перечислением устройств
func newTestPhoneDevices(t *testing.T, devices softphone.DeviceEnumerator) *testPhone {
	t.Helper()

	p := &testPhone{
		notifier: notify.New(time.Minute),
		nav:      &fakeNav{},
	}

	store, err := calllog.Open(calllog.NewMemoryKV())
	require.NoError(t, err)
	p.store = store

	cfg := &softphone.Config{
		RemoveDelay: 30 * time.Millisecond,
		SettleDelay: 20 * time.Millisecond,
		Logger:      softphone.NopLogger(),
		Metrics:     softphone.NewMetrics(prometheus.NewRegistry()),
	}

	// Каждый вызов фабрики создает свежий движок, как при refresh
	factory := func() (signaling.Engine, error) {
		eng := mockengine.New()
		p.mu.Lock()
		p.engines = append(p.engines, eng)
		p.mu.Unlock()
		return eng, nil
	}

	p.reg = softphone.NewRegistrationManager(cfg, factory, p.notifier)
	p.lines = softphone.NewLineManager(cfg, p.reg, store, p.notifier, p.nav, devices)
	p.lines.DetectDevices(context.Background())
	return p
}

// engine возвращает последний созданный фабрикой движок
func (p *testPhone) engine() *mockengine.MockEngine {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.engines) == 0 {
		return nil
	}
	return p.engines[len(p.engines)-1]
}

// engineCount возвращает число созданных движков
func (p *testPhone) engineCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.engines)
}

// register доводит ядро до статуса "Registered"
func (p *testPhone) register(t *testing.T) {
	t.Helper()
	require.NoError(t, p.reg.Initialize(context.Background()))
	eng := p.engine()
	eng.MockTransport().FireState(signaling.TransportConnected)
	eng.MockRegistrar().FireState(signaling.RegistrarRegistered)
	require.Equal(t, "Registered", p.reg.Status())
}

// message возвращает текущее сообщение уведомлений
func (p *testPhone) message() string {
	msg, _ := p.notifier.Current()
	return msg
}

// lineByNumber ищет снимок линии по номеру
func (p *testPhone) lineByNumber(t *testing.T, number string) softphone.Line {
	t.Helper()
	for _, l := range p.lines.Lines() {
		if l.Number == number {
			return l
		}
	}
	t.Fatalf("line for number %s not found", number)
	return softphone.Line{}
}

// lineStatus возвращает статус линии, пустую строку если линии нет
func (p *testPhone) lineStatus(lineID string) softphone.LineStatus {
	l, ok := p.lines.FindLine(lineID)
	if !ok {
		return ""
	}
	return l.Status
}
