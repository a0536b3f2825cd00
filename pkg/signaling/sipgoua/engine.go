// Package sipgoua реализует контракт pkg/signaling поверх sipgo.
//
// Один Engine — одно UDP соединение с сервером: UserAgent, Server и Client
// sipgo, клиент регистрации и карта сессий по Call-ID. Медиа и SDP пакет
// не обрабатывает: ядру софтфона нужна только сигнализация.
package sipgoua

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/arzzra/webphone/pkg/signaling"
)

// userAgentName значение заголовка User-Agent
const userAgentName = "WebPhone/1.0"

// startupWindow время ожидания ошибки запуска слушателя,
// после которого транспорт считается подключенным
const startupWindow = 200 * time.Millisecond

// Engine сигнальный движок на sipgo
type Engine struct {
	account signaling.Account

	ua     *sipgo.UserAgent
	server *sipgo.Server
	client *sipgo.Client

	registrar *Registrar
	transport *transportObserver

	mu       sync.RWMutex
	incoming signaling.IncomingHandler
	sessions map[string]*Session // key: Call-ID

	ctx    context.Context
	cancel context.CancelFunc
}

// New создает движок для указанного аккаунта
func New(account signaling.Account) (*Engine, error) {
	if err := account.Validate(); err != nil {
		return nil, err
	}

	ua, err := sipgo.NewUA(sipgo.WithUserAgent(userAgentName))
	if err != nil {
		return nil, fmt.Errorf("create user agent: %w", err)
	}
	server, err := sipgo.NewServer(ua)
	if err != nil {
		return nil, fmt.Errorf("create server: %w", err)
	}
	client, err := sipgo.NewClient(ua)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	e := &Engine{
		account:   account,
		ua:        ua,
		server:    server,
		client:    client,
		transport: newTransportObserver(),
		sessions:  make(map[string]*Session),
	}
	e.registrar = newRegistrar(e)
	e.onRequests()
	return e, nil
}

// onRequests подписывает обработчики входящих запросов
func (e *Engine) onRequests() {
	e.server.OnInvite(e.handleInvite)
	e.server.OnBye(e.handleBye)
	e.server.OnCancel(e.handleCancel)
	e.server.OnAck(e.handleAck)
}

// Registrar возвращает клиент регистрации
func (e *Engine) Registrar() signaling.Registrar { return e.registrar }

// Transport возвращает наблюдателя транспорта
func (e *Engine) Transport() signaling.Transport { return e.transport }

// OnIncoming назначает обработчик входящих вызовов
func (e *Engine) OnIncoming(fn signaling.IncomingHandler) {
	e.mu.Lock()
	e.incoming = fn
	e.mu.Unlock()
}

// Dial создает исходящую сессию. INVITE отправляется позже через Invite.
func (e *Engine) Dial(number string) (signaling.Session, error) {
	if number == "" {
		return nil, fmt.Errorf("dial: empty number")
	}
	sess := newOutgoingSession(e, number)
	e.addSession(sess)
	return sess, nil
}

// Start запускает слушателя и объявляет состояние транспорта.
//
// sipgo не сообщает состояние UDP соединения, поэтому движок синтезирует
// его из жизненного цикла слушателя: успешный запуск — Connected,
// завершение ListenAndServe с ошибкой — Disconnected.
func (e *Engine) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.transport.fire(signaling.TransportConnecting)

	listenAddr := fmt.Sprintf("0.0.0.0:%d", e.account.Port+1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- e.server.ListenAndServe(e.ctx, "udp", listenAddr)
	}()

	select {
	case err := <-errCh:
		e.transport.fire(signaling.TransportDisconnected)
		return fmt.Errorf("listen %s: %w", listenAddr, err)
	case <-time.After(startupWindow):
	}

	e.transport.fire(signaling.TransportConnected)
	go func() {
		if err := <-errCh; err != nil && e.ctx.Err() == nil {
			e.transport.fire(signaling.TransportDisconnected)
		}
	}()
	return nil
}

// Stop останавливает движок
func (e *Engine) Stop() error {
	if e.cancel != nil {
		e.cancel()
	}
	e.transport.fire(signaling.TransportDisconnected)
	return e.ua.Close()
}

func (e *Engine) addSession(s *Session) {
	e.mu.Lock()
	e.sessions[s.callID] = s
	e.mu.Unlock()
}

func (e *Engine) findSession(callID string) (*Session, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sessions[callID]
	return s, ok
}

func (e *Engine) removeSession(callID string) {
	e.mu.Lock()
	delete(e.sessions, callID)
	e.mu.Unlock()
}

// handleInvite обрабатывает входящий INVITE: создает сессию,
// отвечает 180 и отдает вызов приложению
func (e *Engine) handleInvite(req *sip.Request, tx sip.ServerTransaction) {
	e.mu.RLock()
	incoming := e.incoming
	e.mu.RUnlock()

	if incoming == nil {
		resp := sip.NewResponseFromRequest(req, sip.StatusTemporarilyUnavailable, "Temporarily Unavailable", nil)
		_ = tx.Respond(resp)
		return
	}

	sess := newIncomingSession(e, req, tx)
	e.addSession(sess)

	ringing := sip.NewResponseFromRequest(req, sip.StatusRinging, "Ringing", nil)
	sess.addToTag(ringing)
	_ = tx.Respond(ringing)

	from := req.From()
	remote := signaling.RemoteIdentity{}
	if from != nil {
		remote.Number = from.Address.User
		remote.DisplayName = from.DisplayName
	}
	incoming(sess, remote)
}

// handleBye обрабатывает BYE: подтверждает и завершает сессию
func (e *Engine) handleBye(req *sip.Request, tx sip.ServerTransaction) {
	resp := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	_ = tx.Respond(resp)

	sess, ok := e.findSession(req.CallID().Value())
	if !ok {
		return
	}
	e.removeSession(sess.callID)
	sess.remoteBye()
}

// handleCancel обрабатывает CANCEL входящего вызова.
// Заголовок Reason с "Call completed elsewhere" означает, что вызов
// принят на другом устройстве.
func (e *Engine) handleCancel(req *sip.Request, tx sip.ServerTransaction) {
	resp := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	_ = tx.Respond(resp)

	sess, ok := e.findSession(req.CallID().Value())
	if !ok {
		return
	}
	e.removeSession(sess.callID)

	completedElsewhere := false
	if reason := req.GetHeader("Reason"); reason != nil {
		completedElsewhere = strings.Contains(reason.Value(), "Call completed elsewhere")
	}
	sess.remoteCancel(completedElsewhere)
}

// handleAck поглощает ACK на наши финальные ответы
func (e *Engine) handleAck(*sip.Request, sip.ServerTransaction) {}

// transportObserver синтезированное состояние транспорта с подпиской
type transportObserver struct {
	mu        sync.Mutex
	state     signaling.TransportState
	listeners []func(signaling.TransportState)
}

func newTransportObserver() *transportObserver {
	return &transportObserver{state: signaling.TransportDisconnected}
}

// State возвращает текущее состояние
func (t *transportObserver) State() signaling.TransportState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// OnStateChange подписывает обработчик
func (t *transportObserver) OnStateChange(fn func(signaling.TransportState)) {
	t.mu.Lock()
	t.listeners = append(t.listeners, fn)
	t.mu.Unlock()
}

// fire переводит состояние и уведомляет подписчиков.
// Повторный переход в то же состояние не доставляется.
func (t *transportObserver) fire(st signaling.TransportState) {
	t.mu.Lock()
	if t.state == st {
		t.mu.Unlock()
		return
	}
	t.state = st
	listeners := make([]func(signaling.TransportState), len(t.listeners))
	copy(listeners, t.listeners)
	t.mu.Unlock()
	for _, fn := range listeners {
		fn(st)
	}
}
