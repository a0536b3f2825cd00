package sipgoua

import (
	"context"
	"fmt"
	"sync"

	"github.com/emiago/sipgo/sip"

	"github.com/arzzra/webphone/pkg/signaling"
)

// registerExpires время жизни регистрации в секундах
const registerExpires = 300

// Registrar клиент регистрации на SIP сервере.
//
// Register и Unregister отличаются только значением Expires: снятие
// регистрации — это REGISTER с Expires: 0.
type Registrar struct {
	engine *Engine

	mu        sync.Mutex
	state     signaling.RegistrarState
	seq       uint32
	callID    string
	fromTag   string
	listeners []func(signaling.RegistrarState)
}

func newRegistrar(e *Engine) *Registrar {
	return &Registrar{
		engine:  e,
		state:   signaling.RegistrarInitial,
		callID:  newCallID(),
		fromTag: newTag(),
	}
}

// State возвращает текущее состояние регистрации
func (r *Registrar) State() signaling.RegistrarState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// OnStateChange подписывает обработчик
func (r *Registrar) OnStateChange(fn func(signaling.RegistrarState)) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// fire переводит состояние и уведомляет подписчиков.
// Повторный переход в то же состояние не доставляется.
func (r *Registrar) fire(st signaling.RegistrarState) {
	r.mu.Lock()
	if r.state == st {
		r.mu.Unlock()
		return
	}
	r.state = st
	listeners := make([]func(signaling.RegistrarState), len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.Unlock()
	for _, fn := range listeners {
		fn(st)
	}
}

// Register отправляет REGISTER и ждет финального ответа
func (r *Registrar) Register(ctx context.Context) error {
	r.fire(signaling.RegistrarRegistering)
	if err := r.send(ctx, registerExpires); err != nil {
		r.fire(signaling.RegistrarUnregistered)
		return err
	}
	r.fire(signaling.RegistrarRegistered)
	return nil
}

// Unregister снимает регистрацию (REGISTER с Expires: 0)
func (r *Registrar) Unregister(ctx context.Context) error {
	err := r.send(ctx, 0)
	r.fire(signaling.RegistrarUnregistered)
	return err
}

// send отправляет REGISTER с указанным Expires и ждет финального ответа
func (r *Registrar) send(ctx context.Context, expires int) error {
	acc := r.engine.account

	r.mu.Lock()
	r.seq++
	seq := r.seq
	r.mu.Unlock()

	account := sip.Uri{User: acc.Username, Host: acc.Domain, Port: acc.Port}
	req := sip.NewRequest(sip.REGISTER, sip.Uri{Host: acc.Domain, Port: acc.Port})
	req.AppendHeader(sip.NewHeader("Call-ID", r.callID))
	req.AppendHeader(&sip.FromHeader{
		DisplayName: acc.DisplayName,
		Address:     account,
		Params:      sip.HeaderParams{"tag": r.fromTag},
	})
	req.AppendHeader(&sip.ToHeader{Address: account, Params: sip.HeaderParams{}})
	req.AppendHeader(&sip.CSeqHeader{SeqNo: seq, MethodName: sip.REGISTER})
	req.AppendHeader(&sip.ContactHeader{Address: account})
	req.AppendHeader(sip.NewHeader("Expires", fmt.Sprintf("%d", expires)))
	req.AppendHeader(sip.NewHeader("Max-Forwards", "70"))

	tx, err := r.engine.client.TransactionRequest(ctx, req)
	if err != nil {
		return fmt.Errorf("send register: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tx.Done():
			return fmt.Errorf("register transaction terminated")
		case resp := <-tx.Responses():
			if resp == nil || resp.StatusCode < 200 {
				continue
			}
			if resp.StatusCode < 300 {
				return nil
			}
			return fmt.Errorf("register rejected: %d %s", resp.StatusCode, resp.Reason)
		}
	}
}
