package sipgoua

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"github.com/arzzra/webphone/pkg/signaling"
)

// newTag генерирует tag для From/To заголовков
func newTag() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// newCallID генерирует Call-ID новой исходящей сессии
func newCallID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// Session сигнальная сессия одного вызова поверх sipgo.
//
// Для исходящего вызова сессия — UAC: она строит INVITE и читает ответы
// из клиентской транзакции. Для входящего — UAS: хранит запрос и серверную
// транзакцию и отвечает на них.
type Session struct {
	engine    *Engine
	direction signaling.Direction

	callID    string
	localTag  string
	remoteTag string
	seq       uint32

	localURI     sip.Uri
	remoteURI    sip.Uri
	remoteTarget sip.Uri

	// UAC
	inviteReq *sip.Request

	// UAS
	serverReq *sip.Request
	serverTx  sip.ServerTransaction

	mu        sync.Mutex
	state     signaling.SessionState
	delegate  signaling.SessionDelegate
	cancelled bool
}

// newOutgoingSession создает UAC сессию к номеру
func newOutgoingSession(e *Engine, number string) *Session {
	acc := e.account
	return &Session{
		engine:    e,
		direction: signaling.DirectionOutbound,
		callID:    newCallID(),
		localTag:  newTag(),
		seq:       1,
		localURI:  sip.Uri{User: acc.Username, Host: acc.Domain, Port: acc.Port},
		remoteURI: sip.Uri{User: number, Host: acc.Domain, Port: acc.Port},
		state:     signaling.SessionInitial,
	}
}

// newIncomingSession создает UAS сессию из входящего INVITE
func newIncomingSession(e *Engine, req *sip.Request, tx sip.ServerTransaction) *Session {
	s := &Session{
		engine:    e,
		direction: signaling.DirectionInbound,
		callID:    req.CallID().Value(),
		localTag:  newTag(),
		serverReq: req,
		serverTx:  tx,
		state:     signaling.SessionInitial,
	}
	if from := req.From(); from != nil {
		s.remoteURI = from.Address
		s.remoteTarget = from.Address
		if tag, ok := from.Params["tag"]; ok {
			s.remoteTag = tag
		}
	}
	if to := req.To(); to != nil {
		s.localURI = to.Address
	}
	if contact := req.GetHeader("Contact"); contact != nil {
		var uri sip.Uri
		if err := sip.ParseUri(strings.Trim(contact.Value(), "<>"), &uri); err == nil {
			s.remoteTarget = uri
		}
	}
	return s
}

// State возвращает текущее состояние сессии
func (s *Session) State() signaling.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st signaling.SessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// SetDelegate назначает обработчики терминальных событий
func (s *Session) SetDelegate(d signaling.SessionDelegate) {
	s.mu.Lock()
	s.delegate = d
	s.mu.Unlock()
}

// addToTag добавляет наш tag в To заголовок ответа
func (s *Session) addToTag(resp *sip.Response) {
	if to := resp.To(); to != nil {
		if _, ok := to.Params["tag"]; !ok {
			to.Params["tag"] = s.localTag
		}
	}
}

// Invite отправляет INVITE и следит за ходом транзакции.
//
// Блокируется до финального ответа: nil на 2xx (вызов установлен) и на
// 487 после нашей отмены, ошибка на прочие финальные ответы.
// Ход вызова доставляется через progress.
func (s *Session) Invite(ctx context.Context, progress signaling.ProgressDelegate) error {
	if s.direction != signaling.DirectionOutbound {
		return fmt.Errorf("invite: not an outgoing session")
	}
	acc := s.engine.account

	req := sip.NewRequest(sip.INVITE, s.remoteURI)
	req.AppendHeader(sip.NewHeader("Call-ID", s.callID))
	req.AppendHeader(&sip.FromHeader{
		DisplayName: acc.DisplayName,
		Address:     s.localURI,
		Params:      sip.HeaderParams{"tag": s.localTag},
	})
	req.AppendHeader(&sip.ToHeader{Address: s.remoteURI, Params: sip.HeaderParams{}})
	req.AppendHeader(&sip.CSeqHeader{SeqNo: s.seq, MethodName: sip.INVITE})
	req.AppendHeader(&sip.ContactHeader{Address: s.localURI})
	req.AppendHeader(sip.NewHeader("Max-Forwards", "70"))

	tx, err := s.engine.client.TransactionRequest(ctx, req)
	if err != nil {
		s.setState(signaling.SessionTerminated)
		s.engine.removeSession(s.callID)
		return fmt.Errorf("send invite: %w", err)
	}
	s.inviteReq = req
	s.setState(signaling.SessionEstablishing)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tx.Done():
			return fmt.Errorf("invite transaction terminated")
		case resp := <-tx.Responses():
			if resp == nil {
				continue
			}
			switch {
			case resp.StatusCode == sip.StatusTrying:
				if progress.OnTrying != nil {
					progress.OnTrying()
				}
			case resp.StatusCode < 200:
				if progress.OnProgress != nil {
					progress.OnProgress()
				}
			case resp.StatusCode < 300:
				if to := resp.To(); to != nil {
					if tag, ok := to.Params["tag"]; ok {
						s.remoteTag = tag
					}
				}
				s.sendAck(resp)
				s.setState(signaling.SessionEstablished)
				if progress.OnAccept != nil {
					progress.OnAccept()
				}
				return nil
			default:
				s.setState(signaling.SessionTerminated)
				s.engine.removeSession(s.callID)
				s.mu.Lock()
				cancelled := s.cancelled
				s.mu.Unlock()
				if cancelled && resp.StatusCode == sip.StatusRequestTerminated {
					return nil
				}
				return fmt.Errorf("call rejected: %d %s", resp.StatusCode, resp.Reason)
			}
		}
	}
}

// sendAck подтверждает финальный 2xx ответ
func (s *Session) sendAck(resp *sip.Response) {
	ack := sip.NewRequest(sip.ACK, s.remoteURI)
	ack.AppendHeader(sip.NewHeader("Call-ID", s.callID))
	if from := s.inviteReq.From(); from != nil {
		ack.AppendHeader(from)
	}
	if to := resp.To(); to != nil {
		ack.AppendHeader(to)
	}
	ack.AppendHeader(&sip.CSeqHeader{SeqNo: s.seq, MethodName: sip.ACK})
	ack.AppendHeader(sip.NewHeader("Max-Forwards", "70"))
	_ = s.engine.client.WriteRequest(ack, sipgo.ClientRequestAddVia)
}

// Accept принимает входящий вызов ответом 200 OK.
// Медиа-опции пакетом не интерпретируются.
func (s *Session) Accept(_ context.Context, _ signaling.AcceptOptions) error {
	if s.direction != signaling.DirectionInbound {
		return fmt.Errorf("accept: not an incoming session")
	}
	resp := sip.NewResponseFromRequest(s.serverReq, sip.StatusOK, "OK", nil)
	s.addToTag(resp)
	if err := s.serverTx.Respond(resp); err != nil {
		return fmt.Errorf("respond 200: %w", err)
	}
	s.setState(signaling.SessionEstablished)
	return nil
}

// Reject отклоняет входящий вызов ответом 486 Busy Here
func (s *Session) Reject(_ context.Context) error {
	if s.direction != signaling.DirectionInbound {
		return fmt.Errorf("reject: not an incoming session")
	}
	resp := sip.NewResponseFromRequest(s.serverReq, sip.StatusBusyHere, "Busy Here", nil)
	s.addToTag(resp)
	if err := s.serverTx.Respond(resp); err != nil {
		return fmt.Errorf("respond 486: %w", err)
	}
	s.setState(signaling.SessionTerminated)
	s.engine.removeSession(s.callID)
	return nil
}

// Bye завершает установленный вызов
func (s *Session) Bye(ctx context.Context) error {
	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	target := s.remoteTarget
	if target.Host == "" {
		target = s.remoteURI
	}

	req := sip.NewRequest(sip.BYE, target)
	req.AppendHeader(sip.NewHeader("Call-ID", s.callID))
	req.AppendHeader(&sip.FromHeader{
		Address: s.localURI,
		Params:  sip.HeaderParams{"tag": s.localTag},
	})
	to := &sip.ToHeader{Address: s.remoteURI, Params: sip.HeaderParams{}}
	if s.remoteTag != "" {
		to.Params["tag"] = s.remoteTag
	}
	req.AppendHeader(to)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: seq, MethodName: sip.BYE})
	req.AppendHeader(sip.NewHeader("Max-Forwards", "70"))

	s.setState(signaling.SessionTerminated)
	s.engine.removeSession(s.callID)

	tx, err := s.engine.client.TransactionRequest(ctx, req)
	if err != nil {
		return fmt.Errorf("send bye: %w", err)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tx.Done():
		return nil
	case resp := <-tx.Responses():
		if resp != nil && resp.StatusCode >= 300 {
			return fmt.Errorf("bye rejected: %d %s", resp.StatusCode, resp.Reason)
		}
		return nil
	}
}

// Cancel отменяет исходящий вызов до финального ответа.
// CANCEL копирует Via исходного INVITE, как требует RFC 3261.
func (s *Session) Cancel(_ context.Context) error {
	if s.direction != signaling.DirectionOutbound || s.inviteReq == nil {
		return fmt.Errorf("cancel: no outgoing invite")
	}

	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()

	req := sip.NewRequest(sip.CANCEL, s.inviteReq.Recipient)
	if via := s.inviteReq.Via(); via != nil {
		req.AppendHeader(via)
	}
	req.AppendHeader(sip.NewHeader("Call-ID", s.callID))
	if from := s.inviteReq.From(); from != nil {
		req.AppendHeader(from)
	}
	req.AppendHeader(&sip.ToHeader{Address: s.remoteURI, Params: sip.HeaderParams{}})
	req.AppendHeader(&sip.CSeqHeader{SeqNo: s.seq, MethodName: sip.CANCEL})
	req.AppendHeader(sip.NewHeader("Max-Forwards", "70"))

	if err := s.engine.client.WriteRequest(req); err != nil {
		return fmt.Errorf("send cancel: %w", err)
	}
	return nil
}

// remoteBye доставляет удаленное завершение приложению
func (s *Session) remoteBye() {
	s.setState(signaling.SessionTerminated)
	s.mu.Lock()
	fn := s.delegate.OnBye
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// remoteCancel доставляет отмену входящего вызова приложению
func (s *Session) remoteCancel(completedElsewhere bool) {
	s.setState(signaling.SessionTerminated)

	// Отмененный INVITE подтверждается ответом 487
	resp := sip.NewResponseFromRequest(s.serverReq, sip.StatusRequestTerminated, "Request Terminated", nil)
	s.addToTag(resp)
	_ = s.serverTx.Respond(resp)

	s.mu.Lock()
	fn := s.delegate.OnCancel
	s.mu.Unlock()
	if fn != nil {
		fn(completedElsewhere)
	}
}
