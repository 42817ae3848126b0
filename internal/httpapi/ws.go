package httpapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"reelstack.local/reel-gateway/internal/binding"
	"reelstack.local/reel-gateway/internal/events"
	"reelstack.local/reel-gateway/internal/ids"
	"reelstack.local/reel-gateway/internal/protocol"
	"reelstack.local/reel-gateway/internal/session"
)

const wsWriteTimeout = 10 * time.Second

var errAuthRequired = errors.New("first frame must authenticate")

func (s *server) handleWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Authenticator == nil {
		http.Error(w, "authentication not configured", http.StatusNotImplemented)
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: isWebSocketOriginAllowed}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("ws upgrade failed remote=%s err=%v", r.RemoteAddr, err)
		return
	}

	c := &clientConn{
		srv:     s,
		conn:    conn,
		id:      ids.Prefixed("conn"),
		remote:  r.RemoteAddr,
		limiter: rate.NewLimiter(rate.Limit(s.deps.Limits.RatePerSecond), s.deps.Limits.Burst),
	}
	c.serve(r.Context())
}

// clientConn is one websocket connection. The read loop runs on the
// handler goroutine; writes may also come from shutdown and displacement,
// so they are serialized by writeMu.
type clientConn struct {
	srv     *server
	conn    *websocket.Conn
	id      string
	remote  string
	limiter *rate.Limiter
	sess    *session.Session

	writeMu     sync.Mutex
	cleanupOnce sync.Once
	closeOnce   sync.Once
}

func (c *clientConn) serve(ctx context.Context) {
	defer c.cleanup()
	defer func() {
		if rec := recover(); rec != nil {
			c.srv.logger.Printf("ws connection panic conn_id=%s session_id=%s panic=%v", c.id, c.sessionID(), rec)
			c.closeWith(websocket.CloseInternalServerErr, "internal error")
		}
	}()

	limits := c.srv.deps.Limits
	c.conn.SetReadLimit(limits.MaxMessageBytes)

	b, err := c.authenticate(ctx, limits.AuthTimeout)
	if err != nil {
		c.reject(err)
		return
	}

	opts := []session.Option{
		session.WithPolicy(c.srv.deps.Policy()),
		session.WithPairs(c.srv.deps.Pairs),
	}
	opts = append(opts, c.srv.deps.SessionOptions...)
	sess, err := session.New(c.srv.logger, session.Identity{Subject: subjectFor(b.LicenseKey), Login: b.Login}, opts...)
	if err != nil {
		c.srv.logger.Printf("ws session init failed conn_id=%s err=%v", c.id, err)
		_ = c.send(protocol.Error{Error: "session unavailable"})
		c.closeWith(websocket.CloseInternalServerErr, "session unavailable")
		return
	}
	c.sess = sess

	displaced, err := c.srv.deps.Registry.Register(session.Entry{
		ConnID:      c.id,
		Session:     sess,
		ConnectedAt: time.Now().UTC(),
		Close:       c.shutdown,
	})
	if err != nil {
		c.srv.logger.Printf("ws register failed conn_id=%s err=%v", c.id, err)
		return
	}
	for _, old := range displaced {
		c.srv.logger.Printf("ws connection displaced conn_id=%s session_id=%s by=%s", old.ConnID, old.Session.ID(), c.id)
		if old.Close != nil {
			old.Close()
		}
	}

	c.srv.logger.Printf("ws session opened conn_id=%s session_id=%s subject=%s login=%s remote=%s", c.id, sess.ID(), sess.Identity().Subject, b.Login, c.remote)
	if err := c.send(protocol.Connected{Login: b.Login, EventCount: sess.EventCount()}); err != nil {
		return
	}
	c.emit(events.SessionConnected, map[string]any{"conn_id": c.id, "remote": c.remote, "displaced": len(displaced)})

	c.readLoop(limits.IdleTimeout)
}

func (c *clientConn) authenticate(ctx context.Context, timeout time.Duration) (binding.Binding, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	_, raw, err := c.conn.ReadMessage()
	if err != nil {
		return binding.Binding{}, fmt.Errorf("%w: %v", errAuthRequired, err)
	}
	ev, err := protocol.DecodeEvent(raw)
	if err != nil {
		return binding.Binding{}, fmt.Errorf("%w: %v", errAuthRequired, err)
	}
	auth, ok := ev.(protocol.Auth)
	if !ok {
		return binding.Binding{}, fmt.Errorf("%w: got %s", errAuthRequired, ev.EventName())
	}
	return c.srv.deps.Authenticator.Authenticate(ctx, auth.Token)
}

func (c *clientConn) reject(err error) {
	c.srv.logger.Printf("ws auth rejected conn_id=%s remote=%s err=%v", c.id, c.remote, err)

	message := "authentication failed"
	if errors.Is(err, errAuthRequired) {
		message = "authentication required"
	}
	_ = c.send(protocol.Error{Error: message})
	c.closeWith(websocket.ClosePolicyViolation, message)

	reason := "invalid_token"
	if errors.Is(err, errAuthRequired) {
		reason = "missing_auth"
	} else if !errors.Is(err, binding.ErrInvalidToken) {
		reason = "store_error"
	}
	c.emit(events.AuthRejected, map[string]any{"conn_id": c.id, "remote": c.remote, "reason": reason})
}

func (c *clientConn) readLoop(idle time.Duration) {
	for {
		_ = c.conn.SetReadDeadline(time.Now().Add(idle))
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.srv.logger.Printf("ws read ended conn_id=%s session_id=%s err=%v", c.id, c.sess.ID(), err)
			}
			return
		}
		if !c.limiter.Allow() {
			c.srv.logger.Printf("ws frame dropped conn_id=%s session_id=%s reason=rate_limited", c.id, c.sess.ID())
			continue
		}

		ev, err := protocol.DecodeEvent(raw)
		if err != nil {
			c.srv.logger.Printf("ws frame ignored conn_id=%s session_id=%s err=%v", c.id, c.sess.ID(), err)
			continue
		}
		if err := c.handle(ev); err != nil {
			c.srv.logger.Printf("ws write failed conn_id=%s session_id=%s err=%v", c.id, c.sess.ID(), err)
			return
		}
	}
}

func (c *clientConn) handle(ev protocol.Event) error {
	srv, sess := c.srv, c.sess

	switch e := ev.(type) {
	case protocol.Progress:
		b := srv.deps.Composer.Progress(sess, e.ResourceID)
		if err := c.send(b); err != nil {
			return err
		}
		c.emitBatch(b, "progress")
	case protocol.Timeout:
		b, ok := srv.deps.Composer.Timeout(sess, e.ResourceID)
		if !ok {
			return nil
		}
		if err := c.send(b); err != nil {
			return err
		}
		c.emitBatch(b, "timeout")
	case protocol.SyncConfig:
		policy := sess.ApplyConfig(e.Values)
		if err := c.send(protocol.ConfigSynced{Config: policy.Map()}); err != nil {
			return err
		}
		c.emit(events.ConfigSynced, map[string]any{"config": policy.Map()})
	case protocol.Pause, protocol.Stop:
		reason := e.EventName()
		sess.Reset(reason)
		if err := c.send(protocol.SessionReset{Reason: reason}); err != nil {
			return err
		}
		c.emit(events.SessionReset, map[string]any{"reason": reason})
	case protocol.BatchCompleted:
		var known bool
		sess.Do(func(st *session.State) {
			known = st.Completed(e.BatchID, e.Operations)
		})
		c.emit(events.BatchCompleted, map[string]any{"batch_id": e.BatchID, "operations": e.Operations, "tracked": known})
	case protocol.BatchFailed:
		if !e.Operation.Valid() {
			srv.logger.Printf("ws batch failure ignored session_id=%s batch_id=%s operation=%q", sess.ID(), e.BatchID, e.Operation)
			return nil
		}
		var out session.FailureOutcome
		sess.Do(func(st *session.State) {
			out = st.Failed(e.BatchID, e.Operation)
		})
		srv.logger.Printf("batch failed session_id=%s batch_id=%s operation=%s reason=%q failures=%d rewound=%t", sess.ID(), e.BatchID, e.Operation, e.Reason, out.Failures, out.Rewound)
		payload := map[string]any{
			"batch_id":  e.BatchID,
			"operation": e.Operation,
			"reason":    e.Reason,
			"failures":  out.Failures,
			"rewound":   out.Rewound,
			"tracked":   out.Known,
		}
		c.emit(events.BatchFailed, payload)
		if out.Escalated {
			c.emit(events.BatchEscalated, payload)
		}
	case protocol.Ping:
		return c.send(protocol.Pong{})
	case protocol.Auth:
		srv.logger.Printf("ws repeated auth ignored session_id=%s", sess.ID())
	case protocol.Unknown:
		srv.logger.Printf("ws unknown event ignored session_id=%s event=%q", sess.ID(), e.Name)
	}
	return nil
}

func (c *clientConn) send(msg protocol.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(msg)
}

func (c *clientConn) closeWith(code int, text string) {
	c.closeOnce.Do(func() {
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
		_ = c.conn.Close()
	})
}

// shutdown is the registry close hook used by displacement and server
// shutdown.
func (c *clientConn) shutdown() {
	c.closeWith(websocket.CloseGoingAway, "session closed")
}

func (c *clientConn) cleanup() {
	c.cleanupOnce.Do(func() {
		c.closeWith(websocket.CloseNormalClosure, "")
		if c.sess == nil {
			return
		}
		c.srv.deps.Registry.Unregister(c.id)
		count := c.sess.EventCount()
		c.srv.logger.Printf("ws session closed conn_id=%s session_id=%s event_count=%d", c.id, c.sess.ID(), count)
		c.emit(events.SessionClosed, map[string]any{"conn_id": c.id, "event_count": count})
	})
}

func (c *clientConn) emitBatch(b protocol.ExecuteBatch, trigger string) {
	c.emit(events.BatchEmitted, map[string]any{
		"batch_id":   b.BatchID,
		"trigger":    trigger,
		"operations": protocol.Types(b.Operations),
	})
}

func (c *clientConn) emit(t events.Type, payload map[string]any) {
	ev := events.New(t, payload)
	if c.sess != nil {
		id := c.sess.Identity()
		ev.SessionID = c.sess.ID()
		ev.Subject = id.Subject
		ev.Login = id.Login
	}
	c.srv.deps.Dispatcher.Dispatch(context.Background(), ev)
}

func (c *clientConn) sessionID() string {
	if c.sess == nil {
		return ""
	}
	return c.sess.ID()
}

// subjectFor derives a stable, non-reversible subject from a license key so
// sessions can be correlated without logging the key.
func subjectFor(licenseKey string) string {
	sum := sha256.Sum256([]byte(licenseKey))
	return "lic_" + hex.EncodeToString(sum[:6])
}
