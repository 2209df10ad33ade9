package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/shiran1989/magshimim-cyber-homework/pkg/logger"
	"github.com/shiran1989/magshimim-cyber-homework/pkg/search"
)

const (
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
	readTimeout  = 2 * pingInterval
	maxMessage   = 4096
)

// Client messages on /ws/search.
const (
	msgQuery   = "query"
	msgPage    = "page"
	msgClear   = "clear"
	msgTrigger = "trigger"
)

type clientMessage struct {
	Type   string `json:"type"`
	Query  string `json:"query"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

type serverMessage struct {
	Type    string        `json:"type"`
	Session string        `json:"session"`
	State   *search.State `json:"state,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// outbox coalesces state snapshots: a queued state message is replaced by
// a newer one, so a slow client only ever sees the latest state.
type outbox struct {
	mu      sync.Mutex
	pending []serverMessage
	wake    chan struct{}
}

func newOutbox() *outbox {
	return &outbox{wake: make(chan struct{}, 1)}
}

func (o *outbox) push(m serverMessage) {
	o.mu.Lock()
	if m.Type == "state" {
		for i := range o.pending {
			if o.pending[i].Type == "state" {
				o.pending = append(o.pending[:i], o.pending[i+1:]...)
				break
			}
		}
	}
	o.pending = append(o.pending, m)
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *outbox) drain() []serverMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.pending
	o.pending = nil
	return out
}

// searchSocket runs one search session per connection. The session is
// closed, cancelling any pending search, when the socket goes away.
func (s *Server) searchSocket(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written the error response.
		logger.Warn("[Dashboard] Websocket upgrade failed", "err", err)
		return nil
	}
	defer conn.Close()

	id, err := gonanoid.New()
	if err != nil {
		return err
	}

	session := search.New(s.data, s.searchOpts...)
	defer session.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := newOutbox()
	sendState := func(st search.State) {
		out.push(serverMessage{Type: "state", Session: id, State: &st})
	}
	unsubscribe := session.OnChange(sendState)
	defer unsubscribe()
	sendState(session.State())

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ctx, conn, out)
	}()

	logger.Debug("[Dashboard] Search session opened", "session", id)
	s.readLoop(ctx, conn, session, out, id)
	logger.Debug("[Dashboard] Search session closed", "session", id)

	cancel()
	<-writerDone
	return nil
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, session *search.Session, out *outbox, id string) {
	conn.SetReadLimit(maxMessage)
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if isDecodeError(err) {
				out.push(serverMessage{Type: "error", Session: id, Error: "invalid message"})
				continue
			}
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("[Dashboard] Websocket read failed", "session", id, "err", err)
			}
			return
		}

		switch msg.Type {
		case msgQuery:
			session.UpdateQuery(msg.Query)
		case msgPage:
			if msg.Limit <= 0 || msg.Offset < 0 {
				out.push(serverMessage{Type: "error", Session: id, Error: "limit must be positive and offset not negative"})
				continue
			}
			session.UpdatePagination(msg.Limit, msg.Offset)
		case msgClear:
			session.ClearSearch()
		case msgTrigger:
			go session.TriggerSearch(ctx)
		default:
			out.push(serverMessage{Type: "error", Session: id, Error: "unknown message type " + msg.Type})
		}
	}
}

func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, out *outbox) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-out.wake:
			for _, m := range out.drain() {
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteJSON(m); err != nil {
					logger.Debug("[Dashboard] Websocket write failed", "err", err)
					return
				}
			}
		}
	}
}

func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}
