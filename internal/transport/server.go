package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/replica/internal/collection"
	"github.com/roach88/replica/internal/fifo"
	"github.com/roach88/replica/internal/queryir"
	"github.com/roach88/replica/internal/record"
)

const (
	// DefaultWriteTimeout bounds each frame write.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultPongWait is how long a connection may stay silent before it
	// is dropped. Pings go out at nine tenths of it.
	DefaultPongWait = 60 * time.Second
)

// Server exposes a collection to websocket clients.
//
// Each connection receives every lifecycle event of the collection and may
// issue calls. Calls on one connection are handled one at a time in arrival
// order.
type Server struct {
	coll         collection.Collection
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	pongWait     time.Duration
	logger       *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the logger. Default: slog.Default().
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = l
	}
}

// WithWriteTimeout bounds each frame write.
func WithWriteTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		s.writeTimeout = d
	}
}

// WithPongWait sets how long a connection may go without any frame or
// pong before it is dropped.
func WithPongWait(d time.Duration) ServerOption {
	return func(s *Server) {
		s.pongWait = d
	}
}

// NewServer creates a server for coll.
func NewServer(coll collection.Collection, opts ...ServerOption) *Server {
	s := &Server{
		coll:         coll,
		writeTimeout: DefaultWriteTimeout,
		pongWait:     DefaultPongWait,
		logger:       slog.Default(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServeHTTP upgrades the request and serves the connection until the
// client disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	s.serve(r.Context(), ws)
}

func (s *Server) serve(ctx context.Context, ws *websocket.Conn) {
	defer ws.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := fifo.New[Message]()
	defer out.Close()

	for _, ev := range record.Events {
		off := s.coll.On(ev, func(rec record.Record) {
			out.Enqueue(Message{Kind: KindEvent, Event: ev, Record: rec})
		})
		defer off()
	}

	ws.SetReadDeadline(time.Now().Add(s.pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.pongWait))
	})

	go s.writeLoop(ctx, cancel, ws, out)

	s.logger.Info("client connected", "remote", ws.RemoteAddr().String())
	defer s.logger.Info("client disconnected", "remote", ws.RemoteAddr().String())

	for {
		var msg Message
		if err := ws.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("read failed", "error", err)
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(s.pongWait))
		if msg.Kind != KindCall {
			s.logger.Warn("unexpected frame", "kind", msg.Kind)
			continue
		}
		out.Enqueue(s.handle(ctx, msg))
	}
}

// writeLoop sends queued frames in order and pings the client every nine
// tenths of the pong wait, until ctx ends or a write fails.
func (s *Server) writeLoop(ctx context.Context, cancel context.CancelFunc, ws *websocket.Conn, out *fifo.Queue[Message]) {
	defer cancel()

	ticker := time.NewTicker(s.pongWait * 9 / 10)
	defer ticker.Stop()

	for {
		msg, ok := out.TryDequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !s.ping(ws) {
					return
				}
			case _, open := <-out.Wait():
				if !open {
					return
				}
			}
			continue
		}

		// A busy stream still pings so a silent client is detected.
		select {
		case <-ticker.C:
			if !s.ping(ws) {
				return
			}
		default:
		}

		ws.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		if err := ws.WriteJSON(msg); err != nil {
			s.logger.Debug("write failed", "error", err)
			ws.Close()
			return
		}
	}
}

func (s *Server) ping(ws *websocket.Conn) bool {
	deadline := time.Now().Add(s.writeTimeout)
	if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
		s.logger.Debug("ping failed", "error", err)
		ws.Close()
		return false
	}
	return true
}

// handle runs one call and returns its result frame.
func (s *Server) handle(ctx context.Context, msg Message) Message {
	res := Message{Kind: KindResult, ID: msg.ID}

	var err error
	switch msg.Method {
	case collection.OpFind:
		var q queryir.Query
		if q, err = queryir.ParseRecord(msg.Query); err != nil {
			err = fmt.Errorf("%w: %v", collection.ErrInvalid, err)
			break
		}
		var page queryir.Page
		if page, err = s.coll.Find(ctx, q); err == nil {
			res.Page = &page
		}
	case collection.OpCreate:
		res.Record, err = s.coll.Create(ctx, msg.Data)
	case collection.OpGet, collection.OpUpdate, collection.OpPatch, collection.OpRemove:
		var id record.Value
		if id, err = decodeTarget(msg.Target); err != nil {
			break
		}
		res.Record, err = s.call(ctx, msg.Method, id, msg.Data)
	default:
		err = fmt.Errorf("%w: unknown method %q", collection.ErrInvalid, msg.Method)
	}

	if err != nil {
		s.logger.Debug("call failed", "method", msg.Method, "id", msg.ID, "error", err)
		res.Error = toWire(err)
		res.Record = nil
	}
	return res
}

func (s *Server) call(ctx context.Context, op collection.Operation, id record.Value, data record.Record) (record.Record, error) {
	switch op {
	case collection.OpGet:
		return s.coll.Get(ctx, id)
	case collection.OpUpdate:
		return s.coll.Update(ctx, id, data)
	case collection.OpPatch:
		return s.coll.Patch(ctx, id, data)
	default:
		return s.coll.Remove(ctx, id)
	}
}
