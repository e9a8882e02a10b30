package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/replica/internal/collection"
	"github.com/roach88/replica/internal/queryir"
	"github.com/roach88/replica/internal/record"
)

// ErrClosed is returned by calls on a closed or broken connection.
var ErrClosed = errors.New("transport: connection closed")

var _ collection.Collection = (*Client)(nil)

// Client is a collection.Collection backed by a remote Server.
//
// Events are delivered on the connection's read goroutine in the order the
// server sent them. Handlers must not wait on calls of the same client;
// results are read by the goroutine running the handler.
type Client struct {
	ws           *websocket.Conn
	hub          *collection.Hub
	writeTimeout time.Duration
	logger       *slog.Logger

	wmu sync.Mutex

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan Message
	err     error

	done chan struct{}
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientLogger sets the logger. Default: slog.Default().
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// WithClientWriteTimeout bounds each frame write.
func WithClientWriteTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.writeTimeout = d
	}
}

// Dial connects to a Server at url (ws:// or wss://).
func Dial(ctx context.Context, url string, opts ...ClientOption) (*Client, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Client{
		ws:           ws,
		hub:          collection.NewHub(),
		writeTimeout: DefaultWriteTimeout,
		logger:       slog.Default(),
		pending:      make(map[uint64]chan Message),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.readLoop()
	return c, nil
}

// Close closes the connection. Pending calls fail with ErrClosed.
func (c *Client) Close() error {
	c.wmu.Lock()
	c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	_ = c.ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.wmu.Unlock()

	err := c.ws.Close()
	<-c.done
	return err
}

// Done is closed once the connection has ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Find implements collection.Collection.
func (c *Client) Find(ctx context.Context, q queryir.Query) (queryir.Page, error) {
	res, err := c.roundTrip(ctx, Message{Method: collection.OpFind, Query: queryir.Encode(q)})
	if err != nil {
		return queryir.Page{}, err
	}
	if res.Page == nil {
		return queryir.Page{}, fmt.Errorf("transport: find result without page")
	}
	return *res.Page, nil
}

// Get implements collection.Collection.
func (c *Client) Get(ctx context.Context, id record.Value) (record.Record, error) {
	return c.recordCall(ctx, collection.OpGet, id, nil)
}

// Create implements collection.Collection.
func (c *Client) Create(ctx context.Context, data record.Record) (record.Record, error) {
	res, err := c.roundTrip(ctx, Message{Method: collection.OpCreate, Data: data})
	if err != nil {
		return nil, err
	}
	return res.Record, nil
}

// Update implements collection.Collection.
func (c *Client) Update(ctx context.Context, id record.Value, data record.Record) (record.Record, error) {
	return c.recordCall(ctx, collection.OpUpdate, id, data)
}

// Patch implements collection.Collection.
func (c *Client) Patch(ctx context.Context, id record.Value, data record.Record) (record.Record, error) {
	return c.recordCall(ctx, collection.OpPatch, id, data)
}

// Remove implements collection.Collection.
func (c *Client) Remove(ctx context.Context, id record.Value) (record.Record, error) {
	return c.recordCall(ctx, collection.OpRemove, id, nil)
}

// On implements collection.Collection.
func (c *Client) On(event record.Event, h collection.Handler) func() {
	return c.hub.On(event, h)
}

func (c *Client) recordCall(ctx context.Context, op collection.Operation, id record.Value, data record.Record) (record.Record, error) {
	target, err := encodeTarget(id)
	if err != nil {
		return nil, err
	}
	res, err := c.roundTrip(ctx, Message{Method: op, Target: target, Data: data})
	if err != nil {
		return nil, err
	}
	return res.Record, nil
}

// roundTrip sends a call and waits for its result.
func (c *Client) roundTrip(ctx context.Context, msg Message) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	reply := make(chan Message, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return Message{}, err
	}
	c.nextID++
	msg.ID = c.nextID
	msg.Kind = KindCall
	c.pending[msg.ID] = reply
	c.mu.Unlock()

	if err := c.write(msg); err != nil {
		c.forget(msg.ID)
		return Message{}, fmt.Errorf("%s: %w", msg.Method, err)
	}

	select {
	case res, ok := <-reply:
		if !ok {
			return Message{}, c.closedErr()
		}
		if res.Error != nil {
			return Message{}, fromWire(res.Error)
		}
		return res, nil
	case <-ctx.Done():
		c.forget(msg.ID)
		return Message{}, ctx.Err()
	}
}

func (c *Client) write(msg Message) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteJSON(msg)
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}

func (c *Client) closedErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	return ErrClosed
}

// readLoop dispatches frames until the connection fails, then fails every
// pending call.
func (c *Client) readLoop() {
	defer close(c.done)

	for {
		var msg Message
		if err := c.ws.ReadJSON(&msg); err != nil {
			c.shutdown(err)
			return
		}

		switch msg.Kind {
		case KindEvent:
			c.hub.Emit(msg.Event, msg.Record)
		case KindResult:
			c.mu.Lock()
			reply, ok := c.pending[msg.ID]
			delete(c.pending, msg.ID)
			c.mu.Unlock()
			if ok {
				reply <- msg
			}
		default:
			c.logger.Warn("unexpected frame", "kind", msg.Kind)
		}
	}
}

func (c *Client) shutdown(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if websocket.IsCloseError(cause, websocket.CloseNormalClosure) {
		c.err = ErrClosed
	} else {
		c.err = fmt.Errorf("%w: %v", ErrClosed, cause)
	}
	for id, reply := range c.pending {
		close(reply)
		delete(c.pending, id)
	}
}
