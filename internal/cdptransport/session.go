package cdptransport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/target"
	"github.com/mailru/easyjson"

	"github.com/verdexhq/agentbridge/internal/cdplog"
)

// Event is a demultiplexed CDP event delivered to a Session subscriber.
type Event struct {
	Method string
	Data   interface{}
}

// Connection owns the single websocket to the browser's debugger endpoint
// and multiplexes it across every attached target Session, the same way a
// real CDP client demuxes one physical connection into many logical ones.
type Connection struct {
	conn *Conn
	log  *cdplog.Logger

	nextID int64

	pendingMu sync.Mutex
	pending   map[int64]chan *cdproto.Message

	sessionsMu sync.RWMutex
	sessions   map[target.SessionID]*Session

	// browserSession has no target.SessionID (browser-level commands).
	browserSession *Session

	done chan struct{}
}

// Dial connects to a browser's webSocketDebuggerUrl and starts the read loop.
func Dial(ctx context.Context, wsURL string, log *cdplog.Logger) (*Connection, error) {
	c, err := DialContext(ctx, wsURL)
	if err != nil {
		return nil, fmt.Errorf("cdptransport: dial %q: %w", wsURL, err)
	}
	conn := &Connection{
		conn:     c,
		log:      log,
		pending:  make(map[int64]chan *cdproto.Message),
		sessions: make(map[target.SessionID]*Session),
		done:     make(chan struct{}),
	}
	conn.browserSession = newSession(conn, "")
	conn.sessions[""] = conn.browserSession
	go conn.readLoop()
	return conn, nil
}

// Browser returns the browser-level session (no target.SessionID attached).
func (c *Connection) Browser() *Session { return c.browserSession }

// Session returns (creating if necessary) the logical session for a
// CDP target.SessionID, used once Target.attachToTarget has produced one.
func (c *Connection) Session(id target.SessionID) *Session {
	c.sessionsMu.Lock()
	defer c.sessionsMu.Unlock()
	if s, ok := c.sessions[id]; ok {
		return s
	}
	s := newSession(c, id)
	c.sessions[id] = s
	return s
}

// Close shuts down the read loop and the underlying websocket.
func (c *Connection) Close() error {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	return c.conn.Close()
}

func (c *Connection) readLoop() {
	for {
		var msg cdproto.Message
		if err := c.conn.ReadMessage(&msg); err != nil {
			select {
			case <-c.done:
			default:
				c.log.Debugf("Connection:readLoop", "read error: %v", err)
			}
			c.broadcastClosed()
			return
		}

		if msg.ID != 0 {
			c.pendingMu.Lock()
			ch, ok := c.pending[msg.ID]
			if ok {
				delete(c.pending, msg.ID)
			}
			c.pendingMu.Unlock()
			if ok {
				ch <- &msg
			}
			continue
		}

		if msg.Method != "" {
			c.dispatchEvent(&msg)
		}
	}
}

func (c *Connection) broadcastClosed() {
	c.sessionsMu.RLock()
	defer c.sessionsMu.RUnlock()
	for _, s := range c.sessions {
		s.closeSubscribers()
	}
}

func (c *Connection) dispatchEvent(msg *cdproto.Message) {
	ev, err := cdproto.UnmarshalMessage(msg)
	if err != nil {
		c.log.Debugf("Connection:dispatchEvent", "unmarshal %q: %v", msg.Method, err)
		return
	}

	sid := msg.SessionID
	c.sessionsMu.RLock()
	s, ok := c.sessions[sid]
	c.sessionsMu.RUnlock()
	if !ok {
		return
	}
	s.deliver(string(msg.Method), ev)
}

func (c *Connection) send(ctx context.Context, sessionID target.SessionID, method cdproto.MethodType, params easyjson.Marshaler, expectReply bool) (*cdproto.Message, error) {
	id := atomic.AddInt64(&c.nextID, 1)

	var raw easyjson.RawMessage
	if params != nil {
		b, err := easyjson.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("cdptransport: marshal params for %s: %w", method, err)
		}
		raw = b
	}

	msg := &cdproto.Message{
		ID:        id,
		SessionID: sessionID,
		Method:    method,
		Params:    raw,
	}

	var ch chan *cdproto.Message
	if expectReply {
		ch = make(chan *cdproto.Message, 1)
		c.pendingMu.Lock()
		c.pending[id] = ch
		c.pendingMu.Unlock()
	}

	if err := c.conn.WriteMessage(msg); err != nil {
		if expectReply {
			c.pendingMu.Lock()
			delete(c.pending, id)
			c.pendingMu.Unlock()
		}
		return nil, fmt.Errorf("cdptransport: write %s: %w", method, err)
	}

	if !expectReply {
		return nil, nil
	}

	select {
	case reply := <-ch:
		if reply.Error != nil {
			return nil, fmt.Errorf("cdptransport: %s: %s", method, reply.Error.Message)
		}
		return reply, nil
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, ctx.Err()
	case <-c.done:
		return nil, fmt.Errorf("cdptransport: connection closed while waiting for %s", method)
	}
}

// Session is a target-scoped handle on a Connection. It implements
// cdp.Executor so chromedp/cdproto domain actions (page.Navigate().Do(...),
// dom.ResolveNode().Do(...), ...) can be dispatched against it unmodified,
// and additionally exposes a fire-and-forget send and the event
// subscription the bridge injector and router use.
type Session struct {
	conn *Connection
	id   target.SessionID

	subsMu sync.Mutex
	subs   []subscription
}

type subscription struct {
	ctx     context.Context
	methods map[string]bool
	ch      chan Event
}

func newSession(conn *Connection, id target.SessionID) *Session {
	return &Session{conn: conn, id: id}
}

// ID returns the underlying CDP target.SessionID ("" for the browser session).
func (s *Session) ID() target.SessionID { return s.id }

// Execute implements cdp.Executor.
func (s *Session) Execute(ctx context.Context, method string, params easyjson.Marshaler, res easyjson.Unmarshaler) error {
	reply, err := s.conn.send(ctx, s.id, cdproto.MethodType(method), params, true)
	if err != nil {
		return err
	}
	if res == nil || reply == nil {
		return nil
	}
	return easyjson.Unmarshal(reply.Result, res)
}

// ExecuteWithoutExpectationOnReply fires a command without waiting for (or
// caring about) its reply. No component in this module calls it; the bridge
// injector awaits the reply of every command it sends.
func (s *Session) ExecuteWithoutExpectationOnReply(ctx context.Context, method string, params easyjson.Marshaler, _ easyjson.Unmarshaler) {
	_, _ = s.conn.send(ctx, s.id, cdproto.MethodType(method), params, false)
}

// On subscribes ch to receive any of the named CDP events for this session
// until ctx is done. Multiple subscribers may coexist; each receives every
// matching event.
func (s *Session) On(ctx context.Context, methods []string, ch chan Event) {
	set := make(map[string]bool, len(methods))
	for _, m := range methods {
		set[m] = true
	}
	sub := subscription{ctx: ctx, methods: set, ch: ch}

	s.subsMu.Lock()
	s.subs = append(s.subs, sub)
	s.subsMu.Unlock()

	go func() {
		<-ctx.Done()
		s.removeSubscription(ch)
	}()
}

func (s *Session) removeSubscription(ch chan Event) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for i, sub := range s.subs {
		if sub.ch == ch {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return
		}
	}
}

func (s *Session) deliver(method string, data interface{}) {
	s.subsMu.Lock()
	subs := make([]subscription, len(s.subs))
	copy(subs, s.subs)
	s.subsMu.Unlock()

	for _, sub := range subs {
		if !sub.methods[method] {
			continue
		}
		select {
		case sub.ch <- Event{Method: method, Data: data}:
		case <-sub.ctx.Done():
		}
	}
}

func (s *Session) closeSubscribers() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	s.subs = nil
}
