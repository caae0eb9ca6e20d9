// Package cdptransport owns the wire-level connection to a browser's
// remote-debugging endpoint: a websocket carrying chromedp/cdproto.Message
// frames, and a Session type that multiplexes that one connection across
// the browser target and every page/OOPIF target attached to it.
package cdptransport

import (
	"bytes"
	"context"
	"io"

	"github.com/chromedp/cdproto"
	"github.com/gorilla/websocket"
	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"
)

// Default buffer sizes for the underlying websocket, large enough to carry
// a full-page accessibility snapshot or DOM description in one frame.
var (
	DefaultReadBufferSize  = 25 * 1024 * 1024
	DefaultWriteBufferSize = 10 * 1024 * 1024
)

// Conn wraps a gorilla/websocket.Conn and speaks cdproto.Message frames,
// reusing one read buffer across calls; the easyjson lexer and writer are
// reset to fresh values for every message.
type Conn struct {
	*websocket.Conn

	buf    bytes.Buffer
	lexer  jlexer.Lexer
	writer jwriter.Writer

	dbgf func(string, ...interface{})
}

// DialOption configures a Conn at dial time.
type DialOption func(*Conn)

// WithConnDebugf installs a raw-frame logger, useful for diagnosing a
// misbehaving browser without instrumenting every call site.
func WithConnDebugf(f func(string, ...interface{})) DialOption {
	return func(c *Conn) { c.dbgf = f }
}

// DialContext dials the browser's websocket debugger URL.
func DialContext(ctx context.Context, urlstr string, opts ...DialOption) (*Conn, error) {
	d := &websocket.Dialer{
		ReadBufferSize:  DefaultReadBufferSize,
		WriteBufferSize: DefaultWriteBufferSize,
	}
	wsConn, _, err := d.DialContext(ctx, urlstr, nil)
	if err != nil {
		return nil, err
	}
	c := &Conn{Conn: wsConn}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *Conn) bufReadAll(r io.Reader) ([]byte, error) {
	c.buf.Reset()
	_, err := c.buf.ReadFrom(r)
	return c.buf.Bytes(), err
}

// ReadMessage reads and decodes the next CDP message from the connection.
func (c *Conn) ReadMessage(msg *cdproto.Message) error {
	typ, r, err := c.NextReader()
	if err != nil {
		return err
	}
	if typ != websocket.TextMessage {
		return errInvalidWebsocketMessage
	}
	buf, err := c.bufReadAll(r)
	if err != nil {
		return err
	}
	if c.dbgf != nil {
		c.dbgf("<- %s", buf)
	}
	c.lexer = jlexer.Lexer{Data: buf}
	msg.UnmarshalEasyJSON(&c.lexer)
	if err := c.lexer.Error(); err != nil {
		return err
	}
	// msg.Result aliases the read buffer; copy it so it survives the next read.
	msg.Result = append([]byte{}, msg.Result...)
	return nil
}

// WriteMessage encodes and writes a CDP message.
func (c *Conn) WriteMessage(msg *cdproto.Message) error {
	w, err := c.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	defer w.Close()

	c.writer = jwriter.Writer{}
	msg.MarshalEasyJSON(&c.writer)
	if err := c.writer.Error; err != nil {
		return err
	}
	if c.dbgf != nil {
		buf, _ := c.writer.BuildBytes()
		c.dbgf("-> %s", buf)
		_, err = w.Write(buf)
		return err
	}
	_, err = c.writer.DumpTo(w)
	return err
}

var errInvalidWebsocketMessage = websocketMessageError("cdptransport: invalid websocket message type")

type websocketMessageError string

func (e websocketMessageError) Error() string { return string(e) }
