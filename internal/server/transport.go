package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/gorelay/internal/protocol"
)

// Transport is one client connection as seen by the connection handler: a
// stream of datagrams in and of encoded frames out. ReadDatagram is called
// from one goroutine and WriteFrame from one goroutine at a time; Close may
// be called from anywhere.
type Transport interface {
	ReadDatagram() (protocol.Datagram, error)
	WriteFrame(frame []byte) error
	SetReadDeadline(t time.Time) error
	RemoteAddr() string
	Close() error
}

// pinger is implemented by transports that need keepalive traffic.
type pinger interface {
	Ping() error
}

type tcpTransport struct {
	conn         net.Conn
	reader       *protocol.Reader
	writeTimeout time.Duration
}

func newTCPTransport(conn net.Conn, cfg Config) *tcpTransport {
	return &tcpTransport{
		conn:         conn,
		reader:       protocol.NewReader(bufio.NewReader(conn), cfg.MaxDatagramSize),
		writeTimeout: cfg.WriteTimeout,
	}
}

func (t *tcpTransport) ReadDatagram() (protocol.Datagram, error) {
	return t.reader.ReadDatagram()
}

func (t *tcpTransport) WriteFrame(frame []byte) error {
	if t.writeTimeout > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
			return fmt.Errorf("%w: set write deadline: %w", protocol.ErrIO, err)
		}
	}
	return protocol.WriteFrame(t.conn, frame)
}

func (t *tcpTransport) SetReadDeadline(deadline time.Time) error {
	return t.conn.SetReadDeadline(deadline)
}

func (t *tcpTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}

func (t *tcpTransport) Close() error {
	return t.conn.Close()
}

// wsTransport carries the same frames over WebSocket, one frame per binary
// message.
type wsTransport struct {
	conn         *websocket.Conn
	addr         string
	maxSize      uint32
	writeTimeout time.Duration
}

func newWSTransport(conn *websocket.Conn, addr string, cfg Config) *wsTransport {
	t := &wsTransport{
		conn:         conn,
		addr:         addr,
		maxSize:      cfg.MaxDatagramSize,
		writeTimeout: cfg.WriteTimeout,
	}
	if cfg.IdleTimeout > 0 {
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(cfg.IdleTimeout))
		})
	}
	return t
}

func (t *wsTransport) ReadDatagram() (protocol.Datagram, error) {
	msgType, body, err := t.conn.NextReader()
	if err != nil {
		return nil, fmt.Errorf("%w: websocket read: %w", protocol.ErrIO, err)
	}
	if msgType != websocket.BinaryMessage {
		return nil, fmt.Errorf("%w: websocket message type %d", protocol.ErrMalformed, msgType)
	}

	// The message boundary keeps the stream aligned, so a frame that is
	// short, long or oversized inside its message is malformed rather than
	// broken. Oversized payloads are streamed to io.Discard, never buffered.
	d, err := protocol.NewReader(body, t.maxSize).ReadDatagram()
	trailing, drainErr := io.Copy(io.Discard, body)
	if drainErr != nil {
		return nil, fmt.Errorf("%w: websocket read: %w", protocol.ErrIO, drainErr)
	}
	if errors.Is(err, protocol.ErrIO) {
		return nil, fmt.Errorf("%w: %w", protocol.ErrMalformed, err)
	}
	if err != nil {
		return nil, err
	}
	if trailing > 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after frame", protocol.ErrMalformed, trailing)
	}
	return d, nil
}

func (t *wsTransport) WriteFrame(frame []byte) error {
	if err := t.setWriteDeadline(); err != nil {
		return err
	}
	if err := t.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("%w: websocket write: %w", protocol.ErrIO, err)
	}
	return nil
}

func (t *wsTransport) Ping() error {
	if err := t.setWriteDeadline(); err != nil {
		return err
	}
	if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		return fmt.Errorf("%w: websocket ping: %w", protocol.ErrIO, err)
	}
	return nil
}

func (t *wsTransport) setWriteDeadline() error {
	if t.writeTimeout <= 0 {
		return nil
	}
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
		return fmt.Errorf("%w: set write deadline: %w", protocol.ErrIO, err)
	}
	return nil
}

func (t *wsTransport) SetReadDeadline(deadline time.Time) error {
	return t.conn.SetReadDeadline(deadline)
}

func (t *wsTransport) RemoteAddr() string {
	return t.addr
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}
