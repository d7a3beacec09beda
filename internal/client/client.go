package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/gorelay/internal/protocol"
)

// ErrLoginFailed is returned by Dial when the server rejects the
// credentials.
var ErrLoginFailed = errors.New("login failed")

// maxLineSize bounds one typed line.
const maxLineSize = 1 << 20

// Client is a logged-in connection to a relay server.
type Client struct {
	conn     net.Conn
	reader   *protocol.Reader
	username string
	out      io.Writer
	saveDir  string
	log      zerolog.Logger
	now      func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithOutput sets where chat lines and notices are printed. Defaults to
// os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(c *Client) { c.out = w }
}

// WithSaveDir sets the directory under which received images and files
// are stored. Defaults to the working directory.
func WithSaveDir(dir string) Option {
	return func(c *Client) { c.saveDir = dir }
}

// WithLogger sets the logger for client errors.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// Dial connects to addr and logs in. It returns ErrLoginFailed when the
// server answers LoginFailed.
func Dial(ctx context.Context, addr, username, password string, opts ...Option) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("could not connect to %s: %w", addr, err)
	}

	c := &Client{
		conn:     conn,
		reader:   protocol.NewReader(bufio.NewReader(conn), 0),
		username: username,
		out:      os.Stdout,
		log:      zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.out = &lockedWriter{w: c.out}

	if err := c.login(password); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) login(password string) error {
	if err := protocol.WriteDatagram(c.conn, protocol.Login{Username: c.username, Password: password}); err != nil {
		return fmt.Errorf("send login: %w", err)
	}
	d, err := c.reader.ReadDatagram()
	if err != nil {
		return fmt.Errorf("read login response: %w", err)
	}
	if r, ok := d.(protocol.ServerResponse); !ok || r != protocol.LoginOK {
		return ErrLoginFailed
	}
	return nil
}

// Username returns the name the client logged in as.
func (c *Client) Username() string {
	return c.username
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Run prints incoming messages while reading commands from in, until the
// user quits, in ends, or the connection breaks. The connection is closed
// when Run returns.
func (c *Client) Run(in io.Reader) error {
	defer func() { _ = c.Close() }()

	c.printf("Ok, connected to server.\n")
	c.printf("Your name is %s\n", c.username)

	incoming := make(chan error, 1)
	go func() { incoming <- c.incomingLoop() }()
	keyboard := make(chan error, 1)
	go func() { keyboard <- c.keyboardLoop(in) }()

	select {
	case err := <-incoming:
		return err
	case err := <-keyboard:
		return err
	}
}

// incomingLoop prints and saves incoming messages until the connection
// breaks.
func (c *Client) incomingLoop() error {
	for {
		d, err := c.reader.ReadDatagram()
		if errors.Is(err, protocol.ErrMalformed) {
			c.log.Warn().Err(err).Msg("Malformed message received")
			continue
		}
		if err != nil {
			return fmt.Errorf("connection with server broken: %w", err)
		}

		switch d := d.(type) {
		case protocol.Message:
			c.display(d.ChatMessage)
		case protocol.ServerResponse:
			// Only meaningful during login.
		default:
			c.log.Warn().Str("datagram", fmt.Sprintf("%T", d)).Msg("Unexpected datagram")
		}
	}
}

func (c *Client) display(msg protocol.ChatMessage) {
	switch content := msg.Content.(type) {
	case protocol.Text:
		c.printf("[%s] %s\n", msg.Sender, string(content))
	case protocol.Image:
		c.printf("[%s] sending an image\n", msg.Sender)
		c.saveIncoming(imagesDir, imageFilename(c.now()), content, "Image")
	case protocol.File:
		c.printf("[%s] sending a file\n", msg.Sender)
		c.saveIncoming(filesDir, content.Name, content.Data, "File")
	}
}

func (c *Client) saveIncoming(dir, name string, data []byte, what string) {
	path, err := saveReceived(filepath.Join(c.saveDir, dir), name, data)
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to save an incoming file")
		return
	}
	c.printf("%s saved to %s\n", what, path)
}

// keyboardLoop sends one message per input line. File errors are reported
// and the loop goes on; a failed send ends it.
func (c *Client) keyboardLoop(in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		quit, err := c.perform(ParseCommand(strings.TrimSpace(scanner.Text())))
		if errors.Is(err, ErrFileOperation) {
			c.log.Error().Err(err).Msg("Command failed")
			continue
		}
		if err != nil {
			return err
		}
		if quit {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	return nil
}

func (c *Client) perform(cmd Command) (bool, error) {
	switch cmd.Kind {
	case CommandQuit:
		c.printf("Ok, bye.\n")
		return true, nil
	case CommandFile:
		data, err := readFile(cmd.Arg)
		if err != nil {
			return false, err
		}
		name := Basename(cmd.Arg)
		if err := c.Send(protocol.File{Name: name, Data: data}); err != nil {
			return false, err
		}
		c.printf("File %s sent.\n", name)
	case CommandImage:
		data, err := readImage(cmd.Arg)
		if err != nil {
			return false, err
		}
		if err := c.Send(protocol.Image(data)); err != nil {
			return false, err
		}
		c.printf("Image sent.\n")
	default:
		if err := c.Send(protocol.Text(cmd.Arg)); err != nil {
			return false, err
		}
	}
	return false, nil
}

// Send sends content as a message from the logged-in user.
func (c *Client) Send(content protocol.Content) error {
	if err := protocol.WriteDatagram(c.conn, protocol.NewMessage(c.username, content)); err != nil {
		return fmt.Errorf("failed to send a message: %w", err)
	}
	return nil
}

func (c *Client) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(c.out, format, args...)
}

// lockedWriter serializes output from the incoming and keyboard loops.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
