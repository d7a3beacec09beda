// Package protocol defines the datagrams exchanged between relay clients and
// the server, and the length-prefixed framing that carries them over a stream.
package protocol

import "fmt"

// Datagram is one complete protocol unit. The set of implementations is closed:
// Login, ServerResponse and Message are the only datagrams that exist.
type Datagram interface {
	isDatagram()
}

// Login is the first datagram a client sends after connecting.
type Login struct {
	Username string
	Password string
}

// ServerResponse is the server's answer to a Login.
type ServerResponse uint8

const (
	// LoginOK reports that the credentials were accepted.
	LoginOK ServerResponse = iota
	// LoginFailed reports that the credentials were rejected.
	LoginFailed
)

// Message carries a chat message between clients.
type Message struct {
	ChatMessage
}

func (Login) isDatagram()          {}
func (ServerResponse) isDatagram() {}
func (Message) isDatagram()        {}

func (r ServerResponse) valid() bool {
	return r == LoginOK || r == LoginFailed
}

func (r ServerResponse) String() string {
	switch r {
	case LoginOK:
		return "LoginOK"
	case LoginFailed:
		return "LoginFailed"
	default:
		return fmt.Sprintf("ServerResponse(%d)", uint8(r))
	}
}

// ChatMessage is a sender-attributed content payload.
type ChatMessage struct {
	Sender  string
	Content Content
}

// Content is the payload of a chat message: Text, Image or File.
type Content interface {
	isContent()
}

// Text is plain text content.
type Text string

// Image is image content, PNG encoded by the sending client. Decoding
// always yields a non-nil slice, empty for a zero-length image.
type Image []byte

// File is an arbitrary file together with its name. As with Image, a
// decoded File has non-nil Data even when the file is empty.
type File struct {
	Name string
	Data []byte
}

func (Text) isContent()  {}
func (Image) isContent() {}
func (File) isContent()  {}

// KindOf returns a short lowercase name for the content variant. It is used
// for log fields and metric labels.
func KindOf(c Content) string {
	switch c.(type) {
	case Text:
		return "text"
	case Image:
		return "image"
	case File:
		return "file"
	default:
		return "unknown"
	}
}

// NewText builds a Message datagram with text content.
func NewText(sender, text string) Message {
	return Message{ChatMessage{Sender: sender, Content: Text(text)}}
}

// NewMessage builds a Message datagram from a sender and content.
func NewMessage(sender string, content Content) Message {
	return Message{ChatMessage{Sender: sender, Content: content}}
}
