package protocol_test

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/Tyrowin/gorelay/internal/protocol"
)

func frameOf(payload []byte) []byte {
	frame := make([]byte, protocol.HeaderSize+len(payload))
	binary.LittleEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[protocol.HeaderSize:], payload)
	return frame
}

// TestRoundTrip checks that every datagram variant survives encode then decode.
func TestRoundTrip(t *testing.T) {
	large := bytes.Repeat([]byte{0xde, 0xad, 0xbe, 0xef}, 256*1024)

	cases := []struct {
		name string
		d    protocol.Datagram
	}{
		{"login", protocol.Login{Username: "alice", Password: "pw1"}},
		{"empty login", protocol.Login{}},
		{"login ok", protocol.LoginOK},
		{"login failed", protocol.LoginFailed},
		{"text", protocol.NewText("alice", "hi")},
		{"empty text", protocol.NewText("alice", "")},
		{"unicode text", protocol.NewText("žluťoučký", "příliš kůň 🐎")},
		{"empty image", protocol.NewMessage("bob", protocol.Image{})},
		{"large image", protocol.NewMessage("bob", protocol.Image(large))},
		{"empty file", protocol.NewMessage("bob", protocol.File{Name: "", Data: []byte{}})},
		{"large file", protocol.NewMessage("bob", protocol.File{Name: "dump.bin", Data: large})},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, protocol.WriteDatagram(&buf, tc.d))

			got, err := protocol.ReadDatagram(&buf)
			require.NoError(t, err)
			assert.Equal(t, tc.d, got)
			assert.Zero(t, buf.Len(), "frame not fully consumed")
		})
	}
}

func TestEmptyBinaryContentDecodesNonNil(t *testing.T) {
	for _, content := range []protocol.Content{protocol.Image(nil), protocol.File{Name: "empty.txt"}} {
		frame, err := protocol.EncodeFrame(protocol.NewMessage("bob", content))
		require.NoError(t, err)

		got, err := protocol.ReadDatagram(bytes.NewReader(frame))
		require.NoError(t, err)
		msg, ok := got.(protocol.Message)
		require.True(t, ok)

		switch c := msg.Content.(type) {
		case protocol.Image:
			assert.NotNil(t, []byte(c))
			assert.Empty(t, c)
		case protocol.File:
			assert.Equal(t, "empty.txt", c.Name)
			assert.NotNil(t, c.Data)
			assert.Empty(t, c.Data)
		default:
			t.Fatalf("unexpected content %T", c)
		}
	}
}

func TestFrameHeaderIsLittleEndianLength(t *testing.T) {
	frame, err := protocol.EncodeFrame(protocol.LoginFailed)
	require.NoError(t, err)

	payload, err := protocol.Marshal(protocol.LoginFailed)
	require.NoError(t, err)

	require.Len(t, frame, protocol.HeaderSize+len(payload))
	assert.Equal(t, uint32(len(payload)), binary.LittleEndian.Uint32(frame[:protocol.HeaderSize]))
	assert.Equal(t, payload, frame[protocol.HeaderSize:])
}

// TestTruncatedPayloadIsIOError sends a length of 12 but closes after 5 bytes.
func TestTruncatedPayloadIsIOError(t *testing.T) {
	stream := frameOf(bytes.Repeat([]byte{0x01}, 12))[:protocol.HeaderSize+5]

	_, err := protocol.ReadDatagram(bytes.NewReader(stream))
	require.Error(t, err)
	assert.ErrorIs(t, err, protocol.ErrIO)
	assert.NotErrorIs(t, err, protocol.ErrMalformed)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestTruncatedHeaderIsIOError(t *testing.T) {
	_, err := protocol.ReadDatagram(bytes.NewReader([]byte{0x0c, 0x00}))
	assert.ErrorIs(t, err, protocol.ErrIO)

	_, err = protocol.ReadDatagram(bytes.NewReader(nil))
	assert.ErrorIs(t, err, protocol.ErrIO)
	assert.ErrorIs(t, err, io.EOF)
}

// TestGarbagePayloadKeepsStreamInSync sends 12 bytes of garbage followed by a
// valid datagram; the garbage is malformed and the next read still succeeds.
func TestGarbagePayloadKeepsStreamInSync(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(frameOf(bytes.Repeat([]byte{0xff}, 12)))
	require.NoError(t, protocol.WriteDatagram(&stream, protocol.NewText("alice", "still here")))

	r := protocol.NewReader(&stream, 0)

	_, err := r.ReadDatagram()
	require.Error(t, err)
	assert.ErrorIs(t, err, protocol.ErrMalformed)
	assert.NotErrorIs(t, err, protocol.ErrIO)

	d, err := r.ReadDatagram()
	require.NoError(t, err)
	assert.Equal(t, protocol.NewText("alice", "still here"), d)
}

func TestOversizedFrameIsSkipped(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(frameOf(bytes.Repeat([]byte{0x00}, 64)))
	require.NoError(t, protocol.WriteDatagram(&stream, protocol.LoginOK))

	r := protocol.NewReader(&stream, 32)

	_, err := r.ReadDatagram()
	assert.ErrorIs(t, err, protocol.ErrMalformed)

	d, err := r.ReadDatagram()
	require.NoError(t, err)
	assert.Equal(t, protocol.LoginOK, d)
}

func TestUnmarshalRejectsInvalidPayloads(t *testing.T) {
	text := func(s []byte) []byte {
		content := protowire.AppendTag(nil, 1, protowire.BytesType)
		content = protowire.AppendBytes(content, s)
		inner := protowire.AppendTag(nil, 1, protowire.BytesType)
		inner = protowire.AppendString(inner, "alice")
		inner = protowire.AppendTag(inner, 2, protowire.BytesType)
		inner = protowire.AppendBytes(inner, content)
		b := protowire.AppendTag(nil, 3, protowire.BytesType)
		return protowire.AppendBytes(b, inner)
	}
	valid := text([]byte("hello"))

	unknownTag := protowire.AppendTag(nil, 9, protowire.BytesType)
	unknownTag = protowire.AppendBytes(unknownTag, nil)

	badResponse := protowire.AppendTag(nil, 2, protowire.VarintType)
	badResponse = protowire.AppendVarint(badResponse, 7)

	twoVariants := append(append([]byte{}, valid...), valid...)

	noContent := protowire.AppendTag(nil, 1, protowire.BytesType)
	noContent = protowire.AppendString(noContent, "alice")
	noContentMsg := protowire.AppendTag(nil, 3, protowire.BytesType)
	noContentMsg = protowire.AppendBytes(noContentMsg, noContent)

	cases := map[string][]byte{
		"empty":           {},
		"unknown tag":     unknownTag,
		"bad response":    badResponse,
		"truncated field": valid[:len(valid)-2],
		"invalid utf8":    text([]byte{0xc3, 0x28}),
		"two variants":    twoVariants,
		"missing content": noContentMsg,
		"wrong wire type": protowire.AppendVarint(protowire.AppendTag(nil, 1, protowire.VarintType), 1),
	}

	_, err := protocol.Unmarshal(valid)
	require.NoError(t, err)

	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := protocol.Unmarshal(payload)
			assert.ErrorIs(t, err, protocol.ErrMalformed)
		})
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

type shortWriter struct{}

func (shortWriter) Write(p []byte) (int, error) { return len(p) / 2, nil }

func TestWriteDatagramFailuresAreIOErrors(t *testing.T) {
	err := protocol.WriteDatagram(failingWriter{}, protocol.LoginOK)
	assert.ErrorIs(t, err, protocol.ErrIO)
	assert.ErrorIs(t, err, io.ErrClosedPipe)

	err = protocol.WriteDatagram(shortWriter{}, protocol.NewText("a", "some text"))
	assert.ErrorIs(t, err, protocol.ErrIO)
	assert.ErrorIs(t, err, io.ErrShortWrite)
}

func TestMarshalRejectsUnknownVariants(t *testing.T) {
	_, err := protocol.Marshal(protocol.ServerResponse(42))
	assert.ErrorIs(t, err, protocol.ErrMalformed)

	_, err = protocol.Marshal(nil)
	assert.ErrorIs(t, err, protocol.ErrMalformed)

	_, err = protocol.Marshal(protocol.Message{ChatMessage: protocol.ChatMessage{Sender: "a"}})
	assert.ErrorIs(t, err, protocol.ErrMalformed)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, "text", protocol.KindOf(protocol.Text("x")))
	assert.Equal(t, "image", protocol.KindOf(protocol.Image(nil)))
	assert.Equal(t, "file", protocol.KindOf(protocol.File{}))
	assert.Equal(t, "unknown", protocol.KindOf(nil))
}
