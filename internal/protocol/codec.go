package protocol

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"
)

// Payload layout, in protobuf wire format. The top level holds exactly one
// field whose number selects the datagram variant.
const (
	tagLogin          protowire.Number = 1
	tagServerResponse protowire.Number = 2
	tagMessage        protowire.Number = 3
)

const (
	fieldLoginUsername protowire.Number = 1
	fieldLoginPassword protowire.Number = 2

	fieldMessageSender  protowire.Number = 1
	fieldMessageContent protowire.Number = 2

	tagText  protowire.Number = 1
	tagImage protowire.Number = 2
	tagFile  protowire.Number = 3

	fieldFileName protowire.Number = 1
	fieldFileData protowire.Number = 2
)

var (
	errEmptyPayload  = errors.New("empty payload")
	errMissingField  = errors.New("missing required field")
	errInvalidUTF8   = errors.New("string field is not valid UTF-8")
	errMultipleUnion = errors.New("more than one variant present")
)

// Marshal encodes a datagram payload without the length prefix.
func Marshal(d Datagram) ([]byte, error) {
	switch d := d.(type) {
	case Login:
		var inner []byte
		inner = appendString(inner, fieldLoginUsername, d.Username)
		inner = appendString(inner, fieldLoginPassword, d.Password)
		return appendBytes(nil, tagLogin, inner), nil
	case ServerResponse:
		if !d.valid() {
			return nil, fmt.Errorf("%w: unknown server response %d", ErrMalformed, uint8(d))
		}
		b := protowire.AppendTag(nil, tagServerResponse, protowire.VarintType)
		return protowire.AppendVarint(b, uint64(d)), nil
	case Message:
		inner, err := marshalChatMessage(d.ChatMessage)
		if err != nil {
			return nil, err
		}
		return appendBytes(nil, tagMessage, inner), nil
	default:
		return nil, fmt.Errorf("%w: unsupported datagram %T", ErrMalformed, d)
	}
}

func marshalChatMessage(m ChatMessage) ([]byte, error) {
	var content []byte
	switch c := m.Content.(type) {
	case Text:
		content = appendString(nil, tagText, string(c))
	case Image:
		content = appendBytes(nil, tagImage, c)
	case File:
		var file []byte
		file = appendString(file, fieldFileName, c.Name)
		file = appendBytes(file, fieldFileData, c.Data)
		content = appendBytes(nil, tagFile, file)
	default:
		return nil, fmt.Errorf("%w: unsupported content %T", ErrMalformed, c)
	}

	inner := appendString(nil, fieldMessageSender, m.Sender)
	return appendBytes(inner, fieldMessageContent, content), nil
}

// Unmarshal decodes a datagram payload. Every failure matches ErrMalformed.
func Unmarshal(payload []byte) (Datagram, error) {
	d, err := unmarshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return d, nil
}

func unmarshal(payload []byte) (Datagram, error) {
	if len(payload) == 0 {
		return nil, errEmptyPayload
	}
	fields, err := parseFields(payload)
	if err != nil {
		return nil, err
	}
	if len(fields) != 1 {
		return nil, errMultipleUnion
	}

	f := fields[0]
	switch f.num {
	case tagLogin:
		if err := f.expect(protowire.BytesType); err != nil {
			return nil, err
		}
		return unmarshalLogin(f.raw)
	case tagServerResponse:
		if err := f.expect(protowire.VarintType); err != nil {
			return nil, err
		}
		r := ServerResponse(f.varint)
		if f.varint > 0xff || !r.valid() {
			return nil, fmt.Errorf("unknown server response %d", f.varint)
		}
		return r, nil
	case tagMessage:
		if err := f.expect(protowire.BytesType); err != nil {
			return nil, err
		}
		m, err := unmarshalChatMessage(f.raw)
		if err != nil {
			return nil, err
		}
		return Message{m}, nil
	default:
		return nil, fmt.Errorf("unknown datagram tag %d", f.num)
	}
}

func unmarshalLogin(b []byte) (Login, error) {
	var login Login
	fields, err := parseFields(b)
	if err != nil {
		return login, err
	}
	for _, f := range fields {
		switch f.num {
		case fieldLoginUsername:
			login.Username, err = f.str()
		case fieldLoginPassword:
			login.Password, err = f.str()
		default:
			err = fmt.Errorf("unknown login field %d", f.num)
		}
		if err != nil {
			return login, err
		}
	}
	return login, nil
}

func unmarshalChatMessage(b []byte) (ChatMessage, error) {
	var m ChatMessage
	fields, err := parseFields(b)
	if err != nil {
		return m, err
	}
	for _, f := range fields {
		switch f.num {
		case fieldMessageSender:
			m.Sender, err = f.str()
		case fieldMessageContent:
			if err = f.expect(protowire.BytesType); err == nil {
				m.Content, err = unmarshalContent(f.raw)
			}
		default:
			err = fmt.Errorf("unknown message field %d", f.num)
		}
		if err != nil {
			return m, err
		}
	}
	if m.Content == nil {
		return m, fmt.Errorf("%w: content", errMissingField)
	}
	return m, nil
}

func unmarshalContent(b []byte) (Content, error) {
	fields, err := parseFields(b)
	if err != nil {
		return nil, err
	}
	if len(fields) != 1 {
		return nil, fmt.Errorf("content: %w", errMultipleUnion)
	}

	f := fields[0]
	if err := f.expect(protowire.BytesType); err != nil {
		return nil, err
	}
	switch f.num {
	case tagText:
		s, err := f.str()
		return Text(s), err
	case tagImage:
		return Image(clone(f.raw)), nil
	case tagFile:
		return unmarshalFile(f.raw)
	default:
		return nil, fmt.Errorf("unknown content tag %d", f.num)
	}
}

func unmarshalFile(b []byte) (File, error) {
	var file File
	fields, err := parseFields(b)
	if err != nil {
		return file, err
	}
	for _, f := range fields {
		switch f.num {
		case fieldFileName:
			file.Name, err = f.str()
		case fieldFileData:
			if err = f.expect(protowire.BytesType); err == nil {
				file.Data = clone(f.raw)
			}
		default:
			err = fmt.Errorf("unknown file field %d", f.num)
		}
		if err != nil {
			return file, err
		}
	}
	if file.Data == nil {
		file.Data = []byte{}
	}
	return file, nil
}

type field struct {
	num    protowire.Number
	typ    protowire.Type
	raw    []byte
	varint uint64
}

func (f field) expect(typ protowire.Type) error {
	if f.typ != typ {
		return fmt.Errorf("field %d has wire type %d, want %d", f.num, f.typ, typ)
	}
	return nil
}

func (f field) str() (string, error) {
	if err := f.expect(protowire.BytesType); err != nil {
		return "", err
	}
	if !utf8.Valid(f.raw) {
		return "", fmt.Errorf("field %d: %w", f.num, errInvalidUTF8)
	}
	return string(f.raw), nil
}

// parseFields splits b into its top level fields. Only varint and
// length-delimited fields are part of the protocol.
func parseFields(b []byte) ([]field, error) {
	var fields []field
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			f.raw = v
			b = b[n:]
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			f.varint = v
			b = b[n:]
		default:
			return nil, fmt.Errorf("field %d: unsupported wire type %d", num, typ)
		}
		for _, seen := range fields {
			if seen.num == num {
				return nil, fmt.Errorf("field %d repeated", num)
			}
		}
		fields = append(fields, f)
	}
	return fields, nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
