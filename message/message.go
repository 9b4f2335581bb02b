package message

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

const (
	// Magic signature stamped on every frame
	Magic uint16 = 0xAFAF

	// HeaderSize is the size of an encoded Header
	HeaderSize = 7

	// MaxPayloadLen is the largest payload a frame can carry
	MaxPayloadLen = 255
)

// Header of a frame.
//
// Encoded little endian as {uint16 magic, uint16 payload length, int16 type, int8 local time}.
type Header struct {
	Magic      uint16
	PayloadLen uint16
	Type       Type
	LocalTime  int8
}

// A Message is a single frame sent over a channel
type Message struct {
	Header  Header
	Payload []byte
}

// New creates a message of type t stamped with the sender's local time at.
//
// Returns an error if the payload does not fit in a frame or the time can not be represented.
func New(t Type, at int, payload []byte) (Message, error) {
	if len(payload) > MaxPayloadLen {
		return Message{}, fmt.Errorf("%w: %v bytes", ErrPayloadTooLarge, len(payload))
	}
	if at < 0 || at > math.MaxInt8 {
		return Message{}, fmt.Errorf("%w: %v", ErrTimeOutOfRange, at)
	}
	return Message{
		Header: Header{
			Magic:      Magic,
			PayloadLen: uint16(len(payload)),
			Type:       t,
			LocalTime:  int8(at),
		},
		Payload: payload,
	}, nil
}

// Type returns the type of the message
func (m Message) Type() Type {
	return m.Header.Type
}

// Time returns the local time of the sender when the message was sent
func (m Message) Time() int {
	return int(m.Header.LocalTime)
}

func (m Message) String() string {
	return fmt.Sprintf("{Type: %v, Time: %v, Len: %v}", m.Header.Type, m.Header.LocalTime, m.Header.PayloadLen)
}

// Size returns the number of bytes of the encoded frame
func (m Message) Size() int {
	return HeaderSize + int(m.Header.PayloadLen)
}

// MarshalBinary encodes the frame. The header length is authoritative.
func (m Message) MarshalBinary() ([]byte, error) {
	if int(m.Header.PayloadLen) != len(m.Payload) {
		return nil, fmt.Errorf("%w: header declares %v bytes, payload has %v", ErrMalformed, m.Header.PayloadLen, len(m.Payload))
	}
	if m.Header.PayloadLen > MaxPayloadLen {
		return nil, fmt.Errorf("%w: %v bytes", ErrPayloadTooLarge, m.Header.PayloadLen)
	}
	buf := make([]byte, HeaderSize+len(m.Payload))
	putHeader(buf, m.Header)
	copy(buf[HeaderSize:], m.Payload)
	return buf, nil
}

// Decode a single complete frame
func Decode(b []byte) (Message, error) {
	if len(b) < HeaderSize {
		return Message{}, &FramingError{Err: fmt.Errorf("%w: %v bytes of header", ErrShortPayload, len(b))}
	}
	h := readHeader(b)
	if h.PayloadLen > MaxPayloadLen {
		return Message{}, &FramingError{Header: h, Err: ErrPayloadTooLarge}
	}
	if h.Magic != Magic {
		return Message{}, &FramingError{Header: h, Err: ErrBadMagic}
	}
	if len(b)-HeaderSize != int(h.PayloadLen) {
		return Message{}, &FramingError{Header: h, Err: ErrShortPayload}
	}
	if !h.Type.Valid() {
		return Message{}, &FramingError{Header: h, Err: ErrUnknownType}
	}
	payload := make([]byte, h.PayloadLen)
	copy(payload, b[HeaderSize:])
	return Message{Header: h, Payload: payload}, nil
}

// ReadFrom reads the next frame from a byte stream.
//
// If the magic does not match or the type is unknown the declared payload is still consumed,
// so the next call starts at the next frame.
// Errors from the reader are returned unwrapped, io.EOF is only returned if the stream ended between two frames.
func ReadFrom(r io.Reader) (Message, error) {
	var hb [HeaderSize]byte
	if _, err := io.ReadFull(r, hb[:]); err != nil {
		return Message{}, err
	}
	h := readHeader(hb[:])
	if h.PayloadLen > MaxPayloadLen {
		return Message{}, &FramingError{Header: h, Err: ErrPayloadTooLarge}
	}
	payload := make([]byte, h.PayloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Message{}, err
	}
	if h.Magic != Magic {
		return Message{}, &FramingError{Header: h, Err: ErrBadMagic}
	}
	if !h.Type.Valid() {
		return Message{}, &FramingError{Header: h, Err: ErrUnknownType}
	}
	return Message{Header: h, Payload: payload}, nil
}

func putHeader(b []byte, h Header) {
	binary.LittleEndian.PutUint16(b[0:2], h.Magic)
	binary.LittleEndian.PutUint16(b[2:4], h.PayloadLen)
	binary.LittleEndian.PutUint16(b[4:6], uint16(h.Type))
	b[6] = byte(h.LocalTime)
}

func readHeader(b []byte) Header {
	return Header{
		Magic:      binary.LittleEndian.Uint16(b[0:2]),
		PayloadLen: binary.LittleEndian.Uint16(b[2:4]),
		Type:       Type(int16(binary.LittleEndian.Uint16(b[4:6]))),
		LocalTime:  int8(b[6]),
	}
}
