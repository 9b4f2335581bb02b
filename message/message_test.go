package message

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	for i, test := range roundTripTest {
		msg, err := New(test.typ, test.time, test.payload)
		require.NoError(t, err, "Test %v", i)

		b, err := msg.MarshalBinary()
		require.NoError(t, err, "Test %v", i)
		require.Len(t, b, HeaderSize+len(test.payload), "Test %v", i)

		out, err := Decode(b)
		require.NoError(t, err, "Test %v", i)
		assert.Equal(t, test.typ, out.Type(), "Test %v", i)
		assert.Equal(t, test.time, out.Time(), "Test %v", i)
		assert.Equal(t, uint16(len(test.payload)), out.Header.PayloadLen, "Test %v", i)
		assert.Equal(t, len(test.payload), len(out.Payload), "Test %v", i)
		assert.True(t, bytes.Equal(test.payload, out.Payload), "Test %v", i)

		out, err = ReadFrom(bytes.NewReader(b))
		require.NoError(t, err, "Test %v", i)
		assert.Equal(t, msg.Header, out.Header, "Test %v", i)
	}
}

var roundTripTest = []struct {
	typ     Type
	time    int
	payload []byte
}{
	{Started, 1, []byte("1: process 1 has STARTED")},
	{Stop, 0, nil},
	{Ack, 127, []byte{}},
	{Transfer, 12, []byte{1, 2, 30, 0}},
	{BalanceHistory, 40, bytes.Repeat([]byte{0xAB}, MaxPayloadLen)},
}

func TestNewRejects(t *testing.T) {
	_, err := New(Started, 1, make([]byte, MaxPayloadLen+1))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)

	_, err = New(Started, 128, nil)
	assert.ErrorIs(t, err, ErrTimeOutOfRange)

	_, err = New(Started, -1, nil)
	assert.ErrorIs(t, err, ErrTimeOutOfRange)
}

func TestMarshalRejectsLengthMismatch(t *testing.T) {
	msg, err := New(Done, 3, []byte("done"))
	require.NoError(t, err)
	msg.Header.PayloadLen = 2
	_, err = msg.MarshalBinary()
	assert.ErrorIs(t, err, ErrMalformed)
}

func encode(t *testing.T, typ Type, at int, payload []byte) []byte {
	msg, err := New(typ, at, payload)
	require.NoError(t, err)
	b, err := msg.MarshalBinary()
	require.NoError(t, err)
	return b
}

func TestBadMagicKeepsStreamAligned(t *testing.T) {
	corrupt := encode(t, Transfer, 4, []byte{1, 2, 3, 0})
	corrupt[0] ^= 0xFF

	stream := bytes.Buffer{}
	stream.Write(corrupt)
	stream.Write(encode(t, Ack, 5, nil))
	stream.Write(encode(t, Done, 6, []byte("done")))

	_, err := ReadFrom(&stream)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadMagic)
	assert.True(t, IsFramingError(err))

	var fe *FramingError
	require.True(t, errors.As(err, &fe))
	assert.True(t, fe.Recoverable())

	next, err := ReadFrom(&stream)
	require.NoError(t, err)
	assert.Equal(t, Ack, next.Type())
	assert.Equal(t, 5, next.Time())

	last, err := ReadFrom(&stream)
	require.NoError(t, err)
	assert.Equal(t, Done, last.Type())
	assert.Equal(t, "done", string(last.Payload))

	_, err = ReadFrom(&stream)
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecodeErrors(t *testing.T) {
	valid := encode(t, Done, 2, []byte("ok"))

	badMagic := append([]byte{}, valid...)
	badMagic[1] = 0
	_, err := Decode(badMagic)
	assert.ErrorIs(t, err, ErrBadMagic)

	tooLarge := append([]byte{}, valid...)
	tooLarge[2], tooLarge[3] = 0x00, 0x01
	_, err = Decode(tooLarge)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)

	_, err = Decode(valid[:HeaderSize+1])
	assert.ErrorIs(t, err, ErrShortPayload)

	_, err = Decode(valid[:3])
	assert.ErrorIs(t, err, ErrShortPayload)
}

func TestReadFromTooLargeIsNotRecoverable(t *testing.T) {
	b := encode(t, Done, 2, []byte("ok"))
	b[2], b[3] = 0xFF, 0xFF
	_, err := ReadFrom(bytes.NewReader(b))

	var fe *FramingError
	require.True(t, errors.As(err, &fe))
	assert.False(t, fe.Recoverable())
}

func TestReadFromTruncated(t *testing.T) {
	b := encode(t, Done, 2, []byte("done"))
	_, err := ReadFrom(bytes.NewReader(b[:HeaderSize+2]))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = ReadFrom(bytes.NewReader(b[:2]))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestTypeString(t *testing.T) {
	assert.Equal(t, "BALANCE_HISTORY", BalanceHistory.String())
	assert.Equal(t, "UNKNOWN(9)", Type(9).String())
	assert.True(t, Stop.Valid())
	assert.False(t, Type(-1).Valid())
	assert.False(t, Type(6).Valid())
}

func TestUnknownTypeKeepsStreamAligned(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(encode(t, Type(9), 4, []byte("junk")))
	stream.Write(encode(t, Stop, 5, nil))

	_, err := ReadFrom(&stream)
	assert.ErrorIs(t, err, ErrUnknownType)
	var fe *FramingError
	require.True(t, errors.As(err, &fe))
	assert.True(t, fe.Recoverable())

	next, err := ReadFrom(&stream)
	require.NoError(t, err)
	assert.Equal(t, Stop, next.Type())
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	for i, typ := range []Type{-1, BalanceHistory + 1, 0x7fff} {
		_, err := Decode(encode(t, typ, 1, nil))
		if !errors.Is(err, ErrUnknownType) {
			t.Errorf("Test %v: Expected ErrUnknownType. Got: %v", i, err)
		}
	}
}
