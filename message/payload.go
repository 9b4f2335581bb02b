package message

import (
	"encoding/binary"
	"fmt"
	"math"

	"distbank/account"
)

// TransferOrderSize is the size of an encoded TransferOrder
const TransferOrderSize = 4

// An order to move Amount from worker Src to worker Dst.
//
// Encoded little endian as {int8 src, int8 dst, int16 amount}.
type TransferOrder struct {
	Src    int
	Dst    int
	Amount account.Balance
}

func (to TransferOrder) String() string {
	return fmt.Sprintf("{%v -> %v: $%v}", to.Src, to.Dst, to.Amount)
}

// EncodeTransfer encodes the order as a TRANSFER payload
func EncodeTransfer(order TransferOrder) ([]byte, error) {
	if !fitsID(order.Src) || !fitsID(order.Dst) {
		return nil, fmt.Errorf("%w: process id out of range in %v", ErrMalformed, order)
	}
	if !fitsBalance(order.Amount) {
		return nil, fmt.Errorf("%w: amount out of range in %v", ErrMalformed, order)
	}
	b := make([]byte, TransferOrderSize)
	b[0] = byte(int8(order.Src))
	b[1] = byte(int8(order.Dst))
	binary.LittleEndian.PutUint16(b[2:4], uint16(int16(order.Amount)))
	return b, nil
}

// DecodeTransfer decodes a TRANSFER payload
func DecodeTransfer(b []byte) (TransferOrder, error) {
	if len(b) != TransferOrderSize {
		return TransferOrder{}, fmt.Errorf("%w: transfer order of %v bytes", ErrMalformed, len(b))
	}
	return TransferOrder{
		Src:    int(int8(b[0])),
		Dst:    int(int8(b[1])),
		Amount: account.Balance(int16(binary.LittleEndian.Uint16(b[2:4]))),
	}, nil
}

// MaxStatesPerChunk is the number of states that fit in a single BALANCE_HISTORY payload
const MaxStatesPerChunk = account.StatesPerChunk

// A part of a balance history carried by a single BALANCE_HISTORY message.
//
// A history longer than MaxStatesPerChunk ticks is split over several messages.
// Encoded as {int8 owner, uint8 total, uint8 offset} followed by the states,
// each state as {int16 balance, int8 time, int16 pending}.
type HistoryChunk struct {
	Owner  int
	Total  int // Number of states in the complete history
	Offset int // Tick of the first state in the chunk
	States []account.State
}

// EncodeHistory splits the history into BALANCE_HISTORY payloads.
//
// Only the populated part of the history is encoded.
func EncodeHistory(h account.History) ([][]byte, error) {
	if !fitsID(h.Owner) {
		return nil, fmt.Errorf("%w: owner %v out of range", ErrMalformed, h.Owner)
	}
	if h.Len() == 0 || h.Len() > math.MaxUint8 {
		return nil, fmt.Errorf("%w: history of %v states", ErrMalformed, h.Len())
	}
	payloads := [][]byte{}
	buf := make([]byte, h.WireSize())
	for offset := 0; offset < h.Len(); offset += MaxStatesPerChunk {
		end := offset + MaxStatesPerChunk
		if end > h.Len() {
			end = h.Len()
		}
		states := h.States[offset:end]
		size := account.HistoryHeaderSize + len(states)*account.StateSize
		b := buf[:size:size]
		buf = buf[size:]
		b[0] = byte(int8(h.Owner))
		b[1] = uint8(h.Len())
		b[2] = uint8(offset)
		for i, s := range states {
			if !fitsBalance(s.Balance) || !fitsBalance(s.PendingIn) {
				return nil, fmt.Errorf("%w: balance %v at tick %v does not fit in a frame", ErrMalformed, s.Balance, s.Time)
			}
			if s.Time < 0 || s.Time > math.MaxInt8 {
				return nil, fmt.Errorf("%w: tick %v", ErrTimeOutOfRange, s.Time)
			}
			p := b[account.HistoryHeaderSize+i*account.StateSize:]
			binary.LittleEndian.PutUint16(p[0:2], uint16(int16(s.Balance)))
			p[2] = byte(int8(s.Time))
			binary.LittleEndian.PutUint16(p[3:5], uint16(int16(s.PendingIn)))
		}
		payloads = append(payloads, b)
	}
	return payloads, nil
}

// DecodeHistoryChunk decodes a BALANCE_HISTORY payload
func DecodeHistoryChunk(b []byte) (HistoryChunk, error) {
	if len(b) < account.HistoryHeaderSize || (len(b)-account.HistoryHeaderSize)%account.StateSize != 0 {
		return HistoryChunk{}, fmt.Errorf("%w: history payload of %v bytes", ErrMalformed, len(b))
	}
	chunk := HistoryChunk{
		Owner:  int(int8(b[0])),
		Total:  int(b[1]),
		Offset: int(b[2]),
	}
	n := (len(b) - account.HistoryHeaderSize) / account.StateSize
	if chunk.Offset+n > chunk.Total {
		return HistoryChunk{}, fmt.Errorf("%w: chunk [%v, %v) exceeds history of %v states", ErrMalformed, chunk.Offset, chunk.Offset+n, chunk.Total)
	}
	chunk.States = make([]account.State, n)
	for i := range chunk.States {
		p := b[account.HistoryHeaderSize+i*account.StateSize:]
		chunk.States[i] = account.State{
			Balance:   account.Balance(int16(binary.LittleEndian.Uint16(p[0:2]))),
			Time:      int(int8(p[2])),
			PendingIn: account.Balance(int16(binary.LittleEndian.Uint16(p[3:5]))),
		}
	}
	return chunk, nil
}

func fitsID(id int) bool {
	return id >= math.MinInt8 && id <= math.MaxInt8
}

func fitsBalance(b account.Balance) bool {
	return b >= math.MinInt16 && b <= math.MaxInt16
}

// FitsBalance returns true if b can be carried by a frame
func FitsBalance(b account.Balance) bool {
	return fitsBalance(b)
}
