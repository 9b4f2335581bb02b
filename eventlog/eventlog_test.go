package eventlog

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"distbank/fabric"
	"distbank/message"
	"distbank/runner/recorder"
)

func TestConsumeSplitsRecords(t *testing.T) {
	var events, pipes, echo strings.Builder
	w := NewWriter(&events, &pipes, &echo)

	ack, err := message.New(message.Ack, 3, nil)
	require.NoError(t, err)

	records := make(chan recorder.Record, 4)
	records <- recorder.Event{Process: 1, Kind: recorder.TransferOut, Time: 2, Amount: 30, Peer: 2}
	records <- recorder.Message{From: 2, To: 0, Sent: true, Msg: ack}
	records <- recorder.Channel{ChannelEvent: fabric.ChannelEvent{Kind: fabric.ChannelReleased, Channel: fabric.Channel{Src: 0, Dst: 1}, Process: 1, End: "read"}}
	records <- recorder.Event{Process: 0, Kind: recorder.AllDone, Time: 9}
	close(records)

	require.NoError(t, w.Consume(records))
	assert.Equal(t, "2: process 1 transferred $30 to process 2\n9: process 0 received all DONE messages\n", events.String())
	assert.Equal(t, events.String(), echo.String())
	assert.Equal(t, "Closing rd 0->1 by process 1\n", pipes.String())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestConsumeCollectsErrors(t *testing.T) {
	w := NewWriter(failingWriter{}, nil, nil)
	records := make(chan recorder.Record, 2)
	records <- recorder.Event{Process: 1, Kind: recorder.Done}
	records <- recorder.Event{Process: 2, Kind: recorder.Done}
	close(records)

	err := w.Consume(records)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}
