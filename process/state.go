// Package process implements the protocol run by the coordinator and the workers of the bank.
//
// Every process owns a State holding its Lamport clock and its endpoint of the channel fabric.
// All sends and receives go through the State so that the clock is advanced on every frame.
package process

import (
	"context"

	"github.com/rs/zerolog"

	"distbank/clock"
	"distbank/fabric"
	"distbank/message"
	"distbank/runner/recorder"
)

// State is the per-process context passed to every protocol step
type State struct {
	id    int
	topo  *fabric.Topology
	clock clock.Lamport
	ep    fabric.Endpoint
	log   zerolog.Logger
	rec   *recorder.Recorder
}

// Create the state of the process owning the endpoint.
//
// rec may be nil, in which case nothing is recorded.
func NewState(topo *fabric.Topology, ep fabric.Endpoint, log zerolog.Logger, rec *recorder.Recorder) *State {
	role := "worker"
	if ep.ID() == fabric.CoordinatorID {
		role = "coordinator"
	}
	return &State{
		id:   ep.ID(),
		topo: topo,
		ep:   ep,
		log:  log.With().Int("process", ep.ID()).Str("role", role).Logger(),
		rec:  rec,
	}
}

func (s *State) ID() int {
	return s.id
}

// Now returns the current Lamport time of the process
func (s *State) Now() int {
	return s.clock.Now()
}

func (s *State) sendAt(at int, dst int, t message.Type, payload []byte) error {
	msg, err := message.New(t, at, payload)
	if err != nil {
		return err
	}
	if err := s.ep.Send(dst, msg); err != nil {
		return err
	}
	s.log.Debug().Int("dst", dst).Stringer("type", t).Int("time", at).Msg("sent")
	s.rec.Record(recorder.Message{From: s.id, To: dst, Sent: true, Msg: msg})
	return nil
}

// send a frame to dst, advancing the clock once
func (s *State) send(dst int, t message.Type, payload []byte) error {
	return s.sendAt(s.clock.Tick(), dst, t, payload)
}

// broadcastAt sends the same frame, stamped with at, to every other process
func (s *State) broadcastAt(at int, t message.Type, payload []byte) error {
	msg, err := message.New(t, at, payload)
	if err != nil {
		return err
	}
	if err := s.ep.Broadcast(msg); err != nil {
		return err
	}
	s.log.Debug().Stringer("type", t).Int("time", at).Msg("broadcast")
	for _, dst := range s.topo.Peers(s.id) {
		s.rec.Record(recorder.Message{From: s.id, To: dst, Sent: true, Msg: msg})
	}
	return nil
}

func (s *State) broadcast(t message.Type, payload []byte) error {
	return s.broadcastAt(s.clock.Tick(), t, payload)
}

// receiveAny waits for the next frame from any process and advances the clock past its time
func (s *State) receiveAny(ctx context.Context) (int, message.Message, error) {
	src, msg, err := s.ep.ReceiveAny(ctx)
	if err != nil {
		return src, msg, err
	}
	now := s.clock.Observe(msg.Time())
	s.log.Debug().Int("src", src).Stringer("type", msg.Type()).Int("time", now).Msg("received")
	s.rec.Record(recorder.Message{From: src, To: s.id, Sent: false, Msg: msg})
	return src, msg, nil
}

// event records a step of the protocol and returns the line describing it
func (s *State) event(e recorder.Event) string {
	e.Process = s.id
	line := e.String()
	s.log.Info().Stringer("event", e.Kind).Int("time", e.Time).Msg(line)
	s.rec.Record(e)
	return line
}

// violation logs a frame that is not expected in the current state of the process and ignores it
func (s *State) violation(src int, msg message.Message, reason string) *ProtocolViolation {
	pv := &ProtocolViolation{Process: s.id, From: src, Type: msg.Type(), Reason: reason}
	s.log.Warn().Err(pv).Msg("ignored frame")
	return pv
}

// payload truncates a log line so that it fits in a frame
func payload(line string) []byte {
	if len(line) > message.MaxPayloadLen {
		line = line[:message.MaxPayloadLen]
	}
	return []byte(line)
}
