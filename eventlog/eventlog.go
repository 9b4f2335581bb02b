// Package eventlog writes the human readable logs of a run.
//
// The events log gets one line per protocol event, the pipes log one line per opened or released channel end.
package eventlog

import (
	"fmt"
	"io"

	"github.com/hashicorp/go-multierror"

	"distbank/runner/recorder"
)

// A Writer writes records to the events and pipes logs
type Writer struct {
	events io.Writer
	pipes  io.Writer
	// Receives a copy of every event line. May be nil
	echo io.Writer
}

// Create a writer. Any of the writers may be nil, in which case the corresponding lines are skipped.
func NewWriter(events, pipes, echo io.Writer) *Writer {
	return &Writer{events: events, pipes: pipes, echo: echo}
}

// Consume writes every record until the channel is closed.
//
// Write errors do not stop the consumption, they are collected and returned when the channel is closed.
func (w *Writer) Consume(records <-chan recorder.Record) error {
	var result *multierror.Error
	for rec := range records {
		if err := w.Write(rec); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Write a single record. Message records are not written.
func (w *Writer) Write(rec recorder.Record) error {
	switch r := rec.(type) {
	case recorder.Event:
		var result *multierror.Error
		result = multierror.Append(result, line(w.events, r))
		result = multierror.Append(result, line(w.echo, r))
		return result.ErrorOrNil()
	case recorder.Channel:
		return line(w.pipes, r)
	}
	return nil
}

func line(w io.Writer, s fmt.Stringer) error {
	if w == nil {
		return nil
	}
	_, err := fmt.Fprintln(w, s.String())
	return err
}
