// Package distbank runs a bank of worker processes and a coordinator that exchange money over message channels,
// with every process stamping its messages with a Lamport clock.
package distbank

import (
	"context"
	"io"

	"github.com/rs/zerolog"

	"distbank/account"
	"distbank/config"
	"distbank/runner"
	"distbank/transfer"
)

type RunOption interface {
	RunOpt()
}

// Use the provided transfers instead of the robbery schedule
func WithTransfers(schedule ...transfer.Instruction) RunOption {
	return config.TransfersOption{Schedule: schedule}
}

// Use the transport with the provided name for the channels. Either "pipe" or "grpc"
func WithTransport(transport string) RunOption {
	return config.TransportOption{Transport: transport}
}

// Write the events log to w
func WithEventsLog(w io.Writer) RunOption {
	return config.EventsLogOption{W: w}
}

// Write the pipes log to w
func WithPipesLog(w io.Writer) RunOption {
	return config.PipesLogOption{W: w}
}

// Echo every line of the events log to w
func WithEcho(w io.Writer) RunOption {
	return config.EchoOption{W: w}
}

// Render the aggregated history to w once the run completes
func WithOutput(w io.Writer) RunOption {
	return config.OutputOption{W: w}
}

// Use log as the diagnostic logger
func WithLogger(log zerolog.Logger) RunOption {
	return config.LoggerOption{Log: log}
}

func QueueSize(size int) RunOption {
	return config.QueueSizeOption{Size: size}
}

func RecordChanSize(size int) RunOption {
	return config.RecordChanBufferOption{Size: size}
}

// A prepared run of the bank
type Bank struct {
	*runner.Runner

	initial  []account.Balance
	schedule []transfer.Instruction
}

// Prepare a run with one worker per initial balance.
//
// initial[i] is the balance of worker i+1.
// The configuration is validated before any process is started.
func PrepareRun(initial []account.Balance, opts ...RunOption) (*Bank, error) {
	var (
		schedule  []transfer.Instruction
		scheduled = false

		transport        = runner.TransportPipe
		queueSize        = 64
		recordChanBuffer = 100

		log = zerolog.Nop()

		events, pipes, echo, output []io.Writer
	)

	for _, opt := range opts {
		switch t := opt.(type) {
		case config.TransfersOption:
			schedule = t.Schedule
			scheduled = true
		case config.TransportOption:
			transport = runner.Transport(t.Transport)
		case config.QueueSizeOption:
			queueSize = t.Size
		case config.RecordChanBufferOption:
			recordChanBuffer = t.Size
		case config.LoggerOption:
			log = t.Log
		case config.EventsLogOption:
			events = append(events, t.W)
		case config.PipesLogOption:
			pipes = append(pipes, t.W)
		case config.EchoOption:
			echo = append(echo, t.W)
		case config.OutputOption:
			output = append(output, t.W)
		}
	}
	if !scheduled {
		schedule = transfer.Robbery(len(initial))
	}

	r, err := runner.NewRunner(runner.Config{
		Initial:          initial,
		Schedule:         schedule,
		Transport:        transport,
		QueueSize:        queueSize,
		RecordChanBuffer: recordChanBuffer,
		Log:              &log,
		Events:           multiWriter(events),
		Pipes:            multiWriter(pipes),
		Echo:             multiWriter(echo),
		Output:           multiWriter(output),
	})
	if err != nil {
		return nil, err
	}
	return &Bank{
		Runner:   r,
		initial:  initial,
		schedule: schedule,
	}, nil
}

// Prepare and execute a run
func Run(ctx context.Context, initial []account.Balance, opts ...RunOption) (runner.Result, error) {
	b, err := PrepareRun(initial, opts...)
	if err != nil {
		return runner.Result{}, err
	}
	return b.Run(ctx)
}

// The schedule of transfers the coordinator orders
func (b *Bank) Schedule() []transfer.Instruction {
	return b.schedule
}

func multiWriter(ws []io.Writer) io.Writer {
	switch len(ws) {
	case 0:
		return nil
	case 1:
		return ws[0]
	default:
		return io.MultiWriter(ws...)
	}
}
