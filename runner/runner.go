// Package runner runs the coordinator and the workers of the bank concurrently, one goroutine per process.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"distbank/account"
	"distbank/eventlog"
	"distbank/fabric"
	"distbank/fabric/grpcnet"
	"distbank/fabric/pipe"
	"distbank/message"
	"distbank/process"
	"distbank/report"
	"distbank/runner/recorder"
	"distbank/transfer"
)

var (
	ErrWorkers   = errors.New("runner: invalid number of workers")
	ErrBalance   = errors.New("runner: invalid initial balance")
	ErrTransport = errors.New("runner: unknown transport")
)

// The transport used for the channels between processes
type Transport string

const (
	TransportPipe Transport = "pipe"
	TransportGrpc Transport = "grpc"
)

// Config of a run
type Config struct {
	// Initial[i] is the initial balance of worker i+1
	Initial  []account.Balance
	Schedule []transfer.Instruction

	Transport        Transport
	QueueSize        int
	RecordChanBuffer int

	// Diagnostic logger. Nothing is logged if nil
	Log *zerolog.Logger

	// Destinations of the events log, the pipes log and the rendered history. Nil writers are skipped.
	Events io.Writer
	Pipes  io.Writer
	Echo   io.Writer
	Output io.Writer
}

// The Result of a completed run
type Result struct {
	History    report.AllHistory
	Stats      map[int]fabric.StatsSnapshot
	Violations []*process.ProtocolViolation
}

// The Runner runs the bank in real time and records the execution.
type Runner struct {
	cfg  Config
	log  zerolog.Logger
	topo *fabric.Topology
	rec  *recorder.Recorder
}

// Create a new Runner. The configuration is validated before any process starts.
func NewRunner(cfg Config) (*Runner, error) {
	if len(cfg.Initial) < 1 || len(cfg.Initial) > fabric.MaxProcessID {
		return nil, fmt.Errorf("%w: %v, must be between 1 and %v", ErrWorkers, len(cfg.Initial), fabric.MaxProcessID)
	}
	for i, b := range cfg.Initial {
		if b < 0 || !message.FitsBalance(b) {
			return nil, fmt.Errorf("%w: worker %v has %v", ErrBalance, i+1, b)
		}
	}
	topo, err := fabric.NewTopology(len(cfg.Initial))
	if err != nil {
		return nil, err
	}
	if err := transfer.Validate(cfg.Schedule, topo.Workers()); err != nil {
		return nil, err
	}
	if _, err := transfer.Replay(cfg.Initial, cfg.Schedule); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBalance, err)
	}
	if cfg.Transport == "" {
		cfg.Transport = TransportPipe
	}
	if cfg.Transport != TransportPipe && cfg.Transport != TransportGrpc {
		return nil, fmt.Errorf("%w: %q", ErrTransport, cfg.Transport)
	}
	if cfg.RecordChanBuffer <= 0 {
		cfg.RecordChanBuffer = 100
	}
	log := zerolog.Nop()
	if cfg.Log != nil {
		log = *cfg.Log
	}
	return &Runner{
		log:  log,
		cfg:  cfg,
		topo: topo,
		rec:  recorder.New(cfg.RecordChanBuffer),
	}, nil
}

// Subscribe to the records reported by the processes.
//
// Must be called before Run. The channel is closed when the run ends.
// Records of the same process arrive in the order they were made.
func (r *Runner) SubscribeRecords() <-chan recorder.Record {
	return r.rec.Subscribe(r.cfg.RecordChanBuffer)
}

// Topology returns the topology of the run
func (r *Runner) Topology() *fabric.Topology {
	return r.topo
}

func (r *Runner) newFabric() (fabric.Fabric, error) {
	cfg := fabric.Config{
		QueueSize: r.cfg.QueueSize,
		Observer: func(ev fabric.ChannelEvent) {
			r.rec.Record(recorder.Channel{ChannelEvent: ev})
		},
	}
	switch r.cfg.Transport {
	case TransportGrpc:
		return grpcnet.New(r.topo, cfg, r.log)
	default:
		return pipe.New(r.topo, cfg, r.log)
	}
}

// Run the coordinator and every worker until all histories have been collected.
//
// The first fatal failure of a process cancels the run; the failures of all processes are returned together.
// A Runner can only be run once.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	logs := eventlog.NewWriter(r.cfg.Events, r.cfg.Pipes, r.cfg.Echo)
	records := r.rec.Subscribe(r.cfg.RecordChanBuffer)
	logErr := make(chan error, 1)
	go func() {
		logErr <- logs.Consume(records)
	}()

	result, err := r.run(ctx)
	r.rec.Close()
	if lerr := <-logErr; lerr != nil {
		err = multierror.Append(err, lerr)
	}
	if err != nil {
		return Result{}, err
	}

	if r.cfg.Output != nil {
		if err := result.History.Render(r.cfg.Output); err != nil {
			return result, err
		}
	}
	return result, nil
}

func (r *Runner) run(ctx context.Context) (Result, error) {
	f, err := r.newFabric()
	if err != nil {
		return Result{}, err
	}
	defer f.Close()

	controllers := make([]*nodeController, r.topo.Processes())
	for id := range controllers {
		ep, err := f.Attach(id)
		if err != nil {
			return Result{}, err
		}
		controllers[id] = newNodeController(r.topo, ep, r.log, r.rec)
	}
	if err := f.Seal(); err != nil {
		return Result{}, err
	}

	g, gctx := errgroup.WithContext(ctx)
	go func() {
		// Unblock processes stuck on the fabric once the run is aborted
		<-gctx.Done()
		f.Close()
	}()

	errs := make([]error, len(controllers))
	var all report.AllHistory
	g.Go(func() error {
		var err error
		all, err = controllers[fabric.CoordinatorID].runCoordinator(gctx, r.cfg.Schedule)
		errs[fabric.CoordinatorID] = err
		return err
	})
	for _, id := range r.topo.WorkerIDs() {
		id := id
		g.Go(func() error {
			err := controllers[id].runWorker(gctx, r.cfg.Initial[id-1])
			errs[id] = err
			return err
		})
	}

	if err := g.Wait(); err != nil {
		var result *multierror.Error
		for _, e := range errs {
			result = multierror.Append(result, e)
		}
		r.log.Error().Err(result).Msg("run aborted")
		return Result{}, result.ErrorOrNil()
	}

	res := Result{
		History: all,
		Stats:   make(map[int]fabric.StatsSnapshot, len(controllers)),
	}
	for id, nc := range controllers {
		res.Stats[id] = nc.ep.Stats().Snapshot()
		res.Violations = append(res.Violations, nc.violations...)
	}
	return res, nil
}
