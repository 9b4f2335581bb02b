package runner

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"distbank/account"
	"distbank/fabric"
	"distbank/process"
	"distbank/report"
	"distbank/runner/recorder"
	"distbank/transfer"
)

// A nodeController runs the protocol of a single process on its own goroutine
// and releases the endpoint of the process when the protocol ends.
type nodeController struct {
	id    int
	ep    fabric.Endpoint
	state *process.State
	log   zerolog.Logger

	violations []*process.ProtocolViolation
}

func newNodeController(topo *fabric.Topology, ep fabric.Endpoint, log zerolog.Logger, rec *recorder.Recorder) *nodeController {
	return &nodeController{
		id:    ep.ID(),
		ep:    ep,
		state: process.NewState(topo, ep, log, rec),
		log:   log.With().Int("process", ep.ID()).Logger(),
	}
}

func (nc *nodeController) runWorker(ctx context.Context, initial account.Balance) (err error) {
	defer nc.release(&err)

	w, err := process.NewWorker(nc.state, initial)
	if err != nil {
		return err
	}
	_, err = w.Run(ctx)
	nc.violations = w.Violations()
	if err != nil {
		return fmt.Errorf("worker %d: %w", nc.id, err)
	}
	return nil
}

func (nc *nodeController) runCoordinator(ctx context.Context, schedule []transfer.Instruction) (all report.AllHistory, err error) {
	defer nc.release(&err)

	c, err := process.NewCoordinator(nc.state, schedule)
	if err != nil {
		return report.AllHistory{}, err
	}
	all, err = c.Run(ctx)
	nc.violations = c.Violations()
	if err != nil {
		return report.AllHistory{}, fmt.Errorf("coordinator: %w", err)
	}
	return all, nil
}

// release closes the endpoint. A close error only fails a process that succeeded otherwise.
func (nc *nodeController) release(err *error) {
	closeErr := nc.ep.Close()
	if closeErr == nil {
		return
	}
	nc.log.Warn().Err(closeErr).Msg("could not release channels")
	if *err == nil {
		*err = fmt.Errorf("process %d: %w", nc.id, closeErr)
	}
}
