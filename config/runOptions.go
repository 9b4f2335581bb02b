package config

import (
	"io"

	"distbank/transfer"
)

// Configures the transfers the coordinator orders

// Default value is the robbery schedule for the number of workers.
type TransfersOption struct {
	Schedule []transfer.Instruction
}

func (opt TransfersOption) RunOpt() {}

// Configures io.writers that the events log will be written to

// Can be applied multiple times to add multiple io.writers.
// Default value is no writers.
type EventsLogOption struct {
	W io.Writer
}

func (opt EventsLogOption) RunOpt() {}

// Configures io.writers that the pipes log will be written to

// Can be applied multiple times to add multiple io.writers.
// Default value is no writers.
type PipesLogOption struct {
	W io.Writer
}

func (opt PipesLogOption) RunOpt() {}

// Configures io.writers that every events log line is echoed to

// Can be applied multiple times to add multiple io.writers.
// Default value is no writers.
type EchoOption struct {
	W io.Writer
}

func (opt EchoOption) RunOpt() {}

// Configures io.writers that the aggregated history is rendered to

// Can be applied multiple times to add multiple io.writers.
// Default value is no writers.
type OutputOption struct {
	W io.Writer
}

func (opt OutputOption) RunOpt() {}
