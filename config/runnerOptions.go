package config

import "github.com/rs/zerolog"

// Configures how many records can be buffered

// Default value is 100
type RecordChanBufferOption struct {
	Size int
}

func (opt RecordChanBufferOption) RunOpt() {}

// Configures how many frames can be buffered per inbound channel of a process

// Default value is 64
type QueueSizeOption struct {
	Size int
}

func (opt QueueSizeOption) RunOpt() {}

// Configures the transport carrying the channels between processes

// Either "pipe" or "grpc".
// Default value is "pipe".
type TransportOption struct {
	Transport string
}

func (opt TransportOption) RunOpt() {}

// Configures the diagnostic logger

// Default value is a logger discarding everything.
type LoggerOption struct {
	Log zerolog.Logger
}

func (opt LoggerOption) RunOpt() {}
