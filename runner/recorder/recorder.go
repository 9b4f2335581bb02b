// Package recorder collects the records produced by the processes of a run and fans them out to subscribers.
package recorder

import (
	"sync"
)

// A Recorder forwards every record to all subscribers.
//
// Records from different processes may be interleaved in any order,
// while records from the same process arrive in the order they were made.
type Recorder struct {
	inRecordChan chan Record

	// Guards closed. Held for reading while a record is handed over
	mu     sync.RWMutex
	closed bool

	subMu       sync.Mutex
	subscribers []chan Record

	done chan struct{}
}

// Create a new Recorder and start forwarding
//
// buffer specifies the size of the inbound record channel
func New(buffer int) *Recorder {
	r := &Recorder{
		inRecordChan: make(chan Record, buffer),
		done:         make(chan struct{}),
	}
	go r.mainLoop()
	return r
}

func (r *Recorder) mainLoop() {
	defer close(r.done)
	for rec := range r.inRecordChan {
		r.subMu.Lock()
		subscribers := r.subscribers
		r.subMu.Unlock()
		for _, c := range subscribers {
			c <- rec
		}
	}
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for _, c := range r.subscribers {
		close(c)
	}
}

// Subscribe to a copy of the records.
//
// Only records made after subscribing are received. The channel is closed when the recorder is closed.
// Subscribers must keep reading from the channel, a slow subscriber slows down every process.
func (r *Recorder) Subscribe(buffer int) <-chan Record {
	c := make(chan Record, buffer)

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		close(c)
		return c
	}
	r.subMu.Lock()
	r.subscribers = append(r.subscribers, c)
	r.subMu.Unlock()
	return c
}

// Record a record. Records made after Close are discarded.
// A nil Recorder discards every record.
func (r *Recorder) Record(rec Record) {
	if r == nil {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	r.inRecordChan <- rec
}

// Close the recorder and wait until all records have been forwarded
func (r *Recorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.inRecordChan)
	}
	r.mu.Unlock()
	<-r.done
}
