package fabric

import "fmt"

const (
	// The id of the coordinator
	CoordinatorID = 0

	// The largest process id. At most MaxProcessID workers can be connected.
	MaxProcessID = 15
)

// A Channel is the directed channel from Src to Dst
type Channel struct {
	Src, Dst int
}

func (c Channel) String() string {
	return fmt.Sprintf("%v->%v", c.Src, c.Dst)
}

// A Mask records which channel ends a process owns.
//
// Bit i of Write is set if the process owns the write end of the channel to process i,
// bit i of Read if it owns the read end of the channel from process i.
type Mask struct {
	Write uint32
	Read  uint32
}

// CanWrite returns true if the write end of the channel to dst is owned
func (m Mask) CanWrite(dst int) bool {
	return dst >= 0 && dst < 32 && m.Write&(1<<dst) != 0
}

// CanRead returns true if the read end of the channel from src is owned
func (m Mask) CanRead(src int) bool {
	return src >= 0 && src < 32 && m.Read&(1<<src) != 0
}

// Topology describes the complete directed graph between the coordinator and N workers.
//
// It is immutable and shared by all processes.
// The ownership mask of each process is computed once when the topology is created.
type Topology struct {
	workers int
	masks   []Mask
}

// Create the topology for a coordinator and workers workers
func NewTopology(workers int) (*Topology, error) {
	if workers < 1 || workers > MaxProcessID {
		return nil, fmt.Errorf("fabric: number of workers must be in [1, %v]. Got: %v", MaxProcessID, workers)
	}
	t := &Topology{
		workers: workers,
		masks:   make([]Mask, workers+1),
	}
	for _, c := range t.Channels() {
		t.masks[c.Src].Write |= 1 << c.Dst
		t.masks[c.Dst].Read |= 1 << c.Src
	}
	return t, nil
}

// Workers returns the number of workers
func (t *Topology) Workers() int {
	return t.workers
}

// Processes returns the number of processes, including the coordinator
func (t *Topology) Processes() int {
	return t.workers + 1
}

// Valid returns true if id is a process in the topology
func (t *Topology) Valid(id int) bool {
	return id >= 0 && id <= t.workers
}

// IsWorker returns true if id is a worker in the topology
func (t *Topology) IsWorker(id int) bool {
	return id > CoordinatorID && id <= t.workers
}

// Channels returns every channel of the topology ordered by source and then destination
func (t *Topology) Channels() []Channel {
	channels := make([]Channel, 0, t.Processes()*t.workers)
	for src := 0; src < t.Processes(); src++ {
		for dst := 0; dst < t.Processes(); dst++ {
			if src == dst {
				continue
			}
			channels = append(channels, Channel{Src: src, Dst: dst})
		}
	}
	return channels
}

// Peers returns the ids of every process except id, in increasing order
func (t *Topology) Peers(id int) []int {
	peers := make([]int, 0, t.workers)
	for p := 0; p < t.Processes(); p++ {
		if p != id {
			peers = append(peers, p)
		}
	}
	return peers
}

// WorkerIDs returns the ids of all the workers in increasing order
func (t *Topology) WorkerIDs() []int {
	ids := make([]int, 0, t.workers)
	for id := 1; id <= t.workers; id++ {
		ids = append(ids, id)
	}
	return ids
}

// Mask returns the ownership mask of process id
func (t *Topology) Mask(id int) Mask {
	if !t.Valid(id) {
		return Mask{}
	}
	return t.masks[id]
}
