// Package idgen generates process-unique monotonic integer identifiers used for
// reservation handles (spec.md §3: "reservation handle (process-unique integer)") and
// internal ledger/fill IDs.
package idgen

import (
	"errors"
	"sync"
	"time"
)

const (
	epoch int64 = 1704067200000 // 2024-01-01T00:00:00Z

	workerIDBits = 10
	sequenceBits = 12

	maxWorkerID = -1 ^ (-1 << workerIDBits)
	maxSequence = -1 ^ (-1 << sequenceBits)

	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
)

var (
	ErrInvalidWorkerID = errors.New("idgen: worker ID must be between 0 and 1023")
	ErrClockMovedBack  = errors.New("idgen: clock moved backwards")
)

// Generator produces strictly increasing int64 identifiers for one worker.
type Generator struct {
	mu       sync.Mutex
	workerID int64
	sequence int64
	lastTime int64
}

// New constructs a Generator for workerID (0-1023; one per engine process/shard).
func New(workerID int64) (*Generator, error) {
	if workerID < 0 || workerID > maxWorkerID {
		return nil, ErrInvalidWorkerID
	}
	return &Generator{workerID: workerID}, nil
}

// Generate returns the next ID, spinning until the clock catches up on sequence exhaustion.
func (g *Generator) Generate() (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now().UnixMilli()
	if now < g.lastTime {
		return 0, ErrClockMovedBack
	}

	if now == g.lastTime {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			for now <= g.lastTime {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		g.sequence = 0
	}
	g.lastTime = now

	id := ((now - epoch) << timestampShift) | (g.workerID << workerIDShift) | g.sequence
	return id, nil
}

// MustGenerate panics if Generate fails; used where the caller cannot meaningfully recover
// (e.g. reservation-handle minting inside a locked section).
func (g *Generator) MustGenerate() int64 {
	id, err := g.Generate()
	if err != nil {
		panic(err)
	}
	return id
}

// NextID satisfies callers expecting a no-error ID source (reservation.IDGenerator).
func (g *Generator) NextID() int64 {
	return g.MustGenerate()
}

// Parse decodes an ID back into its timestamp/worker/sequence components.
func Parse(id int64) (timestampMs, workerID, sequence int64) {
	timestampMs = (id >> timestampShift) + epoch
	workerID = (id >> workerIDShift) & maxWorkerID
	sequence = id & maxSequence
	return
}

// Time returns the wall-clock time an ID was minted at.
func Time(id int64) time.Time {
	ts, _, _ := Parse(id)
	return time.UnixMilli(ts)
}
