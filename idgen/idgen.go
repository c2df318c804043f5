// Package idgen generates snowflake-style request ids: a millisecond
// timestamp, a data center id, a machine id and a per-millisecond
// sequence, packed into 64 bits.
package idgen

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sasha-s/go-deadlock"
)

const (
	dataCenterBits = 5
	machineBits    = 5
	sequenceBits   = 12

	MaxDataCenter = 1<<dataCenterBits - 1
	MaxMachine    = 1<<machineBits - 1
	maxSequence   = 1<<sequenceBits - 1

	machineShift    = sequenceBits
	dataCenterShift = sequenceBits + machineBits
	timestampShift  = sequenceBits + machineBits + dataCenterBits
)

// Epoch is the zero point of the timestamp part (2022-01-01 UTC)
var Epoch = time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)

// Generator is safe for concurrent use
type Generator struct {
	lock       deadlock.Mutex
	dataCenter uint64
	machine    uint64
	lastStamp  int64
	sequence   uint64
	now        func() time.Time
}

func New(dataCenter, machine int) (*Generator, error) {
	if dataCenter < 0 || dataCenter > MaxDataCenter {
		return nil, errors.Errorf("data center id %v out of range [0, %v]",
			dataCenter, MaxDataCenter)
	}
	if machine < 0 || machine > MaxMachine {
		return nil, errors.Errorf("machine id %v out of range [0, %v]",
			machine, MaxMachine)
	}
	return &Generator{
		dataCenter: uint64(dataCenter),
		machine:    uint64(machine),
		lastStamp:  -1,
		now:        time.Now,
	}, nil
}

func (g *Generator) stamp() int64 {
	return g.now().Sub(Epoch).Milliseconds()
}

// Next returns a fresh id. It blocks until the next millisecond when the
// sequence of the current one is used up.
func (g *Generator) Next() (uint64, error) {
	g.lock.Lock()
	defer g.lock.Unlock()

	stamp := g.stamp()
	if stamp < g.lastStamp {
		return 0, errors.Errorf("clock moved backwards by %vms",
			g.lastStamp-stamp)
	}
	if stamp == g.lastStamp {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			for stamp <= g.lastStamp {
				time.Sleep(100 * time.Microsecond)
				stamp = g.stamp()
			}
		}
	} else {
		g.sequence = 0
	}
	g.lastStamp = stamp

	return uint64(stamp)<<timestampShift |
		g.dataCenter<<dataCenterShift |
		g.machine<<machineShift |
		g.sequence, nil
}

// Decompose splits an id back into its parts
func Decompose(id uint64) (stamp time.Time, dataCenter, machine, sequence int) {
	ms := int64(id >> timestampShift)
	stamp = Epoch.Add(time.Duration(ms) * time.Millisecond)
	dataCenter = int(id >> dataCenterShift & MaxDataCenter)
	machine = int(id >> machineShift & MaxMachine)
	sequence = int(id & maxSequence)
	return
}
