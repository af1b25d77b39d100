package runtime

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"

	configpkg "github.com/drblury/synapse/internal/runtime/config"
	errspkg "github.com/drblury/synapse/internal/runtime/errors"
)

// Priority selects the lane an envelope is queued on.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
)

var priorityNames = map[Priority]string{
	PriorityCritical: "critical",
	PriorityHigh:     "high",
	PriorityNormal:   "normal",
	PriorityLow:      "low",
}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// Valid reports whether p is one of the four declared priorities.
func (p Priority) Valid() bool {
	_, ok := priorityNames[p]
	return ok
}

// Lane returns the lane that serves p.
func (p Priority) Lane() Lane {
	return Lane(p.String())
}

// ParsePriority accepts the lowercase priority names.
func ParsePriority(s string) (Priority, error) {
	needle := strings.ToLower(strings.TrimSpace(s))
	for p, name := range priorityNames {
		if name == needle {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", errspkg.ErrInvalidPriority, s)
}

// Lane names one of the five FIFO queues of a bus.
type Lane string

const (
	LaneBatch    Lane = "batch"
	LaneCritical Lane = "critical"
	LaneHigh     Lane = "high"
	LaneNormal   Lane = "normal"
	LaneLow      Lane = "low"
)

// Lanes lists every lane in the order a tick visits them.
var Lanes = []Lane{LaneBatch, LaneCritical, LaneHigh, LaneNormal, LaneLow}

// laneQueue is a mutex-guarded ring buffer. Counters are atomics so stats
// snapshots never contend with producers.
type laneQueue struct {
	name Lane

	mu     sync.Mutex
	items  *queue.Queue
	closed bool

	published  atomic.Uint64
	dispatched atomic.Uint64
	delivered  atomic.Uint64
	vetoed     atomic.Uint64
	shed       atomic.Uint64
}

func newLaneQueue(name Lane) *laneQueue {
	return &laneQueue{name: name, items: queue.New()}
}

// push appends env and returns the resulting depth. It reports false once the
// lane is closed.
func (q *laneQueue) push(env *Envelope) (int, bool) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return 0, false
	}
	q.items.Add(env)
	depth := q.items.Length()
	q.mu.Unlock()

	q.published.Add(1)
	return depth, true
}

// popN removes up to n envelopes from the front. n < 0 takes everything
// present at call time.
func (q *laneQueue) popN(n int) []*Envelope {
	q.mu.Lock()
	defer q.mu.Unlock()

	available := q.items.Length()
	if n < 0 || n > available {
		n = available
	}
	if n == 0 {
		return nil
	}
	out := make([]*Envelope, n)
	for i := range out {
		out[i] = q.items.Remove().(*Envelope)
	}
	return out
}

// discardN drops up to n envelopes from the front and reports how many went.
func (q *laneQueue) discardN(n int) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	dropped := 0
	for dropped < n && q.items.Length() > 0 {
		q.items.Remove()
		dropped++
	}
	return dropped
}

// close empties the lane and rejects later pushes. It returns the number of
// envelopes discarded.
func (q *laneQueue) close() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	dropped := q.items.Length()
	q.items = queue.New()
	return dropped
}

func (q *laneQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}

// ShedPolicy turns a pressure reading into the normal and low lane budgets.
type ShedPolicy struct {
	NormalBudget    int
	NormalThreshold int
	NormalChunk     int
	LowBudget       int
	LowThreshold    int
	LowChunk        int
}

// NewShedPolicy derives the policy from a defaulted config.
func NewShedPolicy(conf configpkg.Config) ShedPolicy {
	return ShedPolicy{
		NormalBudget:    conf.NormalBudget,
		NormalThreshold: conf.NormalShedThreshold,
		NormalChunk:     conf.NormalShedChunk,
		LowBudget:       conf.LowBudget,
		LowThreshold:    conf.LowShedThreshold,
		LowChunk:        conf.LowShedChunk,
	}
}

// NormalBudgetAt is zero once pressure exceeds the normal threshold.
func (p ShedPolicy) NormalBudgetAt(pressure int) int {
	if pressure > p.NormalThreshold {
		return 0
	}
	return p.NormalBudget
}

// LowBudgetAt is zero once pressure exceeds the low threshold.
func (p ShedPolicy) LowBudgetAt(pressure int) int {
	if pressure > p.LowThreshold {
		return 0
	}
	return p.LowBudget
}
