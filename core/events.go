package core

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
)

// Event categories emitted by the VM, storage and governance layers, fixed
// per the concrete set chosen for this sink.
const (
	EventCategoryVM                 = "vm"
	EventCategoryStorageAccess      = "storage.access"
	EventCategoryStorageTransaction = "storage.transaction"
	EventCategoryStorageResource    = "storage.resource"
	EventCategoryGovernance         = "governance"
	EventCategoryIdentity           = "identity"
)

// Event is a single structured entry appended to an EventSink.
type Event struct {
	Category  string                 `json:"category"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Seq       uint64                 `json:"seq"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// EventSink is supplied by the host; EmitEvent and every governance/storage
// audit call funnel through it.
type EventSink interface {
	Emit(category, message string, fields map[string]interface{})
	Events() []Event
}

// RingBuffer is the default in-memory EventSink: a bounded ring buffer so a
// long-running host doesn't grow it unbounded, with a monotonic sequence
// counter so ordering survives wraparound.
type RingBuffer struct {
	mu       sync.Mutex
	capacity int
	buf      []Event
	next     int
	seq      uint64
	full     bool

	// vmLog and govLog mirror emitted events into the engines' (logrus) and
	// governance's (zap) loggers respectively, keeping logging libraries
	// split by subsystem.
	vmLog  *logrus.Logger
	govLog *zap.SugaredLogger
}

// NewRingBuffer constructs a sink with the given capacity (minimum 1).
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer{
		capacity: capacity,
		buf:      make([]Event, capacity),
		vmLog:    logrus.StandardLogger(),
	}
}

// WithZapLogger attaches a zap sugared logger used for governance-category
// events, routing governance logging through zap while engine/storage
// logging stays on logrus.
func (r *RingBuffer) WithZapLogger(l *zap.SugaredLogger) *RingBuffer {
	r.govLog = l
	return r
}

func (r *RingBuffer) Emit(category, message string, fields map[string]interface{}) {
	r.mu.Lock()
	r.seq++
	ev := Event{Category: category, Message: message, Timestamp: time.Now().UTC(), Seq: r.seq, Fields: fields}
	r.buf[r.next] = ev
	r.next = (r.next + 1) % r.capacity
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()

	switch category {
	case EventCategoryGovernance:
		if r.govLog != nil {
			r.govLog.Infow(message, "category", category, "seq", ev.Seq)
		}
	default:
		if r.vmLog != nil {
			r.vmLog.WithField("category", category).WithField("seq", ev.Seq).Info(message)
		}
	}
}

// Events returns all retained events in chronological order.
func (r *RingBuffer) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		out := make([]Event, r.next)
		copy(out, r.buf[:r.next])
		return out
	}
	out := make([]Event, r.capacity)
	copy(out, r.buf[r.next:])
	copy(out[r.capacity-r.next:], r.buf[:r.next])
	return out
}
