package dispatch

import (
	"fmt"
	"sync"
	"time"
)

// eventLogCapacity bounds the in-memory tracking/status log carried in
// every published MotorStatus snapshot (§3's "bounded ring of tracking
// events"), mirroring the teacher's TUI log panel's fixed-size history.
const eventLogCapacity = 200

// EventType classifies an Event's severity as one of a fixed set of
// values rather than a free-form string.
type EventType string

const (
	EventInfo  EventType = "INFO"
	EventWarn  EventType = "WARN"
	EventError EventType = "ERROR"
)

// Event is one entry in a MotorStatus's bounded log.
type Event struct {
	Time    time.Time `json:"time"`
	Type    EventType `json:"type"`
	Message string    `json:"message"`
}

// EventLog is a fixed-capacity ring of recent Events, safe for
// concurrent use by the dispatcher's command goroutine and whatever
// goroutine periodically publishes MotorStatus.
type EventLog struct {
	mu     sync.Mutex
	events []Event
	max    int
}

// NewEventLog creates an EventLog holding at most max entries.
func NewEventLog(max int) *EventLog {
	if max <= 0 {
		max = eventLogCapacity
	}
	return &EventLog{max: max}
}

// Add appends a formatted event, discarding the oldest entry once the
// log is at capacity.
func (l *EventLog) Add(kind EventType, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, Event{
		Time:    time.Now(),
		Type:    kind,
		Message: fmt.Sprintf(format, args...),
	})
	if len(l.events) > l.max {
		l.events = l.events[len(l.events)-l.max:]
	}
}

// Snapshot returns a copy of the log's current contents, oldest first.
func (l *EventLog) Snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// TrackingInfo is the Adaptive Tracking Engine's contribution to a
// published MotorStatus, populated by the caller composing Dispatcher
// and tracking.Engine together (they are independently testable and
// don't import one another).
type TrackingInfo struct {
	AzimuthDeg          float64 `json:"az"`
	AltitudeDeg         float64 `json:"alt"`
	NextCheckInSec      float64 `json:"next_check_in"`
	TotalCorrections    int     `json:"total_corrections"`
	TotalCorrectionDeg  float64 `json:"total_correction_deg"`
	EncoderOffsetDeg    float64 `json:"encoder_offset"`
	IntervalSec         float64 `json:"interval_sec"`
}

// GotoInfo describes an in-progress GOTO for status consumers.
type GotoInfo struct {
	StartDeg  float64   `json:"start"`
	TargetDeg float64   `json:"target"`
	DeltaDeg  float64   `json:"delta"`
	StartedAt time.Time `json:"started_at"`
}

// MotorStatus is the Motor Service's published snapshot (§4.2 IPC
// payload), written at ~20 Hz via internal/ipc.Publish.
type MotorStatus struct {
	State          State         `json:"state"`
	PositionDeg    float64       `json:"position"`
	TargetDeg      *float64      `json:"target,omitempty"`
	Mode           *string       `json:"mode,omitempty"`
	TrackingObject *string       `json:"tracking_object,omitempty"`
	TrackingInfo   *TrackingInfo `json:"tracking_info,omitempty"`
	GotoInfo       *GotoInfo     `json:"goto_info,omitempty"`
	Logs           []Event       `json:"logs"`
	Simulation     bool          `json:"simulation"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Status builds a MotorStatus snapshot from the dispatcher's current
// state plus whatever encoder position the caller last read. Tracking
// and goto detail are supplied by the caller since the dispatcher
// itself doesn't own the tracking engine.
func (d *Dispatcher) Status(positionDeg float64, simulation bool) MotorStatus {
	d.mu.Lock()
	state := d.state
	d.mu.Unlock()

	return MotorStatus{
		State:       state,
		PositionDeg: positionDeg,
		Logs:        d.events.Snapshot(),
		Simulation:  simulation,
		UpdatedAt:   time.Now(),
	}
}
