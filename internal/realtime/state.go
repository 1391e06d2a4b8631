package realtime

import (
	"errors"
	"time"
)

var (
	// ErrConnectionFailed is reported once reconnect attempts are exhausted.
	ErrConnectionFailed = errors.New("realtime connection failed")
	// ErrInvalidSubscription is returned for a bad location, radius or type set.
	ErrInvalidSubscription = errors.New("invalid subscription")
)

// State of the connection state machine.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Quality grades the heartbeat round trip.
type Quality string

const (
	QualityUnknown   Quality = "unknown"
	QualityExcellent Quality = "excellent"
	QualityGood      Quality = "good"
	QualityPoor      Quality = "poor"
)

// ClassifyLatency grades a round-trip time.
func ClassifyLatency(rtt time.Duration) Quality {
	switch {
	case rtt < 100*time.Millisecond:
		return QualityExcellent
	case rtt < 300*time.Millisecond:
		return QualityGood
	default:
		return QualityPoor
	}
}

// Policy holds reconnect, heartbeat and battery settings.
type Policy struct {
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	MaxAttempts       int
	HeartbeatInterval time.Duration
	// A heartbeat unanswered for this long drops the connection.
	HeartbeatTimeout time.Duration
	WriteTimeout     time.Duration
	BatteryFloor     time.Duration
	BatteryDropRate  float64
}

// DefaultPolicy returns the standard settings.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:         time.Second,
		MaxDelay:          30 * time.Second,
		MaxAttempts:       5,
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  90 * time.Second,
		WriteTimeout:      10 * time.Second,
		BatteryFloor:      60 * time.Second,
		BatteryDropRate:   0.5,
	}
}

func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.MaxAttempts < 0 {
		p.MaxAttempts = 0
	}
	if p.HeartbeatInterval <= 0 {
		p.HeartbeatInterval = def.HeartbeatInterval
	}
	if p.HeartbeatTimeout <= 0 {
		p.HeartbeatTimeout = 3 * p.HeartbeatInterval
	}
	if p.WriteTimeout <= 0 {
		p.WriteTimeout = def.WriteTimeout
	}
	if p.BatteryFloor <= 0 {
		p.BatteryFloor = def.BatteryFloor
	}
	if p.BatteryDropRate <= 0 || p.BatteryDropRate > 1 {
		p.BatteryDropRate = def.BatteryDropRate
	}
	return p
}

// Delay is the wait before reconnect attempt n (1-based): base×2^(n−1),
// capped at MaxDelay.
func (p Policy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := p.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return min(d, p.MaxDelay)
}

// EventType names a distributor event.
type EventType string

const (
	EventConnected         EventType = "connected"
	EventDisconnected      EventType = "disconnected"
	EventDataUpdate        EventType = "dataUpdate"
	EventAlertReceived     EventType = "alertReceived"
	EventEmergencyReceived EventType = "emergencyReceived"
	EventError             EventType = "error"
	EventStateChanged      EventType = "stateChanged"
)

// Event is emitted to listeners. Only the fields relevant to Type are set.
type Event struct {
	Type    EventType
	State   State
	Quality Quality
	Latency time.Duration
	Update  *Update
	Err     error
	At      time.Time
}

// Status is a point-in-time view of the distributor.
type Status struct {
	State         State
	Quality       Quality
	Latency       time.Duration
	Attempts      int
	Subscriptions int
	Queued        int
	BatteryMode   bool
}

// Indicator collapses the status into connected, degraded or offline.
func (s Status) Indicator() string {
	switch s.State {
	case StateConnected:
		if s.Quality == QualityPoor {
			return "degraded"
		}
		return "connected"
	case StateConnecting, StateReconnecting:
		return "degraded"
	default:
		return "offline"
	}
}
