package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ngmaloney/marine-depth/internal/models"
)

// MessageType is the type field of a wire envelope.
type MessageType string

const (
	MsgSubscribe             MessageType = "subscribe"
	MsgUnsubscribe           MessageType = "unsubscribe"
	MsgUpdateSubscription    MessageType = "updateSubscription"
	MsgHeartbeat             MessageType = "heartbeat"
	MsgHeartbeatResponse     MessageType = "heartbeatResponse"
	MsgUpdate                MessageType = "update"
	MsgAlert                 MessageType = "alert"
	MsgEmergency             MessageType = "emergency"
	MsgError                 MessageType = "error"
	MsgSubscriptionConfirmed MessageType = "subscriptionConfirmed"
)

// Envelope is the frame exchanged with the remote side. Timestamp is epoch
// milliseconds.
type Envelope struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

func newEnvelope(t MessageType, data any, now time.Time) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", t, err)
	}
	return json.Marshal(Envelope{Type: t, Data: raw, Timestamp: now.UnixMilli()})
}

// Data types carried by updates.
const (
	DataDepth   = "depth"
	DataTide    = "tide"
	DataWeather = "weather"
	DataAlert   = "alert"
)

// Severity of an update. Critical and emergency updates are never throttled.
type Severity string

const (
	SeverityInfo      Severity = "info"
	SeverityWarning   Severity = "warning"
	SeverityCritical  Severity = "critical"
	SeverityEmergency Severity = "emergency"
)

// Update is one piece of data fanned out to matching subscriptions.
type Update struct {
	ID        string          `json:"id,omitempty"`
	Type      string          `json:"type"`
	Location  models.Location `json:"location"`
	Severity  Severity        `json:"severity,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Urgent reports whether the update bypasses throttling and battery drops.
func (u Update) Urgent() bool {
	return u.Severity == SeverityCritical || u.Severity == SeverityEmergency
}

type subscribeData struct {
	SubscriptionID string          `json:"subscriptionId"`
	Location       models.Location `json:"location"`
	Radius         float64         `json:"radius"`
	DataTypes      []string        `json:"dataTypes"`
	UpdateInterval int64           `json:"updateInterval"` // seconds
	Priority       Priority        `json:"priority"`
}

type subscriptionRef struct {
	SubscriptionID string `json:"subscriptionId"`
}

type emergencyData struct {
	SubscriptionID string          `json:"subscriptionId"`
	Location       models.Location `json:"location"`
	DataType       string          `json:"dataType"`
}

type heartbeatData struct {
	ID string `json:"id"`
}

// RemoteError is an error frame sent by the remote side.
type RemoteError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *RemoteError) Error() string {
	if e.Code == "" {
		return "remote error: " + e.Message
	}
	return fmt.Sprintf("remote error %s: %s", e.Code, e.Message)
}
