package realtime

import (
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/ngmaloney/marine-depth/internal/geo"
	"github.com/ngmaloney/marine-depth/internal/models"
)

// Priority of a subscription. Low priority subscriptions are the ones battery
// mode slows down and thins out.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Emergency subscription settings.
const (
	EmergencyRadiusKm = 5.0
	EmergencyInterval = 10 * time.Second
)

// Callback receives updates for one subscription. Calls for a subscription
// never overlap.
type Callback func(Update)

// Subscription describes what an observer wants delivered.
type Subscription struct {
	ID        string
	Location  models.Location
	RadiusKm  float64
	DataTypes []string
	Interval  time.Duration
	Priority  Priority
	Emergency bool
}

// Patch changes selected fields of a subscription. Nil fields are left alone.
type Patch struct {
	Location  *models.Location
	RadiusKm  *float64
	DataTypes []string
	Interval  *time.Duration
	Priority  *Priority
}

func (s Subscription) validate() error {
	if !s.Location.Valid() {
		return fmt.Errorf("%w: location %v out of range", ErrInvalidSubscription, s.Location)
	}
	if s.RadiusKm <= 0 || math.IsNaN(s.RadiusKm) || math.IsInf(s.RadiusKm, 0) {
		return fmt.Errorf("%w: radius must be a positive number of km", ErrInvalidSubscription)
	}
	if len(s.DataTypes) == 0 {
		return fmt.Errorf("%w: at least one data type is required", ErrInvalidSubscription)
	}
	if s.Interval < 0 {
		return fmt.Errorf("%w: negative update interval", ErrInvalidSubscription)
	}
	switch s.Priority {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
	default:
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidSubscription, s.Priority)
	}
	return nil
}

func (s Subscription) apply(p Patch) Subscription {
	if p.Location != nil {
		s.Location = *p.Location
	}
	if p.RadiusKm != nil {
		s.RadiusKm = *p.RadiusKm
	}
	if p.DataTypes != nil {
		s.DataTypes = slices.Clone(p.DataTypes)
	}
	if p.Interval != nil {
		s.Interval = *p.Interval
	}
	if p.Priority != nil {
		s.Priority = *p.Priority
	}
	return s
}

// Matches reports whether an update falls inside the subscription's type set
// and radius.
func (s Subscription) Matches(u Update) bool {
	if !slices.Contains(s.DataTypes, u.Type) {
		return false
	}
	return geo.DistanceKm(s.Location, u.Location) <= s.RadiusKm
}

func (s Subscription) wire() subscribeData {
	return subscribeData{
		SubscriptionID: s.ID,
		Location:       s.Location,
		Radius:         s.RadiusKm,
		DataTypes:      s.DataTypes,
		UpdateInterval: int64(s.Interval / time.Second),
		Priority:       s.Priority,
	}
}

// subscriber owns one subscription's mailbox. A single goroutine drains it,
// so deliveries stay ordered and never overlap.
type subscriber struct {
	sub           Subscription
	lastDelivered time.Time
	confirmed     bool

	callback Callback

	mu      sync.Mutex
	pending []Update
	signal  chan struct{}
	stop    chan struct{}
	done    chan struct{}
	stopped bool
}

func newSubscriber(sub Subscription, cb Callback) *subscriber {
	s := &subscriber{
		sub:      sub,
		callback: cb,
		signal:   make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *subscriber) enqueue(u Update) {
	s.mu.Lock()
	s.pending = append(s.pending, u)
	s.mu.Unlock()
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscriber) loop() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case <-s.signal:
		}
		for {
			u, ok := s.next()
			if !ok {
				break
			}
			s.callback(u)
		}
	}
}

// next pops the oldest pending update. It reports false once stopped so an
// unsubscribed callback is never invoked again.
func (s *subscriber) next() (Update, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || len(s.pending) == 0 {
		return Update{}, false
	}
	u := s.pending[0]
	s.pending = s.pending[1:]
	return u, true
}

// close stops delivery and waits for an in-flight callback to return. It must
// not be called from the subscriber's own callback.
func (s *subscriber) close() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.pending = nil
	s.mu.Unlock()
	close(s.stop)
	<-s.done
}
