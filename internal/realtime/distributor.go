// Package realtime keeps a live connection to the update service, manages
// spatial subscriptions and fans updates out to them with throttling.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/ngmaloney/marine-depth/internal/models"
	"github.com/ngmaloney/marine-depth/internal/observability"
)

const (
	userAgent    = "MarineDepth/1.0 (github.com/ngmaloney/marine-depth)"
	maxFrameSize = 1 << 20
)

// Dialer opens the connection to url.
type Dialer func(ctx context.Context, url string) (*websocket.Conn, error)

func dialWebsocket(ctx context.Context, url string) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"User-Agent": []string{userAgent}},
	})
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(maxFrameSize)
	return conn, nil
}

// Option configures a Distributor.
type Option func(*Distributor)

// WithDialer replaces the websocket dialer.
func WithDialer(dial Dialer) Option {
	return func(d *Distributor) { d.dial = dial }
}

// Distributor owns the connection state machine and the subscription table.
// Every method is safe for concurrent use.
type Distributor struct {
	url     string
	dial    Dialer
	policy  Policy
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
	random  func() float64

	// writeMu serialises frames on the wire. It is taken before mu.
	writeMu sync.Mutex

	mu         sync.Mutex
	state      State
	conn       *websocket.Conn
	cancel     context.CancelFunc
	done       chan struct{}
	attempts   int
	subs       map[string]*subscriber
	order      []string
	outbox     [][]byte
	battery    bool
	quality    Quality
	latency    time.Duration
	heartbeats map[string]time.Time
	listeners  map[int]chan Event
	nextID     int
}

// NewDistributor creates a distributor for the service at url. It does not
// connect until Connect is called.
func NewDistributor(url string, policy Policy, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Distributor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Distributor{
		url:       url,
		dial:      dialWebsocket,
		policy:    policy.withDefaults(),
		clock:     clock,
		logger:    logger,
		metrics:   observability.OrNop(metrics),
		random:    rand.Float64,
		subs:      make(map[string]*subscriber),
		quality:   QualityUnknown,
		listeners: make(map[int]chan Event),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Connect starts the connection state machine and returns at once. Dial
// failures are retried with backoff; only exhausting the attempts is
// reported, as an EventError carrying ErrConnectionFailed. Calling Connect
// after Failed starts over.
func (d *Distributor) Connect(ctx context.Context) error {
	if d.url == "" {
		return errors.New("realtime: no service url configured")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.state {
	case StateConnecting, StateConnected, StateReconnecting:
		return nil
	}
	if d.cancel != nil {
		d.cancel()
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	d.attempts = 0
	d.setStateLocked(StateConnecting)
	go d.run(runCtx, d.done)
	return nil
}

// Disconnect stops every timer, closes the connection and waits for the
// connection goroutines to exit.
// A Connect racing with the wait starts a fresh session.
func (d *Distributor) Disconnect() {
	d.mu.Lock()
	cancel, done, conn := d.cancel, d.done, d.conn
	if cancel == nil {
		d.mu.Unlock()
		return
	}
	d.cancel = nil
	cancel()
	d.setStateLocked(StateDisconnected)
	d.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	<-done
}

// Close disconnects, stops every subscription and closes listener channels.
func (d *Distributor) Close() {
	d.Disconnect()

	d.mu.Lock()
	subs := make([]*subscriber, 0, len(d.subs))
	for _, s := range d.subs {
		subs = append(subs, s)
	}
	d.subs = make(map[string]*subscriber)
	d.order = nil
	for id, ch := range d.listeners {
		close(ch)
		delete(d.listeners, id)
	}
	d.mu.Unlock()

	for _, s := range subs {
		s.close()
	}
	d.metrics.ActiveSubscriptions.Set(0)
}

func (d *Distributor) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer d.settle(done)

	attempt := 0
	for {
		conn, err := d.dial(ctx, d.url)
		if err == nil {
			attempt = 0
			if normal := d.serve(ctx, conn); normal || ctx.Err() != nil {
				return
			}
		} else {
			if ctx.Err() != nil {
				return
			}
			d.logger.Warn("realtime dial failed", "url", d.url, "attempt", attempt, "error", err)
		}

		attempt++
		if attempt > d.policy.MaxAttempts {
			d.fail(ctx)
			return
		}
		delay := d.policy.Delay(attempt)
		if !d.transition(ctx, StateReconnecting, attempt) {
			return
		}
		d.logger.Info("realtime reconnecting", "attempt", attempt, "delay", delay)
		select {
		case <-ctx.Done():
			return
		case <-d.clock.After(delay):
		}
		d.metrics.Reconnects.Inc()
	}
}

// settle marks a session that ended on its own as disconnected.
func (d *Distributor) settle(done chan struct{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done != done || d.state == StateFailed {
		return
	}
	d.setStateLocked(StateDisconnected)
}

func (d *Distributor) transition(ctx context.Context, s State, attempt int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	d.attempts = attempt
	d.setStateLocked(s)
	return true
}

func (d *Distributor) fail(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	d.logger.Error("realtime reconnect attempts exhausted", "max_attempts", d.policy.MaxAttempts)
	d.setStateLocked(StateFailed)
	d.emitLocked(Event{Type: EventError, State: StateFailed, Err: ErrConnectionFailed})
}

// serve runs one open connection. It reports whether the remote side closed
// it normally, in which case no reconnect is attempted.
func (d *Distributor) serve(ctx context.Context, conn *websocket.Conn) bool {
	connCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	if err := d.open(connCtx, conn); err != nil {
		d.logger.Warn("realtime connection setup failed", "error", err)
		d.detach(conn, err)
		_ = conn.CloseNow()
		return false
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.heartbeat(connCtx, conn)
	}()

	err := d.readLoop(connCtx, conn)
	d.detach(conn, err)
	_ = conn.CloseNow()
	if ctx.Err() != nil {
		return true
	}
	normal := websocket.CloseStatus(err) == websocket.StatusNormalClosure
	d.logger.Warn("realtime connection closed", "normal", normal, "error", err)
	return normal
}

// open publishes the connection, re-announces every subscription and flushes
// frames queued while offline, in that order.
func (d *Distributor) open(ctx context.Context, conn *websocket.Conn) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	d.mu.Lock()
	if err := ctx.Err(); err != nil {
		d.mu.Unlock()
		return err
	}
	d.conn = conn
	d.attempts = 0
	d.heartbeats = make(map[string]time.Time)
	announce := make([]subscribeData, 0, len(d.order))
	for _, id := range d.order {
		announce = append(announce, d.subs[id].sub.wire())
	}
	queued := d.outbox
	d.outbox = nil
	d.setStateLocked(StateConnected)
	d.emitLocked(Event{Type: EventConnected, State: StateConnected})
	d.mu.Unlock()

	d.logger.Info("realtime connected", "url", d.url, "subscriptions", len(announce), "queued", len(queued))

	for _, sub := range announce {
		msg, err := newEnvelope(MsgSubscribe, sub, d.clock.Now())
		if err != nil {
			return err
		}
		if err := d.writeFrame(ctx, conn, msg); err != nil {
			d.requeue(queued)
			return fmt.Errorf("announcing subscription %s: %w", sub.SubscriptionID, err)
		}
	}
	for i, msg := range queued {
		if err := d.writeFrame(ctx, conn, msg); err != nil {
			d.requeue(queued[i:])
			return fmt.Errorf("flushing queued frames: %w", err)
		}
	}
	return nil
}

func (d *Distributor) requeue(frames [][]byte) {
	if len(frames) == 0 {
		return
	}
	d.mu.Lock()
	d.outbox = append(slices.Clone(frames), d.outbox...)
	d.mu.Unlock()
}

func (d *Distributor) detach(conn *websocket.Conn, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == conn {
		d.conn = nil
		d.heartbeats = nil
	}
	d.emitLocked(Event{Type: EventDisconnected, State: d.state, Err: err})
}

// writeFrame sends one frame. The caller holds writeMu.
func (d *Distributor) writeFrame(ctx context.Context, conn *websocket.Conn, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, d.policy.WriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, msg)
}

func (d *Distributor) write(ctx context.Context, conn *websocket.Conn, msg []byte) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return d.writeFrame(ctx, conn, msg)
}

// Send writes a frame now, or queues it for the next open connection.
func (d *Distributor) Send(ctx context.Context, t MessageType, data any) error {
	msg, err := newEnvelope(t, data, d.clock.Now())
	if err != nil {
		return err
	}

	d.mu.Lock()
	conn := d.conn
	if conn == nil {
		d.outbox = append(d.outbox, msg)
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	if err := d.write(ctx, conn, msg); err != nil {
		d.logger.Warn("realtime send failed, queued for retry", "type", t, "error", err)
		d.mu.Lock()
		d.outbox = append(d.outbox, msg)
		d.mu.Unlock()
	}
	return nil
}

// announce tells the remote side about a subscription change. Offline
// changes are not queued; the whole table is announced on the next open.
func (d *Distributor) announce(conn *websocket.Conn, t MessageType, data any) {
	if conn == nil {
		return
	}
	msg, err := newEnvelope(t, data, d.clock.Now())
	if err != nil {
		d.logger.Error("encoding announcement failed", "type", t, "error", err)
		return
	}
	if err := d.write(context.Background(), conn, msg); err != nil {
		d.logger.Warn("realtime announce failed", "type", t, "error", err)
	}
}

func (d *Distributor) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			d.logger.Warn("dropping malformed frame", "error", err)
			continue
		}
		d.handle(ctx, conn, env)
	}
}

func (d *Distributor) handle(ctx context.Context, conn *websocket.Conn, env Envelope) {
	switch env.Type {
	case MsgHeartbeatResponse:
		var hb heartbeatData
		if err := json.Unmarshal(env.Data, &hb); err == nil {
			d.recordHeartbeat(hb.ID)
		}

	case MsgHeartbeat:
		msg, err := newEnvelope(MsgHeartbeatResponse, env.Data, d.clock.Now())
		if err == nil {
			if err := d.write(ctx, conn, msg); err != nil {
				d.logger.Warn("heartbeat reply failed", "error", err)
			}
		}

	case MsgSubscriptionConfirmed:
		var ref subscriptionRef
		if err := json.Unmarshal(env.Data, &ref); err != nil {
			return
		}
		d.mu.Lock()
		if s, ok := d.subs[ref.SubscriptionID]; ok {
			s.confirmed = true
		}
		d.mu.Unlock()
		d.logger.Debug("subscription confirmed", "id", ref.SubscriptionID)

	case MsgUpdate, MsgAlert, MsgEmergency:
		var u Update
		if err := json.Unmarshal(env.Data, &u); err != nil {
			d.logger.Warn("dropping malformed update", "type", env.Type, "error", err)
			return
		}
		event := EventDataUpdate
		switch env.Type {
		case MsgAlert:
			event = EventAlertReceived
			if u.Type == "" {
				u.Type = DataAlert
			}
		case MsgEmergency:
			event = EventEmergencyReceived
			if u.Severity == "" {
				u.Severity = SeverityEmergency
			}
		}
		d.dispatch(u, event)

	case MsgError:
		remote := &RemoteError{}
		if err := json.Unmarshal(env.Data, remote); err != nil {
			remote.Message = string(env.Data)
		}
		d.logger.Warn("realtime service reported an error", "error", remote)
		d.emit(Event{Type: EventError, Err: remote})

	default:
		d.logger.Debug("ignoring frame", "type", env.Type)
	}
}

func (d *Distributor) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := d.clock.NewTicker(d.policy.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}

		now := d.clock.Now()
		id := uuid.NewString()
		d.mu.Lock()
		overdue := false
		for _, sent := range d.heartbeats {
			if now.Sub(sent) >= d.policy.HeartbeatTimeout {
				overdue = true
			}
		}
		if !overdue && d.heartbeats != nil {
			d.heartbeats[id] = now
		}
		d.mu.Unlock()

		if overdue {
			d.logger.Warn("heartbeat timed out, dropping connection", "timeout", d.policy.HeartbeatTimeout)
			_ = conn.CloseNow()
			return
		}

		msg, err := newEnvelope(MsgHeartbeat, heartbeatData{ID: id}, now)
		if err != nil {
			continue
		}
		if err := d.write(ctx, conn, msg); err != nil {
			d.logger.Warn("heartbeat send failed", "error", err)
		}
	}
}

func (d *Distributor) recordHeartbeat(id string) {
	d.mu.Lock()
	sent, ok := d.heartbeats[id]
	if !ok {
		d.mu.Unlock()
		return
	}
	for k, t := range d.heartbeats {
		if !t.After(sent) {
			delete(d.heartbeats, k)
		}
	}
	rtt := d.clock.Since(sent)
	d.latency = rtt
	d.quality = ClassifyLatency(rtt)
	d.emitLocked(Event{Type: EventStateChanged, State: d.state, Quality: d.quality, Latency: rtt})
	d.mu.Unlock()

	d.metrics.HeartbeatRTT.Observe(rtt.Seconds())
}

// Subscribe registers a subscription and announces it when connected. The
// callback runs on the subscription's own goroutine.
func (d *Distributor) Subscribe(loc models.Location, radiusKm float64, dataTypes []string, interval time.Duration, priority Priority, cb Callback) (string, error) {
	return d.add(Subscription{
		ID:        uuid.NewString(),
		Location:  loc,
		RadiusKm:  radiusKm,
		DataTypes: slices.Clone(dataTypes),
		Interval:  interval,
		Priority:  priority,
	}, cb)
}

func (d *Distributor) add(sub Subscription, cb Callback) (string, error) {
	if cb == nil {
		return "", fmt.Errorf("%w: callback is required", ErrInvalidSubscription)
	}
	if err := sub.validate(); err != nil {
		return "", err
	}

	d.mu.Lock()
	d.subs[sub.ID] = newSubscriber(sub, cb)
	d.order = append(d.order, sub.ID)
	d.metrics.ActiveSubscriptions.Set(float64(len(d.subs)))
	conn := d.conn
	d.mu.Unlock()

	d.announce(conn, MsgSubscribe, sub.wire())
	return sub.ID, nil
}

// Unsubscribe removes a subscription. When it returns no callback for id is
// running and none will run again. It must not be called from that
// subscription's own callback.
func (d *Distributor) Unsubscribe(id string) error {
	d.mu.Lock()
	s, ok := d.subs[id]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("%w: unknown subscription %s", ErrInvalidSubscription, id)
	}
	delete(d.subs, id)
	d.order = slices.DeleteFunc(d.order, func(o string) bool { return o == id })
	d.metrics.ActiveSubscriptions.Set(float64(len(d.subs)))
	conn := d.conn
	d.mu.Unlock()

	s.close()
	d.announce(conn, MsgUnsubscribe, subscriptionRef{SubscriptionID: id})
	return nil
}

// UpdateSubscription applies patch in place and re-announces the
// subscription. An invalid result leaves the subscription unchanged.
func (d *Distributor) UpdateSubscription(id string, patch Patch) error {
	d.mu.Lock()
	s, ok := d.subs[id]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("%w: unknown subscription %s", ErrInvalidSubscription, id)
	}
	next := s.sub.apply(patch)
	if err := next.validate(); err != nil {
		d.mu.Unlock()
		return err
	}
	s.sub = next
	conn := d.conn
	d.mu.Unlock()

	d.announce(conn, MsgUpdateSubscription, next.wire())
	return nil
}

// RequestEmergencyUpdates subscribes to dataType within a small radius at a
// short interval with critical priority, and asks the service for emergency
// coverage of loc.
func (d *Distributor) RequestEmergencyUpdates(ctx context.Context, loc models.Location, dataType string, cb Callback) (string, error) {
	id, err := d.add(Subscription{
		ID:        uuid.NewString(),
		Location:  loc,
		RadiusKm:  EmergencyRadiusKm,
		DataTypes: []string{dataType},
		Interval:  EmergencyInterval,
		Priority:  PriorityCritical,
		Emergency: true,
	}, cb)
	if err != nil {
		return "", err
	}
	d.logger.Warn("emergency updates requested", "location", loc, "type", dataType, "subscription", id)
	if err := d.Send(ctx, MsgEmergency, emergencyData{SubscriptionID: id, Location: loc, DataType: dataType}); err != nil {
		return id, err
	}
	return id, nil
}

// Publish delivers a locally sourced update as if it had arrived from the
// service and returns how many subscriptions received it.
func (d *Distributor) Publish(u Update) int {
	event := EventDataUpdate
	switch {
	case u.Severity == SeverityEmergency:
		event = EventEmergencyReceived
	case u.Type == DataAlert:
		event = EventAlertReceived
	}
	return d.dispatch(u, event)
}

func (d *Distributor) dispatch(u Update, event EventType) int {
	now := d.clock.Now()
	if u.Timestamp.IsZero() {
		u.Timestamp = now
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	delivered := 0
	for _, id := range d.order {
		s := d.subs[id]
		if !s.sub.Matches(u) {
			continue
		}
		if !u.Urgent() {
			lowPower := d.battery && s.sub.Priority == PriorityLow
			interval := s.sub.Interval
			if lowPower {
				interval = max(interval, d.policy.BatteryFloor)
			}
			if !s.lastDelivered.IsZero() && now.Sub(s.lastDelivered) < interval {
				d.metrics.Deliveries.WithLabelValues("throttled").Inc()
				continue
			}
			if lowPower && d.random() < d.policy.BatteryDropRate {
				d.metrics.Deliveries.WithLabelValues("battery_dropped").Inc()
				continue
			}
		}
		s.lastDelivered = now
		s.enqueue(u)
		delivered++
		d.metrics.Deliveries.WithLabelValues("delivered").Inc()
	}

	d.emitLocked(Event{Type: event, State: d.state, Update: &u})
	return delivered
}

// SetBatteryMode turns battery optimisation on or off.
func (d *Distributor) SetBatteryMode(on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.battery = on
}

// Status returns a snapshot of the connection and subscription table.
func (d *Distributor) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Status{
		State:         d.state,
		Quality:       d.quality,
		Latency:       d.latency,
		Attempts:      d.attempts,
		Subscriptions: len(d.subs),
		Queued:        len(d.outbox),
		BatteryMode:   d.battery,
	}
}

// Subscriptions returns the active subscriptions in creation order.
func (d *Distributor) Subscriptions() []Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Subscription, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.subs[id].sub)
	}
	return out
}

// Listen returns a channel of events and a func that stops delivery to it.
// Events are dropped for a listener whose buffer is full.
func (d *Distributor) Listen(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.listeners[id] = ch
	d.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			if _, ok := d.listeners[id]; ok {
				delete(d.listeners, id)
				close(ch)
			}
		})
	}
}

func (d *Distributor) setStateLocked(s State) {
	if d.state == s {
		return
	}
	d.state = s
	d.metrics.ConnectionState.Set(float64(s))
	d.emitLocked(Event{Type: EventStateChanged, State: s, Quality: d.quality, Latency: d.latency})
}

func (d *Distributor) emit(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.emitLocked(ev)
}

func (d *Distributor) emitLocked(ev Event) {
	if ev.At.IsZero() {
		ev.At = d.clock.Now()
	}
	for _, ch := range d.listeners {
		select {
		case ch <- ev:
		default:
		}
	}
}
