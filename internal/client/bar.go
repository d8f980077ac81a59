// Package client implements the reporting side of the relay: a Bar observes
// one workload's progress and a background worker delivers throttled events
// over HTTP. Nothing in this package ever blocks or fails the instrumented
// hot loop; delivery is best-effort and losses are absorbed silently.
package client

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/pulseboard/pulseboard/internal/hostinfo"
	"github.com/pulseboard/pulseboard/internal/id/uuid"
	"github.com/pulseboard/pulseboard/internal/progress"
)

const (
	defaultPushInterval   = 250 * time.Millisecond
	defaultRequestTimeout = 2 * time.Second

	// lifecycleBuffer holds start and error events awaiting delivery. Only a
	// producer spamming Fail can fill it; the terminal close never needs a
	// slot because the worker synthesizes it while draining.
	lifecycleBuffer = 16

	closeGraceSlack = time.Second
)

// Reporter is the capability surface shared with local progress renderers.
// A Bar both satisfies it and can mirror into another implementation, so a
// workload keeps its terminal bar while also reporting remotely.
type Reporter interface {
	Advance(n float64)
	SetDescription(desc string)
	Close() error
}

// Config describes one progress stream and how to deliver it.
type Config struct {
	// ServerURL is the ingest endpoint events are posted to. Required
	// unless Transport is set.
	ServerURL string
	// Token is sent as a bearer credential when non-empty.
	Token string
	// PushInterval is the minimum spacing between update deliveries.
	// Defaults to 250ms.
	PushInterval time.Duration
	// RequestTimeout bounds each delivery attempt. Defaults to 2s.
	RequestTimeout time.Duration
	// TaskID identifies the stream; a UUID is generated when empty.
	TaskID string
	// Desc is the human-readable task description.
	Desc string
	// Total is the expected unit count; values <= 0 mean the total is
	// unknown.
	Total float64
	// Unit names what the count measures (rows, bytes, files).
	Unit string
	// Meta is free-form context attached to every event.
	Meta map[string]any
	// HostMeta attaches host facts (hostname, pid, cpu, memory) to the
	// stream's meta when true.
	HostMeta bool
	// Mirror receives Advance/SetDescription/Close alongside remote
	// delivery, keeping a local renderer in step.
	Mirror Reporter
	// Logger reports delivery problems at debug level. Defaults to no-op.
	Logger *zap.Logger
	// Transport overrides the HTTP poster, used by tests.
	Transport Poster
}

// Bar tracks one task's progress and reports it remotely. All methods are
// safe for concurrent use and return immediately; delivery happens on a
// dedicated goroutine.
type Bar struct {
	cfg       Config
	transport Poster
	logger    *zap.Logger
	mirror    Reporter

	mu    sync.Mutex
	n     float64
	total *float64
	desc  string
	unit  string
	meta  map[string]any

	// updates holds at most the newest unsent update; lifecycle carries
	// start and error events, which are never superseded.
	updates   chan progress.Event
	lifecycle chan progress.Event

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
}

var _ Reporter = (*Bar)(nil)

// New constructs a Bar, starts its delivery worker, and emits the stream's
// single start event.
func New(cfg Config) (*Bar, error) {
	if cfg.PushInterval <= 0 {
		cfg.PushInterval = defaultPushInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TaskID == "" {
		id, err := uuid.Generator{}.NewID()
		if err != nil {
			return nil, fmt.Errorf("generate task id: %w", err)
		}
		cfg.TaskID = id
	}
	transport := cfg.Transport
	if transport == nil {
		if cfg.ServerURL == "" {
			return nil, fmt.Errorf("server url is required")
		}
		transport = NewHTTPPoster(cfg.ServerURL, cfg.Token, cfg.RequestTimeout)
	}

	meta := maps.Clone(cfg.Meta)
	if cfg.HostMeta {
		if meta == nil {
			meta = make(map[string]any, 1)
		}
		meta["host"] = hostinfo.Collect()
	}

	b := &Bar{
		cfg:       cfg,
		transport: transport,
		logger:    logger,
		mirror:    cfg.Mirror,
		desc:      cfg.Desc,
		unit:      cfg.Unit,
		meta:      meta,
		updates:   make(chan progress.Event, 1),
		lifecycle: make(chan progress.Event, lifecycleBuffer),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	if cfg.Total > 0 {
		total := cfg.Total
		b.total = &total
	}

	b.mu.Lock()
	start := b.eventLocked(progress.StatusStart)
	b.mu.Unlock()
	b.lifecycle <- start // fresh channel, guaranteed room

	go b.run()
	return b, nil
}

// TaskID returns the stream identifier, generated or configured.
func (b *Bar) TaskID() string {
	return b.cfg.TaskID
}

// Add advances the completed count by n and schedules an update.
func (b *Bar) Add(n float64) {
	if b.closed.Load() {
		return
	}
	b.mu.Lock()
	b.n += n
	b.enqueueUpdate(b.eventLocked(progress.StatusUpdate))
	b.mu.Unlock()

	if b.mirror != nil {
		b.mirror.Advance(n)
	}
}

// Advance is Add under the Reporter capability name.
func (b *Bar) Advance(n float64) {
	b.Add(n)
}

// Set replaces the completed count and schedules an update.
func (b *Bar) Set(n float64) {
	if b.closed.Load() {
		return
	}
	b.mu.Lock()
	b.n = n
	b.enqueueUpdate(b.eventLocked(progress.StatusUpdate))
	b.mu.Unlock()
}

// SetDescription replaces the task description and schedules an update.
func (b *Bar) SetDescription(desc string) {
	if b.closed.Load() {
		return
	}
	b.mu.Lock()
	b.desc = desc
	b.enqueueUpdate(b.eventLocked(progress.StatusUpdate))
	b.mu.Unlock()

	if b.mirror != nil {
		b.mirror.SetDescription(desc)
	}
}

// SetTotal replaces the expected unit count and schedules an update.
func (b *Bar) SetTotal(total float64) {
	if b.closed.Load() {
		return
	}
	b.mu.Lock()
	b.total = &total
	b.enqueueUpdate(b.eventLocked(progress.StatusUpdate))
	b.mu.Unlock()
}

// Fail reports a failure without ending the stream. The reason travels in
// the event's meta; a later Close still delivers the terminal close.
func (b *Bar) Fail(reason string) {
	if b.closed.Load() {
		return
	}
	b.mu.Lock()
	evt := b.eventLocked(progress.StatusError)
	b.mu.Unlock()

	if evt.Meta == nil {
		evt.Meta = make(map[string]any, 1)
	}
	evt.Meta["error"] = reason
	b.enqueueLifecycle(evt)
}

// Close stops the Bar: the worker flushes whatever is buffered, sends the
// stream's single close event, and exits. Close is idempotent, waits no
// longer than a bounded grace period, and returns nil even when delivery
// failed. Mutations after Close are silently ignored.
func (b *Bar) Close() error {
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		close(b.stopCh)
		if b.mirror != nil {
			if err := b.mirror.Close(); err != nil {
				b.logger.Debug("mirror close failed",
					zap.String("task_id", b.cfg.TaskID),
					zap.Error(err))
			}
		}
	})

	grace := b.cfg.PushInterval + b.cfg.RequestTimeout + closeGraceSlack
	select {
	case <-b.doneCh:
	case <-time.After(grace):
		b.logger.Warn("delivery worker did not drain in time",
			zap.String("task_id", b.cfg.TaskID),
			zap.Duration("grace", grace))
	}
	return nil
}

// eventLocked snapshots the bar's full state into an event. Every event
// carries the complete field set so a superseded update loses nothing.
func (b *Bar) eventLocked(status progress.Status) progress.Event {
	evt := progress.Event{
		TaskID:    b.cfg.TaskID,
		Status:    status,
		N:         progress.Float64(b.n),
		Desc:      progress.String(b.desc),
		Timestamp: progress.EpochSeconds(time.Now()),
	}
	if b.total != nil {
		evt.Total = progress.Float64(*b.total)
	}
	if b.unit != "" {
		evt.Unit = progress.String(b.unit)
	}
	if len(b.meta) > 0 {
		evt.Meta = maps.Clone(b.meta)
	}
	return evt
}

// enqueueUpdate keeps only the newest unsent update: a full slot is drained
// and replaced, never waited on.
func (b *Bar) enqueueUpdate(evt progress.Event) {
	for {
		select {
		case b.updates <- evt:
			return
		default:
		}
		select {
		case <-b.updates:
		default:
		}
	}
}

// enqueueLifecycle hands an error event to the worker. Unlike updates these
// are never superseded, but a producer that fills the buffer loses the
// overflow rather than blocking.
func (b *Bar) enqueueLifecycle(evt progress.Event) {
	select {
	case b.lifecycle <- evt:
	default:
		b.logger.Debug("lifecycle event dropped, buffer full",
			zap.String("task_id", b.cfg.TaskID),
			zap.String("status", string(evt.Status)))
	}
}

// run is the delivery worker. Updates are throttled to one per PushInterval
// with only the newest buffered event surviving; lifecycle events go out as
// soon as they are dequeued. The first send is immediate because lastSend
// starts at the zero time.
func (b *Bar) run() {
	defer close(b.doneCh)

	var pending *progress.Event
	var lastSend time.Time
	timer := time.NewTimer(b.cfg.PushInterval)
	if !timer.Stop() {
		<-timer.C
	}
	timerActive := false

	for {
		// Lifecycle events jump ahead of buffered updates so start and
		// error boundaries keep their position on the wire.
		select {
		case evt := <-b.lifecycle:
			b.post(evt)
			lastSend = time.Now()
			continue
		default:
		}

		select {
		case evt := <-b.lifecycle:
			b.post(evt)
			lastSend = time.Now()
		case evt := <-b.updates:
			if elapsed := time.Since(lastSend); elapsed >= b.cfg.PushInterval {
				b.post(evt)
				lastSend = time.Now()
				pending = nil
				b.stopTimer(timer, &timerActive)
			} else {
				pending = &evt
				b.resetTimer(timer, &timerActive, b.cfg.PushInterval-elapsed)
			}
		case <-timer.C:
			timerActive = false
			if pending != nil {
				b.post(*pending)
				lastSend = time.Now()
				pending = nil
			}
		case <-b.stopCh:
			b.drain(pending)
			return
		}
	}
}

// drain flushes the buffered update and both channels, then sends the
// stream's single terminal close. Throttling does not apply on the way out,
// which is what guarantees the close reaches the wire.
func (b *Bar) drain(pending *progress.Event) {
	if pending != nil {
		b.post(*pending)
	}
	for {
		select {
		case evt := <-b.lifecycle:
			b.post(evt)
			continue
		default:
		}
		select {
		case evt := <-b.updates:
			b.post(evt)
		default:
			b.mu.Lock()
			closeEvt := b.eventLocked(progress.StatusClose)
			b.mu.Unlock()
			b.post(closeEvt)
			return
		}
	}
}

// post performs one bounded delivery attempt. Failures of any kind are
// logged and swallowed; the next scheduled update is the only retry.
func (b *Bar) post(evt progress.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.RequestTimeout)
	defer cancel()
	if err := b.transport.Post(ctx, evt); err != nil {
		b.logger.Debug("progress delivery failed",
			zap.String("task_id", b.cfg.TaskID),
			zap.String("status", string(evt.Status)),
			zap.Error(err))
	}
}

func (b *Bar) resetTimer(timer *time.Timer, timerActive *bool, d time.Duration) {
	if *timerActive {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}
	timer.Reset(d)
	*timerActive = true
}

func (b *Bar) stopTimer(timer *time.Timer, timerActive *bool) {
	if !*timerActive {
		return
	}
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	*timerActive = false
}
