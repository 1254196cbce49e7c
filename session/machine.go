// Package session holds the lifecycle of one photo restoration: selection,
// the in-flight request with its simulated progress, and the outcome.
package session

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/raushankrgupta/photo-restorer/restoration"
	"go.uber.org/zap"
)

// Status is the state of a session.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusSelected  Status = "selected"
	StatusInFlight  Status = "in_flight"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

const (
	// ProgressCap is the highest simulated progress before the real result arrives.
	ProgressCap = 95.0
	// ProgressDone is pinned on success.
	ProgressDone = 100.0
	// MaxTickIncrement bounds the random advance per tick.
	MaxTickIncrement = 10.0
	// DefaultTickInterval is how often simulated progress advances.
	DefaultTickInterval = 500 * time.Millisecond
)

var (
	ErrInFlight   = errors.New("a restoration is already in progress")
	ErrNoImage    = errors.New("no image selected")
	ErrEmptyImage = errors.New("image is empty")
)

// Restorer performs the remote restoration call.
type Restorer interface {
	Restore(ctx context.Context, image []byte, mimeType, instruction string) (*restoration.Result, error)
}

// Image is an immutable image blob with the metadata needed to display it.
type Image struct {
	Data     []byte
	MIMEType string
	Name     string
	Width    int
	Height   int
}

// Snapshot is a consistent copy of a session's observable state.
type Snapshot struct {
	ID          string
	Status      Status
	Progress    float64
	Instruction string
	Error       string
	Original    *Image
	Restored    *Image
	Epoch       uint64
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Resolution describes how an in-flight call ended. Stale resolutions belong
// to an episode the session already abandoned and were not applied.
type Resolution struct {
	SessionID   string
	Epoch       uint64
	Status      Status
	Err         error
	Duration    time.Duration
	Instruction string
	Original    Image
	Restored    *Image
	Stale       bool
}

// Options tunes a Machine.
type Options struct {
	TickInterval time.Duration
	// Rand returns a value in [0,1) used to size each progress tick.
	Rand      func() float64
	Logger    *zap.Logger
	OnResolve func(Resolution)
	Now       func() time.Time
}

func (o Options) withDefaults() Options {
	if o.TickInterval <= 0 {
		o.TickInterval = DefaultTickInterval
	}
	if o.Rand == nil {
		o.Rand = rand.Float64
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Machine is the session state machine. All transitions are serialised;
// the ticker and the restoration call run on their own goroutines and can
// only write while the episode they were started for is still current.
type Machine struct {
	id       string
	restorer Restorer
	opts     Options
	logger   *zap.Logger

	mu          sync.Mutex
	status      Status
	original    *Image
	restored    *Image
	instruction string
	progress    float64
	errMsg      string
	epoch       uint64
	startedAt   time.Time
	finishedAt  time.Time
	lastActive  time.Time

	cancelCall context.CancelFunc
	stopTicker context.CancelFunc

	subs   map[int]chan Snapshot
	nextID int
	closed bool
}

// NewMachine creates an Idle session.
func NewMachine(id string, restorer Restorer, opts Options) *Machine {
	opts = opts.withDefaults()
	return &Machine{
		id:         id,
		restorer:   restorer,
		opts:       opts,
		logger:     opts.Logger.With(zap.String("session_id", id)),
		status:     StatusIdle,
		lastActive: opts.Now(),
		subs:       make(map[int]chan Snapshot),
	}
}

// ID returns the session identifier.
func (m *Machine) ID() string { return m.id }

// Snapshot returns the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Status returns the current status.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// SelectImage starts a fresh session around img from any state. A pending
// call from the previous episode is abandoned.
func (m *Machine) SelectImage(img Image) error {
	if len(img.Data) == 0 {
		return ErrEmptyImage
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status == StatusInFlight {
		m.logger.Info("Abandoning in-flight restoration for new selection", zap.Uint64("epoch", m.epoch))
	}
	m.stopEpisodeLocked()
	m.epoch++
	m.original = &img
	m.restored = nil
	m.instruction = ""
	m.errMsg = ""
	m.progress = 0
	m.startedAt = time.Time{}
	m.finishedAt = time.Time{}
	m.status = StatusSelected
	m.touchLocked()
	m.publishLocked()
	return nil
}

// SetInstruction updates the user instruction. It is rejected while a request is in flight.
func (m *Machine) SetInstruction(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status == StatusInFlight {
		return ErrInFlight
	}
	m.instruction = text
	m.touchLocked()
	m.publishLocked()
	return nil
}

// BeginRestore issues the restoration asynchronously. It is a no-op returning
// ErrInFlight while a call is outstanding and ErrNoImage from Idle.
func (m *Machine) BeginRestore() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.status {
	case StatusInFlight:
		return ErrInFlight
	case StatusIdle:
		return ErrNoImage
	}

	m.epoch++
	epoch := m.epoch
	m.status = StatusInFlight
	m.errMsg = ""
	m.restored = nil
	m.progress = 0
	m.startedAt = m.opts.Now()
	m.finishedAt = time.Time{}
	m.touchLocked()

	ctx, cancel := context.WithCancel(context.Background())
	m.cancelCall = cancel
	m.startTickerLocked(epoch)

	original := *m.original
	instruction := m.instruction
	m.logger.Info("Restoration started",
		zap.Uint64("epoch", epoch),
		zap.String("mime_type", original.MIMEType),
		zap.Int("bytes", len(original.Data)))
	m.publishLocked()

	go m.run(ctx, epoch, original, instruction)
	return nil
}

// Reset returns the session to Idle from any state.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
	m.touchLocked()
	m.publishLocked()
}

// Close resets the session and ends all subscriptions.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.resetLocked()
	m.closed = true
	for id, ch := range m.subs {
		close(ch)
		delete(m.subs, id)
	}
}

// Subscribe returns a channel that receives the current snapshot and every
// later change. Slow readers only see the latest snapshot. The returned func
// ends the subscription.
func (m *Machine) Subscribe() (<-chan Snapshot, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan Snapshot, 1)
	if m.closed {
		close(ch)
		return ch, func() {}
	}
	id := m.nextID
	m.nextID++
	m.subs[id] = ch
	ch <- m.snapshotLocked()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if c, ok := m.subs[id]; ok {
				close(c)
				delete(m.subs, id)
			}
		})
	}
}

// Touch marks the session as in use without changing its state.
func (m *Machine) Touch() {
	m.mu.Lock()
	m.touchLocked()
	m.mu.Unlock()
}

// LastActive returns the time the session was last used.
func (m *Machine) LastActive() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastActive
}

func (m *Machine) run(ctx context.Context, epoch uint64, original Image, instruction string) {
	res, err := m.restorer.Restore(ctx, original.Data, original.MIMEType, instruction)
	if err == nil && (res == nil || len(res.Data) == 0) {
		err = &restoration.Error{Kind: restoration.KindNoImage, Op: "extract", Err: restoration.ErrNoImage}
	}
	m.resolve(epoch, original, instruction, res, err)
}

func (m *Machine) resolve(epoch uint64, original Image, instruction string, res *restoration.Result, err error) {
	m.mu.Lock()

	r := Resolution{
		SessionID:   m.id,
		Epoch:       epoch,
		Err:         err,
		Instruction: instruction,
		Original:    original,
	}

	if epoch != m.epoch || m.status != StatusInFlight {
		m.mu.Unlock()
		r.Stale = true
		m.logger.Info("Dropping stale restoration result",
			zap.Uint64("epoch", epoch),
			zap.Uint64("current_epoch", m.currentEpoch()))
		m.notifyResolve(r)
		return
	}

	m.stopEpisodeLocked()
	now := m.opts.Now()
	m.finishedAt = now
	r.Duration = now.Sub(m.startedAt)

	if err != nil {
		m.status = StatusFailed
		m.errMsg = restoration.FailureMessage(err)
		m.logger.Warn("Restoration failed",
			zap.Uint64("epoch", epoch),
			zap.String("kind", string(restoration.KindOf(err))),
			zap.Error(err))
	} else {
		mimeType := res.MIMEType
		if mimeType == "" {
			mimeType = original.MIMEType
		}
		m.restored = &Image{Data: res.Data, MIMEType: mimeType, Name: original.Name}
		m.progress = ProgressDone
		m.status = StatusSucceeded
		r.Restored = m.restored
		m.logger.Info("Restoration succeeded",
			zap.Uint64("epoch", epoch),
			zap.Duration("duration", r.Duration),
			zap.Int("bytes", len(res.Data)))
	}
	r.Status = m.status
	m.publishLocked()
	m.mu.Unlock()

	m.notifyResolve(r)
}

func (m *Machine) currentEpoch() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch
}

func (m *Machine) notifyResolve(r Resolution) {
	if m.opts.OnResolve != nil {
		m.opts.OnResolve(r)
	}
}

func (m *Machine) startTickerLocked(epoch uint64) {
	ctx, cancel := context.WithCancel(context.Background())
	m.stopTicker = cancel
	interval := m.opts.TickInterval

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !m.tick(epoch) {
					return
				}
			}
		}
	}()
}

// tick advances the simulated progress; false ends the ticker.
func (m *Machine) tick(epoch uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if epoch != m.epoch || m.status != StatusInFlight {
		return false
	}
	next := m.progress + m.opts.Rand()*MaxTickIncrement
	capped := next >= ProgressCap
	if capped {
		next = ProgressCap
	}
	if next != m.progress {
		m.progress = next
		m.publishLocked()
	}
	return !capped
}

// stopEpisodeLocked tears down the ticker and abandons the pending call.
func (m *Machine) stopEpisodeLocked() {
	if m.stopTicker != nil {
		m.stopTicker()
		m.stopTicker = nil
	}
	if m.cancelCall != nil {
		m.cancelCall()
		m.cancelCall = nil
	}
}

func (m *Machine) resetLocked() {
	if m.status == StatusInFlight {
		m.logger.Info("Abandoning in-flight restoration on reset", zap.Uint64("epoch", m.epoch))
	}
	m.stopEpisodeLocked()
	m.epoch++
	m.status = StatusIdle
	m.original = nil
	m.restored = nil
	m.instruction = ""
	m.errMsg = ""
	m.progress = 0
	m.startedAt = time.Time{}
	m.finishedAt = time.Time{}
}

func (m *Machine) touchLocked() {
	m.lastActive = m.opts.Now()
}

func (m *Machine) snapshotLocked() Snapshot {
	return Snapshot{
		ID:          m.id,
		Status:      m.status,
		Progress:    m.progress,
		Instruction: m.instruction,
		Error:       m.errMsg,
		Original:    m.original,
		Restored:    m.restored,
		Epoch:       m.epoch,
		StartedAt:   m.startedAt,
		FinishedAt:  m.finishedAt,
	}
}

func (m *Machine) publishLocked() {
	if len(m.subs) == 0 {
		return
	}
	snap := m.snapshotLocked()
	for _, ch := range m.subs {
		select {
		case ch <- snap:
		default:
			// Drop the unread snapshot so the reader sees the newest one.
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}
