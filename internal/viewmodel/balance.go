package viewmodel

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/congo-pay/walletledger/internal/logging"
)

const (
	DefaultDebounce     = 200 * time.Millisecond
	DefaultFetchTimeout = 30 * time.Second
)

// BalanceSource reads the authoritative balance for an owner.
type BalanceSource interface {
	GetBalance(ctx context.Context, ownerID string) (int64, error)
}

// Phase is the refresh state of a BalanceModel.
type Phase int

const (
	Idle Phase = iota
	Pending
	InFlight
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Pending:
		return "pending"
	case InFlight:
		return "in_flight"
	default:
		return "unknown"
	}
}

// Snapshot is an immutable copy of the model state.
type Snapshot struct {
	OwnerID    string
	Balance    int64
	Loading    bool
	Refreshing bool
	Phase      Phase
	Err        error
	UpdatedAt  time.Time
}

// Option configures a BalanceModel.
type Option func(*BalanceModel)

// WithDebounce sets the quiet window that coalesces refresh bursts.
func WithDebounce(d time.Duration) Option {
	return func(m *BalanceModel) {
		if d >= 0 {
			m.debounce = d
		}
	}
}

// WithScheduler replaces the timer source.
func WithScheduler(s Scheduler) Option {
	return func(m *BalanceModel) {
		if s != nil {
			m.sched = s
		}
	}
}

// WithFetchTimeout bounds each GetBalance call.
func WithFetchTimeout(d time.Duration) Option {
	return func(m *BalanceModel) {
		if d > 0 {
			m.fetchTimeout = d
		}
	}
}

// WithLogger sets the logger used for refresh failures.
func WithLogger(l *slog.Logger) Option {
	return func(m *BalanceModel) {
		if l != nil {
			m.logger = l
		}
	}
}

// BalanceModel holds the last known balance of the active owner. Refreshes
// are debounced and at most one GetBalance call is in flight at a time.
// Optimistic adjustments stay local until the next successful refresh.
type BalanceModel struct {
	source       BalanceSource
	sched        Scheduler
	debounce     time.Duration
	fetchTimeout time.Duration
	logger       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	owner      string
	balance    int64
	loading    bool
	refreshing bool
	phase      Phase
	err        error
	updatedAt  time.Time
	generation uint64
	schedule   uint64
	timer      Timer
	abortFetch context.CancelFunc
	done       chan struct{}
	subs       map[int]chan Snapshot
	nextSub    int
	closed     bool
}

// NewBalanceModel builds a model reading from source.
func NewBalanceModel(source BalanceSource, opts ...Option) *BalanceModel {
	ctx, cancel := context.WithCancel(context.Background())
	m := &BalanceModel{
		source:       source,
		sched:        RealScheduler(),
		debounce:     DefaultDebounce,
		fetchTimeout: DefaultFetchTimeout,
		logger:       logging.Discard(),
		ctx:          ctx,
		cancel:       cancel,
		subs:         make(map[int]chan Snapshot),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var closedDone = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Refresh schedules a balance read for ownerID after the debounce window and
// returns a channel closed when that read settles. While a read is in flight
// the call is dropped and an already closed channel is returned.
func (m *BalanceModel) Refresh(ownerID string) <-chan struct{} {
	return m.requestRefresh(ownerID, false)
}

// RefreshManually is Refresh for user-initiated pulls; it raises Refreshing
// instead of Loading.
func (m *BalanceModel) RefreshManually(ownerID string) <-chan struct{} {
	return m.requestRefresh(ownerID, true)
}

func (m *BalanceModel) requestRefresh(ownerID string, manual bool) <-chan struct{} {
	m.mu.Lock()
	if m.closed || ownerID == "" {
		m.mu.Unlock()
		return closedDone
	}
	if ownerID != m.owner {
		m.switchOwnerLocked(ownerID)
	}
	if m.phase == InFlight {
		m.mu.Unlock()
		return closedDone
	}
	done := m.scheduleLocked(manual)
	m.publishLocked()
	m.mu.Unlock()
	return done
}

// scheduleLocked moves the model to Pending and (re)arms the debounce timer.
func (m *BalanceModel) scheduleLocked(manual bool) chan struct{} {
	if m.phase == Idle {
		m.done = make(chan struct{})
		m.phase = Pending
	}
	if m.timer != nil {
		m.timer.Stop()
	}
	if manual {
		m.refreshing = true
	} else {
		m.loading = true
	}

	m.schedule++
	gen, seq := m.generation, m.schedule
	m.timer = m.sched.AfterFunc(m.debounce, func() { m.fire(gen, seq) })
	return m.done
}

func (m *BalanceModel) fire(gen, seq uint64) {
	m.mu.Lock()
	if m.closed || gen != m.generation || seq != m.schedule || m.phase != Pending {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithTimeout(m.ctx, m.fetchTimeout)
	m.phase = InFlight
	m.timer = nil
	m.abortFetch = cancel
	owner := m.owner
	m.publishLocked()
	m.mu.Unlock()

	balance, err := m.source.GetBalance(ctx, owner)
	cancel()

	m.mu.Lock()
	if gen != m.generation {
		// The owner changed while the read was in flight.
		m.mu.Unlock()
		return
	}
	if err != nil {
		m.logger.Warn("balance refresh failed", slog.String("owner_id", owner), slog.Any("error", err))
		m.balance = 0
	} else {
		m.balance = balance
	}
	m.err = err
	m.loading = false
	m.refreshing = false
	m.phase = Idle
	m.abortFetch = nil
	m.updatedAt = time.Now().UTC()
	close(m.done)
	m.done = nil
	m.publishLocked()
	m.mu.Unlock()
}

// SetOwner switches the active identity. Any change resets the balance to
// zero and drops pending or in-flight reads; a non-empty owner then gets a
// fresh refresh. An empty owner signs out.
func (m *BalanceModel) SetOwner(ownerID string) <-chan struct{} {
	m.mu.Lock()
	if m.closed || ownerID == m.owner {
		m.mu.Unlock()
		return closedDone
	}
	m.switchOwnerLocked(ownerID)
	done := closedDone
	if ownerID != "" {
		done = m.scheduleLocked(false)
	}
	m.publishLocked()
	m.mu.Unlock()
	return done
}

func (m *BalanceModel) switchOwnerLocked(ownerID string) {
	m.generation++
	if m.abortFetch != nil {
		m.abortFetch()
		m.abortFetch = nil
	}
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.done != nil {
		close(m.done)
		m.done = nil
	}
	m.owner = ownerID
	m.balance = 0
	m.err = nil
	m.loading = false
	m.refreshing = false
	m.phase = Idle
}

// UpdateBalanceOptimistically applies delta locally, never below zero. The
// next successful refresh overwrites it.
func (m *BalanceModel) UpdateBalanceOptimistically(delta int64) {
	m.mu.Lock()
	m.balance += delta
	if m.balance < 0 {
		m.balance = 0
	}
	m.publishLocked()
	m.mu.Unlock()
}

// SetBalanceDirectly overrides the held balance. Negative values clamp to zero.
func (m *BalanceModel) SetBalanceDirectly(value int64) {
	if value < 0 {
		value = 0
	}
	m.mu.Lock()
	m.balance = value
	m.publishLocked()
	m.mu.Unlock()
}

// Snapshot returns the current state.
func (m *BalanceModel) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Balance returns the held balance.
func (m *BalanceModel) Balance() int64 {
	return m.Snapshot().Balance
}

// Subscribe delivers the latest snapshot after each change. Slow consumers
// only see the most recent state. The returned func unsubscribes.
func (m *BalanceModel) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	ch <- m.snapshotLocked()
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if _, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(ch)
			}
		})
	}
}

// Close stops timers, abandons in-flight reads and closes subscriber channels.
func (m *BalanceModel) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.generation++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.done != nil {
		close(m.done)
		m.done = nil
	}
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
	m.mu.Unlock()
	m.cancel()
}

func (m *BalanceModel) snapshotLocked() Snapshot {
	return Snapshot{
		OwnerID:    m.owner,
		Balance:    m.balance,
		Loading:    m.loading,
		Refreshing: m.refreshing,
		Phase:      m.phase,
		Err:        m.err,
		UpdatedAt:  m.updatedAt,
	}
}

// publishLocked replaces any undelivered snapshot with the current one.
func (m *BalanceModel) publishLocked() {
	snap := m.snapshotLocked()
	for _, ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}
