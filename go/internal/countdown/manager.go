package countdown

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Clock is the interface we use for time operations.
// In production, use clockwork.NewRealClock(). In tests, a FakeClock.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) clockwork.Ticker
}

// TickFunc is invoked by a countdown's goroutine once per interval with the
// seconds left after the tick. expired is true on the final tick, after
// which the goroutine exits.
//
// The callback must confirm Owns(c) before acting: a tick can race with
// Stop or a superseding Start, and only the caller's own lock can order
// them.
type TickFunc func(c *Countdown, remaining int, expired bool)

// Countdown is one live countdown process for a board
type Countdown struct {
	BoardID   string
	Duration  int
	StartedAt time.Time

	remaining int // owned by the countdown goroutine
	cancel    chan struct{}
	done      chan struct{}
	once      sync.Once
}

// Done is closed when the countdown goroutine has exited
func (c *Countdown) Done() <-chan struct{} {
	return c.done
}

func (c *Countdown) stop() {
	c.once.Do(func() { close(c.cancel) })
}

// Manager owns at most one countdown per board
type Manager struct {
	clock    Clock
	interval time.Duration

	activeMu sync.Mutex
	active   map[string]*Countdown
}

// NewManager creates a countdown manager ticking every interval
func NewManager(clock Clock, interval time.Duration) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Manager{
		clock:    clock,
		interval: interval,
		active:   make(map[string]*Countdown),
	}
}

// Start begins a countdown of seconds ticks for a board, cancelling any
// countdown already running for it.
func (m *Manager) Start(boardID string, seconds int, fn TickFunc) *Countdown {
	c := &Countdown{
		BoardID:   boardID,
		Duration:  seconds,
		StartedAt: m.clock.Now(),
		remaining: seconds,
		cancel:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	// The ticker is created before the countdown becomes visible so a fake
	// clock observes it as soon as Start returns.
	ticker := m.clock.NewTicker(m.interval)

	m.replaceCountdown(boardID, c)
	go m.run(c, ticker, fn)

	log.Debug().
		Str("board_id", boardID).
		Int("seconds", seconds).
		Msg("countdown started")
	return c
}

func (m *Manager) run(c *Countdown, ticker clockwork.Ticker, fn TickFunc) {
	defer close(c.done)
	defer ticker.Stop()

	for {
		select {
		case <-c.cancel:
			return
		case <-ticker.Chan():
			// cancellation wins over a tick that was already pending
			select {
			case <-c.cancel:
				return
			default:
			}

			c.remaining--
			expired := c.remaining <= 0
			if c.remaining < 0 {
				c.remaining = 0
			}
			fn(c, c.remaining, expired)
			if expired {
				return
			}
		}
	}
}

// replaceCountdown atomically replaces the countdown for a board, cancelling
// the previous one so two can never tick for the same board.
func (m *Manager) replaceCountdown(boardID string, c *Countdown) {
	m.activeMu.Lock()
	defer m.activeMu.Unlock()

	if existing, ok := m.active[boardID]; ok {
		existing.stop()
		log.Debug().Str("board_id", boardID).Msg("replaced existing countdown")
	}
	m.active[boardID] = c
}

// Stop cancels the board's countdown. It never waits for the countdown
// goroutine, so it is safe to call while holding locks a tick callback needs.
func (m *Manager) Stop(boardID string) bool {
	m.activeMu.Lock()
	defer m.activeMu.Unlock()

	c, ok := m.active[boardID]
	if !ok {
		return false
	}
	c.stop()
	delete(m.active, boardID)

	log.Debug().Str("board_id", boardID).Msg("cancelled countdown")
	return true
}

// Owns reports whether c is still the live countdown for its board
func (m *Manager) Owns(c *Countdown) bool {
	m.activeMu.Lock()
	defer m.activeMu.Unlock()
	return m.active[c.BoardID] == c
}

// Release forgets c once it has expired, leaving any newer countdown alone
func (m *Manager) Release(c *Countdown) {
	m.activeMu.Lock()
	defer m.activeMu.Unlock()

	if m.active[c.BoardID] == c {
		delete(m.active, c.BoardID)
	}
	c.stop()
}

// Timer describes a live countdown
type Timer struct {
	BoardID   string    `json:"board_id"`
	Duration  int       `json:"duration"`
	StartedAt time.Time `json:"started_at"`
}

// Timers lists the live countdowns ordered by board
func (m *Manager) Timers() []Timer {
	m.activeMu.Lock()
	timers := make([]Timer, 0, len(m.active))
	for _, c := range m.active {
		timers = append(timers, Timer{BoardID: c.BoardID, Duration: c.Duration, StartedAt: c.StartedAt})
	}
	m.activeMu.Unlock()

	slices.SortFunc(timers, func(a, b Timer) int { return strings.Compare(a.BoardID, b.BoardID) })
	return timers
}

// Active returns the number of live countdowns
func (m *Manager) Active() int {
	m.activeMu.Lock()
	defer m.activeMu.Unlock()
	return len(m.active)
}

// StopAll cancels every countdown and waits for their goroutines to exit,
// used on shutdown. Callers must not hold locks a tick callback needs.
func (m *Manager) StopAll() {
	m.activeMu.Lock()
	stopped := make([]*Countdown, 0, len(m.active))
	for boardID, c := range m.active {
		c.stop()
		stopped = append(stopped, c)
		log.Debug().Str("board_id", boardID).Msg("cancelled countdown on shutdown")
	}
	m.active = make(map[string]*Countdown)
	m.activeMu.Unlock()

	for _, c := range stopped {
		<-c.Done()
	}
}
