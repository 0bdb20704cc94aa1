package viewer

import (
	"sync"
	"time"

	"github.com/k-code-yt/gogo-lamp/internal/clock"
	"github.com/k-code-yt/gogo-lamp/internal/payment/domain"
	"github.com/sirupsen/logrus"
)

type State string

const (
	State_Idle       State = "idle"
	State_Activating State = "activating"
	State_Active     State = "active"
	State_Cooling    State = "cooling"
)

const HistoryTimeLayout = "15:04:05"

type Timings struct {
	Activation  time.Duration
	Dwell       time.Duration
	Cooldown    time.Duration
	HistorySize int
}

func DefaultTimings() Timings {
	return Timings{
		Activation:  500 * time.Millisecond,
		Dwell:       5 * time.Second,
		Cooldown:    500 * time.Millisecond,
		HistorySize: 5,
	}
}

type HistoryEntry struct {
	PaymentID string
	Amount    float64
	Currency  string
	Time      string
}

type Snapshot struct {
	State   State
	Amount  float64
	History []HistoryEntry
}

// Lamp drives one viewer's indicator. A timer callback only applies if no
// event or reset happened since it was scheduled; gen tracks that.
type Lamp struct {
	mu    sync.Mutex
	clock clock.Clock
	t     Timings

	state   State
	amount  float64
	history []HistoryEntry

	timer *clock.Timer
	gen   uint64

	onChange func(Snapshot)
}

func NewLamp(c clock.Clock, t Timings) *Lamp {
	if c == nil {
		c = clock.Real()
	}
	if t.HistorySize <= 0 {
		t.HistorySize = DefaultTimings().HistorySize
	}
	return &Lamp{
		clock:   c,
		t:       t,
		state:   State_Idle,
		history: []HistoryEntry{},
	}
}

// OnChange sets a callback invoked after every transition, outside the
// lamp's lock.
func (l *Lamp) OnChange(f func(Snapshot)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = f
}

// OnEvent records the payment in history. The display only restarts from
// idle or cooling; events arriving mid-animation are not shown.
func (l *Lamp) OnEvent(e *domain.PaymentEvent) {
	l.mu.Lock()
	l.pushHistory(HistoryEntry{
		PaymentID: e.PaymentID,
		Amount:    e.Amount,
		Currency:  e.Currency,
		Time:      e.Timestamp.Local().Format(HistoryTimeLayout),
	})

	switch l.state {
	case State_Idle, State_Cooling:
		l.amount = e.Amount
		l.transition(State_Activating, l.t.Activation, l.activate)
	default:
		logrus.WithFields(logrus.Fields{
			"state":     l.state,
			"paymentID": e.PaymentID,
		}).Debug("lamp busy, event not displayed")
	}
	l.notify()
}

// Reset fades the lamp out from any state.
func (l *Lamp) Reset() {
	l.mu.Lock()
	l.transition(State_Cooling, l.t.Cooldown, l.settle)
	l.notify()
}

// LoadHistory replaces the history with the given payments, newest first.
func (l *Lamp) LoadHistory(payments []*domain.Payment) {
	l.mu.Lock()
	history := make([]HistoryEntry, 0, min(len(payments), l.t.HistorySize))
	for _, p := range payments {
		if len(history) == l.t.HistorySize {
			break
		}
		history = append(history, HistoryEntry{
			PaymentID: p.ID,
			Amount:    domain.ToMajorUnits(p.AmountMinorUnits),
			Currency:  p.Currency,
			Time:      p.Timestamp.Local().Format(HistoryTimeLayout),
		})
	}
	l.history = history
	l.notify()
}

func (l *Lamp) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Lamp) Amount() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.amount
}

func (l *Lamp) History() []HistoryEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]HistoryEntry{}, l.history...)
}

func (l *Lamp) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshot()
}

func (l *Lamp) snapshot() Snapshot {
	return Snapshot{
		State:   l.state,
		Amount:  l.amount,
		History: append([]HistoryEntry{}, l.history...),
	}
}

func (l *Lamp) pushHistory(e HistoryEntry) {
	l.history = append([]HistoryEntry{e}, l.history...)
	if len(l.history) > l.t.HistorySize {
		l.history = l.history[:l.t.HistorySize]
	}
}

func (l *Lamp) activate() {
	l.transition(State_Active, l.t.Dwell, l.cool)
}

func (l *Lamp) cool() {
	l.transition(State_Cooling, l.t.Cooldown, l.settle)
}

func (l *Lamp) settle() {
	l.state = State_Idle
	l.amount = 0
}

// transition enters state and schedules next after d, cancelling any
// pending timer. Must be called with mu held.
func (l *Lamp) transition(state State, d time.Duration, next func()) {
	if l.timer != nil {
		l.timer.Stop()
	}
	l.gen++
	l.state = state

	gen := l.gen
	l.timer = l.clock.AfterFunc(d, func() {
		l.mu.Lock()
		if l.gen != gen {
			l.mu.Unlock()
			return
		}
		l.timer = nil
		next()
		l.notify()
	})
}

// notify releases mu and then reports the new snapshot.
func (l *Lamp) notify() {
	snap := l.snapshot()
	f := l.onChange
	l.mu.Unlock()
	if f != nil {
		f(snap)
	}
}
