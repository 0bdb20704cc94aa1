package hub

import (
	"context"

	"github.com/k-code-yt/gogo-lamp/internal/metrics"
	"github.com/k-code-yt/gogo-lamp/internal/payment/domain"
	"github.com/sirupsen/logrus"
)

// Session is one recipient of broadcasts: a websocket viewer, a Kafka
// sink, or anything else that can take a payment event.
type Session interface {
	ID() string
	// Send must not block on the network; transports queue internally.
	Send(event *domain.PaymentEvent) error
}

type cmdType int

const (
	cmdType_Register cmdType = iota
	cmdType_Unregister
	cmdType_Broadcast
	cmdType_Count
)

type hubCmd struct {
	cmd     cmdType
	session Session
	event   *domain.PaymentEvent
	countCH chan int
}

// Hub owns the recipient set. Every operation goes through one FIFO
// channel drained by Run, so a broadcast always sees registrations made
// before it and events reach each session in call order.
type Hub struct {
	sessions map[string]Session
	cmdCH    chan *hubCmd
	done     chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		sessions: map[string]Session{},
		cmdCH:    make(chan *hubCmd, 256),
		done:     make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			logrus.WithField("sessions", len(h.sessions)).Info("exiting hub loop")
			return
		case c := <-h.cmdCH:
			h.handle(c)
		}
	}
}

func (h *Hub) handle(c *hubCmd) {
	switch c.cmd {
	case cmdType_Register:
		h.register(c.session)
	case cmdType_Unregister:
		h.unregister(c.session)
	case cmdType_Broadcast:
		h.broadcast(c.event)
	case cmdType_Count:
		c.countCH <- len(h.sessions)
	}
}

func (h *Hub) dispatch(c *hubCmd) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.cmdCH <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Register(s Session) {
	h.dispatch(&hubCmd{cmd: cmdType_Register, session: s})
}

func (h *Hub) Unregister(s Session) {
	h.dispatch(&hubCmd{cmd: cmdType_Unregister, session: s})
}

// Broadcast never fails; per-session errors are logged in the loop.
func (h *Hub) Broadcast(event *domain.PaymentEvent) {
	h.dispatch(&hubCmd{cmd: cmdType_Broadcast, event: event})
}

// SessionCount round-trips through the loop, so it also acts as a
// barrier: every command issued before it has been applied.
func (h *Hub) SessionCount() int {
	countCH := make(chan int, 1)
	if !h.dispatch(&hubCmd{cmd: cmdType_Count, countCH: countCH}) {
		return 0
	}
	select {
	case n := <-countCH:
		return n
	case <-h.done:
		return 0
	}
}

func (h *Hub) register(s Session) {
	if _, ok := h.sessions[s.ID()]; ok {
		logrus.WithField("id", s.ID()).Info("session already registered")
		return
	}
	h.sessions[s.ID()] = s
	metrics.ActiveViewers.Set(float64(len(h.sessions)))
	logrus.WithFields(logrus.Fields{
		"id":       s.ID(),
		"sessions": len(h.sessions),
	}).Info("session joined hub")
}

func (h *Hub) unregister(s Session) {
	// a different session holding the same id stays registered
	if cur, ok := h.sessions[s.ID()]; !ok || cur != s {
		return
	}
	delete(h.sessions, s.ID())
	metrics.ActiveViewers.Set(float64(len(h.sessions)))
	logrus.WithFields(logrus.Fields{
		"id":       s.ID(),
		"sessions": len(h.sessions),
	}).Info("session left hub")
}

func (h *Hub) broadcast(event *domain.PaymentEvent) {
	failed := 0
	for id, s := range h.sessions {
		if err := s.Send(event); err != nil {
			failed++
			metrics.BroadcastFailures.Inc()
			logrus.WithFields(logrus.Fields{
				"id":        id,
				"paymentID": event.PaymentID,
			}).Warnf("error sending event: %v", err)
		}
	}
	metrics.Broadcasts.Inc()
	logrus.WithFields(logrus.Fields{
		"paymentID":     event.PaymentID,
		"receiverCount": len(h.sessions) - failed,
		"failedCount":   failed,
	}).Info("sent broadcast")
}
