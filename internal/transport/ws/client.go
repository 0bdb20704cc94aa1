package ws

import (
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/k-code-yt/gogo-lamp/internal/hub"
	"github.com/k-code-yt/gogo-lamp/internal/metrics"
	"github.com/k-code-yt/gogo-lamp/internal/payment/domain"
	"github.com/sirupsen/logrus"
)

var (
	PingPongFreq     = time.Second * 30
	PongWait         = time.Second * 60
	WriteWait        = time.Second * 10
	MaxQueueSize     = 16
	MaxInboundMsgLen = int64(512)
)

var (
	ErrClientClosed = errors.New("client connection closed")
	ErrQueueFull    = errors.New("client queue full, message dropped")
)

type Registrar interface {
	Register(s hub.Session)
	Unregister(s hub.Session)
}

// Client is one viewer connection. Sends are queued and written by a
// dedicated loop so a slow viewer cannot stall the hub.
type Client struct {
	id        string
	conn      *websocket.Conn
	msgCH     chan *domain.PaymentEvent
	done      chan struct{}
	closeOnce sync.Once

	droppedMsgCount *atomic.Int64
}

func NewClient(conn *websocket.Conn) *Client {
	return &Client{
		id:              uuid.NewString(),
		conn:            conn,
		msgCH:           make(chan *domain.PaymentEvent, MaxQueueSize),
		done:            make(chan struct{}),
		droppedMsgCount: new(atomic.Int64),
	}
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) Send(e *domain.PaymentEvent) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.msgCH <- e:
		return nil
	default:
		c.droppedMsgCount.Add(1)
		metrics.DroppedMessages.Inc()
		return ErrQueueFull
	}
}

func (c *Client) DroppedCount() int64 {
	return c.droppedMsgCount.Load()
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *Client) writeMsgLoop() {
	t := time.NewTicker(PingPongFreq)
	defer func() {
		t.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(WriteWait),
			)
			return
		case <-t.C:
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(WriteWait))
			if err != nil {
				logrus.WithField("clientID", c.id).Infof("ping failed: %v", err)
				return
			}
		case msg := <-c.msgCH:
			c.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				logrus.WithField("clientID", c.id).Errorf("error sending msg: %v", err)
				return
			}
		}
	}
}

// readMsgLoop only watches for disconnects and pongs; viewers send no
// commands.
func (c *Client) readMsgLoop(reg Registrar) {
	defer func() {
		reg.Unregister(c)
		c.close()
	}()

	c.conn.SetReadLimit(MaxInboundMsgLen)
	c.conn.SetReadDeadline(time.Now().Add(PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(PongWait))
		return nil
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logrus.WithField("clientID", c.id).Warnf("unexpected close: %v", err)
			}
			logrus.WithField("clientID", c.id).Info("client disconnected")
			return
		}
	}
}

type Handler struct {
	reg      Registrar
	upgrader websocket.Upgrader
}

func NewHandler(reg Registrar) *Handler {
	return &Handler{
		reg: reg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  512,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.Errorf("error upgrading ws conn: %v", err)
		return
	}

	c := NewClient(conn)
	logrus.WithFields(logrus.Fields{
		"clientID": c.id,
		"remote":   r.RemoteAddr,
	}).Info("client connected")

	h.reg.Register(c)
	go c.writeMsgLoop()
	go c.readMsgLoop(h.reg)
}
