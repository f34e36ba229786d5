package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
)

const (
	writeWait      = 10 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 1 << 20
	sendBufSize    = 256
	eventBufSize   = 256
)

var (
	ErrNotConnected   = errors.New("ws: not connected")
	ErrSendBufferFull = errors.New("ws: send buffer full")
	ErrRateLimited    = errors.New("ws: send rate limited")
)

type Options struct {
	URL string
	// Jar supplies the session cookies the server authenticates the upgrade with.
	Jar       http.CookieJar
	SendRate  rate.Limit
	SendBurst int
	Logger    *zap.Logger
}

// Channel owns the single websocket connection of a session. Inbound frames
// are decoded once and delivered in receipt order on Events; force_logout
// bypasses that queue through Interrupts.
type Channel struct {
	url        string
	httpClient *http.Client
	limiter    *rate.Limiter
	instanceID uuid.UUID
	log        *zap.Logger

	mu   sync.Mutex
	link *link
	prev *link
	last Event

	events     chan Event
	interrupts chan ForceLogout
	closed     chan error
}

// link is one physical connection and its pumps.
type link struct {
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	readDone chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	once     sync.Once
}

func (l *link) shutdown() {
	l.once.Do(func() {
		close(l.done)
		l.cancel()
	})
}

func NewChannel(opts Options) *Channel {
	limit := opts.SendRate
	if limit <= 0 {
		limit = rate.Inf
	}
	burst := opts.SendBurst
	if burst <= 0 {
		burst = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.New()
	return &Channel{
		url:        opts.URL,
		httpClient: &http.Client{Jar: opts.Jar},
		limiter:    rate.NewLimiter(limit, burst),
		instanceID: id,
		log:        logger.With(zap.String("instance", id.String())),
		events:     make(chan Event, eventBufSize),
		interrupts: make(chan ForceLogout, 1),
		closed:     make(chan error, 1),
	}
}

func (c *Channel) Events() <-chan Event           { return c.events }
func (c *Channel) Interrupts() <-chan ForceLogout { return c.interrupts }

// Closed reports connections that ended without Disconnect being called.
func (c *Channel) Closed() <-chan error { return c.closed }

func (c *Channel) InstanceID() uuid.UUID { return c.instanceID }

func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.link != nil
}

// Last returns the most recently delivered event.
func (c *Channel) Last() Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Connect dials the server. It is a no-op while a connection is open.
// Frames still queued from an earlier connection are discarded first.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.link != nil {
		c.mu.Unlock()
		return nil
	}
	prev := c.prev
	c.mu.Unlock()
	if prev != nil {
		<-prev.readDone
		c.discardQueued()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.link != nil {
		return nil
	}

	header := http.Header{}
	header.Set("X-Client-Instance", c.instanceID.String())
	conn, _, err := websocket.Dial(ctx, c.url, &websocket.DialOptions{
		HTTPClient: c.httpClient,
		HTTPHeader: header,
	})
	if err != nil {
		return err
	}
	conn.SetReadLimit(maxMessageSize)

	lctx, cancel := context.WithCancel(context.Background())
	l := &link{
		conn:     conn,
		send:     make(chan []byte, sendBufSize),
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
		ctx:      lctx,
		cancel:   cancel,
	}
	c.link = l
	c.prev = l

	go c.readPump(l)
	go c.writePump(l)

	c.log.Info("ws: connected", zap.String("url", c.url))
	return nil
}

// Disconnect closes the current connection and drops whatever it had
// queued but not yet delivered. Calling it again is harmless.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	l := c.link
	c.link = nil
	c.mu.Unlock()

	if l == nil {
		return
	}
	l.shutdown()
	<-l.readDone
	if n := c.discardQueued(); n > 0 {
		c.log.Debug("ws: discarded queued frames", zap.Int("count", n))
	}
	c.log.Info("ws: disconnected")
}

func (c *Channel) discardQueued() int {
	n := 0
	for {
		select {
		case <-c.events:
			n++
		case <-c.interrupts:
			n++
		case <-c.closed:
		default:
			return n
		}
	}
}

// Send transmits v if the connection is open. Nothing is queued for a later
// connection.
func (c *Channel) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	c.mu.Lock()
	l := c.link
	c.mu.Unlock()
	if l == nil {
		return ErrNotConnected
	}
	if !c.limiter.Allow() {
		return ErrRateLimited
	}

	select {
	case <-l.done:
		return ErrNotConnected
	default:
	}
	select {
	case l.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// drop forgets l after a pump failure and notifies Closed.
func (c *Channel) drop(l *link, cause error) {
	c.mu.Lock()
	current := c.link == l
	if current {
		c.link = nil
	}
	c.mu.Unlock()

	l.shutdown()
	if !current {
		return
	}
	select {
	case c.closed <- cause:
	default:
	}
}

func (c *Channel) readPump(l *link) {
	defer close(l.readDone)
	for {
		_, data, err := l.conn.Read(l.ctx)
		if err != nil {
			select {
			case <-l.done:
			default:
				if websocket.CloseStatus(err) != -1 {
					c.log.Info("ws: server closed connection", zap.Error(err))
				} else {
					c.log.Warn("ws: read error", zap.Error(err))
				}
			}
			c.drop(l, err)
			return
		}

		evt, err := Decode(data)
		if err != nil {
			c.log.Warn("ws: dropping frame", zap.Error(err))
			continue
		}

		c.mu.Lock()
		c.last = evt
		c.mu.Unlock()

		if fl, ok := evt.(ForceLogout); ok {
			select {
			case c.interrupts <- fl:
			default:
			}
			continue
		}

		select {
		case c.events <- evt:
		case <-l.done:
			return
		}
	}
}

func (c *Channel) writePump(l *link) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		l.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case message := <-l.send:
			ctx, cancel := context.WithTimeout(l.ctx, writeWait)
			err := l.conn.Write(ctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				c.log.Warn("ws: write error", zap.Error(err))
				c.drop(l, err)
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(l.ctx, writeWait)
			err := l.conn.Ping(ctx)
			cancel()
			if err != nil {
				c.log.Warn("ws: ping error", zap.Error(err))
				c.drop(l, err)
				return
			}

		case <-l.done:
			return
		}
	}
}
