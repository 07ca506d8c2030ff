package events

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const DefaultReconnectDelay = 3 * time.Second

type Handler func(Event)

type Options struct {
	Token          string
	ReconnectDelay time.Duration
	// HTTPClient must not set a Timeout; the stream stays open for the session.
	HTTPClient *http.Client
}

type Stats struct {
	Connected  bool
	Refs       int
	Delivered  int64
	Dropped    int64
	Reconnects int64
}

type subscription struct {
	id       string
	kind     Kind
	targetID string
	handler  Handler
}

// Client owns the single server-push connection of a session. Handlers run on
// the reader goroutine one at a time, so events for a memo arrive in send order.
type Client struct {
	url   string
	token string
	delay time.Duration
	http  *http.Client

	mu     sync.Mutex
	refs   int
	cancel context.CancelFunc
	done   chan struct{}

	subMu sync.RWMutex
	subs  []subscription

	connected  atomic.Bool
	delivered  atomic.Int64
	dropped    atomic.Int64
	reconnects atomic.Int64

	now func() time.Time
}

func NewClient(url string, opts Options) *Client {
	delay := opts.ReconnectDelay
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		url:   url,
		token: opts.Token,
		delay: delay,
		http:  httpClient,
		now:   time.Now,
	}
}

// Subscribe registers h for events of kind. An empty targetID matches every memo.
// The returned func removes the subscription and is safe to call more than once.
func (c *Client) Subscribe(kind Kind, targetID string, h Handler) func() {
	id := uuid.NewString()
	c.subMu.Lock()
	c.subs = append(c.subs, subscription{id: id, kind: kind, targetID: targetID, handler: h})
	c.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subMu.Lock()
			defer c.subMu.Unlock()
			for i, sub := range c.subs {
				if sub.id == id {
					c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Connect starts the connection loop unless it is already running.
func (c *Client) Connect(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startLocked(ctx)
}

func (c *Client) startLocked(ctx context.Context) {
	if c.cancel != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	go c.run(loopCtx, done)
}

// Disconnect stops the loop regardless of outstanding references and waits for
// the reader goroutine to exit. Calling it when not connected does nothing.
// Handlers must not call it.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.refs = 0
	stop := c.detachLocked()
	c.mu.Unlock()
	stop()
}

// Acquire takes a reference on the shared connection, connecting on the first one.
func (c *Client) Acquire(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refs++
	c.startLocked(ctx)
}

// Release drops a reference and disconnects when the last one is gone.
func (c *Client) Release() {
	c.mu.Lock()
	if c.refs == 0 {
		c.mu.Unlock()
		return
	}
	c.refs--
	stop := func() {}
	if c.refs == 0 {
		stop = c.detachLocked()
	}
	c.mu.Unlock()
	stop()
}

func (c *Client) detachLocked() func() {
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	if cancel == nil {
		return func() {}
	}
	return func() {
		cancel()
		<-done
	}
}

func (c *Client) Connected() bool {
	return c.connected.Load()
}

func (c *Client) Stats() Stats {
	c.mu.Lock()
	refs := c.refs
	c.mu.Unlock()
	return Stats{
		Connected:  c.connected.Load(),
		Refs:       refs,
		Delivered:  c.delivered.Load(),
		Dropped:    c.dropped.Load(),
		Reconnects: c.reconnects.Load(),
	}
}

func (c *Client) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		err := c.stream(ctx)
		c.connected.Store(false)
		if ctx.Err() != nil {
			return
		}
		c.reconnects.Add(1)
		log.Printf("events: stream ended (%v), reconnecting in %s", err, c.delay)

		timer := time.NewTimer(c.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (c *Client) stream(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("open stream: unexpected status %d", resp.StatusCode)
	}

	c.connected.Store(true)
	log.Printf("events: connected to %s", c.url)
	return c.read(resp.Body)
}

// read parses text/event-stream frames until the body ends. Comment lines and
// the id/retry fields are ignored; the reconnect delay is fixed on our side.
func (c *Client) read(body io.Reader) error {
	reader := bufio.NewReader(body)
	var name string
	var data []string

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			return err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			c.dispatch(name, strings.Join(data, "\n"))
			name, data = "", data[:0]
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			name = value
		case "data":
			data = append(data, value)
		}
	}
}

func (c *Client) dispatch(name, data string) {
	event, err := decode(name, data, c.now())
	if errors.Is(err, errIgnored) {
		return
	}
	if err != nil {
		c.dropped.Add(1)
		log.Printf("events: dropping frame: %v", err)
		return
	}

	c.subMu.RLock()
	matched := make([]Handler, 0, len(c.subs))
	for _, sub := range c.subs {
		if sub.kind == event.Kind && (sub.targetID == "" || sub.targetID == event.MemoID) {
			matched = append(matched, sub.handler)
		}
	}
	c.subMu.RUnlock()

	c.delivered.Add(1)
	for _, handler := range matched {
		handler(event)
	}
}
