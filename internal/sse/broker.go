// Package sse implements a Server-Sent Events broker for crawl and catalog updates.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// Event types emitted by the crawl pipeline.
const (
	TypeCrawlStarted   = "crawl.started"
	TypeCrawlCompleted = "crawl.completed"
	TypeCrawlFailed    = "crawl.failed"
	TypeAgentAdded     = "agent.added"
	TypeAgentRemoved   = "agent.removed"
	TypeCatalogUpdated = "catalog.updated"
)

const (
	defaultBacklog   = 128
	defaultKeepAlive = 15 * time.Second
	clientBuffer     = 64
)

// Event is one message on the stream. Data is encoded as JSON.
type Event struct {
	Type string
	Data any
}

// AgentChange is the payload of agent.added and agent.removed.
type AgentChange struct {
	Link string `json:"link"`
	Name string `json:"name"`
}

// AgentAdded builds an agent.added event.
func AgentAdded(link, name string) Event {
	return Event{Type: TypeAgentAdded, Data: AgentChange{Link: link, Name: name}}
}

// AgentRemoved builds an agent.removed event.
func AgentRemoved(link, name string) Event {
	return Event{Type: TypeAgentRemoved, Data: AgentChange{Link: link, Name: name}}
}

func isAgentEvent(typ string) bool {
	return typ == TypeAgentAdded || typ == TypeAgentRemoved
}

// frame is an encoded event kept for Last-Event-ID replay.
type frame struct {
	id  uint64
	raw []byte
}

type subscription struct {
	ch     chan []byte
	lastID uint64
}

// Option configures a Broker.
type Option func(*Broker)

// WithKeepAlive sets the interval of comment lines sent to idle clients.
func WithKeepAlive(d time.Duration) Option {
	return func(b *Broker) { b.keepAlive = d }
}

// WithBacklog sets how many recent events are kept for reconnecting clients.
func WithBacklog(n int) Option {
	return func(b *Broker) { b.backlog = n }
}

// Broker fans events out to SSE clients. Every event gets a sequence ID;
// clients reconnecting with Last-Event-ID receive the events they missed
// while those are still in the backlog. Agent events are followed by a
// catalog.updated event at most once per throttle interval.
//
// One goroutine owns the client set, the sequence and the backlog; the
// public methods talk to it over channels.
type Broker struct {
	catalogMin time.Duration
	keepAlive  time.Duration
	backlog    int

	subscribeCh   chan subscription
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker that throttles catalog.updated to one per
// catalogThrottle.
func NewBroker(catalogThrottle time.Duration, opts ...Option) *Broker {
	if catalogThrottle <= 0 {
		catalogThrottle = 2 * time.Second
	}
	b := &Broker{
		catalogMin:    catalogThrottle,
		keepAlive:     defaultKeepAlive,
		backlog:       defaultBacklog,
		subscribeCh:   make(chan subscription),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	go b.run()
	return b
}

func encode(id uint64, e Event) ([]byte, error) {
	payload, err := json.Marshal(e.Data)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", id, e.Type, payload)), nil
}

func (b *Broker) run() {
	defer close(b.stopped)

	var (
		clients     = make(map[chan []byte]struct{})
		history     []frame
		seq         uint64
		lastCatalog time.Time
	)

	emit := func(e Event) {
		seq++
		raw, err := encode(seq, e)
		if err != nil {
			return
		}
		if b.backlog > 0 {
			history = append(history, frame{id: seq, raw: raw})
			if len(history) > b.backlog {
				history = history[len(history)-b.backlog:]
			}
		}
		for ch := range clients {
			select {
			case ch <- raw:
			default:
				// Slow client; drop rather than block the loop.
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case sub := <-b.subscribeCh:
			if sub.lastID > 0 {
				for _, f := range history {
					if f.id <= sub.lastID {
						continue
					}
					select {
					case sub.ch <- f.raw:
					default:
					}
				}
			}
			clients[sub.ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case e := <-b.publishCh:
			emit(e)
			if isAgentEvent(e.Type) {
				if now := time.Now(); now.Sub(lastCatalog) >= b.catalogMin {
					lastCatalog = now
					emit(Event{Type: TypeCatalogUpdated, Data: map[string]time.Time{"at": now.UTC()}})
				}
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close stops the broker and closes every client channel. It is safe to
// call more than once.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe registers a client. Events newer than lastID still in the
// backlog are queued first; lastID 0 means live events only.
func (b *Broker) Subscribe(lastID uint64) chan []byte {
	ch := make(chan []byte, clientBuffer)
	if b.closed.Load() {
		close(ch)
		return ch
	}
	select {
	case b.subscribeCh <- subscription{ch: ch, lastID: lastID}:
	case <-b.stopped:
		close(ch)
	}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}
	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}
	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish queues an event for every client.
func (b *Broker) Publish(e Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- e:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint handler (GET /api/events). It honours the
// Last-Event-ID header and writes a comment line when the stream is idle.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	lastID, _ := strconv.ParseUint(strings.TrimSpace(r.Header.Get("Last-Event-ID")), 10, 64)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe(lastID)
	defer b.Unsubscribe(ch)

	var tick <-chan time.Time
	if b.keepAlive > 0 {
		ticker := time.NewTicker(b.keepAlive)
		defer ticker.Stop()
		tick = ticker.C
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		case <-tick:
			_, _ = w.Write([]byte(": keepalive\n\n"))
			flusher.Flush()
		}
	}
}
