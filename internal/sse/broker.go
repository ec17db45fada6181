// Package sse implements a Server-Sent Events broker that streams store
// events to connected clients.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/starford/minicycle/internal/models"
	"github.com/starford/minicycle/internal/state"
)

// Event types sent on the stream.
const (
	TypeDocumentUpdated = "document.updated"
	TypeDocumentStats   = "document.stats"
	TypeDocumentSaved   = "document.saved"
	TypeSaveFailed      = "document.save_failed"
	TypeMigrated        = "document.migrated"
	TypeDegraded        = "engine.degraded"
	TypeStorageChanged  = "storage.changed"
	TypeHistoryRestored = "history.restored"
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Stats summarises a document for the throttled stats event.
type Stats struct {
	Cycles          int    `json:"cycles"`
	Tasks           int    `json:"tasks"`
	Completed       int    `json:"completed"`
	CyclesCompleted int    `json:"cyclesCompleted"`
	ActiveCycleID   string `json:"activeCycleId"`
}

func statsOf(doc *models.Document) Stats {
	s := Stats{
		Cycles:          len(doc.Collections.Cycles),
		CyclesCompleted: doc.UserProgress.CyclesCompleted,
		ActiveCycleID:   doc.ActiveState.ActiveCycleID,
	}
	for _, c := range doc.Collections.Cycles {
		s.Tasks += len(c.Tasks)
		for _, t := range c.Tasks {
			if t.Completed {
				s.Completed++
			}
		}
	}
	return s
}

// Broker manages SSE client connections and broadcasts events.
//
// A single event loop owns the client set and the stats throttle timestamp.
// Public methods talk to the loop through channels.
type Broker struct {
	statsMin time.Duration

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	changeCh      chan changeReq
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// changeReq carries a document change; stats are computed lazily by the loop
// only when the throttle allows a stats event.
type changeReq struct {
	event Event
	doc   *models.Document
}

// NewBroker creates a broker that emits at most one stats event per
// statsThrottle.
func NewBroker(statsThrottle time.Duration) *Broker {
	if statsThrottle <= 0 {
		statsThrottle = 2 * time.Second
	}

	b := &Broker{
		statsMin:      statsThrottle,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		changeCh:      make(chan changeReq, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	var lastStats time.Time

	broadcast := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		raw := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload))

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

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case req := <-b.changeCh:
			broadcast(req.event)
			if req.doc == nil {
				continue
			}
			now := time.Now()
			if now.Sub(lastStats) >= b.statsMin {
				lastStats = now
				broadcast(Event{Type: TypeDocumentStats, Data: statsOf(req.doc)})
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close stops the loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client and returns its channel.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- ch:
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

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishStorageChange reports a key modified outside this process.
func (b *Broker) PublishStorageChange(kind, key string) {
	b.Publish(Event{Type: TypeStorageChanged, Data: map[string]string{"kind": kind, "key": key}})
}

func (b *Broker) publishChange(event Event, doc *models.Document) {
	if b.closed.Load() {
		return
	}
	select {
	case b.changeCh <- changeReq{event: event, doc: doc}:
	case <-b.stopped:
	}
}

// OnEvent maps store events onto the stream. It makes the broker a
// state.Observer.
func (b *Broker) OnEvent(ev state.Event) {
	switch e := ev.(type) {
	case state.Ready:
		b.publishChange(Event{Type: TypeDocumentUpdated, Data: map[string]any{
			"lastModified": e.Document.Metadata.LastModified,
			"fresh":        e.Fresh,
		}}, e.Document)
	case state.Updated:
		b.publishChange(Event{Type: TypeDocumentUpdated, Data: map[string]any{
			"lastModified":  e.Document.Metadata.LastModified,
			"activeCycleId": e.Document.ActiveState.ActiveCycleID,
		}}, e.Document)
	case state.Saved:
		b.Publish(Event{Type: TypeDocumentSaved, Data: map[string]any{"key": e.Key, "bytes": e.Bytes}})
	case state.SaveFailed:
		b.Publish(Event{Type: TypeSaveFailed, Data: map[string]string{"key": e.Key, "error": errString(e.Err)}})
	case state.Migrated:
		b.Publish(Event{Type: TypeMigrated, Data: map[string]any{
			"from":      string(e.From),
			"backupKey": e.BackupKey,
			"repairs":   e.Repairs,
		}})
	case state.Degraded:
		b.Publish(Event{Type: TypeDegraded, Data: map[string]string{"error": errString(e.Err)}})
	case state.Restored:
		b.Publish(Event{Type: TypeHistoryRestored, Data: map[string]any{
			"direction":    e.Direction,
			"description":  e.Description,
			"lastModified": e.Document.Metadata.LastModified,
		}})
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// ServeHTTP is the SSE endpoint handler (GET /events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

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
		}
	}
}
