package sse

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/starford/minicycle/internal/models"
	"github.com/starford/minicycle/internal/state"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func drain(ch chan []byte) []string {
	time.Sleep(50 * time.Millisecond)
	var out []string
	for {
		select {
		case msg := <-ch:
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishDelivery(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishStorageChange("updated", "miniCycleData")

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: storage.changed") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"key":"miniCycleData"`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestOnEventStatsThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	doc := models.NewDocument(time.UnixMilli(1))
	c := models.NewCycle("Morning", time.UnixMilli(1))
	task := models.NewTask("stretch")
	task.Completed = true
	c.Tasks = append(c.Tasks, task, models.NewTask("coffee"))
	doc.Collections.Cycles[c.ID] = c

	b.OnEvent(state.Updated{Document: doc, Previous: doc})
	b.OnEvent(state.Updated{Document: doc, Previous: doc})

	var updates, stats int
	for _, s := range drain(ch) {
		switch {
		case strings.Contains(s, "event: "+TypeDocumentStats):
			stats++
			if !strings.Contains(s, `"tasks":2`) || !strings.Contains(s, `"completed":1`) {
				t.Errorf("stats payload = %q", s)
			}
		case strings.Contains(s, "event: "+TypeDocumentUpdated):
			updates++
		}
	}
	if updates != 2 {
		t.Errorf("update events = %d, want 2", updates)
	}
	if stats != 1 {
		t.Errorf("stats events = %d, want 1 (throttled)", stats)
	}
}

func TestOnEventMapsStoreEvents(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.OnEvent(state.Saved{Key: "miniCycleData", Bytes: 10})
	b.OnEvent(state.SaveFailed{Key: "miniCycleData", Err: errors.New("quota")})
	b.OnEvent(state.Migrated{From: "2.0", BackupKey: "miniCycle_backup_1"})
	b.OnEvent(state.Degraded{Err: errors.New("read-only")})
	b.OnEvent(state.Restored{Direction: "undo", Description: "Task added", Document: models.NewDocument(time.Now())})

	got := strings.Join(drain(ch), "")
	for _, want := range []string{
		"event: " + TypeDocumentSaved,
		"event: " + TypeSaveFailed,
		`"error":"quota"`,
		"event: " + TypeMigrated,
		`"backupKey":"miniCycle_backup_1"`,
		"event: " + TypeDegraded,
		"event: " + TypeHistoryRestored,
		`"direction":"undo"`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("stream missing %q", want)
		}
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.Publish(Event{Type: TypeDocumentSaved, Data: map[string]string{"key": "miniCycleData"}})
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: document.saved") {
		t.Errorf("handler output missing event: %q", body)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	for i := 0; i < 70; i++ {
		b.Publish(Event{Type: "test", Data: i})
	}
	if n := len(drain(ch)); n > 64 {
		t.Errorf("delivered %d messages past the client buffer", n)
	}
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	b.Publish(Event{Type: TypeDocumentSaved})
	b.PublishStorageChange("updated", "miniCycleData")
	b.OnEvent(state.Degraded{})
}
