package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/use-agent/otakuscrape/pipeline"
)

func TestDeliverSignsBody(t *testing.T) {
	var gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(SignatureHeader)
		gotBody, _ = io.ReadAll(r.Body)
	}))
	defer srv.Close()

	ev := &Event{Type: "extraction.degraded", ID: "1", Data: map[string]string{"schema": "x"}}
	if err := Deliver(context.Background(), srv.Client(), srv.URL, "s3cret", ev); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if want := Sign("s3cret", gotBody); gotSig != want {
		t.Errorf("signature = %q, want %q", gotSig, want)
	}
}

func TestDeliverRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := Deliver(context.Background(), srv.Client(), srv.URL, "", &Event{}); err == nil {
		t.Fatal("Deliver accepted a 502")
	}
}

func TestThrottle(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	th := NewThrottle(time.Hour)
	defer th.Stop()
	th.now = func() time.Time { return now }

	if !th.Allow("a") {
		t.Fatal("first alert throttled")
	}
	if th.Allow("a") {
		t.Fatal("second alert inside interval allowed")
	}
	if !th.Allow("b") {
		t.Fatal("other key throttled")
	}
	now = now.Add(time.Hour)
	if !th.Allow("a") {
		t.Fatal("alert after interval throttled")
	}
}

func TestNotifierRetriesAndThrottles(t *testing.T) {
	var mu sync.Mutex
	var hits int
	var events []Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		hits++
		if hits == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var ev Event
		_ = json.NewDecoder(r.Body).Decode(&ev)
		events = append(events, ev)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, "", time.Hour)
	defer n.Close()
	n.retryDelays = []time.Duration{time.Millisecond}

	alert := &pipeline.Alert{Schema: "manhwaindo.series", Missing: []string{"title"}}
	n.Degraded(context.Background(), alert)
	n.Degraded(context.Background(), alert)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := len(events) == 1
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if hits != 2 || len(events) != 1 {
		t.Fatalf("hits=%d delivered=%d, want one retry and one delivery", hits, len(events))
	}
	if events[0].Type != "extraction.degraded" || events[0].ID == "" {
		t.Errorf("event = %+v", events[0])
	}
}

func TestNotifierCloseDropsPendingRetry(t *testing.T) {
	var mu sync.Mutex
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, "", 0)
	n.retryDelays = []time.Duration{200 * time.Millisecond}

	n.Degraded(context.Background(), &pipeline.Alert{Schema: "otakudesu.anime"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		first := hits == 1
		mu.Unlock()
		if first {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	n.Close()
	n.Close()

	time.Sleep(400 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if hits != 1 {
		t.Fatalf("hits = %d, want the retry dropped after Close", hits)
	}
}
