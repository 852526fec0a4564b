package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/attestary/attestary/internal/archive"
)

// ── Stubs ────────────────────────────────────────────────────────────────

type stubSink struct {
	mu       sync.Mutex
	faults   []archive.Fault
	statuses []string
}

func (s *stubSink) NotifyFault(_ context.Context, f archive.Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, f)
}

func (s *stubSink) NotifyAgentStatus(_ context.Context, agentID string, healthy bool, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := "degraded"
	if healthy {
		state = "healthy"
	}
	s.statuses = append(s.statuses, agentID+"="+state)
}

// ── Tests ────────────────────────────────────────────────────────────────

func TestWebhook_deliverSignsPayload(t *testing.T) {
	var gotBody []byte
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Attestary-Signature")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, "s3cret", zap.NewNop())
	body := []byte(`{"type":"record_fault"}`)
	wh.deliver(context.Background(), body, signPayload(body, "s3cret"))

	if string(gotBody) != string(body) {
		t.Errorf("body: got %q, want %q", gotBody, body)
	}
	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(body)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if gotSig != want {
		t.Errorf("signature: got %q, want %q", gotSig, want)
	}
}

func TestWebhook_retriesUntilSuccess(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, "s", zap.NewNop())
	wh.SetRetryDelays([]time.Duration{0, 0, 0, 0})

	var outcomes []bool
	wh.SetMetricsRecorder(func(success bool) { outcomes = append(outcomes, success) })

	body := []byte(`{}`)
	wh.deliver(context.Background(), body, signPayload(body, "s"))

	if attempts != 3 {
		t.Errorf("attempts: got %d, want 3", attempts)
	}
	want := []bool{false, false, true}
	if len(outcomes) != len(want) {
		t.Fatalf("outcomes: got %v, want %v", outcomes, want)
	}
	for i := range want {
		if outcomes[i] != want[i] {
			t.Errorf("outcome %d: got %v, want %v", i, outcomes[i], want[i])
		}
	}
}

func TestWebhook_givesUpAfterSchedule(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, "s", zap.NewNop())
	wh.SetRetryDelays([]time.Duration{0, 0})

	body := []byte(`{}`)
	wh.deliver(context.Background(), body, signPayload(body, "s"))

	if attempts != 2 {
		t.Errorf("attempts: got %d, want 2", attempts)
	}
}

func TestWebhook_notifyFaultDispatchesEvent(t *testing.T) {
	received := make(chan Event, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			t.Errorf("decode event: %v", err)
		}
		received <- ev
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, "s", zap.NewNop())
	wh.NotifyFault(context.Background(), archive.Fault{
		AgentID:   "agent-a",
		Timestamp: 42,
		Type:      "signature",
		Message:   "boom",
	})

	select {
	case ev := <-received:
		if ev.Type != EventRecordFault {
			t.Errorf("event type: got %q, want %q", ev.Type, EventRecordFault)
		}
		if ev.Fault == nil || ev.Fault.AgentID != "agent-a" || ev.Fault.Type != "signature" {
			t.Errorf("unexpected fault payload: %+v", ev.Fault)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("webhook delivery never arrived")
	}
}

func TestWebhook_notifyAgentStatusDispatchesEvent(t *testing.T) {
	received := make(chan Event, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			t.Errorf("decode event: %v", err)
		}
		received <- ev
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, "s", zap.NewNop())
	wh.NotifyAgentStatus(context.Background(), "agent-a", false, "3 consecutive faulty sweeps")

	select {
	case ev := <-received:
		if ev.Type != EventAgentStatus {
			t.Errorf("event type: got %q, want %q", ev.Type, EventAgentStatus)
		}
		if ev.Agent == nil || ev.Agent.AgentID != "agent-a" || ev.Agent.Healthy {
			t.Errorf("unexpected agent payload: %+v", ev.Agent)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("webhook delivery never arrived")
	}
}

func TestMulti_fansOutToAllSinks(t *testing.T) {
	a := &stubSink{}
	b := &stubSink{}
	m := NewMulti(a, b)

	m.NotifyFault(context.Background(), archive.Fault{AgentID: "agent-a", Type: "decode"})
	m.NotifyAgentStatus(context.Background(), "agent-b", true, "")

	for name, sink := range map[string]*stubSink{"first": a, "second": b} {
		if len(sink.faults) != 1 || sink.faults[0].AgentID != "agent-a" {
			t.Errorf("%s sink faults: %+v", name, sink.faults)
		}
		if len(sink.statuses) != 1 || sink.statuses[0] != "agent-b=healthy" {
			t.Errorf("%s sink statuses: %+v", name, sink.statuses)
		}
	}
}
