package httpapi_test

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/attestary/attestary/internal/admission"
	"github.com/attestary/attestary/internal/archive"
	"github.com/attestary/attestary/internal/envelope"
	"github.com/attestary/attestary/internal/httpapi"
	"github.com/attestary/attestary/internal/identity"
	"github.com/attestary/attestary/internal/keydir"
	"github.com/attestary/attestary/internal/record"
	"github.com/attestary/attestary/internal/store"
	"github.com/attestary/attestary/internal/timestamp"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// ── Fixture ──────────────────────────────────────────────────────────────────

// env wires a real archive manager over the in-memory store behind the
// handler, so tests exercise the full create/read path end to end.
type env struct {
	router  *gin.Engine
	handler *httpapi.RecordHandler
	mgr     *archive.Manager
	store   *store.Memory
	keys    *keydir.Static
	signer  *envelope.Signer
}

func setupRecordRouter(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	_, signKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, tsaKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tsa := timestamp.NewLocalAuthority("test-tsa", "tsa-1", tsaKey)
	tsa.SetClock(func() time.Time { return fixedNow })

	mem := store.NewMemory()
	if err := mem.Provision(context.Background(), record.KindAttestation, record.KindRegistration); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	signer := envelope.NewSigner("op-key-1", signKey, tsa)
	keys := keydir.NewStatic()

	mgr := archive.NewManager(mem, signer, keys, tsa.Verifier(), zap.NewNop())
	mgr.SetClock(func() time.Time { return fixedNow })

	handler := httpapi.NewRecordHandler(mgr, nil, zap.NewNop())

	router := gin.New()
	handler.Register(router.Group("/api/v1"))

	return &env{router: router, handler: handler, mgr: mgr, store: mem, keys: keys, signer: signer}
}

// addAgent registers the signer's public key for agentID so records
// created through the API verify on read.
func (e *env) addAgent(t *testing.T, agentID string) {
	t.Helper()
	if err := e.keys.Add(agentID, e.signer.PublicKey()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// ── Helpers ──────────────────────────────────────────────────────────────────

func (e *env) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *env) doRaw(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func jsonBody(t *testing.T, body any) io.Reader {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return bytes.NewReader(b)
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return resp
}

// createAt submits one record at an explicit timestamp and asserts it
// was stored.
func (e *env) createAt(t *testing.T, agentID string, ts int64, service string) {
	t.Helper()
	target := "/api/v1/agents/" + agentID + "/records"
	if service != "" {
		target += "?service=" + service
	}
	w := e.do(t, http.MethodPost, target, map[string]any{
		"identity":  map[string]any{"public_key": "pk-1"},
		"evidence":  map[string]any{"quote": "r0aXYZ"},
		"timestamp": ts,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
}

func newReceiptIssuer(t *testing.T) *identity.TokenIssuer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return identity.NewTokenIssuer(key, "https://evidence.attestary.test", time.Hour)
}

// ── Create ───────────────────────────────────────────────────────────────────

func TestCreateRecord_201(t *testing.T) {
	e := setupRecordRouter(t)
	e.addAgent(t, "agent-a")

	w := e.do(t, http.MethodPost, "/api/v1/agents/agent-a/records", map[string]any{
		"identity": map[string]any{"public_key": "pk-1"},
		"evidence": map[string]any{"quote": "r0aXYZ", "hash_alg": "sha256"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	resp := decodeBody(t, w)
	rec, ok := resp["record"].(map[string]any)
	if !ok {
		t.Fatalf("expected record object in response, got %v", resp)
	}
	if rec["agent_id"] != "agent-a" {
		t.Errorf("agent_id: got %v, want agent-a", rec["agent_id"])
	}
	if ts := rec["timestamp"].(float64); int64(ts) != fixedNow.Unix() {
		t.Errorf("timestamp: got %v, want %d", ts, fixedNow.Unix())
	}
	if rec["kind"] != "attestation" {
		t.Errorf("kind: got %v, want attestation", rec["kind"])
	}
	if rec["signature"] == nil || rec["timestamp_proof"] == nil {
		t.Error("expected stored record to carry signature and timestamp proof")
	}
	if _, ok := resp["receipt"]; ok {
		t.Error("expected no receipt without a receipt issuer")
	}
}

func TestCreateRecord_201_withReceipt(t *testing.T) {
	e := setupRecordRouter(t)
	e.addAgent(t, "agent-a")
	issuer := newReceiptIssuer(t)
	e.handler.SetReceiptIssuer(issuer)

	w := e.do(t, http.MethodPost, "/api/v1/agents/agent-a/records", map[string]any{
		"identity": map[string]any{"public_key": "pk-1"},
		"evidence": map[string]any{"quote": "r0aXYZ"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	resp := decodeBody(t, w)
	receipt, ok := resp["receipt"].(string)
	if !ok {
		t.Fatalf("expected receipt string in response, got %v", resp)
	}
	claims, err := issuer.VerifyReceipt(receipt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims.AgentID != "agent-a" || claims.Kind != "attestation" {
		t.Errorf("receipt claims: got %s/%s, want agent-a/attestation", claims.AgentID, claims.Kind)
	}
	if claims.RecordTimestamp != fixedNow.Unix() {
		t.Errorf("receipt timestamp: got %d, want %d", claims.RecordTimestamp, fixedNow.Unix())
	}
}

func TestCreateRecord_400_invalidAgentID(t *testing.T) {
	e := setupRecordRouter(t)

	tooLong := strings.Repeat("a", 129)
	w := e.do(t, http.MethodPost, "/api/v1/agents/"+tooLong+"/records", map[string]any{
		"evidence": map[string]any{"quote": "r0aXYZ"},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCreateRecord_400_malformedBody(t *testing.T) {
	e := setupRecordRouter(t)
	e.addAgent(t, "agent-a")

	w := e.doRaw(t, http.MethodPost, "/api/v1/agents/agent-a/records", `{"evidence":`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCreateRecord_409_duplicateTimestamp(t *testing.T) {
	e := setupRecordRouter(t)
	e.addAgent(t, "agent-a")

	e.createAt(t, "agent-a", 1000, "")
	w := e.do(t, http.MethodPost, "/api/v1/agents/agent-a/records", map[string]any{
		"evidence":  map[string]any{"quote": "second"},
		"timestamp": 1000,
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCreateRecord_422_admissionRejected(t *testing.T) {
	e := setupRecordRouter(t)
	e.addAgent(t, "agent-a")

	chk := admission.NewRuleBasedChecker()
	chk.SetClock(func() time.Time { return fixedNow })
	e.mgr.SetAdmission(chk)

	w := e.do(t, http.MethodPost, "/api/v1/agents/agent-a/records", map[string]any{
		"evidence":  map[string]any{"quote": "r0aXYZ"},
		"timestamp": fixedNow.Unix() + 3600,
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}

	resp := decodeBody(t, w)
	report, ok := resp["report"].(map[string]any)
	if !ok {
		t.Fatalf("expected admission report in response, got %v", resp)
	}
	if report["rejected"] != true {
		t.Errorf("expected rejected report, got %v", report)
	}
}

// ── Read ─────────────────────────────────────────────────────────────────────

func TestReadRecords_200_ascendingWindow(t *testing.T) {
	e := setupRecordRouter(t)
	e.addAgent(t, "agent-a")
	e.createAt(t, "agent-a", 100, "")
	e.createAt(t, "agent-a", 200, "")

	w := e.do(t, http.MethodGet, "/api/v1/agents/agent-a/records", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	resp := decodeBody(t, w)
	if resp["count"].(float64) != 2 {
		t.Fatalf("count: got %v, want 2", resp["count"])
	}
	records := resp["records"].([]any)
	first := records[0].(map[string]any)
	second := records[1].(map[string]any)
	if first["timestamp"].(float64) != 100 || second["timestamp"].(float64) != 200 {
		t.Errorf("expected ascending timestamps 100, 200; got %v, %v",
			first["timestamp"], second["timestamp"])
	}
	if faults := resp["faults"].([]any); len(faults) != 0 {
		t.Errorf("expected no faults, got %v", faults)
	}
}

func TestReadRecords_200_window(t *testing.T) {
	e := setupRecordRouter(t)
	e.addAgent(t, "agent-a")
	e.createAt(t, "agent-a", 100, "")
	e.createAt(t, "agent-a", 200, "")
	e.createAt(t, "agent-a", 300, "")

	w := e.do(t, http.MethodGet, "/api/v1/agents/agent-a/records?start=150&end=250", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	resp := decodeBody(t, w)
	if resp["count"].(float64) != 1 {
		t.Fatalf("count: got %v, want 1", resp["count"])
	}
	rec := resp["records"].([]any)[0].(map[string]any)
	if rec["timestamp"].(float64) != 200 {
		t.Errorf("timestamp: got %v, want 200", rec["timestamp"])
	}
}

func TestReadRecords_200_latestOnly(t *testing.T) {
	e := setupRecordRouter(t)
	e.addAgent(t, "agent-a")
	e.createAt(t, "agent-a", 100, "")
	e.createAt(t, "agent-a", 200, "")

	w := e.do(t, http.MethodGet, "/api/v1/agents/agent-a/records?latest=true", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	resp := decodeBody(t, w)
	if resp["count"].(float64) != 1 {
		t.Fatalf("count: got %v, want 1", resp["count"])
	}
	rec := resp["records"].([]any)[0].(map[string]any)
	if rec["timestamp"].(float64) != 200 {
		t.Errorf("timestamp: got %v, want 200", rec["timestamp"])
	}
}

func TestReadRecords_200_serviceRouting(t *testing.T) {
	e := setupRecordRouter(t)
	e.addAgent(t, "agent-a")
	e.createAt(t, "agent-a", 100, "")
	e.createAt(t, "agent-a", 300, "agent_registration")

	w := e.do(t, http.MethodGet, "/api/v1/agents/agent-a/records?service=agent_registration", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	resp := decodeBody(t, w)
	if resp["count"].(float64) != 1 {
		t.Fatalf("count: got %v, want 1", resp["count"])
	}
	rec := resp["records"].([]any)[0].(map[string]any)
	if rec["kind"] != "registration" || rec["timestamp"].(float64) != 300 {
		t.Errorf("expected registration record at 300, got %v", rec)
	}
}

func TestReadRecords_200_corruptedRowReportedAsFault(t *testing.T) {
	e := setupRecordRouter(t)
	e.addAgent(t, "agent-a")
	e.createAt(t, "agent-a", 100, "")
	e.createAt(t, "agent-a", 200, "")
	if !e.store.Corrupt(record.KindAttestation, "agent-a", 100, []byte("garbage")) {
		t.Fatal("expected to corrupt stored row")
	}

	w := e.do(t, http.MethodGet, "/api/v1/agents/agent-a/records", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	resp := decodeBody(t, w)
	if resp["count"].(float64) != 1 {
		t.Fatalf("count: got %v, want 1", resp["count"])
	}
	faults := resp["faults"].([]any)
	if len(faults) != 1 {
		t.Fatalf("expected 1 fault, got %v", faults)
	}
	fault := faults[0].(map[string]any)
	if fault["type"] != "decode" || fault["timestamp"].(float64) != 100 {
		t.Errorf("unexpected fault: %v", fault)
	}
}

func TestReadRecords_200_emptyHistory(t *testing.T) {
	e := setupRecordRouter(t)
	e.addAgent(t, "agent-a")

	w := e.do(t, http.MethodGet, "/api/v1/agents/agent-a/records", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	resp := decodeBody(t, w)
	records, ok := resp["records"].([]any)
	if !ok || len(records) != 0 {
		t.Errorf("expected empty records array, got %v", resp["records"])
	}
	if resp["count"].(float64) != 0 {
		t.Errorf("count: got %v, want 0", resp["count"])
	}
}

func TestReadRecords_400_badStart(t *testing.T) {
	e := setupRecordRouter(t)

	w := e.do(t, http.MethodGet, "/api/v1/agents/agent-a/records?start=abc", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeBody(t, w)
	if resp["error"] != "start must be an integer" {
		t.Errorf("unexpected error message: %v", resp["error"])
	}
}

func TestReadRecords_400_badLatest(t *testing.T) {
	e := setupRecordRouter(t)

	w := e.do(t, http.MethodGet, "/api/v1/agents/agent-a/records?latest=banana", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

// ── Key list ─────────────────────────────────────────────────────────────────

func TestBuildKeyList_200(t *testing.T) {
	e := setupRecordRouter(t)
	e.addAgent(t, "agent-a")

	w := e.do(t, http.MethodPost, "/api/v1/agents/agent-a/records", map[string]any{
		"identity":  map[string]any{"public_key": "pk-1"},
		"evidence":  map[string]any{"quote": "q1"},
		"timestamp": 100,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	w = e.do(t, http.MethodPost, "/api/v1/agents/agent-a/records", map[string]any{
		"identity":  map[string]any{"public_key": "pk-2", "ek_tpm": "ek-1"},
		"evidence":  map[string]any{"quote": "q2"},
		"timestamp": 200,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = e.do(t, http.MethodGet, "/api/v1/agents/agent-a/keylist", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	resp := decodeBody(t, w)
	if resp["count"].(float64) != 3 {
		t.Fatalf("count: got %v, want 3", resp["count"])
	}
	keys := resp["keys"].([]any)
	first := keys[0].(map[string]any)
	if first["timestamp"].(float64) != 100 || first["name"] != "public_key" || first["value"] != "pk-1" {
		t.Errorf("unexpected first key entry: %v", first)
	}
	last := keys[2].(map[string]any)
	if last["name"] != "ek_tpm" || last["value"] != "ek-1" {
		t.Errorf("unexpected last key entry: %v", last)
	}
}

func TestBuildKeyList_200_empty(t *testing.T) {
	e := setupRecordRouter(t)
	e.addAgent(t, "agent-a")

	w := e.do(t, http.MethodGet, "/api/v1/agents/agent-a/keylist", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeBody(t, w)
	if resp["count"].(float64) != 0 {
		t.Errorf("count: got %v, want 0", resp["count"])
	}
}

// ── Agents index ─────────────────────────────────────────────────────────────

func TestListAgents_200(t *testing.T) {
	e := setupRecordRouter(t)
	e.addAgent(t, "agent-a")
	e.addAgent(t, "agent-b")
	e.handler.SetAgentLister(e.keys)

	w := e.do(t, http.MethodGet, "/api/v1/agents", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	resp := decodeBody(t, w)
	if resp["count"].(float64) != 2 {
		t.Fatalf("count: got %v, want 2", resp["count"])
	}
	seen := map[string]bool{}
	for _, v := range resp["agents"].([]any) {
		seen[v.(string)] = true
	}
	if !seen["agent-a"] || !seen["agent-b"] {
		t.Errorf("expected agent-a and agent-b in %v", resp["agents"])
	}
}

func TestListAgents_501_noDirectory(t *testing.T) {
	e := setupRecordRouter(t)

	w := e.do(t, http.MethodGet, "/api/v1/agents", nil)
	if w.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d: %s", w.Code, w.Body.String())
	}
}
