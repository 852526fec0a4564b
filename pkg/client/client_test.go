package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/attestary/attestary/pkg/client"
	"github.com/attestary/attestary/pkg/evidence"
)

// ── Stub server ─────────────────────────────────────────────────────────

func stubArchiveServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/agents", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"agents": []string{"node-17", "node-18"},
			"count":  2,
		})
	})

	mux.HandleFunc("/api/v1/agents/", func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		if strings.HasSuffix(path, "/keylist") {
			json.NewEncoder(w).Encode(map[string]any{
				"keys": []map[string]any{
					{"timestamp": 100, "name": "public_key", "value": "pk-1"},
					{"timestamp": 200, "name": "public_key", "value": "pk-2"},
				},
				"faults": []any{},
				"count":  2,
			})
			return
		}

		if strings.HasSuffix(path, "/records") {
			switch r.Method {
			case http.MethodPost:
				var body map[string]any
				if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
					http.Error(w, `{"error":"bad body"}`, http.StatusBadRequest)
					return
				}
				if ts, _ := body["timestamp"].(float64); ts == 1000 {
					http.Error(w, `{"error":"record already exists"}`, http.StatusConflict)
					return
				}
				if ev, ok := body["evidence"].(map[string]any); ok {
					if _, hot := ev["reject_me"]; hot {
						w.WriteHeader(http.StatusUnprocessableEntity)
						json.NewEncoder(w).Encode(map[string]any{
							"error":  "record rejected by admission screening",
							"report": map[string]any{"score": 100, "rejected": true},
						})
						return
					}
				}
				w.WriteHeader(http.StatusCreated)
				json.NewEncoder(w).Encode(map[string]any{
					"record": map[string]any{
						"agent_id":  "node-17",
						"timestamp": 1717243200,
						"kind":      "attestation",
						"evidence":  body["evidence"],
					},
					"receipt": "stub-receipt-jwt",
				})
			case http.MethodGet:
				if r.URL.Query().Get("latest") == "true" {
					json.NewEncoder(w).Encode(map[string]any{
						"records": []map[string]any{
							{"agent_id": "node-17", "timestamp": 200, "kind": "attestation"},
						},
						"faults": []any{},
						"count":  1,
					})
					return
				}
				json.NewEncoder(w).Encode(map[string]any{
					"records": []map[string]any{
						{"agent_id": "node-17", "timestamp": 100, "kind": "attestation"},
						{"agent_id": "node-17", "timestamp": 200, "kind": "attestation"},
					},
					"faults": []map[string]any{
						{"agent_id": "node-17", "timestamp": 150, "type": "signature", "message": "signature check failed"},
					},
					"count": 2,
				})
			}
			return
		}

		http.NotFound(w, r)
	})

	return httptest.NewServer(mux)
}

func testDocument() *evidence.Document {
	return &evidence.Document{
		SchemaVersion: evidence.CurrentSchemaVersion,
		AgentID:       "node-17",
		Evidence:      map[string]any{"quote": "r0aXYZ"},
	}
}

// ── Tests ────────────────────────────────────────────────────────────────

func TestCreateRecord_success(t *testing.T) {
	srv := stubArchiveServer(t)
	defer srv.Close()

	c, err := client.New(srv.URL)
	if err != nil {
		t.Fatal(err)
	}

	result, err := c.CreateRecord(context.Background(), testDocument())
	if err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}
	if result.Record.AgentID != "node-17" {
		t.Errorf("unexpected agent id: %s", result.Record.AgentID)
	}
	if result.Record.Timestamp != 1717243200 {
		t.Errorf("unexpected timestamp: %d", result.Record.Timestamp)
	}
	if result.Receipt != "stub-receipt-jwt" {
		t.Errorf("unexpected receipt: %s", result.Receipt)
	}
}

func TestCreateRecord_conflict(t *testing.T) {
	srv := stubArchiveServer(t)
	defer srv.Close()

	c, _ := client.New(srv.URL)
	doc := testDocument()
	doc.Timestamp = 1000

	_, err := c.CreateRecord(context.Background(), doc)
	if !errors.Is(err, client.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestCreateRecord_rejected(t *testing.T) {
	srv := stubArchiveServer(t)
	defer srv.Close()

	c, _ := client.New(srv.URL)
	doc := testDocument()
	doc.Evidence = map[string]any{"reject_me": true}

	_, err := c.CreateRecord(context.Background(), doc)
	var rejected *client.RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected *RejectedError, got %v", err)
	}
	if !strings.Contains(string(rejected.Report), `"rejected":true`) {
		t.Errorf("unexpected report: %s", rejected.Report)
	}
}

func TestCreateRecord_invalidDocument(t *testing.T) {
	srv := stubArchiveServer(t)
	defer srv.Close()

	c, _ := client.New(srv.URL)

	_, err := c.CreateRecord(context.Background(), &evidence.Document{AgentID: "node-17"})
	if err == nil {
		t.Error("expected validation error for incomplete document")
	}
}

func TestReadRecords_success(t *testing.T) {
	srv := stubArchiveServer(t)
	defer srv.Close()

	c, _ := client.New(srv.URL)

	res, err := c.ReadRecords(context.Background(), "node-17", client.ReadOptions{})
	if err != nil {
		t.Fatalf("ReadRecords: %v", err)
	}
	if res.Count != 2 || len(res.Records) != 2 {
		t.Fatalf("expected 2 records, got count=%d len=%d", res.Count, len(res.Records))
	}
	if res.Records[0].Timestamp != 100 || res.Records[1].Timestamp != 200 {
		t.Errorf("unexpected timestamps: %d, %d", res.Records[0].Timestamp, res.Records[1].Timestamp)
	}
	if len(res.Faults) != 1 || res.Faults[0].Type != "signature" {
		t.Errorf("unexpected faults: %v", res.Faults)
	}
}

func TestReadLatest_success(t *testing.T) {
	srv := stubArchiveServer(t)
	defer srv.Close()

	c, _ := client.New(srv.URL)

	res, err := c.ReadLatest(context.Background(), "node-17", "")
	if err != nil {
		t.Fatalf("ReadLatest: %v", err)
	}
	if len(res.Records) != 1 || res.Records[0].Timestamp != 200 {
		t.Errorf("expected only the newest record, got %v", res.Records)
	}
}

func TestReadRecords_invalidAgentID(t *testing.T) {
	srv := stubArchiveServer(t)
	defer srv.Close()

	c, _ := client.New(srv.URL)

	_, err := c.ReadRecords(context.Background(), strings.Repeat("a", 129), client.ReadOptions{})
	if err == nil {
		t.Error("expected error for over-long agent id")
	}
}

func TestBuildKeyList_success(t *testing.T) {
	srv := stubArchiveServer(t)
	defer srv.Close()

	c, _ := client.New(srv.URL)

	list, err := c.BuildKeyList(context.Background(), "node-17", "")
	if err != nil {
		t.Fatalf("BuildKeyList: %v", err)
	}
	if list.Count != 2 || len(list.Keys) != 2 {
		t.Fatalf("expected 2 keys, got count=%d len=%d", list.Count, len(list.Keys))
	}
	if list.Keys[0].Name != "public_key" || list.Keys[0].Value != "pk-1" {
		t.Errorf("unexpected first key: %+v", list.Keys[0])
	}
}

func TestListAgents_success(t *testing.T) {
	srv := stubArchiveServer(t)
	defer srv.Close()

	c, _ := client.New(srv.URL)

	agents, err := c.ListAgents(context.Background())
	if err != nil {
		t.Fatalf("ListAgents: %v", err)
	}
	if len(agents) != 2 || agents[0] != "node-17" {
		t.Errorf("unexpected agents: %v", agents)
	}
}

func TestCredentials_attached(t *testing.T) {
	var gotAuth, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get("X-API-Key")
		json.NewEncoder(w).Encode(map[string]any{"agents": []string{}, "count": 0})
	}))
	defer srv.Close()

	c, _ := client.New(srv.URL,
		client.WithBearerToken("test-token"),
		client.WithAPIKey("test-key"),
	)
	if _, err := c.ListAgents(context.Background()); err != nil {
		t.Fatalf("ListAgents: %v", err)
	}

	if gotAuth != "Bearer test-token" {
		t.Errorf("Authorization: got %q", gotAuth)
	}
	if gotKey != "test-key" {
		t.Errorf("X-API-Key: got %q", gotKey)
	}
}

func TestReadRecords_serverError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"archive backend unavailable"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, _ := client.New(srv.URL)

	_, err := c.ReadRecords(context.Background(), "node-17", client.ReadOptions{})
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Errorf("expected 503 server error, got %v", err)
	}
}
