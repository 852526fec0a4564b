package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/attestary/attestary/pkg/agentid"
	"github.com/attestary/attestary/pkg/evidence"
)

// ErrConflict is returned by CreateRecord when the archive already
// holds a record for this agent at the same timestamp.
var ErrConflict = errors.New("record already exists at this timestamp")

// RejectedError is returned by CreateRecord when admission screening
// rejects the submission. Report carries the server's findings.
type RejectedError struct {
	Report json.RawMessage
}

func (e *RejectedError) Error() string {
	return "record rejected by admission screening"
}

// maxResponseBytes bounds how much of any archive response the SDK
// will read. Full histories can run large; error bodies cannot.
const maxResponseBytes = 16 << 20

// Record is one archived evidence record as returned by the API.
// Signature and TimestampProof are opaque to the SDK — the archive
// verifies them server-side before returning the record.
type Record struct {
	AgentID        string          `json:"agent_id"`
	Timestamp      int64           `json:"timestamp"`
	Kind           string          `json:"kind"`
	Identity       map[string]any  `json:"identity,omitempty"`
	Evidence       map[string]any  `json:"evidence,omitempty"`
	MBPolicy       json.RawMessage `json:"mb_policy,omitempty"`
	RuntimePolicy  json.RawMessage `json:"runtime_policy,omitempty"`
	Signature      json.RawMessage `json:"signature,omitempty"`
	TimestampProof json.RawMessage `json:"timestamp_proof,omitempty"`
}

// Fault describes one stored record the archive could not verify
// during a read.
type Fault struct {
	AgentID   string `json:"agent_id"`
	Timestamp int64  `json:"timestamp"`
	Type      string `json:"type"`
	Message   string `json:"message"`
}

// CreateResult holds the stored record returned by CreateRecord, plus
// the signed archival receipt when the server issues them.
type CreateResult struct {
	Record  Record `json:"record"`
	Receipt string `json:"receipt,omitempty"`
}

// ReadResult holds the verified records returned by a read, ascending
// by timestamp, plus a fault per stored row that failed verification.
type ReadResult struct {
	Records []Record `json:"records"`
	Faults  []Fault  `json:"faults"`
	Count   int      `json:"count"`
}

// KeyMaterial is one public-key entry from an agent's key history.
type KeyMaterial struct {
	Timestamp int64  `json:"timestamp"`
	Name      string `json:"name"`
	Value     any    `json:"value"`
}

// KeyList holds an agent's full key history, oldest first.
type KeyList struct {
	Keys   []KeyMaterial `json:"keys"`
	Faults []Fault       `json:"faults"`
	Count  int           `json:"count"`
}

// ReadOptions narrows a ReadRecords call. The zero value reads the
// full history: window [0, unbounded], default service, all records.
type ReadOptions struct {
	// Start and End bound the window in Unix seconds, inclusive both
	// ends. Zero End means unbounded future.
	Start int64
	End   int64

	// Service routes the read to the matching record table; tags
	// containing "registration" read registrar records.
	Service string

	// Latest restricts the result to the single newest record in the
	// window.
	Latest bool
}

// Client is the archive SDK entry point.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	bearerToken string
	apiKey      string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client, overriding any TLS options.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithBearerToken attaches an API token to every request. Tokens are
// minted offline by the archive operator; the SDK never refreshes them.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// WithAPIKey attaches a pre-shared API key to every request via the
// X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) error {
		c.apiKey = key
		return nil
	}
}

// WithTLSConfig sets the TLS configuration for the underlying transport.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *Client) error {
		c.httpClient = &http.Client{
			Transport: &http.Transport{TLSClientConfig: cfg},
			Timeout:   30 * time.Second,
		}
		return nil
	}
}

// WithMTLS configures the client for mutual TLS using the provided
// PEM-encoded client certificate, private key, and archive CA
// certificate.
func WithMTLS(certPEM, keyPEM, caPEM string) Option {
	return func(c *Client) error {
		clientCert, err := tls.X509KeyPair([]byte(certPEM), []byte(keyPEM))
		if err != nil {
			return fmt.Errorf("parse mTLS cert/key: %w", err)
		}

		pool := x509.NewCertPool()
		if caPEM != "" {
			if !pool.AppendCertsFromPEM([]byte(caPEM)) {
				return fmt.Errorf("failed to parse CA certificate PEM")
			}
		}

		return WithTLSConfig(&tls.Config{
			Certificates: []tls.Certificate{clientCert},
			RootCAs:      pool,
			MinVersion:   tls.VersionTLS13,
		})(c)
	}
}

// WithInsecureSkipVerify disables TLS certificate verification.
// Only use this in development against a locally-generated CA.
func WithInsecureSkipVerify() Option {
	return func(c *Client) error {
		return WithTLSConfig(&tls.Config{InsecureSkipVerify: true})(c) //nolint:gosec
	}
}

// New creates an archive SDK Client connected to baseURL.
//
//	c, err := client.New("https://evidence.internal:8443",
//	    client.WithBearerToken(token),
//	)
func New(baseURL string, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(baseURL string, opts ...Option) *Client {
	c, err := New(baseURL, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// CreateRecord submits one evidence document for archival. The record
// is signed and timestamped server-side; the returned CreateResult
// carries the stored record as the archive will serve it back.
//
// Returns ErrConflict when a record already exists at the document's
// timestamp, and *RejectedError when admission screening refuses it.
func (c *Client) CreateRecord(ctx context.Context, doc *evidence.Document) (*CreateResult, error) {
	if doc == nil {
		return nil, fmt.Errorf("nil evidence document")
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	id, err := agentid.Normalize(doc.AgentID)
	if err != nil {
		return nil, fmt.Errorf("agent id: %w", err)
	}

	body := map[string]any{
		"identity": doc.Identity,
		"evidence": doc.Evidence,
	}
	if len(doc.MBPolicy) > 0 {
		body["mb_policy"] = doc.MBPolicy
	}
	if len(doc.RuntimePolicy) > 0 {
		body["runtime_policy"] = doc.RuntimePolicy
	}
	if doc.Timestamp != 0 {
		body["timestamp"] = doc.Timestamp
	}
	if len(doc.SignedAttributes) > 0 {
		body["signed_attributes"] = doc.SignedAttributes
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	target := c.baseURL + "/api/v1/agents/" + id + "/records"
	if doc.ServiceTag != "" {
		target += "?service=" + url.QueryEscape(doc.ServiceTag)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	status, respBody, err := c.doStatusBody(req)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusCreated:
		// fall through to decode
	case http.StatusConflict:
		return nil, ErrConflict
	case http.StatusUnprocessableEntity:
		var rej struct {
			Report json.RawMessage `json:"report"`
		}
		if err := json.Unmarshal(respBody, &rej); err != nil {
			return nil, fmt.Errorf("decode rejection response: %w", err)
		}
		return nil, &RejectedError{Report: rej.Report}
	case http.StatusUnauthorized:
		return nil, fmt.Errorf("unauthorized: %s", string(respBody))
	default:
		return nil, fmt.Errorf("server error %d: %s", status, string(respBody))
	}

	var result CreateResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode create response: %w", err)
	}
	return &result, nil
}

// ReadRecords fetches an agent's verified record history. Stored rows
// that fail server-side verification come back as Faults alongside the
// records that pass.
func (c *Client) ReadRecords(ctx context.Context, agentID string, opts ReadOptions) (*ReadResult, error) {
	id, err := agentid.Normalize(agentID)
	if err != nil {
		return nil, fmt.Errorf("agent id: %w", err)
	}

	q := url.Values{}
	if opts.Start > 0 {
		q.Set("start", strconv.FormatInt(opts.Start, 10))
	}
	if opts.End > 0 {
		q.Set("end", strconv.FormatInt(opts.End, 10))
	}
	if opts.Service != "" {
		q.Set("service", opts.Service)
	}
	if opts.Latest {
		q.Set("latest", "true")
	}

	target := c.baseURL + "/api/v1/agents/" + id + "/records"
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var result ReadResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode read response: %w", err)
	}
	return &result, nil
}

// ReadLatest fetches only the newest record of an agent's history.
func (c *Client) ReadLatest(ctx context.Context, agentID, service string) (*ReadResult, error) {
	return c.ReadRecords(ctx, agentID, ReadOptions{Service: service, Latest: true})
}

// BuildKeyList fetches an agent's key history: every key-bearing
// identity field from every verified record, oldest first.
func (c *Client) BuildKeyList(ctx context.Context, agentID, service string) (*KeyList, error) {
	id, err := agentid.Normalize(agentID)
	if err != nil {
		return nil, fmt.Errorf("agent id: %w", err)
	}

	target := c.baseURL + "/api/v1/agents/" + id + "/keylist"
	if service != "" {
		target += "?service=" + url.QueryEscape(service)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var result KeyList
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode key list response: %w", err)
	}
	return &result, nil
}

// ListAgents returns the agents known to the archive's key directory.
func (c *Client) ListAgents(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/agents", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var wrapper struct {
		Agents []string `json:"agents"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return wrapper.Agents, nil
}

// do executes an HTTP request, attaching credentials if configured.
func (c *Client) do(req *http.Request) ([]byte, error) {
	status, body, err := c.doStatusBody(req)
	if err != nil {
		return nil, err
	}

	if status == http.StatusNotFound {
		return nil, fmt.Errorf("not found: %s", req.URL.Path)
	}
	if status == http.StatusUnauthorized {
		return nil, fmt.Errorf("unauthorized: %s", string(body))
	}
	if status >= 300 {
		return nil, fmt.Errorf("server error %d: %s", status, string(body))
	}
	return body, nil
}

// doStatusBody is a lower-level HTTP call that returns (statusCode,
// body, error) without failing on 4xx responses. The caller interprets
// the status code.
func (c *Client) doStatusBody(req *http.Request) (int, []byte, error) {
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}
