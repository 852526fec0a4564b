package timestamp

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2/clientcredentials"
)

// remoteClient holds the HTTP plumbing shared by the remote authority
// and verifier.
type remoteClient struct {
	base       string
	httpClient *http.Client
}

// Option is a functional option for configuring a remote authority or
// verifier.
type Option func(*remoteClient) error

// WithHTTPClient sets a custom http.Client, overriding any auth options.
func WithHTTPClient(hc *http.Client) Option {
	return func(rc *remoteClient) error {
		rc.httpClient = hc
		return nil
	}
}

// WithClientCredentials authenticates every request to the authority
// using the OAuth2 client-credentials flow. Tokens are fetched and
// refreshed automatically.
func WithClientCredentials(clientID, clientSecret, tokenURL string, scopes ...string) Option {
	return func(rc *remoteClient) error {
		if clientID == "" || tokenURL == "" {
			return fmt.Errorf("client credentials require a client ID and token URL")
		}
		cfg := clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
			Scopes:       scopes,
		}
		rc.httpClient = cfg.Client(context.Background())
		return nil
	}
}

// do executes an HTTP request against the authority and returns the body.
func (rc *remoteClient) do(req *http.Request) ([]byte, error) {
	resp, err := rc.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("authority error %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// RemoteAuthority requests proofs from an external timestamp service
// over HTTP. Deployments that must not trust the archive host's clock
// point this at a dedicated authority.
type RemoteAuthority struct {
	remoteClient
}

// NewRemoteAuthority creates an authority client for the service at base,
// e.g. "https://tsa.example.com".
func NewRemoteAuthority(base string, opts ...Option) (*RemoteAuthority, error) {
	ra := &RemoteAuthority{remoteClient{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}}
	for _, o := range opts {
		if err := o(&ra.remoteClient); err != nil {
			return nil, err
		}
	}
	return ra, nil
}

// Stamp implements Authority by posting the payload digest to the
// authority's stamp endpoint.
func (ra *RemoteAuthority) Stamp(ctx context.Context, payload []byte) (*Proof, error) {
	digest := sha256.Sum256(payload)
	reqBody, _ := json.Marshal(map[string]string{"digest": hex.EncodeToString(digest[:])})

	url := ra.base + "/v1/stamp"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("build stamp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	body, err := ra.do(req)
	if err != nil {
		return nil, err
	}

	var p Proof
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode stamp response: %w", err)
	}
	if !bytes.Equal(p.Digest, digest[:]) {
		return nil, fmt.Errorf("authority stamped a different digest")
	}
	return &p, nil
}

// RemoteVerifier verifies proofs issued by a remote authority. It
// downloads the authority's public keys once and verifies locally from
// then on.
type RemoteVerifier struct {
	remoteClient

	// key state — guarded by mu
	mu   sync.Mutex
	keys map[string]ed25519.PublicKey
}

// NewRemoteVerifier creates a verifier for proofs from the authority at base.
func NewRemoteVerifier(base string, opts ...Option) (*RemoteVerifier, error) {
	rv := &RemoteVerifier{remoteClient: remoteClient{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}}
	for _, o := range opts {
		if err := o(&rv.remoteClient); err != nil {
			return nil, err
		}
	}
	return rv, nil
}

// VerifyProof implements Verifier.
func (rv *RemoteVerifier) VerifyProof(ctx context.Context, p *Proof, payload []byte) error {
	keys, err := rv.ensureKeys(ctx)
	if err != nil {
		return fmt.Errorf("fetch authority keys: %w", err)
	}
	key, ok := keys[p.KeyID]
	if !ok {
		return fmt.Errorf("unknown authority key %q", p.KeyID)
	}
	return verify(p, payload, key)
}

// ensureKeys returns the authority's verification keys, fetching them on
// first use. Thread-safe.
func (rv *RemoteVerifier) ensureKeys(ctx context.Context) (map[string]ed25519.PublicKey, error) {
	rv.mu.Lock()
	defer rv.mu.Unlock()

	if rv.keys != nil {
		return rv.keys, nil
	}

	url := rv.base + "/v1/keys"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build keys request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := rv.do(req)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Keys map[string]string `json:"keys"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode keys response: %w", err)
	}

	keys := make(map[string]ed25519.PublicKey, len(payload.Keys))
	for id, enc := range payload.Keys {
		raw, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return nil, fmt.Errorf("decode authority key %q: %w", id, err)
		}
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("authority key %q has wrong length %d", id, len(raw))
		}
		keys[id] = ed25519.PublicKey(raw)
	}
	rv.keys = keys
	return keys, nil
}
