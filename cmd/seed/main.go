// cmd/seed populates an archive with realistic demo histories for development.
//
// Records go through the real write path: each one is screened, signed, and
// timestamped exactly as a live submission would be, so everything the seed
// creates verifies cleanly on read. Agents are enrolled in the key directory
// as a side effect.
//
// Running twice is safe: record timestamps are fixed, so reruns skip rows that
// already exist instead of duplicating them.
//
// Usage:
//
//	go run ./cmd/seed
//	DATABASE_URL=postgres://... go run ./cmd/seed
//	SQLITE_PATH=demo.db go run ./cmd/seed
package main

import (
	"context"
	"crypto/ed25519"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/attestary/attestary/internal/archive"
	"github.com/attestary/attestary/internal/envelope"
	"github.com/attestary/attestary/internal/keydir"
	"github.com/attestary/attestary/internal/record"
	"github.com/attestary/attestary/internal/store"
	"github.com/attestary/attestary/internal/timestamp"
)

const (
	defaultSQLitePath = "attestary.db"
	defaultSignerKey  = "signer.key"
	defaultTSAKey     = "tsa.key"
	defaultKeyDir     = "keydir"
)

// seedEpoch anchors every record timestamp. A fixed epoch keeps reruns
// idempotent: the same (agent, ts) rows conflict and are skipped.
var seedEpoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "seed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Provision(ctx, record.KindAttestation, record.KindRegistration); err != nil {
		return fmt.Errorf("provision record tables: %w", err)
	}

	signKey, err := envelope.LoadOrCreateKey(envOr("SIGNER_KEY", defaultSignerKey))
	if err != nil {
		return fmt.Errorf("load signing key: %w", err)
	}
	tsaKey, err := envelope.LoadOrCreateKey(envOr("TSA_KEY", defaultTSAKey))
	if err != nil {
		return fmt.Errorf("load timestamp key: %w", err)
	}

	tsa := timestamp.NewLocalAuthority("attestary-tsa", "tsa-1", tsaKey)
	signer := envelope.NewSigner("archive-1", signKey, tsa)

	keyDirPath := envOr("KEYDIR", defaultKeyDir)
	if err := enrollAgents(keyDirPath, signKey); err != nil {
		return err
	}

	keys := keydir.NewFileDir(keyDirPath)
	mgr := archive.NewManager(st, signer, keys, tsa.Verifier(), zap.NewNop())

	if err := seedRecords(ctx, mgr); err != nil {
		return err
	}

	fmt.Println("\nseed complete")
	return nil
}

// openStore connects to Postgres when DATABASE_URL is set, and falls back to
// a local SQLite file otherwise.
func openStore(ctx context.Context) (store.Store, error) {
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			return nil, fmt.Errorf("connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		fmt.Println("connected to postgres")
		return store.NewPostgres(pool, zap.NewNop()), nil
	}

	path := envOr("SQLITE_PATH", defaultSQLitePath)
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	fmt.Printf("opened sqlite database %s\n", path)
	return store.NewSQLite(db, zap.NewNop()), nil
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

// ── Enrollment ───────────────────────────────────────────────────────────────

// agentIDs lists every demo agent; all of them verify against the archive
// signing key.
var agentIDs = []string{"node-a7f3", "edge-gateway-01", "build-runner-09", "db-node-12"}

func enrollAgents(dir string, signKey ed25519.PrivateKey) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}

	fmt.Println()
	pub := signKey.Public().(ed25519.PublicKey)
	for _, id := range agentIDs {
		path := filepath.Join(dir, id+".pub")
		if err := envelope.SavePublicKey(path, pub); err != nil {
			return fmt.Errorf("enroll %s: %w", id, err)
		}
		fmt.Printf("  enroll %-18s %s\n", id, path)
	}
	return nil
}

// ── Records ──────────────────────────────────────────────────────────────────

// seedRecord is one archived record in an agent's demo history.
type seedRecord struct {
	Service       string // empty means attestation
	DaysAgo       int
	Identity      map[string]any
	Evidence      map[string]any
	MBPolicy      json.RawMessage
	RuntimePolicy json.RawMessage
}

type seedAgent struct {
	ID      string
	Records []seedRecord
}

// rawPolicy is a convenience helper for inline policy JSON.
func rawPolicy(s string) json.RawMessage { return json.RawMessage(s) }

// tpmQuote fabricates the evidence section of a periodic attestation.
func tpmQuote(pcr0, pcr10 string, boottimeOffset int) map[string]any {
	return map[string]any{
		"quote":    "rQEABAB4ACIAC7xiq1bV" + pcr10[:8] + "c2VlZC1xdW90ZQ",
		"hash_alg": "sha256",
		"enc_alg":  "rsa",
		"sign_alg": "rsassa",
		"pcrs": map[string]any{
			"0":  pcr0,
			"10": pcr10,
		},
		"ima_measurement_list": "10 " + pcr10 + " ima-ng sha256:" + pcr0 + " boot_aggregate\n",
		"boottime":             seedEpoch.Add(-45 * 24 * time.Hour).Unix() + int64(boottimeOffset),
	}
}

// registrarIdentity fabricates the identity section of an enrollment record.
// The field names match what the key-list projection looks for.
func registrarIdentity(serial string) map[string]any {
	return map[string]any{
		"ek_tpm":      "AAEACwADALIAIINxl2dEhLP4GpDMjUal1yT9" + serial,
		"aik_tpm":     "AAEACwAFAHIAIHKqe2aPVgS3mmGxDTPMVNHr" + serial,
		"ekcert":      "MIIDrDCCApSgAwIBAgIRAK" + serial + "q3fake",
		"mtls_cert":   "MIIBszCCAVmgAwIBAgIU" + serial + "mtlsfake",
		"tpm_version": "2.0",
	}
}

var agents = []seedAgent{
	// Long-running node with a clean daily attestation cadence.
	{
		ID: "node-a7f3",
		Records: []seedRecord{
			{Service: "agent_registration", DaysAgo: 30, Identity: registrarIdentity("a7f3r1")},
			{DaysAgo: 5, Evidence: tpmQuote("b5bb9d8014a0f9b1d61e21e796d78dccdf1352f23cd32812f4850b87", "8d4194336f6e83c6a0a50031a4ef185cab448ee4", 0)},
			{DaysAgo: 4, Evidence: tpmQuote("b5bb9d8014a0f9b1d61e21e796d78dccdf1352f23cd32812f4850b87", "8d4194336f6e83c6a0a50031a4ef185cab448ee4", 0)},
			{DaysAgo: 3, Evidence: tpmQuote("b5bb9d8014a0f9b1d61e21e796d78dccdf1352f23cd32812f4850b87", "8d4194336f6e83c6a0a50031a4ef185cab448ee4", 0)},
			{DaysAgo: 2, Evidence: tpmQuote("b5bb9d8014a0f9b1d61e21e796d78dccdf1352f23cd32812f4850b87", "8d4194336f6e83c6a0a50031a4ef185cab448ee4", 0)},
			{
				DaysAgo:       1,
				Evidence:      tpmQuote("b5bb9d8014a0f9b1d61e21e796d78dccdf1352f23cd32812f4850b87", "8d4194336f6e83c6a0a50031a4ef185cab448ee4", 0),
				RuntimePolicy: rawPolicy(`{"digests":{"boot_aggregate":["b5bb9d8014a0f9b1d61e21e796d78dccdf1352f23cd32812f4850b87"]},"excludes":["/var/log/.*"]}`),
			},
		},
	},

	// Edge box attesting with measured-boot and runtime policies attached.
	{
		ID: "edge-gateway-01",
		Records: []seedRecord{
			{Service: "agent_registration", DaysAgo: 21, Identity: registrarIdentity("edge01")},
			{
				DaysAgo:  3,
				Evidence: tpmQuote("c3ab8ff13720e8ad9047dd39466b3c8974e592c2fa383d4a3960714c", "42d4194336f6e83c6a0a50031a4ef185cab448ee", 120),
				MBPolicy: rawPolicy(`{"mb_refstate":{"scrtm":{"pcr_0":"c3ab8ff13720e8ad9047dd39466b3c8974e592c2fa383d4a3960714c"}}}`),
			},
			{
				DaysAgo:       2,
				Evidence:      tpmQuote("c3ab8ff13720e8ad9047dd39466b3c8974e592c2fa383d4a3960714c", "42d4194336f6e83c6a0a50031a4ef185cab448ee", 120),
				MBPolicy:      rawPolicy(`{"mb_refstate":{"scrtm":{"pcr_0":"c3ab8ff13720e8ad9047dd39466b3c8974e592c2fa383d4a3960714c"}}}`),
				RuntimePolicy: rawPolicy(`{"digests":{"/usr/bin/kmod":["42d4194336f6e83c6a0a50031a4ef185cab448ee"]}}`),
			},
			{
				DaysAgo:  1,
				Evidence: tpmQuote("c3ab8ff13720e8ad9047dd39466b3c8974e592c2fa383d4a3960714c", "42d4194336f6e83c6a0a50031a4ef185cab448ee", 120),
			},
		},
	},

	// CI runner that re-enrolled with fresh keys; the key list shows both
	// generations.
	{
		ID: "build-runner-09",
		Records: []seedRecord{
			{Service: "agent_registration", DaysAgo: 14, Identity: registrarIdentity("br09g1")},
			{Service: "agent_registration", DaysAgo: 2, Identity: registrarIdentity("br09g2")},
			{DaysAgo: 1, Evidence: tpmQuote("7d793037a0760186574b0282f2f435e7e32c24cbb1ad1ed75f1c1592", "f1c159237a0760186574b0282f2f435e7e32c24c", 300)},
		},
	},

	// Freshly enrolled; no attestations yet.
	{
		ID: "db-node-12",
		Records: []seedRecord{
			{Service: "agent_registration", DaysAgo: 1, Identity: registrarIdentity("db12r1")},
		},
	},
}

func seedRecords(ctx context.Context, mgr *archive.Manager) error {
	fmt.Println()
	created, skipped := 0, 0

	for _, a := range agents {
		for _, r := range a.Records {
			ts := seedEpoch.Add(-time.Duration(r.DaysAgo) * 24 * time.Hour).Unix()
			rec, err := mgr.Create(ctx, archive.CreateRequest{
				AgentID:       a.ID,
				ServiceTag:    r.Service,
				Timestamp:     ts,
				Identity:      r.Identity,
				Evidence:      r.Evidence,
				MBPolicy:      r.MBPolicy,
				RuntimePolicy: r.RuntimePolicy,
			})

			var conflict *store.ConflictError
			if errors.As(err, &conflict) {
				fmt.Printf("  skip   %-18s @ %d (already seeded)\n", a.ID, ts)
				skipped++
				continue
			}
			if err != nil {
				return fmt.Errorf("seed record %s @ %d: %w", a.ID, ts, err)
			}

			fmt.Printf("  record %-14s %-18s %s\n",
				rec.Kind, rec.AgentID, time.Unix(rec.Timestamp, 0).UTC().Format(time.RFC3339))
			created++
		}
	}

	fmt.Printf("\ncreated %d record(s), skipped %d\n", created, skipped)
	return nil
}
