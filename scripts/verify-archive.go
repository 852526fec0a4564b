//go:build ignore

// verify-archive.go sweeps a running archive over HTTP: it lists every agent
// the archive knows, re-reads each history across both record tables, and
// reports every record that no longer verifies.
//
// Run with: go run scripts/verify-archive.go
// Target a remote archive with: ARCHIVE_URL=https://archive:8880 go run scripts/verify-archive.go
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"time"
)

// services to sweep, one per record table.
var services = []string{"attestation", "agent_registration"}

type fault struct {
	AgentID   string `json:"agent_id"`
	Timestamp int64  `json:"timestamp"`
	Type      string `json:"type"`
	Message   string `json:"message"`
}

type readResponse struct {
	Records []json.RawMessage `json:"records"`
	Faults  []fault           `json:"faults"`
	Count   int               `json:"count"`
}

type result struct {
	agentID string
	service string
	records int
	faults  []fault
	err     string
	latency time.Duration
}

func sweep(base, agentID, service string, client *http.Client) result {
	url := fmt.Sprintf("%s/api/v1/agents/%s/records?service=%s", base, agentID, service)
	start := time.Now()

	resp, err := client.Get(url)
	latency := time.Since(start)
	if err != nil {
		msg := err.Error()
		if len(msg) > 60 {
			msg = msg[:60] + "..."
		}
		return result{agentID: agentID, service: service, err: msg, latency: latency}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if resp.StatusCode != 200 {
		return result{agentID: agentID, service: service,
			err: fmt.Sprintf("HTTP %d: %.60s", resp.StatusCode, string(body)), latency: latency}
	}

	var rr readResponse
	if err := json.Unmarshal(body, &rr); err != nil {
		return result{agentID: agentID, service: service, err: "bad response: " + err.Error(), latency: latency}
	}
	return result{agentID: agentID, service: service, records: len(rr.Records), faults: rr.Faults, latency: latency}
}

func listAgents(base string, client *http.Client) ([]string, error) {
	resp, err := client.Get(base + "/api/v1/agents")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("HTTP %d: %.100s", resp.StatusCode, string(body))
	}

	var payload struct {
		Agents []string `json:"agents"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	return payload.Agents, nil
}

func main() {
	base := os.Getenv("ARCHIVE_URL")
	if base == "" {
		base = "http://localhost:8880"
	}

	client := &http.Client{Timeout: 30 * time.Second}

	agents, err := listAgents(base, client)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list agents from %s: %v\n", base, err)
		os.Exit(1)
	}
	if len(agents) == 0 {
		fmt.Println("archive has no enrolled agents; nothing to sweep")
		return
	}

	type job struct {
		agentID, service string
	}

	jobs := make(chan job, len(agents)*len(services))
	results := make(chan result, len(agents)*len(services))

	// Worker pool, 8 concurrent reads
	for i := 0; i < 8; i++ {
		go func() {
			for j := range jobs {
				results <- sweep(base, j.agentID, j.service, client)
			}
		}()
	}

	total := 0
	for _, a := range agents {
		for _, s := range services {
			jobs <- job{a, s}
			total++
		}
	}
	close(jobs)

	// Collect
	perAgent := map[string]*struct {
		records int
		faults  []fault
		errs    []string
	}{}
	for _, a := range agents {
		perAgent[a] = &struct {
			records int
			faults  []fault
			errs    []string
		}{}
	}

	for i := 0; i < total; i++ {
		r := <-results
		fmt.Printf("\r  sweeping... %d/%d", i+1, total)
		agg := perAgent[r.agentID]
		agg.records += r.records
		agg.faults = append(agg.faults, r.faults...)
		if r.err != "" {
			agg.errs = append(agg.errs, r.service+": "+r.err)
		}
	}
	fmt.Printf("\r  done, %d histories read\n\n", total)

	sort.Strings(agents)

	totalRecords, tampered, unreachable := 0, 0, 0
	for _, a := range agents {
		agg := perAgent[a]
		totalRecords += agg.records
		if len(agg.faults) > 0 {
			tampered++
		}
		if len(agg.errs) > 0 {
			unreachable++
		}
	}

	// ── Report ────────────────────────────────────────────────────────────────
	fmt.Printf("══════════════════════════════════════════════════════\n")
	fmt.Printf("  Archive Verification Sweep\n")
	fmt.Printf("  Archive: %s  |  Agents: %d  |  Records: %d\n", base, len(agents), totalRecords)
	fmt.Printf("══════════════════════════════════════════════════════\n\n")

	if tampered == 0 && unreachable == 0 {
		fmt.Println("  ✓ Every stored record verified clean.")
		return
	}

	if tampered > 0 {
		fmt.Printf("── Agents with faulty records: %d ──\n", tampered)
		for _, a := range agents {
			agg := perAgent[a]
			if len(agg.faults) == 0 {
				continue
			}
			fmt.Printf("\n  ✦ %s  (%d fault(s) across %d record(s))\n", a, len(agg.faults), agg.records)
			for _, f := range agg.faults {
				fmt.Printf("    [%s] @ %d: %s\n", f.Type, f.Timestamp, f.Message)
			}
		}
		fmt.Println()
	}

	if unreachable > 0 {
		fmt.Printf("── Agents with read errors: %d ──\n", unreachable)
		for _, a := range agents {
			agg := perAgent[a]
			for _, e := range agg.errs {
				fmt.Printf("  • %s  %s\n", a, e)
			}
		}
		fmt.Println()
	}

	fmt.Println("══════════════════════════════════════════════════════")
	os.Exit(1)
}
