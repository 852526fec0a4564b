package main

import (
	"bufio"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/attestary/attestary/internal/envelope"
	"github.com/attestary/attestary/internal/identity"
	"github.com/attestary/attestary/pkg/agentid"
	"github.com/attestary/attestary/pkg/client"
	"github.com/attestary/attestary/pkg/evidence"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	archiveURL  string
	cfgFile     string
	bearerToken string
	apiKey      string
	certDir     string
	insecure    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "attestary",
	Short: "Attestary evidence archive CLI",
	Long: `attestary is the command-line interface for the Attestary evidence archive.

It submits attestation evidence, reads back verified record histories,
and manages the credentials used to talk to an archive.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.attestary")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if archiveURL == "" {
			archiveURL = viper.GetString("archive_url")
		}
		if archiveURL == "" {
			archiveURL = "http://localhost:8880"
		}
		if bearerToken == "" {
			bearerToken = viper.GetString("token")
		}
		if apiKey == "" {
			apiKey = viper.GetString("api_key")
		}
		if certDir == "" {
			certDir = viper.GetString("cert_dir")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.attestary/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&archiveURL, "archive", "", "Archive base URL (default http://localhost:8880)")
	rootCmd.PersistentFlags().StringVar(&bearerToken, "token", "", "Bearer token for authenticated endpoints")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key for authenticated endpoints")
	rootCmd.PersistentFlags().StringVar(&certDir, "cert-dir", "", "Directory with cert.pem/key.pem/ca.pem for mTLS")
	rootCmd.PersistentFlags().BoolVar(&insecure, "insecure", false, "Skip TLS certificate verification (development only)")

	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(keylistCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(enrollCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(certCmd)
	rootCmd.AddCommand(versionCmd)
}

// newClient builds an archive client from the persistent credential flags.
func newClient() (*client.Client, error) {
	opts := []client.Option{}
	if insecure {
		opts = append(opts, client.WithInsecureSkipVerify())
	}
	if bearerToken != "" {
		opts = append(opts, client.WithBearerToken(bearerToken))
	}
	if apiKey != "" {
		opts = append(opts, client.WithAPIKey(apiKey))
	}
	if certDir != "" {
		opts = append(opts, client.WithCertDir(certDir))
	}
	return client.New(archiveURL, opts...)
}

// fmtTime renders a record timestamp for table output.
func fmtTime(ts int64) string {
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}

// ── submit ───────────────────────────────────────────────────────────────────

var (
	submitService   string
	submitTimestamp int64
	submitFormat    string
)

var submitCmd = &cobra.Command{
	Use:   "submit <evidence.json>",
	Short: "Submit an evidence document to the archive",
	Long: `Submit reads an evidence document from a JSON file and archives it.

The document must carry schema_version, agent_id, and at least one of the
identity or evidence sections. The archive canonicalizes, signs, and
timestamps the record before storing it; the returned receipt (when the
archive issues receipts) proves the submission was accepted:

  attestary submit quote.json --service attestation`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().StringVar(&submitService, "service", "", "Service tag selecting the record table (e.g. agent_registration)")
	submitCmd.Flags().Int64Var(&submitTimestamp, "timestamp", 0, "Record timestamp as Unix seconds; 0 lets the archive assign one")
	submitCmd.Flags().StringVar(&submitFormat, "format", "text", "Output format: text or json")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	doc, err := evidence.Load(args[0])
	if err != nil {
		return err
	}
	if submitService != "" {
		doc.ServiceTag = submitService
	}
	if submitTimestamp > 0 {
		doc.Timestamp = submitTimestamp
	}

	c, err := newClient()
	if err != nil {
		return err
	}

	result, err := c.CreateRecord(context.Background(), doc)
	if err != nil {
		var rejected *client.RejectedError
		switch {
		case errors.Is(err, client.ErrConflict):
			return fmt.Errorf("a record for %s already exists at this timestamp; resubmit with a fresh timestamp", doc.AgentID)
		case errors.As(err, &rejected):
			out, _ := json.MarshalIndent(json.RawMessage(rejected.Report), "  ", "  ")
			return fmt.Errorf("record rejected by admission screening:\n  %s", string(out))
		default:
			return fmt.Errorf("submit evidence: %w", err)
		}
	}

	if submitFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	fmt.Printf("✓ Record archived\n\n")
	fmt.Printf("  Agent: %s\n", result.Record.AgentID)
	fmt.Printf("  Time:  %s (%d)\n", fmtTime(result.Record.Timestamp), result.Record.Timestamp)
	fmt.Printf("  Kind:  %s\n", result.Record.Kind)
	if result.Receipt != "" {
		fmt.Printf("\nArchival receipt (keep it; it proves the archive accepted this record):\n%s\n", result.Receipt)
	}
	return nil
}

// ── history ──────────────────────────────────────────────────────────────────

var (
	historyStart   int64
	historyEnd     int64
	historyLatest  bool
	historyService string
	historyFormat  string
)

var historyCmd = &cobra.Command{
	Use:   "history <agent-id>",
	Short: "Read an agent's verified record history",
	Long: `History reads back an agent's records. Every record is re-verified by
the archive before it is returned; records that fail verification are
reported as faults instead of being silently dropped.

  attestary history node-17
  attestary history node-17 --start 1717200000 --end 1717290000
  attestary history node-17 --latest
  attestary history node-17 --service agent_registration`,
	Args: cobra.ExactArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().Int64Var(&historyStart, "start", 0, "Window start as Unix seconds (inclusive)")
	historyCmd.Flags().Int64Var(&historyEnd, "end", 0, "Window end as Unix seconds (inclusive); 0 means no bound")
	historyCmd.Flags().BoolVar(&historyLatest, "latest", false, "Return only the newest record")
	historyCmd.Flags().StringVar(&historyService, "service", "", "Service tag selecting the record table")
	historyCmd.Flags().StringVar(&historyFormat, "format", "text", "Output format: text or json")
}

func runHistory(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx := context.Background()

	var result *client.ReadResult
	if historyLatest {
		result, err = c.ReadLatest(ctx, args[0], historyService)
	} else {
		result, err = c.ReadRecords(ctx, args[0], client.ReadOptions{
			Start:   historyStart,
			End:     historyEnd,
			Service: historyService,
		})
	}
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}

	if historyFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	if len(result.Records) == 0 && len(result.Faults) == 0 {
		fmt.Printf("No records for %s\n", args[0])
		return nil
	}

	if len(result.Records) > 0 {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tTIMESTAMP\tKIND\tSECTIONS")
		for _, rec := range result.Records {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
				fmtTime(rec.Timestamp), rec.Timestamp, rec.Kind, payloadSummary(rec))
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	printFaults(result.Faults)
	fmt.Printf("\n%d record(s), %d fault(s)\n", len(result.Records), len(result.Faults))
	return nil
}

// payloadSummary names the sections a record carries without dumping
// them; counts are fields per section.
func payloadSummary(rec client.Record) string {
	var parts []string
	if len(rec.Evidence) > 0 {
		parts = append(parts, fmt.Sprintf("evidence(%d)", len(rec.Evidence)))
	}
	if len(rec.Identity) > 0 {
		parts = append(parts, fmt.Sprintf("identity(%d)", len(rec.Identity)))
	}
	if len(rec.MBPolicy) > 0 {
		parts = append(parts, "mb-policy")
	}
	if len(rec.RuntimePolicy) > 0 {
		parts = append(parts, "runtime-policy")
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ", ")
}

// printFaults lists verification faults, one per line.
func printFaults(faults []client.Fault) {
	if len(faults) == 0 {
		return
	}
	fmt.Printf("\nFaults:\n")
	for _, f := range faults {
		fmt.Printf("  [%s] %s @ %d: %s\n", f.Type, f.AgentID, f.Timestamp, f.Message)
	}
}

// ── keylist ──────────────────────────────────────────────────────────────────

var (
	keylistService string
	keylistFormat  string
)

var keylistCmd = &cobra.Command{
	Use:   "keylist <agent-id>",
	Short: "Project an agent's key material from its registration history",
	Long: `Keylist walks an agent's registration records oldest-first and prints
every identity key the agent has ever presented, in order of first
appearance. Useful when deciding whether an agent's current key is a
rotation or an impostor.`,
	Args: cobra.ExactArgs(1),
	RunE: runKeylist,
}

func init() {
	keylistCmd.Flags().StringVar(&keylistService, "service", "", "Service tag selecting the record table")
	keylistCmd.Flags().StringVar(&keylistFormat, "format", "text", "Output format: text or json")
}

func runKeylist(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	list, err := c.BuildKeyList(context.Background(), args[0], keylistService)
	if err != nil {
		return fmt.Errorf("build key list: %w", err)
	}

	if keylistFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}

	if len(list.Keys) == 0 && len(list.Faults) == 0 {
		fmt.Printf("No key material for %s\n", args[0])
		return nil
	}

	if len(list.Keys) > 0 {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tNAME\tVALUE")
		for _, k := range list.Keys {
			fmt.Fprintf(w, "%s\t%s\t%s\n", fmtTime(k.Timestamp), k.Name, truncate(fmt.Sprint(k.Value), 56))
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	printFaults(list.Faults)
	fmt.Printf("\n%d key(s), %d fault(s)\n", len(list.Keys), len(list.Faults))
	return nil
}

// truncate shortens s for table display.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// ── agents ───────────────────────────────────────────────────────────────────

var agentsFormat string

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List the agents known to the archive's key directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		ids, err := c.ListAgents(context.Background())
		if err != nil {
			return fmt.Errorf("list agents: %w", err)
		}

		if agentsFormat == "json" {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(ids)
		}

		for _, id := range ids {
			fmt.Println(id)
		}
		fmt.Printf("\n%d agent(s)\n", len(ids))
		return nil
	},
}

func init() {
	agentsCmd.Flags().StringVar(&agentsFormat, "format", "text", "Output format: text or json")
}

// ── verify ───────────────────────────────────────────────────────────────────

// verifyServices are the service tags a verify pass reads, one per
// record table.
var verifyServices = []string{"attestation", "agent_registration"}

// verifyRow holds the outcome of verifying a single agent's history.
type verifyRow struct {
	agentID string
	records int
	faults  []client.Fault
	err     error
}

var verifyFormat string

var verifyCmd = &cobra.Command{
	Use:   "verify <agent-id> [agent-id] ...",
	Short: "Re-verify the full stored history of one or more agents",
	Long: `Verify re-reads every record the archive holds for the given agents,
across both the attestation and registration tables, and reports any
record that fails signature or timestamp verification.

Multiple agents are verified concurrently and displayed as a table:

  attestary verify node-17 node-18 node-19`,
	Args: cobra.MinimumNArgs(1),
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().StringVar(&verifyFormat, "format", "text", "Output format: text or json")
}

func runVerify(cmd *cobra.Command, args []string) error {
	// Validate all agent IDs up-front.
	for _, id := range args {
		if _, err := agentid.Normalize(id); err != nil {
			return fmt.Errorf("invalid agent ID %q: %w", id, err)
		}
	}

	c, err := newClient()
	if err != nil {
		return err
	}
	ctx := context.Background()

	// Verify all agents concurrently.
	resultsCh := make(chan verifyRow, len(args))
	for _, id := range args {
		id := id
		go func() {
			row := verifyRow{agentID: id}
			for _, svc := range verifyServices {
				res, readErr := c.ReadRecords(ctx, id, client.ReadOptions{Service: svc})
				if readErr != nil {
					row.err = readErr
					break
				}
				row.records += len(res.Records)
				row.faults = append(row.faults, res.Faults...)
			}
			resultsCh <- row
		}()
	}

	// Collect in input order.
	byID := make(map[string]verifyRow, len(args))
	for range args {
		r := <-resultsCh
		byID[r.agentID] = r
	}
	ordered := make([]verifyRow, len(args))
	for i, id := range args {
		ordered[i] = byID[id]
	}

	if verifyFormat == "json" {
		if err := printVerifyJSON(ordered); err != nil {
			return err
		}
	} else {
		printVerifyText(ordered)
	}

	var badAgents, readErrs int
	for _, r := range ordered {
		if r.err != nil {
			readErrs++
		} else if len(r.faults) > 0 {
			badAgents++
		}
	}
	if badAgents > 0 || readErrs > 0 {
		return fmt.Errorf("verification found problems: %d agent(s) with faults, %d read error(s)", badAgents, readErrs)
	}
	return nil
}

func printVerifyJSON(results []verifyRow) error {
	type jsonRow struct {
		AgentID string         `json:"agent_id"`
		Records int            `json:"records"`
		Faults  []client.Fault `json:"faults"`
		Error   string         `json:"error,omitempty"`
	}
	rows := make([]jsonRow, len(results))
	for i, r := range results {
		rows[i] = jsonRow{AgentID: r.agentID, Records: r.records, Faults: r.faults, Error: ""}
		if rows[i].Faults == nil {
			rows[i].Faults = []client.Fault{}
		}
		if r.err != nil {
			rows[i].Error = r.err.Error()
		}
	}
	var v any = rows
	if len(rows) == 1 {
		v = rows[0]
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printVerifyText(results []verifyRow) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "AGENT\tRECORDS\tFAULTS\tSTATUS")
	for _, r := range results {
		switch {
		case r.err != nil:
			fmt.Fprintf(w, "%s\t\t\terror: %s\n", r.agentID, r.err.Error())
		case len(r.faults) > 0:
			fmt.Fprintf(w, "%s\t%d\t%d\tTAMPERED\n", r.agentID, r.records, len(r.faults))
		default:
			fmt.Fprintf(w, "%s\t%d\t0\tok\n", r.agentID, r.records)
		}
	}
	w.Flush() //nolint:errcheck

	for _, r := range results {
		printFaults(r.faults)
	}
}

// ── enroll ───────────────────────────────────────────────────────────────────

var (
	enrollSignerKey string
	enrollKeyDir    string
	enrollForce     bool
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <agent-id>",
	Short: "Enroll an agent in the archive's key directory",
	Long: `Enroll derives the public half of the archive signing key and installs
it in the key directory under the agent's ID. From then on the agent's
records verify on read and the audit sweeper covers its history.

Run this on the archive host; it touches the key directory directly:

  attestary enroll node-17 --signer-key signer.key --keydir keydir`,
	Args: cobra.ExactArgs(1),
	RunE: runEnroll,
}

func init() {
	enrollCmd.Flags().StringVar(&enrollSignerKey, "signer-key", "signer.key", "Archive signing key file")
	enrollCmd.Flags().StringVar(&enrollKeyDir, "keydir", "keydir", "Key directory the archive reads")
	enrollCmd.Flags().BoolVar(&enrollForce, "force", false, "Overwrite an existing enrollment")
}

func runEnroll(cmd *cobra.Command, args []string) error {
	id, err := agentid.Normalize(args[0])
	if err != nil {
		return fmt.Errorf("invalid agent ID %q: %w", args[0], err)
	}

	key, err := envelope.LoadPrivateKey(enrollSignerKey)
	if err != nil {
		return fmt.Errorf("load signing key: %w", err)
	}

	pubPath := filepath.Join(enrollKeyDir, id+".pub")
	if _, statErr := os.Stat(pubPath); statErr == nil && !enrollForce {
		fmt.Printf("Agent %s is already enrolled. Replacing its key makes older records fail verification.\n", id)
		fmt.Print("Overwrite? [y/N]: ")
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		if strings.ToLower(strings.TrimSpace(answer)) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	if err := os.MkdirAll(enrollKeyDir, 0o755); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}
	if err := envelope.SavePublicKey(pubPath, key.Public().(ed25519.PublicKey)); err != nil {
		return err
	}

	fmt.Printf("✓ Agent enrolled\n\n")
	fmt.Printf("  ID:  %s\n", id)
	fmt.Printf("  Key: %s\n\n", pubPath)
	fmt.Printf("Next: attestary submit <evidence.json> to archive this agent's first record\n")
	return nil
}

// ── token ────────────────────────────────────────────────────────────────────

var (
	tokenScopes []string
	tokenTTL    time.Duration
	tokenCADir  string
	tokenIssuer string
)

var tokenCmd = &cobra.Command{
	Use:   "token <subject>",
	Short: "Mint a bearer token for the evidence API",
	Long: `Token mints a signed API token using the archive CA key. Run it on the
archive host; the token is then handed to the component named by
<subject> (a verifier, registrar, or tenant tool).

The issuer claim must match the archive's configured issuer URL or the
server will reject the token. By default it is derived from --archive.

  attestary token attestation-verifier --scopes records:read,records:write --ttl 12h`,
	Args: cobra.ExactArgs(1),
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringSliceVar(&tokenScopes, "scopes", []string{"records:read"}, "Scopes granted to the token")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "Token lifetime")
	tokenCmd.Flags().StringVar(&tokenCADir, "ca-dir", "certs", "Directory holding the archive CA")
	tokenCmd.Flags().StringVar(&tokenIssuer, "issuer", "", "Issuer claim value (default: the archive URL)")
}

func runToken(cmd *cobra.Command, args []string) error {
	subject := args[0]

	ca := identity.NewCAManager(tokenCADir)
	if err := ca.Load(); err != nil {
		return fmt.Errorf("load archive CA from %s (start evidenced once, or run 'attestary cert --init'): %w", tokenCADir, err)
	}

	issuerURL := tokenIssuer
	if issuerURL == "" {
		issuerURL = archiveURL
	}

	tokens := identity.NewTokenIssuer(ca.Key(), issuerURL, tokenTTL)
	signed, err := tokens.Issue(subject, tokenScopes)
	if err != nil {
		return err
	}

	fmt.Printf("✓ API token issued\n\n")
	fmt.Printf("  Subject: %s\n", subject)
	fmt.Printf("  Scopes:  %s\n", strings.Join(tokenScopes, ", "))
	fmt.Printf("  TTL:     %s\n", tokenTTL)
	fmt.Printf("  Issuer:  %s\n\n", issuerURL)
	fmt.Println(signed)
	return nil
}

// ── cert ─────────────────────────────────────────────────────────────────────

var (
	certCADir    string
	certOutput   string
	certValidFor time.Duration
	certInit     bool
)

var certCmd = &cobra.Command{
	Use:   "cert <common-name>",
	Short: "Issue an mTLS client certificate signed by the archive CA",
	Long: `Cert issues a client certificate for a component that connects to the
archive's mutual-TLS port. The bundle is written as cert.pem, key.pem,
and ca.pem; point the CLI or SDK at the directory to use it:

  attestary cert attestation-verifier
  attestary history node-17 --cert-dir ~/.attestary/certs/attestation-verifier --archive https://archive:8881`,
	Args: cobra.ExactArgs(1),
	RunE: runCert,
}

func init() {
	certCmd.Flags().StringVar(&certCADir, "ca-dir", "certs", "Directory holding the archive CA")
	certCmd.Flags().StringVar(&certOutput, "output", "", "Bundle output directory (default ~/.attestary/certs/<common-name>/)")
	certCmd.Flags().DurationVar(&certValidFor, "valid-for", 365*24*time.Hour, "Certificate lifetime")
	certCmd.Flags().BoolVar(&certInit, "init", false, "Create the CA if it does not exist yet")
}

func runCert(cmd *cobra.Command, args []string) error {
	commonName := args[0]

	ca := identity.NewCAManager(certCADir)
	if certInit {
		if err := ca.LoadOrCreate(); err != nil {
			return fmt.Errorf("CA setup failed: %w", err)
		}
	} else if err := ca.Load(); err != nil {
		return fmt.Errorf("load archive CA from %s (start evidenced once, or pass --init): %w", certCADir, err)
	}

	certPEM, keyPEM, err := ca.IssueClientCert(commonName, certValidFor)
	if err != nil {
		return fmt.Errorf("issue client certificate: %w", err)
	}

	outputDir := certOutput
	if outputDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("get home dir: %w", err)
		}
		outputDir = filepath.Join(home, ".attestary", "certs", commonName)
	}

	if err := saveCertBundle(outputDir, certPEM, keyPEM, ca.CertPEM()); err != nil {
		return fmt.Errorf("save certs: %w", err)
	}

	fmt.Printf("✓ Client certificate issued\n\n")
	fmt.Printf("  CN:    %s\n", commonName)
	fmt.Printf("  Valid: %s\n", certValidFor)
	fmt.Printf("  Certs: %s\n\n", outputDir)
	fmt.Printf("Use it with:\n  attestary history <agent-id> --cert-dir %s --archive https://<archive-host>:8881\n", outputDir)
	return nil
}

// saveCertBundle writes cert.pem, key.pem (chmod 600), and ca.pem to dir.
func saveCertBundle(dir string, certPEM, keyPEM, caPEM []byte) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create cert dir: %w", err)
	}

	type certFile struct {
		name string
		data []byte
		mode os.FileMode
	}
	files := []certFile{
		{"cert.pem", certPEM, 0o644},
		{"key.pem", keyPEM, 0o600},
		{"ca.pem", caPEM, 0o644},
	}
	for _, f := range files {
		if len(f.data) == 0 {
			continue
		}
		path := filepath.Join(dir, f.name)
		if err := os.WriteFile(path, f.data, f.mode); err != nil {
			return fmt.Errorf("write %s: %w", f.name, err)
		}
	}
	return nil
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the attestary CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("attestary %s (evidence archive)\n", version)
	},
}
