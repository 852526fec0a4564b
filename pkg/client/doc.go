// Package client is the Go SDK for the Attestary evidence archive.
//
// It covers the full records API: submitting evidence documents,
// reading verified histories, and projecting key lists — with bearer
// token, API key, or mutual-TLS authentication.
//
// # Submitting evidence
//
// Assemble an evidence.Document and submit it in one call. The archive
// signs and timestamps the record server-side:
//
//	c, err := client.New("https://evidence.internal:8443",
//	    client.WithBearerToken(token),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := c.CreateRecord(ctx, &evidence.Document{
//	    SchemaVersion: evidence.CurrentSchemaVersion,
//	    AgentID:       "node-17",
//	    Identity:      map[string]any{"aik_tpm": aikBlob},
//	    Evidence:      map[string]any{"quote": quote, "hash_alg": "sha256"},
//	})
//
// CreateRecord returns ErrConflict when the archive already holds a
// record at the document's timestamp, and *RejectedError when
// admission screening refuses the submission:
//
//	if errors.Is(err, client.ErrConflict) {
//	    // bump the timestamp and retry
//	}
//
// # Reading a history
//
// Reads return the verified records plus a fault per stored row the
// archive could not verify — a tampered row never hides the rest:
//
//	res, err := c.ReadRecords(ctx, "node-17", client.ReadOptions{
//	    Start: dayStart, End: dayEnd,
//	})
//	for _, f := range res.Faults {
//	    log.Printf("fault at %d: %s", f.Timestamp, f.Type)
//	}
//
// ReadLatest fetches just the newest record; BuildKeyList projects the
// full history into the agent's key timeline:
//
//	latest, err := c.ReadLatest(ctx, "node-17", "")
//	keys, err := c.BuildKeyList(ctx, "node-17", "agent_registration")
//
// # Authentication
//
// Reads are typically open; writes require a credential. Tokens are
// minted by the archive operator ('attestary token') and passed with
// WithBearerToken. Fixed infrastructure can use a pre-shared API key
// instead:
//
//	c, _ := client.New(baseURL, client.WithAPIKey(key))
//
// Deployments that require client certificates load the bundle written
// by 'attestary cert':
//
//	c, err := client.NewFromCertDir(baseURL,
//	    os.ExpandEnv("$HOME/.attestary/certs/verifier"),
//	)
package client
