// Package identity provides the server-side credentials for the evidence API.
//
// It provides:
//   - CAManager: creates/loads the archive's private Certificate Authority,
//     issues the API server's TLS certificate and, for mutual-TLS
//     deployments, client certificates for attestation components
//   - TokenIssuer: issues and verifies RS256 JWT API tokens and archival
//     receipts
package identity
