package identity

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const receiptAudience = "attestary-receipt"

// APITokenClaims are the JWT claims for an evidence API token.
// API tokens are bearer credentials bound to a subject (an operator or an
// attestation component) and a set of scopes such as "records:write".
type APITokenClaims struct {
	jwt.RegisteredClaims
	Scopes []string `json:"scopes"`
}

// TokenIssuer issues and verifies API tokens signed with RS256.
// It reuses the archive CA's RSA key so that token signatures can be checked
// against the same public key the CA endpoint publishes.
type TokenIssuer struct {
	key    *rsa.PrivateKey
	pub    *rsa.PublicKey
	issuer string
	ttl    time.Duration
}

// NewTokenIssuer creates a TokenIssuer.
//
//	issuerURL is the "iss" claim value, typically the archive's base URL.
//	ttl is the token lifetime (default: 1 hour).
func NewTokenIssuer(key *rsa.PrivateKey, issuerURL string, ttl time.Duration) *TokenIssuer {
	if ttl == 0 {
		ttl = time.Hour
	}
	return &TokenIssuer{
		key:    key,
		pub:    &key.PublicKey,
		issuer: issuerURL,
		ttl:    ttl,
	}
}

// Issue creates a signed API token for subject with the requested scopes.
func (t *TokenIssuer) Issue(subject string, scopes []string) (string, error) {
	now := time.Now().UTC()
	claims := APITokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			ID:        uuid.New().String(),
		},
		Scopes: scopes,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(t.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates an API token, returning its claims on success.
func (t *TokenIssuer) Verify(tokenStr string) (*APITokenClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&APITokenClaims{},
		t.keyFunc,
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}

	claims, ok := token.Claims.(*APITokenClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// PublicKey returns the RSA public key used to verify tokens.
func (t *TokenIssuer) PublicKey() *rsa.PublicKey { return t.pub }

// PublicKeyPEM returns the RSA public key in PKIX PEM format.
func (t *TokenIssuer) PublicKeyPEM() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(t.pub)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// TTL returns the configured token lifetime.
func (t *TokenIssuer) TTL() time.Duration { return t.ttl }

// HasScope checks whether the claims contain the requested scope.
func HasScope(claims *APITokenClaims, scope string) bool {
	if claims == nil {
		return false
	}
	for _, s := range claims.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// ReceiptClaims are the JWT claims for an archival receipt.
// A receipt is handed back to the submitter once a record is durably stored;
// it lets the submitter prove later that the archive accepted evidence for
// this agent at this timestamp, even against an operator who would rather
// the record never existed.
type ReceiptClaims struct {
	jwt.RegisteredClaims
	AgentID         string `json:"att:agent_id"`
	Kind            string `json:"att:kind"`
	RecordTimestamp int64  `json:"att:record_ts"`
}

// IssueReceipt creates a signed archival receipt for a stored record.
// validFor defaults to 90 days when zero.
func (t *TokenIssuer) IssueReceipt(agentID, kind string, recordTS int64, validFor time.Duration) (string, error) {
	if validFor == 0 {
		validFor = 90 * 24 * time.Hour
	}
	now := time.Now().UTC()
	claims := ReceiptClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   agentID,
			Audience:  jwt.ClaimStrings{receiptAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validFor)),
			ID:        uuid.New().String(),
		},
		AgentID:         agentID,
		Kind:            kind,
		RecordTimestamp: recordTS,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(t.key)
	if err != nil {
		return "", fmt.Errorf("sign receipt: %w", err)
	}
	return signed, nil
}

// VerifyReceipt parses and validates an archival receipt. The audience check
// keeps plain API tokens from passing as receipts.
func (t *TokenIssuer) VerifyReceipt(tokenStr string) (*ReceiptClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&ReceiptClaims{},
		t.keyFunc,
		jwt.WithIssuer(t.issuer),
		jwt.WithAudience(receiptAudience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("verify receipt: %w", err)
	}

	claims, ok := token.Claims.(*ReceiptClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid receipt claims")
	}
	return claims, nil
}

// keyFunc rejects any signing method other than RSA before handing back the
// verification key.
func (t *TokenIssuer) keyFunc(tok *jwt.Token) (any, error) {
	if _, ok := tok.Method.(*jwt.SigningMethodRSA); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
	}
	return t.pub, nil
}
