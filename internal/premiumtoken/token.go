// Package premiumtoken issues and checks the RS256 tokens that carry a
// subscriber's premium status from the checkout service to the journal, so
// the journal can honor premium offline until the token expires.
package premiumtoken

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"mentalia/pkg/domain"
)

const (
	// Audience is the only audience premium tokens are minted for.
	Audience = "mentalia-journal"
	// DefaultTTL bounds a token even when the subscription runs longer.
	DefaultTTL    = 7 * 24 * time.Hour
	DefaultLeeway = 30 * time.Second
	DefaultKeyID  = "premium-active"
)

var (
	ErrNotPremium    = errors.New("status is not premium")
	ErrEmailMismatch = errors.New("token issued for another email")
)

// Claims is the JWT payload. Subject holds the normalized customer email.
type Claims struct {
	jwt.RegisteredClaims
	Plan   string `json:"plan,omitempty"`
	Status string `json:"status,omitempty"`
}

type Signer struct {
	issuer string
	ttl    time.Duration
	key    *rsa.PrivateKey
	kid    string
}

type SignerOptions struct {
	PrivateKeyPath string
	KeyID          string
	Issuer         string
	TTL            time.Duration
}

// NewSigner loads the RSA private key and builds a Signer.
func NewSigner(opts SignerOptions) (*Signer, error) {
	issuer := strings.TrimSpace(opts.Issuer)
	if issuer == "" {
		return nil, errors.New("premium token issuer is required")
	}
	path := strings.TrimSpace(opts.PrivateKeyPath)
	if path == "" {
		return nil, errors.New("premium token private key path is required")
	}
	key, err := LoadPrivateKey(path)
	if err != nil {
		return nil, fmt.Errorf("load premium signing key: %w", err)
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	kid := strings.TrimSpace(opts.KeyID)
	if kid == "" {
		kid = DefaultKeyID
	}
	return &Signer{issuer: issuer, ttl: ttl, key: key, kid: kid}, nil
}

// Sign mints a token for email's premium status. The token never outlives
// the subscription period.
func (s *Signer) Sign(email string, status domain.PremiumStatus) (string, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return "", errors.New("premium token email is required")
	}
	if !status.IsPremium {
		return "", ErrNotPremium
	}
	now := time.Now().UTC()
	exp := now.Add(s.ttl)
	if status.ExpiresAt != nil && status.ExpiresAt.Before(exp) {
		exp = status.ExpiresAt.UTC()
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   email,
			Audience:  jwt.ClaimStrings{Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        newJTI(),
		},
		Plan:   status.Plan,
		Status: status.Status,
	}
	t := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	t.Header["kid"] = s.kid
	return t.SignedString(s.key)
}

type Verifier struct {
	issuer string
	leeway time.Duration
	keys   map[string]*rsa.PublicKey
}

type VerifierOptions struct {
	PublicKeyPath string
	KeyID         string
	Issuer        string
	Leeway        time.Duration
}

func NewVerifier(opts VerifierOptions) (*Verifier, error) {
	issuer := strings.TrimSpace(opts.Issuer)
	if issuer == "" {
		return nil, errors.New("premium token issuer is required")
	}
	path := strings.TrimSpace(opts.PublicKeyPath)
	if path == "" {
		return nil, errors.New("premium token public key path is required")
	}
	pub, err := LoadPublicKey(path)
	if err != nil {
		return nil, fmt.Errorf("load premium verify key: %w", err)
	}
	kid := strings.TrimSpace(opts.KeyID)
	if kid == "" {
		kid = DefaultKeyID
	}
	leeway := opts.Leeway
	if leeway <= 0 {
		leeway = DefaultLeeway
	}
	return &Verifier{issuer: issuer, leeway: leeway, keys: map[string]*rsa.PublicKey{kid: pub}}, nil
}

// Verify checks signature, expiry, audience and issuer, and that the token
// was minted for email.
func (v *Verifier) Verify(token, email string) (Claims, error) {
	var claims Claims
	token = strings.TrimSpace(token)
	if token == "" {
		return claims, errors.New("token required")
	}
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		pub, ok := v.keys[strings.TrimSpace(kid)]
		if !ok {
			return nil, errors.New("unknown token key")
		}
		return pub, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(Audience),
		jwt.WithIssuer(v.issuer),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil {
		return claims, err
	}
	if claims.Subject != NormalizeEmail(email) {
		return claims, ErrEmailMismatch
	}
	return claims, nil
}

// NormalizeEmail lowercases and trims an address so tokens and cache keys
// agree on identity.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func newJTI() string {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}

// LoadPrivateKey reads a PKCS#1 or PKCS#8 RSA private key in PEM form.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	block, err := readPEM(path)
	if err != nil {
		return nil, err
	}
	if k, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return k, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	k, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not rsa")
	}
	return k, nil
}

// LoadPublicKey reads an RSA public key, or a certificate carrying one.
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	block, err := readPEM(path)
	if err != nil {
		return nil, err
	}
	if parsed, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		pub, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("public key is not rsa")
		}
		return pub, nil
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, err
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("certificate key is not rsa")
	}
	return pub, nil
}

func readPEM(path string) (*pem.Block, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("invalid pem")
	}
	return block, nil
}
