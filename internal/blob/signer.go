package blob

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const signedAudience = "files"

var ErrInvalidSignature = errors.New("invalid or expired file link")

type fileClaims struct {
	Key      string `json:"key"`
	Filename string `json:"filename,omitempty"`
	jwt.RegisteredClaims
}

// Signer mints time-limited download links for stored blobs.
type Signer struct {
	secret  []byte
	baseURL string
	ttl     time.Duration
	now     func() time.Time
}

// NewSigner builds links under baseURL + "/files/". An empty baseURL yields
// relative links.
func NewSigner(secret []byte, baseURL string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Signer{
		secret:  secret,
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		ttl:     ttl,
		now:     time.Now,
	}
}

// WithClock overrides the time source; for tests.
func (s *Signer) WithClock(now func() time.Time) *Signer {
	s.now = now
	return s
}

// URL returns a signed link for key.
func (s *Signer) URL(key, filename string) (string, error) {
	if len(s.secret) == 0 {
		return "", errors.New("file signer secret is not configured")
	}
	now := s.now().UTC()
	claims := fileClaims{
		Key:      key,
		Filename: filename,
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{signedAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign file link: %w", err)
	}
	return s.baseURL + "/files/" + url.PathEscape(filename) + "?token=" + url.QueryEscape(token), nil
}

// Verify checks token and returns the blob key and filename it grants.
func (s *Signer) Verify(token string) (key, filename string, err error) {
	claims := &fileClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(signedAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid || claims.Key == "" {
		return "", "", ErrInvalidSignature
	}
	return claims.Key, claims.Filename, nil
}
