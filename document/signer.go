package document

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MaxSignedURLTTL caps how long a signed read link stays valid.
const MaxSignedURLTTL = 15 * time.Minute

const readAudience = "document-read"

// ErrInvalidToken signals a signed link that is malformed, tampered with or expired.
var ErrInvalidToken = errors.New("document: invalid or expired link")

// Signer issues and checks time-boxed read links for private documents.
type Signer struct {
	secret  []byte
	baseURL string
	now     func() time.Time
}

// NewSigner builds a signer whose links point at baseURL.
func NewSigner(secret []byte, baseURL string) *Signer {
	return &Signer{secret: secret, baseURL: strings.TrimRight(baseURL, "/"), now: time.Now}
}

// WithClock overrides the time source.
func (s *Signer) WithClock(now func() time.Time) *Signer {
	s.now = now
	return s
}

// SignedURL returns a link to privatePath valid for ttl, capped at MaxSignedURLTTL.
func (s *Signer) SignedURL(privatePath string, ttl time.Duration) (string, time.Time, error) {
	if privatePath == "" {
		return "", time.Time{}, fmt.Errorf("document: empty path")
	}
	if ttl <= 0 || ttl > MaxSignedURLTTL {
		ttl = MaxSignedURLTTL
	}

	issued := s.now()
	expires := issued.Add(ttl)
	claims := jwt.RegisteredClaims{
		Subject:   privatePath,
		Audience:  jwt.ClaimStrings{readAudience},
		IssuedAt:  jwt.NewNumericDate(issued),
		ExpiresAt: jwt.NewNumericDate(expires),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("document: sign link: %w", err)
	}

	return s.baseURL + "/documents/content?token=" + url.QueryEscape(token), expires, nil
}

// Verify returns the private path a token grants access to.
func (s *Signer) Verify(token string) (string, error) {
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithAudience(readAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
