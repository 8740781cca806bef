package storage

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// URLSigner derives short-lived retrieval URLs for storage refs. The URL
// carries an HMAC-signed token; validity is bounded by the configured TTL
// and URLs are recomputed on every read.
type URLSigner struct {
	secret  []byte
	ttl     time.Duration
	baseURL string
}

// NewURLSigner builds a signer. TTL values <= 0 fall back to one hour.
func NewURLSigner(secret, baseURL string, ttl time.Duration) *URLSigner {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &URLSigner{secret: []byte(secret), ttl: ttl, baseURL: baseURL}
}

type refClaims struct {
	Ref string `json:"ref"`
	jwt.RegisteredClaims
}

// Sign returns a retrievable URL for the ref, valid for the signer's TTL.
func (s *URLSigner) Sign(storageRef string) (string, error) {
	now := time.Now()
	claims := &refClaims{
		Ref: storageRef,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign storage ref: %w", err)
	}
	return s.baseURL + "?token=" + url.QueryEscape(token), nil
}

// Verify validates a token from a signed URL and returns the storage ref.
func (s *URLSigner) Verify(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &refClaims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := parsed.Claims.(*refClaims)
	if !ok || !parsed.Valid || claims.Ref == "" {
		return "", errors.New("invalid signed url token")
	}
	return claims.Ref, nil
}
