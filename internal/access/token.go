// Package access issues and verifies the signed tokens embedded in supplier links.
package access

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

const issuer = "cota"

var (
	// ErrInvalidToken covers malformed tokens and bad signatures.
	ErrInvalidToken = errors.New("access: invalid token")
	// ErrExpiredToken is returned once the token passed its expiry.
	ErrExpiredToken = errors.New("access: token expired")
)

// Claims identifies a supplier link within a quotation.
type Claims struct {
	QuotationID uuid.UUID `json:"qid"`
	jwt.RegisteredClaims
}

// LinkID parses the subject as the supplier link id.
func (c Claims) LinkID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

// Issuer signs link tokens with HS256.
type Issuer struct {
	secret []byte
	grace  time.Duration
	now    func() time.Time
}

// NewIssuer builds an Issuer. grace extends every expiry past the quotation deadline.
func NewIssuer(secret string, grace time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), grace: grace, now: time.Now}
}

// Issue returns a signed token for the link and its blake2b hash for storage.
func (i *Issuer) Issue(linkID, quotationID uuid.UUID, deadline time.Time) (token, hash string, err error) {
	now := i.now()
	claims := Claims{
		QuotationID: quotationID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   linkID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(deadline.Add(i.grace)),
			ID:        uuid.NewString(),
		},
	}
	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", "", fmt.Errorf("access: sign token: %w", err)
	}
	return token, Hash(token), nil
}

// Parse verifies the signature and expiry and returns the claims.
func (i *Issuer) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if _, err := claims.LinkID(); err != nil {
		return nil, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	return claims, nil
}

// Hash returns the hex encoded blake2b-256 digest of a token.
func Hash(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Matches compares a token with a stored hash in constant time.
func Matches(token, storedHash string) bool {
	return subtle.ConstantTimeCompare([]byte(Hash(token)), []byte(storedHash)) == 1
}
