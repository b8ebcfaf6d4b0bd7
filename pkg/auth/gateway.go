package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidCredential is returned for every verification failure. The
// handshake treats all failures uniformly, so callers get a single
// sentinel rather than a taxonomy.
var ErrInvalidCredential = errors.New("auth: invalid credential")

// Claims is the expected shape of a relay bearer token. The stable
// identity is the subject claim.
type Claims struct {
	Identity string `json:"identity,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates opaque bearer credentials and resolves them to a
// stable identity string. Expiry, audience and issuer are all checked.
type Verifier struct {
	secret   []byte
	audience string
	issuer   string
}

// NewVerifier builds a Verifier for HS256 tokens signed with secret.
func NewVerifier(secret, audience, issuer string) (*Verifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("empty jwt secret")
	}
	return &Verifier{secret: []byte(secret), audience: audience, issuer: issuer}, nil
}

// Verify checks the credential and returns the verified identity.
func (v *Verifier) Verify(credential string) (string, error) {
	if strings.TrimSpace(credential) == "" {
		return "", ErrInvalidCredential
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	parsed, err := jwt.ParseWithClaims(credential, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return "", ErrInvalidCredential
	}
	identity := claims.Identity
	if identity == "" {
		identity = claims.Subject
	}
	if identity == "" {
		return "", fmt.Errorf("%w: no subject", ErrInvalidCredential)
	}
	return identity, nil
}

// CredentialFromRequest extracts the bearer credential from an upgrade
// request: the Authorization header wins, then the token query parameter
// (browser websocket clients cannot set headers).
func CredentialFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if strings.HasPrefix(h, "Bearer ") {
			return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		}
		return ""
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
