package scanner

import (
	"strings"
	"time"

	"github.com/okian/timebank/internal/auth"
)

// Identity is how the scanner authenticates. A ready token wins; otherwise
// a short-lived scan token is minted for Subject with Secret.
type Identity struct {
	Token   string
	Secret  string
	Issuer  string
	Subject string
	TTL     time.Duration
}

// BearerToken returns the token to send.
func (id Identity) BearerToken() (string, error) {
	if tok := strings.TrimSpace(id.Token); tok != "" {
		return tok, nil
	}
	if id.Secret == "" || strings.TrimSpace(id.Subject) == "" {
		return "", ErrNoToken
	}
	ttl := id.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return auth.Sign(auth.Config{Secret: id.Secret, Issuer: id.Issuer}, id.Subject, []string{auth.ScopeScan}, ttl)
}
