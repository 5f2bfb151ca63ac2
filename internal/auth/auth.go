// Package auth implements stateless access tokens for stream URLs and
// synthetic identities for anonymous clients.
//
// A token embeds the user name it was issued for together with a keyed
// digest, so any instance sharing the same salt can verify it without
// shared state.
package auth

import (
	"crypto/subtle"
	"errors"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tvgate/tvgate/pkg/digest"
)

// ErrInvalidToken is returned when a token is malformed or its
// signature does not match.
var ErrInvalidToken = errors.New("invalid token")

// tokenSep joins the user name and its signature. The signature is hex,
// so splitting on the last separator recovers the user even when the
// user name itself contains the separator.
const tokenSep = "-"

// Authenticator issues and verifies tokens for a fixed salt.
type Authenticator struct {
	salt string

	// anonSeq allocates synthetic identities for anonymous clients.
	// Seeding with the startup clock keeps identities from colliding
	// across restarts, so a restarted instance does not hand a fresh
	// client an identity that an old playlist still references.
	anonSeq atomic.Int64
}

// New creates an Authenticator signing with the given salt.
func New(salt string) *Authenticator {
	a := &Authenticator{salt: salt}
	a.anonSeq.Store(time.Now().UnixMilli())
	return a
}

// Issue returns the token for user: the user name joined to a keyed
// digest of it. Tokens for the same user and salt are stable.
func (a *Authenticator) Issue(user string) string {
	return user + tokenSep + digest.Keyed(user, a.salt)
}

// Verify extracts and authenticates the user name embedded in token.
// It returns ErrInvalidToken when the token has no separator or the
// signature does not match the embedded user.
func (a *Authenticator) Verify(token string) (string, error) {
	idx := strings.LastIndex(token, tokenSep)
	if idx < 0 {
		return "", ErrInvalidToken
	}
	user, sig := token[:idx], token[idx+1:]
	want := digest.Keyed(user, a.salt)
	if subtle.ConstantTimeCompare([]byte(sig), []byte(want)) != 1 {
		return "", ErrInvalidToken
	}
	return user, nil
}

// NextAnonymous returns a fresh synthetic user name for an anonymous
// playlist request. Each call yields a distinct identity.
func (a *Authenticator) NextAnonymous() string {
	return strconv.FormatInt(a.anonSeq.Add(1), 10)
}
