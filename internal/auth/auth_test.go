package auth

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueVerifyRoundTrip(t *testing.T) {
	a := New("salt-1")

	for _, user := range []string{"alice", "bob", "user-with-dashes", "1724082000123"} {
		token := a.Issue(user)
		got, err := a.Verify(token)
		require.NoError(t, err, "user %q", user)
		assert.Equal(t, user, got)
	}
}

func TestIssueIsStable(t *testing.T) {
	a := New("salt-1")
	assert.Equal(t, a.Issue("alice"), a.Issue("alice"))
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	a := New("salt-1")
	token := a.Issue("alice")

	// Flip the last signature character.
	last := token[len(token)-1]
	replacement := byte('0')
	if last == '0' {
		replacement = '1'
	}
	tampered := token[:len(token)-1] + string(replacement)

	_, err := a.Verify(tampered)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsTruncatedSignature(t *testing.T) {
	a := New("salt-1")
	token := a.Issue("alice")

	for _, truncated := range []string{token[:len(token)-1], "alice-", "alice-abc"} {
		_, err := a.Verify(truncated)
		assert.ErrorIs(t, err, ErrInvalidToken, "token %q", truncated)
	}
}

func TestVerifyRejectsTamperedUser(t *testing.T) {
	a := New("salt-1")
	token := a.Issue("alice")
	idx := strings.LastIndex(token, "-")
	tampered := "mallory" + token[idx:]

	_, err := a.Verify(tampered)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsWrongSalt(t *testing.T) {
	issuer := New("salt-1")
	verifier := New("salt-2")

	_, err := verifier.Verify(issuer.Issue("alice"))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsMalformed(t *testing.T) {
	a := New("salt-1")

	for _, token := range []string{"", "noseparator", "alice"} {
		_, err := a.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken, "token %q", token)
	}
}

func TestVerifyUserWithDashes(t *testing.T) {
	// The signature is hex, so the split must happen at the LAST
	// separator or users containing dashes would never verify.
	a := New("salt-1")
	user := "team-a-viewer"

	got, err := a.Verify(a.Issue(user))
	require.NoError(t, err)
	assert.Equal(t, user, got)
}

func TestNextAnonymousDistinct(t *testing.T) {
	a := New("salt-1")

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := a.NextAnonymous()
		assert.False(t, seen[id], "duplicate anonymous id %q", id)
		seen[id] = true

		n, err := strconv.ParseInt(id, 10, 64)
		require.NoError(t, err)
		assert.Positive(t, n)
	}
}

func TestAnonymousTokensVerify(t *testing.T) {
	a := New("salt-1")
	id := a.NextAnonymous()

	got, err := a.Verify(a.Issue(id))
	require.NoError(t, err)
	assert.Equal(t, id, got)
}
