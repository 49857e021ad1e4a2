package auth_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-trapnet/internal/auth"
)

func TestHashAndCheckPassword(t *testing.T) {
	const password = "correct-horse-battery-staple"

	hash, err := auth.HashPassword(password)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(hash, "$argon2id$v=19$"), "hash %q not in PHC format", hash)

	match, err := auth.CheckPassword(password, hash)
	require.NoError(t, err)
	assert.True(t, match)

	match, err = auth.CheckPassword("wrong-password", hash)
	require.NoError(t, err)
	assert.False(t, match)
}

func TestHashPasswordSaltsEveryCall(t *testing.T) {
	first, err := auth.HashPassword("same-password")
	require.NoError(t, err)
	second, err := auth.HashPassword("same-password")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestCheckPasswordRejectsBadHashes(t *testing.T) {
	tests := []struct {
		name    string
		encoded string
		wantErr error
	}{
		{"empty", "", auth.ErrMalformedHash},
		{"missing segment", "$argon2id$v=19$m=65536,t=2,p=4$c2FsdA", auth.ErrMalformedHash},
		{"wrong algorithm", "$bcrypt$v=19$m=65536,t=2,p=4$c2FsdA$aGFzaA", auth.ErrUnsupportedHashAlgo},
		{"wrong version", "$argon2id$v=18$m=65536,t=2,p=4$c2FsdA$aGFzaA", auth.ErrUnsupportedHashAlgo},
		{"bad salt encoding", "$argon2id$v=19$m=65536,t=2,p=4$!!$aGFzaA", auth.ErrMalformedHash},
		{"bad cost string", "$argon2id$v=19$m=what$c2FsdA$aGFzaA", auth.ErrMalformedHash},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			match, err := auth.CheckPassword("whatever", tc.encoded)
			require.ErrorIs(t, err, tc.wantErr)
			assert.False(t, match)
		})
	}
}
