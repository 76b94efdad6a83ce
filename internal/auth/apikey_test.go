package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// lowCostKey builds a configured key cheaply; production keys use BcryptCost
func lowCostKey(t *testing.T, key string, sk ServiceKey) ServiceKey {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.MinCost)
	require.NoError(t, err)
	sk.Hash = string(hash)
	sk.DisplayPrefix = key[:DisplayPrefixLength]
	return sk
}

func TestGenerateAPIKey(t *testing.T) {
	key, hash, prefix, err := GenerateAPIKey()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(key, "ork_"))
	assert.True(t, IsAPIKey(key))
	assert.Len(t, prefix, DisplayPrefixLength)
	assert.Equal(t, key[:DisplayPrefixLength], prefix)
	assert.True(t, ValidateAPIKey(key, hash))
	assert.False(t, ValidateAPIKey(key+"x", hash))
}

func TestKeyRing_Authenticate(t *testing.T) {
	key := "ork_0123456789abcdefghij"
	ring := NewKeyRing([]ServiceKey{
		lowCostKey(t, key, ServiceKey{Name: "importer", UserID: "svc-importer", Groups: []string{"editors"}}),
	})

	actor, ok := ring.Authenticate(key)
	require.True(t, ok)
	assert.Equal(t, "svc-importer", actor.UserID)
	assert.Equal(t, "importer", actor.UserName)
	assert.Equal(t, []string{"editors"}, actor.Groups)

	_, ok = ring.Authenticate("ork_0123456789-wrong")
	assert.False(t, ok)

	_, ok = ring.Authenticate("short")
	assert.False(t, ok)

	var nilRing *KeyRing
	_, ok = nilRing.Authenticate(key)
	assert.False(t, ok)
}

func TestExtractBearer(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{"valid", "Bearer abc.def", "abc.def", false},
		{"trims whitespace", "Bearer   ork_x  ", "ork_x", false},
		{"empty", "", "", true},
		{"wrong scheme", "Basic abc", "", true},
		{"no credential", "Bearer   ", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractBearer(tt.header)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
