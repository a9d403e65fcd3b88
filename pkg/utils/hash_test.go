package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateIngestKeyIsUnique(t *testing.T) {
	a, err := GenerateIngestKey()
	require.NoError(t, err)
	b, err := GenerateIngestKey()
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Len(t, a, 43)
}

func TestIngestKeyHashRoundTrip(t *testing.T) {
	key, err := GenerateIngestKey()
	require.NoError(t, err)

	hash, err := HashIngestKey(key)
	require.NoError(t, err)
	assert.NotEqual(t, key, hash)

	assert.True(t, CheckIngestKey(key, hash))
	assert.False(t, CheckIngestKey(key+"x", hash))
	assert.False(t, CheckIngestKey(key, "not-a-hash"))
}

func TestPasswordHash(t *testing.T) {
	hash, err := HashPassword("hunter22")
	require.NoError(t, err)
	assert.True(t, CheckPassword("hunter22", hash))
	assert.False(t, CheckPassword("hunter23", hash))
}
