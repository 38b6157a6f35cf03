package qdrant

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseURL(t *testing.T) {
	cases := []struct {
		in       string
		wantHost string
		wantPort int
	}{
		{"", "localhost", DefaultPort},
		{"localhost", "localhost", DefaultPort},
		{"qdrant.internal:6334", "qdrant.internal", 6334},
		{"qdrant.internal:bogus", "qdrant.internal", DefaultPort},
	}
	for _, tc := range cases {
		host, port := parseURL(tc.in)
		assert.Equal(t, tc.wantHost, host, tc.in)
		assert.Equal(t, tc.wantPort, port, tc.in)
	}
}

func TestChunkPointID_DeterministicAndUUIDShaped(t *testing.T) {
	id1 := chunkPointID("chunk-abc")
	id2 := chunkPointID("chunk-abc")
	id3 := chunkPointID("chunk-xyz")

	assert.Equal(t, id1, id2)
	assert.NotEqual(t, id1, id3)
	assert.Len(t, id1, 36) // 8-4-4-4-12 hex groups plus 4 hyphens
}

func TestMatchFilter_BuildsFieldCondition(t *testing.T) {
	f := matchFilter("file_path", "a.go")
	assert.Len(t, f.Must, 1)
}
