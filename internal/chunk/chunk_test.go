package chunk

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_CoversInputExactlyOnce(t *testing.T) {
	tests := []struct {
		name       string
		n          int
		size       int
		wantChunks int
	}{
		{"empty set", 0, 10, 0},
		{"single id", 1, 10, 1},
		{"exactly one chunk", 10, 10, 1},
		{"one over the boundary", 11, 10, 2},
		{"several chunks", 95, 10, 10},
		{"chunk size one", 4, 1, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids := make([]string, tt.n)
			for i := range ids {
				ids[i] = fmt.Sprintf("user-%03d", i)
			}

			chunks := Split(ids, tt.size)
			assert.Len(t, chunks, tt.wantChunks)

			seen := map[string]int{}
			for _, c := range chunks {
				assert.LessOrEqual(t, len(c), tt.size)
				assert.NotEmpty(t, c)
				for _, id := range c {
					seen[id]++
				}
			}
			require.Len(t, seen, tt.n)
			for id, count := range seen {
				assert.Equal(t, 1, count, "id %s covered more than once", id)
			}
		})
	}
}

func TestSplit_CollapsesDuplicates(t *testing.T) {
	chunks := Split([]string{"b", "a", "b", "a", "c"}, 2)

	require.Len(t, chunks, 2)
	assert.Equal(t, []string{"a", "b"}, chunks[0])
	assert.Equal(t, []string{"c"}, chunks[1])
}

func TestSplit_DeterministicForSameSet(t *testing.T) {
	a := Split([]string{"x", "m", "a", "q"}, 3)
	b := Split([]string{"q", "a", "m", "x"}, 3)
	assert.Equal(t, a, b)
}

func TestKey_StableRendering(t *testing.T) {
	assert.Equal(t, "a,b,c", Key([]string{"a", "b", "c"}))
	assert.Equal(t, "", Key(nil))
}
