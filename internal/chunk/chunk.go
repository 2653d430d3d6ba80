// Package chunk splits identifier sets into batches small enough for the
// store's bounded IN-predicate queries.
package chunk

import (
	"strings"

	"golang.org/x/exp/slices"
)

// Split partitions ids into ordered chunks of at most size elements,
// covering the input exactly once. Duplicates collapse and the input is
// sorted first, so the same set always yields the same chunk list.
// Callers must not rely on an id staying in the same chunk once the set
// changes.
func Split(ids []string, size int) [][]string {
	if size <= 0 {
		panic("chunk: size must be positive")
	}
	seen := make(map[string]struct{}, len(ids))
	uniq := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		uniq = append(uniq, id)
	}
	slices.Sort(uniq)

	var chunks [][]string
	for len(uniq) > 0 {
		n := size
		if len(uniq) < n {
			n = len(uniq)
		}
		chunks = append(chunks, uniq[:n:n])
		uniq = uniq[n:]
	}
	return chunks
}

// Key renders a chunk as a stable string, used to diff chunk lists across
// recomputations.
func Key(chunk []string) string {
	return strings.Join(chunk, ",")
}
