package governance

import (
	"slices"

	"github.com/zerolock-network/zerolock/internal/domain"
)

func toSet(ids []domain.Identity) map[domain.Identity]bool {
	m := make(map[domain.Identity]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

func sortedKeys(m map[domain.Identity]bool) []domain.Identity {
	out := make([]domain.Identity, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
