package engine

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const stripeCount = 256

// stripe orders stores against invalidations for the keys hashed to it.
// gen moves forward on every invalidation; a recomputation that started
// under an older generation must not publish its result.
type stripe struct {
	mu  sync.Mutex
	gen uint64
}

type stripes [stripeCount]stripe

func stripeIndex(key string) int {
	return int(xxhash.Sum64String(key) % stripeCount)
}

func (s *stripes) of(key string) *stripe {
	return &s[stripeIndex(key)]
}

func (st *stripe) generation() uint64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.gen
}
