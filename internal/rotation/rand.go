package rotation

import (
	"math/rand"
	"sync"
)

// LockedRand is a RandomSource safe for concurrent use. *rand.Rand is not
// goroutine-safe and the resolver draws from every request goroutine.
type LockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewLockedRand seeds a concurrent-safe random source.
func NewLockedRand(seed int64) *LockedRand {
	return &LockedRand{r: rand.New(rand.NewSource(seed))}
}

func (l *LockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}
