package generation

import (
	"math/rand/v2"
	"sync"
)

// Fixed vocabularies the generation options and item metadata are drawn from.
var (
	Poses         = []string{"standing", "walking", "sitting", "twirling", "striking-pose"}
	Angles        = []string{"front", "side", "back", "three-quarter", "close-up"}
	Movements     = []string{"slow-walk", "twirl", "pose-change", "camera-pan"}
	StyleTags     = []string{"elegant", "casual", "formal", "vintage", "modern", "floral", "minimalist", "bold"}
	BodyTypes     = []string{"diverse", "petite", "curvy", "tall", "standard"}
	RunwayCameras = []string{"front", "side", "back", "close-up"}
)

// Source supplies uniform integers in [0,n). Implementations must be safe for concurrent use.
type Source interface {
	IntN(n int) int
}

type globalSource struct{}

func (globalSource) IntN(n int) int { return rand.IntN(n) }

// LockedSource serialises access to a seeded generator so tests get reproducible draws.
type LockedSource struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewLockedSource returns a deterministic source seeded with seed.
func NewLockedSource(seed uint64) *LockedSource {
	return &LockedSource{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// IntN implements Source.
func (s *LockedSource) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.IntN(n)
}

type drawer struct {
	src Source
}

func (d drawer) pick(values []string) string {
	return values[d.src.IntN(len(values))]
}

// between returns a uniform integer in [lo,hi].
func (d drawer) between(lo, hi int) int {
	return lo + d.src.IntN(hi-lo+1)
}

// styleTags draws 2 to 4 unique tags without replacement.
func (d drawer) styleTags() []string {
	n := d.between(2, 4)
	pool := append([]string(nil), StyleTags...)
	out := make([]string, 0, n)
	for range n {
		i := d.src.IntN(len(pool))
		out = append(out, pool[i])
		pool[i] = pool[len(pool)-1]
		pool = pool[:len(pool)-1]
	}
	return out
}
