package exec

// Lehmer/Park-Miller linear congruential generator parameters.
// The modulus is the Mersenne prime 2^31-1; the multiplier 48271 is the
// "minimal standard" revised constant.
const (
	lcgModulus    = 2147483647 // 2^31 - 1
	lcgMultiplier = 48271
)

// RNG is a deterministic pseudo-random sequence generator safe for use
// inside replayable orchestration logic.
//
// Its state is fully determined by the seed and the count of draws already
// taken, never by external entropy, so the same execution replayed from
// history takes the exact same draws. Not cryptographic; do not use for
// anything security-sensitive.
type RNG struct {
	state int64
	draws int64
}

// NewRNG creates a generator from an explicit seed. Seeds are folded into
// the open interval (0, 2^31-1); a zero seed (which would fixate the LCG)
// is bumped to 1.
func NewRNG(seed int64) *RNG {
	s := seed % lcgModulus
	if s < 0 {
		s += lcgModulus
	}
	if s == 0 {
		s = 1
	}
	return &RNG{state: s}
}

// NewRNGFromString derives a generator from a stable string such as the
// execution key, so the same key always yields the same sequence.
func NewRNGFromString(id string) *RNG {
	return NewRNG(SeedFromString(id))
}

// SeedFromString hashes a string into the 31-bit seed range with a simple
// order-dependent integer hash. Not cryptographic; collisions are fine,
// only stability matters.
func SeedFromString(id string) int64 {
	var h int64
	for _, b := range []byte(id) {
		h = (h*31 + int64(b)) % lcgModulus
	}
	if h == 0 {
		h = 1
	}
	return h
}

// Next advances the generator and returns a value in [0, 1).
func (r *RNG) Next() float64 {
	r.state = (r.state * lcgMultiplier) % lcgModulus
	r.draws++
	return float64(r.state-1) / float64(lcgModulus-1)
}

// NextInt returns a uniform integer in the inclusive range [min, max]
// via floor scaling of Next.
func (r *RNG) NextInt(min, max int) int {
	if min >= max {
		return min
	}
	span := max - min + 1
	return min + int(r.Next()*float64(span))
}

// Draws reports how many values have been taken. Exposed for diagnostics
// and for asserting replay alignment in tests.
func (r *RNG) Draws() int64 {
	return r.draws
}
