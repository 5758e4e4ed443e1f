package engine

// rng is a mulberry32 stream. Its whole state is one uint32 so a checkpoint can
// carry it and a resumed run continues the exact same sequence.
type rng struct {
	state uint32
}

func newRNG(seed string) *rng {
	return &rng{state: foldSeed(seed)}
}

func newRNGFromState(state uint32) *rng {
	return &rng{state: state}
}

// foldSeed hashes the seed string into 32 bits (xmur3 mix).
func foldSeed(seed string) uint32 {
	h := uint32(1779033703) ^ uint32(len(seed))
	for i := 0; i < len(seed); i++ {
		h = (h ^ uint32(seed[i])) * 3432918353
		h = h<<13 | h>>19
	}
	h = (h ^ h>>16) * 2246822507
	h = (h ^ h>>13) * 3266489909
	return h ^ h>>16
}

func (r *rng) next() uint32 {
	r.state += 0x6D2B79F5
	t := r.state
	t = (t ^ t>>15) * (t | 1)
	t ^= t + (t^t>>7)*(t|61)
	return t ^ t>>14
}

// Float64 returns a uniform value in [0,1).
func (r *rng) Float64() float64 {
	return float64(r.next()) / 4294967296.0
}

func (r *rng) State() uint32 {
	return r.state
}
