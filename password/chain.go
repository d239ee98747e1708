package password

// Algorithm is a hasher that can tell its own output apart from others.
type Algorithm interface {
	Hash(secret string) (string, error)
	Verify(secret, encoded string) (bool, error)
	Recognizes(encoded string) bool
	NeedsRehash(encoded string) (bool, error)
}

// Chain hashes with the first algorithm and verifies with whichever one
// recognizes the stored hash.
type Chain struct {
	algs []Algorithm
}

// NewChain panics when called without algorithms.
func NewChain(primary Algorithm, legacy ...Algorithm) *Chain {
	if primary == nil {
		panic("password: nil primary algorithm")
	}
	return &Chain{algs: append([]Algorithm{primary}, legacy...)}
}

func (c *Chain) Hash(secret string) (string, error) {
	return c.algs[0].Hash(secret)
}

func (c *Chain) Verify(secret, encoded string) (bool, error) {
	for _, alg := range c.algs {
		if alg.Recognizes(encoded) {
			return alg.Verify(secret, encoded)
		}
	}
	return false, ErrMalformedHash
}

// NeedsRehash is true for hashes made by a legacy algorithm or with weaker
// primary parameters.
func (c *Chain) NeedsRehash(encoded string) (bool, error) {
	primary := c.algs[0]
	if primary.Recognizes(encoded) {
		return primary.NeedsRehash(encoded)
	}
	for _, alg := range c.algs[1:] {
		if alg.Recognizes(encoded) {
			return true, nil
		}
	}
	return false, ErrMalformedHash
}
