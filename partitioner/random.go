package partitioner

import (
	"crypto/md5" //nolint:gosec // required for wire compatibility with Cassandra's RandomPartitioner, not for security.
	"fmt"
	"math/big"
)

const randomName = "RandomPartitioner"

// maxRandomToken is 2^127, the inclusive upper bound of RandomPartitioner's
// token range (spec.md §3.1).
var maxRandomToken = new(big.Int).Lsh(big.NewInt(1), 127)

// BigToken is the token representation used by Random (and, degenerately,
// by any partitioner whose tokens don't fit in 64 bits).
type BigToken struct{ *big.Int }

func (t BigToken) String() string { return t.Int.String() }

func (t BigToken) Less(other Token) bool {
	o, ok := other.(BigToken)
	if !ok {
		panic(fmt.Sprintf("partitioner: comparing BigToken with %T", other))
	}
	return t.Int.Cmp(o.Int) < 0
}

// Random hashes routing keys by taking the MD5 digest of the key and
// interpreting it as an unsigned 128-bit integer, per Cassandra's
// RandomPartitioner.
type Random struct{}

func (Random) Name() string { return randomName }

func (Random) MinToken() Token { return BigToken{big.NewInt(-1)} }

func (Random) Hash(key []byte) Token {
	sum := md5.Sum(key) //nolint:gosec // see import comment.
	return BigToken{new(big.Int).SetBytes(sum[:])}
}

func (Random) ParseString(s string) (Token, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("partitioner: parsing random token %q", s)
	}
	if v.Sign() < 0 || v.Cmp(maxRandomToken) > 0 {
		return nil, fmt.Errorf("partitioner: random token %q out of range [0, 2^127]", s)
	}
	return BigToken{v}, nil
}
