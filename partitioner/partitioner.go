// Package partitioner implements the token-hashing algorithms used to map a
// routing key onto a position on the cluster's token ring.
package partitioner

import "fmt"

// Token is a single position on a partitioner's ring. Every Partitioner
// produces its own concrete Token implementation; tokens from different
// partitioners must never be compared.
type Token interface {
	fmt.Stringer

	// Less reports whether t sorts strictly before other. other is always
	// produced by the same Partitioner as t.
	Less(other Token) bool
}

// Partitioner hashes routing keys into Tokens and parses the token strings
// reported by system.peers/system.local back into the same representation.
type Partitioner interface {
	// Name is the suffix gocql/Cassandra uses to identify the partitioner
	// class, e.g. "Murmur3Partitioner".
	Name() string

	// Hash computes the token for a routing key.
	Hash(key []byte) Token

	// ParseString parses a token string as reported by the server.
	ParseString(s string) (Token, error)

	// MinToken is the reserved lower bound of the ring, never assigned to a
	// real host. Murmur3 and Random never return it from Hash; ByteOrdered
	// returns it for an empty key, whose token is the empty byte string.
	MinToken() Token
}

// ForName resolves a Partitioner from the class name reported by
// system.local.partitioner / system.peers. The match is by suffix, mirroring
// the original driver's TokenMap::from_partitioner (cpp-driver
// src/token_map.cpp), since clusters report fully-qualified Java class
// names and occasionally shaded variants of them.
func ForName(name string) Partitioner {
	switch {
	case hasSuffix(name, murmur3Name):
		return Murmur3{}
	case hasSuffix(name, randomName):
		return Random{}
	case hasSuffix(name, byteOrderedName):
		return ByteOrdered{}
	default:
		return nil
	}
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

// EncodeComposite builds the routing key for a multi-column partition key as
// the concatenation of { uint16_be(len(c)) ++ c ++ 0x00 } for every
// component, per spec.md §4.A. A single-component key should be passed to
// Hash raw, without this framing.
func EncodeComposite(components [][]byte) []byte {
	size := 0
	for _, c := range components {
		size += 2 + len(c) + 1
	}
	out := make([]byte, 0, size)
	for _, c := range components {
		n := len(c)
		out = append(out, byte(n>>8), byte(n))
		out = append(out, c...)
		out = append(out, 0)
	}
	return out
}
