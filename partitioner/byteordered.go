package partitioner

import (
	"bytes"
	"encoding/hex"
)

const byteOrderedName = "ByteOrderedPartitioner"

// BytesToken is the token representation used by ByteOrdered: the raw
// routing-key bytes themselves, ordered lexicographically.
type BytesToken []byte

func (t BytesToken) String() string { return hex.EncodeToString(t) }

func (t BytesToken) Less(other Token) bool {
	o := other.(BytesToken)
	return bytes.Compare(t, o) < 0
}

// ByteOrdered uses the raw routing-key bytes as the token, ordered
// lexicographically, matching Cassandra's (now deprecated)
// ByteOrderedPartitioner.
type ByteOrdered struct{}

func (ByteOrdered) Name() string { return byteOrderedName }

// MinToken is the empty byte string, which sorts before any non-empty key.
func (ByteOrdered) MinToken() Token { return BytesToken(nil) }

func (ByteOrdered) Hash(key []byte) Token {
	cp := make([]byte, len(key))
	copy(cp, key)
	return BytesToken(cp)
}

func (ByteOrdered) ParseString(s string) (Token, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return BytesToken([]byte(s)), nil //nolint:nilerr // server reports raw tokens as hex or as literal bytes depending on version; fall back to the literal form.
	}
	return BytesToken(b), nil
}
