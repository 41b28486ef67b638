// Package bitset provides a fixed-size bit vector keyed by dense token
// ids. Route enumeration tests path membership on every edge, where a
// map would allocate per step.
package bitset

// BitSet holds one bit per token id assigned by the token index.
type BitSet []uint64

// New returns a zeroed set able to hold ids in [0, size).
func New(size uint32) BitSet {
	words := (uint64(size) + 63) / 64
	return make(BitSet, words)
}

func (b BitSet) IsSet(index uint32) bool {
	return b[index/64]&(uint64(1)<<(index%64)) != 0
}

func (b BitSet) Set(index uint32) {
	b[index/64] |= uint64(1) << (index % 64)
}

func (b BitSet) Unset(index uint32) {
	b[index/64] &^= uint64(1) << (index % 64)
}

// Clear zeroes the set in place so it can be reused across enumerations.
func (b BitSet) Clear() {
	for i := range b {
		b[i] = 0
	}
}
