package digest

import (
	"encoding/hex"
	"math/bits"
)

// Size is the number of bytes in a digest
const Size = 32

// Digest is a fixed size digest as produced by every registered engine
type Digest [Size]byte

var leadingZerosLookup [256]byte

func init() {
	for i := 0; i < 256; i++ {
		leadingZerosLookup[i] = byte(bits.LeadingZeros8(uint8(i)))
	}
}

// String returns the lowercase hex form of the digest
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether the digest is all zero bytes, which is also how
// an unset digest looks.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// LeadingZeroBits counts the leading zero bits of the digest.
func LeadingZeroBits(d Digest) int {
	total := 0
	for _, b := range d {
		if b != 0 {
			return total + int(leadingZerosLookup[b])
		}
		total += 8
	}
	return total
}

// LeadingZeroNibbles counts the leading zero hex digits of the digest.
func LeadingZeroNibbles(d Digest) int {
	return LeadingZeroBits(d) / 4
}
