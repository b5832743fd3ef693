package frame

// fletcherModulus is the modulus of both running sums.
const fletcherModulus = 255

// Fletcher16 computes the Fletcher-16 checksum over the concatenation of
// the given byte slices. The result is sumB<<8 | sumA.
//
// The byte order of the two sums must match other nodes exactly, so this
// must not be replaced by a library variant that packs them differently.
func Fletcher16(parts ...[]byte) uint16 {
	var sumA, sumB uint16
	for _, p := range parts {
		for _, b := range p {
			sumA = (sumA + uint16(b)) % fletcherModulus
			sumB = (sumB + sumA) % fletcherModulus
		}
	}
	return sumB<<8 | sumA
}
