package command

import "strings"

// DecodePackedASCII decodes identity register words holding two ASCII bytes
// each, low byte first. Null bytes are dropped and surrounding whitespace trimmed.
func DecodePackedASCII(words []uint16) string {
	var sb strings.Builder
	sb.Grow(len(words) * 2)

	for _, w := range words {
		for _, b := range [2]byte{byte(w), byte(w >> 8)} {
			if b != 0x00 {
				sb.WriteByte(b)
			}
		}
	}

	return strings.TrimSpace(sb.String())
}

// EncodePackedASCII is the inverse of DecodePackedASCII, padding s with nulls to
// fill n words.
func EncodePackedASCII(s string, n int) []uint16 {
	words := make([]uint16, n)
	for i := 0; i < n*2 && i < len(s); i++ {
		if i%2 == 0 {
			words[i/2] |= uint16(s[i])
		} else {
			words[i/2] |= uint16(s[i]) << 8
		}
	}

	return words
}
