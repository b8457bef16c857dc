// Package vlq implements the Base64 variable-length-quantity encoding used
// for compact instrumentation identifiers.
//
// Each value is encoded independently: the value is shifted left by one bit
// with the sign moved into the lowest bit, then emitted in 5-bit groups,
// least significant first, with the sixth bit of every sextet acting as a
// continuation flag. Sextets are written as characters of the standard
// base64 alphabet. This is the same encoding source maps use for their
// "mappings" field.
package vlq

import (
	"fmt"
)

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

var reverse [256]byte

func init() {
	for i := range reverse {
		reverse[i] = 0xff
	}
	for i := 0; i < len(alphabet); i++ {
		reverse[alphabet[i]] = byte(i)
	}
}

// Append encodes v and appends the resulting characters to dst.
//
// Encoding is pure in-memory arithmetic and cannot fail; values outside the
// signed 32-bit range are the caller's responsibility to reject.
func Append(dst []byte, v int) []byte {
	v <<= 1
	if v < 0 {
		v = -v
		v |= 1
	}
	for v >= 32 {
		dst = append(dst, alphabet[32|(v&31)])
		v >>= 5
	}
	return append(dst, alphabet[v])
}

// AppendAll encodes each value in turn and appends the concatenation to dst.
func AppendAll(dst []byte, vs ...int) []byte {
	for _, v := range vs {
		dst = Append(dst, v)
	}
	return dst
}

// Decode reads a single value from the front of s and returns it together
// with the unconsumed remainder of s.
func Decode(s string) (v int, rest string, err error) {
	shift := uint(0)
	for i := 0; i < len(s); i++ {
		o := reverse[s[i]]
		if o == 0xff {
			return 0, s, fmt.Errorf("vlq: invalid character %q at offset %d", s[i], i)
		}
		v += int(o&31) << shift
		if o&32 == 0 {
			if v&1 != 0 {
				return -(v >> 1), s[i+1:], nil
			}
			return v >> 1, s[i+1:], nil
		}
		shift += 5
	}
	return 0, s, fmt.Errorf("vlq: truncated sequence %q", s)
}

// DecodeAll decodes the entire string as a sequence of values.
func DecodeAll(s string) ([]int, error) {
	var vs []int
	for len(s) > 0 {
		v, rest, err := Decode(s)
		if err != nil {
			return nil, err
		}
		vs = append(vs, v)
		s = rest
	}
	return vs, nil
}
