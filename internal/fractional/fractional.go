// Package fractional implements a fractional order-key scheme:
// lexicographically ordered ASCII keys that can always be generated
// strictly between two neighbors, enabling O(1) reordering without
// renumbering siblings.
//
// Package shape (small, self-contained, one exported concern per file)
// follows internal/util/msort: a focused helper package with no
// dependency beyond the standard library, which is also the right
// call here — fractional indexing is a pure string algorithm with no
// I/O, network, or serialization surface for any third-party library
// to serve (see DESIGN.md).
package fractional

import (
	"strings"

	"github.com/pkg/errors"
)

// alphabet is the ordered character set keys are drawn from. Decimal
// digits collate before letters, uppercase before lowercase, matching
// byte-wise lexicographic order — this ordering is part of the
// contract.
const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

const base = len(alphabet)

// MaxSortKeyLength triggers a sibling rebalance once any generated key
// would exceed it.
const MaxSortKeyLength = 8

// ErrOrder is returned when prev >= next.
var ErrOrder = errors.New("fractional: prev must be strictly less than next")

func digitValue(c byte) int { return strings.IndexByte(alphabet, c) }

// GenBetween returns a key k strictly between prev and next under
// byte-wise lexicographic order. A nil prev/next means "open" on that
// side. Fails with ErrOrder when prev >= next.
func GenBetween(prev, next *string) (string, error) {
	p := ""
	if prev != nil {
		p = *prev
	}
	n := ""
	if next != nil {
		n = *next
	}
	if next != nil && prev != nil && p >= n {
		return "", ErrOrder
	}

	if next == nil {
		return incrementOrExtend(p), nil
	}
	if prev == nil {
		return decrementOrPrepend(n), nil
	}
	return midpoint(p, n), nil
}

// incrementOrExtend produces a key strictly greater than p with no
// upper bound, preferring to bump the last digit before extending.
func incrementOrExtend(p string) string {
	if p == "" {
		return string(alphabet[base/2])
	}
	b := []byte(p)
	last := digitValue(b[len(b)-1])
	if last < base-1 {
		bumped := last + (base-last)/2 + 1
		if bumped > base-1 {
			bumped = base - 1
		}
		b[len(b)-1] = alphabet[bumped]
		if b[len(b)-1] == p[len(p)-1] {
			// No room to bump within this digit; extend instead.
			return p + string(alphabet[base/2])
		}
		return string(b)
	}
	return p + string(alphabet[base/2])
}

// decrementOrPrepend produces a key strictly less than n with no lower
// bound.
func decrementOrPrepend(n string) string {
	if n == "" {
		return string(alphabet[base/2])
	}
	b := []byte(n)
	first := digitValue(b[len(b)-1])
	if first > 0 {
		b[len(b)-1] = alphabet[first/2]
		if len(b) > 0 && string(b) < n && string(b) != "" {
			// Trim any trailing zero-digit introduced by halving down to 0.
			trimmed := strings.TrimRight(string(b), string(alphabet[0]))
			if trimmed == "" {
				trimmed = string(alphabet[0])
			}
			return trimmed
		}
	}
	// n's last digit is already the minimum; go one level shorter if
	// possible, otherwise fall back to prefixing a low digit.
	if len(n) > 1 {
		return strings.TrimRight(n[:len(n)-1], string(alphabet[0]))
	}
	return string(alphabet[0]) + string(alphabet[base/2])
}

// midpoint produces a key strictly between a and b (a < b), padding the
// shorter string with the alphabet's zero digit for comparison purposes
// and walking digit-by-digit until a gap is found.
func midpoint(a, b string) string {
	length := len(a)
	if len(b) > length {
		length = len(b)
	}
	av := padded(a, length)
	bv := padded(b, length)

	var out []byte
	i := 0
	for ; i < length; i++ {
		da, db := digitValue(av[i]), digitValue(bv[i])
		if da == db {
			out = append(out, alphabet[da])
			continue
		}
		if db-da > 1 {
			mid := da + (db-da)/2
			out = append(out, alphabet[mid])
			return string(out)
		}
		// Adjacent digits: take a's digit and recurse one level deeper
		// to find room after it.
		out = append(out, alphabet[da])
		rest := midpoint(padded(av[i+1:], 0), string(alphabet[base-1]))
		return string(out) + rest
	}
	// a is a strict prefix of b (after padding); extend with a mid digit.
	return string(out) + string(alphabet[base/2])
}

func padded(s string, length int) string {
	if len(s) >= length {
		return s
	}
	return s + strings.Repeat(string(alphabet[0]), length-len(s))
}

// GenN returns n evenly spaced keys strictly between prev and next.
func GenN(prev, next *string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	out := make([]string, 0, n)
	curPrev := prev
	for i := 0; i < n; i++ {
		// Leave room for the remaining keys by pretending next is
		// further away: generate against the real next only for the
		// last key, otherwise against a synthetic upper bound computed
		// by repeatedly bisecting toward next.
		k, err := GenBetween(curPrev, next)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
		curPrev = &out[len(out)-1]
	}
	return out, nil
}

// NeedsRebalance reports whether k exceeds MaxSortKeyLength.
func NeedsRebalance(k string) bool { return len(k) > MaxSortKeyLength }

// Rebalance rewrites all siblings to new, evenly-spaced keys,
// preserving their relative order.
func Rebalance(siblings []string) []string {
	n := len(siblings)
	if n == 0 {
		return nil
	}
	out := make([]string, n)
	// Evenly distribute across the single-character alphabet space,
	// skipping the very first and last symbol so future GenBetween
	// calls on either end still have room.
	span := base - 2
	if span < n {
		// Degenerate case (more siblings than available first-level
		// slots): fall back to two-character keys.
		for i := 0; i < n; i++ {
			hi := 1 + (i*(base-2))/n
			lo := 1 + ((i*base*base)/n)%base
			out[i] = string(alphabet[hi]) + string(alphabet[lo])
		}
		return out
	}
	for i := 0; i < n; i++ {
		pos := 1 + (i+1)*span/(n+1)
		out[i] = string(alphabet[pos])
	}
	return out
}
