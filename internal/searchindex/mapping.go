// Package searchindex builds deterministic search shadows of sensitive
// patient fields so they can be matched without decrypting them.
package searchindex

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"unicode/utf8"
)

// Alphabet is the set of runes a generated mapping permutes.
const Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var ErrNotInjective = errors.New("searchindex: mapping is not injective")

// Mapping is a tenant's per-rune substitution table. Runes without an entry
// pass through unchanged.
type Mapping struct {
	subst map[rune]rune
}

// NewMapping validates subst and returns a Mapping. Two runes may not map to
// the same target, and a target that is itself an unmapped input would collide
// with the passthrough of that rune, so both are rejected.
func NewMapping(subst map[rune]rune) (Mapping, error) {
	seen := make(map[rune]rune, len(subst))
	for from, to := range subst {
		if prev, dup := seen[to]; dup {
			return Mapping{}, fmt.Errorf("%w: %q and %q both map to %q", ErrNotInjective, prev, from, to)
		}
		seen[to] = from
	}
	for to := range seen {
		if _, mapped := subst[to]; !mapped {
			return Mapping{}, fmt.Errorf("%w: target %q is also an unmapped input", ErrNotInjective, to)
		}
	}
	cp := make(map[rune]rune, len(subst))
	for k, v := range subst {
		cp[k] = v
	}
	return Mapping{subst: cp}, nil
}

// GenerateMapping returns a random permutation of Alphabet.
func GenerateMapping() (Mapping, error) {
	src := []rune(Alphabet)
	dst := []rune(Alphabet)
	for i := len(dst) - 1; i > 0; i-- {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return Mapping{}, fmt.Errorf("searchindex: shuffle: %w", err)
		}
		j := int(n.Int64())
		dst[i], dst[j] = dst[j], dst[i]
	}
	subst := make(map[rune]rune, len(src))
	for i, r := range src {
		subst[r] = dst[i]
	}
	return NewMapping(subst)
}

// Apply substitutes every rune of the normalised input.
func (m Mapping) Apply(s string) string {
	s = normalize(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if to, ok := m.subst[r]; ok {
			r = to
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Len reports the number of substituted runes.
func (m Mapping) Len() int { return len(m.subst) }

// MarshalJSON encodes the mapping as {"A":"Q",...}, the stored plaintext form.
func (m Mapping) MarshalJSON() ([]byte, error) {
	out := make(map[string]string, len(m.subst))
	for k, v := range m.subst {
		out[string(k)] = string(v)
	}
	return json.Marshal(out)
}

// ParseMapping decodes the stored plaintext form.
func ParseMapping(data []byte) (Mapping, error) {
	raw := map[string]string{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Mapping{}, fmt.Errorf("searchindex: decode mapping: %w", err)
	}
	subst := make(map[rune]rune, len(raw))
	for k, v := range raw {
		if utf8.RuneCountInString(k) != 1 || utf8.RuneCountInString(v) != 1 {
			return Mapping{}, fmt.Errorf("searchindex: mapping entry %q:%q is not a single rune", k, v)
		}
		from, _ := utf8.DecodeRuneInString(k)
		to, _ := utf8.DecodeRuneInString(v)
		subst[from] = to
	}
	return NewMapping(subst)
}

func normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
