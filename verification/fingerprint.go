package verification

import (
	"hash/fnv"
	"math/bits"
	"strings"
	"unicode"
)

// minSimhashTokens keeps very short texts out of near-duplicate matching.
const minSimhashTokens = 8

// Simhash fingerprints text over word unigrams and bigrams. It returns 0 for texts too short to compare.
func Simhash(text string) uint64 {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) < minSimhashTokens {
		return 0
	}
	var weights [64]int
	add := func(token string) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(token))
		sum := h.Sum64()
		for i := 0; i < 64; i++ {
			if sum&(1<<uint(i)) != 0 {
				weights[i]++
			} else {
				weights[i]--
			}
		}
	}
	for i, w := range words {
		add(w)
		if i > 0 {
			add(words[i-1] + " " + w)
		}
	}
	var out uint64
	for i, w := range weights {
		if w > 0 {
			out |= 1 << uint(i)
		}
	}
	return out
}

func HammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}
