package pipeline

import (
	"hash/fnv"
	"math/bits"
	"strings"
	"sync"

	"golang.org/x/net/html"
)

// shapeFingerprint computes a 64-bit SimHash of a page's markup shape.
// Tokens are tag names qualified by their first class ("div.listupd"),
// shingled in threes, so renamed containers and restructured lists move
// the fingerprint while text changes do not.
func shapeFingerprint(rawHTML string) uint64 {
	tokens := shapeTokens(rawHTML)
	if len(tokens) == 0 {
		return 0
	}
	if len(tokens) < 3 {
		return simhash(tokens)
	}
	shingles := make([]string, 0, len(tokens)-2)
	for i := 0; i+3 <= len(tokens); i++ {
		shingles = append(shingles, strings.Join(tokens[i:i+3], "_"))
	}
	return simhash(shingles)
}

// shapeTokens collects start tags inside <body>, skipping scripts and
// styles whose contents vary between loads.
func shapeTokens(rawHTML string) []string {
	z := html.NewTokenizer(strings.NewReader(rawHTML))
	var tokens []string
	for {
		switch z.Next() {
		case html.ErrorToken:
			return tokens
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			tag := string(name)
			if tag == "script" || tag == "style" || tag == "noscript" || tag == "html" || tag == "head" {
				continue
			}
			for hasAttr {
				var key, val []byte
				key, val, hasAttr = z.TagAttr()
				if string(key) == "class" {
					if fields := strings.Fields(string(val)); len(fields) > 0 {
						tag += "." + fields[0]
					}
					break
				}
			}
			tokens = append(tokens, tag)
		}
	}
}

func simhash(features []string) uint64 {
	var v [64]int
	for _, f := range features {
		h := fnv.New64a()
		h.Write([]byte(f))
		sum := h.Sum64()
		for i := 0; i < 64; i++ {
			if sum&(1<<uint(i)) != 0 {
				v[i]++
			} else {
				v[i]--
			}
		}
	}
	var fp uint64
	for i := 0; i < 64; i++ {
		if v[i] > 0 {
			fp |= 1 << uint(i)
		}
	}
	return fp
}

func hamming(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// driftTracker keeps the shape of the last healthy page per schema.
type driftTracker struct {
	baselines sync.Map // schema id -> uint64
}

// observe records a healthy page as the new baseline for schemaID.
func (d *driftTracker) observe(schemaID, rawHTML string) {
	if fp := shapeFingerprint(rawHTML); fp != 0 {
		d.baselines.Store(schemaID, fp)
	}
}

// distance compares a degraded page against the baseline. ok is false
// when no healthy page has been seen yet.
func (d *driftTracker) distance(schemaID, rawHTML string) (dist int, ok bool) {
	v, found := d.baselines.Load(schemaID)
	if !found {
		return 0, false
	}
	return hamming(v.(uint64), shapeFingerprint(rawHTML)), true
}
