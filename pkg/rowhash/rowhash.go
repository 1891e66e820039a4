// Package rowhash computes deterministic fingerprints of source rows for
// change and duplicate detection.
package rowhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Compute returns a stable hex fingerprint of a row. Keys are sorted
// lexicographically before hashing, so the result does not depend on map
// iteration order; the source driver does not guarantee column order.
func Compute(row map[string]any) string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, len(keys))
	for i, k := range keys {
		v := row[k]
		if v == nil {
			pairs[i] = k + ":"
			continue
		}
		pairs[i] = fmt.Sprintf("%s:%v", k, v)
	}

	sum := sha256.Sum256([]byte(strings.Join(pairs, "|")))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}
