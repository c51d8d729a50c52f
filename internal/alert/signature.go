package alert

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strconv"
	"strings"
)

// signature hashes the identifying parts of a notification into a stable
// dedup token. Two notifications with the same signature describe the same
// situation and only the first is delivered.
func signature(parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(h[:])
}

// bucketFloat quantizes a metric into a bucket label so small oscillations
// around a value do not defeat signature dedup.
func bucketFloat(v, width float64) string {
	if width <= 0 {
		return strconv.FormatFloat(v, 'f', 4, 64)
	}
	return strconv.FormatInt(int64(math.Floor(v/width)), 10)
}
