package types

import (
	"strconv"
	"strings"

	"github.com/OneOfOne/xxhash"
)

// idSeed is a fixed cluster-wide seed so that ids are reproducible across
// replicas and restarts; it is not a secret.
const idSeed uint64 = 0x696e646578 // "index" in hex, arbitrary fixed constant

// deterministicID folds an ordered tuple of strings into a single 64-bit
// xxhash digest, rendered as lowercase hex.
func deterministicID(parts ...string) string {
	joined := strings.Join(parts, "\x00")
	sum := xxhash.ChecksumString64S(joined, idSeed)
	return strconv.FormatUint(sum, 16)
}
