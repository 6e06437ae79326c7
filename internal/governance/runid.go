// Package governance owns run identity, the forward-only lifecycle state
// machines and the append-only audit log. Everything here is deliberately
// boring: deterministic ids, explicit allow-lists, durable files.
package governance

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// RunID derives the deterministic 12-hex-char run identifier. The same
// inputs always produce the same id, which is what makes resume idempotent.
func RunID(contentHash, symbol, timeframe, broker, engineVersion string) string {
	seed := fmt.Sprintf("%s_%s_%s_%s_%s", contentHash, symbol, timeframe, broker, engineVersion)
	sum := sha256.Sum256([]byte(seed))

	return hex.EncodeToString(sum[:])[:12]
}
