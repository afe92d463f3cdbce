// Package dedup derives the identity the scheduler uses to keep at most one
// live decline job per call.
package dedup

// Prefix namespaces decline jobs among other unique work.
const Prefix = "callkit_decline_"

// Key returns the uniqueness key for callID.
func Key(callID string) string {
	return Prefix + callID
}
