// Package fingerprint derives the deduplication key identifying one logical
// subscription across repeated message sightings.
package fingerprint

import (
	"strings"

	"github.com/google/uuid"
)

// Compute returns the stable identity for a subscription signal, in priority
// order: list id, sender address, sender domain. The result is a pure function
// of its inputs so repeated scans converge on the same subscription row.
//
// When none of the inputs are present the returned token is random, which
// means such sightings can never deduplicate across scans and will keep
// surfacing as new subscriptions. Whether those messages should be tracked at
// all is an open product question; until that is settled the scan path treats
// them as unrecognized.
func Compute(listID, fromEmail, fromDomain string) string {
	switch {
	case listID != "":
		return "listid:" + listID
	case fromEmail != "":
		return "from:" + fromEmail
	case fromDomain != "":
		return "domain:" + fromDomain
	}
	return "unknown:" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Stable reports whether a fingerprint identifies a recognized subscription,
// i.e. was derived from real signals rather than the random fallback.
func Stable(fp string) bool {
	return !strings.HasPrefix(fp, "unknown:")
}
