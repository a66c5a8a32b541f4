// Package claim implements the transient pending marker that prevents two
// concurrent scans from dispatching a notification for the same record. A
// claim is taken atomically before dispatch and released on completion or
// failure; a second scan skips records already claimed. Claims expire after a
// TTL so a crashed scan self-heals instead of wedging a record forever.
package claim

import (
	"context"
	"time"
)

// DefaultTTL bounds how long a claim survives without release. It covers the
// longest plausible dispatch including every channel timeout.
const DefaultTTL = 5 * time.Minute

// Claimer marks records as being processed by one scan at a time.
type Claimer interface {
	// Claim attempts to take the pending marker for a record. It returns
	// false (and no error) when another scan already holds the claim.
	Claim(ctx context.Context, recordID string) (bool, error)
	// Release drops the marker. Releasing an unclaimed or expired record
	// is not an error.
	Release(ctx context.Context, recordID string) error
}
