package resource

import "time"

// testTime returns a deterministic instant offset from a fixed epoch, so
// tests never depend on wall-clock time.
func testTime(seconds int64) time.Time {
	return time.Unix(1700000000+seconds, 0).UTC()
}
