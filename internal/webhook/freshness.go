package webhook

import (
	"time"
)

// MaxTimestampAge is the oldest a signed timestamp may be. Timestamps in the
// future are never accepted.
const MaxTimestampAge = 300 * time.Second

// CheckFreshness accepts ts when 0 <= now-ts <= MaxTimestampAge, measured in
// whole seconds.
func CheckFreshness(ts, now time.Time) error {
	delta := now.Unix() - ts.Unix()
	if delta < 0 || delta > int64(MaxTimestampAge/time.Second) {
		return timestampOutOfWindow(delta)
	}
	return nil
}
