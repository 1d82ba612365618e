package memory

import (
	"fmt"

	"StructPulse/internal/domain/models"
)

// Fingerprint reduces an event to its recurrence signature: kind, direction,
// normalized magnitude bucket and routing keys. Events that would read the
// same to a human analyst fingerprint identically, which is what both the
// decision cache and the false-positive signatures key on.
func Fingerprint(ev models.PatternEvent) string {
	bucket := int(ev.RawConfidence * 10)
	if bucket < 0 {
		bucket = 0
	}
	if bucket > 10 {
		bucket = 10
	}
	return fmt.Sprintf("%s|%s|%s|%s|m%d", ev.Instrument, ev.Timeframe, ev.Kind, ev.Direction, bucket)
}
