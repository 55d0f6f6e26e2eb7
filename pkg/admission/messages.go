package admission

import (
	"fmt"
	"math"
	"strings"
	"time"

	"mercator-hq/ganymede/pkg/tier"
)

// rejectionMessage renders a rejection as a user-facing sentence: the
// limit hit, a rounded wait time when one is known, and an upgrade
// hint when a higher tier exists.
func rejectionMessage(dec *Decision, current, next tier.Tier) string {
	var b strings.Builder
	b.WriteString(dec.Reason)
	b.WriteString(".")

	if dec.RetryAfter > 0 {
		b.WriteString(" Try again in ")
		b.WriteString(humanDuration(dec.RetryAfter))
		b.WriteString(".")
	}

	if next != "" && next != current {
		fmt.Fprintf(&b, " Upgrade to %s for higher limits.", next)
	}
	return b.String()
}

// humanDuration rounds a wait up to whole seconds, minutes, or hours.
func humanDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		s := int(math.Ceil(d.Seconds()))
		if s <= 1 {
			return "1 second"
		}
		return fmt.Sprintf("%d seconds", s)
	case d < time.Hour:
		m := int(math.Ceil(d.Minutes()))
		if m == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", m)
	default:
		h := int(math.Ceil(d.Hours()))
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	}
}
