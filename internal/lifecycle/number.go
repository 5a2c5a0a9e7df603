package lifecycle

import (
	"crypto/rand"
	"strconv"
	"strings"
	"time"
)

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// newOrderNumber builds a human-displayable order number from the millisecond
// timestamp in base36 plus a random 5-character suffix, so concurrent creation
// stays collision-resistant. The store still enforces uniqueness; on the rare
// clash the caller regenerates.
func newOrderNumber(now time.Time) string {
	buf := make([]byte, 5)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing is effectively unreachable; fall back to the
		// nanosecond clock rather than panic.
		return strings.ToUpper("ORD-" + strconv.FormatInt(now.UnixNano(), 36))
	}
	for i, b := range buf {
		buf[i] = base36[int(b)%len(base36)]
	}
	return strings.ToUpper("ORD-" + strconv.FormatInt(now.UnixMilli(), 36) + string(buf))
}
