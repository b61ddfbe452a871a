package settlement

import (
	"fmt"
	"time"
)

// orderNumberPrefix brands order numbers; the full shape is
// LDX-YYYYMMDD-NNNNNN with a per-day sequence.
const orderNumberPrefix = "LDX"

func formatOrderNumber(t time.Time, seq int64) string {
	return fmt.Sprintf("%s-%s-%06d", orderNumberPrefix, t.UTC().Format("20060102"), seq)
}

func orderNumberDay(t time.Time) string {
	return t.UTC().Format("20060102")
}
