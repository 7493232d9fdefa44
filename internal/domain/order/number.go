package order

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewNumber returns a human-readable, date-coded order number such as
// ORD-20260901-7F3A21C4. The random suffix keeps numbers unique without a
// shared sequence; the orders table enforces uniqueness.
func NewNumber(t time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
	return "ORD-" + t.UTC().Format("20060102") + "-" + suffix
}
