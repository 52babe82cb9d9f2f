package signal

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ClientOrderIDLength is the length of a generated base id
const ClientOrderIDLength = 16

// Suffixes appended to the base id for orders derived from the principal
const (
	SuffixTPSL     = "TPORSL"
	SuffixTrailing = "TrailS"
	SuffixDCA      = "DCA"
)

// NewClientOrderID returns a random 16 character alphanumeric id
func NewClientOrderID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:ClientOrderIDLength]
}

// TPSLClientOrderID is the id of the take-profit/stop-loss attached to base
func TPSLClientOrderID(base string) string {
	return base + SuffixTPSL
}

// TrailingClientOrderID is the id of the trailing stop placed alongside base
func TrailingClientOrderID(base string) string {
	return base + SuffixTrailing
}

// DCAClientOrderID is the id of ladder rung i
func DCAClientOrderID(base string, i int) string {
	return base + SuffixDCA + strconv.Itoa(i)
}
