package trading

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
)

// ClientOrderIDLength is the number of hex characters kept from the digest
const ClientOrderIDLength = 20

// GenerateClientOrderID derives the idempotency key of an order.
// The same user, symbol, side, epoch and index always produce the same id.
func GenerateClientOrderID(userID, symbol string, side domain.Side, tickEpoch int64, orderIndex int) string {
	canonical := strings.Join([]string{
		userID,
		strings.ToUpper(symbol),
		string(side),
		strconv.FormatInt(tickEpoch, 10),
		strconv.Itoa(orderIndex),
	}, "|")

	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])[:ClientOrderIDLength]
}

// TickEpoch floors now to the start of its period, in Unix seconds
func TickEpoch(now time.Time, period time.Duration) int64 {
	secs := int64(period / time.Second)
	epoch := now.Unix()
	if secs <= 1 {
		return epoch
	}
	return epoch - epoch%secs
}

// ManualEpoch is the epoch used for human-triggered execution. Every call gets a fresh one.
func ManualEpoch(now time.Time) int64 {
	return now.UnixMilli()
}
