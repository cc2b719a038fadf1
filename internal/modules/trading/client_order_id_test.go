package trading

import (
	"regexp"
	"testing"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/stretchr/testify/assert"
)

var clientOrderIDPattern = regexp.MustCompile(`^[0-9a-f]{20}$`)

func TestGenerateClientOrderID_Deterministic(t *testing.T) {
	a := GenerateClientOrderID("user-1", "BTCUSDT", domain.SideBuy, 1714564800, 0)
	b := GenerateClientOrderID("user-1", "btcusdt", domain.SideBuy, 1714564800, 0)

	assert.Equal(t, a, b)
	assert.Regexp(t, clientOrderIDPattern, a)
	assert.Len(t, a, ClientOrderIDLength)
}

func TestGenerateClientOrderID_VariesWithEveryInput(t *testing.T) {
	base := GenerateClientOrderID("user-1", "BTCUSDT", domain.SideBuy, 1714564800, 0)

	variants := map[string]string{
		"user":   GenerateClientOrderID("user-2", "BTCUSDT", domain.SideBuy, 1714564800, 0),
		"symbol": GenerateClientOrderID("user-1", "ETHUSDT", domain.SideBuy, 1714564800, 0),
		"side":   GenerateClientOrderID("user-1", "BTCUSDT", domain.SideSell, 1714564800, 0),
		"epoch":  GenerateClientOrderID("user-1", "BTCUSDT", domain.SideBuy, 1714564830, 0),
		"index":  GenerateClientOrderID("user-1", "BTCUSDT", domain.SideBuy, 1714564800, 1),
	}

	for name, id := range variants {
		assert.NotEqual(t, base, id, "changing %s must change the id", name)
	}
}

func TestTickEpoch(t *testing.T) {
	period := 30 * time.Second
	start := time.Unix(1714564800, 0)

	assert.Equal(t, int64(1714564800), TickEpoch(start, period))
	assert.Equal(t, int64(1714564800), TickEpoch(start.Add(29*time.Second+999*time.Millisecond), period))
	assert.Equal(t, int64(1714564830), TickEpoch(start.Add(30*time.Second), period))

	// Two ticks inside the same bucket share ids
	first := GenerateClientOrderID("u", "BTCUSDT", domain.SideBuy, TickEpoch(start.Add(2*time.Second), period), 0)
	retry := GenerateClientOrderID("u", "BTCUSDT", domain.SideBuy, TickEpoch(start.Add(17*time.Second), period), 0)
	assert.Equal(t, first, retry)
}

func TestManualEpoch_FreshPerCall(t *testing.T) {
	now := time.Unix(1714564800, 0)
	assert.NotEqual(t, ManualEpoch(now), ManualEpoch(now.Add(time.Millisecond)))
}
