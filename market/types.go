package market

import (
	"math"
	"time"

	"github.com/fintra/fxengine/storage/types"
)

// Side is the P2P trade direction, from the perspective of the advertiser
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

func (s Side) String() string {
	return string(s)
}

// Quote is a single P2P advertisement price.
// ID is the advertisement ID, used for de-duplication across pages
type Quote struct {
	ID    string
	Side  Side
	Price float64
}

// Sample holds per-side summary statistics, rounded to 2dp at emission
type Sample struct {
	Min float64 `json:"min"`
	Avg float64 `json:"avg"`
	Max float64 `json:"max"`
}

// Snapshot is one complete aggregation result. A new snapshot always
// supersedes the previous one, snapshots are never merged
type Snapshot struct {
	CapturedAt      time.Time    `json:"captured_at"`
	Source          types.Source `json:"source"`
	Sell            Sample       `json:"sell"`
	Buy             Sample       `json:"buy"`
	BaseRate        float64      `json:"base_rate"`
	OverallMin      float64      `json:"overall_min"`
	OverallMax      float64      `json:"overall_max"`
	Spread          float64      `json:"spread"`
	SampleCountSell int          `json:"sample_count_sell"`
	SampleCountBuy  int          `json:"sample_count_buy"`
	ExecutionTimeMs int64        `json:"execution_time_ms"`
}

// round2 rounds monetary figures at the presentation boundary
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
