// Package pricing implements the asking-price engine: after every ownership
// change it computes the next asking price from the last paid price, using a
// guaranteed narrow-band increase under competition and a weighted-regime
// draw for solo trading.
package pricing

import (
	"fmt"

	"github.com/alanyoungcy/opinioncore/internal/domain"
)

// bpsScale is the basis-point denominator for all percentage math.
const bpsScale int64 = 10_000

// RegimeParams describes one solo-trade regime: its selection weight and the
// percentage-change band relative to the last price, in basis points.
type RegimeParams struct {
	Name   domain.Regime
	Weight int64
	MinBps int64
	MaxBps int64
}

// Params holds the pricing engine configuration.
type Params struct {
	// MinimumPrice is the floor every computed price is clamped to, micros.
	MinimumPrice int64
	// AbsoluteMaxChange caps the magnitude of any single price change,
	// micros. Defensive clamp against parameter misconfiguration.
	AbsoluteMaxChange int64
	// CompetitiveMinBps..CompetitiveMaxBps is the guaranteed increase band
	// applied when two or more distinct traders are active in the window.
	CompetitiveMinBps int64
	CompetitiveMaxBps int64
	Regimes           []RegimeParams
}

// DefaultParams returns the production regime table: consolidation 25%
// (-10%..+15%), bullish 60% (+5%..+40%), correction 15% (-20%..+5%),
// parabolic 2% (+40%..+80%), with an 8-12% competitive band.
func DefaultParams() Params {
	return Params{
		MinimumPrice:      1 * domain.PriceScale,
		AbsoluteMaxChange: 1_000 * domain.PriceScale,
		CompetitiveMinBps: 800,
		CompetitiveMaxBps: 1_200,
		Regimes: []RegimeParams{
			{Name: domain.RegimeConsolidation, Weight: 25, MinBps: -1_000, MaxBps: 1_500},
			{Name: domain.RegimeBullish, Weight: 60, MinBps: 500, MaxBps: 4_000},
			{Name: domain.RegimeCorrection, Weight: 15, MinBps: -2_000, MaxBps: 500},
			{Name: domain.RegimeParabolic, Weight: 2, MinBps: 4_000, MaxBps: 8_000},
		},
	}
}

// Validate rejects parameter sets the engine cannot price safely with. It is
// called at configuration time; a failure here must keep the system from
// accepting any trade.
func (p Params) Validate() error {
	if p.MinimumPrice <= 0 {
		return fmt.Errorf("pricing: minimum price must be positive, got %d", p.MinimumPrice)
	}
	if p.AbsoluteMaxChange <= 0 {
		return fmt.Errorf("pricing: absolute max change must be positive, got %d", p.AbsoluteMaxChange)
	}
	if p.CompetitiveMinBps <= 0 || p.CompetitiveMaxBps < p.CompetitiveMinBps {
		return fmt.Errorf("pricing: competitive band [%d, %d] bps is invalid",
			p.CompetitiveMinBps, p.CompetitiveMaxBps)
	}
	if len(p.Regimes) == 0 {
		return fmt.Errorf("pricing: at least one solo regime is required")
	}
	for _, r := range p.Regimes {
		if r.Weight <= 0 {
			return fmt.Errorf("pricing: regime %q weight must be positive, got %d", r.Name, r.Weight)
		}
		if r.MaxBps < r.MinBps {
			return fmt.Errorf("pricing: regime %q band [%d, %d] bps is inverted", r.Name, r.MinBps, r.MaxBps)
		}
		if r.MinBps <= -bpsScale {
			return fmt.Errorf("pricing: regime %q lower bound %d bps would zero the price", r.Name, r.MinBps)
		}
	}
	return nil
}

// Engine computes asking prices. It is stateless and safe for concurrent use.
type Engine struct {
	params      Params
	totalWeight int64
}

// NewEngine creates an Engine from validated params.
func NewEngine(params Params) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	var total int64
	for _, r := range params.Regimes {
		total += r.Weight
	}
	return &Engine{params: params, totalWeight: total}, nil
}

// NextPrice computes the asking price that follows a trade paid at lastPrice.
// The seed must be derived from state only finalized after the trade was
// ordered, so the caller cannot precompute the regime outcome. The returned
// regime is RegimeNone for competitive trades.
func (e *Engine) NextPrice(lastPrice int64, class domain.Classification, seed uint64) (int64, domain.Regime) {
	var (
		deltaBps int64
		regime   domain.Regime
	)
	if class == domain.ClassificationCompetitive {
		deltaBps = drawInBand(seed, e.params.CompetitiveMinBps, e.params.CompetitiveMaxBps)
	} else {
		r := e.pickRegime(seed)
		regime = r.Name
		deltaBps = drawInBand(mix(seed), r.MinBps, r.MaxBps)
	}

	next := lastPrice + applyBps(lastPrice, deltaBps)
	return e.clamp(lastPrice, next), regime
}

// pickRegime selects a solo regime by weighted draw over the seed.
func (e *Engine) pickRegime(seed uint64) RegimeParams {
	r := int64(seed % uint64(e.totalWeight))
	for _, reg := range e.params.Regimes {
		if r < reg.Weight {
			return reg
		}
		r -= reg.Weight
	}
	// Unreachable: r < totalWeight by construction.
	return e.params.Regimes[len(e.params.Regimes)-1]
}

// clamp applies the magnitude ceiling and the price floor.
func (e *Engine) clamp(lastPrice, next int64) int64 {
	if diff := next - lastPrice; diff > e.params.AbsoluteMaxChange {
		next = lastPrice + e.params.AbsoluteMaxChange
	} else if -diff > e.params.AbsoluteMaxChange {
		next = lastPrice - e.params.AbsoluteMaxChange
	}
	if next < e.params.MinimumPrice {
		next = e.params.MinimumPrice
	}
	return next
}

// drawInBand maps the seed uniformly onto [minBps, maxBps].
func drawInBand(seed uint64, minBps, maxBps int64) int64 {
	span := uint64(maxBps - minBps + 1)
	return minBps + int64(seed%span)
}

// applyBps computes price*bps/10000 without overflowing int64 for any price
// the engine can produce. Split multiply keeps the intermediate bounded.
func applyBps(price, bps int64) int64 {
	return price/bpsScale*bps + price%bpsScale*bps/bpsScale
}

// mix advances the seed to an independent draw (splitmix64 finalizer), so the
// regime selection and the within-band offset do not reuse the same bits.
func mix(seed uint64) uint64 {
	seed += 0x9e3779b97f4a7c15
	seed = (seed ^ (seed >> 30)) * 0xbf58476d1ce4e5b9
	seed = (seed ^ (seed >> 27)) * 0x94d049bb133111eb
	return seed ^ (seed >> 31)
}
