package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/opinioncore/internal/domain"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(DefaultParams())
	require.NoError(t, err)
	return e
}

// testSeeds yields n well-spread deterministic seeds.
func testSeeds(n int) []uint64 {
	seeds := make([]uint64, n)
	for i := range seeds {
		seeds[i] = mix(uint64(i) * 0x9e3779b97f4a7c15)
	}
	return seeds
}

func TestNextPrice_CompetitiveBand(t *testing.T) {
	e := newTestEngine(t)
	last := int64(6_000000)

	for _, seed := range testSeeds(5000) {
		next, regime := e.NextPrice(last, domain.ClassificationCompetitive, seed)
		assert.Equal(t, domain.RegimeNone, regime)
		assert.GreaterOrEqual(t, next, int64(6_480000), "below 8%% floor")
		assert.LessOrEqual(t, next, int64(6_720000), "above 12%% ceiling")
	}
}

func TestNextPrice_SoloRegimeBounds(t *testing.T) {
	e := newTestEngine(t)
	last := int64(10_000000)

	bands := map[domain.Regime][2]int64{}
	for _, r := range DefaultParams().Regimes {
		bands[r.Name] = [2]int64{r.MinBps, r.MaxBps}
	}

	for _, seed := range testSeeds(5000) {
		next, regime := e.NextPrice(last, domain.ClassificationSolo, seed)
		band, ok := bands[regime]
		require.True(t, ok, "unknown regime %q", regime)

		deltaBps := (next - last) * 10_000 / last
		assert.GreaterOrEqual(t, deltaBps, band[0], "regime %s", regime)
		assert.LessOrEqual(t, deltaBps, band[1], "regime %s", regime)
	}
}

func TestNextPrice_RegimeFrequencies(t *testing.T) {
	e := newTestEngine(t)
	last := int64(10_000000)

	counts := map[domain.Regime]int{}
	const n = 200_000
	for _, seed := range testSeeds(n) {
		_, regime := e.NextPrice(last, domain.ClassificationSolo, seed)
		counts[regime]++
	}

	var total int64
	for _, r := range DefaultParams().Regimes {
		total += r.Weight
	}
	for _, r := range DefaultParams().Regimes {
		want := float64(r.Weight) / float64(total)
		got := float64(counts[r.Name]) / float64(n)
		assert.InDelta(t, want, got, 0.01, "regime %s frequency", r.Name)
	}
}

func TestNextPrice_FloorClamp(t *testing.T) {
	params := DefaultParams()
	params.Regimes = []RegimeParams{
		{Name: domain.RegimeCorrection, Weight: 1, MinBps: -2_000, MaxBps: -2_000},
	}
	e, err := NewEngine(params)
	require.NoError(t, err)

	// -20% of the floor price would land below the floor.
	for _, seed := range testSeeds(100) {
		next, _ := e.NextPrice(params.MinimumPrice, domain.ClassificationSolo, seed)
		assert.Equal(t, params.MinimumPrice, next)
	}
}

func TestNextPrice_CeilingClamp(t *testing.T) {
	params := DefaultParams()
	params.AbsoluteMaxChange = 500_000 // 0.5 units
	e, err := NewEngine(params)
	require.NoError(t, err)

	last := int64(100_000000)
	for _, seed := range testSeeds(2000) {
		for _, class := range []domain.Classification{domain.ClassificationSolo, domain.ClassificationCompetitive} {
			next, _ := e.NextPrice(last, class, seed)
			diff := next - last
			if diff < 0 {
				diff = -diff
			}
			assert.LessOrEqual(t, diff, params.AbsoluteMaxChange)
			assert.GreaterOrEqual(t, next, params.MinimumPrice)
		}
	}
}

// A question trades at 5.0, lands a bullish +20% solo move to a 6.0 asking
// price, then a second distinct trader takes it: the competitive rule must
// put the next asking price 8-12% above 6.0.
func TestNextPrice_SoloThenCompetitiveScenario(t *testing.T) {
	e := newTestEngine(t)

	var (
		seed  uint64
		found bool
	)
	for s := uint64(0); s < 1_000_000; s++ {
		next, regime := e.NextPrice(5_000000, domain.ClassificationSolo, s)
		if regime == domain.RegimeBullish && next == 6_000000 {
			seed, found = s, true
			break
		}
	}
	require.True(t, found, "no seed producing an exact +20%% bullish move")

	next, _ := e.NextPrice(5_000000, domain.ClassificationSolo, seed)
	require.Equal(t, int64(6_000000), next)

	for _, s := range testSeeds(1000) {
		after, _ := e.NextPrice(next, domain.ClassificationCompetitive, s)
		assert.GreaterOrEqual(t, after, int64(6_480000))
		assert.LessOrEqual(t, after, int64(6_720000))
	}
}

func TestApplyBps_LargePriceNoOverflow(t *testing.T) {
	// A price near the int64 ceiling must not wrap when scaled by +80%.
	price := int64(1) << 59
	delta := applyBps(price, 8_000)
	assert.Greater(t, delta, int64(0))
	assert.Equal(t, price/10_000*8_000+price%10_000*8_000/10_000, delta)
}

func TestParamsValidate(t *testing.T) {
	valid := DefaultParams()
	require.NoError(t, valid.Validate())

	cases := []struct {
		name   string
		mutate func(*Params)
	}{
		{"zero minimum price", func(p *Params) { p.MinimumPrice = 0 }},
		{"zero max change", func(p *Params) { p.AbsoluteMaxChange = 0 }},
		{"inverted competitive band", func(p *Params) { p.CompetitiveMaxBps = p.CompetitiveMinBps - 1 }},
		{"no regimes", func(p *Params) { p.Regimes = nil }},
		{"zero regime weight", func(p *Params) { p.Regimes[0].Weight = 0 }},
		{"inverted regime band", func(p *Params) { p.Regimes[0].MinBps, p.Regimes[0].MaxBps = 100, -100 }},
		{"regime wipes out price", func(p *Params) { p.Regimes[0].MinBps = -10_000 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := DefaultParams()
			p.Regimes = append([]RegimeParams(nil), p.Regimes...)
			tc.mutate(&p)
			assert.Error(t, p.Validate())
		})
	}
}

func TestKeccakSeed_Deterministic(t *testing.T) {
	src := NewKeccakSeed("test-secret")
	assert.Equal(t, src.Seed(1, 1), src.Seed(1, 1))
	assert.NotEqual(t, src.Seed(1, 1), src.Seed(1, 2))
	assert.NotEqual(t, src.Seed(1, 1), src.Seed(2, 1))
	assert.NotEqual(t, src.Seed(1, 1), NewKeccakSeed("other-secret").Seed(1, 1))
}
