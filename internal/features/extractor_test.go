package features

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"floodguard/internal/types"
)

var t0 = time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)

func ptr(v float64) *float64 { return &v }

func reading(offset time.Duration, level float64) types.Reading {
	return types.Reading{Timestamp: t0.Add(offset), WaterLevel: level}
}

func TestNewExtractorDefaults(t *testing.T) {
	e := NewExtractor(Params{})
	assert.Equal(t, DefaultCriticalLevel, e.CriticalLevel())
	assert.Equal(t, DefaultTrendWindow, e.trendWindow)
	assert.Equal(t, DefaultSoilWindow, e.soilWindow)
	assert.Equal(t, DefaultMaxPopulation, e.maxPopulation)
}

func TestTrend(t *testing.T) {
	e := NewExtractor(Params{})

	tests := []struct {
		name     string
		readings []types.Reading
		want     float64
	}{
		{"empty", nil, 0},
		{"single reading", []types.Reading{reading(0, 4)}, 0},
		{"rapid rise", []types.Reading{
			reading(-2*time.Hour, 5), reading(-time.Hour, 8), reading(0, 11),
		}, 3},
		{"falling", []types.Reading{reading(-4*time.Hour, 10), reading(0, 6)}, -1},
		{"readings outside the window are ignored", []types.Reading{
			reading(-10*time.Hour, 0), reading(-time.Hour, 4), reading(0, 6),
		}, 2},
		{"zero elapsed time", []types.Reading{reading(0, 2), reading(0, 9)}, 0},
		{"non-monotonic timestamps", []types.Reading{reading(0, 2), reading(-time.Hour, 9)}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Trend(tt.readings, t0)
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.False(t, math.IsNaN(got) || math.IsInf(got, 0))
		})
	}
}

func TestOverflowProbability(t *testing.T) {
	e := NewExtractor(Params{})

	assert.Equal(t, 1.0, e.OverflowProbability(15, 0, nil), "at threshold")
	assert.Equal(t, 1.0, e.OverflowProbability(22, -3, nil), "above threshold even when falling")
	assert.InDelta(t, 0.0474258, e.OverflowProbability(0, 0, nil), 1e-6)
	assert.InDelta(t, 0.9426758, e.OverflowProbability(11, 3, nil), 1e-6)

	t.Run("prediction only raises the projection", func(t *testing.T) {
		assert.InDelta(t, 0.7310586, e.OverflowProbability(5, 0, ptr(20)), 1e-6)
		assert.InDelta(t, 0.9426758, e.OverflowProbability(11, 3, ptr(1)), 1e-6)
	})

	t.Run("monotone in trend", func(t *testing.T) {
		prev := e.OverflowProbability(4, -5, nil)
		for trend := -4.5; trend <= 10; trend += 0.5 {
			p := e.OverflowProbability(4, trend, nil)
			assert.GreaterOrEqual(t, p, prev)
			prev = p
		}
	})
}

func TestNearTermRainfall(t *testing.T) {
	t.Run("no forecast", func(t *testing.T) {
		assert.Zero(t, NearTermRainfall(nil, t0))
		assert.Zero(t, NearTermRainfall(&types.ForecastSnapshot{}, t0))
	})

	t.Run("hourly sums six buckets strictly after now", func(t *testing.T) {
		f := &types.ForecastSnapshot{}
		for h := 0; h <= 8; h++ {
			f.Hourly = append(f.Hourly, types.HourlyForecast{Time: t0.Add(time.Duration(h) * time.Hour), PrecipitationMM: 10})
		}
		assert.InDelta(t, 60*0.0393701, NearTermRainfall(f, t0), 1e-9)
	})

	t.Run("hourly skips bad amounts", func(t *testing.T) {
		f := &types.ForecastSnapshot{Hourly: []types.HourlyForecast{
			{Time: t0.Add(time.Hour), PrecipitationMM: math.NaN()},
			{Time: t0.Add(2 * time.Hour), PrecipitationMM: -4},
			{Time: t0.Add(3 * time.Hour), PrecipitationMM: 25.4},
		}}
		assert.InDelta(t, 25.4*0.0393701, NearTermRainfall(f, t0), 1e-9)
	})

	t.Run("periods use first two probabilities", func(t *testing.T) {
		f := &types.ForecastSnapshot{Periods: []types.ForecastPeriod{
			{Name: "This Afternoon", PrecipitationProbabilityPct: ptr(40)},
			{Name: "Tonight", PrecipitationProbabilityPct: ptr(80)},
			{Name: "Tomorrow", PrecipitationProbabilityPct: ptr(100)},
		}}
		assert.InDelta(t, 1.6, NearTermRainfall(f, t0), 1e-9)
		assert.InDelta(t, 0.8, PrecipitationCeiling(f), 1e-9)
	})
}

func TestPrecipitationCeilingHourly(t *testing.T) {
	f := &types.ForecastSnapshot{Hourly: []types.HourlyForecast{
		{Time: t0, ProbabilityPct: ptr(30)},
		{Time: t0.Add(time.Hour), ProbabilityPct: ptr(140)},
		{Time: t0.Add(2 * time.Hour)},
	}}
	assert.Equal(t, 1.0, PrecipitationCeiling(f))
	assert.Zero(t, PrecipitationCeiling(nil))
}

func TestSoilSaturation(t *testing.T) {
	e := NewExtractor(Params{})

	t.Run("sensor wins", func(t *testing.T) {
		r := reading(0, 3)
		r.SoilMoisturePct = ptr(65)
		r.RainfallIn = ptr(4)
		assert.InDelta(t, 0.65, e.SoilSaturation([]types.Reading{r}, t0), 1e-9)
	})

	t.Run("sensor clamped", func(t *testing.T) {
		r := reading(0, 3)
		r.SoilMoisturePct = ptr(150)
		assert.Equal(t, 1.0, e.SoilSaturation([]types.Reading{r}, t0))
	})

	t.Run("estimated from recent rainfall", func(t *testing.T) {
		old := reading(-30*time.Hour, 1)
		old.RainfallIn = ptr(9)
		a := reading(-5*time.Hour, 1)
		a.RainfallIn = ptr(0.5)
		b := reading(0, 1)
		b.RainfallIn = ptr(1.5)
		assert.InDelta(t, 0.4, e.SoilSaturation([]types.Reading{old, a, b}, t0), 1e-9)
	})

	t.Run("no data", func(t *testing.T) {
		assert.Zero(t, e.SoilSaturation(nil, t0))
	})
}

func TestHistoricalAccuracy(t *testing.T) {
	assert.Equal(t, 0.5, HistoricalAccuracy(nil))
	records := []types.AccuracyRecord{{Correct: true}, {Correct: true}, {Correct: false}, {Correct: true}}
	assert.Equal(t, 0.75, HistoricalAccuracy(records))
}

func TestExposureFactors(t *testing.T) {
	e := NewExtractor(Params{})

	assert.Zero(t, e.UrbanDensity(types.LocationMetadata{}))
	assert.InDelta(t, 0.5, e.UrbanDensity(types.LocationMetadata{Population: 2_500_000}), 1e-9)
	assert.Equal(t, 1.0, e.UrbanDensity(types.LocationMetadata{Population: 12_000_000}))

	meta := types.LocationMetadata{InfrastructureTags: []string{
		"Regional Hospital", "power substation", "shopping mall", "WATER treatment",
	}}
	assert.InDelta(t, 0.6, InfrastructureCriticality(meta), 1e-9)

	many := types.LocationMetadata{InfrastructureTags: []string{
		"hospital", "school", "emergency", "power", "water", "school annex",
	}}
	assert.Equal(t, 1.0, InfrastructureCriticality(many))
	assert.Zero(t, InfrastructureCriticality(types.LocationMetadata{}))
}

func TestFactorsEmptyInput(t *testing.T) {
	e := NewExtractor(Params{})
	f := e.Factors(Input{Now: t0})

	assert.Zero(t, f.WaterLevelTrend)
	assert.InDelta(t, 0.0474258, f.ForecastProbability, 1e-6)
	assert.Zero(t, f.RainfallNowcast)
	assert.Zero(t, f.SoilSaturation)
	assert.Equal(t, 0.5, f.HistoricalAccuracy)
	assert.Zero(t, f.UrbanDensity)
	assert.Zero(t, f.InfrastructureCriticality)
}

func TestVector(t *testing.T) {
	e := NewExtractor(Params{})

	t.Run("empty window", func(t *testing.T) {
		v := e.Vector(nil, nil, t0)
		require.Len(t, v, VectorSize)
		for _, x := range v {
			assert.Zero(t, x)
		}
	})

	t.Run("single reading has no derivative features", func(t *testing.T) {
		v := e.Vector([]types.Reading{reading(0, 4)}, nil, t0)
		assert.Equal(t, 4.0, v[FeatCurrentLevel])
		assert.Equal(t, 4.0, v[FeatPreviousLevel])
		assert.Zero(t, v[FeatTrend])
	})

	t.Run("full window", func(t *testing.T) {
		a := reading(-2*time.Hour, 5)
		a.FlowRate = ptr(100)
		b := reading(-time.Hour, 8)
		c := reading(0, 11)
		c.FlowRate = ptr(300)

		v := e.Vector([]types.Reading{a, b, c}, nil, t0)
		require.Len(t, v, VectorSize)
		assert.Equal(t, 11.0, v[FeatCurrentLevel])
		assert.Equal(t, 8.0, v[FeatPreviousLevel])
		assert.Equal(t, 11.0, v[FeatMaxLevel])
		assert.Equal(t, 8.0, v[FeatMeanLevel])
		assert.Equal(t, 200.0, v[FeatMeanFlow])
		assert.InDelta(t, 3.0, v[FeatTrend], 1e-9)
	})
}

func TestDetectAnomalies(t *testing.T) {
	var readings []types.Reading
	for i := 0; i < 20; i++ {
		readings = append(readings, reading(time.Duration(i-20)*10*time.Minute, 2))
	}
	assert.Empty(t, DetectAnomalies(readings, 3), "flat window")

	spike := reading(0, 12)
	anomalies := DetectAnomalies(append(readings, spike), 3)
	require.Len(t, anomalies, 1)
	assert.Equal(t, 12.0, anomalies[0].Value)
	assert.InDelta(t, math.Sqrt(20), anomalies[0].ZScore, 1e-9)

	assert.Empty(t, DetectAnomalies(readings[:1], 3))
}
