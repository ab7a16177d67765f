package risk

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"floodguard/internal/types"
)

func TestScoreExtremes(t *testing.T) {
	worst := types.RiskFactors{
		WaterLevelTrend:           10,
		ForecastProbability:       1,
		RainfallNowcast:           8,
		SoilSaturation:            1,
		HistoricalAccuracy:        0,
		UrbanDensity:              1,
		InfrastructureCriticality: 1,
	}
	score, level := Score(worst)
	assert.InDelta(t, 100, score, 1e-9)
	assert.Equal(t, types.RiskExtreme, level)

	score, level = Score(types.RiskFactors{HistoricalAccuracy: 1})
	assert.Zero(t, score)
	assert.Equal(t, types.RiskNone, level)

	score, _ = Score(types.RiskFactors{})
	assert.Zero(t, score, "historical penalty alone clamps at zero")
}

func TestScoreWeightedSum(t *testing.T) {
	f := types.RiskFactors{
		WaterLevelTrend:           1,   // 20 * .25 = 5
		ForecastProbability:       0.5, // 50 * .20 = 10
		RainfallNowcast:           1,   // 25 * .15 = 3.75
		SoilSaturation:            0.4, // 40 * .10 = 4
		HistoricalAccuracy:        0.8, // 20 * -.05 = -1
		UrbanDensity:              0.2, // 20 * .15 = 3
		InfrastructureCriticality: 0.4, // 40 * .20 = 8
	}
	score, level := Score(f)
	assert.InDelta(t, 32.75, score, 1e-9)
	assert.Equal(t, types.RiskLow, level)
}

func TestClassifyBreakpoints(t *testing.T) {
	tests := []struct {
		score float64
		want  types.RiskLevel
	}{
		{100, types.RiskExtreme},
		{80, types.RiskExtreme},
		{79.999, types.RiskHigh},
		{60, types.RiskHigh},
		{59.9, types.RiskModerate},
		{40, types.RiskModerate},
		{39.99, types.RiskLow},
		{20, types.RiskLow},
		{19.99, types.RiskNone},
		{0, types.RiskNone},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.score), "score %v", tt.score)
		assert.LessOrEqual(t, LowerBound(tt.want), tt.score)
	}
}

func randomFactors(r *rand.Rand) types.RiskFactors {
	return types.RiskFactors{
		WaterLevelTrend:           r.Float64()*30 - 10,
		ForecastProbability:       r.Float64()*1.4 - 0.2,
		RainfallNowcast:           r.Float64() * 10,
		SoilSaturation:            r.Float64(),
		HistoricalAccuracy:        r.Float64(),
		UrbanDensity:              r.Float64(),
		InfrastructureCriticality: r.Float64(),
	}
}

func TestScoreAlwaysInRange(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))
	for i := 0; i < 2000; i++ {
		score, level := Score(randomFactors(r))
		require.GreaterOrEqual(t, score, 0.0)
		require.LessOrEqual(t, score, 100.0)
		require.Equal(t, Classify(score), level)
	}

	score, level := Score(types.RiskFactors{WaterLevelTrend: math.NaN(), ForecastProbability: math.Inf(1)})
	assert.False(t, math.IsNaN(score))
	assert.GreaterOrEqual(t, score, 0.0)
	assert.LessOrEqual(t, score, 100.0)
	assert.True(t, level.Valid())
}

func TestScoreMonotoneInTrend(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 5))
	for i := 0; i < 500; i++ {
		f := randomFactors(r)
		prev, _ := Score(f)
		for trend := f.WaterLevelTrend; trend < 25; trend += 0.37 {
			f.WaterLevelTrend = trend
			s, _ := Score(f)
			require.GreaterOrEqual(t, s, prev, "trend %v", trend)
			prev = s
		}
	}
}

func TestConfidence(t *testing.T) {
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	fresh := now.Add(-10 * time.Minute)
	stale := now.Add(-31 * time.Minute)
	future := now.Add(5 * time.Minute)

	assert.InDelta(t, 0.6, Confidence(0, 0.5, nil, now, 0), 1e-9, "empty window")
	assert.InDelta(t, 0.9, Confidence(11, 1, &fresh, now, 0), 1e-9)
	assert.InDelta(t, 1.0, Confidence(51, 1, &fresh, now, 0), 1e-9)
	assert.InDelta(t, 0.7, Confidence(51, 0, &stale, now, 0), 1e-9)
	assert.InDelta(t, 0.5, Confidence(3, 0, &future, now, 0), 1e-9)
	assert.InDelta(t, 0.6, Confidence(3, 0, &stale, now, time.Hour), 1e-9, "custom freshness window")
}

func TestTimeToImpact(t *testing.T) {
	assert.Nil(t, TimeToImpact(0, 5, 15), "flat")
	assert.Nil(t, TimeToImpact(-1, 5, 15), "falling")
	assert.Nil(t, TimeToImpact(math.NaN(), 5, 15))

	assert.Nil(t, TimeToImpact(0, 16, 15), "flat above critical")
	assert.Nil(t, TimeToImpact(-2, 18, 15), "receding above critical")

	atCritical := TimeToImpact(0.5, 15, 15)
	require.NotNil(t, atCritical)
	assert.Zero(t, *atCritical)

	above := TimeToImpact(1, 16, 15)
	require.NotNil(t, above)
	assert.Zero(t, *above)

	got := TimeToImpact(1, 10, 15)
	require.NotNil(t, got)
	assert.InDelta(t, 300, *got, 1e-9)

	rapid := TimeToImpact(3, 11, 15)
	require.NotNil(t, rapid)
	assert.InDelta(t, 80, *rapid, 1e-9)
}

func TestAccuracyLogBoundedFIFO(t *testing.T) {
	log := NewAccuracyLog(3)
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 0.5, log.Accuracy())

	log.Record(types.RiskHigh, types.RiskHigh, at)
	log.Record(types.RiskLow, types.RiskHigh, at.Add(time.Hour))
	log.Record(types.RiskNone, types.RiskNone, at.Add(2*time.Hour))
	log.Record(types.RiskExtreme, types.RiskLow, at.Add(3*time.Hour))

	snap := log.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, types.RiskLow, snap[0].Predicted, "oldest entry evicted")
	assert.Equal(t, at.Add(3*time.Hour), snap[2].RecordedAt)
	assert.InDelta(t, 1.0/3.0, log.Accuracy(), 1e-9)

	snap[0].Correct = true
	assert.InDelta(t, 1.0/3.0, log.Accuracy(), 1e-9, "snapshot is a copy")
}

func TestAccuracyRecordGradesAdjacentLevels(t *testing.T) {
	tests := []struct {
		predicted, actual types.RiskLevel
		correct           bool
	}{
		{types.RiskModerate, types.RiskHigh, true},
		{types.RiskModerate, types.RiskLow, true},
		{types.RiskModerate, types.WaterNormal.RiskLevel(), false},
		{types.RiskHigh, types.WaterCritical.RiskLevel(), true},
		{types.RiskLow, types.RiskExtreme, false},
		{types.RiskNone, types.RiskNone, true},
		{"", types.RiskNone, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.predicted)+"/"+string(tt.actual), func(t *testing.T) {
			rec := NewAccuracyLog(10).Record(tt.predicted, tt.actual, time.Time{})
			assert.Equal(t, tt.correct, rec.Correct)
		})
	}
}

func TestAccuracyLogDefaultSize(t *testing.T) {
	log := NewAccuracyLog(0)
	for i := 0; i < 150; i++ {
		log.Record(types.RiskLow, types.RiskLow, time.Time{})
	}
	assert.Equal(t, DefaultAccuracyLogSize, log.Len())
}

func TestAlerts(t *testing.T) {
	f := types.RiskFactors{
		WaterLevelTrend:           3,
		ForecastProbability:       0.9,
		RainfallNowcast:           2.5,
		SoilSaturation:            0.9,
		InfrastructureCriticality: 0.8,
	}
	assert.Equal(t, []string{
		types.AlertRapidWaterRise,
		types.AlertHighOverflowProbability,
		types.AlertHeavyRainExpected,
		types.AlertSaturatedSoil,
		types.AlertImmediateEvacuation,
		types.AlertCriticalInfrastructure,
	}, Alerts(f, types.RiskExtreme))

	assert.Equal(t, []string{types.AlertPrepareForEvacuation}, Alerts(types.RiskFactors{}, types.RiskHigh))
	assert.Empty(t, Alerts(types.RiskFactors{}, types.RiskNone))
}

func TestRecommendations(t *testing.T) {
	assert.Empty(t, Recommendations(types.RiskNone, types.RiskFactors{}, types.LocationMetadata{}))
	assert.Len(t, Recommendations(types.RiskLow, types.RiskFactors{}, types.LocationMetadata{}), 2)
	assert.Len(t, Recommendations(types.RiskExtreme, types.RiskFactors{}, types.LocationMetadata{LowWaterCrossings: 4}), 3)

	recs := Recommendations(types.RiskHigh,
		types.RiskFactors{InfrastructureCriticality: 0.6},
		types.LocationMetadata{LowWaterCrossings: 3})
	require.Len(t, recs, 6)
	assert.Equal(t, "Critical facilities should activate emergency protocols", recs[4])
	assert.Equal(t, "Avoid the 3 low-water crossings in this area", recs[5])
}

func TestShouldEvacuate(t *testing.T) {
	minutes := func(v float64) *float64 { return &v }

	assert.True(t, ShouldEvacuate(80, nil, types.RiskFactors{}), "extreme score alone")
	assert.True(t, ShouldEvacuate(92, minutes(600), types.RiskFactors{}))
	assert.True(t, ShouldEvacuate(65, minutes(90), types.RiskFactors{}))
	assert.False(t, ShouldEvacuate(65, minutes(130), types.RiskFactors{}))
	assert.False(t, ShouldEvacuate(65, nil, types.RiskFactors{}))
	assert.False(t, ShouldEvacuate(55, minutes(10), types.RiskFactors{}))
	assert.True(t, ShouldEvacuate(30, nil, types.RiskFactors{WaterLevelTrend: 3.5, InfrastructureCriticality: 0.8}))
	assert.False(t, ShouldEvacuate(30, nil, types.RiskFactors{WaterLevelTrend: 3.5, InfrastructureCriticality: 0.6}))
}
