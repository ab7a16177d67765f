package types

import (
	"testing"
	"time"
)

func TestRiskLevelAndActionScalesAgree(t *testing.T) {
	if len(RiskLevels) != len(AlertActions) {
		t.Fatalf("scale sizes differ: %d levels, %d actions", len(RiskLevels), len(AlertActions))
	}
	if len(AlertActions) != NumAlertActions {
		t.Fatalf("NumAlertActions = %d, want %d", NumAlertActions, len(AlertActions))
	}
	for i, level := range RiskLevels {
		if level.Ordinal() != i {
			t.Errorf("%s.Ordinal() = %d, want %d", level, level.Ordinal(), i)
		}
		action := level.Action()
		if action.Ordinal() != i {
			t.Errorf("%s.Action() = %s at ordinal %d, want %d", level, action, action.Ordinal(), i)
		}
		if action.RiskLevel() != level {
			t.Errorf("%s.RiskLevel() = %s, want %s", action, action.RiskLevel(), level)
		}
	}
}

func TestUnknownEnumValues(t *testing.T) {
	if RiskLevel("severe").Valid() {
		t.Error("unexpected valid risk level")
	}
	if AlertAction("siren").Valid() {
		t.Error("unexpected valid action")
	}
	if WaterState("flooded").Valid() {
		t.Error("unexpected valid water state")
	}
	if got := RiskLevel("severe").Action(); got != ActionNone {
		t.Errorf("unknown level maps to %s, want none", got)
	}
}

func TestMaxRiskLevel(t *testing.T) {
	if got := MaxRiskLevel(RiskLow, RiskHigh); got != RiskHigh {
		t.Errorf("MaxRiskLevel(low, high) = %s", got)
	}
	if got := MaxRiskLevel(RiskExtreme, RiskModerate); got != RiskExtreme {
		t.Errorf("MaxRiskLevel(extreme, moderate) = %s", got)
	}
}

func TestWaterStateRiskLevel(t *testing.T) {
	want := map[WaterState]RiskLevel{
		WaterNormal:   RiskNone,
		WaterRising:   RiskLow,
		WaterHigh:     RiskHigh,
		WaterCritical: RiskExtreme,
		"flooded":     RiskNone,
	}
	for ws, level := range want {
		if got := ws.RiskLevel(); got != level {
			t.Errorf("%s.RiskLevel() = %s, want %s", ws, got, level)
		}
	}
}

func TestForecastSnapshotShape(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		f    *ForecastSnapshot
		want ForecastShape
	}{
		{"nil", nil, ForecastShapeUnknown},
		{"empty", &ForecastSnapshot{}, ForecastShapeUnknown},
		{"hourly", &ForecastSnapshot{Hourly: []HourlyForecast{{Time: now}}}, ForecastShapeHourly},
		{"periods", &ForecastSnapshot{Periods: []ForecastPeriod{{Name: "Tonight"}}}, ForecastShapePeriods},
		{"both prefers hourly", &ForecastSnapshot{
			Hourly:  []HourlyForecast{{Time: now}},
			Periods: []ForecastPeriod{{Name: "Tonight"}},
		}, ForecastShapeHourly},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.f.Shape(); got != tt.want {
				t.Errorf("Shape() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestLocationMetadataLocation(t *testing.T) {
	if got := (LocationMetadata{}).Location(); got != time.UTC {
		t.Errorf("empty timezone = %v, want UTC", got)
	}
	if got := (LocationMetadata{Timezone: "Not/AZone"}).Location(); got != time.UTC {
		t.Errorf("bad timezone = %v, want UTC", got)
	}
}
