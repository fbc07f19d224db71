package usage

import (
	"testing"

	"github.com/demeter-run/fabric/internal/metadata"
)

func TestApplyCosting(t *testing.T) {
	registry := metadata.FromKinds([]metadata.Kind{
		{
			Kind: "PostgresPort",
			Cost: map[string]metadata.CostTier{
				"1": {Delta: 0.5, Minimum: 10},
			},
		},
	})
	svc := &Service{registry: registry}

	lines := []ReportLine{
		{ResourceKind: "PostgresPort", Tier: "1", Units: 100, IntervalSecs: 86400, Period: "2026-07"},
	}

	svc.applyCosting(lines)

	if lines[0].UnitsCost != 50 {
		t.Errorf("expected units_cost 50, got %v", lines[0].UnitsCost)
	}
	if !lines[0].HasMinimum || lines[0].MinimumCost <= 0 {
		t.Errorf("expected a positive minimum cost, got %v (hasMinimum=%v)", lines[0].MinimumCost, lines[0].HasMinimum)
	}
}

func TestApplyCosting_UnknownKindLeavesCostZero(t *testing.T) {
	svc := &Service{registry: metadata.FromKinds(nil)}

	lines := []ReportLine{
		{ResourceKind: "DoesNotExist", Tier: "1", Units: 10, Period: "2026-07"},
	}

	svc.applyCosting(lines)

	if lines[0].UnitsCost != 0 || lines[0].HasMinimum {
		t.Errorf("expected zero cost for unknown kind, got %+v", lines[0])
	}
}

func TestDaysInPeriod(t *testing.T) {
	if got := daysInPeriod("2026-02"); got != 28 {
		t.Errorf("daysInPeriod(2026-02) = %d, want 28", got)
	}
	if got := daysInPeriod("2026-07"); got != 31 {
		t.Errorf("daysInPeriod(2026-07) = %d, want 31", got)
	}
	if got := daysInPeriod("not-a-period"); got != 30 {
		t.Errorf("daysInPeriod fallback = %d, want 30", got)
	}
}
