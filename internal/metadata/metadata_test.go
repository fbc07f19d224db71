package metadata

import "testing"

func TestHRP(t *testing.T) {
	tests := []struct{ kind, want string }{
		{"CardanoNodePort", "cardanonode"},
		{"DbSyncPort", "dbsync"},
		{"Indexer", "indexer"},
	}
	for _, tt := range tests {
		if got := HRP(tt.kind); got != tt.want {
			t.Errorf("HRP(%q) = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestRegistry_Lookup(t *testing.T) {
	reg := FromKinds([]Kind{
		{Kind: "CardanoNodePort", Cost: map[string]CostTier{"1": {Minimum: 10, Delta: 0.5}}},
	})

	if _, ok := reg.Lookup("CardanoNodePort"); !ok {
		t.Error("expected CardanoNodePort to be registered")
	}
	if _, ok := reg.Lookup("Unknown"); ok {
		t.Error("expected Unknown to be unregistered")
	}
}

func TestKind_CostForUnits(t *testing.T) {
	k := Kind{Cost: map[string]CostTier{"1": {Minimum: 31, Delta: 0.1}}}

	unitsCost, minCost, hasMin := k.CostForUnits("1", 100, 60*60*24, 31)
	if unitsCost != 10 {
		t.Errorf("unitsCost = %v, want 10", unitsCost)
	}
	if !hasMin {
		t.Error("expected hasMinimum to be true")
	}
	if minCost != 1 {
		t.Errorf("minimumCost = %v, want 1", minCost)
	}

	_, _, hasMin = k.CostForUnits("nonexistent-tier", 1, 1, 31)
	if hasMin {
		t.Error("unknown tier should return hasMinimum=false")
	}
}
