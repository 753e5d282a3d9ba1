package schedule

import (
	"errors"
	"testing"

	"github.com/rotalabs/rota/types"
)

// makeSnapshot builds a snapshot effective from slot 1 with the given
// authorities.
func makeSnapshot(authorities ...types.Authority) types.AuthoritySnapshot {
	return types.AuthoritySnapshot{
		EffectiveFrom: 1,
		Authorities:   authorities,
	}
}

func authority(id string, weight uint64, active bool) types.Authority {
	return types.Authority{
		Identifier: id,
		Secret:     []byte("secret-" + id),
		Weight:     weight,
		Active:     active,
	}
}

func TestLeaderForSlot_SlotZero(t *testing.T) {
	snap := makeSnapshot(authority("alpha", 1, true))

	_, err := LeaderForSlot(snap, 0)
	if !errors.Is(err, ErrInvalidSlot) {
		t.Errorf("LeaderForSlot(0) error = %v, want ErrInvalidSlot", err)
	}
}

func TestLeaderForSlot_NoActiveAuthorities(t *testing.T) {
	tests := []struct {
		name string
		snap types.AuthoritySnapshot
	}{
		{"empty snapshot", makeSnapshot()},
		{"all inactive", makeSnapshot(authority("alpha", 1, false), authority("beta", 2, false))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LeaderForSlot(tt.snap, 1)
			if !errors.Is(err, ErrNoActiveAuthorities) {
				t.Errorf("LeaderForSlot error = %v, want ErrNoActiveAuthorities", err)
			}
		})
	}
}

func TestLeaderForSlot_WeightedRotation(t *testing.T) {
	// Weights {alpha: 2, beta: 1} give a cycle of 3 slots: alpha twice,
	// then beta once.
	snap := makeSnapshot(authority("alpha", 2, true), authority("beta", 1, true))

	tests := []struct {
		slot types.Slot
		want string
	}{
		{1, "alpha"},
		{2, "alpha"},
		{3, "beta"},
		{4, "alpha"},
		{5, "alpha"},
		{6, "beta"},
		{7, "alpha"},
	}

	for _, tt := range tests {
		leader, err := LeaderForSlot(snap, tt.slot)
		if err != nil {
			t.Fatalf("LeaderForSlot(%d): %v", tt.slot, err)
		}
		if leader.Identifier != tt.want {
			t.Errorf("LeaderForSlot(%d) = %q, want %q", tt.slot, leader.Identifier, tt.want)
		}
	}
}

func TestLeaderForSlot_IdentifierOrder(t *testing.T) {
	// Declaration order must not matter: the rotation follows identifier
	// order.
	forward := makeSnapshot(authority("alpha", 1, true), authority("beta", 1, true), authority("gamma", 1, true))
	reversed := makeSnapshot(authority("gamma", 1, true), authority("beta", 1, true), authority("alpha", 1, true))

	for slot := types.Slot(1); slot <= 9; slot++ {
		a, err := LeaderForSlot(forward, slot)
		if err != nil {
			t.Fatalf("LeaderForSlot(%d) forward: %v", slot, err)
		}
		b, err := LeaderForSlot(reversed, slot)
		if err != nil {
			t.Fatalf("LeaderForSlot(%d) reversed: %v", slot, err)
		}
		if a.Identifier != b.Identifier {
			t.Errorf("slot %d: forward leader %q, reversed leader %q", slot, a.Identifier, b.Identifier)
		}
	}

	first, err := LeaderForSlot(reversed, 1)
	if err != nil {
		t.Fatalf("LeaderForSlot(1): %v", err)
	}
	if first.Identifier != "alpha" {
		t.Errorf("slot 1 leader = %q, want %q", first.Identifier, "alpha")
	}
}

func TestLeaderForSlot_SkipsInactive(t *testing.T) {
	snap := makeSnapshot(
		authority("alpha", 2, false),
		authority("beta", 1, true),
		authority("gamma", 1, true),
	)

	tests := []struct {
		slot types.Slot
		want string
	}{
		{1, "beta"},
		{2, "gamma"},
		{3, "beta"},
		{4, "gamma"},
	}

	for _, tt := range tests {
		leader, err := LeaderForSlot(snap, tt.slot)
		if err != nil {
			t.Fatalf("LeaderForSlot(%d): %v", tt.slot, err)
		}
		if leader.Identifier != tt.want {
			t.Errorf("LeaderForSlot(%d) = %q, want %q", tt.slot, leader.Identifier, tt.want)
		}
	}
}

// Repeated calls with identical inputs must return the identical leader.
func TestLeaderForSlot_Deterministic(t *testing.T) {
	snap := makeSnapshot(authority("alpha", 3, true), authority("beta", 2, true), authority("gamma", 5, true))

	for slot := types.Slot(1); slot <= 30; slot++ {
		first, err := LeaderForSlot(snap, slot)
		if err != nil {
			t.Fatalf("LeaderForSlot(%d): %v", slot, err)
		}
		for i := 0; i < 10; i++ {
			again, err := LeaderForSlot(snap, slot)
			if err != nil {
				t.Fatalf("LeaderForSlot(%d) repeat: %v", slot, err)
			}
			if again.Identifier != first.Identifier {
				t.Fatalf("slot %d: leader changed from %q to %q between calls", slot, first.Identifier, again.Identifier)
			}
		}
	}
}

// Over whole rotation cycles, each authority must lead in exact proportion
// to its weight.
func TestLeaderForSlot_WeightFrequency(t *testing.T) {
	weights := map[string]uint64{"alpha": 3, "beta": 1, "gamma": 2}
	snap := makeSnapshot(
		authority("alpha", weights["alpha"], true),
		authority("beta", weights["beta"], true),
		authority("gamma", weights["gamma"], true),
	)

	total := TotalActiveWeight(snap)
	if total != 6 {
		t.Fatalf("TotalActiveWeight = %d, want 6", total)
	}

	const cycles = 100
	counts := make(map[string]uint64)
	for slot := types.Slot(1); slot <= types.Slot(total*cycles); slot++ {
		leader, err := LeaderForSlot(snap, slot)
		if err != nil {
			t.Fatalf("LeaderForSlot(%d): %v", slot, err)
		}
		counts[leader.Identifier]++
	}

	for id, weight := range weights {
		want := weight * cycles
		if counts[id] != want {
			t.Errorf("authority %q led %d slots, want %d", id, counts[id], want)
		}
	}
}

func TestLeaderForSlot_ReturnsCopy(t *testing.T) {
	snap := makeSnapshot(authority("alpha", 1, true))

	leader, err := LeaderForSlot(snap, 1)
	if err != nil {
		t.Fatalf("LeaderForSlot: %v", err)
	}

	leader.Secret[0] = 'X'
	if snap.Authorities[0].Secret[0] == 'X' {
		t.Error("mutating the returned leader must not touch the snapshot")
	}
}

func TestTotalActiveWeight(t *testing.T) {
	tests := []struct {
		name string
		snap types.AuthoritySnapshot
		want uint64
	}{
		{"empty", makeSnapshot(), 0},
		{"single", makeSnapshot(authority("alpha", 4, true)), 4},
		{"mixed active and inactive", makeSnapshot(authority("alpha", 4, true), authority("beta", 3, false), authority("gamma", 2, true)), 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TotalActiveWeight(tt.snap); got != tt.want {
				t.Errorf("TotalActiveWeight = %d, want %d", got, tt.want)
			}
		})
	}
}
