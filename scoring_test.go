package substrate

import (
	"math"
	"testing"
)

func TestCompositeRelevanceDefaultAlpha(t *testing.T) {
	score := compositeRelevance(1.0, 0.0, 0.7)
	expected := 0.7
	if math.Abs(score-expected) > 0.001 {
		t.Errorf("expected %.3f, got %.3f", expected, score)
	}
}

func TestCompositeRelevanceActivationFloor(t *testing.T) {
	score := compositeRelevance(0, 1.0, 0.7)
	expected := 0.3
	if math.Abs(score-expected) > 0.001 {
		t.Errorf("expected %.3f, got %.3f", expected, score)
	}
}

func TestDecayActivationHalfLife(t *testing.T) {
	got := decayActivation(1.0, activationHalfLife)
	if math.Abs(got-0.5) > 0.01 {
		t.Errorf("expected ~0.5 after one half-life, got %v", got)
	}
}

func TestDecayAssociationWeightNeverNegative(t *testing.T) {
	got := decayAssociationWeight(0.01, 10*associationHalfLife)
	if got < 0 {
		t.Errorf("decayed weight must not go negative, got %v", got)
	}
}

func TestClamp01Bounds(t *testing.T) {
	if clamp01(-1) != 0 {
		t.Error("expected clamp01(-1) == 0")
	}
	if clamp01(2) != 1 {
		t.Error("expected clamp01(2) == 1")
	}
	if clamp01(0.5) != 0.5 {
		t.Error("expected clamp01(0.5) == 0.5")
	}
}
