package model

import (
	"math"
	"testing"
)

func TestNewInt32BoundsChecked(t *testing.T) {
	if _, err := NewInt32(math.MaxInt32); err != nil {
		t.Errorf("expected MaxInt32 to be accepted, got %v", err)
	}
	if _, err := NewInt32(math.MaxInt32 + 1); err == nil {
		t.Error("expected MaxInt32+1 to be rejected")
	}
	if _, err := NewInt32(math.MinInt32 - 1); err == nil {
		t.Error("expected MinInt32-1 to be rejected")
	}
}

func TestNewFloat64RejectsNonFinite(t *testing.T) {
	if _, err := NewFloat64(math.NaN()); err == nil {
		t.Error("expected NaN to be rejected")
	}
	if _, err := NewFloat64(math.Inf(1)); err == nil {
		t.Error("expected +Inf to be rejected")
	}
	if _, err := NewFloat64(1.5); err != nil {
		t.Errorf("expected finite float to be accepted, got %v", err)
	}
}

func TestNewVectorRejectsNonFinite(t *testing.T) {
	if _, err := NewVector([]float64{1, 2, math.NaN()}); err == nil {
		t.Error("expected vector with NaN component to be rejected")
	}
	v, err := NewVector([]float64{1, 2, 3})
	if err != nil {
		t.Fatalf("expected finite vector to be accepted, got %v", err)
	}
	if len(v.Vector()) != 3 {
		t.Errorf("expected 3 components, got %d", len(v.Vector()))
	}
}

func TestNewDurationGrammar(t *testing.T) {
	valid := []string{"P1Y", "P1Y2M3W4D", "PT1H", "PT1H30M", "P1DT1H", "PT0.5S"}
	for _, d := range valid {
		if _, err := NewDuration(d); err != nil {
			t.Errorf("expected %q to be a valid duration, got %v", d, err)
		}
	}
	invalid := []string{"", "P", "1Y", "PXY", "P1Z"}
	for _, d := range invalid {
		if _, err := NewDuration(d); err == nil {
			t.Errorf("expected %q to be rejected", d)
		}
	}
}

func TestValueEqual(t *testing.T) {
	a := NewString("hello")
	b := NewString("hello")
	c := NewString("world")
	if !a.Equal(b) {
		t.Error("expected equal strings to compare equal")
	}
	if a.Equal(c) {
		t.Error("expected different strings to compare unequal")
	}

	va, _ := NewVector([]float64{1, 2, 3})
	vb, _ := NewVector([]float64{1, 2, 3})
	if !va.Equal(vb) {
		t.Error("expected equal vectors to compare equal")
	}
}

func TestValueAccessorPanicsOnWrongTag(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic accessing Bool() on a STRING value")
		}
	}()
	NewString("x").Bool()
}
