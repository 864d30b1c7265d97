package lifecycle

import (
	"errors"
	"testing"

	"github.com/najeeb2500/agrishare/internal/model"
)

// 許可される遷移が受理されることを検証
func TestCanTransition_Allowed(t *testing.T) {
	tests := []struct {
		name string
		from model.PlotStatus
		to   model.PlotStatus
	}{
		{"available to allocated", model.PlotStatusAvailable, model.PlotStatusAllocated},
		{"allocated to cultivated", model.PlotStatusAllocated, model.PlotStatusCultivated},
		{"allocated to available", model.PlotStatusAllocated, model.PlotStatusAvailable},
		{"cultivated to available", model.PlotStatusCultivated, model.PlotStatusAvailable},
		{"available to maintenance", model.PlotStatusAvailable, model.PlotStatusMaintenance},
		{"available to unavailable", model.PlotStatusAvailable, model.PlotStatusUnavailable},
		{"maintenance to available", model.PlotStatusMaintenance, model.PlotStatusAvailable},
		{"unavailable to maintenance", model.PlotStatusUnavailable, model.PlotStatusMaintenance},
		{"available to cancelled", model.PlotStatusAvailable, model.PlotStatusCancelled},
		{"allocated to cancelled", model.PlotStatusAllocated, model.PlotStatusCancelled},
		{"cultivated to cancelled", model.PlotStatusCultivated, model.PlotStatusCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !CanTransition(tt.from, tt.to) {
				t.Errorf("CanTransition(%q, %q) = false, want true", tt.from, tt.to)
			}
		})
	}
}

// 許可されない遷移が拒否されることを検証
func TestCanTransition_Rejected(t *testing.T) {
	tests := []struct {
		name string
		from model.PlotStatus
		to   model.PlotStatus
	}{
		{"available to cultivated", model.PlotStatusAvailable, model.PlotStatusCultivated},
		{"cultivated to allocated", model.PlotStatusCultivated, model.PlotStatusAllocated},
		{"allocated to maintenance", model.PlotStatusAllocated, model.PlotStatusMaintenance},
		{"cultivated to unavailable", model.PlotStatusCultivated, model.PlotStatusUnavailable},
		{"cancelled to available", model.PlotStatusCancelled, model.PlotStatusAvailable},
		{"cancelled to cancelled", model.PlotStatusCancelled, model.PlotStatusCancelled},
		{"maintenance to allocated", model.PlotStatusMaintenance, model.PlotStatusAllocated},
		{"unknown status", model.PlotStatus("unknown"), model.PlotStatusAvailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if CanTransition(tt.from, tt.to) {
				t.Errorf("CanTransition(%q, %q) = true, want false", tt.from, tt.to)
			}
		})
	}
}

// Transitionが遷移後のコピーを返し元を変更しないことを検証
func TestTransition_ReturnsCopy(t *testing.T) {
	plot := &model.Plot{
		ID:     "plot-1",
		Status: model.PlotStatusAvailable,
	}

	next, err := Transition(plot, model.PlotStatusAllocated)
	if err != nil {
		t.Fatalf("Transition() error = %v", err)
	}

	if next.Status != model.PlotStatusAllocated {
		t.Errorf("next.Status = %q, want %q", next.Status, model.PlotStatusAllocated)
	}
	if plot.Status != model.PlotStatusAvailable {
		t.Errorf("original plot mutated: Status = %q, want %q", plot.Status, model.PlotStatusAvailable)
	}
}

// 不正な遷移がINVALID_TRANSITIONエラーになることを検証
func TestTransition_InvalidTransition(t *testing.T) {
	plot := &model.Plot{
		ID:     "plot-1",
		Status: model.PlotStatusCancelled,
	}

	_, err := Transition(plot, model.PlotStatusAvailable)
	if err == nil {
		t.Fatal("expected error for cancelled to available")
	}

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.Code != model.ErrCodeInvalidTransition {
		t.Errorf("apiErr.Code = %q, want %q", apiErr.Code, model.ErrCodeInvalidTransition)
	}
	if apiErr.PlotID != "plot-1" {
		t.Errorf("apiErr.PlotID = %q, want %q", apiErr.PlotID, "plot-1")
	}
}

// ReleasableFromが割り当て保持ステータスのみ真になることを検証
func TestReleasableFrom(t *testing.T) {
	if !ReleasableFrom(model.PlotStatusAllocated) {
		t.Error("allocated should be releasable")
	}
	if !ReleasableFrom(model.PlotStatusCultivated) {
		t.Error("cultivated should be releasable")
	}
	if ReleasableFrom(model.PlotStatusAvailable) {
		t.Error("available should not be releasable")
	}
	if ReleasableFrom(model.PlotStatusCancelled) {
		t.Error("cancelled should not be releasable")
	}
}
