package repository

import (
	"database/sql"
	"testing"
	"time"

	"github.com/najeeb2500/agrishare/internal/model"
)

// PostgresPlotRepoはPlotRepositoryインターフェースを満たすことを検証
func TestPostgresPlotRepo_ImplementsInterface(t *testing.T) {
	var _ PlotRepository = (*PostgresPlotRepo)(nil)
}

// NewPostgresPlotRepoが正しく初期化されることを検証
func TestNewPostgresPlotRepo_Initializes(t *testing.T) {
	repo := NewPostgresPlotRepo(nil)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
}

// Plotモデルのフィールドが正しく構築されることを検証
func TestPostgresPlotRepo_PlotModel_Fields(t *testing.T) {
	now := time.Now()
	plot := &model.Plot{
		ID:       "plot-id-1",
		OwnerID:  "owner-id-1",
		Name:     "北側の畑",
		Address:  "東京都世田谷区1-2-3",
		SizeSqm:  25.5,
		SoilType: "loam",
		Status:   model.PlotStatusAvailable,
		IsActive: true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if plot.ID != "plot-id-1" {
		t.Errorf("plot.ID = %q, want %q", plot.ID, "plot-id-1")
	}
	if plot.Status != model.PlotStatusAvailable {
		t.Errorf("plot.Status = %q, want %q", plot.Status, model.PlotStatusAvailable)
	}
	if plot.Assignment != nil {
		t.Error("assignment should be nil by default")
	}
}

// nullStringが空文字列をNULLに変換することを検証
func TestNullString(t *testing.T) {
	ns := nullString("")
	if ns.Valid {
		t.Error("empty string should produce invalid NullString")
	}

	ns = nullString("value")
	if !ns.Valid || ns.String != "value" {
		t.Errorf("nullString(%q) = %+v, want valid %q", "value", ns, "value")
	}
}

// nullStringValueがNULLを空文字列に変換することを検証
func TestNullStringValue(t *testing.T) {
	if got := nullStringValue(sql.NullString{}); got != "" {
		t.Errorf("nullStringValue(invalid) = %q, want empty", got)
	}
	if got := nullStringValue(sql.NullString{String: "value", Valid: true}); got != "value" {
		t.Errorf("nullStringValue(valid) = %q, want %q", got, "value")
	}
}

// AssignmentのParticipantIDsが主要耕作者から順に並ぶことを検証
func TestAssignment_ParticipantIDs_Order(t *testing.T) {
	a := &model.Assignment{
		PrimaryGardenerID:     "g1",
		AdditionalGardenerIDs: []string{"g2", "g3"},
		VolunteerID:           "v1",
		ExpertID:              "e1",
	}

	got := a.ParticipantIDs()
	want := []string{"g1", "g2", "g3", "v1", "e1"}
	if len(got) != len(want) {
		t.Fatalf("len(ParticipantIDs()) = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ParticipantIDs()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
