package exclusivity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/najeeb2500/agrishare/internal/model"
	"github.com/najeeb2500/agrishare/internal/repository"
)

// --- モック ---

type mockOccupancyRepo struct {
	reserveFn     func(ctx context.Context, participantID, plotID string) (bool, error)
	findPlotForFn func(ctx context.Context, participantID string) (string, error)
	releaseFn     func(ctx context.Context, participantID, plotID string) error
	replaceAllFn  func(ctx context.Context, entries []repository.OccupancyEntry, preserveYoungerThan time.Duration) error
	snapshotFn    func(ctx context.Context) ([]repository.OccupancyEntry, error)
}

func (m *mockOccupancyRepo) Reserve(ctx context.Context, participantID, plotID string) (bool, error) {
	return m.reserveFn(ctx, participantID, plotID)
}
func (m *mockOccupancyRepo) FindPlotFor(ctx context.Context, participantID string) (string, error) {
	if m.findPlotForFn != nil {
		return m.findPlotForFn(ctx, participantID)
	}
	return "", nil
}
func (m *mockOccupancyRepo) Release(ctx context.Context, participantID, plotID string) error {
	if m.releaseFn != nil {
		return m.releaseFn(ctx, participantID, plotID)
	}
	return nil
}
func (m *mockOccupancyRepo) ReplaceAll(ctx context.Context, entries []repository.OccupancyEntry, preserveYoungerThan time.Duration) error {
	if m.replaceAllFn != nil {
		return m.replaceAllFn(ctx, entries, preserveYoungerThan)
	}
	return nil
}
func (m *mockOccupancyRepo) Snapshot(ctx context.Context) ([]repository.OccupancyEntry, error) {
	if m.snapshotFn != nil {
		return m.snapshotFn(ctx)
	}
	return nil, nil
}

type mockPlotRepo struct {
	listActiveAssignmentsFn func(ctx context.Context) ([]*model.Plot, error)
}

func (m *mockPlotRepo) FindByID(ctx context.Context, id string) (*model.Plot, error) {
	return nil, nil
}
func (m *mockPlotRepo) Create(ctx context.Context, plot *model.Plot) error { return nil }
func (m *mockPlotRepo) CommitAssignment(ctx context.Context, plotID string, assignment *model.Assignment) (bool, error) {
	return false, nil
}
func (m *mockPlotRepo) ClearAssignment(ctx context.Context, plotID string) (*model.Assignment, bool, error) {
	return nil, false, nil
}
func (m *mockPlotRepo) UpdateStatusIf(ctx context.Context, plotID string, to model.PlotStatus, from ...model.PlotStatus) (bool, error) {
	return false, nil
}
func (m *mockPlotRepo) Deactivate(ctx context.Context, plotID string, expected model.PlotStatus) (*model.Assignment, bool, error) {
	return nil, false, nil
}
func (m *mockPlotRepo) ListActiveAssignments(ctx context.Context) ([]*model.Plot, error) {
	return m.listActiveAssignmentsFn(ctx)
}
func (m *mockPlotRepo) ListByOwner(ctx context.Context, ownerID string) ([]*model.Plot, error) {
	return nil, nil
}

type mockCollector struct {
	conflicts int
	rebuilds  int
	entries   int
	drift     int
}

func (m *mockCollector) RecordAllocationSuccess()              {}
func (m *mockCollector) RecordAllocationFailure(reason string) {}
func (m *mockCollector) RecordReservationConflict()            { m.conflicts++ }
func (m *mockCollector) RecordRelease()                        {}
func (m *mockCollector) RecordRequestDecision(decision string) {}
func (m *mockCollector) RecordCommitLatency(d time.Duration)   {}
func (m *mockCollector) RecordIndexRebuild(entries int)        { m.rebuilds++; m.entries = entries }
func (m *mockCollector) RecordIndexDrift(count int)            { m.drift += count }

// --- テスト ---

// TestReserveGroup_AllSucceed は全員の予約が成立することを検証する。
func TestReserveGroup_AllSucceed(t *testing.T) {
	reserved := make(map[string]string)
	occ := &mockOccupancyRepo{
		reserveFn: func(ctx context.Context, participantID, plotID string) (bool, error) {
			if _, ok := reserved[participantID]; ok {
				return false, nil
			}
			reserved[participantID] = plotID
			return true, nil
		},
	}
	idx := NewIndex(occ, &mockPlotRepo{}, &mockCollector{})

	err := idx.ReserveGroup(context.Background(), "plot-1", []string{"g1", "g2", "v1"})
	if err != nil {
		t.Fatalf("ReserveGroup() error = %v", err)
	}

	if len(reserved) != 3 {
		t.Errorf("reserved entries = %d, want 3", len(reserved))
	}
	for _, pid := range []string{"g1", "g2", "v1"} {
		if reserved[pid] != "plot-1" {
			t.Errorf("reserved[%q] = %q, want %q", pid, reserved[pid], "plot-1")
		}
	}
}

// TestReserveGroup_ConflictRollsBack は途中競合で登録済みエントリが全解放されることを検証する。
func TestReserveGroup_ConflictRollsBack(t *testing.T) {
	reserved := map[string]string{"g2": "plot-other"}
	collector := &mockCollector{}
	occ := &mockOccupancyRepo{
		reserveFn: func(ctx context.Context, participantID, plotID string) (bool, error) {
			if _, ok := reserved[participantID]; ok {
				return false, nil
			}
			reserved[participantID] = plotID
			return true, nil
		},
		releaseFn: func(ctx context.Context, participantID, plotID string) error {
			if reserved[participantID] == plotID {
				delete(reserved, participantID)
			}
			return nil
		},
		findPlotForFn: func(ctx context.Context, participantID string) (string, error) {
			return reserved[participantID], nil
		},
	}
	idx := NewIndex(occ, &mockPlotRepo{}, collector)

	err := idx.ReserveGroup(context.Background(), "plot-1", []string{"g1", "g2", "g3"})
	if err == nil {
		t.Fatal("expected conflict error")
	}

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.Code != model.ErrCodeAlreadyAllocated {
		t.Errorf("apiErr.Code = %q, want %q", apiErr.Code, model.ErrCodeAlreadyAllocated)
	}
	if apiErr.ParticipantID != "g2" {
		t.Errorf("apiErr.ParticipantID = %q, want %q", apiErr.ParticipantID, "g2")
	}
	if apiErr.PlotID != "plot-other" {
		t.Errorf("apiErr.PlotID = %q, want %q", apiErr.PlotID, "plot-other")
	}

	// g1の予約がロールバックされ、元のg2エントリだけが残る
	if len(reserved) != 1 {
		t.Errorf("reserved entries = %d, want 1", len(reserved))
	}
	if reserved["g2"] != "plot-other" {
		t.Errorf("pre-existing entry mutated: %q", reserved["g2"])
	}
	if collector.conflicts != 1 {
		t.Errorf("conflicts recorded = %d, want 1", collector.conflicts)
	}
}

// TestReserveGroup_StorageErrorRollsBack はストレージ障害時も登録済みエントリが解放されることを検証する。
func TestReserveGroup_StorageErrorRollsBack(t *testing.T) {
	reserved := make(map[string]string)
	occ := &mockOccupancyRepo{
		reserveFn: func(ctx context.Context, participantID, plotID string) (bool, error) {
			if participantID == "g2" {
				return false, errors.New("db down")
			}
			reserved[participantID] = plotID
			return true, nil
		},
		releaseFn: func(ctx context.Context, participantID, plotID string) error {
			delete(reserved, participantID)
			return nil
		},
	}
	idx := NewIndex(occ, &mockPlotRepo{}, &mockCollector{})

	err := idx.ReserveGroup(context.Background(), "plot-1", []string{"g1", "g2"})
	if err == nil {
		t.Fatal("expected storage error")
	}

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.Code != model.ErrCodeStorageFailure {
		t.Errorf("apiErr.Code = %q, want %q", apiErr.Code, model.ErrCodeStorageFailure)
	}
	if len(reserved) != 0 {
		t.Errorf("reserved entries = %d, want 0 after rollback", len(reserved))
	}
}

// TestIsOccupied は占有状態の問い合わせを検証する。
func TestIsOccupied(t *testing.T) {
	occ := &mockOccupancyRepo{
		findPlotForFn: func(ctx context.Context, participantID string) (string, error) {
			if participantID == "busy" {
				return "plot-9", nil
			}
			return "", nil
		},
	}
	idx := NewIndex(occ, &mockPlotRepo{}, &mockCollector{})

	plotID, err := idx.IsOccupied(context.Background(), "busy")
	if err != nil {
		t.Fatalf("IsOccupied() error = %v", err)
	}
	if plotID != "plot-9" {
		t.Errorf("plotID = %q, want %q", plotID, "plot-9")
	}

	plotID, err = idx.IsOccupied(context.Background(), "free")
	if err != nil {
		t.Fatalf("IsOccupied() error = %v", err)
	}
	if plotID != "" {
		t.Errorf("plotID = %q, want empty", plotID)
	}
}

// TestReleaseGroup_Idempotent はplot不一致のエントリに触れないことを検証する。
func TestReleaseGroup_Idempotent(t *testing.T) {
	reserved := map[string]string{"g1": "plot-1", "g2": "plot-other"}
	occ := &mockOccupancyRepo{
		releaseFn: func(ctx context.Context, participantID, plotID string) error {
			if reserved[participantID] == plotID {
				delete(reserved, participantID)
			}
			return nil
		},
	}
	idx := NewIndex(occ, &mockPlotRepo{}, &mockCollector{})

	if err := idx.ReleaseGroup(context.Background(), "plot-1", []string{"g1", "g2"}); err != nil {
		t.Fatalf("ReleaseGroup() error = %v", err)
	}

	if _, ok := reserved["g1"]; ok {
		t.Error("g1 should be released")
	}
	if reserved["g2"] != "plot-other" {
		t.Error("g2 entry for another plot should be untouched")
	}
}

// TestRebuild_ReplacesIndexFromAssignments は区画割り当てからインデックスが再構築されることを検証する。
func TestRebuild_ReplacesIndexFromAssignments(t *testing.T) {
	var replaced []repository.OccupancyEntry
	var preserve time.Duration
	collector := &mockCollector{}
	occ := &mockOccupancyRepo{
		reserveFn: func(ctx context.Context, participantID, plotID string) (bool, error) {
			return true, nil
		},
		replaceAllFn: func(ctx context.Context, entries []repository.OccupancyEntry, preserveYoungerThan time.Duration) error {
			replaced = entries
			preserve = preserveYoungerThan
			return nil
		},
	}
	plotRepo := &mockPlotRepo{
		listActiveAssignmentsFn: func(ctx context.Context) ([]*model.Plot, error) {
			return []*model.Plot{
				{
					ID:     "plot-1",
					Status: model.PlotStatusAllocated,
					Assignment: &model.Assignment{
						PrimaryGardenerID:     "g1",
						AdditionalGardenerIDs: []string{"g2"},
						VolunteerID:           "v1",
					},
				},
				{
					ID:     "plot-2",
					Status: model.PlotStatusCultivated,
					Assignment: &model.Assignment{
						PrimaryGardenerID: "g3",
					},
				},
			}, nil
		},
	}
	idx := NewIndex(occ, plotRepo, collector)

	n, err := idx.Rebuild(context.Background())
	if err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}

	if n != 4 {
		t.Errorf("rebuilt entries = %d, want 4", n)
	}
	if len(replaced) != 4 {
		t.Fatalf("replaced entries = %d, want 4", len(replaced))
	}
	if replaced[0].ParticipantID != "g1" || replaced[0].PlotID != "plot-1" {
		t.Errorf("first entry = %+v, want g1/plot-1", replaced[0])
	}
	if collector.rebuilds != 1 || collector.entries != 4 {
		t.Errorf("rebuild metrics = (%d, %d), want (1, 4)", collector.rebuilds, collector.entries)
	}
	// 進行中の予約を守る猶予時間が指定されていること
	if preserve != reservationGrace {
		t.Errorf("preserveYoungerThan = %v, want %v", preserve, reservationGrace)
	}
}

// TestVerify_DetectsDrift はインデックスと区画レコードの乖離が検出されることを検証する。
func TestVerify_DetectsDrift(t *testing.T) {
	collector := &mockCollector{}
	occ := &mockOccupancyRepo{
		reserveFn: func(ctx context.Context, participantID, plotID string) (bool, error) {
			return true, nil
		},
		snapshotFn: func(ctx context.Context) ([]repository.OccupancyEntry, error) {
			old := time.Now().Add(-time.Hour)
			return []repository.OccupancyEntry{
				{ParticipantID: "g1", PlotID: "plot-1", ReservedAt: old},    // 一致
				{ParticipantID: "stale", PlotID: "plot-gone", ReservedAt: old}, // 余剰エントリ
				{ParticipantID: "g2", PlotID: "plot-9", ReservedAt: old},    // 占有先不一致
			}, nil
		},
	}
	plotRepo := &mockPlotRepo{
		listActiveAssignmentsFn: func(ctx context.Context) ([]*model.Plot, error) {
			return []*model.Plot{
				{
					ID:     "plot-1",
					Status: model.PlotStatusAllocated,
					Assignment: &model.Assignment{
						PrimaryGardenerID:     "g1",
						AdditionalGardenerIDs: []string{"g2"},
						ExpertID:              "e1", // 欠落エントリ
					},
				},
			}, nil
		},
	}
	idx := NewIndex(occ, plotRepo, collector)

	drift, err := idx.Verify(context.Background())
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	// stale(余剰) + g2(不一致) + e1(欠落) = 3
	if drift != 3 {
		t.Errorf("drift = %d, want 3", drift)
	}
	if collector.drift != 3 {
		t.Errorf("drift metric = %d, want 3", collector.drift)
	}
}

// TestVerify_YoungReservationNotDrift は確定前の予約が乖離に数えられないことを検証する。
// ReserveGroupとCommitAssignmentの間にあるエントリは区画側にまだ現れないため、
// 猶予時間内の余剰エントリを乖離とみなすと進行中の割り当ての排他が再構築で消える。
func TestVerify_YoungReservationNotDrift(t *testing.T) {
	collector := &mockCollector{}
	occ := &mockOccupancyRepo{
		snapshotFn: func(ctx context.Context) ([]repository.OccupancyEntry, error) {
			return []repository.OccupancyEntry{
				{ParticipantID: "g1", PlotID: "plot-1", ReservedAt: time.Now().Add(-time.Hour)},
				// 割り当て確定前の予約（登録直後）
				{ParticipantID: "g2", PlotID: "plot-2", ReservedAt: time.Now()},
			}, nil
		},
	}
	plotRepo := &mockPlotRepo{
		listActiveAssignmentsFn: func(ctx context.Context) ([]*model.Plot, error) {
			return []*model.Plot{
				{
					ID:         "plot-1",
					Status:     model.PlotStatusAllocated,
					Assignment: &model.Assignment{PrimaryGardenerID: "g1"},
				},
			}, nil
		},
	}
	idx := NewIndex(occ, plotRepo, collector)

	drift, err := idx.Verify(context.Background())
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if drift != 0 {
		t.Errorf("drift = %d, want 0 (young reservation must not count)", drift)
	}
	if collector.drift != 0 {
		t.Errorf("drift metric = %d, want 0", collector.drift)
	}
}

// TestVerify_NoDrift は一致している場合に乖離0を返すことを検証する。
func TestVerify_NoDrift(t *testing.T) {
	collector := &mockCollector{}
	occ := &mockOccupancyRepo{
		reserveFn: func(ctx context.Context, participantID, plotID string) (bool, error) {
			return true, nil
		},
		snapshotFn: func(ctx context.Context) ([]repository.OccupancyEntry, error) {
			return []repository.OccupancyEntry{
				{ParticipantID: "g1", PlotID: "plot-1", ReservedAt: time.Now().Add(-time.Hour)},
			}, nil
		},
	}
	plotRepo := &mockPlotRepo{
		listActiveAssignmentsFn: func(ctx context.Context) ([]*model.Plot, error) {
			return []*model.Plot{
				{
					ID:         "plot-1",
					Status:     model.PlotStatusAllocated,
					Assignment: &model.Assignment{PrimaryGardenerID: "g1"},
				},
			}, nil
		},
	}
	idx := NewIndex(occ, plotRepo, collector)

	drift, err := idx.Verify(context.Background())
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if drift != 0 {
		t.Errorf("drift = %d, want 0", drift)
	}
	if collector.drift != 0 {
		t.Errorf("drift metric = %d, want 0", collector.drift)
	}
}
