// Package exclusivity は参加者の二重割り当てを防ぐ占有インデックスを提供する。
// インデックスはキャッシュであり真実の源泉ではない。区画レコードとの乖離が
// 検出された場合は必ず区画側から再構築する。
package exclusivity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/najeeb2500/agrishare/internal/metrics"
	"github.com/najeeb2500/agrishare/internal/model"
	"github.com/najeeb2500/agrishare/internal/repository"
)

// reservationGrace は予約から割り当て確定までの猶予時間。
// この時間内の余剰エントリは進行中のAllocateの予約とみなし、
// Verifyは乖離に数えず、Rebuildも削除しない。
const reservationGrace = time.Minute

// Index は参加者→占有区画の対応を管理するコンポーネント。
// Reserveの原子性はplot_occupantsテーブルのPRIMARY KEY制約に委ねる。
type Index struct {
	occupancy repository.OccupancyRepository
	plotRepo  repository.PlotRepository
	collector metrics.MetricsCollector
}

// NewIndex はIndexの新しいインスタンスを生成する。
func NewIndex(
	occupancy repository.OccupancyRepository,
	plotRepo repository.PlotRepository,
	collector metrics.MetricsCollector,
) *Index {
	return &Index{
		occupancy: occupancy,
		plotRepo:  plotRepo,
		collector: collector,
	}
}

// IsOccupied は参加者が現在占有している区画のIDを返す。
// 占有していない場合は空文字列を返す。
func (idx *Index) IsOccupied(ctx context.Context, participantID string) (string, error) {
	plotID, err := idx.occupancy.FindPlotFor(ctx, participantID)
	if err != nil {
		return "", fmt.Errorf("占有状態の取得に失敗しました: %w", err)
	}
	return plotID, nil
}

// ReserveGroup は参加者グループ全員の占有エントリを登録する。
// 全員分の登録が成立しない限り、1件も登録されない。
// 途中で競合が発生した場合、この呼び出しで登録済みのエントリをすべて
// 解放してからALREADY_ALLOCATEDエラーを返す。グループの一部だけが
// 占有扱いになると区画側の不変条件が壊れるため、中途半端な状態を残さない。
func (idx *Index) ReserveGroup(ctx context.Context, plotID string, participantIDs []string) error {
	reserved := make([]string, 0, len(participantIDs))

	for _, pid := range participantIDs {
		ok, err := idx.occupancy.Reserve(ctx, pid, plotID)
		if err != nil {
			idx.rollback(ctx, plotID, reserved)
			return model.NewStorageFailureError(err)
		}
		if !ok {
			idx.rollback(ctx, plotID, reserved)
			idx.collector.RecordReservationConflict()

			// 競合相手の現在の占有先は説明用であり、取得失敗しても裁定は変わらない
			conflictPlot, findErr := idx.occupancy.FindPlotFor(ctx, pid)
			if findErr != nil {
				slog.Warn("競合先区画の取得エラー", "participantID", pid, "error", findErr)
			}
			return model.NewAlreadyAllocatedError(pid, conflictPlot)
		}
		reserved = append(reserved, pid)
	}

	return nil
}

// ReleaseGroup は参加者グループ全員の占有エントリを解放する。
// 冪等であり、plotIDと一致しないエントリには触れない。
// 一部の解放に失敗しても残りの解放を続行し、最後のエラーを返す。
func (idx *Index) ReleaseGroup(ctx context.Context, plotID string, participantIDs []string) error {
	var lastErr error
	for _, pid := range participantIDs {
		if err := idx.occupancy.Release(ctx, pid, plotID); err != nil {
			slog.Error("占有エントリ解放エラー", "participantID", pid, "plotID", plotID, "error", err)
			lastErr = err
		}
	}
	if lastErr != nil {
		return fmt.Errorf("占有エントリの解放に失敗しました: %w", lastErr)
	}
	return nil
}

// Rebuild は有効な区画の割り当てからインデックス全体を再構築する。
// 起動時および乖離検出時に使用する。再構築後のエントリ数を返す。
func (idx *Index) Rebuild(ctx context.Context) (int, error) {
	plots, err := idx.plotRepo.ListActiveAssignments(ctx)
	if err != nil {
		return 0, fmt.Errorf("割り当て一覧の取得に失敗しました: %w", err)
	}

	entries := expectedEntries(plots)
	if err := idx.occupancy.ReplaceAll(ctx, entries, reservationGrace); err != nil {
		return 0, fmt.Errorf("占有インデックスの再構築に失敗しました: %w", err)
	}

	idx.collector.RecordIndexRebuild(len(entries))
	slog.Info("占有インデックスを再構築しました", "entries", len(entries), "plots", len(plots))
	return len(entries), nil
}

// Verify はインデックスと区画レコードの乖離エントリ数を返す。
// 乖離には余剰エントリ、欠落エントリ、占有先不一致を含む。
// ただし登録からreservationGrace未満の余剰・不一致エントリは
// 進行中のAllocateの予約とみなし、乖離に数えない。
func (idx *Index) Verify(ctx context.Context) (int, error) {
	snapshot, err := idx.occupancy.Snapshot(ctx)
	if err != nil {
		return 0, fmt.Errorf("占有インデックスの取得に失敗しました: %w", err)
	}

	plots, err := idx.plotRepo.ListActiveAssignments(ctx)
	if err != nil {
		return 0, fmt.Errorf("割り当て一覧の取得に失敗しました: %w", err)
	}

	expected := make(map[string]string)
	for _, e := range expectedEntries(plots) {
		expected[e.ParticipantID] = e.PlotID
	}

	now := time.Now()
	drift := 0
	indexed := make(map[string]bool, len(snapshot))
	for _, e := range snapshot {
		indexed[e.ParticipantID] = true
		if expected[e.ParticipantID] != e.PlotID && now.Sub(e.ReservedAt) >= reservationGrace {
			drift++
		}
	}
	for pid := range expected {
		if !indexed[pid] {
			drift++
		}
	}

	if drift > 0 {
		idx.collector.RecordIndexDrift(drift)
		slog.Warn("占有インデックスの乖離を検出しました", "entries", drift)
	}
	return drift, nil
}

// rollback はこの呼び出しで登録済みのエントリを解放する。
func (idx *Index) rollback(ctx context.Context, plotID string, reserved []string) {
	for _, pid := range reserved {
		if err := idx.occupancy.Release(ctx, pid, plotID); err != nil {
			slog.Error("予約ロールバックエラー", "participantID", pid, "plotID", plotID, "error", err)
		}
	}
}

// expectedEntries は区画の割り当てから期待されるインデックスエントリを構築する。
func expectedEntries(plots []*model.Plot) []repository.OccupancyEntry {
	var entries []repository.OccupancyEntry
	for _, plot := range plots {
		if plot.Assignment == nil {
			continue
		}
		for _, pid := range plot.Assignment.ParticipantIDs() {
			entries = append(entries, repository.OccupancyEntry{
				ParticipantID: pid,
				PlotID:        plot.ID,
			})
		}
	}
	return entries
}
