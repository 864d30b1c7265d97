// Package allocation は区画割り当てのドメインロジックを提供する。
// 直接割り当てと申請経由の割り当てはどちらも本パッケージのEngineを
// 経由してコミットされる。
package allocation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/najeeb2500/agrishare/internal/exclusivity"
	"github.com/najeeb2500/agrishare/internal/lifecycle"
	"github.com/najeeb2500/agrishare/internal/metrics"
	"github.com/najeeb2500/agrishare/internal/model"
	"github.com/najeeb2500/agrishare/internal/repository"
)

// Notifier は区画の状態変化を外部へ通知するインターフェース。
// 通知は割り当て結果に影響しないfire-and-forgetで行う。
type Notifier interface {
	PlotStatusChanged(ctx context.Context, plot *model.Plot, event string)
}

// Engine は区画割り当てのサービス層。
// 予約→遷移検証→条件付き永続化の順で実行し、永続化が成立しなかった
// 場合はこの呼び出しで取得した予約をすべて解放する。
type Engine struct {
	plotRepo        repository.PlotRepository
	participantRepo repository.ParticipantRepository
	index           *exclusivity.Index
	notifier        Notifier
	collector       metrics.MetricsCollector
}

// NewEngine はEngineの新しいインスタンスを生成する。
func NewEngine(
	plotRepo repository.PlotRepository,
	participantRepo repository.ParticipantRepository,
	index *exclusivity.Index,
	notifier Notifier,
	collector metrics.MetricsCollector,
) *Engine {
	return &Engine{
		plotRepo:        plotRepo,
		participantRepo: participantRepo,
		index:           index,
		notifier:        notifier,
		collector:       collector,
	}
}

// Allocate は耕作者グループ（および任意のボランティア・専門家）を区画へ
// 割り当てる。検証は先頭から順に行い、最初の失敗で打ち切る。
// gardenerIDsの先頭が主担当耕作者となる。
func (e *Engine) Allocate(ctx context.Context, plotID string, gardenerIDs []string, volunteerID, expertID, actorID string) (*model.Plot, error) {
	start := time.Now()

	plot, err := e.plotRepo.FindByID(ctx, plotID)
	if err != nil {
		return nil, e.fail(model.NewStorageFailureError(err))
	}
	if plot == nil || !plot.IsActive {
		return nil, e.fail(model.NewPlotNotFoundError(plotID))
	}
	if plot.Status != model.PlotStatusAvailable {
		return nil, e.fail(model.NewPlotNotAvailableError(plotID, plot.Status))
	}

	assignment, err := e.buildAssignment(ctx, gardenerIDs, volunteerID, expertID, actorID)
	if err != nil {
		return nil, e.fail(err)
	}

	group := assignment.ParticipantIDs()
	if err := e.index.ReserveGroup(ctx, plotID, group); err != nil {
		return nil, e.fail(err)
	}

	// 状態機械による遷移検証。予約後に失敗した場合は必ず予約を解放する。
	next, err := lifecycle.Transition(plot, model.PlotStatusAllocated)
	if err != nil {
		e.releaseReservations(ctx, plotID, group)
		return nil, e.fail(err)
	}

	committed, err := e.plotRepo.CommitAssignment(ctx, plotID, assignment)
	if err != nil {
		e.releaseReservations(ctx, plotID, group)
		return nil, e.fail(model.NewStorageFailureError(err))
	}
	if !committed {
		// 検証から永続化までの間に他の操作が区画を変更した
		e.releaseReservations(ctx, plotID, group)
		current, findErr := e.plotRepo.FindByID(ctx, plotID)
		if findErr != nil || current == nil {
			return nil, e.fail(model.NewPlotNotFoundError(plotID))
		}
		return nil, e.fail(model.NewPlotNotAvailableError(plotID, current.Status))
	}

	next.Assignment = assignment
	e.collector.RecordAllocationSuccess()
	e.collector.RecordCommitLatency(time.Since(start))
	slog.Info("区画を割り当てました",
		"plotID", plotID,
		"primaryGardener", assignment.PrimaryGardenerID,
		"participants", len(group),
		"assignedBy", actorID,
	)

	e.notify(next, "allocated")
	return next, nil
}

// Release は区画の割り当てを解放し、statusをavailableへ戻す。
// 区画レコードを先に解放し、その後に占有エントリを削除する。
// 逆順では、区画側の解放に失敗したとき参加者だけが自由扱いになり
// 二重割り当てを許してしまう。
func (e *Engine) Release(ctx context.Context, plotID, actorID string) (*model.Plot, error) {
	plot, err := e.plotRepo.FindByID(ctx, plotID)
	if err != nil {
		return nil, model.NewStorageFailureError(err)
	}
	if plot == nil {
		return nil, model.NewPlotNotFoundError(plotID)
	}
	if !lifecycle.ReleasableFrom(plot.Status) {
		return nil, model.NewInvalidTransitionError(plotID, plot.Status, model.PlotStatusAvailable)
	}

	// 解放する占有エントリは消去と同一文で取り出した割り当てに基づく。
	// 事前読み取りの割り当てでは、読み取りから消去までの間に成立した
	// 再割り当てのエントリを誤って解放しうる。
	clearedAssignment, cleared, err := e.plotRepo.ClearAssignment(ctx, plotID)
	if err != nil {
		return nil, model.NewStorageFailureError(err)
	}
	if !cleared {
		// 並行する解放またはキャンセルに先を越された
		current, findErr := e.plotRepo.FindByID(ctx, plotID)
		if findErr != nil || current == nil {
			return nil, model.NewPlotNotFoundError(plotID)
		}
		return nil, model.NewInvalidTransitionError(plotID, current.Status, model.PlotStatusAvailable)
	}

	if clearedAssignment != nil {
		if err := e.index.ReleaseGroup(ctx, plotID, clearedAssignment.ParticipantIDs()); err != nil {
			// 残留エントリは冪等なReleaseと照合ワーカーが回収する
			slog.Warn("占有エントリの解放が完了しませんでした", "plotID", plotID, "error", err)
		}
	}

	released := *plot
	released.Status = model.PlotStatusAvailable
	released.Assignment = nil

	e.collector.RecordRelease()
	slog.Info("区画の割り当てを解放しました", "plotID", plotID, "releasedBy", actorID)

	e.notify(&released, "released")
	return &released, nil
}

// MarkCultivated は耕作開始の進捗シグナルを受けて区画をcultivatedへ遷移させる。
func (e *Engine) MarkCultivated(ctx context.Context, plotID, actorID string) (*model.Plot, error) {
	return e.transitionStatus(ctx, plotID, model.PlotStatusCultivated, actorID)
}

// SetMaintenance は区画を整備中へ遷移させる。割り当てを持つ区画は対象外であり、
// 先にReleaseで解放する必要がある。
func (e *Engine) SetMaintenance(ctx context.Context, plotID, actorID string) (*model.Plot, error) {
	return e.transitionStatus(ctx, plotID, model.PlotStatusMaintenance, actorID)
}

// SetUnavailable は区画を利用不可へ遷移させる。割り当てを持つ区画は対象外。
func (e *Engine) SetUnavailable(ctx context.Context, plotID, actorID string) (*model.Plot, error) {
	return e.transitionStatus(ctx, plotID, model.PlotStatusUnavailable, actorID)
}

// SetAvailable は整備中・利用不可の区画を募集可能へ戻す。
func (e *Engine) SetAvailable(ctx context.Context, plotID, actorID string) (*model.Plot, error) {
	return e.transitionStatus(ctx, plotID, model.PlotStatusAvailable, actorID)
}

// Cancel は区画を管理上の理由で無効化する。割り当てが残っている場合は
// 占有エントリも解放する。レコードは監査のためis_active=falseで残す。
func (e *Engine) Cancel(ctx context.Context, plotID, actorID string) (*model.Plot, error) {
	plot, err := e.plotRepo.FindByID(ctx, plotID)
	if err != nil {
		return nil, model.NewStorageFailureError(err)
	}
	if plot == nil {
		return nil, model.NewPlotNotFoundError(plotID)
	}
	if plot.Status == model.PlotStatusCancelled {
		return nil, model.NewInvalidTransitionError(plotID, plot.Status, model.PlotStatusCancelled)
	}

	clearedAssignment, ok, err := e.plotRepo.Deactivate(ctx, plotID, plot.Status)
	if err != nil {
		return nil, model.NewStorageFailureError(err)
	}
	if !ok {
		current, findErr := e.plotRepo.FindByID(ctx, plotID)
		if findErr != nil || current == nil {
			return nil, model.NewPlotNotFoundError(plotID)
		}
		return nil, model.NewPlotNotAvailableError(plotID, current.Status)
	}

	if clearedAssignment != nil {
		if err := e.index.ReleaseGroup(ctx, plotID, clearedAssignment.ParticipantIDs()); err != nil {
			slog.Warn("占有エントリの解放が完了しませんでした", "plotID", plotID, "error", err)
		}
	}

	cancelled := *plot
	cancelled.Status = model.PlotStatusCancelled
	cancelled.Assignment = nil
	cancelled.IsActive = false

	slog.Info("区画をキャンセルしました", "plotID", plotID, "cancelledBy", actorID)

	e.notify(&cancelled, "cancelled")
	return &cancelled, nil
}

// transitionStatus は割り当てカラムに触れない管理上のステータス遷移を実行する。
// 遷移元の妥当性は状態機械の遷移表から導出し、条件付き更新で適用する。
func (e *Engine) transitionStatus(ctx context.Context, plotID string, to model.PlotStatus, actorID string) (*model.Plot, error) {
	plot, err := e.plotRepo.FindByID(ctx, plotID)
	if err != nil {
		return nil, model.NewStorageFailureError(err)
	}
	if plot == nil {
		return nil, model.NewPlotNotFoundError(plotID)
	}

	next, err := lifecycle.Transition(plot, to)
	if err != nil {
		return nil, err
	}

	ok, err := e.plotRepo.UpdateStatusIf(ctx, plotID, to, plot.Status)
	if err != nil {
		return nil, model.NewStorageFailureError(err)
	}
	if !ok {
		current, findErr := e.plotRepo.FindByID(ctx, plotID)
		if findErr != nil || current == nil {
			return nil, model.NewPlotNotFoundError(plotID)
		}
		return nil, model.NewInvalidTransitionError(plotID, current.Status, to)
	}

	slog.Info("区画のステータスを更新しました", "plotID", plotID, "status", string(to), "updatedBy", actorID)

	e.notify(next, string(to))
	return next, nil
}

// buildAssignment は参加者の存在と役割を検証し、割り当てを構築する。
func (e *Engine) buildAssignment(ctx context.Context, gardenerIDs []string, volunteerID, expertID, actorID string) (*model.Assignment, error) {
	if len(gardenerIDs) == 0 {
		return nil, model.NewInvalidParticipantError("", "耕作者が1人も指定されていません")
	}

	ids := make([]string, 0, len(gardenerIDs)+2)
	ids = append(ids, gardenerIDs...)
	if volunteerID != "" {
		ids = append(ids, volunteerID)
	}
	if expertID != "" {
		ids = append(ids, expertID)
	}

	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return nil, model.NewInvalidParticipantError(id, "同一の参加者が複数回指定されています")
		}
		seen[id] = true
	}

	participants, err := e.participantRepo.FindByIDs(ctx, ids)
	if err != nil {
		return nil, model.NewStorageFailureError(err)
	}

	for _, id := range gardenerIDs {
		if err := requireRole(participants, id, model.RoleGardener); err != nil {
			return nil, err
		}
	}
	if volunteerID != "" {
		if err := requireRole(participants, volunteerID, model.RoleVolunteer); err != nil {
			return nil, err
		}
	}
	if expertID != "" {
		if err := requireRole(participants, expertID, model.RoleExpert); err != nil {
			return nil, err
		}
	}

	return &model.Assignment{
		PrimaryGardenerID:     gardenerIDs[0],
		AdditionalGardenerIDs: gardenerIDs[1:],
		VolunteerID:           volunteerID,
		ExpertID:              expertID,
		AssignedAt:            time.Now(),
		AssignedBy:            actorID,
	}, nil
}

// requireRole は参加者が存在し、有効で、指定の役割を持つことを検証する。
func requireRole(participants map[string]*model.Participant, id string, role model.ParticipantRole) error {
	p, ok := participants[id]
	if !ok {
		return model.NewInvalidParticipantError(id, "参加者が見つかりません")
	}
	if !p.IsActive {
		return model.NewInvalidParticipantError(id, "参加者が無効化されています")
	}
	if p.Role != role {
		return model.NewInvalidParticipantError(id, fmt.Sprintf("役割が %s ではありません（現在: %s）", role, p.Role))
	}
	return nil
}

// releaseReservations は予約済みエントリをロールバックする。
func (e *Engine) releaseReservations(ctx context.Context, plotID string, group []string) {
	if err := e.index.ReleaseGroup(ctx, plotID, group); err != nil {
		slog.Error("予約ロールバックが完了しませんでした", "plotID", plotID, "error", err)
	}
}

// fail は失敗理由をメトリクスに記録してエラーをそのまま返す。
func (e *Engine) fail(err error) error {
	e.collector.RecordAllocationFailure(failureReason(err))
	return err
}

// notify は状態変化を非同期で通知する。通知の成否は操作結果に影響しない。
func (e *Engine) notify(plot *model.Plot, event string) {
	if e.notifier == nil {
		return
	}
	go e.notifier.PlotStatusChanged(context.Background(), plot, event)
}

// failureReason はエラーコードをメトリクスのラベル値へ変換する。
func failureReason(err error) string {
	apiErr, ok := err.(*model.APIError)
	if !ok {
		return "unknown"
	}
	switch apiErr.Code {
	case model.ErrCodePlotNotFound:
		return "plot_not_found"
	case model.ErrCodePlotNotAvailable:
		return "plot_not_available"
	case model.ErrCodeInvalidParticipant:
		return "invalid_participant"
	case model.ErrCodeAlreadyAllocated:
		return "conflict"
	case model.ErrCodeInvalidTransition:
		return "invalid_transition"
	case model.ErrCodeStorageFailure:
		return "storage"
	default:
		return "unknown"
	}
}
