// Package request は耕作申請のワークフローを提供する。
// 申請の裁定は一度きりであり、承認は割り当てエンジンの結果に従う。
package request

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/najeeb2500/agrishare/internal/allocation"
	"github.com/najeeb2500/agrishare/internal/metrics"
	"github.com/najeeb2500/agrishare/internal/model"
	"github.com/najeeb2500/agrishare/internal/repository"
	"github.com/najeeb2500/agrishare/internal/security"
)

// Workflow は耕作申請のサービス層。
type Workflow struct {
	requestRepo     repository.RequestRepository
	plotRepo        repository.PlotRepository
	participantRepo repository.ParticipantRepository
	engine          *allocation.Engine
	sanitizer       security.MessageSanitizerService
	collector       metrics.MetricsCollector
}

// NewWorkflow はWorkflowの新しいインスタンスを生成する。
func NewWorkflow(
	requestRepo repository.RequestRepository,
	plotRepo repository.PlotRepository,
	participantRepo repository.ParticipantRepository,
	engine *allocation.Engine,
	sanitizer security.MessageSanitizerService,
	collector metrics.MetricsCollector,
) *Workflow {
	return &Workflow{
		requestRepo:     requestRepo,
		plotRepo:        plotRepo,
		participantRepo: participantRepo,
		engine:          engine,
		sanitizer:       sanitizer,
		collector:       collector,
	}
}

// Submit は耕作者による区画への申請を受け付ける。
// 区画の募集状態と申請者の占有状態は承認時に検証するため、ここでは
// 確認しない。保留期間中に区画の状態が変わりうるためである。
func (w *Workflow) Submit(ctx context.Context, plotID, requesterID, crop string, durationMonths int, message string) (*model.AllocationRequest, error) {
	plot, err := w.plotRepo.FindByID(ctx, plotID)
	if err != nil {
		return nil, model.NewStorageFailureError(err)
	}
	if plot == nil || !plot.IsActive {
		return nil, model.NewPlotNotFoundError(plotID)
	}

	requester, err := w.participantRepo.FindByID(ctx, requesterID)
	if err != nil {
		return nil, model.NewStorageFailureError(err)
	}
	if requester == nil {
		return nil, model.NewParticipantNotFoundError(requesterID)
	}
	if !requester.IsActive {
		return nil, model.NewInvalidParticipantError(requesterID, "参加者が無効化されています")
	}
	if requester.Role != model.RoleGardener {
		return nil, model.NewInvalidParticipantError(requesterID, fmt.Sprintf("申請は耕作者のみ可能です（現在: %s）", requester.Role))
	}

	now := time.Now()
	req := &model.AllocationRequest{
		ID:             uuid.New().String(),
		PlotID:         plotID,
		RequesterID:    requesterID,
		Crop:           crop,
		DurationMonths: durationMonths,
		Message:        w.sanitizer.Sanitize(message),
		Status:         model.RequestStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := w.requestRepo.Create(ctx, req); err != nil {
		return nil, model.NewStorageFailureError(err)
	}

	slog.Info("耕作申請を受け付けました", "requestID", req.ID, "plotID", plotID, "requesterID", requesterID)
	return req, nil
}

// Approve は申請を承認し、申請者を区画へ割り当てる。
// 割り当てに失敗した場合、申請はpendingのまま残り、エラーを呼び出し元へ
// 返す。管理者は再試行するか却下するかを選べる。
func (w *Workflow) Approve(ctx context.Context, requestID, deciderID string) (*model.AllocationRequest, error) {
	req, err := w.loadPending(ctx, requestID)
	if err != nil {
		return nil, err
	}

	// 割り当ての成立が承認の前提条件。
	if _, err := w.engine.Allocate(ctx, req.PlotID, []string{req.RequesterID}, "", "", deciderID); err != nil {
		// 割り当て失敗の原因が並行する裁定の先行であれば、
		// 区画の状態ではなく裁定済みであることを呼び出し元へ伝える。
		if current, findErr := w.requestRepo.FindByID(ctx, requestID); findErr == nil && current != nil && current.IsDecided() {
			return nil, model.NewAlreadyDecidedError(requestID, current.Status)
		}
		return nil, err
	}

	decidedAt := time.Now()
	ok, err := w.requestRepo.MarkDecided(ctx, requestID, model.RequestStatusApproved, deciderID, decidedAt)
	if err != nil {
		w.compensate(ctx, req, deciderID)
		return nil, model.NewStorageFailureError(err)
	}
	if !ok {
		// 並行する裁定に敗れた。成立済みの割り当てを取り消して単調性を守る。
		w.compensate(ctx, req, deciderID)
		return nil, w.alreadyDecidedError(ctx, requestID)
	}

	w.collector.RecordRequestDecision("approved")
	slog.Info("申請を承認しました", "requestID", requestID, "plotID", req.PlotID, "decidedBy", deciderID)

	return decided(req, model.RequestStatusApproved, deciderID, decidedAt), nil
}

// Reject は申請を却下する。割り当てエンジンには関与しない。
func (w *Workflow) Reject(ctx context.Context, requestID, deciderID string) (*model.AllocationRequest, error) {
	req, err := w.loadPending(ctx, requestID)
	if err != nil {
		return nil, err
	}

	decidedAt := time.Now()
	ok, err := w.requestRepo.MarkDecided(ctx, requestID, model.RequestStatusRejected, deciderID, decidedAt)
	if err != nil {
		return nil, model.NewStorageFailureError(err)
	}
	if !ok {
		return nil, w.alreadyDecidedError(ctx, requestID)
	}

	w.collector.RecordRequestDecision("rejected")
	slog.Info("申請を却下しました", "requestID", requestID, "decidedBy", deciderID)

	return decided(req, model.RequestStatusRejected, deciderID, decidedAt), nil
}

// FindByID は指定IDの申請を返す。見つからない場合はREQUEST_NOT_FOUNDエラー。
func (w *Workflow) FindByID(ctx context.Context, requestID string) (*model.AllocationRequest, error) {
	req, err := w.requestRepo.FindByID(ctx, requestID)
	if err != nil {
		return nil, model.NewStorageFailureError(err)
	}
	if req == nil {
		return nil, model.NewRequestNotFoundError(requestID)
	}
	return req, nil
}

// ListPending は保留中の申請一覧を作成日時順で返す。
func (w *Workflow) ListPending(ctx context.Context) ([]*model.AllocationRequest, error) {
	reqs, err := w.requestRepo.ListByStatus(ctx, model.RequestStatusPending)
	if err != nil {
		return nil, model.NewStorageFailureError(err)
	}
	return reqs, nil
}

// ListByRequester は指定申請者の申請一覧を返す。
func (w *Workflow) ListByRequester(ctx context.Context, requesterID string) ([]*model.AllocationRequest, error) {
	reqs, err := w.requestRepo.ListByRequester(ctx, requesterID)
	if err != nil {
		return nil, model.NewStorageFailureError(err)
	}
	return reqs, nil
}

// loadPending は申請を取得し、未裁定であることを確認する。
func (w *Workflow) loadPending(ctx context.Context, requestID string) (*model.AllocationRequest, error) {
	req, err := w.requestRepo.FindByID(ctx, requestID)
	if err != nil {
		return nil, model.NewStorageFailureError(err)
	}
	if req == nil {
		return nil, model.NewRequestNotFoundError(requestID)
	}
	if req.IsDecided() {
		return nil, model.NewAlreadyDecidedError(requestID, req.Status)
	}
	return req, nil
}

// compensate は裁定の記録に失敗した承認の割り当てを取り消す。
func (w *Workflow) compensate(ctx context.Context, req *model.AllocationRequest, deciderID string) {
	if _, err := w.engine.Release(ctx, req.PlotID, deciderID); err != nil {
		slog.Error("承認失敗後の割り当て取り消しに失敗しました",
			"requestID", req.ID, "plotID", req.PlotID, "error", err)
	}
}

// alreadyDecidedError は現在の裁定結果を添えたALREADY_DECIDEDエラーを返す。
func (w *Workflow) alreadyDecidedError(ctx context.Context, requestID string) error {
	current, err := w.requestRepo.FindByID(ctx, requestID)
	if err != nil || current == nil {
		return model.NewAlreadyDecidedError(requestID, "")
	}
	return model.NewAlreadyDecidedError(requestID, current.Status)
}

// decided は裁定結果を反映した申請のコピーを返す。
func decided(req *model.AllocationRequest, status model.RequestStatus, deciderID string, decidedAt time.Time) *model.AllocationRequest {
	out := *req
	out.Status = status
	out.DecidedBy = deciderID
	out.DecidedAt = &decidedAt
	out.UpdatedAt = decidedAt
	return &out
}
