package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/najeeb2500/agrishare/internal/middleware"
	"github.com/najeeb2500/agrishare/internal/model"
)

// AllocationServiceInterface は区画ハンドラーが必要とする割り当てサービスインターフェース。
type AllocationServiceInterface interface {
	// Allocate は参加者グループを区画へ原子的に割り当てる。
	Allocate(ctx context.Context, plotID string, gardenerIDs []string, volunteerID, expertID, actorID string) (*model.Plot, error)
	// Release は区画の割り当てを解除しavailableへ戻す。
	Release(ctx context.Context, plotID, actorID string) (*model.Plot, error)
	// MarkCultivated は割り当て済み区画を栽培開始状態へ遷移させる。
	MarkCultivated(ctx context.Context, plotID, actorID string) (*model.Plot, error)
	// SetMaintenance は区画を整備中へ遷移させる。
	SetMaintenance(ctx context.Context, plotID, actorID string) (*model.Plot, error)
	// SetUnavailable は区画を提供停止へ遷移させる。
	SetUnavailable(ctx context.Context, plotID, actorID string) (*model.Plot, error)
	// SetAvailable は区画を割り当て可能へ戻す。
	SetAvailable(ctx context.Context, plotID, actorID string) (*model.Plot, error)
	// Cancel は区画を無効化する（監査のためレコードは残る）。
	Cancel(ctx context.Context, plotID, actorID string) (*model.Plot, error)
}

// PlotStoreInterface は区画ハンドラーが必要とする登録・参照インターフェース。
// repository.PlotRepositoryを直接変更せず、最小限のインターフェースとして定義する。
type PlotStoreInterface interface {
	// Create は区画を作成する。
	Create(ctx context.Context, plot *model.Plot) error
	// FindByID は指定IDの区画を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Plot, error)
	// ListByOwner は指定所有者の有効な区画一覧を返す。
	ListByOwner(ctx context.Context, ownerID string) ([]*model.Plot, error)
}

// PlotHandler は区画管理のHTTPハンドラー。
type PlotHandler struct {
	service AllocationServiceInterface
	store   PlotStoreInterface
}

// NewPlotHandler はPlotHandlerを生成する。
func NewPlotHandler(service AllocationServiceInterface, store PlotStoreInterface) *PlotHandler {
	return &PlotHandler{
		service: service,
		store:   store,
	}
}

// createPlotRequest は区画登録リクエストのボディ。
type createPlotRequest struct {
	Name     string  `json:"name"`
	Address  string  `json:"address"`
	SizeSqm  float64 `json:"size_sqm"`
	SoilType string  `json:"soil_type"`
	// OwnerID は管理者が所有者を代理指定する場合にのみ設定する。
	OwnerID string `json:"owner_id,omitempty"`
}

// allocatePlotRequest は割り当てリクエストのボディ。
type allocatePlotRequest struct {
	GardenerIDs []string `json:"gardener_ids"`
	VolunteerID string   `json:"volunteer_id,omitempty"`
	ExpertID    string   `json:"expert_id,omitempty"`
}

// assignmentResponse は割り当て情報のAPIレスポンス。
type assignmentResponse struct {
	PrimaryGardenerID     string    `json:"primary_gardener_id"`
	AdditionalGardenerIDs []string  `json:"additional_gardener_ids,omitempty"`
	VolunteerID           string    `json:"volunteer_id,omitempty"`
	ExpertID              string    `json:"expert_id,omitempty"`
	AssignedAt            time.Time `json:"assigned_at"`
	AssignedBy            string    `json:"assigned_by"`
}

// plotResponse は区画情報のAPIレスポンス。
type plotResponse struct {
	ID         string              `json:"id"`
	OwnerID    string              `json:"owner_id"`
	Name       string              `json:"name"`
	Address    string              `json:"address"`
	SizeSqm    float64             `json:"size_sqm"`
	SoilType   string              `json:"soil_type"`
	Status     string              `json:"status"`
	IsActive   bool                `json:"is_active"`
	Assignment *assignmentResponse `json:"assignment,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
}

// CreatePlot は区画登録を処理する。
// POST /api/plots
func (h *PlotHandler) CreatePlot(w http.ResponseWriter, r *http.Request) {
	identity, err := middleware.IdentityFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req createPlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w)
		return
	}

	if req.Name == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "区画名が空です。",
			Category: "validation",
			Action:   "区画名を指定してください。",
		})
		return
	}
	if req.SizeSqm <= 0 {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "区画面積は正の値で指定してください。",
			Category: "validation",
			Action:   "size_sqmを確認してください。",
		})
		return
	}

	// 所有者は原則として登録者本人。管理者のみ代理指定できる。
	ownerID := identity.ParticipantID
	if req.OwnerID != "" && identity.Role == model.RoleAdmin {
		ownerID = req.OwnerID
	}

	now := time.Now()
	plot := &model.Plot{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Name:      req.Name,
		Address:   req.Address,
		SizeSqm:   req.SizeSqm,
		SoilType:  req.SoilType,
		Status:    model.PlotStatusAvailable,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.store.Create(r.Context(), plot); err != nil {
		handleServiceError(w, model.NewStorageFailureError(err))
		return
	}

	slog.Info("区画を登録しました", "plotID", plot.ID, "ownerID", plot.OwnerID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toPlotResponse(plot))
}

// GetPlot は区画詳細を取得する。
// GET /api/plots/:id
func (h *PlotHandler) GetPlot(w http.ResponseWriter, r *http.Request) {
	plotID := chi.URLParam(r, "id")

	plot, err := h.store.FindByID(r.Context(), plotID)
	if err != nil {
		handleServiceError(w, model.NewStorageFailureError(err))
		return
	}

	if plot == nil || !plot.IsActive {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewPlotNotFoundError(plotID))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toPlotResponse(plot))
}

// ListMyPlots はログイン中の所有者の区画一覧を返す。
// GET /api/plots/mine
func (h *PlotHandler) ListMyPlots(w http.ResponseWriter, r *http.Request) {
	identity, err := middleware.IdentityFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	plots, err := h.store.ListByOwner(r.Context(), identity.ParticipantID)
	if err != nil {
		handleServiceError(w, model.NewStorageFailureError(err))
		return
	}

	results := make([]plotResponse, len(plots))
	for i, p := range plots {
		results[i] = toPlotResponse(p)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(results)
}

// AllocatePlot は参加者グループの割り当てを処理する。
// POST /api/plots/:id/allocate
func (h *PlotHandler) AllocatePlot(w http.ResponseWriter, r *http.Request) {
	identity, err := middleware.IdentityFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	plotID := chi.URLParam(r, "id")

	var req allocatePlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w)
		return
	}

	if len(req.GardenerIDs) == 0 {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "ガーデナーが指定されていません。",
			Category: "validation",
			Action:   "少なくとも1名のガーデナーを指定してください。",
		})
		return
	}

	plot, err := h.service.Allocate(r.Context(), plotID, req.GardenerIDs, req.VolunteerID, req.ExpertID, identity.ParticipantID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toPlotResponse(plot))
}

// ReleasePlot は割り当て解除を処理する。
// POST /api/plots/:id/release
func (h *PlotHandler) ReleasePlot(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Release)
}

// CultivatePlot は栽培開始を処理する。
// POST /api/plots/:id/cultivate
func (h *PlotHandler) CultivatePlot(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.MarkCultivated)
}

// MaintenancePlot は整備中への遷移を処理する。
// POST /api/plots/:id/maintenance
func (h *PlotHandler) MaintenancePlot(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.SetMaintenance)
}

// UnavailablePlot は提供停止への遷移を処理する。
// POST /api/plots/:id/unavailable
func (h *PlotHandler) UnavailablePlot(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.SetUnavailable)
}

// AvailablePlot は割り当て可能状態への復帰を処理する。
// POST /api/plots/:id/available
func (h *PlotHandler) AvailablePlot(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.SetAvailable)
}

// CancelPlot は区画の無効化を処理する。
// POST /api/plots/:id/cancel
func (h *PlotHandler) CancelPlot(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Cancel)
}

// transition はボディを取らない状態遷移系エンドポイントの共通処理。
func (h *PlotHandler) transition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, plotID, actorID string) (*model.Plot, error)) {
	identity, err := middleware.IdentityFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	plotID := chi.URLParam(r, "id")

	plot, err := op(r.Context(), plotID, identity.ParticipantID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toPlotResponse(plot))
}

// toPlotResponse はmodel.PlotからAPIレスポンスに変換する。
func toPlotResponse(plot *model.Plot) plotResponse {
	resp := plotResponse{
		ID:        plot.ID,
		OwnerID:   plot.OwnerID,
		Name:      plot.Name,
		Address:   plot.Address,
		SizeSqm:   plot.SizeSqm,
		SoilType:  plot.SoilType,
		Status:    string(plot.Status),
		IsActive:  plot.IsActive,
		CreatedAt: plot.CreatedAt,
	}
	if plot.Assignment != nil {
		resp.Assignment = &assignmentResponse{
			PrimaryGardenerID:     plot.Assignment.PrimaryGardenerID,
			AdditionalGardenerIDs: plot.Assignment.AdditionalGardenerIDs,
			VolunteerID:           plot.Assignment.VolunteerID,
			ExpertID:              plot.Assignment.ExpertID,
			AssignedAt:            plot.Assignment.AssignedAt,
			AssignedBy:            plot.Assignment.AssignedBy,
		}
	}
	return resp
}

// --- ヘルパー関数 ---

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`

	ParticipantID string `json:"participant_id,omitempty"`
	PlotID        string `json:"plot_id,omitempty"`
	RequestID     string `json:"request_id,omitempty"`
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Code:          apiErr.Code,
		Message:       apiErr.Message,
		Category:      apiErr.Category,
		Action:        apiErr.Action,
		ParticipantID: apiErr.ParticipantID,
		PlotID:        apiErr.PlotID,
		RequestID:     apiErr.RequestID,
	})
}

// writeUnauthorized は認証必須ルートでの未認証エラーを書き込む。
func writeUnauthorized(w http.ResponseWriter) {
	writeAPIErrorResponse(w, http.StatusUnauthorized, &model.APIError{
		Code:     "UNAUTHORIZED",
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	})
}

// writeInvalidRequest はリクエストボディの解析失敗エラーを書き込む。
func writeInvalidRequest(w http.ResponseWriter) {
	writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		statusCode := mapAPIErrorToHTTPStatus(apiErr)
		if statusCode == http.StatusInternalServerError {
			slog.Error("内部エラー", "code", apiErr.Code, "error", apiErr.Error())
		}
		writeAPIErrorResponse(w, statusCode, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodePlotNotFound, model.ErrCodeRequestNotFound, model.ErrCodeParticipantNotFound:
		return http.StatusNotFound
	case model.ErrCodeInvalidParticipant:
		return http.StatusUnprocessableEntity
	case model.ErrCodePlotNotAvailable, model.ErrCodeAlreadyAllocated,
		model.ErrCodeAlreadyDecided, model.ErrCodeInvalidTransition:
		return http.StatusConflict
	case model.ErrCodeStorageFailure:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
