package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/najeeb2500/agrishare/internal/middleware"
	"github.com/najeeb2500/agrishare/internal/model"
)

// 申請の希望期間（月数）として受け付ける範囲。
const (
	minDurationMonths = 1
	maxDurationMonths = 24
)

// RequestServiceInterface は申請ハンドラーが必要とするサービスインターフェース。
type RequestServiceInterface interface {
	// Submit は耕作申請を登録する。
	Submit(ctx context.Context, plotID, requesterID, crop string, durationMonths int, message string) (*model.AllocationRequest, error)
	// Approve は申請を承認し、申請者を区画へ割り当てる。
	Approve(ctx context.Context, requestID, deciderID string) (*model.AllocationRequest, error)
	// Reject は申請を却下する。
	Reject(ctx context.Context, requestID, deciderID string) (*model.AllocationRequest, error)
	// FindByID は指定IDの申請を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, requestID string) (*model.AllocationRequest, error)
	// ListPending は裁定待ちの申請一覧を作成日時昇順で返す。
	ListPending(ctx context.Context) ([]*model.AllocationRequest, error)
	// ListByRequester は指定申請者の申請一覧を作成日時降順で返す。
	ListByRequester(ctx context.Context, requesterID string) ([]*model.AllocationRequest, error)
}

// RequestHandler は耕作申請のHTTPハンドラー。
type RequestHandler struct {
	service RequestServiceInterface
}

// NewRequestHandler はRequestHandlerを生成する。
func NewRequestHandler(service RequestServiceInterface) *RequestHandler {
	return &RequestHandler{service: service}
}

// submitRequestRequest は申請登録リクエストのボディ。
type submitRequestRequest struct {
	PlotID         string `json:"plot_id"`
	Crop           string `json:"crop"`
	DurationMonths int    `json:"duration_months"`
	Message        string `json:"message,omitempty"`
}

// requestResponse は申請情報のAPIレスポンス。
type requestResponse struct {
	ID             string     `json:"id"`
	PlotID         string     `json:"plot_id"`
	RequesterID    string     `json:"requester_id"`
	Crop           string     `json:"crop"`
	DurationMonths int        `json:"duration_months"`
	Message        string     `json:"message,omitempty"`
	Status         string     `json:"status"`
	DecidedBy      string     `json:"decided_by,omitempty"`
	DecidedAt      *time.Time `json:"decided_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// SubmitRequest は耕作申請の登録を処理する。
// POST /api/requests
func (h *RequestHandler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	identity, err := middleware.IdentityFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req submitRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w)
		return
	}

	if req.PlotID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "区画IDが空です。",
			Category: "validation",
			Action:   "plot_idを指定してください。",
		})
		return
	}
	if req.Crop == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "栽培する作物が空です。",
			Category: "validation",
			Action:   "cropを指定してください。",
		})
		return
	}
	if req.DurationMonths < minDurationMonths || req.DurationMonths > maxDurationMonths {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "希望期間は1〜24ヶ月で指定してください。",
			Category: "validation",
			Action:   "duration_monthsを確認してください。",
		})
		return
	}

	result, err := h.service.Submit(r.Context(), req.PlotID, identity.ParticipantID, req.Crop, req.DurationMonths, req.Message)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toRequestResponse(result))
}

// ListPendingRequests は裁定待ちの申請キューを返す。
// GET /api/requests
func (h *RequestHandler) ListPendingRequests(w http.ResponseWriter, r *http.Request) {
	requests, err := h.service.ListPending(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	results := make([]requestResponse, len(requests))
	for i, req := range requests {
		results[i] = toRequestResponse(req)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(results)
}

// ListMyRequests はログイン中の参加者自身の申請一覧を返す。
// GET /api/requests/mine
func (h *RequestHandler) ListMyRequests(w http.ResponseWriter, r *http.Request) {
	identity, err := middleware.IdentityFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	requests, err := h.service.ListByRequester(r.Context(), identity.ParticipantID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	results := make([]requestResponse, len(requests))
	for i, req := range requests {
		results[i] = toRequestResponse(req)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(results)
}

// GetRequest は申請詳細を取得する。
// GET /api/requests/:id
//
// 閲覧できるのは申請者本人と管理者のみ。権限がない場合は
// 申請の存在を漏らさないよう404を返す。
func (h *RequestHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	identity, err := middleware.IdentityFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	requestID := chi.URLParam(r, "id")

	req, err := h.service.FindByID(r.Context(), requestID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if req == nil || (identity.Role != model.RoleAdmin && req.RequesterID != identity.ParticipantID) {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewRequestNotFoundError(requestID))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toRequestResponse(req))
}

// ApproveRequest は申請の承認を処理する。
// POST /api/requests/:id/approve
func (h *RequestHandler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.service.Approve)
}

// RejectRequest は申請の却下を処理する。
// POST /api/requests/:id/reject
func (h *RequestHandler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.service.Reject)
}

// decide は承認・却下エンドポイントの共通処理。
func (h *RequestHandler) decide(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, requestID, deciderID string) (*model.AllocationRequest, error)) {
	identity, err := middleware.IdentityFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	requestID := chi.URLParam(r, "id")

	result, err := op(r.Context(), requestID, identity.ParticipantID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toRequestResponse(result))
}

// toRequestResponse はmodel.AllocationRequestからAPIレスポンスに変換する。
func toRequestResponse(req *model.AllocationRequest) requestResponse {
	return requestResponse{
		ID:             req.ID,
		PlotID:         req.PlotID,
		RequesterID:    req.RequesterID,
		Crop:           req.Crop,
		DurationMonths: req.DurationMonths,
		Message:        req.Message,
		Status:         string(req.Status),
		DecidedBy:      req.DecidedBy,
		DecidedAt:      req.DecidedAt,
		CreatedAt:      req.CreatedAt,
	}
}
