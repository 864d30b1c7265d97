package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/najeeb2500/agrishare/internal/model"
)

// TestWriteErrorResponse_SerializesAPIError は統一フォーマットでのエラー出力を検証する。
func TestWriteErrorResponse_SerializesAPIError(t *testing.T) {
	w := httptest.NewRecorder()
	apiErr := model.NewAlreadyAllocatedError("g1", "plot-9")

	WriteErrorResponse(w, http.StatusConflict, apiErr)

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var body ErrorResponseBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}

	if body.Code != model.ErrCodeAlreadyAllocated {
		t.Errorf("body.Code = %q, want %q", body.Code, model.ErrCodeAlreadyAllocated)
	}
	if body.ParticipantID != "g1" {
		t.Errorf("body.ParticipantID = %q, want g1", body.ParticipantID)
	}
	if body.PlotID != "plot-9" {
		t.Errorf("body.PlotID = %q, want plot-9", body.PlotID)
	}
	if body.Category != "allocation" {
		t.Errorf("body.Category = %q, want allocation", body.Category)
	}
	if body.Action == "" {
		t.Error("body.Action should not be empty")
	}
}

// TestWriteErrorResponse_OmitsEmptyResourceIDs は未設定のリソースIDが出力されないことを検証する。
func TestWriteErrorResponse_OmitsEmptyResourceIDs(t *testing.T) {
	w := httptest.NewRecorder()

	WriteErrorResponse(w, http.StatusNotFound, model.NewPlotNotFoundError("plot-1"))

	var raw map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &raw); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}

	if _, ok := raw["participant_id"]; ok {
		t.Error("participant_id should be omitted when empty")
	}
	if _, ok := raw["request_id"]; ok {
		t.Error("request_id should be omitted when empty")
	}
	if raw["plot_id"] != "plot-1" {
		t.Errorf("plot_id = %v, want plot-1", raw["plot_id"])
	}
}

// TestWriteInternalServerError_GenericBody は内部エラーの一般メッセージを検証する。
func TestWriteInternalServerError_GenericBody(t *testing.T) {
	w := httptest.NewRecorder()

	WriteInternalServerError(w)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}

	var body ErrorResponseBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Code != "INTERNAL_ERROR" {
		t.Errorf("body.Code = %q, want INTERNAL_ERROR", body.Code)
	}
}
