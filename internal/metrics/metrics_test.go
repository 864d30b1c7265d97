package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordAllocationSuccess_IncrementsCounter は割り当て成功カウンタが増加することを検証する。
func TestRecordAllocationSuccess_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAllocationSuccess()
	c.RecordAllocationSuccess()

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	found := false
	for _, mf := range metrics {
		if mf.GetName() == "agrishare_allocation_success_total" {
			found = true
			val := mf.GetMetric()[0].GetCounter().GetValue()
			if val != 2 {
				t.Errorf("allocation_success_total = %v, want 2", val)
			}
		}
	}
	if !found {
		t.Error("agrishare_allocation_success_total metric not found")
	}
}

// TestRecordAllocationFailure_IncrementsCounterWithLabel は割り当て失敗カウンタが理由別に増加することを検証する。
func TestRecordAllocationFailure_IncrementsCounterWithLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAllocationFailure("conflict")
	c.RecordAllocationFailure("conflict")
	c.RecordAllocationFailure("plot_not_available")

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	found := false
	for _, mf := range metrics {
		if mf.GetName() == "agrishare_allocation_fail_total" {
			found = true
			if len(mf.GetMetric()) != 2 {
				t.Fatalf("expected 2 label combinations, got %d", len(mf.GetMetric()))
			}
			for _, m := range mf.GetMetric() {
				label := m.GetLabel()[0].GetValue()
				val := m.GetCounter().GetValue()
				switch label {
				case "conflict":
					if val != 2 {
						t.Errorf("allocation_fail_total{reason=conflict} = %v, want 2", val)
					}
				case "plot_not_available":
					if val != 1 {
						t.Errorf("allocation_fail_total{reason=plot_not_available} = %v, want 1", val)
					}
				default:
					t.Errorf("unexpected label value: %s", label)
				}
			}
		}
	}
	if !found {
		t.Error("agrishare_allocation_fail_total metric not found")
	}
}

// TestRecordRequestDecision_IncrementsCounterWithLabel は申請裁定カウンタが結果別に増加することを検証する。
func TestRecordRequestDecision_IncrementsCounterWithLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRequestDecision("approved")
	c.RecordRequestDecision("rejected")
	c.RecordRequestDecision("rejected")

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	found := false
	for _, mf := range metrics {
		if mf.GetName() == "agrishare_request_decision_total" {
			found = true
			for _, m := range mf.GetMetric() {
				label := m.GetLabel()[0].GetValue()
				val := m.GetCounter().GetValue()
				switch label {
				case "approved":
					if val != 1 {
						t.Errorf("request_decision_total{decision=approved} = %v, want 1", val)
					}
				case "rejected":
					if val != 2 {
						t.Errorf("request_decision_total{decision=rejected} = %v, want 2", val)
					}
				}
			}
		}
	}
	if !found {
		t.Error("agrishare_request_decision_total metric not found")
	}
}

// TestRecordCommitLatency_ObservesHistogram はコミットレイテンシのヒストグラムに値が記録されることを検証する。
func TestRecordCommitLatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordCommitLatency(100 * time.Millisecond)
	c.RecordCommitLatency(2 * time.Second)

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	found := false
	for _, mf := range metrics {
		if mf.GetName() == "agrishare_commit_latency_seconds" {
			found = true
			h := mf.GetMetric()[0].GetHistogram()
			if h.GetSampleCount() != 2 {
				t.Errorf("sample_count = %d, want 2", h.GetSampleCount())
			}
			// 合計は0.1 + 2.0 = 2.1秒
			if h.GetSampleSum() < 2.0 || h.GetSampleSum() > 2.2 {
				t.Errorf("sample_sum = %v, want ~2.1", h.GetSampleSum())
			}
		}
	}
	if !found {
		t.Error("agrishare_commit_latency_seconds metric not found")
	}
}

// TestRecordIndexRebuild_SetsGauge はインデックス再構築でカウンタとゲージが更新されることを検証する。
func TestRecordIndexRebuild_SetsGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordIndexRebuild(10)
	c.RecordIndexRebuild(7)

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	for _, mf := range metrics {
		switch mf.GetName() {
		case "agrishare_index_rebuild_total":
			val := mf.GetMetric()[0].GetCounter().GetValue()
			if val != 2 {
				t.Errorf("index_rebuild_total = %v, want 2", val)
			}
		case "agrishare_index_entries":
			val := mf.GetMetric()[0].GetGauge().GetValue()
			if val != 7 {
				t.Errorf("index_entries = %v, want 7", val)
			}
		}
	}
}

// TestRecordIndexDrift_AddsCount は乖離カウンタが検出件数だけ増加することを検証する。
func TestRecordIndexDrift_AddsCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordIndexDrift(3)
	c.RecordIndexDrift(1)

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	found := false
	for _, mf := range metrics {
		if mf.GetName() == "agrishare_index_drift_total" {
			found = true
			val := mf.GetMetric()[0].GetCounter().GetValue()
			if val != 4 {
				t.Errorf("index_drift_total = %v, want 4", val)
			}
		}
	}
	if !found {
		t.Error("agrishare_index_drift_total metric not found")
	}
}

// TestMetricsHandler_ReturnsPrometheusFormat は/metricsエンドポイントがPrometheus形式で返すことを検証する。
func TestMetricsHandler_ReturnsPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAllocationSuccess()
	c.RecordAllocationFailure("conflict")
	c.RecordReservationConflict()
	c.RecordRelease()
	c.RecordCommitLatency(500 * time.Millisecond)

	handler := Handler(reg)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, _ := io.ReadAll(resp.Body)
	bodyStr := string(body)

	expectedMetrics := []string{
		"agrishare_allocation_success_total",
		"agrishare_allocation_fail_total",
		"agrishare_reservation_conflict_total",
		"agrishare_release_total",
		"agrishare_commit_latency_seconds",
	}

	for _, metric := range expectedMetrics {
		if !strings.Contains(bodyStr, metric) {
			t.Errorf("response body does not contain %q", metric)
		}
	}
}

// TestCollector_ImplementsMetricsCollectorInterface はCollectorがMetricsCollectorインターフェースを実装することを検証する。
func TestCollector_ImplementsMetricsCollectorInterface(t *testing.T) {
	reg := prometheus.NewRegistry()
	var _ MetricsCollector = NewCollector(reg)
}
