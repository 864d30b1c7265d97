package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/najeeb2500/agrishare/internal/model"
)

// PostgresRequestRepo はPostgreSQLを使用した耕作申請リポジトリ。
type PostgresRequestRepo struct {
	db *sql.DB
}

// NewPostgresRequestRepo はPostgresRequestRepoを生成する。
func NewPostgresRequestRepo(db *sql.DB) *PostgresRequestRepo {
	return &PostgresRequestRepo{db: db}
}

// requestColumns はSELECT句で使用するカラムリスト。scanRequestと順序を一致させること。
const requestColumns = `id, plot_id, requester_id, crop, duration_months, message,
	        status, decided_by, decided_at, created_at, updated_at`

// scanRequest は1行を読み取りAllocationRequestを構築する。
func scanRequest(scan func(dest ...any) error) (*model.AllocationRequest, error) {
	req := &model.AllocationRequest{}
	var decidedBy sql.NullString
	var decidedAt sql.NullTime

	if err := scan(
		&req.ID, &req.PlotID, &req.RequesterID, &req.Crop, &req.DurationMonths, &req.Message,
		&req.Status, &decidedBy, &decidedAt, &req.CreatedAt, &req.UpdatedAt,
	); err != nil {
		return nil, err
	}

	req.DecidedBy = nullStringValue(decidedBy)
	if decidedAt.Valid {
		t := decidedAt.Time
		req.DecidedAt = &t
	}

	return req, nil
}

// Create は申請を作成する。
func (r *PostgresRequestRepo) Create(ctx context.Context, request *model.AllocationRequest) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO allocation_requests (id, plot_id, requester_id, crop, duration_months,
		                                  message, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		request.ID, request.PlotID, request.RequesterID, request.Crop, request.DurationMonths,
		request.Message, request.Status, request.CreatedAt, request.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("申請の作成に失敗しました: %w", err)
	}
	return nil
}

// FindByID は指定IDの申請を取得する。見つからない場合はnilを返す。
func (r *PostgresRequestRepo) FindByID(ctx context.Context, id string) (*model.AllocationRequest, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM allocation_requests WHERE id = $1`, id)

	req, err := scanRequest(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("申請の取得に失敗しました: %w", err)
	}

	return req, nil
}

// ListByStatus は指定状態の申請一覧を作成日時昇順で返す。
func (r *PostgresRequestRepo) ListByStatus(ctx context.Context, status model.RequestStatus) ([]*model.AllocationRequest, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+requestColumns+`
		 FROM allocation_requests
		 WHERE status = $1
		 ORDER BY created_at ASC`,
		status,
	)
	if err != nil {
		return nil, fmt.Errorf("申請一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectRequests(rows)
}

// ListByRequester は指定申請者の申請一覧を作成日時降順で返す。
func (r *PostgresRequestRepo) ListByRequester(ctx context.Context, requesterID string) ([]*model.AllocationRequest, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+requestColumns+`
		 FROM allocation_requests
		 WHERE requester_id = $1
		 ORDER BY created_at DESC`,
		requesterID,
	)
	if err != nil {
		return nil, fmt.Errorf("申請一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectRequests(rows)
}

// MarkDecided は status='pending' の場合にのみ申請を終端状態へ更新する。
// WHERE句のcompare-and-swapにより、並行する裁定は高々1つしか成立しない。
func (r *PostgresRequestRepo) MarkDecided(ctx context.Context, id string, status model.RequestStatus, deciderID string, decidedAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE allocation_requests SET
		    status = $2,
		    decided_by = $3,
		    decided_at = $4,
		    updated_at = now()
		 WHERE id = $1 AND status = 'pending'`,
		id, status, deciderID, decidedAt,
	)
	if err != nil {
		return false, fmt.Errorf("申請の裁定書き込みに失敗しました: %w", err)
	}

	return rowsAffected(res)
}

// collectRequests は結果セット全体をAllocationRequestスライスへ読み取る。
func collectRequests(rows *sql.Rows) ([]*model.AllocationRequest, error) {
	var requests []*model.AllocationRequest
	for rows.Next() {
		req, err := scanRequest(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("申請の読み取りに失敗しました: %w", err)
		}
		requests = append(requests, req)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("申請の走査に失敗しました: %w", err)
	}

	return requests, nil
}

// compile-time interface check
var _ RequestRepository = (*PostgresRequestRepo)(nil)
