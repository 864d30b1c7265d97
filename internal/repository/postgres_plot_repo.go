package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/najeeb2500/agrishare/internal/model"
)

// PostgresPlotRepo はPostgreSQLを使用した区画リポジトリ。
type PostgresPlotRepo struct {
	db *sql.DB
}

// NewPostgresPlotRepo はPostgresPlotRepoを生成する。
func NewPostgresPlotRepo(db *sql.DB) *PostgresPlotRepo {
	return &PostgresPlotRepo{db: db}
}

// plotColumns はSELECT句で使用するカラムリスト。scanPlotと順序を一致させること。
const plotColumns = `id, owner_id, name, address, size_sqm, soil_type, status, is_active,
	        primary_gardener_id, additional_gardener_ids, volunteer_id, expert_id,
	        assigned_at, assigned_by, created_at, updated_at`

// scanPlot は1行を読み取りPlotを構築する。割り当てカラムがNULLの場合はAssignmentをnilにする。
func scanPlot(scan func(dest ...any) error) (*model.Plot, error) {
	plot := &model.Plot{}
	var primaryGardener, volunteer, expert, assignedBy sql.NullString
	var additionalGardeners pq.StringArray
	var assignedAt sql.NullTime

	if err := scan(
		&plot.ID, &plot.OwnerID, &plot.Name, &plot.Address, &plot.SizeSqm, &plot.SoilType,
		&plot.Status, &plot.IsActive,
		&primaryGardener, &additionalGardeners, &volunteer, &expert,
		&assignedAt, &assignedBy, &plot.CreatedAt, &plot.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if primaryGardener.Valid {
		plot.Assignment = &model.Assignment{
			PrimaryGardenerID:     primaryGardener.String,
			AdditionalGardenerIDs: additionalGardeners,
			VolunteerID:           nullStringValue(volunteer),
			ExpertID:              nullStringValue(expert),
			AssignedBy:            nullStringValue(assignedBy),
		}
		if assignedAt.Valid {
			plot.Assignment.AssignedAt = assignedAt.Time
		}
	}

	return plot, nil
}

// FindByID は指定IDの区画を取得する。見つからない場合はnilを返す。
func (r *PostgresPlotRepo) FindByID(ctx context.Context, id string) (*model.Plot, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+plotColumns+` FROM plots WHERE id = $1`, id)

	plot, err := scanPlot(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("区画の取得に失敗しました: %w", err)
	}

	return plot, nil
}

// Create は区画を作成する。割り当てカラムは空の状態で作成される。
func (r *PostgresPlotRepo) Create(ctx context.Context, plot *model.Plot) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO plots (id, owner_id, name, address, size_sqm, soil_type,
		                    status, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		plot.ID, plot.OwnerID, plot.Name, plot.Address, plot.SizeSqm, plot.SoilType,
		plot.Status, plot.IsActive, plot.CreatedAt, plot.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("区画の作成に失敗しました: %w", err)
	}
	return nil
}

// CommitAssignment は status='available' の場合にのみ割り当てを書き込む。
// WHERE句による条件付き更新のため、並行する割り当てコミットは高々1つしか成功しない。
func (r *PostgresPlotRepo) CommitAssignment(ctx context.Context, plotID string, assignment *model.Assignment) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE plots SET
		    status = 'allocated',
		    primary_gardener_id = $2,
		    additional_gardener_ids = $3,
		    volunteer_id = $4,
		    expert_id = $5,
		    assigned_at = $6,
		    assigned_by = $7,
		    updated_at = now()
		 WHERE id = $1 AND status = 'available' AND is_active`,
		plotID,
		assignment.PrimaryGardenerID,
		pq.Array(assignment.AdditionalGardenerIDs),
		nullString(assignment.VolunteerID),
		nullString(assignment.ExpertID),
		assignment.AssignedAt,
		assignment.AssignedBy,
	)
	if err != nil {
		return false, fmt.Errorf("割り当ての書き込みに失敗しました: %w", err)
	}

	return rowsAffected(res)
}

// ClearAssignment は割り当てを消去し、statusをavailableへ戻す。
// RETURNINGで消去直前の割り当てを同一文の中で取り出す。事前読み取りの
// 割り当てを使うと、読み取りから消去までの間に成立した再割り当てを
// 誤って解放対象にしてしまう。
func (r *PostgresPlotRepo) ClearAssignment(ctx context.Context, plotID string) (*model.Assignment, bool, error) {
	row := r.db.QueryRowContext(ctx,
		`UPDATE plots SET
		    status = 'available',
		    primary_gardener_id = NULL,
		    additional_gardener_ids = NULL,
		    volunteer_id = NULL,
		    expert_id = NULL,
		    assigned_at = NULL,
		    assigned_by = NULL,
		    updated_at = now()
		 FROM (SELECT id, primary_gardener_id, additional_gardener_ids,
		              volunteer_id, expert_id, assigned_at, assigned_by
		       FROM plots WHERE id = $1 FOR UPDATE) old
		 WHERE plots.id = old.id AND plots.status IN ('allocated', 'cultivated')
		 RETURNING old.primary_gardener_id, old.additional_gardener_ids,
		           old.volunteer_id, old.expert_id, old.assigned_at, old.assigned_by`,
		plotID,
	)

	assignment, err := scanClearedAssignment(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("割り当ての消去に失敗しました: %w", err)
	}

	return assignment, true, nil
}

// UpdateStatusIf は現在のstatusがfromのいずれかに一致する場合にのみtoへ更新する。
func (r *PostgresPlotRepo) UpdateStatusIf(ctx context.Context, plotID string, to model.PlotStatus, from ...model.PlotStatus) (bool, error) {
	fromStatuses := make([]string, len(from))
	for i, s := range from {
		fromStatuses[i] = string(s)
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE plots SET status = $2, updated_at = now()
		 WHERE id = $1 AND status = ANY($3) AND is_active`,
		plotID, to, pq.Array(fromStatuses),
	)
	if err != nil {
		return false, fmt.Errorf("区画状態の更新に失敗しました: %w", err)
	}

	return rowsAffected(res)
}

// Deactivate は区画を無効化する（status=cancelled, is_active=false）。
// 割り当てカラムも消去し、消去直前の割り当てをRETURNINGで取り出す。
// 監査のためレコードは削除しない。
func (r *PostgresPlotRepo) Deactivate(ctx context.Context, plotID string, expected model.PlotStatus) (*model.Assignment, bool, error) {
	row := r.db.QueryRowContext(ctx,
		`UPDATE plots SET
		    status = 'cancelled',
		    is_active = FALSE,
		    primary_gardener_id = NULL,
		    additional_gardener_ids = NULL,
		    volunteer_id = NULL,
		    expert_id = NULL,
		    assigned_at = NULL,
		    assigned_by = NULL,
		    updated_at = now()
		 FROM (SELECT id, primary_gardener_id, additional_gardener_ids,
		              volunteer_id, expert_id, assigned_at, assigned_by
		       FROM plots WHERE id = $1 FOR UPDATE) old
		 WHERE plots.id = old.id AND plots.status = $2
		 RETURNING old.primary_gardener_id, old.additional_gardener_ids,
		           old.volunteer_id, old.expert_id, old.assigned_at, old.assigned_by`,
		plotID, expected,
	)

	assignment, err := scanClearedAssignment(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("区画の無効化に失敗しました: %w", err)
	}

	return assignment, true, nil
}

// scanClearedAssignment はRETURNINGで返された消去直前の割り当てを読み取る。
// 割り当てカラムがNULL（割り当てなしの無効化）の場合はnilを返す。
func scanClearedAssignment(row *sql.Row) (*model.Assignment, error) {
	var primaryGardener, volunteer, expert, assignedBy sql.NullString
	var additionalGardeners pq.StringArray
	var assignedAt sql.NullTime

	if err := row.Scan(
		&primaryGardener, &additionalGardeners, &volunteer, &expert,
		&assignedAt, &assignedBy,
	); err != nil {
		return nil, err
	}

	if !primaryGardener.Valid {
		return nil, nil
	}

	assignment := &model.Assignment{
		PrimaryGardenerID:     primaryGardener.String,
		AdditionalGardenerIDs: additionalGardeners,
		VolunteerID:           nullStringValue(volunteer),
		ExpertID:              nullStringValue(expert),
		AssignedBy:            nullStringValue(assignedBy),
	}
	if assignedAt.Valid {
		assignment.AssignedAt = assignedAt.Time
	}
	return assignment, nil
}

// ListActiveAssignments は割り当てを持つ有効な区画一覧を返す。
func (r *PostgresPlotRepo) ListActiveAssignments(ctx context.Context) ([]*model.Plot, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+plotColumns+`
		 FROM plots
		 WHERE status IN ('allocated', 'cultivated') AND is_active
		 ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("割り当て済み区画の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectPlots(rows)
}

// ListByOwner は指定所有者の有効な区画一覧を返す。
func (r *PostgresPlotRepo) ListByOwner(ctx context.Context, ownerID string) ([]*model.Plot, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+plotColumns+`
		 FROM plots
		 WHERE owner_id = $1 AND is_active
		 ORDER BY created_at DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("所有区画の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectPlots(rows)
}

// collectPlots は結果セット全体をPlotスライスへ読み取る。
func collectPlots(rows *sql.Rows) ([]*model.Plot, error) {
	var plots []*model.Plot
	for rows.Next() {
		plot, err := scanPlot(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("区画の読み取りに失敗しました: %w", err)
		}
		plots = append(plots, plot)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("区画の走査に失敗しました: %w", err)
	}

	return plots, nil
}

// rowsAffected は更新結果から成立/不成立を判定する。
func rowsAffected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("更新行数の取得に失敗しました: %w", err)
	}
	return n > 0, nil
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// compile-time interface check
var _ PlotRepository = (*PostgresPlotRepo)(nil)
