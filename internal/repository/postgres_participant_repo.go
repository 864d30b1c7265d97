package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/najeeb2500/agrishare/internal/model"
)

// PostgresParticipantRepo はPostgreSQLを使用した参加者リポジトリ。
type PostgresParticipantRepo struct {
	db *sql.DB
}

// NewPostgresParticipantRepo はPostgresParticipantRepoを生成する。
func NewPostgresParticipantRepo(db *sql.DB) *PostgresParticipantRepo {
	return &PostgresParticipantRepo{db: db}
}

// FindByID は指定IDの参加者を取得する。見つからない場合はnilを返す。
func (r *PostgresParticipantRepo) FindByID(ctx context.Context, id string) (*model.Participant, error) {
	p := &model.Participant{}

	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, name, role, is_active, created_at, updated_at
		 FROM participants WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.Email, &p.Name, &p.Role, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("参加者の取得に失敗しました: %w", err)
	}

	return p, nil
}

// FindByIDs は指定ID群の参加者をまとめて取得し、IDをキーとするマップで返す。
// 見つからないIDはマップに含まれない。
func (r *PostgresParticipantRepo) FindByIDs(ctx context.Context, ids []string) (map[string]*model.Participant, error) {
	result := make(map[string]*model.Participant, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, email, name, role, is_active, created_at, updated_at
		 FROM participants WHERE id = ANY($1)`,
		pq.Array(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("参加者の一括取得に失敗しました: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p := &model.Participant{}
		if err := rows.Scan(&p.ID, &p.Email, &p.Name, &p.Role, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("参加者の読み取りに失敗しました: %w", err)
		}
		result[p.ID] = p
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("参加者の走査に失敗しました: %w", err)
	}

	return result, nil
}

// compile-time interface check
var _ ParticipantRepository = (*PostgresParticipantRepo)(nil)
