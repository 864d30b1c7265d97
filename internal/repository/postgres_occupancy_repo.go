package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresOccupancyRepo はPostgreSQLを使用した排他インデックスリポジトリ。
// plot_occupantsテーブルのparticipant_id PRIMARY KEYが一意性制約であり、
// Reserveのアトミック性はこの制約のみに依存する（read-then-writeは行わない）。
type PostgresOccupancyRepo struct {
	db *sql.DB
}

// NewPostgresOccupancyRepo はPostgresOccupancyRepoを生成する。
func NewPostgresOccupancyRepo(db *sql.DB) *PostgresOccupancyRepo {
	return &PostgresOccupancyRepo{db: db}
}

// Reserve は参加者の占有エントリを条件付きINSERTで登録する。
// ON CONFLICT DO NOTHING により、既存エントリがある場合は挿入行0で返り、
// 同一参加者に対する並行Reserveは高々1つしか成功しない。
func (r *PostgresOccupancyRepo) Reserve(ctx context.Context, participantID, plotID string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO plot_occupants (participant_id, plot_id, reserved_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (participant_id) DO NOTHING`,
		participantID, plotID,
	)
	if err != nil {
		return false, fmt.Errorf("占有エントリの登録に失敗しました: %w", err)
	}

	return rowsAffected(res)
}

// FindPlotFor は参加者が現在占有している区画のIDを返す。
// 占有していない場合は空文字列を返す。
func (r *PostgresOccupancyRepo) FindPlotFor(ctx context.Context, participantID string) (string, error) {
	var plotID string
	err := r.db.QueryRowContext(ctx,
		`SELECT plot_id FROM plot_occupants WHERE participant_id = $1`,
		participantID,
	).Scan(&plotID)

	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("占有エントリの取得に失敗しました: %w", err)
	}

	return plotID, nil
}

// Release は参加者の占有エントリを削除する。
// plot_idの一致を条件に含めるため、別区画への新しい割り当てを誤って
// 解放することはない。エントリが無い場合も正常終了する（冪等）。
func (r *PostgresOccupancyRepo) Release(ctx context.Context, participantID, plotID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM plot_occupants WHERE participant_id = $1 AND plot_id = $2`,
		participantID, plotID,
	)
	if err != nil {
		return fmt.Errorf("占有エントリの削除に失敗しました: %w", err)
	}
	return nil
}

// ReplaceAll はインデックス全体をentriesで置き換える。
// 登録からpreserveYoungerThan未満の既存エントリは削除対象から外す。
// 割り当て確定前の予約は区画側にまだ現れないため、無条件の全削除は
// 進行中のAllocateの排他を消してしまう。
// 単一トランザクションで削除と再挿入を行い、途中状態を外部に見せない。
func (r *PostgresOccupancyRepo) ReplaceAll(ctx context.Context, entries []OccupancyEntry, preserveYoungerThan time.Duration) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM plot_occupants WHERE reserved_at < now() - $1::interval`,
		fmt.Sprintf("%d seconds", int(preserveYoungerThan.Seconds())),
	); err != nil {
		return fmt.Errorf("占有エントリの削除に失敗しました: %w", err)
	}

	for _, e := range entries {
		// 残っている若いエントリが優先。存在する限り排他は保たれる。
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO plot_occupants (participant_id, plot_id, reserved_at)
			 VALUES ($1, $2, now())
			 ON CONFLICT (participant_id) DO NOTHING`,
			e.ParticipantID, e.PlotID,
		); err != nil {
			return fmt.Errorf("占有エントリの再挿入に失敗しました: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}

	return nil
}

// Snapshot は現在のインデックス全体を登録時刻付きで返す。
func (r *PostgresOccupancyRepo) Snapshot(ctx context.Context) ([]OccupancyEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT participant_id, plot_id, reserved_at FROM plot_occupants`,
	)
	if err != nil {
		return nil, fmt.Errorf("占有エントリの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var snapshot []OccupancyEntry
	for rows.Next() {
		var e OccupancyEntry
		if err := rows.Scan(&e.ParticipantID, &e.PlotID, &e.ReservedAt); err != nil {
			return nil, fmt.Errorf("占有エントリの読み取りに失敗しました: %w", err)
		}
		snapshot = append(snapshot, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("占有エントリの走査に失敗しました: %w", err)
	}

	return snapshot, nil
}

// compile-time interface check
var _ OccupancyRepository = (*PostgresOccupancyRepo)(nil)
