// Package reconcile は排他インデックスの照合ジョブを提供する。
// 起動時にインデックスを区画テーブルから再構築し、以後は定期的に
// ドリフトを検査して、不一致が見つかった場合のみ再構築する。
// 期限切れセッションの削除も同じサイクルで実行する。
package reconcile

import (
	"context"
	"log/slog"
	"time"
)

// IndexService は排他インデックスの再構築・検査インターフェース。
type IndexService interface {
	// Rebuild はインデックス全体を区画テーブルから再構築し、エントリ数を返す。
	Rebuild(ctx context.Context) (int, error)
	// Verify はインデックスと区画テーブルを突き合わせ、不一致エントリ数を返す。
	Verify(ctx context.Context) (int, error)
}

// SessionPurger は期限切れセッションの削除インターフェース。
// repository.SessionRepositoryの部分集合として定義する。
type SessionPurger interface {
	DeleteExpired(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Reconciler は排他インデックスの照合とセッション削除の定期実行を行う。
type Reconciler struct {
	index    IndexService
	sessions SessionPurger
	logger   *slog.Logger

	// SessionPurgeAge は期限切れ後この期間が経過したセッションを削除する猶予。
	SessionPurgeAge time.Duration
}

// NewReconciler はReconcilerの新しいインスタンスを生成する。
// デフォルトのセッション削除猶予は24時間。
func NewReconciler(index IndexService, sessions SessionPurger, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		index:           index,
		sessions:        sessions,
		logger:          logger,
		SessionPurgeAge: 24 * time.Hour,
	}
}

// Start は照合ジョブを起動する。
// 起動直後にインデックスを無条件で再構築し（プロセス再起動をまたいだ
// インデックスは検証なしに信用しない）、以後は指定間隔で照合を実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (r *Reconciler) Start(ctx context.Context, interval time.Duration) {
	r.logger.Info("照合ワーカーを開始しました",
		slog.Duration("interval", interval),
	)

	// 起動時は検査を省略して必ず再構築する
	entries, err := r.index.Rebuild(ctx)
	if err != nil {
		r.logger.Error("起動時のインデックス再構築に失敗しました",
			slog.String("error", err.Error()),
		)
	} else {
		r.logger.Info("起動時のインデックス再構築が完了しました",
			slog.Int("entries", entries),
		)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("照合ワーカーを停止しました")
			return
		case <-ticker.C:
			if err := r.RunOnce(ctx); err != nil {
				r.logger.Error("照合サイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は照合サイクルを1回実行する。
// ドリフト検査 → 不一致があれば再構築 → 期限切れセッション削除の順。
// 冪等: 不一致がない場合は読み取りのみで終了する。
func (r *Reconciler) RunOnce(ctx context.Context) error {
	start := time.Now()

	drift, err := r.index.Verify(ctx)
	if err != nil {
		return err
	}

	if drift > 0 {
		r.logger.Warn("排他インデックスのドリフトを検出しました",
			slog.Int("drift", drift),
		)

		entries, err := r.index.Rebuild(ctx)
		if err != nil {
			return err
		}

		r.logger.Info("排他インデックスを再構築しました",
			slog.Int("entries", entries),
		)
	}

	purged, err := r.sessions.DeleteExpired(ctx, r.SessionPurgeAge)
	if err != nil {
		// セッション削除の失敗は致命的ではないため次サイクルに持ち越す
		r.logger.Error("期限切れセッションの削除に失敗しました",
			slog.String("error", err.Error()),
		)
	} else if purged > 0 {
		r.logger.Info("期限切れセッションを削除しました",
			slog.Int64("purged", purged),
		)
	}

	duration := time.Since(start)
	r.logger.Info("照合サイクルが完了しました",
		slog.Int("drift", drift),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
