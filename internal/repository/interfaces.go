// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/najeeb2500/agrishare/internal/model"
)

// ParticipantRepository は参加者データの永続化インターフェース。
type ParticipantRepository interface {
	// FindByID は指定IDの参加者を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Participant, error)

	// FindByIDs は指定ID群の参加者をまとめて取得し、IDをキーとするマップで返す。
	// 見つからないIDはマップに含まれない。役割の一括検証に使用する。
	FindByIDs(ctx context.Context, ids []string) (map[string]*model.Participant, error)
}

// PlotRepository は区画データの永続化インターフェース。
// statusと割り当てカラムを変更する操作はすべて条件付き更新（CAS）であり、
// 期待した状態からの更新が成立したかをboolで返す。
type PlotRepository interface {
	// FindByID は指定IDの区画を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Plot, error)

	// Create は区画を作成する。
	Create(ctx context.Context, plot *model.Plot) error

	// CommitAssignment は status='available' の場合にのみ割り当てを書き込み、
	// statusをallocatedへ遷移させる。更新行が0の場合はfalseを返す。
	CommitAssignment(ctx context.Context, plotID string, assignment *model.Assignment) (bool, error)

	// ClearAssignment は status IN ('allocated','cultivated') の場合にのみ
	// 割り当てを消去し、statusをavailableへ戻す。更新行が0の場合はfalseを返す。
	// 消去が成立した場合、消去直前の割り当てを返す。占有エントリの解放は
	// 事前読み取りではなくこの値に基づいて行う（読み取りと消去の間の
	// 再割り当てを誤解放しないため）。
	ClearAssignment(ctx context.Context, plotID string) (*model.Assignment, bool, error)

	// UpdateStatusIf は現在のstatusがfromのいずれかに一致する場合にのみtoへ更新する。
	// 割り当てカラムには触れない。更新行が0の場合はfalseを返す。
	UpdateStatusIf(ctx context.Context, plotID string, to model.PlotStatus, from ...model.PlotStatus) (bool, error)

	// Deactivate は現在のstatusがexpectedに一致する場合にのみ区画を無効化する。
	// statusをcancelledへ、is_activeをfalseへ更新し、割り当てカラムを消去する。
	// レコード自体は監査のために残す。更新行が0の場合はfalseを返す。
	// 無効化が成立した場合、消去直前の割り当てを返す（なければnil）。
	Deactivate(ctx context.Context, plotID string, expected model.PlotStatus) (*model.Assignment, bool, error)

	// ListActiveAssignments は割り当てを持つ有効な区画
	// （status IN ('allocated','cultivated') かつ is_active）を返す。
	// 排他インデックスの再構築に使用する。
	ListActiveAssignments(ctx context.Context) ([]*model.Plot, error)

	// ListByOwner は指定所有者の有効な区画一覧を返す。
	ListByOwner(ctx context.Context, ownerID string) ([]*model.Plot, error)
}

// OccupancyEntry は排他インデックスの1エントリ（参加者→占有区画）を表す。
type OccupancyEntry struct {
	ParticipantID string
	PlotID        string
	ReservedAt    time.Time
}

// OccupancyRepository は排他インデックス（plot_occupants）の永続化インターフェース。
type OccupancyRepository interface {
	// Reserve は参加者の占有エントリを条件付きINSERTで登録する。
	// participant_idのPRIMARY KEYにより、同一参加者への並行Reserveは
	// 高々1つしか成功しない。既にエントリが存在する場合はfalseを返す。
	Reserve(ctx context.Context, participantID, plotID string) (bool, error)

	// FindPlotFor は参加者が現在占有している区画のIDを返す。
	// 占有していない場合は空文字列を返す。
	FindPlotFor(ctx context.Context, participantID string) (string, error)

	// Release は参加者の占有エントリを削除する。冪等であり、
	// エントリのplot_idがplotIDと一致しない場合は何もしない
	// （古い割り当ての誤解放を防ぐ）。
	Release(ctx context.Context, participantID, plotID string) error

	// ReplaceAll はインデックス全体をentriesで置き換える。
	// ただし登録からpreserveYoungerThan未満の既存エントリは削除しない。
	// 割り当て確定前の予約（区画側にまだ現れない進行中のエントリ）を
	// 再構築が消してしまうと排他が破れるためである。
	// 単一トランザクションで実行し、再構築に使用する。
	ReplaceAll(ctx context.Context, entries []OccupancyEntry, preserveYoungerThan time.Duration) error

	// Snapshot は現在のインデックス全体を登録時刻付きで返す。
	// ドリフト検査に使用する。
	Snapshot(ctx context.Context) ([]OccupancyEntry, error)
}

// RequestRepository は耕作申請データの永続化インターフェース。
type RequestRepository interface {
	// Create は申請を作成する。
	Create(ctx context.Context, request *model.AllocationRequest) error

	// FindByID は指定IDの申請を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.AllocationRequest, error)

	// ListByStatus は指定状態の申請一覧を作成日時昇順で返す。
	ListByStatus(ctx context.Context, status model.RequestStatus) ([]*model.AllocationRequest, error)

	// ListByRequester は指定申請者の申請一覧を作成日時降順で返す。
	ListByRequester(ctx context.Context, requesterID string) ([]*model.AllocationRequest, error)

	// MarkDecided は status='pending' の場合にのみ申請を終端状態へ更新する
	// （compare-and-swap）。更新行が0の場合はfalseを返す。
	// 裁定の単調性はこの条件付き更新のみで保証される。
	MarkDecided(ctx context.Context, id string, status model.RequestStatus, deciderID string, decidedAt time.Time) (bool, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired は期限切れから指定期間が経過したセッションを削除し、件数を返す。
	DeleteExpired(ctx context.Context, olderThan time.Duration) (int64, error)
}
