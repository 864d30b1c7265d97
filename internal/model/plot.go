// Package model はドメインモデルを定義する。
package model

import "time"

// Plot は共有対象の土地区画を表す。
type Plot struct {
	ID         string
	OwnerID    string
	Name       string
	Address    string
	SizeSqm    float64
	SoilType   string
	Status     PlotStatus
	IsActive   bool
	Assignment *Assignment
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// PlotStatus は区画の状態を表す。
type PlotStatus string

const (
	// PlotStatusAvailable は割り当て可能な状態。
	PlotStatusAvailable PlotStatus = "available"
	// PlotStatusAllocated は参加者が割り当て済みの状態。
	PlotStatusAllocated PlotStatus = "allocated"
	// PlotStatusCultivated は栽培が開始された状態。
	PlotStatusCultivated PlotStatus = "cultivated"
	// PlotStatusMaintenance は整備中のため割り当てを受け付けない状態。
	PlotStatusMaintenance PlotStatus = "maintenance"
	// PlotStatusUnavailable は所有者都合で提供を停止している状態。
	PlotStatusUnavailable PlotStatus = "unavailable"
	// PlotStatusCancelled は管理者により無効化された状態。
	// レコードは監査のために保持される（is_active=false）。
	PlotStatusCancelled PlotStatus = "cancelled"
)

// Assignment は区画への参加者割り当てを表す。
// Status が allocated または cultivated の場合にのみ存在する。
type Assignment struct {
	PrimaryGardenerID     string
	AdditionalGardenerIDs []string
	VolunteerID           string
	ExpertID              string
	AssignedAt            time.Time
	AssignedBy            string
}

// ParticipantIDs は割り当てに含まれる全参加者のIDを順序付きで返す。
// 順序: 主担当ガーデナー → 追加ガーデナー → ボランティア → 専門家。
func (a *Assignment) ParticipantIDs() []string {
	ids := make([]string, 0, len(a.AdditionalGardenerIDs)+3)
	ids = append(ids, a.PrimaryGardenerID)
	ids = append(ids, a.AdditionalGardenerIDs...)
	if a.VolunteerID != "" {
		ids = append(ids, a.VolunteerID)
	}
	if a.ExpertID != "" {
		ids = append(ids, a.ExpertID)
	}
	return ids
}

// HasAssignment はStatusが割り当てを伴う状態かを返す。
// 不変条件: Assignment != nil ⟺ Status ∈ {allocated, cultivated}
func (s PlotStatus) HasAssignment() bool {
	return s == PlotStatusAllocated || s == PlotStatusCultivated
}
