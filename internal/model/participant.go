// Package model はドメインモデルを定義する。
package model

import "time"

// Participant はプラットフォームの参加者を表す。
type Participant struct {
	ID        string
	Email     string
	Name      string
	Role      ParticipantRole
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ParticipantRole は参加者の役割を表す。登録後は変更されない。
type ParticipantRole string

const (
	// RoleGardener は区画を耕作するガーデナー。
	RoleGardener ParticipantRole = "gardener"
	// RoleVolunteer は作業を手伝うボランティア。
	RoleVolunteer ParticipantRole = "volunteer"
	// RoleExpert は栽培を指導する専門家。
	RoleExpert ParticipantRole = "expert"
	// RoleLandowner は区画を提供する土地所有者。
	RoleLandowner ParticipantRole = "landowner"
	// RoleAdmin は割り当てと申請裁定を行う管理者。
	RoleAdmin ParticipantRole = "admin"
)

// Session は参加者のログインセッションを表す。
// セッションの発行はプラットフォームのID基盤が行い、
// 本エンジンは検証と破棄のみを担当する。
type Session struct {
	ID            string
	ParticipantID string
	ExpiresAt     time.Time
	CreatedAt     time.Time
}
