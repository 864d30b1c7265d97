// Package model はドメインモデルを定義する。
package model

import "time"

// AllocationRequest はガーデナーによる区画の耕作申請を表す。
type AllocationRequest struct {
	ID             string
	PlotID         string
	RequesterID    string
	Crop           string
	DurationMonths int
	Message        string
	Status         RequestStatus
	DecidedBy      string
	DecidedAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RequestStatus は申請の状態を表す。
// pending以外に遷移した後は二度と変化しない（単調性）。
type RequestStatus string

const (
	// RequestStatusPending は裁定待ちの状態。
	RequestStatusPending RequestStatus = "pending"
	// RequestStatusApproved は承認された終端状態。
	RequestStatusApproved RequestStatus = "approved"
	// RequestStatusRejected は却下された終端状態。
	RequestStatusRejected RequestStatus = "rejected"
)

// IsDecided は申請が終端状態に到達したかを返す。
func (s RequestStatus) IsDecided() bool {
	return s == RequestStatusApproved || s == RequestStatusRejected
}

// IsDecided は申請が終端状態に到達したかを返す。
func (r *AllocationRequest) IsDecided() bool {
	return r.Status.IsDecided()
}
