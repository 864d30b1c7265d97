// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
// ParticipantID / PlotID / RequestID は失敗の当事者を構造化して保持し、
// 呼び出し側が再問い合わせなしに失敗内容を説明できるようにする。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, allocation, request, system
	Action   string // ユーザー向け対処方法

	ParticipantID string // 競合または不正な参加者のID（該当する場合）
	PlotID        string // 対象区画のID（該当する場合）
	RequestID     string // 対象申請のID（該当する場合）

	Err error // ラップされた下位層のエラー（STORAGE_FAILUREのみ）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap はラップされた下位層のエラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// 定義済みエラーコード
const (
	ErrCodePlotNotFound        = "PLOT_NOT_FOUND"
	ErrCodeRequestNotFound     = "REQUEST_NOT_FOUND"
	ErrCodeParticipantNotFound = "PARTICIPANT_NOT_FOUND"
	ErrCodeInvalidParticipant  = "INVALID_PARTICIPANT"
	ErrCodePlotNotAvailable    = "PLOT_NOT_AVAILABLE"
	ErrCodeAlreadyAllocated    = "ALREADY_ALLOCATED"
	ErrCodeAlreadyDecided      = "ALREADY_DECIDED"
	ErrCodeInvalidTransition   = "INVALID_TRANSITION"
	ErrCodeStorageFailure      = "STORAGE_FAILURE"
)

// NewPlotNotFoundError は区画未検出エラーを生成する。
func NewPlotNotFoundError(plotID string) *APIError {
	return &APIError{
		Code:     ErrCodePlotNotFound,
		Message:  fmt.Sprintf("指定された区画が見つかりません: %s", plotID),
		Category: "allocation",
		Action:   "区画IDを確認してください。",
		PlotID:   plotID,
	}
}

// NewRequestNotFoundError は申請未検出エラーを生成する。
func NewRequestNotFoundError(requestID string) *APIError {
	return &APIError{
		Code:      ErrCodeRequestNotFound,
		Message:   fmt.Sprintf("指定された申請が見つかりません: %s", requestID),
		Category:  "request",
		Action:    "申請IDを確認してください。",
		RequestID: requestID,
	}
}

// NewParticipantNotFoundError は参加者未検出エラーを生成する。
func NewParticipantNotFoundError(participantID string) *APIError {
	return &APIError{
		Code:          ErrCodeParticipantNotFound,
		Message:       fmt.Sprintf("指定された参加者が見つかりません: %s", participantID),
		Category:      "allocation",
		Action:        "参加者IDを確認してください。",
		ParticipantID: participantID,
	}
}

// NewInvalidParticipantError は役割不一致または解決不能な参加者エラーを生成する。
func NewInvalidParticipantError(participantID string, reason string) *APIError {
	return &APIError{
		Code:          ErrCodeInvalidParticipant,
		Message:       fmt.Sprintf("参加者 %s を割り当てに使用できません: %s", participantID, reason),
		Category:      "validation",
		Action:        "参加者のIDと役割を確認してください。",
		ParticipantID: participantID,
	}
}

// NewPlotNotAvailableError は区画の状態前提条件が満たされない場合のエラーを生成する。
func NewPlotNotAvailableError(plotID string, status PlotStatus) *APIError {
	return &APIError{
		Code:     ErrCodePlotNotAvailable,
		Message:  fmt.Sprintf("区画 %s は割り当て可能な状態ではありません（現在: %s）。", plotID, status),
		Category: "allocation",
		Action:   "区画の状態を確認してから再度お試しください。",
		PlotID:   plotID,
	}
}

// NewAlreadyAllocatedError は排他制約の競合エラーを生成する。
// conflictPlotIDには参加者が現在占有している区画のIDを設定する。
func NewAlreadyAllocatedError(participantID, conflictPlotID string) *APIError {
	return &APIError{
		Code:          ErrCodeAlreadyAllocated,
		Message:       fmt.Sprintf("参加者 %s は既に別の区画に割り当てられています。", participantID),
		Category:      "allocation",
		Action:        "先に既存の割り当てを解除するか、別の参加者を指定してください。",
		ParticipantID: participantID,
		PlotID:        conflictPlotID,
	}
}

// NewAlreadyDecidedError は裁定済み申請への再裁定エラーを生成する。
func NewAlreadyDecidedError(requestID string, status RequestStatus) *APIError {
	return &APIError{
		Code:      ErrCodeAlreadyDecided,
		Message:   fmt.Sprintf("申請 %s は既に裁定されています（現在: %s）。", requestID, status),
		Category:  "request",
		Action:    "申請の現在の状態を確認してください。",
		RequestID: requestID,
	}
}

// NewInvalidTransitionError は不正な状態遷移エラーを生成する。
func NewInvalidTransitionError(plotID string, from, to PlotStatus) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTransition,
		Message:  fmt.Sprintf("区画 %s を %s から %s へ遷移させることはできません。", plotID, from, to),
		Category: "allocation",
		Action:   "許可された状態遷移を確認してください。",
		PlotID:   plotID,
	}
}

// NewStorageFailureError は永続化層のエラーをラップして生成する。
// 呼び出し側が再試行してよい唯一のエラー種別。
func NewStorageFailureError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeStorageFailure,
		Message:  fmt.Sprintf("永続化処理に失敗しました: %v", err),
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		Err:      err,
	}
}
