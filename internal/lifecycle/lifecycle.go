// Package lifecycle は区画ステータスの状態機械を提供する。
// 遷移判定は副作用を持たず、永続化は呼び出し側の責務とする。
package lifecycle

import (
	"github.com/najeeb2500/agrishare/internal/model"
)

// transitions は許可される遷移の一覧。
// maintenance / unavailable への遷移は割り当てが存在しない状態からのみ許可する。
// 割り当て中の区画は先にReleaseで解放する必要がある。
var transitions = map[model.PlotStatus]map[model.PlotStatus]bool{
	model.PlotStatusAvailable: {
		model.PlotStatusAllocated:   true,
		model.PlotStatusMaintenance: true,
		model.PlotStatusUnavailable: true,
		model.PlotStatusCancelled:   true,
	},
	model.PlotStatusAllocated: {
		model.PlotStatusCultivated: true,
		model.PlotStatusAvailable:  true,
		model.PlotStatusCancelled:  true,
	},
	model.PlotStatusCultivated: {
		model.PlotStatusAvailable: true,
		model.PlotStatusCancelled: true,
	},
	model.PlotStatusMaintenance: {
		model.PlotStatusAvailable:   true,
		model.PlotStatusUnavailable: true,
		model.PlotStatusCancelled:   true,
	},
	model.PlotStatusUnavailable: {
		model.PlotStatusAvailable:   true,
		model.PlotStatusMaintenance: true,
		model.PlotStatusCancelled:   true,
	},
	// cancelled は終端状態。監査のためレコードは残すが再利用しない。
	model.PlotStatusCancelled: {},
}

// CanTransition は from から to への遷移が許可されているかを返す。
func CanTransition(from, to model.PlotStatus) bool {
	allowed, ok := transitions[from]
	if !ok {
		return false
	}
	return allowed[to]
}

// Transition は区画のステータス遷移を検証し、遷移後の区画のコピーを返す。
// 遷移が許可されていない場合はINVALID_TRANSITIONエラーを返す。
// 元の区画は変更しない。
func Transition(plot *model.Plot, to model.PlotStatus) (*model.Plot, error) {
	if !CanTransition(plot.Status, to) {
		return nil, model.NewInvalidTransitionError(plot.ID, plot.Status, to)
	}

	next := *plot
	next.Status = to
	return &next, nil
}

// ReleasableFrom は割り当て解放の起点となれるステータスかを返す。
func ReleasableFrom(status model.PlotStatus) bool {
	return status == model.PlotStatusAllocated || status == model.PlotStatusCultivated
}
