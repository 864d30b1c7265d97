// Package security はアプリケーションのセキュリティ機能を提供する。
//
// MessageSanitizerService は申請メッセージなどの利用者入力テキストを
// サニタイズし、XSS攻撃などのセキュリティリスクから管理画面の閲覧者を
// 保護する。bluemondayのStrictPolicyにより、HTMLタグを一切許可しない。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// MessageSanitizerService は利用者入力テキストのサニタイズ機能のインターフェースを定義する。
// 申請メッセージの保存前に使用される。
type MessageSanitizerService interface {
	// Sanitize は入力テキストからすべてのHTMLタグを除去して返す。
	// 申請メッセージは平文であり、マークアップを許可する理由がないため
	// StrictPolicyを適用する。前後の空白も取り除く。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// messageSanitizer はMessageSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type messageSanitizer struct {
	policy *bluemonday.Policy
}

// NewMessageSanitizer はMessageSanitizerServiceの新しいインスタンスを生成する。
func NewMessageSanitizer() *messageSanitizer {
	return &messageSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は入力テキストからすべてのHTMLタグを除去して返す。
func (s *messageSanitizer) Sanitize(raw string) string {
	return strings.TrimSpace(s.policy.Sanitize(raw))
}
