// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/najeeb2500/agrishare/internal/model"
)

const sessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// identityContextKey はリクエストコンテキストに認証済み参加者を格納するためのキー。
var identityContextKey = contextKey("identity")

// Identity は認証済みリクエストの参加者情報。
type Identity struct {
	ParticipantID string
	Role          model.ParticipantRole
}

// SessionFinder はセッションの検索に必要なインターフェース。
// repository.SessionRepositoryの部分集合として定義する。
type SessionFinder interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// ParticipantFinder は参加者の検索に必要なインターフェース。
// repository.ParticipantRepositoryの部分集合として定義する。
type ParticipantFinder interface {
	FindByID(ctx context.Context, id string) (*model.Participant, error)
}

// NewSessionMiddleware はHTTP Only Cookieからセッションを読み取り、
// 有効性を検証するミドルウェアを返す。
// 認証済み参加者のIDと役割をリクエストコンテキストに注入する。
// 未認証リクエストおよび無効化済み参加者には401 Unauthorizedを返す。
func NewSessionMiddleware(sessionFinder SessionFinder, participantFinder ParticipantFinder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(sessionCookieName)
			if err != nil || cookie.Value == "" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			session, err := sessionFinder.FindByID(r.Context(), cookie.Value)
			if err != nil {
				slog.Error("failed to find session",
					slog.String("error", err.Error()),
				)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if session == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			// 役割の判定に参加者レコードが必要
			participant, err := participantFinder.FindByID(r.Context(), session.ParticipantID)
			if err != nil {
				slog.Error("failed to find participant",
					slog.String("error", err.Error()),
				)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if participant == nil || !participant.IsActive {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			identity := Identity{
				ParticipantID: participant.ID,
				Role:          participant.Role,
			}
			ctx := context.WithValue(r.Context(), identityContextKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewRequireRoleMiddleware は認証済み参加者の役割を検査するミドルウェアを返す。
// 許可された役割のいずれにも一致しない場合は403 Forbiddenを返す。
// SessionMiddlewareの後に配置すること。
func NewRequireRoleMiddleware(roles ...model.ParticipantRole) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := IdentityFromContext(r.Context())
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			for _, role := range roles {
				if identity.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}

			http.Error(w, "forbidden", http.StatusForbidden)
		})
	}
}

// IdentityFromContext はリクエストコンテキストから認証済み参加者を取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func IdentityFromContext(ctx context.Context) (Identity, error) {
	identity, ok := ctx.Value(identityContextKey).(Identity)
	if !ok || identity.ParticipantID == "" {
		return Identity{}, fmt.Errorf("identity not found in context")
	}
	return identity, nil
}

// ParticipantIDFromContext はリクエストコンテキストから参加者IDを取得する。
func ParticipantIDFromContext(ctx context.Context) (string, error) {
	identity, err := IdentityFromContext(ctx)
	if err != nil {
		return "", err
	}
	return identity.ParticipantID, nil
}

// ContextWithIdentity はコンテキストに認証済み参加者を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}
