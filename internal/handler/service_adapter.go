package handler

import (
	"context"

	"github.com/najeeb2500/agrishare/internal/allocation"
	"github.com/najeeb2500/agrishare/internal/model"
	"github.com/najeeb2500/agrishare/internal/repository"
	"github.com/najeeb2500/agrishare/internal/request"
)

// AuthServiceAdapter はセッション・参加者リポジトリを
// AuthServiceInterface に適合させるアダプタ。
type AuthServiceAdapter struct {
	sessionRepo     repository.SessionRepository
	participantRepo repository.ParticipantRepository
}

// NewAuthServiceAdapter はAuthServiceAdapterを生成する。
func NewAuthServiceAdapter(sessionRepo repository.SessionRepository, participantRepo repository.ParticipantRepository) *AuthServiceAdapter {
	return &AuthServiceAdapter{
		sessionRepo:     sessionRepo,
		participantRepo: participantRepo,
	}
}

// GetCurrentParticipant はセッションIDから参加者を解決する。
func (a *AuthServiceAdapter) GetCurrentParticipant(ctx context.Context, sessionID string) (*model.Participant, error) {
	session, err := a.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, nil
	}
	return a.participantRepo.FindByID(ctx, session.ParticipantID)
}

// Logout はセッションを破棄する。
func (a *AuthServiceAdapter) Logout(ctx context.Context, sessionID string) error {
	return a.sessionRepo.DeleteByID(ctx, sessionID)
}

// --- compile-time interface checks ---

var _ AuthServiceInterface = (*AuthServiceAdapter)(nil)
var _ AllocationServiceInterface = (*allocation.Engine)(nil)
var _ RequestServiceInterface = (*request.Workflow)(nil)
var _ PlotStoreInterface = (repository.PlotRepository)(nil)
