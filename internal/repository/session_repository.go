package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"interviewsim/internal/model"
)

type SessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(session *model.InterviewSession) error {
	if err := r.db.Create(session).Error; err != nil {
		return fmt.Errorf("create interview session failed: %w", err)
	}
	return nil
}

func (r *SessionRepository) ListByUserID(userID uint) ([]model.InterviewSession, error) {
	var sessions []model.InterviewSession
	if err := r.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("list interview sessions failed: %w", err)
	}
	return sessions, nil
}

func (r *SessionRepository) GetByIDAndUserID(sessionID, userID uint) (*model.InterviewSession, error) {
	var session model.InterviewSession
	if err := r.db.Where("id = ? AND user_id = ?", sessionID, userID).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get interview session failed: %w", err)
	}
	return &session, nil
}

func (r *SessionRepository) UpdateStatus(sessionID uint, status string) error {
	if err := r.db.Model(&model.InterviewSession{}).
		Where("id = ?", sessionID).
		Update("status", status).Error; err != nil {
		return fmt.Errorf("update interview session status failed: %w", err)
	}
	return nil
}
