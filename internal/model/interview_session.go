package model

import "time"

const (
	SessionStatusActive = "active"
	SessionStatusEnded  = "ended"
)

// InterviewSession links the candidate's documents to an ordered message
// history. The CV reference is mandatory; jd and questions may be absent.
type InterviewSession struct {
	ID                  uint      `gorm:"primaryKey" json:"id"`
	UserID              uint      `gorm:"not null;index" json:"user_id"`
	Status              string    `gorm:"size:16;not null;default:active" json:"status"`
	CVDocumentID        uint      `gorm:"not null" json:"cv_document_id"`
	JDDocumentID        *uint     `json:"jd_document_id"`
	QuestionsDocumentID *uint     `json:"questions_document_id"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}
