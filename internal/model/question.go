package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Question represents a single multiple-choice exam question.
type Question struct {
	ID           uuid.UUID       `json:"id"`
	ExamID       uuid.UUID       `json:"exam_id"`
	Text         string          `json:"text"`
	Choices      json.RawMessage `json:"choices"`
	CorrectIndex int             `json:"correct_index"`
	OrderNum     int             `json:"order_num"`
}

// AddQuestionRequest is the payload for adding a question to an exam.
type AddQuestionRequest struct {
	Text         string          `json:"text" binding:"required,min=1,max=2000"`
	Choices      json.RawMessage `json:"choices" binding:"required"`
	CorrectIndex int             `json:"correct_index" binding:"min=0"`
	OrderNum     int             `json:"order_num" binding:"min=0"`
}
