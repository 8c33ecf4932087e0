package models

import (
	"time"

	"github.com/google/uuid"
)

// ── API Request/Response Types ────────────────────────────

type SubmitResponseRequest struct {
	LessonID            uuid.UUID  `json:"lesson_id"`
	QuestionID          string     `json:"question_id"`
	IsCorrect           bool       `json:"is_correct"`
	ResponseTimeSeconds float64    `json:"response_time_seconds"`
	AnsweredAt          *time.Time `json:"answered_at,omitempty"`
}

type ModelLevels struct {
	Elo DifficultyLevel `json:"elo"`
	IRT DifficultyLevel `json:"irt"`
	BKT DifficultyLevel `json:"bkt"`
}

type SubmitResponseResponse struct {
	Correct          bool            `json:"correct"`
	CalibrationLevel DifficultyLevel `json:"calibration_level"`
	ModelLevels      *ModelLevels    `json:"model_levels,omitempty"`
	Ability          AbilityState    `json:"ability"`
	ConceptMastered  bool            `json:"concept_mastered"`
	PredictorUsed    bool            `json:"predictor_used"`
	AlreadyAnswered  bool            `json:"already_answered,omitempty"`
	LessonCompleted  bool            `json:"lesson_completed"`
	Outcome          *LessonOutcome  `json:"outcome,omitempty"`
	// NextLevel is the level the next lesson will use.
	NextLevel        DifficultyLevel `json:"next_level"`
}

type NextLessonRequest struct {
	Count int `json:"count"`
}

type LessonOutcomeRequest struct {
	Subject             string          `json:"subject"`
	Accuracy            float64         `json:"accuracy"`
	AvgResponseTime     float64         `json:"avg_response_time"`
	DifficultyPresented DifficultyLevel `json:"difficulty_presented"`
}

type LessonDecisionResponse struct {
	PreviousLevel DifficultyLevel `json:"previous_level"`
	NextLevel     DifficultyLevel `json:"next_level"`
	WeakAreas     []WeakArea      `json:"weak_areas"`
}

type Trends struct {
	Accuracy     float64 `json:"accuracy"`
	ResponseTime float64 `json:"response_time"`
	Difficulty   float64 `json:"difficulty"`
}

type ProgressResponse struct {
	CurrentLevel      DifficultyLevel    `json:"current_level"`
	Ability           AbilityState       `json:"ability"`
	MasteredConcepts  []string           `json:"mastered_concepts"`
	WeakAreas         []WeakArea         `json:"weak_areas"`
	SubjectPriorities map[string]float64 `json:"subject_priorities"`
	Trends            Trends             `json:"trends"`
	LessonsCompleted  int                `json:"lessons_completed"`
}
