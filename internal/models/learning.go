package models

import (
	"time"

	"github.com/google/uuid"
)

// DifficultyLevel is the user-facing tier every model output is mapped into.
type DifficultyLevel int

const (
	LevelEasy     DifficultyLevel = 1
	LevelMedium   DifficultyLevel = 2
	LevelHard     DifficultyLevel = 3
	LevelOlympiad DifficultyLevel = 4
)

const (
	MinLevel = LevelEasy
	MaxLevel = LevelOlympiad
)

// Clamp forces the level into [1,4]. The zero value (no history) becomes Easy.
func (l DifficultyLevel) Clamp() DifficultyLevel {
	if l < MinLevel {
		return MinLevel
	}
	if l > MaxLevel {
		return MaxLevel
	}
	return l
}

func (l DifficultyLevel) String() string {
	switch l {
	case LevelEasy:
		return "easy"
	case LevelMedium:
		return "medium"
	case LevelHard:
		return "hard"
	case LevelOlympiad:
		return "olympiad"
	default:
		return "unknown"
	}
}

// Subjects known to the question bank.
const (
	SubjectLogicalThinking = "Logical Thinking"
	SubjectArithmetic      = "Arithmetic"
	SubjectNumberTheory    = "Number Theory"
	SubjectGeometry        = "Geometry"
	SubjectCombinatorics   = "Combinatorics"
)

var ValidSubjects = map[string]bool{
	SubjectLogicalThinking: true,
	SubjectArithmetic:      true,
	SubjectNumberTheory:    true,
	SubjectGeometry:        true,
	SubjectCombinatorics:   true,
}

const (
	DefaultEloRating  = 1200.0
	DefaultIRTAbility = 0.0
)

// AbilityState is a student's latent skill across the three models.
// ConceptMastery holds BKT knowledge probabilities keyed by subject;
// a missing entry reads as the BKT prior.
type AbilityState struct {
	EloRating      float64            `json:"elo_rating"`
	IRTAbility     float64            `json:"irt_ability"`
	ConceptMastery map[string]float64 `json:"concept_mastery"`
}

func NewAbilityState() AbilityState {
	return AbilityState{
		EloRating:      DefaultEloRating,
		IRTAbility:     DefaultIRTAbility,
		ConceptMastery: map[string]float64{},
	}
}

// Clone returns a copy that shares no map with the receiver.
func (a AbilityState) Clone() AbilityState {
	out := a
	out.ConceptMastery = make(map[string]float64, len(a.ConceptMastery))
	for k, v := range a.ConceptMastery {
		out.ConceptMastery[k] = v
	}
	return out
}

type IRTParameters struct {
	Discrimination float64 `json:"discrimination" yaml:"discrimination"`
	Difficulty     float64 `json:"difficulty" yaml:"difficulty"`
	Guessing       float64 `json:"guessing" yaml:"guessing"`
}

type ItemParameters struct {
	EloRating float64       `json:"elo_rating"`
	IRT       IRTParameters `json:"irt"`
}

var levelElo = map[DifficultyLevel]float64{
	LevelEasy:     1000,
	LevelMedium:   1200,
	LevelHard:     1400,
	LevelOlympiad: 1600,
}

var levelIRTDifficulty = map[DifficultyLevel]float64{
	LevelEasy:     -1.0,
	LevelMedium:   0.0,
	LevelHard:     1.0,
	LevelOlympiad: 2.0,
}

// LevelToElo returns the representative rating for a level.
func LevelToElo(level DifficultyLevel) float64 {
	return levelElo[level.Clamp()]
}

// DefaultItemParameters derives starting parameters for a question that has
// no learned values yet.
func DefaultItemParameters(level DifficultyLevel) ItemParameters {
	level = level.Clamp()
	return ItemParameters{
		EloRating: levelElo[level],
		IRT: IRTParameters{
			Discrimination: 1.0,
			Difficulty:     levelIRTDifficulty[level],
			Guessing:       0.25,
		},
	}
}

// ResponseEvent is one answered question. Subject doubles as the BKT concept.
type ResponseEvent struct {
	QuestionID          string    `json:"question_id"`
	Subject             string    `json:"subject"`
	IsCorrect           bool      `json:"is_correct"`
	ResponseTimeSeconds float64   `json:"response_time_seconds"`
	AnsweredAt          time.Time `json:"answered_at"`
}

type LessonOutcome struct {
	LessonID            uuid.UUID       `json:"lesson_id"`
	Subject             string          `json:"subject"`
	Accuracy            float64         `json:"accuracy"`
	AvgResponseTime     float64         `json:"avg_response_time"`
	DifficultyPresented DifficultyLevel `json:"difficulty_presented"`
	CompletedAt         time.Time       `json:"completed_at"`
}

type WeakArea struct {
	Subject       string    `json:"subject"`
	ConceptScore  float64   `json:"concept_score"`
	LastPracticed time.Time `json:"last_practiced"`
}

// Question is a pool entry as supplied by the question repository.
// Params is nil until the item has learned parameters.
type Question struct {
	ID         string          `json:"id"`
	Subject    string          `json:"subject"`
	Difficulty DifficultyLevel `json:"difficulty"`
	Params     *ItemParameters `json:"params,omitempty"`
}

// ItemParams returns the learned parameters or the level defaults.
func (q Question) ItemParams() ItemParameters {
	if q.Params != nil {
		return *q.Params
	}
	return DefaultItemParameters(q.Difficulty)
}

// LearningProgress is the per-student record handed to the engine.
// History is ordered oldest first.
type LearningProgress struct {
	UserID       int64           `json:"user_id"`
	CurrentLevel DifficultyLevel `json:"current_level"`
	Ability      AbilityState    `json:"ability"`
	WeakAreas    []WeakArea      `json:"weak_areas"`
	History      []LessonOutcome `json:"history"`
	Version      int64           `json:"-"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type Lesson struct {
	ID          uuid.UUID       `json:"id"`
	UserID      int64           `json:"user_id"`
	Subject     string          `json:"subject"`
	Difficulty  DifficultyLevel `json:"difficulty"`
	QuestionIDs []string        `json:"question_ids"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// Contains reports whether questionID was assigned to the lesson.
func (l Lesson) Contains(questionID string) bool {
	for _, id := range l.QuestionIDs {
		if id == questionID {
			return true
		}
	}
	return false
}
