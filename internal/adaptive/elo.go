package adaptive

import (
	"math"

	"github.com/timo-math/adaptive-backend/internal/models"
)

// EloModel rates a student against a question after each answer.
type EloModel struct {
	params EloParams
}

func NewEloModel(p EloParams) EloModel {
	return EloModel{params: p}
}

// ExpectedScore returns the probability that a player rated ratingA beats
// one rated ratingB.
func (m EloModel) ExpectedScore(ratingA, ratingB float64) float64 {
	return 1.0 / (1.0 + math.Pow(10, (ratingB-ratingA)/400))
}

// timeBonus is the unused share of the time limit, in [0,1].
func (m EloModel) timeBonus(seconds float64) float64 {
	if m.params.TimeLimitSeconds <= 0 {
		return 1
	}
	return clamp(1-seconds/m.params.TimeLimitSeconds, 0, 1)
}

// NewStudentRating updates the student's rating. A correct answer scores
// 1.0 minus up to MaxTimePenalty for slow answers; an incorrect one scores 0.
func (m EloModel) NewStudentRating(currentRating, questionDifficulty float64, isCorrect bool, responseTimeSeconds float64) float64 {
	expected := m.ExpectedScore(currentRating, questionDifficulty)

	actual := 0.0
	if isCorrect {
		actual = 1 - m.params.MaxTimePenalty*(1-m.timeBonus(responseTimeSeconds))
	}

	return currentRating + m.params.KFactor*(actual-expected)
}

// NewQuestionDifficulty updates the question's rating from its own side of
// the match: it wins when the student misses, so solved questions drift
// easier and missed ones harder. Response time is not considered.
func (m EloModel) NewQuestionDifficulty(currentDifficulty, studentRating float64, isCorrect bool, _ float64) float64 {
	expected := m.ExpectedScore(currentDifficulty, studentRating)

	actual := 1.0
	if isCorrect {
		actual = 0.0
	}

	return currentDifficulty + m.params.KFactor*(actual-expected)
}

// EloToLevel buckets a rating: <1100 easy, <1300 medium, <1500 hard, else olympiad.
func EloToLevel(rating float64) models.DifficultyLevel {
	switch {
	case rating < 1100:
		return models.LevelEasy
	case rating < 1300:
		return models.LevelMedium
	case rating < 1500:
		return models.LevelHard
	default:
		return models.LevelOlympiad
	}
}

// LevelToElo returns the bucket midpoint for a level.
func LevelToElo(level models.DifficultyLevel) float64 {
	return models.LevelToElo(level)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
