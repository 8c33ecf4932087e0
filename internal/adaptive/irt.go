package adaptive

import (
	"math"

	"github.com/timo-math/adaptive-backend/internal/models"
)

const (
	MinAbility = -3.0
	MaxAbility = 3.0
)

// IRTModel is a three-parameter logistic model, updated online one response
// at a time rather than batch-fit.
type IRTModel struct {
	params IRTParams
}

func NewIRTModel(p IRTParams) IRTModel {
	return IRTModel{params: p}
}

// ProbabilityOfCorrectAnswer is c + (1-c) / (1 + e^(-a(θ-b))), clamped to [0,1].
func (m IRTModel) ProbabilityOfCorrectAnswer(ability float64, p models.IRTParameters) float64 {
	logistic := 1.0 / (1.0 + math.Exp(-p.Discrimination*(ability-p.Difficulty)))
	return clamp(p.Guessing+(1-p.Guessing)*logistic, 0, 1)
}

func observed(isCorrect bool) float64 {
	if isCorrect {
		return 1
	}
	return 0
}

// EstimateAbility takes one gradient step toward the observed outcome.
func (m IRTModel) EstimateAbility(currentAbility float64, p models.IRTParameters, isCorrect bool) float64 {
	prob := m.ProbabilityOfCorrectAnswer(currentAbility, p)
	return currentAbility + m.params.AbilityLearningRate*(observed(isCorrect)-prob)
}

// UpdateItemParameters nudges the item toward the observed outcome and
// returns the new parameters; p is not modified.
func (m IRTModel) UpdateItemParameters(p models.IRTParameters, ability float64, isCorrect bool) models.IRTParameters {
	lr := m.params.ItemLearningRate
	obs := observed(isCorrect)
	prob := m.ProbabilityOfCorrectAnswer(ability, p)

	out := p
	out.Difficulty = p.Difficulty + lr*(prob-obs)

	sign := -1.0
	if (isCorrect && ability > p.Difficulty) || (!isCorrect && ability < p.Difficulty) {
		sign = 1.0
	}
	out.Discrimination = clamp(
		p.Discrimination+lr*math.Abs(ability-p.Difficulty)*sign,
		m.params.MinDiscrimination, m.params.MaxDiscrimination,
	)

	if isCorrect && ability < p.Difficulty-1 {
		out.Guessing = math.Min(p.Guessing+lr*m.params.GuessingStep, m.params.MaxGuessing)
	}

	return out
}

// IRTDifficultyToLevel buckets a logit-scale value:
// <-0.5 easy, <0.5 medium, <1.5 hard, else olympiad.
func IRTDifficultyToLevel(b float64) models.DifficultyLevel {
	switch {
	case b < -0.5:
		return models.LevelEasy
	case b < 0.5:
		return models.LevelMedium
	case b < 1.5:
		return models.LevelHard
	default:
		return models.LevelOlympiad
	}
}

// AbilityToLevel clamps θ to [-3,3] before bucketing it like a difficulty.
func AbilityToLevel(theta float64) models.DifficultyLevel {
	return IRTDifficultyToLevel(clamp(theta, MinAbility, MaxAbility))
}
