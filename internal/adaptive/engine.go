// Package adaptive estimates question difficulty and student ability from
// answered questions and decides which difficulty to present next.
//
// Everything here is a pure function of its inputs: callers pass the current
// state in and persist what comes back. An Engine may be shared by any number
// of goroutines.
package adaptive

import (
	"context"
	"math"

	"github.com/timo-math/adaptive-backend/internal/models"
)

type Engine struct {
	params Params

	Elo     EloModel
	BKT     BKTModel
	IRT     IRTModel
	Tracker TrendTracker

	predictor AbilityPredictor
}

type Option func(*Engine)

// WithPredictor plugs in a secondary ability estimate. A nil predictor is
// the same as none.
func WithPredictor(p AbilityPredictor) Option {
	return func(e *Engine) {
		e.predictor = p
	}
}

func New(p Params, opts ...Option) *Engine {
	e := &Engine{
		params:  p,
		Elo:     NewEloModel(p.Elo),
		BKT:     NewBKTModel(p.BKT, p.Thresholds.Mastery),
		IRT:     NewIRTModel(p.IRT),
		Tracker: NewTrendTracker(p.Thresholds, p.Priority),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Params() Params {
	return e.params
}

// ResponseInput is everything the per-question path reads.
type ResponseInput struct {
	CurrentLevel models.DifficultyLevel
	Ability      models.AbilityState
	Item         models.ItemParameters
	Response     models.ResponseEvent
	// PredictedAbility, when set, replaces the gradient-step estimate of θ.
	PredictedAbility *float64
}

type ResponseUpdate struct {
	Ability         models.AbilityState
	Item            models.ItemParameters
	Level           models.DifficultyLevel
	ModelLevels     models.ModelLevels
	ConceptMastered bool
	PredictorUsed   bool
}

// ProcessResponse runs Elo, IRT and BKT on one response and combines their
// levels into a calibration level at most one step from CurrentLevel.
// The input state is not modified.
func (e *Engine) ProcessResponse(in ResponseInput) ResponseUpdate {
	current := in.CurrentLevel.Clamp()
	resp := in.Response
	ability := in.Ability.Clone()
	item := in.Item

	// Both sides of each update use the pre-response values.
	ability.EloRating = e.Elo.NewStudentRating(in.Ability.EloRating, in.Item.EloRating, resp.IsCorrect, resp.ResponseTimeSeconds)
	item.EloRating = e.Elo.NewQuestionDifficulty(in.Item.EloRating, in.Ability.EloRating, resp.IsCorrect, resp.ResponseTimeSeconds)

	ability.IRTAbility = e.IRT.EstimateAbility(in.Ability.IRTAbility, in.Item.IRT, resp.IsCorrect)
	item.IRT = e.IRT.UpdateItemParameters(in.Item.IRT, in.Ability.IRTAbility, resp.IsCorrect)

	predictorUsed := false
	if in.PredictedAbility != nil && isFinite(*in.PredictedAbility) {
		ability.IRTAbility = clamp(*in.PredictedAbility, MinAbility, MaxAbility)
		predictorUsed = true
	}

	prior, ok := ability.ConceptMastery[resp.Subject]
	if !ok {
		prior = e.BKT.Prior()
	}
	knowledge := e.BKT.UpdateKnowledge(prior, resp.IsCorrect)
	ability.ConceptMastery[resp.Subject] = knowledge
	mastered := e.BKT.IsConceptMastered(knowledge)

	levels := models.ModelLevels{
		Elo: EloToLevel(ability.EloRating),
		IRT: AbilityToLevel(ability.IRTAbility),
		BKT: current,
	}
	if mastered {
		levels.BKT = (current + 1).Clamp()
	}

	return ResponseUpdate{
		Ability:         ability,
		Item:            item,
		Level:           smooth(current, e.combine(levels)),
		ModelLevels:     levels,
		ConceptMastered: mastered,
		PredictorUsed:   predictorUsed,
	}
}

func (e *Engine) combine(l models.ModelLevels) models.DifficultyLevel {
	w := e.params.Weights
	total := w.Elo + w.IRT + w.BKT
	if total <= 0 {
		return l.Elo.Clamp()
	}
	weighted := (w.Elo*float64(l.Elo) + w.IRT*float64(l.IRT) + w.BKT*float64(l.BKT)) / total
	return models.DifficultyLevel(math.Round(weighted)).Clamp()
}

// smooth limits the move from current to target to a single level.
func smooth(current, target models.DifficultyLevel) models.DifficultyLevel {
	current = current.Clamp()
	switch {
	case target > current+1:
		target = current + 1
	case target < current-1:
		target = current - 1
	}
	return target.Clamp()
}

// NextDifficultyAfterLesson is the level surfaced to the next session.
// Accuracy above the promote threshold moves up, below the demote threshold
// moves down; in between, the accuracy trend over the last lessons (history
// plus this outcome) decides.
func (e *Engine) NextDifficultyAfterLesson(progress models.LearningProgress, outcome models.LessonOutcome) models.DifficultyLevel {
	current := progress.CurrentLevel.Clamp()
	th := e.params.Thresholds

	switch {
	case outcome.Accuracy >= th.PromoteAccuracy:
		return smooth(current, current+1)
	case outcome.Accuracy < th.DemoteAccuracy:
		return smooth(current, current-1)
	}

	history := make([]models.LessonOutcome, 0, len(progress.History)+1)
	history = append(history, progress.History...)
	history = append(history, outcome)

	slope := e.Tracker.TrendSlope(history, TrendAccuracy)
	switch {
	case slope > th.TrendSlope:
		return smooth(current, current+1)
	case slope < -th.TrendSlope:
		return smooth(current, current-1)
	default:
		return current
	}
}

// ApplyLesson returns the progress record after a completed lesson: next
// level, weak areas and history. The input is not modified.
func (e *Engine) ApplyLesson(progress models.LearningProgress, outcome models.LessonOutcome) models.LearningProgress {
	next := progress
	next.Ability = progress.Ability.Clone()
	next.CurrentLevel = e.NextDifficultyAfterLesson(progress, outcome)
	next.WeakAreas = e.Tracker.UpdateWeakAreas(progress.WeakAreas, outcome)

	history := make([]models.LessonOutcome, 0, len(progress.History)+1)
	history = append(history, progress.History...)
	history = append(history, outcome)
	if limit := e.params.Thresholds.HistoryLimit; limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	next.History = history

	return next
}

// PredictAbility asks the secondary predictor for an estimate. ok is false
// when there is no predictor, it fails, or it returns a non-finite value;
// callers then stay on the deterministic path.
func (e *Engine) PredictAbility(ctx context.Context, current float64, history []models.ResponseEvent) (float64, bool) {
	if e.predictor == nil {
		return 0, false
	}
	v, err := e.predictor.PredictAbility(ctx, current, history)
	if err != nil || !isFinite(v) {
		return 0, false
	}
	return clamp(v, MinAbility, MaxAbility), true
}

// HasPredictor reports whether a secondary predictor is configured.
func (e *Engine) HasPredictor() bool {
	return e.predictor != nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
