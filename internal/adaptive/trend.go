package adaptive

import (
	"math"
	"time"

	"github.com/timo-math/adaptive-backend/internal/models"
)

// TrendField selects which LessonOutcome value a trend is computed over.
type TrendField int

const (
	TrendAccuracy TrendField = iota
	TrendResponseTime
	TrendDifficulty
)

func (f TrendField) value(o models.LessonOutcome) float64 {
	switch f {
	case TrendResponseTime:
		return o.AvgResponseTime
	case TrendDifficulty:
		return float64(o.DifficultyPresented)
	default:
		return o.Accuracy
	}
}

// TrendTracker derives weak areas, priorities and short-horizon trends from
// a student's lesson history. It keeps no state between calls.
type TrendTracker struct {
	thresholds Thresholds
	priority   PriorityParams
}

func NewTrendTracker(t Thresholds, p PriorityParams) TrendTracker {
	return TrendTracker{thresholds: t, priority: p}
}

// UpdateWeakAreas returns the weak-area list after a lesson; the input slice
// is not modified.
//
//	accuracy < weak threshold:      insert, or keep the lower score
//	accuracy > recovered threshold: remove
//	otherwise:                      refresh the timestamp only
func (t TrendTracker) UpdateWeakAreas(weakAreas []models.WeakArea, outcome models.LessonOutcome) []models.WeakArea {
	out := make([]models.WeakArea, 0, len(weakAreas)+1)
	found := false

	for _, wa := range weakAreas {
		if wa.Subject != outcome.Subject {
			out = append(out, wa)
			continue
		}
		found = true
		switch {
		case outcome.Accuracy > t.thresholds.Recovered:
			// recovered: drop it
		case outcome.Accuracy < t.thresholds.WeakArea:
			wa.ConceptScore = math.Min(wa.ConceptScore, outcome.Accuracy)
			wa.LastPracticed = outcome.CompletedAt
			out = append(out, wa)
		default:
			wa.LastPracticed = outcome.CompletedAt
			out = append(out, wa)
		}
	}

	if !found && outcome.Accuracy < t.thresholds.WeakArea {
		out = append(out, models.WeakArea{
			Subject:       outcome.Subject,
			ConceptScore:  clamp(outcome.Accuracy, 0, 1),
			LastPracticed: outcome.CompletedAt,
		})
	}

	return out
}

// TrendSlope is the least-squares slope of field against lesson index over
// the most recent TrendWindow lessons. Fewer than two points, or a singular
// fit, yield 0.
func (t TrendTracker) TrendSlope(history []models.LessonOutcome, field TrendField) float64 {
	window := t.thresholds.TrendWindow
	if window <= 0 || window > len(history) {
		window = len(history)
	}
	if window < 2 {
		return 0
	}
	recent := history[len(history)-window:]

	n := float64(window)
	var sumX, sumY, sumXY, sumXX float64
	for i, o := range recent {
		x := float64(i)
		y := field.value(o)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	den := n*sumXX - sumX*sumX
	if den == 0 {
		return 0
	}
	slope := (n*sumXY - sumX*sumY) / den
	if math.IsNaN(slope) || math.IsInf(slope, 0) {
		return 0
	}
	return slope
}

func (t TrendTracker) Trends(history []models.LessonOutcome) models.Trends {
	return models.Trends{
		Accuracy:     t.TrendSlope(history, TrendAccuracy),
		ResponseTime: t.TrendSlope(history, TrendResponseTime),
		Difficulty:   t.TrendSlope(history, TrendDifficulty),
	}
}

// SubjectPriorities weights each weak subject by how weak it is and how long
// ago it was practiced. Subjects absent from the map have the base priority.
func (t TrendTracker) SubjectPriorities(weakAreas []models.WeakArea, now time.Time) map[string]float64 {
	p := t.priority
	out := make(map[string]float64, len(weakAreas))
	for _, wa := range weakAreas {
		days := now.Sub(wa.LastPracticed).Hours() / 24
		if days < 0 {
			days = 0
		}
		recency := math.Min(days*p.RecencyPerDay, p.MaxRecencyBoost)
		score := clamp(wa.ConceptScore, 0, 1)
		out[wa.Subject] = p.Base + (p.WeaknessScale - p.WeaknessScale*score) + recency
	}
	return out
}

// BasePriority is the priority of a subject with no weak area.
func (t TrendTracker) BasePriority() float64 {
	return t.priority.Base
}

// SummarizeLesson aggregates a lesson's responses into an outcome. ok is
// false until every assigned question has a response. Repeated answers to
// the same question count once, first answer wins.
func (t TrendTracker) SummarizeLesson(lesson models.Lesson, responses []models.ResponseEvent) (models.LessonOutcome, bool) {
	if len(lesson.QuestionIDs) == 0 {
		return models.LessonOutcome{}, false
	}

	assigned := make(map[string]bool, len(lesson.QuestionIDs))
	for _, id := range lesson.QuestionIDs {
		assigned[id] = true
	}

	seen := make(map[string]bool, len(assigned))
	var correct int
	var totalTime float64
	var completedAt time.Time
	for _, r := range responses {
		if !assigned[r.QuestionID] || seen[r.QuestionID] {
			continue
		}
		seen[r.QuestionID] = true
		if r.IsCorrect {
			correct++
		}
		totalTime += r.ResponseTimeSeconds
		if r.AnsweredAt.After(completedAt) {
			completedAt = r.AnsweredAt
		}
	}

	if len(seen) != len(assigned) {
		return models.LessonOutcome{}, false
	}

	n := float64(len(assigned))
	return models.LessonOutcome{
		LessonID:            lesson.ID,
		Subject:             lesson.Subject,
		Accuracy:            float64(correct) / n,
		AvgResponseTime:     totalTime / n,
		DifficultyPresented: lesson.Difficulty.Clamp(),
		CompletedAt:         completedAt,
	}, true
}
