package adaptive

import (
	"iter"
	"sort"

	"github.com/timo-math/adaptive-backend/internal/models"
)

// Selector ranks a question pool for the next lesson.
type Selector struct {
	// BasePriority applies to subjects missing from the priority map.
	BasePriority float64
	// Shuffle, when set, randomizes the order among equally ranked
	// questions. Nil keeps pool order, which makes Select deterministic.
	// rand.Shuffle and (*rand.Rand).Shuffle both fit.
	Shuffle func(n int, swap func(i, j int))
}

func (e *Engine) Selector() Selector {
	return Selector{BasePriority: e.Tracker.BasePriority()}
}

type candidate struct {
	q        models.Question
	priority float64
	distance int
}

// Select filters pool to target±1, ranks by subject priority (high first)
// then by distance from target, and yields at most count question IDs.
// Excluded IDs never appear. When fewer than count questions are in range,
// the rest of the pool is ranked the same way and appended after them.
//
// The returned sequence is finite and yields the same IDs for the same
// inputs (unless Shuffle is set). It may be ranged more than once; each
// range ranks the pool again and produces the same IDs.
func (s Selector) Select(pool []models.Question, target models.DifficultyLevel, priorities map[string]float64, excludeIDs []string, count int) iter.Seq[string] {
	return func(yield func(string) bool) {
		if count <= 0 {
			return
		}
		for _, id := range s.rank(pool, target.Clamp(), priorities, excludeIDs, count) {
			if !yield(id) {
				return
			}
		}
	}
}

func (s Selector) rank(pool []models.Question, target models.DifficultyLevel, priorities map[string]float64, excludeIDs []string, count int) []string {
	excluded := make(map[string]bool, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = true
	}

	var inRange, outOfRange []candidate
	seen := make(map[string]bool, len(pool))
	for _, q := range pool {
		if excluded[q.ID] || seen[q.ID] {
			continue
		}
		seen[q.ID] = true

		distance := int(q.Difficulty - target)
		if distance < 0 {
			distance = -distance
		}
		c := candidate{q: q, priority: s.priorityOf(q.Subject, priorities), distance: distance}
		if distance <= 1 {
			inRange = append(inRange, c)
		} else {
			outOfRange = append(outOfRange, c)
		}
	}

	ranked := s.sortCandidates(inRange)
	if len(ranked) < count {
		ranked = append(ranked, s.sortCandidates(outOfRange)...)
	}
	if len(ranked) > count {
		ranked = ranked[:count]
	}

	ids := make([]string, len(ranked))
	for i, c := range ranked {
		ids[i] = c.q.ID
	}
	return ids
}

func (s Selector) priorityOf(subject string, priorities map[string]float64) float64 {
	if p, ok := priorities[subject]; ok {
		return p
	}
	return s.BasePriority
}

func (s Selector) sortCandidates(cs []candidate) []candidate {
	if s.Shuffle != nil {
		s.Shuffle(len(cs), func(i, j int) { cs[i], cs[j] = cs[j], cs[i] })
	}
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].priority != cs[j].priority {
			return cs[i].priority > cs[j].priority
		}
		return cs[i].distance < cs[j].distance
	})
	return cs
}
