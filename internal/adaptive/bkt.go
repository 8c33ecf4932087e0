package adaptive

// BKTModel tracks the probability that a concept is known.
type BKTModel struct {
	params           BKTParams
	masteryThreshold float64
}

func NewBKTModel(p BKTParams, masteryThreshold float64) BKTModel {
	return BKTModel{params: p, masteryThreshold: masteryThreshold}
}

// Prior is the knowledge assumed for a concept never seen before.
func (m BKTModel) Prior() float64 {
	return clamp(m.params.PKnown, 0, 1)
}

// UpdateKnowledge applies, in order, the Bayesian posterior for the
// observation, the learning transition and forgetting. The result is always
// in [0,1].
func (m BKTModel) UpdateKnowledge(priorKnowledge float64, isCorrect bool) float64 {
	k := clamp(priorKnowledge, 0, 1)
	slip, guess := m.params.PSlip, m.params.PGuess

	var num, den float64
	if isCorrect {
		num = k * (1 - slip)
		den = num + (1-k)*guess
	} else {
		num = k * slip
		den = num + (1-k)*(1-guess)
	}
	if den > 0 {
		k = num / den
	}

	k += (1 - k) * m.params.PLearn
	k -= m.params.PForget

	return clamp(k, 0, 1)
}

func (m BKTModel) IsConceptMastered(knowledge float64) bool {
	return knowledge >= m.masteryThreshold
}

// PredictCorrectnessProbability is P(correct) on the next attempt.
func (m BKTModel) PredictCorrectnessProbability(knowledge float64) float64 {
	k := clamp(knowledge, 0, 1)
	return (1-m.params.PSlip)*k + m.params.PGuess*(1-k)
}
