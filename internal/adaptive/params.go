package adaptive

import (
	"errors"
	"fmt"
)

type EloParams struct {
	KFactor          float64 `yaml:"k_factor"`
	TimeLimitSeconds float64 `yaml:"time_limit_seconds"`
	MaxTimePenalty   float64 `yaml:"max_time_penalty"`
}

type BKTParams struct {
	PLearn  float64 `yaml:"p_learn"`
	PGuess  float64 `yaml:"p_guess"`
	PSlip   float64 `yaml:"p_slip"`
	PKnown  float64 `yaml:"p_known"`
	PForget float64 `yaml:"p_forget"`
}

type IRTParams struct {
	AbilityLearningRate float64 `yaml:"ability_learning_rate"`
	ItemLearningRate    float64 `yaml:"item_learning_rate"`
	MinDiscrimination   float64 `yaml:"min_discrimination"`
	MaxDiscrimination   float64 `yaml:"max_discrimination"`
	MaxGuessing         float64 `yaml:"max_guessing"`
	// GuessingStep is multiplied by ItemLearningRate when a low-ability
	// student answers correctly.
	GuessingStep float64 `yaml:"guessing_step"`
}

// Weights combine the per-model levels in the per-question decision.
type Weights struct {
	Elo float64 `yaml:"elo"`
	IRT float64 `yaml:"irt"`
	BKT float64 `yaml:"bkt"`
}

type Thresholds struct {
	Mastery         float64 `yaml:"mastery"`
	WeakArea        float64 `yaml:"weak_area"`
	Recovered       float64 `yaml:"recovered"`
	PromoteAccuracy float64 `yaml:"promote_accuracy"`
	DemoteAccuracy  float64 `yaml:"demote_accuracy"`
	TrendSlope      float64 `yaml:"trend_slope"`
	TrendWindow     int     `yaml:"trend_window"`
	HistoryLimit    int     `yaml:"history_limit"`
}

type PriorityParams struct {
	Base            float64 `yaml:"base"`
	WeaknessScale   float64 `yaml:"weakness_scale"`
	RecencyPerDay   float64 `yaml:"recency_per_day"`
	MaxRecencyBoost float64 `yaml:"max_recency_boost"`
}

// Params holds every tunable of the engine. The defaults are the product's
// current values; none of them has a validated derivation.
type Params struct {
	Elo        EloParams      `yaml:"elo"`
	BKT        BKTParams      `yaml:"bkt"`
	IRT        IRTParams      `yaml:"irt"`
	Weights    Weights        `yaml:"weights"`
	Thresholds Thresholds     `yaml:"thresholds"`
	Priority   PriorityParams `yaml:"priority"`
}

func DefaultParams() Params {
	return Params{
		Elo: EloParams{
			KFactor:          32,
			TimeLimitSeconds: 60,
			MaxTimePenalty:   0.2,
		},
		BKT: BKTParams{
			PLearn:  0.4,
			PGuess:  0.25,
			PSlip:   0.1,
			PKnown:  0.5,
			PForget: 0.05,
		},
		IRT: IRTParams{
			AbilityLearningRate: 0.1,
			ItemLearningRate:    0.05,
			MinDiscrimination:   0.2,
			MaxDiscrimination:   2.0,
			MaxGuessing:         0.5,
			GuessingStep:        0.2,
		},
		Weights: Weights{Elo: 0.5, IRT: 0.3, BKT: 0.2},
		Thresholds: Thresholds{
			Mastery:         0.85,
			WeakArea:        0.7,
			Recovered:       0.8,
			PromoteAccuracy: 0.9,
			DemoteAccuracy:  0.4,
			TrendSlope:      0.2,
			TrendWindow:     5,
			HistoryLimit:    50,
		},
		Priority: PriorityParams{
			Base:            1.0,
			WeaknessScale:   2.0,
			RecencyPerDay:   0.05,
			MaxRecencyBoost: 0.5,
		},
	}
}

func probability(name string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%s must be in [0,1], got %g", name, v)
	}
	return nil
}

// Validate rejects parameter sets the models cannot run with. It is meant for
// the configuration boundary; the models themselves stay total.
func (p Params) Validate() error {
	var errs []error
	if p.Elo.KFactor <= 0 {
		errs = append(errs, fmt.Errorf("elo.k_factor must be positive, got %g", p.Elo.KFactor))
	}
	if p.Elo.TimeLimitSeconds <= 0 {
		errs = append(errs, fmt.Errorf("elo.time_limit_seconds must be positive, got %g", p.Elo.TimeLimitSeconds))
	}
	errs = append(errs,
		probability("elo.max_time_penalty", p.Elo.MaxTimePenalty),
		probability("bkt.p_learn", p.BKT.PLearn),
		probability("bkt.p_guess", p.BKT.PGuess),
		probability("bkt.p_slip", p.BKT.PSlip),
		probability("bkt.p_known", p.BKT.PKnown),
		probability("bkt.p_forget", p.BKT.PForget),
		probability("irt.max_guessing", p.IRT.MaxGuessing),
		probability("thresholds.mastery", p.Thresholds.Mastery),
		probability("thresholds.weak_area", p.Thresholds.WeakArea),
		probability("thresholds.recovered", p.Thresholds.Recovered),
	)
	if p.IRT.MinDiscrimination <= 0 || p.IRT.MaxDiscrimination < p.IRT.MinDiscrimination {
		errs = append(errs, fmt.Errorf("irt discrimination bounds invalid: [%g, %g]", p.IRT.MinDiscrimination, p.IRT.MaxDiscrimination))
	}
	if p.Weights.Elo < 0 || p.Weights.IRT < 0 || p.Weights.BKT < 0 {
		errs = append(errs, errors.New("weights must not be negative"))
	}
	if p.Weights.Elo+p.Weights.IRT+p.Weights.BKT <= 0 {
		errs = append(errs, errors.New("weights must not all be zero"))
	}
	if p.Thresholds.WeakArea > p.Thresholds.Recovered {
		errs = append(errs, fmt.Errorf("thresholds.weak_area (%g) above thresholds.recovered (%g)", p.Thresholds.WeakArea, p.Thresholds.Recovered))
	}
	if p.Thresholds.TrendWindow < 2 {
		errs = append(errs, fmt.Errorf("thresholds.trend_window must be at least 2, got %d", p.Thresholds.TrendWindow))
	}
	if p.Thresholds.HistoryLimit < p.Thresholds.TrendWindow {
		errs = append(errs, fmt.Errorf("thresholds.history_limit (%d) below trend_window (%d)", p.Thresholds.HistoryLimit, p.Thresholds.TrendWindow))
	}
	return errors.Join(errs...)
}
