package adaptive

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/timo-math/adaptive-backend/internal/models"
)

func TestNextDifficultyAfterLesson(t *testing.T) {
	e := New(DefaultParams())

	tests := []struct {
		name     string
		current  models.DifficultyLevel
		history  []models.LessonOutcome
		accuracy float64
		want     models.DifficultyLevel
	}{
		{"high accuracy promotes", models.LevelMedium, nil, 0.95, models.LevelHard},
		{"low accuracy at floor stays", models.LevelEasy, nil, 0.1, models.LevelEasy},
		{"low accuracy demotes", models.LevelHard, nil, 0.1, models.LevelMedium},
		{"perfect at ceiling stays", models.LevelOlympiad, nil, 1.0, models.LevelOlympiad},
		{"first lesson defaults to easy", 0, nil, 0.6, models.LevelEasy},
		{"first lesson promotes from easy", 0, nil, 0.9, models.LevelMedium},
		{"rising trend promotes", models.LevelMedium, accuracies(0.3), 0.85, models.LevelHard},
		{"falling trend demotes", models.LevelMedium, accuracies(0.95), 0.5, models.LevelEasy},
		{"flat trend holds", models.LevelMedium, accuracies(0.6), 0.65, models.LevelMedium},
		{"0.4 is not a demotion", models.LevelMedium, nil, 0.4, models.LevelMedium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			progress := models.LearningProgress{CurrentLevel: tt.current, History: tt.history}
			got := e.NextDifficultyAfterLesson(progress, outcome(models.SubjectArithmetic, tt.accuracy, day0))
			if got != tt.want {
				t.Errorf("NextDifficultyAfterLesson = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextDifficultyAfterLesson_SingleStep(t *testing.T) {
	e := New(DefaultParams())
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 2000; i++ {
		n := rng.Intn(8)
		history := make([]models.LessonOutcome, n)
		for j := range history {
			history[j] = outcome(models.SubjectGeometry, rng.Float64(), day0)
		}
		current := models.DifficultyLevel(rng.Intn(5))
		next := e.NextDifficultyAfterLesson(models.LearningProgress{CurrentLevel: current, History: history},
			outcome(models.SubjectGeometry, rng.Float64(), day0))

		if next < models.MinLevel || next > models.MaxLevel {
			t.Fatalf("level %d out of range", next)
		}
		if d := int(next) - int(current.Clamp()); d > 1 || d < -1 {
			t.Fatalf("level jumped from %d to %d", current.Clamp(), next)
		}
	}
}

func TestApplyLesson(t *testing.T) {
	p := DefaultParams()
	p.Thresholds.HistoryLimit = 5
	e := New(p)

	progress := models.LearningProgress{
		UserID:       7,
		CurrentLevel: models.LevelMedium,
		Ability:      models.NewAbilityState(),
		History:      accuracies(0.5, 0.5, 0.5, 0.5, 0.5),
	}
	progress.Ability.ConceptMastery[models.SubjectGeometry] = 0.3

	next := e.ApplyLesson(progress, outcome(models.SubjectGeometry, 0.3, day0.Add(time.Hour)))

	if next.CurrentLevel != models.LevelEasy {
		t.Errorf("level = %v, want easy", next.CurrentLevel)
	}
	if len(next.History) != 5 {
		t.Errorf("history len = %d, want trimmed to 5", len(next.History))
	}
	if last := next.History[len(next.History)-1]; last.Subject != models.SubjectGeometry {
		t.Errorf("latest outcome not appended: %+v", last)
	}
	if _, ok := findWeak(next.WeakAreas, models.SubjectGeometry); !ok {
		t.Error("geometry not flagged as weak")
	}

	// Original untouched.
	if len(progress.History) != 5 || progress.CurrentLevel != models.LevelMedium || len(progress.WeakAreas) != 0 {
		t.Errorf("input progress modified: %+v", progress)
	}
	next.Ability.ConceptMastery[models.SubjectGeometry] = 1
	if progress.Ability.ConceptMastery[models.SubjectGeometry] != 0.3 {
		t.Error("ability map shared between input and output")
	}
}

func strongStudent() models.AbilityState {
	return models.AbilityState{
		EloRating:      1700,
		IRTAbility:     2.5,
		ConceptMastery: map[string]float64{models.SubjectGeometry: 0.95},
	}
}

func TestProcessResponse_SmoothsUpward(t *testing.T) {
	e := New(DefaultParams())

	got := e.ProcessResponse(ResponseInput{
		CurrentLevel: models.LevelEasy,
		Ability:      strongStudent(),
		Item:         models.DefaultItemParameters(models.LevelHard),
		Response:     models.ResponseEvent{QuestionID: "g1", Subject: models.SubjectGeometry, IsCorrect: true, ResponseTimeSeconds: 12},
	})

	if got.ModelLevels.Elo != models.LevelOlympiad || got.ModelLevels.IRT != models.LevelOlympiad {
		t.Errorf("model levels = %+v, want elo/irt olympiad", got.ModelLevels)
	}
	if got.ModelLevels.BKT != models.LevelMedium || !got.ConceptMastered {
		t.Errorf("bkt level = %v mastered=%v, want medium/true", got.ModelLevels.BKT, got.ConceptMastered)
	}
	if got.Level != models.LevelMedium {
		t.Errorf("level = %v, want medium (one step from easy)", got.Level)
	}
}

func TestProcessResponse_SmoothsDownward(t *testing.T) {
	e := New(DefaultParams())

	got := e.ProcessResponse(ResponseInput{
		CurrentLevel: models.LevelOlympiad,
		Ability: models.AbilityState{
			EloRating:      900,
			IRTAbility:     -2.5,
			ConceptMastery: map[string]float64{models.SubjectArithmetic: 0.1},
		},
		Item:     models.DefaultItemParameters(models.LevelEasy),
		Response: models.ResponseEvent{QuestionID: "a1", Subject: models.SubjectArithmetic, IsCorrect: false, ResponseTimeSeconds: 50},
	})

	if got.Level != models.LevelHard {
		t.Errorf("level = %v, want hard (one step from olympiad)", got.Level)
	}
}

func TestProcessResponse_UpdatesStateWithoutMutation(t *testing.T) {
	e := New(DefaultParams())

	ability := models.NewAbilityState()
	item := models.DefaultItemParameters(models.LevelMedium)

	got := e.ProcessResponse(ResponseInput{
		CurrentLevel: models.LevelMedium,
		Ability:      ability,
		Item:         item,
		Response:     models.ResponseEvent{QuestionID: "n1", Subject: models.SubjectNumberTheory, IsCorrect: true, ResponseTimeSeconds: 30},
	})

	if len(ability.ConceptMastery) != 0 {
		t.Errorf("input mastery map modified: %v", ability.ConceptMastery)
	}
	if got.Ability.EloRating <= ability.EloRating {
		t.Errorf("elo did not rise on correct answer: %f", got.Ability.EloRating)
	}
	if got.Ability.IRTAbility <= ability.IRTAbility {
		t.Errorf("theta did not rise on correct answer: %f", got.Ability.IRTAbility)
	}
	if got.Item.EloRating >= item.EloRating {
		t.Errorf("solved item did not get easier: %f", got.Item.EloRating)
	}
	if got.Item.IRT.Difficulty >= item.IRT.Difficulty {
		t.Errorf("solved item IRT difficulty did not fall: %f", got.Item.IRT.Difficulty)
	}
	want := e.BKT.UpdateKnowledge(0.5, true)
	if k := got.Ability.ConceptMastery[models.SubjectNumberTheory]; !almostEqual(k, want) {
		t.Errorf("new concept mastery = %f, want %f (from prior)", k, want)
	}
	if got.PredictorUsed {
		t.Error("predictor reported used without a prediction")
	}
}

func TestProcessResponse_LevelBounds(t *testing.T) {
	e := New(DefaultParams())
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 2000; i++ {
		current := models.DifficultyLevel(rng.Intn(6) - 1)
		ability := models.AbilityState{
			EloRating:      rng.Float64()*3000 - 500,
			IRTAbility:     rng.Float64()*12 - 6,
			ConceptMastery: map[string]float64{models.SubjectGeometry: rng.Float64()},
		}
		item := models.DefaultItemParameters(models.DifficultyLevel(1 + rng.Intn(4)))
		resp := models.ResponseEvent{Subject: models.SubjectGeometry, IsCorrect: rng.Intn(2) == 0, ResponseTimeSeconds: rng.Float64() * 120}

		got := e.ProcessResponse(ResponseInput{CurrentLevel: current, Ability: ability, Item: item, Response: resp})

		if got.Level < models.MinLevel || got.Level > models.MaxLevel {
			t.Fatalf("level %d out of range", got.Level)
		}
		if d := int(got.Level) - int(current.Clamp()); d > 1 || d < -1 {
			t.Fatalf("level jumped from %d to %d", current.Clamp(), got.Level)
		}
		if k := got.Ability.ConceptMastery[models.SubjectGeometry]; k < 0 || k > 1 {
			t.Fatalf("mastery out of range: %f", k)
		}
	}
}

func TestProcessResponse_PredictedAbility(t *testing.T) {
	e := New(DefaultParams())
	in := ResponseInput{
		CurrentLevel: models.LevelMedium,
		Ability:      models.NewAbilityState(),
		Item:         models.DefaultItemParameters(models.LevelMedium),
		Response:     models.ResponseEvent{Subject: models.SubjectGeometry, IsCorrect: true, ResponseTimeSeconds: 20},
	}

	predicted := 1.8
	in.PredictedAbility = &predicted
	got := e.ProcessResponse(in)
	if !got.PredictorUsed || !almostEqual(got.Ability.IRTAbility, 1.8) {
		t.Errorf("prediction ignored: used=%v theta=%f", got.PredictorUsed, got.Ability.IRTAbility)
	}
	if got.ModelLevels.IRT != models.LevelOlympiad {
		t.Errorf("irt level = %v, want olympiad from predicted theta", got.ModelLevels.IRT)
	}

	nan := math.NaN()
	in.PredictedAbility = &nan
	got = e.ProcessResponse(in)
	if got.PredictorUsed {
		t.Error("NaN prediction used")
	}
}

type stubPredictor struct {
	value float64
	err   error
	calls int
}

func (s *stubPredictor) PredictAbility(ctx context.Context, current float64, history []models.ResponseEvent) (float64, error) {
	s.calls++
	return s.value, s.err
}

func TestPredictAbility_Fallback(t *testing.T) {
	ctx := context.Background()

	if _, ok := New(DefaultParams()).PredictAbility(ctx, 0, nil); ok {
		t.Error("prediction without predictor")
	}

	tests := []struct {
		name   string
		stub   *stubPredictor
		wantOK bool
		want   float64
	}{
		{"value passed through", &stubPredictor{value: 1.2}, true, 1.2},
		{"value clamped", &stubPredictor{value: 7}, true, 3},
		{"error falls back", &stubPredictor{err: errors.New("timeout")}, false, 0},
		{"unavailable falls back", &stubPredictor{err: ErrPredictorUnavailable}, false, 0},
		{"infinity falls back", &stubPredictor{value: math.Inf(1)}, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(DefaultParams(), WithPredictor(tt.stub))
			got, ok := e.PredictAbility(ctx, 0.5, nil)
			if ok != tt.wantOK || (ok && !almostEqual(got, tt.want)) {
				t.Errorf("PredictAbility = (%f, %v), want (%f, %v)", got, ok, tt.want, tt.wantOK)
			}
			if tt.stub.calls != 1 {
				t.Errorf("predictor called %d times, want 1", tt.stub.calls)
			}
		})
	}
}

func TestDefaultParamsValid(t *testing.T) {
	if err := DefaultParams().Validate(); err != nil {
		t.Fatalf("default params invalid: %v", err)
	}

	p := DefaultParams()
	p.BKT.PSlip = 1.5
	p.Weights = Weights{}
	p.Thresholds.TrendWindow = 1
	if err := p.Validate(); err == nil {
		t.Error("invalid params accepted")
	}
}
