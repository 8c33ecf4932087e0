// Package learning persists learner state and drives the adaptive engine
// for the HTTP API.
package learning

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/timo-math/adaptive-backend/internal/adaptive"
	"github.com/timo-math/adaptive-backend/internal/cache"
	"github.com/timo-math/adaptive-backend/internal/logger"
	"github.com/timo-math/adaptive-backend/internal/models"
	"github.com/timo-math/adaptive-backend/internal/predictor"
)

const (
	// maxSaveAttempts bounds retries when a concurrent request for the
	// same student wins the versioned write.
	maxSaveAttempts = 3

	seenWindow        = 7 * 24 * time.Hour
	defaultLessonSize = 5
	maxLessonSize     = 20
)

// Repository is the persistence the service needs. *Store implements it.
type Repository interface {
	GetOrCreateProgress(ctx context.Context, userID int64) (models.LearningProgress, error)
	// SaveResponse and SaveLessonOutcome write atomically and return
	// ErrVersionConflict when p is stale.
	SaveResponse(ctx context.Context, p models.LearningProgress, lessonID uuid.UUID, ev models.ResponseEvent) error
	SaveLessonOutcome(ctx context.Context, p models.LearningProgress, o models.LessonOutcome) error
	CountOutcomes(ctx context.Context, userID int64) (int, error)

	GetQuestion(ctx context.Context, id string) (models.Question, error)
	ListQuestions(ctx context.Context) ([]models.Question, error)
	SaveItemParameters(ctx context.Context, id string, p models.ItemParameters) error

	RecentResponses(ctx context.Context, userID int64, limit int) ([]models.ResponseEvent, error)
	LessonResponses(ctx context.Context, lessonID uuid.UUID) ([]models.ResponseEvent, error)
	RecentlySeen(ctx context.Context, userID int64, since time.Time) ([]string, error)

	CreateLesson(ctx context.Context, l models.Lesson) error
	GetLesson(ctx context.Context, userID int64, id uuid.UUID) (models.Lesson, error)
}

type Service struct {
	engine   *adaptive.Engine
	selector adaptive.Selector
	repo     Repository
	pool     *cache.PoolCache
	log      *logger.Logger
	now      func() time.Time
}

type ServiceOption func(*Service)

// WithShuffle randomizes the order of equally ranked questions.
func WithShuffle(shuffle func(n int, swap func(i, j int))) ServiceOption {
	return func(s *Service) {
		s.selector.Shuffle = shuffle
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(engine *adaptive.Engine, repo Repository, pool *cache.PoolCache, log *logger.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		engine:   engine,
		selector: engine.Selector(),
		repo:     repo,
		pool:     pool,
		log:      log.With("service", "LearningService"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ── Per-Question Path ───────────────────────────────────

// SubmitResponse records an answer and updates the student's ability. The
// response and the ability are written together. Resubmitting an answer
// already recorded for the lesson leaves the models untouched and only
// retries completing the lesson.
func (s *Service) SubmitResponse(ctx context.Context, userID int64, req models.SubmitResponseRequest) (*models.SubmitResponseResponse, error) {
	if req.QuestionID == "" || req.LessonID == uuid.Nil {
		return nil, fmt.Errorf("%w: lesson_id and question_id are required", ErrInvalidInput)
	}
	if math.IsNaN(req.ResponseTimeSeconds) || math.IsInf(req.ResponseTimeSeconds, 0) || req.ResponseTimeSeconds < 0 {
		return nil, fmt.Errorf("%w: response_time_seconds must be a non-negative number", ErrInvalidInput)
	}

	lesson, err := s.repo.GetLesson(ctx, userID, req.LessonID)
	if err != nil {
		return nil, err
	}
	if lesson.CompletedAt != nil {
		return nil, ErrLessonComplete
	}
	if !lesson.Contains(req.QuestionID) {
		return nil, ErrNotInLesson
	}

	question, err := s.repo.GetQuestion(ctx, req.QuestionID)
	if err != nil {
		return nil, err
	}

	answeredAt := s.now().UTC()
	if req.AnsweredAt != nil {
		answeredAt = req.AnsweredAt.UTC()
	}
	event := models.ResponseEvent{
		QuestionID:          question.ID,
		Subject:             question.Subject,
		IsCorrect:           req.IsCorrect,
		ResponseTimeSeconds: req.ResponseTimeSeconds,
		AnsweredAt:          answeredAt,
	}

	var (
		update    adaptive.ResponseUpdate
		progress  models.LearningProgress
		prior     *models.ResponseEvent
		predicted *float64
	)
	for attempt := 1; ; attempt++ {
		// Checked on every attempt: a conflicting writer may have been a
		// concurrent submission of this same answer.
		prior, err = s.priorAnswer(ctx, lesson.ID, question.ID)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			break
		}
		if attempt == 1 {
			predicted = s.predictAbility(ctx, userID, event)
		}

		progress, err = s.repo.GetOrCreateProgress(ctx, userID)
		if err != nil {
			return nil, err
		}
		update = s.engine.ProcessResponse(adaptive.ResponseInput{
			CurrentLevel:     progress.CurrentLevel,
			Ability:          progress.Ability,
			Item:             question.ItemParams(),
			Response:         event,
			PredictedAbility: predicted,
		})
		// The calibration level is reported, never stored: only a completed
		// lesson moves CurrentLevel.
		progress.Ability = update.Ability

		err = s.repo.SaveResponse(ctx, progress, lesson.ID, event)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrVersionConflict) || attempt == maxSaveAttempts {
			return nil, err
		}
		s.log.Debug("progress version conflict, retrying", "user_id", userID, "attempt", attempt)
	}

	var resp *models.SubmitResponseResponse
	if prior != nil {
		resp, err = s.repeatedAnswer(ctx, userID, *prior)
		if err != nil {
			return nil, err
		}
	} else {
		// Item parameters are shared across students; last write wins.
		if err := s.repo.SaveItemParameters(ctx, question.ID, update.Item); err != nil {
			s.log.Warn("failed to save item parameters", "question_id", question.ID, "error", err)
		} else {
			s.pool.Invalidate(ctx)
		}
		resp = &models.SubmitResponseResponse{
			Correct:          event.IsCorrect,
			CalibrationLevel: update.Level,
			ModelLevels:      &update.ModelLevels,
			Ability:          update.Ability,
			ConceptMastered:  update.ConceptMastered,
			PredictorUsed:    update.PredictorUsed,
			NextLevel:        progress.CurrentLevel.Clamp(),
		}
	}

	outcome, decision, err := s.completeIfAnswered(ctx, userID, lesson)
	if err != nil {
		return nil, err
	}
	if decision != nil {
		resp.LessonCompleted = true
		resp.Outcome = &outcome
		resp.NextLevel = decision.NextLevel
	}

	return resp, nil
}

// priorAnswer returns the stored response to questionID in the lesson, or
// nil when it has not been answered yet.
func (s *Service) priorAnswer(ctx context.Context, lessonID uuid.UUID, questionID string) (*models.ResponseEvent, error) {
	responses, err := s.repo.LessonResponses(ctx, lessonID)
	if err != nil {
		return nil, err
	}
	for i := range responses {
		if responses[i].QuestionID == questionID {
			return &responses[i], nil
		}
	}
	return nil, nil
}

// repeatedAnswer reports the stored state for a question answered earlier
// in the lesson. The models are not updated again; the first answer counts.
func (s *Service) repeatedAnswer(ctx context.Context, userID int64, prior models.ResponseEvent) (*models.SubmitResponseResponse, error) {
	progress, err := s.repo.GetOrCreateProgress(ctx, userID)
	if err != nil {
		return nil, err
	}
	level := progress.CurrentLevel.Clamp()
	return &models.SubmitResponseResponse{
		Correct:          prior.IsCorrect,
		CalibrationLevel: level,
		Ability:          progress.Ability,
		ConceptMastered:  s.engine.BKT.IsConceptMastered(progress.Ability.ConceptMastery[prior.Subject]),
		AlreadyAnswered:  true,
		NextLevel:        level,
	}, nil
}

// predictAbility runs before the write loop so a slow predictor does not
// hold a stale version across retries.
func (s *Service) predictAbility(ctx context.Context, userID int64, event models.ResponseEvent) *float64 {
	if !s.engine.HasPredictor() {
		return nil
	}
	progress, err := s.repo.GetOrCreateProgress(ctx, userID)
	if err != nil {
		s.log.Warn("predictor skipped, progress unavailable", "user_id", userID, "error", err)
		return nil
	}
	history, err := s.repo.RecentResponses(ctx, userID, predictor.MaxHistory-1)
	if err != nil {
		s.log.Warn("predictor skipped, history unavailable", "user_id", userID, "error", err)
		return nil
	}
	history = append(history, event)

	v, ok := s.engine.PredictAbility(ctx, progress.Ability.IRTAbility, history)
	if !ok {
		return nil
	}
	return &v
}

// completeIfAnswered applies the lesson outcome once every assigned question
// has a response. decision is nil when questions remain or another request
// completed the lesson first.
func (s *Service) completeIfAnswered(ctx context.Context, userID int64, lesson models.Lesson) (models.LessonOutcome, *models.LessonDecisionResponse, error) {
	responses, err := s.repo.LessonResponses(ctx, lesson.ID)
	if err != nil {
		return models.LessonOutcome{}, nil, err
	}
	outcome, ok := s.engine.Tracker.SummarizeLesson(lesson, responses)
	if !ok {
		return models.LessonOutcome{}, nil, nil
	}
	if outcome.CompletedAt.IsZero() {
		outcome.CompletedAt = s.now().UTC()
	}

	decision, err := s.applyOutcome(ctx, userID, outcome)
	if errors.Is(err, ErrLessonComplete) {
		s.log.Debug("lesson already completed by another request", "lesson_id", lesson.ID, "user_id", userID)
		return models.LessonOutcome{}, nil, nil
	}
	if err != nil {
		return models.LessonOutcome{}, nil, err
	}
	return outcome, decision, nil
}

// ── Per-Lesson Path ─────────────────────────────────────

// CompleteLesson applies an outcome the caller aggregated itself.
func (s *Service) CompleteLesson(ctx context.Context, userID int64, req models.LessonOutcomeRequest) (*models.LessonDecisionResponse, error) {
	if !models.ValidSubjects[req.Subject] {
		return nil, fmt.Errorf("%w: unknown subject %q", ErrInvalidInput, req.Subject)
	}
	if math.IsNaN(req.Accuracy) || req.Accuracy < 0 || req.Accuracy > 1 {
		return nil, fmt.Errorf("%w: accuracy must be within [0, 1]", ErrInvalidInput)
	}
	if math.IsNaN(req.AvgResponseTime) || math.IsInf(req.AvgResponseTime, 0) || req.AvgResponseTime < 0 {
		return nil, fmt.Errorf("%w: avg_response_time must be a non-negative number", ErrInvalidInput)
	}
	if req.DifficultyPresented < models.MinLevel || req.DifficultyPresented > models.MaxLevel {
		return nil, fmt.Errorf("%w: difficulty_presented must be within [%d, %d]", ErrInvalidInput, models.MinLevel, models.MaxLevel)
	}

	outcome := models.LessonOutcome{
		Subject:             req.Subject,
		Accuracy:            req.Accuracy,
		AvgResponseTime:     req.AvgResponseTime,
		DifficultyPresented: req.DifficultyPresented,
		CompletedAt:         s.now().UTC(),
	}
	return s.applyOutcome(ctx, userID, outcome)
}

func (s *Service) applyOutcome(ctx context.Context, userID int64, outcome models.LessonOutcome) (*models.LessonDecisionResponse, error) {
	var previous, next models.LearningProgress
	for attempt := 1; ; attempt++ {
		var err error
		previous, err = s.repo.GetOrCreateProgress(ctx, userID)
		if err != nil {
			return nil, err
		}
		next = s.engine.ApplyLesson(previous, outcome)

		err = s.repo.SaveLessonOutcome(ctx, next, outcome)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrVersionConflict) || attempt == maxSaveAttempts {
			return nil, err
		}
		s.log.Debug("progress version conflict, retrying", "user_id", userID, "attempt", attempt)
	}

	s.log.Info("lesson applied",
		"user_id", userID,
		"subject", outcome.Subject,
		"accuracy", outcome.Accuracy,
		"previous_level", previous.CurrentLevel,
		"next_level", next.CurrentLevel,
	)

	weakAreas := next.WeakAreas
	if weakAreas == nil {
		weakAreas = []models.WeakArea{}
	}
	return &models.LessonDecisionResponse{
		PreviousLevel: previous.CurrentLevel.Clamp(),
		NextLevel:     next.CurrentLevel,
		WeakAreas:     weakAreas,
	}, nil
}

// ── Lesson Selection ────────────────────────────────────

// NextLesson picks count questions around the student's level, favouring
// weak subjects and skipping questions answered in the last week. When the
// unseen pool runs short, recently seen questions fill the remainder.
func (s *Service) NextLesson(ctx context.Context, userID int64, count int) (*models.Lesson, error) {
	if count <= 0 {
		count = defaultLessonSize
	}
	count = min(count, maxLessonSize)

	progress, err := s.repo.GetOrCreateProgress(ctx, userID)
	if err != nil {
		return nil, err
	}
	pool, err := s.questionPool(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	seen, err := s.repo.RecentlySeen(ctx, userID, now.Add(-seenWindow))
	if err != nil {
		return nil, err
	}

	level := progress.CurrentLevel.Clamp()
	priorities := s.engine.Tracker.SubjectPriorities(progress.WeakAreas, now)

	ids := slices.Collect(s.selector.Select(pool, level, priorities, seen, count))
	if len(ids) < count && len(seen) > 0 {
		ids = append(ids, slices.Collect(s.selector.Select(pool, level, priorities, ids, count-len(ids)))...)
	}
	if len(ids) == 0 {
		return nil, ErrNoQuestions
	}

	lesson := models.Lesson{
		ID:          uuid.New(),
		UserID:      userID,
		Subject:     dominantSubject(pool, ids),
		Difficulty:  level,
		QuestionIDs: ids,
		CreatedAt:   now,
	}
	if err := s.repo.CreateLesson(ctx, lesson); err != nil {
		return nil, err
	}
	return &lesson, nil
}

func (s *Service) GetLesson(ctx context.Context, userID int64, id uuid.UUID) (*models.Lesson, error) {
	lesson, err := s.repo.GetLesson(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return &lesson, nil
}

func (s *Service) questionPool(ctx context.Context) ([]models.Question, error) {
	if pool, ok := s.pool.Get(ctx); ok {
		return pool, nil
	}
	pool, err := s.repo.ListQuestions(ctx)
	if err != nil {
		return nil, err
	}
	s.pool.Set(ctx, pool)
	return pool, nil
}

// WarmPoolCache reloads the question pool from the store into the cache.
func (s *Service) WarmPoolCache(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	pool, err := s.repo.ListQuestions(ctx)
	if err != nil {
		return err
	}
	s.pool.Set(ctx, pool)
	return nil
}

// dominantSubject is the most frequent subject among ids. Ties go to the
// subject whose first question comes earliest in ids.
func dominantSubject(pool []models.Question, ids []string) string {
	subjectOf := make(map[string]string, len(pool))
	for _, q := range pool {
		subjectOf[q.ID] = q.Subject
	}

	counts := map[string]int{}
	var order []string
	for _, id := range ids {
		subject := subjectOf[id]
		if counts[subject] == 0 {
			order = append(order, subject)
		}
		counts[subject]++
	}

	best := ""
	for _, subject := range order {
		if best == "" || counts[subject] > counts[best] {
			best = subject
		}
	}
	return best
}

// ── Progress ────────────────────────────────────────────

func (s *Service) GetProgress(ctx context.Context, userID int64) (*models.ProgressResponse, error) {
	progress, err := s.repo.GetOrCreateProgress(ctx, userID)
	if err != nil {
		return nil, err
	}
	lessons, err := s.repo.CountOutcomes(ctx, userID)
	if err != nil {
		return nil, err
	}

	mastered := []string{}
	for concept, knowledge := range progress.Ability.ConceptMastery {
		if s.engine.BKT.IsConceptMastered(knowledge) {
			mastered = append(mastered, concept)
		}
	}
	sort.Strings(mastered)

	weakAreas := progress.WeakAreas
	if weakAreas == nil {
		weakAreas = []models.WeakArea{}
	}

	return &models.ProgressResponse{
		CurrentLevel:      progress.CurrentLevel.Clamp(),
		Ability:           progress.Ability,
		MasteredConcepts:  mastered,
		WeakAreas:         weakAreas,
		SubjectPriorities: s.engine.Tracker.SubjectPriorities(progress.WeakAreas, s.now().UTC()),
		Trends:            s.engine.Tracker.Trends(progress.History),
		LessonsCompleted:  lessons,
	}, nil
}
