package learning

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/timo-math/adaptive-backend/internal/models"
)

type Store struct {
	db           *sql.DB
	historyLimit int
}

// NewStore returns a Postgres-backed store. historyLimit bounds how many
// lesson outcomes are loaded with a progress record.
func NewStore(db *sql.DB, historyLimit int) *Store {
	return &Store{db: db, historyLimit: historyLimit}
}

// ── Learning Progress ───────────────────────────────────

func (s *Store) GetOrCreateProgress(ctx context.Context, userID int64) (models.LearningProgress, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO learning_progress (user_id, current_level, elo_rating, irt_ability)
		 VALUES ($1, $2, $3, 0)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, models.LevelEasy, models.DefaultEloRating,
	)
	if err != nil {
		return models.LearningProgress{}, fmt.Errorf("upsert progress: %w", err)
	}

	p := models.LearningProgress{UserID: userID}
	var mastery, weak []byte
	err = s.db.QueryRowContext(ctx,
		`SELECT current_level, elo_rating, irt_ability, concept_mastery, weak_areas, version, updated_at
		 FROM learning_progress WHERE user_id = $1`,
		userID,
	).Scan(&p.CurrentLevel, &p.Ability.EloRating, &p.Ability.IRTAbility, &mastery, &weak, &p.Version, &p.UpdatedAt)
	if err != nil {
		return models.LearningProgress{}, fmt.Errorf("get progress: %w", err)
	}

	if err := json.Unmarshal(mastery, &p.Ability.ConceptMastery); err != nil {
		return models.LearningProgress{}, fmt.Errorf("decode concept mastery: %w", err)
	}
	if p.Ability.ConceptMastery == nil {
		p.Ability.ConceptMastery = map[string]float64{}
	}
	if err := json.Unmarshal(weak, &p.WeakAreas); err != nil {
		return models.LearningProgress{}, fmt.Errorf("decode weak areas: %w", err)
	}

	p.History, err = s.recentOutcomes(ctx, userID, s.historyLimit)
	if err != nil {
		return models.LearningProgress{}, err
	}
	return p, nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// updateProgress writes p if the stored version still equals p.Version and
// bumps the version. A stale version yields ErrVersionConflict.
func updateProgress(ctx context.Context, db execer, p models.LearningProgress) error {
	mastery, err := json.Marshal(p.Ability.ConceptMastery)
	if err != nil {
		return fmt.Errorf("encode concept mastery: %w", err)
	}
	weakAreas := p.WeakAreas
	if weakAreas == nil {
		weakAreas = []models.WeakArea{}
	}
	weak, err := json.Marshal(weakAreas)
	if err != nil {
		return fmt.Errorf("encode weak areas: %w", err)
	}

	res, err := db.ExecContext(ctx,
		`UPDATE learning_progress SET
		    current_level = $2, elo_rating = $3, irt_ability = $4,
		    concept_mastery = $5, weak_areas = $6,
		    version = version + 1, updated_at = NOW()
		 WHERE user_id = $1 AND version = $7`,
		p.UserID, p.CurrentLevel.Clamp(), p.Ability.EloRating, p.Ability.IRTAbility,
		mastery, weak, p.Version,
	)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	if n == 0 {
		return ErrVersionConflict
	}
	return nil
}

// SaveResponse records ev against the lesson and writes p in one
// transaction. Nothing is written on ErrVersionConflict.
func (s *Store) SaveResponse(ctx context.Context, p models.LearningProgress, lessonID uuid.UUID, ev models.ResponseEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := updateProgress(ctx, tx, p); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO responses (user_id, lesson_id, question_id, subject, is_correct, response_time_seconds, answered_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.UserID, lessonID, ev.QuestionID, ev.Subject, ev.IsCorrect, ev.ResponseTimeSeconds, ev.AnsweredAt,
	)
	if err != nil {
		return fmt.Errorf("insert response: %w", err)
	}
	return tx.Commit()
}

// ── Lesson Outcomes ─────────────────────────────────────

// recentOutcomes returns up to limit outcomes, oldest first.
func (s *Store) recentOutcomes(ctx context.Context, userID int64, limit int) ([]models.LessonOutcome, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT lesson_id, subject, accuracy, avg_response_time, difficulty_presented, completed_at
		 FROM lesson_outcomes WHERE user_id = $1
		 ORDER BY completed_at DESC, id DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []models.LessonOutcome
	for rows.Next() {
		var o models.LessonOutcome
		var lessonID uuid.NullUUID
		if err := rows.Scan(&lessonID, &o.Subject, &o.Accuracy, &o.AvgResponseTime, &o.DifficultyPresented, &o.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		if lessonID.Valid {
			o.LessonID = lessonID.UUID
		}
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	slices.Reverse(outcomes)
	return outcomes, nil
}

// SaveLessonOutcome writes p and appends o to the outcome history in one
// transaction. When o belongs to a lesson, the lesson is marked completed in
// the same transaction; ErrLessonComplete means another request got there
// first and nothing was written.
func (s *Store) SaveLessonOutcome(ctx context.Context, p models.LearningProgress, o models.LessonOutcome) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var lessonID uuid.NullUUID
	if o.LessonID != uuid.Nil {
		lessonID = uuid.NullUUID{UUID: o.LessonID, Valid: true}
		res, err := tx.ExecContext(ctx,
			`UPDATE lessons SET completed_at = $2 WHERE id = $1 AND completed_at IS NULL`,
			o.LessonID, o.CompletedAt,
		)
		if err != nil {
			return fmt.Errorf("complete lesson: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("complete lesson: %w", err)
		}
		if n == 0 {
			return ErrLessonComplete
		}
	}

	if err := updateProgress(ctx, tx, p); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO lesson_outcomes (user_id, lesson_id, subject, accuracy, avg_response_time, difficulty_presented, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.UserID, lessonID, o.Subject, o.Accuracy, o.AvgResponseTime, o.DifficultyPresented.Clamp(), o.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return tx.Commit()
}

func (s *Store) CountOutcomes(ctx context.Context, userID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM lesson_outcomes WHERE user_id = $1`, userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count outcomes: %w", err)
	}
	return n, nil
}

// ── Questions ───────────────────────────────────────────

const questionColumns = `id, subject, difficulty, elo_rating, irt_discrimination, irt_difficulty, irt_guessing`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuestion(row rowScanner) (models.Question, error) {
	var q models.Question
	var elo, a, b, c sql.NullFloat64
	if err := row.Scan(&q.ID, &q.Subject, &q.Difficulty, &elo, &a, &b, &c); err != nil {
		return models.Question{}, err
	}
	// Parameters are learned together, so one NULL means none were stored.
	if elo.Valid && a.Valid && b.Valid && c.Valid {
		q.Params = &models.ItemParameters{
			EloRating: elo.Float64,
			IRT: models.IRTParameters{
				Discrimination: a.Float64,
				Difficulty:     b.Float64,
				Guessing:       c.Float64,
			},
		}
	}
	return q, nil
}

func (s *Store) GetQuestion(ctx context.Context, id string) (models.Question, error) {
	q, err := scanQuestion(s.db.QueryRowContext(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE id = $1`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Question{}, ErrNotFound
	}
	if err != nil {
		return models.Question{}, fmt.Errorf("get question: %w", err)
	}
	return q, nil
}

func (s *Store) ListQuestions(ctx context.Context) ([]models.Question, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+questionColumns+` FROM questions ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	var pool []models.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		pool = append(pool, q)
	}
	return pool, rows.Err()
}

func (s *Store) SaveItemParameters(ctx context.Context, id string, p models.ItemParameters) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE questions SET
		    elo_rating = $2, irt_discrimination = $3, irt_difficulty = $4, irt_guessing = $5,
		    updated_at = NOW()
		 WHERE id = $1`,
		id, p.EloRating, p.IRT.Discrimination, p.IRT.Difficulty, p.IRT.Guessing,
	)
	if err != nil {
		return fmt.Errorf("update item parameters: %w", err)
	}
	return nil
}

// ── Responses ───────────────────────────────────────────

// RecentResponses returns up to limit responses, oldest first.
func (s *Store) RecentResponses(ctx context.Context, userID int64, limit int) ([]models.ResponseEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT question_id, subject, is_correct, response_time_seconds, answered_at
		 FROM responses WHERE user_id = $1
		 ORDER BY answered_at DESC, id DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	events, err := scanResponses(rows)
	if err != nil {
		return nil, err
	}
	slices.Reverse(events)
	return events, nil
}

func (s *Store) LessonResponses(ctx context.Context, lessonID uuid.UUID) ([]models.ResponseEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT question_id, subject, is_correct, response_time_seconds, answered_at
		 FROM responses WHERE lesson_id = $1
		 ORDER BY answered_at, id`,
		lessonID,
	)
	if err != nil {
		return nil, fmt.Errorf("list lesson responses: %w", err)
	}
	return scanResponses(rows)
}

func scanResponses(rows *sql.Rows) ([]models.ResponseEvent, error) {
	defer rows.Close()
	var events []models.ResponseEvent
	for rows.Next() {
		var ev models.ResponseEvent
		if err := rows.Scan(&ev.QuestionID, &ev.Subject, &ev.IsCorrect, &ev.ResponseTimeSeconds, &ev.AnsweredAt); err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	return events, nil
}

// RecentlySeen lists question ids the user answered at or after since.
func (s *Store) RecentlySeen(ctx context.Context, userID int64, since time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT question_id FROM responses
		 WHERE user_id = $1 AND answered_at >= $2`,
		userID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("list seen questions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan seen question: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ── Lessons ─────────────────────────────────────────────

func (s *Store) CreateLesson(ctx context.Context, l models.Lesson) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lessons (id, user_id, subject, difficulty, question_ids, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		l.ID, l.UserID, l.Subject, l.Difficulty.Clamp(), pq.Array(l.QuestionIDs), l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert lesson: %w", err)
	}
	return nil
}

// GetLesson only returns lessons owned by userID; anything else is
// ErrNotFound.
func (s *Store) GetLesson(ctx context.Context, userID int64, id uuid.UUID) (models.Lesson, error) {
	var l models.Lesson
	var completedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, subject, difficulty, question_ids, created_at, completed_at
		 FROM lessons WHERE id = $1 AND user_id = $2`,
		id, userID,
	).Scan(&l.ID, &l.UserID, &l.Subject, &l.Difficulty, pq.Array(&l.QuestionIDs), &l.CreatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Lesson{}, ErrNotFound
	}
	if err != nil {
		return models.Lesson{}, fmt.Errorf("get lesson: %w", err)
	}
	if completedAt.Valid {
		l.CompletedAt = &completedAt.Time
	}
	return l, nil
}
