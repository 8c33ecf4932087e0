package learning

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("progress was modified concurrently")
	ErrLessonComplete  = errors.New("lesson already completed")
	ErrNotInLesson     = errors.New("question is not part of this lesson")
	ErrNoQuestions     = errors.New("no questions available")
	ErrInvalidInput    = errors.New("invalid input")
)
