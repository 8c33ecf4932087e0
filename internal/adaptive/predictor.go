package adaptive

import (
	"context"
	"errors"

	"github.com/timo-math/adaptive-backend/internal/models"
)

// ErrPredictorUnavailable is returned by predictors that cannot produce an
// estimate right now. The engine treats it like any other failure.
var ErrPredictorUnavailable = errors.New("ability predictor unavailable")

// AbilityPredictor is an optional secondary estimate of IRT ability from
// recent responses. Implementations may block on I/O.
type AbilityPredictor interface {
	PredictAbility(ctx context.Context, current float64, history []models.ResponseEvent) (float64, error)
}
