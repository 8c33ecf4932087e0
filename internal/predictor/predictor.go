// Package predictor provides an LLM-backed secondary estimate of a
// student's IRT ability. The engine uses it when present and falls back to
// its own gradient estimate on any failure.
package predictor

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/timo-math/adaptive-backend/internal/adaptive"
	"github.com/timo-math/adaptive-backend/internal/config"
	"github.com/timo-math/adaptive-backend/internal/logger"
	"github.com/timo-math/adaptive-backend/internal/models"
)

// MaxHistory caps how many recent responses go into a prompt.
const MaxHistory = 20

const currentAbilityLabel = "Current ability estimate:"

type Predictor struct {
	llm     LLMClient
	timeout time.Duration
	log     *logger.Logger
}

// New builds a predictor for the configured mode. Mode "off" (or empty)
// returns nil, meaning no secondary estimate.
func New(cfg config.PredictorConfig, log *logger.Logger) (*Predictor, error) {
	var llm LLMClient
	switch strings.ToLower(cfg.Mode) {
	case "", "off":
		return nil, nil
	case "mock":
		llm = NewMockClient()
		log.Info("ability predictor using mock data")
	case "anthropic":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("predictor mode anthropic requires ANTHROPIC_API_KEY")
		}
		llm = NewAPIClient(cfg.APIKey, cfg.Model, log)
		log.Info("ability predictor using Anthropic API", "model", cfg.Model)
	default:
		return nil, fmt.Errorf("unknown predictor mode %q", cfg.Mode)
	}
	return NewWithClient(llm, cfg.Timeout, log), nil
}

func NewWithClient(llm LLMClient, timeout time.Duration, log *logger.Logger) *Predictor {
	return &Predictor{llm: llm, timeout: timeout, log: log}
}

// PredictAbility implements adaptive.AbilityPredictor. Every failure is
// reported as adaptive.ErrPredictorUnavailable.
func (p *Predictor) PredictAbility(ctx context.Context, current float64, history []models.ResponseEvent) (float64, error) {
	if len(history) == 0 {
		return 0, fmt.Errorf("%w: no response history", adaptive.ErrPredictorUnavailable)
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	content, err := p.llm.Complete(ctx, SystemPrompt(), BuildUserPrompt(current, history))
	if err != nil {
		p.log.Warn("ability prediction failed", "error", err)
		return 0, fmt.Errorf("%w: %v", adaptive.ErrPredictorUnavailable, err)
	}

	ability, err := ParseAbility(content)
	if err != nil {
		p.log.Warn("ability prediction unparseable", "error", err)
		return 0, err
	}
	return ability, nil
}

func SystemPrompt() string {
	return `You estimate a primary-school student's mathematical ability on an item response theory scale from -3 (very weak) to 3 (very strong), where 0 is an average student at medium difficulty.
You are given the current estimate and the student's most recent answers, oldest first.
Respond with a single JSON object and nothing else: {"ability": <number>}`
}

// BuildUserPrompt lists the last MaxHistory responses, oldest first.
func BuildUserPrompt(current float64, history []models.ResponseEvent) string {
	if len(history) > MaxHistory {
		history = history[len(history)-MaxHistory:]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %.3f\n", currentAbilityLabel, current)
	b.WriteString("Recent responses (oldest first):\n")
	for i, ev := range history {
		fmt.Fprintf(&b, "%d. subject=%s correct=%t time=%.1fs\n",
			i+1, ev.Subject, ev.IsCorrect, ev.ResponseTimeSeconds)
	}
	b.WriteString(`Reply with JSON only: {"ability": <number between -3 and 3>}`)
	return b.String()
}

// ParseAbility extracts the ability from a model reply. Code fences are
// tolerated; a missing, non-finite, or out-of-range value is an error.
func ParseAbility(content string) (float64, error) {
	cleaned := stripCodeFences(content)

	var reply struct {
		Ability *float64 `json:"ability"`
	}
	if err := json.Unmarshal([]byte(cleaned), &reply); err != nil {
		return 0, fmt.Errorf("%w: parse reply: %v", adaptive.ErrPredictorUnavailable, err)
	}
	if reply.Ability == nil {
		return 0, fmt.Errorf("%w: reply has no ability", adaptive.ErrPredictorUnavailable)
	}
	v := *reply.Ability
	if math.IsNaN(v) || v < adaptive.MinAbility || v > adaptive.MaxAbility {
		return 0, fmt.Errorf("%w: ability %g out of range", adaptive.ErrPredictorUnavailable, v)
	}
	return v, nil
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```json") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimSpace(s)
	} else if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSpace(s)
	}
	if strings.HasSuffix(s, "```") {
		s = strings.TrimSuffix(s, "```")
		s = strings.TrimSpace(s)
	}
	return s
}
