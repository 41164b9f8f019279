package safety

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"biblestudy-be/internal/entity"
	"biblestudy-be/internal/pkg/logger"
	"biblestudy-be/pkg/moderation"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

type InputVerdict string

const (
	VerdictValid       InputVerdict = "valid"
	VerdictTooShort    InputVerdict = "too_short"
	VerdictTooLong     InputVerdict = "too_long"
	VerdictRateLimited InputVerdict = "rate_limited"
	VerdictBlocked     InputVerdict = "blocked"
)

type InputCheck struct {
	Verdict      InputVerdict
	BlockedUntil *time.Time
}

type Config struct {
	MinInputLength    int
	MaxInputLength    int
	RequestsPerMinute int
	RequestBurst      int
	ModerationTimeout time.Duration
}

// Screening is the outcome of one moderation call. Moderation is fail-open at
// every call site: Degraded marks a failed call whose text was passed as unflagged.
type Screening struct {
	moderation.Result
	Degraded bool
}

type OutputScreening struct {
	Screening
	Exempted bool
	Replaced bool
}

type Gate struct {
	cfg       Config
	moderator moderation.Moderator
	tracker   *ViolationTracker
	limiters  *cache.Cache
	mu        sync.Mutex
	now       func() time.Time
	logger    logger.ILogger
}

func NewGate(cfg Config, moderator moderation.Moderator, tracker *ViolationTracker, log logger.ILogger) *Gate {
	if cfg.MinInputLength <= 0 {
		cfg.MinInputLength = 2
	}
	if cfg.MaxInputLength <= 0 {
		cfg.MaxInputLength = 2000
	}
	if moderator == nil {
		moderator = moderation.NoopModerator{}
	}
	return &Gate{
		cfg:       cfg,
		moderator: moderator,
		tracker:   tracker,
		limiters:  cache.New(10*time.Minute, 10*time.Minute),
		now:       time.Now,
		logger:    log,
	}
}

func (g *Gate) Tracker() *ViolationTracker { return g.tracker }

// ValidateInput checks, in order: too short, too long, blocked, rate limited.
// Length is measured in characters of the trimmed text.
func (g *Gate) ValidateInput(ctx context.Context, userId uuid.UUID, text string) InputCheck {
	length := utf8.RuneCountInString(strings.TrimSpace(text))
	if length < g.cfg.MinInputLength {
		return InputCheck{Verdict: VerdictTooShort}
	}
	if length > g.cfg.MaxInputLength {
		return InputCheck{Verdict: VerdictTooLong}
	}

	if g.tracker != nil {
		if state, blocked := g.tracker.IsBlocked(ctx, userId); blocked {
			return InputCheck{Verdict: VerdictBlocked, BlockedUntil: state.BlockedUntil}
		}
	}

	if !g.allow(userId) {
		g.logger.Info("SAFETY", "Request rate limited", map[string]interface{}{
			"user_id": userId.String(),
		})
		return InputCheck{Verdict: VerdictRateLimited}
	}
	return InputCheck{Verdict: VerdictValid}
}

func (g *Gate) allow(userId uuid.UUID) bool {
	if g.cfg.RequestsPerMinute <= 0 {
		return true
	}
	key := userId.String()

	g.mu.Lock()
	var limiter *rate.Limiter
	if x, found := g.limiters.Get(key); found {
		limiter = x.(*rate.Limiter)
	} else {
		burst := g.cfg.RequestBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(float64(g.cfg.RequestsPerMinute)/60.0), burst)
	}
	g.limiters.Set(key, limiter, cache.DefaultExpiration)
	g.mu.Unlock()

	return limiter.AllowN(g.now(), 1)
}

// ScreenInput moderates user text. Failures and timeouts fail open.
func (g *Gate) ScreenInput(ctx context.Context, text string) Screening {
	return g.moderate(ctx, "input", text)
}

// ScreenOutput moderates model output. Citations are expected to be validated
// already. Flagged answers with citations pass unless they touch self-harm;
// anything else flagged becomes a rephrase clarification.
func (g *Gate) ScreenOutput(ctx context.Context, resp entity.ModelResponse) (entity.ModelResponse, OutputScreening) {
	out := OutputScreening{Screening: g.moderate(ctx, "output", resp.Content)}
	if !out.Flagged && !out.SelfHarmFlagged {
		return resp, out
	}

	if !out.SelfHarmFlagged && resp.ResponseType == entity.ResponseTypeAnswer && len(resp.Citations) > 0 {
		out.Exempted = true
		g.logger.Warn("SAFETY", "Flagged output allowed under study exemption", map[string]interface{}{
			"categories": out.Categories,
			"citations":  len(resp.Citations),
		})
		return resp, out
	}

	out.Replaced = true
	g.logger.Warn("SAFETY", "Flagged output replaced", map[string]interface{}{
		"categories":    out.Categories,
		"response_type": string(resp.ResponseType),
	})
	return entity.ModelResponse{
		Content:      RephraseMessage,
		ResponseType: entity.ResponseTypeClarification,
	}, out
}

func (g *Gate) moderate(ctx context.Context, stage, text string) Screening {
	if g.cfg.ModerationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.ModerationTimeout)
		defer cancel()
	}

	result, err := g.moderator.Moderate(ctx, text)
	if err != nil || result == nil {
		g.logger.Warn("MODERATION", "Moderation failed, continuing unflagged", map[string]interface{}{
			"stage": stage,
			"error": err,
		})
		return Screening{Degraded: true}
	}
	if result.Flagged || result.SelfHarmFlagged {
		g.logger.Info("MODERATION", "Content flagged", map[string]interface{}{
			"stage":      stage,
			"self_harm":  result.SelfHarmFlagged,
			"categories": result.Categories,
		})
	}
	return Screening{Result: *result}
}
