package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/creatorpulse/trendwatch/internal/config"
	"github.com/creatorpulse/trendwatch/internal/model"
	"github.com/creatorpulse/trendwatch/internal/resilience"
	"github.com/creatorpulse/trendwatch/internal/store"
	"github.com/creatorpulse/trendwatch/pkg/anthropic"
)

// Explainer produces a short human-readable rationale for a trend. It is
// best-effort: an empty string is a valid result and implementations never
// return an error to the caller's control flow beyond logging.
type Explainer interface {
	Explain(ctx context.Context, label string, keywords []string, exemplars []model.ContentItem) string
}

// NoopExplainer returns empty explanations. Used when the explanation phase
// is disabled or no API key is configured.
type NoopExplainer struct{}

func (NoopExplainer) Explain(context.Context, string, []string, []model.ContentItem) string {
	return ""
}

// AnthropicExplainer generates explanations through the Anthropic API. Each
// call gets a timeout, a rate-limiter slot, transient-error retries, and a
// circuit breaker so a degraded provider cannot stall or fail a detection run.
type AnthropicExplainer struct {
	client  anthropic.Client
	model   string
	cfg     config.ExplainConfig
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
}

// NewAnthropicExplainer wires an explainer around the given client.
func NewAnthropicExplainer(client anthropic.Client, modelID string, cfg config.ExplainConfig) *AnthropicExplainer {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("anthropic", "explain")
	return &AnthropicExplainer{
		client:  client,
		model:   modelID,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		breaker: resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()),
		retry:   retry,
	}
}

func (e *AnthropicExplainer) Explain(ctx context.Context, label string, keywords []string, exemplars []model.ContentItem) string {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout())
	defer cancel()

	if err := e.limiter.Wait(ctx); err != nil {
		zap.L().Warn("explanation rate wait aborted", zap.String("label", label), zap.Error(err))
		return ""
	}

	// Transient provider errors retry inside the breaker, so a call only
	// counts against the failure threshold once retries are exhausted.
	resp, err := resilience.ExecuteVal(ctx, e.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return resilience.DoVal(ctx, e.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
			return e.client.CreateMessage(ctx, anthropic.MessageRequest{
				Model:     e.model,
				MaxTokens: e.cfg.MaxTokens,
				System:    explainSystemPrompt,
				Messages: []anthropic.Message{
					{Role: "user", Content: buildExplainPrompt(label, keywords, exemplars)},
				},
			})
		})
	})
	if err != nil {
		zap.L().Warn("explanation call failed",
			zap.String("label", label),
			zap.Error(err),
		)
		return ""
	}

	resp.Usage.LogUsage(e.model, "explain")
	return strings.TrimSpace(resp.Text())
}

const explainSystemPrompt = "You summarize why a topic is trending. " +
	"Reply with a single short paragraph, no preamble."

func buildExplainPrompt(label string, keywords []string, exemplars []model.ContentItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\nKeywords: %s\n", label, strings.Join(keywords, ", "))
	if len(exemplars) > 0 {
		b.WriteString("Example headlines:\n")
		for _, it := range exemplars {
			fmt.Fprintf(&b, "- [%s] %s\n", it.Source, it.Title)
		}
	}
	b.WriteString("\nExplain in one paragraph why this topic appears to be gaining attention.")
	return b.String()
}

// explainTrends runs bounded concurrent explanation calls for the given
// trends and persists any non-empty result. Failures become warnings on the
// run, never errors: a trend with an empty explanation is a normal state.
func explainTrends(ctx context.Context, st store.Store, explainer Explainer, cfg config.ExplainConfig, trends []model.Trend, itemsByID map[string]model.ContentItem) []string {
	if len(trends) == 0 {
		return nil
	}

	var mu sync.Mutex
	var warnings []string

	g, ctx := errgroup.WithContext(ctx)
	limit := cfg.MaxConcurrent
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)

	for _, t := range trends {
		g.Go(func() error {
			exemplars := make([]model.ContentItem, 0, len(t.KeyItemIDs))
			for _, id := range t.KeyItemIDs {
				if it, ok := itemsByID[id]; ok {
					exemplars = append(exemplars, it)
				}
			}

			explanation := explainer.Explain(ctx, t.TopicLabel, t.Keywords, exemplars)
			if explanation == "" {
				mu.Lock()
				warnings = append(warnings, fmt.Sprintf("no explanation for %q", t.TopicLabel))
				mu.Unlock()
				return nil
			}

			t.Explanation = explanation
			if err := st.UpsertTrend(ctx, t); err != nil {
				zap.L().Warn("persisting explanation failed",
					zap.String("trend_id", t.ID),
					zap.Error(err),
				)
				mu.Lock()
				warnings = append(warnings, fmt.Sprintf("explanation for %q not persisted", t.TopicLabel))
				mu.Unlock()
			}
			return nil
		})
	}

	// Workers never return errors; Wait only collects completion.
	_ = g.Wait()

	return warnings
}
