package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/kirillkom/docintake/internal/core/domain"
	"github.com/kirillkom/docintake/internal/core/ports"
)

const (
	defaultSummaryTimeout  = 90 * time.Second
	defaultMaxPromptChars  = 60000
	defaultOrganizationCtx = "a metro rail operator; weigh operational safety, regulatory compliance and service continuity"
)

// Fallback reasons reported to metrics and logs.
const (
	SummaryReasonOK          = "ok"
	SummaryReasonUnavailable = "unavailable"
	SummaryReasonQuota       = "quota"
	SummaryReasonTimeout     = "timeout"
	SummaryReasonUnparseable = "unparseable"
	SummaryReasonEmptyInput  = "empty_input"
)

type SummarizerConfig struct {
	OrganizationContext string
	Timeout             time.Duration
	MaxPromptChars      int
}

type SummarizeUseCase struct {
	completer ports.TextCompleter
	metrics   ports.PipelineMetrics
	logger    *slog.Logger
	cfg       SummarizerConfig
	schema    string
}

func NewSummarizeUseCase(
	completer ports.TextCompleter,
	metrics ports.PipelineMetrics,
	logger *slog.Logger,
	cfg SummarizerConfig,
) *SummarizeUseCase {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSummaryTimeout
	}
	if cfg.MaxPromptChars <= 0 {
		cfg.MaxPromptChars = defaultMaxPromptChars
	}
	if strings.TrimSpace(cfg.OrganizationContext) == "" {
		cfg.OrganizationContext = defaultOrganizationCtx
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = noopPipelineMetrics{}
	}
	return &SummarizeUseCase{
		completer: completer,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
		schema:    summarySchema(),
	}
}

// Summarize never fails. Any model or parse failure yields the fallback
// summary with usedFallback set.
func (uc *SummarizeUseCase) Summarize(ctx context.Context, text string) (domain.Summary, bool) {
	if strings.TrimSpace(text) == "" {
		return uc.fallback(SummaryReasonEmptyInput, "", nil)
	}

	callCtx, cancel := context.WithTimeout(ctx, uc.cfg.Timeout)
	defer cancel()

	raw, err := uc.completer.Complete(callCtx, uc.buildPrompt(text))
	if err != nil {
		return uc.fallback(failureReason(err), raw, err)
	}

	summary, err := parseSummaryResponse(raw)
	if err != nil {
		return uc.fallback(SummaryReasonUnparseable, raw, err)
	}

	uc.metrics.ObserveSummary(uc.completer.Model(), false, SummaryReasonOK)
	return summary, false
}

func (uc *SummarizeUseCase) fallback(reason, raw string, cause error) (domain.Summary, bool) {
	uc.logger.Warn("summary_fallback",
		"model", uc.completer.Model(),
		"reason", reason,
		"response_chars", len(raw),
		"error", cause,
	)
	uc.metrics.ObserveSummary(uc.completer.Model(), true, reason)
	return domain.FallbackSummary(raw), true
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return SummaryReasonTimeout
	case domain.IsKind(err, domain.ErrModelQuotaExceeded):
		return SummaryReasonQuota
	case domain.IsKind(err, domain.ErrModelResponseUnparseable):
		return SummaryReasonUnparseable
	default:
		return SummaryReasonUnavailable
	}
}

func (uc *SummarizeUseCase) buildPrompt(text string) string {
	if runes := []rune(text); len(runes) > uc.cfg.MaxPromptChars {
		text = string(runes[:uc.cfg.MaxPromptChars])
	}

	return fmt.Sprintf(`You analyse documents received by %s.
Read the document and respond with exactly one JSON object matching this JSON schema:
%s

Rules:
- confidence is a number from 0 to 100 written as a string.
- language is one of English, Malayalam, Mixed.
- priority and urgencyLevel are one of low, medium, high, critical.
- deadline uses YYYY-MM-DD when the document states a date.
- Use empty arrays instead of omitting lists. No markdown, no commentary.

Document:
%s
`, uc.cfg.OrganizationContext, uc.schema, text)
}

func summarySchema() string {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	raw, err := json.MarshalIndent(reflector.Reflect(&domain.Summary{}), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(raw)
}

type noopPipelineMetrics struct{}

func (noopPipelineMetrics) ObserveSummary(string, bool, string)                          {}
func (noopPipelineMetrics) ObserveTasksDerived(int, int)                                 {}
func (noopPipelineMetrics) ObserveWatcherEvent(domain.Channel, domain.WatcherEventKind) {}
