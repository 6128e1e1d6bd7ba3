// Package llm holds provider-neutral helpers around language model clients.
package llm

import (
	"context"

	"github.com/kirillkom/docintake/internal/core/domain"
	"github.com/kirillkom/docintake/internal/core/ports"
	"github.com/kirillkom/docintake/internal/infrastructure/resilience"
)

// GuardedCompleter routes completions through a circuit breaker so a dead
// model stops being called until the breaker half-opens.
type GuardedCompleter struct {
	inner    ports.TextCompleter
	executor *resilience.Executor
}

func NewGuardedCompleter(inner ports.TextCompleter, executor *resilience.Executor) *GuardedCompleter {
	return &GuardedCompleter{inner: inner, executor: executor}
}

func (g *GuardedCompleter) Model() string {
	return g.inner.Model()
}

func (g *GuardedCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	out, err := resilience.Do(ctx, g.executor, "llm.complete."+g.inner.Model(), func(callCtx context.Context) (string, error) {
		return g.inner.Complete(callCtx, prompt)
	}, resilience.ClassifyModelError)
	if err != nil && resilience.IsCircuitOpen(err) {
		return "", domain.WrapError(domain.ErrModelUnavailable, "llm.complete", err)
	}
	return out, err
}
