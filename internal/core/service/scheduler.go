package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/mallfront/storefront-client/internal/core/ports"
)

// InlineScheduler runs refresh jobs synchronously on the caller's goroutine.
type InlineScheduler struct {
	logger zerolog.Logger
}

func NewInlineScheduler(logger zerolog.Logger) *InlineScheduler {
	return &InlineScheduler{logger: logger}
}

func (s *InlineScheduler) Schedule(ctx context.Context, job ports.RefreshJob) {
	if err := job.Run(ctx); err != nil {
		s.logger.Warn().Err(err).Str("key", job.Key).Msg("refresh failed")
	}
}
