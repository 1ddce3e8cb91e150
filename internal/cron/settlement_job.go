package cron

import (
	"context"
	"fmt"

	"github.com/lucasferrand/mangetout-backend/internal/settlement"
	"github.com/lucasferrand/mangetout-backend/pkg/logger"
)

type settlementRunner interface {
	SettleAll(ctx context.Context) (*settlement.RunReport, error)
}

// SettlementJobParams configure the payout job.
type SettlementJobParams struct {
	Logger     *logger.Logger
	Settlement settlementRunner
}

// NewSettlementJob wraps the settlement run as a scheduled job.
func NewSettlementJob(params SettlementJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Settlement == nil {
		return nil, fmt.Errorf("settlement service required")
	}
	return &settlementJob{
		logg:       params.Logger,
		settlement: params.Settlement,
	}, nil
}

type settlementJob struct {
	logg       *logger.Logger
	settlement settlementRunner
}

func (j *settlementJob) Name() string { return "settlement" }

func (j *settlementJob) Run(ctx context.Context) error {
	report, err := j.settlement.SettleAll(ctx)
	if err != nil {
		return fmt.Errorf("settlement run: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"batches_created": len(report.Batches),
		"payees_skipped":  report.Skipped,
	})
	j.logg.Info(logCtx, "settlement run complete")
	// Partial failures are retried on the next cycle; surface them so the
	// job is marked failed and the metric moves.
	if report.Err != nil {
		return fmt.Errorf("settlement run partial: %w", report.Err)
	}
	return nil
}
