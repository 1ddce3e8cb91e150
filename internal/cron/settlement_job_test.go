package cron

import (
	"context"
	"errors"
	"testing"

	"github.com/lucasferrand/mangetout-backend/internal/settlement"
	"github.com/lucasferrand/mangetout-backend/pkg/db/models"
	"github.com/lucasferrand/mangetout-backend/pkg/logger"
)

type fakeSettlement struct {
	report *settlement.RunReport
	err    error
	calls  int
}

func (f *fakeSettlement) SettleAll(context.Context) (*settlement.RunReport, error) {
	f.calls++
	return f.report, f.err
}

func TestSettlementJobRunsService(t *testing.T) {
	svc := &fakeSettlement{report: &settlement.RunReport{
		Batches: []models.PayoutBatch{{}, {}},
	}}
	job, err := NewSettlementJob(SettlementJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "test"}),
		Settlement: svc,
	})
	if err != nil {
		t.Fatalf("NewSettlementJob: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if svc.calls != 1 {
		t.Fatalf("expected one settlement run, got %d", svc.calls)
	}
}

func TestSettlementJobSurfacesPartialFailures(t *testing.T) {
	svc := &fakeSettlement{report: &settlement.RunReport{
		Err: errors.New("transfer declined"),
	}}
	job, err := NewSettlementJob(SettlementJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "test"}),
		Settlement: svc,
	})
	if err != nil {
		t.Fatalf("NewSettlementJob: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected partial failure to surface")
	}
}
