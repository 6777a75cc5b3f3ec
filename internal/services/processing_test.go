package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/enginelhq/enginel-backend/internal/logger"
)

func newRunRegistry(t *testing.T) *processingService {
	t.Helper()
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return &processingService{
		log:  log.With("service", "ProcessingService"),
		runs: map[string]context.CancelFunc{},
	}
}

func TestCancelRunStopsRegisteredRun(t *testing.T) {
	s := newRunRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())
	s.registerRun("asset_process-abc-1", cancel)

	if !s.CancelRun("asset_process-abc-1") {
		t.Fatal("registered run must be cancellable")
	}
	select {
	case <-ctx.Done():
	default:
		t.Fatal("run context not cancelled")
	}
	if s.CancelRun("asset_process-missing-2") {
		t.Fatal("unknown task must report false")
	}
}

func TestReleaseRunDropsRegistration(t *testing.T) {
	s := newRunRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())
	s.registerRun("asset_process-abc-1", cancel)
	s.releaseRun("asset_process-abc-1")

	select {
	case <-ctx.Done():
	default:
		t.Fatal("release must cancel the run context")
	}
	if s.CancelRun("asset_process-abc-1") {
		t.Fatal("released run must no longer be cancellable")
	}
}

func TestDispatchFallbackRunIsCancellable(t *testing.T) {
	s := newRunRegistry(t)
	assetID := uuid.New()
	started := make(chan struct{})
	done := make(chan error, 1)

	taskID, err := s.dispatch(context.Background(), "asset_process", assetID, false, func(runCtx context.Context, id string) error {
		close(started)
		<-runCtx.Done()
		done <- runCtx.Err()
		return runCtx.Err()
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !strings.Contains(taskID, assetID.String()) {
		t.Fatalf("task id must embed the asset id: %q", taskID)
	}

	<-started
	if !s.CancelRun(taskID) {
		t.Fatal("dispatched fallback run must be registered for cancellation")
	}
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("run context: want Canceled got %v", err)
	}
}
