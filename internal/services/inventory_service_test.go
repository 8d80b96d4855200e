package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/chandanhastantram/artsstore-sub000/internal/domain"
	"github.com/chandanhastantram/artsstore-sub000/internal/repositories"
)

type stubStockRepository struct {
	reserveFn  func(ctx context.Context, req repositories.StockReserveRequest) (repositories.StockReserveResult, error)
	releaseFn  func(ctx context.Context, req repositories.StockReleaseRequest) (repositories.StockReleaseResult, error)
	commitFn   func(ctx context.Context, req repositories.StockCommitRequest) error
	getLevelFn func(ctx context.Context, productID string) (domain.StockLevel, error)
}

func (s *stubStockRepository) Reserve(ctx context.Context, req repositories.StockReserveRequest) (repositories.StockReserveResult, error) {
	return s.reserveFn(ctx, req)
}

func (s *stubStockRepository) Release(ctx context.Context, req repositories.StockReleaseRequest) (repositories.StockReleaseResult, error) {
	return s.releaseFn(ctx, req)
}

func (s *stubStockRepository) Commit(ctx context.Context, req repositories.StockCommitRequest) error {
	return s.commitFn(ctx, req)
}

func (s *stubStockRepository) GetLevel(ctx context.Context, productID string) (domain.StockLevel, error) {
	return s.getLevelFn(ctx, productID)
}

type capturingStockPublisher struct {
	events []StockEvent
	err    error
}

func (p *capturingStockPublisher) PublishStockEvent(_ context.Context, event StockEvent) error {
	p.events = append(p.events, event)
	return p.err
}

var inventoryTestNow = time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC)

func newTestInventoryService(t *testing.T, repo repositories.StockRepository, publisher StockEventPublisher) InventoryService {
	t.Helper()
	svc, err := NewInventoryService(InventoryServiceDeps{
		Stock:       repo,
		Publisher:   publisher,
		Clock:       func() time.Time { return inventoryTestNow },
		IDGenerator: func() string { return "TESTID" },
	})
	if err != nil {
		t.Fatalf("NewInventoryService: %v", err)
	}
	return svc
}

func TestInventoryServiceReserveAggregatesAndSortsLines(t *testing.T) {
	var captured repositories.StockReserveRequest
	repo := &stubStockRepository{
		reserveFn: func(_ context.Context, req repositories.StockReserveRequest) (repositories.StockReserveResult, error) {
			captured = req
			return repositories.StockReserveResult{
				Levels: map[string]domain.StockLevel{
					"prod-a": {ProductID: "prod-a", OnHand: 10, Reserved: 3},
					"prod-b": {ProductID: "prod-b", OnHand: 5, Reserved: 1},
				},
				Adjustments: []domain.StockAdjustment{
					{ProductID: "prod-a", Delta: -3},
					{ProductID: "prod-b", Delta: -1},
				},
			}, nil
		},
	}
	publisher := &capturingStockPublisher{}
	svc := newTestInventoryService(t, repo, publisher)

	reservation, err := svc.Reserve(context.Background(), ReserveStockCommand{
		Lines: []StockLine{
			{ProductID: "prod-b", Quantity: 1},
			{ProductID: " prod-a ", Quantity: 2},
			{ProductID: "prod-a", Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	if len(captured.Lines) != 2 {
		t.Fatalf("repository lines = %d, want 2 after aggregation", len(captured.Lines))
	}
	if captured.Lines[0].ProductID != "prod-a" || captured.Lines[0].Quantity != 3 {
		t.Fatalf("line[0] = %+v, want prod-a quantity 3", captured.Lines[0])
	}
	if captured.Lines[1].ProductID != "prod-b" || captured.Lines[1].Quantity != 1 {
		t.Fatalf("line[1] = %+v, want prod-b quantity 1", captured.Lines[1])
	}
	if !strings.HasPrefix(reservation.Ref, "rsv_") {
		t.Fatalf("ref = %q, want generated rsv_ prefix", reservation.Ref)
	}
	if !reservation.ReservedAt.Equal(inventoryTestNow) {
		t.Fatalf("reservedAt = %v, want %v", reservation.ReservedAt, inventoryTestNow)
	}

	if len(publisher.events) != 1 {
		t.Fatalf("published events = %d, want 1", len(publisher.events))
	}
	event := publisher.events[0]
	if event.Type != "inventory.reserved" {
		t.Fatalf("event type = %q, want inventory.reserved", event.Type)
	}
	if event.Ref != reservation.Ref {
		t.Fatalf("event ref = %q, want %q", event.Ref, reservation.Ref)
	}
}

func TestInventoryServiceReserveKeepsCallerRef(t *testing.T) {
	repo := &stubStockRepository{
		reserveFn: func(_ context.Context, req repositories.StockReserveRequest) (repositories.StockReserveResult, error) {
			if req.Ref != "order/ord-1" {
				t.Fatalf("repository ref = %q, want order/ord-1", req.Ref)
			}
			return repositories.StockReserveResult{}, nil
		},
	}
	svc := newTestInventoryService(t, repo, nil)

	reservation, err := svc.Reserve(context.Background(), ReserveStockCommand{
		Lines: []StockLine{{ProductID: "prod-a", Quantity: 1}},
		Ref:   "order/ord-1",
	})
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if reservation.Ref != "order/ord-1" {
		t.Fatalf("ref = %q, want order/ord-1", reservation.Ref)
	}
}

func TestInventoryServiceReserveInsufficientStock(t *testing.T) {
	repo := &stubStockRepository{
		reserveFn: func(context.Context, repositories.StockReserveRequest) (repositories.StockReserveResult, error) {
			return repositories.StockReserveResult{}, repositories.NewStockError(repositories.StockErrorInsufficient, "prod-b", "", nil)
		},
	}
	publisher := &capturingStockPublisher{}
	svc := newTestInventoryService(t, repo, publisher)

	_, err := svc.Reserve(context.Background(), ReserveStockCommand{
		Lines: []StockLine{{ProductID: "prod-b", Quantity: 5}},
	})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("Reserve error = %v, want %v", err, ErrInsufficientStock)
	}
	var insufficientErr *InsufficientStockError
	if !errors.As(err, &insufficientErr) {
		t.Fatalf("Reserve error = %T, want *InsufficientStockError", err)
	}
	if insufficientErr.ProductID != "prod-b" {
		t.Fatalf("failing product = %q, want prod-b", insufficientErr.ProductID)
	}
	if len(publisher.events) != 0 {
		t.Fatalf("published events = %d, want none on failure", len(publisher.events))
	}
}

func TestInventoryServiceReserveRejectsInvalidLines(t *testing.T) {
	repo := &stubStockRepository{
		reserveFn: func(context.Context, repositories.StockReserveRequest) (repositories.StockReserveResult, error) {
			t.Fatal("Reserve should not reach the repository for invalid input")
			return repositories.StockReserveResult{}, nil
		},
	}
	svc := newTestInventoryService(t, repo, nil)
	ctx := context.Background()

	cases := []struct {
		name  string
		lines []StockLine
	}{
		{name: "no lines", lines: nil},
		{name: "blank product", lines: []StockLine{{ProductID: "  ", Quantity: 1}}},
		{name: "zero quantity", lines: []StockLine{{ProductID: "prod-a", Quantity: 0}}},
		{name: "negative quantity", lines: []StockLine{{ProductID: "prod-a", Quantity: -2}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Reserve(ctx, ReserveStockCommand{Lines: tc.lines}); !errors.Is(err, ErrStockInvalidInput) {
				t.Fatalf("Reserve error = %v, want %v", err, ErrStockInvalidInput)
			}
		})
	}
}

func TestInventoryServiceReleaseRequiresRef(t *testing.T) {
	svc := newTestInventoryService(t, &stubStockRepository{}, nil)

	err := svc.Release(context.Background(), ReleaseStockCommand{
		Lines: []StockLine{{ProductID: "prod-a", Quantity: 1}},
	})
	if !errors.Is(err, ErrStockInvalidInput) {
		t.Fatalf("Release error = %v, want %v", err, ErrStockInvalidInput)
	}
}

func TestInventoryServiceReleaseEmitsEvent(t *testing.T) {
	repo := &stubStockRepository{
		releaseFn: func(_ context.Context, req repositories.StockReleaseRequest) (repositories.StockReleaseResult, error) {
			if req.Reason != "order cancelled" {
				t.Fatalf("reason = %q, want order cancelled", req.Reason)
			}
			return repositories.StockReleaseResult{
				Levels: map[string]domain.StockLevel{
					"prod-a": {ProductID: "prod-a", OnHand: 10, Reserved: 0},
				},
			}, nil
		},
	}
	publisher := &capturingStockPublisher{}
	svc := newTestInventoryService(t, repo, publisher)

	err := svc.Release(context.Background(), ReleaseStockCommand{
		Lines:  []StockLine{{ProductID: "prod-a", Quantity: 2}},
		Ref:    "order/ord-1",
		Reason: "order cancelled",
	})
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if len(publisher.events) != 1 {
		t.Fatalf("published events = %d, want 1", len(publisher.events))
	}
	event := publisher.events[0]
	if event.Type != "inventory.released" {
		t.Fatalf("event type = %q, want inventory.released", event.Type)
	}
	if len(event.Adjustments) != 1 || event.Adjustments[0].Delta != 2 {
		t.Fatalf("adjustments = %+v, want one positive delta of 2", event.Adjustments)
	}
	if event.Adjustments[0].OnHand != 10 {
		t.Fatalf("adjustment onHand = %d, want 10 from released level", event.Adjustments[0].OnHand)
	}
}

func TestInventoryServiceCommitEmitsEvent(t *testing.T) {
	committed := false
	repo := &stubStockRepository{
		commitFn: func(_ context.Context, req repositories.StockCommitRequest) error {
			committed = true
			if req.Ref != "order/ord-1" {
				t.Fatalf("commit ref = %q, want order/ord-1", req.Ref)
			}
			return nil
		},
	}
	publisher := &capturingStockPublisher{}
	svc := newTestInventoryService(t, repo, publisher)

	err := svc.Commit(context.Background(), CommitStockCommand{
		Lines: []StockLine{{ProductID: "prod-a", Quantity: 2}},
		Ref:   "order/ord-1",
	})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if !committed {
		t.Fatal("repository Commit was not called")
	}
	if len(publisher.events) != 1 || publisher.events[0].Type != "inventory.committed" {
		t.Fatalf("events = %+v, want one inventory.committed", publisher.events)
	}
}

func TestInventoryServicePublishFailureDoesNotFailOperation(t *testing.T) {
	repo := &stubStockRepository{
		reserveFn: func(context.Context, repositories.StockReserveRequest) (repositories.StockReserveResult, error) {
			return repositories.StockReserveResult{}, nil
		},
	}
	publisher := &capturingStockPublisher{err: errors.New("broker down")}
	svc := newTestInventoryService(t, repo, publisher)

	if _, err := svc.Reserve(context.Background(), ReserveStockCommand{
		Lines: []StockLine{{ProductID: "prod-a", Quantity: 1}},
	}); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
}

// lockingStockRepo applies the same conditional decrement the Firestore
// transaction performs, guarded by a mutex so concurrent reservations contend.
type lockingStockRepo struct {
	mu     sync.Mutex
	levels map[string]*domain.StockLevel
}

func (r *lockingStockRepo) Reserve(_ context.Context, req repositories.StockReserveRequest) (repositories.StockReserveResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, line := range req.Lines {
		level, ok := r.levels[line.ProductID]
		if !ok {
			return repositories.StockReserveResult{}, repositories.NewStockError(repositories.StockErrorNotFound, line.ProductID, "", nil)
		}
		if level.Available() < line.Quantity {
			return repositories.StockReserveResult{}, repositories.NewStockError(repositories.StockErrorInsufficient, line.ProductID, "", nil)
		}
	}
	result := repositories.StockReserveResult{Levels: map[string]domain.StockLevel{}}
	for _, line := range req.Lines {
		level := r.levels[line.ProductID]
		level.Reserved += line.Quantity
		result.Levels[line.ProductID] = *level
		result.Adjustments = append(result.Adjustments, domain.StockAdjustment{
			ProductID: line.ProductID,
			Delta:     -line.Quantity,
			OnHand:    level.OnHand,
			Reserved:  level.Reserved,
		})
	}
	return result, nil
}

func (r *lockingStockRepo) Release(_ context.Context, req repositories.StockReleaseRequest) (repositories.StockReleaseResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := repositories.StockReleaseResult{Levels: map[string]domain.StockLevel{}}
	for _, line := range req.Lines {
		if level, ok := r.levels[line.ProductID]; ok {
			level.Reserved -= line.Quantity
			result.Levels[line.ProductID] = *level
		}
	}
	return result, nil
}

func (r *lockingStockRepo) Commit(context.Context, repositories.StockCommitRequest) error {
	return nil
}

func (r *lockingStockRepo) GetLevel(_ context.Context, productID string) (domain.StockLevel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if level, ok := r.levels[productID]; ok {
		return *level, nil
	}
	return domain.StockLevel{}, repositories.NewStockError(repositories.StockErrorNotFound, productID, "", nil)
}

func TestInventoryServiceReserveLastUnitsUnderContention(t *testing.T) {
	repo := &lockingStockRepo{
		levels: map[string]*domain.StockLevel{
			"prod-a": {ProductID: "prod-a", OnHand: 5},
		},
	}
	svc := newTestInventoryService(t, repo, nil)

	const attempts = 8
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		succeeded    int
		insufficient int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Reserve(context.Background(), ReserveStockCommand{
				Lines: []StockLine{{ProductID: "prod-a", Quantity: 2}},
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrInsufficientStock):
				insufficient++
			default:
				t.Errorf("Reserve: unexpected error %v", err)
			}
		}()
	}
	wg.Wait()

	// Five on hand at two per attempt: exactly two reservations can land.
	if succeeded != 2 {
		t.Fatalf("successful reservations = %d, want 2", succeeded)
	}
	if insufficient != attempts-2 {
		t.Fatalf("insufficient rejections = %d, want %d", insufficient, attempts-2)
	}

	level, err := svc.Level(context.Background(), "prod-a")
	if err != nil {
		t.Fatalf("Level: %v", err)
	}
	if level.Available() != 1 {
		t.Fatalf("available = %d, want 1 remaining", level.Available())
	}
}
