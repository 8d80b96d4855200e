package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	domain "github.com/chandanhastantram/artsstore-sub000/internal/domain"
	"github.com/chandanhastantram/artsstore-sub000/internal/repositories"
)

const (
	eventStockReserved  = "inventory.reserved"
	eventStockReleased  = "inventory.released"
	eventStockCommitted = "inventory.committed"
)

var (
	// ErrStockInvalidInput signals the caller provided invalid arguments.
	ErrStockInvalidInput = errors.New("stock ledger: invalid input")
	// ErrInsufficientStock indicates the requested quantity exceeds availability.
	ErrInsufficientStock = errors.New("stock ledger: insufficient stock")
	// ErrStockNotFound indicates a product has no stock record.
	ErrStockNotFound = errors.New("stock ledger: stock not found")
)

// InsufficientStockError wraps ErrInsufficientStock with the product that
// failed the conditional decrement, so callers can report which line to fix.
type InsufficientStockError struct {
	ProductID string
}

// Error implements the error interface.
func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("stock ledger: insufficient stock for %s", e.ProductID)
}

// Unwrap ties the typed error to the ErrInsufficientStock sentinel.
func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// InventoryServiceDeps bundles dependencies for the stock ledger service.
type InventoryServiceDeps struct {
	Stock       repositories.StockRepository
	Publisher   StockEventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(context.Context, string, map[string]any)
}

type inventoryService struct {
	stock     repositories.StockRepository
	publisher StockEventPublisher
	clock     func() time.Time
	idgen     func() string
	logger    func(context.Context, string, map[string]any)
}

// NewInventoryService wires the stock ledger backed by the provided repository.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Stock == nil {
		return nil, errors.New("inventory service: stock repository is required")
	}
	if deps.IDGenerator == nil {
		return nil, errors.New("inventory service: id generator is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &inventoryService{
		stock:     deps.Stock,
		publisher: deps.Publisher,
		clock:     func() time.Time { return clock().UTC() },
		idgen:     deps.IDGenerator,
		logger:    logger,
	}, nil
}

// Reserve attempts the conditional decrement for every line in one repository
// transaction. Either every line is reserved or none is; the first product
// that cannot cover its quantity aborts the whole attempt.
func (s *inventoryService) Reserve(ctx context.Context, cmd ReserveStockCommand) (StockReservation, error) {
	lines, err := normalizeStockLines(cmd.Lines)
	if err != nil {
		return StockReservation{}, err
	}

	ref := strings.TrimSpace(cmd.Ref)
	if ref == "" {
		ref = "rsv_" + s.idgen()
	}
	now := s.clock()

	result, err := s.stock.Reserve(ctx, repositories.StockReserveRequest{
		Lines: toRepositoryLines(lines),
		Ref:   ref,
		Now:   now,
	})
	if err != nil {
		return StockReservation{}, s.mapRepositoryError(err)
	}

	reservation := StockReservation{
		Ref:         ref,
		Lines:       lines,
		Levels:      result.Levels,
		Adjustments: result.Adjustments,
		ReservedAt:  now,
	}

	s.emitStockEvent(ctx, eventStockReserved, ref, result.Adjustments, now)
	return reservation, nil
}

// Release restores reserved quantities. This is the compensation path: a
// failed checkout step after a successful reserve must call it so stock is
// never left decremented for an order that was not created.
func (s *inventoryService) Release(ctx context.Context, cmd ReleaseStockCommand) error {
	lines, err := normalizeStockLines(cmd.Lines)
	if err != nil {
		return err
	}
	if strings.TrimSpace(cmd.Ref) == "" {
		return fmt.Errorf("%w: ref is required", ErrStockInvalidInput)
	}

	now := s.clock()
	result, err := s.stock.Release(ctx, repositories.StockReleaseRequest{
		Lines:  toRepositoryLines(lines),
		Ref:    cmd.Ref,
		Reason: strings.TrimSpace(cmd.Reason),
		Now:    now,
	})
	if err != nil {
		return s.mapRepositoryError(err)
	}

	s.emitStockEvent(ctx, eventStockReleased, cmd.Ref, releaseAdjustments(lines, result.Levels), now)
	return nil
}

// Commit converts reserved quantities into a permanent on-hand decrement once
// the order ships.
func (s *inventoryService) Commit(ctx context.Context, cmd CommitStockCommand) error {
	lines, err := normalizeStockLines(cmd.Lines)
	if err != nil {
		return err
	}
	if strings.TrimSpace(cmd.Ref) == "" {
		return fmt.Errorf("%w: ref is required", ErrStockInvalidInput)
	}

	now := s.clock()
	if err := s.stock.Commit(ctx, repositories.StockCommitRequest{
		Lines: toRepositoryLines(lines),
		Ref:   cmd.Ref,
		Now:   now,
	}); err != nil {
		return s.mapRepositoryError(err)
	}
	s.emitStockEvent(ctx, eventStockCommitted, cmd.Ref, nil, now)
	return nil
}

// Level returns the current stock projection for a product.
func (s *inventoryService) Level(ctx context.Context, productID string) (StockLevel, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return StockLevel{}, fmt.Errorf("%w: product id is required", ErrStockInvalidInput)
	}
	level, err := s.stock.GetLevel(ctx, productID)
	if err != nil {
		return StockLevel{}, s.mapRepositoryError(err)
	}
	return level, nil
}

func (s *inventoryService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorInsufficient:
			return &InsufficientStockError{ProductID: stockErr.ProductID}
		case repositories.StockErrorNotFound:
			return fmt.Errorf("%w: %s", ErrStockNotFound, stockErr.Message)
		case repositories.StockErrorInvalidLine:
			return fmt.Errorf("%w: %s", ErrStockInvalidInput, stockErr.Message)
		}
	}
	return err
}

// emitStockEvent publishes best-effort; a failed publish never fails the ledger operation.
func (s *inventoryService) emitStockEvent(ctx context.Context, eventType, ref string, adjustments []domain.StockAdjustment, now time.Time) {
	if s.publisher == nil {
		return
	}
	event := StockEvent{
		Type:        eventType,
		Ref:         ref,
		Adjustments: adjustments,
		OccurredAt:  now,
	}
	if err := s.publisher.PublishStockEvent(ctx, event); err != nil {
		s.logger(ctx, "stock_event_publish_failed", map[string]any{
			"type":  eventType,
			"ref":   ref,
			"error": err.Error(),
		})
	}
}

func releaseAdjustments(lines []StockLine, levels map[string]domain.StockLevel) []domain.StockAdjustment {
	adjustments := make([]domain.StockAdjustment, 0, len(lines))
	for _, line := range lines {
		adjustment := domain.StockAdjustment{ProductID: line.ProductID, Delta: line.Quantity}
		if level, ok := levels[line.ProductID]; ok {
			adjustment.OnHand = level.OnHand
			adjustment.Reserved = level.Reserved
		}
		adjustments = append(adjustments, adjustment)
	}
	return adjustments
}

// normalizeStockLines trims, validates, aggregates duplicate products, and
// sorts lines so repository transactions touch documents in a stable order.
func normalizeStockLines(lines []StockLine) ([]StockLine, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: at least one line is required", ErrStockInvalidInput)
	}
	aggregated := make(map[string]int, len(lines))
	for _, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return nil, fmt.Errorf("%w: line product id is required", ErrStockInvalidInput)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for %s must be positive", ErrStockInvalidInput, productID)
		}
		aggregated[productID] += line.Quantity
	}
	normalized := make([]StockLine, 0, len(aggregated))
	for productID, quantity := range aggregated {
		normalized = append(normalized, StockLine{ProductID: productID, Quantity: quantity})
	}
	sort.Slice(normalized, func(i, j int) bool { return normalized[i].ProductID < normalized[j].ProductID })
	return normalized, nil
}

func toRepositoryLines(lines []StockLine) []repositories.StockLine {
	out := make([]repositories.StockLine, len(lines))
	for i, line := range lines {
		out[i] = repositories.StockLine{ProductID: line.ProductID, Quantity: line.Quantity}
	}
	return out
}
