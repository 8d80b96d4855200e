package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	domain "github.com/chandanhastantram/artsstore-sub000/internal/domain"
	"github.com/chandanhastantram/artsstore-sub000/internal/repositories"
)

var (
	// ErrOrderInvalidInput indicates the caller supplied malformed data.
	ErrOrderInvalidInput = errors.New("order service: invalid input")
	// ErrOrderNotFound indicates the order does not exist.
	ErrOrderNotFound = errors.New("order service: order not found")
	// ErrOrderInvalidTransition indicates the requested status is not reachable
	// from the current one. The order is left unchanged.
	ErrOrderInvalidTransition = errors.New("order service: invalid status transition")
	// ErrOrderStatusConflict indicates the stored status moved underneath the caller.
	ErrOrderStatusConflict = errors.New("order service: order status conflict")
	// ErrOrderNotShipped indicates tracking can only be assigned to shipped orders.
	ErrOrderNotShipped = errors.New("order service: order not shipped")
)

// orderStateTransitions is the allowed-next adjacency table for order statuses.
// Terminal states have no entries.
var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusConfirmed, domain.OrderStatusCancelled},
	domain.OrderStatusConfirmed:  {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered, domain.OrderStatusCancelled},
	domain.OrderStatusDelivered:  {},
	domain.OrderStatusCancelled:  {},
}

// releasesStockOnCancel lists statuses whose cancellation must restore the
// stock reserved at checkout; once shipped, the units have left the building.
var releasesStockOnCancel = map[domain.OrderStatus]bool{
	domain.OrderStatusPending:    true,
	domain.OrderStatusConfirmed:  true,
	domain.OrderStatusProcessing: true,
}

func canTransition(from, to domain.OrderStatus) bool {
	for _, candidate := range orderStateTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// OrderServiceDeps bundles dependencies for the order service.
type OrderServiceDeps struct {
	Orders    repositories.OrderRepository
	Inventory InventoryService
	Publisher OrderEventPublisher
	Clock     func() time.Time
	Logger    func(context.Context, string, map[string]any)
}

type orderService struct {
	orders    repositories.OrderRepository
	inventory InventoryService
	publisher OrderEventPublisher
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
	sanitizer *bluemonday.Policy
}

// NewOrderService wires an OrderService backed by the provided repositories.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &orderService{
		orders:    deps.Orders,
		inventory: deps.Inventory,
		publisher: deps.Publisher,
		clock:     func() time.Time { return clock().UTC() },
		logger:    logger,
		sanitizer: bluemonday.StrictPolicy(),
	}, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// TransitionStatus is the only sanctioned way to change an order's status.
// The repository re-reads the order inside a transaction, serialising
// concurrent transitions per order; an illegal target leaves the order
// untouched and the history unmutated.
func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if _, err := domain.ParseOrderStatus(string(cmd.TargetStatus)); err != nil {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderInvalidInput, err)
	}

	note := s.sanitizeNote(cmd.Note)
	now := s.clock()
	var previous domain.OrderStatus

	updated, err := s.orders.ApplyTransition(ctx, orderID, func(order domain.Order) (domain.Order, error) {
		if cmd.ExpectedStatus != nil && order.Status != *cmd.ExpectedStatus {
			return domain.Order{}, fmt.Errorf("%w: expected %s, found %s", ErrOrderStatusConflict, *cmd.ExpectedStatus, order.Status)
		}
		if order.Status.Terminal() || !canTransition(order.Status, cmd.TargetStatus) {
			return domain.Order{}, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidTransition, order.Status, cmd.TargetStatus)
		}
		previous = order.Status
		return applyStatusTransition(order, cmd.TargetStatus, note, cmd.ActorID, now), nil
	})
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if cmd.TargetStatus == domain.OrderStatusCancelled && releasesStockOnCancel[previous] {
		s.releaseOrderStock(ctx, updated)
	}
	if cmd.TargetStatus == domain.OrderStatusShipped {
		s.commitOrderStock(ctx, updated)
	}

	s.publishOrderEvent(ctx, OrderEvent{
		Type:        "order.status_changed",
		OrderID:     updated.ID,
		OrderNumber: updated.OrderNumber,
		UserID:      updated.UserID,
		Status:      updated.Status,
		Previous:    previous,
		Total:       updated.Pricing.Total,
		Currency:    updated.Pricing.Currency,
		OccurredAt:  now,
	})

	return updated, nil
}

// AssignTracking records the carrier tracking number on a shipped order.
func (s *orderService) AssignTracking(ctx context.Context, cmd AssignTrackingCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	tracking := strings.TrimSpace(cmd.TrackingNumber)
	if orderID == "" || tracking == "" {
		return Order{}, fmt.Errorf("%w: order id and tracking number are required", ErrOrderInvalidInput)
	}

	now := s.clock()
	updated, err := s.orders.ApplyTransition(ctx, orderID, func(order domain.Order) (domain.Order, error) {
		if order.Status != domain.OrderStatusShipped {
			return domain.Order{}, fmt.Errorf("%w: status is %s", ErrOrderNotShipped, order.Status)
		}
		order.TrackingNumber = tracking
		order.UpdatedAt = now
		return order, nil
	})
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return updated, nil
}

// applyStatusTransition sets the new status and appends the audit entry.
// History is append-only; nothing ever edits or truncates past entries.
func applyStatusTransition(order domain.Order, next domain.OrderStatus, note, actor string, now time.Time) domain.Order {
	history := make([]domain.StatusHistoryEntry, len(order.StatusHistory), len(order.StatusHistory)+1)
	copy(history, order.StatusHistory)
	history = append(history, domain.StatusHistoryEntry{
		Status:    next,
		Timestamp: now,
		Note:      note,
		Actor:     strings.TrimSpace(actor),
	})
	order.Status = next
	order.StatusHistory = history
	order.UpdatedAt = now
	return order
}

func (s *orderService) sanitizeNote(note string) string {
	return strings.TrimSpace(s.sanitizer.Sanitize(note))
}

func (s *orderService) releaseOrderStock(ctx context.Context, order domain.Order) {
	if s.inventory == nil {
		return
	}
	lines := make([]StockLine, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, StockLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	if err := s.inventory.Release(ctx, ReleaseStockCommand{
		Lines:  lines,
		Ref:    orderStockRef(order.ID),
		Reason: "order cancelled",
	}); err != nil {
		s.logger(ctx, "order_cancel_stock_release_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
}

func (s *orderService) commitOrderStock(ctx context.Context, order domain.Order) {
	if s.inventory == nil {
		return
	}
	lines := make([]StockLine, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, StockLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	if err := s.inventory.Commit(ctx, CommitStockCommand{
		Lines: lines,
		Ref:   orderStockRef(order.ID),
	}); err != nil {
		s.logger(ctx, "order_ship_stock_commit_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
}

func (s *orderService) publishOrderEvent(ctx context.Context, event OrderEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order_event_publish_failed", map[string]any{
			"type":    event.Type,
			"orderId": event.OrderID,
			"error":   err.Error(),
		})
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrOrderInvalidTransition) || errors.Is(err, ErrOrderStatusConflict) || errors.Is(err, ErrOrderNotShipped) {
		return err
	}
	if repoErr, ok := err.(repositories.RepositoryError); ok {
		switch {
		case repoErr.IsNotFound():
			return ErrOrderNotFound
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %s", ErrOrderStatusConflict, repoErr.Error())
		}
	}
	return err
}

// orderStockRef names the reservation reference tied to an order's checkout.
func orderStockRef(orderID string) string {
	return "order/" + orderID
}
