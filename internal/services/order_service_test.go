package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	domain "github.com/chandanhastantram/artsstore-sub000/internal/domain"
	"github.com/chandanhastantram/artsstore-sub000/internal/repositories"
)

// repoTestError is a categorised persistence failure for stubbing repositories.
type repoTestError struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e repoTestError) Error() string       { return e.msg }
func (e repoTestError) IsNotFound() bool    { return e.notFound }
func (e repoTestError) IsConflict() bool    { return e.conflict }
func (e repoTestError) IsUnavailable() bool { return e.unavailable }

// memoryOrderRepo holds one order and applies transitions the way the
// Firestore repository does: mutate against the stored copy, persist only on
// success.
type memoryOrderRepo struct {
	order     domain.Order
	inserted  []domain.Order
	insertErr error
}

func (r *memoryOrderRepo) Insert(_ context.Context, order domain.Order) error {
	if r.insertErr != nil {
		return r.insertErr
	}
	r.inserted = append(r.inserted, order)
	r.order = order
	return nil
}

func (r *memoryOrderRepo) ApplyTransition(_ context.Context, orderID string, mutate func(domain.Order) (domain.Order, error)) (domain.Order, error) {
	if r.order.ID != orderID {
		return domain.Order{}, repoTestError{msg: "order " + orderID + " not found", notFound: true}
	}
	updated, err := mutate(r.order)
	if err != nil {
		return domain.Order{}, err
	}
	r.order = updated
	return updated, nil
}

func (r *memoryOrderRepo) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	if r.order.ID != orderID {
		return domain.Order{}, repoTestError{msg: "order " + orderID + " not found", notFound: true}
	}
	return r.order, nil
}

func (r *memoryOrderRepo) List(_ context.Context, _ repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	return domain.CursorPage[domain.Order]{Items: []domain.Order{r.order}}, nil
}

type capturingInventory struct {
	InventoryService
	releases  []ReleaseStockCommand
	commits   []CommitStockCommand
	err       error
	commitErr error
}

func (c *capturingInventory) Release(_ context.Context, cmd ReleaseStockCommand) error {
	c.releases = append(c.releases, cmd)
	return c.err
}

func (c *capturingInventory) Commit(_ context.Context, cmd CommitStockCommand) error {
	c.commits = append(c.commits, cmd)
	return c.commitErr
}

type capturingOrderPublisher struct {
	events []OrderEvent
}

func (p *capturingOrderPublisher) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	p.events = append(p.events, event)
	return nil
}

var orderTestNow = time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC)

func testAddress() domain.Address {
	return domain.Address{
		Recipient:  "Asha Rao",
		Line1:      "12 Gallery Lane",
		City:       "Bengaluru",
		PostalCode: "560001",
		Country:    "IN",
	}
}

func testOrder(status domain.OrderStatus) domain.Order {
	created := orderTestNow.Add(-time.Hour)
	return domain.Order{
		ID:          "ord-1",
		UserID:      "user-1",
		OrderNumber: "AS-2024-000042",
		Items: []domain.OrderItem{
			{ProductID: "prod-a", Name: "Print A", UnitPrice: 100000, Quantity: 2},
			{ProductID: "prod-b", Name: "Print B", UnitPrice: 50000, Quantity: 1},
		},
		ShippingAddress: testAddress(),
		Payment:         domain.PaymentInfo{Method: domain.PaymentMethodCOD, Status: domain.PaymentStatusPending},
		Pricing: domain.PricingBreakdown{
			Currency: "INR",
			Subtotal: 250000,
			Tax:      45000,
			Total:    295000,
		},
		Status: status,
		StatusHistory: []domain.StatusHistoryEntry{
			{Status: status, Timestamp: created, Note: "seed", Actor: "user-1"},
		},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func newTestOrderService(t *testing.T, repo repositories.OrderRepository, inventory InventoryService, publisher OrderEventPublisher) OrderService {
	t.Helper()
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:    repo,
		Inventory: inventory,
		Publisher: publisher,
		Clock:     func() time.Time { return orderTestNow },
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	return svc
}

func TestOrderServiceTransitionTable(t *testing.T) {
	statuses := []domain.OrderStatus{
		domain.OrderStatusPending,
		domain.OrderStatusConfirmed,
		domain.OrderStatusProcessing,
		domain.OrderStatusShipped,
		domain.OrderStatusDelivered,
		domain.OrderStatusCancelled,
	}
	allowed := map[domain.OrderStatus]map[domain.OrderStatus]bool{
		domain.OrderStatusPending:    {domain.OrderStatusConfirmed: true, domain.OrderStatusCancelled: true},
		domain.OrderStatusConfirmed:  {domain.OrderStatusProcessing: true, domain.OrderStatusCancelled: true},
		domain.OrderStatusProcessing: {domain.OrderStatusShipped: true, domain.OrderStatusCancelled: true},
		domain.OrderStatusShipped:    {domain.OrderStatusDelivered: true, domain.OrderStatusCancelled: true},
	}

	for _, from := range statuses {
		for _, to := range statuses {
			t.Run(fmt.Sprintf("%s to %s", from, to), func(t *testing.T) {
				repo := &memoryOrderRepo{order: testOrder(from)}
				svc := newTestOrderService(t, repo, nil, nil)

				updated, err := svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
					OrderID:      "ord-1",
					TargetStatus: to,
				})
				if allowed[from][to] {
					if err != nil {
						t.Fatalf("TransitionStatus: %v", err)
					}
					if updated.Status != to {
						t.Fatalf("status = %s, want %s", updated.Status, to)
					}
					return
				}
				if !errors.Is(err, ErrOrderInvalidTransition) {
					t.Fatalf("TransitionStatus error = %v, want %v", err, ErrOrderInvalidTransition)
				}
				if repo.order.Status != from {
					t.Fatalf("stored status mutated to %s on rejected transition", repo.order.Status)
				}
				if len(repo.order.StatusHistory) != 1 {
					t.Fatalf("history grew to %d entries on rejected transition", len(repo.order.StatusHistory))
				}
			})
		}
	}
}

func TestOrderServiceTransitionAppendsHistory(t *testing.T) {
	repo := &memoryOrderRepo{order: testOrder(domain.OrderStatusPending)}
	publisher := &capturingOrderPublisher{}
	svc := newTestOrderService(t, repo, nil, publisher)

	updated, err := svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:      "ord-1",
		TargetStatus: domain.OrderStatusConfirmed,
		Note:         "payment received",
		ActorID:      "admin-1",
	})
	if err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}

	if len(updated.StatusHistory) != 2 {
		t.Fatalf("history entries = %d, want 2", len(updated.StatusHistory))
	}
	if updated.StatusHistory[0].Note != "seed" {
		t.Fatal("earlier history entry was rewritten")
	}
	tail := updated.StatusHistory[1]
	if tail.Status != domain.OrderStatusConfirmed || tail.Note != "payment received" || tail.Actor != "admin-1" {
		t.Fatalf("history tail = %+v", tail)
	}
	if !tail.Timestamp.Equal(orderTestNow) {
		t.Fatalf("history timestamp = %v, want %v", tail.Timestamp, orderTestNow)
	}

	if len(publisher.events) != 1 {
		t.Fatalf("published events = %d, want 1", len(publisher.events))
	}
	event := publisher.events[0]
	if event.Type != "order.status_changed" {
		t.Fatalf("event type = %q", event.Type)
	}
	if event.Previous != domain.OrderStatusPending || event.Status != domain.OrderStatusConfirmed {
		t.Fatalf("event statuses = %s -> %s", event.Previous, event.Status)
	}
}

func TestOrderServiceTransitionSanitizesNote(t *testing.T) {
	repo := &memoryOrderRepo{order: testOrder(domain.OrderStatusPending)}
	svc := newTestOrderService(t, repo, nil, nil)

	updated, err := svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:      "ord-1",
		TargetStatus: domain.OrderStatusConfirmed,
		Note:         `<script>alert("x")</script> looks good`,
	})
	if err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}
	note := updated.StatusHistory[len(updated.StatusHistory)-1].Note
	if note != "looks good" {
		t.Fatalf("note = %q, want markup stripped", note)
	}
}

func TestOrderServiceTransitionExpectedStatusConflict(t *testing.T) {
	repo := &memoryOrderRepo{order: testOrder(domain.OrderStatusProcessing)}
	svc := newTestOrderService(t, repo, nil, nil)

	expected := domain.OrderStatusConfirmed
	_, err := svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:        "ord-1",
		TargetStatus:   domain.OrderStatusShipped,
		ExpectedStatus: &expected,
	})
	if !errors.Is(err, ErrOrderStatusConflict) {
		t.Fatalf("TransitionStatus error = %v, want %v", err, ErrOrderStatusConflict)
	}
	if repo.order.Status != domain.OrderStatusProcessing {
		t.Fatalf("stored status = %s, want untouched processing", repo.order.Status)
	}
}

func TestOrderServiceCancelReleasesStockBeforeShipment(t *testing.T) {
	for _, from := range []domain.OrderStatus{
		domain.OrderStatusPending,
		domain.OrderStatusConfirmed,
		domain.OrderStatusProcessing,
	} {
		t.Run(string(from), func(t *testing.T) {
			repo := &memoryOrderRepo{order: testOrder(from)}
			inventory := &capturingInventory{}
			svc := newTestOrderService(t, repo, inventory, nil)

			_, err := svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
				OrderID:      "ord-1",
				TargetStatus: domain.OrderStatusCancelled,
			})
			if err != nil {
				t.Fatalf("TransitionStatus: %v", err)
			}

			if len(inventory.releases) != 1 {
				t.Fatalf("stock releases = %d, want 1", len(inventory.releases))
			}
			release := inventory.releases[0]
			if release.Ref != "order/ord-1" {
				t.Fatalf("release ref = %q, want order/ord-1", release.Ref)
			}
			if release.Reason != "order cancelled" {
				t.Fatalf("release reason = %q", release.Reason)
			}
			if len(release.Lines) != 2 || release.Lines[0].Quantity != 2 {
				t.Fatalf("release lines = %+v", release.Lines)
			}
		})
	}
}

func TestOrderServiceCancelAfterShipmentKeepsStock(t *testing.T) {
	repo := &memoryOrderRepo{order: testOrder(domain.OrderStatusShipped)}
	inventory := &capturingInventory{}
	svc := newTestOrderService(t, repo, inventory, nil)

	updated, err := svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:      "ord-1",
		TargetStatus: domain.OrderStatusCancelled,
	})
	if err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}
	if updated.Status != domain.OrderStatusCancelled {
		t.Fatalf("status = %s, want cancelled", updated.Status)
	}
	if len(inventory.releases) != 0 {
		t.Fatalf("stock releases = %d, want none after shipment", len(inventory.releases))
	}
}

func TestOrderServiceCancelSucceedsWhenReleaseFails(t *testing.T) {
	repo := &memoryOrderRepo{order: testOrder(domain.OrderStatusPending)}
	inventory := &capturingInventory{err: errors.New("ledger unavailable")}
	svc := newTestOrderService(t, repo, inventory, nil)

	updated, err := svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:      "ord-1",
		TargetStatus: domain.OrderStatusCancelled,
	})
	if err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}
	if updated.Status != domain.OrderStatusCancelled {
		t.Fatalf("status = %s, want cancelled despite release failure", updated.Status)
	}
}

func TestOrderServiceShipCommitsReservedStock(t *testing.T) {
	repo := &memoryOrderRepo{order: testOrder(domain.OrderStatusProcessing)}
	inventory := &capturingInventory{}
	svc := newTestOrderService(t, repo, inventory, nil)

	updated, err := svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:      "ord-1",
		TargetStatus: domain.OrderStatusShipped,
	})
	if err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}
	if updated.Status != domain.OrderStatusShipped {
		t.Fatalf("status = %s, want shipped", updated.Status)
	}

	if len(inventory.commits) != 1 {
		t.Fatalf("stock commits = %d, want 1", len(inventory.commits))
	}
	commit := inventory.commits[0]
	if commit.Ref != "order/ord-1" {
		t.Fatalf("commit ref = %q, want order/ord-1", commit.Ref)
	}
	if len(commit.Lines) != 2 || commit.Lines[0].ProductID != "prod-a" || commit.Lines[0].Quantity != 2 {
		t.Fatalf("commit lines = %+v", commit.Lines)
	}
	if len(inventory.releases) != 0 {
		t.Fatalf("stock releases = %d, want none on shipment", len(inventory.releases))
	}
}

func TestOrderServiceDeliverDoesNotTouchStock(t *testing.T) {
	repo := &memoryOrderRepo{order: testOrder(domain.OrderStatusShipped)}
	inventory := &capturingInventory{}
	svc := newTestOrderService(t, repo, inventory, nil)

	if _, err := svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:      "ord-1",
		TargetStatus: domain.OrderStatusDelivered,
	}); err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}
	if len(inventory.commits) != 0 || len(inventory.releases) != 0 {
		t.Fatalf("commits = %d, releases = %d, want no ledger calls on delivery", len(inventory.commits), len(inventory.releases))
	}
}

func TestOrderServiceShipSucceedsWhenCommitFails(t *testing.T) {
	repo := &memoryOrderRepo{order: testOrder(domain.OrderStatusProcessing)}
	inventory := &capturingInventory{commitErr: errors.New("ledger unavailable")}
	svc := newTestOrderService(t, repo, inventory, nil)

	updated, err := svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:      "ord-1",
		TargetStatus: domain.OrderStatusShipped,
	})
	if err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}
	if updated.Status != domain.OrderStatusShipped {
		t.Fatalf("status = %s, want shipped despite commit failure", updated.Status)
	}
}

func TestOrderServiceTransitionInvalidInput(t *testing.T) {
	svc := newTestOrderService(t, &memoryOrderRepo{}, nil, nil)
	ctx := context.Background()

	if _, err := svc.TransitionStatus(ctx, OrderStatusTransitionCommand{TargetStatus: domain.OrderStatusConfirmed}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("missing order id error = %v, want %v", err, ErrOrderInvalidInput)
	}
	if _, err := svc.TransitionStatus(ctx, OrderStatusTransitionCommand{OrderID: "ord-1", TargetStatus: "teleported"}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("unknown status error = %v, want %v", err, ErrOrderInvalidInput)
	}
}

func TestOrderServiceTransitionNotFound(t *testing.T) {
	repo := &memoryOrderRepo{order: testOrder(domain.OrderStatusPending)}
	svc := newTestOrderService(t, repo, nil, nil)

	_, err := svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:      "ord-missing",
		TargetStatus: domain.OrderStatusConfirmed,
	})
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("TransitionStatus error = %v, want %v", err, ErrOrderNotFound)
	}
}

func TestOrderServiceAssignTracking(t *testing.T) {
	repo := &memoryOrderRepo{order: testOrder(domain.OrderStatusShipped)}
	svc := newTestOrderService(t, repo, nil, nil)

	updated, err := svc.AssignTracking(context.Background(), AssignTrackingCommand{
		OrderID:        "ord-1",
		TrackingNumber: " TRK-778899 ",
	})
	if err != nil {
		t.Fatalf("AssignTracking: %v", err)
	}
	if updated.TrackingNumber != "TRK-778899" {
		t.Fatalf("tracking = %q, want trimmed TRK-778899", updated.TrackingNumber)
	}
	if !updated.UpdatedAt.Equal(orderTestNow) {
		t.Fatalf("updatedAt = %v, want %v", updated.UpdatedAt, orderTestNow)
	}
}

func TestOrderServiceAssignTrackingRequiresShipped(t *testing.T) {
	repo := &memoryOrderRepo{order: testOrder(domain.OrderStatusProcessing)}
	svc := newTestOrderService(t, repo, nil, nil)

	_, err := svc.AssignTracking(context.Background(), AssignTrackingCommand{
		OrderID:        "ord-1",
		TrackingNumber: "TRK-1",
	})
	if !errors.Is(err, ErrOrderNotShipped) {
		t.Fatalf("AssignTracking error = %v, want %v", err, ErrOrderNotShipped)
	}
	if repo.order.TrackingNumber != "" {
		t.Fatalf("tracking = %q, want untouched", repo.order.TrackingNumber)
	}
}

func TestOrderServiceGetOrder(t *testing.T) {
	repo := &memoryOrderRepo{order: testOrder(domain.OrderStatusConfirmed)}
	svc := newTestOrderService(t, repo, nil, nil)

	order, err := svc.GetOrder(context.Background(), "ord-1")
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if order.OrderNumber != "AS-2024-000042" {
		t.Fatalf("order number = %q", order.OrderNumber)
	}

	if _, err := svc.GetOrder(context.Background(), "ord-missing"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("GetOrder error = %v, want %v", err, ErrOrderNotFound)
	}
	if _, err := svc.GetOrder(context.Background(), "  "); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("GetOrder error = %v, want %v", err, ErrOrderInvalidInput)
	}
}
