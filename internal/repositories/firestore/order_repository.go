package firestore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/chandanhastantram/artsstore-sub000/internal/domain"
	pfirestore "github.com/chandanhastantram/artsstore-sub000/internal/platform/firestore"
	"github.com/chandanhastantram/artsstore-sub000/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository persists order documents. Orders are created whole at
// checkout and mutated only through transactional transitions.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
}

func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	orders := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil)
	return &OrderRepository{provider: provider, orders: orders}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.orders == nil {
		return errors.New("order repository not initialised")
	}
	if err := order.Validate(); err != nil {
		return err
	}
	docRef, err := r.orders.DocumentRef(ctx, order.ID)
	if err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		if err := tx.Create(docRef, newOrderDocument(order)); err != nil {
			return pfirestore.WrapError("orders.insert", err)
		}
		return nil
	}
	if _, err := docRef.Create(ctx, newOrderDocument(order)); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// ApplyTransition re-reads the order inside a transaction, hands the decoded
// order to mutate, and persists the result. The transaction serialises
// concurrent transitions on the same order.
func (r *OrderRepository) ApplyTransition(ctx context.Context, orderID string, mutate func(domain.Order) (domain.Order, error)) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order transition: order id is required")
	}
	if mutate == nil {
		return domain.Order{}, errors.New("order transition: mutate func is required")
	}

	var updated domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docRef, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(docRef)
		if err != nil {
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}

		next, err := mutate(doc.toDomain(orderID))
		if err != nil {
			return err
		}
		if err := next.Validate(); err != nil {
			return err
		}
		updated = next
		return tx.Set(docRef, newOrderDocument(next))
	})
	if err != nil {
		return domain.Order{}, wrapOrderError("orders.applyTransition", err)
	}
	return updated, nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order lookup: order id is required")
	}

	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, wrapOrderError("orders.findByID", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

// List returns orders newest first, filtered by user, status set, and creation
// window, with opaque cursor pagination.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, wrapOrderError("orders.list", err)
	}

	query := client.Collection(ordersCollection).Query
	if userID := strings.TrimSpace(filter.UserID); userID != "" {
		query = query.Where("userId", "==", userID)
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			statuses[i] = string(s)
		}
		query = query.Where("status", "in", statuses)
	}
	if filter.DateRange.From != nil {
		query = query.Where("createdAt", ">=", filter.DateRange.From.UTC())
	}
	if filter.DateRange.To != nil {
		query = query.Where("createdAt", "<", filter.DateRange.To.UTC())
	}
	query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Asc).Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		cursor, err := decodeOrderPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, wrapOrderError("orders.list", err)
		}
		query = query.StartAfter(cursor.CreatedAt, cursor.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var orders []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, wrapOrderError("orders.list", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}
		orders = append(orders, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(orders) > pageSize
	if hasMore {
		orders = orders[:pageSize]
	}
	var nextToken string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		encoded, err := encodeOrderPageToken(orderPageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, wrapOrderError("orders.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Order]{Items: orders, NextPageToken: nextToken}, nil
}

// Helper structures ---------------------------------------------------------

type orderDocument struct {
	UserID          string                 `firestore:"userId"`
	OrderNumber     string                 `firestore:"orderNumber"`
	Items           []orderItemDocument    `firestore:"items"`
	ShippingAddress addressDocument        `firestore:"shippingAddress"`
	Payment         paymentInfoDocument    `firestore:"payment"`
	Pricing         pricingDocument        `firestore:"pricing"`
	Status          string                 `firestore:"status"`
	StatusHistory   []historyEntryDocument `firestore:"statusHistory"`
	TrackingNumber  string                 `firestore:"trackingNumber,omitempty"`
	CreatedAt       time.Time              `firestore:"createdAt"`
	UpdatedAt       time.Time              `firestore:"updatedAt"`
}

type orderItemDocument struct {
	ProductID      string                  `firestore:"productId"`
	Name           string                  `firestore:"name"`
	UnitPrice      int64                   `firestore:"unitPrice"`
	Quantity       int                     `firestore:"qty"`
	Customizations []customizationDocument `firestore:"customizations,omitempty"`
}

type customizationDocument struct {
	Kind  string `firestore:"kind"`
	Value string `firestore:"value"`
}

type addressDocument struct {
	Recipient  string  `firestore:"recipient"`
	Line1      string  `firestore:"line1"`
	Line2      *string `firestore:"line2,omitempty"`
	City       string  `firestore:"city"`
	State      *string `firestore:"state,omitempty"`
	PostalCode string  `firestore:"postalCode"`
	Country    string  `firestore:"country"`
	Phone      *string `firestore:"phone,omitempty"`
}

type paymentInfoDocument struct {
	Method           string `firestore:"method"`
	GatewayOrderID   string `firestore:"gatewayOrderId,omitempty"`
	GatewayPaymentID string `firestore:"gatewayPaymentId,omitempty"`
	Signature        string `firestore:"signature,omitempty"`
	Status           string `firestore:"status"`
}

type pricingDocument struct {
	Currency string `firestore:"currency"`
	Subtotal int64  `firestore:"subtotal"`
	Discount int64  `firestore:"discount"`
	Shipping int64  `firestore:"shipping"`
	Tax      int64  `firestore:"tax"`
	Total    int64  `firestore:"total"`
}

type historyEntryDocument struct {
	Status    string    `firestore:"status"`
	Timestamp time.Time `firestore:"timestamp"`
	Note      string    `firestore:"note,omitempty"`
	Actor     string    `firestore:"actor,omitempty"`
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, len(order.Items))
	for i, item := range order.Items {
		customizations := make([]customizationDocument, len(item.Customizations))
		for j, c := range item.Customizations {
			customizations[j] = customizationDocument{Kind: string(c.Kind), Value: c.Value()}
		}
		if len(customizations) == 0 {
			customizations = nil
		}
		items[i] = orderItemDocument{
			ProductID:      item.ProductID,
			Name:           item.Name,
			UnitPrice:      item.UnitPrice,
			Quantity:       item.Quantity,
			Customizations: customizations,
		}
	}
	history := make([]historyEntryDocument, len(order.StatusHistory))
	for i, entry := range order.StatusHistory {
		history[i] = historyEntryDocument{
			Status:    string(entry.Status),
			Timestamp: entry.Timestamp.UTC(),
			Note:      entry.Note,
			Actor:     entry.Actor,
		}
	}
	return orderDocument{
		UserID:      order.UserID,
		OrderNumber: order.OrderNumber,
		Items:       items,
		ShippingAddress: addressDocument{
			Recipient:  order.ShippingAddress.Recipient,
			Line1:      order.ShippingAddress.Line1,
			Line2:      order.ShippingAddress.Line2,
			City:       order.ShippingAddress.City,
			State:      order.ShippingAddress.State,
			PostalCode: order.ShippingAddress.PostalCode,
			Country:    order.ShippingAddress.Country,
			Phone:      order.ShippingAddress.Phone,
		},
		Payment: paymentInfoDocument{
			Method:           string(order.Payment.Method),
			GatewayOrderID:   order.Payment.GatewayOrderID,
			GatewayPaymentID: order.Payment.GatewayPaymentID,
			Signature:        order.Payment.Signature,
			Status:           string(order.Payment.Status),
		},
		Pricing: pricingDocument{
			Currency: order.Pricing.Currency,
			Subtotal: order.Pricing.Subtotal,
			Discount: order.Pricing.Discount,
			Shipping: order.Pricing.Shipping,
			Tax:      order.Pricing.Tax,
			Total:    order.Pricing.Total,
		},
		Status:         string(order.Status),
		StatusHistory:  history,
		TrackingNumber: order.TrackingNumber,
		CreatedAt:      order.CreatedAt.UTC(),
		UpdatedAt:      order.UpdatedAt.UTC(),
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderItem, len(d.Items))
	for i, item := range d.Items {
		customizations := make([]domain.CustomizationSelection, 0, len(item.Customizations))
		for _, c := range item.Customizations {
			if selection, err := domain.NewCustomizationSelection(domain.CustomizationKind(c.Kind), c.Value); err == nil {
				customizations = append(customizations, selection)
			}
		}
		if len(customizations) == 0 {
			customizations = nil
		}
		items[i] = domain.OrderItem{
			ProductID:      item.ProductID,
			Name:           item.Name,
			UnitPrice:      item.UnitPrice,
			Quantity:       item.Quantity,
			Customizations: customizations,
		}
	}
	history := make([]domain.StatusHistoryEntry, len(d.StatusHistory))
	for i, entry := range d.StatusHistory {
		history[i] = domain.StatusHistoryEntry{
			Status:    domain.OrderStatus(entry.Status),
			Timestamp: entry.Timestamp,
			Note:      entry.Note,
			Actor:     entry.Actor,
		}
	}
	return domain.Order{
		ID:          id,
		UserID:      d.UserID,
		OrderNumber: d.OrderNumber,
		Items:       items,
		ShippingAddress: domain.Address{
			Recipient:  d.ShippingAddress.Recipient,
			Line1:      d.ShippingAddress.Line1,
			Line2:      d.ShippingAddress.Line2,
			City:       d.ShippingAddress.City,
			State:      d.ShippingAddress.State,
			PostalCode: d.ShippingAddress.PostalCode,
			Country:    d.ShippingAddress.Country,
			Phone:      d.ShippingAddress.Phone,
		},
		Payment: domain.PaymentInfo{
			Method:           domain.PaymentMethod(d.Payment.Method),
			GatewayOrderID:   d.Payment.GatewayOrderID,
			GatewayPaymentID: d.Payment.GatewayPaymentID,
			Signature:        d.Payment.Signature,
			Status:           domain.PaymentStatus(d.Payment.Status),
		},
		Pricing: domain.PricingBreakdown{
			Currency: d.Pricing.Currency,
			Subtotal: d.Pricing.Subtotal,
			Discount: d.Pricing.Discount,
			Shipping: d.Pricing.Shipping,
			Tax:      d.Pricing.Tax,
			Total:    d.Pricing.Total,
		},
		Status:         domain.OrderStatus(d.Status),
		StatusHistory:  history,
		TrackingNumber: d.TrackingNumber,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

type orderPageToken struct {
	ID        string
	CreatedAt time.Time
}

func encodeOrderPageToken(token orderPageToken) (string, error) {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(token); err != nil {
		return "", fmt.Errorf("encode order page token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes.TrimSpace(buf.Bytes())), nil
}

func decodeOrderPageToken(encoded string) (orderPageToken, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return orderPageToken{}, fmt.Errorf("decode order page token: %w", err)
	}
	var token orderPageToken
	if err := json.Unmarshal(data, &token); err != nil {
		return orderPageToken{}, fmt.Errorf("decode order page token json: %w", err)
	}
	return token, nil
}

func wrapOrderError(op string, err error) error {
	if err == nil {
		return nil
	}
	var repoErr *pfirestore.Error
	if errors.As(err, &repoErr) {
		return repoErr
	}
	return pfirestore.WrapError(op, err)
}
