package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order was committed at checkout and awaits confirmation.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed indicates staff accepted the order for fulfilment.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusProcessing indicates the order is being prepared.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order has been handed to the carrier.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the order reached the customer. Terminal.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled before delivery. Terminal.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed from the status.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// ParseOrderStatus validates a raw status string.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	status := OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch status {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return status, nil
	}
	return "", fmt.Errorf("order status: unknown status %q", raw)
}

// PaymentMethod enumerates how an order is paid.
type PaymentMethod string

const (
	// PaymentMethodGateway is an online payment confirmed by a signed gateway callback.
	PaymentMethodGateway PaymentMethod = "gateway"
	// PaymentMethodCard is a card payment captured through the PSP intent flow.
	PaymentMethodCard PaymentMethod = "card"
	// PaymentMethodCOD is pay-on-delivery; the order commits with payment still pending.
	PaymentMethodCOD PaymentMethod = "cod"
)

// ParsePaymentMethod validates a raw payment method string.
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	method := PaymentMethod(strings.ToLower(strings.TrimSpace(raw)))
	switch method {
	case PaymentMethodGateway, PaymentMethodCard, PaymentMethodCOD:
		return method, nil
	}
	return "", fmt.Errorf("payment method: unknown method %q", raw)
}

// PaymentStatus tracks the settlement state recorded on the order.
type PaymentStatus string

const (
	// PaymentStatusPending indicates payment has not been confirmed yet.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusCompleted indicates payment was verified or captured.
	PaymentStatusCompleted PaymentStatus = "completed"
	// PaymentStatusFailed indicates the payment attempt was rejected.
	PaymentStatusFailed PaymentStatus = "failed"
)

// PaymentInfo is the payment snapshot embedded in an order document.
type PaymentInfo struct {
	Method           PaymentMethod
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
	Status           PaymentStatus
}

// CustomizationKind enumerates the closed set of product customization variants.
type CustomizationKind string

const (
	// CustomizationEngraving is free-text engraving applied to the product.
	CustomizationEngraving CustomizationKind = "engraving"
	// CustomizationGiftWrap selects a named gift wrap style.
	CustomizationGiftWrap CustomizationKind = "gift_wrap"
	// CustomizationColorway selects an alternate colour variant.
	CustomizationColorway CustomizationKind = "colorway"
)

// CustomizationSelection is one resolved customization choice on a cart line.
// Exactly the field matching Kind is meaningful.
type CustomizationSelection struct {
	Kind      CustomizationKind
	Engraving string
	WrapStyle string
	Colorway  string
}

// NewCustomizationSelection validates a selection against the closed variant set.
func NewCustomizationSelection(kind CustomizationKind, value string) (CustomizationSelection, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return CustomizationSelection{}, fmt.Errorf("customization: empty value for %q", kind)
	}
	switch kind {
	case CustomizationEngraving:
		return CustomizationSelection{Kind: kind, Engraving: value}, nil
	case CustomizationGiftWrap:
		return CustomizationSelection{Kind: kind, WrapStyle: value}, nil
	case CustomizationColorway:
		return CustomizationSelection{Kind: kind, Colorway: value}, nil
	}
	return CustomizationSelection{}, fmt.Errorf("customization: unknown kind %q", kind)
}

// Value returns the payload for the selection's kind.
func (c CustomizationSelection) Value() string {
	switch c.Kind {
	case CustomizationEngraving:
		return c.Engraving
	case CustomizationGiftWrap:
		return c.WrapStyle
	case CustomizationColorway:
		return c.Colorway
	}
	return ""
}

// CartLine is a client-owned cart entry; immutable once copied into an order.
type CartLine struct {
	ProductID      string
	Name           string
	UnitPrice      int64
	Quantity       int
	Customizations []CustomizationSelection
}

// Validate checks the structural invariants of a cart line.
func (l CartLine) Validate() error {
	if strings.TrimSpace(l.ProductID) == "" {
		return errors.New("cart line: product id is required")
	}
	if l.UnitPrice < 0 {
		return fmt.Errorf("cart line %s: negative unit price", l.ProductID)
	}
	if l.Quantity < 1 {
		return fmt.Errorf("cart line %s: quantity must be at least 1", l.ProductID)
	}
	return nil
}

// OrderItem is the immutable snapshot of a cart line taken at checkout commit.
type OrderItem struct {
	ProductID      string
	Name           string
	UnitPrice      int64
	Quantity       int
	Customizations []CustomizationSelection
}

// OrderItemFromLine snapshots a validated cart line into an order item.
func OrderItemFromLine(line CartLine) (OrderItem, error) {
	if err := line.Validate(); err != nil {
		return OrderItem{}, err
	}
	customizations := make([]CustomizationSelection, len(line.Customizations))
	copy(customizations, line.Customizations)
	return OrderItem{
		ProductID:      line.ProductID,
		Name:           strings.TrimSpace(line.Name),
		UnitPrice:      line.UnitPrice,
		Quantity:       line.Quantity,
		Customizations: customizations,
	}, nil
}

// StatusHistoryEntry is one append-only audit record of a status change.
type StatusHistoryEntry struct {
	Status    OrderStatus
	Timestamp time.Time
	Note      string
	Actor     string
}

// Order is the checkout commit artefact. Created whole, mutated only through
// status transitions and tracking assignment, never deleted.
type Order struct {
	ID              string
	UserID          string
	OrderNumber     string
	Items           []OrderItem
	ShippingAddress Address
	Payment         PaymentInfo
	Pricing         PricingBreakdown
	Status          OrderStatus
	StatusHistory   []StatusHistoryEntry
	TrackingNumber  string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Validate checks the cross-field invariants an order must hold at rest.
func (o Order) Validate() error {
	if strings.TrimSpace(o.ID) == "" {
		return errors.New("order: id is required")
	}
	if strings.TrimSpace(o.UserID) == "" {
		return errors.New("order: user id is required")
	}
	if len(o.Items) == 0 {
		return errors.New("order: at least one item is required")
	}
	for _, item := range o.Items {
		if item.Quantity < 1 {
			return fmt.Errorf("order: item %s has non-positive quantity", item.ProductID)
		}
	}
	if err := o.ShippingAddress.Validate(); err != nil {
		return err
	}
	if err := o.Pricing.Validate(); err != nil {
		return err
	}
	if len(o.StatusHistory) == 0 {
		return errors.New("order: status history must not be empty")
	}
	if last := o.StatusHistory[len(o.StatusHistory)-1]; last.Status != o.Status {
		return fmt.Errorf("order: history tail %q does not match status %q", last.Status, o.Status)
	}
	return nil
}
