package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Address represents postal address structures shared by user and order layers.
type Address struct {
	Recipient  string
	Line1      string
	Line2      *string
	City       string
	State      *string
	PostalCode string
	Country    string
	Phone      *string
}

// Validate reports whether the address carries the minimum fields required to ship.
func (a Address) Validate() error {
	switch {
	case strings.TrimSpace(a.Recipient) == "":
		return errors.New("address: recipient is required")
	case strings.TrimSpace(a.Line1) == "":
		return errors.New("address: line1 is required")
	case strings.TrimSpace(a.City) == "":
		return errors.New("address: city is required")
	case strings.TrimSpace(a.PostalCode) == "":
		return errors.New("address: postal code is required")
	case strings.TrimSpace(a.Country) == "":
		return errors.New("address: country is required")
	}
	return nil
}

// StockLevel is the per-product inventory projection maintained by the stock ledger.
type StockLevel struct {
	ProductID string
	OnHand    int
	Reserved  int
	UpdatedAt time.Time
}

// Available returns the quantity that can still be reserved.
func (s StockLevel) Available() int {
	available := s.OnHand - s.Reserved
	if available < 0 {
		return 0
	}
	return available
}

// StockAdjustment captures a single reserve/release movement for event emission.
type StockAdjustment struct {
	ProductID string
	Delta     int
	OnHand    int
	Reserved  int
}

const (
	// HealthStatusOK indicates a dependency responded within its timeout.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates a dependency responded with an error.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates a dependency timed out or was cancelled.
	HealthStatusError = "error"
)

// SystemHealthCheck records the outcome of a single dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// NewsletterSubscriber is a persisted newsletter list entry owned by the newsletter component.
type NewsletterSubscriber struct {
	ID             string
	Email          string
	Source         string
	SubscribedAt   time.Time
	UnsubscribedAt *time.Time
}

// Active reports whether the subscriber still receives mailings.
func (n NewsletterSubscriber) Active() bool {
	return n.UnsubscribedAt == nil
}

// NewNewsletterSubscriber validates and normalises a subscription entry.
func NewNewsletterSubscriber(id, email, source string, now time.Time) (NewsletterSubscriber, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return NewsletterSubscriber{}, fmt.Errorf("newsletter subscriber: invalid email %q", email)
	}
	if strings.TrimSpace(id) == "" {
		return NewsletterSubscriber{}, errors.New("newsletter subscriber: id is required")
	}
	return NewsletterSubscriber{
		ID:           id,
		Email:        email,
		Source:       strings.TrimSpace(source),
		SubscribedAt: now.UTC(),
	}, nil
}
