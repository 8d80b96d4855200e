package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/chandanhastantram/artsstore-sub000/internal/domain"
	pfirestore "github.com/chandanhastantram/artsstore-sub000/internal/platform/firestore"
	"github.com/chandanhastantram/artsstore-sub000/internal/repositories"
)

const (
	stockCollection             = "stock"
	stockReservationsCollection = "stockReservations"

	reservationStatusReserved  = "reserved"
	reservationStatusCommitted = "committed"
	reservationStatusReleased  = "released"
)

// StockRepository persists per-product stock levels and the reservation
// documents that track in-flight checkouts.
type StockRepository struct {
	provider     *pfirestore.Provider
	levels       *pfirestore.BaseRepository[stockDocument]
	reservations *pfirestore.BaseRepository[stockReservationDocument]
}

func NewStockRepository(provider *pfirestore.Provider) (*StockRepository, error) {
	if provider == nil {
		return nil, errors.New("stock repository requires firestore provider")
	}
	levels := pfirestore.NewBaseRepository[stockDocument](provider, stockCollection, nil, nil)
	reservations := pfirestore.NewBaseRepository[stockReservationDocument](provider, stockReservationsCollection, nil, nil)
	return &StockRepository{provider: provider, levels: levels, reservations: reservations}, nil
}

// Reserve applies the conditional decrement for every line inside one
// transaction. Any line with insufficient availability aborts the whole set,
// so concurrent checkouts can never drive availability below zero.
func (r *StockRepository) Reserve(ctx context.Context, req repositories.StockReserveRequest) (repositories.StockReserveResult, error) {
	if r == nil || r.provider == nil {
		return repositories.StockReserveResult{}, errors.New("stock repository not initialised")
	}
	ref := strings.TrimSpace(req.Ref)
	if ref == "" {
		return repositories.StockReserveResult{}, errors.New("stock reserve: reservation ref is required")
	}
	if len(req.Lines) == 0 {
		return repositories.StockReserveResult{}, errors.New("stock reserve: at least one line is required")
	}
	now := req.Now.UTC()

	var result repositories.StockReserveResult
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		resRef, err := r.reservations.DocumentRef(ctx, reservationDocID(ref))
		if err != nil {
			return err
		}
		if _, err := tx.Get(resRef); err == nil {
			return repositories.NewStockError(repositories.StockErrorInvalidLine, "", fmt.Sprintf("reservation %s already exists", ref), nil)
		} else if status.Code(err) != codes.NotFound {
			return err
		}

		// The Firestore client rejects reads issued after a buffered write,
		// so every stock document is read and checked before the first Set.
		writes := make([]stockWrite, 0, len(req.Lines))
		levels := make(map[string]domain.StockLevel, len(req.Lines))
		adjustments := make([]domain.StockAdjustment, 0, len(req.Lines))
		for _, line := range req.Lines {
			productID := strings.TrimSpace(line.ProductID)
			if productID == "" {
				return repositories.NewStockError(repositories.StockErrorInvalidLine, "", "stock reserve: product id is required", nil)
			}
			if line.Quantity <= 0 {
				return repositories.NewStockError(repositories.StockErrorInvalidLine, productID, fmt.Sprintf("stock reserve: quantity for %s must be > 0", productID), nil)
			}

			doc, docRef, err := r.getStockTx(ctx, tx, productID)
			if err != nil {
				return err
			}
			available := doc.OnHand - doc.Reserved
			if available < line.Quantity {
				return repositories.NewStockError(repositories.StockErrorInsufficient, productID, fmt.Sprintf("insufficient stock for %s", productID), nil)
			}
			doc.Reserved += line.Quantity
			doc.UpdatedAt = now
			doc.recalculate()
			writes = append(writes, stockWrite{ref: docRef, doc: doc})
			levels[productID] = doc.toDomain(productID)
			adjustments = append(adjustments, domain.StockAdjustment{
				ProductID: productID,
				Delta:     -line.Quantity,
				OnHand:    doc.OnHand,
				Reserved:  doc.Reserved,
			})
		}

		for _, w := range writes {
			if err := tx.Set(w.ref, w.doc); err != nil {
				return err
			}
		}

		resDoc := newStockReservationDocument(ref, req.Lines, now)
		if err := tx.Create(resRef, resDoc); err != nil {
			if status.Code(err) == codes.AlreadyExists {
				return repositories.NewStockError(repositories.StockErrorInvalidLine, "", fmt.Sprintf("reservation %s already exists", ref), err)
			}
			return err
		}

		result = repositories.StockReserveResult{Levels: levels, Adjustments: adjustments}
		return nil
	})
	if err != nil {
		return repositories.StockReserveResult{}, wrapStockError("stock.reserve", err)
	}
	return result, nil
}

// Release returns reserved quantities to availability. Lines default to the
// reservation's recorded lines when the request omits them, which covers
// compensation paths that only know the reservation ref.
func (r *StockRepository) Release(ctx context.Context, req repositories.StockReleaseRequest) (repositories.StockReleaseResult, error) {
	if r == nil || r.provider == nil {
		return repositories.StockReleaseResult{}, errors.New("stock repository not initialised")
	}
	ref := strings.TrimSpace(req.Ref)
	if ref == "" {
		return repositories.StockReleaseResult{}, errors.New("stock release: reservation ref is required")
	}
	now := req.Now.UTC()

	var result repositories.StockReleaseResult
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		resDoc, resRef, err := r.getReservationTx(ctx, tx, ref)
		if err != nil {
			return err
		}
		if resDoc.Status != reservationStatusReserved {
			return repositories.NewStockError(repositories.StockErrorInvalidLine, "", fmt.Sprintf("reservation %s is not in reserved status", ref), nil)
		}

		lines := req.Lines
		if len(lines) == 0 {
			lines = resDoc.toLines()
		}

		// Read phase first; transactions cannot read once a write is buffered.
		writes := make([]stockWrite, 0, len(lines))
		levels := make(map[string]domain.StockLevel, len(lines))
		for _, line := range lines {
			productID := strings.TrimSpace(line.ProductID)
			doc, docRef, err := r.getStockTx(ctx, tx, productID)
			if err != nil {
				return err
			}
			if doc.Reserved < line.Quantity {
				return repositories.NewStockError(repositories.StockErrorInvalidLine, productID, fmt.Sprintf("reserved quantity for %s is insufficient", productID), nil)
			}
			doc.Reserved -= line.Quantity
			doc.UpdatedAt = now
			doc.recalculate()
			writes = append(writes, stockWrite{ref: docRef, doc: doc})
			levels[productID] = doc.toDomain(productID)
		}

		for _, w := range writes {
			if err := tx.Set(w.ref, w.doc); err != nil {
				return err
			}
		}

		resDoc.Status = reservationStatusReleased
		resDoc.Reason = strings.TrimSpace(req.Reason)
		resDoc.ReleasedAt = &now
		resDoc.UpdatedAt = now
		if err := tx.Set(resRef, resDoc); err != nil {
			return err
		}

		result = repositories.StockReleaseResult{Levels: levels}
		return nil
	})
	if err != nil {
		return repositories.StockReleaseResult{}, wrapStockError("stock.release", err)
	}
	return result, nil
}

// Commit converts reserved quantities into a permanent on-hand decrement once
// the order ships.
func (r *StockRepository) Commit(ctx context.Context, req repositories.StockCommitRequest) error {
	if r == nil || r.provider == nil {
		return errors.New("stock repository not initialised")
	}
	ref := strings.TrimSpace(req.Ref)
	if ref == "" {
		return errors.New("stock commit: reservation ref is required")
	}
	now := req.Now.UTC()

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		resDoc, resRef, err := r.getReservationTx(ctx, tx, ref)
		if err != nil {
			return err
		}
		if resDoc.Status != reservationStatusReserved {
			return repositories.NewStockError(repositories.StockErrorInvalidLine, "", fmt.Sprintf("reservation %s is not in reserved status", ref), nil)
		}

		lines := req.Lines
		if len(lines) == 0 {
			lines = resDoc.toLines()
		}

		// Read phase first; transactions cannot read once a write is buffered.
		writes := make([]stockWrite, 0, len(lines))
		for _, line := range lines {
			productID := strings.TrimSpace(line.ProductID)
			doc, docRef, err := r.getStockTx(ctx, tx, productID)
			if err != nil {
				return err
			}
			if doc.Reserved < line.Quantity || doc.OnHand < line.Quantity {
				return repositories.NewStockError(repositories.StockErrorInvalidLine, productID, fmt.Sprintf("commit quantity for %s exceeds reserved stock", productID), nil)
			}
			doc.Reserved -= line.Quantity
			doc.OnHand -= line.Quantity
			doc.UpdatedAt = now
			doc.recalculate()
			writes = append(writes, stockWrite{ref: docRef, doc: doc})
		}

		for _, w := range writes {
			if err := tx.Set(w.ref, w.doc); err != nil {
				return err
			}
		}

		resDoc.Status = reservationStatusCommitted
		resDoc.CommittedAt = &now
		resDoc.UpdatedAt = now
		return tx.Set(resRef, resDoc)
	})
	if err != nil {
		return wrapStockError("stock.commit", err)
	}
	return nil
}

func (r *StockRepository) GetLevel(ctx context.Context, productID string) (domain.StockLevel, error) {
	if r == nil || r.levels == nil {
		return domain.StockLevel{}, errors.New("stock repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.StockLevel{}, errors.New("stock get level: product id is required")
	}

	doc, err := r.levels.Get(ctx, productID)
	if err != nil {
		if repoErr, ok := err.(*pfirestore.Error); ok && repoErr.IsNotFound() {
			return domain.StockLevel{}, repositories.NewStockError(repositories.StockErrorNotFound, productID, fmt.Sprintf("stock %s not found", productID), err)
		}
		return domain.StockLevel{}, wrapStockError("stock.getLevel", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *StockRepository) getStockTx(ctx context.Context, tx *firestore.Transaction, productID string) (stockDocument, *firestore.DocumentRef, error) {
	docRef, err := r.levels.DocumentRef(ctx, productID)
	if err != nil {
		return stockDocument{}, nil, err
	}
	snap, err := tx.Get(docRef)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return stockDocument{}, nil, repositories.NewStockError(repositories.StockErrorNotFound, productID, fmt.Sprintf("stock %s not found", productID), err)
		}
		return stockDocument{}, nil, err
	}
	var doc stockDocument
	if err := snap.DataTo(&doc); err != nil {
		return stockDocument{}, nil, fmt.Errorf("decode stock %s: %w", productID, err)
	}
	return doc, docRef, nil
}

func (r *StockRepository) getReservationTx(ctx context.Context, tx *firestore.Transaction, ref string) (stockReservationDocument, *firestore.DocumentRef, error) {
	resRef, err := r.reservations.DocumentRef(ctx, reservationDocID(ref))
	if err != nil {
		return stockReservationDocument{}, nil, err
	}
	snap, err := tx.Get(resRef)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return stockReservationDocument{}, nil, repositories.NewStockError(repositories.StockErrorNotFound, "", fmt.Sprintf("reservation %s not found", ref), err)
		}
		return stockReservationDocument{}, nil, err
	}
	var doc stockReservationDocument
	if err := snap.DataTo(&doc); err != nil {
		return stockReservationDocument{}, nil, fmt.Errorf("decode reservation %s: %w", ref, err)
	}
	return doc, resRef, nil
}

// Helper structures ---------------------------------------------------------

// stockWrite is a stock document update staged during a transaction's read
// phase and flushed once all reads are done.
type stockWrite struct {
	ref *firestore.DocumentRef
	doc stockDocument
}

type stockDocument struct {
	ProductID string    `firestore:"productId"`
	OnHand    int       `firestore:"onHand"`
	Reserved  int       `firestore:"reserved"`
	Available int       `firestore:"available"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (s *stockDocument) recalculate() {
	s.Available = s.OnHand - s.Reserved
}

func (s stockDocument) toDomain(id string) domain.StockLevel {
	return domain.StockLevel{
		ProductID: id,
		OnHand:    s.OnHand,
		Reserved:  s.Reserved,
		UpdatedAt: s.UpdatedAt,
	}
}

type stockReservationDocument struct {
	Ref         string                     `firestore:"ref"`
	Status      string                     `firestore:"status"`
	Lines       []reservationLineDocument  `firestore:"lines"`
	Reason      string                     `firestore:"reason,omitempty"`
	ReleasedAt  *time.Time                 `firestore:"releasedAt,omitempty"`
	CommittedAt *time.Time                 `firestore:"committedAt,omitempty"`
	CreatedAt   time.Time                  `firestore:"createdAt"`
	UpdatedAt   time.Time                  `firestore:"updatedAt"`
}

type reservationLineDocument struct {
	ProductID string `firestore:"productId"`
	Quantity  int    `firestore:"qty"`
}

func newStockReservationDocument(ref string, lines []repositories.StockLine, now time.Time) stockReservationDocument {
	docLines := make([]reservationLineDocument, len(lines))
	for i, line := range lines {
		docLines[i] = reservationLineDocument{
			ProductID: strings.TrimSpace(line.ProductID),
			Quantity:  line.Quantity,
		}
	}
	return stockReservationDocument{
		Ref:       ref,
		Status:    reservationStatusReserved,
		Lines:     docLines,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (d stockReservationDocument) toLines() []repositories.StockLine {
	lines := make([]repositories.StockLine, len(d.Lines))
	for i, line := range d.Lines {
		lines[i] = repositories.StockLine{ProductID: line.ProductID, Quantity: line.Quantity}
	}
	return lines
}

// reservationDocID flattens refs like "order/abc" into a valid document id.
func reservationDocID(ref string) string {
	return strings.ReplaceAll(ref, "/", "_")
}

func wrapStockError(op string, err error) error {
	if err == nil {
		return nil
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		if stockErr.Op == "" {
			stockErr.Op = op
		}
		return stockErr
	}
	return pfirestore.WrapError(op, err)
}
