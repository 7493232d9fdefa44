package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/checkout/internal/domain/fault"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// Service is the read/update surface for existing orders. Creation goes
// through the Factory; after that, the status families are the only thing
// this service will change.
type Service struct {
	orders Repository
	now    func() time.Time
}

// NewService creates an order Service backed by the given repository.
func NewService(orders Repository) *Service {
	return &Service{orders: orders, now: time.Now}
}

// GetByID returns the hydrated order or a NotFound fault.
func (s *Service) GetByID(ctx context.Context, id string) (*Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fault.NotFound("order %s not found", id)
		}
		return nil, errors.Wrap(err, "get order")
	}
	return o, nil
}

// List returns a page of orders matching the filter plus the total match
// count. Page and limit are normalized; unknown sort columns are rejected
// by the repository.
func (s *Service) List(ctx context.Context, f ListFilter) ([]Order, int64, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = defaultPageLimit
	}
	if f.Limit > maxPageLimit {
		f.Limit = maxPageLimit
	}
	return s.orders.List(ctx, f)
}

// UpdateStatus applies a partial status change through the state machine
// and persists the result. Each transition timestamp is stamped exactly
// once; re-applying an already-set status leaves it untouched.
func (s *Service) UpdateStatus(ctx context.Context, id string, ch StatusChange) (*Order, error) {
	o, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := o.ApplyChange(ch, s.now()); err != nil {
		return nil, err
	}

	if err := s.orders.UpdateStatus(ctx, o); err != nil {
		return nil, errors.Wrap(err, "update order status")
	}
	return o, nil
}

// Delete soft-deletes the order; subsequent reads return NotFound.
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.GetByID(ctx, id); err != nil {
		return err
	}
	if err := s.orders.SoftDelete(ctx, id); err != nil {
		return errors.Wrap(err, "soft delete order")
	}
	return nil
}
