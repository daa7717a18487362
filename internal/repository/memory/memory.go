// Package memory is an in-process implementation of the repository
// interfaces, used by tests and by local tooling that runs without a database.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"checkout-service/internal/domain"
	"checkout-service/internal/repository"
)

type grantKey struct {
	buyerID   uint64
	productID uint64
}

// Store serialises every operation behind one mutex, which gives Transition
// the same check-and-set guarantee as the conditional UPDATE in SQL.
type Store struct {
	mu        sync.Mutex
	nextOrder uint64
	nextItem  uint64
	nextGrant uint64
	orders    map[uint64]*domain.Order
	products  map[uint64]*domain.Product
	grants    map[grantKey]*domain.AccessGrant
}

var (
	_ repository.OrderRepository   = (*Store)(nil)
	_ repository.AccessRepository  = (*AccessStore)(nil)
	_ repository.ProductRepository = (*ProductStore)(nil)
)

func New() *Store {
	return &Store{
		orders:   make(map[uint64]*domain.Order),
		products: make(map[uint64]*domain.Product),
		grants:   make(map[grantKey]*domain.AccessGrant),
	}
}

// Access and Products expose the same store through the other repository
// interfaces, whose method names overlap with the order repository.
func (s *Store) Access() *AccessStore     { return &AccessStore{s: s} }
func (s *Store) Products() *ProductStore { return &ProductStore{s: s} }

// PutProduct inserts or replaces a product, assigning an id when it has none.
func (s *Store) PutProduct(p domain.Product) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = uint64(len(s.products) + 1)
	}
	s.products[p.ID] = &p
	return p.ID
}

func (s *Store) Create(_ context.Context, order *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextOrder++
	order.ID = s.nextOrder
	now := time.Now()
	order.CreatedAt, order.UpdatedAt = now, now
	for i := range order.Items {
		s.nextItem++
		order.Items[i].ID = s.nextItem
		order.Items[i].OrderID = order.ID
	}
	s.orders[order.ID] = cloneOrder(order)
	return nil
}

func (s *Store) Delete(_ context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.orders, id)
	return nil
}

func (s *Store) FindByID(_ context.Context, id uint64) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, nil
	}
	return cloneOrder(o), nil
}

func (s *Store) List(_ context.Context, f repository.OrderFilter) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Order
	for _, o := range s.orders {
		if f.BuyerID != 0 && o.BuyerID != f.BuyerID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		out = append(out, *cloneOrder(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) SetPreference(_ context.Context, id uint64, preferenceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[id]; ok {
		o.PreferenceID = preferenceID
	}
	return nil
}

func (s *Store) Transition(_ context.Context, t domain.Transition) (*domain.TransitionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := &domain.TransitionResult{}
	o, ok := s.orders[t.OrderID]
	if !ok || o.Status != t.From {
		return res, nil
	}
	o.Status = t.To
	o.UpdatedAt = t.At
	if t.Reference != "" {
		ref := t.Reference
		o.TransactionID = &ref
	}
	if t.PaymentMethod != "" {
		o.PaymentMethod = t.PaymentMethod
	}
	if t.To == domain.StatusApproved {
		at := t.At
		o.ApprovedAt = &at
	}
	res.Applied = true
	res.Granted = s.grantLocked(t.Grants)
	return res, nil
}

func (s *Store) grantLocked(grants []domain.AccessGrant) int {
	created := 0
	for _, g := range grants {
		k := grantKey{g.BuyerID, g.ProductID}
		if _, ok := s.grants[k]; ok {
			continue
		}
		s.nextGrant++
		g.ID = s.nextGrant
		s.grants[k] = &g
		created++
	}
	return created
}

// GrantCount is the number of grants a buyer holds.
func (s *Store) GrantCount(buyerID uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.grants {
		if k.buyerID == buyerID {
			n++
		}
	}
	return n
}

// OrderCount is the number of stored orders.
func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

type AccessStore struct {
	s *Store
}

func (a *AccessStore) Grant(_ context.Context, grants []domain.AccessGrant) (int, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	return a.s.grantLocked(grants), nil
}

func (a *AccessStore) Find(_ context.Context, buyerID, productID uint64) (*domain.AccessGrant, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	g, ok := a.s.grants[grantKey{buyerID, productID}]
	if !ok {
		return nil, nil
	}
	cp := *g
	return &cp, nil
}

func (a *AccessStore) ListByBuyer(_ context.Context, buyerID uint64) ([]domain.AccessGrant, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	var out []domain.AccessGrant
	for k, g := range a.s.grants {
		if k.buyerID == buyerID {
			out = append(out, *g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (a *AccessStore) RecordAccess(_ context.Context, grantID uint64, at time.Time) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	for _, g := range a.s.grants {
		if g.ID == grantID {
			ts := at
			g.LastAccessAt = &ts
			g.AccessCount++
			return nil
		}
	}
	return nil
}

// SetGrantActive toggles a grant; administrative deactivation is not part of
// the service API.
func (a *AccessStore) SetGrantActive(buyerID, productID uint64, active bool) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	if g, ok := a.s.grants[grantKey{buyerID, productID}]; ok {
		g.Active = active
	}
}

type ProductStore struct {
	s *Store
}

func (p *ProductStore) FindByID(_ context.Context, id uint64) (*domain.Product, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	pr, ok := p.s.products[id]
	if !ok {
		return nil, nil
	}
	cp := *pr
	return &cp, nil
}

func (p *ProductStore) ListPublishedIDs(_ context.Context) ([]uint64, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	var ids []uint64
	for id, pr := range p.s.products {
		if pr.Status == domain.ProductPublished {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func cloneOrder(o *domain.Order) *domain.Order {
	cp := *o
	cp.Items = append([]domain.LineItem(nil), o.Items...)
	if o.TransactionID != nil {
		ref := *o.TransactionID
		cp.TransactionID = &ref
	}
	if o.ApprovedAt != nil {
		at := *o.ApprovedAt
		cp.ApprovedAt = &at
	}
	return &cp
}
