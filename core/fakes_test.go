package core

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
)

// In-memory fakes behind the repository interfaces so handlers and middleware
// can be exercised without Postgres.

type fakeUserRepo struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]*UserRecord

	findByIDErr error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{nextID: 1, users: map[int64]*UserRecord{}}
}

func (r *fakeUserRepo) FindByEmail(_ context.Context, email string) (*UserRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range r.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *fakeUserRepo) FindByID(_ context.Context, id int64) (*UserRecord, error) {
	if r.findByIDErr != nil {
		return nil, r.findByIDErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *u
	return &cp, nil
}

func (r *fakeUserRepo) Create(_ context.Context, input UserCreateInput) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	email := strings.ToLower(strings.TrimSpace(input.Email))
	for _, u := range r.users {
		if u.Email == email {
			return 0, errors.New("duplicate key value violates unique constraint")
		}
	}
	id := r.nextID
	r.nextID++
	r.users[id] = &UserRecord{
		ID:           id,
		Name:         input.Name,
		Email:        email,
		PasswordHash: input.PasswordHash,
		Phone:        input.Phone,
		Address:      input.Address,
		Answer:       input.Answer,
		Role:         input.Role,
		CreatedAt:    time.Now(),
	}
	return id, nil
}

func (r *fakeUserRepo) UpdateProfile(_ context.Context, id int64, input ProfileUpdateInput) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return pgx.ErrNoRows
	}
	if input.Name != nil {
		u.Name = *input.Name
	}
	if input.PasswordHash != nil {
		u.PasswordHash = *input.PasswordHash
	}
	if input.Phone != nil {
		u.Phone = *input.Phone
	}
	if input.Address != nil {
		u.Address = *input.Address
	}
	return nil
}

func (r *fakeUserRepo) ResetPassword(_ context.Context, email, answer, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range r.users {
		if u.Email == email && u.Answer == answer {
			u.PasswordHash = passwordHash
			return nil
		}
	}
	return ErrAnswerMismatch
}

func (r *fakeUserRepo) HasAdmin(_ context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Role == RoleAdmin {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeUserRepo) List(_ context.Context, page, perPage int) ([]AdminUserListItem, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []AdminUserListItem
	for _, u := range r.users {
		all = append(all, AdminUserListItem{
			ID: u.ID, Name: u.Name, Email: u.Email, Phone: u.Phone, Role: u.Role, CreatedAt: u.CreatedAt,
		})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	total := len(all)
	start := (page - 1) * perPage
	if start >= total {
		return nil, total, nil
	}
	end := start + perPage
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

type fakeCategoryRepo struct {
	mu         sync.Mutex
	nextID     int64
	categories map[int64]*Category
}

func newFakeCategoryRepo() *fakeCategoryRepo {
	return &fakeCategoryRepo{nextID: 1, categories: map[int64]*Category{}}
}

func (r *fakeCategoryRepo) List(_ context.Context) ([]Category, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Category
	for _, c := range r.categories {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *fakeCategoryRepo) FindBySlug(_ context.Context, slug string) (*Category, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.categories {
		if c.Slug == slug {
			cp := *c
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *fakeCategoryRepo) FindByID(_ context.Context, id int64) (*Category, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.categories[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *c
	return &cp, nil
}

func (r *fakeCategoryRepo) Create(_ context.Context, name, slug string) (*Category, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.categories {
		if c.Slug == slug {
			return nil, errors.New("duplicate key value violates unique constraint")
		}
	}
	id := r.nextID
	r.nextID++
	c := &Category{ID: id, Name: name, Slug: slug, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	r.categories[id] = c
	cp := *c
	return &cp, nil
}

func (r *fakeCategoryRepo) Update(_ context.Context, id int64, name, slug string) (*Category, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.categories[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	c.Name, c.Slug, c.UpdatedAt = name, slug, time.Now()
	cp := *c
	return &cp, nil
}

func (r *fakeCategoryRepo) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.categories[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(r.categories, id)
	return nil
}

type fakeProduct struct {
	ProductDetail
}

type fakeProductRepo struct {
	mu       sync.Mutex
	nextID   int64
	products map[int64]*fakeProduct
}

func newFakeProductRepo() *fakeProductRepo {
	return &fakeProductRepo{nextID: 1, products: map[int64]*fakeProduct{}}
}

func (r *fakeProductRepo) add(input ProductCreateInput) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	p := &fakeProduct{}
	p.ID = id
	p.CategoryID = input.CategoryID
	p.Name = input.Name
	p.Slug = input.Slug
	p.Description = input.Description
	p.PriceCents = input.PriceCents
	p.Quantity = input.Quantity
	p.Shipping = input.Shipping
	p.PhotoURL = input.PhotoURL
	p.CreatedAt = time.Now()
	r.products[id] = p
	return id
}

func (r *fakeProductRepo) sorted() []*fakeProduct {
	var out []*fakeProduct
	for _, p := range r.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *fakeProductRepo) Exists(_ context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.products[id]
	return ok, nil
}

func (r *fakeProductRepo) List(_ context.Context, page, perPage int) ([]ProductMeta, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.sorted()
	total := len(all)
	start := (page - 1) * perPage
	var out []ProductMeta
	for i := start; i < total && i < start+perPage; i++ {
		out = append(out, all[i].ProductMeta)
	}
	return out, total, nil
}

func (r *fakeProductRepo) Count(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.products), nil
}

func (r *fakeProductRepo) FindBySlug(_ context.Context, slug string) (*ProductDetail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.products {
		if p.Slug == slug {
			cp := p.ProductDetail
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *fakeProductRepo) FindByID(_ context.Context, id int64) (*ProductDetail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := p.ProductDetail
	return &cp, nil
}

func (r *fakeProductRepo) Filter(_ context.Context, filter ProductFilter, page, perPage int) ([]ProductMeta, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []ProductMeta
	for _, p := range r.sorted() {
		if len(filter.CategoryIDs) > 0 {
			found := false
			for _, cid := range filter.CategoryIDs {
				if p.CategoryID == cid {
					found = true
					break
				}
			}
			if !found {
				continue
			}
		}
		if filter.PriceMinCents > 0 && p.PriceCents < filter.PriceMinCents {
			continue
		}
		if filter.PriceMaxCents > 0 && p.PriceCents > filter.PriceMaxCents {
			continue
		}
		matched = append(matched, p.ProductMeta)
	}
	total := len(matched)
	start := (page - 1) * perPage
	if start >= total {
		return nil, total, nil
	}
	end := start + perPage
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (r *fakeProductRepo) Search(_ context.Context, keyword string, limit int) ([]ProductMeta, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kw := strings.ToLower(keyword)
	var out []ProductMeta
	for _, p := range r.sorted() {
		if len(out) >= limit {
			break
		}
		if strings.Contains(strings.ToLower(p.Name), kw) || strings.Contains(strings.ToLower(p.Description), kw) {
			out = append(out, p.ProductMeta)
		}
	}
	return out, nil
}

func (r *fakeProductRepo) Related(_ context.Context, productID, categoryID int64, limit int) ([]ProductMeta, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ProductMeta
	for _, p := range r.sorted() {
		if len(out) >= limit {
			break
		}
		if p.CategoryID == categoryID && p.ID != productID {
			out = append(out, p.ProductMeta)
		}
	}
	return out, nil
}

func (r *fakeProductRepo) ListByCategory(_ context.Context, categoryID int64) ([]ProductMeta, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ProductMeta
	for _, p := range r.sorted() {
		if p.CategoryID == categoryID {
			out = append(out, p.ProductMeta)
		}
	}
	return out, nil
}

func (r *fakeProductRepo) Create(_ context.Context, input ProductCreateInput) (int64, error) {
	r.mu.Lock()
	for _, p := range r.products {
		if p.Slug == input.Slug {
			r.mu.Unlock()
			return 0, errors.New("duplicate key value violates unique constraint")
		}
	}
	r.mu.Unlock()
	return r.add(input), nil
}

func (r *fakeProductRepo) Update(_ context.Context, id int64, input ProductUpdateInput) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok {
		return pgx.ErrNoRows
	}
	if input.CategoryID != nil {
		p.CategoryID = *input.CategoryID
	}
	if input.Name != nil {
		p.Name = *input.Name
	}
	if input.Slug != nil {
		p.Slug = *input.Slug
	}
	if input.Description != nil {
		p.Description = *input.Description
	}
	if input.PriceCents != nil {
		p.PriceCents = *input.PriceCents
	}
	if input.Quantity != nil {
		p.Quantity = *input.Quantity
	}
	if input.Shipping != nil {
		p.Shipping = *input.Shipping
	}
	if input.PhotoURL != nil {
		p.PhotoURL = *input.PhotoURL
	}
	return nil
}

func (r *fakeProductRepo) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.products[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(r.products, id)
	return nil
}

func (r *fakeProductRepo) GetForSale(_ context.Context, ids []int64) (map[int64]SaleItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[int64]SaleItem{}
	for _, id := range ids {
		if p, ok := r.products[id]; ok {
			out[id] = SaleItem{ID: p.ID, Name: p.Name, PriceCents: p.PriceCents, Quantity: p.Quantity}
		}
	}
	return out, nil
}

func (r *fakeProductRepo) DecrementStock(_ context.Context, id int64, qty int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok || p.Quantity < qty {
		return ErrInsufficientStock
	}
	p.Quantity -= qty
	return nil
}

func (r *fakeProductRepo) RestoreStock(_ context.Context, id int64, qty int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.products[id]; ok {
		p.Quantity += qty
	}
	return nil
}

func (r *fakeProductRepo) AdminList(_ context.Context, page, perPage int) ([]AdminProductListItem, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.sorted()
	total := len(all)
	start := (page - 1) * perPage
	var out []AdminProductListItem
	for i := start; i < total && i < start+perPage; i++ {
		p := all[i]
		out = append(out, AdminProductListItem{
			ID: p.ID, Slug: p.Slug, Name: p.Name, PriceCents: p.PriceCents, Quantity: p.Quantity,
		})
	}
	return out, total, nil
}

type fakeOrder struct {
	Order
	Items      []OrderItem
	RetryCount int
}

type fakeOrderRepo struct {
	mu     sync.Mutex
	nextID int64
	orders map[int64]*fakeOrder
}

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{nextID: 1, orders: map[int64]*fakeOrder{}}
}

func (r *fakeOrderRepo) Create(_ context.Context, input OrderCreateInput) (int64, time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	now := time.Now()
	r.orders[id] = &fakeOrder{
		Order: Order{
			ID: id, UserID: input.UserID, PaymentRef: input.PaymentRef,
			TotalCents: input.TotalCents, Status: OrderStatusPending, CreatedAt: now,
		},
		Items: input.Items,
	}
	return id, now, nil
}

func (r *fakeOrderRepo) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.orders, id)
	return nil
}

func (r *fakeOrderRepo) FindByID(_ context.Context, id int64) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := o.Order
	return &cp, nil
}

func (r *fakeOrderRepo) FindWithItems(_ context.Context, id int64) (*OrderDetailView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &OrderDetailView{
		ID: o.ID, UserID: o.UserID, Status: o.Status, PaymentRef: o.PaymentRef,
		TotalCents: o.TotalCents, CreatedAt: o.CreatedAt, Items: o.Items,
	}, nil
}

func (r *fakeOrderRepo) ListItems(_ context.Context, id int64) ([]OrderItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return append([]OrderItem(nil), o.Items...), nil
}

func (r *fakeOrderRepo) AcquirePending(_ context.Context, id int64) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	if o.Status != OrderStatusPending {
		return nil, ErrOrderNotPending
	}
	o.Status = OrderStatusProcessing
	cp := o.Order
	return &cp, nil
}

func (r *fakeOrderRepo) MarkStatus(_ context.Context, id int64, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return pgx.ErrNoRows
	}
	o.Status = status
	return nil
}

func (r *fakeOrderRepo) UpdateStatus(_ context.Context, id int64, status string) (*Order, error) {
	if !ValidOrderStatus(status) {
		return nil, ErrInvalidOrderStatus
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	if !ValidOrderTransition(o.Status, status) {
		return nil, ErrForbiddenTransition
	}
	o.Status = status
	cp := o.Order
	return &cp, nil
}

func (r *fakeOrderRepo) IncrementRetry(_ context.Context, id int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return 0, pgx.ErrNoRows
	}
	o.RetryCount++
	return o.RetryCount, nil
}

func (r *fakeOrderRepo) CountByUser(_ context.Context, userID int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, o := range r.orders {
		if o.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (r *fakeOrderRepo) ListByUser(_ context.Context, userID int64, page, perPage int) ([]OrderListItem, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []OrderListItem
	for _, o := range r.orders {
		if o.UserID == userID {
			all = append(all, OrderListItem{
				ID: o.ID, UserID: o.UserID, Status: o.Status,
				TotalCents: o.TotalCents, ItemCount: len(o.Items), CreatedAt: o.CreatedAt,
			})
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return paginateOrders(all, page, perPage)
}

func (r *fakeOrderRepo) AdminList(_ context.Context, status *string, page, perPage int) ([]OrderListItem, int, error) {
	if status != nil && !ValidOrderStatus(*status) {
		return nil, 0, ErrInvalidOrderStatus
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []OrderListItem
	for _, o := range r.orders {
		if status != nil && o.Status != *status {
			continue
		}
		all = append(all, OrderListItem{
			ID: o.ID, UserID: o.UserID, Status: o.Status,
			TotalCents: o.TotalCents, ItemCount: len(o.Items), CreatedAt: o.CreatedAt,
		})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return paginateOrders(all, page, perPage)
}

func paginateOrders(all []OrderListItem, page, perPage int) ([]OrderListItem, int, error) {
	total := len(all)
	start := (page - 1) * perPage
	if start >= total {
		return nil, total, nil
	}
	end := start + perPage
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

type fakePaymentClient struct {
	mu        sync.Mutex
	saleCalls []int64
	failSale  bool
}

func (f *fakePaymentClient) ClientToken(_ context.Context) (string, error) {
	return "client-token-1", nil
}

func (f *fakePaymentClient) Sale(_ context.Context, nonce string, amountCents int64) (*PaymentResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSale {
		return nil, errors.New("card declined")
	}
	f.saleCalls = append(f.saleCalls, amountCents)
	return &PaymentResult{TransactionID: "txn-" + nonce, Status: "settled", AmountCents: amountCents}, nil
}

type fakeQueue struct {
	mu       sync.Mutex
	enqueued []string
	failNext bool
}

func (q *fakeQueue) Enqueue(_ context.Context, _ string, value string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failNext {
		q.failNext = false
		return errors.New("redis unavailable")
	}
	q.enqueued = append(q.enqueued, value)
	return nil
}

func (q *fakeQueue) Reserve(_ context.Context, _, _ string, _ time.Duration) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.enqueued) == 0 {
		return "", errors.New("empty")
	}
	v := q.enqueued[0]
	q.enqueued = q.enqueued[1:]
	return v, nil
}

func (q *fakeQueue) Ack(_ context.Context, _ string, _ string) error { return nil }

func (q *fakeQueue) RequeueExpired(_ context.Context, _, _ string, _ time.Time) ([]string, error) {
	return nil, nil
}
