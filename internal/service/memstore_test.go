package service

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Staycoo10/mini-airbnb/internal/domain"
	"github.com/Staycoo10/mini-airbnb/internal/events"
)

// memStore is an in-memory domain.Store. WithinTx holds a store-wide lock,
// which stands in for the per-apartment row lock of the SQL store.
type memStore struct {
	txMu sync.Mutex

	mu           sync.Mutex
	users        map[int64]*domain.User
	apartments   map[int64]*domain.Apartment
	reservations map[int64]*domain.Reservation
	nextID       int64

	failInsert error
}

func newMemStore() *memStore {
	return &memStore{
		users:        map[int64]*domain.User{},
		apartments:   map[int64]*domain.Apartment{},
		reservations: map[int64]*domain.Reservation{},
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) addUser(name string, role domain.Role) domain.Actor {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := &domain.User{ID: m.id(), Name: name, Email: strings.ToLower(name) + "@example.com", Role: role}
	m.users[u.ID] = u
	return domain.Actor{ID: u.ID, Role: role}
}

func (m *memStore) addApartment(owner int64, price string, available bool) *domain.Apartment {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := &domain.Apartment{
		ID:          m.id(),
		Title:       "Flat",
		Location:    "Chisinau",
		Price:       decimal.RequireFromString(price),
		IsAvailable: available,
		OwnerID:     owner,
	}
	m.apartments[a.ID] = a
	return a
}

func (m *memStore) addReservation(guest, apartment int64, start, end string, status domain.ReservationStatus) *domain.Reservation {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := &domain.Reservation{
		ID:          m.id(),
		GuestID:     guest,
		ApartmentID: apartment,
		StartDate:   mustDate(start),
		EndDate:     mustDate(end),
		Status:      status,
	}
	m.reservations[r.ID] = r
	return r
}

func (m *memStore) Apartments() domain.ApartmentRepository     { return memApartments{m} }
func (m *memStore) Reservations() domain.ReservationRepository { return memReservations{m} }
func (m *memStore) Users() domain.UserRepository               { return memUsers{m} }

func (m *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.BookingTx) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	tx := &memTx{store: m}
	if err := fn(ctx, tx); err != nil {
		m.mu.Lock()
		for _, id := range tx.inserted {
			delete(m.reservations, id)
		}
		m.mu.Unlock()
		return err
	}
	return nil
}

type memTx struct {
	store    *memStore
	inserted []int64
}

func (t *memTx) LockApartment(ctx context.Context, id int64) (*domain.Apartment, error) {
	return memApartments{t.store}.GetByID(ctx, id)
}

func (t *memTx) FindActiveByApartment(ctx context.Context, apartmentID int64) ([]*domain.Reservation, error) {
	return memReservations{t.store}.FindActiveByApartment(ctx, apartmentID)
}

func (t *memTx) Insert(ctx context.Context, r *domain.Reservation) error {
	if err := (memReservations{t.store}).Insert(ctx, r); err != nil {
		return err
	}
	t.inserted = append(t.inserted, r.ID)
	return nil
}

type memApartments struct{ m *memStore }

func (a memApartments) GetByID(_ context.Context, id int64) (*domain.Apartment, error) {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	apt, ok := a.m.apartments[id]
	if !ok {
		return nil, &domain.NotFoundError{Entity: "apartment", ID: id}
	}
	cp := *apt
	return &cp, nil
}

func (a memApartments) Create(_ context.Context, apt *domain.Apartment) error {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	apt.ID = a.m.id()
	apt.CreatedAt = time.Now()
	apt.UpdatedAt = apt.CreatedAt
	cp := *apt
	a.m.apartments[apt.ID] = &cp
	return nil
}

func (a memApartments) Update(_ context.Context, apt *domain.Apartment) error {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	if _, ok := a.m.apartments[apt.ID]; !ok {
		return &domain.NotFoundError{Entity: "apartment", ID: apt.ID}
	}
	cp := *apt
	a.m.apartments[apt.ID] = &cp
	return nil
}

func (a memApartments) Delete(_ context.Context, id int64) error {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	if _, ok := a.m.apartments[id]; !ok {
		return &domain.NotFoundError{Entity: "apartment", ID: id}
	}
	for _, r := range a.m.reservations {
		if r.ApartmentID == id {
			return domain.ErrApartmentInUse
		}
	}
	delete(a.m.apartments, id)
	return nil
}

func (a memApartments) List(_ context.Context) ([]*domain.Apartment, error) {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	out := make([]*domain.Apartment, 0, len(a.m.apartments))
	for _, apt := range a.m.apartments {
		cp := *apt
		out = append(out, &cp)
	}
	return out, nil
}

func (a memApartments) Search(_ context.Context, f domain.ApartmentFilter) ([]*domain.ApartmentListing, error) {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	var out []*domain.ApartmentListing
	for _, apt := range a.m.apartments {
		switch {
		case f.Location != "" && !strings.Contains(strings.ToLower(apt.Location), strings.ToLower(f.Location)):
			continue
		case f.MinPrice != nil && apt.Price.LessThan(*f.MinPrice):
			continue
		case f.MaxPrice != nil && apt.Price.GreaterThan(*f.MaxPrice):
			continue
		case f.IsAvailable != nil && apt.IsAvailable != *f.IsAvailable:
			continue
		case f.OwnerID != nil && apt.OwnerID != *f.OwnerID:
			continue
		}
		l := &domain.ApartmentListing{Apartment: *apt}
		if u, ok := a.m.users[apt.OwnerID]; ok {
			l.OwnerName = u.Name
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

type memReservations struct{ m *memStore }

func (r memReservations) Insert(_ context.Context, res *domain.Reservation) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.failInsert != nil {
		return r.m.failInsert
	}
	res.ID = r.m.id()
	res.CreatedAt = time.Now()
	res.UpdatedAt = res.CreatedAt
	cp := *res
	r.m.reservations[res.ID] = &cp
	return nil
}

func (r memReservations) FindByID(_ context.Context, id int64) (*domain.Reservation, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	res, ok := r.m.reservations[id]
	if !ok {
		return nil, &domain.NotFoundError{Entity: "reservation", ID: id}
	}
	cp := *res
	return &cp, nil
}

func (r memReservations) FindDetailsByID(_ context.Context, id int64) (*domain.ReservationDetails, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	res, ok := r.m.reservations[id]
	if !ok {
		return nil, &domain.NotFoundError{Entity: "reservation", ID: id}
	}
	return r.details(res), nil
}

func (r memReservations) details(res *domain.Reservation) *domain.ReservationDetails {
	d := &domain.ReservationDetails{Reservation: *res}
	if apt, ok := r.m.apartments[res.ApartmentID]; ok {
		d.ApartmentTitle = apt.Title
		d.ApartmentLocation = apt.Location
		d.ApartmentPrice = apt.Price
		if owner, ok := r.m.users[apt.OwnerID]; ok {
			d.OwnerName = owner.Name
		}
	}
	if guest, ok := r.m.users[res.GuestID]; ok {
		d.GuestName = guest.Name
	}
	return d
}

func (r memReservations) FindActiveByApartment(_ context.Context, apartmentID int64) ([]*domain.Reservation, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*domain.Reservation
	for _, res := range r.m.reservations {
		if res.ApartmentID == apartmentID && res.IsActive() {
			cp := *res
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r memReservations) FindByGuest(_ context.Context, guestID int64) ([]*domain.ReservationDetails, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*domain.ReservationDetails
	for _, res := range r.m.reservations {
		if res.GuestID == guestID {
			out = append(out, r.details(res))
		}
	}
	return out, nil
}

func (r memReservations) FindAll(_ context.Context, f domain.ReservationFilter) ([]*domain.ReservationDetails, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*domain.ReservationDetails
	for _, res := range r.m.reservations {
		if f.Status != nil && res.Status != *f.Status {
			continue
		}
		if f.ApartmentID != nil && res.ApartmentID != *f.ApartmentID {
			continue
		}
		if f.GuestID != nil && res.GuestID != *f.GuestID {
			continue
		}
		out = append(out, r.details(res))
	}
	return out, nil
}

func (r memReservations) UpdateStatus(_ context.Context, id int64, from, to domain.ReservationStatus) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	res, ok := r.m.reservations[id]
	if !ok || res.Status != from {
		return false, nil
	}
	res.Status = to
	res.UpdatedAt = time.Now()
	return true, nil
}

func (r memReservations) CountActive(_ context.Context) (int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	n := 0
	for _, res := range r.m.reservations {
		if res.IsActive() {
			n++
		}
	}
	return n, nil
}

type memUsers struct{ m *memStore }

func (u memUsers) Create(_ context.Context, user *domain.User) error {
	u.m.mu.Lock()
	defer u.m.mu.Unlock()
	for _, existing := range u.m.users {
		if existing.Email == user.Email {
			return domain.ErrDuplicateEmail
		}
	}
	user.ID = u.m.id()
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	cp := *user
	u.m.users[user.ID] = &cp
	return nil
}

func (u memUsers) GetByID(_ context.Context, id int64) (*domain.User, error) {
	u.m.mu.Lock()
	defer u.m.mu.Unlock()
	user, ok := u.m.users[id]
	if !ok {
		return nil, &domain.NotFoundError{Entity: "user", ID: id}
	}
	cp := *user
	return &cp, nil
}

func (u memUsers) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	u.m.mu.Lock()
	defer u.m.mu.Unlock()
	for _, user := range u.m.users {
		if user.Email == email {
			cp := *user
			return &cp, nil
		}
	}
	return nil, &domain.NotFoundError{Entity: "user"}
}

func (u memUsers) GetRole(ctx context.Context, id int64) (domain.Role, error) {
	user, err := u.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	return user.Role, nil
}

type memKeys struct {
	mu   sync.Mutex
	keys map[string]domain.IdempotencyRecord
	err  error
}

func newMemKeys() *memKeys { return &memKeys{keys: map[string]domain.IdempotencyRecord{}} }

func (k *memKeys) Lookup(_ context.Context, actorID int64, key string) (domain.IdempotencyRecord, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.err != nil {
		return domain.IdempotencyRecord{}, false, k.err
	}
	rec, ok := k.keys[memKey(actorID, key)]
	return rec, ok, nil
}

func (k *memKeys) Remember(_ context.Context, actorID int64, key string, rec domain.IdempotencyRecord) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.err != nil {
		return k.err
	}
	if _, ok := k.keys[memKey(actorID, key)]; !ok {
		k.keys[memKey(actorID, key)] = rec
	}
	return nil
}

func memKey(actorID int64, key string) string {
	return strconv.FormatInt(actorID, 10) + ":" + key
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) Publish(e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, string(e.Type))
}

func mustDate(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}
