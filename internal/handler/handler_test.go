package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Staycoo10/mini-airbnb/internal/booking"
	"github.com/Staycoo10/mini-airbnb/internal/domain"
	"github.com/Staycoo10/mini-airbnb/internal/events"
	"github.com/Staycoo10/mini-airbnb/internal/security/auth"
	"github.com/Staycoo10/mini-airbnb/internal/security/middleware"
	"github.com/Staycoo10/mini-airbnb/internal/service"
)

type fakeBooker struct {
	gotKey   string
	gotReq   booking.Request
	result   *service.BookingResult
	err      error
	validate func(booking.Request) error
}

func (f *fakeBooker) Book(_ context.Context, _ domain.Actor, key string, req booking.Request) (*service.BookingResult, error) {
	f.gotKey = key
	f.gotReq = req
	if f.validate != nil {
		if err := f.validate(req); err != nil {
			return nil, err
		}
	}
	return f.result, f.err
}

type fakeReservations struct {
	gotFilter domain.ReservationFilter
	cancelled *domain.Reservation
	items     []*domain.ReservationDetails
	err       error
}

func (f *fakeReservations) Cancel(_ context.Context, _ domain.Actor, id int64) (*domain.Reservation, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.cancelled, nil
}

func (f *fakeReservations) ListForUser(context.Context, domain.Actor) ([]*domain.ReservationDetails, error) {
	return f.items, f.err
}

func (f *fakeReservations) GetByID(_ context.Context, _ domain.Actor, id int64) (*domain.ReservationDetails, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.items[0], nil
}

func (f *fakeReservations) ListAll(_ context.Context, _ domain.Actor, filter domain.ReservationFilter) ([]*domain.ReservationDetails, error) {
	f.gotFilter = filter
	return f.items, f.err
}

type fakeApartments struct {
	apartments map[int64]*domain.Apartment

	gotUpload    string
	importResult *service.ImportResult
	gotFilter    domain.ApartmentFilter
	exportBody   string
	exportErr    error
}

func (f *fakeApartments) ImportCSV(_ context.Context, _ domain.Actor, src io.Reader) (*service.ImportResult, error) {
	raw, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	f.gotUpload = string(raw)
	return f.importResult, nil
}

func (f *fakeApartments) ExportCSV(_ context.Context, _ domain.Actor, filter domain.ApartmentFilter, dst io.Writer) (int, error) {
	f.gotFilter = filter
	if f.exportErr != nil {
		return 0, f.exportErr
	}
	_, err := io.WriteString(dst, f.exportBody)
	return 1, err
}

func (f *fakeApartments) List(context.Context) ([]*domain.Apartment, error) {
	var out []*domain.Apartment
	for _, a := range f.apartments {
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeApartments) Get(_ context.Context, id int64) (*domain.Apartment, error) {
	a, ok := f.apartments[id]
	if !ok {
		return nil, &domain.NotFoundError{Entity: "apartment", ID: id}
	}
	return a, nil
}

func (f *fakeApartments) Create(_ context.Context, actor domain.Actor, in service.ApartmentInput) (*domain.Apartment, error) {
	return &domain.Apartment{ID: 9, Title: in.Title, OwnerID: actor.ID, Price: *in.Price, IsAvailable: true}, nil
}

func (f *fakeApartments) Update(_ context.Context, actor domain.Actor, id int64, in service.ApartmentInput) (*domain.Apartment, error) {
	a, err := f.Get(context.Background(), id)
	if err != nil {
		return nil, err
	}
	if a.OwnerID != actor.ID {
		return nil, domain.ErrForbidden
	}
	a.Title = in.Title
	return a, nil
}

func (f *fakeApartments) Delete(_ context.Context, _ domain.Actor, id int64) error {
	if _, err := f.Get(context.Background(), id); err != nil {
		return err
	}
	return domain.ErrApartmentInUse
}

func withActor(r *http.Request, id int64, role domain.Role) *http.Request {
	claims := &auth.Claims{UserID: id, Role: role}
	return r.WithContext(context.WithValue(r.Context(), middleware.ClaimsContextKey{}, claims))
}

func serve(pattern string, h http.HandlerFunc, r *http.Request) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	mux.HandleFunc(pattern, h)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, r)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &domain.ValidationError{Violations: []string{"x"}}, http.StatusBadRequest},
		{"not found", &domain.NotFoundError{Entity: "apartment", ID: 1}, http.StatusNotFound},
		{"conflict", &domain.ConflictError{}, http.StatusConflict},
		{"unavailable", domain.ErrApartmentUnavailable, http.StatusConflict},
		{"already cancelled", domain.ErrAlreadyCancelled, http.StatusConflict},
		{"apartment in use", domain.ErrApartmentInUse, http.StatusConflict},
		{"duplicate email", domain.ErrDuplicateEmail, http.StatusConflict},
		{"forbidden wrapped", fmt.Errorf("%w: not yours", domain.ErrForbidden), http.StatusForbidden},
		{"bad credentials", domain.ErrInvalidCredentials, http.StatusUnauthorized},
		{"idempotency key reused", domain.ErrIdempotencyKeyReused, http.StatusUnprocessableEntity},
		{"store", &domain.StoreError{Op: "insert", Err: errors.New("conn reset")}, http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, _ := statusFor(tc.err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCreateReservation(t *testing.T) {
	start := time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)
	booker := &fakeBooker{result: &service.BookingResult{
		Reservation: &domain.Reservation{ID: 3, GuestID: 7, ApartmentID: 2, StartDate: start, EndDate: start.AddDate(0, 0, 5), Status: domain.StatusActive},
		Days:        5,
		TotalPrice:  decimal.RequireFromString("500"),
	}}
	h := NewReservationHandler(booker, &fakeReservations{}, nil)

	body := `{"apartmentId":2,"startDate":"2025-01-05","endDate":"2025-01-10"}`
	req := withActor(httptest.NewRequest(http.MethodPost, "/api/reservations", strings.NewReader(body)), 7, domain.RoleUser)
	req.Header.Set(IdempotencyHeader, "abc")
	rec := serve("POST /api/reservations", h.Create, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "abc", booker.gotKey)
	assert.Equal(t, booking.Request{ApartmentID: 2, StartDate: "2025-01-05", EndDate: "2025-01-10"}, booker.gotReq)
	assert.Empty(t, rec.Header().Get(ReplayHeader))

	var got struct {
		Reservation domain.Reservation `json:"reservation"`
		Days        int                `json:"days"`
		TotalPrice  string             `json:"totalPrice"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, int64(3), got.Reservation.ID)
	assert.Equal(t, 5, got.Days)
	assert.Equal(t, "500", got.TotalPrice)

	booker.result.Replayed = true
	req = withActor(httptest.NewRequest(http.MethodPost, "/api/reservations", strings.NewReader(body)), 7, domain.RoleUser)
	rec = serve("POST /api/reservations", h.Create, req)
	assert.Equal(t, "true", rec.Header().Get(ReplayHeader))
}

func TestCreateReservationErrors(t *testing.T) {
	conflict := &domain.ConflictError{Conflicts: []*domain.Reservation{{
		ID:        11,
		StartDate: time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2025, 1, 12, 0, 0, 0, 0, time.UTC),
	}}}
	h := NewReservationHandler(&fakeBooker{err: conflict}, &fakeReservations{}, nil)

	body := `{"apartmentId":2,"startDate":"2025-01-05","endDate":"2025-01-10"}`
	rec := serve("POST /api/reservations", h.Create,
		withActor(httptest.NewRequest(http.MethodPost, "/api/reservations", strings.NewReader(body)), 7, domain.RoleUser))
	require.Equal(t, http.StatusConflict, rec.Code)
	resp := decodeError(t, rec)
	require.Len(t, resp.Conflicts, 1)
	assert.Equal(t, ConflictView{ID: 11, StartDate: "2025-01-08", EndDate: "2025-01-12"}, resp.Conflicts[0])

	rec = serve("POST /api/reservations", h.Create,
		withActor(httptest.NewRequest(http.MethodPost, "/api/reservations", strings.NewReader(`{"apartment":`)), 7, domain.RoleUser))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve("POST /api/reservations", h.Create,
		httptest.NewRequest(http.MethodPost, "/api/reservations", strings.NewReader(body)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateReservationReportsEveryViolation(t *testing.T) {
	today := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	booker := &fakeBooker{validate: func(req booking.Request) error {
		_, err := booking.Validate(req, today)
		return err
	}}
	h := NewReservationHandler(booker, &fakeReservations{}, nil)

	body := `{"apartmentId":"abc","startDate":"2000-01-05","endDate":"2000-01-01"}`
	rec := serve("POST /api/reservations", h.Create,
		withActor(httptest.NewRequest(http.MethodPost, "/api/reservations", strings.NewReader(body)), 7, domain.RoleUser))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.ElementsMatch(t, []string{
		"Apartment ID must be a valid positive number",
		"End date must be after start date",
		"Start date cannot be in the past",
	}, decodeError(t, rec).Details)
}

func TestApartmentIDFrom(t *testing.T) {
	cases := []struct {
		raw  string
		want int64
	}{
		{``, 0},
		{`null`, 0},
		{`""`, 0},
		{`12`, 12},
		{`"12"`, 12},
		{`" 7 "`, 7},
		{`"abc"`, -1},
		{`1.5`, -1},
		{`-3`, -1},
		{`0`, -1},
		{`true`, -1},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			assert.Equal(t, tc.want, apartmentIDFrom(json.RawMessage(tc.raw)))
		})
	}
}

func TestCreateReservationKeyReused(t *testing.T) {
	h := NewReservationHandler(&fakeBooker{err: domain.ErrIdempotencyKeyReused}, &fakeReservations{}, nil)

	r := httptest.NewRequest(http.MethodPost, "/api/reservations",
		strings.NewReader(`{"apartmentId":2,"startDate":"2025-03-01","endDate":"2025-03-20"}`))
	r.Header.Set(IdempotencyHeader, "k1")
	rec := serve("POST /api/reservations", h.Create, withActor(r, 7, domain.RoleUser))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Empty(t, rec.Header().Get(ReplayHeader))
}

func TestCancelReservation(t *testing.T) {
	prior := &domain.Reservation{ID: 4, Status: domain.StatusActive}
	svc := &fakeReservations{cancelled: prior}
	h := NewReservationHandler(&fakeBooker{}, svc, nil)

	rec := serve("DELETE /api/reservations/{id}", h.Cancel,
		withActor(httptest.NewRequest(http.MethodDelete, "/api/reservations/4", nil), 7, domain.RoleUser))
	require.Equal(t, http.StatusOK, rec.Code)
	var got CancelResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, int64(4), got.Reservation.ID)

	svc.err = domain.ErrAlreadyCancelled
	rec = serve("DELETE /api/reservations/{id}", h.Cancel,
		withActor(httptest.NewRequest(http.MethodDelete, "/api/reservations/4", nil), 7, domain.RoleUser))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = serve("DELETE /api/reservations/{id}", h.Cancel,
		withActor(httptest.NewRequest(http.MethodDelete, "/api/reservations/abc", nil), 7, domain.RoleUser))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListReservationsFilter(t *testing.T) {
	svc := &fakeReservations{}
	h := NewReservationHandler(&fakeBooker{}, svc, nil)

	rec := serve("GET /api/reservations", h.List,
		withActor(httptest.NewRequest(http.MethodGet, "/api/reservations?status=active&apartment_id=3", nil), 1, domain.RoleAdmin))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
	require.NotNil(t, svc.gotFilter.Status)
	assert.Equal(t, domain.StatusActive, *svc.gotFilter.Status)
	require.NotNil(t, svc.gotFilter.ApartmentID)
	assert.Equal(t, int64(3), *svc.gotFilter.ApartmentID)
	assert.Nil(t, svc.gotFilter.GuestID)

	rec = serve("GET /api/reservations", h.List,
		withActor(httptest.NewRequest(http.MethodGet, "/api/reservations?apartment_id=x&guest_id=-1", nil), 1, domain.RoleAdmin))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, decodeError(t, rec).Details, 2)

	rec = serve("GET /api/reservations", h.List,
		withActor(httptest.NewRequest(http.MethodGet, "/api/reservations?status=pending&guest_id=0", nil), 1, domain.RoleAdmin))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, []string{
		`Status "pending" is not a valid reservation status`,
		"Guest ID must be a valid positive number",
	}, decodeError(t, rec).Details)

	rec = serve("GET /api/reservations", h.List,
		withActor(httptest.NewRequest(http.MethodGet, "/api/reservations?status=Cancelled", nil), 1, domain.RoleAdmin))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.StatusCancelled, *svc.gotFilter.Status)

	svc.err = domain.ErrForbidden
	rec = serve("GET /api/reservations", h.List,
		withActor(httptest.NewRequest(http.MethodGet, "/api/reservations", nil), 2, domain.RoleUser))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestApartmentEndpoints(t *testing.T) {
	apts := &fakeApartments{apartments: map[int64]*domain.Apartment{
		1: {ID: 1, Title: "Loft", OwnerID: 5, Price: decimal.RequireFromString("80")},
	}}
	h := NewApartmentHandler(apts, nil)

	rec := serve("GET /api/apartments/{id}", h.Get, httptest.NewRequest(http.MethodGet, "/api/apartments/1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"title":"Loft"`)

	rec = serve("GET /api/apartments/{id}", h.Get, httptest.NewRequest(http.MethodGet, "/api/apartments/99", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	body := `{"title":"Room","description":"d","location":"l","price":"40.5"}`
	rec = serve("POST /api/apartments", h.Create,
		withActor(httptest.NewRequest(http.MethodPost, "/api/apartments", strings.NewReader(body)), 5, domain.RoleUser))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ownerId":5`)

	rec = serve("PUT /api/apartments/{id}", h.Update,
		withActor(httptest.NewRequest(http.MethodPut, "/api/apartments/1", strings.NewReader(body)), 6, domain.RoleUser))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve("DELETE /api/apartments/{id}", h.Delete,
		withActor(httptest.NewRequest(http.MethodDelete, "/api/apartments/1", nil), 5, domain.RoleUser))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

type fakeAuth struct {
	user *domain.User
}

func (f *fakeAuth) Register(_ context.Context, in service.RegisterInput) (*service.AuthResult, error) {
	if in.Email == f.user.Email {
		return nil, domain.ErrDuplicateEmail
	}
	return &service.AuthResult{User: &domain.User{ID: 2, Email: in.Email}, Token: "t", TokenType: "Bearer"}, nil
}

func (f *fakeAuth) Login(_ context.Context, email, password string) (*service.AuthResult, error) {
	if email != f.user.Email || password != "secret123" {
		return nil, domain.ErrInvalidCredentials
	}
	return &service.AuthResult{User: f.user, Token: "t", TokenType: "Bearer"}, nil
}

func (f *fakeAuth) Me(context.Context, domain.Actor) (*domain.User, error) {
	return f.user, nil
}

func TestAuthEndpoints(t *testing.T) {
	h := NewAuthHandler(&fakeAuth{user: &domain.User{ID: 1, Email: "ana@example.com", PasswordHash: "hash"}}, nil)

	rec := serve("POST /api/auth/register", h.Register, httptest.NewRequest(http.MethodPost, "/api/auth/register",
		strings.NewReader(`{"name":"Ana","email":"ana@example.com","password":"secret123"}`)))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = serve("POST /api/auth/register", h.Register, httptest.NewRequest(http.MethodPost, "/api/auth/register",
		strings.NewReader(`{"name":"Bo","email":"bo@example.com","password":"secret123"}`)))
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = serve("POST /api/auth/login", h.Login, httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email":"ana@example.com","password":"wrong"}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve("GET /api/auth/me", h.Me, withActor(httptest.NewRequest(http.MethodGet, "/api/auth/me", nil), 1, domain.RoleUser))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "hash")
}

func TestReadiness(t *testing.T) {
	ok := PingFunc(func(context.Context) error { return nil })
	down := PingFunc(func(context.Context) error { return errors.New("refused") })

	rec := httptest.NewRecorder()
	NewHealthHandler(ok, down, nil).Ready(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "redis is optional")
	assert.Contains(t, rec.Body.String(), `"redis":"error: refused"`)

	rec = httptest.NewRecorder()
	NewHealthHandler(down, nil, nil).Ready(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"redis":"not configured"`)
}

func uploadRequest(t *testing.T, field, filename, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = io.WriteString(fw, content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	r := httptest.NewRequest(http.MethodPost, "/api/apartments/import", &body)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	return r
}

func TestImportApartments(t *testing.T) {
	apts := &fakeApartments{importResult: &service.ImportResult{
		Total: 2, Imported: 1, Failed: 1,
		Errors: []service.RowError{{Row: 3, Errors: []string{"Title is required"}}},
	}}
	h := NewApartmentHandler(apts, nil)
	csvBody := "title,description,price,location\nLoft,Top,90,Balti\n,x,1,y\n"

	rec := serve("POST /api/apartments/import", h.Import,
		withActor(uploadRequest(t, ImportFormField, "apartments.csv", csvBody), 5, domain.RoleUser))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, csvBody, apts.gotUpload)
	var resp ImportResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Import completed", resp.Message)
	assert.Equal(t, 1, resp.Results.Imported)
	assert.Equal(t, []service.RowError{{Row: 3, Errors: []string{"Title is required"}}}, resp.Results.Errors)

	rec = serve("POST /api/apartments/import", h.Import,
		withActor(uploadRequest(t, ImportFormField, "apartments.xlsx", csvBody), 5, domain.RoleUser))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, []string{"Invalid file type. Only CSV files are allowed"}, decodeError(t, rec).Details)

	rec = serve("POST /api/apartments/import", h.Import,
		withActor(uploadRequest(t, "upload", "apartments.csv", csvBody), 5, domain.RoleUser))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, []string{"No file uploaded"}, decodeError(t, rec).Details)

	rec = serve("POST /api/apartments/import", h.Import, uploadRequest(t, ImportFormField, "apartments.csv", csvBody))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestExportApartments(t *testing.T) {
	apts := &fakeApartments{exportBody: "id,title\n1,Loft\n"}
	h := NewApartmentHandler(apts, nil)

	rec := serve("GET /api/apartments/export", h.Export,
		withActor(httptest.NewRequest(http.MethodGet, "/api/apartments/export?location=chis&max_price=100&is_available=true&owner_id=5", nil), 5, domain.RoleUser))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=apartments_export.csv", rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "id,title\n1,Loft\n", rec.Body.String())

	assert.Equal(t, "chis", apts.gotFilter.Location)
	require.NotNil(t, apts.gotFilter.MaxPrice)
	assert.Equal(t, "100", apts.gotFilter.MaxPrice.String())
	assert.Nil(t, apts.gotFilter.MinPrice)
	require.NotNil(t, apts.gotFilter.IsAvailable)
	assert.True(t, *apts.gotFilter.IsAvailable)
	require.NotNil(t, apts.gotFilter.OwnerID)
	assert.Equal(t, int64(5), *apts.gotFilter.OwnerID)

	rec = serve("GET /api/apartments/export", h.Export,
		withActor(httptest.NewRequest(http.MethodGet, "/api/apartments/export?min_price=x&is_available=maybe&owner_id=0", nil), 5, domain.RoleUser))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, decodeError(t, rec).Details, 3)

	apts.exportErr = &domain.NotFoundError{Entity: "matching apartment"}
	rec = serve("GET /api/apartments/export", h.Export,
		withActor(httptest.NewRequest(http.MethodGet, "/api/apartments/export", nil), 5, domain.RoleUser))
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestEventsStream(t *testing.T) {
	hub := events.NewHub(4, nil)
	apts := &fakeApartments{apartments: map[int64]*domain.Apartment{1: {ID: 1}}}
	h := NewEventsHandler(hub, apts, nil, nil)

	mux := http.NewServeMux()
	mux.Handle("GET /ws/apartments/{id}/events", h)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	base := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(base+"/ws/apartments/2/events", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	ws, _, err := websocket.DefaultDialer.Dial(base+"/ws/apartments/1/events", nil)
	require.NoError(t, err)
	defer ws.Close()

	require.Eventually(t, func() bool { return hub.Subscribers(1) == 1 }, time.Second, 10*time.Millisecond)
	hub.Publish(events.Event{Type: events.ReservationCreated, ApartmentID: 1, ReservationID: 8, StartDate: "2025-01-05", EndDate: "2025-01-10"})

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := ws.ReadMessage()
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, string(events.ReservationCreated), got["type"])
	assert.Equal(t, "2025-01-05", got["startDate"])
	assert.Equal(t, "2025-01-10", got["endDate"])
	assert.NotContains(t, got, "reservationId", "anonymous subscribers do not learn reservation ids")

	require.NoError(t, ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	assert.Eventually(t, func() bool { return hub.Subscribers(1) == 0 }, time.Second, 10*time.Millisecond)
}

func TestDecodeJSONMessages(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"unknown field", `{"apartmentId":1,"guestId":9}`, `Unknown field "guestId"`},
		{"wrong type", `{"startDate":5}`, `Field "startDate" has the wrong type`},
		{"syntax", `{"startDate":`, "Request body must be valid JSON"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(tc.body))
			var req CreateReservationRequest
			err := decodeJSON(r, &req)
			var ve *domain.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, []string{tc.want}, ve.Violations)
		})
	}
}
