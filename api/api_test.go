package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap/zapcore"

	"github.com/0m3kk/library/api"
	"github.com/0m3kk/library/audit"
	"github.com/0m3kk/library/catalog"
	"github.com/0m3kk/library/event"
	"github.com/0m3kk/library/logging"
	"github.com/0m3kk/library/party"
	"github.com/0m3kk/library/reservation"
	"github.com/0m3kk/library/testutil"
)

type brokenPublisher struct{}

func (brokenPublisher) Publish(context.Context, ...event.Event) error {
	return errors.New("pq: connection to 10.0.0.7 refused")
}

type discardPublisher struct{}

func (discardPublisher) Publish(context.Context, ...event.Event) error { return nil }

type APISuite struct {
	suite.Suite
	router     *gin.Engine
	auditStore *testutil.AuditStore
	outbox     *testutil.OutboxStore
}

func TestAPISuite(t *testing.T) {
	gin.SetMode(gin.TestMode)
	suite.Run(t, new(APISuite))
}

func (s *APISuite) SetupTest() {
	tx := &testutil.Transactor{}
	s.outbox = testutil.NewOutboxStore()
	books := testutil.NewBooks()
	categories := testutil.NewCategories(books)
	s.auditStore = testutil.NewAuditStore()

	h := api.NewHandler(
		reservation.NewService(testutil.NewReservations(), tx, s.outbox),
		catalog.NewBookService(books, categories, tx, s.outbox),
		catalog.NewCategoryService(categories, tx, s.outbox),
		party.NewService(testutil.NewParties(), discardPublisher{}),
		audit.NewLog(s.auditStore),
	)
	s.router = api.NewRouter(h)
}

func (s *APISuite) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *APISuite) TestBorrow_CreatedThenConflict() {
	// GIVEN
	body := gin.H{"book_id": uuid.NewString(), "customer_party_id": uuid.NewString()}

	// WHEN
	first := s.do(http.MethodPost, "/api/reservations", body)
	second := s.do(http.MethodPost, "/api/reservations", body)

	// THEN
	s.Equal(http.StatusCreated, first.Code)
	var res reservation.Reservation
	s.Require().NoError(json.Unmarshal(first.Body.Bytes(), &res))
	s.True(res.IsActive)

	s.Equal(http.StatusBadRequest, second.Code)
	s.Contains(second.Body.String(), "active reservation")
	s.NotEmpty(first.Header().Get(api.RequestIDHeader))
}

func (s *APISuite) TestReturn_Flow() {
	created := s.do(http.MethodPost, "/api/reservations", gin.H{
		"book_id": uuid.NewString(), "customer_party_id": uuid.NewString(),
	})
	s.Require().Equal(http.StatusCreated, created.Code)
	var res reservation.Reservation
	s.Require().NoError(json.Unmarshal(created.Body.Bytes(), &res))

	ok := s.do(http.MethodPost, "/api/reservations/"+res.ID.String()+"/return", nil)
	s.Equal(http.StatusOK, ok.Code)

	again := s.do(http.MethodPost, "/api/reservations/"+res.ID.String()+"/return", nil)
	s.Equal(http.StatusBadRequest, again.Code)

	missing := s.do(http.MethodPost, "/api/reservations/"+uuid.NewString()+"/return", nil)
	s.Equal(http.StatusNotFound, missing.Code)

	active := s.do(http.MethodGet, "/api/reservations?active=true", nil)
	s.Equal(http.StatusOK, active.Code)
	s.JSONEq(`[]`, active.Body.String())
}

func (s *APISuite) TestInvalidInputIsBadRequest() {
	s.Equal(http.StatusBadRequest, s.do(http.MethodGet, "/api/reservations/not-a-uuid", nil).Code)
	s.Equal(http.StatusBadRequest, s.do(http.MethodPost, "/api/reservations", gin.H{"book_id": uuid.NewString()}).Code)
	s.Equal(http.StatusBadRequest, s.do(http.MethodPost, "/api/categories", gin.H{}).Code)
}

func (s *APISuite) TestInternalErrorsAreNotLeaked() {
	// GIVEN
	h := api.NewHandler(
		reservation.NewService(testutil.NewReservations(), &testutil.Transactor{}, brokenPublisher{}),
		nil, nil, nil, nil,
	)
	router := api.NewRouter(h)
	req := httptest.NewRequest(http.MethodPost, "/api/reservations",
		bytes.NewBufferString(`{"book_id":"`+uuid.NewString()+`","customer_party_id":"`+uuid.NewString()+`"}`))
	w := httptest.NewRecorder()

	// WHEN
	router.ServeHTTP(w, req)

	// THEN
	s.Equal(http.StatusInternalServerError, w.Code)
	s.NotContains(w.Body.String(), "10.0.0.7")
	s.JSONEq(`{"error":"An internal error occurred"}`, w.Body.String())
}

func (s *APISuite) TestCatalogAndPartyRoutes() {
	cat := s.do(http.MethodPost, "/api/categories", gin.H{"name": "History"})
	s.Require().Equal(http.StatusCreated, cat.Code)
	var category catalog.Category
	s.Require().NoError(json.Unmarshal(cat.Body.Bytes(), &category))

	author := s.do(http.MethodPost, "/api/parties", gin.H{"first_name": "Mary", "last_name": "Beard", "email": "mary@example.com"})
	s.Require().Equal(http.StatusCreated, author.Code)
	var p party.Party
	s.Require().NoError(json.Unmarshal(author.Body.Bytes(), &p))

	s.Equal(http.StatusNoContent,
		s.do(http.MethodPost, "/api/parties/"+p.ID.String()+"/roles/"+party.RoleAuthorID.String(), nil).Code)
	s.Equal(http.StatusBadRequest,
		s.do(http.MethodPost, "/api/parties/"+p.ID.String()+"/roles/"+party.RoleAuthorID.String(), nil).Code)

	book := s.do(http.MethodPost, "/api/books", gin.H{
		"title": "SPQR", "isbn": "978-1", "author_party_id": p.ID, "category_id": category.ID, "total_copies": 2,
	})
	s.Require().Equal(http.StatusCreated, book.Code)

	search := s.do(http.MethodGet, "/api/books?title=spqr", nil)
	s.Equal(http.StatusOK, search.Code)
	var found []catalog.Book
	s.Require().NoError(json.Unmarshal(search.Body.Bytes(), &found))
	s.Len(found, 1)

	roles := s.do(http.MethodGet, "/api/roles", nil)
	s.Equal(http.StatusOK, roles.Code)

	s.Equal(http.StatusNotFound, s.do(http.MethodGet, "/api/parties/"+uuid.NewString(), nil).Code)
}

func (s *APISuite) TestAuditRoutes() {
	// GIVEN
	ctx := context.Background()
	log := audit.NewLog(s.auditStore)
	entity := uuid.NewString()
	base := time.Now().UTC()
	for i := range 3 {
		s.Require().NoError(log.Record(ctx, audit.Record{
			EventID: uuid.New(), EntityID: entity, EntityType: event.EntityBook,
			ActionType: event.ActionUpdated, Timestamp: base.Add(time.Duration(i) * time.Second),
		}))
	}

	// WHEN
	page := s.do(http.MethodGet, "/api/audit-events?page=2&page_size=2", nil)
	byBook := s.do(http.MethodGet, "/api/books/"+entity+"/audit-events", nil)

	// THEN
	s.Equal(http.StatusOK, page.Code)
	var body struct {
		Items      []audit.Record `json:"items"`
		Page       int            `json:"page"`
		PageSize   int            `json:"page_size"`
		TotalCount int64          `json:"total_count"`
		TotalPages int            `json:"total_pages"`
	}
	s.Require().NoError(json.Unmarshal(page.Body.Bytes(), &body))
	s.Len(body.Items, 1)
	s.Equal(2, body.Page)
	s.EqualValues(3, body.TotalCount)
	s.Equal(2, body.TotalPages)

	s.Equal(http.StatusOK, byBook.Code)
	var items []audit.Record
	s.Require().NoError(json.Unmarshal(byBook.Body.Bytes(), &items))
	s.Len(items, 3)
}

func TestHealthz(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := api.NewRouter(api.NewHandler(nil, nil, nil, nil, nil))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("healthz = %d", w.Code)
	}
}

func (s *APISuite) TestLogLevel_ReadAndChange() {
	// GIVEN
	original := logging.Level().String()
	defer func() { s.Require().NoError(logging.SetLevel(original)) }()

	// WHEN
	changed := s.do(http.MethodPut, "/admin/log-level", gin.H{"level": "debug"})
	current := s.do(http.MethodGet, "/admin/log-level", nil)
	invalid := s.do(http.MethodPut, "/admin/log-level", gin.H{"level": "loud"})

	// THEN
	s.Equal(http.StatusOK, changed.Code)
	s.JSONEq(`{"level":"debug"}`, current.Body.String())
	s.Equal(http.StatusBadRequest, invalid.Code)
	s.Equal(zapcore.DebugLevel, logging.Level(), "an invalid level leaves the current one in place")
}
