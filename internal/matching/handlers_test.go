package matching

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubService returns canned responses so handler tests stay focused on
// HTTP concerns.
type stubService struct {
	matches        []*LoanMatch
	err            error
	invalidateErr  error
	lastUserID     int64
	lastMatchType  string
	lastLimit      int
	lastResourceID int64
}

func (s *stubService) FindMatchesForBorrower(ctx context.Context, loanRequestID int64, limit int) ([]*LoanMatch, error) {
	s.lastResourceID = loanRequestID
	s.lastLimit = limit
	return s.matches, s.err
}

func (s *stubService) FindMatchesForLender(ctx context.Context, lendingOfferID int64, limit int) ([]*LoanMatch, error) {
	s.lastResourceID = lendingOfferID
	s.lastLimit = limit
	return s.matches, s.err
}

func (s *stubService) InvalidateMatchesCache(ctx context.Context, userID int64, matchType string) error {
	s.lastUserID = userID
	s.lastMatchType = matchType
	return s.invalidateErr
}

func (s *stubService) PrecomputeActiveMatches(ctx context.Context) error {
	return nil
}

func newHandlerRouter(stub *stubService) *mux.Router {
	handler := NewHandler(stub)
	router := mux.NewRouter()
	router.HandleFunc("/matching/borrower/{requestId}", handler.GetBorrowerMatches).Methods("GET")
	router.HandleFunc("/matching/lender/{offerId}", handler.GetLenderMatches).Methods("GET")
	router.HandleFunc("/matching/cache/invalidate", handler.InvalidateCache).Methods("POST")
	return router
}

func TestGetBorrowerMatches_ReturnsMatchList(t *testing.T) {
	stub := &stubService{matches: []*LoanMatch{{LoanRequestID: 1, LendingOfferID: 2}}}
	router := newHandlerRouter(stub)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/matching/borrower/1?limit=5", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), stub.lastResourceID)
	assert.Equal(t, 5, stub.lastLimit)

	var body struct {
		Success bool              `json:"success"`
		Data    MatchListResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, 1, body.Data.Count)
}

func TestGetBorrowerMatches_RejectsNonNumericID(t *testing.T) {
	router := newHandlerRouter(&stubService{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/matching/borrower/abc", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetLenderMatches_DefaultsLimitWhenAbsent(t *testing.T) {
	stub := &stubService{matches: []*LoanMatch{}}
	router := newHandlerRouter(stub)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/matching/lender/7", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(7), stub.lastResourceID)
	// Zero defers the clamp to the service
	assert.Equal(t, 0, stub.lastLimit)
}

func TestInvalidateCache_ValidPayload(t *testing.T) {
	stub := &stubService{}
	router := newHandlerRouter(stub)

	payload, _ := json.Marshal(InvalidateCacheDTO{UserID: 42, MatchType: MatchTypeAll})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/matching/cache/invalidate", bytes.NewReader(payload)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(42), stub.lastUserID)
	assert.Equal(t, MatchTypeAll, stub.lastMatchType)
}

func TestInvalidateCache_RejectsBadMatchType(t *testing.T) {
	router := newHandlerRouter(&stubService{})

	body := []byte(`{"user_id": 42, "match_type": "everything"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/matching/cache/invalidate", bytes.NewReader(body)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInvalidateCache_RejectsMissingUserID(t *testing.T) {
	router := newHandlerRouter(&stubService{})

	body := []byte(`{"match_type": "all"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/matching/cache/invalidate", bytes.NewReader(body)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
