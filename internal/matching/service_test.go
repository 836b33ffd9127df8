package matching

import (
	"context"
	"errors"
	"path"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/peerfund/peerfund-backend/internal/common/cache"
	"github.com/peerfund/peerfund-backend/internal/config"
)

// mockRepository serves fixtures from maps and counts lookups so tests
// can tell cache hits from fresh computes.
type mockRepository struct {
	requests    map[int64]*LoanRequest
	offers      map[int64]*LendingOffer
	users       map[int64]*User
	ratings     map[int64]float64
	connections map[[2]int64]bool

	loanRequestLookups int
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		requests:    make(map[int64]*LoanRequest),
		offers:      make(map[int64]*LendingOffer),
		users:       make(map[int64]*User),
		ratings:     make(map[int64]float64),
		connections: make(map[[2]int64]bool),
	}
}

func (m *mockRepository) addUser(id int64, rating float64, location string) {
	u := &User{ID: id, Role: "both"}
	if location != "" {
		u.Location = strPtr(location)
	}
	m.users[id] = u
	m.ratings[id] = rating
}

func (m *mockRepository) GetLoanRequest(ctx context.Context, id int64) (*LoanRequest, error) {
	m.loanRequestLookups++
	req, ok := m.requests[id]
	if !ok {
		return nil, ErrLoanRequestNotFound
	}
	return req, nil
}

func (m *mockRepository) GetLendingOffer(ctx context.Context, id int64) (*LendingOffer, error) {
	offer, ok := m.offers[id]
	if !ok {
		return nil, ErrLendingOfferNotFound
	}
	return offer, nil
}

func (m *mockRepository) GetUser(ctx context.Context, id int64) (*User, error) {
	user, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return user, nil
}

func (m *mockRepository) GetUserAverageRating(ctx context.Context, userID int64) (float64, error) {
	if rating, ok := m.ratings[userID]; ok {
		return rating, nil
	}
	return 4.0, nil
}

func (m *mockRepository) HasAcceptedConnection(ctx context.Context, userA, userB int64) (bool, error) {
	if userA > userB {
		userA, userB = userB, userA
	}
	return m.connections[[2]int64{userA, userB}], nil
}

func (m *mockRepository) FindCompatibleOffers(ctx context.Context, req *LoanRequest, limit int) ([]*LendingOffer, error) {
	var offers []*LendingOffer
	for _, offer := range m.offers {
		if offer.Status == StatusActive {
			offers = append(offers, offer)
		}
	}
	sort.Slice(offers, func(i, j int) bool { return offers[i].ID < offers[j].ID })
	if len(offers) > limit {
		offers = offers[:limit]
	}
	return offers, nil
}

func (m *mockRepository) FindCompatibleRequests(ctx context.Context, offer *LendingOffer, limit int) ([]*LoanRequest, error) {
	var requests []*LoanRequest
	for _, req := range m.requests {
		if req.Status == StatusActive {
			requests = append(requests, req)
		}
	}
	sort.Slice(requests, func(i, j int) bool { return requests[i].ID < requests[j].ID })
	if len(requests) > limit {
		requests = requests[:limit]
	}
	return requests, nil
}

func (m *mockRepository) GetLoanRequestIDsByBorrower(ctx context.Context, borrowerID int64) ([]int64, error) {
	var ids []int64
	for _, req := range m.requests {
		if req.BorrowerID == borrowerID {
			ids = append(ids, req.ID)
		}
	}
	return ids, nil
}

func (m *mockRepository) GetLendingOfferIDsByLender(ctx context.Context, lenderID int64) ([]int64, error) {
	var ids []int64
	for _, offer := range m.offers {
		if offer.LenderID == lenderID {
			ids = append(ids, offer.ID)
		}
	}
	return ids, nil
}

func (m *mockRepository) ListActiveLoanRequests(ctx context.Context, limit int) ([]*LoanRequest, error) {
	return m.FindCompatibleRequests(ctx, nil, limit)
}

// mockCache is an in-memory Cache with glob deletion and optional
// failure injection.
type mockCache struct {
	entries   map[string][]byte
	failReads bool
}

func newMockCache() *mockCache {
	return &mockCache{entries: make(map[string][]byte)}
}

func (c *mockCache) Get(ctx context.Context, key string) ([]byte, error) {
	if c.failReads {
		return nil, errors.New("connection refused")
	}
	data, ok := c.entries[key]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return data, nil
}

func (c *mockCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.entries[key] = value
	return nil
}

func (c *mockCache) DeletePattern(ctx context.Context, pattern string) (int64, error) {
	var deleted int64
	for key := range c.entries {
		if ok, _ := path.Match(pattern, key); ok {
			delete(c.entries, key)
			deleted++
		}
	}
	return deleted, nil
}

func testMatchingConfig() config.MatchingConfig {
	return config.MatchingConfig{
		MinMatchScore:        0.6,
		MaxMatchesPerRequest: 10,
		MaxCandidates:        50,
		CacheTTL:             30 * time.Minute,
		RateSlackHigh:        1.1,
		RateSlackLow:         0.9,
		PrecomputeInterval:   time.Hour,
		PrecomputeBatchSize:  20,
	}
}

func newTestService(repo Repository, c cache.Cache) Service {
	scorer, err := NewScoringEngine(DefaultWeights())
	if err != nil {
		panic(err)
	}
	return NewService(repo, c, scorer, zap.NewNop(), testMatchingConfig())
}

// goodOffer clones the reference offer under a new ID and lender.
func goodOffer(id, lenderID int64) *LendingOffer {
	offer := testOffer()
	offer.ID = id
	offer.LenderID = lenderID
	return offer
}

// marketplaceFixture builds the standard scenario: request 1 from
// borrower 10, a strong offer from lender 20, a weaker but passing
// offer from lender 40, a hopeless offer from lender 30, and the
// borrower's own offer which must never match.
func marketplaceFixture() *mockRepository {
	repo := newMockRepository()

	repo.requests[1] = testRequest()

	repo.offers[2] = goodOffer(2, 20)
	repo.offers[3] = &LendingOffer{
		ID: 3, LenderID: 30, MinAmount: 5000, MaxAmount: 10000,
		MinTermMonths: 6, MaxTermMonths: 12,
		MinInterestRate: floatPtr(20.0), Status: StatusActive,
	}
	repo.offers[4] = goodOffer(4, 40)
	repo.offers[5] = goodOffer(5, 10)

	repo.addUser(10, 4.5, "Lagos, Nigeria")
	repo.addUser(20, 4.5, "Lagos, Nigeria")
	repo.addUser(30, 1.0, "Nairobi, Kenya")
	repo.addUser(40, 3.0, "Abuja, Nigeria")

	return repo
}

func TestFindMatchesForBorrower_ScoresFiltersAndOrders(t *testing.T) {
	repo := marketplaceFixture()
	svc := newTestService(repo, newMockCache())

	matches, err := svc.FindMatchesForBorrower(context.Background(), 1, 0)
	require.NoError(t, err)
	require.Len(t, matches, 2)

	// Strongest offer first, the weaker passing offer second
	assert.Equal(t, int64(2), matches[0].LendingOfferID)
	assert.Equal(t, int64(4), matches[1].LendingOfferID)
	assert.Greater(t, matches[0].MatchScore.TotalScore, matches[1].MatchScore.TotalScore)

	for _, m := range matches {
		assert.Equal(t, int64(10), m.BorrowerID)
		assert.Equal(t, int64(1), m.LoanRequestID)
		assert.GreaterOrEqual(t, m.MatchScore.TotalScore, 0.6)
		assert.NotEmpty(t, m.MatchReasons)
		assert.GreaterOrEqual(t, m.EstimatedApprovalProbability, 0.05)
		assert.LessOrEqual(t, m.EstimatedApprovalProbability, 0.95)
		assert.Greater(t, m.SuggestedTerms.MonthlyPayment, 0.0)
		// The borrower's own offer never appears
		assert.NotEqual(t, int64(10), m.LenderID)
	}

	assert.InDelta(t, 0.833, matches[0].MatchScore.TotalScore, 1e-9)
}

func TestFindMatchesForBorrower_UnknownRequestYieldsEmptyList(t *testing.T) {
	svc := newTestService(newMockRepository(), newMockCache())

	matches, err := svc.FindMatchesForBorrower(context.Background(), 999, 0)
	require.NoError(t, err)
	assert.NotNil(t, matches)
	assert.Empty(t, matches)
}

func TestFindMatchesForBorrower_ClosedRequestYieldsEmptyList(t *testing.T) {
	repo := marketplaceFixture()
	repo.requests[1].Status = StatusClosed
	svc := newTestService(repo, newMockCache())

	matches, err := svc.FindMatchesForBorrower(context.Background(), 1, 0)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestFindMatchesForBorrower_SkipsCandidateWithMissingLender(t *testing.T) {
	repo := marketplaceFixture()
	// Lender 40's profile is gone but their offer row still exists
	delete(repo.users, 40)
	svc := newTestService(repo, newMockCache())

	matches, err := svc.FindMatchesForBorrower(context.Background(), 1, 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, int64(2), matches[0].LendingOfferID)
}

func TestFindMatchesForBorrower_TruncatesToLimit(t *testing.T) {
	repo := newMockRepository()
	repo.requests[1] = testRequest()
	repo.addUser(10, 4.5, "Lagos, Nigeria")
	for i := int64(0); i < 15; i++ {
		lenderID := 100 + i
		repo.offers[200+i] = goodOffer(200+i, lenderID)
		repo.addUser(lenderID, 4.5, "Lagos, Nigeria")
	}
	svc := newTestService(repo, newMockCache())

	// The default limit caps the result at the configured maximum
	matches, err := svc.FindMatchesForBorrower(context.Background(), 1, 0)
	require.NoError(t, err)
	assert.Len(t, matches, 10)

	// An explicit lower limit is honored
	matches, err = svc.FindMatchesForBorrower(context.Background(), 1, 3)
	require.NoError(t, err)
	assert.Len(t, matches, 3)

	// An absurd limit clamps back down
	matches, err = svc.FindMatchesForBorrower(context.Background(), 1, 5000)
	require.NoError(t, err)
	assert.Len(t, matches, 10)
}

func TestFindMatchesForBorrower_TieBreaksOnOfferID(t *testing.T) {
	repo := newMockRepository()
	repo.requests[1] = testRequest()
	repo.addUser(10, 4.5, "Lagos, Nigeria")
	// Three indistinguishable offers; only the IDs differ
	for _, id := range []int64{9, 5, 7} {
		repo.offers[id] = goodOffer(id, 100+id)
		repo.addUser(100+id, 4.5, "Lagos, Nigeria")
	}
	svc := newTestService(repo, newMockCache())

	matches, err := svc.FindMatchesForBorrower(context.Background(), 1, 0)
	require.NoError(t, err)
	require.Len(t, matches, 3)

	assert.Equal(t, int64(5), matches[0].LendingOfferID)
	assert.Equal(t, int64(7), matches[1].LendingOfferID)
	assert.Equal(t, int64(9), matches[2].LendingOfferID)
}

func TestFindMatchesForBorrower_SecondCallServedFromCache(t *testing.T) {
	repo := marketplaceFixture()
	svc := newTestService(repo, newMockCache())
	ctx := context.Background()

	first, err := svc.FindMatchesForBorrower(ctx, 1, 0)
	require.NoError(t, err)
	lookups := repo.loanRequestLookups

	second, err := svc.FindMatchesForBorrower(ctx, 1, 0)
	require.NoError(t, err)

	assert.Equal(t, lookups, repo.loanRequestLookups, "second call should not hit the repository")
	assert.Equal(t, first, second)
}

func TestFindMatchesForBorrower_CacheOutageDegradesToCompute(t *testing.T) {
	repo := marketplaceFixture()
	c := newMockCache()
	c.failReads = true
	svc := newTestService(repo, c)

	matches, err := svc.FindMatchesForBorrower(context.Background(), 1, 0)
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestInvalidateMatchesCache_ForcesRecompute(t *testing.T) {
	repo := marketplaceFixture()
	svc := newTestService(repo, newMockCache())
	ctx := context.Background()

	_, err := svc.FindMatchesForBorrower(ctx, 1, 0)
	require.NoError(t, err)

	require.NoError(t, svc.InvalidateMatchesCache(ctx, 10, MatchTypeBorrower))

	lookups := repo.loanRequestLookups
	_, err = svc.FindMatchesForBorrower(ctx, 1, 0)
	require.NoError(t, err)
	assert.Greater(t, repo.loanRequestLookups, lookups, "invalidation should force a fresh compute")
}

func TestInvalidateMatchesCache_RejectsUnknownType(t *testing.T) {
	svc := newTestService(newMockRepository(), newMockCache())

	err := svc.InvalidateMatchesCache(context.Background(), 10, "everything")
	assert.ErrorIs(t, err, ErrInvalidMatchType)
}

func TestFindMatchesForLender_MirrorsBorrowerFlow(t *testing.T) {
	repo := marketplaceFixture()
	// A request posted by lender 20 themselves must never match
	selfRequest := testRequest()
	selfRequest.ID = 6
	selfRequest.BorrowerID = 20
	repo.requests[6] = selfRequest

	svc := newTestService(repo, newMockCache())

	matches, err := svc.FindMatchesForLender(context.Background(), 2, 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)

	assert.Equal(t, int64(1), matches[0].LoanRequestID)
	assert.Equal(t, int64(20), matches[0].LenderID)
	assert.InDelta(t, 0.833, matches[0].MatchScore.TotalScore, 1e-9)
}

func TestFindMatchesForLender_UnknownOfferYieldsEmptyList(t *testing.T) {
	svc := newTestService(newMockRepository(), newMockCache())

	matches, err := svc.FindMatchesForLender(context.Background(), 999, 0)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestPrecomputeActiveMatches_WarmsTheCache(t *testing.T) {
	repo := marketplaceFixture()
	c := newMockCache()
	svc := newTestService(repo, c)
	ctx := context.Background()

	require.NoError(t, svc.PrecomputeActiveMatches(ctx))
	assert.NotEmpty(t, c.entries)

	// A later lookup is served from the warmed cache
	lookups := repo.loanRequestLookups
	matches, err := svc.FindMatchesForBorrower(ctx, 1, 0)
	require.NoError(t, err)
	assert.Len(t, matches, 2)
	assert.Equal(t, lookups, repo.loanRequestLookups)
}

func TestPriorConnectionRaisesScore(t *testing.T) {
	repoWithout := marketplaceFixture()
	repoWith := marketplaceFixture()
	repoWith.connections[[2]int64{10, 20}] = true

	ctx := context.Background()

	without, err := newTestService(repoWithout, newMockCache()).FindMatchesForBorrower(ctx, 1, 0)
	require.NoError(t, err)
	with, err := newTestService(repoWith, newMockCache()).FindMatchesForBorrower(ctx, 1, 0)
	require.NoError(t, err)

	require.NotEmpty(t, without)
	require.NotEmpty(t, with)
	assert.Equal(t, 1.0, with[0].MatchScore.CriteriaScores.PreviousHistory)
	assert.Greater(t, with[0].MatchScore.TotalScore, without[0].MatchScore.TotalScore)
}
