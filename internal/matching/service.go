// internal/matching/service.go

package matching

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/peerfund/peerfund-backend/internal/common/cache"
	"github.com/peerfund/peerfund-backend/internal/config"
)

var ErrInvalidMatchType = errors.New("match type must be one of: all, borrower, lender")

// Match types accepted by cache invalidation
const (
	MatchTypeAll      = "all"
	MatchTypeBorrower = "borrower"
	MatchTypeLender   = "lender"
)

// Service is the public surface of the matching engine
type Service interface {
	// FindMatchesForBorrower returns the best lending offers for an
	// active loan request, sorted by descending match score. A missing
	// or inactive request yields an empty list, not an error.
	FindMatchesForBorrower(ctx context.Context, loanRequestID int64, limit int) ([]*LoanMatch, error)

	// FindMatchesForLender is the mirror operation for a lending offer.
	FindMatchesForLender(ctx context.Context, lendingOfferID int64, limit int) ([]*LoanMatch, error)

	// InvalidateMatchesCache discards cached matches for a user's
	// listings after profile or listing updates.
	InvalidateMatchesCache(ctx context.Context, userID int64, matchType string) error

	// PrecomputeActiveMatches refreshes cached matches for recently
	// active loan requests. Driven by the scheduler.
	PrecomputeActiveMatches(ctx context.Context) error
}

type service struct {
	repo   Repository
	cache  cache.Cache
	scorer *ScoringEngine
	logger *zap.Logger
	cfg    config.MatchingConfig
}

// NewService creates the match orchestrator. Constructed once at
// application start and injected into callers.
func NewService(repo Repository, c cache.Cache, scorer *ScoringEngine, logger *zap.Logger, cfg config.MatchingConfig) Service {
	return &service{
		repo:   repo,
		cache:  c,
		scorer: scorer,
		logger: logger,
		cfg:    cfg,
	}
}

func borrowerMatchKey(loanRequestID int64, limit int) string {
	return fmt.Sprintf("matches:borrower:%d:limit:%d", loanRequestID, limit)
}

func lenderMatchKey(lendingOfferID int64, limit int) string {
	return fmt.Sprintf("matches:lender:%d:limit:%d", lendingOfferID, limit)
}

func (s *service) FindMatchesForBorrower(ctx context.Context, loanRequestID int64, limit int) ([]*LoanMatch, error) {
	limit = s.clampLimit(limit)
	key := borrowerMatchKey(loanRequestID, limit)

	if matches, ok := s.cachedMatches(ctx, key); ok {
		RecordMatchLookup(MatchTypeBorrower, "cache")
		return matches, nil
	}

	matches, err := s.computeBorrowerMatches(ctx, loanRequestID, limit)
	if err != nil {
		return nil, err
	}

	RecordMatchLookup(MatchTypeBorrower, "computed")
	return matches, nil
}

func (s *service) FindMatchesForLender(ctx context.Context, lendingOfferID int64, limit int) ([]*LoanMatch, error) {
	limit = s.clampLimit(limit)
	key := lenderMatchKey(lendingOfferID, limit)

	if matches, ok := s.cachedMatches(ctx, key); ok {
		RecordMatchLookup(MatchTypeLender, "cache")
		return matches, nil
	}

	matches, err := s.computeLenderMatches(ctx, lendingOfferID, limit)
	if err != nil {
		return nil, err
	}

	RecordMatchLookup(MatchTypeLender, "computed")
	return matches, nil
}

func (s *service) computeBorrowerMatches(ctx context.Context, loanRequestID int64, limit int) ([]*LoanMatch, error) {
	req, err := s.repo.GetLoanRequest(ctx, loanRequestID)
	if errors.Is(err, ErrLoanRequestNotFound) {
		return []*LoanMatch{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get loan request: %w", err)
	}
	if req.Status != StatusActive {
		// A closed request simply has no matches
		return []*LoanMatch{}, nil
	}

	borrower, err := s.repo.GetUser(ctx, req.BorrowerID)
	if errors.Is(err, ErrUserNotFound) {
		return []*LoanMatch{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get borrower: %w", err)
	}

	borrowerRating, err := s.repo.GetUserAverageRating(ctx, req.BorrowerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get borrower rating: %w", err)
	}

	offers, err := s.repo.FindCompatibleOffers(ctx, req, s.cfg.MaxCandidates)
	if err != nil {
		return nil, fmt.Errorf("failed to find compatible offers: %w", err)
	}

	matches := make([]*LoanMatch, 0, len(offers))
	for _, offer := range offers {
		match, err := s.scorePair(ctx, req, offer, borrower, borrowerRating)
		if err != nil {
			if isPartialData(err) {
				// Skip this candidate only; the batch continues
				RecordCandidateSkipped()
				s.logger.Debug("skipping candidate with missing data",
					zap.Int64("loan_request_id", req.ID),
					zap.Int64("lending_offer_id", offer.ID),
					zap.Error(err),
				)
				continue
			}
			return nil, err
		}
		if match != nil {
			matches = append(matches, match)
		}
	}

	sortMatches(matches, func(m *LoanMatch) int64 { return m.LendingOfferID })
	if len(matches) > limit {
		matches = matches[:limit]
	}

	s.logger.Info("computed borrower matches",
		zap.Int64("loan_request_id", loanRequestID),
		zap.Int("candidates", len(offers)),
		zap.Int("matches", len(matches)),
	)

	s.writeCache(ctx, borrowerMatchKey(loanRequestID, limit), matches)
	return matches, nil
}

func (s *service) computeLenderMatches(ctx context.Context, lendingOfferID int64, limit int) ([]*LoanMatch, error) {
	offer, err := s.repo.GetLendingOffer(ctx, lendingOfferID)
	if errors.Is(err, ErrLendingOfferNotFound) {
		return []*LoanMatch{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lending offer: %w", err)
	}
	if offer.Status != StatusActive {
		return []*LoanMatch{}, nil
	}

	lender, err := s.repo.GetUser(ctx, offer.LenderID)
	if errors.Is(err, ErrUserNotFound) {
		return []*LoanMatch{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lender: %w", err)
	}

	lenderRating, err := s.repo.GetUserAverageRating(ctx, offer.LenderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get lender rating: %w", err)
	}

	requests, err := s.repo.FindCompatibleRequests(ctx, offer, s.cfg.MaxCandidates)
	if err != nil {
		return nil, fmt.Errorf("failed to find compatible requests: %w", err)
	}

	matches := make([]*LoanMatch, 0, len(requests))
	for _, req := range requests {
		match, err := s.scorePairForLender(ctx, req, offer, lender, lenderRating)
		if err != nil {
			if isPartialData(err) {
				RecordCandidateSkipped()
				s.logger.Debug("skipping candidate with missing data",
					zap.Int64("lending_offer_id", offer.ID),
					zap.Int64("loan_request_id", req.ID),
					zap.Error(err),
				)
				continue
			}
			return nil, err
		}
		if match != nil {
			matches = append(matches, match)
		}
	}

	sortMatches(matches, func(m *LoanMatch) int64 { return m.LoanRequestID })
	if len(matches) > limit {
		matches = matches[:limit]
	}

	s.logger.Info("computed lender matches",
		zap.Int64("lending_offer_id", lendingOfferID),
		zap.Int("candidates", len(requests)),
		zap.Int("matches", len(matches)),
	)

	s.writeCache(ctx, lenderMatchKey(lendingOfferID, limit), matches)
	return matches, nil
}

// scorePair scores one candidate offer against the borrower's request.
func (s *service) scorePair(ctx context.Context, req *LoanRequest, offer *LendingOffer, borrower *User, borrowerRating float64) (*LoanMatch, error) {
	// Self-matching is forbidden regardless of filter behavior
	if req.BorrowerID == offer.LenderID {
		return nil, nil
	}

	lender, err := s.repo.GetUser(ctx, offer.LenderID)
	if err != nil {
		return nil, err
	}

	lenderRating, err := s.repo.GetUserAverageRating(ctx, offer.LenderID)
	if err != nil {
		return nil, err
	}

	return s.buildMatch(ctx, req, offer, borrower, lender, borrowerRating, lenderRating)
}

// scorePairForLender scores one candidate request against the lender's
// offer.
func (s *service) scorePairForLender(ctx context.Context, req *LoanRequest, offer *LendingOffer, lender *User, lenderRating float64) (*LoanMatch, error) {
	if req.BorrowerID == offer.LenderID {
		return nil, nil
	}

	borrower, err := s.repo.GetUser(ctx, req.BorrowerID)
	if err != nil {
		return nil, err
	}

	borrowerRating, err := s.repo.GetUserAverageRating(ctx, req.BorrowerID)
	if err != nil {
		return nil, err
	}

	return s.buildMatch(ctx, req, offer, borrower, lender, borrowerRating, lenderRating)
}

func (s *service) buildMatch(ctx context.Context, req *LoanRequest, offer *LendingOffer, borrower, lender *User, borrowerRating, lenderRating float64) (*LoanMatch, error) {
	hasHistory, err := s.repo.HasAcceptedConnection(ctx, req.BorrowerID, offer.LenderID)
	if err != nil {
		return nil, err
	}

	input := &ScoringInput{
		Request:            req,
		Offer:              offer,
		BorrowerRating:     borrowerRating,
		LenderRating:       lenderRating,
		BorrowerLocation:   borrower.Location,
		LenderLocation:     lender.Location,
		HasPriorConnection: hasHistory,
	}

	score := s.scorer.Score(input)
	RecordMatchScore(score.TotalScore)

	if score.TotalScore < s.cfg.MinMatchScore {
		return nil, nil
	}

	return &LoanMatch{
		BorrowerID:                   req.BorrowerID,
		LenderID:                     offer.LenderID,
		LoanRequestID:                req.ID,
		LendingOfferID:               offer.ID,
		MatchScore:                   score,
		EstimatedApprovalProbability: ApprovalProbability(score.TotalScore, borrowerRating, lenderRating),
		SuggestedTerms:               SuggestTerms(input, score.TotalScore),
		MatchReasons:                 MatchReasons(score.CriteriaScores),
	}, nil
}

func (s *service) InvalidateMatchesCache(ctx context.Context, userID int64, matchType string) error {
	if matchType != MatchTypeAll && matchType != MatchTypeBorrower && matchType != MatchTypeLender {
		return ErrInvalidMatchType
	}

	var deleted int64

	if matchType == MatchTypeAll || matchType == MatchTypeBorrower {
		ids, err := s.repo.GetLoanRequestIDsByBorrower(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to list loan requests: %w", err)
		}
		for _, id := range ids {
			n, err := s.cache.DeletePattern(ctx, fmt.Sprintf("matches:borrower:%d:*", id))
			if err != nil {
				return fmt.Errorf("failed to invalidate borrower matches: %w", err)
			}
			deleted += n
		}
	}

	if matchType == MatchTypeAll || matchType == MatchTypeLender {
		ids, err := s.repo.GetLendingOfferIDsByLender(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to list lending offers: %w", err)
		}
		for _, id := range ids {
			n, err := s.cache.DeletePattern(ctx, fmt.Sprintf("matches:lender:%d:*", id))
			if err != nil {
				return fmt.Errorf("failed to invalidate lender matches: %w", err)
			}
			deleted += n
		}
	}

	RecordCacheInvalidation(deleted)
	s.logger.Info("invalidated match caches",
		zap.Int64("user_id", userID),
		zap.String("match_type", matchType),
		zap.Int64("keys_deleted", deleted),
	)

	return nil
}

func (s *service) PrecomputeActiveMatches(ctx context.Context) error {
	requests, err := s.repo.ListActiveLoanRequests(ctx, s.cfg.PrecomputeBatchSize)
	if err != nil {
		return fmt.Errorf("failed to list active loan requests: %w", err)
	}

	for _, req := range requests {
		if _, err := s.computeBorrowerMatches(ctx, req.ID, s.cfg.MaxMatchesPerRequest); err != nil {
			s.logger.Warn("precompute failed for loan request",
				zap.Int64("loan_request_id", req.ID),
				zap.Error(err),
			)
		}
	}

	return nil
}

// cachedMatches returns the cached result for a key, if present and
// decodable. Cache failures degrade to a fresh compute.
func (s *service) cachedMatches(ctx context.Context, key string) ([]*LoanMatch, bool) {
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("cache read failed, computing fresh", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	var matches []*LoanMatch
	if err := json.Unmarshal(data, &matches); err != nil {
		s.logger.Warn("cache entry corrupt, computing fresh", zap.String("key", key), zap.Error(err))
		return nil, false
	}

	return matches, true
}

// writeCache stores a fully-computed result set. Failures are logged
// only; a cache outage never fails the call.
func (s *service) writeCache(ctx context.Context, key string, matches []*LoanMatch) {
	data, err := json.Marshal(matches)
	if err != nil {
		s.logger.Warn("failed to marshal matches for cache", zap.String("key", key), zap.Error(err))
		return
	}

	if err := s.cache.Set(ctx, key, data, s.cfg.CacheTTL); err != nil {
		s.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *service) clampLimit(limit int) int {
	if limit <= 0 || limit > s.cfg.MaxMatchesPerRequest {
		return s.cfg.MaxMatchesPerRequest
	}
	return limit
}

// sortMatches orders by descending total score; ties break on the
// ascending counterparty listing ID so the ordering is deterministic
// and independent of candidate arrival order.
func sortMatches(matches []*LoanMatch, tieKey func(*LoanMatch) int64) {
	sort.Slice(matches, func(i, j int) bool {
		si, sj := matches[i].MatchScore.TotalScore, matches[j].MatchScore.TotalScore
		if si != sj {
			return si > sj
		}
		return tieKey(matches[i]) < tieKey(matches[j])
	})
}

// isPartialData reports whether an error means a candidate's related
// records are missing, as opposed to a data-source outage.
func isPartialData(err error) bool {
	return errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrLoanRequestNotFound) ||
		errors.Is(err, ErrLendingOfferNotFound)
}
