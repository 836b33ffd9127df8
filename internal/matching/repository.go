package matching

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var (
	ErrLoanRequestNotFound  = errors.New("loan request not found")
	ErrLendingOfferNotFound = errors.New("lending offer not found")
	ErrUserNotFound         = errors.New("user not found")
)

// Repository is the data-access boundary of the matching engine. All
// entities are owned by other services; the engine only reads.
type Repository interface {
	GetLoanRequest(ctx context.Context, id int64) (*LoanRequest, error)
	GetLendingOffer(ctx context.Context, id int64) (*LendingOffer, error)
	GetUser(ctx context.Context, id int64) (*User, error)
	// GetUserAverageRating returns the 0-5 rating aggregate, defaulting
	// to 4.0 for unrated users.
	GetUserAverageRating(ctx context.Context, userID int64) (float64, error)
	HasAcceptedConnection(ctx context.Context, userA, userB int64) (bool, error)

	// Candidate filter: coarse narrowing before per-pair scoring.
	// Must not reject records that could still clear the score
	// threshold, hence the configured rate slack.
	FindCompatibleOffers(ctx context.Context, req *LoanRequest, limit int) ([]*LendingOffer, error)
	FindCompatibleRequests(ctx context.Context, offer *LendingOffer, limit int) ([]*LoanRequest, error)

	// Cache invalidation support
	GetLoanRequestIDsByBorrower(ctx context.Context, borrowerID int64) ([]int64, error)
	GetLendingOfferIDsByLender(ctx context.Context, lenderID int64) ([]int64, error)

	// Scheduler support
	ListActiveLoanRequests(ctx context.Context, limit int) ([]*LoanRequest, error)
}

type postgresRepository struct {
	db            *sqlx.DB
	rateSlackHigh float64
	rateSlackLow  float64
}

// NewPostgresRepository creates the sqlx-backed repository. The slack
// factors widen the rate window of the candidate filter; scoring
// applies the exact formulas later.
func NewPostgresRepository(db *sqlx.DB, rateSlackHigh, rateSlackLow float64) Repository {
	return &postgresRepository{
		db:            db,
		rateSlackHigh: rateSlackHigh,
		rateSlackLow:  rateSlackLow,
	}
}

func (r *postgresRepository) GetLoanRequest(ctx context.Context, id int64) (*LoanRequest, error) {
	var req LoanRequest
	query := `
		SELECT id, borrower_id, amount, term_months, max_interest_rate,
		       purpose, status, credit_score, risk_category, created_at, updated_at
		FROM loan_requests
		WHERE id = $1
	`

	err := r.db.GetContext(ctx, &req, query, id)
	if err == sql.ErrNoRows {
		return nil, ErrLoanRequestNotFound
	}
	if err != nil {
		return nil, err
	}

	return &req, nil
}

// lendingOfferRow adds the array column sqlx cannot scan into the
// plain model.
type lendingOfferRow struct {
	LendingOffer
	Purposes pq.StringArray `db:"preferred_purposes"`
}

const lendingOfferColumns = `
	id, lender_id, min_amount, max_amount, min_term_months, max_term_months,
	min_interest_rate, status, min_credit_score, risk_tolerance,
	preferred_purposes, created_at, updated_at
`

func (r *postgresRepository) GetLendingOffer(ctx context.Context, id int64) (*LendingOffer, error) {
	var row lendingOfferRow
	query := `SELECT ` + lendingOfferColumns + ` FROM lending_offers WHERE id = $1`

	err := r.db.GetContext(ctx, &row, query, id)
	if err == sql.ErrNoRows {
		return nil, ErrLendingOfferNotFound
	}
	if err != nil {
		return nil, err
	}

	offer := row.LendingOffer
	offer.PreferredPurposes = []string(row.Purposes)
	return &offer, nil
}

func (r *postgresRepository) GetUser(ctx context.Context, id int64) (*User, error) {
	var user User
	query := `
		SELECT u.id, u.role,
		       NULLIF(TRIM(CONCAT_WS(', ', p.city, p.country)), '') AS location
		FROM users u
		LEFT JOIN user_profiles p ON p.user_id = u.id
		WHERE u.id = $1
	`

	err := r.db.GetContext(ctx, &user, query, id)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	return &user, nil
}

func (r *postgresRepository) GetUserAverageRating(ctx context.Context, userID int64) (float64, error) {
	var rating float64
	// 4.0 is the marketplace-wide default for unrated users
	query := `SELECT COALESCE(AVG(rating), 4.0) FROM user_ratings WHERE rated_user_id = $1`

	err := r.db.GetContext(ctx, &rating, query, userID)
	if err != nil {
		return 0, err
	}

	return rating, nil
}

func (r *postgresRepository) HasAcceptedConnection(ctx context.Context, userA, userB int64) (bool, error) {
	// Connections are stored with user1_id < user2_id
	if userA > userB {
		userA, userB = userB, userA
	}

	var exists bool
	query := `
		SELECT EXISTS(
			SELECT 1 FROM connections
			WHERE user1_id = $1 AND user2_id = $2 AND status = 'accepted'
		)
	`

	err := r.db.GetContext(ctx, &exists, query, userA, userB)
	return exists, err
}

func (r *postgresRepository) FindCompatibleOffers(ctx context.Context, req *LoanRequest, limit int) ([]*LendingOffer, error) {
	query := `
		SELECT ` + lendingOfferColumns + `
		FROM lending_offers
		WHERE status = $1
		  AND lender_id <> $2
		  AND min_amount <= $3 AND max_amount >= $3
		  AND min_term_months <= $4 AND max_term_months >= $4
		  AND (min_interest_rate IS NULL OR $5::numeric IS NULL OR min_interest_rate <= $5 * $6)
		ORDER BY created_at DESC
		LIMIT $7
	`

	rows, err := r.db.QueryxContext(ctx, query,
		StatusActive, req.BorrowerID, req.Amount, req.TermMonths,
		req.MaxInterestRate, r.rateSlackHigh, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var offers []*LendingOffer
	for rows.Next() {
		var row lendingOfferRow
		if err := rows.StructScan(&row); err != nil {
			return nil, err
		}
		offer := row.LendingOffer
		offer.PreferredPurposes = []string(row.Purposes)
		offers = append(offers, &offer)
	}

	return offers, rows.Err()
}

func (r *postgresRepository) FindCompatibleRequests(ctx context.Context, offer *LendingOffer, limit int) ([]*LoanRequest, error) {
	query := `
		SELECT id, borrower_id, amount, term_months, max_interest_rate,
		       purpose, status, credit_score, risk_category, created_at, updated_at
		FROM loan_requests
		WHERE status = $1
		  AND borrower_id <> $2
		  AND amount BETWEEN $3 AND $4
		  AND term_months BETWEEN $5 AND $6
		  AND ($7::numeric IS NULL OR max_interest_rate IS NULL OR max_interest_rate >= $7 * $8)
		ORDER BY created_at DESC
		LIMIT $9
	`

	rows, err := r.db.QueryxContext(ctx, query,
		StatusActive, offer.LenderID, offer.MinAmount, offer.MaxAmount,
		offer.MinTermMonths, offer.MaxTermMonths,
		offer.MinInterestRate, r.rateSlackLow, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []*LoanRequest
	for rows.Next() {
		var req LoanRequest
		if err := rows.StructScan(&req); err != nil {
			return nil, err
		}
		requests = append(requests, &req)
	}

	return requests, rows.Err()
}

func (r *postgresRepository) GetLoanRequestIDsByBorrower(ctx context.Context, borrowerID int64) ([]int64, error) {
	var ids []int64
	query := `SELECT id FROM loan_requests WHERE borrower_id = $1`

	err := r.db.SelectContext(ctx, &ids, query, borrowerID)
	return ids, err
}

func (r *postgresRepository) GetLendingOfferIDsByLender(ctx context.Context, lenderID int64) ([]int64, error) {
	var ids []int64
	query := `SELECT id FROM lending_offers WHERE lender_id = $1`

	err := r.db.SelectContext(ctx, &ids, query, lenderID)
	return ids, err
}

func (r *postgresRepository) ListActiveLoanRequests(ctx context.Context, limit int) ([]*LoanRequest, error) {
	var requests []*LoanRequest
	query := `
		SELECT id, borrower_id, amount, term_months, max_interest_rate,
		       purpose, status, credit_score, risk_category, created_at, updated_at
		FROM loan_requests
		WHERE status = $1
		ORDER BY updated_at DESC
		LIMIT $2
	`

	err := r.db.SelectContext(ctx, &requests, query, StatusActive, limit)
	return requests, err
}
