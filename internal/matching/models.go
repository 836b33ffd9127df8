package matching

import "time"

// Listing statuses
const (
	StatusActive = "active"
	StatusClosed = "closed"
)

// Risk categories and tolerances share one vocabulary
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// Confidence levels derived from the total score
const (
	ConfidenceVeryHigh = "very_high"
	ConfidenceHigh     = "high"
	ConfidenceMedium   = "medium"
	ConfidenceLow      = "low"
)

// Recommendation strengths
const (
	RecommendationStrong   = "strong"
	RecommendationModerate = "moderate"
	RecommendationWeak     = "weak"
)

// LoanRequest is a borrower's posted ask for funds. Owned by the
// listings service; read-only here.
type LoanRequest struct {
	ID              int64     `json:"id" db:"id"`
	BorrowerID      int64     `json:"borrower_id" db:"borrower_id"`
	Amount          float64   `json:"amount" db:"amount"`
	TermMonths      int       `json:"term_months" db:"term_months"`
	MaxInterestRate *float64  `json:"max_interest_rate,omitempty" db:"max_interest_rate"`
	Purpose         string    `json:"purpose" db:"purpose"`
	Status          string    `json:"status" db:"status"`
	CreditScore     *int      `json:"credit_score,omitempty" db:"credit_score"`
	RiskCategory    *string   `json:"risk_category,omitempty" db:"risk_category"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// LendingOffer is a lender's posted capacity. Owned by the listings
// service; read-only here.
type LendingOffer struct {
	ID                int64     `json:"id" db:"id"`
	LenderID          int64     `json:"lender_id" db:"lender_id"`
	MinAmount         float64   `json:"min_amount" db:"min_amount"`
	MaxAmount         float64   `json:"max_amount" db:"max_amount"`
	MinTermMonths     int       `json:"min_term_months" db:"min_term_months"`
	MaxTermMonths     int       `json:"max_term_months" db:"max_term_months"`
	MinInterestRate   *float64  `json:"min_interest_rate,omitempty" db:"min_interest_rate"`
	Status            string    `json:"status" db:"status"`
	MinCreditScore    *int      `json:"min_credit_score,omitempty" db:"min_credit_score"`
	RiskTolerance     *string   `json:"risk_tolerance,omitempty" db:"risk_tolerance"`
	PreferredPurposes []string  `json:"preferred_purposes,omitempty" db:"-"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

// User carries the profile fields the scorer needs. Location is the
// profile's "city, country" composite, nil when the profile has no
// location on file.
type User struct {
	ID       int64   `json:"id" db:"id"`
	Role     string  `json:"role" db:"role"` // borrower, lender or both
	Location *string `json:"location,omitempty" db:"location"`
}

// CriteriaScores holds the nine normalized [0,1] sub-scores that make
// up a match score.
type CriteriaScores struct {
	LoanAmount           float64 `json:"loan_amount"`
	InterestRate         float64 `json:"interest_rate"`
	LoanTerm             float64 `json:"loan_term"`
	CreditScore          float64 `json:"credit_score"`
	UserRating           float64 `json:"user_rating"`
	GeographicProximity  float64 `json:"geographic_proximity"`
	PreviousHistory      float64 `json:"previous_history"`
	RiskTolerance        float64 `json:"risk_tolerance"`
	LoanPurpose          float64 `json:"loan_purpose"`
}

// MatchScore is the full scoring result for one request/offer pair
type MatchScore struct {
	TotalScore             float64        `json:"total_score"`
	CriteriaScores         CriteriaScores `json:"criteria_scores"`
	ConfidenceLevel        string         `json:"confidence_level"`
	RiskAssessment         string         `json:"risk_assessment"`
	RecommendationStrength string         `json:"recommendation_strength"`
}

// SuggestedTerms are the engine's proposed terms for a match
type SuggestedTerms struct {
	Amount         float64 `json:"amount"`
	InterestRate   float64 `json:"interest_rate"`
	TermMonths     int     `json:"term_months"`
	MonthlyPayment float64 `json:"monthly_payment"`
}

// LoanMatch is a scored compatibility between one loan request and one
// lending offer. Ephemeral: cached with a TTL, never persisted.
type LoanMatch struct {
	BorrowerID                   int64          `json:"borrower_id"`
	LenderID                     int64          `json:"lender_id"`
	LoanRequestID                int64          `json:"loan_request_id"`
	LendingOfferID               int64          `json:"lending_offer_id"`
	MatchScore                   MatchScore     `json:"match_score"`
	EstimatedApprovalProbability float64        `json:"estimated_approval_probability"`
	SuggestedTerms               SuggestedTerms `json:"suggested_terms"`
	MatchReasons                 []string       `json:"match_reasons"`
}
