package matching

import (
	"fmt"
	"math"
	"strings"
)

// Criterion weights. The total score is the convex combination of the
// nine criterion scores, so the weights must sum to 1.0.
type Weights struct {
	LoanAmount          float64
	InterestRate        float64
	LoanTerm            float64
	CreditScore         float64
	UserRating          float64
	GeographicProximity float64
	PreviousHistory     float64
	RiskTolerance       float64
	LoanPurpose         float64
}

// DefaultWeights returns the production weighting of the nine criteria.
func DefaultWeights() Weights {
	return Weights{
		LoanAmount:          0.25,
		InterestRate:        0.20,
		LoanTerm:            0.15,
		CreditScore:         0.15,
		UserRating:          0.10,
		GeographicProximity: 0.05,
		PreviousHistory:     0.05,
		RiskTolerance:       0.03,
		LoanPurpose:         0.02,
	}
}

func (w Weights) sum() float64 {
	return w.LoanAmount + w.InterestRate + w.LoanTerm + w.CreditScore +
		w.UserRating + w.GeographicProximity + w.PreviousHistory +
		w.RiskTolerance + w.LoanPurpose
}

const (
	weightSumTolerance = 0.01

	// Fallback annual rate when neither side states one
	defaultInterestRate = 8.5
	minSuggestedRate    = 3.0
	maxSuggestedRate    = 25.0
)

// riskMatrix maps (borrower risk category, lender risk tolerance) to a
// compatibility score. Unmapped combinations score neutral 0.5.
var riskMatrix = map[[2]string]float64{
	{RiskLow, RiskHigh}:      1.0,
	{RiskLow, RiskMedium}:    0.8,
	{RiskLow, RiskLow}:       0.6,
	{RiskMedium, RiskHigh}:   0.9,
	{RiskMedium, RiskMedium}: 1.0,
	{RiskMedium, RiskLow}:    0.4,
	{RiskHigh, RiskHigh}:     1.0,
	{RiskHigh, RiskMedium}:   0.5,
	{RiskHigh, RiskLow}:      0.1,
}

// ScoringInput is one fully-resolved (request, offer, borrower, lender)
// tuple. Ratings and the prior-connection flag are pre-fetched so the
// scorer stays a pure function.
type ScoringInput struct {
	Request *LoanRequest
	Offer   *LendingOffer

	BorrowerRating   float64 // 0-5, default 4.0 for unrated users
	LenderRating     float64
	BorrowerLocation *string
	LenderLocation   *string

	HasPriorConnection bool
}

// ScoringEngine computes match scores for request/offer pairs. It holds
// no mutable state and is safe for concurrent use.
type ScoringEngine struct {
	weights Weights
}

// NewScoringEngine validates the weights and builds a scoring engine.
// A weight set that does not sum to 1.0 is a configuration error and
// must fail at startup, not per call.
func NewScoringEngine(weights Weights) (*ScoringEngine, error) {
	if diff := math.Abs(weights.sum() - 1.0); diff > weightSumTolerance {
		return nil, fmt.Errorf("criterion weights must sum to 1.0 (got %.4f)", weights.sum())
	}
	return &ScoringEngine{weights: weights}, nil
}

// Score computes the full MatchScore for one pair. Deterministic given
// identical inputs; performs no I/O.
func (e *ScoringEngine) Score(in *ScoringInput) MatchScore {
	criteria := CriteriaScores{
		LoanAmount:          amountScore(in.Request.Amount, in.Offer.MinAmount, in.Offer.MaxAmount),
		InterestRate:        interestRateScore(in.Request.MaxInterestRate, in.Offer.MinInterestRate),
		LoanTerm:            termScore(in.Request.TermMonths, in.Offer.MinTermMonths, in.Offer.MaxTermMonths),
		CreditScore:         creditScore(in.Request.CreditScore, in.Offer.MinCreditScore),
		UserRating:          ratingScore(in.BorrowerRating, in.LenderRating),
		GeographicProximity: proximityScore(in.BorrowerLocation, in.LenderLocation),
		PreviousHistory:     historyScore(in.HasPriorConnection),
		RiskTolerance:       riskToleranceScore(in.Request.RiskCategory, in.Offer.RiskTolerance),
		LoanPurpose:         purposeScore(in.Request.Purpose, in.Offer.PreferredPurposes),
	}

	total := round3(e.weightedTotal(criteria))
	confidence := confidenceLevel(total)

	return MatchScore{
		TotalScore:             total,
		CriteriaScores:         criteria,
		ConfidenceLevel:        confidence,
		RiskAssessment:         riskAssessment(criteria, in.BorrowerRating),
		RecommendationStrength: recommendationStrength(total, confidence),
	}
}

func (e *ScoringEngine) weightedTotal(c CriteriaScores) float64 {
	w := e.weights
	return c.LoanAmount*w.LoanAmount +
		c.InterestRate*w.InterestRate +
		c.LoanTerm*w.LoanTerm +
		c.CreditScore*w.CreditScore +
		c.UserRating*w.UserRating +
		c.GeographicProximity*w.GeographicProximity +
		c.PreviousHistory*w.PreviousHistory +
		c.RiskTolerance*w.RiskTolerance +
		c.LoanPurpose*w.LoanPurpose
}

// amountScore is 1.0 inside [min, max] and decays linearly with the
// overshoot relative to the violated boundary.
func amountScore(amount, minAmount, maxAmount float64) float64 {
	switch {
	case amount >= minAmount && amount <= maxAmount:
		return 1.0
	case amount < minAmount && minAmount > 0:
		return clamp01(1.0 - (minAmount-amount)/minAmount)
	case amount > maxAmount && maxAmount > 0:
		return clamp01(1.0 - (amount-maxAmount)/maxAmount)
	default:
		return 0.0
	}
}

func interestRateScore(borrowerMax, lenderMin *float64) float64 {
	if borrowerMax == nil || lenderMin == nil {
		return 0.7
	}

	bMax, lMin := *borrowerMax, *lenderMin
	if bMax <= 0 {
		return 0.7
	}

	if bMax >= lMin {
		overlap := bMax - lMin
		return math.Min(1.0, 0.7+(overlap/bMax)*0.3)
	}

	gap := lMin - bMax
	return math.Max(0.0, 0.5-gap/bMax)
}

func termScore(termMonths, minTerm, maxTerm int) float64 {
	term := float64(termMonths)
	lo, hi := float64(minTerm), float64(maxTerm)

	switch {
	case term >= lo && term <= hi:
		return 1.0
	case term < lo && lo > 0:
		return clamp01(1.0 - (lo-term)/lo)
	case term > hi && hi > 0:
		return clamp01(1.0 - (term-hi)/hi)
	default:
		return 0.0
	}
}

func creditScore(borrowerScore, requiredScore *int) float64 {
	if borrowerScore == nil || requiredScore == nil {
		return 0.6
	}

	score, required := float64(*borrowerScore), float64(*requiredScore)
	if score >= required {
		excess := score - required
		return math.Min(1.0, 0.8+(excess/100)*0.2)
	}

	gap := required - score
	return math.Max(0.0, 0.8-(gap/100)*0.8)
}

// ratingScore normalizes the average of both 0-5 ratings into [0,1].
func ratingScore(borrowerRating, lenderRating float64) float64 {
	return clamp01((borrowerRating + lenderRating) / 2 / 5.0)
}

func proximityScore(a, b *string) float64 {
	if a == nil || b == nil || *a == "" || *b == "" {
		return 0.5
	}

	locA := strings.ToLower(strings.TrimSpace(*a))
	locB := strings.ToLower(strings.TrimSpace(*b))
	if locA == locB {
		return 1.0
	}

	if tokenOverlap(locA, locB) {
		return 0.7
	}
	return 0.3
}

// tokenOverlap reports whether any location token is shared, e.g.
// "Lagos, Nigeria" and "Abuja, Nigeria" overlap on the country.
func tokenOverlap(a, b string) bool {
	seen := make(map[string]bool)
	for _, tok := range strings.FieldsFunc(a, isLocationSeparator) {
		if tok != "" {
			seen[tok] = true
		}
	}
	for _, tok := range strings.FieldsFunc(b, isLocationSeparator) {
		if tok != "" && seen[tok] {
			return true
		}
	}
	return false
}

func isLocationSeparator(r rune) bool {
	return r == ' ' || r == ',' || r == '\t'
}

func historyScore(hasPriorConnection bool) float64 {
	if hasPriorConnection {
		return 1.0
	}
	return 0.5
}

func riskToleranceScore(borrowerRisk, lenderTolerance *string) float64 {
	if borrowerRisk == nil || lenderTolerance == nil {
		return 0.5
	}

	key := [2]string{strings.ToLower(*borrowerRisk), strings.ToLower(*lenderTolerance)}
	if score, ok := riskMatrix[key]; ok {
		return score
	}
	return 0.5
}

func purposeScore(purpose string, preferred []string) float64 {
	if len(preferred) == 0 {
		return 0.8
	}

	for _, p := range preferred {
		if strings.EqualFold(p, purpose) {
			return 1.0
		}
	}
	return 0.3
}

func confidenceLevel(total float64) string {
	switch {
	case total >= 0.85:
		return ConfidenceVeryHigh
	case total >= 0.75:
		return ConfidenceHigh
	case total >= 0.65:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// riskAssessment blends the credit and rating criteria; a strong blend
// alone is not enough, the borrower's own rating gates each bucket.
func riskAssessment(c CriteriaScores, borrowerRating float64) string {
	riskScore := 0.6*c.CreditScore + 0.4*c.UserRating

	switch {
	case riskScore >= 0.8 && borrowerRating >= 4.5:
		return RiskLow
	case riskScore >= 0.6 && borrowerRating >= 3.5:
		return RiskMedium
	default:
		return RiskHigh
	}
}

func recommendationStrength(total float64, confidence string) string {
	switch {
	case total >= 0.8 && (confidence == ConfidenceHigh || confidence == ConfidenceVeryHigh):
		return RecommendationStrong
	case total >= 0.7 && confidence != ConfidenceLow:
		return RecommendationModerate
	default:
		return RecommendationWeak
	}
}

// reasonChecks are evaluated in priority order; the first three that
// clear the bar become the match reasons.
var reasonChecks = []struct {
	score  func(CriteriaScores) float64
	reason string
}{
	{func(c CriteriaScores) float64 { return c.LoanAmount }, "Requested amount fits comfortably within the lender's range"},
	{func(c CriteriaScores) float64 { return c.InterestRate }, "Interest rate expectations are well aligned"},
	{func(c CriteriaScores) float64 { return c.UserRating }, "Both parties have excellent marketplace ratings"},
	{func(c CriteriaScores) float64 { return c.PreviousHistory }, "Previous successful relationship between these users"},
	{func(c CriteriaScores) float64 { return c.GeographicProximity }, "Borrower and lender are in the same area"},
}

const maxMatchReasons = 3

// MatchReasons produces up to three human-readable reasons for a match.
func MatchReasons(c CriteriaScores) []string {
	var reasons []string
	for _, check := range reasonChecks {
		if check.score(c) > 0.8 {
			reasons = append(reasons, check.reason)
			if len(reasons) == maxMatchReasons {
				break
			}
		}
	}

	if len(reasons) == 0 {
		reasons = append(reasons, "Good overall compatibility across matching criteria")
	}
	return reasons
}

// SuggestTerms proposes concrete terms for a scored pair. The rate
// starts from the midpoint of both sides' constraints and improves
// slightly for stronger matches.
func SuggestTerms(in *ScoringInput, totalScore float64) SuggestedTerms {
	borrowerMax := in.Request.MaxInterestRate
	lenderMin := in.Offer.MinInterestRate

	var rate float64
	switch {
	case borrowerMax != nil && lenderMin != nil:
		rate = (*borrowerMax + *lenderMin) / 2
	case borrowerMax != nil:
		rate = *borrowerMax
	case lenderMin != nil:
		rate = *lenderMin
	default:
		rate = defaultInterestRate
	}

	rate -= (totalScore - 0.7) * 2
	rate = math.Max(minSuggestedRate, math.Min(maxSuggestedRate, rate))
	rate = round2(rate)

	return SuggestedTerms{
		Amount:         in.Request.Amount,
		InterestRate:   rate,
		TermMonths:     in.Request.TermMonths,
		MonthlyPayment: MonthlyPayment(in.Request.Amount, rate, in.Request.TermMonths),
	}
}

// MonthlyPayment computes the standard amortizing-loan installment
// P = A*r / (1 - (1+r)^-n) for an annual percentage rate.
func MonthlyPayment(amount, annualRate float64, termMonths int) float64 {
	if termMonths <= 0 {
		return 0
	}

	monthlyRate := annualRate / 100 / 12
	if monthlyRate == 0 {
		return round2(amount / float64(termMonths))
	}

	payment := amount * monthlyRate / (1 - math.Pow(1+monthlyRate, -float64(termMonths)))
	return round2(payment)
}

// ApprovalProbability estimates how likely funding is, driven by the
// total score and nudged by both parties' reputations.
func ApprovalProbability(totalScore, borrowerRating, lenderRating float64) float64 {
	p := totalScore*0.7 + ((borrowerRating+lenderRating)/2-3.0)*0.1
	return math.Max(0.05, math.Min(0.95, p))
}

func clamp01(v float64) float64 {
	return math.Max(0.0, math.Min(1.0, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
