// internal/matching/dto.go
package matching

// DTOs for API requests/responses

type InvalidateCacheDTO struct {
	UserID    int64  `json:"user_id" validate:"required,gt=0"`
	MatchType string `json:"match_type" validate:"required,oneof=all borrower lender"`
}

type MatchListResponse struct {
	Matches []*LoanMatch `json:"matches"`
	Count   int          `json:"count"`
}
