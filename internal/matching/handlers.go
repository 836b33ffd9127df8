package matching

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/peerfund/peerfund-backend/internal/common/utils"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) GetBorrowerMatches(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	requestID, err := strconv.ParseInt(vars["requestId"], 10, 64)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid loan request ID")
		return
	}

	matches, err := h.service.FindMatchesForBorrower(r.Context(), requestID, parseLimit(r))
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to find matches")
		return
	}

	utils.RespondWithData(w, http.StatusOK, MatchListResponse{Matches: matches, Count: len(matches)})
}

func (h *Handler) GetLenderMatches(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	offerID, err := strconv.ParseInt(vars["offerId"], 10, 64)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid lending offer ID")
		return
	}

	matches, err := h.service.FindMatchesForLender(r.Context(), offerID, parseLimit(r))
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to find matches")
		return
	}

	utils.RespondWithData(w, http.StatusOK, MatchListResponse{Matches: matches, Count: len(matches)})
}

func (h *Handler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	var dto InvalidateCacheDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if err := utils.ValidateStruct(dto); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.service.InvalidateMatchesCache(r.Context(), dto.UserID, dto.MatchType); err != nil {
		if err == ErrInvalidMatchType {
			utils.RespondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to invalidate cache")
		return
	}

	utils.RespondWithMessage(w, http.StatusOK, "Match cache invalidated")
}

// parseLimit reads the optional ?limit= query parameter. The service
// clamps it to the configured maximum.
func parseLimit(r *http.Request) int {
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			return limit
		}
	}
	return 0
}
