package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/edison-alpha/backendmome/internal/service"
)

// handleGlobalActivity handles GET /api/activity
func (s *Server) handleGlobalActivity(w http.ResponseWriter, r *http.Request) {
	limit, err := service.ParseLimit(r.URL.Query().Get("limit"), service.DefaultActivityLimit, service.MaxActivityLimit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	result, err := s.activity.GetGlobalActivity(r.Context(), limit)
	respondResult(w, r, result, err)
}

// handleRaffleActivity handles GET /api/activity/raffle/{raffleId}
func (s *Server) handleRaffleActivity(w http.ResponseWriter, r *http.Request) {
	raffleID, err := service.ParseRaffleID(mux.Vars(r)["raffleId"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	limit, err := service.ParseLimit(r.URL.Query().Get("limit"), service.DefaultActivityLimit, service.MaxActivityLimit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	result, err := s.activity.GetRaffleActivity(r.Context(), raffleID, limit)
	respondResult(w, r, result, err)
}

// handleUserActivity handles GET /api/activity/user/{address}
func (s *Server) handleUserActivity(w http.ResponseWriter, r *http.Request) {
	address, err := service.NormalizeAddress(mux.Vars(r)["address"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	limit, err := service.ParseLimit(r.URL.Query().Get("limit"), service.DefaultActivityLimit, service.MaxActivityLimit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	result, err := s.activity.GetUserActivity(r.Context(), address, limit)
	respondResult(w, r, result, err)
}

// handleGlobalLeaderboard handles GET /api/leaderboard
func (s *Server) handleGlobalLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, err := service.ParseLimit(r.URL.Query().Get("limit"), service.DefaultLeaderboardLimit, service.MaxLeaderboardLimit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	result, err := s.activity.GetGlobalLeaderboard(r.Context(), limit)
	respondResult(w, r, result, err)
}

// handleRaffleLeaderboard handles GET /api/leaderboard/raffle/{raffleId}
func (s *Server) handleRaffleLeaderboard(w http.ResponseWriter, r *http.Request) {
	raffleID, err := service.ParseRaffleID(mux.Vars(r)["raffleId"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	limit, err := service.ParseLimit(r.URL.Query().Get("limit"), service.DefaultLeaderboardLimit, service.MaxLeaderboardLimit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	result, err := s.activity.GetRaffleLeaderboard(r.Context(), raffleID, limit)
	respondResult(w, r, result, err)
}

// handlePlatformStats handles GET /api/stats
func (s *Server) handlePlatformStats(w http.ResponseWriter, r *http.Request) {
	result, err := s.activity.GetPlatformStats(r.Context())
	respondResult(w, r, result, err)
}

// handleRaffleStats handles GET /api/stats/raffle/{raffleId}
func (s *Server) handleRaffleStats(w http.ResponseWriter, r *http.Request) {
	raffleID, err := service.ParseRaffleID(mux.Vars(r)["raffleId"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	result, err := s.activity.GetRaffleStats(r.Context(), raffleID)
	respondResult(w, r, result, err)
}
