package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"conviction-lab/internal/analysis"
	"conviction-lab/internal/domain"
	"conviction-lab/internal/ingestion"
	"conviction-lab/internal/storage"
)

// Leaderboard paging bounds.
const (
	DefaultLeaderboardLimit = 20
	MaxLeaderboardLimit     = 100
)

// maxBodyBytes caps request bodies; /v1/score carries full positions.
const maxBodyBytes = 8 << 20

type walletRequest struct {
	Address         string  `json:"address"`
	Chain           string  `json:"chain"`
	TimeHorizonDays int     `json:"timeHorizonDays"`
	MinTradeValue   float64 `json:"minTradeValue"`
}

func (r *walletRequest) validate() (domain.Chain, error) {
	chain, err := domain.ParseChain(r.Chain)
	if err != nil {
		return "", err
	}
	if r.Address == "" {
		return "", errors.New("address is required")
	}
	if r.TimeHorizonDays < 0 {
		return "", errors.New("timeHorizonDays must not be negative")
	}
	if r.MinTradeValue < 0 {
		return "", errors.New("minTradeValue must not be negative")
	}
	if err := ingestion.ValidateAddress(chain, r.Address); err != nil {
		return "", err
	}
	return chain, nil
}

type ingestResponse struct {
	Transactions []*domain.Trade      `json:"transactions"`
	Count        int                  `json:"count"`
	Quality      domain.QualityReport `json:"quality"`
	Attempts     []ingestion.Attempt  `json:"attempts,omitempty"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req walletRequest
	if !decode(w, r, &req) {
		return
	}
	chain, err := req.validate()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.opts.Ingester.Ingest(r.Context(), ingestion.Request{
		Address:          req.Address,
		Chain:            chain,
		LookbackDays:     req.TimeHorizonDays,
		MinTradeValueUSD: req.MinTradeValue,
	})
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ingestResponse{
		Transactions: res.Trades,
		Count:        len(res.Trades),
		Quality:      res.Quality,
		Attempts:     res.Attempts,
	})
}

type scoreRequest struct {
	Positions       []*domain.Position `json:"positions"`
	Chain           string             `json:"chain"`
	ReputationScore *float64           `json:"reputationScore,omitempty"`
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if !decode(w, r, &req) {
		return
	}
	chain, err := domain.ParseChain(req.Chain)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for i, p := range req.Positions {
		if err := validatePosition(p); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("positions[%d]: %v", i, err))
			return
		}
	}

	res, err := s.opts.Analyzer.ScorePositions(r.Context(), analysis.ScoreRequest{
		Positions:       req.Positions,
		Chain:           chain,
		ReputationScore: req.ReputationScore,
	})
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// validatePosition rejects positions the aggregator cannot rebuild. A trade's
// side, when given, must match the list it appears in.
func validatePosition(p *domain.Position) error {
	if p == nil || p.TokenAddress == "" {
		return errors.New("tokenAddress is required")
	}
	check := func(list string, trades []*domain.Trade, side domain.Side) error {
		for j, t := range trades {
			if t == nil {
				return fmt.Errorf("%s[%d]: trade is required", list, j)
			}
			if t.Side != "" && t.Side != side {
				return fmt.Errorf("%s[%d]: side %q does not match %s", list, j, t.Side, list)
			}
		}
		return nil
	}
	if err := check("entries", p.Entries, domain.SideBuy); err != nil {
		return err
	}
	return check("exits", p.Exits, domain.SideSell)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req walletRequest
	if !decode(w, r, &req) {
		return
	}
	chain, err := req.validate()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := s.opts.Analyzer.AnalyzeWallet(r.Context(), analysis.Request{
		Address:          req.Address,
		Chain:            chain,
		TimeHorizonDays:  req.TimeHorizonDays,
		MinTradeValueUSD: req.MinTradeValue,
	})
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type leaderboardEntry struct {
	Rank         int                      `json:"rank"`
	Address      string                   `json:"address"`
	SnapshotDate string                   `json:"snapshotDate"`
	Metrics      domain.ConvictionMetrics `json:"metrics"`
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	chain, err := domain.ParseChain(q.Get("chain"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	horizon, err := intParam(q.Get("horizon"), ingestion.DefaultLookbackDays)
	if err != nil || horizon <= 0 {
		writeError(w, http.StatusBadRequest, "horizon must be a positive integer")
		return
	}
	limit, err := intParam(q.Get("limit"), DefaultLeaderboardLimit)
	if err != nil || limit <= 0 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	limit = min(limit, MaxLeaderboardLimit)

	snaps, err := s.opts.Analyzer.Leaderboard(r.Context(), chain, horizon, limit)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "leaderboard unavailable")
		return
	}
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	entries := make([]leaderboardEntry, 0, len(snaps))
	for i, snap := range snaps {
		entries = append(entries, leaderboardEntry{
			Rank:         i + 1,
			Address:      snap.Address,
			SnapshotDate: snap.SnapshotDate,
			Metrics:      snap.Metrics,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"chain":           chain,
		"timeHorizonDays": horizon,
		"entries":         entries,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeFailure maps pipeline errors to status codes. Ingestion failure is
// reported as 502 so callers never mistake it for an empty history.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	log := s.logger.With().Str("request_id", RequestID(r.Context())).Str("path", r.URL.Path).Logger()
	switch {
	case errors.Is(err, ingestion.ErrInvalidAddress):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ingestion.ErrAllProvidersExhausted):
		log.Warn().Err(err).Msg("ingestion failed")
		writeError(w, http.StatusBadGateway, "ingestion failed")
	case errors.Is(err, context.DeadlineExceeded):
		log.Warn().Err(err).Msg("request timed out")
		writeError(w, http.StatusGatewayTimeout, "request timed out")
	default:
		log.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
