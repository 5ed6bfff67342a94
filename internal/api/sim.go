package api

import (
	"encoding/json"
	"net/http"

	"github.com/shopspring/decimal"

	apperrors "github.com/exchange/lob/pkg/errors"
	"github.com/exchange/lob/pkg/response"
)

type SimUpdateRequest struct {
	BatchSize *int             `json:"batchSize,omitempty"`
	BasePrice *decimal.Decimal `json:"basePrice,omitempty"`
}

func (s *Server) simulator(w http.ResponseWriter, r *http.Request) bool {
	if s.sim == nil {
		response.WriteError(w, r, apperrors.New(apperrors.CodeUnavailable, "simulator disabled"))
		return false
	}
	return true
}

func (s *Server) handleSimStatus(w http.ResponseWriter, r *http.Request) {
	if !s.simulator(w, r) {
		return
	}
	response.WriteJSON(w, http.StatusOK, s.sim.Status())
}

func (s *Server) handleSimStart(w http.ResponseWriter, r *http.Request) {
	if !s.simulator(w, r) {
		return
	}
	s.sim.Resume()
	response.WriteJSON(w, http.StatusOK, s.sim.Status())
}

func (s *Server) handleSimStop(w http.ResponseWriter, r *http.Request) {
	if !s.simulator(w, r) {
		return
	}
	s.sim.Pause()
	response.WriteJSON(w, http.StatusOK, s.sim.Status())
}

func (s *Server) handleSimUpdate(w http.ResponseWriter, r *http.Request) {
	if !s.simulator(w, r) {
		return
	}
	var req SimUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteError(w, r, apperrors.Newf(apperrors.CodeInvalidRequest, "malformed body: %v", err))
		return
	}
	if req.BatchSize != nil && *req.BatchSize <= 0 {
		response.WriteError(w, r, apperrors.Newf(apperrors.CodeInvalidParam, "batchSize must be positive, got %d", *req.BatchSize))
		return
	}
	var base int64
	if req.BasePrice != nil {
		ticks, err := s.pricer.Ticks(*req.BasePrice)
		if err != nil || ticks <= 0 {
			response.WriteError(w, r, apperrors.Newf(apperrors.CodeInvalidPrice, "invalid basePrice %s", req.BasePrice.String()))
			return
		}
		base = ticks
	}

	if req.BatchSize != nil {
		s.sim.SetBatchSize(*req.BatchSize)
	}
	if base > 0 {
		s.sim.SetBasePrice(base)
	}
	response.WriteJSON(w, http.StatusOK, s.sim.Status())
}
