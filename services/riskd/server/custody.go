package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"fluxrisk/crypto"
)

// Custody exposes the settlement-asset balances backing liquidation bonuses
// and transfers.
type Custody interface {
	Asset() string
	Balance(addr crypto.Address) (uint64, error)
	Credit(addr crypto.Address, amount uint64) (uint64, error)
}

type creditRequest struct {
	Amount uint64 `json:"amount"`
}

type balanceResponse struct {
	Holder  crypto.Address `json:"holder"`
	Asset   string         `json:"asset"`
	Balance uint64         `json:"balance"`
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	holder, ok := holderParam(w, r)
	if !ok {
		return
	}
	balance, err := s.custody.Balance(holder)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Holder: holder, Asset: s.custody.Asset(), Balance: balance})
}

func (s *Server) handleCredit(w http.ResponseWriter, r *http.Request) {
	holder, ok := holderParam(w, r)
	if !ok {
		return
	}
	var req creditRequest
	if err := decodeJSON(r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	balance, err := s.custody.Credit(holder, req.Amount)
	s.metrics.RecordOperation("credit", err)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Holder: holder, Asset: s.custody.Asset(), Balance: balance})
}

// holderParam accepts both user and vault addresses.
func holderParam(w http.ResponseWriter, r *http.Request) (crypto.Address, bool) {
	addr, err := crypto.DecodeAddress(chi.URLParam(r, "addr"))
	if err != nil || addr.IsZero() {
		writeProblem(w, http.StatusBadRequest, "invalid_request", "invalid holder address")
		return crypto.Address{}, false
	}
	return addr, true
}
