package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"fluxrisk/native/oracle"
)

// PriceFeed accepts operator-supplied quotes.
type PriceFeed interface {
	Set(asset string, q oracle.Quote) error
}

type priceRequest struct {
	Price     uint64 `json:"price"`
	Decimals  uint8  `json:"decimals"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Source    string `json:"source,omitempty"`
}

func (s *Server) handleSetPrice(w http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		writeProblem(w, http.StatusServiceUnavailable, "unavailable", "price feed is read-only")
		return
	}
	asset := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "asset")))
	var req priceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	quote := oracle.Quote{Price: req.Price, Decimals: req.Decimals, Timestamp: req.Timestamp, Source: req.Source}
	if quote.Timestamp == 0 {
		quote.Timestamp = s.clock.Now()
	}
	if err := s.feed.Set(asset, quote); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"asset":     asset,
		"price":     quote.Price,
		"decimals":  quote.Decimals,
		"timestamp": quote.Timestamp,
	})
}
