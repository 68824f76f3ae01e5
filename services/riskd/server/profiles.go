package server

import (
	"encoding/hex"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"fluxrisk/crypto"
	nativecommon "fluxrisk/native/common"
	"fluxrisk/native/compliance"
	"fluxrisk/services/riskd/audit"
)

type actionView struct {
	Kind      string `json:"kind"`
	Amount    uint64 `json:"amount"`
	Timestamp int64  `json:"timestamp"`
	Tag       string `json:"tag"`
}

type profileView struct {
	Owner                 crypto.Address `json:"owner"`
	ReputationScore       uint8          `json:"reputationScore"`
	ActiveLoanCount       uint32         `json:"activeLoanCount"`
	TotalBorrowedLifetime uint64         `json:"totalBorrowedLifetime"`
	TotalRepaidLifetime   uint64         `json:"totalRepaidLifetime"`
	LiquidationCount      uint16         `json:"liquidationCount"`
	LastActiveTime        int64          `json:"lastActiveTime"`
	Role                  string         `json:"role"`
	KYCVerified           bool           `json:"kycVerified"`
	AMLFlagged            bool           `json:"amlFlagged"`
	CountryCode           string         `json:"countryCode,omitempty"`
}

func newProfileView(p *compliance.UserProfile) *profileView {
	if p == nil {
		return nil
	}
	view := &profileView{
		Owner:                 p.Owner,
		ReputationScore:       p.ReputationScore,
		ActiveLoanCount:       p.ActiveLoanCount,
		TotalBorrowedLifetime: p.TotalBorrowedLifetime,
		TotalRepaidLifetime:   p.TotalRepaidLifetime,
		LiquidationCount:      p.LiquidationCount,
		LastActiveTime:        p.LastActiveTime,
		Role:                  p.Role.String(),
		KYCVerified:           p.KYCVerified,
		AMLFlagged:            p.AMLFlagged,
	}
	if p.CountryCode != ([2]byte{}) {
		view.CountryCode = string(p.CountryCode[:])
	}
	return view
}

func newActionViews(records []compliance.ActionRecord) []actionView {
	out := make([]actionView, 0, len(records))
	for _, record := range records {
		out = append(out, actionView{
			Kind:      record.Kind.String(),
			Amount:    record.Amount,
			Timestamp: record.Timestamp,
			Tag:       hex.EncodeToString(record.Tag[:]),
		})
	}
	return out
}

type profileUpdateRequest struct {
	KYCVerified *bool   `json:"kycVerified,omitempty"`
	AMLFlagged  *bool   `json:"amlFlagged,omitempty"`
	Role        *string `json:"role,omitempty"`
	CountryCode *string `json:"countryCode,omitempty"`
}

type transferRequest struct {
	To     crypto.Address `json:"to"`
	Amount uint64         `json:"amount"`
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	owner, ok := userParam(w, r)
	if !ok {
		return
	}
	profile, err := s.compliance.Profile(owner)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newProfileView(profile))
}

func (s *Server) handleEligibility(w http.ResponseWriter, r *http.Request) {
	owner, ok := userParam(w, r)
	if !ok {
		return
	}
	eligibility, err := s.compliance.Eligibility(owner)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eligibility)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	owner, ok := userParam(w, r)
	if !ok {
		return
	}
	history, err := s.compliance.History(owner)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newActionViews(history))
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	from, ok := userParam(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if err := decodeJSON(r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.To.IsZero() {
		writeProblem(w, http.StatusBadRequest, "invalid_request", "recipient required")
		return
	}
	profile, err := s.compliance.Transfer(r.Context(), from, req.To, req.Amount)
	s.metrics.RecordOperation("transfer", err)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newProfileView(profile))
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	owner, ok := userParam(w, r)
	if !ok {
		return
	}
	var req profileUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	update := compliance.ProfileUpdate{
		KYCVerified: req.KYCVerified,
		AMLFlagged:  req.AMLFlagged,
		CountryCode: req.CountryCode,
	}
	if req.Role != nil {
		role, err := compliance.ParseRole(*req.Role)
		if err != nil {
			writeProblem(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		update.Role = &role
	}
	if _, err := s.compliance.Register(owner); err != nil {
		s.fail(w, r, err)
		return
	}
	profile, err := s.compliance.UpdateProfile(owner, update)
	if err != nil {
		if nativecommon.KindOf(err) == nativecommon.KindUnknown {
			writeProblem(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newProfileView(profile))
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeProblem(w, http.StatusServiceUnavailable, "unavailable", "audit journal disabled")
		return
	}
	query := audit.Query{
		Type:    r.URL.Query().Get("type"),
		Subject: r.URL.Query().Get("subject"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeProblem(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		query.Limit = limit
	}
	entries, err := s.journal.Recent(r.Context(), query)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func userParam(w http.ResponseWriter, r *http.Request) (crypto.Address, bool) {
	addr, err := crypto.DecodeAddress(chi.URLParam(r, "addr"))
	if err != nil || addr.Prefix() != crypto.UserPrefix {
		writeProblem(w, http.StatusBadRequest, "invalid_request", "invalid user address")
		return crypto.Address{}, false
	}
	return addr, true
}
