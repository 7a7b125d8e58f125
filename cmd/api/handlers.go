package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcclellann/loanLedger/pkg/auth"
	"github.com/mcclellann/loanLedger/pkg/ledger"
	"github.com/mcclellann/loanLedger/pkg/models"
	"github.com/mcclellann/loanLedger/pkg/notify"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Server holds the ledger and the collaborators the HTTP layer needs.
type Server struct {
	ledger   *ledger.Ledger
	verifier *auth.Verifier
	notifier *notify.Sender
	log      *logrus.Logger
}

// NewServer wires the HTTP layer to a ledger, token verifier and notifier.
func NewServer(l *ledger.Ledger, v *auth.Verifier, n *notify.Sender, log *logrus.Logger) *Server {
	return &Server{
		ledger:   l,
		verifier: v,
		notifier: n,
		log:      log,
	}
}

// Router builds the HTTP routes. Every route requires a bearer token.
func (s *Server) Router() http.Handler {
	router := mux.NewRouter()
	router.Use(s.logRequests)
	router.NotFoundHandler = s.logRequests(http.HandlerFunc(notFoundHandler))

	api := router.PathPrefix("/").Subrouter()
	api.Use(s.authenticate)

	api.HandleFunc("/loans", s.adminOnly(s.listLoansHandler)).Methods("GET")
	api.HandleFunc("/loans", s.adminOnly(s.createLoanHandler)).Methods("POST")
	api.HandleFunc("/loans/{id}", s.getLoanHandler).Methods("GET")
	api.HandleFunc("/loans/{id}/entries", s.adminOnly(s.postEntryHandler)).Methods("POST")

	api.HandleFunc("/members/me/loans", s.memberLoansHandler).Methods("GET")
	api.HandleFunc("/members/me/activity", s.memberActivityHandler).Methods("GET")
	api.HandleFunc("/members/{member}/loans", s.adminOnly(s.memberLoansHandler)).Methods("GET")
	api.HandleFunc("/members/{member}/activity", s.adminOnly(s.memberActivityHandler)).Methods("GET")
	api.HandleFunc("/members/{member}/payments", s.adminOnly(s.paymentHandler)).Methods("POST")

	return router
}

// loanView is a loan as returned over HTTP, with its balance worked out.
type loanView struct {
	*models.Loan
	Total            decimal.Decimal `json:"total"`
	UpcomingInterest decimal.Decimal `json:"upcoming_interest"`
}

type summaryView struct {
	Total            decimal.Decimal `json:"total"`
	UpcomingInterest decimal.Decimal `json:"upcoming_interest"`
	Loans            []loanView      `json:"loans"`
}

func (s *Server) viewLoan(loan *models.Loan) loanView {
	return loanView{
		Loan:             loan,
		Total:            ledger.Total(loan.Ledger).Round(ledger.DisplayPrecision),
		UpcomingInterest: s.ledger.UpcomingInterest(loan).Round(ledger.DisplayPrecision),
	}
}

func (s *Server) viewSummary(summary *ledger.LoanSummary) summaryView {
	out := summaryView{
		Total:            summary.Total.Round(ledger.DisplayPrecision),
		UpcomingInterest: summary.UpcomingInterest.Round(ledger.DisplayPrecision),
		Loans:            make([]loanView, 0, len(summary.Loans)),
	}
	for _, loan := range summary.Loans {
		out.Loans = append(out.Loans, s.viewLoan(loan))
	}
	return out
}

func (s *Server) createLoanHandler(w http.ResponseWriter, r *http.Request) {
	var req ledger.LoanInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	loan, _, err := s.ledger.CreateLoan(r.Context(), req)
	if err != nil && loan == nil {
		s.respondError(w, err)
		return
	}
	if err != nil {
		// The loan is stored; only its activity record failed.
		s.log.WithError(err).WithField("loan_id", loan.ID).Error("Failed to record loan activity")
	}

	if err := s.notifier.LoanCreated(loan); err != nil {
		s.log.WithError(err).WithField("loan_id", loan.ID).Warn("Failed to send loan notification")
	}
	writeJSON(w, http.StatusCreated, s.viewLoan(loan))
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	summary, err := s.ledger.Summary(r.Context(), "")
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.viewSummary(summary))
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	loanID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid loan ID")
		return
	}
	includeArchived, _ := strconv.ParseBool(r.URL.Query().Get("archived"))

	var loan *models.Loan
	id, _ := auth.FromContext(r.Context())
	if id.IsAdmin() {
		loan, err = s.ledger.GetLoan(r.Context(), loanID, includeArchived)
	} else {
		loan, err = s.ledger.GetBorrowerLoan(r.Context(), loanID, id.MemberID, includeArchived)
	}
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.viewLoan(loan))
}

func (s *Server) postEntryHandler(w http.ResponseWriter, r *http.Request) {
	loanID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid loan ID")
		return
	}

	var req ledger.EntryInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	entry, err := s.ledger.PostEntry(r.Context(), loanID, req)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) paymentHandler(w http.ResponseWriter, r *http.Request) {
	memberID := mux.Vars(r)["member"]

	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	result, err := s.ledger.ApplyPayment(r.Context(), memberID, req.Amount)
	if err != nil {
		if result != nil {
			s.log.WithFields(logrus.Fields{
				"borrower": memberID,
				"applied":  len(result.AffectedLoanIDs),
			}).Error("Payment only partially applied")
		}
		s.respondError(w, err)
		return
	}

	if err := s.notifier.PaymentApplied(memberID, req.Amount, result); err != nil {
		s.log.WithError(err).WithField("borrower", memberID).Warn("Failed to send payment notification")
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) memberLoansHandler(w http.ResponseWriter, r *http.Request) {
	summary, err := s.ledger.Summary(r.Context(), s.loanScope(r))
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.viewSummary(summary))
}

func (s *Server) memberActivityHandler(w http.ResponseWriter, r *http.Request) {
	page := 0
	if raw := r.URL.Query().Get("page"); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid page")
			return
		}
		page = p
	}

	activity, err := s.ledger.ListActivity(r.Context(), s.memberID(r), page)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if activity == nil {
		activity = []*models.Activity{}
	}
	writeJSON(w, http.StatusOK, activity)
}

// memberID is the {member} path variable, or the caller on the /members/me routes.
func (s *Server) memberID(r *http.Request) string {
	if member, ok := mux.Vars(r)["member"]; ok {
		return member
	}
	id, _ := auth.FromContext(r.Context())
	return id.MemberID
}

// loanScope is the borrower whose loans a summary covers. Admins asking for
// their own loans see every open loan.
func (s *Server) loanScope(r *http.Request) string {
	if member, ok := mux.Vars(r)["member"]; ok {
		return member
	}
	if id, _ := auth.FromContext(r.Context()); id.IsAdmin() {
		return ""
	}
	return s.memberID(r)
}

// respondError maps ledger errors onto status codes.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		s.log.WithError(err).Error("Request failed")
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func notFoundHandler(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, fmt.Sprintf("Cannot %s %s", r.Method, r.URL.Path))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"err": msg})
}
