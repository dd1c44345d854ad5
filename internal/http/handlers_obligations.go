package http

import (
	"errors"
	"net/http"

	"papelflow/internal/core"
	"papelflow/internal/services"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleCreateObligation(w http.ResponseWriter, r *http.Request) {
	var req obligationRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeServiceError(r.Context(), w, "create_obligation", err)
		return
	}
	o, err := req.toObligation()
	if err != nil {
		writeServiceError(r.Context(), w, "create_obligation", err)
		return
	}
	created, err := s.svc.Scheduler.CreateObligation(r.Context(), o)
	if err != nil {
		writeServiceError(r.Context(), w, "create_obligation", err)
		return
	}
	writeSuccess(w, http.StatusCreated, created)
}

func (s *Server) handleListObligations(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	obligations, err := s.svc.Scheduler.ListObligations(r.Context(), activeOnly)
	if err != nil {
		writeServiceError(r.Context(), w, "list_obligations", err)
		return
	}
	if obligations == nil {
		obligations = []core.RecurringObligation{}
	}
	writeSuccess(w, http.StatusOK, obligations)
}

func (s *Server) handleSetObligationActive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Active *bool `json:"active"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeServiceError(r.Context(), w, "set_obligation_active", err)
		return
	}
	if req.Active == nil {
		writeServiceError(r.Context(), w, "set_obligation_active", core.Invalid("active", "active flag is required"))
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.svc.Scheduler.SetObligationActive(r.Context(), id, *req.Active); err != nil {
		writeServiceError(r.Context(), w, "set_obligation_active", err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"id": id, "active": *req.Active})
}

func (s *Server) handleMarkPaid(w http.ResponseWriter, r *http.Request) {
	today, err := queryDate(r, "date", s.today())
	if err != nil {
		writeServiceError(r.Context(), w, "mark_paid", err)
		return
	}
	tx, err := s.svc.Scheduler.MarkPaid(r.Context(), chi.URLParam(r, "id"), today)
	if err != nil {
		writeServiceError(r.Context(), w, "mark_paid", err)
		return
	}
	writeSuccess(w, http.StatusCreated, tx)
}

// batchResult reports a run that may have partly failed.
type batchResult[T any] struct {
	Items    []T      `json:"items"`
	Failures []string `json:"failures,omitempty"`
}

// failureMessages splits a joined error into its parts.
func failureMessages(err error) []string {
	if err == nil {
		return nil
	}
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		var out []string
		for _, e := range joined.Unwrap() {
			out = append(out, e.Error())
		}
		return out
	}
	return []string{err.Error()}
}

func (s *Server) handleRunScheduler(w http.ResponseWriter, r *http.Request) {
	today, err := queryDate(r, "date", s.today())
	if err != nil {
		writeServiceError(r.Context(), w, "run_scheduler", err)
		return
	}
	txs, err := s.svc.Scheduler.Run(r.Context(), today)
	if err != nil && len(txs) == 0 {
		writeServiceError(r.Context(), w, "run_scheduler", err)
		return
	}
	if txs == nil {
		txs = []core.Transaction{}
	}
	writeSuccess(w, http.StatusOK, batchResult[core.Transaction]{Items: txs, Failures: failureMessages(err)})
}

func (s *Server) handleCheckReminders(w http.ResponseWriter, r *http.Request) {
	today, err := queryDate(r, "date", s.today())
	if err != nil {
		writeServiceError(r.Context(), w, "check_reminders", err)
		return
	}
	fired, err := s.svc.Reminders.CheckReminders(r.Context(), s.opts.Notifications, today)
	if err != nil && len(fired) == 0 {
		writeServiceError(r.Context(), w, "check_reminders", err)
		return
	}
	if fired == nil {
		fired = []services.Reminder{}
	}
	writeSuccess(w, http.StatusOK, batchResult[services.Reminder]{Items: fired, Failures: failureMessages(err)})
}

func (s *Server) handlePrune(w http.ResponseWriter, r *http.Request) {
	today, err := queryDate(r, "date", s.today())
	if err != nil {
		writeServiceError(r.Context(), w, "prune", err)
		return
	}
	materializations, err := s.svc.Scheduler.PruneMaterializations(r.Context(), today)
	if err != nil {
		writeServiceError(r.Context(), w, "prune", err)
		return
	}
	reminders, err := s.svc.Reminders.PruneReminders(r.Context(), today)
	if err != nil {
		writeServiceError(r.Context(), w, "prune", err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]int64{
		"materializations": materializations,
		"reminders":        reminders,
	})
}
