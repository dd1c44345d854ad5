package http

import (
	"net/http"

	"papelflow/internal/aggregate"
	"papelflow/internal/core"
)

func (s *Server) handleMonthlyStats(w http.ResponseWriter, r *http.Request) {
	m, err := queryMonth(r, "month", s.today())
	if err != nil {
		writeServiceError(r.Context(), w, "monthly_stats", err)
		return
	}
	stats, err := s.svc.Insights.MonthlyStats(r.Context(), m)
	if err != nil {
		writeServiceError(r.Context(), w, "monthly_stats", err)
		return
	}
	writeSuccess(w, http.StatusOK, stats)
}

func (s *Server) handleBudgetAdherence(w http.ResponseWriter, r *http.Request) {
	m, err := queryMonth(r, "month", s.today())
	if err != nil {
		writeServiceError(r.Context(), w, "budget_adherence", err)
		return
	}
	lines, err := s.svc.Insights.BudgetAdherence(r.Context(), m)
	if err != nil {
		writeServiceError(r.Context(), w, "budget_adherence", err)
		return
	}
	if lines == nil {
		lines = []aggregate.BudgetLine{}
	}
	writeSuccess(w, http.StatusOK, lines)
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	today, err := queryDate(r, "date", s.today())
	if err != nil {
		writeServiceError(r.Context(), w, "forecast", err)
		return
	}
	f, err := s.svc.Insights.SpendingForecast(r.Context(), today)
	if err != nil {
		writeServiceError(r.Context(), w, "forecast", err)
		return
	}
	writeSuccess(w, http.StatusOK, f)
}

func (s *Server) handleHealthScore(w http.ResponseWriter, r *http.Request) {
	today, err := queryDate(r, "date", s.today())
	if err != nil {
		writeServiceError(r.Context(), w, "health_score", err)
		return
	}
	h, err := s.svc.Insights.HealthScore(r.Context(), today)
	if err != nil {
		writeServiceError(r.Context(), w, "health_score", err)
		return
	}
	writeSuccess(w, http.StatusOK, h)
}

func (s *Server) handleCreateBudget(w http.ResponseWriter, r *http.Request) {
	var req budgetRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeServiceError(r.Context(), w, "create_budget", err)
		return
	}
	b, err := req.toBudget()
	if err != nil {
		writeServiceError(r.Context(), w, "create_budget", err)
		return
	}
	created, err := s.svc.Insights.CreateBudget(r.Context(), b)
	if err != nil {
		writeServiceError(r.Context(), w, "create_budget", err)
		return
	}
	writeSuccess(w, http.StatusCreated, created)
}

func (s *Server) handleListBudgets(w http.ResponseWriter, r *http.Request) {
	budgets, err := s.svc.Insights.ListBudgets(r.Context())
	if err != nil {
		writeServiceError(r.Context(), w, "list_budgets", err)
		return
	}
	if budgets == nil {
		budgets = []core.Budget{}
	}
	writeSuccess(w, http.StatusOK, budgets)
}

func (s *Server) handleCreateGoal(w http.ResponseWriter, r *http.Request) {
	var req goalRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeServiceError(r.Context(), w, "create_goal", err)
		return
	}
	g, err := req.toGoal()
	if err != nil {
		writeServiceError(r.Context(), w, "create_goal", err)
		return
	}
	created, err := s.svc.Insights.CreateGoal(r.Context(), g)
	if err != nil {
		writeServiceError(r.Context(), w, "create_goal", err)
		return
	}
	writeSuccess(w, http.StatusCreated, created)
}

func (s *Server) handleListGoals(w http.ResponseWriter, r *http.Request) {
	goals, err := s.svc.Insights.ListGoals(r.Context())
	if err != nil {
		writeServiceError(r.Context(), w, "list_goals", err)
		return
	}
	if goals == nil {
		goals = []core.Goal{}
	}
	writeSuccess(w, http.StatusOK, goals)
}
