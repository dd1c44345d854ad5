package http

import (
	"net/http"
	"strings"

	"papelflow/internal/core"
	"papelflow/internal/log"
	"papelflow/internal/storage"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeServiceError(r.Context(), w, "create_account", err)
		return
	}
	a, err := req.toAccount()
	if err != nil {
		writeServiceError(r.Context(), w, "create_account", err)
		return
	}
	created, err := s.svc.Ledger.CreateAccount(r.Context(), a)
	if err != nil {
		writeServiceError(r.Context(), w, "create_account", err)
		return
	}
	writeSuccess(w, http.StatusCreated, created)
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.svc.Ledger.ListAccounts(r.Context())
	if err != nil {
		writeServiceError(r.Context(), w, "list_accounts", err)
		return
	}
	writeSuccess(w, http.StatusOK, accounts)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	a, err := s.svc.Ledger.GetAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(r.Context(), w, "get_account", err)
		return
	}
	writeSuccess(w, http.StatusOK, a)
}

func (s *Server) handleVerifyAccount(w http.ResponseWriter, r *http.Request) {
	v, err := s.svc.Ledger.VerifyAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(r.Context(), w, "verify_account", err)
		return
	}
	writeSuccess(w, http.StatusOK, v)
}

func (s *Server) handlePostTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeServiceError(r.Context(), w, "post_transaction", err)
		return
	}
	tx, err := req.toTransaction()
	if err != nil {
		writeServiceError(r.Context(), w, "post_transaction", err)
		return
	}
	posted, err := s.svc.Ledger.PostTransaction(r.Context(), tx)
	if err != nil {
		writeServiceError(r.Context(), w, "post_transaction", err)
		return
	}
	log.FromContext(r.Context()).InfoContext(r.Context(), "Transaction posted via API",
		log.FieldTransactionID, posted.ID,
		log.FieldKind, posted.Kind)
	writeSuccess(w, http.StatusCreated, posted)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	f, err := transactionFilter(r)
	if err != nil {
		writeServiceError(r.Context(), w, "list_transactions", err)
		return
	}
	txs, err := s.svc.Ledger.ListTransactions(r.Context(), f)
	if err != nil {
		writeServiceError(r.Context(), w, "list_transactions", err)
		return
	}
	if txs == nil {
		txs = []core.Transaction{}
	}
	writeSuccess(w, http.StatusOK, txs)
}

func transactionFilter(r *http.Request) (storage.TransactionFilter, error) {
	q := r.URL.Query()
	f := storage.TransactionFilter{
		AccountID:  strings.TrimSpace(q.Get("account_id")),
		CategoryID: strings.TrimSpace(q.Get("category_id")),
	}
	if v := q.Get("kind"); v != "" {
		kind, err := core.ParseTransactionKind(v)
		if err != nil {
			return f, err
		}
		f.Kind = kind
	}
	if v := q.Get("status"); v != "" {
		status := core.TransactionStatus(strings.ToLower(strings.TrimSpace(v)))
		switch status {
		case core.StatusPending, core.StatusPosted, core.StatusPendingRepair:
			f.Status = status
		default:
			return f, core.Invalid("status", "unknown transaction status "+v)
		}
	}
	if v := q.Get("from"); v != "" {
		d, err := parseDateField("from", v)
		if err != nil {
			return f, err
		}
		f.From = d
	}
	if v := q.Get("to"); v != "" {
		d, err := parseDateField("to", v)
		if err != nil {
			return f, err
		}
		f.To = d
	}
	return f, nil
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := s.svc.Ledger.GetTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(r.Context(), w, "get_transaction", err)
		return
	}
	writeSuccess(w, http.StatusOK, tx)
}

// handleDeleteTransaction answers 204 for unknown ids too: deleting twice
// leaves the ledger in the same state.
func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Ledger.DeleteTransaction(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(r.Context(), w, "delete_transaction", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRepairTransaction(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Ledger.RepairTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(r.Context(), w, "repair_transaction", err)
		return
	}
	writeSuccess(w, http.StatusOK, res)
}
