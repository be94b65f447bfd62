package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/personachat/personachat/internal/core"
	"github.com/personachat/personachat/internal/ledger"
)

// LedgerAPI provides read-only access to one study's event ledger
type LedgerAPI struct {
	store   *ledger.Store
	studyID string
}

// NewLedgerAPI creates a new ledger API scoped to studyID
func NewLedgerAPI(store *ledger.Store, studyID string) *LedgerAPI {
	return &LedgerAPI{store: store, studyID: studyID}
}

// RegisterRoutes registers ledger API routes (all read-only)
func (api *LedgerAPI) RegisterRoutes(r chi.Router) {
	r.Route("/ledger", func(r chi.Router) {
		r.Get("/", api.handleListEntries)                        // GET /api/v1/ledger
		r.Get("/summary", api.handleGetSummary)                  // GET /api/v1/ledger/summary
		r.Get("/verify", api.handleVerifyChain)                  // GET /api/v1/ledger/verify
		r.Get("/entry/{id}", api.handleGetEntry)                 // GET /api/v1/ledger/entry/{id}
		r.Get("/participant/{id}", api.handleParticipantHistory) // GET /api/v1/ledger/participant/{id}
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	kind := core.KindOf(err)
	writeJSON(w, kind.HTTPStatus(), map[string]string{"error": err.Error(), "kind": kind.String()})
}

// queryOptions reads the shared filter parameters.
// ?action=&actor=&participant=&since=&until=&limit=&offset=&order=asc
func (api *LedgerAPI) queryOptions(r *http.Request) ledger.QueryOptions {
	query := r.URL.Query()

	opts := ledger.QueryOptions{
		StudyID:       api.studyID,
		ParticipantID: core.ParticipantID(query.Get("participant")),
		Action:        query.Get("action"),
		Actor:         query.Get("actor"),
		Ascending:     query.Get("order") == "asc",
		Limit:         100,
	}

	if since := query.Get("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			opts.Since = t
		}
	}
	if until := query.Get("until"); until != "" {
		if t, err := time.Parse(time.RFC3339, until); err == nil {
			opts.Until = t
		}
	}
	if limit := query.Get("limit"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil && l > 0 {
			opts.Limit = l
		}
	}
	if offset := query.Get("offset"); offset != "" {
		if o, err := strconv.Atoi(offset); err == nil && o >= 0 {
			opts.Offset = o
		}
	}
	return opts
}

// handleListEntries returns ledger entries with optional filtering
func (api *LedgerAPI) handleListEntries(w http.ResponseWriter, r *http.Request) {
	opts := api.queryOptions(r)
	entries, err := api.store.Query(r.Context(), opts)
	if err != nil {
		writeError(w, core.E(core.KindInternal, "ledger.List", err))
		return
	}

	count, _ := api.store.Count(r.Context(), api.studyID)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries":       entries,
		"count":         len(entries),
		"total_entries": count,
		"limit":         opts.Limit,
		"offset":        opts.Offset,
	})
}

// handleGetSummary returns ledger statistics
func (api *LedgerAPI) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := api.store.GetSummary(r.Context(), api.studyID)
	if err != nil {
		writeError(w, core.E(core.KindInternal, "ledger.Summary", err))
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleVerifyChain verifies the integrity of the study chain
func (api *LedgerAPI) handleVerifyChain(w http.ResponseWriter, r *http.Request) {
	err := api.store.VerifyChain(r.Context(), api.studyID)

	result := map[string]interface{}{
		"chain_valid": err == nil,
		"verified_at": time.Now().UTC(),
	}

	if err != nil {
		result["error"] = err.Error()
		var chainErr *ledger.ChainError
		if errors.As(err, &chainErr) {
			result["error_type"] = chainErr.Type
			result["entry_num"] = chainErr.EntryNum
			result["entry_id"] = chainErr.EntryID
		}
	}

	count, _ := api.store.Count(r.Context(), api.studyID)
	result["total_entries"] = count

	writeJSON(w, http.StatusOK, result)
}

// handleGetEntry returns a single ledger entry by ID
func (api *LedgerAPI) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entry, err := api.store.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, core.E(core.KindInternal, "ledger.Get", err))
		return
	}
	if entry == nil || entry.StudyID != api.studyID {
		writeError(w, core.E(core.KindNotFound, "ledger.Get", core.ErrRecordNotFound))
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// handleParticipantHistory returns one participant's entries, oldest first
func (api *LedgerAPI) handleParticipantHistory(w http.ResponseWriter, r *http.Request) {
	opts := api.queryOptions(r)
	opts.ParticipantID = core.ParticipantID(chi.URLParam(r, "id"))
	opts.Ascending = true
	if r.URL.Query().Get("limit") == "" {
		opts.Limit = 0
	}

	entries, err := api.store.Query(r.Context(), opts)
	if err != nil {
		writeError(w, core.E(core.KindInternal, "ledger.History", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"participant_id": opts.ParticipantID,
		"entries":        entries,
		"count":          len(entries),
	})
}
