/*
handlers.go - HTTP API handlers for the points engine

PURPOSE:
  Exposes the transaction service via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to compras.Service.

ENDPOINTS:
  Transactions:
    GET    /api/transactions               Search (q, kind, program, source, from, to, offset, limit)
    POST   /api/transactions               Create or replace (upsert)
    POST   /api/transactions/preview       Totals, delta and projection, nothing saved
    GET    /api/transactions/{id}          One transaction (backfills stale totals)
    PATCH  /api/transactions/{id}          Partial update, or {"cancel": true}
    DELETE /api/transactions/{id}          Reverse and remove

  Account holders:
    GET    /api/account-holders            List with balances
    POST   /api/account-holders            Create or rename one
    PUT    /api/account-holders            Replace the whole list
    GET    /api/account-holders/{id}       One holder
    DELETE /api/account-holders/{id}       Remove an unreferenced holder
    POST   /api/account-holders/{id}/adjustments  Manual balance correction

  Scenarios:
    GET    /api/scenarios                  List demo scenarios
    POST   /api/scenarios/load             Load a demo scenario

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Unknown transaction or account holder
  - 409: Stale write, referenced holder, edit of a cancelled transaction
  - 503: Document store unavailable
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/points-engine/compras"
	"github.com/warp/points-engine/factory"
	"github.com/warp/points-engine/ledger"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resetter wipes the backing store. Scenarios need one.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *compras.Service
	Factory *factory.TransactionFactory
	Logger  *zap.Logger

	// Commissions records scenario commissions; nil skips them.
	Commissions ledger.CommissionLedger
	// Resetter clears the store before a scenario loads; nil disables loading.
	Resetter Resetter

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler around svc.
func NewHandler(svc *compras.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Service: svc,
		Factory: factory.NewTransactionFactory(),
		Logger:  logger,
	}
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// ListTransactions returns one filtered page of transactions.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	page, err := parsePagination(r)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	res, err := h.Service.List(r.Context(), filter, page)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	dtos := make([]TransactionDTO, len(res.Items))
	for i, tx := range res.Items {
		dtos[i] = toTransactionDTO(tx)
	}
	writeJSON(w, http.StatusOK, TransactionListResponse{Total: res.Total, Items: dtos})
}

// GetTransaction returns a single transaction.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id := ledger.TransactionID(chi.URLParam(r, "id"))

	tx, err := h.Service.Get(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

// UpsertTransaction creates a transaction or replaces the one with the same id.
func (h *Handler) UpsertTransaction(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	parsed, err := h.Factory.ParseTransaction(body)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	res, err := h.Service.Upsert(r.Context(), parsed.Transaction, parsed.Delta)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, UpsertResponse{
		ID:             string(res.Transaction.ID),
		AccountHolders: toHolderDTOs(res.AccountHolders),
		Transaction:    toTransactionDTO(res.Transaction),
	})
}

// PatchTransaction applies a partial update or cancels.
func (h *Handler) PatchTransaction(w http.ResponseWriter, r *http.Request) {
	id := ledger.TransactionID(chi.URLParam(r, "id"))

	var req PatchTransactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.handleServiceError(w, err)
		return
	}

	patch, err := h.toPatch(r.Context(), id, req)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	res, err := h.Service.Patch(r.Context(), id, patch)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(res.Transaction))
}

// toPatch converts the request. Items without a status take the patched
// status, or the stored one when the patch leaves status alone.
func (h *Handler) toPatch(ctx context.Context, id ledger.TransactionID, req PatchTransactionRequest) (compras.Patch, error) {
	p := compras.Patch{
		Cancel:       req.Cancel,
		Notes:        req.Notes,
		Commission:   req.Commission,
		TargetMargin: req.TargetMargin,
		Delta:        req.Delta,
	}
	if p.Cancel {
		return p, nil
	}

	if req.Date != nil {
		d, err := factory.ParseDate(*req.Date)
		if err != nil {
			return p, err
		}
		p.Date = &d
	}
	if req.AccountHolderID != nil {
		holder := ledger.AccountHolderID(strings.TrimSpace(*req.AccountHolderID))
		if holder == "" {
			return p, &ledger.ValidationError{Field: "account_holder_id", Message: "cannot be empty"}
		}
		p.AccountHolderID = &holder
	}
	if req.Status != nil {
		st, err := factory.ParseStatus(*req.Status)
		if err != nil {
			return p, err
		}
		p.Status = &st
	}
	if req.ExtraCosts != nil {
		p.ExtraCosts = append([]decimal.Decimal{}, (*req.ExtraCosts)...)
		for i, c := range p.ExtraCosts {
			if c.IsNegative() {
				return p, &ledger.ValidationError{Field: fmt.Sprintf("extra_costs[%d]", i), Message: "cannot be negative"}
			}
		}
	}
	if req.Items != nil {
		var status ledger.Status
		if p.Status != nil {
			status = *p.Status
		} else {
			current, err := h.Service.Get(ctx, id)
			if err != nil {
				return p, err
			}
			status = current.Status
		}
		items, err := factory.ParseItems(*req.Items, status)
		if err != nil {
			return p, err
		}
		p.Items = items
	}
	return p, nil
}

// DeleteTransaction reverses and removes a transaction.
func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id := ledger.TransactionID(chi.URLParam(r, "id"))

	res, err := h.Service.Delete(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteResponse{
		DeletedID:      string(res.DeletedID),
		AccountHolders: toHolderDTOs(res.AccountHolders),
	})
}

// PreviewTransaction computes what a transaction would do without saving.
func (h *Handler) PreviewTransaction(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	parsed, err := h.Factory.ParseDraft(body)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	res, err := h.Service.Preview(r.Context(), parsed.Transaction)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PreviewResponse{
		Totals:          res.Totals,
		Delta:           res.Delta,
		SuggestedMargin: res.SuggestedMargin,
		Projection:      res.Projection,
	})
}

// =============================================================================
// ACCOUNT HOLDER HANDLERS
// =============================================================================

// ListHolders returns every account holder with balances.
func (h *Handler) ListHolders(w http.ResponseWriter, r *http.Request) {
	holders, err := h.Service.ListHolders(r.Context())
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toHolderDTOs(holders))
}

// GetHolder returns one account holder.
func (h *Handler) GetHolder(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountHolderID(chi.URLParam(r, "id"))

	holder, err := h.Service.GetHolder(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toHolderDTO(holder))
}

// SaveHolder creates or renames one account holder.
func (h *Handler) SaveHolder(w http.ResponseWriter, r *http.Request) {
	var req SaveHolderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.handleServiceError(w, err)
		return
	}

	holder, err := h.Service.SaveHolder(r.Context(), ledger.AccountHolderID(req.ID), req.Name)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toHolderDTO(holder))
}

// ReplaceHolders makes the holder list equal to the request body.
func (h *Handler) ReplaceHolders(w http.ResponseWriter, r *http.Request) {
	var req []SaveHolderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.handleServiceError(w, err)
		return
	}

	in := make([]ledger.AccountHolder, len(req))
	for i, rh := range req {
		in[i] = ledger.AccountHolder{ID: ledger.AccountHolderID(rh.ID), Name: rh.Name}
	}

	holders, err := h.Service.ReplaceHolders(r.Context(), in)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toHolderDTOs(holders))
}

// DeleteHolder removes an unreferenced account holder.
func (h *Handler) DeleteHolder(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountHolderID(chi.URLParam(r, "id"))

	if err := h.Service.DeleteHolder(r.Context(), id); err != nil {
		h.handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AdjustHolder applies a manual correction to a holder's balances.
func (h *Handler) AdjustHolder(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountHolderID(chi.URLParam(r, "id"))

	var req AdjustmentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.handleServiceError(w, err)
		return
	}
	mode, err := ledger.ParseApplyMode(req.Mode)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	holder, err := h.Service.Adjust(r.Context(), id, req.Delta, mode)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.Logger.Info("manual adjustment",
		zap.String("account_holder_id", string(id)),
		zap.String("mode", string(mode)),
		zap.Int64("points", req.Delta.Sum()),
	)
	writeJSON(w, http.StatusOK, toHolderDTO(holder))
}

// =============================================================================
// QUERY PARSING
// =============================================================================

func parseFilter(r *http.Request) (ledger.Filter, error) {
	q := r.URL.Query()
	f := ledger.Filter{Query: q.Get("q")}

	if v := q.Get("kind"); v != "" {
		kind := ledger.ItemKind(strings.ToLower(strings.TrimSpace(v)))
		if !kind.Valid() {
			return f, &ledger.ValidationError{Field: "kind", Message: fmt.Sprintf("unknown item kind %q", v)}
		}
		f.Kind = kind
	}
	if v := q.Get("program"); v != "" {
		p, err := ledger.ParseProgram(v)
		if err != nil {
			return f, err
		}
		f.Program = p
	}
	if v := q.Get("source"); v != "" {
		p, err := ledger.ParseProgram(v)
		if err != nil {
			return f, &ledger.ValidationError{Field: "source", Message: err.Error()}
		}
		f.SourceProgram = p
	}
	for _, bound := range []struct {
		key string
		dst **time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		if v := q.Get(bound.key); v != "" {
			d, err := factory.ParseDate(v)
			if err != nil {
				return f, &ledger.ValidationError{Field: bound.key, Message: err.Error()}
			}
			*bound.dst = &d
		}
	}
	return f, nil
}

// parsePagination reads offset and limit; absent values use the defaults.
func parsePagination(r *http.Request) (ledger.Page, error) {
	var p ledger.Page
	for _, param := range []struct {
		key string
		dst *int
	}{{"offset", &p.Offset}, {"limit", &p.Limit}} {
		v := r.URL.Query().Get(param.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, &ledger.ValidationError{Field: param.key, Message: "must be a non-negative integer"}
		}
		*param.dst = n
	}
	return p, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, &ledger.ValidationError{Field: "body", Message: err.Error()}
	}
	return body, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body, err := readBody(w, r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return &ledger.ValidationError{Field: "body", Message: fmt.Sprintf("invalid JSON: %v", err)}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// handleServiceError maps ledger errors to HTTP statuses.
func (h *Handler) handleServiceError(w http.ResponseWriter, err error) {
	var (
		ve *ledger.ValidationError
		nf *ledger.NotFoundError
	)
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Validation failed", Field: ve.Field, Details: ve.Message})
	case errors.As(err, &nf):
		writeError(w, http.StatusNotFound, fmt.Sprintf("%s not found", strings.ReplaceAll(nf.Resource, "_", " ")), err)
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, ledger.ErrConflict):
		writeError(w, http.StatusConflict, "Conflict", err)
	case errors.Is(err, ledger.ErrStorage):
		h.Logger.Error("storage unavailable", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "Storage unavailable", err)
	default:
		h.Logger.Error("internal error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal error", nil)
	}
}
