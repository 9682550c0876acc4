package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/previsao/market-api/internal/apperr"
	"github.com/previsao/market-api/internal/auth"
	"github.com/previsao/market-api/internal/idempotency"
	"github.com/previsao/market-api/internal/model"
	"github.com/previsao/market-api/internal/request"
	"github.com/previsao/market-api/internal/store"
)

// PixDepositRequest is the JSON body for POST /wallet/deposits/pix/create.
type PixDepositRequest struct {
	AmountBRL string `json:"amountBrl" validate:"required"`
}

// PixWithdrawalRequest is the JSON body for POST /wallet/withdrawals/pix/create.
type PixWithdrawalRequest struct {
	AmountBRL   string `json:"amountBrl" validate:"required"`
	PixKeyType  string `json:"pixKeyType" validate:"required,oneof=cpf cnpj email phone evp"`
	PixKeyValue string `json:"pixKeyValue" validate:"required"`
}

// Handler exposes the wallet over HTTP.
type Handler struct {
	svc        *Service
	guard      *idempotency.Guard
	production bool
}

// NewHandler creates the wallet handlers. In production the dev completion
// route answers 404.
func NewHandler(svc *Service, guard *idempotency.Guard, production bool) *Handler {
	return &Handler{svc: svc, guard: guard, production: production}
}

// Balance handles GET /wallet/balance
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	bal, err := h.svc.Balance(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, bal)
}

// CreatePixDeposit handles POST /wallet/deposits/pix/create
func (h *Handler) CreatePixDeposit(w http.ResponseWriter, r *http.Request) {
	var req PixDepositRequest
	if err := request.Decode(w, r, &req); err != nil {
		apperr.Write(w, r, err)
		return
	}
	amount, err := ParseAmount(req.AmountBRL)
	if err != nil {
		apperr.Write(w, r, err)
		return
	}

	userID := auth.UserID(r.Context())
	canonical, _ := json.Marshal(req)
	scope := idempotency.Scope{
		UserID:      userID,
		Endpoint:    idempotency.EndpointPixDeposit,
		Key:         idempotency.KeyFromRequest(r),
		RequestHash: idempotency.HashBody(canonical),
	}
	resp, replayed, err := h.guard.Do(r.Context(), scope, func(ctx context.Context, commit idempotency.Commit) (idempotency.Response, error) {
		var resp idempotency.Response
		_, err := h.svc.CreatePixDeposit(ctx, userID, amount, func(ctx context.Context, tx store.Tx, d *model.PixDeposit) error {
			body, err := json.Marshal(d)
			if err != nil {
				return fmt.Errorf("encode deposit: %w", err)
			}
			resp = idempotency.Response{Status: http.StatusCreated, Body: body}
			return commit(ctx, tx, resp)
		})
		return resp, err
	})
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	if replayed {
		w.Header().Set(idempotency.HeaderReplayed, "true")
	}
	apperr.WriteRaw(w, resp.Status, resp.Body)
}

// CreatePixWithdrawal handles POST /wallet/withdrawals/pix/create
func (h *Handler) CreatePixWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req PixWithdrawalRequest
	if err := request.Decode(w, r, &req); err != nil {
		apperr.Write(w, r, err)
		return
	}
	amount, err := ParseAmount(req.AmountBRL)
	if err != nil {
		apperr.Write(w, r, err)
		return
	}

	userID := auth.UserID(r.Context())
	canonical, _ := json.Marshal(req)
	scope := idempotency.Scope{
		UserID:      userID,
		Endpoint:    idempotency.EndpointPixWithdrawal,
		Key:         idempotency.KeyFromRequest(r),
		RequestHash: idempotency.HashBody(canonical),
	}
	// Nothing is written besides the stored response.
	resp, replayed, err := h.guard.Do(r.Context(), scope, func(context.Context, idempotency.Commit) (idempotency.Response, error) {
		body, err := json.Marshal(h.svc.RequestPixWithdrawal(userID, amount, req.PixKeyType, req.PixKeyValue))
		if err != nil {
			return idempotency.Response{}, fmt.Errorf("encode withdrawal: %w", err)
		}
		return idempotency.Response{Status: http.StatusCreated, Body: body}, nil
	})
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	if replayed {
		w.Header().Set(idempotency.HeaderReplayed, "true")
	}
	apperr.WriteRaw(w, resp.Status, resp.Body)
}

// GetPixDeposit handles GET /wallet/deposits/pix/{depositId}
func (h *Handler) GetPixDeposit(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.GetPixDeposit(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "depositId"))
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, d)
}

// CompletePixDeposit handles POST /dev/pix/deposits/{depositId}/complete,
// which stands in for the payment provider's confirmation outside
// production.
func (h *Handler) CompletePixDeposit(w http.ResponseWriter, r *http.Request) {
	if h.production {
		apperr.Write(w, r, apperr.NotFound("Route not available in production"))
		return
	}
	res, err := h.svc.CompletePixDeposit(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "depositId"))
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, res)
}
