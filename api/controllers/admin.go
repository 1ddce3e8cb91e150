package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lucasferrand/mangetout-backend/api/responses"
	"github.com/lucasferrand/mangetout-backend/api/validators"
	"github.com/lucasferrand/mangetout-backend/internal/admin"
	"github.com/lucasferrand/mangetout-backend/internal/settlement"
	"github.com/lucasferrand/mangetout-backend/pkg/enums"
	pkgerrors "github.com/lucasferrand/mangetout-backend/pkg/errors"
	"github.com/lucasferrand/mangetout-backend/pkg/logger"
	"github.com/lucasferrand/mangetout-backend/pkg/pagination"
)

const adminActorHeader = "X-Admin-Actor"

type correctionLineRequest struct {
	Name      string `json:"name" validate:"required"`
	UnitPrice string `json:"unit_price" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,min=1"`
}

type correctSubtotalRequest struct {
	Reason string                  `json:"reason" validate:"required"`
	Lines  []correctionLineRequest `json:"lines" validate:"required,min=1,dive"`
}

// AdminCorrectSubtotal replaces an order's lines and reprices its split.
func AdminCorrectSubtotal(svc admin.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "admin service unavailable"))
			return
		}
		actorID, err := parseAdminActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload correctSubtotalRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := admin.CorrectSubtotalInput{
			OrderID: orderID,
			ActorID: actorID,
			Reason:  payload.Reason,
		}
		for _, line := range payload.Lines {
			unitPrice, err := decimal.NewFromString(line.UnitPrice)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid unit price"))
				return
			}
			input.Lines = append(input.Lines, admin.LineCorrection{
				Name:      line.Name,
				UnitPrice: unitPrice,
				Quantity:  line.Quantity,
			})
		}

		order, err := svc.CorrectSubtotal(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

type resetSettlementRequest struct {
	Payee  string `json:"payee" validate:"required"`
	Reason string `json:"reason" validate:"required"`
}

// AdminResetSettlement clears one payee's settlement stamp on an order.
func AdminResetSettlement(svc admin.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "admin service unavailable"))
			return
		}
		actorID, err := parseAdminActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload resetSettlementRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		payee := enums.Payee(strings.ToLower(strings.TrimSpace(payload.Payee)))
		if !payee.IsValid() {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "payee must be restaurant or courier"))
			return
		}

		err = svc.ResetSettlement(r.Context(), admin.ResetSettlementInput{
			OrderID: orderID,
			Payee:   payee,
			ActorID: actorID,
			Reason:  payload.Reason,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, nil)
	}
}

type forceRefundRequest struct {
	Amount string `json:"amount" validate:"required"`
	Reason string `json:"reason" validate:"required"`
}

// AdminForceRefund opens a refund request bypassing the eligibility checks.
func AdminForceRefund(svc admin.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "admin service unavailable"))
			return
		}
		actorID, err := parseAdminActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload forceRefundRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		amount, err := decimal.NewFromString(payload.Amount)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid amount"))
			return
		}

		request, err := svc.ForceRefundRequest(r.Context(), admin.ForceRefundInput{
			OrderID: orderID,
			Amount:  amount,
			ActorID: actorID,
			Reason:  payload.Reason,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, request)
	}
}

// AdminOrderAudit returns the audit trail for an order.
func AdminOrderAudit(svc admin.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "admin service unavailable"))
			return
		}
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entries, err := svc.ListAudit(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, entries)
	}
}

// AdminListBatches pages through payout batches, optionally by payee type.
func AdminListBatches(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params := pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		}
		var payeeFilter *enums.Payee
		if raw := strings.TrimSpace(r.URL.Query().Get("payee")); raw != "" {
			payee := enums.Payee(strings.ToLower(raw))
			if !payee.IsValid() {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "payee must be restaurant or courier"))
				return
			}
			payeeFilter = &payee
		}

		list, err := svc.ListBatches(r.Context(), params, payeeFilter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// AdminBatchDetail returns one payout batch plus the orders it covers.
func AdminBatchDetail(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
			return
		}
		raw := strings.TrimSpace(chi.URLParam(r, "batchId"))
		batchID, err := uuid.Parse(raw)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid batch id"))
			return
		}
		batch, err := svc.GetBatch(r.Context(), batchID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orders, err := svc.ListBatchOrders(r.Context(), batchID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"batch":  batch,
			"orders": orders,
		})
	}
}

// AdminRunSettlement triggers a settlement run outside the schedule.
func AdminRunSettlement(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
			return
		}
		report, err := svc.SettleAll(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		body := map[string]any{
			"batches_created": len(report.Batches),
			"payees_skipped":  report.Skipped,
			"batches":         report.Batches,
		}
		if report.Err != nil {
			body["partial_error"] = report.Err.Error()
		}
		responses.WriteSuccess(w, body)
	}
}

// parseAdminActor reads the acting admin's id from the request header. A
// real deployment gets this from the auth layer; the header keeps the audit
// trail honest until then.
func parseAdminActor(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(r.Header.Get(adminActorHeader))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "admin actor header is required")
	}
	actorID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid admin actor id")
	}
	return actorID, nil
}
