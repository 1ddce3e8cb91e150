package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/lucasferrand/mangetout-backend/internal/commission"
	"github.com/lucasferrand/mangetout-backend/pkg/db/models"
	"github.com/lucasferrand/mangetout-backend/pkg/enums"
	pkgerrors "github.com/lucasferrand/mangetout-backend/pkg/errors"
	"github.com/lucasferrand/mangetout-backend/pkg/outbox"
	"github.com/lucasferrand/mangetout-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// SettlementResetter clears a settlement stamp inside the admin transaction.
type SettlementResetter interface {
	ResetTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, payee enums.Payee) (uuid.UUID, error)
}

// RefundOpener opens a forced refund request inside the admin transaction.
type RefundOpener interface {
	OpenForcedTx(ctx context.Context, tx *gorm.DB, order *models.Order, amount decimal.Decimal, reason string) (*models.RefundRequest, error)
}

// LineCorrection is one replacement line for a subtotal correction.
type LineCorrection struct {
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
}

// CorrectSubtotalInput replaces an order's lines and recomputes its money
// fields under the frozen commission rates.
type CorrectSubtotalInput struct {
	OrderID uuid.UUID
	ActorID uuid.UUID
	Reason  string
	Lines   []LineCorrection
}

// ResetSettlementInput clears one settlement stamp.
type ResetSettlementInput struct {
	OrderID uuid.UUID
	Payee   enums.Payee
	ActorID uuid.UUID
	Reason  string
}

// ForceRefundInput opens a refund request outside the eligibility gauntlet.
type ForceRefundInput struct {
	OrderID uuid.UUID
	Amount  decimal.Decimal
	ActorID uuid.UUID
	Reason  string
}

// Service exposes the audited administrative mutations. None of these are raw
// field edits: every call writes an AuditEntry in the same transaction.
type Service interface {
	CorrectSubtotal(ctx context.Context, input CorrectSubtotalInput) (*models.Order, error)
	ResetSettlement(ctx context.Context, input ResetSettlementInput) error
	ForceRefundRequest(ctx context.Context, input ForceRefundInput) (*models.RefundRequest, error)
	ListAudit(ctx context.Context, orderID uuid.UUID) ([]models.AuditEntry, error)
}

// Deps bundles the collaborators the admin service needs.
type Deps struct {
	Repo       Repository
	Tx         txRunner
	Outbox     outboxPublisher
	Settlement SettlementResetter
	Refunds    RefundOpener
	Now        func() time.Time
}

type service struct {
	repo       Repository
	tx         txRunner
	outbox     outboxPublisher
	settlement SettlementResetter
	refunds    RefundOpener
	now        func() time.Time
}

// NewService builds the admin service with the required dependencies.
func NewService(deps Deps) (Service, error) {
	if deps.Repo == nil {
		return nil, fmt.Errorf("admin repository required")
	}
	if deps.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if deps.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if deps.Settlement == nil {
		return nil, fmt.Errorf("settlement resetter required")
	}
	if deps.Refunds == nil {
		return nil, fmt.Errorf("refund opener required")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &service{
		repo:       deps.Repo,
		tx:         deps.Tx,
		outbox:     deps.Outbox,
		settlement: deps.Settlement,
		refunds:    deps.Refunds,
		now:        deps.Now,
	}, nil
}

type moneySnapshot struct {
	Subtotal         decimal.Decimal `json:"subtotal"`
	CommissionAmount decimal.Decimal `json:"commission_amount"`
	RestaurantPayout decimal.Decimal `json:"restaurant_payout"`
	LineCount        int             `json:"line_count"`
}

// CorrectSubtotal is the only sanctioned way to change an order's money after
// creation. The frozen commission rates are reused; only the amounts derived
// from the new lines change. Settled orders must be reset first.
func (s *service) CorrectSubtotal(ctx context.Context, input CorrectSubtotalInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.ActorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "actor id required")
	}
	if input.Reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "a correction reason is required")
	}
	if len(input.Lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "corrected orders must keep at least one line")
	}

	lines := make([]models.OrderLine, 0, len(input.Lines))
	newSubtotal := decimal.Zero
	for i, line := range input.Lines {
		if line.Name == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("line %d: name required", i))
		}
		if line.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("line %d: quantity must be positive", i))
		}
		if line.UnitPrice.IsNegative() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("line %d: unit price must not be negative", i))
		}
		lineTotal := line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
		newSubtotal = newSubtotal.Add(lineTotal)
		lines = append(lines, models.OrderLine{
			Name:      line.Name,
			UnitPrice: line.UnitPrice,
			Quantity:  line.Quantity,
			LineTotal: lineTotal,
		})
	}

	var updated *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindOrderForUpdate(ctx, input.OrderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if order.RestaurantPaidAt != nil {
			return pkgerrors.New(pkgerrors.CodePrecondition, "order is already settled for the restaurant; reset the settlement first")
		}

		split, err := commission.Compute(newSubtotal, order.DeliveryFee, order.CommissionRate, order.DeliveryCommissionRate)
		if err != nil {
			return err
		}

		before, err := json.Marshal(moneySnapshot{
			Subtotal:         order.Subtotal,
			CommissionAmount: order.CommissionAmount,
			RestaurantPayout: order.RestaurantPayout,
			LineCount:        len(order.Lines),
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "snapshot order money")
		}
		after, err := json.Marshal(moneySnapshot{
			Subtotal:         newSubtotal,
			CommissionAmount: split.CommissionAmount,
			RestaurantPayout: split.RestaurantPayout,
			LineCount:        len(lines),
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "snapshot corrected money")
		}

		if err := repo.ReplaceOrderLines(ctx, input.OrderID, lines); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "replace order lines")
		}
		if err := repo.UpdateOrderMoney(ctx, input.OrderID, map[string]any{
			"subtotal":          newSubtotal,
			"commission_amount": split.CommissionAmount,
			"restaurant_payout": split.RestaurantPayout,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order money")
		}

		if _, err := repo.CreateAudit(ctx, &models.AuditEntry{
			Action:  enums.AuditActionCorrectSubtotal,
			OrderID: input.OrderID,
			ActorID: input.ActorID,
			Reason:  input.Reason,
			Before:  before,
			After:   after,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write audit entry")
		}

		oldSubtotal := order.Subtotal
		order.Subtotal = newSubtotal
		order.CommissionAmount = split.CommissionAmount
		order.RestaurantPayout = split.RestaurantPayout
		order.Lines = lines
		updated = order

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSubtotalCorrected,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Actor:         &outbox.ActorRef{UserID: input.ActorID, Role: "admin"},
			Data: payloads.SubtotalCorrectedEvent{
				OrderID:     order.ID,
				OldSubtotal: oldSubtotal,
				NewSubtotal: newSubtotal,
				ActorID:     input.ActorID,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ResetSettlement clears one payee's settlement stamp on one order. This is
// the only sanctioned way to undo a settlement.
func (s *service) ResetSettlement(ctx context.Context, input ResetSettlementInput) error {
	if input.OrderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.ActorID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "actor id required")
	}
	if input.Reason == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "a reset reason is required")
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		batchID, err := s.settlement.ResetTx(ctx, tx, input.OrderID, input.Payee)
		if err != nil {
			return err
		}

		before, _ := json.Marshal(map[string]any{"batch_id": batchID})
		after, _ := json.Marshal(map[string]any{"batch_id": nil})

		repo := s.repo.WithTx(tx)
		if _, err := repo.CreateAudit(ctx, &models.AuditEntry{
			Action:  enums.AuditActionResetSettlement,
			OrderID: input.OrderID,
			ActorID: input.ActorID,
			Reason:  input.Reason,
			Before:  before,
			After:   after,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write audit entry")
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSettlementReset,
			AggregateType: enums.AggregateOrder,
			AggregateID:   input.OrderID,
			Version:       1,
			Actor:         &outbox.ActorRef{UserID: input.ActorID, Role: "admin"},
			Data: payloads.SettlementResetEvent{
				OrderID: input.OrderID,
				Payee:   input.Payee,
				BatchID: batchID,
				ActorID: input.ActorID,
				Reason:  input.Reason,
			},
		})
	})
}

// ForceRefundRequest opens a refund request regardless of the delivery window.
// The single-active invariant still applies.
func (s *service) ForceRefundRequest(ctx context.Context, input ForceRefundInput) (*models.RefundRequest, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.ActorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "actor id required")
	}
	if input.Reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "a refund reason is required")
	}

	var request *models.RefundRequest
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindOrderForUpdate(ctx, input.OrderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if order.PaymentRef == nil {
			return pkgerrors.New(pkgerrors.CodePrecondition, "order has no captured payment to refund")
		}

		request, err = s.refunds.OpenForcedTx(ctx, tx, order, input.Amount, input.Reason)
		if err != nil {
			return err
		}

		// Hold the money while the forced claim is open.
		if _, err := repo.UpdateOrderPayment(ctx, input.OrderID, enums.PaymentStatusPaid, enums.PaymentStatusRefundPending); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment refund pending")
		}

		after, _ := json.Marshal(map[string]any{
			"refund_request_id": request.ID,
			"amount":            request.Amount,
		})
		if _, err := repo.CreateAudit(ctx, &models.AuditEntry{
			Action:  enums.AuditActionForceRefundRequest,
			OrderID: input.OrderID,
			ActorID: input.ActorID,
			Reason:  input.Reason,
			After:   after,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write audit entry")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

func (s *service) ListAudit(ctx context.Context, orderID uuid.UUID) ([]models.AuditEntry, error) {
	rows, err := s.repo.ListAuditByOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list audit entries")
	}
	return rows, nil
}
