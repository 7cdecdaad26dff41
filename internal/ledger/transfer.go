package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/router-for-me/MemberLedger/internal/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TransferRequest moves balance or shopping credit to a member. A nil
// FromMemberID marks an administrator credit that has no sending side.
type TransferRequest struct {
	FromMemberID   *uint64
	ToMemberID     uint64
	Amount         decimal.Decimal
	Type           models.TransferType
	Note           string
	IssuedBy       string
	IdempotencyKey string
}

// TransferAccount returns the account a transfer type moves.
func TransferAccount(t models.TransferType) (models.LedgerAccount, bool) {
	switch t {
	case models.TransferTypeBalance, models.TransferTypeAdminCredit:
		return models.LedgerAccountBalance, true
	case models.TransferTypeShopping, models.TransferTypeAdminShoppingCredit:
		return models.LedgerAccountShopping, true
	default:
		return "", false
	}
}

// Transfer records a completed transfer and applies both sides atomically.
// Replaying an idempotency key returns the stored transfer unchanged.
func (m *Mutator) Transfer(ctx context.Context, req TransferRequest) (*models.Transfer, error) {
	account, errValidate := validateTransfer(&req)
	if errValidate != nil {
		return nil, errValidate
	}

	var out *models.Transfer
	errRun := m.withRetry(ctx, func() error {
		return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var existing models.Transfer
			errExisting := tx.Where("idempotency_key = ?", req.IdempotencyKey).Take(&existing).Error
			if errExisting == nil {
				out = &existing
				return nil
			}
			if !errors.Is(errExisting, gorm.ErrRecordNotFound) {
				return fmt.Errorf("ledger: lookup transfer: %w", errExisting)
			}

			sender, receiver, errLock := lockTransferSides(tx, req.FromMemberID, req.ToMemberID)
			if errLock != nil {
				return errLock
			}

			meta := map[string]any{"transfer_type": string(req.Type)}
			if sender != nil {
				meta["to_member_id"] = receiver.ID
				if _, errDebit := m.applyLocked(tx, sender, DirectionDebit, Mutation{
					MemberID:       sender.ID,
					Account:        account,
					Amount:         req.Amount,
					Reason:         "transfer-out",
					IdempotencyKey: req.IdempotencyKey + ":debit",
					Metadata:       meta,
				}); errDebit != nil {
					return errDebit
				}
			}

			creditMeta := map[string]any{"transfer_type": string(req.Type)}
			if sender != nil {
				creditMeta["from_member_id"] = sender.ID
			}
			if _, errCredit := m.applyLocked(tx, receiver, DirectionCredit, Mutation{
				MemberID:       receiver.ID,
				Account:        account,
				Amount:         req.Amount,
				Reason:         "transfer-in",
				IdempotencyKey: req.IdempotencyKey + ":credit",
				Metadata:       creditMeta,
			}); errCredit != nil {
				return errCredit
			}

			transfer := models.Transfer{
				FromMemberID:   req.FromMemberID,
				ToMemberID:     req.ToMemberID,
				Amount:         req.Amount,
				TransferType:   req.Type,
				Status:         models.TransferStatusCompleted,
				Note:           req.Note,
				IssuedBy:       req.IssuedBy,
				IdempotencyKey: req.IdempotencyKey,
				CreatedAt:      m.now(),
			}
			if errCreate := tx.Create(&transfer).Error; errCreate != nil {
				return fmt.Errorf("ledger: write transfer: %w", errCreate)
			}
			out = &transfer
			return nil
		})
	})
	if errRun != nil {
		recordMutation(account, DirectionCredit, Outcome{}, errRun)
		return nil, errRun
	}
	return out, nil
}

func validateTransfer(req *TransferRequest) (models.LedgerAccount, error) {
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.IdempotencyKey == "" {
		return "", ErrMissingIdempotencyKey
	}
	if !req.Amount.IsPositive() {
		return "", fmt.Errorf("%w: %s", ErrInvalidAmount, req.Amount)
	}
	account, ok := TransferAccount(req.Type)
	if !ok {
		return "", fmt.Errorf("%w: unknown type %q", ErrInvalidTransfer, req.Type)
	}
	if req.ToMemberID == 0 {
		return "", fmt.Errorf("%w: missing receiver", ErrInvalidTransfer)
	}
	adminType := req.Type == models.TransferTypeAdminCredit || req.Type == models.TransferTypeAdminShoppingCredit
	if req.FromMemberID == nil {
		if !adminType {
			return "", fmt.Errorf("%w: %s requires a sender", ErrInvalidTransfer, req.Type)
		}
		return account, nil
	}
	if adminType {
		return "", fmt.Errorf("%w: %s cannot have a sender", ErrInvalidTransfer, req.Type)
	}
	if *req.FromMemberID == req.ToMemberID {
		return "", fmt.Errorf("%w: sender and receiver are the same member", ErrInvalidTransfer)
	}
	return account, nil
}

// lockTransferSides locks both members in ascending id order.
func lockTransferSides(tx *gorm.DB, fromID *uint64, toID uint64) (*models.Member, *models.Member, error) {
	if fromID == nil {
		receiver, errLock := lockMember(tx, toID)
		return nil, receiver, errLock
	}
	first, second := *fromID, toID
	if second < first {
		first, second = second, first
	}
	a, errA := lockMember(tx, first)
	if errA != nil {
		return nil, nil, errA
	}
	b, errB := lockMember(tx, second)
	if errB != nil {
		return nil, nil, errB
	}
	if a.ID == *fromID {
		return a, b, nil
	}
	return b, a, nil
}
