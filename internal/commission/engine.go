// Package commission pays the two-tier referral plan when a package purchase
// is approved.
package commission

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/router-for-me/MemberLedger/internal/db"
	"github.com/router-for-me/MemberLedger/internal/ledger"
	"github.com/router-for-me/MemberLedger/internal/metrics"
	"github.com/router-for-me/MemberLedger/internal/models"
	"github.com/router-for-me/MemberLedger/internal/referral"
	internalsettings "github.com/router-for-me/MemberLedger/internal/settings"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrInvalidRequest is returned when the triggering request id is empty.
var ErrInvalidRequest = errors.New("commission: missing triggering request id")

// Status is the outcome of one ancestor level.
type Status string

// Status values.
const (
	StatusApplied    Status = "applied"    // Earning written and balance credited.
	StatusReplayed   Status = "replayed"   // Already handled by an earlier call.
	StatusSuppressed Status = "suppressed" // Earning written, credit withheld for an inactive ancestor.
	StatusSkipped    Status = "skipped"    // Zero commission for the level.
	StatusFailed     Status = "failed"     // Storage error; safe to retry with the same request id.
)

// LevelResult reports one ancestor level.
type LevelResult struct {
	Level             int             `json:"level"`
	BeneficiaryID     uint64          `json:"beneficiary_id"`
	BeneficiaryHandle string          `json:"beneficiary_handle"`
	Amount            decimal.Decimal `json:"amount"`
	Status            Status          `json:"status"`
	EarningID         uint64          `json:"earning_id,omitempty"`
	Error             string          `json:"error,omitempty"`
}

// Result reports a whole distribution.
type Result struct {
	PurchaserID uint64        `json:"purchaser_id"`
	PackageID   uint64        `json:"package_id"`
	RequestID   string        `json:"request_id"`
	Levels      []LevelResult `json:"levels"`
}

// Failed returns the levels that should be retried.
func (r *Result) Failed() []LevelResult {
	out := make([]LevelResult, 0)
	for _, l := range r.Levels {
		if l.Status == StatusFailed {
			out = append(out, l)
		}
	}
	return out
}

// Policy is the commission configuration. DB settings override it per call.
type Policy struct {
	MaxDepth       int
	CreditInactive bool
}

// Engine distributes commissions over the authoritative ancestor chain.
type Engine struct {
	db       *gorm.DB
	mutator  *ledger.Mutator
	graph    *referral.Store
	defaults Policy
}

// NewEngine constructs an Engine.
func NewEngine(mutator *ledger.Mutator, graph *referral.Store, defaults Policy) *Engine {
	defaults.MaxDepth = referral.NormalizeDepth(defaults.MaxDepth)
	return &Engine{db: mutator.DB(), mutator: mutator, graph: graph, defaults: defaults}
}

// CurrentPolicy returns the defaults with DB overrides applied.
func (e *Engine) CurrentPolicy() Policy {
	return Policy{
		MaxDepth:       referral.NormalizeDepth(internalsettings.Int(internalsettings.CommissionMaxDepthKey, e.defaults.MaxDepth)),
		CreditInactive: internalsettings.Bool(internalsettings.CommissionCreditInactiveKey, e.defaults.CreditInactive),
	}
}

// IdempotencyKey is the mutation key of one commission level.
func IdempotencyKey(requestID string, beneficiaryID uint64, level int) string {
	return fmt.Sprintf("commission:%s:%d:%d", requestID, beneficiaryID, level)
}

// ApplyPurchaseCommission pays level 1 the direct commission and levels 2 and
// deeper the flat indirect commission, nearest ancestor first. Each level is
// its own atomic unit; a failed level does not undo the others.
func (e *Engine) ApplyPurchaseCommission(ctx context.Context, purchaserID, packageID uint64, requestID string) (*Result, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return nil, ErrInvalidRequest
	}
	var purchaser models.Member
	if errFind := e.db.WithContext(ctx).Where("id = ?", purchaserID).Take(&purchaser).Error; errFind != nil {
		return nil, notFound(errFind, "member", purchaserID)
	}
	var pkg models.Package
	if errFind := e.db.WithContext(ctx).Where("id = ?", packageID).Take(&pkg).Error; errFind != nil {
		return nil, notFound(errFind, "package", packageID)
	}

	policy := e.CurrentPolicy()
	chain, errChain := e.graph.Ancestors(ctx, purchaserID, policy.MaxDepth)
	if errChain != nil {
		return nil, errChain
	}

	result := &Result{PurchaserID: purchaserID, PackageID: packageID, RequestID: requestID, Levels: make([]LevelResult, 0, len(chain))}
	for i := range chain {
		level := e.applyLevel(ctx, &purchaser, &pkg, &chain[i], i+1, requestID, policy)
		metrics.CommissionLevels.WithLabelValues(string(level.Status)).Inc()
		result.Levels = append(result.Levels, level)
	}

	entry := log.WithFields(log.Fields{
		"request_id": requestID,
		"purchaser":  purchaserID,
		"package":    packageID,
		"levels":     len(result.Levels),
	})
	if failed := result.Failed(); len(failed) > 0 {
		entry.WithField("failed", len(failed)).Warn("commission: distribution partially failed")
	} else {
		entry.Info("commission: distribution applied")
	}
	return result, nil
}

func (e *Engine) applyLevel(ctx context.Context, purchaser *models.Member, pkg *models.Package, beneficiary *models.Member, level int, requestID string, policy Policy) LevelResult {
	amount := pkg.IndirectCommission
	if level == 1 {
		amount = pkg.DirectCommission
	}
	out := LevelResult{Level: level, BeneficiaryID: beneficiary.ID, BeneficiaryHandle: beneficiary.Handle, Amount: amount}
	if !amount.IsPositive() {
		out.Status = StatusSkipped
		return out
	}

	earning := models.Earning{
		BeneficiaryMemberID: beneficiary.ID,
		SourceMemberID:      purchaser.ID,
		Level:               level,
		Amount:              amount,
		TriggeringRequestID: requestID,
		PackageID:           pkg.ID,
		Credited:            true,
	}

	// An earning row means an earlier call already decided this level.
	existing, errExisting := e.findEarning(ctx, requestID, beneficiary.ID, level)
	if errExisting != nil {
		return failLevel(out, errExisting)
	}
	if existing != nil {
		out.Status = StatusReplayed
		out.EarningID = existing.ID
		return out
	}

	if !beneficiary.IsActive() && !policy.CreditInactive {
		earning.Credited = false
		errCreate := e.db.WithContext(ctx).Create(&earning).Error
		switch {
		case errCreate == nil:
			out.Status = StatusSuppressed
			out.EarningID = earning.ID
		case db.IsUniqueViolation(errCreate):
			out.Status = StatusReplayed
		default:
			return failLevel(out, errCreate)
		}
		return out
	}

	outcome, errCredit := e.mutator.Credit(ctx, ledger.Mutation{
		MemberID:       beneficiary.ID,
		Account:        models.LedgerAccountBalance,
		Amount:         amount,
		Reason:         reasonFor(level),
		IdempotencyKey: IdempotencyKey(requestID, beneficiary.ID, level),
		Metadata: map[string]any{
			"request_id":   requestID,
			"source":       purchaser.ID,
			"package_id":   pkg.ID,
			"level":        level,
			"beneficiary":  beneficiary.Handle,
			"member_state": string(beneficiary.Status),
		},
		AfterApply: func(tx *gorm.DB, _ ledger.Outcome) error {
			return tx.Create(&earning).Error
		},
	})
	if errCredit != nil {
		return failLevel(out, errCredit)
	}
	if outcome.Replayed {
		out.Status = StatusReplayed
		return out
	}
	out.Status = StatusApplied
	out.EarningID = earning.ID
	return out
}

func (e *Engine) findEarning(ctx context.Context, requestID string, beneficiaryID uint64, level int) (*models.Earning, error) {
	var earning models.Earning
	errFind := e.db.WithContext(ctx).
		Where("triggering_request_id = ? AND beneficiary_member_id = ? AND level = ?", requestID, beneficiaryID, level).
		Take(&earning).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("commission: lookup earning: %w", errFind)
	}
	return &earning, nil
}

// Earnings lists a member's earnings, newest first.
func (e *Engine) Earnings(ctx context.Context, memberID uint64, limit int) ([]models.Earning, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var earnings []models.Earning
	if errFind := e.db.WithContext(ctx).
		Where("beneficiary_member_id = ?", memberID).
		Order("id DESC").
		Limit(limit).
		Find(&earnings).Error; errFind != nil {
		return nil, fmt.Errorf("commission: list earnings: %w", errFind)
	}
	return earnings, nil
}

func reasonFor(level int) string {
	if level == 1 {
		return "commission-direct"
	}
	return "commission-indirect"
}

func failLevel(out LevelResult, err error) LevelResult {
	out.Status = StatusFailed
	out.Error = err.Error()
	log.WithError(err).WithFields(log.Fields{"level": out.Level, "beneficiary": out.BeneficiaryID}).Warn("commission: level failed")
	return out
}

func notFound(err error, what string, id uint64) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s %d", ledger.ErrNotFound, what, id)
	}
	return fmt.Errorf("commission: load %s %d: %w", what, id, err)
}
