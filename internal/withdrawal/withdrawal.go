// Package withdrawal implements the withdrawal request state machine.
//
//	pending    -> processing | approved | rejected
//	processing -> approved | rejected
//	approved   -> rejected (full refund)
//
// Balance effects go through the ledger mutator, and every status change is
// guarded by its expected source status so concurrent reviews cannot both win.
package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/router-for-me/MemberLedger/internal/ledger"
	"github.com/router-for-me/MemberLedger/internal/metrics"
	"github.com/router-for-me/MemberLedger/internal/models"
	"github.com/router-for-me/MemberLedger/internal/security"
	internalsettings "github.com/router-for-me/MemberLedger/internal/settings"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	// ErrInvalidTransition is returned for transitions the state machine does not allow.
	ErrInvalidTransition = errors.New("withdrawal: invalid status transition")
	// ErrInvalidPIN is returned when the transaction PIN does not match.
	ErrInvalidPIN = errors.New("withdrawal: invalid transaction pin")
	// ErrBelowMinimum is returned for amounts under the configured minimum.
	ErrBelowMinimum = errors.New("withdrawal: amount below minimum")
	// ErrInvalidPaymentMethod is returned when the payment method is unknown, disabled or foreign.
	ErrInvalidPaymentMethod = errors.New("withdrawal: invalid payment method")
)

var reviewable = []models.WithdrawalStatus{models.WithdrawalStatusPending, models.WithdrawalStatusProcessing}

// Policy holds the fee rate and the minimum amount.
type Policy struct {
	FeeRate   decimal.Decimal
	MinAmount decimal.Decimal
}

// CreateRequest is a member's withdrawal filing.
type CreateRequest struct {
	MemberID        uint64
	Amount          decimal.Decimal
	PaymentMethodID *uint64
	PIN             string
}

// Filter narrows List results.
type Filter struct {
	Status   models.WithdrawalStatus
	MemberID uint64
	Limit    int
}

// Service drives withdrawal requests through their lifecycle.
type Service struct {
	db       *gorm.DB
	mutator  *ledger.Mutator
	defaults Policy
	now      func() time.Time
}

// NewService constructs a Service. defaults apply when no DB setting overrides them.
func NewService(mutator *ledger.Mutator, defaults Policy) *Service {
	return &Service{
		db:       mutator.DB(),
		mutator:  mutator,
		defaults: defaults,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CurrentPolicy returns the defaults with DB setting overrides applied.
func (s *Service) CurrentPolicy() Policy {
	p := Policy{
		FeeRate:   internalsettings.Decimal(internalsettings.WithdrawalFeeRateKey, s.defaults.FeeRate),
		MinAmount: internalsettings.Decimal(internalsettings.WithdrawalMinAmountKey, s.defaults.MinAmount),
	}
	if p.FeeRate.IsNegative() || p.FeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		log.WithField("fee_rate", p.FeeRate.String()).Warn("withdrawal: ignoring out of range fee rate override")
		p.FeeRate = s.defaults.FeeRate
	}
	return p
}

// Fee splits amount into fee and net at rate, rounded to cents.
func Fee(amount, rate decimal.Decimal) (fee, net decimal.Decimal) {
	fee = amount.Mul(rate).Round(2)
	return fee, amount.Sub(fee)
}

// Create files a pending withdrawal request.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.WithdrawalRequest, error) {
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: %s", ledger.ErrInvalidAmount, req.Amount)
	}
	policy := s.CurrentPolicy()
	if req.Amount.LessThan(policy.MinAmount) {
		return nil, fmt.Errorf("%w: %s < %s", ErrBelowMinimum, req.Amount, policy.MinAmount)
	}

	conn := s.db.WithContext(ctx)
	var member models.Member
	if errFind := conn.Where("id = ?", req.MemberID).Take(&member).Error; errFind != nil {
		return nil, notFound(errFind, "member", req.MemberID)
	}
	if member.TransactionPIN != "" && !security.CheckPIN(member.TransactionPIN, req.PIN) {
		return nil, ErrInvalidPIN
	}
	if req.PaymentMethodID != nil {
		var method models.PaymentMethod
		errMethod := conn.Where("id = ? AND member_id = ?", *req.PaymentMethodID, member.ID).Take(&method).Error
		if errMethod != nil {
			if errors.Is(errMethod, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("%w: %d", ErrInvalidPaymentMethod, *req.PaymentMethodID)
			}
			return nil, fmt.Errorf("withdrawal: load payment method: %w", errMethod)
		}
		if !method.IsEnabled {
			return nil, fmt.Errorf("%w: %d is disabled", ErrInvalidPaymentMethod, method.ID)
		}
	}
	if member.Balance.LessThan(req.Amount) {
		return nil, fmt.Errorf("%w: balance %s, requested %s", ledger.ErrInsufficientFunds, member.Balance, req.Amount)
	}

	out := models.WithdrawalRequest{
		MemberID:        member.ID,
		Amount:          req.Amount,
		Status:          models.WithdrawalStatusPending,
		PaymentMethodID: req.PaymentMethodID,
	}
	if errCreate := conn.Create(&out).Error; errCreate != nil {
		return nil, fmt.Errorf("withdrawal: create request: %w", errCreate)
	}
	metrics.WithdrawalTransitions.WithLabelValues(string(models.WithdrawalStatusPending), "ok").Inc()
	return &out, nil
}

// Approve debits the gross amount and records fee and net. On insufficient
// balance the request stays in its current status.
func (s *Service) Approve(ctx context.Context, id uint64, actor string) (*models.WithdrawalRequest, error) {
	req, errGet := s.Get(ctx, id)
	if errGet != nil {
		return nil, errGet
	}
	if req.Status != models.WithdrawalStatusPending && req.Status != models.WithdrawalStatusProcessing {
		return nil, s.invalid(models.WithdrawalStatusApproved, req)
	}

	fee, net := Fee(req.Amount, s.CurrentPolicy().FeeRate)
	now := s.now()
	_, errDebit := s.mutator.Debit(ctx, ledger.Mutation{
		MemberID:       req.MemberID,
		Amount:         req.Amount,
		Reason:         "withdrawal-approved",
		IdempotencyKey: fmt.Sprintf("withdrawal:%d:approve", req.ID),
		Metadata:       map[string]any{"withdrawal_id": req.ID, "fee": fee.String(), "net": net.String()},
		AfterApply: func(tx *gorm.DB, _ ledger.Outcome) error {
			return transition(tx, req.ID, reviewable, map[string]any{
				"status":       models.WithdrawalStatusApproved,
				"fee_amount":   fee,
				"net_amount":   net,
				"processed_by": actor,
				"processed_at": now,
			})
		},
	})
	if errDebit != nil {
		s.record(models.WithdrawalStatusApproved, errDebit)
		return nil, errDebit
	}
	s.record(models.WithdrawalStatusApproved, nil)
	log.WithFields(log.Fields{"withdrawal": req.ID, "member": req.MemberID, "fee": fee.String(), "net": net.String()}).Info("withdrawal: approved")
	return s.Get(ctx, id)
}

// Reject closes a pending or processing request, or reverses an approved one
// by refunding the gross amount.
func (s *Service) Reject(ctx context.Context, id uint64, actor, reason string) (*models.WithdrawalRequest, error) {
	req, errGet := s.Get(ctx, id)
	if errGet != nil {
		return nil, errGet
	}
	now := s.now()
	updates := map[string]any{
		"status":           models.WithdrawalStatusRejected,
		"rejection_reason": reason,
		"processed_by":     actor,
		"processed_at":     now,
	}

	var errRun error
	switch req.Status {
	case models.WithdrawalStatusPending, models.WithdrawalStatusProcessing:
		errRun = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return transition(tx, req.ID, reviewable, updates)
		})
	case models.WithdrawalStatusApproved:
		_, errRun = s.mutator.Credit(ctx, ledger.Mutation{
			MemberID:       req.MemberID,
			Amount:         req.Amount,
			Reason:         "withdrawal-reversed",
			IdempotencyKey: fmt.Sprintf("withdrawal:%d:reverse", req.ID),
			Metadata:       map[string]any{"withdrawal_id": req.ID},
			AfterApply: func(tx *gorm.DB, _ ledger.Outcome) error {
				return transition(tx, req.ID, []models.WithdrawalStatus{models.WithdrawalStatusApproved}, updates)
			},
		})
	default:
		errRun = s.invalid(models.WithdrawalStatusRejected, req)
	}
	s.record(models.WithdrawalStatusRejected, errRun)
	if errRun != nil {
		return nil, errRun
	}
	log.WithFields(log.Fields{"withdrawal": req.ID, "member": req.MemberID, "from": req.Status}).Info("withdrawal: rejected")
	return s.Get(ctx, id)
}

// MarkProcessing moves a pending request to processing.
func (s *Service) MarkProcessing(ctx context.Context, id uint64, actor string) (*models.WithdrawalRequest, error) {
	req, errGet := s.Get(ctx, id)
	if errGet != nil {
		return nil, errGet
	}
	if req.Status != models.WithdrawalStatusPending {
		errInvalid := s.invalid(models.WithdrawalStatusProcessing, req)
		s.record(models.WithdrawalStatusProcessing, errInvalid)
		return nil, errInvalid
	}
	errRun := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return transition(tx, req.ID, []models.WithdrawalStatus{models.WithdrawalStatusPending}, map[string]any{
			"status":       models.WithdrawalStatusProcessing,
			"processed_by": actor,
		})
	})
	s.record(models.WithdrawalStatusProcessing, errRun)
	if errRun != nil {
		return nil, errRun
	}
	return s.Get(ctx, id)
}

// Get loads one request.
func (s *Service) Get(ctx context.Context, id uint64) (*models.WithdrawalRequest, error) {
	var req models.WithdrawalRequest
	if errFind := s.db.WithContext(ctx).Where("id = ?", id).Take(&req).Error; errFind != nil {
		return nil, notFound(errFind, "withdrawal", id)
	}
	return &req, nil
}

// List returns requests matching f, newest first.
func (s *Service) List(ctx context.Context, f Filter) ([]models.WithdrawalRequest, error) {
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := s.db.WithContext(ctx).Model(&models.WithdrawalRequest{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.MemberID != 0 {
		q = q.Where("member_id = ?", f.MemberID)
	}
	var out []models.WithdrawalRequest
	if errFind := q.Order("id DESC").Limit(limit).Find(&out).Error; errFind != nil {
		return nil, fmt.Errorf("withdrawal: list requests: %w", errFind)
	}
	return out, nil
}

// transition updates a request only while it is in one of from.
func transition(tx *gorm.DB, id uint64, from []models.WithdrawalStatus, updates map[string]any) error {
	res := tx.Model(&models.WithdrawalRequest{}).Where("id = ? AND status IN ?", id, from).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("withdrawal: update request %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: request %d changed concurrently", ErrInvalidTransition, id)
	}
	return nil
}

func (s *Service) invalid(to models.WithdrawalStatus, req *models.WithdrawalRequest) error {
	return fmt.Errorf("%w: %s -> %s for request %d", ErrInvalidTransition, req.Status, to, req.ID)
}

func (s *Service) record(to models.WithdrawalStatus, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidTransition):
		result = "invalid"
	case errors.Is(err, ledger.ErrInsufficientFunds):
		result = "insufficient_funds"
	default:
		result = "error"
	}
	metrics.WithdrawalTransitions.WithLabelValues(string(to), result).Inc()
}

func notFound(err error, what string, id uint64) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s %d", ledger.ErrNotFound, what, id)
	}
	return fmt.Errorf("withdrawal: load %s %d: %w", what, id, err)
}
