// Package ledger is the single writer of member balances, shopping credit and points.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/router-for-me/MemberLedger/internal/db"
	"github.com/router-for-me/MemberLedger/internal/metrics"
	"github.com/router-for-me/MemberLedger/internal/models"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Direction tells whether a mutation adds to or removes from an account.
type Direction string

// Direction values.
const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

const defaultMaxRetries = 3

// Mutation describes one change of a member account.
type Mutation struct {
	MemberID       uint64
	Account        models.LedgerAccount // Defaults to balance.
	Amount         decimal.Decimal
	Reason         string
	IdempotencyKey string
	Metadata       map[string]any

	// AfterApply runs inside the mutation transaction after the account was
	// changed. Returning an error rolls the whole mutation back. It is not
	// called for replays.
	AfterApply func(tx *gorm.DB, outcome Outcome) error
}

// Outcome is the result of a mutation.
type Outcome struct {
	MemberID uint64
	Account  models.LedgerAccount
	Balance  decimal.Decimal // Account value right after the mutation.
	EntryID  uint64
	Replayed bool // True when the key was consumed earlier and nothing changed.
}

// Mutator applies idempotent, serialized mutations to member accounts.
type Mutator struct {
	db         *gorm.DB
	maxRetries int
	now        func() time.Time
}

// Option configures a Mutator.
type Option func(*Mutator)

// WithMaxRetries sets how often a lost compare-and-swap is retried.
func WithMaxRetries(n int) Option {
	return func(m *Mutator) {
		if n > 0 {
			m.maxRetries = n
		}
	}
}

// NewMutator constructs a Mutator over conn.
func NewMutator(conn *gorm.DB, opts ...Option) *Mutator {
	m := &Mutator{db: conn, maxRetries: defaultMaxRetries, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DB returns the underlying connection.
func (m *Mutator) DB() *gorm.DB {
	return m.db
}

// Credit adds mut.Amount to the member account.
func (m *Mutator) Credit(ctx context.Context, mut Mutation) (Outcome, error) {
	return m.apply(ctx, DirectionCredit, mut)
}

// Debit removes mut.Amount from the member account. It fails with
// ErrInsufficientFunds when the account holds less than the amount.
func (m *Mutator) Debit(ctx context.Context, mut Mutation) (Outcome, error) {
	return m.apply(ctx, DirectionDebit, mut)
}

func (m *Mutator) apply(ctx context.Context, dir Direction, mut Mutation) (Outcome, error) {
	if errValidate := validateMutation(&mut); errValidate != nil {
		metrics.Mutations.WithLabelValues(string(mut.Account), string(dir), "rejected").Inc()
		return Outcome{}, errValidate
	}

	var outcome Outcome
	errRun := m.withRetry(ctx, func() error {
		return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			member, errLock := lockMember(tx, mut.MemberID)
			if errLock != nil {
				return errLock
			}
			res, errApply := m.applyLocked(tx, member, dir, mut)
			if errApply != nil {
				return errApply
			}
			outcome = res
			return nil
		})
	})
	recordMutation(mut.Account, dir, outcome, errRun)
	if errRun != nil {
		return Outcome{}, errRun
	}
	return outcome, nil
}

// withRetry runs fn again while it fails with ErrConcurrentModification.
func (m *Mutator) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		if errCtx := ctx.Err(); errCtx != nil {
			return errCtx
		}
		err = fn()
		if !errors.Is(err, ErrConcurrentModification) {
			return err
		}
		log.WithField("attempt", attempt+1).Debug("ledger: compare-and-swap lost, retrying")
	}
	return err
}

// applyLocked mutates a member row that the caller already locked inside tx.
// member.Version is advanced on success so the caller may mutate it again.
func (m *Mutator) applyLocked(tx *gorm.DB, member *models.Member, dir Direction, mut Mutation) (Outcome, error) {
	replay, found, errReplay := findApplied(tx, mut)
	if errReplay != nil {
		return Outcome{}, errReplay
	}
	if found {
		return replay, nil
	}

	current := accountValue(member, mut.Account)
	next := current.Add(mut.Amount)
	change := mut.Amount
	if dir == DirectionDebit {
		if current.LessThan(mut.Amount) {
			return Outcome{}, fmt.Errorf("%w: member %d %s holds %s, need %s", ErrInsufficientFunds, member.ID, mut.Account, current, mut.Amount)
		}
		next = current.Sub(mut.Amount)
		change = mut.Amount.Neg()
	}

	now := m.now()
	res := tx.Model(&models.Member{}).
		Where("id = ? AND version = ?", member.ID, member.Version).
		Updates(map[string]any{
			accountColumn(mut.Account): accountStoredValue(mut.Account, next),
			"version":                  gorm.Expr("version + ?", 1),
			"updated_at":               now,
		})
	if res.Error != nil {
		return Outcome{}, fmt.Errorf("ledger: update member %d: %w", member.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return Outcome{}, ErrConcurrentModification
	}
	member.Version++
	setAccountValue(member, mut.Account, next)

	metadata, errMeta := encodeMetadata(mut.Metadata)
	if errMeta != nil {
		return Outcome{}, errMeta
	}
	entry := models.LedgerEntry{
		MemberID:       member.ID,
		Account:        mut.Account,
		Change:         change,
		BalanceAfter:   next,
		Reason:         mut.Reason,
		IdempotencyKey: mut.IdempotencyKey,
		Metadata:       metadata,
		CreatedAt:      now,
	}
	if errEntry := tx.Create(&entry).Error; errEntry != nil {
		return Outcome{}, fmt.Errorf("ledger: write entry: %w", errEntry)
	}
	applied := models.AppliedMutation{
		IdempotencyKey: mut.IdempotencyKey,
		MemberID:       member.ID,
		Account:        mut.Account,
		Result:         next,
		EntryID:        entry.ID,
		CreatedAt:      now,
	}
	if errApplied := tx.Create(&applied).Error; errApplied != nil {
		if db.IsUniqueViolation(errApplied) {
			// A concurrent writer consumed the key first; the retry replays it.
			return Outcome{}, ErrConcurrentModification
		}
		return Outcome{}, fmt.Errorf("ledger: record idempotency key: %w", errApplied)
	}

	outcome := Outcome{MemberID: member.ID, Account: mut.Account, Balance: next, EntryID: entry.ID}
	if mut.AfterApply != nil {
		if errAfter := mut.AfterApply(tx, outcome); errAfter != nil {
			return Outcome{}, errAfter
		}
	}
	return outcome, nil
}

// Entries returns the most recent ledger entries of a member, newest first.
func (m *Mutator) Entries(ctx context.Context, memberID uint64, account models.LedgerAccount, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := m.db.WithContext(ctx).Model(&models.LedgerEntry{}).Where("member_id = ?", memberID)
	if account != "" {
		q = q.Where("account = ?", account)
	}
	var entries []models.LedgerEntry
	if errFind := q.Order("id DESC").Limit(limit).Find(&entries).Error; errFind != nil {
		return nil, fmt.Errorf("ledger: list entries: %w", errFind)
	}
	return entries, nil
}

func validateMutation(mut *Mutation) error {
	if mut.Account == "" {
		mut.Account = models.LedgerAccountBalance
	}
	mut.IdempotencyKey = strings.TrimSpace(mut.IdempotencyKey)
	if mut.IdempotencyKey == "" {
		return ErrMissingIdempotencyKey
	}
	if mut.MemberID == 0 {
		return fmt.Errorf("%w: member 0", ErrNotFound)
	}
	if !mut.Amount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, mut.Amount)
	}
	switch mut.Account {
	case models.LedgerAccountBalance, models.LedgerAccountShopping:
	case models.LedgerAccountPoints:
		if !mut.Amount.IsInteger() {
			return fmt.Errorf("%w: points must be whole, got %s", ErrInvalidAmount, mut.Amount)
		}
	default:
		return fmt.Errorf("%w: unknown account %q", ErrInvalidAmount, mut.Account)
	}
	return nil
}

func lockMember(tx *gorm.DB, memberID uint64) (*models.Member, error) {
	var member models.Member
	if errFind := tx.Clauses(db.ForUpdate()).Where("id = ?", memberID).Take(&member).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: member %d", ErrNotFound, memberID)
		}
		return nil, fmt.Errorf("ledger: lock member %d: %w", memberID, errFind)
	}
	return &member, nil
}

func findApplied(tx *gorm.DB, mut Mutation) (Outcome, bool, error) {
	var applied models.AppliedMutation
	errFind := tx.Where("idempotency_key = ?", mut.IdempotencyKey).Take(&applied).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return Outcome{}, false, nil
		}
		return Outcome{}, false, fmt.Errorf("ledger: lookup idempotency key: %w", errFind)
	}
	if applied.MemberID != mut.MemberID || applied.Account != mut.Account {
		return Outcome{}, false, fmt.Errorf("%w: %s belongs to member %d %s", ErrAlreadyApplied, mut.IdempotencyKey, applied.MemberID, applied.Account)
	}
	return Outcome{
		MemberID: applied.MemberID,
		Account:  applied.Account,
		Balance:  applied.Result,
		EntryID:  applied.EntryID,
		Replayed: true,
	}, true, nil
}

func accountColumn(account models.LedgerAccount) string {
	switch account {
	case models.LedgerAccountShopping:
		return "shopping_amount"
	case models.LedgerAccountPoints:
		return "points"
	default:
		return "balance"
	}
}

func accountValue(member *models.Member, account models.LedgerAccount) decimal.Decimal {
	switch account {
	case models.LedgerAccountShopping:
		return member.ShoppingAmount
	case models.LedgerAccountPoints:
		return decimal.NewFromInt(member.Points)
	default:
		return member.Balance
	}
}

func setAccountValue(member *models.Member, account models.LedgerAccount, value decimal.Decimal) {
	switch account {
	case models.LedgerAccountShopping:
		member.ShoppingAmount = value
	case models.LedgerAccountPoints:
		member.Points = value.IntPart()
	default:
		member.Balance = value
	}
}

func accountStoredValue(account models.LedgerAccount, value decimal.Decimal) any {
	if account == models.LedgerAccountPoints {
		return value.IntPart()
	}
	return value
}

func encodeMetadata(meta map[string]any) (datatypes.JSON, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	raw, errMarshal := json.Marshal(meta)
	if errMarshal != nil {
		return nil, fmt.Errorf("ledger: encode metadata: %w", errMarshal)
	}
	return datatypes.JSON(raw), nil
}

func recordMutation(account models.LedgerAccount, dir Direction, outcome Outcome, err error) {
	result := "applied"
	switch {
	case err == nil && outcome.Replayed:
		result = "replayed"
	case errors.Is(err, ErrInsufficientFunds), errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidAmount):
		result = "rejected"
	case errors.Is(err, ErrConcurrentModification):
		result = "conflict"
	case err != nil:
		result = "error"
	}
	metrics.Mutations.WithLabelValues(string(account), string(dir), result).Inc()
}
