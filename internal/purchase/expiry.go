package purchase

import (
	"context"
	"time"

	"github.com/router-for-me/MemberLedger/internal/models"
	internalsettings "github.com/router-for-me/MemberLedger/internal/settings"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	defaultExpiryInterval  = 10 * time.Minute
	defaultExpiryBatchSize = 500
	maxExpiryBatchesPerRun = 200
)

// ExpirySweeper periodically deactivates members whose package expired.
type ExpirySweeper struct {
	db        *gorm.DB
	interval  time.Duration
	batchSize int
	onChange  func(ctx context.Context)
	now       func() time.Time
}

// NewExpirySweeper constructs an ExpirySweeper. onChange runs after a sweep
// deactivated at least one member.
func NewExpirySweeper(db *gorm.DB, onChange func(ctx context.Context)) *ExpirySweeper {
	if db == nil {
		return nil
	}
	return &ExpirySweeper{
		db:        db,
		interval:  defaultExpiryInterval,
		batchSize: defaultExpiryBatchSize,
		onChange:  onChange,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start launches the sweep loop in a background goroutine.
func (s *ExpirySweeper) Start(ctx context.Context) {
	if s == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go s.run(ctx)
	log.Infof("package expiry sweeper started (interval=%s)", s.currentInterval())
}

func (s *ExpirySweeper) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.SweepOnce(ctx); err != nil {
			log.WithError(err).Warn("package expiry sweeper: sweep failed")
		}
		if ctx.Err() != nil {
			return
		}
		timer := time.NewTimer(s.currentInterval())
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return
		case <-timer.C:
		}
	}
}

func (s *ExpirySweeper) currentInterval() time.Duration {
	return internalsettings.Seconds(internalsettings.PackageExpirySweepSecondsKey, s.interval)
}

// SweepOnce deactivates every active member whose package expired and returns
// how many were changed.
func (s *ExpirySweeper) SweepOnce(ctx context.Context) (int64, error) {
	cutoff := s.now()
	total := int64(0)
	for i := 0; i < maxExpiryBatchesPerRun; i++ {
		if errCtx := ctx.Err(); errCtx != nil {
			return total, errCtx
		}
		n, err := s.expireBatch(ctx, cutoff)
		if err != nil {
			return total, err
		}
		if n <= 0 {
			break
		}
		total += n
	}
	if total > 0 {
		log.Infof("package expiry sweeper: deactivated %d members (cutoff=%s)", total, cutoff.Format(time.RFC3339))
		if s.onChange != nil {
			s.onChange(ctx)
		}
	}
	return total, nil
}

func (s *ExpirySweeper) expireBatch(ctx context.Context, cutoff time.Time) (int64, error) {
	// A limited subquery keeps each statement short.
	sub := s.db.Model(&models.Member{}).
		Select("id").
		Where("status = ? AND package_expires_at IS NOT NULL AND package_expires_at < ?", models.MemberStatusActive, cutoff).
		Order("id").
		Limit(s.batchSize)
	res := s.db.WithContext(ctx).Model(&models.Member{}).
		Where("id IN (?)", sub).
		Updates(map[string]any{"status": models.MemberStatusInactive, "updated_at": cutoff})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
