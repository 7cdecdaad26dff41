package settings

// DB-backed policy keys. Values override the YAML configuration at runtime.
const (
	// CommissionCreditInactiveKey toggles balance credits for inactive ancestors.
	CommissionCreditInactiveKey = "COMMISSION_CREDIT_INACTIVE"
	// CommissionMaxDepthKey caps the number of paid ancestor levels.
	CommissionMaxDepthKey = "COMMISSION_MAX_DEPTH"
	// WithdrawalFeeRateKey is the fraction of a withdrawal kept as fee.
	WithdrawalFeeRateKey = "WITHDRAWAL_FEE_RATE"
	// WithdrawalMinAmountKey is the smallest amount a member may withdraw.
	WithdrawalMinAmountKey = "WITHDRAWAL_MIN_AMOUNT"
	// SnapshotRefreshSecondsKey is the referral graph snapshot refresh interval.
	SnapshotRefreshSecondsKey = "GRAPH_SNAPSHOT_REFRESH_SECONDS"
	// PackageExpirySweepSecondsKey is the interval of the package expiry sweep.
	PackageExpirySweepSecondsKey = "PACKAGE_EXPIRY_SWEEP_SECONDS"
)

// Bounds enforced on numeric settings.
const (
	// MaxCommissionDepth is the deepest ancestor level the plan pays.
	MaxCommissionDepth = 10
	// MaxIntervalSeconds caps background loop intervals at one week.
	MaxIntervalSeconds = 7 * 24 * 60 * 60
)

// KnownKeys lists the keys accepted by the settings API.
var KnownKeys = []string{
	CommissionCreditInactiveKey,
	CommissionMaxDepthKey,
	WithdrawalFeeRateKey,
	WithdrawalMinAmountKey,
	SnapshotRefreshSecondsKey,
	PackageExpirySweepSecondsKey,
}

// IsKnownKey reports whether key is one of KnownKeys.
func IsKnownKey(key string) bool {
	for _, k := range KnownKeys {
		if k == key {
			return true
		}
	}
	return false
}
