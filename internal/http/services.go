package http

import (
	"github.com/router-for-me/MemberLedger/internal/commission"
	"github.com/router-for-me/MemberLedger/internal/config"
	"github.com/router-for-me/MemberLedger/internal/integrity"
	"github.com/router-for-me/MemberLedger/internal/ledger"
	"github.com/router-for-me/MemberLedger/internal/purchase"
	"github.com/router-for-me/MemberLedger/internal/referral"
	"github.com/router-for-me/MemberLedger/internal/withdrawal"
	"gorm.io/gorm"
)

// Services bundles the components the admin and front APIs serve.
type Services struct {
	DB          *gorm.DB
	JWT         config.JWTConfig
	Mutator     *ledger.Mutator
	Graph       *referral.Store
	Snapshot    *referral.Snapshot
	Downlines   *referral.Downlines
	Commission  *commission.Engine
	Integrity   *integrity.Checker
	Scans       *integrity.TaskStore
	Withdrawals *withdrawal.Service
	Purchases   *purchase.Flow
}
