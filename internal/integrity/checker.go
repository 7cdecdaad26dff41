// Package integrity audits the referral graph for dangling, inactive and
// circular referrer links. It only reads; remediation is an explicit admin action.
package integrity

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/router-for-me/MemberLedger/internal/metrics"
	"github.com/router-for-me/MemberLedger/internal/models"
	"github.com/router-for-me/MemberLedger/internal/referral"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// IssueKind classifies a finding.
type IssueKind string

// IssueKind values.
const (
	IssueOrphan           IssueKind = "orphan"
	IssueInactiveReferrer IssueKind = "inactive_referrer"
	IssueSelfReferral     IssueKind = "self_referral"
	IssueCircularPair     IssueKind = "circular_pair"
	IssueCycle            IssueKind = "cycle"
)

// Severity ranks a finding.
type Severity string

// Severity values.
const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
)

var severities = map[IssueKind]Severity{
	IssueOrphan:           SeverityHigh,
	IssueInactiveReferrer: SeverityMedium,
	IssueSelfReferral:     SeverityHigh,
	IssueCircularPair:     SeverityHigh,
	IssueCycle:            SeverityHigh,
}

// Finding is one problem attached to one member.
type Finding struct {
	Kind           IssueKind           `json:"kind"`
	Severity       Severity            `json:"severity"`
	MemberID       uint64              `json:"member_id"`
	Handle         string              `json:"handle"`
	DisplayName    string              `json:"display_name"`
	Status         models.MemberStatus `json:"status"`
	Balance        decimal.Decimal     `json:"balance"`
	Points         int64               `json:"points"`
	TotalEarnings  decimal.Decimal     `json:"total_earnings"`
	ReferrerHandle string              `json:"referrer_handle"`
	Related        []string            `json:"related,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
}

// CircularPair is two members that refer each other.
type CircularPair struct {
	First  string `json:"first"`
	Second string `json:"second"`
}

// Report is the result of one scan.
type Report struct {
	GeneratedAt   time.Time         `json:"generated_at"`
	TotalMembers  int               `json:"total_members"`
	Findings      []Finding         `json:"findings"`
	CircularPairs []CircularPair    `json:"circular_pairs"`
	Cycles        [][]string        `json:"cycles"`
	OrphanTargets map[string]int    `json:"orphan_targets"`
	Summary       map[IssueKind]int `json:"summary"`
}

// Count returns the number of findings of kind.
func (r *Report) Count(kind IssueKind) int {
	return r.Summary[kind]
}

// Checker scans the referral graph.
type Checker struct {
	db        *gorm.DB
	batchSize int
	now       func() time.Time
}

// NewChecker constructs a Checker.
func NewChecker(conn *gorm.DB) *Checker {
	return &Checker{db: conn, batchSize: 1000, now: func() time.Time { return time.Now().UTC() }}
}

// Scan loads the graph once and reports every finding. Findings never cause
// an error; only storage failures and cancellation do.
func (c *Checker) Scan(ctx context.Context) (*Report, error) {
	start := time.Now()
	members, errLoad := referral.LoadMembers(ctx, c.db, c.batchSize)
	if errLoad != nil {
		return nil, errLoad
	}
	earnings, errEarnings := c.totalEarnings(ctx)
	if errEarnings != nil {
		return nil, errEarnings
	}
	if errCtx := ctx.Err(); errCtx != nil {
		return nil, errCtx
	}

	report := analyze(referral.BuildIndex(members, c.now()), earnings)
	report.GeneratedAt = c.now()

	metrics.IntegrityScanDuration.Observe(time.Since(start).Seconds())
	for kind := range severities {
		metrics.IntegrityFindings.WithLabelValues(string(kind)).Set(float64(report.Summary[kind]))
	}
	log.WithFields(log.Fields{
		"members":  report.TotalMembers,
		"findings": len(report.Findings),
	}).Info("integrity: scan finished")
	return report, nil
}

func (c *Checker) totalEarnings(ctx context.Context) (map[uint64]decimal.Decimal, error) {
	var rows []struct {
		BeneficiaryMemberID uint64
		Total               decimal.Decimal
	}
	if errScan := c.db.WithContext(ctx).
		Model(&models.Earning{}).
		Select("beneficiary_member_id, COALESCE(SUM(amount), 0) AS total").
		Group("beneficiary_member_id").
		Scan(&rows).Error; errScan != nil {
		return nil, fmt.Errorf("integrity: sum earnings: %w", errScan)
	}
	out := make(map[uint64]decimal.Decimal, len(rows))
	for _, row := range rows {
		out[row.BeneficiaryMemberID] = row.Total
	}
	return out, nil
}

// analyze makes one pass over idx with constant-time lookups per member.
func analyze(idx *referral.Index, earnings map[uint64]decimal.Decimal) *Report {
	report := &Report{
		TotalMembers:  idx.Len(),
		Findings:      make([]Finding, 0),
		CircularPairs: make([]CircularPair, 0),
		Cycles:        make([][]string, 0),
		OrphanTargets: make(map[string]int),
		Summary:       make(map[IssueKind]int),
	}
	add := func(m *models.Member, kind IssueKind, related ...string) {
		report.Findings = append(report.Findings, Finding{
			Kind:           kind,
			Severity:       severities[kind],
			MemberID:       m.ID,
			Handle:         m.Handle,
			DisplayName:    m.DisplayName,
			Status:         m.Status,
			Balance:        m.Balance,
			Points:         m.Points,
			TotalEarnings:  earnings[m.ID],
			ReferrerHandle: m.ReferrerHandle(),
			Related:        related,
			CreatedAt:      m.CreatedAt,
		})
		report.Summary[kind]++
	}

	for _, m := range idx.Members() {
		ref := m.ReferrerHandle()
		if ref == "" {
			continue
		}
		if ref == m.Handle {
			add(m, IssueSelfReferral)
			continue
		}
		parent, ok := idx.ByHandle(ref)
		if !ok {
			add(m, IssueOrphan)
			report.OrphanTargets[ref]++
			continue
		}
		if !parent.IsActive() {
			add(m, IssueInactiveReferrer)
		}
		// Report each mutual pair once, on the member with the lower id.
		if parent.ReferrerHandle() == m.Handle && m.ID < parent.ID {
			add(m, IssueCircularPair, parent.Handle)
			report.CircularPairs = append(report.CircularPairs, CircularPair{First: m.Handle, Second: parent.Handle})
		}
	}

	for _, cycle := range longCycles(idx) {
		first, _ := idx.ByHandle(cycle[0])
		add(first, IssueCycle, cycle[1:]...)
		report.Cycles = append(report.Cycles, cycle)
	}

	sort.SliceStable(report.Findings, func(i, j int) bool {
		return report.Findings[i].MemberID < report.Findings[j].MemberID
	})
	return report
}

// longCycles finds referrer cycles of three or more members. Every member has
// at most one referrer, so each member is walked once. Cycles are rotated to
// start at their lowest member id.
func longCycles(idx *referral.Index) [][]string {
	const (
		unvisited = iota
		onPath
		done
	)
	state := make(map[string]int, idx.Len())
	cycles := make([][]string, 0)
	for _, m := range idx.Members() {
		if state[m.Handle] != unvisited {
			continue
		}
		path := make([]*models.Member, 0)
		pos := make(map[string]int)
		current := m
		for current != nil && state[current.Handle] == unvisited {
			state[current.Handle] = onPath
			pos[current.Handle] = len(path)
			path = append(path, current)
			next, ok := idx.ByHandle(current.ReferrerHandle())
			if !ok {
				current = nil
				break
			}
			current = next
		}
		if current != nil && state[current.Handle] == onPath {
			loop := path[pos[current.Handle]:]
			if len(loop) >= 3 {
				cycles = append(cycles, rotate(loop))
			}
		}
		for _, p := range path {
			state[p.Handle] = done
		}
	}
	return cycles
}

func rotate(loop []*models.Member) []string {
	minAt := 0
	for i, m := range loop {
		if m.ID < loop[minAt].ID {
			minAt = i
		}
	}
	out := make([]string, 0, len(loop))
	for i := range loop {
		out = append(out, loop[(minAt+i)%len(loop)].Handle)
	}
	return out
}
