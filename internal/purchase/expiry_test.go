package purchase

import (
	"context"
	"testing"
	"time"

	"github.com/router-for-me/MemberLedger/internal/models"
)

func TestExpirySweeperDeactivatesLapsedMembers(t *testing.T) {
	conn := setupPurchaseDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	members := []models.Member{
		{Handle: "lapsed", Status: models.MemberStatusActive, PackageExpiresAt: &past},
		{Handle: "current", Status: models.MemberStatusActive, PackageExpiresAt: &future},
		{Handle: "forever", Status: models.MemberStatusActive},
		{Handle: "suspended", Status: models.MemberStatusSuspended, PackageExpiresAt: &past},
	}
	for i := range members {
		if errCreate := conn.Create(&members[i]).Error; errCreate != nil {
			t.Fatalf("create member: %v", errCreate)
		}
	}

	changes := 0
	sweeper := NewExpirySweeper(conn, func(context.Context) { changes++ })
	sweeper.now = func() time.Time { return now }
	sweeper.batchSize = 1

	n, err := sweeper.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 || changes != 1 {
		t.Fatalf("expected 1 deactivation and 1 notification, got %d and %d", n, changes)
	}

	want := map[string]models.MemberStatus{
		"lapsed":    models.MemberStatusInactive,
		"current":   models.MemberStatusActive,
		"forever":   models.MemberStatusActive,
		"suspended": models.MemberStatusSuspended,
	}
	var got []models.Member
	conn.Find(&got)
	for _, m := range got {
		if m.Status != want[m.Handle] {
			t.Fatalf("%s: expected %s, got %s", m.Handle, want[m.Handle], m.Status)
		}
	}

	if n, err = sweeper.SweepOnce(context.Background()); err != nil || n != 0 {
		t.Fatalf("expected idle second sweep, got %d (%v)", n, err)
	}
	if changes != 1 {
		t.Fatalf("idle sweep notified")
	}
}
