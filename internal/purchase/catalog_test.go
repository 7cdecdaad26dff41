package purchase

import (
	"context"
	"errors"
	"testing"

	"github.com/router-for-me/MemberLedger/internal/models"
	"github.com/shopspring/decimal"
)

func TestCreatePackageValidation(t *testing.T) {
	conn := setupPurchaseDB(t)
	flow := newFlow(conn, nil)
	ctx := context.Background()

	bad := []models.Package{
		{Name: "", Amount: decimal.NewFromInt(10)},
		{Name: "free", Amount: decimal.Zero},
		{Name: "neg", Amount: decimal.NewFromInt(10), DirectCommission: decimal.NewFromInt(-1)},
		{Name: "pts", Amount: decimal.NewFromInt(10), Points: -5},
	}
	for i := range bad {
		if errCreate := flow.CreatePackage(ctx, &bad[i]); !errors.Is(errCreate, ErrInvalidPackage) {
			t.Fatalf("case %d: expected ErrInvalidPackage, got %v", i, errCreate)
		}
	}

	ok := models.Package{Name: " silver ", Amount: decimal.NewFromInt(300), IsEnabled: true}
	if errCreate := flow.CreatePackage(ctx, &ok); errCreate != nil {
		t.Fatalf("create package: %v", errCreate)
	}
	if ok.ID == 0 || ok.Name != "silver" {
		t.Fatalf("unexpected package: %+v", ok)
	}

	list, errList := flow.ListPackages(ctx, true)
	if errList != nil {
		t.Fatalf("list packages: %v", errList)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 enabled package, got %d", len(list))
	}
}

func TestUpdatePackageFreezesMoneyAfterApproval(t *testing.T) {
	conn := setupPurchaseDB(t)
	_, buyer, pkg := seed(t, conn)
	flow := newFlow(conn, nil)
	ctx := context.Background()

	price := decimal.NewFromInt(1200)
	if _, errUpdate := flow.UpdatePackage(ctx, pkg.ID, PackageUpdate{Amount: &price}); errUpdate != nil {
		t.Fatalf("update unreferenced package: %v", errUpdate)
	}

	req, errCreate := flow.CreateRequest(ctx, buyer.ID, pkg.ID)
	if errCreate != nil {
		t.Fatalf("create request: %v", errCreate)
	}
	if _, errApprove := flow.Approve(ctx, req.ID); errApprove != nil {
		t.Fatalf("approve: %v", errApprove)
	}

	direct := decimal.NewFromInt(90)
	if _, errUpdate := flow.UpdatePackage(ctx, pkg.ID, PackageUpdate{DirectCommission: &direct}); !errors.Is(errUpdate, ErrPackageReferenced) {
		t.Fatalf("expected ErrPackageReferenced, got %v", errUpdate)
	}

	disabled := false
	name := "gold (retired)"
	updated, errUpdate := flow.UpdatePackage(ctx, pkg.ID, PackageUpdate{Name: &name, IsEnabled: &disabled})
	if errUpdate != nil {
		t.Fatalf("update non-money fields: %v", errUpdate)
	}
	if updated.IsEnabled || updated.Name != name || !updated.Amount.Equal(price) {
		t.Fatalf("unexpected package after update: %+v", updated)
	}

	if _, errUpdate := flow.UpdatePackage(ctx, 9999, PackageUpdate{Name: &name}); errUpdate == nil {
		t.Fatalf("expected not found for unknown package")
	}
}
