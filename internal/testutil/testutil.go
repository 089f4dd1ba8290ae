package testutil

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/shohag/dispatchrelay/internal/auth"
	"github.com/shohag/dispatchrelay/internal/models"
	"github.com/shohag/dispatchrelay/internal/storage"
)

// OpenStore opens a migrated in-memory SQLite store private to the test.
func OpenStore(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	s, err := storage.NewSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate test store: %v", err)
	}
	return s
}

func Float(f float64) *float64 { return &f }

// Marketplace is a seeded store, order and set of partners.
type Marketplace struct {
	Store    *models.Store
	Order    *models.Order
	Partners []*models.DeliveryPartner
}

// SeedMarketplace creates the store at (26.66, 86.21), order 501 for
// customer 9 and one approved, available scooter partner per name. Partner
// user ids start at 100.
func SeedMarketplace(t *testing.T, s storage.Storage, status models.OrderStatus, partners ...string) *Marketplace {
	t.Helper()
	ctx := context.Background()

	st := &models.Store{Name: "Janakpur Grocers", Address: "Station Road", Phone: "+977-41-520000",
		Latitude: Float(26.66), Longitude: Float(86.21)}
	if err := s.CreateStore(ctx, st); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	o := &models.Order{
		ID: 501, CustomerID: 9, CustomerName: "Asha", Phone: "+977-980000000", StoreID: st.ID,
		TotalAmount: 1250, ItemCount: 3, Status: status, ShippingAddress: "Ramanand Chowk",
		Latitude: Float(26.7), Longitude: Float(86.25),
	}
	if err := s.CreateOrder(ctx, o); err != nil {
		t.Fatalf("seed order: %v", err)
	}

	m := &Marketplace{Store: st, Order: o}
	for i, name := range partners {
		p := &models.DeliveryPartner{
			UserID: int64(100 + i), Name: name, VehicleType: "scooter",
			Status: models.PartnerApproved, IsAvailable: true,
		}
		if err := s.CreatePartner(ctx, p); err != nil {
			t.Fatalf("seed partner %s: %v", name, err)
		}
		m.Partners = append(m.Partners, p)
	}
	return m
}

// Token returns a signed bearer token for the user.
func Token(t *testing.T, secret string, userID int64, role models.Role) string {
	t.Helper()
	tok, err := auth.Sign(secret, auth.Principal{UserID: userID, Role: role}, 0)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}
