// Package testutil provides test fixtures for the ledger: an isolated
// in-memory store and terse builders for sales and bank entries.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/storage"
	"github.com/shopspring/decimal"
)

// TestDB represents a test database with associated test utilities.
type TestDB struct {
	Storage *storage.SQLiteStorage
	t       *testing.T
}

// SetupTestDB creates a new in-memory test database.
// It automatically handles migrations and cleanup.
//
// Example:
//
//	db := testutil.SetupTestDB(t)
//	db.SeedSales(testutil.Sale("A", "15000", testutil.Jan(10)))
func SetupTestDB(t *testing.T, opts ...storage.Option) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:", opts...)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = store.Close()
	})

	return &TestDB{
		Storage: store,
		t:       t,
	}
}

// SeedSales saves sales or fails the test.
func (db *TestDB) SeedSales(sales ...model.Sale) {
	db.t.Helper()
	if err := db.Storage.SaveSales(context.Background(), sales); err != nil {
		db.t.Fatalf("failed to seed sales: %v", err)
	}
}

// SeedBankEntries saves bank entries or fails the test.
func (db *TestDB) SeedBankEntries(entries ...model.BankEntry) {
	db.t.Helper()
	if err := db.Storage.SaveBankEntries(context.Background(), entries); err != nil {
		db.t.Fatalf("failed to seed bank entries: %v", err)
	}
}

// MustSale loads one sale or fails the test.
func (db *TestDB) MustSale(id string) model.Sale {
	db.t.Helper()
	sales, err := db.Storage.GetSales(context.Background(), []string{id})
	if err != nil {
		db.t.Fatalf("failed to load sale %s: %v", id, err)
	}
	return sales[0]
}

// MustBankEntry loads one bank entry or fails the test.
func (db *TestDB) MustBankEntry(id string) model.BankEntry {
	db.t.Helper()
	entries, err := db.Storage.GetBankEntries(context.Background(), []string{id})
	if err != nil {
		db.t.Fatalf("failed to load bank entry %s: %v", id, err)
	}
	return entries[0]
}

// Jan returns midnight UTC on the given day of January 2024.
func Jan(day int) time.Time {
	return time.Date(2024, time.January, day, 0, 0, 0, 0, time.UTC)
}

// Sale builds a sale. Amount must be a valid decimal literal.
func Sale(id, amount string, date time.Time) model.Sale {
	return model.Sale{
		ID:        id,
		Date:      date,
		Amount:    decimal.RequireFromString(amount),
		ClientRef: "client-" + id,
	}
}

// Inflow builds a deposit.
func Inflow(id, amount string, postedAt time.Time) model.BankEntry {
	return model.BankEntry{
		ID:          id,
		PostedAt:    postedAt,
		Amount:      decimal.RequireFromString(amount),
		Direction:   model.DirectionInflow,
		Description: "deposit " + id,
	}
}

// Outflow builds a payment. The amount is given unsigned and stored negative.
func Outflow(id, amount string, postedAt time.Time) model.BankEntry {
	return model.BankEntry{
		ID:          id,
		PostedAt:    postedAt,
		Amount:      decimal.RequireFromString(amount).Neg(),
		Direction:   model.DirectionOutflow,
		Description: "payment " + id,
	}
}
