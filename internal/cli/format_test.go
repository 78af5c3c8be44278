package cli

import (
	"testing"
	"time"

	"github.com/Veraticus/tally/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "$100.00", FormatAmount(decimal.NewFromInt(100)))
	assert.Equal(t, "$0.05", FormatAmount(decimal.RequireFromString("0.049")))
}

func TestFormatCandidate(t *testing.T) {
	day := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	c := model.NewCandidate(
		[]model.Sale{
			{ID: "A", Date: day, Amount: decimal.NewFromInt(100), ClientRef: "acme"},
			{ID: "B", Date: day, Amount: decimal.NewFromInt(50)},
		},
		[]model.BankEntry{
			{ID: "X", PostedAt: day, Amount: decimal.NewFromInt(150), Direction: model.DirectionInflow, Description: "DEPOSIT"},
		},
		model.MethodAuto, model.PassAggregate,
	)
	c.LinkID = "L1"
	c.Score = 0.75

	out := FormatCandidate(c)
	assert.Contains(t, out, "aggregate match (2 sales, 1 bank entries)")
	assert.Contains(t, out, "L1")
	assert.Contains(t, out, "acme")
	assert.Contains(t, out, "DEPOSIT")
	assert.Contains(t, out, "$150.00 / $150.00")
	assert.Contains(t, out, "score 0.75")
}

func TestFormatAuditEntry(t *testing.T) {
	entry := model.AuditEntry{
		At:        time.Date(2024, 1, 31, 9, 0, 0, 0, time.UTC),
		From:      model.LinkConfirmed,
		To:        model.LinkReversed,
		Actor:     "alice",
		Reason:    "wrong client",
		SaleTotal: decimal.NewFromInt(10),
		BankTotal: decimal.NewFromInt(10),
	}

	out := FormatAuditEntry(entry)
	assert.Contains(t, out, "2024-01-31 09:00:00")
	assert.Contains(t, out, "confirmed → ")
	assert.Contains(t, out, "reversed")
	assert.Contains(t, out, "by alice")
	assert.Contains(t, out, "wrong client")
}
