package match

import (
	"testing"

	"github.com/Veraticus/tally/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestBalanced(t *testing.T) {
	tests := []struct {
		name      string
		sale      string
		bank      string
		tolerance string
		want      bool
	}{
		{name: "exact", sale: "100.00", bank: "100", tolerance: "0", want: true},
		{name: "off by a cent", sale: "100.01", bank: "100", tolerance: "0", want: false},
		{name: "within tolerance", sale: "100.01", bank: "100", tolerance: "0.01", want: true},
		{name: "bank larger within tolerance", sale: "99.50", bank: "100", tolerance: "0.5", want: true},
		{name: "negative tolerance is treated as absolute", sale: "99.50", bank: "100", tolerance: "-0.5", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Balanced(decimal.RequireFromString(tt.sale), decimal.RequireFromString(tt.bank), decimal.RequireFromString(tt.tolerance))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDeriveStatus(t *testing.T) {
	link := func(status model.LinkStatus, sale, bank string) *model.ReconciliationLink {
		return &model.ReconciliationLink{
			Status:    status,
			SaleTotal: decimal.RequireFromString(sale),
			BankTotal: decimal.RequireFromString(bank),
		}
	}

	tests := []struct {
		link *model.ReconciliationLink
		kind model.RecordKind
		want model.ReconciliationStatus
		name string
	}{
		{name: "no link", kind: model.KindSale, link: nil, want: model.StatusUnreconciled},
		{name: "proposed only", kind: model.KindSale, link: link(model.LinkProposed, "10", "10"), want: model.StatusUnreconciled},
		{name: "reversed", kind: model.KindBankEntry, link: link(model.LinkReversed, "10", "10"), want: model.StatusUnreconciled},
		{name: "balanced sale", kind: model.KindSale, link: link(model.LinkConfirmed, "10", "10"), want: model.StatusReconciled},
		{name: "balanced entry", kind: model.KindBankEntry, link: link(model.LinkConfirmed, "10", "10"), want: model.StatusReconciled},
		{name: "sale side short of cover", kind: model.KindSale, link: link(model.LinkConfirmed, "10.02", "10"), want: model.StatusPartiallyReconciled},
		{name: "entry side fully covers", kind: model.KindBankEntry, link: link(model.LinkConfirmed, "10.02", "10"), want: model.StatusReconciled},
		{name: "entry side short of cover", kind: model.KindBankEntry, link: link(model.LinkConfirmed, "9.98", "10"), want: model.StatusPartiallyReconciled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveStatus(tt.kind, tt.link))
		})
	}
}
