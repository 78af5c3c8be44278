package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
)

// Validation errors.
var (
	ErrNilContext       = errors.New("context cannot be nil")
	ErrEmptyString      = errors.New("string parameter cannot be empty")
	ErrEmptySlice       = errors.New("slice cannot be empty")
	ErrInvalidSale      = errors.New("invalid sale")
	ErrInvalidBankEntry = errors.New("invalid bank entry")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

func validateSales(sales []model.Sale) error {
	if len(sales) == 0 {
		return fmt.Errorf("%w: sales", ErrEmptySlice)
	}
	for i := range sales {
		if err := validateSale(&sales[i]); err != nil {
			return fmt.Errorf("sale at index %d: %w", i, err)
		}
	}
	return nil
}

func validateSale(sale *model.Sale) error {
	if strings.TrimSpace(sale.ID) == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidSale)
	}
	if sale.Date.IsZero() {
		return fmt.Errorf("%w: missing date", ErrInvalidSale)
	}
	if sale.Amount.IsNegative() {
		return fmt.Errorf("%w: amount %s is negative", ErrInvalidSale, sale.Amount)
	}
	return nil
}

func validateBankEntries(entries []model.BankEntry) error {
	if len(entries) == 0 {
		return fmt.Errorf("%w: bank entries", ErrEmptySlice)
	}
	for i := range entries {
		if err := validateBankEntry(&entries[i]); err != nil {
			return fmt.Errorf("bank entry at index %d: %w", i, err)
		}
	}
	return nil
}

func validateBankEntry(entry *model.BankEntry) error {
	if strings.TrimSpace(entry.ID) == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidBankEntry)
	}
	if entry.PostedAt.IsZero() {
		return fmt.Errorf("%w: missing posting date", ErrInvalidBankEntry)
	}

	switch entry.Direction {
	case model.DirectionInflow:
		if entry.Amount.IsNegative() {
			return fmt.Errorf("%w: inflow with negative amount %s", ErrInvalidBankEntry, entry.Amount)
		}
	case model.DirectionOutflow:
		if entry.Amount.IsPositive() {
			return fmt.Errorf("%w: outflow with positive amount %s", ErrInvalidBankEntry, entry.Amount)
		}
	default:
		return fmt.Errorf("%w: unknown direction %q", ErrInvalidBankEntry, entry.Direction)
	}
	return nil
}

func validateTransition(t *model.Transition) error {
	switch t.Kind {
	case model.TransitionPropose, model.TransitionConfirm, model.TransitionReject, model.TransitionReverse:
	default:
		return fmt.Errorf("%w: unknown kind %q", common.ErrInvalidTransition, t.Kind)
	}
	if t.LinkID == "" && t.Candidate == nil {
		return fmt.Errorf("%w: neither link id nor candidate given", common.ErrInvalidTransition)
	}
	if strings.TrimSpace(t.Actor) == "" {
		return fmt.Errorf("%w: missing actor", common.ErrInvalidTransition)
	}
	return nil
}
