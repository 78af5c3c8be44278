package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/tally/internal/common"
)

// UserMessage renders err as something an operator can act on.
// Each engine error kind gets its own wording.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var (
		conflict *common.ConflictError
		stale    *common.StaleCandidateError
		mismatch *common.AmountMismatchError
		notFound *common.NotFoundError
		persist  *common.PersistenceError
		userErr  *common.UserError
	)

	switch {
	case errors.As(err, &userErr):
		return userErr.UserMessage
	case errors.As(err, &conflict):
		if len(conflict.RecordIDs) > 0 {
			return fmt.Sprintf("%s was just reconciled by someone else. Run suggest again for fresh matches.",
				strings.Join(conflict.RecordIDs, ", "))
		}
		return fmt.Sprintf("Link %s was already settled by someone else. Run suggest again for fresh matches.", conflict.LinkID)
	case errors.As(err, &stale):
		return fmt.Sprintf("%s changed after this match was proposed. Run suggest again to review the updated amounts.",
			strings.Join(stale.RecordIDs, ", "))
	case errors.As(err, &mismatch):
		return fmt.Sprintf("Amounts don't add up: sales total %s, bank total %s (off by %s).",
			mismatch.SaleTotal.StringFixed(2), mismatch.BankTotal.StringFixed(2), mismatch.Difference().StringFixed(2))
	case errors.As(err, &notFound):
		return fmt.Sprintf("No %s with id %s.", notFound.Kind, notFound.ID)
	case errors.Is(err, common.ErrInvalidTransition):
		return "That action isn't allowed for the link in its current state."
	case errors.Is(err, common.ErrInvalidCandidate):
		return "That match isn't valid: " + err.Error()
	case errors.Is(err, common.ErrInvalidConfig), errors.Is(err, common.ErrMissingConfig):
		return "Configuration problem: " + err.Error()
	case errors.Is(err, context.Canceled):
		return "Cancelled."
	case errors.As(err, &persist):
		return "The ledger could not be updated, nothing was changed. Try again shortly."
	default:
		return err.Error()
	}
}
