// Package storage holds the consistency checks shared by the account store backends.
package storage

import (
	"github.com/pkg/errors"

	"github.com/vadiminshakov/stockfolio/internal/domain"
)

// CheckCommit verifies that next and record extend current by exactly one trade.
func CheckCommit(current, next domain.Account, record domain.TransactionRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	if record.AccountID != next.ID || next.ID != current.ID {
		return errors.Errorf("record for %q does not belong to account %q", record.AccountID, current.ID)
	}
	if next.TradeCount != current.TradeCount+1 || record.Sequence != next.TradeCount {
		return errors.Wrapf(domain.ErrStaleAccount,
			"account %s at trade %d, commit carries trade %d (sequence %d)",
			current.ID, current.TradeCount, next.TradeCount, record.Sequence)
	}
	if next.Balance.IsNegative() {
		return errors.Errorf("account %s balance would go negative", next.ID)
	}
	return nil
}

// CheckSave verifies that a non-trade update does not race a trade.
func CheckSave(current, next domain.Account) error {
	if next.ID != current.ID {
		return errors.Errorf("cannot save account %q over %q", next.ID, current.ID)
	}
	if next.TradeCount != current.TradeCount {
		return errors.Wrapf(domain.ErrStaleAccount,
			"account %s at trade %d, update carries trade %d", current.ID, current.TradeCount, next.TradeCount)
	}
	if next.Balance.IsNegative() {
		return errors.Errorf("account %s balance would go negative", next.ID)
	}
	return nil
}
