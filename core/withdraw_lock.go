package core

// RequestWithdraw moves amount from the spendable balance into the lock.
// Only one lock may be outstanding per ledger.
func (l *Ledger) RequestWithdraw(amount uint64, now int64, delaySeconds int64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	if l.Balance < amount {
		return ErrInsufficientBalance
	}
	if l.Lock.State() == LockStateLocked {
		return ErrWithdrawalPending
	}
	unlockTime, err := checkedAddInt64(now, delaySeconds)
	if err != nil {
		return err
	}
	if err := l.Debit(amount); err != nil {
		return err
	}
	l.Lock = WithdrawLock{
		LockedAmount: amount,
		UnlockTime:   unlockTime,
	}
	return nil
}

// ReleaseWithdrawal clears a matured lock and returns the released amount.
func (l *Ledger) ReleaseWithdrawal(now int64) (uint64, error) {
	if l.Lock.State() == LockStateIdle {
		return 0, ErrNoWithdrawalPending
	}
	if now < l.Lock.UnlockTime {
		return 0, ErrWithdrawalNotReady
	}
	amount := l.Lock.LockedAmount
	l.Lock = WithdrawLock{}
	return amount, nil
}
