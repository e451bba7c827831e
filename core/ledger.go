package core

import "math/bits"

func checkedAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrArithmeticOverflow
	}
	return sum, nil
}

func checkedSub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, ErrArithmeticUnderflow
	}
	return diff, nil
}

func checkedAddInt64(a, b int64) (int64, error) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, ErrArithmeticOverflow
	}
	return sum, nil
}

func (l *Ledger) Credit(amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	next, err := checkedAdd(l.Balance, amount)
	if err != nil {
		return err
	}
	l.Balance = next
	return nil
}

func (l *Ledger) Debit(amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	if l.Balance < amount {
		return ErrInsufficientBalance
	}
	next, err := checkedSub(l.Balance, amount)
	if err != nil {
		return err
	}
	l.Balance = next
	return nil
}
