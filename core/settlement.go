package core

// ApplySettlement validates a mandate against the payer ledger and debits it.
// The nonce is consumed before the debit; the caller commits both or neither.
func (l *Ledger) ApplySettlement(amount uint64, nonce uint64, deadline int64, now int64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	if now > deadline {
		return ErrMandateExpired
	}
	if l.UsedNonces.Contains(nonce) {
		return ErrNonceUsed
	}
	if l.Balance < amount {
		return ErrInsufficientBalance
	}
	l.UsedNonces.Mark(nonce)
	return l.Debit(amount)
}
