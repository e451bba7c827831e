package core

import "slices"

const NonceWindowCapacity = 100

// NonceWindow keeps the most recently consumed settlement nonces of a ledger.
// Once full the oldest entry is evicted, so a nonce becomes acceptable again
// after NonceWindowCapacity later settlements.
type NonceWindow struct {
	nonces []uint64
}

func NewNonceWindow(nonces ...uint64) NonceWindow {
	window := NonceWindow{}
	for _, nonce := range nonces {
		window.Mark(nonce)
	}
	return window
}

func (w NonceWindow) Contains(nonce uint64) bool {
	for _, used := range w.nonces {
		if used == nonce {
			return true
		}
	}
	return false
}

func (w *NonceWindow) Mark(nonce uint64) {
	if len(w.nonces) >= NonceWindowCapacity {
		w.nonces = slices.Delete(w.nonces, 0, len(w.nonces)-NonceWindowCapacity+1)
	}
	w.nonces = append(w.nonces, nonce)
}

func (w NonceWindow) Len() int {
	return len(w.nonces)
}

// Values returns the window oldest first.
func (w NonceWindow) Values() []uint64 {
	return slices.Clone(w.nonces)
}

func (w NonceWindow) Clone() NonceWindow {
	return NonceWindow{nonces: slices.Clone(w.nonces)}
}
