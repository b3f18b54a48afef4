package evm

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// nonceManager serializes transaction submission per sender. The node's pending nonce lags
// behind a transaction that was just broadcast, so each slot remembers the last nonce it handed out.
type nonceManager struct {
	mu    sync.Mutex
	slots map[common.Address]*nonceSlot
}

type nonceSlot struct {
	mu    sync.Mutex
	next  uint64
	known bool
}

func newNonceManager() *nonceManager {
	return &nonceManager{slots: make(map[common.Address]*nonceSlot)}
}

func (m *nonceManager) slot(sender common.Address) *nonceSlot {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.slots[sender]
	if !ok {
		slot = &nonceSlot{}
		m.slots[sender] = slot
	}
	return slot
}

// reserve returns the nonce to sign with. Callers hold s.mu.
func (s *nonceSlot) reserve(pending uint64) uint64 {
	if s.known && s.next > pending {
		return s.next
	}
	return pending
}

// advance records that nonce was accepted by the network
func (s *nonceSlot) advance(nonce uint64) {
	s.next, s.known = nonce+1, true
}

// reset drops the local view so the next reservation trusts the node again
func (s *nonceSlot) reset() {
	s.known = false
}
