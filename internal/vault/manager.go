package vault

import (
	"sync"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/goldenflop/goldenflop/internal/chain"
	"github.com/goldenflop/goldenflop/internal/store"
)

// Manager holds the per-room vaults and runs the startup recovery scan.
type Manager struct {
	mu     sync.RWMutex
	vaults map[string]*Vault
	client chain.Client
	store  *store.Store
	policy Policy
	logger *log.Logger
	clock  quartz.Clock
}

// NewManager builds an empty vault registry.
func NewManager(client chain.Client, s *store.Store, policy Policy, logger *log.Logger, clock quartz.Clock) *Manager {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Manager{
		vaults: make(map[string]*Vault),
		client: client,
		store:  s,
		policy: policy,
		logger: logger.WithPrefix("vault-manager"),
		clock:  clock,
	}
}

// Register creates the vault for a room from its keypair.
func (m *Manager) Register(roomID string, keypair *chain.Keypair) *Vault {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := New(roomID, keypair, m.client, m.store, m.policy, m.logger, m.clock)
	m.vaults[roomID] = v
	m.logger.Info("vault registered", "room", roomID, "address", v.Address())
	return v
}

// Get returns the vault for a room, if one is configured.
func (m *Manager) Get(roomID string) (*Vault, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vaults[roomID]
	return v, ok
}

// All returns every registered vault keyed by room id.
func (m *Manager) All() map[string]*Vault {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*Vault, len(m.vaults))
	for id, v := range m.vaults {
		out[id] = v
	}
	return out
}

// RecoverPending logs every payout left PENDING or SENT by a previous
// run so an operator can resolve them; automatic resumption is handled
// out of band.
func (m *Manager) RecoverPending() error {
	open, err := m.store.ListNonTerminalPayouts()
	if err != nil {
		return err
	}
	for _, p := range open {
		m.logger.Warn("payout left non-terminal by previous run",
			"payout", p.ID, "room", p.RoomID, "user", p.UserID,
			"kind", p.Kind, "amount", p.Amount, "status", p.Status, "tx", p.TxID.String)
	}
	if len(open) > 0 {
		m.logger.Warn("non-terminal payouts need operator attention", "count", len(open))
	}
	return nil
}
