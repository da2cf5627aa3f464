package command

import (
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"TradeWarden/internal/model"
	"TradeWarden/internal/store"
)

var (
	// ErrNoPendingConfirmation means the issuer has nothing awaiting /confirm.
	ErrNoPendingConfirmation = errors.New("nothing to confirm")
	// ErrExpired means the pending confirmation's TTL lapsed before /confirm.
	ErrExpired = errors.New("confirmation expired")
	// ErrMismatch means /confirm repeated a reference that does not match
	// what was staged.
	ErrMismatch = errors.New("confirmation does not match pending command")
)

// DefaultTTL bounds how long a staged command stays confirmable.
const DefaultTTL = 60 * time.Second

// Machine stages confirmation-gated commands per issuer. One pending command
// per issuer: issuing a new one replaces the old, and any unrelated command
// from the same issuer cancels what was staged. Expiry is lazy: nothing
// fires at the deadline, the check happens when /confirm arrives (a periodic
// sweep tidies abandoned rows).
type Machine struct {
	mu    sync.Mutex
	store store.Store
	ttl   time.Duration
	now   func() time.Time
	// pending mirrors the store for lock-free-ish lookup; store is the
	// durable copy so staged commands survive restarts.
	pending map[string]model.PendingConfirmation
}

func NewMachine(st store.Store, ttl time.Duration) *Machine {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Machine{
		store:   st,
		ttl:     ttl,
		now:     time.Now,
		pending: make(map[string]model.PendingConfirmation),
	}
}

// Issue stages a command for the issuer, replacing any previous pending one.
func (m *Machine) Issue(issuer string, kind model.CommandKind, reference, prompt string) (model.PendingConfirmation, error) {
	pc := model.PendingConfirmation{
		ID:        uuid.NewString(),
		Issuer:    issuer,
		Kind:      kind,
		Reference: reference,
		Prompt:    prompt,
		State:     model.ConfirmAwaiting,
		IssuedAt:  m.now().UTC(),
	}
	pc.ExpiresAt = pc.IssuedAt.Add(m.ttl)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.UpsertConfirmation(pc); err != nil {
		return model.PendingConfirmation{}, model.External("save confirmation", err)
	}
	m.pending[issuer] = pc
	return pc, nil
}

// Confirm resolves the issuer's pending command. The reference the issuer
// repeats must match what was staged; expiry is checked here, lazily. On
// success the confirmed command is returned and the slot is cleared.
func (m *Machine) Confirm(issuer, reference string) (model.PendingConfirmation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pc, ok := m.pending[issuer]
	if !ok {
		return model.PendingConfirmation{}, ErrNoPendingConfirmation
	}

	if m.now().After(pc.ExpiresAt) {
		m.clear(issuer)
		return model.PendingConfirmation{}, ErrExpired
	}
	if !strings.EqualFold(strings.TrimSpace(reference), pc.Reference) {
		return model.PendingConfirmation{}, ErrMismatch
	}

	pc.State = model.ConfirmConfirmed
	m.clear(issuer)
	return pc, nil
}

// Invalidate cancels the issuer's pending command, if any. Called both for
// explicit /cancel and whenever the issuer sends any unrelated command: a
// stale confirmation must never apply to a context the issuer has moved past.
func (m *Machine) Invalidate(issuer string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pending[issuer]; !ok {
		return false
	}
	m.clear(issuer)
	return true
}

// Pending returns the issuer's staged command if one is still live.
func (m *Machine) Pending(issuer string) (model.PendingConfirmation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pc, ok := m.pending[issuer]
	if !ok {
		return model.PendingConfirmation{}, false
	}
	if m.now().After(pc.ExpiresAt) {
		m.clear(issuer)
		return model.PendingConfirmation{}, false
	}
	return pc, true
}

// Sweep drops every expired pending command. Run periodically; correctness
// does not depend on it since Confirm checks expiry itself.
func (m *Machine) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for issuer, pc := range m.pending {
		if now.After(pc.ExpiresAt) {
			m.clear(issuer)
			n++
		}
	}
	if n > 0 {
		log.Printf("[INFO] swept %d expired confirmations", n)
	}
	return n
}

func (m *Machine) clear(issuer string) {
	delete(m.pending, issuer)
	if err := m.store.DeleteConfirmation(issuer); err != nil {
		log.Printf("[WARN] delete confirmation for %s: %v", issuer, err)
	}
}
