package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scorepeers/settlement/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var errInjected = errors.New("injected storage failure")

type acctKey struct {
	user     string
	currency domain.Currency
}

// memState is everything the database would hold.
type memState struct {
	contests map[string]domain.Contest
	entries  map[string][]domain.Entry
	props    map[string]domain.Prop
	accounts map[acctKey]domain.Amount
	ledger   []domain.LedgerEntry
	closures map[string]domain.Closure
	audit    []domain.AuditEntry
}

func newMemState() *memState {
	return &memState{
		contests: map[string]domain.Contest{},
		entries:  map[string][]domain.Entry{},
		props:    map[string]domain.Prop{},
		accounts: map[acctKey]domain.Amount{},
		closures: map[string]domain.Closure{},
	}
}

func (s *memState) clone() *memState {
	out := &memState{
		contests: maps.Clone(s.contests),
		entries:  make(map[string][]domain.Entry, len(s.entries)),
		props:    maps.Clone(s.props),
		accounts: maps.Clone(s.accounts),
		ledger:   slices.Clone(s.ledger),
		closures: maps.Clone(s.closures),
		audit:    slices.Clone(s.audit),
	}
	for k, es := range s.entries {
		out.entries[k] = cloneEntries(es)
	}
	return out
}

func cloneEntries(es []domain.Entry) []domain.Entry {
	out := slices.Clone(es)
	for i := range out {
		out[i].Picks = slices.Clone(out[i].Picks)
	}
	return out
}

// memStore is an in-memory unit of work. Transactions run one at a time
// against a snapshot that is only swapped in on success, which models both
// the row lock and rollback.
type memStore struct {
	mu    sync.Mutex
	state *memState

	// failOn names a Tx method that returns errInjected.
	failOn string
	trace  []string
	txs    int
}

func newMemStore() *memStore {
	return &memStore{state: newMemState()}
}

func (m *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs++
	tx := &memTx{store: m, s: m.state.clone()}
	if err := fn(ctx, tx); err != nil {
		m.trace = append(m.trace, "rollback")
		return err
	}
	m.state = tx.s
	m.trace = append(m.trace, "commit")
	return nil
}

func (m *memStore) snapshot() *memState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

func (m *memStore) seedProp(p domain.Prop) {
	m.state.props[p.ID] = p
}

func (m *memStore) seedContest(c domain.Contest) {
	c.PlayerStatus = c.AdminStatus.PlayerStatus()
	m.state.contests[c.ID] = c
}

func (m *memStore) seedEntry(e domain.Entry) {
	m.state.entries[e.ContestID] = append(m.state.entries[e.ContestID], e)
}

func (m *memStore) seedBalance(user string, cur domain.Currency, amt domain.Amount) {
	m.state.accounts[acctKey{user, cur}] = amt
}

func (m *memStore) balance(user string, cur domain.Currency) domain.Amount {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.accounts[acctKey{user, cur}]
}

func (m *memStore) contest(id string) domain.Contest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.contests[id]
}

// Read-side store views.

type memContests struct{ *memStore }

func (m memContests) GetByID(_ context.Context, id string) (domain.Contest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.state.contests[id]
	if !ok {
		return domain.Contest{}, domain.ErrNotFound
	}
	return c, nil
}

func (m memContests) ListEntries(_ context.Context, id string) ([]domain.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneEntries(m.state.entries[id]), nil
}

func (m memContests) GetClosure(_ context.Context, id string) (domain.Closure, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.state.closures[id]
	if !ok {
		return domain.Closure{}, domain.ErrNotFound
	}
	return c, nil
}

func (m memContests) ListDue(_ context.Context, now time.Time, limit int) ([]domain.Contest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Contest
	for _, c := range m.state.contests {
		open := c.AdminStatus == domain.AdminAvailable || c.AdminStatus == domain.AdminReady
		if open && !c.EventStartsAt.After(now) {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b domain.Contest) int { return a.EventStartsAt.Compare(b.EventStartsAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memProps struct{ *memStore }

func (m memProps) GetByID(_ context.Context, id string) (domain.Prop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.state.props[id]
	if !ok {
		return domain.Prop{}, domain.ErrNotFound
	}
	return p, nil
}

func (m memProps) GetMany(_ context.Context, ids []string) (map[string]domain.Prop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]domain.Prop, len(ids))
	for _, id := range ids {
		if p, ok := m.state.props[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (m *memStore) Balances(_ context.Context, userID string) ([]domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Account
	for k, v := range m.state.accounts {
		if k.user == userID {
			out = append(out, domain.Account{UserID: k.user, Currency: k.currency, Balance: v})
		}
	}
	slices.SortFunc(out, func(a, b domain.Account) int { return cmpString(string(a.Currency), string(b.Currency)) })
	return out, nil
}

func (m *memStore) ListUnarchived(context.Context, time.Time, int) ([]domain.LedgerEntry, error) {
	return nil, nil
}

func (m *memStore) MarkArchived(context.Context, []string, time.Time) error { return nil }

func (m *memStore) Log(_ context.Context, e domain.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.audit = append(m.state.audit, e)
	return nil
}

func (m *memStore) List(_ context.Context, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.state.audit), nil
}

func (m *memStore) ListByContest(_ context.Context, contestID string, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AuditEntry
	for _, e := range m.state.audit {
		if e.ContestID == contestID {
			out = append(out, e)
		}
	}
	return out, nil
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// memTx operates on a private snapshot.
type memTx struct {
	store *memStore
	s     *memState
}

func (t *memTx) step(name string) error {
	t.store.trace = append(t.store.trace, name)
	if t.store.failOn == name {
		return fmt.Errorf("%s: %w", name, errInjected)
	}
	return nil
}

func (t *memTx) Credit(_ context.Context, e domain.LedgerEntry) (domain.LedgerEntry, error) {
	if err := t.step("Credit"); err != nil {
		return domain.LedgerEntry{}, err
	}
	return t.append(e, e.Amount)
}

func (t *memTx) Debit(_ context.Context, e domain.LedgerEntry) (domain.LedgerEntry, error) {
	if err := t.step("Debit"); err != nil {
		return domain.LedgerEntry{}, err
	}
	if t.s.accounts[acctKey{e.UserID, e.Currency}] < e.Amount {
		return domain.LedgerEntry{}, domain.ErrInsufficientFunds
	}
	return t.append(e, -e.Amount)
}

func (t *memTx) append(e domain.LedgerEntry, delta domain.Amount) (domain.LedgerEntry, error) {
	for _, l := range t.s.ledger {
		if l.ContestID == e.ContestID && l.UserID == e.UserID && l.Kind == e.Kind {
			return domain.LedgerEntry{}, domain.ErrConflict
		}
	}
	key := acctKey{e.UserID, e.Currency}
	t.s.accounts[key] += delta
	e.ID = uuid.NewString()
	e.Amount = delta
	e.BalanceAfter = t.s.accounts[key]
	t.s.ledger = append(t.s.ledger, e)
	return e, nil
}

func (t *memTx) LockContest(_ context.Context, id string) (domain.Contest, error) {
	if err := t.step("LockContest"); err != nil {
		return domain.Contest{}, err
	}
	c, ok := t.s.contests[id]
	if !ok {
		return domain.Contest{}, domain.ErrNotFound
	}
	c.PropIDs = slices.Clone(c.PropIDs)
	return c, nil
}

func (t *memTx) InsertContest(_ context.Context, c domain.Contest) error {
	if err := t.step("InsertContest"); err != nil {
		return err
	}
	if _, ok := t.s.contests[c.ID]; ok {
		return domain.ErrAlreadyExists
	}
	t.s.contests[c.ID] = c
	return nil
}

func (t *memTx) SaveContest(_ context.Context, c domain.Contest) error {
	if err := t.step("SaveContest"); err != nil {
		return err
	}
	if c.PlayerStatus != c.AdminStatus.PlayerStatus() {
		return fmt.Errorf("status axes diverged: %s/%s", c.AdminStatus, c.PlayerStatus)
	}
	t.s.contests[c.ID] = c
	return nil
}

func (t *memTx) ListEntries(_ context.Context, contestID string) ([]domain.Entry, error) {
	if err := t.step("ListEntries"); err != nil {
		return nil, err
	}
	return cloneEntries(t.s.entries[contestID]), nil
}

func (t *memTx) HasEntry(_ context.Context, contestID, userID string) (bool, error) {
	for _, e := range t.s.entries[contestID] {
		if e.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) InsertEntry(_ context.Context, e domain.Entry) error {
	if err := t.step("InsertEntry"); err != nil {
		return err
	}
	e.Picks = slices.Clone(e.Picks)
	t.s.entries[e.ContestID] = append(t.s.entries[e.ContestID], e)
	return nil
}

func (t *memTx) SavePickResults(_ context.Context, picks []domain.Pick) error {
	if err := t.step("SavePickResults"); err != nil {
		return err
	}
	byID := make(map[string]domain.Pick, len(picks))
	for _, p := range picks {
		byID[p.ID] = p
	}
	for cid, es := range t.s.entries {
		for i := range es {
			for j := range es[i].Picks {
				if p, ok := byID[es[i].Picks[j].ID]; ok {
					es[i].Picks[j].Result = p.Result
					es[i].Picks[j].Points = p.Points
				}
			}
		}
		t.s.entries[cid] = es
	}
	return nil
}

func (t *memTx) SaveEntryResults(_ context.Context, entries []domain.Entry) error {
	if err := t.step("SaveEntryResults"); err != nil {
		return err
	}
	for _, e := range entries {
		es := t.s.entries[e.ContestID]
		for i := range es {
			if es[i].ID == e.ID {
				es[i].Score, es[i].Rank = e.Score, e.Rank
				es[i].Prize, es[i].WinnerStatus = e.Prize, e.WinnerStatus
			}
		}
	}
	return nil
}

func (t *memTx) GetProps(_ context.Context, ids []string) (map[string]domain.Prop, error) {
	if err := t.step("GetProps"); err != nil {
		return nil, err
	}
	out := make(map[string]domain.Prop, len(ids))
	for _, id := range ids {
		if p, ok := t.s.props[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (t *memTx) LockProp(_ context.Context, id string) (domain.Prop, error) {
	p, ok := t.s.props[id]
	if !ok {
		return domain.Prop{}, domain.ErrNotFound
	}
	return p, nil
}

func (t *memTx) InsertProp(_ context.Context, p domain.Prop) error {
	if err := t.step("InsertProp"); err != nil {
		return err
	}
	t.s.props[p.ID] = p
	return nil
}

func (t *memTx) SavePropOutcome(_ context.Context, p domain.Prop) error {
	if err := t.step("SavePropOutcome"); err != nil {
		return err
	}
	t.s.props[p.ID] = p
	return nil
}

func (t *memTx) PropSettled(_ context.Context, propID string) (bool, error) {
	for cid, es := range t.s.entries {
		if t.s.contests[cid].AdminStatus != domain.AdminSettled {
			continue
		}
		for _, e := range es {
			if slices.Contains(e.PropIDs(), propID) {
				return true, nil
			}
		}
	}
	return false, nil
}

func (t *memTx) GetClosure(_ context.Context, contestID string) (domain.Closure, error) {
	c, ok := t.s.closures[contestID]
	if !ok {
		return domain.Closure{}, domain.ErrNotFound
	}
	return c, nil
}

func (t *memTx) InsertClosure(_ context.Context, c domain.Closure) error {
	if err := t.step("InsertClosure"); err != nil {
		return err
	}
	if _, ok := t.s.closures[c.ContestID]; ok {
		return domain.ErrConflict
	}
	t.s.closures[c.ContestID] = c
	return nil
}

func (t *memTx) AppendAudit(_ context.Context, e domain.AuditEntry) error {
	if err := t.step("AppendAudit"); err != nil {
		return err
	}
	t.s.audit = append(t.s.audit, e)
	return nil
}

// memLocks is a process-local LockManager.
type memLocks struct {
	mu   sync.Mutex
	held map[string]bool
	err  error
}

func newMemLocks() *memLocks { return &memLocks{held: map[string]bool{}} }

func (l *memLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}

// recorder captures the post-commit side effects.
type recorder struct {
	mu          sync.Mutex
	published   [][]byte
	streamed    [][]byte
	invalidated []string
	receipts    []domain.Closure
	notes       []string
	publishErr  error
}

func (r *recorder) Publish(_ context.Context, _ string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.publishErr != nil {
		return r.publishErr
	}
	r.published = append(r.published, payload)
	return nil
}

func (r *recorder) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (r *recorder) StreamAppend(_ context.Context, _ string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streamed = append(r.streamed, payload)
	return nil
}

func (r *recorder) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (r *recorder) Set(context.Context, domain.ContestView) error { return nil }

func (r *recorder) Get(context.Context, string) (domain.ContestView, error) {
	return domain.ContestView{}, domain.ErrNotFound
}

func (r *recorder) Invalidate(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidated = append(r.invalidated, id)
	return nil
}

func (r *recorder) WriteReceipt(_ context.Context, c domain.Closure) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.receipts = append(r.receipts, c)
	return nil
}

func (r *recorder) Notify(_ context.Context, event, _, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, event)
	return nil
}
