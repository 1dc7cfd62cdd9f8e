package ledger

import (
	"context"
	"sort"
	"sync"

	"lv-margin/internal/model"
	"lv-margin/internal/types"
)

type memState struct {
	seq       int64
	order     map[string]int64
	accounts  map[model.AccountKey]model.Account
	positions map[string]model.Position
	orders    map[string]model.Order
	loans     map[string]model.Loan
	trades    []model.Trade
}

func newMemState() *memState {
	return &memState{
		order:     make(map[string]int64),
		accounts:  make(map[model.AccountKey]model.Account),
		positions: make(map[string]model.Position),
		orders:    make(map[string]model.Order),
		loans:     make(map[string]model.Loan),
	}
}

func (s *memState) clone() *memState {
	c := &memState{
		seq:       s.seq,
		order:     make(map[string]int64, len(s.order)),
		accounts:  make(map[model.AccountKey]model.Account, len(s.accounts)),
		positions: make(map[string]model.Position, len(s.positions)),
		orders:    make(map[string]model.Order, len(s.orders)),
		loans:     make(map[string]model.Loan, len(s.loans)),
		trades:    append([]model.Trade(nil), s.trades...),
	}
	for k, v := range s.order {
		c.order[k] = v
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.positions {
		c.positions[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.loans {
		c.loans[k] = v
	}
	return c
}

func (s *memState) track(id string) {
	s.seq++
	s.order[id] = s.seq
}

// MemoryStore keeps the ledger in process. Transactions are serialized and
// commit by swapping in a modified copy, so a failed unit leaves no trace.
type MemoryStore struct {
	txMu   sync.Mutex
	mu     sync.RWMutex
	state  *memState
	prices map[string]model.PriceSnapshot

	failMu sync.Mutex
	fail   map[string]error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state:  newMemState(),
		prices: make(map[string]model.PriceSnapshot),
		fail:   make(map[string]error),
	}
}

// FailNext makes the next call to the named Tx method return err.
func (s *MemoryStore) FailNext(op string, err error) {
	s.failMu.Lock()
	s.fail[op] = err
	s.failMu.Unlock()
}

func (s *MemoryStore) takeFailure(op string) error {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	err, ok := s.fail[op]
	if !ok {
		return nil
	}
	delete(s.fail, op)
	return err
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	work := s.state.clone()
	s.mu.RUnlock()
	if err := fn(ctx, &memTx{store: s, st: work}); err != nil {
		return err
	}
	if err := s.takeFailure("Commit"); err != nil {
		return err
	}
	s.mu.Lock()
	s.state = work
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) read() *memState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *MemoryStore) GetAccount(_ context.Context, key model.AccountKey) (model.Account, error) {
	acc, ok := s.read().accounts[key]
	if !ok {
		return model.Account{}, ErrNotFound
	}
	return acc, nil
}

func (s *MemoryStore) ListPositions(_ context.Context, key model.AccountKey) ([]model.Position, error) {
	return positionsOf(s.read(), &key), nil
}

func (s *MemoryStore) ListAllPositions(_ context.Context) ([]model.Position, error) {
	return positionsOf(s.read(), nil), nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id string) (model.Order, error) {
	o, ok := s.read().orders[id]
	if !ok {
		return model.Order{}, ErrNotFound
	}
	return o, nil
}

func (s *MemoryStore) ListPendingOrders(_ context.Context) ([]model.Order, error) {
	return ordersOf(s.read(), nil, types.OrderStatusPending), nil
}

func (s *MemoryStore) ListAccountOrders(_ context.Context, key model.AccountKey, status types.OrderStatus) ([]model.Order, error) {
	return ordersOf(s.read(), &key, status), nil
}

func (s *MemoryStore) ListLoans(_ context.Context, key model.AccountKey, status types.LoanStatus) ([]model.Loan, error) {
	return loansOf(s.read(), key, status), nil
}

func (s *MemoryStore) ListLoanAccounts(_ context.Context) ([]model.AccountKey, error) {
	st := s.read()
	seen := make(map[model.AccountKey]int64)
	for id, l := range st.loans {
		if l.Status != types.LoanStatusActive {
			continue
		}
		if first, ok := seen[l.AccountKey]; !ok || st.order[id] < first {
			seen[l.AccountKey] = st.order[id]
		}
	}
	out := make([]model.AccountKey, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return seen[out[i]] < seen[out[j]] })
	return out, nil
}

func (s *MemoryStore) ListTrades(_ context.Context, key model.AccountKey, limit int) ([]model.Trade, error) {
	st := s.read()
	out := make([]model.Trade, 0)
	for i := len(st.trades) - 1; i >= 0; i-- {
		if st.trades[i].AccountKey != key {
			continue
		}
		out = append(out, st.trades[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) LastPrice(_ context.Context, instrument string) (model.PriceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.prices[instrument]
	if !ok {
		return model.PriceSnapshot{}, ErrNotFound
	}
	return snap, nil
}

func (s *MemoryStore) SavePrice(_ context.Context, snap model.PriceSnapshot) error {
	if err := s.takeFailure("SavePrice"); err != nil {
		return err
	}
	s.mu.Lock()
	s.prices[snap.Instrument] = snap
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func positionsOf(st *memState, key *model.AccountKey) []model.Position {
	out := make([]model.Position, 0)
	for _, p := range st.positions {
		if key != nil && p.AccountKey != *key {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return st.order[out[i].ID] < st.order[out[j].ID] })
	return out
}

func ordersOf(st *memState, key *model.AccountKey, status types.OrderStatus) []model.Order {
	out := make([]model.Order, 0)
	for _, o := range st.orders {
		if key != nil && o.AccountKey != *key {
			continue
		}
		if status != "" && o.Status != status {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return st.order[out[i].ID] < st.order[out[j].ID] })
	return out
}

func loansOf(st *memState, key model.AccountKey, status types.LoanStatus) []model.Loan {
	out := make([]model.Loan, 0)
	for _, l := range st.loans {
		if l.AccountKey != key {
			continue
		}
		if status != "" && l.Status != status {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return st.order[out[i].ID] < st.order[out[j].ID] })
	return out
}

type memTx struct {
	store *MemoryStore
	st    *memState
}

func (t *memTx) EnsureAccount(_ context.Context, acc model.Account) (model.Account, error) {
	if err := t.store.takeFailure("EnsureAccount"); err != nil {
		return model.Account{}, err
	}
	if existing, ok := t.st.accounts[acc.AccountKey]; ok {
		return existing, nil
	}
	t.st.accounts[acc.AccountKey] = acc
	return acc, nil
}

func (t *memTx) GetAccountForUpdate(_ context.Context, key model.AccountKey) (model.Account, error) {
	acc, ok := t.st.accounts[key]
	if !ok {
		return model.Account{}, ErrNotFound
	}
	return acc, nil
}

func (t *memTx) UpdateAccount(_ context.Context, acc model.Account) error {
	if err := t.store.takeFailure("UpdateAccount"); err != nil {
		return err
	}
	if _, ok := t.st.accounts[acc.AccountKey]; !ok {
		return ErrNotFound
	}
	t.st.accounts[acc.AccountKey] = acc
	return nil
}

func (t *memTx) ListPositions(_ context.Context, key model.AccountKey) ([]model.Position, error) {
	return positionsOf(t.st, &key), nil
}

func (t *memTx) GetPositionForUpdate(_ context.Context, key model.AccountKey, instrument string, side types.PositionSide) (model.Position, error) {
	for _, p := range t.st.positions {
		if p.AccountKey == key && p.Instrument == instrument && p.Side == side {
			return p, nil
		}
	}
	return model.Position{}, ErrNotFound
}

func (t *memTx) InsertPosition(_ context.Context, p model.Position) error {
	if err := t.store.takeFailure("InsertPosition"); err != nil {
		return err
	}
	t.st.positions[p.ID] = p
	t.st.track(p.ID)
	return nil
}

func (t *memTx) UpdatePosition(_ context.Context, p model.Position) error {
	if err := t.store.takeFailure("UpdatePosition"); err != nil {
		return err
	}
	if _, ok := t.st.positions[p.ID]; !ok {
		return ErrNotFound
	}
	t.st.positions[p.ID] = p
	return nil
}

func (t *memTx) DeletePosition(_ context.Context, id string) error {
	if err := t.store.takeFailure("DeletePosition"); err != nil {
		return err
	}
	if _, ok := t.st.positions[id]; !ok {
		return ErrNotFound
	}
	delete(t.st.positions, id)
	return nil
}

func (t *memTx) InsertOrder(_ context.Context, o model.Order) error {
	if err := t.store.takeFailure("InsertOrder"); err != nil {
		return err
	}
	t.st.orders[o.ID] = o
	t.st.track(o.ID)
	return nil
}

func (t *memTx) GetOrderForUpdate(_ context.Context, id string) (model.Order, error) {
	o, ok := t.st.orders[id]
	if !ok {
		return model.Order{}, ErrNotFound
	}
	return o, nil
}

func (t *memTx) UpdateOrder(_ context.Context, o model.Order) error {
	if err := t.store.takeFailure("UpdateOrder"); err != nil {
		return err
	}
	if _, ok := t.st.orders[o.ID]; !ok {
		return ErrNotFound
	}
	t.st.orders[o.ID] = o
	return nil
}

func (t *memTx) ListAccountOrders(_ context.Context, key model.AccountKey, status types.OrderStatus) ([]model.Order, error) {
	return ordersOf(t.st, &key, status), nil
}

func (t *memTx) InsertLoan(_ context.Context, l model.Loan) error {
	if err := t.store.takeFailure("InsertLoan"); err != nil {
		return err
	}
	t.st.loans[l.ID] = l
	t.st.track(l.ID)
	return nil
}

func (t *memTx) UpdateLoan(_ context.Context, l model.Loan) error {
	if err := t.store.takeFailure("UpdateLoan"); err != nil {
		return err
	}
	if _, ok := t.st.loans[l.ID]; !ok {
		return ErrNotFound
	}
	t.st.loans[l.ID] = l
	return nil
}

func (t *memTx) ListLoans(_ context.Context, key model.AccountKey, status types.LoanStatus) ([]model.Loan, error) {
	return loansOf(t.st, key, status), nil
}

func (t *memTx) InsertTrade(_ context.Context, tr model.Trade) error {
	if err := t.store.takeFailure("InsertTrade"); err != nil {
		return err
	}
	t.st.trades = append(t.st.trades, tr)
	return nil
}
