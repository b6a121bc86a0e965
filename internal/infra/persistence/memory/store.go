// Package memory provides the in-memory entity store and prediction history
// backing foresight. Nothing is persisted; the process owns the only copy.
package memory

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/google/uuid"

	"foresight/pkg/domain"
)

// Compile-time contract assertions ensuring Store adheres to the domain persistence interfaces.
var (
	_ domain.PersistentStore               = (*Store)(nil)
	_ domain.Transaction                   = (*transaction)(nil)
	_ domain.EntityManager[domain.Room]    = (*tableTx[domain.Room, *domain.Room])(nil)
	_ domain.EntityReader[domain.Question] = tableView[domain.Question, *domain.Question]{}
	_ domain.HistoryManager                = (*historyTx)(nil)
	_ domain.HistoryReader                 = historyView{}
)

// Store is a transactional in-memory store. Update groups run under the write
// lock and publish all of their writes at once, or none of them.
type Store struct {
	mu        sync.RWMutex
	rooms     *table[domain.Room, *domain.Room]
	questions *table[domain.Question, *domain.Question]
	comments  *table[domain.Comment, *domain.Comment]
	users     *table[domain.User, *domain.User]
	history   *history
	engine    *domain.RulesEngine
	nowFn     func() time.Time
	idFn      func() string
}

// Option customises a Store.
type Option func(*Store)

// WithClock overrides the time source used for commit timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// WithIDGenerator overrides entity ID assignment.
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) {
		if gen != nil {
			s.idFn = gen
		}
	}
}

// NewStore constructs an empty store evaluating engine's rules before every commit.
func NewStore(engine *domain.RulesEngine, opts ...Option) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	s := &Store{
		rooms:     newTable[domain.Room, *domain.Room](domain.EntityRoom),
		questions: newTable[domain.Question, *domain.Question](domain.EntityQuestion),
		comments:  newTable[domain.Comment, *domain.Comment](domain.EntityComment),
		users:     newTable[domain.User, *domain.User](domain.EntityUser),
		history:   newHistory(),
		engine:    engine,
		nowFn:     func() time.Time { return time.Now().UTC() },
		idFn:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) newID() string { return s.idFn() }

// RulesEngine exposes the configured engine for plugin installation.
func (s *Store) RulesEngine() *domain.RulesEngine { return s.engine }

// NowFunc returns the time provider used by the store.
func (s *Store) NowFunc() func() time.Time { return s.nowFn }

// RunInTransaction executes fn as one update group. When fn fails or a rule
// blocks, every write made by fn is discarded.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx domain.Transaction) error) (domain.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := s.begin()
	if err := fn(tx); err != nil {
		return domain.Result{}, err
	}

	var result domain.Result
	if s.engine != nil && len(tx.changes) > 0 {
		res, err := s.engine.Evaluate(ctx, tx.Snapshot(), tx.changes)
		if err != nil {
			return domain.Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	result.Changes = tx.changes
	tx.commit()
	return result, nil
}

// View executes fn against the committed state. Writers are excluded for the
// duration of fn, so multi-entity reads are torn-free.
func (s *Store) View(_ context.Context, fn func(domain.View) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(committedView{s: s})
}

// History returns a reader over committed prediction history that is safe to
// call outside any update group.
func (s *Store) History() domain.HistoryReader {
	return lockedHistory{s: s}
}

func (s *Store) begin() *transaction {
	tx := &transaction{store: s, now: s.nowFn()}
	tx.rooms = newTableTx(s.rooms, tx)
	tx.questions = newTableTx(s.questions, tx)
	tx.comments = newTableTx(s.comments, tx)
	tx.users = newTableTx(s.users, tx)
	tx.predictions = &historyTx{base: s.history, tx: tx}
	return tx
}

type transaction struct {
	store       *Store
	now         time.Time
	changes     []domain.Change
	rooms       *tableTx[domain.Room, *domain.Room]
	questions   *tableTx[domain.Question, *domain.Question]
	comments    *tableTx[domain.Comment, *domain.Comment]
	users       *tableTx[domain.User, *domain.User]
	predictions *historyTx
}

func (tx *transaction) recordChange(change domain.Change) {
	tx.changes = append(tx.changes, change)
}

func (tx *transaction) commit() {
	tx.rooms.commit()
	tx.questions.commit()
	tx.comments.commit()
	tx.users.commit()
	tx.predictions.commit()
}

func (tx *transaction) Snapshot() domain.View                            { return txView{tx: tx} }
func (tx *transaction) Rooms() domain.EntityManager[domain.Room]         { return tx.rooms }
func (tx *transaction) Questions() domain.EntityManager[domain.Question] { return tx.questions }
func (tx *transaction) Comments() domain.EntityManager[domain.Comment]   { return tx.comments }
func (tx *transaction) Users() domain.EntityManager[domain.User]         { return tx.users }
func (tx *transaction) Predictions() domain.HistoryManager               { return tx.predictions }
func (tx *transaction) Now() time.Time                                   { return tx.now }

// txView exposes uncommitted group state to rules.
type txView struct{ tx *transaction }

func (v txView) Rooms() domain.EntityReader[domain.Room]         { return v.tx.rooms }
func (v txView) Questions() domain.EntityReader[domain.Question] { return v.tx.questions }
func (v txView) Comments() domain.EntityReader[domain.Comment]   { return v.tx.comments }
func (v txView) Users() domain.EntityReader[domain.User]         { return v.tx.users }
func (v txView) Predictions() domain.HistoryReader               { return v.tx.predictions }

type committedView struct{ s *Store }

func (v committedView) Rooms() domain.EntityReader[domain.Room] {
	return tableView[domain.Room, *domain.Room]{t: v.s.rooms}
}

func (v committedView) Questions() domain.EntityReader[domain.Question] {
	return tableView[domain.Question, *domain.Question]{t: v.s.questions}
}

func (v committedView) Comments() domain.EntityReader[domain.Comment] {
	return tableView[domain.Comment, *domain.Comment]{t: v.s.comments}
}

func (v committedView) Users() domain.EntityReader[domain.User] {
	return tableView[domain.User, *domain.User]{t: v.s.users}
}

func (v committedView) Predictions() domain.HistoryReader { return historyView{h: v.s.history} }

// lockedHistory takes the read lock per call so single-key lookups can bypass
// the mutation queue.
type lockedHistory struct{ s *Store }

func (l lockedHistory) view() (historyView, func()) {
	l.s.mu.RLock()
	return historyView{h: l.s.history}, l.s.mu.RUnlock
}

func (l lockedHistory) Latest(key domain.PredictionKey) (domain.Prediction, bool) {
	v, unlock := l.view()
	defer unlock()
	return v.Latest(key)
}

func (l lockedHistory) Query(key domain.PredictionKey) iter.Seq[domain.Prediction] {
	v, unlock := l.view()
	defer unlock()
	return v.Query(key)
}

func (l lockedHistory) At(key domain.PredictionKey, ts time.Time) (domain.Prediction, bool) {
	v, unlock := l.view()
	defer unlock()
	return v.At(key, ts)
}

func (l lockedHistory) Find(ref domain.Ref[domain.Prediction]) (domain.Prediction, bool) {
	v, unlock := l.view()
	defer unlock()
	return v.Find(ref)
}

func (l lockedHistory) Keys(question domain.Ref[domain.Question]) []domain.PredictionKey {
	v, unlock := l.view()
	defer unlock()
	return v.Keys(question)
}

func (l lockedHistory) LatestForQuestion(question domain.Ref[domain.Question]) []domain.Prediction {
	v, unlock := l.view()
	defer unlock()
	return v.LatestForQuestion(question)
}

func (l lockedHistory) LatestForUser(user domain.Ref[domain.User]) []domain.Prediction {
	v, unlock := l.view()
	defer unlock()
	return v.LatestForUser(user)
}
