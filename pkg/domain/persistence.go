package domain

import (
	"context"
	"iter"
	"time"
)

// EntityReader is the read side of one typed entity table.
type EntityReader[T any] interface {
	// Deref resolves a reference. A missing target is reported as absent, never as an error.
	Deref(ref Ref[T]) (T, bool)
	List() []T
}

// EntityManager is the typed CRUD surface for one entity kind inside an update group.
type EntityManager[T any] interface {
	EntityReader[T]
	// Insert stores a new entity, assigning an ID when blank.
	Insert(entity T) (T, error)
	// Modify applies transform to the stored value. NotFound when ref does not resolve.
	Modify(ref Ref[T], transform func(*T) error) (T, error)
	// Replace overwrites the stored value that shares entity's ID.
	Replace(entity T) (T, error)
	// Delete removes the entity. NotFound unless ignoreMissing is set.
	Delete(ref Ref[T], ignoreMissing bool) error
}

// HistoryReader exposes prediction history lookups.
type HistoryReader interface {
	// Latest returns the newest entry for key in O(1).
	Latest(key PredictionKey) (Prediction, bool)
	// Query yields every entry for key in timestamp order. The sequence is
	// restartable and reflects the state at the time Query was called.
	Query(key PredictionKey) iter.Seq[Prediction]
	// At returns the newest entry with Timestamp <= ts.
	At(key PredictionKey, ts time.Time) (Prediction, bool)
	// Find resolves a single entry by ID.
	Find(ref Ref[Prediction]) (Prediction, bool)
	// LatestForQuestion returns the latest entry of every user on the question.
	LatestForQuestion(question Ref[Question]) []Prediction
	// LatestForUser returns the latest entry of the user on every question.
	LatestForUser(user Ref[User]) []Prediction
	// Keys returns every history key on the question.
	Keys(question Ref[Question]) []PredictionKey
}

// HistoryManager appends to prediction history. Entries are never mutated or removed.
type HistoryManager interface {
	HistoryReader
	Save(p Prediction) (Prediction, error)
}

// View provides read-only access to a consistent state.
type View interface {
	Rooms() EntityReader[Room]
	Questions() EntityReader[Question]
	Comments() EntityReader[Comment]
	Users() EntityReader[User]
	Predictions() HistoryReader
}

// Transaction exposes the store operations available within one update group.
type Transaction interface {
	Snapshot() View
	Rooms() EntityManager[Room]
	Questions() EntityManager[Question]
	Comments() EntityManager[Comment]
	Users() EntityManager[User]
	Predictions() HistoryManager
	// Now is the commit timestamp shared by every write in the group.
	Now() time.Time
}

// PersistentStore is the abstraction higher layers depend on.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(View) error) error
	History() HistoryReader
}
