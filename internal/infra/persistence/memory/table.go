package memory

import (
	"fmt"
	"sort"
	"time"

	"foresight/pkg/domain"
)

// record is satisfied by pointers to stored entity types.
type record[T any] interface {
	*T
	EntityID() string
	SetEntityID(string)
	Stamp(time.Time)
	Created() time.Time
	Clone() T
}

type table[T any, P record[T]] struct {
	entity domain.EntityType
	rows   map[string]T
}

func newTable[T any, P record[T]](entity domain.EntityType) *table[T, P] {
	return &table[T, P]{entity: entity, rows: make(map[string]T)}
}

func (t *table[T, P]) get(id string) (T, bool) {
	v, ok := t.rows[id]
	if !ok {
		var zero T
		return zero, false
	}
	return P(&v).Clone(), true
}

func (t *table[T, P]) list() []T {
	out := make([]T, 0, len(t.rows))
	for _, v := range t.rows {
		out = append(out, P(&v).Clone())
	}
	sortEntities[T, P](out)
	return out
}

// tableView is the committed read side of a table.
type tableView[T any, P record[T]] struct {
	t *table[T, P]
}

func (v tableView[T, P]) Deref(ref domain.Ref[T]) (T, bool) { return v.t.get(ref.ID) }
func (v tableView[T, P]) List() []T                         { return v.t.list() }

// tableTx overlays uncommitted writes on a table for one update group.
type tableTx[T any, P record[T]] struct {
	base    *table[T, P]
	tx      *transaction
	writes  map[string]T
	deletes map[string]struct{}
}

func newTableTx[T any, P record[T]](base *table[T, P], tx *transaction) *tableTx[T, P] {
	return &tableTx[T, P]{
		base:    base,
		tx:      tx,
		writes:  make(map[string]T),
		deletes: make(map[string]struct{}),
	}
}

func (o *tableTx[T, P]) Deref(ref domain.Ref[T]) (T, bool) {
	var zero T
	if ref.ID == "" {
		return zero, false
	}
	if _, gone := o.deletes[ref.ID]; gone {
		return zero, false
	}
	if v, ok := o.writes[ref.ID]; ok {
		return P(&v).Clone(), true
	}
	return o.base.get(ref.ID)
}

func (o *tableTx[T, P]) List() []T {
	out := make([]T, 0, len(o.base.rows)+len(o.writes))
	for id, v := range o.base.rows {
		if _, gone := o.deletes[id]; gone {
			continue
		}
		if _, shadowed := o.writes[id]; shadowed {
			continue
		}
		out = append(out, P(&v).Clone())
	}
	for _, v := range o.writes {
		out = append(out, P(&v).Clone())
	}
	sortEntities[T, P](out)
	return out
}

func (o *tableTx[T, P]) Insert(entity T) (T, error) {
	var zero T
	p := P(&entity)
	if p.EntityID() == "" {
		p.SetEntityID(o.tx.store.newID())
	}
	id := p.EntityID()
	if _, exists := o.Deref(domain.RefTo[T](id)); exists {
		return zero, fmt.Errorf("%s %q already exists", o.base.entity, id)
	}
	p.Stamp(o.tx.now)
	stored := p.Clone()
	o.writes[id] = stored
	delete(o.deletes, id)
	o.tx.recordChange(domain.Change{Entity: o.base.entity, Action: domain.ActionCreate, After: p.Clone()})
	return p.Clone(), nil
}

func (o *tableTx[T, P]) Modify(ref domain.Ref[T], transform func(*T) error) (T, error) {
	var zero T
	current, ok := o.Deref(ref)
	if !ok {
		return zero, domain.NotFound(o.base.entity, ref.ID)
	}
	before := P(&current).Clone()
	if err := transform(&current); err != nil {
		return zero, err
	}
	p := P(&current)
	p.SetEntityID(ref.ID)
	p.Stamp(o.tx.now)
	o.writes[ref.ID] = p.Clone()
	o.tx.recordChange(domain.Change{Entity: o.base.entity, Action: domain.ActionUpdate, Before: before, After: p.Clone()})
	return p.Clone(), nil
}

func (o *tableTx[T, P]) Replace(entity T) (T, error) {
	var zero T
	p := P(&entity)
	before, ok := o.Deref(domain.RefTo[T](p.EntityID()))
	if !ok {
		return zero, domain.NotFound(o.base.entity, p.EntityID())
	}
	p.Stamp(o.tx.now)
	o.writes[p.EntityID()] = p.Clone()
	o.tx.recordChange(domain.Change{Entity: o.base.entity, Action: domain.ActionUpdate, Before: before, After: p.Clone()})
	return p.Clone(), nil
}

func (o *tableTx[T, P]) Delete(ref domain.Ref[T], ignoreMissing bool) error {
	before, ok := o.Deref(ref)
	if !ok {
		if ignoreMissing {
			return nil
		}
		return domain.NotFound(o.base.entity, ref.ID)
	}
	delete(o.writes, ref.ID)
	o.deletes[ref.ID] = struct{}{}
	o.tx.recordChange(domain.Change{Entity: o.base.entity, Action: domain.ActionDelete, Before: before})
	return nil
}

func (o *tableTx[T, P]) commit() {
	for id := range o.deletes {
		delete(o.base.rows, id)
	}
	for id, v := range o.writes {
		o.base.rows[id] = v
	}
}

// sortEntities orders by creation time, then ID, so listings are deterministic.
func sortEntities[T any, P record[T]](items []T) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := P(&items[i]), P(&items[j])
		if !a.Created().Equal(b.Created()) {
			return a.Created().Before(b.Created())
		}
		return a.EntityID() < b.EntityID()
	})
}
