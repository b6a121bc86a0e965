package memory

import (
	"fmt"
	"iter"
	"slices"
	"sort"
	"time"

	"foresight/pkg/domain"
)

// history stores append-only prediction series keyed by (question, user).
type history struct {
	series     map[domain.PredictionKey][]domain.Prediction
	byID       map[string]domain.Prediction
	byQuestion map[string]map[string]struct{}
	byUser     map[string]map[string]struct{}
}

func newHistory() *history {
	return &history{
		series:     make(map[domain.PredictionKey][]domain.Prediction),
		byID:       make(map[string]domain.Prediction),
		byQuestion: make(map[string]map[string]struct{}),
		byUser:     make(map[string]map[string]struct{}),
	}
}

// append keeps each series ordered by timestamp. An out-of-order entry is
// spliced into a fresh backing array so sequences captured by Query stay valid.
func (h *history) append(p domain.Prediction) {
	key := p.Key()
	s := h.series[key]
	if n := len(s); n == 0 || !p.Timestamp.Before(s[n-1].Timestamp) {
		h.series[key] = append(s, p)
	} else {
		idx := sort.Search(n, func(i int) bool { return s[i].Timestamp.After(p.Timestamp) })
		ns := make([]domain.Prediction, 0, n+1)
		ns = append(ns, s[:idx]...)
		ns = append(ns, p)
		ns = append(ns, s[idx:]...)
		h.series[key] = ns
	}
	h.byID[p.ID] = p
	addIndex(h.byQuestion, key.Question, key.User)
	addIndex(h.byUser, key.User, key.Question)
}

func addIndex(idx map[string]map[string]struct{}, outer, inner string) {
	set, ok := idx[outer]
	if !ok {
		set = make(map[string]struct{})
		idx[outer] = set
	}
	set[inner] = struct{}{}
}

func (h *history) latest(key domain.PredictionKey) (domain.Prediction, bool) {
	s := h.series[key]
	if len(s) == 0 {
		return domain.Prediction{}, false
	}
	return s[len(s)-1].Clone(), true
}

func atOrBefore(s []domain.Prediction, ts time.Time) (domain.Prediction, bool) {
	idx := sort.Search(len(s), func(i int) bool { return s[i].Timestamp.After(ts) })
	if idx == 0 {
		return domain.Prediction{}, false
	}
	return s[idx-1].Clone(), true
}

func seqOf(s []domain.Prediction) iter.Seq[domain.Prediction] {
	return func(yield func(domain.Prediction) bool) {
		for _, p := range s {
			if !yield(p.Clone()) {
				return
			}
		}
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// historyView is the committed read side of prediction history.
type historyView struct {
	h *history
}

func (v historyView) Latest(key domain.PredictionKey) (domain.Prediction, bool) {
	return v.h.latest(key)
}

func (v historyView) Query(key domain.PredictionKey) iter.Seq[domain.Prediction] {
	s := v.h.series[key]
	return seqOf(s[:len(s):len(s)])
}

func (v historyView) At(key domain.PredictionKey, ts time.Time) (domain.Prediction, bool) {
	return atOrBefore(v.h.series[key], ts)
}

func (v historyView) Find(ref domain.Ref[domain.Prediction]) (domain.Prediction, bool) {
	p, ok := v.h.byID[ref.ID]
	if !ok {
		return domain.Prediction{}, false
	}
	return p.Clone(), true
}

func (v historyView) Keys(question domain.Ref[domain.Question]) []domain.PredictionKey {
	users := sortedKeys(v.h.byQuestion[question.ID])
	out := make([]domain.PredictionKey, 0, len(users))
	for _, u := range users {
		out = append(out, domain.PredictionKey{Question: question.ID, User: u})
	}
	return out
}

func (v historyView) LatestForQuestion(question domain.Ref[domain.Question]) []domain.Prediction {
	var out []domain.Prediction
	for _, key := range v.Keys(question) {
		if p, ok := v.h.latest(key); ok {
			out = append(out, p)
		}
	}
	return out
}

func (v historyView) LatestForUser(user domain.Ref[domain.User]) []domain.Prediction {
	var out []domain.Prediction
	for _, q := range sortedKeys(v.h.byUser[user.ID]) {
		if p, ok := v.h.latest(domain.PredictionKey{Question: q, User: user.ID}); ok {
			out = append(out, p)
		}
	}
	return out
}

// historyTx buffers appends made inside one update group.
type historyTx struct {
	base    *history
	tx      *transaction
	pending []domain.Prediction
}

func (o *historyTx) series(key domain.PredictionKey) []domain.Prediction {
	base := o.base.series[key]
	var extra []domain.Prediction
	for _, p := range o.pending {
		if p.Key() == key {
			extra = append(extra, p)
		}
	}
	if len(extra) == 0 {
		return base[:len(base):len(base)]
	}
	merged := make([]domain.Prediction, 0, len(base)+len(extra))
	merged = append(merged, base...)
	merged = append(merged, extra...)
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Timestamp.Before(merged[j].Timestamp) })
	return merged
}

func (o *historyTx) Latest(key domain.PredictionKey) (domain.Prediction, bool) {
	s := o.series(key)
	if len(s) == 0 {
		return domain.Prediction{}, false
	}
	return s[len(s)-1].Clone(), true
}

func (o *historyTx) Query(key domain.PredictionKey) iter.Seq[domain.Prediction] {
	return seqOf(o.series(key))
}

func (o *historyTx) At(key domain.PredictionKey, ts time.Time) (domain.Prediction, bool) {
	return atOrBefore(o.series(key), ts)
}

func (o *historyTx) Find(ref domain.Ref[domain.Prediction]) (domain.Prediction, bool) {
	for _, p := range o.pending {
		if p.ID == ref.ID {
			return p.Clone(), true
		}
	}
	return historyView{h: o.base}.Find(ref)
}

func (o *historyTx) Keys(question domain.Ref[domain.Question]) []domain.PredictionKey {
	users := make(map[string]struct{}, len(o.base.byQuestion[question.ID]))
	for u := range o.base.byQuestion[question.ID] {
		users[u] = struct{}{}
	}
	for _, p := range o.pending {
		if p.Question.ID == question.ID {
			users[p.User.ID] = struct{}{}
		}
	}
	out := make([]domain.PredictionKey, 0, len(users))
	for _, u := range sortedKeys(users) {
		out = append(out, domain.PredictionKey{Question: question.ID, User: u})
	}
	return out
}

func (o *historyTx) LatestForQuestion(question domain.Ref[domain.Question]) []domain.Prediction {
	var out []domain.Prediction
	for _, key := range o.Keys(question) {
		if p, ok := o.Latest(key); ok {
			out = append(out, p)
		}
	}
	return out
}

func (o *historyTx) LatestForUser(user domain.Ref[domain.User]) []domain.Prediction {
	questions := make(map[string]struct{})
	for q := range o.base.byUser[user.ID] {
		questions[q] = struct{}{}
	}
	for _, p := range o.pending {
		if p.User.ID == user.ID {
			questions[p.Question.ID] = struct{}{}
		}
	}
	var out []domain.Prediction
	for _, q := range sortedKeys(questions) {
		if p, ok := o.Latest(domain.PredictionKey{Question: q, User: user.ID}); ok {
			out = append(out, p)
		}
	}
	return out
}

// Save appends p. The ID is assigned when blank and the timestamp defaults
// to the group's commit time.
func (o *historyTx) Save(p domain.Prediction) (domain.Prediction, error) {
	if p.Question.IsZero() || p.User.IsZero() {
		return domain.Prediction{}, fmt.Errorf("prediction requires question and user")
	}
	if p.ID == "" {
		p.ID = o.tx.store.newID()
	}
	if _, exists := o.Find(domain.RefTo[domain.Prediction](p.ID)); exists {
		return domain.Prediction{}, fmt.Errorf("prediction %q already exists", p.ID)
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = o.tx.now
	}
	stored := p.Clone()
	o.pending = append(o.pending, stored)
	o.tx.recordChange(domain.Change{Entity: domain.EntityPrediction, Action: domain.ActionCreate, After: stored.Clone()})
	return p.Clone(), nil
}

func (o *historyTx) commit() {
	for _, p := range o.pending {
		o.base.append(p)
	}
}
