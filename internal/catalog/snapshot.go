package catalog

import (
	"sort"
	"time"
)

// Item identifies a line item for scope matching.
type Item struct {
	ProductID  string
	CategoryID string
}

// Snapshot is an immutable, validated view of the promotion catalog.
// It is safe for concurrent use and may be shared freely across
// pricing passes.
type Snapshot struct {
	// ordered holds all promotions in evaluation order: priority
	// descending, then startsAt ascending, then id ascending. The
	// order is fixed at build time so every lookup is deterministic.
	ordered []*Promotion
	byID    map[string]*Promotion
	byCode  map[string]*Promotion
	builtAt time.Time
}

// NewSnapshot validates the given promotions and builds a snapshot.
// Any malformed promotion rejects the whole snapshot; evaluation code
// never has to handle invalid promotions.
func NewSnapshot(promotions []Promotion) (*Snapshot, error) {
	s := &Snapshot{
		ordered: make([]*Promotion, 0, len(promotions)),
		byID:    make(map[string]*Promotion, len(promotions)),
		byCode:  make(map[string]*Promotion),
		builtAt: time.Now(),
	}

	for i := range promotions {
		p := promotions[i]
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := s.byID[p.ID]; dup {
			return nil, ErrInvalidPromotion{ID: p.ID, Reason: "duplicate id"}
		}
		s.byID[p.ID] = &p
		if p.RequiresCode {
			s.byCode[p.Code] = &p
		}
		s.ordered = append(s.ordered, &p)
	}

	sort.Slice(s.ordered, func(i, j int) bool {
		a, b := s.ordered[i], s.ordered[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.StartsAt.Equal(b.StartsAt) {
			return a.StartsAt.Before(b.StartsAt)
		}
		return a.ID < b.ID
	})

	return s, nil
}

// ActivePromotionsFor returns the promotions active at asOf whose scope
// matches the item, in evaluation order.
func (s *Snapshot) ActivePromotionsFor(item Item, asOf time.Time) []*Promotion {
	var out []*Promotion
	for _, p := range s.ordered {
		if !p.ActiveAt(asOf) {
			continue
		}
		if !p.Scope.Matches(item.ProductID, item.CategoryID) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Promotions returns all promotions in evaluation order. The returned
// slice is shared; callers must not mutate it.
func (s *Snapshot) Promotions() []*Promotion { return s.ordered }

// ByID looks up a promotion by id.
func (s *Snapshot) ByID(id string) (*Promotion, bool) {
	p, ok := s.byID[id]
	return p, ok
}

// ByCode looks up a code-gated promotion by its code.
func (s *Snapshot) ByCode(code string) (*Promotion, bool) {
	p, ok := s.byCode[code]
	return p, ok
}

// Len returns the number of promotions in the snapshot.
func (s *Snapshot) Len() int { return len(s.ordered) }

// BuiltAt returns when the snapshot was assembled.
func (s *Snapshot) BuiltAt() time.Time { return s.builtAt }
