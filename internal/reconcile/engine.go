// Package reconcile computes and applies the minimal set of operations that
// converges one trade list to match another, without ever deleting a trade
// that merely moved or was edited.
package reconcile

import (
	"github.com/rs/zerolog"

	"github.com/aristath/foliosync/internal/domain"
)

// Pair is a matched source/target trade whose mutable fields disagree.
// The source's values win.
type Pair struct {
	Source domain.Trade
	Target domain.Trade
}

// Plan is the outcome of a diff: three disjoint operation sets plus the
// special verdicts that bypass normal application.
type Plan struct {
	ToCreate []domain.Trade // unmatched source trades; ids preserved when present
	ToUpdate []Pair         // matched pairs with differing content
	ToDelete []domain.Trade // unmatched target trades

	// ToTombstone are target trades that should be deleted but belong to a
	// different owner. They are soft-deleted locally instead so they stop
	// reappearing as phantom deletion candidates.
	ToTombstone []domain.Trade

	// PushLocal is set when the source list is empty while the target has
	// trades. An empty remote file is far more likely a fresh or corrupted
	// document than an intentional mass-deletion, so the plan carries no
	// deletes and asks the caller to push local state outward instead.
	PushLocal bool
}

// IsEmpty reports whether the plan carries no work at all.
func (p *Plan) IsEmpty() bool {
	return len(p.ToCreate) == 0 && len(p.ToUpdate) == 0 &&
		len(p.ToDelete) == 0 && len(p.ToTombstone) == 0 && !p.PushLocal
}

// Options configure a single diff.
type Options struct {
	// OwnerID is the acting principal. Target trades owned by someone else
	// are never updated or deleted, only tombstoned.
	OwnerID string

	// Tombstoned ids are invisible to the diff in both directions: never
	// recreated, never deleted.
	Tombstoned map[string]bool
}

// Engine computes diffs between trade lists.
type Engine struct {
	log zerolog.Logger
}

// NewEngine creates a reconciliation engine
func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{
		log: log.With().Str("service", "reconcile").Logger(),
	}
}

// Diff produces the plan that converges target to match source. Matching is
// layered: exact id first, then the stable business key (ticker, date, type),
// then full content. Each trade matches at most once; same-key candidates
// are consumed first-unmatched-wins because (ticker, date, type) is not
// unique within a ledger.
func (e *Engine) Diff(source, target []domain.Trade, opts Options) *Plan {
	plan := &Plan{}
	tombstoned := opts.Tombstoned
	if tombstoned == nil {
		tombstoned = map[string]bool{}
	}

	// Empty-remote safety valve.
	if len(source) == 0 && len(target) > 0 {
		e.log.Warn().
			Int("target_trades", len(target)).
			Msg("Source list empty while target has trades; treating local as source of truth")
		plan.PushLocal = true
		return plan
	}

	srcMatched := make([]bool, len(source))
	tgtMatched := make([]bool, len(target))

	// Pass 1: exact id.
	tgtByID := make(map[string]int, len(target))
	for i, t := range target {
		if t.ID != "" {
			tgtByID[t.ID] = i
		}
	}

	var pairs []Pair
	for i, s := range source {
		if s.ID == "" {
			continue
		}
		if j, ok := tgtByID[s.ID]; ok && !tgtMatched[j] {
			srcMatched[i] = true
			tgtMatched[j] = true
			pairs = append(pairs, Pair{Source: s, Target: target[j]})
		}
	}

	// Pass 2: stable key (ticker, date, type). Quantity and price are
	// excluded so an edited trade matches its earlier self. Only unambiguous
	// keys are paired here; duplicated keys fall through to content matching.
	matchByStableKey(source, target, srcMatched, tgtMatched, &pairs)

	// Pass 3: full content. Resolves the trades whose stable key was
	// ambiguous, consuming identical candidates first-unmatched-wins since
	// several same-day same-price trades are legal.
	matchByKey(source, target, srcMatched, tgtMatched, &pairs, domain.Trade.ContentKey)

	// Mop-up: edited trades among stable-key duplicates have no content
	// match left, so pair the remainder greedily by stable key rather than
	// reporting them as delete-and-create.
	matchByKey(source, target, srcMatched, tgtMatched, &pairs, domain.Trade.StableKey)

	// Matched pairs with differing content become updates, unless the target
	// is out of reach.
	for _, pair := range pairs {
		if tombstoned[pair.Target.ID] || tombstoned[pair.Source.ID] {
			continue
		}
		if pair.Source.ContentEquals(pair.Target) {
			continue
		}
		if !e.ownedBy(pair.Target, opts.OwnerID) {
			plan.ToTombstone = append(plan.ToTombstone, pair.Target)
			continue
		}
		plan.ToUpdate = append(plan.ToUpdate, pair)
	}

	// Unmatched source trades are created, preserving their ids so future
	// passes match exactly instead of fuzzily.
	for i, s := range source {
		if srcMatched[i] || tombstoned[s.ID] {
			continue
		}
		plan.ToCreate = append(plan.ToCreate, s)
	}

	// Unmatched target trades are deleted, except tombstoned ones (already
	// dead) and cross-owner ones (tombstoned instead).
	for j, t := range target {
		if tgtMatched[j] || tombstoned[t.ID] {
			continue
		}
		if !e.ownedBy(t, opts.OwnerID) {
			plan.ToTombstone = append(plan.ToTombstone, t)
			continue
		}
		plan.ToDelete = append(plan.ToDelete, t)
	}

	e.log.Debug().
		Int("create", len(plan.ToCreate)).
		Int("update", len(plan.ToUpdate)).
		Int("delete", len(plan.ToDelete)).
		Int("tombstone", len(plan.ToTombstone)).
		Msg("Diff computed")

	return plan
}

// ownedBy treats an empty owner as owned: records that never carried an
// owner (mirror-only operation) are always mutable.
func (e *Engine) ownedBy(t domain.Trade, ownerID string) bool {
	return t.OwnerID == "" || ownerID == "" || t.OwnerID == ownerID
}

// matchByStableKey pairs source and target trades whose stable key is
// unique on both sides. Ambiguous keys are left for the content pass.
func matchByStableKey(source, target []domain.Trade, srcMatched, tgtMatched []bool, pairs *[]Pair) {
	srcByKey := make(map[string][]int)
	for i, s := range source {
		if !srcMatched[i] {
			k := s.StableKey()
			srcByKey[k] = append(srcByKey[k], i)
		}
	}
	tgtByKey := make(map[string][]int)
	for j, t := range target {
		if !tgtMatched[j] {
			k := t.StableKey()
			tgtByKey[k] = append(tgtByKey[k], j)
		}
	}

	for k, srcIdx := range srcByKey {
		tgtIdx, ok := tgtByKey[k]
		if !ok || len(srcIdx) != 1 || len(tgtIdx) != 1 {
			continue
		}
		i, j := srcIdx[0], tgtIdx[0]
		srcMatched[i] = true
		tgtMatched[j] = true
		*pairs = append(*pairs, Pair{Source: source[i], Target: target[j]})
	}
}

// matchByKey pairs unmatched source and target trades sharing a key. Targets
// with the same key are consumed in list order, first unmatched wins.
func matchByKey(source, target []domain.Trade, srcMatched, tgtMatched []bool, pairs *[]Pair, key func(domain.Trade) string) {
	candidates := make(map[string][]int)
	for j, t := range target {
		if tgtMatched[j] {
			continue
		}
		k := key(t)
		candidates[k] = append(candidates[k], j)
	}

	for i, s := range source {
		if srcMatched[i] {
			continue
		}
		k := key(s)
		queue := candidates[k]
		for len(queue) > 0 {
			j := queue[0]
			queue = queue[1:]
			if tgtMatched[j] {
				continue
			}
			srcMatched[i] = true
			tgtMatched[j] = true
			*pairs = append(*pairs, Pair{Source: s, Target: target[j]})
			break
		}
		candidates[k] = queue
	}
}
