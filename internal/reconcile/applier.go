package reconcile

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/foliosync/internal/domain"
	"github.com/aristath/foliosync/internal/modules/ledger"
)

// TombstoneSink records ids that must never resurface. Satisfied by the
// mirror repository.
type TombstoneSink interface {
	Tombstone(tradeID, reason string) error
}

// Result counts what a plan application actually did.
type Result struct {
	Created    int
	Updated    int
	Deleted    int
	Tombstoned int
	Skipped    int
}

// Applier executes plans against the primary store. Failures scoped to a
// single record (ownership, permission) are skips, never batch aborts;
// storage failures abort immediately.
type Applier struct {
	ledger     *ledger.Repository
	tombstones TombstoneSink
	log        zerolog.Logger
}

// NewApplier creates a plan applier
func NewApplier(ledgerRepo *ledger.Repository, tombstones TombstoneSink, log zerolog.Logger) *Applier {
	return &Applier{
		ledger:     ledgerRepo,
		tombstones: tombstones,
		log:        log.With().Str("service", "apply").Logger(),
	}
}

// Apply executes the plan for an owner and returns what happened.
func (a *Applier) Apply(ownerID string, plan *Plan) (*Result, error) {
	res := &Result{}

	if plan.PushLocal {
		// Nothing to apply; the orchestrator owns scheduling the push.
		return res, nil
	}

	for _, t := range plan.ToTombstone {
		if err := a.tombstone(t.ID, res); err != nil {
			return res, err
		}
	}

	for _, t := range plan.ToCreate {
		var err error
		if t.ID != "" {
			err = a.ledger.CreateWithID(ownerID, t.ID, t)
		} else {
			_, err = a.ledger.Create(ownerID, t)
		}
		if err != nil {
			return res, fmt.Errorf("failed to apply create: %w", err)
		}
		res.Created++
	}

	for _, pair := range plan.ToUpdate {
		patch := ledger.Patch{
			Quantity:    &pair.Source.Quantity,
			Price:       &pair.Source.Price,
			Currency:    &pair.Source.Currency,
			IsSimulated: &pair.Source.IsSimulated,
		}

		err := a.ledger.Update(ownerID, pair.Target.ID, patch)
		switch {
		case err == nil:
			res.Updated++
		case errors.Is(err, ledger.ErrPermissionDenied):
			a.log.Warn().Str("id", pair.Target.ID).Msg("Update denied, tombstoning")
			if terr := a.tombstone(pair.Target.ID, res); terr != nil {
				return res, terr
			}
		case errors.Is(err, ledger.ErrNotFound):
			a.log.Warn().Str("id", pair.Target.ID).Msg("Update target vanished, skipping")
			res.Skipped++
		default:
			return res, fmt.Errorf("failed to apply update: %w", err)
		}
	}

	for _, t := range plan.ToDelete {
		deleted, err := a.ledger.Delete(ownerID, t.ID)
		if err != nil {
			return res, fmt.Errorf("failed to apply delete: %w", err)
		}
		if !deleted {
			// Ownership mismatch surfaced at the store level.
			if terr := a.tombstone(t.ID, res); terr != nil {
				return res, terr
			}
			continue
		}
		res.Deleted++
	}

	a.log.Info().
		Int("created", res.Created).
		Int("updated", res.Updated).
		Int("deleted", res.Deleted).
		Int("tombstoned", res.Tombstoned).
		Msg("Plan applied")

	return res, nil
}

func (a *Applier) tombstone(id string, res *Result) error {
	if a.tombstones == nil {
		res.Skipped++
		return nil
	}
	if err := a.tombstones.Tombstone(id, "ownership_mismatch"); err != nil {
		return fmt.Errorf("failed to tombstone %s: %w", id, err)
	}
	res.Tombstoned++
	return nil
}

// TradesEqual reports whether two trade lists are content-identical under
// the layered matching rules. Used for the content-level fallback check when
// revision comparison is inconclusive.
func (e *Engine) TradesEqual(a, b []domain.Trade, opts Options) bool {
	if len(a) != len(b) {
		return false
	}
	plan := e.Diff(a, b, opts)
	return plan.IsEmpty()
}
