package sync

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/foliosync/internal/config"
	"github.com/aristath/foliosync/internal/domain"
	"github.com/aristath/foliosync/internal/events"
	"github.com/aristath/foliosync/internal/modules/ledger"
	"github.com/aristath/foliosync/internal/modules/mirror"
	"github.com/aristath/foliosync/internal/reconcile"
	"github.com/aristath/foliosync/internal/remote"
)

// RemoteClient is the slice of the versioned remote accessor the
// orchestrator needs. Satisfied by *remote.Accessor.
type RemoteClient interface {
	GetMetadata(ctx context.Context, fileID string) (*remote.FileMeta, error)
	Download(ctx context.Context, fileID string) (*domain.Document, error)
	Upload(ctx context.Context, fileID string, doc *domain.Document, expectedRevision string) (*remote.FileMeta, error)
	FindFile(ctx context.Context, name, folderID string) (*remote.FileMeta, error)
	CreateFile(ctx context.Context, name string, doc *domain.Document, folderID string) (*remote.FileMeta, error)
	GetOrCreateFolder(ctx context.Context, name string) (string, error)
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Config     config.SyncConfig
	OwnerID    string
	FileName   string
	FolderName string
	Remote     RemoteClient
	Engine     *reconcile.Engine
	Applier    *reconcile.Applier
	Ledger     *ledger.Repository
	Mirror     *mirror.Repository
	Sessions   *SessionStore
	Bus        *events.Bus
	Log        zerolog.Logger
	Clock      Clock // nil means wall clock
}

// Orchestrator runs the per-account sync state machine: a polling loop for
// remote changes and a debounced push for local edits. Polling and pushing
// run on independent timelines; the time-window guards below are what keep
// them from feeding back into each other.
type Orchestrator struct {
	cfg    config.SyncConfig
	owner  string
	file   string
	folder string

	remote   RemoteClient
	engine   *reconcile.Engine
	applier  *reconcile.Applier
	ledger   *ledger.Repository
	mirror   *mirror.Repository
	sessions *SessionStore
	bus      *events.Bus
	log      zerolog.Logger
	clock    Clock

	mu      stdsync.Mutex
	state   State
	busy    bool
	lastErr string
	session *Session

	remoteVersion string
	lastSyncAt    time.Time

	// Feedback-loop guards. Each one records when its triggering event last
	// happened; the windows come from config.
	lastPushAt      time.Time // suppresses pulls of our own write
	lastPullAt      time.Time // suppresses pushes racing a pull
	lastDeletionAt  time.Time // extended pull suppression after deletion sync
	lastEditAt      time.Time // never pull over an unsynced local edit
	lastEmptySkipAt time.Time // cooldown after an empty-remote skip

	lastContentCheckAt time.Time

	// First-edit-wins bookkeeping: when the oldest unsynced local edit was
	// initiated. Zeroed after a successful push.
	editStartAt time.Time
	pendingPush bool

	lastKnownRemoteCount int
	consecutiveErrors    int

	inflight map[string]time.Time // (fileID:revision) -> pull start

	pushTimer *time.Timer
	pollNow   chan struct{}
	cancel    context.CancelFunc
	wg        stdsync.WaitGroup
}

// NewOrchestrator creates a sync orchestrator
func NewOrchestrator(deps Deps) *Orchestrator {
	clock := deps.Clock
	if clock == nil {
		clock = realClock{}
	}

	return &Orchestrator{
		cfg:      deps.Config,
		owner:    deps.OwnerID,
		file:     deps.FileName,
		folder:   deps.FolderName,
		remote:   deps.Remote,
		engine:   deps.Engine,
		applier:  deps.Applier,
		ledger:   deps.Ledger,
		mirror:   deps.Mirror,
		sessions: deps.Sessions,
		bus:      deps.Bus,
		log:      deps.Log.With().Str("service", "sync").Logger(),
		clock:    clock,
		state:    StateDisconnected,
		session:  &Session{},
		inflight: make(map[string]time.Time),
		pollNow:  make(chan struct{}, 1),
	}
}

// Connect resolves the remote folder and file (creating them on first run),
// restores the persisted session, and starts the polling loop.
func (o *Orchestrator) Connect(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateDisconnected {
		o.mu.Unlock()
		return nil
	}
	o.setStateLocked(StateConnecting)
	o.mu.Unlock()

	session, err := o.sessions.Load()
	if err != nil {
		o.disconnectWithError(err)
		return err
	}

	if session.FolderID == "" {
		folderID, err := o.remote.GetOrCreateFolder(ctx, o.folder)
		if err != nil {
			o.disconnectWithError(err)
			return fmt.Errorf("failed to resolve remote folder: %w", err)
		}
		session.FolderID = folderID
	}

	if session.FileID == "" {
		meta, err := o.remote.FindFile(ctx, o.file, session.FolderID)
		if errors.Is(err, remote.ErrNotFound) {
			meta, err = o.createInitialFile(ctx, session.FolderID)
			if err == nil {
				session.LocalVersion = meta.Revision
			}
		}
		if err != nil {
			o.disconnectWithError(err)
			return fmt.Errorf("failed to resolve remote file: %w", err)
		}
		session.FileID = meta.ID
	}

	if err := o.sessions.Save(session); err != nil {
		o.log.Warn().Err(err).Msg("Failed to persist session state")
	}

	runCtx, cancel := context.WithCancel(context.Background())

	o.mu.Lock()
	o.session = session
	o.cancel = cancel
	o.setStateLocked(StateIdle)
	o.mu.Unlock()

	o.wg.Add(1)
	go o.run(runCtx)

	o.log.Info().
		Str("file_id", session.FileID).
		Str("local_version", session.LocalVersion).
		Msg("Sync connected")

	return nil
}

// createInitialFile seeds the remote with the current local ledger.
func (o *Orchestrator) createInitialFile(ctx context.Context, folderID string) (*remote.FileMeta, error) {
	trades, err := o.localTrades()
	if err != nil {
		return nil, err
	}
	return o.remote.CreateFile(ctx, o.file, domain.NewDocument(trades), folderID)
}

// Disconnect cancels the polling loop immediately. An in-flight push or pull
// finishes or is abandoned; session state is only ever updated on confirmed
// completion, so an abandoned operation cannot corrupt it.
func (o *Orchestrator) Disconnect() {
	o.mu.Lock()
	if o.state == StateDisconnected {
		o.mu.Unlock()
		return
	}
	cancel := o.cancel
	o.cancel = nil
	if o.pushTimer != nil {
		o.pushTimer.Stop()
		o.pushTimer = nil
	}
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	o.wg.Wait()

	o.mu.Lock()
	o.setStateLocked(StateDisconnected)
	o.pendingPush = false
	o.editStartAt = time.Time{}
	o.mu.Unlock()

	o.log.Info().Msg("Sync disconnected")
}

// Resume clears a paused-conflict state after user intervention.
func (o *Orchestrator) Resume() {
	o.mu.Lock()
	if o.state == StatePausedConflict {
		o.lastErr = ""
		o.setStateLocked(StateIdle)
	}
	o.mu.Unlock()
}

// SyncNow requests an immediate poll cycle.
func (o *Orchestrator) SyncNow() {
	select {
	case o.pollNow <- struct{}{}:
	default:
	}
}

// NotifyLocalEdit records a local mutation and (re)arms the debounced push.
// Multiple edits within the debounce window collapse into one push. The
// first edit's timestamp is kept for first-edit-wins arbitration.
func (o *Orchestrator) NotifyLocalEdit() {
	o.mu.Lock()
	now := o.clock.Now()
	o.lastEditAt = now
	if !o.pendingPush {
		o.pendingPush = true
		o.editStartAt = now
	}
	disconnected := o.state == StateDisconnected
	o.mu.Unlock()

	if disconnected {
		return
	}

	o.schedulePush(o.cfg.DebounceWindow)
}

// Status returns a snapshot of the sync session.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	return Status{
		State:         o.state,
		Display:       display(o.state, o.lastErr),
		LastError:     o.lastErr,
		LastSyncAt:    o.lastSyncAt,
		LocalVersion:  o.session.LocalVersion,
		RemoteVersion: o.remoteVersion,
		FileID:        o.session.FileID,
		PendingPush:   o.pendingPush,
	}
}

// run is the polling loop. The wait between cycles stretches by the backoff
// multiplier while errors accumulate.
func (o *Orchestrator) run(ctx context.Context) {
	defer o.wg.Done()

	for {
		timer := time.NewTimer(o.pollInterval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			o.poll(ctx)
		case <-o.pollNow:
			timer.Stop()
			o.poll(ctx)
		}
	}
}

func (o *Orchestrator) pollInterval() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cfg.PollInterval * time.Duration(o.backoffMultiplierLocked())
}

// backoffMultiplierLocked doubles per error beyond the threshold, capped.
func (o *Orchestrator) backoffMultiplierLocked() int {
	extra := o.consecutiveErrors - o.cfg.BackoffAfterErrors
	if extra < 0 {
		return 1
	}
	m := 1 << uint(extra+1)
	if m > o.cfg.BackoffCap {
		return o.cfg.BackoffCap
	}
	return m
}

// poll is one cycle: a cheap metadata fetch, then either a pull (revision
// moved) or the periodic content-level backstop (revision tokens are not
// guaranteed to change on every manual edit).
func (o *Orchestrator) poll(ctx context.Context) {
	o.mu.Lock()
	if o.state == StatePausedConflict || o.state == StateDisconnected {
		o.mu.Unlock()
		return
	}
	fileID := o.session.FileID
	localVersion := o.session.LocalVersion
	o.cleanupInflightLocked()
	o.mu.Unlock()

	meta, err := o.remote.GetMetadata(ctx, fileID)
	if err != nil {
		o.recordError("poll", err)
		return
	}

	o.mu.Lock()
	o.remoteVersion = meta.Revision
	o.consecutiveErrors = 0
	o.mu.Unlock()

	if meta.Revision != localVersion {
		o.maybePull(ctx, meta)
		return
	}

	o.mu.Lock()
	now := o.clock.Now()
	if reason, blocked := o.pullGuardLocked(now); blocked {
		// The content check replaces local state just like a pull does, so
		// it obeys the same windows. Drift seen while an edit is waiting for
		// its debounced push is the edit itself, not a remote change.
		o.log.Debug().Str("reason", reason).Msg("Content check suppressed")
		o.mu.Unlock()
		return
	}
	due := now.Sub(o.lastContentCheckAt) >= o.cfg.ContentCheckInterval ||
		(o.cfg.StaleSyncForce > 0 && now.Sub(o.lastSyncAt) >= o.cfg.StaleSyncForce)
	o.mu.Unlock()

	if due {
		o.contentCheck(ctx, meta)
	}
}

// pullGuardLocked reports the guard window, if any, that currently forbids
// replacing local state with remote state.
func (o *Orchestrator) pullGuardLocked(now time.Time) (string, bool) {
	switch {
	case o.pendingPush:
		// An unsynced local edit is waiting for its push; pulling now would
		// silently revert it. Push-time arbitration decides who wins.
		return "pending push", true
	case now.Sub(o.lastPushAt) < o.cfg.PushPullSuppress:
		// The changed revision is most likely the one we just wrote.
		return "recent push", true
	case now.Sub(o.lastDeletionAt) < o.cfg.DeletionGrace:
		// A poll landing mid-deletion-sync would see the old, larger list
		// and recreate the deleted trades.
		return "deletion grace window", true
	case now.Sub(o.lastEditAt) < o.cfg.EditLock:
		return "recent local edit", true
	case now.Sub(o.lastEmptySkipAt) < o.cfg.EmptySkipCooldown:
		return "empty-remote cooldown", true
	}
	return "", false
}

// maybePull applies every guard window before committing to a pull.
func (o *Orchestrator) maybePull(ctx context.Context, meta *remote.FileMeta) {
	o.mu.Lock()
	now := o.clock.Now()

	if reason, blocked := o.pullGuardLocked(now); blocked {
		o.log.Debug().Str("revision", meta.Revision).Str("reason", reason).Msg("Pull suppressed")
		o.mu.Unlock()
		return
	}

	tag := o.session.FileID + ":" + meta.Revision
	if _, dup := o.inflight[tag]; dup {
		o.log.Debug().Str("tag", tag).Msg("Pull deduplicated: already in flight")
		o.mu.Unlock()
		return
	}
	o.inflight[tag] = now
	o.mu.Unlock()

	o.pull(ctx, meta.Revision)
}

// pull downloads the document and reconciles the primary store to match it.
func (o *Orchestrator) pull(ctx context.Context, revision string) {
	if !o.begin(StatePulling) {
		return
	}
	defer o.end()

	o.bus.Publish(events.SyncStarted, map[string]interface{}{"direction": "pull"})

	o.mu.Lock()
	fileID := o.session.FileID
	o.mu.Unlock()

	doc, err := o.remote.Download(ctx, fileID)
	if err != nil {
		if errors.Is(err, remote.ErrMalformedContent) {
			o.pause(err)
			return
		}
		o.recordError("pull", err)
		return
	}

	o.reconcileDocument(ctx, doc, revision)
}

// contentCheck downloads and diffs even though the revision looks unchanged.
func (o *Orchestrator) contentCheck(ctx context.Context, meta *remote.FileMeta) {
	o.mu.Lock()
	o.lastContentCheckAt = o.clock.Now()
	fileID := o.session.FileID
	o.mu.Unlock()

	doc, err := o.remote.Download(ctx, fileID)
	if err != nil {
		if errors.Is(err, remote.ErrMalformedContent) {
			o.pause(err)
			return
		}
		o.recordError("content-check", err)
		return
	}

	local, err := o.localTrades()
	if err != nil {
		o.recordError("content-check", err)
		return
	}

	tombs, err := o.mirror.Tombstoned()
	if err != nil {
		o.recordError("content-check", err)
		return
	}

	opts := reconcile.Options{OwnerID: o.owner, Tombstoned: tombs}
	if o.engine.TradesEqual(doc.Trades, local, opts) {
		return
	}

	o.log.Info().Msg("Content check found drift despite unchanged revision")

	if !o.begin(StatePulling) {
		return
	}
	defer o.end()

	o.reconcileDocument(ctx, doc, meta.Revision)
}

// reconcileDocument heals metadata, diffs remote-as-source against the
// primary store, applies the plan, and records the new revision. Caller
// holds the busy slot.
func (o *Orchestrator) reconcileDocument(ctx context.Context, doc *domain.Document, revision string) {
	o.mu.Lock()
	fileID := o.session.FileID
	o.mu.Unlock()

	if doc.Heal() {
		o.bus.Publish(events.MetadataHealed, map[string]interface{}{
			"tradeCount": doc.Metadata.TradeCount,
		})
		// Persist the correction. Failure is non-fatal: reconciliation
		// proceeds on the corrected in-memory document either way.
		if meta, err := o.remote.Upload(ctx, fileID, doc, revision); err != nil {
			o.log.Warn().Err(err).Msg("Failed to write back healed metadata")
		} else {
			revision = meta.Revision
		}
	}

	tombs, err := o.mirror.Tombstoned()
	if err != nil {
		o.recordError("pull", err)
		return
	}

	local, err := o.ledger.List(o.owner, true)
	if err != nil {
		o.recordError("pull", err)
		return
	}

	plan := o.engine.Diff(doc.Trades, local, reconcile.Options{
		OwnerID:    o.owner,
		Tombstoned: tombs,
	})

	if plan.PushLocal {
		o.mu.Lock()
		o.lastEmptySkipAt = o.clock.Now()
		if !o.pendingPush {
			o.pendingPush = true
			o.editStartAt = o.clock.Now()
		}
		o.mu.Unlock()

		o.log.Warn().Msg("Remote document empty; scheduling push of local state")
		o.schedulePush(o.cfg.DebounceWindow)
		return
	}

	res, err := o.applier.Apply(o.owner, plan)
	if err != nil {
		o.recordError("apply", err)
		return
	}

	if err := o.mirror.Save(doc.Trades); err != nil {
		o.log.Warn().Err(err).Msg("Failed to refresh mirror after pull")
	}

	o.mu.Lock()
	now := o.clock.Now()
	o.session.LocalVersion = revision
	o.remoteVersion = revision
	o.lastPullAt = now
	o.lastSyncAt = now
	o.lastErr = ""
	o.lastKnownRemoteCount = len(doc.Trades)
	session := *o.session
	o.mu.Unlock()

	if err := o.sessions.Save(&session); err != nil {
		o.log.Warn().Err(err).Msg("Failed to persist session state")
	}

	o.bus.Publish(events.SyncPulled, map[string]interface{}{
		"revision": revision,
		"created":  res.Created,
		"updated":  res.Updated,
		"deleted":  res.Deleted,
	})
	o.bus.Publish(events.TradesReconciled, map[string]interface{}{
		"tombstoned": res.Tombstoned,
	})
	o.bus.Publish(events.SyncCompleted, map[string]interface{}{"direction": "pull"})
}

// schedulePush (re)arms the debounce timer.
func (o *Orchestrator) schedulePush(after time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == StateDisconnected {
		return
	}
	if o.pushTimer != nil {
		o.pushTimer.Stop()
	}
	o.pushTimer = time.AfterFunc(after, func() {
		o.push(context.Background())
	})
}

// push uploads the local trade list with an optimistic precondition, pulling
// first when an unseen remote edit has priority.
func (o *Orchestrator) push(ctx context.Context) {
	o.mu.Lock()
	if o.state == StatePausedConflict || o.state == StateDisconnected {
		o.mu.Unlock()
		return
	}
	now := o.clock.Now()
	if wait := o.cfg.PullPushSuppress - now.Sub(o.lastPullAt); wait > 0 {
		// A push racing a fresh pull would re-overwrite what was just
		// pulled; try again once the window has passed.
		o.mu.Unlock()
		o.schedulePush(wait)
		return
	}
	o.mu.Unlock()

	if !o.begin(StatePushing) {
		o.schedulePush(o.cfg.DebounceWindow)
		return
	}
	defer o.end()

	o.bus.Publish(events.SyncStarted, map[string]interface{}{"direction": "push"})

	trades, err := o.localTrades()
	if err != nil {
		o.recordError("push", err)
		return
	}
	doc := domain.NewDocument(trades)

	o.mu.Lock()
	fileID := o.session.FileID
	expected := o.session.LocalVersion
	editStart := o.editStartAt
	o.mu.Unlock()

	// Pre-push live check: never trust that the remote still matches what
	// we last saw.
	meta, err := o.remote.GetMetadata(ctx, fileID)
	if err != nil {
		o.recordError("push", err)
		o.schedulePush(o.cfg.PollInterval)
		return
	}

	if expected != "" && meta.Revision != expected {
		proceed, newExpected := o.arbitratePrePush(ctx, fileID, meta, trades, editStart)
		if !proceed {
			return
		}
		expected = newExpected
	}

	newMeta, err := o.remote.Upload(ctx, fileID, doc, expected)
	if err != nil {
		if ce, ok := remote.AsConflict(err); ok {
			if o.remoteWins(ce.ModifiedTime, editStart) {
				o.log.Info().Msg("Conflict: remote edit is newer, pulling instead")
				o.bus.Publish(events.SyncConflict, map[string]interface{}{"winner": "remote"})
				o.abandonPendingPush()
				o.pullAfterConflict(ctx, fileID, ce.LiveRevision)
				return
			}

			o.log.Info().Msg("Conflict: local edit is newer, retrying without precondition")
			o.bus.Publish(events.SyncConflict, map[string]interface{}{"winner": "local"})
			newMeta, err = o.remote.Upload(ctx, fileID, doc, "")
		}
		if err != nil {
			o.recordError("push", err)
			o.schedulePush(o.cfg.PollInterval)
			return
		}
	}

	o.finishPush(newMeta, trades)
}

// arbitratePrePush handles a revision that moved between our last sync and
// this push. Returns whether the push should proceed and with which
// precondition.
func (o *Orchestrator) arbitratePrePush(ctx context.Context, fileID string, meta *remote.FileMeta, trades []domain.Trade, editStart time.Time) (bool, string) {
	remoteDoc, err := o.remote.Download(ctx, fileID)
	if err != nil {
		if errors.Is(err, remote.ErrMalformedContent) {
			o.pause(err)
			return false, ""
		}
		o.recordError("push", err)
		o.schedulePush(o.cfg.PollInterval)
		return false, ""
	}

	tombs, err := o.mirror.Tombstoned()
	if err != nil {
		o.recordError("push", err)
		return false, ""
	}

	opts := reconcile.Options{OwnerID: o.owner, Tombstoned: tombs}
	if o.engine.TradesEqual(remoteDoc.Trades, trades, opts) {
		// Content already agrees; adopt the revision and push on top of it
		// so metadata converges too.
		return true, meta.Revision
	}

	if o.remoteWins(meta.ModifiedTime, editStart) {
		// The unseen remote edit has priority; reconcile it in instead of
		// overwriting it.
		o.log.Info().Msg("Unseen remote edit is newer, pulling before push")
		o.abandonPendingPush()
		o.reconcileDocument(ctx, remoteDoc, meta.Revision)
		return false, ""
	}

	// Local edit wins; push without precondition.
	return true, ""
}

// pullAfterConflict reconciles the winning remote revision in. The busy slot
// is already held by push.
func (o *Orchestrator) pullAfterConflict(ctx context.Context, fileID, revision string) {
	doc, err := o.remote.Download(ctx, fileID)
	if err != nil {
		if errors.Is(err, remote.ErrMalformedContent) {
			o.pause(err)
			return
		}
		o.recordError("pull", err)
		return
	}
	o.reconcileDocument(ctx, doc, revision)
}

func (o *Orchestrator) finishPush(meta *remote.FileMeta, pushed []domain.Trade) {
	if err := o.mirror.Save(pushed); err != nil {
		o.log.Warn().Err(err).Msg("Failed to refresh mirror after push")
	}

	o.mu.Lock()
	now := o.clock.Now()
	o.session.LocalVersion = meta.Revision
	o.remoteVersion = meta.Revision
	o.lastPushAt = now
	o.lastSyncAt = now
	o.lastErr = ""
	o.consecutiveErrors = 0
	o.pendingPush = false
	o.editStartAt = time.Time{}
	if len(pushed) < o.lastKnownRemoteCount {
		// This push shrank the remote list; open the extended window that
		// keeps a racing poll from resurrecting the deleted trades.
		o.lastDeletionAt = now
	}
	o.lastKnownRemoteCount = len(pushed)
	session := *o.session
	o.mu.Unlock()

	if err := o.sessions.Save(&session); err != nil {
		o.log.Warn().Err(err).Msg("Failed to persist session state")
	}

	o.bus.Publish(events.SyncPushed, map[string]interface{}{
		"revision": meta.Revision,
		"trades":   len(pushed),
	})
	o.bus.Publish(events.SyncCompleted, map[string]interface{}{"direction": "push"})

	o.log.Info().
		Str("revision", meta.Revision).
		Int("trades", len(pushed)).
		Msg("Push completed")
}

// remoteWins decides first-edit-wins: the remote edit takes priority unless
// it clearly happened before the local edit was initiated. The two clocks
// (device vs hosting service) are unsynchronized, so the skew tolerance
// widens the "unclear" band in the remote's favor; on doubt we pull rather
// than overwrite a manual edit.
func (o *Orchestrator) remoteWins(remoteModified, editStart time.Time) bool {
	if editStart.IsZero() {
		return true
	}
	return !remoteModified.Add(o.cfg.ClockSkewTolerance).Before(editStart)
}

func (o *Orchestrator) abandonPendingPush() {
	o.mu.Lock()
	o.pendingPush = false
	o.editStartAt = time.Time{}
	o.mu.Unlock()
}

// localTrades is the ledger view minus tombstoned ids: what the rest of the
// world is allowed to see.
func (o *Orchestrator) localTrades() ([]domain.Trade, error) {
	trades, err := o.ledger.List(o.owner, true)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}

	tombs, err := o.mirror.Tombstoned()
	if err != nil {
		return nil, fmt.Errorf("failed to read tombstones: %w", err)
	}
	if len(tombs) == 0 {
		return trades, nil
	}

	out := trades[:0]
	for _, t := range trades {
		if !tombs[t.ID] {
			out = append(out, t)
		}
	}
	return out, nil
}

// begin claims the single sync slot; only one pull or push runs at a time.
func (o *Orchestrator) begin(s State) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.busy || o.state == StateDisconnected || o.state == StatePausedConflict {
		return false
	}
	o.busy = true
	o.setStateLocked(s)
	return true
}

func (o *Orchestrator) end() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.busy = false
	if o.state == StatePulling || o.state == StatePushing {
		o.setStateLocked(StateIdle)
	}
}

// pause halts sync entirely until the user intervenes. Guessing at a repair
// of a malformed remote document risks data loss.
func (o *Orchestrator) pause(err error) {
	o.mu.Lock()
	o.lastErr = err.Error()
	o.setStateLocked(StatePausedConflict)
	o.mu.Unlock()

	o.log.Error().Err(err).Msg("Sync paused until user intervention")
	o.bus.Publish(events.SyncPaused, map[string]interface{}{"error": err.Error()})
}

func (o *Orchestrator) recordError(phase string, err error) {
	o.mu.Lock()
	o.consecutiveErrors++
	o.lastErr = err.Error()
	n := o.consecutiveErrors
	o.mu.Unlock()

	o.log.Warn().Err(err).Str("phase", phase).Int("consecutive", n).Msg("Sync error")
	o.bus.PublishError(err, map[string]interface{}{"phase": phase})
}

// cleanupInflightLocked expires pull dedup tags past their TTL.
func (o *Orchestrator) cleanupInflightLocked() {
	now := o.clock.Now()
	for tag, started := range o.inflight {
		if now.Sub(started) > o.cfg.InFlightTagTTL {
			delete(o.inflight, tag)
		}
	}
}

func (o *Orchestrator) setStateLocked(s State) {
	if o.state == s {
		return
	}
	o.state = s
	if o.bus != nil {
		go o.bus.Publish(events.SyncStateChanged, map[string]interface{}{
			"state":   string(s),
			"display": display(s, o.lastErr),
		})
	}
}

func (o *Orchestrator) disconnectWithError(err error) {
	o.mu.Lock()
	o.lastErr = err.Error()
	o.setStateLocked(StateDisconnected)
	o.mu.Unlock()
}
