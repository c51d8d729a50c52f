package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/position-sentinel/internal/logging"
	"github.com/position-sentinel/internal/metrics"
	"github.com/position-sentinel/internal/models"
	"github.com/position-sentinel/internal/storage"
	"github.com/position-sentinel/internal/types"
)

// StateStore persists per-alert state machine memory.
type StateStore interface {
	Get(ctx context.Context, key models.AlertKey) (*models.AlertState, error)
	Upsert(ctx context.Context, state *models.AlertState) error
	DeleteForToken(ctx context.Context, key models.AlertKey) error
}

// LogStore appends immutable phase-transition records.
type LogStore interface {
	Append(ctx context.Context, entry *models.AlertLogEntry) error
}

// Engine drives the per-(user, position, type) alert state machines. Every
// decision is persisted before the corresponding notification is handed to
// the sink, so a delivery crash can at worst drop a message, never replay a
// transition.
type Engine struct {
	states   StateStore
	logStore LogStore
	sink     Sink
	now      func() time.Time
	log      *zap.Logger

	mu    sync.Mutex
	muted map[string]bool // recipients the sink reported unreachable this run
}

// NewEngine creates an alert engine.
func NewEngine(states StateStore, logStore LogStore, sink Sink) *Engine {
	return &Engine{
		states:   states,
		logStore: logStore,
		sink:     sink,
		now:      func() time.Time { return time.Now().UTC() },
		log:      logging.Named("alert.engine"),
		muted:    make(map[string]bool),
	}
}

// WithClock overrides the engine clock. Tests drive debounce windows with it.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Process advances one alert state machine against a fresh position summary.
func (e *Engine) Process(ctx context.Context, key models.AlertKey, variant Variant, summary *models.PositionSummary, statusOnly bool) error {
	cond := variant.Evaluate(summary)

	stored, err := e.states.Get(ctx, key)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to load alert state: %w", err)
	}

	var st *machineState
	if stored == nil {
		st = &machineState{Phase: phaseInactive}
		stored = &models.AlertState{Key: key}
	} else {
		st, err = decodeState(stored.StateBlob)
		if err != nil {
			// Corrupt state is unrecoverable; start the machine over rather
			// than wedge the position forever.
			e.log.Error("corrupt alert state, resetting",
				zap.String("token", key.TokenID), zap.String("type", string(key.Type)), zap.Error(err))
			st = &machineState{Phase: phaseInactive}
		}
	}

	// An unknown condition is a read failure, not a state change: the machine
	// holds its position and pending timers are left untouched.
	if !cond.Known {
		e.log.Debug("condition unknown, holding state",
			zap.String("token", key.TokenID), zap.String("type", string(key.Type)))
		return nil
	}

	now := e.now()
	switch st.Phase {
	case phaseInactive:
		return e.fromInactive(ctx, key, variant, summary, statusOnly, stored, st, cond, now)
	case phasePendingOn:
		return e.fromPendingOn(ctx, key, variant, summary, statusOnly, stored, st, cond, now)
	case phaseActive:
		return e.fromActive(ctx, key, variant, summary, statusOnly, stored, st, cond, now)
	case phasePendingOff:
		return e.fromPendingOff(ctx, key, variant, summary, statusOnly, stored, st, cond, now)
	default:
		return fmt.Errorf("unknown alert phase %q", st.Phase)
	}
}

func (e *Engine) fromInactive(ctx context.Context, key models.AlertKey, variant Variant, summary *models.PositionSummary, statusOnly bool, stored *models.AlertState, st *machineState, cond Condition, now time.Time) error {
	if !cond.Active {
		return nil
	}

	if e.bypasses(variant, cond.Tier) || variant.Debounce(types.DirectionWorsening) <= 0 {
		return e.activate(ctx, key, variant, summary, statusOnly, stored, st, cond.Tier)
	}

	st.Phase = phasePendingOn
	st.CandidateSince = now
	return e.persist(ctx, stored, st, false)
}

func (e *Engine) fromPendingOn(ctx context.Context, key models.AlertKey, variant Variant, summary *models.PositionSummary, statusOnly bool, stored *models.AlertState, st *machineState, cond Condition, now time.Time) error {
	if !cond.Active {
		st.Phase = phaseInactive
		st.CandidateSince = time.Time{}
		return e.persist(ctx, stored, st, false)
	}

	if e.bypasses(variant, cond.Tier) || now.Sub(st.CandidateSince) >= variant.Debounce(types.DirectionWorsening) {
		return e.activate(ctx, key, variant, summary, statusOnly, stored, st, cond.Tier)
	}
	return nil
}

func (e *Engine) fromActive(ctx context.Context, key models.AlertKey, variant Variant, summary *models.PositionSummary, statusOnly bool, stored *models.AlertState, st *machineState, cond Condition, now time.Time) error {
	if !cond.Active {
		st.Phase = phasePendingOff
		st.CandidateSince = now
		st.clearTierCandidate()
		if variant.Debounce(types.DirectionImproving) <= 0 {
			return e.resolve(ctx, key, variant, summary, statusOnly, stored, st)
		}
		return e.persist(ctx, stored, st, true)
	}

	if cond.Tier == st.Tier {
		st.clearTierCandidate()
		return e.persist(ctx, stored, st, true)
	}

	// tier change: dwell in the appropriate direction before re-announcing
	direction := types.DirectionImproving
	if cond.Tier.WorseThan(st.Tier) {
		direction = types.DirectionWorsening
	}

	if direction == types.DirectionWorsening && e.bypasses(variant, cond.Tier) {
		return e.announceTier(ctx, key, variant, summary, statusOnly, stored, st, cond.Tier)
	}

	if st.PendingTier != cond.Tier {
		st.PendingTier = cond.Tier
		st.TierCandidateSince = now
		return e.persist(ctx, stored, st, true)
	}
	if now.Sub(st.TierCandidateSince) >= variant.Debounce(direction) {
		return e.announceTier(ctx, key, variant, summary, statusOnly, stored, st, cond.Tier)
	}
	return nil
}

func (e *Engine) fromPendingOff(ctx context.Context, key models.AlertKey, variant Variant, summary *models.PositionSummary, statusOnly bool, stored *models.AlertState, st *machineState, cond Condition, now time.Time) error {
	if cond.Active {
		st.Phase = phaseActive
		st.CandidateSince = time.Time{}
		// the condition came back; treat a changed tier as a fresh candidate
		if cond.Tier != st.Tier {
			st.PendingTier = cond.Tier
			st.TierCandidateSince = now
		}
		return e.persist(ctx, stored, st, true)
	}

	if now.Sub(st.CandidateSince) >= variant.Debounce(types.DirectionImproving) {
		return e.resolve(ctx, key, variant, summary, statusOnly, stored, st)
	}
	return nil
}

// activate confirms the alert and emits its opening notification.
func (e *Engine) activate(ctx context.Context, key models.AlertKey, variant Variant, summary *models.PositionSummary, statusOnly bool, stored *models.AlertState, st *machineState, tier types.Tier) error {
	st.Phase = phaseActive
	st.Tier = tier
	st.CandidateSince = time.Time{}
	st.clearTierCandidate()
	st.Announced = true

	phase := types.PhaseNew
	if !variant.AnnounceNew() {
		phase = types.PhaseUpdated
	}
	return e.emit(ctx, key, variant, summary, statusOnly, stored, st, phase, tier)
}

// announceTier commits a confirmed tier change and emits UPDATED.
func (e *Engine) announceTier(ctx context.Context, key models.AlertKey, variant Variant, summary *models.PositionSummary, statusOnly bool, stored *models.AlertState, st *machineState, tier types.Tier) error {
	st.Tier = tier
	st.clearTierCandidate()
	return e.emit(ctx, key, variant, summary, statusOnly, stored, st, types.PhaseUpdated, tier)
}

// resolve confirms the condition cleared and emits RESOLVED when the variant
// announces resolutions.
func (e *Engine) resolve(ctx context.Context, key models.AlertKey, variant Variant, summary *models.PositionSummary, statusOnly bool, stored *models.AlertState, st *machineState) error {
	lastTier := st.Tier
	st.Phase = phaseInactive
	st.Tier = ""
	st.CandidateSince = time.Time{}
	st.clearTierCandidate()

	if !variant.AnnounceResolved() || !st.Announced {
		st.Announced = false
		return e.persist(ctx, stored, st, false)
	}
	st.Announced = false
	return e.emit(ctx, key, variant, summary, statusOnly, stored, st, types.PhaseResolved, lastTier)
}

// emit persists the transition and then delivers the notification. A repeated
// signature suppresses delivery but still commits the state.
func (e *Engine) emit(ctx context.Context, key models.AlertKey, variant Variant, summary *models.PositionSummary, statusOnly bool, stored *models.AlertState, st *machineState, phase types.AlertPhase, tier types.Tier) error {
	sig := variant.Signature(summary, phase, tier)
	duplicate := sig != "" && sig == stored.Signature

	stored.Signature = sig
	if err := e.persist(ctx, stored, st, st.Phase == phaseActive); err != nil {
		return err
	}

	if duplicate {
		e.log.Debug("duplicate signature, suppressing notification",
			zap.String("token", key.TokenID), zap.String("type", string(key.Type)))
		return nil
	}

	message, meta := variant.Render(summary, phase, tier, statusOnly)
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		metaJSON = []byte("{}")
	}

	entry := &models.AlertLogEntry{
		ID:        uuid.NewString(),
		Key:       key,
		Phase:     phase,
		Tier:      tier,
		Message:   message,
		Meta:      string(metaJSON),
		CreatedAt: e.now(),
	}
	if err := e.logStore.Append(ctx, entry); err != nil {
		e.log.Error("failed to append alert log entry", zap.Error(err))
	}

	metrics.AlertsEmitted.WithLabelValues(string(key.Type), string(phase)).Inc()

	e.mu.Lock()
	skip := e.muted[key.UserID]
	e.mu.Unlock()
	if skip {
		return nil
	}

	if err := e.sink.Notify(ctx, entry); err != nil {
		if errors.Is(err, ErrRecipientUnreachable) {
			e.mu.Lock()
			e.muted[key.UserID] = true
			e.mu.Unlock()
			e.log.Warn("recipient unreachable, muting for this run", zap.String("user", key.UserID))
			return nil
		}
		// state already committed; a lost message is acceptable, a replayed
		// transition is not
		e.log.Error("notification delivery failed", zap.Error(err))
	}
	return nil
}

func (e *Engine) persist(ctx context.Context, stored *models.AlertState, st *machineState, active bool) error {
	blob, err := st.encode()
	if err != nil {
		return err
	}
	stored.Active = active
	stored.StateBlob = blob
	if err := e.states.Upsert(ctx, stored); err != nil {
		return fmt.Errorf("failed to persist alert state: %w", err)
	}
	return nil
}

// Retire deletes all alert state for a position that left the user's view
// (transferred, burned or newly ignored). No RESOLVED is emitted: the
// position did not get safer, it stopped being ours to watch.
func (e *Engine) Retire(ctx context.Context, key models.AlertKey) error {
	if err := e.states.DeleteForToken(ctx, key); err != nil {
		return fmt.Errorf("failed to retire alert state: %w", err)
	}
	return nil
}

func (e *Engine) bypasses(variant Variant, tier types.Tier) bool {
	return variant.CriticalBypass() && tier == types.TierCritical
}
