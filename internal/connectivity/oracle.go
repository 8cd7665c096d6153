// Package connectivity decides whether the terminal is effectively offline.
// The interface signal alone is not trusted: a terminal can sit on a LAN with
// no route to the back office, so an online reading is verified with a probe.
package connectivity

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"pos-sync/internal/models"
	"pos-sync/internal/util"

	"go.uber.org/zap"
)

// ModeStore persists the effective offline flag
type ModeStore interface {
	OfflineMode(ctx context.Context) (bool, error)
	SetOfflineMode(ctx context.Context, offline bool) error
}

// AutoSyncer is triggered once the terminal is verified online again
type AutoSyncer interface {
	AutoSync(ctx context.Context)
}

// Oracle combines the interface signal with a reachability probe
type Oracle struct {
	signal        Signal
	prober        Prober
	store         ModeStore
	syncer        AutoSyncer
	autoSyncDelay time.Duration
	now           func() time.Time
	logger        *zap.Logger

	evalMu      sync.Mutex
	offline     atomic.Bool
	initialized bool

	mu          sync.Mutex
	listeners   []modeListener
	nextID      int
	pending     *time.Timer
	unsubscribe func()
	ctx         context.Context
	cancel      context.CancelFunc
}

type modeListener struct {
	id int
	fn func(models.ModeChange)
}

// NewOracle creates a new connectivity oracle. syncer may be nil.
func NewOracle(signal Signal, prober Prober, store ModeStore, syncer AutoSyncer, autoSyncDelay time.Duration) *Oracle {
	return &Oracle{
		signal:        signal,
		prober:        prober,
		store:         store,
		syncer:        syncer,
		autoSyncDelay: autoSyncDelay,
		now:           time.Now,
		logger:        util.ComponentLogger("connectivity"),
	}
}

// Start restores the persisted mode, follows signal transitions and evaluates once.
// Evaluations triggered by the signal run on their own goroutine.
func (o *Oracle) Start(ctx context.Context) {
	o.mu.Lock()
	o.ctx, o.cancel = context.WithCancel(context.WithoutCancel(ctx))
	o.mu.Unlock()

	if persisted, err := o.store.OfflineMode(ctx); err != nil {
		o.logger.Warn("Failed to restore offline mode", zap.Error(err))
	} else {
		o.offline.Store(persisted)
	}

	// Attach before the first evaluation so a change landing in between is not missed.
	unsubscribe := o.signal.Subscribe(func(online bool) {
		o.logger.Debug("Interface signal changed", zap.Bool("online", online))
		// The probe can take PROBE_TIMEOUT; the signal's caller must not wait on it.
		go func() {
			ctx := o.baseContext()
			if ctx.Err() != nil {
				return
			}
			o.Evaluate(ctx)
		}()
	})

	o.mu.Lock()
	o.unsubscribe = unsubscribe
	o.mu.Unlock()

	o.Evaluate(ctx)
}

// Stop detaches from the signal and cancels any pending auto sync
func (o *Oracle) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.unsubscribe != nil {
		o.unsubscribe()
		o.unsubscribe = nil
	}
	if o.pending != nil {
		o.pending.Stop()
		o.pending = nil
	}
	if o.cancel != nil {
		o.cancel()
	}
}

// IsOffline returns the effective offline mode
func (o *Oracle) IsOffline() bool {
	return o.offline.Load()
}

// SignalOnline returns the raw interface reading
func (o *Oracle) SignalOnline() bool {
	return o.signal.Online()
}

// OnChange registers fn for effective mode changes; listeners run in registration order
func (o *Oracle) OnChange(fn func(models.ModeChange)) (unsubscribe func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.nextID++
	id := o.nextID
	o.listeners = append(o.listeners, modeListener{id: id, fn: fn})

	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		for i := range o.listeners {
			if o.listeners[i].id == id {
				o.listeners = append(o.listeners[:i], o.listeners[i+1:]...)
				return
			}
		}
	}
}

// Evaluate recomputes the effective mode and returns it
func (o *Oracle) Evaluate(ctx context.Context) bool {
	o.evalMu.Lock()
	defer o.evalMu.Unlock()

	previous := o.offline.Load()
	first := !o.initialized
	o.initialized = true

	offline := true
	if o.signal.Online() {
		offline = !o.prober.Reachable(ctx)
	}
	o.offline.Store(offline)

	if offline {
		util.OfflineMode.Set(1)
	} else {
		util.OfflineMode.Set(0)
	}

	if offline != previous {
		if err := o.store.SetOfflineMode(ctx, offline); err != nil {
			o.logger.Warn("Failed to persist offline mode", zap.Error(err))
		}

		change := models.ModeChange{
			IsOffline:    offline,
			PreviousMode: previous,
			Timestamp:    o.now().UTC(),
		}
		o.logger.Info("Effective connectivity changed",
			zap.Bool("offline", offline),
			zap.Bool("previous", previous))
		o.broadcast(change)
	}

	if !offline && (offline != previous || first) {
		o.scheduleAutoSync()
	}
	return offline
}

func (o *Oracle) broadcast(change models.ModeChange) {
	o.mu.Lock()
	listeners := make([]modeListener, len(o.listeners))
	copy(listeners, o.listeners)
	o.mu.Unlock()

	for _, l := range listeners {
		l.fn(change)
	}
}

func (o *Oracle) scheduleAutoSync() {
	if o.syncer == nil {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.ctx != nil && o.ctx.Err() != nil {
		return
	}
	if o.pending != nil {
		o.pending.Stop()
	}
	o.pending = time.AfterFunc(o.autoSyncDelay, func() {
		o.syncer.AutoSync(o.baseContext())
	})
}

func (o *Oracle) baseContext() context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ctx == nil {
		return context.Background()
	}
	return o.ctx
}
