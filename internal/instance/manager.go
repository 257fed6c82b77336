package instance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/Sakura4036/vllm-server/internal/store"
	"github.com/Sakura4036/vllm-server/pkg/types"
)

// Launcher starts and stops worker OS processes.
type Launcher interface {
	Launch(ctx context.Context, modelName string, port int, params map[string]any) (int, error)
	Terminate(pid int) error
	Alive(pid int) bool
}

// ReadyWaiter blocks until a worker answers its readiness endpoint.
type ReadyWaiter interface {
	AwaitReady(ctx context.Context, port int, timeout time.Duration) bool
}

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultBasePort     = 9000
	defaultMaxInstances = 20
	defaultIdleTimeout  = 600 // seconds
	defaultReadyTimeout = 120 * time.Second
)

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	Store         store.Store
	Launcher      Launcher
	Health        ReadyWaiter
	BasePort      int
	MaxInstances  int
	DefaultParams map[string]any
	IdleTimeout   int // seconds before an untouched instance is reclaimed
	ReadyTimeout  time.Duration
	Logger        zerolog.Logger
}

// Manager owns the instance lifecycle. All state lives in the store; the
// Manager holds no instance cache, so any number of concurrent callers (and
// replicas sharing the store) observe the same records.
type Manager struct {
	store        store.Store
	ports        *PortAllocator
	launcher     Launcher
	health       ReadyWaiter
	defaults     map[string]any
	idleTimeout  int
	readyTimeout time.Duration
	log          zerolog.Logger

	// create deduplicates concurrent creations for the same model name so a
	// burst of requests cannot launch duplicate workers.
	create singleflight.Group

	now func() time.Time
}

// NewManager constructs a Manager from ManagerConfig, applying defaults.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.BasePort <= 0 {
		cfg.BasePort = defaultBasePort
	}
	if cfg.MaxInstances <= 0 {
		cfg.MaxInstances = defaultMaxInstances
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = defaultReadyTimeout
	}
	return &Manager{
		store:        cfg.Store,
		ports:        NewPortAllocator(cfg.Store, cfg.BasePort, cfg.MaxInstances),
		launcher:     cfg.Launcher,
		health:       cfg.Health,
		defaults:     cfg.DefaultParams,
		idleTimeout:  cfg.IdleTimeout,
		readyTimeout: cfg.ReadyTimeout,
		log:          cfg.Logger,
		now:          time.Now,
	}
}

// Create allocates a port, launches a worker, gates on readiness and persists
// the record as running. Any failure along the way rolls back completely:
// the process is terminated, the record deleted and the port released before
// the error surfaces.
func (m *Manager) Create(ctx context.Context, modelName string, params map[string]any, timeoutSec int) (Record, error) {
	if modelName == "" {
		return Record{}, ErrInvalidRequest("model_name is required")
	}
	if timeoutSec <= 0 {
		timeoutSec = m.idleTimeout
	}
	merged := mergeParams(m.defaults, params)

	start := m.now()
	port, err := m.ports.Allocate(ctx)
	if err != nil {
		return Record{}, err
	}
	rec := Record{
		ID:         deriveID(modelName, port),
		ModelName:  modelName,
		Port:       port,
		Status:     types.StatusStarting,
		LastActive: start.Unix(),
		Timeout:    timeoutSec,
		Params:     merged,
	}
	// Persist before launching so the reaper never observes a claimed port
	// without a corresponding record.
	if err := m.putRecord(ctx, rec); err != nil {
		_ = m.ports.Release(context.WithoutCancel(ctx), port)
		return Record{}, err
	}
	m.log.Info().Str("model", modelName).Int("port", port).Msg("event=create_start")

	pid, err := m.launcher.Launch(ctx, modelName, port, merged)
	if err != nil {
		spawnFailuresTotal.WithLabelValues("launch").Inc()
		m.rollback(ctx, rec)
		return Record{}, ErrUpstreamUnavailable(fmt.Sprintf("launch %s: %v", modelName, err))
	}
	rec.PID = pid
	rec.Status = types.StatusHealthChecking
	if err := m.updateRecord(ctx, rec); err != nil {
		m.rollback(ctx, rec)
		return Record{}, err
	}

	if !m.health.AwaitReady(ctx, port, m.readyTimeout) {
		spawnFailuresTotal.WithLabelValues("health").Inc()
		m.log.Warn().Str("model", modelName).Int("pid", pid).Int("port", port).
			Msg("event=health_timeout")
		m.rollback(ctx, rec)
		return Record{}, ErrUpstreamUnavailable(fmt.Sprintf(
			"instance for model %s not ready within %s", modelName, m.readyTimeout))
	}

	rec.Status = types.StatusRunning
	rec.LastActive = m.now().Unix()
	if err := m.updateRecord(ctx, rec); err != nil {
		m.rollback(ctx, rec)
		return Record{}, err
	}
	spawnsTotal.Inc()
	instancesRunning.Inc()
	spawnDuration.Observe(m.now().Sub(start).Seconds())
	m.log.Info().Str("model", modelName).Str("id", rec.ID).Int("pid", pid).
		Int("port", port).Dur("dur", m.now().Sub(start)).Msg("event=create_ready")
	return rec, nil
}

// GetOrCreateForModel returns the running instance serving modelName,
// refreshing its last-active time, or creates one end-to-end. Concurrent
// calls for the same model are collapsed into a single creation.
func (m *Manager) GetOrCreateForModel(ctx context.Context, modelName string, params map[string]any, timeoutSec int) (Record, error) {
	if modelName == "" {
		return Record{}, ErrInvalidRequest("model field is required in request body")
	}
	v, err, _ := m.create.Do(modelName, func() (any, error) {
		if rec, ok, err := m.findRunning(ctx, modelName); err != nil {
			return Record{}, err
		} else if ok {
			m.touch(ctx, &rec)
			return rec, nil
		}
		return m.Create(ctx, modelName, params, timeoutSec)
	})
	if err != nil {
		return Record{}, err
	}
	return v.(Record), nil
}

// Get returns the record for id, or a not-found error.
func (m *Manager) Get(ctx context.Context, id string) (Record, error) {
	return m.getRecord(ctx, id)
}

// Touch refreshes the last-active time for id. Unknown ids are ignored.
func (m *Manager) Touch(ctx context.Context, id string) {
	rec, err := m.getRecord(ctx, id)
	if err != nil {
		return
	}
	m.touch(ctx, &rec)
}

// List returns every non-stopped instance keyed by id.
func (m *Manager) List(ctx context.Context) (map[string]types.InstanceInfo, error) {
	recs, err := m.listRecords(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]types.InstanceInfo, len(recs))
	for _, rec := range recs {
		if rec.Status == types.StatusStopped {
			continue
		}
		out[rec.ID] = rec.Info()
	}
	return out, nil
}

// Delete tears an instance down: terminate the process, release the port,
// remove the record. Idempotent; deleting an absent id is not an error.
func (m *Manager) Delete(ctx context.Context, id string) error {
	rec, err := m.getRecord(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return nil
		}
		return err
	}
	return m.teardown(ctx, rec)
}

// ReapExpired tears down every instance idle past its timeout and returns
// how many were reclaimed. A single failed teardown is logged and skipped,
// never aborting the sweep.
func (m *Manager) ReapExpired(ctx context.Context) int {
	recs, err := m.listRecords(ctx)
	if err != nil {
		m.log.Error().Err(err).Msg("event=reap_scan_failed")
		return 0
	}
	now := m.now().Unix()
	reaped := 0
	for _, rec := range recs {
		if now-rec.LastActive <= int64(rec.Timeout) {
			continue
		}
		if err := m.teardown(ctx, rec); err != nil {
			m.log.Error().Err(err).Str("id", rec.ID).Msg("event=reap_failed")
			continue
		}
		m.log.Info().Str("id", rec.ID).Str("model", rec.ModelName).
			Int64("idle_sec", now-rec.LastActive).Msg("event=reaped")
		reapedTotal.Inc()
		reaped++
	}
	return reaped
}

// Ready reports whether the backing store is reachable.
func (m *Manager) Ready(ctx context.Context) bool {
	_, err := m.store.List(ctx, recordKeyPrefix)
	return err == nil
}

// teardown is the single reclamation path shared by explicit deletion, the
// reaper and creation rollback. Record deletion and port release happen as
// one transition; each step is idempotent.
func (m *Manager) teardown(ctx context.Context, rec Record) error {
	if rec.PID > 0 {
		if err := m.launcher.Terminate(rec.PID); err != nil {
			return fmt.Errorf("terminate pid %d: %w", rec.PID, err)
		}
	}
	wasRunning := rec.Status == types.StatusRunning
	if err := m.store.Delete(ctx, recordKey(rec.ID)); err != nil {
		return err
	}
	if err := m.ports.Release(ctx, rec.Port); err != nil {
		return err
	}
	if wasRunning {
		instancesRunning.Dec()
	}
	m.log.Info().Str("id", rec.ID).Int("port", rec.Port).Msg("event=teardown")
	return nil
}

// rollback cleans up a failed creation on a context that survives caller
// cancellation, so a canceled request cannot leak a port or a process.
func (m *Manager) rollback(ctx context.Context, rec Record) {
	if err := m.teardown(context.WithoutCancel(ctx), rec); err != nil {
		m.log.Error().Err(err).Str("id", rec.ID).Msg("event=rollback_failed")
	}
}

func (m *Manager) findRunning(ctx context.Context, modelName string) (Record, bool, error) {
	recs, err := m.listRecords(ctx)
	if err != nil {
		return Record{}, false, err
	}
	for _, rec := range recs {
		if rec.ModelName == modelName && rec.Status == types.StatusRunning {
			return rec, true, nil
		}
	}
	return Record{}, false, nil
}

// touch advances LastActive, never moving it backwards, and never reviving a
// stopped or deleted record. A record torn down between the caller's read and
// this write makes the refresh a silent no-op.
func (m *Manager) touch(ctx context.Context, rec *Record) {
	if rec.Status == types.StatusStopped {
		return
	}
	if now := m.now().Unix(); now > rec.LastActive {
		rec.LastActive = now
		if err := m.updateRecord(ctx, *rec); err != nil {
			if IsNotFound(err) {
				return
			}
			m.log.Warn().Err(err).Str("id", rec.ID).Msg("event=touch_failed")
		}
	}
}

func (m *Manager) getRecord(ctx context.Context, id string) (Record, error) {
	b, err := m.store.Get(ctx, recordKey(id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Record{}, ErrInstanceNotFound(id)
		}
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return Record{}, fmt.Errorf("decode record %s: %w", id, err)
	}
	return rec, nil
}

// putRecord inserts a brand new record. Only the initial starting write goes
// through here; every later transition uses updateRecord.
func (m *Manager) putRecord(ctx context.Context, rec Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.ID, err)
	}
	return m.store.Put(ctx, recordKey(rec.ID), b)
}

// updateRecord persists rec only while the stored copy still exists, refusing
// backwards status transitions. The store's put-if-present write means a
// record deleted by a concurrent teardown is never re-inserted: the caller
// gets a not-found error instead.
func (m *Manager) updateRecord(ctx context.Context, rec Record) error {
	cur, err := m.getRecord(ctx, rec.ID)
	if err != nil {
		return err
	}
	if statusRank(rec.Status) < statusRank(cur.Status) {
		return fmt.Errorf("illegal status transition %s -> %s for %s",
			cur.Status, rec.Status, rec.ID)
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.ID, err)
	}
	if err := m.store.Update(ctx, recordKey(rec.ID), b); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrInstanceNotFound(rec.ID)
		}
		return err
	}
	return nil
}

func (m *Manager) listRecords(ctx context.Context) ([]Record, error) {
	raw, err := m.store.List(ctx, recordKeyPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(raw))
	for key, b := range raw {
		var rec Record
		if err := json.Unmarshal(b, &rec); err != nil {
			m.log.Warn().Str("key", key).Err(err).Msg("event=skip_bad_record")
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func mergeParams(defaults, overrides map[string]any) map[string]any {
	merged := make(map[string]any, len(defaults)+len(overrides))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}
