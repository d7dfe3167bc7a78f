package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"sync/atomic"

	"github.com/dmitrijs2005/meterlog/internal/common"
	"github.com/dmitrijs2005/meterlog/internal/device"
	"github.com/dmitrijs2005/meterlog/internal/logging"
	"github.com/dmitrijs2005/meterlog/internal/models"
	"github.com/dmitrijs2005/meterlog/internal/remote"
	"github.com/dmitrijs2005/meterlog/internal/repositories/readings"
	"github.com/dmitrijs2005/meterlog/internal/services"
)

// Connectivity is the deduplicated online/offline stream the engine reacts to.
type Connectivity interface {
	Start(ctx context.Context) <-chan bool
	Online() bool
}

// LocalService is the slice of the reading service the engine depends on:
// adoption at session start and the local commit notification stream.
type LocalService interface {
	Adopt(ctx context.Context, ownerID string) (int64, error)
	Commits() <-chan struct{}
}

var _ LocalService = (*services.ReadingService)(nil)

// Options wires the engine's collaborators.
type Options struct {
	Repo       readings.Repository
	Service    LocalService
	Store      remote.Store
	Subscriber remote.Subscriber
	Monitor    Connectivity
	Device     *device.Identity
	Logger     logging.Logger

	// PushConcurrency bounds simultaneous per-record remote writes.
	// Defaults to 4.
	PushConcurrency int
}

// Engine orchestrates one sync session per owner: it observes local
// commits, pushes pending records, consumes the remote change stream and
// reconciles it against local state. All three input streams are funneled
// through a single command loop; only the per-record remote writes of a
// push cycle run concurrently.
type Engine struct {
	repo       readings.Repository
	service    LocalService
	store      remote.Store
	subscriber remote.Subscriber
	monitor    Connectivity
	device     *device.Identity
	logger     logging.Logger
	pushLimit  int

	mu          gosync.Mutex
	owner       string
	cancel      context.CancelFunc
	state       State
	errMsg      string
	pending     int
	backfilled  bool
	subscribers []chan Status

	pushing    atomic.Bool
	inflightMu gosync.Mutex
	inflight   map[string]struct{}

	pushReq chan struct{}
}

func NewEngine(opts Options) *Engine {
	limit := opts.PushConcurrency
	if limit <= 0 {
		limit = 4
	}
	return &Engine{
		repo:       opts.Repo,
		service:    opts.Service,
		store:      opts.Store,
		subscriber: opts.Subscriber,
		monitor:    opts.Monitor,
		device:     opts.Device,
		logger:     opts.Logger,
		pushLimit:  limit,
		state:      StateStopped,
		inflight:   make(map[string]struct{}),
		pushReq:    make(chan struct{}, 1),
	}
}

// Start opens a sync session for the owner. Calling it again with the same
// owner while running is a no-op; with a different owner it stops the
// current session first. The session ends when ctx is cancelled or Stop is
// called.
func (e *Engine) Start(ctx context.Context, ownerID string) error {
	e.mu.Lock()
	if e.owner == ownerID && e.state != StateStopped {
		e.mu.Unlock()
		return nil
	}
	e.stopLocked()
	e.owner = ownerID
	e.setStateLocked(StateStarting, "")
	e.mu.Unlock()

	e.logger.Info(ctx, "starting sync session", "owner", ownerID)

	// One-time local repairs before anything leaves the device.
	if n, err := e.repo.BackfillTimestamps(ctx, nowUTC()); err != nil {
		e.logger.Warn(ctx, "timestamp backfill failed", "error", err)
	} else if n > 0 {
		e.logger.Info(ctx, "backfilled legacy timestamps", "count", n)
	}
	if n, err := e.repo.MigrateUnversioned(ctx, ownerID, e.device.Current()); err != nil {
		e.logger.Warn(ctx, "version migration failed", "error", err)
	} else if n > 0 {
		e.logger.Info(ctx, "queued unversioned readings", "count", n)
	}
	if _, err := e.service.Adopt(ctx, ownerID); err != nil {
		e.logger.Warn(ctx, "adoption failed", "owner", ownerID, "error", err)
	}

	sessionCtx, cancel := context.WithCancel(ctx)

	events, err := e.subscriber.Subscribe(sessionCtx, ownerID)
	if err != nil {
		cancel()
		e.mu.Lock()
		e.setStateLocked(StateError, err.Error())
		e.mu.Unlock()
		return fmt.Errorf("failed to subscribe to change stream: %w", err)
	}

	connectivity := e.monitor.Start(sessionCtx)

	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	go e.run(sessionCtx, ownerID, events, connectivity, e.service.Commits())

	e.republishPending(ctx, ownerID)
	e.requestPush()
	return nil
}

// Stop tears the session down. Idempotent and safe when already stopped.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
}

func (e *Engine) stopLocked() {
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.owner = ""
	e.pending = 0
	e.backfilled = false
	e.setStateLocked(StateStopped, "")
}

// Status returns the current session status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{State: e.state, Err: e.errMsg, Pending: e.pending}
}

// Subscribe returns a status stream for UI collaborators. The current
// status is delivered first; slow consumers miss intermediate updates
// rather than blocking the engine.
func (e *Engine) Subscribe() <-chan Status {
	ch := make(chan Status, 8)
	e.mu.Lock()
	e.subscribers = append(e.subscribers, ch)
	ch <- Status{State: e.state, Err: e.errMsg, Pending: e.pending}
	e.mu.Unlock()
	return ch
}

// PushPending asks the running session for a push cycle.
func (e *Engine) PushPending() {
	e.requestPush()
}

// run is the session command loop. Every state mutation triggered by the
// outside world arrives through one of these channels, so handlers never
// interleave.
func (e *Engine) run(ctx context.Context, owner string, events <-chan remote.ChangeEvent, connectivity <-chan bool, commits <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return

		case _, ok := <-commits:
			if !ok {
				commits = nil
				continue
			}
			e.republishPending(ctx, owner)
			e.pushPending(ctx, owner)

		case online, ok := <-connectivity:
			if !ok {
				connectivity = nil
				continue
			}
			if !online {
				e.setState(StateOffline, "")
				continue
			}
			e.setState(StateIdle, "")
			e.ensureBackfill(ctx, owner)
			e.pushPending(ctx, owner)

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			e.applyRemote(ctx, owner, ev)
			e.republishPending(ctx, owner)

		case <-e.pushReq:
			e.pushPending(ctx, owner)
		}
	}
}

// ensureBackfill replays the owner's current remote snapshot as added
// events, once per session. This is how a fresh device learns about
// history that predates its queue.
func (e *Engine) ensureBackfill(ctx context.Context, owner string) {
	e.mu.Lock()
	done := e.backfilled
	e.mu.Unlock()
	if done {
		return
	}

	docs, err := e.store.List(ctx, owner)
	if err != nil {
		e.logger.Warn(ctx, "snapshot replay failed, will retry when online", "error", err)
		return
	}

	for _, doc := range docs {
		fields, err := doc.Fields()
		if err != nil {
			e.logger.Warn(ctx, "skipping unreadable snapshot document", "record", doc.ID, "error", err)
			continue
		}
		e.applyDocument(ctx, owner, fields)
	}

	e.mu.Lock()
	e.backfilled = true
	e.mu.Unlock()
	e.logger.Info(ctx, "snapshot replay finished", "documents", len(docs))
}

// pushPending runs one push cycle. The cycle is single-flight: a push
// already running coalesces with this request. Offline transitions the
// session without consuming the attempt.
func (e *Engine) pushPending(ctx context.Context, owner string) {
	if !e.pushing.CompareAndSwap(false, true) {
		return
	}

	if !e.monitor.Online() {
		e.pushing.Store(false)
		e.setState(StateOffline, "")
		return
	}

	e.setState(StateSyncing, "")

	go func() {
		defer e.pushing.Store(false)
		e.pushCycle(ctx, owner)
		e.setState(StateIdle, "")
		e.republishPending(ctx, owner)
	}()
}

// pushCycle writes every Pending/Error record of the owner to the remote
// store. Records are written independently with bounded concurrency; a
// per-record failure marks that record Error and the batch continues.
func (e *Engine) pushCycle(ctx context.Context, owner string) {
	records, err := e.repo.ListPushable(ctx, owner)
	if err != nil {
		e.logger.Error(ctx, "failed to list pushable readings", "error", err)
		return
	}
	if len(records) == 0 {
		return
	}
	e.logger.Info(ctx, "push cycle", "owner", owner, "records", len(records))

	sem := make(chan struct{}, e.pushLimit)
	var wg gosync.WaitGroup
	for _, rec := range records {
		if !e.beginInflight(rec.ID) {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(rec *models.Reading) {
			defer wg.Done()
			defer func() { <-sem }()
			defer e.endInflight(rec.ID)
			e.pushOne(ctx, owner, rec)
		}(rec)
	}
	wg.Wait()
}

func (e *Engine) pushOne(ctx context.Context, owner string, rec *models.Reading) {
	// Records from before device tracking carry no device id.
	if rec.DeviceID == "" {
		rec.DeviceID = e.device.Current()
		if err := e.repo.SetDeviceID(ctx, rec.ID, rec.DeviceID); err != nil {
			e.logger.Warn(ctx, "failed to backfill device id", "record", rec.ID, "error", err)
		}
	}

	doc, err := remote.Encode(rec)
	if err != nil {
		e.logger.Error(ctx, "failed to encode reading", "record", rec.ID, "error", err)
		return
	}

	pushErr := e.store.Put(ctx, doc)

	// The session may have changed owner while the write was in flight;
	// a stale result must not touch the new session's records.
	if e.currentOwner() != owner {
		return
	}

	if pushErr != nil {
		e.logger.Warn(ctx, "push failed", "record", rec.ID, "error", pushErr)
		if err := e.repo.SetSyncStatus(ctx, rec.ID, models.StatusError); err != nil {
			e.logger.Error(ctx, "failed to mark reading as errored", "record", rec.ID, "error", err)
		}
		return
	}

	if err := e.repo.SetSyncStatus(ctx, rec.ID, models.StatusSynced); err != nil {
		e.logger.Error(ctx, "failed to mark reading as synced", "record", rec.ID, "error", err)
	}
}

// applyRemote handles one change-stream event. Malformed documents are
// logged and skipped; partial failure is tolerated per document.
func (e *Engine) applyRemote(ctx context.Context, owner string, ev remote.ChangeEvent) {
	if ev.Kind == remote.ChangeRemoved {
		e.applyRemoteDelete(ctx, ev.RecordID)
		return
	}

	fields, err := ev.Fields()
	if err != nil {
		e.logger.Warn(ctx, "skipping malformed change event", "record", ev.RecordID, "error", err)
		return
	}
	e.applyDocument(ctx, owner, fields)
}

func (e *Engine) applyDocument(ctx context.Context, owner string, fields map[string]any) {
	rec, err := remote.Decode(fields)
	if err != nil {
		e.logger.Warn(ctx, "skipping undecodable remote document", "error", err)
		return
	}
	if rec.OwnerID != owner {
		e.logger.Debug(ctx, "ignoring document for another owner", "record", rec.ID)
		return
	}

	local, err := e.repo.GetByID(ctx, rec.ID)
	if errors.Is(err, common.ErrNotFound) {
		// Unknown record: no conflict possible, take it as-is.
		if err := e.repo.CreateOrUpdate(ctx, rec); err != nil {
			e.logger.Error(ctx, "failed to store remote reading", "record", rec.ID, "error", err)
		}
		return
	}
	if err != nil {
		e.logger.Error(ctx, "failed to load local reading", "record", rec.ID, "error", err)
		return
	}

	res := Resolve(local, rec)
	switch res.Action {
	case AdoptRemote:
		if err := e.repo.CreateOrUpdate(ctx, rec); err != nil {
			e.logger.Error(ctx, "failed to apply remote reading", "record", rec.ID, "error", err)
		}
	case KeepLocal:
		// Local edit is newer or tied; the next push overwrites the remote.
	case MarkConflict:
		local.SyncStatus = models.StatusConflict
		local.Conflict = res.Snapshot
		if err := e.repo.CreateOrUpdate(ctx, local); err != nil {
			e.logger.Error(ctx, "failed to flag conflict", "record", rec.ID, "error", err)
		} else {
			e.logger.Warn(ctx, "true conflict flagged for user resolution",
				"record", rec.ID, "local_value", local.Value, "remote_value", rec.Value)
		}
	}
}

func (e *Engine) applyRemoteDelete(ctx context.Context, recordID string) {
	local, err := e.repo.GetByID(ctx, recordID)
	if errors.Is(err, common.ErrNotFound) {
		return
	}
	if err != nil {
		e.logger.Error(ctx, "failed to load local reading", "record", recordID, "error", err)
		return
	}

	res := ResolveRemoteDelete(local)
	switch res.Action {
	case AdoptRemote:
		if err := e.repo.Delete(ctx, recordID); err != nil {
			e.logger.Error(ctx, "failed to delete reading", "record", recordID, "error", err)
		}
	case MarkConflict:
		local.SyncStatus = models.StatusConflict
		local.Conflict = res.Snapshot
		if err := e.repo.CreateOrUpdate(ctx, local); err != nil {
			e.logger.Error(ctx, "failed to flag deletion conflict", "record", recordID, "error", err)
		} else {
			e.logger.Warn(ctx, "remote deletion conflicts with local edit", "record", recordID)
		}
	}
}

// ResolveKeepLocal settles a flagged conflict in favor of the local value:
// the snapshot is dropped and the record is queued for a fresh push so the
// remote side is overwritten.
func (e *Engine) ResolveKeepLocal(ctx context.Context, id string) error {
	rec, err := e.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if rec.Conflict == nil {
		return common.ErrNoConflict
	}

	rec.Conflict = nil
	rec.SyncStatus = models.StatusPending
	rec.Version++
	rec.ModifiedAt = nowUTC()
	rec.DeviceID = e.device.Current()

	if err := e.repo.CreateOrUpdate(ctx, rec); err != nil {
		return fmt.Errorf("failed to save resolution: %w", err)
	}
	e.requestPush()
	return nil
}

// ResolveAcceptRemote settles a flagged conflict in favor of the remote
// side: the snapshot becomes the record's state. A deletion snapshot
// removes the record locally.
func (e *Engine) ResolveAcceptRemote(ctx context.Context, id string) error {
	rec, err := e.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if rec.Conflict == nil {
		return common.ErrNoConflict
	}

	snapshot := rec.Conflict
	if snapshot.Deleted {
		return e.repo.Delete(ctx, id)
	}

	rec.Value = snapshot.Value
	rec.ObservedAt = snapshot.ObservedAt
	rec.ModifiedAt = snapshot.ModifiedAt
	rec.DeviceID = snapshot.DeviceID
	rec.Version = snapshot.Version
	rec.ImageRef = snapshot.ImageRef
	rec.Conflict = nil
	rec.SyncStatus = models.StatusSynced

	if err := e.repo.CreateOrUpdate(ctx, rec); err != nil {
		return fmt.Errorf("failed to save resolution: %w", err)
	}
	return nil
}

func (e *Engine) requestPush() {
	select {
	case e.pushReq <- struct{}{}:
	default:
	}
}

func (e *Engine) beginInflight(id string) bool {
	e.inflightMu.Lock()
	defer e.inflightMu.Unlock()
	if _, busy := e.inflight[id]; busy {
		return false
	}
	e.inflight[id] = struct{}{}
	return true
}

func (e *Engine) endInflight(id string) {
	e.inflightMu.Lock()
	defer e.inflightMu.Unlock()
	delete(e.inflight, id)
}

func (e *Engine) currentOwner() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.owner
}

func (e *Engine) republishPending(ctx context.Context, owner string) {
	n, err := e.repo.PendingCount(ctx, owner)
	if err != nil {
		e.logger.Warn(ctx, "failed to count pending readings", "error", err)
		return
	}
	e.mu.Lock()
	if e.owner == owner {
		e.pending = n
		e.publishLocked()
	}
	e.mu.Unlock()
}

func (e *Engine) setState(state State, errMsg string) {
	e.mu.Lock()
	e.setStateLocked(state, errMsg)
	e.mu.Unlock()
}

func (e *Engine) setStateLocked(state State, errMsg string) {
	e.state = state
	e.errMsg = errMsg
	e.publishLocked()
}

func (e *Engine) publishLocked() {
	status := Status{State: e.state, Err: e.errMsg, Pending: e.pending}
	for _, ch := range e.subscribers {
		select {
		case ch <- status:
		default:
		}
	}
}
