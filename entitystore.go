// Package entitystore is a reference implementation of a digital
// preservation repository's ingest-and-retrieval engine. It accepts
// intellectual-entity graphs, persists versioned snapshots, keeps a
// full-text index in sync, and resolves nested objects back to their
// owning entity.
package entitystore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/preservio/entitystore/internal/blobstore"
	"github.com/preservio/entitystore/internal/index"
	"github.com/preservio/entitystore/internal/ingest"
	"github.com/preservio/entitystore/internal/resolve"
	"github.com/preservio/entitystore/internal/scheduler"
	"github.com/preservio/entitystore/pkg/model"
)

// VersionLatest selects the newest stored version in retrieval calls.
const VersionLatest = blobstore.Latest

var (
	ErrNotStarted = errors.New("entitystore: repository not started")
	ErrClosed     = errors.New("entitystore: repository closed")
	// ErrNotFound reports a missing entity, version, or nested object.
	ErrNotFound = blobstore.ErrNotFound
	// ErrAlreadyExists reports a write onto an existing version without
	// overwrite permission.
	ErrAlreadyExists = blobstore.ErrAlreadyExists
)

// Repository is the repository handle. It owns the blob store, the
// search index, the ownership maps, and the async ingest worker.
type Repository struct {
	log    *slog.Logger
	config Config

	mu    sync.RWMutex
	store *blobstore.Store
	idx   *index.Index
	maps  *resolve.Maps
	ing   *ingest.Ingestor
	sched *scheduler.Scheduler

	started   atomic.Bool
	startOnce sync.Once
	closeOnce sync.Once
}

// New constructs a repository handle. New does not touch the disk;
// call Start to open the store and launch the async worker.
func New(conf Config) (*Repository, error) {
	if conf.DataDir == "" {
		return nil, fmt.Errorf("config: DataDir must be set")
	}
	if conf.Logger == nil {
		conf.Logger = defaultLogger()
	}
	return &Repository{
		log:    conf.Logger,
		config: conf,
	}, nil
}

// Start opens the backing store, builds the search index, and starts
// the async ingest worker. Only the first call has effect.
func (r *Repository) Start(ctx context.Context) error {
	var startErr error
	r.startOnce.Do(func() {
		store, err := blobstore.Open(r.config.DataDir, r.config.Logger)
		if err != nil {
			startErr = fmt.Errorf("start repository: %w", err)
			return
		}

		idx, err := index.New(r.config.Logger)
		if err != nil {
			_ = store.Close()
			startErr = fmt.Errorf("start repository: %w", err)
			return
		}

		maps := resolve.NewMaps()
		ing := ingest.New(store, idx, maps, r.config.Logger)
		sched := scheduler.New(ing, r.config.Logger, scheduler.Options{
			PollInterval: r.config.AsyncPollInterval,
			JitterBase:   r.config.AsyncJitterBase,
			JitterSpread: r.config.AsyncJitterSpread,
		})

		r.mu.Lock()
		r.store = store
		r.idx = idx
		r.maps = maps
		r.ing = ing
		r.sched = sched
		r.mu.Unlock()

		sched.Start()
		r.started.Store(true)
		r.log.Info("repository started", "data_dir", r.config.DataDir)
	})
	return startErr
}

// Run starts the repository, blocks until ctx is canceled, then closes
// it. A convenience for service binaries.
func (r *Repository) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return r.Close(context.Background())
}

// Close stops the async worker (joining it before anything else is
// torn down) and releases the index and store. Close is idempotent.
// Stored snapshots stay durable; see Purge for teardown.
func (r *Repository) Close(ctx context.Context) error {
	var closeErr error
	r.closeOnce.Do(func() {
		r.started.Store(false)

		r.mu.Lock()
		store, idx, sched := r.store, r.idx, r.sched
		r.store, r.idx, r.sched = nil, nil, nil
		r.mu.Unlock()

		if sched != nil {
			sched.Stop()
		}
		if idx != nil {
			if err := idx.Close(); err != nil {
				closeErr = errors.Join(closeErr, err)
			}
		}
		if store != nil {
			if err := store.Close(); err != nil {
				closeErr = errors.Join(closeErr, err)
			}
		}
		r.log.Info("repository closed")
	})
	return closeErr
}

type handles struct {
	store *blobstore.Store
	idx   *index.Index
	maps  *resolve.Maps
	ing   *ingest.Ingestor
	sched *scheduler.Scheduler
}

func (r *Repository) handles() (handles, error) {
	if !r.started.Load() {
		return handles{}, ErrNotStarted
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.store == nil {
		return handles{}, ErrClosed
	}
	return handles{store: r.store, idx: r.idx, maps: r.maps, ing: r.ing, sched: r.sched}, nil
}

// Ingest persists one entity synchronously and returns the stored form.
func (r *Repository) Ingest(ctx context.Context, entity *model.IntellectualEntity) (*model.IntellectualEntity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h, err := r.handles()
	if err != nil {
		return nil, err
	}
	return h.ing.Ingest(entity)
}

// IngestAsync queues one entity for deferred ingestion and returns
// immediately with the pending entity: confirmed identifier, lifecycle
// state INGESTING.
func (r *Repository) IngestAsync(ctx context.Context, entity *model.IntellectualEntity) (*model.IntellectualEntity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h, err := r.handles()
	if err != nil {
		return nil, err
	}
	return h.sched.Enqueue(entity), nil
}

// Update appends a new version for the addressed entity. The body's
// identifier is overridden by id; history is never overwritten.
func (r *Repository) Update(ctx context.Context, id string, entity *model.IntellectualEntity) (*model.IntellectualEntity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h, err := r.handles()
	if err != nil {
		return nil, err
	}
	return h.ing.Update(id, entity)
}

// Entity retrieves one stored snapshot. Version blobstore.Latest (0)
// resolves to the newest one.
func (r *Repository) Entity(ctx context.Context, id string, version int) (*model.IntellectualEntity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h, err := r.handles()
	if err != nil {
		return nil, err
	}
	return loadEntity(h.store, id, version)
}

func loadEntity(store *blobstore.Store, id string, version int) (*model.IntellectualEntity, error) {
	blob, err := store.GetVersion(id, version)
	if err != nil {
		return nil, err
	}
	entity, err := model.Decode(blob)
	if err != nil {
		return nil, fmt.Errorf("stored snapshot %s: %w", id, err)
	}
	return entity, nil
}

// Entities retrieves the latest snapshot for each given identifier.
// One missing id fails the whole list.
func (r *Repository) Entities(ctx context.Context, ids []string) ([]*model.IntellectualEntity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h, err := r.handles()
	if err != nil {
		return nil, err
	}
	out := make([]*model.IntellectualEntity, 0, len(ids))
	for _, id := range ids {
		entity, err := loadEntity(h.store, id, blobstore.Latest)
		if err != nil {
			return nil, err
		}
		out = append(out, entity)
	}
	return out, nil
}

// Representation resolves a representation id to its owning entity and
// extracts the matching node from the requested version.
func (r *Repository) Representation(ctx context.Context, id string, version int) (*model.Representation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h, err := r.handles()
	if err != nil {
		return nil, err
	}
	owner, ok := h.maps.EntityForRepresentation(id)
	if !ok {
		return nil, fmt.Errorf("representation %s: %w", id, ErrNotFound)
	}
	entity, err := loadEntity(h.store, owner, version)
	if err != nil {
		return nil, err
	}
	rep := entity.Representation(id)
	if rep == nil {
		return nil, fmt.Errorf("representation %s not in entity %s: %w", id, owner, ErrNotFound)
	}
	return rep, nil
}

// File resolves a file id to its owning entity and extracts the
// matching node from the requested version.
func (r *Repository) File(ctx context.Context, id string, version int) (*model.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h, err := r.handles()
	if err != nil {
		return nil, err
	}
	owner, ok := h.maps.EntityForFile(id)
	if !ok {
		return nil, fmt.Errorf("file %s: %w", id, ErrNotFound)
	}
	entity, err := loadEntity(h.store, owner, version)
	if err != nil {
		return nil, err
	}
	f := entity.File(id)
	if f == nil {
		return nil, fmt.Errorf("file %s not in entity %s: %w", id, owner, ErrNotFound)
	}
	return f, nil
}

// BitStream resolves a bitstream id to its owning entity and extracts
// the matching node from the requested version.
func (r *Repository) BitStream(ctx context.Context, id string, version int) (*model.BitStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h, err := r.handles()
	if err != nil {
		return nil, err
	}
	owner, ok := h.maps.EntityForBitStream(id)
	if !ok {
		return nil, fmt.Errorf("bitstream %s: %w", id, ErrNotFound)
	}
	entity, err := loadEntity(h.store, owner, version)
	if err != nil {
		return nil, err
	}
	bs := entity.BitStream(id)
	if bs == nil {
		return nil, fmt.Errorf("bitstream %s not in entity %s: %w", id, owner, ErrNotFound)
	}
	return bs, nil
}

// DescriptiveMetadata resolves a descriptive-metadata id to its owning
// entity and returns the descriptive block of the requested version.
func (r *Repository) DescriptiveMetadata(ctx context.Context, id string, version int) (*model.DescriptiveMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h, err := r.handles()
	if err != nil {
		return nil, err
	}
	owner, ok := h.maps.EntityForMetadata(id)
	if !ok {
		return nil, fmt.Errorf("metadata %s: %w", id, ErrNotFound)
	}
	entity, err := loadEntity(h.store, owner, version)
	if err != nil {
		return nil, err
	}
	if entity.Descriptive == nil || entity.Descriptive.ID != id {
		return nil, fmt.Errorf("metadata %s not in entity %s: %w", id, owner, ErrNotFound)
	}
	return entity.Descriptive, nil
}

// Versions lists every stored version number for an entity, ascending.
func (r *Repository) Versions(ctx context.Context, id string) (*model.VersionList, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h, err := r.handles()
	if err != nil {
		return nil, err
	}
	exists, err := h.store.Exists(id, blobstore.Latest)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("entity %s: %w", id, ErrNotFound)
	}
	versions, err := h.store.ListVersions(id)
	if err != nil {
		return nil, err
	}
	return &model.VersionList{Identifier: id, Versions: versions}, nil
}

// Lifecycle reports the entity's workflow state: from the durable store
// when a snapshot exists, otherwise from the in-flight async queue.
func (r *Repository) Lifecycle(ctx context.Context, id string) (*model.LifecycleState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h, err := r.handles()
	if err != nil {
		return nil, err
	}
	entity, err := loadEntity(h.store, id, blobstore.Latest)
	if err == nil {
		return &entity.LifecycleState, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if state, ok := h.sched.PendingState(id); ok {
		return &state, nil
	}
	return nil, fmt.Errorf("lifecycle of %s: %w", id, ErrNotFound)
}

// SearchEntities returns the entities whose id, title or description
// match term, ranked, capped at the index's result limit.
func (r *Repository) SearchEntities(ctx context.Context, term string) ([]*model.IntellectualEntity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h, err := r.handles()
	if err != nil {
		return nil, err
	}
	ids, err := h.idx.Search(index.Entities, term)
	if err != nil {
		return nil, err
	}
	out := make([]*model.IntellectualEntity, 0, len(ids))
	for _, id := range ids {
		entity, err := loadEntity(h.store, id, blobstore.Latest)
		if err != nil {
			// index can briefly lead the store during async teardown
			r.log.Warn("search hit without stored snapshot", "id", id)
			continue
		}
		out = append(out, entity)
	}
	return out, nil
}

// SearchRepresentations returns the representations whose id or title
// match term, each extracted from its owning entity's latest snapshot.
func (r *Repository) SearchRepresentations(ctx context.Context, term string) ([]*model.Representation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h, err := r.handles()
	if err != nil {
		return nil, err
	}
	ids, err := h.idx.Search(index.Representations, term)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Representation, 0, len(ids))
	for _, id := range ids {
		owner, ok := h.maps.EntityForRepresentation(id)
		if !ok {
			continue
		}
		entity, err := loadEntity(h.store, owner, blobstore.Latest)
		if err != nil {
			continue
		}
		if rep := entity.Representation(id); rep != nil {
			out = append(out, rep)
		}
	}
	return out, nil
}

// StoreDatastream saves a raw opaque blob under the datastream
// namespace, next to but separate from entity snapshots.
func (r *Repository) StoreDatastream(ctx context.Context, id string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h, err := r.handles()
	if err != nil {
		return err
	}
	return h.store.PutBlob(id, data)
}

// Datastream reads a raw blob from the datastream namespace.
func (r *Repository) Datastream(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h, err := r.handles()
	if err != nil {
		return nil, err
	}
	return h.store.GetBlob(id)
}

// Purge deletes all persisted state. Teardown and conformance-test
// reset only; the async worker must be stopped first when shutting
// down for good.
func (r *Repository) Purge(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h, err := r.handles()
	if err != nil {
		return err
	}
	return h.store.PurgeAll()
}
