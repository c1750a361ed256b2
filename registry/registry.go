// Package registry maps document ids to live sessions, sharding the map so
// unrelated documents never contend on the same lock, and guaranteeing that
// concurrent lookups for the same not-yet-loaded document construct exactly
// one Session.
package registry

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/docsync/docsync/ot"
	"github.com/docsync/docsync/session"
	"github.com/docsync/docsync/store"
)

// numShards is the number of stripes the document map is split into. Each
// stripe has its own mutex, so lookups for unrelated documents never
// contend, per the "N ≥ 16" sharding requirement.
const numShards = 32

// entry is one live session and its bookkeeping.
type entry struct {
	sess         *session.Session
	refCount     int64
	lastAccessed time.Time
}

type shard struct {
	mu       sync.Mutex
	sessions map[string]*entry
}

// Registry owns every live Session in this process, sharded for
// concurrency, backed by a DocumentStore for bootstrap and persistence.
type Registry struct {
	shards [numShards]*shard
	group  singleflight.Group

	store    store.DocumentStore
	notifier Notifier
	logger   zerolog.Logger

	persistInterval time.Duration
	evictAfter      time.Duration

	stop chan struct{}
	wg   sync.WaitGroup
}

// Option configures a Registry at construction time.
type Option func(*Registry)

// WithNotifier attaches a cross-process Notifier (see notifier.go) to every
// session the registry creates.
func WithNotifier(n Notifier) Option {
	return func(r *Registry) { r.notifier = n }
}

// WithPersistInterval enables the periodic persister, snapshotting each
// live session's text to the archive store on a jittered interval whenever
// its revision has advanced since the last snapshot. Zero disables it.
func WithPersistInterval(d time.Duration) Option {
	return func(r *Registry) { r.persistInterval = d }
}

// WithEvictAfter enables the inactivity sweep: sessions with zero attached
// participants are removed once idle for longer than d. Zero disables it.
func WithEvictAfter(d time.Duration) Option {
	return func(r *Registry) { r.evictAfter = d }
}

// New creates a Registry backed by archive. Call Close when done to stop
// its background goroutines.
func New(archive store.DocumentStore, logger zerolog.Logger, opts ...Option) *Registry {
	r := &Registry{
		store:  archive,
		logger: logger,
		stop:   make(chan struct{}),
	}
	for i := range r.shards {
		r.shards[i] = &shard{sessions: make(map[string]*entry)}
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.persistInterval > 0 {
		r.wg.Add(1)
		go r.persistLoop()
	}
	if r.evictAfter > 0 {
		r.wg.Add(1)
		go r.evictLoop()
	}
	return r
}

// Close stops the registry's background goroutines. Live sessions are left
// running; callers should Detach their handles independently.
func (r *Registry) Close() {
	close(r.stop)
	r.wg.Wait()
}

func (r *Registry) shardFor(docID string) *shard {
	h := xxhash.Sum64String(docID)
	return r.shards[h%uint64(len(r.shards))]
}

// GetOrCreate returns the session for docID, constructing and bootstrapping
// it from the archive store if this is the first reference. Concurrent
// callers racing on the same fresh docID all receive the same Session;
// exactly one of them performs the construction.
func (r *Registry) GetOrCreate(ctx context.Context, docID string) (*session.Session, error) {
	sh := r.shardFor(docID)

	sh.mu.Lock()
	if e, ok := sh.sessions[docID]; ok {
		e.lastAccessed = time.Now()
		sh.mu.Unlock()
		return e.sess, nil
	}
	sh.mu.Unlock()

	v, err, _ := r.group.Do(docID, func() (any, error) {
		sh.mu.Lock()
		if e, ok := sh.sessions[docID]; ok {
			sh.mu.Unlock()
			return e.sess, nil
		}
		sh.mu.Unlock()

		content, version, history, ok := r.bootstrap(ctx, docID)
		if !ok {
			r.logger.Warn().Str("doc", docID).Msg("bootstrap failed, starting empty session")
		}

		sess := session.New(docID, content, version, history, r.sessionNotifier(docID), r.store, r.logger)
		go sess.Run()

		sh.mu.Lock()
		sh.sessions[docID] = &entry{sess: sess, lastAccessed: time.Now()}
		sh.mu.Unlock()

		return sess, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*session.Session), nil
}

// bootstrap loads a document's stored content and operation log, creating an
// empty record in the archive on first sight of an id so later persistence
// has something to update. Failure is non-fatal — the session simply starts
// empty.
//
// The returned history seeds the session's rebase log directly only when it
// agrees with the snapshot's version: a log that's short (an older backend
// that never wired AppendOperation, or a wipe between deploys) or long (a
// crash mid-snapshot) can't be trusted to replay to exactly the snapshotted
// content, so the session instead starts with the snapshot alone and no
// pre-restart rebase history — correct but unable to rebase submissions
// against revisions from before this process started.
func (r *Registry) bootstrap(ctx context.Context, docID string) (content string, version int, history []ot.Operation, ok bool) {
	info, err := r.store.Get(ctx, docID)
	if err != nil {
		if err := r.store.Create(ctx, docID, ""); err != nil {
			return "", 0, nil, false
		}
		return "", 0, nil, true
	}

	ops, err := r.store.GetOperations(ctx, docID, 0)
	if err != nil {
		r.logger.Warn().Err(err).Str("doc", docID).Msg("load operation log failed, resuming from snapshot only")
		return info.Content, info.Version, nil, true
	}
	if len(ops) != info.Version {
		r.logger.Warn().Str("doc", docID).Int("snapshotVersion", info.Version).Int("logLength", len(ops)).
			Msg("operation log length disagrees with snapshot version, resuming from snapshot only")
		return info.Content, info.Version, nil, true
	}
	return info.Content, info.Version, ops, true
}

func (r *Registry) sessionNotifier(docID string) session.Notifier {
	if r.notifier == nil {
		return nil
	}
	n := r.notifier
	return session.NotifierFunc(func(_ string, revision uint64) {
		n.NotifyRevision(docID, revision)
	})
}

// Attach increments docID's reference count. Every transport.Driver that
// successfully attaches to a session must call Attach once and Detach
// exactly once when it disconnects.
func (r *Registry) Attach(docID string) {
	sh := r.shardFor(docID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if e, ok := sh.sessions[docID]; ok {
		e.refCount++
		e.lastAccessed = time.Now()
	}
}

// Detach decrements docID's reference count. It does not evict the session
// immediately at zero — eviction happens on the sweep interval, once the
// session has been idle for evictAfter.
func (r *Registry) Detach(docID string) {
	sh := r.shardFor(docID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if e, ok := sh.sessions[docID]; ok {
		e.refCount--
		e.lastAccessed = time.Now()
	}
}

// Len returns the number of live sessions, for the stats endpoint.
func (r *Registry) Len() int {
	n := 0
	for _, sh := range r.shards {
		sh.mu.Lock()
		n += len(sh.sessions)
		sh.mu.Unlock()
	}
	return n
}

// Sessions returns a snapshot of every live session, for the stats endpoint
// and the persister loop.
func (r *Registry) Sessions() []*session.Session {
	var out []*session.Session
	for _, sh := range r.shards {
		sh.mu.Lock()
		for _, e := range sh.sessions {
			out = append(out, e.sess)
		}
		sh.mu.Unlock()
	}
	return out
}

func (r *Registry) persistLoop() {
	defer r.wg.Done()
	lastRevision := make(map[string]uint64)

	jitter := func() time.Duration {
		return r.persistInterval + time.Duration(rand.Int63n(int64(r.persistInterval/4+1)))
	}

	timer := time.NewTimer(jitter())
	defer timer.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-timer.C:
			for _, sess := range r.Sessions() {
				rev := sess.CurrentRevision()
				if lastRevision[sess.DocID()] == rev {
					continue
				}
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := r.store.UpdateContent(ctx, sess.DocID(), sess.Text(), int(rev)); err != nil {
					r.logger.Error().Err(err).Str("doc", sess.DocID()).Msg("persist snapshot failed")
				} else {
					lastRevision[sess.DocID()] = rev
				}
				cancel()
			}
			timer.Reset(jitter())
		}
	}
}

func (r *Registry) evictLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Registry) sweep() {
	now := time.Now()
	for _, sh := range r.shards {
		sh.mu.Lock()
		for docID, e := range sh.sessions {
			if e.refCount <= 0 && now.Sub(e.lastAccessed) > r.evictAfter {
				e.sess.Stop()
				delete(sh.sessions, docID)
				r.logger.Info().Str("doc", docID).Msg("evicted idle session")
			}
		}
		sh.mu.Unlock()
	}
}
