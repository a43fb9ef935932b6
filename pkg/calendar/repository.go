package calendar

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/familyhub/famcal/internal/utils"
	"github.com/familyhub/famcal/pkg/docstore"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// RecoveryQueue keeps adds that could not be written so they can be replayed
// later.
type RecoveryQueue interface {
	Enqueue(ctx context.Context, raw map[string]any, ownerId, familyId string) error
}

type Repository interface {
	Add(ctx context.Context, raw RawEvent, ownerId, familyId string) (AddResult, error)
	Update(ctx context.Context, id string, patch RawEvent, ownerId string) (Event, error)
	Delete(ctx context.Context, id string, ownerId string) error
	Get(ctx context.Context, id string, ownerId string) (Event, error)
	List(ctx context.Context, ownerId string, window *DateRange) ([]Event, error)
	ListFamily(ctx context.Context, familyId string, window *DateRange) ([]Event, error)
	ListCycle(ctx context.Context, familyId string, cycleNumber int) ([]Event, error)
	CycleDueDate(ctx context.Context, familyId string, cycleNumber int) (Event, error)
	Refresh(ctx context.Context, ownerId string) ([]Event, error)
	ClearCache()
}

type AddResult struct {
	StorageId   string
	UniversalId string
	IsDuplicate bool
	// Queued is set when the write failed and the event was handed to the
	// recovery queue.
	Queued bool
	Event  Event
}

type Options struct {
	Collection     string
	MaxRetries     int
	RetryBaseDelay time.Duration
}

func DefaultOptions() Options {
	return Options{
		Collection:     "events",
		MaxRetries:     3,
		RetryBaseDelay: 500 * time.Millisecond,
	}
}

type RepositoryImpl struct {
	store      docstore.Store
	normalizer *Normalizer
	detector   *DuplicateDetector
	notifier   *Notifier
	queue      RecoveryQueue
	clock      utils.Clock
	opts       Options

	mu    sync.RWMutex
	cache map[string]Event

	loads singleflight.Group
	// writes is held per owner and signature from the duplicate check until
	// the write is stored or queued.
	writes keyedMutex
}

// NewRepository wires the calendar onto store. queue may be nil, in which case
// failed adds are only reported.
func NewRepository(store docstore.Store, normalizer *Normalizer, notifier *Notifier, queue RecoveryQueue, clock utils.Clock, opts Options) *RepositoryImpl {
	defaults := DefaultOptions()
	if opts.Collection == "" {
		opts.Collection = defaults.Collection
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = defaults.RetryBaseDelay
	}
	return &RepositoryImpl{
		store:      store,
		normalizer: normalizer,
		detector:   NewDuplicateDetector(store, opts.Collection, normalizer),
		notifier:   notifier,
		queue:      queue,
		clock:      clock,
		opts:       opts,
		cache:      make(map[string]Event),
	}
}

// Add normalizes raw, skips it when an event with the same signature already
// exists for the owner, and writes it otherwise. A write that keeps failing
// transiently is queued for recovery; the error is still returned.
func (r *RepositoryImpl) Add(ctx context.Context, raw RawEvent, ownerId, familyId string) (AddResult, error) {
	return r.add(ctx, raw, ownerId, familyId, true)
}

// Replay adds a previously queued event without queueing it again on failure.
func (r *RepositoryImpl) Replay(ctx context.Context, raw map[string]any, ownerId, familyId string) error {
	_, err := r.add(ctx, RawEvent(raw), ownerId, familyId, false)
	return err
}

func (r *RepositoryImpl) add(ctx context.Context, raw RawEvent, ownerId, familyId string, enqueueOnFailure bool) (AddResult, error) {
	if ownerId == "" {
		return AddResult{}, fmt.Errorf("%w: ownerId is required", ErrValidation)
	}
	if familyId == "" {
		return AddResult{}, fmt.Errorf("%w: familyId is required", ErrValidation)
	}

	input := make(RawEvent, len(raw)+2)
	for k, v := range raw {
		input[k] = v
	}
	input["ownerId"] = ownerId
	input["familyId"] = familyId

	event := r.normalizer.Normalize(input)

	unlock := r.writes.Lock(event.OwnerId + "/" + event.Signature)
	defer unlock()

	if existing := r.detector.FindDuplicate(ctx, event); existing != nil {
		log.Infof("Event %q on %s already exists as %s, skipping", event.Title,
			event.StartAt.Format(time.DateOnly), existing.StorageId)
		r.remember(*existing)
		return AddResult{
			StorageId:   existing.StorageId,
			UniversalId: existing.UniversalId,
			IsDuplicate: true,
			Event:       *existing,
		}, nil
	}

	if event.StorageId == "" {
		event.StorageId = uuid.NewString()
	}
	event.UpdatedAt = canonical(r.clock.Now())

	if err := r.put(ctx, event); err != nil {
		result := AddResult{UniversalId: event.UniversalId}
		if enqueueOnFailure && r.queue != nil && recoverable(err) {
			queued := make(map[string]any, len(input)+1)
			for k, v := range input {
				queued[k] = v
			}
			queued["universalId"] = event.UniversalId
			if qErr := r.queue.Enqueue(context.WithoutCancel(ctx), queued, ownerId, familyId); qErr != nil {
				log.WithError(qErr).Errorf("Failed to queue event %s for recovery", event.UniversalId)
			} else {
				log.Warnf("Event %s queued for recovery after failed write", event.UniversalId)
				result.Queued = true
			}
		}
		return result, fmt.Errorf("failed to store event %s: %w", event.UniversalId, err)
	}

	r.remember(event)
	r.notifier.Publish(ctx, ActionAdd, event)

	return AddResult{StorageId: event.StorageId, UniversalId: event.UniversalId, Event: event}, nil
}

// Update merges patch over the stored event. Identity and ownership fields
// cannot be patched. Moving the start without an end keeps the duration.
func (r *RepositoryImpl) Update(ctx context.Context, id string, patch RawEvent, ownerId string) (Event, error) {
	if ownerId == "" {
		return Event{}, fmt.Errorf("%w: ownerId is required", ErrValidation)
	}
	existing, err := r.find(ctx, id, ownerId)
	if err != nil {
		return Event{}, err
	}

	updated := r.normalizer.Normalize(mergePatch(r.normalizer, existing, patch))
	updated.UniversalId = existing.UniversalId
	updated.StorageId = existing.StorageId
	updated.OwnerId = existing.OwnerId
	updated.FamilyId = existing.FamilyId
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = canonical(r.clock.Now())

	if err := r.put(ctx, updated); err != nil {
		return Event{}, fmt.Errorf("failed to update event %s: %w", existing.UniversalId, err)
	}

	r.remember(updated)
	r.notifier.Publish(ctx, ActionUpdate, updated)
	return updated, nil
}

// Delete removes the event. Deleting an event that does not exist, or that
// belongs to someone else, succeeds without touching the store.
func (r *RepositoryImpl) Delete(ctx context.Context, id string, ownerId string) error {
	if ownerId == "" {
		return fmt.Errorf("%w: ownerId is required", ErrValidation)
	}
	existing, err := r.find(ctx, id, ownerId)
	if errors.Is(err, ErrNotFound) {
		log.Debugf("Event %s not found for %s, nothing to delete", id, ownerId)
		return nil
	}
	if err != nil {
		return err
	}

	if err := r.store.Delete(ctx, r.opts.Collection, existing.StorageId); err != nil {
		return fmt.Errorf("failed to delete event %s: %w", existing.UniversalId, err)
	}

	r.forget(existing.UniversalId)
	r.notifier.Publish(ctx, ActionDelete, existing)
	return nil
}

// Get looks an event up by storage id or universal id.
func (r *RepositoryImpl) Get(ctx context.Context, id string, ownerId string) (Event, error) {
	if ownerId == "" {
		return Event{}, fmt.Errorf("%w: ownerId is required", ErrValidation)
	}
	r.mu.RLock()
	for _, e := range r.cache {
		if (e.UniversalId == id || e.StorageId == id) && e.OwnerId == ownerId {
			r.mu.RUnlock()
			return e, nil
		}
	}
	r.mu.RUnlock()

	return r.find(ctx, id, ownerId)
}

// List returns the owner's events overlapping window, ordered by start. A nil
// window returns everything. Records whose start could not be parsed are
// always included.
func (r *RepositoryImpl) List(ctx context.Context, ownerId string, window *DateRange) ([]Event, error) {
	if ownerId == "" {
		return nil, fmt.Errorf("%w: ownerId is required", ErrValidation)
	}
	loaded, err := r.load(ctx, "ownerId", ownerId)
	if err != nil {
		return nil, err
	}
	return within(loaded, window), nil
}

// ListFamily is List across every member of the family.
func (r *RepositoryImpl) ListFamily(ctx context.Context, familyId string, window *DateRange) ([]Event, error) {
	if familyId == "" {
		return nil, fmt.Errorf("%w: familyId is required", ErrValidation)
	}
	loaded, err := r.load(ctx, "familyId", familyId)
	if err != nil {
		return nil, err
	}
	return within(loaded, window), nil
}

// ListCycle returns the family's events tagged with cycleNumber, ordered by
// start.
func (r *RepositoryImpl) ListCycle(ctx context.Context, familyId string, cycleNumber int) ([]Event, error) {
	if familyId == "" {
		return nil, fmt.Errorf("%w: familyId is required", ErrValidation)
	}
	snapshots, err := r.store.Query(ctx, r.opts.Collection, []docstore.Filter{
		docstore.Where("familyId", docstore.Eq, familyId),
		docstore.Where("cycleNumber", docstore.Eq, cycleNumber),
	}, &docstore.OrderBy{Field: "startAt"})
	if err != nil {
		return nil, fmt.Errorf("failed to list cycle %d of %s: %w", cycleNumber, familyId, err)
	}
	events := make([]Event, 0, len(snapshots))
	for _, s := range snapshots {
		events = append(events, fromSnapshot(r.normalizer, s))
	}
	return events, nil
}

// CycleDueDate finds the event marking the end of a family cycle, looking in
// the cache before the store.
func (r *RepositoryImpl) CycleDueDate(ctx context.Context, familyId string, cycleNumber int) (Event, error) {
	if familyId == "" {
		return Event{}, fmt.Errorf("%w: familyId is required", ErrValidation)
	}
	r.mu.RLock()
	for _, e := range r.cache {
		if e.FamilyId == familyId && isCycleDueDate(e, cycleNumber) {
			r.mu.RUnlock()
			return e, nil
		}
	}
	r.mu.RUnlock()

	events, err := r.ListCycle(ctx, familyId, cycleNumber)
	if err != nil {
		return Event{}, err
	}
	for _, e := range events {
		if isCycleDueDate(e, cycleNumber) {
			r.remember(e)
			return e, nil
		}
	}
	return Event{}, ErrNotFound
}

const cycleDueDateType = "cycle-due-date"

func isCycleDueDate(e Event, cycleNumber int) bool {
	if v, ok := e.Extra["cycleNumber"]; !ok || fmt.Sprint(v) != strconv.Itoa(cycleNumber) {
		return false
	}
	if e.Extra["eventType"] == cycleDueDateType {
		return true
	}
	return strings.Contains(e.Title, "Cycle "+strconv.Itoa(cycleNumber)) && strings.Contains(e.Title, "Due Date")
}

func within(loaded []loadedEvent, window *DateRange) []Event {
	events := make([]Event, 0, len(loaded))
	for _, l := range loaded {
		if window == nil || !l.startKnown || l.event.overlaps(*window) {
			events = append(events, l.event)
		}
	}
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].StartAt.Equal(events[j].StartAt) {
			return events[i].UniversalId < events[j].UniversalId
		}
		return events[i].StartAt.Before(events[j].StartAt)
	})
	return events
}

// Refresh drops the owner's cached events and reloads them from the store.
func (r *RepositoryImpl) Refresh(ctx context.Context, ownerId string) ([]Event, error) {
	r.mu.Lock()
	for id, e := range r.cache {
		if e.OwnerId == ownerId {
			delete(r.cache, id)
		}
	}
	r.mu.Unlock()
	return r.List(ctx, ownerId, nil)
}

func (r *RepositoryImpl) ClearCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]Event)
}

type loadedEvent struct {
	event      Event
	startKnown bool
}

// load queries every event whose field equals value. Concurrent calls for the
// same key share one query, which runs detached from any single caller's
// cancellation; a cancelled caller stops waiting without failing the others.
// The result slice is shared and must not be modified.
func (r *RepositoryImpl) load(ctx context.Context, field, value string) ([]loadedEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := field + "/" + value
	ch := r.loads.DoChan(key, func() (any, error) {
		snapshots, err := r.store.Query(context.WithoutCancel(ctx), r.opts.Collection,
			[]docstore.Filter{docstore.Where(field, docstore.Eq, value)},
			&docstore.OrderBy{Field: "startAt"})
		if err != nil {
			return nil, fmt.Errorf("failed to list events of %s: %w", value, err)
		}

		loaded := make([]loadedEvent, 0, len(snapshots))
		for _, s := range snapshots {
			raw := RawEvent(s.Data)
			_, known := r.normalizer.resolveStart(raw)
			event := fromSnapshot(r.normalizer, s)
			loaded = append(loaded, loadedEvent{event: event, startKnown: known})
		}

		r.mu.Lock()
		for _, l := range loaded {
			r.cache[l.event.UniversalId] = l.event
		}
		r.mu.Unlock()

		return loaded, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			log.Tracef("Listing for %s shared an in-flight query", key)
		}
		return res.Val.([]loadedEvent), nil
	}
}

// find reads an event through to the store. An event owned by someone else is
// reported as not found.
func (r *RepositoryImpl) find(ctx context.Context, id string, ownerId string) (Event, error) {
	if id == "" {
		return Event{}, ErrNotFound
	}
	doc, err := r.store.Get(ctx, r.opts.Collection, id)
	switch {
	case err == nil:
		event := fromSnapshot(r.normalizer, docstore.Snapshot{Id: id, Data: doc})
		if event.OwnerId != ownerId {
			log.Warnf("Event %s requested by %s belongs to another owner", id, ownerId)
			return Event{}, ErrNotFound
		}
		return event, nil
	case !errors.Is(err, docstore.ErrNotFound):
		return Event{}, fmt.Errorf("failed to load event %s: %w", id, err)
	}

	snapshots, err := r.store.Query(ctx, r.opts.Collection, []docstore.Filter{
		docstore.Where("universalId", docstore.Eq, id),
		docstore.Where("ownerId", docstore.Eq, ownerId),
	}, nil)
	if err != nil {
		return Event{}, fmt.Errorf("failed to load event %s: %w", id, err)
	}
	if len(snapshots) == 0 {
		return Event{}, ErrNotFound
	}
	return fromSnapshot(r.normalizer, snapshots[0]), nil
}

// put writes the event, retrying transient failures with exponential backoff.
// The storage id is fixed before the first attempt so retries overwrite
// rather than duplicate.
func (r *RepositoryImpl) put(ctx context.Context, event Event) error {
	doc := document(event)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.opts.RetryBaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = r.opts.RetryBaseDelay << r.opts.MaxRetries
	b.MaxElapsedTime = 0

	attempt := 0
	operation := func() error {
		attempt++
		err := r.store.Put(ctx, r.opts.Collection, event.StorageId, doc)
		if err == nil {
			return nil
		}
		if !docstore.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		log.WithError(err).Warnf("Write of event %s failed (attempt %d), retrying in %s",
			event.UniversalId, attempt, next)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.opts.MaxRetries)), ctx)
	return backoff.RetryNotify(operation, policy, notify)
}

func (r *RepositoryImpl) remember(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[event.UniversalId] = event
}

func (r *RepositoryImpl) forget(universalId string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, universalId)
}

// recoverable reports whether a failed write is worth replaying later.
func recoverable(err error) bool {
	return docstore.IsTransient(err) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
