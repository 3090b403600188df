package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/newsletter/internal/models"
	"github.com/wolfeidau/newsletter/internal/store"
)

var _ store.Store = (*Store)(nil)

var errTxClosed = errors.New("transaction already closed")

const defaultReservationLockTimeout = 5 * time.Second

type reservationKey struct {
	principalID uuid.UUID
	key         models.IdempotencyKey
}

type taskKey struct {
	issueID uuid.UUID
	email   string
}

// reservation is an idempotency row. owner is set while the reserving
// transaction is open, and done is closed when it finishes either way.
type reservation struct {
	owner    *memTx
	response *models.SavedResponse
	done     chan struct{}
}

// Store is an in-memory implementation of store.Store for development and
// testing. Writes made through a transaction are staged on it and applied on
// Commit, so uncommitted reservations, issues and tasks are invisible to
// other callers.
type Store struct {
	mu           sync.Mutex
	lockTimeout  time.Duration
	subscribers  map[string]*models.Subscriber // indexed by email
	order        []string                      // subscriber emails in insertion order
	issues       map[uuid.UUID]*models.NewsletterIssue
	queue        []models.DeliveryTask
	claimed      map[taskKey]*memTx
	reservations map[reservationKey]*reservation
}

// Option configures a Store.
type Option func(*Store)

// WithReservationLockTimeout bounds how long TryReserve waits on a concurrent
// open reservation for the same key.
func WithReservationLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.lockTimeout = d
	}
}

// NewStore creates a new in-memory store
func NewStore(opts ...Option) *Store {
	s := &Store{
		lockTimeout:  defaultReservationLockTimeout,
		subscribers:  make(map[string]*models.Subscriber),
		issues:       make(map[uuid.UUID]*models.NewsletterIssue),
		claimed:      make(map[taskKey]*memTx),
		reservations: make(map[reservationKey]*reservation),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Start() error { return nil }

func (s *Store) Stop() error { return nil }

func (s *Store) TryReserve(ctx context.Context, principalID uuid.UUID, key models.IdempotencyKey) (store.Tx, bool, error) {
	rk := reservationKey{principalID: principalID, key: key}

	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()

	for {
		s.mu.Lock()
		r, exists := s.reservations[rk]
		if !exists {
			tx := &memTx{s: s, reservation: &rk}
			s.reservations[rk] = &reservation{owner: tx, done: make(chan struct{})}
			s.mu.Unlock()
			return tx, true, nil
		}
		if r.owner == nil {
			s.mu.Unlock()
			return nil, false, nil
		}
		done := r.done
		s.mu.Unlock()

		select {
		case <-done:
			// the holder finished; look again
		case <-timer.C:
			return nil, false, fmt.Errorf("%w: timed out waiting for reservation of key %q", store.ErrTransient, key)
		case <-ctx.Done():
			return nil, false, fmt.Errorf("%w: %w", store.ErrTransient, ctx.Err())
		}
	}
}

func (s *Store) GetSavedResponse(ctx context.Context, principalID uuid.UUID, key models.IdempotencyKey) (*models.SavedResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.reservations[reservationKey{principalID: principalID, key: key}]
	if !exists || r.owner != nil {
		return nil, store.ErrNotFound
	}
	if r.response == nil {
		return nil, fmt.Errorf("%w: reservation for key %q has no saved response", store.ErrInconsistentState, key)
	}

	return r.response.Clone(), nil
}

func (s *Store) SaveResponse(ctx context.Context, tx store.Tx, principalID uuid.UUID, key models.IdempotencyKey, resp *models.SavedResponse) error {
	if resp == nil {
		return fmt.Errorf("%w: response is required", store.ErrInconsistentState)
	}

	mtx, err := s.unwrapTx(tx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if mtx.done {
		return errTxClosed
	}
	rk := reservationKey{principalID: principalID, key: key}
	if mtx.reservation == nil || *mtx.reservation != rk || mtx.response != nil {
		return fmt.Errorf("%w: no open reservation for key %q", store.ErrInconsistentState, key)
	}

	mtx.response = resp.Clone()
	return nil
}

func (s *Store) InsertIssue(ctx context.Context, tx store.Tx, issue *models.NewsletterIssue) error {
	mtx, err := s.optionalTx(tx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.issues[issue.ID]; exists || (mtx != nil && mtx.stagedIssue(issue.ID) != nil) {
		return fmt.Errorf("newsletter issue %s: %w", issue.ID, store.ErrAlreadyExists)
	}

	cp := *issue
	if mtx == nil {
		s.issues[issue.ID] = &cp
		return nil
	}
	if mtx.done {
		return errTxClosed
	}
	mtx.issues = append(mtx.issues, &cp)
	return nil
}

func (s *Store) EnqueueDeliveryTasks(ctx context.Context, tx store.Tx, issueID uuid.UUID) (int64, error) {
	mtx, err := s.optionalTx(tx)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.issues[issueID]; !exists && (mtx == nil || mtx.stagedIssue(issueID) == nil) {
		return 0, fmt.Errorf("newsletter issue %s: %w", issueID, store.ErrNotFound)
	}

	var tasks []models.DeliveryTask
	for _, email := range s.order {
		if s.subscribers[email].Status != models.SubscriptionStatusConfirmed {
			continue
		}
		tasks = append(tasks, models.DeliveryTask{IssueID: issueID, SubscriberEmail: email})
	}

	for _, task := range tasks {
		if s.queued(task) || (mtx != nil && slices.Contains(mtx.tasks, task)) {
			return 0, fmt.Errorf("delivery task %s/%s: %w", task.IssueID, task.SubscriberEmail, store.ErrAlreadyExists)
		}
	}

	if mtx == nil {
		s.queue = append(s.queue, tasks...)
	} else {
		if mtx.done {
			return 0, errTxClosed
		}
		mtx.tasks = append(mtx.tasks, tasks...)
	}

	return int64(len(tasks)), nil
}

func (s *Store) GetIssue(ctx context.Context, tx store.Tx, issueID uuid.UUID) (*models.NewsletterIssue, error) {
	mtx, err := s.optionalTx(tx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	issue, exists := s.issues[issueID]
	if !exists && mtx != nil {
		issue = mtx.stagedIssue(issueID)
	}
	if issue == nil {
		return nil, store.ErrNotFound
	}

	cp := *issue
	return &cp, nil
}

// DequeueTask claims the oldest task not claimed by another open transaction.
func (s *Store) DequeueTask(ctx context.Context) (*store.ClaimedTask, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, task := range s.queue {
		tk := taskKey{issueID: task.IssueID, email: task.SubscriberEmail}
		if _, claimed := s.claimed[tk]; claimed {
			continue
		}

		tx := &memTx{s: s, claims: []taskKey{tk}}
		s.claimed[tk] = tx
		return &store.ClaimedTask{Tx: tx, Task: task}, nil
	}

	return nil, nil
}

func (s *Store) DeleteTask(ctx context.Context, tx store.Tx, task models.DeliveryTask) error {
	mtx, err := s.unwrapTx(tx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if mtx.done {
		return errTxClosed
	}

	tk := taskKey{issueID: task.IssueID, email: task.SubscriberEmail}
	if !s.queued(task) || slices.Contains(mtx.deletes, tk) {
		return fmt.Errorf("delivery task %s/%s: %w", task.IssueID, task.SubscriberEmail, store.ErrNotFound)
	}
	if holder, claimed := s.claimed[tk]; claimed && holder != mtx {
		return fmt.Errorf("%w: delivery task %s/%s is locked by another transaction", store.ErrTransient, task.IssueID, task.SubscriberEmail)
	}

	mtx.deletes = append(mtx.deletes, tk)
	return nil
}

func (s *Store) PendingTasks(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return int64(len(s.queue)), nil
}

func (s *Store) AddSubscriber(ctx context.Context, sub *models.Subscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subscribers[sub.Email]; exists {
		return fmt.Errorf("subscriber %s: %w", sub.Email, store.ErrAlreadyExists)
	}

	cp := *sub
	s.subscribers[sub.Email] = &cp
	s.order = append(s.order, sub.Email)
	return nil
}

func (s *Store) queued(task models.DeliveryTask) bool {
	return slices.Contains(s.queue, task)
}

func (s *Store) unwrapTx(tx store.Tx) (*memTx, error) {
	mtx, ok := tx.(*memTx)
	if !ok || mtx == nil || mtx.s != s {
		return nil, store.ErrForeignTx
	}
	return mtx, nil
}

func (s *Store) optionalTx(tx store.Tx) (*memTx, error) {
	if tx == nil {
		return nil, nil
	}
	return s.unwrapTx(tx)
}
