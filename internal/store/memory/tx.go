package memory

import (
	"context"
	"slices"

	"github.com/google/uuid"
	"github.com/wolfeidau/newsletter/internal/models"
)

// memTx stages writes until Commit. It also owns any reservation and task
// claims it created.
type memTx struct {
	s *Store

	reservation *reservationKey
	response    *models.SavedResponse
	issues      []*models.NewsletterIssue
	tasks       []models.DeliveryTask
	claims      []taskKey
	deletes     []taskKey
	done        bool
}

// stagedIssue must be called with s.mu held.
func (tx *memTx) stagedIssue(id uuid.UUID) *models.NewsletterIssue {
	for _, issue := range tx.issues {
		if issue.ID == id {
			return issue
		}
	}
	return nil
}

func (tx *memTx) Commit(ctx context.Context) error {
	s := tx.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.done {
		return errTxClosed
	}
	tx.done = true

	for _, issue := range tx.issues {
		s.issues[issue.ID] = issue
	}
	s.queue = append(s.queue, tx.tasks...)
	s.queue = slices.DeleteFunc(s.queue, func(task models.DeliveryTask) bool {
		return slices.Contains(tx.deletes, taskKey{issueID: task.IssueID, email: task.SubscriberEmail})
	})

	tx.releaseClaims()

	if tx.reservation != nil {
		if r, ok := s.reservations[*tx.reservation]; ok && r.owner == tx {
			r.owner = nil
			r.response = tx.response
			close(r.done)
		}
	}

	return nil
}

// Rollback discards staged writes, releases claims and removes the
// reservation. Rolling back a finished transaction is a no-op.
func (tx *memTx) Rollback(ctx context.Context) error {
	s := tx.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.done {
		return nil
	}
	tx.done = true

	tx.releaseClaims()

	if tx.reservation != nil {
		if r, ok := s.reservations[*tx.reservation]; ok && r.owner == tx {
			delete(s.reservations, *tx.reservation)
			close(r.done)
		}
	}

	return nil
}

// releaseClaims must be called with s.mu held.
func (tx *memTx) releaseClaims() {
	for _, tk := range tx.claims {
		if tx.s.claimed[tk] == tx {
			delete(tx.s.claimed, tk)
		}
	}
}
