package gate

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chimeralabs/chimerad/internal/task"
)

// Review store errors.
var (
	ErrReviewNotFound = errors.New("review not found")

	// ErrReviewAlreadyDecided indicates a second decision on the same review;
	// the first decision stands.
	ErrReviewAlreadyDecided = errors.New("review already decided")
)

// ReviewStatus is the lifecycle state of one review.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

// DecidedByExpiry marks reviews auto-rejected by the fail-closed sweep.
const DecidedByExpiry = "system:expiry"

// Review is one escalated result awaiting a human decision.
type Review struct {
	ID        string       `json:"id"`
	TaskID    string       `json:"task_id"`
	Kind      task.Kind    `json:"kind"`
	Principal string       `json:"principal"`
	Reason    string       `json:"reason"`
	Result    task.Result  `json:"result"`
	Status    ReviewStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	ExpiresAt time.Time    `json:"expires_at"`
	DecidedAt time.Time    `json:"decided_at,omitempty"`
	DecidedBy string       `json:"decided_by,omitempty"`
}

// Reviews is the in-memory review store.
type Reviews struct {
	mu      sync.Mutex
	reviews map[string]*Review
	expiry  time.Duration
	now     func() time.Time
}

// NewReviews creates a review store whose pending reviews expire after the
// given duration.
func NewReviews(expiry time.Duration) *Reviews {
	return &Reviews{
		reviews: make(map[string]*Review),
		expiry:  expiry,
		now:     time.Now,
	}
}

// Open records a new pending review for an escalated result.
func (r *Reviews) Open(t *task.Task, res task.Result, reason string) *Review {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	review := &Review{
		ID:        uuid.NewString(),
		TaskID:    t.ID,
		Kind:      t.Kind,
		Principal: t.Principal,
		Reason:    reason,
		Result:    res,
		Status:    ReviewPending,
		CreatedAt: now,
		ExpiresAt: now.Add(r.expiry),
	}
	r.reviews[review.ID] = review
	return review
}

// Get returns a copy of one review.
func (r *Reviews) Get(id string) (Review, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	review, ok := r.reviews[id]
	if !ok {
		return Review{}, ErrReviewNotFound
	}
	return *review, nil
}

// List returns copies of all reviews with the given status, newest first.
// An empty status returns everything.
func (r *Reviews) List(status ReviewStatus) []Review {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Review, 0, len(r.reviews))
	for _, review := range r.reviews {
		if status != "" && review.Status != status {
			continue
		}
		out = append(out, *review)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Decide records a human decision on a pending review. The first decision
// wins: deciding an already-decided review returns ErrReviewAlreadyDecided
// and leaves the original decision in place.
func (r *Reviews) Decide(id string, approve bool, decidedBy string) (Review, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	review, ok := r.reviews[id]
	if !ok {
		return Review{}, ErrReviewNotFound
	}
	if review.Status != ReviewPending {
		return *review, ErrReviewAlreadyDecided
	}

	if approve {
		review.Status = ReviewApproved
	} else {
		review.Status = ReviewRejected
	}
	review.DecidedAt = r.now()
	review.DecidedBy = decidedBy
	return *review, nil
}

// Sweep auto-rejects pending reviews past their expiry. Fail closed: an
// unanswered escalation never becomes an approval. It returns the swept
// reviews.
func (r *Reviews) Sweep() []Review {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var swept []Review
	for _, review := range r.reviews {
		if review.Status != ReviewPending || now.Before(review.ExpiresAt) {
			continue
		}
		review.Status = ReviewRejected
		review.DecidedAt = now
		review.DecidedBy = DecidedByExpiry
		swept = append(swept, *review)
	}
	return swept
}

// PendingCount returns the number of pending reviews.
func (r *Reviews) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, review := range r.reviews {
		if review.Status == ReviewPending {
			n++
		}
	}
	return n
}
