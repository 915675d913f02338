package memory

import (
	"context"
	"sync"

	"github.com/skill-market/backend/internal/models"
	"github.com/skill-market/backend/internal/social"
)

// Verifier serves posts registered with Publish.
type Verifier struct {
	mu    sync.Mutex
	posts map[string]social.Post
	Err   error
}

func NewVerifier() *Verifier {
	return &Verifier{posts: make(map[string]social.Post)}
}

// Publish makes a post visible under ref.
func (v *Verifier) Publish(ref social.PostRef, post social.Post) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.posts[ref.ID] = post
}

func (v *Verifier) FetchPost(ctx context.Context, ref social.PostRef) (*social.Post, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.Err != nil {
		return nil, v.Err
	}
	p, ok := v.posts[ref.ID]
	if !ok {
		return nil, social.ErrPostNotFound
	}
	return &p, nil
}

// Audit records entries in order.
type Audit struct {
	mu      sync.Mutex
	entries []models.AuditLog
}

func NewAudit() *Audit {
	return &Audit{}
}

func (a *Audit) Log(_ context.Context, entry models.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

// Actions returns the action of every entry, in order.
func (a *Audit) Actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.entries))
	for i, e := range a.entries {
		out[i] = e.Action
	}
	return out
}
