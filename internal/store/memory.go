package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ifuryst/ripplecast/internal/models"
)

// MemoryPublications is an in-process Publications with the same compare-and-set semantics as the
// database version.
type MemoryPublications struct {
	mu   sync.Mutex
	rows map[string]*models.Publication
}

func NewMemoryPublications() *MemoryPublications {
	return &MemoryPublications{rows: make(map[string]*models.Publication)}
}

func (r *MemoryPublications) Create(ctx context.Context, p *models.Publication) (*models.Publication, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, row := range r.rows {
		if row.ContentID == p.ContentID && row.SocialAccountID == p.SocialAccountID {
			if row.DeletedAt.Valid {
				return nil, false, ErrConflict
			}
			cp := *row
			return &cp, false, nil
		}
	}
	stored := *p
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.Status == "" {
		stored.Status = models.StatusPending
	}
	stored.CreatedAt = time.Now()
	stored.UpdatedAt = stored.CreatedAt
	r.rows[stored.ID] = &stored
	cp := stored
	return &cp, true, nil
}

// Put stores p as is, replacing any row with the same id.
func (r *MemoryPublications) Put(p *models.Publication) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.rows[p.ID] = &cp
}

func (r *MemoryPublications) Get(ctx context.Context, id string) (*models.Publication, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok || row.DeletedAt.Valid {
		return nil, ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (r *MemoryPublications) ListByContent(ctx context.Context, contentID string) ([]models.Publication, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Publication
	for _, row := range r.rows {
		if row.ContentID == contentID && !row.DeletedAt.Valid {
			out = append(out, *row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryPublications) Transition(ctx context.Context, id string, t Transition) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok || row.DeletedAt.Valid || !t.allowed(row.Status) {
		return false, nil
	}
	if t.DueBy != nil && !row.DueAt(*t.DueBy) {
		return false, nil
	}

	row.Status = t.To
	switch t.To {
	case models.StatusSuccess:
		row.PublishedAt = t.PublishedAt
		row.PlatformPostID = t.PlatformPostID
		row.ErrorCode, row.ErrorMessage = "", ""
		row.PayloadSnapshot = t.Payload
	case models.StatusFailed:
		row.ErrorCode = t.ErrorCode
		row.ErrorMessage = t.ErrorMessage
		row.PayloadSnapshot = t.Payload
	}
	if t.Schedule {
		row.ScheduledAt = t.ScheduledAt
		row.PublishedAt = nil
		row.PlatformPostID = ""
		row.ErrorCode, row.ErrorMessage = "", ""
		row.Attempts = 0
	}
	if t.CountAttempt {
		row.Attempts++
	}
	row.UpdatedAt = time.Now()
	return true, nil
}

func (r *MemoryPublications) ListDue(ctx context.Context, statuses []models.PublicationStatus, now time.Time, limit int) ([]models.Publication, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := Transition{From: statuses}
	var out []models.Publication
	for _, row := range r.rows {
		if !row.DeletedAt.Valid && want.allowed(row.Status) && row.DueAt(now) {
			out = append(out, *row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryPublications) StatusCounts(ctx context.Context, contentID string) (map[models.PublicationStatus]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[models.PublicationStatus]int)
	for _, row := range r.rows {
		if row.ContentID == contentID && !row.DeletedAt.Valid {
			counts[row.Status]++
		}
	}
	return counts, nil
}

type MemoryAccounts struct {
	mu   sync.Mutex
	rows map[string]*models.SocialAccount
}

func NewMemoryAccounts(accounts ...*models.SocialAccount) *MemoryAccounts {
	r := &MemoryAccounts{rows: make(map[string]*models.SocialAccount)}
	for _, a := range accounts {
		r.rows[a.ID] = a
	}
	return r
}

func (r *MemoryAccounts) Get(ctx context.Context, id string) (*models.SocialAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}
