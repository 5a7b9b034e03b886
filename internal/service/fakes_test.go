package service

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/turri/tastehub/internal/huberrors"
	"github.com/turri/tastehub/internal/models"
)

// lengthEmbedder embeds each text as a one-element vector holding its length.
type lengthEmbedder struct {
	mu    sync.Mutex
	calls [][]string
	err   error
}

func (e *lengthEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls = append(e.calls, append([]string(nil), texts...))

	if e.err != nil {
		return nil, e.err
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{float32(len(text))}
	}

	return out, nil
}

func (e *lengthEmbedder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.calls)
}

type fakeFuser struct {
	fuseFunc func(ctx context.Context, old, incoming string, retention float64) (string, error)
	calls    int
}

func (f *fakeFuser) FuseText(ctx context.Context, old, incoming string, retention float64) (string, error) {
	f.calls++

	if f.fuseFunc != nil {
		return f.fuseFunc(ctx, old, incoming, retention)
	}

	return old + " + " + incoming, nil
}

type fakeSummarizer struct {
	summarizeFunc func(ctx context.Context, instruction, text string) (string, error)
	texts         []string
}

func (f *fakeSummarizer) Summarize(ctx context.Context, instruction, text string) (string, error) {
	f.texts = append(f.texts, text)

	if f.summarizeFunc != nil {
		return f.summarizeFunc(ctx, instruction, text)
	}

	return "summary", nil
}

// memProfiles is an in-memory ProfilesRepository with the same version semantics as the SQL store.
type memProfiles struct {
	mu       sync.Mutex
	profiles map[int64]models.CustomerProfile
	writes   int
	getErr   error
}

func newMemProfiles() *memProfiles {
	return &memProfiles{profiles: map[int64]models.CustomerProfile{}}
}

func (m *memProfiles) GetProfile(_ context.Context, customerID int64) (*models.CustomerProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.getErr != nil {
		return nil, m.getErr
	}

	p, ok := m.profiles[customerID]
	if !ok {
		return nil, huberrors.NewNotFoundError("customer profile", "customer profile not found")
	}

	return &p, nil
}

func (m *memProfiles) ReplaceProfile(_ context.Context, p *models.CustomerProfile) (*models.CustomerProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *p
	stored.Version = m.profiles[p.CustomerID].Version + 1
	m.profiles[p.CustomerID] = stored
	m.writes++

	return &stored, nil
}

func (m *memProfiles) SaveProfile(
	_ context.Context, p *models.CustomerProfile, expectedVersion int64,
) (*models.CustomerProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.profiles[p.CustomerID]

	switch {
	case expectedVersion == 0 && exists:
		return nil, huberrors.NewConflictError("profile already exists")
	case expectedVersion != 0 && (!exists || current.Version != expectedVersion):
		return nil, huberrors.NewConflictError(fmt.Sprintf("profile version is not %d", expectedVersion))
	}

	stored := *p
	stored.Version = expectedVersion + 1
	m.profiles[p.CustomerID] = stored
	m.writes++

	return &stored, nil
}

func (m *memProfiles) ProfilesByCustomerIDs(_ context.Context, ids []int64) ([]models.CustomerProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []models.CustomerProfile{}

	for _, id := range ids {
		if p, ok := m.profiles[id]; ok {
			out = append(out, p)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CustomerID < out[j].CustomerID })

	return out, nil
}

func (m *memProfiles) put(p models.CustomerProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.profiles[p.CustomerID] = p
}

func (m *memProfiles) get(id int64) (models.CustomerProfile, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.profiles[id]

	return p, ok
}

func (m *memProfiles) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.writes
}

func constTaste(x float64) models.TasteVector {
	v := models.ZeroTaste()
	for i := range v {
		v[i] = x
	}

	return v
}

func oneHotTaste(indexes ...int) models.TasteVector {
	v := models.ZeroTaste()
	for _, i := range indexes {
		v[i] = 1
	}

	return v
}
