package store

import (
	"context"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntoineDubuc/theodore/internal/model"
)

// fakeDocs is an in-memory DocumentStore.
type fakeDocs struct {
	records map[string]*model.CompanyRecord
	putErr  error
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{records: make(map[string]*model.CompanyRecord)}
}

func (f *fakeDocs) Put(_ context.Context, record *model.CompanyRecord) error {
	if f.putErr != nil {
		return f.putErr
	}
	clone := *record
	f.records[record.ID] = &clone
	return nil
}

func (f *fakeDocs) Get(_ context.Context, id string) (*model.CompanyRecord, error) {
	r, ok := f.records[id]
	if !ok {
		return nil, nil
	}
	clone := *r
	return &clone, nil
}

func (f *fakeDocs) Delete(_ context.Context, id string) error {
	delete(f.records, id)
	return nil
}

func (f *fakeDocs) FindIDByName(_ context.Context, name string) (string, error) {
	needle := strings.ToLower(strings.TrimSpace(name))
	for id, r := range f.records {
		if strings.ToLower(r.Name) == needle {
			return id, nil
		}
	}
	return "", nil
}

func (f *fakeDocs) ListMissingEmbedding(_ context.Context, limit int) ([]*model.CompanyRecord, error) {
	var out []*model.CompanyRecord
	for _, r := range f.records {
		if len(r.Embedding) == 0 {
			clone := *r
			out = append(out, &clone)
		}
		if len(out) >= limit {
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// fakeIndex is an in-memory VectorIndex.
type fakeIndex struct {
	entries map[string]VectorEntry
	deleted []string
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{entries: make(map[string]VectorEntry)}
}

func (f *fakeIndex) Upsert(_ context.Context, id string, vector []float32, meta Metadata) error {
	f.entries[id] = VectorEntry{ID: id, Vector: vector, Metadata: meta}
	return nil
}

func (f *fakeIndex) Fetch(_ context.Context, ids []string) (map[string]VectorEntry, error) {
	out := make(map[string]VectorEntry)
	for _, id := range ids {
		if e, ok := f.entries[id]; ok {
			out[id] = e
		}
	}
	return out, nil
}

func (f *fakeIndex) Query(_ context.Context, _ []float32, topK int, _ *QueryFilter, _ bool) ([]QueryMatch, error) {
	var out []QueryMatch
	for id, e := range f.entries {
		out = append(out, QueryMatch{ID: id, Score: 0.9, Metadata: e.Metadata})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (f *fakeIndex) Delete(_ context.Context, ids []string) error {
	for _, id := range ids {
		delete(f.entries, id)
		f.deleted = append(f.deleted, id)
	}
	return nil
}

func (f *fakeIndex) List(_ context.Context) ([]VectorEntry, error) {
	var out []VectorEntry
	for _, e := range f.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeIndex) Stats(_ context.Context) (IndexStats, error) {
	return IndexStats{VectorCount: len(f.entries), Dimension: 3}, nil
}

func hybridRecord(id, name string) *model.CompanyRecord {
	return &model.CompanyRecord{
		ID:           id,
		Name:         name,
		Website:      "https://" + strings.ToLower(strings.ReplaceAll(name, " ", "")) + ".test",
		Industry:     "Robotics",
		AISummary:    "A robotics company.",
		ScrapeStatus: model.ScrapeSuccess,
		Embedding:    []float32{0.1, 0.2, 0.3},
	}
}

func newTestHybrid() (*Hybrid, *fakeDocs, *fakeIndex) {
	docs := newFakeDocs()
	index := newFakeIndex()
	return NewHybrid(docs, index, 0, 0), docs, index
}

func TestHybridUpsertWritesBothStores(t *testing.T) {
	h, docs, index := newTestHybrid()
	ctx := context.Background()

	id, err := h.Upsert(ctx, hybridRecord("rec-1", "Acme Robotics"))
	require.NoError(t, err)
	assert.Equal(t, "rec-1", id)

	assert.Contains(t, docs.records, "rec-1")
	require.Contains(t, index.entries, "rec-1")
	assert.Equal(t, "Acme Robotics", index.entries["rec-1"].Metadata["name"])
}

func TestHybridUpsertSkipsVectorWithoutEmbedding(t *testing.T) {
	h, docs, index := newTestHybrid()
	ctx := context.Background()

	record := hybridRecord("rec-1", "Acme Robotics")
	record.Embedding = nil

	_, err := h.Upsert(ctx, record)
	require.NoError(t, err)

	assert.Contains(t, docs.records, "rec-1")
	assert.NotContains(t, index.entries, "rec-1")
}

func TestHybridUpsertReusesIDByName(t *testing.T) {
	h, _, _ := newTestHybrid()
	ctx := context.Background()

	first := hybridRecord("", "Acme Robotics")
	firstID, err := h.Upsert(ctx, first)
	require.NoError(t, err)
	require.NotEmpty(t, firstID)

	second := hybridRecord("", "acme robotics")
	secondID, err := h.Upsert(ctx, second)
	require.NoError(t, err)

	assert.Equal(t, firstID, secondID)
}

func TestHybridUpsertIdempotent(t *testing.T) {
	h, docs, index := newTestHybrid()
	ctx := context.Background()

	record := hybridRecord("rec-1", "Acme Robotics")
	_, err := h.Upsert(ctx, record)
	require.NoError(t, err)
	_, err = h.Upsert(ctx, record)
	require.NoError(t, err)

	assert.Len(t, docs.records, 1)
	assert.Len(t, index.entries, 1)
}

func TestHybridGetRoundTrip(t *testing.T) {
	h, _, _ := newTestHybrid()
	ctx := context.Background()

	record := hybridRecord("rec-1", "Acme Robotics")
	_, err := h.Upsert(ctx, record)
	require.NoError(t, err)

	got, err := h.Get(ctx, "rec-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "rec-1", got.ID)
	assert.Equal(t, "Acme Robotics", got.Name)
	assert.Equal(t, "Robotics", got.Industry)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, got.Embedding)
}

func TestHybridGetOverlayDocumentWins(t *testing.T) {
	h, docs, index := newTestHybrid()
	ctx := context.Background()

	// Simulate an old document missing a field the index has, plus a
	// conflicting field the document must win on.
	doc := hybridRecord("rec-1", "Acme Robotics")
	doc.Location = ""
	doc.Industry = "Robotics"
	doc.Embedding = nil
	require.NoError(t, docs.Put(ctx, doc))
	require.NoError(t, index.Upsert(ctx, "rec-1", []float32{0.1, 0.2, 0.3}, Metadata{
		"name":     "Acme Robotics",
		"location": "Portland, OR",
		"industry": "Stale Industry",
	}))

	got, err := h.Get(ctx, "rec-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Portland, OR", got.Location, "index fills missing field")
	assert.Equal(t, "Robotics", got.Industry, "document wins on conflict")
}

func TestHybridGetReadRepairsStaleVector(t *testing.T) {
	h, _, index := newTestHybrid()
	ctx := context.Background()

	require.NoError(t, index.Upsert(ctx, "ghost", []float32{1, 2, 3}, Metadata{"name": "Ghost"}))

	got, err := h.Get(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NotContains(t, index.entries, "ghost", "stale vector entry deleted on read")
	assert.Contains(t, index.deleted, "ghost")
}

func TestHybridFindByNameExactThenSubstring(t *testing.T) {
	h, _, _ := newTestHybrid()
	ctx := context.Background()

	_, err := h.Upsert(ctx, hybridRecord("rec-1", "Acme Robotics"))
	require.NoError(t, err)
	_, err = h.Upsert(ctx, hybridRecord("rec-2", "Acme"))
	require.NoError(t, err)

	exact, err := h.FindByName(ctx, "ACME")
	require.NoError(t, err)
	require.NotNil(t, exact)
	assert.Equal(t, "rec-2", exact.ID)

	sub, err := h.FindByName(ctx, "robot")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, "rec-1", sub.ID)

	missing, err := h.FindByName(ctx, "globex")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestHybridFindByNameFallsBackToDocuments(t *testing.T) {
	h, _, _ := newTestHybrid()
	ctx := context.Background()

	// Record persisted without an embedding never reaches the index.
	record := hybridRecord("rec-1", "Acme Robotics")
	record.Embedding = nil
	_, err := h.Upsert(ctx, record)
	require.NoError(t, err)

	got, err := h.FindByName(ctx, "Acme Robotics")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "rec-1", got.ID)
}

func TestHybridQuerySimilarExcludesSelf(t *testing.T) {
	h, _, _ := newTestHybrid()
	ctx := context.Background()

	for _, name := range []string{"Alpha", "Beta", "Gamma"} {
		_, err := h.Upsert(ctx, hybridRecord("rec-"+strings.ToLower(name), name))
		require.NoError(t, err)
	}

	matches, err := h.QuerySimilar(ctx, "rec-alpha", 2, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(matches), 2)
	for _, m := range matches {
		assert.NotEqual(t, "rec-alpha", m.ID)
		assert.GreaterOrEqual(t, m.Score, 0.0)
		assert.LessOrEqual(t, m.Score, 1.0)
	}
}

func TestHybridQuerySimilarNoVector(t *testing.T) {
	h, _, _ := newTestHybrid()
	ctx := context.Background()

	record := hybridRecord("rec-1", "Acme Robotics")
	record.Embedding = nil
	_, err := h.Upsert(ctx, record)
	require.NoError(t, err)

	_, err = h.QuerySimilar(ctx, "rec-1", 5, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no vector stored")
}

func TestHybridDeleteBothStores(t *testing.T) {
	h, docs, index := newTestHybrid()
	ctx := context.Background()

	_, err := h.Upsert(ctx, hybridRecord("rec-1", "Acme Robotics"))
	require.NoError(t, err)

	require.NoError(t, h.Delete(ctx, "rec-1"))
	assert.NotContains(t, docs.records, "rec-1")
	assert.NotContains(t, index.entries, "rec-1")

	// Deleting again is not an error.
	assert.NoError(t, h.Delete(ctx, "rec-1"))
}

type staticEmbedder struct {
	vec []float32
	err error
}

func (e *staticEmbedder) Embed(_ context.Context, _ *model.CompanyRecord) ([]float32, error) {
	return e.vec, e.err
}

func TestHybridReembedStale(t *testing.T) {
	h, _, index := newTestHybrid()
	ctx := context.Background()

	withVec := hybridRecord("rec-1", "Acme Robotics")
	_, err := h.Upsert(ctx, withVec)
	require.NoError(t, err)

	stale := hybridRecord("rec-2", "Globex")
	stale.Embedding = nil
	_, err = h.Upsert(ctx, stale)
	require.NoError(t, err)

	repaired, err := h.ReembedStale(ctx, &staticEmbedder{vec: []float32{0.4, 0.5, 0.6}})
	require.NoError(t, err)
	assert.Equal(t, 1, repaired)
	require.Contains(t, index.entries, "rec-2")
	assert.Equal(t, []float32{0.4, 0.5, 0.6}, index.entries["rec-2"].Vector)
}
