package vectors

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/personachat/personachat/internal/core"
	"github.com/personachat/personachat/internal/persona"
)

type fakeBackend struct {
	ensured   map[string]uint64
	points    []Point
	lastQuery []float32
	lastLimit uint64
	filter    map[string]string
	results   []SearchResult
	deleted   []string
	err       error
}

func (f *fakeBackend) EnsureCollection(_ context.Context, name string, dim uint64) error {
	if f.ensured == nil {
		f.ensured = map[string]uint64{}
	}
	f.ensured[name] = dim
	return f.err
}

func (f *fakeBackend) Upsert(_ context.Context, _ string, points []Point) error {
	f.points = append(f.points, points...)
	return f.err
}

func (f *fakeBackend) Search(_ context.Context, _ string, vec []float32, limit uint64, filter map[string]string) ([]SearchResult, error) {
	f.lastQuery, f.lastLimit, f.filter = vec, limit, filter
	return f.results, f.err
}

func (f *fakeBackend) Delete(_ context.Context, _ string, ids []string) error {
	f.deleted = append(f.deleted, ids...)
	return f.err
}

func indexOf(t *testing.T, key string) int {
	t.Helper()
	for i, k := range persona.CanonicalKeys() {
		if k == key {
			return i
		}
	}
	t.Fatalf("unknown key %s", key)
	return -1
}

func TestPersonaIndex_EnsureCollection(t *testing.T) {
	fb := &fakeBackend{}
	idx := NewPersonaIndex(fb, "", "study")

	require.NoError(t, idx.EnsureCollection(context.Background()))
	assert.Equal(t, uint64(len(persona.CanonicalKeys())), fb.ensured[DefaultCollection])
}

func TestPersonaIndex_Vector(t *testing.T) {
	idx := NewPersonaIndex(&fakeBackend{}, "", "")

	vec, mapped := idx.Vector([]core.TraitRating{
		{Name: "Warmth", RawValue: 1.5},
		{Name: "evil", RawValue: -0.5},
		{Name: "made_up_trait", RawValue: 2},
	})

	assert.Equal(t, 2, mapped)
	assert.Len(t, vec, idx.Dimension())
	assert.InDelta(t, 1.5, vec[indexOf(t, "warmth")], 1e-6)
	assert.InDelta(t, -0.5, vec[indexOf(t, "evil")], 1e-6)
}

func TestPersonaIndex_Upsert(t *testing.T) {
	fb := &fakeBackend{}
	idx := NewPersonaIndex(fb, "c", "study")

	snap := core.PersonaSnapshot{
		ID:            "8b9c7f2e-0a39-4c54-9d0c-4d3f2d0b8c11",
		ParticipantID: "p_1",
		StudyID:       "study",
		SystemPrompt:  strings.Repeat("a", 400),
		Ratings:       []core.TraitRating{{Name: "humor", RawValue: 1}},
		CreatedAt:     time.Unix(1700000000, 0),
	}
	require.NoError(t, idx.Upsert(context.Background(), snap))
	require.Len(t, fb.points, 1)

	p := fb.points[0]
	assert.Equal(t, snap.ID, p.ID)
	assert.Equal(t, "p_1", p.Payload["participant_id"])
	assert.Equal(t, int64(1700000000), p.Payload["created_at"])
	assert.Equal(t, previewLen+1, len([]rune(p.Payload["prompt_preview"].(string))))

	err := idx.Upsert(context.Background(), core.PersonaSnapshot{ID: "x", Ratings: []core.TraitRating{{Name: "zzz", RawValue: 1}}})
	assert.True(t, core.IsKind(err, core.KindValidation))
}

func TestPersonaIndex_Similar(t *testing.T) {
	fb := &fakeBackend{results: []SearchResult{
		{ID: "s1", Score: 0.98, Payload: map[string]interface{}{"participant_id": "p_2", "prompt_preview": "be nice"}},
		{ID: "s2", Score: 0.5, Payload: map[string]interface{}{}},
	}}
	idx := NewPersonaIndex(fb, "", "study-a")

	got, err := idx.Similar(context.Background(), []core.TraitRating{{Name: "empathy", RawValue: 2}}, 0)
	require.NoError(t, err)

	assert.Equal(t, uint64(5), fb.lastLimit)
	assert.Equal(t, map[string]string{"study_id": "study-a"}, fb.filter)
	assert.Equal(t, []Match{
		{SnapshotID: "s1", ParticipantID: "p_2", Score: 0.98, PromptPreview: "be nice"},
		{SnapshotID: "s2", Score: 0.5},
	}, got)
}

func TestPersonaIndex_SimilarErrors(t *testing.T) {
	idx := NewPersonaIndex(&fakeBackend{err: errors.New("unavailable")}, "", "")

	_, err := idx.Similar(context.Background(), nil, 3)
	assert.True(t, core.IsKind(err, core.KindValidation))

	_, err = idx.Similar(context.Background(), []core.TraitRating{{Name: "evil", RawValue: 1}}, 3)
	assert.True(t, core.IsKind(err, core.KindTransient))
}

func TestPayloadRoundTrip(t *testing.T) {
	in := map[string]interface{}{"s": "x", "i": 3, "f": 1.5, "b": true, "skip": []int{1}}
	out := fromQdrantPayload(toQdrantPayload(in))

	assert.Equal(t, map[string]interface{}{"s": "x", "i": int64(3), "f": 1.5, "b": true}, out)
	assert.Nil(t, buildFilter(nil))
	assert.Len(t, buildFilter(map[string]string{"study_id": "a"}).Must, 1)
}

func TestPersonaIndex_Forget(t *testing.T) {
	fb := &fakeBackend{}
	idx := NewPersonaIndex(fb, "", "study")

	require.NoError(t, idx.Forget(context.Background(), nil))
	assert.Empty(t, fb.deleted)

	require.NoError(t, idx.Forget(context.Background(), []string{"a", "b"}))
	assert.Equal(t, []string{"a", "b"}, fb.deleted)

	fb.err = errors.New("down")
	err := idx.Forget(context.Background(), []string{"c"})
	assert.Equal(t, core.KindTransient, core.KindOf(err))
}
