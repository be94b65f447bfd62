package vectors

import (
	"context"
	"unicode/utf8"

	"github.com/personachat/personachat/internal/core"
	"github.com/personachat/personachat/internal/persona"
)

// DefaultCollection holds persona vectors.
const DefaultCollection = "persona_vectors"

const previewLen = 280

// Backend is the part of Store the persona index needs.
type Backend interface {
	EnsureCollection(ctx context.Context, name string, dimension uint64) error
	Upsert(ctx context.Context, collection string, points []Point) error
	Search(ctx context.Context, collection string, vector []float32, limit uint64, filter map[string]string) ([]SearchResult, error)
	Delete(ctx context.Context, collection string, ids []string) error
}

// PersonaIndex stores rated persona vectors of one study for nearest-neighbour
// lookups.
type PersonaIndex struct {
	backend    Backend
	collection string
	studyID    string
	keys       map[string]int
}

// NewPersonaIndex creates an index over backend. An empty collection uses
// DefaultCollection.
func NewPersonaIndex(backend Backend, collection, studyID string) *PersonaIndex {
	if collection == "" {
		collection = DefaultCollection
	}
	canonical := persona.CanonicalKeys()
	keys := make(map[string]int, len(canonical))
	for i, k := range canonical {
		keys[k] = i
	}
	return &PersonaIndex{backend: backend, collection: collection, studyID: studyID, keys: keys}
}

// Dimension is the number of known traits.
func (x *PersonaIndex) Dimension() int {
	return len(x.keys)
}

// EnsureCollection creates the collection on first use.
func (x *PersonaIndex) EnsureCollection(ctx context.Context) error {
	return x.backend.EnsureCollection(ctx, x.collection, uint64(x.Dimension()))
}

// Vector places raw values at the position of their canonical key. Unknown
// traits are dropped; mapped counts the traits that landed.
func (x *PersonaIndex) Vector(ratings []core.TraitRating) (vec []float32, mapped int) {
	vec = make([]float32, len(x.keys))
	seen := make(map[int]bool, len(ratings))
	for _, r := range ratings {
		i, ok := x.keys[persona.NormalizeKey(r.Name)]
		if !ok {
			continue
		}
		vec[i] = float32(r.RawValue)
		if !seen[i] {
			seen[i] = true
			mapped++
		}
	}
	return vec, mapped
}

// Upsert indexes a snapshot under its id.
func (x *PersonaIndex) Upsert(ctx context.Context, snap core.PersonaSnapshot) error {
	const op = "vectors.Upsert"
	vec, mapped := x.Vector(snap.Ratings)
	if mapped == 0 {
		return core.Ef(core.KindValidation, op, "%w: no known traits in snapshot %s", core.ErrInvalidInput, snap.ID)
	}

	err := x.backend.Upsert(ctx, x.collection, []Point{{
		ID:     snap.ID,
		Vector: vec,
		Payload: map[string]interface{}{
			"study_id":       snap.StudyID,
			"participant_id": string(snap.ParticipantID),
			"created_at":     snap.CreatedAt.Unix(),
			"prompt_preview": preview(snap.SystemPrompt),
			"traits":         mapped,
		},
	}})
	if err != nil {
		return core.E(core.KindTransient, op, err)
	}
	return nil
}

// Match is a stored persona close to the query.
type Match struct {
	SnapshotID    string             `json:"snapshot_id"`
	ParticipantID core.ParticipantID `json:"participant_id"`
	Score         float32            `json:"score"`
	PromptPreview string             `json:"prompt_preview"`
}

// Similar returns up to limit stored personas of the index's study ordered by
// cosine similarity to ratings.
func (x *PersonaIndex) Similar(ctx context.Context, ratings []core.TraitRating, limit int) ([]Match, error) {
	const op = "vectors.Similar"
	vec, mapped := x.Vector(ratings)
	if mapped == 0 {
		return nil, core.Ef(core.KindValidation, op, "%w: no known traits", core.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 5
	}

	var filter map[string]string
	if x.studyID != "" {
		filter = map[string]string{"study_id": x.studyID}
	}

	results, err := x.backend.Search(ctx, x.collection, vec, uint64(limit), filter)
	if err != nil {
		return nil, core.E(core.KindTransient, op, err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		m := Match{SnapshotID: r.ID, Score: r.Score}
		if v, ok := r.Payload["participant_id"].(string); ok {
			m.ParticipantID = core.ParticipantID(v)
		}
		if v, ok := r.Payload["prompt_preview"].(string); ok {
			m.PromptPreview = v
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// Forget removes the given snapshots from the index.
func (x *PersonaIndex) Forget(ctx context.Context, snapshotIDs []string) error {
	if len(snapshotIDs) == 0 {
		return nil
	}
	if err := x.backend.Delete(ctx, x.collection, snapshotIDs); err != nil {
		return core.E(core.KindTransient, "vectors.Forget", err)
	}
	return nil
}

func preview(s string) string {
	if utf8.RuneCountInString(s) <= previewLen {
		return s
	}
	r := []rune(s)
	return string(r[:previewLen]) + "…"
}
