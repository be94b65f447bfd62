package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/personachat/personachat/internal/core"
	"github.com/personachat/personachat/internal/ledger"
	"github.com/personachat/personachat/internal/storage"
	"github.com/personachat/personachat/internal/testutil"
)

var t0 = time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

func snapshots() []core.PersonaSnapshot {
	return []core.PersonaSnapshot{
		{ID: "s1", ParticipantID: "p_1", CreatedAt: t0, SystemPrompt: "be warm", Ratings: []core.TraitRating{
			{Name: "warmth", RawValue: 1}, {Name: "evil", RawValue: -2},
		}},
		{ID: "s2", ParticipantID: "p_2", CreatedAt: t0, SystemPrompt: "be cold", Ratings: []core.TraitRating{
			{Name: "Warmth", RawValue: 3},
		}},
	}
}

func TestSummarize(t *testing.T) {
	got := Summarize(snapshots())
	require.Len(t, got, 2)

	evil, warmth := got[0], got[1]
	assert.Equal(t, "evil", evil.Trait)
	assert.Equal(t, 1, evil.Count)
	assert.Equal(t, -2.0, evil.Q25)
	assert.Equal(t, -2.0, evil.Q75)
	assert.Equal(t, 0.0, evil.StdDev)

	assert.Equal(t, "warmth", warmth.Trait)
	assert.Equal(t, "Warmth", warmth.DisplayName)
	assert.Equal(t, 2, warmth.Count)
	assert.InDelta(t, 2.0, warmth.Mean, 1e-9)
	assert.InDelta(t, 1.0, warmth.StdDev, 1e-9)
	assert.Equal(t, 1.0, warmth.Min)
	assert.Equal(t, 3.0, warmth.Max)
	assert.InDelta(t, 2.0, warmth.Median, 1e-9)
}

func TestSummarize_Empty(t *testing.T) {
	assert.Empty(t, Summarize(nil))
}

func TestWriteWorkbook(t *testing.T) {
	ds := Dataset{
		StudyID:     "study",
		GeneratedAt: t0,
		Participants: []core.Participant{
			{ID: "p_1", StudyID: "study", CreatedAt: t0, LastSeenAt: t0.Add(time.Minute)},
		},
		Snapshots: snapshots(),
		Entries: []*ledger.Entry{
			{Seq: 1, ParticipantID: "p_1", Timestamp: t0, Action: ledger.ActionSessionOpened, Actor: ledger.ActorSystem, Details: `{"condition":1}`, Hash: "h1"},
			{Seq: 2, ParticipantID: "p_1", Timestamp: t0, Action: ledger.ActionMessageUser, Actor: ledger.ActorParticipant, Details: `{"role":"user","content":"hello"}`, Path: "study/participantData/p_1/messages/1"},
			{Seq: 3, ParticipantID: "p_1", Timestamp: t0, Action: ledger.ActionMessageAssistant, Actor: ledger.ActorAssistant, Details: `{"role":"assistant","content":"hi!"}`},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteWorkbook(&buf, ds))

	f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	want := []string{SheetParticipants, SheetMessages, SheetEvents, SheetPersonas, SheetSummary}
	if diff := cmp.Diff(want, f.GetSheetList()); diff != "" {
		t.Errorf("sheet list mismatch (-want +got):\n%s", diff)
	}

	rows, err := f.GetRows(SheetMessages)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"2", "p_1", "2025-05-01 10:00:00", "user", "hello", "study/participantData/p_1/messages/1"}, rows[1])
	assert.Equal(t, "assistant", rows[2][3])
	assert.Equal(t, "hi!", rows[2][4])

	events, err := f.GetRows(SheetEvents)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "session.opened", events[1][3])

	personas, err := f.GetRows(SheetPersonas)
	require.NoError(t, err)
	require.Len(t, personas, 4)
	assert.Equal(t, "Benevolent", personas[2][4], "negative evil reads as its antonym")

	summary, err := f.GetRows(SheetSummary)
	require.NoError(t, err)
	require.Len(t, summary, 3)
	assert.Equal(t, "warmth", summary[2][0])

	participants, err := f.GetRows(SheetParticipants)
	require.NoError(t, err)
	assert.Equal(t, []string{"p_1", "2025-05-01 10:00:00", "2025-05-01 10:01:00"}, participants[1])
}

func TestLoad(t *testing.T) {
	db := testutil.TestDB(t)
	ctx := testutil.TestContext(t)

	_, err := storage.NewParticipantStore(db).Upsert(ctx, &core.Participant{ID: "p_1", StudyID: "study", CreatedAt: t0, LastSeenAt: t0})
	require.NoError(t, err)
	require.NoError(t, storage.NewSnapshotStore(db).Save(ctx, &core.PersonaSnapshot{
		ParticipantID: "p_1", StudyID: "study", SystemPrompt: "x", Ratings: testutil.SampleRatings,
	}))
	rec := ledger.NewRecorder(ledger.NewStore(db.Conn()), "study")
	require.NoError(t, rec.SurveyCompleted(ctx, "p_1"))
	require.NoError(t, rec.BackToConfig(ctx, "p_1"))

	ds, err := Load(ctx, db, "study")
	require.NoError(t, err)
	assert.Len(t, ds.Participants, 1)
	require.Len(t, ds.Snapshots, 1)
	assert.Len(t, ds.Snapshots[0].Ratings, len(testutil.SampleRatings))
	require.Len(t, ds.Entries, 2)
	assert.Less(t, ds.Entries[0].Seq, ds.Entries[1].Seq)

	other, err := Load(ctx, db, "other")
	require.NoError(t, err)
	assert.Empty(t, other.Participants)
	assert.Empty(t, other.Entries)
}
