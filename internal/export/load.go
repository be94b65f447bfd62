package export

import (
	"context"
	"fmt"
	"time"

	"github.com/personachat/personachat/internal/core"
	"github.com/personachat/personachat/internal/ledger"
	"github.com/personachat/personachat/internal/storage"
)

// Load collects a study's participants, persona snapshots and ledger entries.
// Entries come oldest first.
func Load(ctx context.Context, db *storage.DB, studyID string) (Dataset, error) {
	ds := Dataset{StudyID: studyID, GeneratedAt: time.Now().UTC()}

	participants, err := storage.NewParticipantStore(db).List(ctx, studyID)
	if err != nil {
		return ds, fmt.Errorf("failed to list participants: %w", err)
	}
	for _, p := range participants {
		ds.Participants = append(ds.Participants, *p)
	}

	snapshots, err := storage.NewSnapshotStore(db).List(ctx, studyID)
	if err != nil {
		return ds, fmt.Errorf("failed to list snapshots: %w", err)
	}
	ds.Snapshots = derefSnapshots(snapshots)

	ds.Entries, err = ledger.NewStore(db.Conn()).Query(ctx, ledger.QueryOptions{
		StudyID:   studyID,
		Ascending: true,
	})
	if err != nil {
		return ds, fmt.Errorf("failed to query ledger: %w", err)
	}
	return ds, nil
}

func derefSnapshots(in []*core.PersonaSnapshot) []core.PersonaSnapshot {
	out := make([]core.PersonaSnapshot, 0, len(in))
	for _, s := range in {
		out = append(out, *s)
	}
	return out
}
