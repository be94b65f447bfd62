package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/xuri/excelize/v2"

	"github.com/personachat/personachat/internal/core"
	"github.com/personachat/personachat/internal/ledger"
	"github.com/personachat/personachat/internal/persona"
)

// Sheet names in workbook order.
const (
	SheetParticipants = "Participants"
	SheetMessages     = "Messages"
	SheetEvents       = "Events"
	SheetPersonas     = "Personas"
	SheetSummary      = "Summary"
)

// Dataset is everything exported for one study.
type Dataset struct {
	StudyID      string
	GeneratedAt  time.Time
	Participants []core.Participant
	Snapshots    []core.PersonaSnapshot
	Entries      []*ledger.Entry
}

const timeLayout = "2006-01-02 15:04:05"

// WriteWorkbook writes ds as an xlsx workbook with one sheet per record type
// and a per-trait summary.
func WriteWorkbook(w io.Writer, ds Dataset) error {
	f := excelize.NewFile()
	defer f.Close()

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	sheets := []struct {
		name   string
		header []interface{}
		rows   [][]interface{}
	}{
		{SheetParticipants, []interface{}{"participant_id", "created_at", "last_seen_at"}, participantRows(ds.Participants)},
		{SheetMessages, []interface{}{"seq", "participant_id", "timestamp", "role", "content", "path"}, messageRows(ds.Entries)},
		{SheetEvents, []interface{}{"seq", "participant_id", "timestamp", "action", "actor", "details", "hash"}, eventRows(ds.Entries)},
		{SheetPersonas, []interface{}{"snapshot_id", "participant_id", "created_at", "trait", "display_name", "raw_value", "positive", "magnitude_pct", "system_prompt"}, personaRows(ds.Snapshots)},
		{SheetSummary, []interface{}{"trait", "display_name", "count", "mean", "std_dev", "min", "q25", "median", "q75", "max"}, summaryRows(Summarize(ds.Snapshots))},
	}

	for i, sh := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sh.name); err != nil {
				return fmt.Errorf("failed to rename sheet: %w", err)
			}
		} else if _, err := f.NewSheet(sh.name); err != nil {
			return fmt.Errorf("failed to add sheet %s: %w", sh.name, err)
		}

		if err := writeRows(f, sh.name, sh.header, sh.rows); err != nil {
			return err
		}
		if err := f.SetRowStyle(sh.name, 1, 1, bold); err != nil {
			return fmt.Errorf("failed to style %s header: %w", sh.name, err)
		}
	}

	err = f.SetDocProps(&excelize.DocProperties{
		Title:   "personachat export " + ds.StudyID,
		Created: ds.GeneratedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to set document properties: %w", err)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, header []interface{}, rows [][]interface{}) error {
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write %s header: %w", sheet, err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+2, err)
		}
	}
	return nil
}

func participantRows(ps []core.Participant) [][]interface{} {
	rows := make([][]interface{}, 0, len(ps))
	for _, p := range ps {
		rows = append(rows, []interface{}{string(p.ID), p.CreatedAt.UTC().Format(timeLayout), p.LastSeenAt.UTC().Format(timeLayout)})
	}
	return rows
}

func messageRows(entries []*ledger.Entry) [][]interface{} {
	var rows [][]interface{}
	for _, e := range entries {
		if ledger.Kind(e.Action) != ledger.KindMessages {
			continue
		}
		role := strings.TrimPrefix(e.Action, "message.")
		rows = append(rows, []interface{}{e.Seq, string(e.ParticipantID), e.Timestamp.UTC().Format(timeLayout), role, messageContent(e.Details), e.Path})
	}
	return rows
}

func eventRows(entries []*ledger.Entry) [][]interface{} {
	var rows [][]interface{}
	for _, e := range entries {
		if ledger.Kind(e.Action) == ledger.KindMessages {
			continue
		}
		rows = append(rows, []interface{}{e.Seq, string(e.ParticipantID), e.Timestamp.UTC().Format(timeLayout), e.Action, e.Actor, e.Details, e.Hash})
	}
	return rows
}

func personaRows(snaps []core.PersonaSnapshot) [][]interface{} {
	var rows [][]interface{}
	for _, s := range snaps {
		for _, r := range s.Ratings {
			t := persona.ResolveRating(r)
			rows = append(rows, []interface{}{
				s.ID, string(s.ParticipantID), s.CreatedAt.UTC().Format(timeLayout),
				r.Name, t.DisplayName, r.RawValue, t.IsPositive,
				persona.NormalizeMagnitude(t.Magnitude, persona.DefaultScale),
				s.SystemPrompt,
			})
		}
	}
	return rows
}

func summaryRows(sums []TraitSummary) [][]interface{} {
	rows := make([][]interface{}, 0, len(sums))
	for _, s := range sums {
		rows = append(rows, []interface{}{s.Trait, s.DisplayName, s.Count, s.Mean, s.StdDev, s.Min, s.Q25, s.Median, s.Q75, s.Max})
	}
	return rows
}

func messageContent(details string) string {
	return gjson.Get(details, "content").String()
}
