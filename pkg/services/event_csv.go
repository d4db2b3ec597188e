package services

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/ekaya-inc/tracking-engine/pkg/apperrors"
	"github.com/ekaya-inc/tracking-engine/pkg/models"
)

// EventCSVHeader is the header row of event exports and imports.
var EventCSVHeader = []string{"event_name", "context", "tags", "file_path", "line_number", "repo_id"}

const tagSeparator = ";"

// writeEventsCSV writes events with the export header. Tags are ";"-joined and
// a missing line number is an empty cell.
func writeEventsCSV(w io.Writer, events []*models.UserEvent) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(EventCSVHeader); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, e := range events {
		line := ""
		if e.LineNumber != nil {
			line = strconv.Itoa(*e.LineNumber)
		}
		record := []string{
			e.EventName,
			e.Context,
			strings.Join(e.Tags, tagSeparator),
			e.FilePath,
			line,
			e.RepoID.String(),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// csvEventRow is one parsed import row. RepoID is uuid.Nil when the cell is empty.
type csvEventRow struct {
	Row    int
	RepoID uuid.UUID
	Event  models.UserEvent
}

// readEventsCSV parses an import file. The first record is the header and is
// skipped; rows are numbered from 1 after it.
func readEventsCSV(r io.Reader) ([]csvEventRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	if _, err := cr.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: csv file is empty", apperrors.ErrInvalidInput)
		}
		return nil, fmt.Errorf("%w: failed to read csv header: %v", apperrors.ErrInvalidInput, err)
	}

	var rows []csvEventRow
	for n := 1; ; n++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", apperrors.ErrInvalidInput, n, err)
		}

		row, err := parseEventRecord(n, record)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// parseEventRecord trims every cell except context, which is kept byte for byte.
func parseEventRecord(n int, record []string) (csvEventRow, error) {
	raw := func(i int) string {
		if i < len(record) {
			return record[i]
		}
		return ""
	}
	cell := func(i int) string { return strings.TrimSpace(raw(i)) }

	row := csvEventRow{Row: n}
	row.Event.EventName = cell(0)
	if row.Event.EventName == "" {
		return row, fmt.Errorf("%w: row %d: event_name is required", apperrors.ErrInvalidInput, n)
	}
	row.Event.Context = raw(1)
	row.Event.Tags = splitTags(cell(2))
	row.Event.FilePath = cell(3)

	if value := cell(4); value != "" {
		parsed, err := strconv.ParseInt(value, 10, 32)
		if err != nil || parsed < 0 {
			return row, fmt.Errorf("%w: row %d: line_number %q is not a valid line number", apperrors.ErrInvalidInput, n, value)
		}
		line := int(parsed)
		row.Event.LineNumber = &line
	}

	if value := cell(5); value != "" {
		id, err := uuid.Parse(value)
		if err != nil {
			return row, fmt.Errorf("%w: row %d: repo_id %q is not a UUID", apperrors.ErrInvalidInput, n, value)
		}
		row.RepoID = id
	}
	return row, nil
}

func splitTags(raw string) []string {
	tags := []string{}
	for _, tag := range strings.Split(raw, tagSeparator) {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}
