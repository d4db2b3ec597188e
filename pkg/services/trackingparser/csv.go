package trackingparser

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/ekaya-inc/tracking-engine/pkg/models"
)

// CSVHeader is the header row of the parsed-calls report.
var CSVHeader = []string{
	"Event Name",
	"Property Key",
	"Property Description",
	"Property Type",
	"Location",
	"Context (Raw Code Line)",
}

// WriteCSV writes calls as the parsed-calls report. Location is the file path.
func WriteCSV(w io.Writer, calls []models.TrackingCall) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, c := range calls {
		record := []string{c.EventName, c.PropertyKey, c.PropertyDescription, c.PropertyType, c.FilePath, c.CodeLine}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}
