package trackingparser

import (
	"bytes"
	"encoding/csv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteCSV(t *testing.T) {
	calls := ParseLines([]string{
		`src/a.js:3:1:analytics.track("Viewed", {id: 1})`,
		`src/b.js:4:1:analytics.track("Left")`,
	})

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, calls))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, CSVHeader, records[0])
	assert.Equal(t, []string{"Viewed", "id", "N/A", "number", "src/a.js", `analytics.track("Viewed", {id: 1})`}, records[1])
	assert.Equal(t, []string{"Left", "N/A", "N/A", "N/A", "src/b.js", `analytics.track("Left")`}, records[2])
}

func TestWriteCSV_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, nil))
	assert.Equal(t, "Event Name,Property Key,Property Description,Property Type,Location,Context (Raw Code Line)\n", buf.String())
}
