package handlers

import (
	"bytes"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/tracking-engine/pkg/services"
)

// maxImportBytes caps the size of an uploaded import file.
const maxImportBytes = 10 << 20

// eventTransfer serves the CSV export and the CSV/YAML import shared by repos and plans.
type eventTransfer struct {
	eventService services.EventService
	logger       *zap.Logger
}

func (t eventTransfer) export(w http.ResponseWriter, r *http.Request, userID uuid.UUID, target services.EventTarget, name string) {
	// Buffer so a failure after the first row still produces a JSON error.
	var buf bytes.Buffer
	if err := t.eventService.ExportCSV(r.Context(), userID, target, &buf); err != nil {
		writeServiceError(w, t.logger, err, "export_events_failed")
		return
	}
	t.writeCSV(w, &buf, name+"-events.csv")
}

// exportCalls writes the per-property calls report of a repo.
func (t eventTransfer) exportCalls(w http.ResponseWriter, r *http.Request, userID, repoID uuid.UUID, name string) {
	var buf bytes.Buffer
	if err := t.eventService.ExportCallsCSV(r.Context(), userID, repoID, &buf); err != nil {
		writeServiceError(w, t.logger, err, "export_calls_failed")
		return
	}
	t.writeCSV(w, &buf, name+"-tracking-calls.csv")
}

func (t eventTransfer) writeCSV(w http.ResponseWriter, buf *bytes.Buffer, filename string) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", attachment(filename))
	if _, err := buf.WriteTo(w); err != nil {
		t.logger.Error("Failed to write export", zap.Error(err))
	}
}

// attachment renders a Content-Disposition value. Path separators in filename
// become "_"; quotes and non-ASCII are escaped by mime.
func attachment(filename string) string {
	filename = strings.NewReplacer("/", "_", "\\", "_").Replace(filename)
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": filename}); v != "" {
		return v
	}
	return "attachment"
}

// importFile reads the multipart "file" field and dispatches on its extension.
func (t eventTransfer) importFile(w http.ResponseWriter, r *http.Request, userID uuid.UUID, target services.EventTarget) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeBadRequest(w, t.logger, "Multipart field 'file' is required")
		return
	}
	defer file.Close()

	var result *services.ImportResult
	switch ext := strings.ToLower(filepath.Ext(header.Filename)); ext {
	case ".csv":
		result, err = t.eventService.ImportCSV(r.Context(), userID, target, file)
	case ".yaml", ".yml":
		result, err = t.eventService.ImportYAML(r.Context(), userID, target, file)
	default:
		writeBadRequest(w, t.logger, fmt.Sprintf("Unsupported file type %q: upload a .csv or .yaml file", ext))
		return
	}
	if err != nil {
		writeServiceError(w, t.logger, err, "import_events_failed")
		return
	}

	t.logger.Info("Imported events",
		zap.String("user_id", userID.String()),
		zap.String("file", header.Filename),
		zap.Int("count", result.Imported))
	writeOK(w, t.logger, http.StatusOK, result)
}
