package services

import (
	"context"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/tracking-engine/pkg/apperrors"
	"github.com/ekaya-inc/tracking-engine/pkg/audit"
	"github.com/ekaya-inc/tracking-engine/pkg/models"
	"github.com/ekaya-inc/tracking-engine/pkg/repositories"
	"github.com/ekaya-inc/tracking-engine/pkg/services/trackingparser"
)

// EventTarget selects the events an export reads or an import writes:
// those of a repo, or those of a plan. Exactly one ID is set.
type EventTarget struct {
	RepoID uuid.UUID
	PlanID uuid.UUID
}

// RepoTarget targets a repo's events.
func RepoTarget(id uuid.UUID) EventTarget { return EventTarget{RepoID: id} }

// PlanTarget targets a plan's events.
func PlanTarget(id uuid.UUID) EventTarget { return EventTarget{PlanID: id} }

func (t EventTarget) validate() error {
	if (t.RepoID == uuid.Nil) == (t.PlanID == uuid.Nil) {
		return fmt.Errorf("%w: exactly one of repo or plan must be given", apperrors.ErrInvalidInput)
	}
	return nil
}

// EventUpdate carries the editable event fields. Nil fields are left unchanged.
type EventUpdate struct {
	EventName  *string   `json:"event_name,omitempty"`
	Context    *string   `json:"context,omitempty"`
	Tags       *[]string `json:"tags,omitempty"`
	FilePath   *string   `json:"file_path,omitempty"`
	LineNumber *int      `json:"line_number,omitempty"`
}

// ImportResult reports what an import stored.
type ImportResult struct {
	Imported int                 `json:"imported"`
	Events   []*models.UserEvent `json:"events"`
}

// EventService manages tracking events, and their CSV and YAML exchange formats.
type EventService interface {
	Create(ctx context.Context, userID uuid.UUID, event *models.UserEvent) (*models.UserEvent, error)
	Get(ctx context.Context, userID, id uuid.UUID) (*models.UserEvent, error)
	Update(ctx context.Context, userID, id uuid.UUID, update EventUpdate) (*models.UserEvent, error)
	Delete(ctx context.Context, userID, id uuid.UUID) error

	// ExportCSV writes the target's events as CSV.
	ExportCSV(ctx context.Context, userID uuid.UUID, target EventTarget, w io.Writer) error
	// ExportCallsCSV re-parses the repo's stored call sites and writes the
	// per-property calls report.
	ExportCallsCSV(ctx context.Context, userID, repoID uuid.UUID, w io.Writer) error
	// ImportCSV adds the rows of r to the target. Nothing is stored if any row is invalid.
	ImportCSV(ctx context.Context, userID uuid.UUID, target EventTarget, r io.Reader) (*ImportResult, error)
	// ImportYAML reads an analyze-tracking document. Into a repo it replaces the
	// scanned events; into a plan it adds plan events.
	ImportYAML(ctx context.Context, userID uuid.UUID, target EventTarget, r io.Reader) (*ImportResult, error)
}

type eventService struct {
	eventRepo repositories.EventRepository
	repoRepo  repositories.RepoRepository
	planRepo  repositories.PlanRepository
	guard     injectionGuard
	logger    *zap.Logger
}

// NewEventService creates a new event service with dependencies.
func NewEventService(
	eventRepo repositories.EventRepository,
	repoRepo repositories.RepoRepository,
	planRepo repositories.PlanRepository,
	auditor *audit.SecurityAuditor,
	logger *zap.Logger,
) EventService {
	return &eventService{
		eventRepo: eventRepo,
		repoRepo:  repoRepo,
		planRepo:  planRepo,
		guard:     injectionGuard{auditor: auditor, resource: "event"},
		logger:    logger.Named("events"),
	}
}

var _ EventService = (*eventService)(nil)

// ownedEvent loads an event and hides it unless userID owns its repo.
func ownedEvent(ctx context.Context, events repositories.EventRepository, repos repositories.RepoRepository, userID, id uuid.UUID) (*models.UserEvent, error) {
	event, err := events.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := ownedRepo(ctx, repos, userID, event.RepoID); err != nil {
		return nil, err
	}
	return event, nil
}

func (s *eventService) checkEvent(ctx context.Context, e *models.UserEvent) error {
	e.EventName = strings.TrimSpace(e.EventName)
	if e.EventName == "" {
		return fmt.Errorf("%w: event_name is required", apperrors.ErrInvalidInput)
	}
	if e.LineNumber != nil && (*e.LineNumber < 0 || *e.LineNumber > math.MaxInt32) {
		return fmt.Errorf("%w: line_number must be between 0 and %d", apperrors.ErrInvalidInput, math.MaxInt32)
	}
	// Context holds raw source lines, which legitimately contain quotes and markup.
	return s.guard.check(ctx,
		"event_name", e.EventName,
		"tags", strings.Join(e.Tags, tagSeparator),
		"file_path", e.FilePath,
	)
}

// ============================================================================
// CRUD
// ============================================================================

func (s *eventService) Create(ctx context.Context, userID uuid.UUID, event *models.UserEvent) (*models.UserEvent, error) {
	if event.RepoID == uuid.Nil {
		return nil, fmt.Errorf("%w: repo_id is required", apperrors.ErrInvalidInput)
	}
	if err := s.checkEvent(ctx, event); err != nil {
		return nil, err
	}
	if _, err := ownedRepo(ctx, s.repoRepo, userID, event.RepoID); err != nil {
		return nil, err
	}
	if event.PlanID != nil {
		if _, err := ownedPlan(ctx, s.planRepo, userID, *event.PlanID); err != nil {
			return nil, err
		}
	}

	event.ID = uuid.Nil
	event.Source = models.EventSourceManual
	if event.Tags == nil {
		event.Tags = []string{}
	}
	if err := s.eventRepo.Create(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

func (s *eventService) Get(ctx context.Context, userID, id uuid.UUID) (*models.UserEvent, error) {
	return ownedEvent(ctx, s.eventRepo, s.repoRepo, userID, id)
}

func (s *eventService) Update(ctx context.Context, userID, id uuid.UUID, update EventUpdate) (*models.UserEvent, error) {
	event, err := ownedEvent(ctx, s.eventRepo, s.repoRepo, userID, id)
	if err != nil {
		return nil, err
	}

	if update.EventName != nil {
		event.EventName = *update.EventName
	}
	if update.Context != nil {
		event.Context = *update.Context
	}
	if update.Tags != nil {
		event.Tags = *update.Tags
	}
	if update.FilePath != nil {
		event.FilePath = *update.FilePath
	}
	if update.LineNumber != nil {
		line := *update.LineNumber
		event.LineNumber = &line
	}
	if err := s.checkEvent(ctx, event); err != nil {
		return nil, err
	}

	if err := s.eventRepo.Update(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

func (s *eventService) Delete(ctx context.Context, userID, id uuid.UUID) error {
	if _, err := ownedEvent(ctx, s.eventRepo, s.repoRepo, userID, id); err != nil {
		return err
	}
	return s.eventRepo.Delete(ctx, id)
}

// ============================================================================
// Export / import
// ============================================================================

func (s *eventService) ExportCSV(ctx context.Context, userID uuid.UUID, target EventTarget, w io.Writer) error {
	if err := target.validate(); err != nil {
		return err
	}

	var (
		events []*models.UserEvent
		err    error
	)
	if target.RepoID != uuid.Nil {
		if _, err := ownedRepo(ctx, s.repoRepo, userID, target.RepoID); err != nil {
			return err
		}
		events, err = s.eventRepo.ListByRepo(ctx, target.RepoID)
	} else {
		if _, err := ownedPlan(ctx, s.planRepo, userID, target.PlanID); err != nil {
			return err
		}
		events, err = s.eventRepo.ListByPlan(ctx, target.PlanID)
	}
	if err != nil {
		return err
	}

	return writeEventsCSV(w, events)
}

func (s *eventService) ExportCallsCSV(ctx context.Context, userID, repoID uuid.UUID, w io.Writer) error {
	if _, err := ownedRepo(ctx, s.repoRepo, userID, repoID); err != nil {
		return err
	}
	events, err := s.eventRepo.ListByRepo(ctx, repoID)
	if err != nil {
		return err
	}

	calls, err := trackingparser.ParseReader(callSiteLines(events))
	if err != nil {
		return err
	}
	sort.SliceStable(calls, func(i, j int) bool {
		if calls[i].FilePath != calls[j].FilePath {
			return calls[i].FilePath < calls[j].FilePath
		}
		return calls[i].LineNumber < calls[j].LineNumber
	})
	return trackingparser.WriteCSV(w, calls)
}

// callSiteLines renders events that carry a location back into
// "path:line:col:code" search output. Events the parser cannot read are dropped by it.
func callSiteLines(events []*models.UserEvent) io.Reader {
	var b strings.Builder
	for _, e := range events {
		if e.FilePath == "" || e.LineNumber == nil || strings.Contains(e.FilePath, ":") {
			continue
		}
		code := strings.NewReplacer("\r", " ", "\n", " ").Replace(e.Context)
		fmt.Fprintf(&b, "%s:%d:1:%s\n", e.FilePath, *e.LineNumber, code)
	}
	return strings.NewReader(b.String())
}

// importDestination resolves where imported rows land. For a plan, planRepos
// holds the plan's repos in link order.
type importDestination struct {
	repoID    uuid.UUID
	planID    *uuid.UUID
	planRepos map[uuid.UUID]bool
	fallback  uuid.UUID
}

func (s *eventService) destination(ctx context.Context, userID uuid.UUID, target EventTarget) (*importDestination, error) {
	if err := target.validate(); err != nil {
		return nil, err
	}

	if target.RepoID != uuid.Nil {
		if _, err := ownedRepo(ctx, s.repoRepo, userID, target.RepoID); err != nil {
			return nil, err
		}
		return &importDestination{repoID: target.RepoID}, nil
	}

	if _, err := ownedPlan(ctx, s.planRepo, userID, target.PlanID); err != nil {
		return nil, err
	}
	repos, err := s.planRepo.ListRepos(ctx, target.PlanID)
	if err != nil {
		return nil, err
	}
	planID := target.PlanID
	dest := &importDestination{planID: &planID, planRepos: make(map[uuid.UUID]bool, len(repos))}
	for i, repo := range repos {
		if i == 0 {
			dest.fallback = repo.ID
		}
		dest.planRepos[repo.ID] = true
	}
	return dest, nil
}

// repoFor picks the repo of one imported row.
func (d *importDestination) repoFor(row int, rowRepo uuid.UUID) (uuid.UUID, error) {
	if d.planID == nil {
		return d.repoID, nil
	}
	if rowRepo == uuid.Nil {
		if d.fallback == uuid.Nil {
			return uuid.Nil, fmt.Errorf("%w: row %d: repo_id is required because the plan has no repos", apperrors.ErrInvalidInput, row)
		}
		return d.fallback, nil
	}
	if !d.planRepos[rowRepo] {
		return uuid.Nil, fmt.Errorf("%w: row %d: repo %s is not part of the plan", apperrors.ErrInvalidInput, row, rowRepo)
	}
	return rowRepo, nil
}

func (s *eventService) ImportCSV(ctx context.Context, userID uuid.UUID, target EventTarget, r io.Reader) (*ImportResult, error) {
	dest, err := s.destination(ctx, userID, target)
	if err != nil {
		return nil, err
	}

	rows, err := readEventsCSV(r)
	if err != nil {
		return nil, err
	}

	events := make([]*models.UserEvent, 0, len(rows))
	for _, row := range rows {
		event := row.Event
		if event.RepoID, err = dest.repoFor(row.Row, row.RepoID); err != nil {
			return nil, err
		}
		event.PlanID = dest.planID
		event.Source = models.EventSourceImport
		if err := s.checkEvent(ctx, &event); err != nil {
			return nil, fmt.Errorf("row %d: %w", row.Row, err)
		}
		events = append(events, &event)
	}

	if len(events) > 0 {
		if err := s.eventRepo.CreateBatch(ctx, events); err != nil {
			return nil, err
		}
	}

	s.logger.Info("Imported events from CSV",
		zap.String("repo_id", target.RepoID.String()),
		zap.String("plan_id", target.PlanID.String()),
		zap.Int("count", len(events)))
	return &ImportResult{Imported: len(events), Events: events}, nil
}

func (s *eventService) ImportYAML(ctx context.Context, userID uuid.UUID, target EventTarget, r io.Reader) (*ImportResult, error) {
	dest, err := s.destination(ctx, userID, target)
	if err != nil {
		return nil, err
	}

	doc, err := trackingparser.ParseAnalyzeTrackingYAML(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
	}
	plan := doc.ToTrackingPlan()

	repoID, err := dest.repoFor(0, uuid.Nil)
	if err != nil {
		return nil, fmt.Errorf("%w: the plan has no repos to attach events to", apperrors.ErrInvalidInput)
	}

	events := make([]*models.UserEvent, 0, len(plan.Data))
	for _, te := range plan.Data {
		event := &models.UserEvent{
			RepoID:    repoID,
			PlanID:    dest.planID,
			EventName: te.EventName,
			Context:   te.Context,
			Tags:      yamlEventTags(te),
			FilePath:  te.FilePath,
			Source:    models.EventSourceImport,
		}
		if te.LineNumber > 0 {
			line := te.LineNumber
			event.LineNumber = &line
		}
		if err := s.checkEvent(ctx, event); err != nil {
			return nil, fmt.Errorf("event %q: %w", te.EventName, err)
		}
		events = append(events, event)
	}

	if dest.planID == nil {
		err = s.eventRepo.ReplaceScanned(ctx, repoID, events)
	} else if len(events) > 0 {
		err = s.eventRepo.CreateBatch(ctx, events)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("Imported events from YAML",
		zap.String("repo_id", repoID.String()),
		zap.String("source", doc.Source.Repository),
		zap.Int("count", len(events)))
	return &ImportResult{Imported: len(events), Events: events}, nil
}

// yamlEventTags keeps the destination tags and adds "prop:<name>" per property.
func yamlEventTags(te models.TrackingEvent) []string {
	tags := append([]string{}, te.Tags...)
	props := make([]string, 0, len(te.Properties))
	for key := range te.Properties {
		props = append(props, "prop:"+key)
	}
	sort.Strings(props)
	return append(tags, props...)
}
