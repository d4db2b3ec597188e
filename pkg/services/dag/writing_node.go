package dag

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/ekaya-inc/tracking-engine/pkg/audit"
	"github.com/ekaya-inc/tracking-engine/pkg/models"
	"github.com/ekaya-inc/tracking-engine/pkg/repositories"
	"github.com/ekaya-inc/tracking-engine/pkg/secrets"
	"github.com/ekaya-inc/tracking-engine/pkg/services/trackingparser"
)

// SecretRedactor masks credentials in captured source text.
type SecretRedactor interface {
	Redact(content string) (string, []secrets.Finding)
}

// WritingNode turns parsed calls into the repo's tracking plan and persists it.
type WritingNode struct {
	*BaseNode
	eventRepo repositories.EventRepository
	redactor  SecretRedactor
	auditor   *audit.SecurityAuditor
}

// NewWritingNode creates a new tracking plan writing node. redactor and auditor may be nil.
func NewWritingNode(
	jobRepo repositories.ScanJobRepository,
	eventRepo repositories.EventRepository,
	redactor SecretRedactor,
	auditor *audit.SecurityAuditor,
	logger *zap.Logger,
) *WritingNode {
	return &WritingNode{
		BaseNode:  NewBaseNode(models.ScanStepPlanWriting, jobRepo, logger),
		eventRepo: eventRepo,
		redactor:  redactor,
		auditor:   auditor,
	}
}

func (n *WritingNode) Execute(ctx context.Context, state *ScanState) error {
	grouped := trackingparser.GroupEvents(state.Calls)

	var sdkTag string
	if state.Report != nil {
		sdkTag = "sdk:" + string(state.Report.TrackingSDK)
	}

	var findings []secrets.Finding
	events := make([]*models.UserEvent, 0, len(grouped))
	for i := range grouped {
		g := &grouped[i]
		if n.redactor != nil {
			redacted, found := n.redactor.Redact(g.Context)
			g.Context = redacted
			findings = append(findings, found...)
		}
		g.Tags = eventTags(sdkTag, g.Properties)

		line := g.LineNumber
		events = append(events, &models.UserEvent{
			RepoID:     state.RepoID,
			EventName:  g.EventName,
			Context:    g.Context,
			Tags:       g.Tags,
			FilePath:   g.FilePath,
			LineNumber: &line,
			Source:     models.EventSourceScan,
		})
	}

	if err := n.eventRepo.ReplaceScanned(ctx, state.RepoID, events); err != nil {
		return fmt.Errorf("failed to store tracking plan: %w", err)
	}

	state.Plan = &models.TrackingPlan{Data: grouped}
	state.EventsFound = len(events)
	state.SecretsRedacted += len(findings)

	if len(findings) > 0 {
		n.Logger().Warn("Secrets redacted from captured code",
			zap.String("repo_id", state.RepoID.String()),
			zap.Int("findings", len(findings)))
		n.auditor.LogSecretsRedacted(state.UserID, state.RepoID, state.JobID, findings)
	}
	return nil
}

// eventTags lists the SDK followed by the event's property names, sorted.
func eventTags(sdkTag string, properties map[string]string) []string {
	tags := make([]string, 0, len(properties)+1)
	if sdkTag != "" {
		tags = append(tags, sdkTag)
	}
	keys := make([]string, 0, len(properties))
	for k := range properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		tags = append(tags, "prop:"+k)
	}
	return tags
}
