package tools

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/tracking-engine/pkg/models"
	"github.com/ekaya-inc/tracking-engine/pkg/services"
)

// TrackingToolDeps contains the dependencies for the tracking plan tools.
type TrackingToolDeps struct {
	BaseMCPToolDeps
	RepoService services.RepoService
	PlanService services.PlanService
	ScanService services.ScanService
}

// RegisterTrackingTools registers the repo, event, plan and scan tools.
func RegisterTrackingTools(s *server.MCPServer, deps *TrackingToolDeps) {
	registerListReposTool(s, deps)
	registerListTrackingEventsTool(s, deps)
	registerGetTrackingPlanTool(s, deps)
	registerStartScanTool(s, deps)
	registerGetScanStatusTool(s, deps)
}

// ============================================================================
// list_repos
// ============================================================================

type repoSummary struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Label       string    `json:"label,omitempty"`
	Description string    `json:"description,omitempty"`
	URL         string    `json:"url,omitempty"`
}

func toRepoSummaries(repos []*models.Repo) []repoSummary {
	out := make([]repoSummary, 0, len(repos))
	for _, r := range repos {
		out = append(out, repoSummary{ID: r.ID, Name: r.Name, Label: r.Label, Description: r.Description, URL: r.URL})
	}
	return out
}

func registerListReposTool(s *server.MCPServer, deps *TrackingToolDeps) {
	tool := mcp.NewTool(
		"list_repos",
		mcp.WithDescription(
			"Lists the repositories registered for tracking-event scanning. "+
				"Use the returned id with list_tracking_events or start_scan.",
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, ctx, cleanup, err := AcquireUserScope(ctx, deps, "list_repos")
		if err != nil {
			if result := AsToolAccessResult(err); result != nil {
				return result, nil
			}
			return nil, err
		}
		defer cleanup()

		repos, err := deps.RepoService.List(ctx, userID)
		if err != nil {
			return nil, err
		}
		return jsonResult(map[string]any{"repos": toRepoSummaries(repos)})
	})
}

// ============================================================================
// list_tracking_events
// ============================================================================

func registerListTrackingEventsTool(s *server.MCPServer, deps *TrackingToolDeps) {
	tool := mcp.NewTool(
		"list_tracking_events",
		mcp.WithDescription(
			"Lists every tracking event found in a repository, one entry per call site, "+
				"with its tags (sdk:<name>, prop:<property>) and source location.",
		),
		mcp.WithString("repo_id", mcp.Required(), mcp.Description("Repo ID from list_repos")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		repoID, errResult := requireUUIDParam(req, "repo_id")
		if errResult != nil {
			return errResult, nil
		}

		userID, ctx, cleanup, err := AcquireUserScope(ctx, deps, "list_tracking_events")
		if err != nil {
			if result := AsToolAccessResult(err); result != nil {
				return result, nil
			}
			return nil, err
		}
		defer cleanup()

		events, err := deps.RepoService.ListEvents(ctx, userID, repoID)
		if err != nil {
			if result := serviceErrorResult(err); result != nil {
				return result, nil
			}
			return nil, err
		}
		return jsonResult(map[string]any{
			"repo_id": repoID,
			"count":   len(events),
			"events":  events,
		})
	})
}

// ============================================================================
// get_tracking_plan
// ============================================================================

// planEvent is one distinct event name in a plan with everything known about it merged.
type planEvent struct {
	EventName  string   `json:"event_name"`
	SDKs       []string `json:"sdks,omitempty"`
	Properties []string `json:"properties"`
	Locations  []string `json:"locations,omitempty"`
	Contexts   []string `json:"contexts,omitempty"`
	CallSites  int      `json:"call_sites"`
}

type planResult struct {
	ID          uuid.UUID         `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Status      models.PlanStatus `json:"status"`
	Version     int               `json:"version"`
	Repos       []repoSummary     `json:"repos"`
	Events      []planEvent       `json:"events"`
}

func registerGetTrackingPlanTool(s *server.MCPServer, deps *TrackingToolDeps) {
	tool := mcp.NewTool(
		"get_tracking_plan",
		mcp.WithDescription(
			"Returns a tracking plan with its repos and its events grouped by event name. "+
				"Each event lists the SDKs that send it, the union of its properties and where it is called.",
		),
		mcp.WithString("plan_id", mcp.Required(), mcp.Description("Tracking plan ID")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		planID, errResult := requireUUIDParam(req, "plan_id")
		if errResult != nil {
			return errResult, nil
		}

		userID, ctx, cleanup, err := AcquireUserScope(ctx, deps, "get_tracking_plan")
		if err != nil {
			if result := AsToolAccessResult(err); result != nil {
				return result, nil
			}
			return nil, err
		}
		defer cleanup()

		plan, err := deps.PlanService.Get(ctx, userID, planID)
		if err != nil {
			if result := serviceErrorResult(err); result != nil {
				return result, nil
			}
			return nil, err
		}
		events, err := deps.PlanService.ListEvents(ctx, userID, planID)
		if err != nil {
			return nil, err
		}

		return jsonResult(planResult{
			ID:          plan.ID,
			Name:        plan.Name,
			Description: plan.Description,
			Status:      plan.Status,
			Version:     plan.Version,
			Repos:       toRepoSummaries(plan.Repos),
			Events:      groupPlanEvents(events),
		})
	})
}

// groupPlanEvents merges call sites by event name, sorted by name.
func groupPlanEvents(events []*models.UserEvent) []planEvent {
	type acc struct {
		sdks, props, locations, contexts map[string]struct{}
		count                            int
	}
	byName := make(map[string]*acc)

	add := func(set map[string]struct{}, v string) {
		if v != "" {
			set[v] = struct{}{}
		}
	}

	for _, e := range events {
		a, ok := byName[e.EventName]
		if !ok {
			a = &acc{
				sdks:      map[string]struct{}{},
				props:     map[string]struct{}{},
				locations: map[string]struct{}{},
				contexts:  map[string]struct{}{},
			}
			byName[e.EventName] = a
		}
		a.count++
		for _, tag := range e.Tags {
			if sdk, ok := strings.CutPrefix(tag, "sdk:"); ok {
				add(a.sdks, sdk)
			} else if prop, ok := strings.CutPrefix(tag, "prop:"); ok {
				add(a.props, prop)
			}
		}
		if e.FilePath != "" {
			loc := e.FilePath
			if e.LineNumber != nil {
				loc = models.TrackingCall{FilePath: e.FilePath, LineNumber: *e.LineNumber}.Location()
			}
			add(a.locations, loc)
		}
		add(a.contexts, e.Context)
	}

	out := make([]planEvent, 0, len(byName))
	for name, a := range byName {
		out = append(out, planEvent{
			EventName:  name,
			SDKs:       sortedKeys(a.sdks),
			Properties: sortedKeys(a.props),
			Locations:  sortedKeys(a.locations),
			Contexts:   sortedKeys(a.contexts),
			CallSites:  a.count,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventName < out[j].EventName })
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ============================================================================
// start_scan / get_scan_status
// ============================================================================

func registerStartScanTool(s *server.MCPServer, deps *TrackingToolDeps) {
	tool := mcp.NewTool(
		"start_scan",
		mcp.WithDescription(
			"Starts a background scan of a repository: clone, detect the tracking SDK, "+
				"search for its calls and replace the repo's scanned events. "+
				"Returns the scan job; poll get_scan_status with its id.",
		),
		mcp.WithString("repo_id", mcp.Required(), mcp.Description("Repo ID from list_repos")),
		mcp.WithString("branch", mcp.Description("Branch to scan. Defaults to the repository's default branch")),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		repoID, errResult := requireUUIDParam(req, "repo_id")
		if errResult != nil {
			return errResult, nil
		}

		userID, ctx, cleanup, err := AcquireUserScope(ctx, deps, "start_scan")
		if err != nil {
			if result := AsToolAccessResult(err); result != nil {
				return result, nil
			}
			return nil, err
		}
		defer cleanup()

		branch := trimString(req.GetString("branch", ""))
		job, err := deps.ScanService.StartScan(ctx, userID, repoID, branch)
		if err != nil {
			if result := serviceErrorResult(err); result != nil {
				return result, nil
			}
			return nil, err
		}

		deps.Logger.Info("Scan started via MCP",
			zap.String("repo_id", repoID.String()),
			zap.String("branch", branch),
			zap.String("job_id", job.ID.String()))
		return jsonResult(job)
	})
}

func registerGetScanStatusTool(s *server.MCPServer, deps *TrackingToolDeps) {
	tool := mcp.NewTool(
		"get_scan_status",
		mcp.WithDescription("Returns the status, current step and event count of a scan job."),
		mcp.WithString("job_id", mcp.Required(), mcp.Description("Scan job ID returned by start_scan")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		jobID, errResult := requireUUIDParam(req, "job_id")
		if errResult != nil {
			return errResult, nil
		}

		userID, ctx, cleanup, err := AcquireUserScope(ctx, deps, "get_scan_status")
		if err != nil {
			if result := AsToolAccessResult(err); result != nil {
				return result, nil
			}
			return nil, err
		}
		defer cleanup()

		job, err := deps.ScanService.GetJob(ctx, jobID)
		if err != nil {
			if result := serviceErrorResult(err); result != nil {
				return result, nil
			}
			return nil, err
		}
		// Jobs on another user's repo look the same as missing ones.
		if _, err := deps.RepoService.Get(ctx, userID, job.RepoID); err != nil {
			if result := serviceErrorResult(err); result != nil {
				return NewErrorResult("not_found", "scan job not found"), nil
			}
			return nil, err
		}
		return jsonResult(job)
	})
}
