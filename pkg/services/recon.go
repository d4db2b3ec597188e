package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/tracking-engine/pkg/llm"
	"github.com/ekaya-inc/tracking-engine/pkg/models"
	"github.com/ekaya-inc/tracking-engine/pkg/prompts"
	"github.com/ekaya-inc/tracking-engine/pkg/services/search"
)

// ErrNoTrackingSDK is returned when no supported analytics SDK can be identified in a repo.
var ErrNoTrackingSDK = errors.New("no supported tracking sdk found")

const (
	reconTemperature   = 0.1
	reconManifestDepth = 3
	reconReadLimit     = 64 * 1024
	reconSearchLimit   = 100
)

// ReconService identifies the analytics SDK a checked-out repo depends on.
type ReconService interface {
	Detect(ctx context.Context, root string) (*models.DependencyReport, error)
}

type reconService struct {
	llmClient     llm.ToolClient
	searcher      *search.Searcher
	maxIterations int
	logger        *zap.Logger
}

// NewReconService creates a recon service. llmClient may be nil, in which case only
// manifest detection runs.
func NewReconService(llmClient llm.ToolClient, searcher *search.Searcher, maxIterations int, logger *zap.Logger) ReconService {
	return &reconService{
		llmClient:     llmClient,
		searcher:      searcher,
		maxIterations: maxIterations,
		logger:        logger.Named("recon"),
	}
}

var _ ReconService = (*reconService)(nil)

// Detect tries the manifest fast path first and falls back to an LLM-driven exploration
// of the tree.
func (s *reconService) Detect(ctx context.Context, root string) (*models.DependencyReport, error) {
	if report, ok := DetectFromManifests(root); ok {
		s.logger.Info("Tracking SDK detected from manifest",
			zap.String("sdk", string(report.TrackingSDK)),
			zap.String("manifest", report.PackageFilePath))
		return report, nil
	}

	if s.llmClient == nil {
		return nil, ErrNoTrackingSDK
	}

	executor := &reconToolExecutor{root: root, searcher: s.searcher, logger: s.logger}
	response, err := s.llmClient.GenerateWithTools(ctx, &llm.ToolRequest{
		SystemPrompt:  prompts.BuildReconSystemMessage(),
		Prompt:        prompts.BuildReconPrompt("."),
		Tools:         reconTools(),
		Temperature:   reconTemperature,
		MaxIterations: s.maxIterations,
	}, executor)
	if err != nil {
		return nil, fmt.Errorf("dependency reconnaissance failed: %w", err)
	}

	report, err := llm.ParseJSONResponse[models.DependencyReport](response)
	if err != nil {
		s.logger.Warn("Failed to parse dependency report",
			zap.String("response_preview", previewText(response, 200)),
			zap.Error(err))
		return nil, fmt.Errorf("%w: unparseable model output", ErrNoTrackingSDK)
	}

	report.Normalize()
	if err := report.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoTrackingSDK, err)
	}

	projectPath, err := resolveInRoot(root, report.ProjectPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoTrackingSDK, err)
	}
	report.ProjectPath = relativeTo(root, projectPath)

	s.logger.Info("Tracking SDK detected by model",
		zap.String("sdk", string(report.TrackingSDK)),
		zap.String("language", string(report.Language)),
		zap.String("project_path", report.ProjectPath))

	return &report, nil
}

// ============================================================================
// Manifest fast path
// ============================================================================

// manifestLanguages maps manifest file names to the language they imply.
var manifestLanguages = map[string]models.Language{
	"package.json":     models.LanguageJavaScript,
	"Podfile":          models.LanguageSwift,
	"Package.swift":    models.LanguageSwift,
	"build.gradle":     models.LanguageKotlin,
	"build.gradle.kts": models.LanguageKotlin,
	"Gemfile":          models.LanguageRuby,
	"go.mod":           models.LanguageGo,
	"requirements.txt": models.LanguagePython,
	"pyproject.toml":   models.LanguagePython,
}

// sdkPackages lists lower-cased package name fragments per SDK. Order matters: more
// specific SDKs are checked before the ones whose names they contain.
var sdkPackages = []struct {
	sdk       models.TrackingSDK
	fragments []string
}{
	{models.SDKFirebaseAnalytics, []string{"@react-native-firebase/analytics", "firebase/analytics", "firebase-analytics", "firebaseanalytics", "firebase_analytics"}},
	{models.SDKGtag, []string{"vue-gtag", "react-gtag", "ng-gtag", "gtag.js", "react-gtm-module"}},
	{models.SDKGoogleAnalytics, []string{"react-ga", "universal-analytics", "google-analytics", "googleanalytics", "ga-4-react"}},
	{models.SDKSegment, []string{"@segment/", "analytics-node", "analytics-react-native", "segmentio/analytics-go", "analytics-ruby", "analytics-swift", "com.segment.analytics"}},
	{models.SDKMixpanel, []string{"mixpanel"}},
	{models.SDKAmplitude, []string{"amplitude"}},
	{models.SDKRudderstack, []string{"rudder"}},
	{models.SDKMParticle, []string{"mparticle"}},
	{models.SDKPostHog, []string{"posthog"}},
	{models.SDKPendo, []string{"pendo"}},
	{models.SDKHeap, []string{"@heap/", "heap-api", "heapanalytics", "react-native-heap", "heap-swift"}},
	{models.SDKSnowplow, []string{"snowplow"}},
}

// DetectFromManifests looks for known SDK packages in dependency manifests under root.
// Shallower manifests win. The second return value is false when nothing matched.
func DetectFromManifests(root string) (*models.DependencyReport, bool) {
	manifests := findManifests(root)

	for _, path := range manifests {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		content := strings.ToLower(string(data))

		for _, candidate := range sdkPackages {
			if !containsAny(content, candidate.fragments) {
				continue
			}

			rel := relativeTo(root, path)
			lang := manifestLanguages[filepath.Base(path)]
			if lang == models.LanguageJavaScript && isTypeScriptProject(filepath.Dir(path), content) {
				lang = models.LanguageTypeScript
			}
			return &models.DependencyReport{
				ProjectPath:     relativeTo(root, filepath.Dir(path)),
				TrackingSDK:     candidate.sdk,
				PackageFilePath: rel,
				Language:        lang,
			}, true
		}
	}
	return nil, false
}

// findManifests returns manifest paths up to reconManifestDepth levels deep, shallowest first.
func findManifests(root string) []string {
	var found []string
	skip := make(map[string]bool, len(search.DefaultSkipDirs))
	for _, d := range search.DefaultSkipDirs {
		skip[d] = true
	}

	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && (skip[d.Name()] || pathDepth(root, path) > reconManifestDepth) {
				return filepath.SkipDir
			}
			return nil
		}
		// Symlinked manifests may point outside the checkout.
		if !d.Type().IsRegular() {
			return nil
		}
		if _, ok := manifestLanguages[d.Name()]; ok {
			found = append(found, path)
		}
		return nil
	})

	sort.SliceStable(found, func(i, j int) bool {
		di, dj := pathDepth(root, found[i]), pathDepth(root, found[j])
		if di != dj {
			return di < dj
		}
		return found[i] < found[j]
	})
	return found
}

func isTypeScriptProject(dir, packageJSON string) bool {
	if _, err := os.Stat(filepath.Join(dir, "tsconfig.json")); err == nil {
		return true
	}
	return strings.Contains(packageJSON, `"typescript"`)
}

func pathDepth(root, path string) int {
	rel := relativeTo(root, path)
	if rel == "." {
		return 0
	}
	return strings.Count(rel, string(filepath.Separator)) + 1
}

func containsAny(s string, fragments []string) bool {
	for _, f := range fragments {
		if strings.Contains(s, f) {
			return true
		}
	}
	return false
}

// ============================================================================
// Sandbox helpers
// ============================================================================

// resolveInRoot joins rel onto root and rejects anything that resolves outside it.
// Symlinks are followed before the final check, so a link in the checkout cannot
// point the tools at the rest of the filesystem. Paths that do not exist are
// returned unresolved and fail when opened.
func resolveInRoot(root, rel string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	realRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		return "", fmt.Errorf("failed to resolve repository root: %w", err)
	}
	if rel == "" {
		return realRoot, nil
	}

	var joined string
	if filepath.IsAbs(rel) {
		joined = filepath.Clean(rel)
	} else {
		joined = filepath.Join(absRoot, rel)
	}
	if !withinRoot(absRoot, joined) {
		return "", fmt.Errorf("path %q is outside the repository", rel)
	}

	resolved, err := filepath.EvalSymlinks(joined)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return joined, nil
		}
		return "", fmt.Errorf("failed to resolve %s: %w", rel, err)
	}
	if !withinRoot(realRoot, resolved) {
		return "", fmt.Errorf("path %q links outside the repository", rel)
	}
	return resolved, nil
}

func withinRoot(root, path string) bool {
	r, err := filepath.Rel(root, path)
	return err == nil && r != ".." && !strings.HasPrefix(r, ".."+string(filepath.Separator))
}

// relativeTo returns path relative to root, comparing symlink-resolved forms
// when both exist.
func relativeTo(root, path string) string {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return path
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	if real, err := filepath.EvalSymlinks(absRoot); err == nil {
		if realPath, err := filepath.EvalSymlinks(absPath); err == nil {
			absRoot, absPath = real, realPath
		}
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil {
		return path
	}
	return rel
}

// ============================================================================
// LLM tools
// ============================================================================

func reconTools() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		llm.NewToolDefinition("list_directory",
			"List the entries of a directory. Directories end with '/'.",
			map[string]llm.ParameterProperty{
				"path": {Type: "string", Description: "Directory relative to the repository root"},
			}, []string{"path"}),
		llm.NewToolDefinition("read_file",
			"Read a text file. Large files are truncated.",
			map[string]llm.ParameterProperty{
				"path": {Type: "string", Description: "File relative to the repository root"},
			}, []string{"path"}),
		llm.NewToolDefinition("search_code",
			"Search the repository with a regular expression. Returns path:line:col:text matches.",
			map[string]llm.ParameterProperty{
				"pattern": {Type: "string", Description: "RE2 regular expression"},
			}, []string{"pattern"}),
	}
}

// reconToolExecutor serves the recon tools, confined to root.
type reconToolExecutor struct {
	root     string
	searcher *search.Searcher
	logger   *zap.Logger
}

var _ llm.ToolExecutor = (*reconToolExecutor)(nil)

type reconToolArgs struct {
	Path    string `json:"path"`
	Pattern string `json:"pattern"`
}

func (e *reconToolExecutor) ExecuteTool(ctx context.Context, name string, arguments string) (string, error) {
	e.logger.Debug("Executing tool", zap.String("tool", name), zap.String("arguments", arguments))

	var args reconToolArgs
	if arguments != "" {
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
	}

	switch name {
	case "list_directory":
		return e.listDirectory(args.Path)
	case "read_file":
		return e.readFile(args.Path)
	case "search_code":
		return e.searchCode(ctx, args.Pattern)
	default:
		return "", fmt.Errorf("unknown tool: %s", name)
	}
}

func (e *reconToolExecutor) listDirectory(rel string) (string, error) {
	dir, err := resolveInRoot(e.root, rel)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to list %s: %w", rel, err)
	}

	var sb strings.Builder
	for _, entry := range entries {
		if entry.Name() == ".git" {
			continue
		}
		sb.WriteString(entry.Name())
		if entry.IsDir() {
			sb.WriteString("/")
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func (e *reconToolExecutor) readFile(rel string) (string, error) {
	path, err := resolveInRoot(e.root, rel)
	if err != nil {
		return "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", rel, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, reconReadLimit+1))
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", rel, err)
	}
	if len(data) > reconReadLimit {
		return string(data[:reconReadLimit]) + "\n[truncated]", nil
	}
	return string(data), nil
}

func (e *reconToolExecutor) searchCode(ctx context.Context, pattern string) (string, error) {
	if pattern == "" {
		return "", fmt.Errorf("pattern is required")
	}
	lines, err := e.searcher.Search(ctx, e.root, []models.SearchPattern{{Pattern: pattern}})
	if err != nil {
		return "", err
	}
	if len(lines) == 0 {
		return "no matches", nil
	}
	if len(lines) > reconSearchLimit {
		lines = append(lines[:reconSearchLimit], fmt.Sprintf("[%d more matches omitted]", len(lines)-reconSearchLimit))
	}
	return strings.Join(lines, "\n"), nil
}

func previewText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
