package services

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/tracking-engine/pkg/llm"
	"github.com/ekaya-inc/tracking-engine/pkg/models"
	"github.com/ekaya-inc/tracking-engine/pkg/prompts"
	"github.com/ekaya-inc/tracking-engine/pkg/services/search"
)

// ErrDependencyRequired is returned when pattern resolution runs without a dependency report.
var ErrDependencyRequired = errors.New("dependency report is required")

// maxModelPatterns caps how many model-suggested patterns are accepted.
const maxModelPatterns = 20

// PatternService decides which regular expressions a scan searches for.
type PatternService interface {
	Resolve(ctx context.Context, report *models.DependencyReport) ([]models.SearchPattern, error)
}

type patternService struct {
	llmClient llm.LLMClient
	logger    *zap.Logger
}

// NewPatternService creates a pattern service. llmClient may be nil.
func NewPatternService(llmClient llm.LLMClient, logger *zap.Logger) PatternService {
	return &patternService{
		llmClient: llmClient,
		logger:    logger.Named("patterns"),
	}
}

var _ PatternService = (*patternService)(nil)

type modelPatternResponse struct {
	Patterns []models.SearchPattern `json:"patterns"`
}

// Resolve returns the static patterns for the report's SDK, extended with whatever valid
// patterns the model suggests. Model failures never fail the scan.
func (s *patternService) Resolve(ctx context.Context, report *models.DependencyReport) ([]models.SearchPattern, error) {
	if report == nil {
		return nil, ErrDependencyRequired
	}

	patterns := search.PatternsFor(report.TrackingSDK)
	if s.llmClient == nil {
		return patterns, nil
	}

	extra, valid := s.suggest(ctx, report)
	if !valid {
		return patterns, nil
	}

	seen := make(map[string]bool, len(patterns))
	for _, p := range patterns {
		seen[p.Pattern] = true
	}
	added := 0
	for _, p := range extra {
		if seen[p.Pattern] {
			continue
		}
		seen[p.Pattern] = true
		patterns = append(patterns, p)
		added++
	}

	s.logger.Debug("Resolved search patterns",
		zap.String("sdk", string(report.TrackingSDK)),
		zap.Int("total", len(patterns)),
		zap.Int("from_model", added))

	return patterns, nil
}

// suggest asks the model for additional patterns. The bool is false when the answer
// could not be used at all.
func (s *patternService) suggest(ctx context.Context, report *models.DependencyReport) ([]models.SearchPattern, bool) {
	response, err := s.llmClient.GenerateResponse(ctx,
		prompts.BuildPatternPrompt(report, search.PatternsFor(report.TrackingSDK)),
		prompts.BuildPatternSystemMessage(), 0.1)
	if err != nil {
		classified := llm.ClassifyError(err)
		s.logger.Warn("Pattern suggestion failed, using static patterns",
			zap.String("error_type", string(classified.Type)),
			zap.Error(err))
		return nil, false
	}

	parsed, err := llm.ParseJSONResponse[modelPatternResponse](response)
	if err != nil {
		s.logger.Warn("Unparseable pattern suggestion, using static patterns",
			zap.String("response_preview", previewText(response, 200)),
			zap.Error(err))
		return nil, false
	}

	var out []models.SearchPattern
	for _, p := range parsed.Patterns {
		p.Pattern = strings.TrimSpace(p.Pattern)
		if p.Pattern == "" {
			continue
		}
		if _, err := regexp.Compile(p.Pattern); err != nil {
			s.logger.Debug("Dropping invalid model pattern", zap.String("pattern", p.Pattern), zap.Error(err))
			continue
		}
		if p.OutputFile == "" {
			p.OutputFile = string(report.TrackingSDK)
		}
		out = append(out, p)
		if len(out) == maxModelPatterns {
			break
		}
	}
	return out, len(out) > 0
}
