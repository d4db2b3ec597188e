package prompts

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/tracking-engine/pkg/models"
)

// BuildPatternSystemMessage creates the system message for search pattern suggestions.
func BuildPatternSystemMessage() string {
	return `You write RE2 regular expressions that find analytics event tracking calls in source code.
Only match calls that send a named event with optional properties. Ignore identify, alias, group and people calls.
Answer with JSON only: {"patterns": [{"pattern": "<regex>", "output_file": "<sdk>"}]}`
}

// BuildPatternPrompt asks for patterns beyond existing, the ones a scan of
// report.TrackingSDK already searches for.
func BuildPatternPrompt(report *models.DependencyReport, existing []models.SearchPattern) string {
	var prompt strings.Builder

	prompt.WriteString(fmt.Sprintf("Tracking SDK: %s\n", report.TrackingSDK))
	prompt.WriteString(fmt.Sprintf("Language: %s\n", report.Language))
	if report.PackageFilePath != "" {
		prompt.WriteString(fmt.Sprintf("Manifest: %s\n", report.PackageFilePath))
	}

	if len(existing) > 0 {
		prompt.WriteString("\nThese patterns are already searched:\n")
		for _, p := range existing {
			prompt.WriteString("- " + p.Pattern + "\n")
		}
		prompt.WriteString("\nSuggest additional patterns for idioms of this SDK in this language that the list above misses.")
	} else {
		prompt.WriteString("\nSuggest patterns for the event tracking calls of this SDK in this language.")
	}

	return prompt.String()
}
