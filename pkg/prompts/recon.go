package prompts

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/tracking-engine/pkg/models"
)

// BuildReconSystemMessage creates the system message for dependency reconnaissance.
// The supported SDK and language lists come from the models package so the model
// is never offered a value the report validation would reject.
func BuildReconSystemMessage() string {
	var sb strings.Builder

	sb.WriteString("You identify which analytics tracking SDK a source repository uses.\n")
	sb.WriteString("Explore the repository with the provided tools. Prefer dependency manifests over guessing from code.\n\n")

	sb.WriteString("Supported tracking_sdk values: ")
	sb.WriteString(joinValues(models.TrackingSDKs))
	sb.WriteString(".\n")
	sb.WriteString("Supported language values: ")
	sb.WriteString(joinValues(models.Languages))
	sb.WriteString(".\n\n")

	sb.WriteString("When you are done, answer with a single JSON object and nothing else:\n")
	sb.WriteString(`{"project_path": "<directory relative to the repository root>", "tracking_sdk": "<sdk>", "package_file_path": "<manifest path relative to the repository root>", "language": "<language>"}`)
	sb.WriteString("\n\nIf no supported SDK is used, answer {\"tracking_sdk\": \"none\"}.")

	return sb.String()
}

// BuildReconPrompt creates the opening user message. root is the directory the
// tools resolve paths against.
func BuildReconPrompt(root string) string {
	if root == "" {
		root = "."
	}
	return fmt.Sprintf("Find the analytics tracking SDK used by the repository at the root directory %q.", root)
}

func joinValues[T ~string](values []T) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = string(v)
	}
	return strings.Join(parts, ", ")
}
