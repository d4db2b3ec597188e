package prompts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ekaya-inc/tracking-engine/pkg/models"
)

func TestBuildReconSystemMessage(t *testing.T) {
	msg := BuildReconSystemMessage()

	for _, sdk := range models.TrackingSDKs {
		assert.Contains(t, msg, string(sdk))
	}
	for _, lang := range models.Languages {
		assert.Contains(t, msg, string(lang))
	}
	assert.Contains(t, msg, `"package_file_path"`)
	assert.Contains(t, msg, `{"tracking_sdk": "none"}`)
}

func TestBuildReconPrompt(t *testing.T) {
	assert.Equal(t, BuildReconPrompt("."), BuildReconPrompt(""))
	assert.Contains(t, BuildReconPrompt("apps/web"), `"apps/web"`)
}

func TestBuildPatternPrompt(t *testing.T) {
	report := &models.DependencyReport{
		TrackingSDK:     models.SDKSegment,
		Language:        models.LanguageTypeScript,
		PackageFilePath: "package.json",
	}

	t.Run("lists existing patterns", func(t *testing.T) {
		prompt := BuildPatternPrompt(report, []models.SearchPattern{
			{Pattern: `analytics\.track\(`, OutputFile: "segment"},
		})

		assert.Contains(t, prompt, "Tracking SDK: segment")
		assert.Contains(t, prompt, "Language: typescript")
		assert.Contains(t, prompt, "Manifest: package.json")
		assert.Contains(t, prompt, `- analytics\.track\(`)
		assert.Contains(t, prompt, "additional patterns")
	})

	t.Run("without existing patterns", func(t *testing.T) {
		prompt := BuildPatternPrompt(&models.DependencyReport{TrackingSDK: models.SDKHeap, Language: models.LanguageSwift}, nil)

		assert.NotContains(t, prompt, "Manifest:")
		assert.NotContains(t, prompt, "already searched")
		assert.True(t, strings.HasSuffix(prompt, "in this language."))
	})
}

func TestBuildPatternSystemMessage(t *testing.T) {
	msg := BuildPatternSystemMessage()
	assert.Contains(t, msg, "RE2")
	assert.Contains(t, msg, `"patterns"`)
}
