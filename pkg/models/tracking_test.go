package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDependencyReport_Validate(t *testing.T) {
	tests := []struct {
		name    string
		report  DependencyReport
		wantErr string
	}{
		{
			name:   "valid",
			report: DependencyReport{TrackingSDK: SDKSegment, Language: LanguageTypeScript, PackageFilePath: "package.json"},
		},
		{
			name:    "unknown sdk",
			report:  DependencyReport{TrackingSDK: "datadog", Language: LanguageGo, PackageFilePath: "go.mod"},
			wantErr: "unsupported tracking sdk",
		},
		{
			name:    "unknown language",
			report:  DependencyReport{TrackingSDK: SDKHeap, Language: "cobol", PackageFilePath: "x"},
			wantErr: "unsupported language",
		},
		{
			name:    "missing package file",
			report:  DependencyReport{TrackingSDK: SDKHeap, Language: LanguageRuby},
			wantErr: "package_file_path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.report.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestDependencyReport_Normalize(t *testing.T) {
	r := DependencyReport{TrackingSDK: " Mixpanel ", Language: "Swift", PackageFilePath: "Podfile"}
	r.Normalize()

	assert.Equal(t, SDKMixpanel, r.TrackingSDK)
	assert.Equal(t, LanguageSwift, r.Language)
	assert.NoError(t, r.Validate())
}

func TestScanStatus(t *testing.T) {
	assert.True(t, ScanStatusRunning.IsActive())
	assert.False(t, ScanStatusRunning.IsTerminal())
	assert.True(t, ScanStatusCancelled.IsTerminal())
	assert.False(t, ScanStatusFailed.IsActive())
}

func TestPlanStatus_IsValid(t *testing.T) {
	assert.True(t, PlanStatusDraft.IsValid())
	assert.False(t, PlanStatus("published").IsValid())
}

func TestTrackingCall_Location(t *testing.T) {
	assert.Equal(t, "src/app.ts:42", TrackingCall{FilePath: "src/app.ts", LineNumber: 42}.Location())
}
