package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/tracking-engine/pkg/apperrors"
)

func TestCheckText(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		wantKind string
	}{
		{"empty", "", ""},
		{"plain label", "Checkout funnel", ""},
		{"event description", "Fired when the user completes sign up", ""},
		{"sql injection", "1' OR '1'='1", "sqli"},
		{"drop table", "'; DROP TABLE users--", "sqli"},
		{"script tag", "<script>alert(1)</script>", "xss"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CheckText("label", tt.value)
			if tt.wantKind == "" {
				assert.Nil(t, result)
				return
			}
			require.NotNil(t, result)
			assert.Equal(t, tt.wantKind, result.Kind)
			assert.Equal(t, "label", result.Field)
		})
	}
}

func TestCheckFields(t *testing.T) {
	assert.Nil(t, CheckFields("name", "acme/web", "label", "Web app"))

	result := CheckFields("name", "acme/web", "description", "<script>alert(1)</script>")
	require.NotNil(t, result)
	assert.Equal(t, "description", result.Field)

	err := result.Error()
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
	assert.Contains(t, err.Error(), "description")
}
