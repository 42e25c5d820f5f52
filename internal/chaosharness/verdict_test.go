package chaosharness

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationSeverity_String(t *testing.T) {
	tests := []struct {
		name     string
		severity ValidationSeverity
		want     string
	}{
		{"Critical", SeverityCritical, "CRITICAL"},
		{"Warning", SeverityWarning, "WARNING"},
		{"Info", SeverityInfo, "INFO"},
		{"Unknown", ValidationSeverity(999), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.severity.String())
		})
	}
}
