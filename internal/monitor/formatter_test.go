package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatRate(t *testing.T) {
	tests := []struct {
		rate     float64
		expected string
	}{
		{0, "0.0 runs/min"},
		{1.5, "1.5 runs/min"},
		{45.67, "45.7 runs/min"},
		{1000, "1000.0 runs/min"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, FormatRate(tt.rate))
	}
}

func TestFormatPercentage(t *testing.T) {
	tests := []struct {
		ratio    float64
		expected string
	}{
		{0, "0.0%"},
		{0.5, "50.0%"},
		{0.333, "33.3%"},
		{1.0, "100.0%"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, FormatPercentage(tt.ratio))
	}
}
