package modelop

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name          string
		text          string
		charsPerToken float64
		want          int
	}{
		{name: "empty", text: "", charsPerToken: 4.0, want: 0},
		{name: "exact multiple", text: "12345678", charsPerToken: 4.0, want: 2},
		{name: "ceil rounding", text: "123456789", charsPerToken: 4.0, want: 3},
		{name: "single char floors to one token", text: "x", charsPerToken: 4.0, want: 1},
		{name: "zero ratio falls back to default", text: "12345678", charsPerToken: 0, want: 2},
		{name: "negative ratio falls back to default", text: "12345678", charsPerToken: -1, want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EstimateTokens(tt.text, tt.charsPerToken)
			assert.Equal(t, tt.want, got)
		})
	}
}
