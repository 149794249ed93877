package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name:  "bare object",
			input: `{"score": 0.8}`,
			want:  `{"score": 0.8}`,
		},
		{
			name:  "json fence",
			input: "```json\n{\"score\": 0.8}\n```",
			want:  `{"score": 0.8}`,
		},
		{
			name:  "plain fence",
			input: "```\n{\"score\": 0.8}\n```",
			want:  `{"score": 0.8}`,
		},
		{
			name:  "prose around the object",
			input: "Here is my evaluation:\n{\"score\": 0.8}\nLet me know if you need more.",
			want:  `{"score": 0.8}`,
		},
		{
			name:  "nested braces span first to last",
			input: `{"outer": {"inner": 1}}`,
			want:  `{"outer": {"inner": 1}}`,
		},
		{
			name:    "no object at all",
			input:   "I cannot evaluate this.",
			wantErr: true,
		},
		{
			name:    "empty response",
			input:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseObject(t *testing.T) {
	var parsed struct {
		Score  float64 `json:"score"`
		Passed bool    `json:"passed"`
	}

	err := ParseObject("```json\n{\"score\": 0.7, \"passed\": true}\n```", &parsed)

	require.NoError(t, err)
	assert.Equal(t, 0.7, parsed.Score)
	assert.True(t, parsed.Passed)
}

func TestParseObject_MalformedJSON(t *testing.T) {
	var parsed map[string]any
	err := ParseObject(`{"score": not-a-number}`, &parsed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse model response")
}
