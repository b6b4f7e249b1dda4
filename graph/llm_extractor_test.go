package graph

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/lexgraph/llm/llmtest"
)

func TestLLMExtractorParsesReply(t *testing.T) {
	chat := llmtest.NewChat("```json\n" + `{
		"entities": [
			{"name": "ARTICLE 5", "type": "article"},
			{"name": "Fine", "type": "Penalty"},
			{"name": "Acme Corp", "type": "Organization"},
			{"name": "reporting duty", "type": "duty"}
		],
		"relations": [
			{"source": "article 5", "target": "fine", "relation": "Imposes"},
			{"source": "fine", "target": "nobody", "relation": "applies to"},
			{"source": "Acme Corp", "target": "Acme Corp", "relation": "is"}
		]
	}` + "\n```")

	ex, err := NewLLMExtractor(chat, nil).Extract(context.Background(), "Article 5 imposes a fine on Acme Corp.")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"Article:Article 5",
		"Penalty:fine",
		"Organization:Acme Corp",
		"Concept:reporting duty",
	}, labels(ex.Mentions))
	require.Len(t, ex.Relations, 1)
	assert.Equal(t, Relation{
		Source:   NodeKey{"Article 5", TypeArticle},
		Target:   NodeKey{"fine", TypePenalty},
		Relation: "imposes",
	}, ex.Relations[0])

	prompt := chat.LastPrompt()
	assert.Contains(t, prompt, "HINTS")
	assert.Contains(t, prompt, "Article 5 (Article)")
	assert.Equal(t, "json_object", chat.Requests()[0].ResponseFormat)
}

func TestLLMExtractorFallsBackToPatterns(t *testing.T) {
	for name, chat := range map[string]*llmtest.Chat{
		"chat error": {Err: errors.New("503")},
		"bad reply":  llmtest.NewChat("I cannot help with that."),
		"bad json":   llmtest.NewChat("{not json}"),
	} {
		t.Run(name, func(t *testing.T) {
			ex, err := NewLLMExtractor(chat, nil).Extract(context.Background(), "Article 5 imposes a fine for late filing.")
			require.NoError(t, err)
			assert.Equal(t, []string{"Article:Article 5", "Penalty:fine", "Violation:late filing"}, labels(ex.Mentions))
		})
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{`{"a":1}`, `{"a":1}`, false},
		{"```json\n{\"a\":1}\n```", `{"a":1}`, false},
		{`Here you go: {"a":1} hope it helps`, `{"a":1}`, false},
		{"no json here", "", true},
	}
	for _, tt := range tests {
		got, err := extractJSON(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, strings.TrimSpace(got))
	}
}
