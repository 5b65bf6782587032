package syntax

import (
	"fmt"

	"github.com/pdejuan/gcnl-lite/internal/pipeline"
)

// Assemble builds the response for content from the parser's tokens. The
// whole content is one sentence; a token without head points at itself.
func Assemble(content, language string, tokens []pipeline.Token) (*AnalysisResponse, error) {
	resp := &AnalysisResponse{
		Sentences: []Sentence{
			{
				Text:      TextSpan{Content: content, BeginOffset: 0},
				Sentiment: Sentiment{Magnitude: 0, Score: 0},
			},
		},
		Tokens:   make([]ResponseToken, 0, len(tokens)),
		Language: language,
	}

	for idx, token := range tokens {
		pos, err := ParseAttributes(token.Tag)
		if err != nil {
			return nil, fmt.Errorf("token %d (%q): %w", idx, token.Word, err)
		}

		head := token.Head
		if head < 0 {
			head = idx
		}

		resp.Tokens = append(resp.Tokens, ResponseToken{
			Text: TextSpan{
				Content:     token.Word,
				BeginOffset: token.Start,
			},
			PartOfSpeech: pos,
			DependencyEdge: DependencyEdge{
				HeadTokenIndex: head,
				Label:          token.Label,
			},
			Lemma: "",
		})
	}

	return resp, nil
}
