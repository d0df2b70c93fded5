// hintline/helpers_parse.go
// Contains prompt construction and remote response parsing.
package hintline

import (
	"encoding/json"
	"fmt"
	"strings"
)

// buildPrompt renders the completion prompt for a context. The instruction
// block pins the output shape: maxSuggestions completions, one per line,
// nothing else.
func buildPrompt(cctx CompletionContext, maxSuggestions int) string {
	if maxSuggestions <= 0 {
		maxSuggestions = defaultMaxSuggestions
	}
	language := cctx.Language
	if language == "" {
		language = "plaintext"
	}
	fileName := cctx.FileName
	if fileName == "" {
		fileName = "(unnamed)"
	}
	return fmt.Sprintf(promptTemplate, language, fileName, cctx.Before, cctx.After, maxSuggestions)
}

// ParseSuggestions converts a raw generateContent response body into an
// ordered suggestion list of at most maxSuggestions entries.
//
// Only the first candidate's first text part is considered. Blank lines and
// lines that are literally one of the prompt template's markers are dropped
// so a model echoing the template never surfaces as a suggestion. Zero lines
// after filtering is ErrEmptyResult, never an empty success; the caller maps
// it to the fallback path.
func ParseSuggestions(body []byte, maxSuggestions int) ([]Suggestion, error) {
	if maxSuggestions <= 0 {
		maxSuggestions = defaultMaxSuggestions
	}

	var resp remoteResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("%w: response has no candidates", ErrEmptyResult)
	}
	parts := resp.Candidates[0].Content.Parts
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: first candidate has no content parts", ErrEmptyResult)
	}
	text := parts[0].Text
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: candidate text is blank", ErrEmptyResult)
	}

	suggestions := make([]Suggestion, 0, maxSuggestions)
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || isPromptMarker(trimmed) {
			continue
		}
		suggestions = append(suggestions, makeSuggestion(trimmed))
		if len(suggestions) == maxSuggestions {
			break
		}
	}
	if len(suggestions) == 0 {
		return nil, fmt.Errorf("%w: no usable lines after filtering", ErrEmptyResult)
	}
	return suggestions, nil
}

// isPromptMarker reports whether a trimmed line is one of the literal
// formatting markers used by the prompt template.
func isPromptMarker(line string) bool {
	for _, marker := range promptMarkers {
		if line == marker {
			return true
		}
	}
	return false
}
