package rag

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"foodlabel-analyzer/internal/ai"
	"foodlabel-analyzer/internal/errs"
)

// Shape selects how an answer text is parsed.
type Shape int

const (
	// ShapeIngredientJSON is an object of ingredient name to analysis.
	ShapeIngredientJSON Shape = iota
	// ShapeCategoryText is free text returned as is.
	ShapeCategoryText
	// ShapeClaimsJSON is an object of claim to verdict.
	ShapeClaimsJSON
)

// NotFoundMarker prefixes analyses the model wrote from general knowledge.
const NotFoundMarker = "(NOT FOUND IN DOCUMENT)"

// ProcessingLevelNotFound is reported when no group could be determined.
const ProcessingLevelNotFound = "NOT FOUND"

type Item struct {
	Name          string `json:"name"`
	Explanation   string `json:"explanation"`
	FoundInCorpus bool   `json:"found_in_corpus"`
}

type Answer struct {
	Text  string
	Items []Item
	State State
}

// NotFoundInCorpus reports whether any item was answered without the documents.
func (a *Answer) NotFoundInCorpus() bool {
	for _, it := range a.Items {
		if !it.FoundInCorpus {
			return true
		}
	}
	return false
}

// Render formats items as "name: explanation" lines, or returns the raw text.
func (a *Answer) Render() string {
	if len(a.Items) == 0 {
		return a.Text
	}
	var sb strings.Builder
	for _, it := range a.Items {
		sb.WriteString(it.Name)
		sb.WriteString(": ")
		sb.WriteString(it.Explanation)
		sb.WriteString("\n")
	}
	return sb.String()
}

var groupPattern = regexp.MustCompile(`Group [ABC]\b`)

// ProcessingLevel extracts "Group A", "Group B" or "Group C" from a category answer.
func ProcessingLevel(text string) string {
	if g := groupPattern.FindString(text); g != "" {
		return g
	}
	return ProcessingLevelNotFound
}

func parse(text string, shape Shape) (*Answer, error) {
	text = stripFences(text)
	switch shape {
	case ShapeCategoryText:
		return &Answer{Text: text}, nil
	case ShapeClaimsJSON:
		if text == "" {
			return &Answer{}, nil
		}
		items, err := decodeOrdered(text, claimItem)
		if err != nil {
			return nil, err
		}
		return &Answer{Text: text, Items: items}, nil
	case ShapeIngredientJSON:
		items, err := decodeOrdered(text, ingredientItem)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			return nil, fmt.Errorf("%w: empty ingredient analysis", errs.ErrResponseFormat)
		}
		return &Answer{Text: text, Items: items}, nil
	default:
		return nil, fmt.Errorf("unknown answer shape %d", shape)
	}
}

// decodeOrdered walks a JSON object keeping the key order of the document.
func decodeOrdered(text string, item func(name string, raw json.RawMessage) (Item, error)) ([]Item, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrResponseFormat, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("%w: expected a JSON object", errs.ErrResponseFormat)
	}

	var items []Item
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrResponseFormat, err)
		}
		name, _ := tok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("%w: value of %q: %v", errs.ErrResponseFormat, name, err)
		}
		it, err := item(name, raw)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrResponseFormat, err)
	}
	return items, nil
}

type ingredientValue struct {
	Analysis        string `json:"analysis"`
	FoundInDocument *bool  `json:"found_in_document"`
}

func ingredientItem(name string, raw json.RawMessage) (Item, error) {
	var legacy string
	if err := json.Unmarshal(raw, &legacy); err == nil {
		explanation, found := splitMarker(legacy)
		return Item{Name: name, Explanation: explanation, FoundInCorpus: found}, nil
	}

	var v ingredientValue
	if err := json.Unmarshal(raw, &v); err != nil {
		return Item{}, fmt.Errorf("%w: analysis of %q is neither text nor an object", errs.ErrResponseFormat, name)
	}
	explanation, found := splitMarker(v.Analysis)
	if v.FoundInDocument != nil {
		found = found && *v.FoundInDocument
	}
	return Item{Name: name, Explanation: explanation, FoundInCorpus: found}, nil
}

func claimItem(name string, raw json.RawMessage) (Item, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return Item{Name: name, Explanation: s, FoundInCorpus: true}, nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return Item{}, fmt.Errorf("%w: verdict of %q: %v", errs.ErrResponseFormat, name, err)
	}
	return Item{Name: name, Explanation: buf.String(), FoundInCorpus: true}, nil
}

func splitMarker(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, NotFoundMarker) {
		return strings.TrimSpace(strings.TrimPrefix(s, NotFoundMarker)), false
	}
	return s, true
}

func stripAnnotations(text string, annotations []ai.Annotation) string {
	for _, a := range annotations {
		if a.Text != "" {
			text = strings.ReplaceAll(text, a.Text, "")
		}
	}
	return text
}

// stripFences removes a surrounding ```json ... ``` block.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[i+1:]
	} else {
		text = strings.TrimPrefix(text, "json")
	}
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
