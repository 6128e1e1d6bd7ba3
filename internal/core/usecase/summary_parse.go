package usecase

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/kirillkom/docintake/internal/core/domain"
)

var fencedJSONPattern = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")

var summaryFields = []string{
	"executiveSummary", "keyPoints", "actionItems", "complianceItems", "riskFactors",
	"recommendations", "categories", "confidence", "language", "documentType", "urgencyLevel",
}

// parseSummaryResponse first looks for a fenced JSON block, then for the
// first balanced top-level object in the text.
func parseSummaryResponse(raw string) (domain.Summary, error) {
	candidate := locateJSONObject(raw)
	if candidate == "" {
		return domain.Summary{}, domain.WrapError(domain.ErrModelResponseUnparseable, "parse summary", errors.New("no json object in response"))
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(candidate), &fields); err != nil {
		return domain.Summary{}, domain.WrapError(domain.ErrModelResponseUnparseable, "parse summary", err)
	}
	if !hasSummaryField(fields) {
		return domain.Summary{}, domain.WrapError(domain.ErrModelResponseUnparseable, "parse summary", errors.New("object has no summary fields"))
	}

	var wire summaryWire
	if err := json.Unmarshal([]byte(candidate), &wire); err != nil {
		return domain.Summary{}, domain.WrapError(domain.ErrModelResponseUnparseable, "parse summary", err)
	}
	summary := wire.toDomain()
	summary.Normalize()
	return summary, nil
}

func locateJSONObject(raw string) string {
	if match := fencedJSONPattern.FindStringSubmatch(raw); match != nil {
		if body := strings.TrimSpace(match[1]); strings.HasPrefix(body, "{") {
			return body
		}
	}
	if span := firstBalancedObject(raw); span != "" {
		return span
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return ""
}

// firstBalancedObject returns the first {...} span whose braces balance,
// ignoring braces inside JSON strings.
func firstBalancedObject(raw string) string {
	start := strings.Index(raw, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1]
			}
		}
	}
	return ""
}

func hasSummaryField(obj map[string]json.RawMessage) bool {
	for _, key := range summaryFields {
		value, ok := obj[key]
		if ok && string(value) != "null" {
			return true
		}
	}
	return false
}

// flexString accepts strings and numbers, as models emit both for confidence.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexString(n.String())
		return nil
	}
	if string(data) == "null" {
		return nil
	}
	return fmt.Errorf("unexpected value %s", data)
}

type flexFloat struct {
	value *float64
}

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		f.value = &n
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			f.value = &parsed
		}
	}
	return nil
}

type flexStrings []string

// UnmarshalJSON keeps string items and drops anything else.
func (f *flexStrings) UnmarshalJSON(data []byte) error {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		var single string
		if err := json.Unmarshal(data, &single); err == nil && single != "" {
			*f = flexStrings{single}
		}
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		var s flexString
		if err := json.Unmarshal(item, &s); err == nil && s != "" {
			out = append(out, string(s))
		}
	}
	*f = out
	return nil
}

type actionItemWire struct {
	Task           flexString  `json:"task"`
	Description    flexString  `json:"description"`
	Priority       flexString  `json:"priority"`
	Deadline       flexString  `json:"deadline"`
	Department     flexString  `json:"department"`
	Assignee       flexString  `json:"assignee"`
	Category       flexString  `json:"category"`
	Tags           flexStrings `json:"tags"`
	EstimatedHours flexFloat   `json:"estimatedHours"`
}

type summaryWire struct {
	ExecutiveSummary flexString       `json:"executiveSummary"`
	KeyPoints        flexStrings      `json:"keyPoints"`
	ActionItems      []actionItemWire `json:"actionItems"`
	ComplianceItems  flexStrings      `json:"complianceItems"`
	RiskFactors      flexStrings      `json:"riskFactors"`
	Recommendations  flexStrings      `json:"recommendations"`
	Categories       flexStrings      `json:"categories"`
	Confidence       flexString       `json:"confidence"`
	Language         flexString       `json:"language"`
	DocumentType     flexString       `json:"documentType"`
	UrgencyLevel     flexString       `json:"urgencyLevel"`
}

func (w summaryWire) toDomain() domain.Summary {
	items := make([]domain.ActionItem, 0, len(w.ActionItems))
	for _, item := range w.ActionItems {
		if strings.TrimSpace(string(item.Task)) == "" {
			continue
		}
		var tags []string
		if item.Tags != nil {
			tags = []string(item.Tags)
		}
		items = append(items, domain.ActionItem{
			Task:           string(item.Task),
			Description:    string(item.Description),
			Priority:       domain.Priority(item.Priority),
			Deadline:       string(item.Deadline),
			Department:     string(item.Department),
			Assignee:       string(item.Assignee),
			Category:       string(item.Category),
			Tags:           tags,
			EstimatedHours: item.EstimatedHours.value,
		})
	}
	return domain.Summary{
		ExecutiveSummary: string(w.ExecutiveSummary),
		KeyPoints:        w.KeyPoints,
		ActionItems:      items,
		ComplianceItems:  w.ComplianceItems,
		RiskFactors:      w.RiskFactors,
		Recommendations:  w.Recommendations,
		Categories:       w.Categories,
		Confidence:       string(w.Confidence),
		Language:         domain.Language(w.Language),
		DocumentType:     string(w.DocumentType),
		UrgencyLevel:     domain.Priority(w.UrgencyLevel),
	}
}
