package domain

import (
	"math"
	"strconv"
	"strings"
	"unicode"
)

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// ParsePriority maps free-form model output onto the priority scale.
func ParsePriority(raw string) (Priority, bool) {
	switch Priority(strings.ToLower(strings.TrimSpace(raw))) {
	case PriorityLow:
		return PriorityLow, true
	case PriorityMedium:
		return PriorityMedium, true
	case PriorityHigh:
		return PriorityHigh, true
	case PriorityCritical:
		return PriorityCritical, true
	default:
		return "", false
	}
}

type Language string

const (
	LanguageEnglish   Language = "English"
	LanguageMalayalam Language = "Malayalam"
	LanguageMixed     Language = "Mixed"
)

func ParseLanguage(raw string) (Language, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "english":
		return LanguageEnglish, true
	case "malayalam":
		return LanguageMalayalam, true
	case "mixed":
		return LanguageMixed, true
	default:
		return "", false
	}
}

type ActionItem struct {
	Task           string   `json:"task" jsonschema:"description=Concrete action that someone has to perform"`
	Description    string   `json:"description,omitempty"`
	Priority       Priority `json:"priority,omitempty" jsonschema:"enum=low,enum=medium,enum=high,enum=critical"`
	Deadline       string   `json:"deadline,omitempty" jsonschema:"description=ISO 8601 date when known"`
	Department     string   `json:"department,omitempty"`
	Assignee       string   `json:"assignee,omitempty"`
	Category       string   `json:"category,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	EstimatedHours *float64 `json:"estimatedHours,omitempty"`
}

type Summary struct {
	ExecutiveSummary string       `json:"executiveSummary"`
	KeyPoints        []string     `json:"keyPoints"`
	ActionItems      []ActionItem `json:"actionItems"`
	ComplianceItems  []string     `json:"complianceItems"`
	RiskFactors      []string     `json:"riskFactors"`
	Recommendations  []string     `json:"recommendations"`
	Categories       []string     `json:"categories"`
	Confidence       string       `json:"confidence"`
	Language         Language     `json:"language"`
	DocumentType     string       `json:"documentType"`
	UrgencyLevel     Priority     `json:"urgencyLevel"`
}

const (
	FallbackConfidence      = "30"
	DefaultConfidence       = "50"
	DefaultDocumentType     = "General Document"
	fallbackExecutivePrefix = 300
)

// FallbackSummary builds the degraded summary used when the model call or
// its response parsing fails. The executive summary is the raw response
// truncated to 300 characters, never re-summarized.
func FallbackSummary(rawResponse string) Summary {
	executive := rawResponse
	truncated := false
	if runes := []rune(rawResponse); len(runes) > fallbackExecutivePrefix {
		executive = string(runes[:fallbackExecutivePrefix])
		truncated = true
	}
	executive = strings.TrimRightFunc(executive, unicode.IsSpace)
	switch {
	case strings.TrimSpace(executive) == "":
		executive = "Automated analysis was unavailable for this document."
	case truncated:
		executive += "..."
	}
	return Summary{
		ExecutiveSummary: executive,
		KeyPoints:        []string{"Automated analysis was unavailable; manual review required"},
		ActionItems:      []ActionItem{},
		ComplianceItems:  []string{},
		RiskFactors:      []string{},
		Recommendations:  []string{"Review the document manually"},
		Categories:       []string{"General"},
		Confidence:       FallbackConfidence,
		Language:         LanguageEnglish,
		DocumentType:     DefaultDocumentType,
		UrgencyLevel:     PriorityMedium,
	}
}

// Normalize fills every absent field with its default so that no field is
// null once serialized.
func (s *Summary) Normalize() {
	if s.KeyPoints == nil {
		s.KeyPoints = []string{}
	}
	if s.ActionItems == nil {
		s.ActionItems = []ActionItem{}
	}
	if s.ComplianceItems == nil {
		s.ComplianceItems = []string{}
	}
	if s.RiskFactors == nil {
		s.RiskFactors = []string{}
	}
	if s.Recommendations == nil {
		s.Recommendations = []string{}
	}
	if s.Categories == nil {
		s.Categories = []string{}
	}
	s.Confidence = normalizeConfidence(s.Confidence)
	if lang, ok := ParseLanguage(string(s.Language)); ok {
		s.Language = lang
	} else {
		s.Language = LanguageEnglish
	}
	if strings.TrimSpace(s.DocumentType) == "" {
		s.DocumentType = DefaultDocumentType
	}
	if urgency, ok := ParsePriority(string(s.UrgencyLevel)); ok {
		s.UrgencyLevel = urgency
	} else {
		s.UrgencyLevel = PriorityMedium
	}
	for i := range s.ActionItems {
		if p, ok := ParsePriority(string(s.ActionItems[i].Priority)); ok {
			s.ActionItems[i].Priority = p
		} else {
			s.ActionItems[i].Priority = ""
		}
	}
}

// normalizeConfidence clamps a numeric confidence to 0..100. Anything that
// is not a number becomes DefaultConfidence.
func normalizeConfidence(raw string) string {
	trimmed := strings.TrimSuffix(strings.TrimSpace(raw), "%")
	value, err := strconv.ParseFloat(strings.TrimSpace(trimmed), 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return DefaultConfidence
	}
	value = math.Max(0, math.Min(100, value))
	return strconv.FormatFloat(value, 'f', -1, 64)
}
