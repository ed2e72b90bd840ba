package nlp

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/healthflow-ai/platform/pkg/common/models"
)

const (
	EntityMedication = "MEDICATION"
	EntitySymptom    = "SYMPTOM"
	EntityCondition  = "CONDITION"

	nerConfidence        = 0.85
	medicationConfidence = 0.75
	symptomConfidence    = 0.7

	negationLookback = 50
)

// Analyzer extracts entities and scalar scores from clinical free text. It is
// a pure function of the text: no persistence happens at this layer.
type Analyzer struct {
	medications []*regexp.Regexp
	symptoms    []*regexp.Regexp
	terms       *regexp.Regexp
	negations   []*regexp.Regexp
	lexicon     Lexicon
}

func NewAnalyzer(lex Lexicon) (*Analyzer, error) {
	a := &Analyzer{lexicon: lex}

	for _, pattern := range lex.MedicationPatterns {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, fmt.Errorf("medication pattern %q: %w", pattern, err)
		}
		a.medications = append(a.medications, re)
	}
	for _, pattern := range lex.SymptomPatterns {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, fmt.Errorf("symptom pattern %q: %w", pattern, err)
		}
		a.symptoms = append(a.symptoms, re)
	}
	for _, cue := range lex.NegationCues {
		re, err := regexp.Compile("(?i)" + cue)
		if err != nil {
			return nil, fmt.Errorf("negation cue %q: %w", cue, err)
		}
		a.negations = append(a.negations, re)
	}
	if len(lex.ClinicalTerms) > 0 {
		escaped := make([]string, 0, len(lex.ClinicalTerms))
		for _, term := range lex.ClinicalTerms {
			escaped = append(escaped, regexp.QuoteMeta(term))
		}
		re, err := regexp.Compile(`(?i)\b(` + strings.Join(escaped, "|") + `)\b`)
		if err != nil {
			return nil, fmt.Errorf("clinical terms: %w", err)
		}
		a.terms = re
	}

	return a, nil
}

// Analyze runs the full pipeline: entity extraction with negation flags,
// deduplication, and the four scalar scores. Mention counts are taken before
// deduplication.
func (a *Analyzer) Analyze(text string) models.TextAnalysis {
	var entities []models.Entity
	medicationMentions := 0
	symptomMentions := 0

	if a.terms != nil {
		for _, match := range a.terms.FindAllStringIndex(text, -1) {
			entities = append(entities, models.Entity{
				Type:       EntityCondition,
				Text:       text[match[0]:match[1]],
				Start:      match[0],
				End:        match[1],
				Confidence: nerConfidence,
				Source:     "ner",
			})
		}
	}

	for _, re := range a.medications {
		for _, match := range re.FindAllStringIndex(text, -1) {
			medicationMentions++
			entities = append(entities, models.Entity{
				Type:       EntityMedication,
				Text:       text[match[0]:match[1]],
				Start:      match[0],
				End:        match[1],
				Confidence: medicationConfidence,
				Source:     "pattern",
			})
		}
	}

	for _, re := range a.symptoms {
		for _, match := range re.FindAllStringIndex(text, -1) {
			symptomMentions++
			entities = append(entities, models.Entity{
				Type:       EntitySymptom,
				Text:       text[match[0]:match[1]],
				Start:      match[0],
				End:        match[1],
				Confidence: symptomConfidence,
				Negated:    a.isNegated(text, match[0]),
				Source:     "pattern",
			})
		}
	}

	sort.SliceStable(entities, func(i, j int) bool { return entities[i].Start < entities[j].Start })

	deduped := dedupeEntities(entities)

	return models.TextAnalysis{
		Entities:           deduped,
		SentimentScore:     a.sentiment(text),
		UrgencyScore:       a.urgency(text),
		ComplexityScore:    a.complexity(text, len(deduped)),
		MedicationMentions: medicationMentions,
		SymptomMentions:    symptomMentions,
	}
}

// isNegated reports whether a negation cue appears within the lookback window
// immediately before the match.
func (a *Analyzer) isNegated(text string, position int) bool {
	start := position - negationLookback
	if start < 0 {
		start = 0
	}
	context := text[start:position]
	for _, re := range a.negations {
		if re.MatchString(context) {
			return true
		}
	}
	return false
}

func dedupeEntities(entities []models.Entity) []models.Entity {
	seen := make(map[string]struct{}, len(entities))
	unique := make([]models.Entity, 0, len(entities))
	for _, ent := range entities {
		key := strings.ToLower(ent.Text) + "\x00" + ent.Type
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, ent)
	}
	return unique
}

// sentiment is the ratio of positive lexicon hits to all lexicon hits;
// neutral 0.5 when the text carries no sentiment terms.
func (a *Analyzer) sentiment(text string) float64 {
	lower := strings.ToLower(text)
	positive := 0
	negative := 0
	for _, term := range a.lexicon.PositiveTerms {
		if strings.Contains(lower, term) {
			positive++
		}
	}
	for _, term := range a.lexicon.NegativeTerms {
		if strings.Contains(lower, term) {
			negative++
		}
	}
	total := positive + negative
	if total == 0 {
		return 0.5
	}
	return float64(positive) / float64(total)
}

// urgency averages keyword tier weights (high 1.0, medium 0.5, low 0.1) over
// all urgency keyword hits; 0.3 when no keyword matches.
func (a *Analyzer) urgency(text string) float64 {
	lower := strings.ToLower(text)
	high := countContained(lower, a.lexicon.UrgencyHigh)
	medium := countContained(lower, a.lexicon.UrgencyMedium)
	low := countContained(lower, a.lexicon.UrgencyLow)

	total := high + medium + low
	if total == 0 {
		return 0.3
	}
	score := float64(high)*1.0 + float64(medium)*0.5 + float64(low)*0.1
	return math.Min(score/float64(total), 1.0)
}

// complexity combines entity density, text length and long-word density,
// each capped at 1.0; weights sum to 1.0.
func (a *Analyzer) complexity(text string, entityCount int) float64 {
	words := strings.Fields(text)
	wordCount := len(words)
	longWords := 0
	for _, word := range words {
		if len(strings.Trim(word, ".,;:!?()")) > 8 {
			longWords++
		}
	}
	termDensity := 0.0
	if wordCount > 0 {
		termDensity = float64(longWords) / float64(wordCount)
	}

	entityPart := math.Min(float64(entityCount)/10, 1.0) * 0.4
	lengthPart := math.Min(float64(wordCount)/200, 1.0) * 0.3
	termPart := math.Min(termDensity, 1.0) * 0.3

	return entityPart + lengthPart + termPart
}

func countContained(lower string, terms []string) int {
	count := 0
	for _, term := range terms {
		if strings.Contains(lower, term) {
			count++
		}
	}
	return count
}
