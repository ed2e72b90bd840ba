package nlp

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Lexicon is the pattern and keyword configuration driving text analysis.
// Deployments can override it with a YAML file; DefaultLexicon covers the
// common clinical vocabulary.
type Lexicon struct {
	MedicationPatterns []string `yaml:"medication_patterns"`
	SymptomPatterns    []string `yaml:"symptom_patterns"`
	ClinicalTerms      []string `yaml:"clinical_terms"`
	NegationCues       []string `yaml:"negation_cues"`
	PositiveTerms      []string `yaml:"positive_terms"`
	NegativeTerms      []string `yaml:"negative_terms"`
	UrgencyHigh        []string `yaml:"urgency_high"`
	UrgencyMedium      []string `yaml:"urgency_medium"`
	UrgencyLow         []string `yaml:"urgency_low"`
}

func LoadLexicon(path string) (Lexicon, error) {
	if path == "" {
		return DefaultLexicon(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return DefaultLexicon(), err
	}

	var lex Lexicon
	if err := yaml.Unmarshal(content, &lex); err != nil {
		return DefaultLexicon(), err
	}
	if len(lex.SymptomPatterns) == 0 && len(lex.MedicationPatterns) == 0 {
		return DefaultLexicon(), errors.New("lexicon has no medication or symptom patterns")
	}
	return lex, nil
}

func DefaultLexicon() Lexicon {
	return Lexicon{
		MedicationPatterns: []string{
			`\b(aspirin|ibuprofen|acetaminophen|metformin|lisinopril|atorvastatin|omeprazole|losartan|amlodipine|metoprolol)\b`,
			`\b\w+(azole|mycin|cillin|pril|sartan|statin|prazole|olol|dipine)\b`,
			`\b\d+\s*(mg|ml|mcg|g)\b`,
		},
		SymptomPatterns: []string{
			`\b(pain|fever|cough|dyspnea|nausea|vomiting|diarrhea|fatigue|weakness|dizziness)\b`,
			`\b(headache|chest pain|shortness of breath|difficulty breathing|swelling|edema)\b`,
			`\b(confusion|altered mental status|syncope|palpitations|weight loss|weight gain)\b`,
		},
		ClinicalTerms: []string{
			"pneumonia", "sepsis", "hypertension", "diabetes", "heart failure",
			"atrial fibrillation", "copd", "stroke", "myocardial infarction",
			"anemia", "renal failure", "cirrhosis", "cellulitis",
		},
		NegationCues: []string{
			`no\s+`, `denies?\s+`, `without\s+`, `negative\s+for\s+`, `ruled\s+out\s+`,
		},
		PositiveTerms: []string{
			"improving", "stable", "resolved", "negative", "normal", "good", "well",
		},
		NegativeTerms: []string{
			"worsening", "severe", "critical", "positive", "abnormal", "poor", "failed",
		},
		UrgencyHigh:   []string{"emergency", "urgent", "critical", "severe", "acute", "immediate", "stat"},
		UrgencyMedium: []string{"moderate", "concerning", "worsening", "persistent"},
		UrgencyLow:    []string{"stable", "improving", "chronic", "routine", "follow-up"},
	}
}
