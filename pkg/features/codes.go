package features

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// CodeDictionary maps clinical codes to feature names. Vitals and labs use
// LOINC observation codes; comorbidities use ICD-10 prefixes.
type CodeDictionary struct {
	VitalCodes       map[string]string   `yaml:"vital_codes"`
	LabCodes         map[string]string   `yaml:"lab_codes"`
	ComorbidityCodes map[string][]string `yaml:"comorbidity_codes"`
}

func LoadCodes(path string) (CodeDictionary, error) {
	if path == "" {
		return DefaultCodes(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return DefaultCodes(), err
	}

	var codes CodeDictionary
	if err := yaml.Unmarshal(content, &codes); err != nil {
		return CodeDictionary{}, err
	}
	if len(codes.VitalCodes) == 0 && len(codes.LabCodes) == 0 {
		return CodeDictionary{}, errors.New("code dictionary has no vital or lab codes")
	}
	return codes, nil
}

func DefaultCodes() CodeDictionary {
	return CodeDictionary{
		VitalCodes: map[string]string{
			"8867-4": "heart_rate",
			"8480-6": "blood_pressure_systolic",
			"8462-4": "blood_pressure_diastolic",
			"9279-1": "respiratory_rate",
			"8310-5": "temperature",
			"2708-6": "oxygen_saturation",
		},
		LabCodes: map[string]string{
			"718-7":  "hemoglobin",
			"2160-0": "creatinine",
			"2951-2": "sodium",
			"2823-3": "potassium",
			"2345-7": "glucose",
			"6690-2": "wbc_count",
		},
		ComorbidityCodes: map[string][]string{
			"diabetes":      {"E10", "E11", "E13"},
			"hypertension":  {"I10", "I11", "I12", "I13"},
			"heart_failure": {"I50"},
			"copd":          {"J44"},
			"ckd":           {"N18"},
			"cancer":        {"C"},
		},
	}
}
