package features

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/healthflow-ai/platform/pkg/clinical"
	"github.com/healthflow-ai/platform/pkg/common/logger"
	"github.com/healthflow-ai/platform/pkg/common/models"
	"github.com/healthflow-ai/platform/pkg/deid"
)

// Store is the persistence contract for feature vectors and extracted
// entities.
type Store interface {
	Get(ctx context.Context, pseudoID, encounterID, version string) (models.FeatureVector, error)
	Insert(ctx context.Context, v models.FeatureVector) error
	LatestByPatient(ctx context.Context, pseudoID, version string) (models.FeatureVector, error)
	SaveEntities(ctx context.Context, pseudoID, encounterID string, entities []models.Entity) error
	Stats(ctx context.Context, version string) (models.FeatureStats, error)
}

// Identities resolves pseudonymous ids back to the de-identified record. The
// extractor only sees the generalized demographics, never raw identifiers.
type Identities interface {
	GetByPseudoID(ctx context.Context, pseudoID string) (models.PseudonymousPatient, error)
}

// Clinical supplies the structured source records keyed by original id.
type Clinical interface {
	Encounters(ctx context.Context, patientID string) ([]models.Encounter, error)
	LatestObservation(ctx context.Context, patientID, code string) (models.Observation, error)
	Conditions(ctx context.Context, patientID string) ([]models.Condition, error)
	Notes(ctx context.Context, patientID string) ([]models.ClinicalNote, error)
	MedicationCount(ctx context.Context, patientID string) (int, error)
	ProcedureCount(ctx context.Context, patientID string) (int, error)
}

// TextAnalyzer turns one note into entities and scores.
type TextAnalyzer interface {
	Analyze(text string) models.TextAnalysis
}

var ErrPatientNotFound = errors.New("pseudonymous patient not found")

type Options struct {
	Version string
	Codes   CodeDictionary
	Now     func() time.Time
}

type Service struct {
	store      Store
	identities Identities
	clinical   Clinical
	analyzer   TextAnalyzer
	cache      *Cache
	opts       Options
}

func NewService(store Store, identities Identities, clinical Clinical, analyzer TextAnalyzer, cache *Cache, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Version == "" {
		opts.Version = "v1.0"
	}
	if len(opts.Codes.VitalCodes) == 0 && len(opts.Codes.LabCodes) == 0 {
		opts.Codes = DefaultCodes()
	}
	return &Service{store: store, identities: identities, clinical: clinical, analyzer: analyzer, cache: cache, opts: opts}
}

// Extract computes (or returns the existing) feature vector for one patient
// and optional target encounter. The operation is idempotent per
// (patient, encounter, schema version).
func (s *Service) Extract(ctx context.Context, pseudoID, encounterID string) (models.FeatureVector, error) {
	identity, err := s.identities.GetByPseudoID(ctx, pseudoID)
	if err != nil {
		if errors.Is(err, deid.ErrPatientNotFound) {
			return models.FeatureVector{}, ErrPatientNotFound
		}
		return models.FeatureVector{}, err
	}

	existing, err := s.store.Get(ctx, pseudoID, encounterID, s.opts.Version)
	if err == nil {
		logger.Log.WithFields(map[string]interface{}{
			"pseudo_id":    pseudoID,
			"encounter_id": encounterID,
		}).Info("reusing existing feature vector")
		return existing, nil
	}
	if !errors.Is(err, ErrVectorNotFound) {
		return models.FeatureVector{}, err
	}

	originalID := identity.OriginalID
	vector := models.FeatureVector{
		ID:              uuid.New(),
		PseudoPatientID: pseudoID,
		EncounterID:     encounterID,
		FeatureVersion:  s.opts.Version,
		ComputedAt:      s.opts.Now().UTC(),
	}

	s.extractDemographics(&vector, identity)

	if err := s.extractEncounterFeatures(ctx, &vector, originalID, encounterID); err != nil {
		return models.FeatureVector{}, err
	}
	if err := s.extractObservations(ctx, &vector, originalID); err != nil {
		return models.FeatureVector{}, err
	}
	if err := s.extractDiagnoses(ctx, &vector, originalID); err != nil {
		return models.FeatureVector{}, err
	}
	entities, err := s.extractNotes(ctx, &vector, originalID)
	if err != nil {
		return models.FeatureVector{}, err
	}
	if err := s.extractCounts(ctx, &vector, originalID); err != nil {
		return models.FeatureVector{}, err
	}
	s.computeComorbidityIndices(&vector)

	if err := s.store.Insert(ctx, vector); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return s.store.Get(ctx, pseudoID, encounterID, s.opts.Version)
		}
		return models.FeatureVector{}, err
	}
	if err := s.store.SaveEntities(ctx, pseudoID, encounterID, entities); err != nil {
		return models.FeatureVector{}, err
	}

	s.cache.Put(ctx, pseudoID, s.opts.Version, ModelInput(vector))

	logger.Log.WithFields(map[string]interface{}{
		"pseudo_id":       pseudoID,
		"encounter_id":    encounterID,
		"feature_version": s.opts.Version,
		"entities":        len(entities),
	}).Info("feature vector computed")

	return vector, nil
}

// BatchExtract processes patients sequentially with per-item failure
// isolation.
func (s *Service) BatchExtract(ctx context.Context, pseudoIDs []string) ([]models.FeatureVector, models.BatchResult) {
	vectors := make([]models.FeatureVector, 0, len(pseudoIDs))
	batch := models.BatchResult{TotalProcessed: len(pseudoIDs), Errors: []models.BatchError{}}

	for _, pseudoID := range pseudoIDs {
		vector, err := s.Extract(ctx, pseudoID, "")
		if err != nil {
			logger.Log.WithError(err).WithField("pseudo_id", pseudoID).Error("batch feature extraction item failed")
			batch.Failed++
			batch.Errors = append(batch.Errors, models.BatchError{ID: pseudoID, Error: err.Error()})
			continue
		}
		batch.Successful++
		vectors = append(vectors, vector)
	}

	return vectors, batch
}

// ModelInputFor returns the model-input projection for a patient's latest
// vector, served from the cache when warm.
func (s *Service) ModelInputFor(ctx context.Context, pseudoID string) (map[string]float64, error) {
	if input, ok := s.cache.Get(ctx, pseudoID, s.opts.Version); ok {
		return input, nil
	}
	vector, err := s.store.LatestByPatient(ctx, pseudoID, s.opts.Version)
	if err != nil {
		return nil, err
	}
	input := ModelInput(vector)
	s.cache.Put(ctx, pseudoID, s.opts.Version, input)
	return input, nil
}

func (s *Service) Latest(ctx context.Context, pseudoID string) (models.FeatureVector, error) {
	return s.store.LatestByPatient(ctx, pseudoID, s.opts.Version)
}

func (s *Service) Stats(ctx context.Context) (models.FeatureStats, error) {
	return s.store.Stats(ctx, s.opts.Version)
}

// extractDemographics recovers a working age from the generalized age group:
// the bucket midpoint, or edge+2 for the open-ended bucket.
func (s *Service) extractDemographics(v *models.FeatureVector, identity models.PseudonymousPatient) {
	if age, ok := ageFromGroup(identity.AgeGroup); ok {
		v.AgeAtAdmission = &age
	}
	if identity.Gender != "" {
		encoded := encodeGender(identity.Gender)
		v.GenderEncoded = &encoded
	}
}

func ageFromGroup(group string) (int, bool) {
	if low, high, ok := strings.Cut(group, "-"); ok {
		lowN, err1 := strconv.Atoi(low)
		highN, err2 := strconv.Atoi(high)
		if err1 != nil || err2 != nil {
			return 0, false
		}
		return (lowN + highN) / 2, true
	}
	if edge, ok := strings.CutSuffix(group, "+"); ok {
		n, err := strconv.Atoi(edge)
		if err != nil {
			return 0, false
		}
		return n + 2, true
	}
	return 0, false
}

func encodeGender(gender string) int {
	switch strings.ToLower(gender) {
	case "male":
		return 0
	case "female":
		return 1
	case "other":
		return 2
	default:
		return 3
	}
}

func (s *Service) extractEncounterFeatures(ctx context.Context, v *models.FeatureVector, originalID, encounterID string) error {
	encounters, err := s.clinical.Encounters(ctx, originalID)
	if err != nil {
		return err
	}
	if len(encounters) == 0 {
		return nil
	}

	target := encounters[0]
	if encounterID != "" {
		for _, enc := range encounters {
			if enc.EncounterID == encounterID {
				target = enc
				break
			}
		}
	}

	if target.PeriodStart != nil && target.PeriodEnd != nil {
		los := int(target.PeriodEnd.Sub(*target.PeriodStart).Hours() / 24)
		v.LengthOfStay = &los
	}

	v.DischargeDisposition = target.DischargeDisposition
	if target.DischargeDisposition != "" {
		toHome := strings.Contains(strings.ToLower(target.DischargeDisposition), "home")
		v.DischargeToHome = &toHome
	}

	if target.PeriodStart != nil {
		ref := *target.PeriodStart
		count30, count90, count365 := 0, 0, 0
		for _, enc := range encounters {
			if enc.PeriodEnd == nil || !enc.PeriodEnd.Before(ref) {
				continue
			}
			days := int(ref.Sub(*enc.PeriodEnd).Hours() / 24)
			if days <= 30 {
				count30++
			}
			if days <= 90 {
				count90++
			}
			if days <= 365 {
				count365++
			}
		}
		v.PreviousAdmissions30d = &count30
		v.PreviousAdmissions90d = &count90
		v.PreviousAdmissions365d = &count365
	}

	return nil
}

// extractObservations pulls the latest value per configured vital and lab
// code. Patients with no observation for a code leave the field unset.
func (s *Service) extractObservations(ctx context.Context, v *models.FeatureVector, originalID string) error {
	set := func(name string, value float64) {
		switch name {
		case "heart_rate":
			v.HeartRateLast = &value
		case "blood_pressure_systolic":
			v.BloodPressureSystolicLast = &value
		case "blood_pressure_diastolic":
			v.BloodPressureDiastolicLast = &value
		case "respiratory_rate":
			v.RespiratoryRateLast = &value
		case "temperature":
			v.TemperatureLast = &value
		case "oxygen_saturation":
			v.OxygenSaturationLast = &value
		case "hemoglobin":
			v.HemoglobinLast = &value
		case "creatinine":
			v.CreatinineLast = &value
		case "sodium":
			v.SodiumLast = &value
		case "potassium":
			v.PotassiumLast = &value
		case "glucose":
			v.GlucoseLast = &value
		case "wbc_count":
			v.WBCCountLast = &value
		}
	}

	lookup := func(codes map[string]string) error {
		for code, name := range codes {
			obs, err := s.clinical.LatestObservation(ctx, originalID, code)
			if err != nil {
				if errors.Is(err, clinical.ErrRecordNotFound) {
					continue
				}
				return err
			}
			if obs.ValueQuantity != nil {
				set(name, *obs.ValueQuantity)
			}
		}
		return nil
	}

	if err := lookup(s.opts.Codes.VitalCodes); err != nil {
		return err
	}
	return lookup(s.opts.Codes.LabCodes)
}

func (s *Service) extractDiagnoses(ctx context.Context, v *models.FeatureVector, originalID string) error {
	conditions, err := s.clinical.Conditions(ctx, originalID)
	if err != nil {
		return err
	}

	count := len(conditions)
	v.DiagnosisCount = &count
	if count > 0 {
		v.PrimaryDiagnosisCode = conditions[0].Code
	}

	hasPrefix := func(prefixes []string) bool {
		for _, cond := range conditions {
			if cond.Code == "" {
				continue
			}
			for _, prefix := range prefixes {
				if strings.HasPrefix(cond.Code, prefix) {
					return true
				}
			}
		}
		return false
	}

	comorbidities := s.opts.Codes.ComorbidityCodes
	v.HasDiabetes = hasPrefix(comorbidities["diabetes"])
	v.HasHypertension = hasPrefix(comorbidities["hypertension"])
	v.HasHeartFailure = hasPrefix(comorbidities["heart_failure"])
	v.HasCOPD = hasPrefix(comorbidities["copd"])
	v.HasCKD = hasPrefix(comorbidities["ckd"])
	v.HasCancer = hasPrefix(comorbidities["cancer"])

	return nil
}

// extractNotes runs the text analyzer over every note, averaging scores and
// summing mention counts. Patients without notes keep the NLP fields unset.
func (s *Service) extractNotes(ctx context.Context, v *models.FeatureVector, originalID string) ([]models.Entity, error) {
	notes, err := s.clinical.Notes(ctx, originalID)
	if err != nil {
		return nil, err
	}
	if len(notes) == 0 {
		return nil, nil
	}

	var allEntities []models.Entity
	var sentimentSum, urgencySum, complexitySum float64
	analyzed := 0
	totalEntities, totalMedications, totalSymptoms := 0, 0, 0

	for _, note := range notes {
		if note.NoteText == "" {
			continue
		}
		analysis := s.analyzer.Analyze(note.NoteText)
		analyzed++
		sentimentSum += analysis.SentimentScore
		urgencySum += analysis.UrgencyScore
		complexitySum += analysis.ComplexityScore
		totalEntities += len(analysis.Entities)
		totalMedications += analysis.MedicationMentions
		totalSymptoms += analysis.SymptomMentions
		allEntities = append(allEntities, analysis.Entities...)
	}

	if analyzed == 0 {
		return nil, nil
	}

	sentiment := sentimentSum / float64(analyzed)
	urgency := urgencySum / float64(analyzed)
	complexity := complexitySum / float64(analyzed)
	v.NLPSentimentScore = &sentiment
	v.NLPUrgencyScore = &urgency
	v.NLPComplexityScore = &complexity
	v.NLPEntitiesCount = &totalEntities
	v.NLPMedicationMentions = &totalMedications
	v.NLPSymptomMentions = &totalSymptoms

	return allEntities, nil
}

func (s *Service) extractCounts(ctx context.Context, v *models.FeatureVector, originalID string) error {
	medications, err := s.clinical.MedicationCount(ctx, originalID)
	if err != nil {
		return err
	}
	procedures, err := s.clinical.ProcedureCount(ctx, originalID)
	if err != nil {
		return err
	}
	v.MedicationCount = &medications
	v.ProcedureCount = &procedures
	return nil
}

// computeComorbidityIndices derives the weighted comorbidity index (diabetes,
// heart failure and COPD weigh 1, CKD and cancer weigh 2, plus an age
// adjustment from 50 up) and the secondary condition-burden score.
func (s *Service) computeComorbidityIndices(v *models.FeatureVector) {
	score := 0
	if v.HasDiabetes {
		score++
	}
	if v.HasHeartFailure {
		score++
	}
	if v.HasCOPD {
		score++
	}
	if v.HasCKD {
		score += 2
	}
	if v.HasCancer {
		score += 2
	}
	if v.AgeAtAdmission != nil && *v.AgeAtAdmission >= 50 {
		score += (*v.AgeAtAdmission - 40) / 10
	}
	index := float64(score)
	v.CharlsonComorbidityIdx = &index

	burden := 0.0
	if v.DiagnosisCount != nil {
		burden = float64(*v.DiagnosisCount)
	}
	v.ConditionBurdenScore = &burden
}
