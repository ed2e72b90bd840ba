package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	ServerPort   string
	ServerHost   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaBrokers []string
	KafkaGroupID string

	// De-identification
	DeidSalt        string
	AgeGroupBins    []int
	AgeMaskCeiling  int
	MaskedBirthYear int
	DLPRulesPath    string

	// Feature extraction
	FeatureVersion  string
	CodesConfigPath string
	LexiconPath     string
	FeatureCacheTTL time.Duration

	// Risk model
	ModelArtifactDir      string
	ModelName             string
	RiskThresholdHigh     float64
	RiskThresholdMedium   float64
	BaseConfidenceMargin  float64
	PredictionHorizonDays int

	// Fairness monitoring
	DemographicParityThreshold float64
	EqualizedOddsThreshold     float64
	DriftThreshold             float64
	ProtectedAttributes        []string
	AuditInterval              time.Duration
}

func Load() *Config {
	return &Config{
		ServerPort:   getEnv("SERVER_PORT", "8080"),
		ServerHost:   getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:  getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout: getDuration("WRITE_TIMEOUT", 30*time.Second),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "healthflow"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "healthflow123"),
		PostgresDB:       getEnv("POSTGRES_DB", "healthflow"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers: getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID: getEnv("KAFKA_GROUP_ID", "healthflow-platform"),

		DeidSalt:        getEnv("DEID_SALT", "healthflow_deid_salt"),
		AgeGroupBins:    getIntSliceEnv("AGE_GROUP_BINS", []int{0, 18, 30, 45, 60, 75, 90}),
		AgeMaskCeiling:  getIntEnv("AGE_MASK_CEILING", 90),
		MaskedBirthYear: getIntEnv("MASKED_BIRTH_YEAR", 1900),
		DLPRulesPath:    getEnv("DLP_RULES_PATH", ""),

		FeatureVersion:  getEnv("FEATURE_VERSION", "v1.0"),
		CodesConfigPath: getEnv("CODES_CONFIG_PATH", ""),
		LexiconPath:     getEnv("LEXICON_PATH", ""),
		FeatureCacheTTL: getDuration("FEATURE_CACHE_TTL", 5*time.Minute),

		ModelArtifactDir:      getEnv("MODEL_ARTIFACT_DIR", "./models"),
		ModelName:             getEnv("MODEL_NAME", "readmission"),
		RiskThresholdHigh:     getFloatEnv("RISK_THRESHOLD_HIGH", 0.7),
		RiskThresholdMedium:   getFloatEnv("RISK_THRESHOLD_MEDIUM", 0.4),
		BaseConfidenceMargin:  getFloatEnv("BASE_CONFIDENCE_MARGIN", 0.1),
		PredictionHorizonDays: getIntEnv("PREDICTION_HORIZON_DAYS", 30),

		DemographicParityThreshold: getFloatEnv("DEMOGRAPHIC_PARITY_THRESHOLD", 0.8),
		EqualizedOddsThreshold:     getFloatEnv("EQUALIZED_ODDS_THRESHOLD", 0.8),
		DriftThreshold:             getFloatEnv("DRIFT_THRESHOLD", 0.1),
		ProtectedAttributes:        getStringSliceEnv("PROTECTED_ATTRIBUTES", []string{"gender", "age_group"}),
		AuditInterval:              getDuration("AUDIT_INTERVAL", 24*time.Hour),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

func getIntSliceEnv(key string, defaultValue []int) []int {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]int, 0, len(parts))
		for _, p := range parts {
			n, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil {
				return defaultValue
			}
			out = append(out, n)
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
