package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the .env file specified by CREDENCE_ENV (or .env by default),
// then loads the corresponding .secret file if it exists.
// All config is flat env vars read via os.Getenv after loading.
func Load() error {
	envFile := os.Getenv("CREDENCE_ENV")
	if envFile == "" {
		envFile = ".env"
	}

	// Load main env file (ignore error if file doesn't exist)
	_ = godotenv.Load(envFile)

	// Load secret sidecar if it exists
	_ = godotenv.Load(envFile + ".secret")

	return nil
}

func ServerPort() int {
	port, err := strconv.Atoi(os.Getenv("SERVER_PORT"))
	if err != nil {
		return 8080
	}
	return port
}

func ServerAddr() string {
	return fmt.Sprintf(":%d", ServerPort())
}

func DatabaseURL() string {
	return os.Getenv("DATABASE_URL")
}

// PersistenceDriver selects the storage backend.
// Defaults to "file" if not set. Valid values: postgres, file
func PersistenceDriver() string {
	d := os.Getenv("PERSISTENCE_DRIVER")
	if d == "" {
		return "file"
	}
	return d
}

// DataDir is the root directory for file-backed persistence.
// Defaults to "data" if not set.
func DataDir() string {
	d := os.Getenv("DATA_DIR")
	if d == "" {
		return "data"
	}
	return d
}

// GuardrailRulesPath points at the YAML rule file. Empty means the
// built-in default rule set.
func GuardrailRulesPath() string {
	return os.Getenv("GUARDRAIL_RULES_PATH")
}

// GuardrailChecksumPath points at the reference checksum for the rule
// file. Required whenever GuardrailRulesPath is set.
func GuardrailChecksumPath() string {
	return os.Getenv("GUARDRAIL_CHECKSUM_PATH")
}

// TrustLearningRate returns the source trust smoothing rate.
// Defaults to 0.1 if not set.
func TrustLearningRate() float64 {
	v, err := strconv.ParseFloat(os.Getenv("TRUST_LEARNING_RATE"), 64)
	if err != nil || v <= 0 || v > 1 {
		return 0.1
	}
	return v
}

// DecayLambda returns the per-hour recency decay constant.
// Defaults to 0.01 if not set.
func DecayLambda() float64 {
	v, err := strconv.ParseFloat(os.Getenv("DECAY_LAMBDA"), 64)
	if err != nil || v < 0 {
		return 0.01
	}
	return v
}

// ReplayCapacity returns the replay buffer size.
// Defaults to 128 if not set.
func ReplayCapacity() int {
	v, err := strconv.Atoi(os.Getenv("REPLAY_CAPACITY"))
	if err != nil || v <= 0 {
		return 128
	}
	return v
}

// ReflectEvery returns the reflection cadence in events.
// Defaults to 25 if not set.
func ReflectEvery() int64 {
	v, err := strconv.ParseInt(os.Getenv("REFLECT_EVERY"), 10, 64)
	if err != nil || v <= 0 {
		return 25
	}
	return v
}

// CheckpointEvery returns the checkpoint cadence in events.
// Defaults to 50 if not set.
func CheckpointEvery() int64 {
	v, err := strconv.ParseInt(os.Getenv("CHECKPOINT_EVERY"), 10, 64)
	if err != nil || v <= 0 {
		return 50
	}
	return v
}

// ShadowEvery returns the shadow evaluation cadence in events.
// Defaults to 100 if not set.
func ShadowEvery() int64 {
	v, err := strconv.ParseInt(os.Getenv("SHADOW_EVERY"), 10, 64)
	if err != nil || v <= 0 {
		return 100
	}
	return v
}

// ShadowTimeout bounds one shadow evaluation.
// Defaults to 2s if not set.
func ShadowTimeout() time.Duration {
	v, err := time.ParseDuration(os.Getenv("SHADOW_TIMEOUT"))
	if err != nil || v <= 0 {
		return 2 * time.Second
	}
	return v
}

// SnapshotInterval drives the background time-based snapshot worker.
// Defaults to 10m; zero disables the worker.
func SnapshotInterval() time.Duration {
	raw := os.Getenv("SNAPSHOT_INTERVAL")
	if raw == "" {
		return 10 * time.Minute
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v < 0 {
		return 10 * time.Minute
	}
	return v
}

// DisagreementWarn returns the disagreement ratio above which a subject
// is flagged during reflection. Defaults to 0.3 if not set.
func DisagreementWarn() float64 {
	v, err := strconv.ParseFloat(os.Getenv("DISAGREEMENT_WARN"), 64)
	if err != nil || v <= 0 || v >= 1 {
		return 0.3
	}
	return v
}

// InternalGate returns the completion threshold for internally triggered
// speculation. Defaults to 0.30 if not set.
func InternalGate() float64 {
	v, err := strconv.ParseFloat(os.Getenv("INTERNAL_GATE"), 64)
	if err != nil || v < 0 || v > 1 {
		return 0.30
	}
	return v
}

// ExternalGate returns the completion threshold for externally requested
// predictions. Defaults to 0.05 if not set.
func ExternalGate() float64 {
	v, err := strconv.ParseFloat(os.Getenv("EXTERNAL_GATE"), 64)
	if err != nil || v < 0 || v > 1 {
		return 0.05
	}
	return v
}

// PromotionThreshold returns the independent validations required before
// predicted knowledge may promote. Defaults to 3 if not set.
func PromotionThreshold() int {
	v, err := strconv.Atoi(os.Getenv("PROMOTION_THRESHOLD"))
	if err != nil || v <= 0 {
		return 3
	}
	return v
}

// Contribution score weights. Defaults: alpha 1.0, beta 0.5, gamma 0.25,
// delta 0.25.
func ContributionAlpha() float64 { return floatEnv("CONTRIBUTION_ALPHA", 1.0) }
func ContributionBeta() float64  { return floatEnv("CONTRIBUTION_BETA", 0.5) }
func ContributionGamma() float64 { return floatEnv("CONTRIBUTION_GAMMA", 0.25) }
func ContributionDelta() float64 { return floatEnv("CONTRIBUTION_DELTA", 0.25) }

func floatEnv(key string, def float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil || v < 0 {
		return def
	}
	return v
}

// RateLimitRPS returns requests per second limit.
// Defaults to 100 if not set.
func RateLimitRPS() float64 {
	rps, err := strconv.ParseFloat(os.Getenv("RATE_LIMIT_RPS"), 64)
	if err != nil || rps <= 0 {
		return 100
	}
	return rps
}

// RateLimitBurst returns the burst size for rate limiting.
// Defaults to 20 if not set.
func RateLimitBurst() int {
	burst, err := strconv.Atoi(os.Getenv("RATE_LIMIT_BURST"))
	if err != nil || burst <= 0 {
		return 20
	}
	return burst
}

// LogLevel returns the log level (debug, info, warn, error).
// Defaults to "info" if not set.
func LogLevel() string {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		return "info"
	}
	return level
}
