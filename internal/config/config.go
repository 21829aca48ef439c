package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Mode string

const (
	ModeLocal Mode = "local"
	ModeGCP   Mode = "gcp"
)

type Config struct {
	Mode     Mode   `yaml:"mode"`
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	GCPProjectID   string `yaml:"gcp_project"`
	GCPLocation    string `yaml:"gcp_location"`
	GeminiAPIKey   string `yaml:"-"`
	ModelName      string `yaml:"model_name"`
	ScoringModel   string `yaml:"scoring_model"`
	EmbeddingModel string `yaml:"embedding_model"`
	UseMockLLM     bool   `yaml:"use_mock_llm"` // true = use mock even on GCP

	StorageBackend string        `yaml:"storage_backend"` // "memory" or "redis"
	ArchiveBackend string        `yaml:"archive_backend"` // "memory" or "firestore"
	RedisAddr      string        `yaml:"redis_addr"`
	RedisPassword  string        `yaml:"-"`
	RedisDB        int           `yaml:"redis_db"`
	SessionTTL     time.Duration `yaml:"session_ttl"`

	QdrantURL        string `yaml:"qdrant_url"`
	QdrantAPIKey     string `yaml:"-"`
	QdrantCollection string `yaml:"qdrant_collection"`
	RetrievalLimit   int    `yaml:"retrieval_limit"`

	EmotionServiceURL string        `yaml:"emotion_service_url"`
	EmotionAPIKey     string        `yaml:"-"`
	EmotionTimeout    time.Duration `yaml:"emotion_timeout"`

	Interview Interview `yaml:"interview"`
	Turn      Turn      `yaml:"turn"`
	Tasks     Tasks     `yaml:"tasks"`
	Events    Events    `yaml:"events"`

	// mockLLMPinned is set when the config file names use_mock_llm.
	mockLLMPinned bool
}

// Interview holds the orchestrator's operational constants.
type Interview struct {
	MaxQuestions         int           `yaml:"max_questions"`
	FollowUpCap          int           `yaml:"follow_up_cap"`
	EvaluateSoftDeadline time.Duration `yaml:"evaluate_soft_deadline"`
	ModeMinRun           int           `yaml:"mode_min_run"`
	ModeMinConfidence    float64       `yaml:"mode_min_confidence"`
	OffloadEvaluation    bool          `yaml:"offload_evaluation"`
}

// Turn holds the Turn Coordinator thresholds.
type Turn struct {
	GentleSilence    time.Duration `yaml:"gentle_silence"`
	HardSilence      time.Duration `yaml:"hard_silence"`
	SoftTurnDuration time.Duration `yaml:"soft_turn_duration"`
	MaxTurnDuration  time.Duration `yaml:"max_turn_duration"`
}

// Tasks configures the task fabric and its scheduler.
type Tasks struct {
	Broker            string        `yaml:"broker"` // "memory" or "redis"
	WorkersPerLane    int           `yaml:"workers_per_lane"`
	ResultTTL         time.Duration `yaml:"result_ttl"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
	StatsInterval     time.Duration `yaml:"stats_interval"`
	RunInProcess      bool          `yaml:"run_in_process"`
	WorkerMetricsAddr string        `yaml:"worker_metrics_addr"`
}

// Events configures the event bus.
type Events struct {
	Channel     string `yaml:"channel"`
	HistorySize int    `yaml:"history_size"`
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if v == "1" || v == "true" || v == "TRUE" {
		return true
	}
	return false
}

func getIntEnv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getFloatEnv(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Mode:     ModeLocal,
		Port:     "8080",
		LogLevel: "info",

		GCPLocation:    "us-central1",
		ModelName:      "gemini-2.5-flash-lite",
		ScoringModel:   "gemini-2.5-flash",
		EmbeddingModel: "text-embedding-004",
		UseMockLLM:     true,

		StorageBackend: "memory",
		ArchiveBackend: "memory",
		RedisAddr:      "localhost:6379",
		SessionTTL:     24 * time.Hour,

		QdrantCollection: "resumes",
		RetrievalLimit:   3,

		EmotionTimeout: 3 * time.Second,

		Interview: Interview{
			MaxQuestions:         5,
			FollowUpCap:          2,
			EvaluateSoftDeadline: 8 * time.Second,
			ModeMinRun:           2,
			ModeMinConfidence:    0.35,
		},
		Turn: Turn{
			GentleSilence:    8 * time.Second,
			HardSilence:      20 * time.Second,
			SoftTurnDuration: 2 * time.Minute,
			MaxTurnDuration:  3 * time.Minute,
		},
		Tasks: Tasks{
			Broker:          "memory",
			WorkersPerLane:  2,
			ResultTTL:       time.Hour,
			PollInterval:    200 * time.Millisecond,
			CleanupInterval: 10 * time.Minute,
			StatsInterval:   5 * time.Minute,
			RunInProcess:    true,
		},
		Events: Events{
			Channel:     "mockinterview:events",
			HistorySize: 256,
		},
	}
}

// Load reads the optional YAML file then all env vars and builds the config.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("MOCKINTERVIEW_CONFIG_FILE"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	var pinned struct {
		UseMockLLM *bool `yaml:"use_mock_llm"`
	}
	if err := yaml.Unmarshal(raw, &pinned); err == nil && pinned.UseMockLLM != nil {
		cfg.mockLLMPinned = true
	}
	return nil
}

func applyEnv(cfg *Config) {
	switch getEnv("MOCKINTERVIEW_MODE", string(cfg.Mode)) {
	case "gcp":
		cfg.Mode = ModeGCP
	default:
		cfg.Mode = ModeLocal
	}

	cfg.Port = getEnv("MOCKINTERVIEW_PORT", cfg.Port)
	cfg.LogLevel = getEnv("MOCKINTERVIEW_LOG_LEVEL", cfg.LogLevel)

	cfg.GCPProjectID = getEnv("MOCKINTERVIEW_GCP_PROJECT", cfg.GCPProjectID)
	cfg.GCPLocation = getEnv("MOCKINTERVIEW_GCP_LOCATION", cfg.GCPLocation)
	cfg.GeminiAPIKey = getEnv("MOCKINTERVIEW_GEMINI_API_KEY", cfg.GeminiAPIKey)
	cfg.ModelName = getEnv("MOCKINTERVIEW_MODEL_NAME", cfg.ModelName)
	cfg.ScoringModel = getEnv("MOCKINTERVIEW_SCORING_MODEL", cfg.ScoringModel)
	cfg.EmbeddingModel = getEnv("MOCKINTERVIEW_EMBEDDING_MODEL", cfg.EmbeddingModel)
	// Without an explicit choice the mock follows the mode.
	useMock := cfg.UseMockLLM
	if !cfg.mockLLMPinned {
		useMock = cfg.Mode == ModeLocal
	}
	cfg.UseMockLLM = getBoolEnv("MOCKINTERVIEW_USE_MOCK_LLM", useMock)

	cfg.StorageBackend = getEnv("MOCKINTERVIEW_STORAGE_BACKEND", cfg.StorageBackend)
	cfg.ArchiveBackend = getEnv("MOCKINTERVIEW_ARCHIVE_BACKEND", cfg.ArchiveBackend)
	cfg.RedisAddr = getEnv("MOCKINTERVIEW_REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getEnv("MOCKINTERVIEW_REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = getIntEnv("MOCKINTERVIEW_REDIS_DB", cfg.RedisDB)
	cfg.SessionTTL = getDurationEnv("MOCKINTERVIEW_SESSION_TTL", cfg.SessionTTL)

	cfg.QdrantURL = getEnv("MOCKINTERVIEW_QDRANT_URL", cfg.QdrantURL)
	cfg.QdrantAPIKey = getEnv("MOCKINTERVIEW_QDRANT_API_KEY", cfg.QdrantAPIKey)
	cfg.QdrantCollection = getEnv("MOCKINTERVIEW_QDRANT_COLLECTION", cfg.QdrantCollection)
	cfg.RetrievalLimit = getIntEnv("MOCKINTERVIEW_RETRIEVAL_LIMIT", cfg.RetrievalLimit)

	cfg.EmotionServiceURL = getEnv("MOCKINTERVIEW_EMOTION_URL", cfg.EmotionServiceURL)
	cfg.EmotionAPIKey = getEnv("MOCKINTERVIEW_EMOTION_API_KEY", cfg.EmotionAPIKey)
	cfg.EmotionTimeout = getDurationEnv("MOCKINTERVIEW_EMOTION_TIMEOUT", cfg.EmotionTimeout)

	iv := &cfg.Interview
	iv.MaxQuestions = getIntEnv("MOCKINTERVIEW_MAX_QUESTIONS", iv.MaxQuestions)
	iv.FollowUpCap = getIntEnv("MOCKINTERVIEW_FOLLOW_UP_CAP", iv.FollowUpCap)
	iv.EvaluateSoftDeadline = getDurationEnv("MOCKINTERVIEW_EVALUATE_SOFT_DEADLINE", iv.EvaluateSoftDeadline)
	iv.ModeMinRun = getIntEnv("MOCKINTERVIEW_MODE_MIN_RUN", iv.ModeMinRun)
	iv.ModeMinConfidence = getFloatEnv("MOCKINTERVIEW_MODE_MIN_CONFIDENCE", iv.ModeMinConfidence)
	iv.OffloadEvaluation = getBoolEnv("MOCKINTERVIEW_OFFLOAD_EVALUATION", iv.OffloadEvaluation)

	tc := &cfg.Turn
	tc.GentleSilence = getDurationEnv("MOCKINTERVIEW_TURN_GENTLE_SILENCE", tc.GentleSilence)
	tc.HardSilence = getDurationEnv("MOCKINTERVIEW_TURN_HARD_SILENCE", tc.HardSilence)
	tc.SoftTurnDuration = getDurationEnv("MOCKINTERVIEW_TURN_SOFT_DURATION", tc.SoftTurnDuration)
	tc.MaxTurnDuration = getDurationEnv("MOCKINTERVIEW_TURN_MAX_DURATION", tc.MaxTurnDuration)

	tk := &cfg.Tasks
	tk.Broker = getEnv("MOCKINTERVIEW_TASK_BROKER", tk.Broker)
	tk.WorkersPerLane = getIntEnv("MOCKINTERVIEW_WORKERS_PER_LANE", tk.WorkersPerLane)
	tk.ResultTTL = getDurationEnv("MOCKINTERVIEW_TASK_RESULT_TTL", tk.ResultTTL)
	tk.PollInterval = getDurationEnv("MOCKINTERVIEW_TASK_POLL_INTERVAL", tk.PollInterval)
	tk.CleanupInterval = getDurationEnv("MOCKINTERVIEW_CLEANUP_INTERVAL", tk.CleanupInterval)
	tk.StatsInterval = getDurationEnv("MOCKINTERVIEW_STATS_INTERVAL", tk.StatsInterval)
	tk.RunInProcess = getBoolEnv("MOCKINTERVIEW_WORKER_IN_PROCESS", tk.RunInProcess)
	tk.WorkerMetricsAddr = getEnv("MOCKINTERVIEW_WORKER_METRICS_ADDR", tk.WorkerMetricsAddr)

	cfg.Events.Channel = getEnv("MOCKINTERVIEW_EVENTS_CHANNEL", cfg.Events.Channel)
	cfg.Events.HistorySize = getIntEnv("MOCKINTERVIEW_EVENTS_HISTORY", cfg.Events.HistorySize)
}

// Validate reports every inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Interview.MaxQuestions < 1 {
		errs = append(errs, errors.New("interview.max_questions must be at least 1"))
	}
	if c.Interview.FollowUpCap < 0 {
		errs = append(errs, errors.New("interview.follow_up_cap must not be negative"))
	}
	if c.Interview.EvaluateSoftDeadline <= 0 {
		errs = append(errs, errors.New("interview.evaluate_soft_deadline must be positive"))
	}
	if c.Interview.ModeMinRun < 1 {
		errs = append(errs, errors.New("interview.mode_min_run must be at least 1"))
	}
	if c.Interview.ModeMinConfidence < 0 || c.Interview.ModeMinConfidence > 1 {
		errs = append(errs, errors.New("interview.mode_min_confidence must be within [0,1]"))
	}
	if c.Turn.GentleSilence > c.Turn.HardSilence {
		errs = append(errs, errors.New("turn.gentle_silence must not exceed turn.hard_silence"))
	}
	if c.Turn.SoftTurnDuration > c.Turn.MaxTurnDuration {
		errs = append(errs, errors.New("turn.soft_turn_duration must not exceed turn.max_turn_duration"))
	}
	if c.Tasks.WorkersPerLane < 1 {
		errs = append(errs, errors.New("tasks.workers_per_lane must be at least 1"))
	}
	if !oneOf(c.StorageBackend, "memory", "redis") {
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.StorageBackend))
	}
	if !oneOf(c.ArchiveBackend, "memory", "firestore") {
		errs = append(errs, fmt.Errorf("unknown archive backend %q", c.ArchiveBackend))
	}
	if !oneOf(c.Tasks.Broker, "memory", "redis") {
		errs = append(errs, fmt.Errorf("unknown task broker %q", c.Tasks.Broker))
	}

	// Minimal validation in GCP mode
	if c.Mode == ModeGCP && c.GCPProjectID == "" {
		errs = append(errs, errors.New("MOCKINTERVIEW_GCP_PROJECT must be set in gcp mode"))
	}
	if c.ArchiveBackend == "firestore" && c.GCPProjectID == "" {
		errs = append(errs, errors.New("firestore archive requires MOCKINTERVIEW_GCP_PROJECT"))
	}

	return errors.Join(errs...)
}

func oneOf(v string, options ...string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}
