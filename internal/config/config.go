package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mr1hm/go-disaster-response/internal/models"
)

type Config struct {
	Server    ServerConfig
	GRPC      GRPCConfig
	Worker    WorkerConfig
	Store     StoreConfig
	AWS       AWSConfig
	Workflow  WorkflowConfig
	Events    EventsConfig
	PubSub    PubSubConfig
	Queue     QueueConfig
	Inference InferenceConfig
	Sources   SourcesConfig
	API       APIConfig
	Logging   LoggingConfig
}

type GRPCConfig struct {
	Port int
}

type ServerConfig struct {
	Host string
	Port int
}

// WorkerConfig sizes the local workflow engine and the feed intake pool.
type WorkerConfig struct {
	Count      int
	BufferSize int
}

const (
	StoreSQLite   = "sqlite"
	StoreDynamoDB = "dynamodb"
)

type StoreConfig struct {
	Driver         string
	Path           string
	EmergencyTable string
	ResourceTable  string
	TeamTable      string
}

type AWSConfig struct {
	Region   string
	Endpoint string // for local stacks
}

const (
	EngineLocal         = "local"
	EngineStepFunctions = "stepfunctions"
)

// WorkflowConfig maps each emergency type to the workflow started for it.
// With the step functions engine the ids are state machine ARNs.
type WorkflowConfig struct {
	Engine                string
	NaturalDisaster       string
	InfrastructureFailure string
	SecurityIncident      string
	General               string
}

// Mapping returns the type to workflow table. Empty ids are left in and
// treated as unmapped by the dispatcher.
func (w WorkflowConfig) Mapping() map[models.EmergencyType]string {
	return map[models.EmergencyType]string{
		models.EmergencyTypeNaturalDisaster:       w.NaturalDisaster,
		models.EmergencyTypeInfrastructureFailure: w.InfrastructureFailure,
		models.EmergencyTypeSecurityIncident:      w.SecurityIncident,
		models.EmergencyTypeGeneral:               w.General,
	}
}

type EventsConfig struct {
	EventBridgeEnabled bool
	BusName            string
	Topic              string
}

const (
	PubSubLocal = "local"
	PubSubNATS  = "nats"
	PubSubSNS   = "sns"
)

type PubSubConfig struct {
	Driver        string
	NATSURL       string
	AlertTopic    string
	CriticalTopic string
	TeamTopic     string
}

const (
	QueueMemory = "memory"
	QueueKafka  = "kafka"
	QueueSQS    = "sqs"
)

type QueueConfig struct {
	Driver       string
	KafkaBrokers string
	TaskQueue    string
	WriteTimeout time.Duration
}

type InferenceConfig struct {
	BedrockEnabled            bool
	ModelID                   string
	AnalysisFunctionARN       string
	RecommendationFunctionARN string
}

type SourcesConfig struct {
	USGSEnabled       bool
	USGSURL           string
	USGSPollInterval  time.Duration
	GDACSEnabled      bool
	GDACSURL          string
	GDACSPollInterval time.Duration
}

type APIConfig struct {
	RateLimit      float64
	RateBurst      int
	AllowedOrigins []string
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "localhost"),
			Port: getEnvInt("SERVER_PORT", 8080),
		},
		GRPC: GRPCConfig{
			Port: getEnvInt("GRPC_PORT", 50051),
		},
		Worker: WorkerConfig{
			Count:      getEnvInt("WORKER_COUNT", 4),
			BufferSize: getEnvInt("WORKER_BUFFER_SIZE", 100),
		},
		Store: StoreConfig{
			Driver:         getEnv("STORE_DRIVER", StoreSQLite),
			Path:           getEnv("DB_PATH", "./data/emergencies.db"),
			EmergencyTable: getEnv("EMERGENCY_TABLE", "emergencies"),
			ResourceTable:  getEnv("RESOURCE_TABLE", "resources"),
			TeamTable:      getEnv("TEAM_TABLE", "teams"),
		},
		AWS: AWSConfig{
			Region:   getEnv("AWS_REGION", "us-east-1"),
			Endpoint: getEnv("AWS_ENDPOINT_URL", ""),
		},
		Workflow: WorkflowConfig{
			Engine:                getEnv("WORKFLOW_ENGINE", EngineLocal),
			NaturalDisaster:       getEnv("NATURAL_DISASTER_WORKFLOW", "natural-disaster"),
			InfrastructureFailure: getEnv("INFRASTRUCTURE_FAILURE_WORKFLOW", "infrastructure-failure"),
			SecurityIncident:      getEnv("SECURITY_INCIDENT_WORKFLOW", "security-incident"),
			General:               getEnv("GENERAL_EMERGENCY_WORKFLOW", ""),
		},
		Events: EventsConfig{
			EventBridgeEnabled: getEnvBool("EVENTBRIDGE_ENABLED", false),
			BusName:            getEnv("EVENT_BUS_NAME", "default"),
			Topic:              getEnv("LIFECYCLE_TOPIC", "emergency.lifecycle"),
		},
		PubSub: PubSubConfig{
			Driver:        getEnv("PUBSUB_DRIVER", PubSubLocal),
			NATSURL:       getEnv("NATS_URL", "nats://localhost:4222"),
			AlertTopic:    getEnv("EMERGENCY_ALERT_TOPIC", "emergency.alerts"),
			CriticalTopic: getEnv("CRITICAL_ALERT_TOPIC", "emergency.alerts.critical"),
			TeamTopic:     getEnv("RESPONSE_TEAM_TOPIC", "emergency.teams"),
		},
		Queue: QueueConfig{
			Driver:       getEnv("QUEUE_DRIVER", QueueMemory),
			KafkaBrokers: getEnv("KAFKA_BROKERS", "localhost:9092"),
			TaskQueue:    getEnv("TASK_QUEUE", "team-tasks"),
			WriteTimeout: getEnvDuration("QUEUE_WRITE_TIMEOUT", 10*time.Second),
		},
		Inference: InferenceConfig{
			BedrockEnabled:            getEnvBool("BEDROCK_ENABLED", false),
			ModelID:                   getEnv("BEDROCK_MODEL_ID", "anthropic.claude-v2"),
			AnalysisFunctionARN:       getEnv("SITUATION_ANALYSIS_FUNCTION_ARN", ""),
			RecommendationFunctionARN: getEnv("RESOURCE_RECOMMENDATION_FUNCTION_ARN", ""),
		},
		Sources: SourcesConfig{
			USGSEnabled:       getEnvBool("USGS_ENABLED", false),
			USGSURL:           getEnv("USGS_URL", "https://earthquake.usgs.gov/earthquakes/feed/v1.0/summary/significant_hour.geojson"),
			USGSPollInterval:  getEnvDuration("USGS_POLL_INTERVAL", 5*time.Minute),
			GDACSEnabled:      getEnvBool("GDACS_ENABLED", false),
			GDACSURL:          getEnv("GDACS_URL", "https://www.gdacs.org/xml/rss.xml"),
			GDACSPollInterval: getEnvDuration("GDACS_POLL_INTERVAL", 10*time.Minute),
		},
		API: APIConfig{
			RateLimit:      getEnvFloat("API_RATE_LIMIT", 10),
			RateBurst:      getEnvInt("API_RATE_BURST", 20),
			AllowedOrigins: getEnvList("API_ALLOWED_ORIGINS", []string{"*"}),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.GRPC.Port < 1 || c.GRPC.Port > 65535 {
		return fmt.Errorf("invalid grpc port: %d", c.GRPC.Port)
	}
	if c.Worker.Count < 1 {
		return fmt.Errorf("worker count must be at least 1")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	switch c.Store.Driver {
	case StoreSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("DB_PATH is required for the sqlite store")
		}
	case StoreDynamoDB:
		if c.Store.EmergencyTable == "" || c.Store.ResourceTable == "" || c.Store.TeamTable == "" {
			return fmt.Errorf("all DynamoDB table names are required")
		}
	default:
		return fmt.Errorf("invalid store driver: %s", c.Store.Driver)
	}

	switch c.Workflow.Engine {
	case EngineLocal:
	case EngineStepFunctions:
		for typ, arn := range c.Workflow.Mapping() {
			if arn != "" && !strings.HasPrefix(arn, "arn:") {
				return fmt.Errorf("workflow for %s must be a state machine ARN: %s", typ, arn)
			}
		}
	default:
		return fmt.Errorf("invalid workflow engine: %s", c.Workflow.Engine)
	}

	switch c.PubSub.Driver {
	case PubSubLocal, PubSubSNS:
	case PubSubNATS:
		if c.PubSub.NATSURL == "" {
			return fmt.Errorf("NATS_URL is required for the nats driver")
		}
	default:
		return fmt.Errorf("invalid pubsub driver: %s", c.PubSub.Driver)
	}

	switch c.Queue.Driver {
	case QueueMemory, QueueSQS:
	case QueueKafka:
		if c.Queue.KafkaBrokers == "" {
			return fmt.Errorf("KAFKA_BROKERS is required for the kafka driver")
		}
	default:
		return fmt.Errorf("invalid queue driver: %s", c.Queue.Driver)
	}

	if c.API.RateLimit <= 0 || c.API.RateBurst < 1 {
		return fmt.Errorf("API rate limit and burst must be positive")
	}

	if c.Sources.USGSPollInterval < time.Minute {
		return fmt.Errorf("USGS poll interval must be at least 1 minute")
	}
	if c.Sources.GDACSPollInterval < time.Minute {
		return fmt.Errorf("GDACS poll interval must be at least 1 minute")
	}

	return nil
}

// UsesAWS reports whether any configured collaborator needs AWS credentials.
func (c *Config) UsesAWS() bool {
	return c.Store.Driver == StoreDynamoDB ||
		c.Workflow.Engine == EngineStepFunctions ||
		c.Events.EventBridgeEnabled ||
		c.PubSub.Driver == PubSubSNS ||
		c.Queue.Driver == QueueSQS ||
		c.Inference.BedrockEnabled ||
		c.Inference.AnalysisFunctionARN != "" ||
		c.Inference.RecommendationFunctionARN != ""
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
