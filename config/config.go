// Package config loads relay configuration from an optional YAML file and
// environment variables. Environment variables always win over the file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	DB        DBConfig        `yaml:"db"`
	Firebase  FirebaseConfig  `yaml:"firebase"`
	Assistant AssistantConfig `yaml:"assistant"`
	Twilio    TwilioConfig    `yaml:"twilio"`
	Zapier    ZapierConfig    `yaml:"zapier"`
	Notifier  NotifierConfig  `yaml:"notifier"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	JWT       JWTConfig       `yaml:"jwt"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	Env  string `yaml:"env"`
}

// DBConfig selects the persistence backend.
type DBConfig struct {
	Driver string `yaml:"driver"` // sqlite, postgres or firestore
	Path   string `yaml:"path"`   // sqlite file
	DSN    string `yaml:"dsn"`    // postgres
}

type FirebaseConfig struct {
	ProjectID         string `yaml:"project_id"`
	CredentialsPath   string `yaml:"credentials_path"`
	FirestoreDatabase string `yaml:"firestore_database"`
	// Emulator support for integration testing
	UseEmulator           bool   `yaml:"use_emulator"`
	EmulatorFirestoreHost string `yaml:"emulator_firestore_host"`
}

type AssistantConfig struct {
	APIKey       string        `yaml:"api_key"`
	BaseURL      string        `yaml:"base_url"`
	AssistantID  string        `yaml:"assistant_id"`
	PollInterval time.Duration `yaml:"poll_interval"`
	PollTimeout  time.Duration `yaml:"poll_timeout"`
	// ReplyTemplate is a text/template applied to the user's message before
	// it is submitted. {{.Body}} is the raw message.
	ReplyTemplate string `yaml:"reply_template"`
}

type TwilioConfig struct {
	AuthToken string `yaml:"auth_token"` // enables signature validation when set
	PublicURL string `yaml:"public_url"` // base URL Twilio calls, used for signatures behind proxies
}

type ZapierConfig struct {
	DeliveryWebhookURL string `yaml:"delivery_webhook_url"`
	FromNumber         string `yaml:"from_number"`
	ChunkSize          int    `yaml:"chunk_size"`
}

type NotifierConfig struct {
	Port       string `yaml:"port"`
	WebhookURL string `yaml:"webhook_url"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	DedupeTTL time.Duration `yaml:"dedupe_ttl"`
}

type JWTConfig struct {
	SigningKey string `yaml:"signing_key"` // empty disables bearer auth
	Issuer     string `yaml:"issuer"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080", Env: "development"},
		DB:     DBConfig{Driver: "sqlite", Path: "relay.db"},
		Firebase: FirebaseConfig{
			FirestoreDatabase:     "(default)",
			EmulatorFirestoreHost: "localhost:8080",
		},
		Assistant: AssistantConfig{
			PollInterval:  1 * time.Second,
			PollTimeout:   120 * time.Second,
			ReplyTemplate: "{{.Body}}",
		},
		Zapier:   ZapierConfig{ChunkSize: 1600},
		Notifier: NotifierConfig{Port: "8081"},
		Kafka:    KafkaConfig{Topic: "relay-messages", GroupID: "nexus-relay-notifier"},
		Redis:    RedisConfig{DedupeTTL: 24 * time.Hour},
		JWT:      JWTConfig{Issuer: "relay.jredh.dev"},
	}
}

// LoadDotEnv reads a .env file in development. A missing file is not an error.
func LoadDotEnv() error {
	if getEnv("ENV", "development") != "development" {
		return nil
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// Load returns configuration from RELAY_CONFIG (if set) overlaid with
// environment variables.
func Load() (*Config, error) {
	cfg := Defaults()
	if path := os.Getenv("RELAY_CONFIG"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	// PORT (Cloud Run standard) takes precedence over RELAY_PORT.
	cfg.Server.Port = getEnv("PORT", getEnv("RELAY_PORT", cfg.Server.Port))
	cfg.Server.Env = getEnv("ENV", cfg.Server.Env)

	cfg.DB.Driver = getEnv("DB_DRIVER", cfg.DB.Driver)
	cfg.DB.Path = getEnv("DB_PATH", cfg.DB.Path)
	cfg.DB.DSN = getEnv("DATABASE_URL", cfg.DB.DSN)

	cfg.Firebase.ProjectID = getEnv("FIREBASE_PROJECT_ID", cfg.Firebase.ProjectID)
	cfg.Firebase.CredentialsPath = getEnv("FIREBASE_CREDENTIALS_PATH", cfg.Firebase.CredentialsPath)
	cfg.Firebase.FirestoreDatabase = getEnv("FIRESTORE_DATABASE", cfg.Firebase.FirestoreDatabase)
	cfg.Firebase.UseEmulator = getEnvBool("USE_FIREBASE_EMULATOR", cfg.Firebase.UseEmulator)
	cfg.Firebase.EmulatorFirestoreHost = getEnv("FIRESTORE_EMULATOR_HOST", cfg.Firebase.EmulatorFirestoreHost)

	cfg.Assistant.APIKey = getEnv("OPENAI_API_KEY", cfg.Assistant.APIKey)
	cfg.Assistant.BaseURL = getEnv("OPENAI_BASE_URL", cfg.Assistant.BaseURL)
	cfg.Assistant.AssistantID = getEnv("ASSISTANT_ID", getEnv("assistant_id", cfg.Assistant.AssistantID))
	cfg.Assistant.PollInterval = getEnvDuration("ASSISTANT_POLL_INTERVAL", cfg.Assistant.PollInterval)
	cfg.Assistant.PollTimeout = getEnvDuration("ASSISTANT_POLL_TIMEOUT", cfg.Assistant.PollTimeout)
	cfg.Assistant.ReplyTemplate = getEnv("ASSISTANT_REPLY_TEMPLATE", cfg.Assistant.ReplyTemplate)

	cfg.Twilio.AuthToken = getEnv("TWILIO_AUTH_TOKEN", cfg.Twilio.AuthToken)
	cfg.Twilio.PublicURL = getEnv("TWILIO_PUBLIC_URL", cfg.Twilio.PublicURL)

	cfg.Zapier.DeliveryWebhookURL = getEnv("ZAPIER_DELIVERY_WEBHOOK_URL", cfg.Zapier.DeliveryWebhookURL)
	cfg.Zapier.FromNumber = getEnv("OPENPHONE_FROM_NUMBER", cfg.Zapier.FromNumber)
	cfg.Zapier.ChunkSize = getEnvInt("SMS_CHUNK_SIZE", cfg.Zapier.ChunkSize)

	cfg.Notifier.Port = getEnv("NOTIFIER_PORT", cfg.Notifier.Port)
	cfg.Notifier.WebhookURL = getEnv("ZAPIER_NOTIFY_WEBHOOK_URL", getEnv("ZAPIER_WEBHOOK_URL", cfg.Notifier.WebhookURL))

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = splitList(brokers)
	}
	cfg.Kafka.Topic = getEnv("KAFKA_TOPIC", cfg.Kafka.Topic)
	cfg.Kafka.GroupID = getEnv("KAFKA_GROUP_ID", cfg.Kafka.GroupID)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.DedupeTTL = getEnvDuration("REDIS_DEDUPE_TTL", cfg.Redis.DedupeTTL)

	cfg.JWT.SigningKey = getEnv("RELAY_SIGNING_KEY", cfg.JWT.SigningKey)
	cfg.JWT.Issuer = getEnv("RELAY_JWT_ISSUER", cfg.JWT.Issuer)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		boolVal, err := strconv.ParseBool(value)
		if err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
