package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"iot-ingestion/backend/internal/bus"
	"iot-ingestion/backend/pkg/dialect"
)

type EnvKey string

const (
	EnvPort      EnvKey = "PORT"
	EnvDataDir   EnvKey = "DATA_DIR"
	EnvLogLevel  EnvKey = "LOG_LEVEL"
	EnvLogToFile EnvKey = "LOG_TO_FILE"

	EnvRedisURL EnvKey = "REDIS_URL"

	EnvKafkaBrokers     EnvKey = "KAFKA_BROKERS"
	EnvKafkaClientID    EnvKey = "KAFKA_CLIENT_ID"
	EnvKafkaTopicData   EnvKey = "KAFKA_TOPIC_DATA"
	EnvKafkaTopicAlerts EnvKey = "KAFKA_TOPIC_ALERTS"
	EnvKafkaTopicHealth EnvKey = "KAFKA_TOPIC_HEALTH"
	EnvKafkaTopicErrors EnvKey = "KAFKA_TOPIC_ERRORS"

	EnvMQTTBrokerPort EnvKey = "MQTT_SERVER_PORT"

	EnvMQTTBroker    EnvKey = "MQTT_BROKER"
	EnvMQTTClientID  EnvKey = "MQTT_CLIENT_ID"
	EnvMQTTUsername  EnvKey = "MQTT_USERNAME"
	EnvMQTTPassword  EnvKey = "MQTT_PASSWORD"
	EnvMQTTNamespace EnvKey = "MQTT_NAMESPACE"

	EnvDirectorySource  EnvKey = "DIRECTORY_SOURCE"
	EnvRegistryURL      EnvKey = "DEVICE_REGISTRY_URL"
	EnvServiceToken     EnvKey = "SERVICE_TOKEN"
	EnvDirectoryTimeout EnvKey = "DIRECTORY_TIMEOUT"

	EnvJWTSecret EnvKey = "JWT_SECRET_KEY"

	EnvDBHost    EnvKey = "DB_HOST"
	EnvDBPort    EnvKey = "DB_PORT"
	EnvDBName    EnvKey = "DB_NAME"
	EnvDBUser    EnvKey = "DB_USER"
	EnvDBPass    EnvKey = "DB_PASSWORD"
	EnvDBSSLMode EnvKey = "DB_SSLMODE"

	EnvCleanupInterval EnvKey = "CLEANUP_INTERVAL"
	EnvDrainTimeout    EnvKey = "SHUTDOWN_DRAIN_TIMEOUT"
)

// Where device records are read from.
const (
	DirectoryHTTP = "http"
	DirectorySQL  = "sql"
)

type Config struct {
	Port      int
	DataDir   string
	LogLevel  slog.Leveler
	LogOutput io.Writer

	RedisURL string

	// Kafka configuration. No brokers means no Kafka.
	KafkaBrokers  []string
	KafkaClientID string
	Topics        bus.Topics

	// MQTT Server configuration
	MQTTBrokerPort int

	// MQTT configuration
	MQTTBroker    string
	MQTTClientID  string
	MQTTUsername  string
	MQTTPassword  string
	MQTTNamespace string

	// Device directory
	DirectorySource  string
	RegistryURL      string
	ServiceToken     string
	DirectoryTimeout time.Duration
	// Database and Dialect back the SQL directory source.
	Database string
	Dialect  dialect.Dialect

	// JWTSecret verifies device tokens; empty disables signature checks.
	JWTSecret string

	CleanupInterval time.Duration
	DrainTimeout    time.Duration
}

func New(dbDialect dialect.Dialect) (*Config, error) {
	// Get data directory
	dataDir := getStringEnv(EnvDataDir, "data")

	// Ensure data directory exists
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	var logOutput io.Writer = os.Stdout

	if getBoolEnv(EnvLogToFile, false) {
		f, err := os.OpenFile(filepath.Join(dataDir, "app.log"), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}

		logOutput = f
	}

	if err := dbDialect.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database dialect: %w", err)
	}

	// Build database connection string based on dialect
	var dbConnString string

	switch dbDialect {
	case dialect.SQLite:
		dbConnString = filepath.Join(dataDir, "registry.sqlite")
	case dialect.PostgreSQL:
		host := getStringEnv(EnvDBHost, "localhost")
		port := getIntEnv(EnvDBPort, 5432)
		dbName := getStringEnv(EnvDBName, "device_registry")
		user := getStringEnv(EnvDBUser, "registry")
		password := getStringEnv(EnvDBPass, "")
		sslmode := getStringEnv(EnvDBSSLMode, "disable")

		dbConnString = fmt.Sprintf(
			"postgresql://%s:%s@%s/%s?sslmode=%s",
			url.QueryEscape(user),
			url.QueryEscape(password),
			net.JoinHostPort(host, strconv.Itoa(port)),
			dbName, sslmode,
		)
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", dbDialect)
	}

	return &Config{
		Port:      getIntEnv(EnvPort, 8002),
		DataDir:   dataDir,
		LogLevel:  getLogLevelEnv(EnvLogLevel, slog.LevelInfo),
		LogOutput: logOutput,
		RedisURL:  getStringEnv(EnvRedisURL, "redis://localhost:6379/1"),

		KafkaBrokers:  getListEnv(EnvKafkaBrokers),
		KafkaClientID: getStringEnv(EnvKafkaClientID, "iot-ingestion"),
		Topics: bus.Topics{
			Data:   getStringEnv(EnvKafkaTopicData, "iot-data"),
			Alerts: getStringEnv(EnvKafkaTopicAlerts, "iot-alerts"),
			Health: getStringEnv(EnvKafkaTopicHealth, "iot-health"),
			Errors: getStringEnv(EnvKafkaTopicErrors, "iot-errors"),
		},

		MQTTBrokerPort: getIntEnv(EnvMQTTBrokerPort, 1883),
		MQTTBroker:     getStringEnv(EnvMQTTBroker, "tcp://127.0.0.1:1883"),
		MQTTClientID:   getStringEnv(EnvMQTTClientID, "iot-ingestion"),
		MQTTUsername:   getStringEnv(EnvMQTTUsername, ""),
		MQTTPassword:   getStringEnv(EnvMQTTPassword, ""),
		MQTTNamespace:  getStringEnv(EnvMQTTNamespace, "iot"),

		DirectorySource:  strings.ToLower(getStringEnv(EnvDirectorySource, DirectoryHTTP)),
		RegistryURL:      getStringEnv(EnvRegistryURL, "http://device-registry:8001/api/v1"),
		ServiceToken:     getStringEnv(EnvServiceToken, ""),
		DirectoryTimeout: getDurationEnv(EnvDirectoryTimeout, 5*time.Second),
		Database:         dbConnString,
		Dialect:          dbDialect,

		JWTSecret: getStringEnv(EnvJWTSecret, ""),

		CleanupInterval: getDurationEnv(EnvCleanupInterval, time.Hour),
		DrainTimeout:    getDurationEnv(EnvDrainTimeout, 10*time.Second),
	}, nil
}

// Validate reports every inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("%s must be a valid port, got %d", EnvPort, c.Port))
	}

	if c.RedisURL == "" {
		errs = append(errs, fmt.Errorf("%s is required", EnvRedisURL))
	}

	if err := c.Topics.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("kafka topics: %w", err))
	}

	if c.MQTTBroker == "" {
		errs = append(errs, fmt.Errorf("%s is required", EnvMQTTBroker))
	}

	if c.MQTTNamespace == "" || strings.ContainsAny(c.MQTTNamespace, "/+#") {
		errs = append(errs, fmt.Errorf("%s must be a single topic segment, got %q", EnvMQTTNamespace, c.MQTTNamespace))
	}

	switch c.DirectorySource {
	case DirectoryHTTP:
		if c.RegistryURL == "" {
			errs = append(errs, fmt.Errorf("%s is required for the http directory", EnvRegistryURL))
		}
	case DirectorySQL:
	default:
		errs = append(errs, fmt.Errorf("%s must be %q or %q, got %q", EnvDirectorySource, DirectoryHTTP, DirectorySQL, c.DirectorySource))
	}

	if c.DirectoryTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", EnvDirectoryTimeout))
	}

	if c.CleanupInterval <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", EnvCleanupInterval))
	}

	if c.DrainTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", EnvDrainTimeout))
	}

	return errors.Join(errs...)
}

func (c *Config) Close() error {
	if f, ok := c.LogOutput.(*os.File); ok {
		if f != os.Stdout && f != os.Stderr {
			return f.Close()
		}
	}

	return nil
}

func getStringEnv(key EnvKey, defaultVal string) string {
	val, exists := os.LookupEnv(string(key))
	if !exists {
		return defaultVal
	}

	return val
}

// getListEnv splits a comma separated value, dropping empty items.
func getListEnv(key EnvKey) []string {
	var out []string

	for item := range strings.SplitSeq(getStringEnv(key, ""), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}

	return out
}

func getBoolEnv(key EnvKey, defaultVal bool) bool {
	val, exists := os.LookupEnv(string(key))
	if !exists {
		return defaultVal
	}

	val = strings.ToLower(val)
	switch val {
	case "true", "1":
		return true
	default:
		return false
	}
}

func getIntEnv(key EnvKey, defaultVal int) int {
	val, exists := os.LookupEnv(string(key))
	if !exists {
		return defaultVal
	}

	if intVal, err := strconv.Atoi(val); err == nil {
		return intVal
	}

	return defaultVal
}

// getDurationEnv accepts Go durations ("30s") or a bare number of seconds.
func getDurationEnv(key EnvKey, defaultVal time.Duration) time.Duration {
	val, exists := os.LookupEnv(string(key))
	if !exists {
		return defaultVal
	}

	if d, err := time.ParseDuration(val); err == nil {
		return d
	}

	if secs, err := strconv.ParseFloat(val, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}

	return defaultVal
}

func getLogLevelEnv(key EnvKey, defaultVal slog.Leveler) slog.Leveler {
	val, exists := os.LookupEnv(string(key))
	if !exists {
		return defaultVal
	}

	switch strings.ToUpper(val) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	}

	return defaultVal
}
