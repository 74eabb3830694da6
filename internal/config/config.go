package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level
	HTTPAddr string

	SQLiteDriver          string
	SQLiteDSN             string
	SQLitePath            string
	SQLiteMaxOpenConns    int
	SQLiteMaxIdleConns    int
	SQLiteConnMaxLifetime time.Duration
	// SQLiteLogStatements wraps the driver so every statement is logged at debug level.
	SQLiteLogStatements bool

	MQTTBroker   string
	MQTTPort     int
	MQTTClientID string
	MQTTTopic    string

	Retention              time.Duration
	RetentionSweepInterval time.Duration
	HistoryDisplayCap      int

	IngestWorkers    int
	IngestQueueSize  int
	PersistQueueSize int

	// Location is used to resolve calendar-day history windows.
	Location *time.Location
}

func LoadFromEnv() (Config, error) {
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	logLevelStr := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if logLevelStr == "" {
		logLevelStr = "info"
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	httpAddr := strings.TrimSpace(os.Getenv("HTTP_ADDR"))
	if httpAddr == "" {
		httpAddr = ":8080"
	}

	driver := strings.TrimSpace(os.Getenv("DB_DRIVER"))
	if driver == "" {
		driver = "sqlite3"
	}
	dsn := strings.TrimSpace(os.Getenv("DB_DSN"))
	path := strings.TrimSpace(os.Getenv("SQLITE_PATH"))
	if path == "" {
		path = "dev/sqlite/greenhouse.db"
	}

	maxOpenConns, err := intFromEnv("DB_MAX_OPEN_CONNS", 1)
	if err != nil {
		return Config{}, err
	}
	maxIdleConns, err := intFromEnv("DB_MAX_IDLE_CONNS", 1)
	if err != nil {
		return Config{}, err
	}
	connMaxLifetime, err := durationFromEnv("DB_CONN_MAX_LIFETIME", 0)
	if err != nil {
		return Config{}, err
	}
	logSQL, err := boolFromEnv("DB_LOG_SQL", false)
	if err != nil {
		return Config{}, err
	}

	mqttBroker := strings.TrimSpace(os.Getenv("MQTT_BROKER"))
	if mqttBroker == "" {
		mqttBroker = "localhost"
	}
	mqttPort, err := intFromEnv("MQTT_PORT", 1883)
	if err != nil {
		return Config{}, err
	}
	mqttClientID := strings.TrimSpace(os.Getenv("MQTT_CLIENT_ID"))
	if mqttClientID == "" {
		mqttClientID = "greenhouse-server"
	}
	mqttTopic := strings.TrimSpace(os.Getenv("MQTT_TOPIC"))
	if mqttTopic == "" {
		mqttTopic = "greenhouse/+/data"
	}

	retention, err := durationFromEnv("RETENTION", 7*24*time.Hour)
	if err != nil {
		return Config{}, err
	}
	if retention <= 0 {
		return Config{}, fmt.Errorf("RETENTION must be positive, got %v", retention)
	}
	sweepInterval, err := durationFromEnv("RETENTION_SWEEP_INTERVAL", time.Minute)
	if err != nil {
		return Config{}, err
	}
	if sweepInterval <= 0 {
		return Config{}, fmt.Errorf("RETENTION_SWEEP_INTERVAL must be positive, got %v", sweepInterval)
	}

	displayCap, err := positiveIntFromEnv("HISTORY_DISPLAY_CAP", 200)
	if err != nil {
		return Config{}, err
	}
	workers, err := positiveIntFromEnv("INGEST_WORKERS", 4)
	if err != nil {
		return Config{}, err
	}
	ingestQueue, err := positiveIntFromEnv("INGEST_QUEUE_SIZE", 256)
	if err != nil {
		return Config{}, err
	}
	persistQueue, err := positiveIntFromEnv("PERSIST_QUEUE_SIZE", 1024)
	if err != nil {
		return Config{}, err
	}

	loc := time.Local
	if tz := strings.TrimSpace(os.Getenv("TIMEZONE")); tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return Config{}, fmt.Errorf("invalid TIMEZONE %q: %w", tz, err)
		}
	}

	return Config{
		AppEnv:                 appEnv,
		LogLevel:               level,
		HTTPAddr:               httpAddr,
		SQLiteDriver:           driver,
		SQLiteDSN:              dsn,
		SQLitePath:             path,
		SQLiteMaxOpenConns:     maxOpenConns,
		SQLiteMaxIdleConns:     maxIdleConns,
		SQLiteConnMaxLifetime:  connMaxLifetime,
		SQLiteLogStatements:    logSQL,
		MQTTBroker:             mqttBroker,
		MQTTPort:               mqttPort,
		MQTTClientID:           mqttClientID,
		MQTTTopic:              mqttTopic,
		Retention:              retention,
		RetentionSweepInterval: sweepInterval,
		HistoryDisplayCap:      displayCap,
		IngestWorkers:          workers,
		IngestQueueSize:        ingestQueue,
		PersistQueueSize:       persistQueue,
		Location:               loc,
	}, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}

func intFromEnv(key string, def int) (int, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return n, nil
}

func positiveIntFromEnv(key string, def int) (int, error) {
	n, err := intFromEnv(key, def)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %d", key, n)
	}
	return n, nil
}

func durationFromEnv(key string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return d, nil
}

func boolFromEnv(key string, def bool) (bool, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return b, nil
}
