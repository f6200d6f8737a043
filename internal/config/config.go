package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Port           string
	AllowedOrigins []string
	LogLevel       string

	// Queue behavior
	MaxQueueWait    time.Duration // queued calls exceeding this are abandoned
	SweepInterval   time.Duration // periodic abandonment/timeout check
	RoutingInterval time.Duration // periodic assignment pass
	DefaultWaitEst  time.Duration // ETA used before any assignment completes
	WaitWindowSize  int           // samples in the rolling wait average
	SLThreshold     time.Duration // service-level answer threshold

	// Sentiment escalation
	SentimentWindow    int           // rolling window of customer utterances
	NegativeThreshold  float64       // fraction of negative labels that triggers escalation
	EscalationCooldown time.Duration // minimum gap between escalation actions

	// Transfers
	TransferTimeout time.Duration // max time for a transfer to reach an outcome

	// Telephony defaults
	OutboundTrunkID string
	CallerID        string

	// WebSocket tuning
	PingPeriod     time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64

	// Kafka event sink (disabled when brokers empty)
	KafkaBrokers []string
	KafkaTopic   string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	config := &Config{
		Port:            getEnv("PORT", "8080"),
		AllowedOrigins:  splitAndTrim(getEnv("ALLOWED_ORIGINS", "http://localhost:5173")),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		OutboundTrunkID: getEnv("OUTBOUND_TRUNK_ID", ""),
		CallerID:        getEnv("CALLER_ID", ""),
		KafkaTopic:      getEnv("KAFKA_EVENTS_TOPIC", "callcore-events"),
	}

	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		config.KafkaBrokers = splitAndTrim(brokers)
	}

	var err error
	if config.MaxQueueWait, err = getDuration("MAX_QUEUE_WAIT_SECONDS", 600); err != nil {
		return nil, err
	}
	if config.SweepInterval, err = getDuration("SWEEP_INTERVAL_SECONDS", 5); err != nil {
		return nil, err
	}
	if config.RoutingInterval, err = getDuration("ROUTING_INTERVAL_SECONDS", 1); err != nil {
		return nil, err
	}
	if config.DefaultWaitEst, err = getDuration("DEFAULT_WAIT_ESTIMATE_SECONDS", 60); err != nil {
		return nil, err
	}
	if config.SLThreshold, err = getDuration("SL_THRESHOLD_SECONDS", 20); err != nil {
		return nil, err
	}
	if config.EscalationCooldown, err = getDuration("ESCALATION_COOLDOWN_SECONDS", 120); err != nil {
		return nil, err
	}
	if config.TransferTimeout, err = getDuration("TRANSFER_TIMEOUT_SECONDS", 30); err != nil {
		return nil, err
	}

	if config.WaitWindowSize, err = getInt("WAIT_WINDOW_SIZE", 20); err != nil {
		return nil, err
	}
	if config.SentimentWindow, err = getInt("SENTIMENT_WINDOW_SIZE", 4); err != nil {
		return nil, err
	}

	threshold := getEnv("NEGATIVE_THRESHOLD", "0.75")
	config.NegativeThreshold, err = strconv.ParseFloat(threshold, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid NEGATIVE_THRESHOLD: %w", err)
	}
	if config.NegativeThreshold <= 0 || config.NegativeThreshold > 1 {
		return nil, fmt.Errorf("NEGATIVE_THRESHOLD must be in (0,1], got %s", threshold)
	}

	// WebSocket timing
	wsReadTimeout, err := getInt("WS_READ_TIMEOUT", 60)
	if err != nil {
		return nil, err
	}
	wsWriteTimeout, err := getInt("WS_WRITE_TIMEOUT", 10)
	if err != nil {
		return nil, err
	}
	config.PongWait = time.Duration(wsReadTimeout) * time.Second
	config.PingPeriod = (config.PongWait * 9) / 10 // Must be less than pongWait
	config.WriteWait = time.Duration(wsWriteTimeout) * time.Second
	config.MaxMessageSize = 4096

	return config, nil
}

// getEnv gets an environment variable with a fallback default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	raw := getEnv(key, strconv.Itoa(defaultValue))
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %d", key, v)
	}
	return v, nil
}

func getDuration(key string, defaultSeconds int) (time.Duration, error) {
	v, err := getInt(key, defaultSeconds)
	if err != nil {
		return 0, err
	}
	return time.Duration(v) * time.Second, nil
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}
