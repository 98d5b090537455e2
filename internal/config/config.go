package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// DeliveryPolicy decides what happens to a reminder whose send failed.
type DeliveryPolicy string

const (
	// AtMostOnce removes a reminder after dispatch regardless of the send
	// outcome. A failed send is logged and the reminder is gone.
	AtMostOnce DeliveryPolicy = "at_most_once"
	// AtLeastOnce keeps a reminder whose send failed so the next cycle
	// retries it. A failed removal can then cause a duplicate send.
	AtLeastOnce DeliveryPolicy = "at_least_once"
)

// Config stores runtime configuration loaded from environment variables.
type Config struct {
	Port                 string
	TwilioAccountSID     string
	TwilioAuthToken      string
	TwilioWhatsAppNumber string
	OpenAIAPIKey         string
	DatabaseURL          string
	LocalTimezone        *time.Location
	SendInterval         time.Duration
	DeliveryPolicy       DeliveryPolicy
}

// Load reads configuration values and prepares defaults where applicable.
func Load() *Config {
	_ = godotenv.Load()

	timezoneName := getenvDefault("LOCAL_TIMEZONE", "Local")
	location, err := time.LoadLocation(timezoneName)
	if err != nil {
		log.Printf("config: invalid LOCAL_TIMEZONE %q, defaulting to system local: %v", timezoneName, err)
		location = time.Local
	}

	return &Config{
		Port:                 getenvDefault("PORT", "8080"),
		TwilioAccountSID:     os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:      os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioWhatsAppNumber: os.Getenv("TWILIO_WHATSAPP_NUMBER"),
		OpenAIAPIKey:         os.Getenv("OPENAI_API_KEY"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		LocalTimezone:        location,
		SendInterval:         time.Duration(ParseIntEnv("SEND_INTERVAL_MS", 1000)) * time.Millisecond,
		DeliveryPolicy:       loadDeliveryPolicy(),
	}
}

func loadDeliveryPolicy() DeliveryPolicy {
	raw := getenvDefault("DELIVERY_POLICY", string(AtMostOnce))
	switch DeliveryPolicy(raw) {
	case AtMostOnce, AtLeastOnce:
		return DeliveryPolicy(raw)
	default:
		log.Printf("config: unknown DELIVERY_POLICY %q, defaulting to %s", raw, AtMostOnce)
		return AtMostOnce
	}
}

func getenvDefault(key, def string) string {
	value := os.Getenv(key)
	if value == "" {
		return def
	}
	return value
}

// ParseIntEnv returns the integer value for an environment variable or the provided default.
func ParseIntEnv(key string, def int) int {
	value := os.Getenv(key)
	if value == "" {
		return def
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("config: unable to parse %s=%q as int: %v", key, value, err)
		return def
	}
	return parsed
}
