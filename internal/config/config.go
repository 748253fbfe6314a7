// Package config loads service configuration from the environment, with a
// best-effort .env file for local development.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/adili-jewels/storefront/internal/payments"
)

type Config struct {
	Port        string
	PostgresURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// KafkaBrokers empty disables event publishing; the storefront still
	// works, orders just never reach the back-office worker.
	KafkaBrokers []string

	EmailServiceURL string
	AdminEmail      string
	ShopName        string

	Mpesa     payments.MpesaConfig
	MpesaWait time.Duration

	StripeAPIKey        string
	StripeWebhookSecret string
	Currency            string
}

// Load reads the environment. A .env file in the working directory is
// applied first when present; real environment variables win over it.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:        envOr("PORT", "8080"),
		PostgresURL: os.Getenv("POSTGRES_URL"),

		RedisAddr:     envOr("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envIntOr("REDIS_DB", 0),

		KafkaBrokers: splitBrokers(os.Getenv("KAFKA_BROKERS")),

		EmailServiceURL: envOr("EMAIL_SERVICE_URL", "http://localhost:8084"),
		AdminEmail:      envOr("ADMIN_EMAIL", "orders@adilijewels.com"),
		ShopName:        envOr("SHOP_NAME", "Adili Jewels"),

		Mpesa: payments.MpesaConfig{
			BaseURL:        envOr("MPESA_BASE_URL", "https://sandbox.safaricom.co.ke"),
			ConsumerKey:    os.Getenv("MPESA_CONSUMER_KEY"),
			ConsumerSecret: os.Getenv("MPESA_CONSUMER_SECRET"),
			ShortCode:      envOr("MPESA_SHORTCODE", "174379"),
			Passkey:        os.Getenv("MPESA_PASSKEY"),
			CallbackURL:    os.Getenv("MPESA_CALLBACK_URL"),
		},
		MpesaWait: time.Duration(envIntOr("MPESA_WAIT_SECONDS", 60)) * time.Second,

		StripeAPIKey:        os.Getenv("STRIPE_API_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		Currency:            envOr("CURRENCY", "kes"),
	}
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}

func splitBrokers(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
