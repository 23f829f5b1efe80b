package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type DB struct {
	User string
	Pass string
	Host string
	Port string
	Name string
}

type Dispatcher struct {
	MaxBatch         int           // Max deliveries claimed per cycle
	PollInterval     time.Duration // How often the dispatcher runs a cycle
	MaxAttempts      int           // Attempts after which a delivery is failed for good
	BackoffBase      time.Duration // Delay before the second attempt
	BackoffCap       time.Duration // Upper bound on the exponential delay
	BackoffJitterMax time.Duration // Uniform jitter added to every retry delay
	HTTPTimeout      time.Duration // Per-request webhook send timeout
	HTTPPort         string        // Dispatcher health/metrics listen address, e.g. ":8082"
}

type NSQ struct {
	NsqdTCPAddr        string // e.g. nsqd:4150
	DeadLetterTopic    string // Topic for exhausted-delivery envelopes
	PublishDeadLetters bool   // Whether to publish dead letters at all
}

type Webhook struct {
	SignatureHeader  string // HTTP header carrying the HMAC signature
	TimestampHeader  string // HTTP header carrying the unix timestamp
	EventTypeHeader  string // HTTP header carrying the event type name
	DeliveryIDHeader string // HTTP header carrying the delivery id for dedup
	UserAgent        string
	MaxResponseBytes int // Response body retained for diagnostics
}

type FakeReceiver struct {
	FailFirstN           int           // Number of requests to fail initially
	Secret               string        // Secret for webhook signature verification
	SigningLeewaySeconds int           // Allowed timestamp skew in seconds
	ResponseDelayMS      int           // Simulated response delay in milliseconds
	Port                 string        // Server listen address, e.g. ":8081"
	ReadTimeout          time.Duration // HTTP read timeout
	WriteTimeout         time.Duration // HTTP write timeout
	IdleTimeout          time.Duration // HTTP idle timeout
}

type Config struct {
	AppName      string
	DB           DB
	Dispatcher   Dispatcher
	NSQ          NSQ
	Webhook      Webhook
	FakeReceiver FakeReceiver
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func FromEnv() Config {
	return Config{
		AppName: getenv("APP_NAME", "hookrelay"),
		DB: DB{
			User: getenv("DB_USER", "postgres"),
			Pass: getenv("DB_PASS", "postgres"),
			Host: getenv("DB_HOST", "postgres"),
			Port: getenv("DB_PORT", "5432"),
			Name: getenv("DB_NAME", "hookrelay"),
		},
		Dispatcher: Dispatcher{
			MaxBatch:         getenvInt("DISPATCH_MAX_BATCH", 50),
			PollInterval:     getenvDuration("DISPATCH_POLL_INTERVAL", 5*time.Second),
			MaxAttempts:      getenvInt("MAX_ATTEMPTS", 10),
			BackoffBase:      getenvDuration("BACKOFF_BASE", 30*time.Second),
			BackoffCap:       getenvDuration("BACKOFF_CAP", time.Hour),
			BackoffJitterMax: getenvDuration("BACKOFF_JITTER_MAX", 15*time.Second),
			HTTPTimeout:      getenvDuration("DELIVERY_HTTP_TIMEOUT", 15*time.Second),
			HTTPPort:         getenv("DISPATCHER_HTTP_PORT", ":8082"),
		},
		NSQ: NSQ{
			NsqdTCPAddr:        getenv("NSQD_TCP_ADDR", "nsqd:4150"),
			DeadLetterTopic:    getenv("NSQ_DEAD_LETTER_TOPIC", "deliveries_dead"),
			PublishDeadLetters: getenvBool("PUBLISH_DEAD_LETTERS", false),
		},
		Webhook: Webhook{
			SignatureHeader:  getenv("WEBHOOK_SIGNATURE_HEADER", "X-Hookrelay-Signature"),
			TimestampHeader:  getenv("WEBHOOK_TIMESTAMP_HEADER", "X-Hookrelay-Timestamp"),
			EventTypeHeader:  getenv("WEBHOOK_EVENT_HEADER", "X-Hookrelay-Event"),
			DeliveryIDHeader: getenv("WEBHOOK_DELIVERY_ID_HEADER", "X-Hookrelay-Delivery-Id"),
			UserAgent:        getenv("WEBHOOK_USER_AGENT", "hookrelay/1.0"),
			MaxResponseBytes: getenvInt("WEBHOOK_MAX_RESPONSE_BYTES", 4000),
		},
		FakeReceiver: FakeReceiver{
			FailFirstN:           getenvInt("FAIL_FIRST_N", 0),
			Secret:               getenv("RECEIVER_SECRET", ""),
			SigningLeewaySeconds: getenvInt("SIGNING_LEEWAY_SECONDS", 300),
			ResponseDelayMS:      getenvInt("RESPONSE_DELAY_MS", 0),
			Port:                 getenv("FAKE_RECEIVER_PORT", ":8081"),
			ReadTimeout:          getenvDuration("FAKE_RECEIVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:         getenvDuration("FAKE_RECEIVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:          getenvDuration("FAKE_RECEIVER_IDLE_TIMEOUT", 60*time.Second),
		},
	}
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB.User, c.DB.Pass, c.DB.Host, c.DB.Port, c.DB.Name)
}
