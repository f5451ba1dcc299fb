package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required"`

	ListenAddr   string        `env:"LISTEN_ADDR" envDefault:":8000"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"60s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"60s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	HeartbeatTimeout time.Duration `env:"HEARTBEAT_TIMEOUT" envDefault:"90s"`
	ReaperInterval   time.Duration `env:"REAPER_INTERVAL" envDefault:"10s"`
	AckTimeout       time.Duration `env:"COMMAND_ACK_TIMEOUT" envDefault:"30s"`

	OutboundQueueCapacity int `env:"OUTBOUND_QUEUE_CAPACITY" envDefault:"64"`

	AudioSampleRate     int     `env:"AUDIO_SAMPLE_RATE" envDefault:"16000"`
	PrefixPhrases       string  `env:"PREFIX_PHRASES" envDefault:"ESP,NATIONAL PG"`
	ConfidenceThreshold float64 `env:"CONFIDENCE_THRESHOLD" envDefault:"0.70"`
	AudioArchiveDir     string  `env:"AUDIO_ARCHIVE_DIR"`

	STTURL     string        `env:"STT_URL"`
	STTModel   string        `env:"STT_MODEL" envDefault:"base"`
	TTSURL     string        `env:"TTS_URL"`
	STTTimeout time.Duration `env:"STT_TIMEOUT" envDefault:"30s"`

	MQTTBrokerURL string `env:"MQTT_BROKER_URL"`
	MQTTClientID  string `env:"MQTT_CLIENT_ID" envDefault:"robohub"`
	MQTTUsername  string `env:"MQTT_USERNAME"`
	MQTTPassword  string `env:"MQTT_PASSWORD"`

	AuthToken string `env:"AUTH_TOKEN"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads configuration from an optional .env file and environment
// variables. Environment variables win over the .env file.
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.OutboundQueueCapacity < 1 {
		return fmt.Errorf("OUTBOUND_QUEUE_CAPACITY must be >= 1, got %d", c.OutboundQueueCapacity)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("CONFIDENCE_THRESHOLD must be in [0,1], got %g", c.ConfidenceThreshold)
	}
	if c.HeartbeatTimeout <= c.ReaperInterval {
		return fmt.Errorf("HEARTBEAT_TIMEOUT (%s) must exceed REAPER_INTERVAL (%s)", c.HeartbeatTimeout, c.ReaperInterval)
	}
	if len(c.WakePhrases()) == 0 {
		return fmt.Errorf("PREFIX_PHRASES must contain at least one phrase")
	}
	return nil
}

// WakePhrases returns the configured prefix phrases, upper-cased and trimmed.
func (c *Config) WakePhrases() []string {
	var phrases []string
	for _, p := range strings.Split(c.PrefixPhrases, ",") {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p != "" {
			phrases = append(phrases, p)
		}
	}
	return phrases
}
