// Package config loads relay settings from the environment, optionally
// layered over a dotenv or YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultEnvFile is read when no config file is given and it exists.
const DefaultEnvFile = ".env"

// DefaultPersona is the persona used when neither RELAY_PERSONA nor
// RELAY_PERSONA_FILE is set.
const DefaultPersona = "Imagine you are Elon Musk." +
	"Follow his thinking:" +
	"First Principles Thinking — break ideas down to physics, economics, and logic before rebuilding them." +
	"Clarity and precision. No fluff. Every word earns its place." +
	"Engineer’s mindset. Seek the mechanism, formula, or system behind every idea." +
	"Visionary tone. Speak like someone designing the future " +
	"Style: calm, confident, slightly ironic, driven by curiosity and purpose." +
	"Response format:" +
	"– Maximum meaning, minimum words." +
	"– When giving opinions, make them sound like conclusions from an engineer." +
	"– For complex topics, start with the principle, then the insight." +
	"Example:" +
	"“People fear AI. But AI is just a mirror. If you don’t like what you see — the problem isn’t the mirror.”" +
	"Now, respond to all future prompts in this exact mindset and tone."

// Config holds everything the relay process needs.
type Config struct {
	Commander       string
	TelegramAPIBase string
	TelegramToken   string
	Timeout         int
	SleepSeconds    int
	DropPending     bool
	PendingWindow   time.Duration
	PendingMax      int

	CircuitThreshold int
	CircuitCooldown  time.Duration

	ModelProvider  string
	GeminiAPIKey   string
	GeminiModel    string
	GeminiBaseURL  string
	GeminiTimeout  time.Duration
	OpenAIAPIKey   string
	OpenAIChatURL  string
	OpenAIModel    string
	OpenAITimeout  time.Duration
	ErrorPrefix    string
	Persona        string
	MaxContextMsgs int

	EventDBPath string
	MetricsAddr string

	LogLevel  string
	LogFormat string
	LogFile   string

	DummyProviderScript  string
	DummyCommanderScript string
	DummySendScript      string
}

// BotAPIBase returns the Bot API base URL including the token path segment.
func (c Config) BotAPIBase() string {
	return strings.TrimRight(c.TelegramAPIBase, "/") + "/bot" + c.TelegramToken
}

// ModelName returns the model the configured provider talks to.
func (c Config) ModelName() string {
	switch c.ModelProvider {
	case "openai":
		return c.OpenAIModel
	case "dummy":
		return "dummy"
	default:
		return c.GeminiModel
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("relay_commander", "telegram")
	v.SetDefault("telegram_api_base", "https://api.telegram.org")
	v.SetDefault("tg_timeout", 30)
	v.SetDefault("tg_sleep_seconds", 1)
	v.SetDefault("tg_drop_pending", true)
	v.SetDefault("tg_pending_window_seconds", 600)
	v.SetDefault("tg_pending_max_messages", 50)
	v.SetDefault("relay_poll_circuit_threshold", 5)
	v.SetDefault("relay_poll_circuit_cooldown_seconds", 30)
	v.SetDefault("relay_model_provider", "gemini")
	v.SetDefault("gemini_model", "gemini-2.5-flash-lite")
	v.SetDefault("gemini_timeout_seconds", 120)
	v.SetDefault("openai_chat_completions_url", "https://api.openai.com/v1/chat/completions")
	v.SetDefault("openai_model", "gpt-4o-mini")
	v.SetDefault("openai_timeout_seconds", 120)
	v.SetDefault("relay_max_context_messages", 5)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("relay_dummy_provider_script", "ok")
	v.SetDefault("relay_dummy_commander_script", "ok")
	v.SetDefault("relay_dummy_send_script", "ok")
}

// Load reads configuration. Environment variables win over the file. An
// explicit path must exist; the default .env file is optional.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if err := readFile(v, path); err != nil {
		return Config{}, err
	}

	cfg := Config{
		Commander:            strings.ToLower(v.GetString("relay_commander")),
		TelegramAPIBase:      v.GetString("telegram_api_base"),
		TelegramToken:        v.GetString("telegram_bot_token"),
		Timeout:              v.GetInt("tg_timeout"),
		SleepSeconds:         v.GetInt("tg_sleep_seconds"),
		DropPending:          v.GetBool("tg_drop_pending"),
		PendingWindow:        seconds(v.GetInt("tg_pending_window_seconds")),
		PendingMax:           v.GetInt("tg_pending_max_messages"),
		CircuitThreshold:     v.GetInt("relay_poll_circuit_threshold"),
		CircuitCooldown:      seconds(v.GetInt("relay_poll_circuit_cooldown_seconds")),
		ModelProvider:        strings.ToLower(v.GetString("relay_model_provider")),
		GeminiAPIKey:         v.GetString("gemini_api_key"),
		GeminiModel:          v.GetString("gemini_model"),
		GeminiBaseURL:        v.GetString("gemini_base_url"),
		GeminiTimeout:        seconds(v.GetInt("gemini_timeout_seconds")),
		OpenAIAPIKey:         v.GetString("openai_api_key"),
		OpenAIChatURL:        v.GetString("openai_chat_completions_url"),
		OpenAIModel:          v.GetString("openai_model"),
		OpenAITimeout:        seconds(v.GetInt("openai_timeout_seconds")),
		ErrorPrefix:          v.GetString("relay_error_prefix"),
		MaxContextMsgs:       v.GetInt("relay_max_context_messages"),
		EventDBPath:          v.GetString("relay_event_db_path"),
		MetricsAddr:          v.GetString("relay_metrics_addr"),
		LogLevel:             v.GetString("log_level"),
		LogFormat:            v.GetString("log_format"),
		LogFile:              v.GetString("log_file"),
		DummyProviderScript:  v.GetString("relay_dummy_provider_script"),
		DummyCommanderScript: v.GetString("relay_dummy_commander_script"),
		DummySendScript:      v.GetString("relay_dummy_send_script"),
	}

	persona, err := loadPersona(v.GetString("relay_persona"), v.GetString("relay_persona_file"))
	if err != nil {
		return Config{}, err
	}
	cfg.Persona = persona

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func readFile(v *viper.Viper, path string) error {
	explicit := path != ""
	if !explicit {
		if _, err := os.Stat(DefaultEnvFile); err != nil {
			return nil
		}
		path = DefaultEnvFile
	}
	v.SetConfigFile(path)
	if strings.HasSuffix(path, ".env") {
		v.SetConfigType("env")
	}
	if err := v.ReadInConfig(); err != nil {
		var pathErr *os.PathError
		if !explicit && errors.As(err, &pathErr) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

func loadPersona(inline, file string) (string, error) {
	if file != "" {
		raw, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("RELAY_PERSONA_FILE: %w", err)
		}
		persona := strings.TrimSpace(string(raw))
		if persona == "" {
			return "", fmt.Errorf("RELAY_PERSONA_FILE %s is empty", file)
		}
		return persona, nil
	}
	if strings.TrimSpace(inline) != "" {
		return inline, nil
	}
	return DefaultPersona, nil
}

func (c Config) validate() error {
	switch c.Commander {
	case "telegram":
		if c.TelegramToken == "" {
			return fmt.Errorf("TELEGRAM_BOT_TOKEN is required in environment when RELAY_COMMANDER=telegram")
		}
	case "dummy":
	default:
		return fmt.Errorf("RELAY_COMMANDER must be telegram or dummy, got %q", c.Commander)
	}

	switch c.ModelProvider {
	case "gemini":
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required in environment when RELAY_MODEL_PROVIDER=gemini")
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required in environment when RELAY_MODEL_PROVIDER=openai")
		}
	case "dummy":
	default:
		return fmt.Errorf("RELAY_MODEL_PROVIDER must be gemini, openai or dummy, got %q", c.ModelProvider)
	}

	if c.Timeout < 0 {
		return fmt.Errorf("TG_TIMEOUT must be >= 0")
	}
	if c.SleepSeconds < 0 {
		return fmt.Errorf("TG_SLEEP_SECONDS must be >= 0")
	}
	if c.PendingMax < 0 {
		return fmt.Errorf("TG_PENDING_MAX_MESSAGES must be >= 0")
	}
	if c.GeminiTimeout <= 0 {
		return fmt.Errorf("GEMINI_TIMEOUT_SECONDS must be > 0")
	}
	if c.OpenAITimeout <= 0 {
		return fmt.Errorf("OPENAI_TIMEOUT_SECONDS must be > 0")
	}
	switch strings.ToLower(c.LogFormat) {
	case "console", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be console or json, got %q", c.LogFormat)
	}
	return nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// EventDBPath resolves RELAY_EVENT_DB_PATH without requiring credentials, for
// tools that only read the journal.
func EventDBPath(path string) (string, error) {
	v := viper.New()
	v.AutomaticEnv()
	if err := readFile(v, path); err != nil {
		return "", err
	}
	return v.GetString("relay_event_db_path"), nil
}
