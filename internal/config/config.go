package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var ErrMissingSetting = errors.New("missing required setting")

type Config struct {
	GRPCTarget    string        `mapstructure:"grpc_target"`
	GRPCInsecure  bool          `mapstructure:"grpc_insecure"`
	GRPCKeepalive time.Duration `mapstructure:"grpc_keepalive"`
	ClientID      string        `mapstructure:"client_id"`
	ClientSecret  string        `mapstructure:"client_secret"`
	MSISDN        string        `mapstructure:"msisdn"`

	TokenURL   string `mapstructure:"token_url"`
	TokenScope string `mapstructure:"token_scope"`

	OpenAIAPIKey string `mapstructure:"openai_api_key"`
	OpenAIModel  string `mapstructure:"openai_model"`
	OpenAIURL    string `mapstructure:"openai_url"`
	GeminiAPIKey string `mapstructure:"gemini_api_key"`
	GeminiModel  string `mapstructure:"gemini_model"`
	GeminiVoice  string `mapstructure:"gemini_voice"`

	Mode      string `mapstructure:"mode"`
	HTTPAddr  string `mapstructure:"http_addr"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	QueueSize              int           `mapstructure:"queue_size"`
	HandlerShutdownTimeout time.Duration `mapstructure:"handler_shutdown_timeout"`
	ShutdownTimeout        time.Duration `mapstructure:"shutdown_timeout"`
	NegotiationTimeout     time.Duration `mapstructure:"negotiation_timeout"`
	SendByeOnFailure       bool          `mapstructure:"send_bye_on_failure"`
	OfferRateLimit         int           `mapstructure:"offer_rate_limit"`
	OfferRateWindow        time.Duration `mapstructure:"offer_rate_window"`
}

func setDefaults(v *viper.Viper) {
	for _, key := range []string{"grpc_target", "client_id", "client_secret", "msisdn", "openai_api_key", "gemini_api_key"} {
		v.SetDefault(key, "")
	}
	v.SetDefault("grpc_insecure", false)
	v.SetDefault("grpc_keepalive", "5m")
	v.SetDefault("token_url", "https://id.wgtwo.com/oauth2/token")
	v.SetDefault("token_scope", "call.control.answer_and_initiate")
	v.SetDefault("openai_model", "gpt-4o-mini-realtime-preview-2024-12-17")
	v.SetDefault("openai_url", "wss://api.openai.com/v1/realtime")
	v.SetDefault("gemini_model", "gemini-2.0-flash-exp")
	v.SetDefault("gemini_voice", "Puck")
	v.SetDefault("mode", "release")
	v.SetDefault("http_addr", "localhost:54543")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("queue_size", 64)
	v.SetDefault("handler_shutdown_timeout", "3s")
	v.SetDefault("shutdown_timeout", "10s")
	v.SetDefault("negotiation_timeout", "10s")
	v.SetDefault("send_bye_on_failure", true)
	v.SetDefault("offer_rate_limit", 0)
	v.SetDefault("offer_rate_window", "1m")
}

func flagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("voicebot", pflag.ContinueOnError)
	fs.String("config", "", "config file (default config/config.$CONFIG_ENV.yaml)")
	fs.String("grpc-target", "", "signaling service address")
	fs.Bool("grpc-insecure", false, "plaintext gRPC, local testing only")
	fs.String("client-id", "", "OAuth client id")
	fs.String("client-secret", "", "OAuth client secret")
	fs.String("msisdn", "", "subscriber number the bot answers for")
	fs.String("openai-api-key", "", "use the OpenAI realtime handler")
	fs.String("gemini-api-key", "", "use the Gemini live handler")
	fs.String("http-addr", "", "status API listen address")
	fs.StringP("log-level", "l", "", "log level")
	fs.String("log-format", "", "console or json")
	return fs
}

// Load reads defaults, then the YAML file, then the environment
// (GRPC_TARGET, CLIENT_ID, ...), then command-line flags.
func Load(args []string) (*Config, error) {
	fs := flagSet()
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	fileName, _ := fs.GetString("config")
	if fileName == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		fileName = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(fileName)
	if err := v.ReadInConfig(); err != nil {
		log.Debug().Str("module", "config").Str("file", fileName).Msg("config file not loaded, using defaults and environment")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config file")
	}

	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" {
			return
		}
		bindErr = errors.Join(bindErr, v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f))
	})
	if bindErr != nil {
		return nil, fmt.Errorf("bind flags: %w", bindErr)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// Validate reports every required setting that is empty.
func (c *Config) Validate() error {
	var missing []string
	for _, s := range []struct{ name, val string }{
		{"grpc_target", c.GRPCTarget},
		{"client_id", c.ClientID},
		{"client_secret", c.ClientSecret},
		{"msisdn", c.MSISDN},
	} {
		if s.val == "" {
			missing = append(missing, s.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingSetting, strings.Join(missing, ", "))
	}
	return nil
}

// Backend names the handler calls will use: an OpenAI key wins over a
// Gemini key; with neither, calls are echoed.
func (c *Config) Backend() string {
	switch {
	case c.OpenAIAPIKey != "":
		return "openai"
	case c.GeminiAPIKey != "":
		return "gemini"
	default:
		return "echo"
	}
}
