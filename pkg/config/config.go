// Package config describes the relay's serve settings as a glazed section
// and resolves them, together with the redis section, into one typed
// Settings value.
//
// Values come from, lowest precedence first: field defaults, a config file
// or the environment (read through viper), explicit command line flags.
// Every setting can be set from the environment using its upper-case,
// underscore form (PORT, SECRET_KEY, ...) or the same name prefixed with
// CHAT_RELAY_.
package config

import (
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/go-go-golems/chat-relay/pkg/redisstream"
)

const (
	SectionSlug = "server"
	EnvPrefix   = "CHAT_RELAY"

	DefaultPort      = 5000
	DefaultSecretKey = "tc-chat-secret-2024"
)

// Settings is the resolved configuration handed to the server.
type Settings struct {
	Host      string
	Port      int
	SecretKey string

	LogLevel  string
	LogFormat string

	Redis redisstream.Settings

	EngineURL     string
	EngineTimeout time.Duration
	ScriptFile    string

	AssistantName   string
	WelcomeTemplate string
	ThinkingDelay   time.Duration

	IdleTimeout  time.Duration
	SendBuffer   int
	WriteTimeout time.Duration
	PingInterval time.Duration

	EnableDebugRoutes bool
}

// ServerSettings is the raw server section. Durations are kept as strings
// and parsed by Build.
type ServerSettings struct {
	Host              string `glazed:"host"`
	Port              int    `glazed:"port"`
	SecretKey         string `glazed:"secret-key"`
	EngineURL         string `glazed:"engine-url"`
	EngineTimeout     string `glazed:"engine-timeout"`
	ScriptFile        string `glazed:"script-file"`
	AssistantName     string `glazed:"assistant-name"`
	WelcomeTemplate   string `glazed:"welcome-template"`
	ThinkingDelay     string `glazed:"thinking-delay"`
	IdleTimeout       string `glazed:"idle-timeout"`
	SendBuffer        int    `glazed:"send-buffer"`
	WriteTimeout      string `glazed:"write-timeout"`
	PingInterval      string `glazed:"ping-interval"`
	EnableDebugRoutes bool   `glazed:"enable-debug-routes"`
}

func DefaultServerSettings() ServerSettings {
	return ServerSettings{
		Host:          "0.0.0.0",
		Port:          DefaultPort,
		SecretKey:     DefaultSecretKey,
		EngineTimeout: "30s",
		AssistantName: "Nicki (TC)",
		ThinkingDelay: "1s",
		IdleTimeout:   "1m",
		SendBuffer:    64,
		WriteTimeout:  "10s",
		PingInterval:  "30s",
	}
}

// NewSection returns the server section definition.
func NewSection() (schema.Section, error) {
	d := DefaultServerSettings()
	return schema.NewSection(
		SectionSlug,
		"Relay server settings",
		schema.WithFields(
			fields.New("host", fields.TypeString, fields.WithDefault(d.Host),
				fields.WithHelp("Interface to listen on")),
			fields.New("port", fields.TypeInteger, fields.WithDefault(d.Port),
				fields.WithHelp("Port to listen on")),
			fields.New("secret-key", fields.TypeString, fields.WithDefault(d.SecretKey),
				fields.WithHelp("Secret used to sign engine requests")),
			fields.New("engine-url", fields.TypeString, fields.WithDefault(d.EngineURL),
				fields.WithHelp("Response engine endpoint; empty uses the scripted engine")),
			fields.New("engine-timeout", fields.TypeString, fields.WithDefault(d.EngineTimeout),
				fields.WithHelp("Timeout of one engine call")),
			fields.New("script-file", fields.TypeString, fields.WithDefault(d.ScriptFile),
				fields.WithHelp("YAML rules for the scripted engine")),
			fields.New("assistant-name", fields.TypeString, fields.WithDefault(d.AssistantName),
				fields.WithHelp("Display name of assistant messages")),
			fields.New("welcome-template", fields.TypeString, fields.WithDefault(d.WelcomeTemplate),
				fields.WithHelp("Greeting for new sessions; {{user}} is replaced by the user name")),
			fields.New("thinking-delay", fields.TypeString, fields.WithDefault(d.ThinkingDelay),
				fields.WithHelp("Delay before the engine is called")),
			fields.New("idle-timeout", fields.TypeString, fields.WithDefault(d.IdleTimeout),
				fields.WithHelp("Stop a session's stream reader after it had no connections for this long")),
			fields.New("send-buffer", fields.TypeInteger, fields.WithDefault(d.SendBuffer),
				fields.WithHelp("Per-connection outbound frame queue")),
			fields.New("write-timeout", fields.TypeString, fields.WithDefault(d.WriteTimeout),
				fields.WithHelp("Websocket write deadline")),
			fields.New("ping-interval", fields.TypeString, fields.WithDefault(d.PingInterval),
				fields.WithHelp("Websocket ping interval; 0 disables pings")),
			fields.New("enable-debug-routes", fields.TypeBool, fields.WithDefault(d.EnableDebugRoutes),
				fields.WithHelp("Expose /api/debug/* routes")),
		),
	)
}

var serverKeys = []string{
	"host", "port", "secret-key", "engine-url", "engine-timeout", "script-file",
	"assistant-name", "welcome-template", "thinking-delay", "idle-timeout",
	"send-buffer", "write-timeout", "ping-interval", "enable-debug-routes",
}

var redisKeys = []string{"redis-enabled", "redis-addr", "redis-group", "redis-consumer"}

var loggingKeys = []string{"log-level", "log-format"}

// EnvName is the unprefixed environment variable of a setting.
func EnvName(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

// BindEnvironment binds every setting of v to its environment variables:
// PORT and CHAT_RELAY_PORT for "port", and so on.
func BindEnvironment(v *viper.Viper) error {
	keys := append(append(append([]string{}, serverKeys...), redisKeys...), loggingKeys...)
	for _, key := range keys {
		name := EnvName(key)
		if err := v.BindEnv(key, name, EnvPrefix+"_"+name); err != nil {
			return errors.Wrapf(err, "bind env %s", name)
		}
	}
	return nil
}

// Logging returns the log level and format configured in v.
func Logging(v *viper.Viper) (level, format string) {
	level, format = "info", "text"
	if v == nil {
		return level, format
	}
	if s := strings.TrimSpace(v.GetString("log-level")); s != "" {
		level = s
	}
	if s := strings.TrimSpace(v.GetString("log-format")); s != "" {
		format = s
	}
	return level, format
}

// ApplyViper overwrites the glazed-tagged fields of target with the values v
// holds for them, skipping keys for which explicit reports true.
func ApplyViper(v *viper.Viper, explicit func(key string) bool, keys []string, target any) error {
	if v == nil {
		return nil
	}
	overrides := map[string]any{}
	for _, key := range keys {
		if explicit != nil && explicit(key) {
			continue
		}
		if v.IsSet(key) {
			overrides[key] = v.Get(key)
		}
	}
	if len(overrides) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "glazed",
		WeaklyTypedInput: true,
		Result:           target,
	})
	if err != nil {
		return errors.Wrap(err, "build settings decoder")
	}
	return errors.Wrap(dec.Decode(overrides), "apply config overrides")
}

// Resolve decodes the server and redis sections of parsed, lays the config
// file and environment held by v over the keys that were not set explicitly
// on the command line, and builds validated Settings.
func Resolve(parsed *values.Values, v *viper.Viper, explicit func(key string) bool) (Settings, error) {
	server := DefaultServerSettings()
	if err := parsed.DecodeSectionInto(SectionSlug, &server); err != nil {
		return Settings{}, errors.Wrap(err, "decode server settings")
	}
	redis := redisstream.Settings{}
	if err := parsed.DecodeSectionInto(redisstream.SectionSlug, &redis); err != nil {
		return Settings{}, errors.Wrap(err, "decode redis settings")
	}
	if err := ApplyViper(v, explicit, serverKeys, &server); err != nil {
		return Settings{}, err
	}
	if err := ApplyViper(v, explicit, redisKeys, &redis); err != nil {
		return Settings{}, err
	}
	level, format := Logging(v)
	return Build(server, redis, level, format)
}

// Build parses and validates raw section values.
func Build(server ServerSettings, redis redisstream.Settings, logLevel, logFormat string) (Settings, error) {
	redis, err := redis.Normalize()
	if err != nil {
		return Settings{}, err
	}
	s := Settings{
		Host:              strings.TrimSpace(server.Host),
		Port:              server.Port,
		SecretKey:         server.SecretKey,
		LogLevel:          logLevel,
		LogFormat:         logFormat,
		Redis:             redis,
		EngineURL:         strings.TrimSpace(server.EngineURL),
		ScriptFile:        strings.TrimSpace(server.ScriptFile),
		AssistantName:     strings.TrimSpace(server.AssistantName),
		WelcomeTemplate:   server.WelcomeTemplate,
		SendBuffer:        server.SendBuffer,
		EnableDebugRoutes: server.EnableDebugRoutes,
	}
	if s.SecretKey == "" {
		s.SecretKey = DefaultSecretKey
	}
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"engine-timeout", server.EngineTimeout, &s.EngineTimeout},
		{"thinking-delay", server.ThinkingDelay, &s.ThinkingDelay},
		{"idle-timeout", server.IdleTimeout, &s.IdleTimeout},
		{"write-timeout", server.WriteTimeout, &s.WriteTimeout},
		{"ping-interval", server.PingInterval, &s.PingInterval},
	}
	for _, d := range durations {
		if strings.TrimSpace(d.raw) == "" {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Settings{}, errors.Wrapf(err, "parse %s", d.key)
		}
		*d.dst = v
	}
	return s, s.Validate()
}

// Addr is the listen address.
func (s Settings) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

func (s Settings) Validate() error {
	if s.Port <= 0 || s.Port > 65535 {
		return errors.Errorf("invalid port %d", s.Port)
	}
	if s.EngineURL != "" {
		u, err := url.Parse(s.EngineURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return errors.Errorf("invalid engine url %q", s.EngineURL)
		}
	}
	if s.ThinkingDelay < 0 {
		return errors.New("thinking-delay must not be negative")
	}
	if s.SendBuffer <= 0 {
		return errors.Errorf("send-buffer must be positive, got %d", s.SendBuffer)
	}
	return nil
}
