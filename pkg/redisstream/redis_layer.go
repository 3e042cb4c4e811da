package redisstream

import (
	"strings"

	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"
)

const SectionSlug = "redis"

// Settings holds Redis Streams transport configuration for Watermill.
type Settings struct {
	Enabled  bool   `glazed:"redis-enabled"`
	Addr     string `glazed:"redis-addr"`
	Group    string `glazed:"redis-group"`
	Consumer string `glazed:"redis-consumer"`
}

// NewSection returns the section definition for Redis Streams settings.
func NewSection() (schema.Section, error) {
	return schema.NewSection(
		SectionSlug,
		"Redis configuration for Watermill Redis Streams",
		schema.WithFields(
			fields.New("redis-enabled", fields.TypeBool,
				fields.WithDefault(false),
				fields.WithHelp("Enable Redis Streams transport for session events")),
			fields.New("redis-addr", fields.TypeString,
				fields.WithDefault("localhost:6379"),
				fields.WithHelp("Redis address host:port")),
			fields.New("redis-group", fields.TypeString,
				fields.WithDefault("chat-relay"),
				fields.WithHelp("Redis consumer group prefix")),
			fields.New("redis-consumer", fields.TypeString,
				fields.WithDefault("relay-1"),
				fields.WithHelp("Redis consumer name")),
		),
	)
}

// SettingsFromValues decodes the redis section.
func SettingsFromValues(parsed *values.Values) (Settings, error) {
	s := Settings{}
	if err := parsed.DecodeSectionInto(SectionSlug, &s); err != nil {
		return Settings{}, errors.Wrap(err, "decode redis settings")
	}
	return s.Normalize()
}

// Normalize trims the settings and fills empty names.
func (s Settings) Normalize() (Settings, error) {
	s.Addr = strings.TrimSpace(s.Addr)
	s.Group = strings.TrimSpace(s.Group)
	s.Consumer = strings.TrimSpace(s.Consumer)
	if s.Enabled && s.Addr == "" {
		return s, errors.New("redis-addr must be set when redis is enabled")
	}
	if s.Group == "" {
		s.Group = "chat-relay"
	}
	if s.Consumer == "" {
		s.Consumer = "relay-1"
	}
	return s, nil
}
