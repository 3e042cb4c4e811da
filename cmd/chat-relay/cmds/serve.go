package cmds

import (
	"context"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/sources"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/chat-relay/pkg/config"
	"github.com/go-go-golems/chat-relay/pkg/redisstream"
	"github.com/go-go-golems/chat-relay/pkg/webchat"
)

type ServeCommand struct {
	*cmds.CommandDescription

	viper    *viper.Viper
	explicit func(key string) bool
	serve    func(ctx context.Context, s config.Settings) error
}

var _ cmds.BareCommand = &ServeCommand{}

// NewServeCommand builds the serve command. v holds the config file and
// environment; nil uses the global viper.
func NewServeCommand(v *viper.Viper) (*ServeCommand, error) {
	serverSection, err := config.NewSection()
	if err != nil {
		return nil, err
	}
	redisSection, err := redisstream.NewSection()
	if err != nil {
		return nil, err
	}
	if v == nil {
		v = viper.GetViper()
	}
	desc := cmds.NewCommandDescription(
		"serve",
		cmds.WithShort("Serve the websocket chat relay"),
		cmds.WithLong("Serve /ws and /api/health. Every flag can be set from the environment "+
			"using its upper-case form, e.g. PORT=8080 or SECRET_KEY=...."),
		cmds.WithSections(serverSection, redisSection),
	)
	return &ServeCommand{CommandDescription: desc, viper: v, serve: runServer}, nil
}

func (c *ServeCommand) Run(ctx context.Context, parsed *values.Values) error {
	settings, err := config.Resolve(parsed, c.viper, c.explicit)
	if err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	return c.serve(ctx, settings)
}

func (c *ServeCommand) middlewares(_ *values.Values, cmd *cobra.Command, args []string) ([]sources.Middleware, error) {
	flags := cmd.Flags()
	c.explicit = func(key string) bool { return flags.Changed(key) }
	return []sources.Middleware{
		sources.FromCobra(cmd),
		sources.FromArgs(args),
		sources.FromEnv(config.EnvPrefix,
			fields.WithSource("env"),
		),
		sources.FromDefaults(),
	}, nil
}

// BuildCobraCommand wires c into a cobra command.
func (c *ServeCommand) BuildCobraCommand() (*cobra.Command, error) {
	return cli.BuildCobraCommand(c, cli.WithCobraMiddlewaresFunc(c.middlewares))
}

func runServer(ctx context.Context, settings config.Settings) error {
	engine := "scripted"
	if settings.EngineURL != "" {
		engine = settings.EngineURL
	}
	log.Info().
		Str("addr", settings.Addr()).
		Str("engine", engine).
		Bool("redis", settings.Redis.Enabled).
		Msg("starting chat relay")

	srv, err := webchat.NewServer(ctx, settings)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}
