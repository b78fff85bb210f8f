package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	answerWindow      time.Duration
	bind              string
	channelTimeout    time.Duration
	clientBurst       int
	clientRate        float64
	codeAttempts      int
	outboxSize        int
	pointsPerQuestion int
	port              int
	postgresURL       string
	prefix            string
	profile           bool
	sqlitePath        string
	store             string
	tlsCert           string
	tlsKey            string
	totalRounds       int
	verbose           bool
	version           bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}

	switch c.store {
	case "memory":
	case "sqlite":
		if c.sqlitePath == "" {
			return errors.New("--sqlite-path is required with --store sqlite")
		}
	case "postgres":
		if c.postgresURL == "" {
			return errors.New("--postgres-url is required with --store postgres")
		}
	default:
		return fmt.Errorf("invalid store (must be one of memory, sqlite, postgres): %q", c.store)
	}

	if c.answerWindow < time.Second {
		return fmt.Errorf("invalid answer window (must be at least 1s): %s", c.answerWindow)
	}
	if c.pointsPerQuestion < 1 {
		return fmt.Errorf("invalid points per question (must be positive): %d", c.pointsPerQuestion)
	}
	if c.totalRounds < 1 {
		return fmt.Errorf("invalid total rounds (must be positive): %d", c.totalRounds)
	}
	if c.codeAttempts < 1 {
		return fmt.Errorf("invalid code attempts (must be positive): %d", c.codeAttempts)
	}
	if c.outboxSize < 1 {
		return fmt.Errorf("invalid outbox size (must be positive): %d", c.outboxSize)
	}
	if c.clientRate <= 0 || c.clientBurst < 1 {
		return errors.New("--client-rate and --client-burst must be positive")
	}

	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("SHABABSHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "shababshub",
		Short:         "Real-time rooms and quiz rounds for party games.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.DurationVar(&cfg.answerWindow, "answer-window", 20*time.Second, "time players have to answer each round (env: SHABABSHUB_ANSWER_WINDOW)")
	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: SHABABSHUB_BIND)")
	fs.DurationVar(&cfg.channelTimeout, "channel-timeout", 10*time.Minute, "time before idle room channels and workers are released (env: SHABABSHUB_CHANNEL_TIMEOUT)")
	fs.IntVar(&cfg.clientBurst, "client-burst", 10, "websocket messages a client may send in a burst (env: SHABABSHUB_CLIENT_BURST)")
	fs.Float64Var(&cfg.clientRate, "client-rate", 5, "websocket messages per second a client may send (env: SHABABSHUB_CLIENT_RATE)")
	fs.IntVar(&cfg.codeAttempts, "code-attempts", 5, "room code generation attempts before giving up (env: SHABABSHUB_CODE_ATTEMPTS)")
	fs.IntVar(&cfg.outboxSize, "outbox-size", 64, "events buffered per connection before it is dropped (env: SHABABSHUB_OUTBOX_SIZE)")
	fs.IntVar(&cfg.pointsPerQuestion, "points-per-question", 1, "points awarded for a correct answer (env: SHABABSHUB_POINTS_PER_QUESTION)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: SHABABSHUB_PORT)")
	fs.StringVar(&cfg.postgresURL, "postgres-url", "", "postgres connection string, for --store postgres (env: SHABABSHUB_POSTGRES_URL)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: SHABABSHUB_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: SHABABSHUB_PROFILE)")
	fs.StringVar(&cfg.sqlitePath, "sqlite-path", "shababshub.db", "database file, for --store sqlite (env: SHABABSHUB_SQLITE_PATH)")
	fs.StringVar(&cfg.store, "store", "memory", "persistence backend: memory, sqlite or postgres (env: SHABABSHUB_STORE)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: SHABABSHUB_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: SHABABSHUB_TLS_KEY)")
	fs.IntVar(&cfg.totalRounds, "total-rounds", 10, "rounds per quiz session unless the host says otherwise (env: SHABABSHUB_TOTAL_ROUNDS)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: SHABABSHUB_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: SHABABSHUB_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("shababshub v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
