package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/VasilyKirillov/smbjclient/client"
	"github.com/VasilyKirillov/smbjclient/config"
)

// flags holds the command line; file settings are merged in by settings.
type flags struct {
	user    string
	host    string
	share   string
	path    string
	file    string
	domain  string
	port    int
	config  string
	timeout time.Duration
	debug   bool
	stats   bool
}

// invocation is everything an operation needs after flags and config are merged.
type invocation struct {
	cfg      config.Config
	user     string
	domain   string
	password string
	path     string
	file     string
	stats    bool
	log      *log.Logger
}

func newRootCmd(stderr io.Writer) *cobra.Command {
	f := &flags{}

	root := &cobra.Command{
		Use:   "smbclient",
		Short: "Copy files to and from SMB2/SMB3 shares",
		Long: `smbclient talks SMB 2.0.2 through 3.1.1 to a file server, authenticates
with NTLMv2 and copies whole files between the local disk and a share.

Settings not given as flags are read from ~/.smbclient.yml or --config.`,
		Example: `  smbclient get -u 'alice%secret' -H fileserver -s public -p docs/report.pdf -f report.pdf
  smbclient put -u 'CORP\alice%secret' -H fileserver -s public -p backup/db.tar -f db.tar
  smbclient mkdir -u alice@corp%secret -H fileserver -s public -p backup/2024`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return &usageError{fmt.Errorf("unknown operation %q", args[0])}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return &usageError{errors.New("missing operation: get, put or mkdir")}
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{err}
	})

	pf := root.PersistentFlags()
	pf.StringVarP(&f.user, "user", "u", "", `credentials as user%password; the user may be DOMAIN\user or user@domain`)
	pf.StringVarP(&f.host, "host", "H", "", "server host name or address")
	pf.StringVarP(&f.share, "share", "s", "", "share name")
	pf.StringVarP(&f.path, "path", "p", "", "path on the share")
	pf.StringVarP(&f.file, "file", "f", "", "local file")
	pf.BoolVarP(&f.debug, "debug", "d", false, "log every SMB2 request and response")
	pf.StringVar(&f.domain, "domain", "", "authentication domain")
	pf.IntVar(&f.port, "port", 445, "server TCP port")
	pf.StringVar(&f.config, "config", "", "config file (default: ~/"+config.FileName+")")
	pf.DurationVar(&f.timeout, "timeout", 30*time.Second, "timeout for dialing and each response")
	pf.BoolVar(&f.stats, "stats", false, "log protocol counters after the operation")

	root.AddCommand(
		&cobra.Command{
			Use:   "get",
			Short: "Download --path from the share into --file",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				inv, err := f.settings(cmd, stderr, true)
				if err != nil {
					return err
				}
				return inv.execute(cmd.Context(), inv.get)
			},
		},
		&cobra.Command{
			Use:   "put",
			Short: "Upload --file to --path on the share, creating parent directories",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				inv, err := f.settings(cmd, stderr, true)
				if err != nil {
					return err
				}
				return inv.execute(cmd.Context(), inv.put)
			},
		},
		&cobra.Command{
			Use:   "mkdir",
			Short: "Create --path and every missing parent directory on the share",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				inv, err := f.settings(cmd, stderr, false)
				if err != nil {
					return err
				}
				return inv.execute(cmd.Context(), inv.mkdir)
			},
		},
	)

	return root
}

// parseCredentials splits user%password on the first percent sign and
// pulls a domain out of DOMAIN\user or user@domain.
func parseCredentials(s string) (user, domain, password string) {
	user, password, _ = strings.Cut(s, "%")
	if d, u, ok := strings.Cut(user, `\`); ok {
		return u, d, password
	}
	if i := strings.LastIndex(user, "@"); i > 0 {
		return user[:i], user[i+1:], password
	}
	return user, "", password
}

// settings merges the config file with the flags that were set and checks
// that everything the operation needs is present.
func (f *flags) settings(cmd *cobra.Command, stderr io.Writer, needFile bool) (*invocation, error) {
	var (
		cfg config.Config
		err error
	)
	if f.config != "" {
		cfg, err = config.Load(f.config)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	changed := cmd.Flags().Changed
	if changed("host") {
		cfg.Host = f.host
	}
	if changed("share") {
		cfg.Share = f.share
	}
	if changed("port") {
		cfg.Port = f.port
	}
	if changed("timeout") {
		cfg.Timeout = f.timeout
	}
	if changed("debug") {
		cfg.Debug = f.debug
	}
	if err := cfg.Validate(); err != nil {
		return nil, &usageError{fmt.Errorf("invalid settings: %w", err)}
	}

	credentials := f.user
	if credentials == "" {
		credentials = cfg.User
	}
	user, domain, password := parseCredentials(credentials)
	if domain == "" {
		domain = cfg.Domain
	}
	if changed("domain") {
		domain = f.domain
	}

	var missing []string
	for _, m := range []struct {
		name  string
		value string
		need  bool
	}{
		{"--user", user, true},
		{"--host", cfg.Host, true},
		{"--share", cfg.Share, true},
		{"--path", f.path, true},
		{"--file", f.file, needFile},
	} {
		if m.need && m.value == "" {
			missing = append(missing, m.name)
		}
	}
	if len(missing) > 0 {
		return nil, &usageError{fmt.Errorf("missing required flags: %s", strings.Join(missing, ", "))}
	}

	level := log.InfoLevel
	if cfg.Debug {
		level = log.DebugLevel
	}
	logger := log.NewWithOptions(stderr, log.Options{
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
		Prefix:          "smbclient",
	})

	return &invocation{
		cfg:      cfg,
		user:     user,
		domain:   domain,
		password: password,
		path:     f.path,
		file:     f.file,
		stats:    f.stats,
		log:      logger,
	}, nil
}

// execute connects, authenticates and opens the share, runs op and
// always closes the client.
func (inv *invocation) execute(ctx context.Context, op func(context.Context, *client.Client, *client.Tree) error) error {
	opts, err := inv.cfg.Options()
	if err != nil {
		return err
	}
	opts.Logger = inv.log.WithPrefix("smb")

	var reg *prometheus.Registry
	if inv.stats {
		reg = prometheus.NewRegistry()
		opts.Metrics = client.NewMetrics(reg)
	}

	c := client.New(opts)
	defer c.Close()

	if err := c.Connect(ctx, inv.cfg.Addr()); err != nil {
		return err
	}
	if err := c.Authenticate(ctx, inv.user, inv.domain, inv.password); err != nil {
		return err
	}
	tree, err := c.OpenShare(ctx, inv.cfg.Share)
	if err != nil {
		return err
	}

	err = op(ctx, c, tree)
	if reg != nil {
		logStats(inv.log, reg)
	}
	return err
}

func (inv *invocation) get(ctx context.Context, c *client.Client, tree *client.Tree) error {
	out, err := os.Create(inv.file)
	if err != nil {
		return err
	}

	_, err = c.GetFile(ctx, tree, inv.path, out)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(inv.file)
	}
	return err
}

func (inv *invocation) put(ctx context.Context, c *client.Client, tree *client.Tree) error {
	in, err := os.Open(inv.file)
	if err != nil {
		return err
	}
	defer in.Close()

	_, err = c.PutFile(ctx, tree, in, inv.path)
	return err
}

func (inv *invocation) mkdir(ctx context.Context, c *client.Client, tree *client.Tree) error {
	if err := c.EnsurePath(ctx, tree, inv.path); err != nil {
		return err
	}
	inv.log.Info("directory ready", "path", inv.path)
	return nil
}

// logStats logs every sample of the registry, one line per series.
func logStats(logger *log.Logger, reg *prometheus.Registry) {
	mfs, err := reg.Gather()
	if err != nil {
		logger.Warn("gather stats", "err", err)
		return
	}

	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			kv := []any{"metric", mf.GetName()}
			for _, lp := range m.GetLabel() {
				kv = append(kv, lp.GetName(), lp.GetValue())
			}
			switch {
			case m.GetCounter() != nil:
				kv = append(kv, "value", m.GetCounter().GetValue())
			case m.GetGauge() != nil:
				kv = append(kv, "value", m.GetGauge().GetValue())
			}
			logger.Info("stats", kv...)
		}
	}
}
