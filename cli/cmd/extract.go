package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ls1intum/Hephaestus-sub003/cli/internal/extract"
	"github.com/ls1intum/Hephaestus-sub003/cli/internal/store"
	"github.com/ls1intum/Hephaestus-sub003/cli/pkg/output"
	"github.com/ls1intum/Hephaestus-sub003/common/logging"
	"github.com/ls1intum/Hephaestus-sub003/common/messaging"

	natsclient "github.com/ls1intum/Hephaestus-sub003/common/messaging/nats"
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract webhook examples from the stream",
	Long: `Replay stored webhook deliveries through a temporary consumer and write one
JSON fixture per event and action. Existing fixtures are never overwritten.

Replaying does not remove anything from the stream.`,
	Example: `  webhooks extract --output-dir testdata/github
  webhooks extract --event issues:opened,closed --event pull_request --since 24h
  webhooks extract --subject 'github.ls1intum.>' --allow-duplicates --dry-run -o json`,
	Args: cobra.NoArgs,
	RunE: runExtract,
}

// dialReplayer opens the broker session for a run.
var dialReplayer = func(cfg natsclient.Config) extract.Dialer {
	return func(ctx context.Context) (messaging.Replayer, error) {
		client, err := natsclient.NewJetStreamClient(cfg)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

func init() {
	rootCmd.AddCommand(extractCmd)

	f := extractCmd.Flags()
	f.String("nats-url", "", "NATS server URL (default nats://localhost:4222)")
	f.String("stream", "", "stream to replay (default GITHUB)")
	f.String("subject", "", "subject filter, wildcards allowed (default github.>)")
	f.String("output-dir", "", "directory fixtures are written to")
	f.StringArray("event", nil, "only extract event[:action[,action]], repeatable")
	f.String("since", "", "start time: RFC3339, YYYY-MM-DD or a duration like 24h")
	f.String("until", "", "end time (exclusive): RFC3339, YYYY-MM-DD or a duration")
	f.Bool("allow-duplicates", false, "keep repeated event/action pairs with a numeric suffix")
	f.Bool("new-only", false, "only wait for deliveries stored from now on")
	f.Int("batch-size", extract.DefaultBatchSize, "messages per fetch")
	f.Duration("fetch-timeout", extract.DefaultFetchTimeout, "how long a fetch waits for messages")
	f.Bool("dry-run", false, "report what would be written without writing")

	bindExtractFlags(v, f)
}

func setExtractDefaults(v *viper.Viper) {
	v.SetDefault("extract.subject", messaging.SubjectWildcard)
	v.SetDefault("extract.output_dir", "testdata/github")
	v.SetDefault("extract.events", []string{})
	v.SetDefault("extract.since", "")
	v.SetDefault("extract.until", "")
	v.SetDefault("extract.allow_duplicates", false)
	v.SetDefault("extract.new_only", false)
	v.SetDefault("extract.batch_size", extract.DefaultBatchSize)
	v.SetDefault("extract.fetch_timeout", extract.DefaultFetchTimeout)
	v.SetDefault("extract.dry_run", false)
}

// bindExtractFlags maps flags onto config keys so a flag set on the command
// line wins over the environment and the config file.
func bindExtractFlags(v *viper.Viper, f *pflag.FlagSet) {
	bindings := map[string]string{
		"nats.url":                 "nats-url",
		"nats.stream":              "stream",
		"extract.subject":          "subject",
		"extract.output_dir":       "output-dir",
		"extract.since":            "since",
		"extract.until":            "until",
		"extract.allow_duplicates": "allow-duplicates",
		"extract.new_only":         "new-only",
		"extract.batch_size":       "batch-size",
		"extract.fetch_timeout":    "fetch-timeout",
		"extract.dry_run":          "dry-run",
	}
	for key, flag := range bindings {
		_ = v.BindPFlag(key, f.Lookup(flag))
	}
}

func runExtract(cmd *cobra.Command, args []string) error {
	opts, err := extractOptions(v, cmd.Flags(), time.Now())
	if err != nil {
		return err
	}

	st := store.NewDirStore(afero.NewOsFs(), v.GetString("extract.output_dir"))
	ex := extract.New(opts, dialReplayer(natsConfig(v, logger)), st, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.InfoContext(ctx, "Starting extraction",
		logging.Stream(opts.Stream),
		logging.Subject(opts.Subject),
		logging.File(st.Dir()),
	)

	summary, err := ex.Run(ctx)
	if err != nil {
		return err
	}
	return printSummary(cmd.OutOrStdout(), v.GetString("output"), st.Dir(), summary)
}

// extractOptions builds the run options from configuration. Event filters
// given on the command line replace the configured ones.
func extractOptions(v *viper.Viper, flags *pflag.FlagSet, now time.Time) (extract.Options, error) {
	events := v.GetStringSlice("extract.events")
	if flags != nil && flags.Changed("event") {
		events, _ = flags.GetStringArray("event")
	}
	filter, err := extract.ParseFilter(events)
	if err != nil {
		return extract.Options{}, err
	}

	since, err := extract.ParseTime(v.GetString("extract.since"), now)
	if err != nil {
		return extract.Options{}, fmt.Errorf("--since: %w", err)
	}
	until, err := extract.ParseTime(v.GetString("extract.until"), now)
	if err != nil {
		return extract.Options{}, fmt.Errorf("--until: %w", err)
	}

	opts := extract.Options{
		Stream:          v.GetString("nats.stream"),
		Subject:         v.GetString("extract.subject"),
		Filter:          filter,
		Since:           since,
		Until:           until,
		NewOnly:         v.GetBool("extract.new_only"),
		AllowDuplicates: v.GetBool("extract.allow_duplicates"),
		DryRun:          v.GetBool("extract.dry_run"),
		BatchSize:       v.GetInt("extract.batch_size"),
		FetchTimeout:    v.GetDuration("extract.fetch_timeout"),
	}
	return opts, opts.Validate()
}

func natsConfig(v *viper.Viper, logger *logging.Logger) natsclient.Config {
	cfg := natsclient.DefaultConfig()
	cfg.URL = v.GetString("nats.url")
	cfg.Name = "webhooks-extract"
	cfg.MaxReconnects = v.GetInt("nats.max_reconnects")
	cfg.ReconnectWait = v.GetDuration("nats.reconnect_wait")
	cfg.Timeout = v.GetDuration("nats.connect_timeout")
	cfg.Token = v.GetString("nats.token")
	cfg.Username = v.GetString("nats.username")
	cfg.Password = v.GetString("nats.password")
	cfg.Logger = logger.Logger
	return cfg
}

func printSummary(w io.Writer, format, dir string, s *extract.Summary) error {
	return output.Write(w, format, s, func(w io.Writer) {
		tbl := output.NewTable([]string{"COUNTER", "VALUE"})
		rows := []struct {
			name  string
			value int
		}{
			{"processed", s.Processed},
			{"matched", s.Matched},
			{"skipped (filter)", s.SkippedFilter},
			{"skipped (time)", s.SkippedTime},
			{"duplicates", s.Duplicates},
			{"invalid", s.Invalid},
			{"extracted", s.Extracted},
			{"total on disk", s.TotalOnDisk},
		}
		for _, r := range rows {
			tbl.AddRow([]string{r.name, strconv.Itoa(r.value)})
		}
		tbl.RenderTo(w)
		fmt.Fprintln(w)

		switch {
		case s.DryRun && len(s.Files) > 0:
			fmt.Fprintf(w, "Would write %d file(s) to %s:\n  %s\n", len(s.Files), dir, strings.Join(s.Files, "\n  "))
		case len(s.Files) > 0:
			output.Success(w, "Wrote %d file(s) to %s", len(s.Files)-s.WriteFailures, dir)
		default:
			fmt.Fprintln(w, "No new examples found")
		}
		if s.WriteFailures > 0 {
			output.Warn(w, "%d file(s) could not be written, see log", s.WriteFailures)
		}
		if s.Partial {
			output.Warn(w, "Replay ended early, results are partial")
		}
	})
}
