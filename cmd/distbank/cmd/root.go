// Package cmd implements the distbank command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"distbank"
	"distbank/account"
	"distbank/transfer"
)

var ErrUsage = errors.New("usage")

const (
	flagProcesses = "processes"
	flagTransport = "transport"
	flagTransfers = "transfers"
	flagEventsLog = "events-log"
	flagPipesLog  = "pipes-log"
	flagCheck     = "check"
	flagExport    = "export"
	flagQuiet     = "quiet"
	flagLogLevel  = "log-level"
	flagLogJSON   = "log-json"
	flagConfig    = "config"
)

func Execute() {
	if err := NewRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// NewRootCmd creates the distbank command writing its output to stdout and its diagnostics to stderr
func NewRootCmd(stdout, stderr io.Writer) *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "distbank -p N b1 ... bN",
		Short: "Run a bank of N workers and a coordinator exchanging money over message channels",
		Long: `Run a bank of N workers and a coordinator.

Worker i starts with balance bi. The coordinator orders the transfers, stops the
workers and prints the balance history of every worker at every Lamport time.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(v, cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), v, args, stdout, stderr)
		},
	}
	addFlags(cmd.Flags())
	return cmd
}

func addFlags(fs *pflag.FlagSet) {
	fs.IntP(flagProcesses, "p", 0, "number of workers")
	fs.String(flagTransport, "pipe", "transport of the channels between processes (pipe|grpc)")
	fs.String(flagTransfers, "", `transfers ordered by the coordinator, e.g. "1>2:30,2>3:5" (default: the robbery schedule)`)
	fs.String(flagEventsLog, "events.log", "file the events log is written to, empty to disable")
	fs.String(flagPipesLog, "pipes.log", "file the pipes log is written to, empty to disable")
	fs.String(flagExport, "", "file the aggregated history is exported to as CBOR")
	fs.Bool(flagCheck, false, "check the outcome of the run against the bank's predicates")
	fs.BoolP(flagQuiet, "q", false, "do not echo the events log to stdout")
	fs.String(flagLogLevel, "warn", "level of the diagnostic log (debug|info|warn|error|disabled)")
	fs.Bool(flagLogJSON, false, "write the diagnostic log as JSON")
	fs.String(flagConfig, "", "config file")
}

// Every flag can also be set from a DISTBANK_* environment variable or the config file
func initConfig(v *viper.Viper, fs *pflag.FlagSet) error {
	if err := v.BindPFlags(fs); err != nil {
		return err
	}
	v.SetEnvPrefix("distbank")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if file := v.GetString(flagConfig); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config: %w", err)
		}
	}
	return nil
}

func newLogger(v *viper.Viper, stderr io.Writer) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(v.GetString(flagLogLevel))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("%w: %v", ErrUsage, err)
	}
	var w io.Writer = zerolog.ConsoleWriter{Out: stderr}
	if v.GetBool(flagLogJSON) {
		w = stderr
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}

// Parse the balances of the n workers
func parseBalances(n int, args []string) ([]account.Balance, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: -p must be at least 1", ErrUsage)
	}
	if len(args) != n {
		return nil, fmt.Errorf("%w: expected %v balances, got %v", ErrUsage, n, len(args))
	}
	initial := make([]account.Balance, n)
	for i, arg := range args {
		b, err := strconv.ParseInt(arg, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("%w: balance of worker %v: %v", ErrUsage, i+1, err)
		}
		initial[i] = account.Balance(b)
	}
	return initial, nil
}

func run(ctx context.Context, v *viper.Viper, args []string, stdout, stderr io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	initial, err := parseBalances(v.GetInt(flagProcesses), args)
	if err != nil {
		return err
	}
	log, err := newLogger(v, stderr)
	if err != nil {
		return err
	}

	opts := []distbank.RunOption{
		distbank.WithTransport(v.GetString(flagTransport)),
		distbank.WithLogger(log),
		distbank.WithOutput(stdout),
	}
	if s := v.GetString(flagTransfers); s != "" {
		schedule, err := transfer.Parse(s)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUsage, err)
		}
		opts = append(opts, distbank.WithTransfers(schedule...))
	}
	if !v.GetBool(flagQuiet) {
		opts = append(opts, distbank.WithEcho(stdout))
	}

	var files []*os.File
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()
	for _, l := range []struct {
		flag string
		opt  func(io.Writer) distbank.RunOption
	}{
		{flagEventsLog, distbank.WithEventsLog},
		{flagPipesLog, distbank.WithPipesLog},
	} {
		name := v.GetString(l.flag)
		if name == "" {
			continue
		}
		f, err := os.Create(name)
		if err != nil {
			return err
		}
		files = append(files, f)
		opts = append(opts, l.opt(f))
	}

	b, err := distbank.PrepareRun(initial, opts...)
	if err != nil {
		return err
	}
	res, err := b.Run(ctx)
	if err != nil {
		return err
	}
	for id, st := range res.Stats {
		log.Debug().Int("process", id).Uint64("sent", st.Sent).Uint64("received", st.Received).Uint64("dropped", st.Dropped).Msg("channel statistics")
	}
	for _, pv := range res.Violations {
		log.Warn().Err(pv).Msg("protocol violation")
	}

	if name := v.GetString(flagExport); name != "" {
		f, err := os.Create(name)
		if err != nil {
			return err
		}
		files = append(files, f)
		if err := res.History.Export(f); err != nil {
			return err
		}
	}

	if v.GetBool(flagCheck) {
		ok, desc := b.Check(res).Response()
		fmt.Fprintln(stdout, desc)
		if !ok {
			return errors.New("check failed")
		}
	}
	return nil
}
