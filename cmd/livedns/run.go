package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/Travis-Britz/livedns-ddns"
	"github.com/Travis-Britz/livedns-ddns/internal/config"
)

var runFlags = struct {
	configPath string
	verbose    bool
	interval   time.Duration
	ips        []string
	concurrent bool
}{}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Reconcile the configured record once, or periodically with --interval",
	RunE:  runReconcile,
}

func init() {
	runCmd.Flags().StringVarP(&runFlags.configPath, "config", "c", config.DefaultPath, "Path to the configuration file")
	runCmd.Flags().BoolVarP(&runFlags.verbose, "verbose", "v", false, "Enable debug logging")
	runCmd.Flags().DurationVarP(&runFlags.interval, "interval", "i", 0, "Run a pass every interval (minimum 1m) instead of once")
	runCmd.Flags().StringSliceVar(&runFlags.ips, "ip", nil, "Use these addresses instead of looking them up")
	runCmd.Flags().BoolVar(&runFlags.concurrent, "concurrent", false, "Reconcile IPv4 and IPv6 in parallel")
	rootCmd.AddCommand(runCmd)
}

func runReconcile(cmd *cobra.Command, args []string) error {
	logger, flush := newLogger(runFlags.verbose)
	defer flush()

	if err := config.LoadDotEnv(".env"); err != nil {
		return err
	}
	cfg, err := config.Load(runFlags.configPath)
	if err != nil {
		return err
	}
	logger.V(1).Info("config is valid", "config", cfg.Core().String(), "provider", cfg.Provider, "resolver", cfg.Resolver.Method)

	r, err := newReconciler(cfg, logger, runFlags.ips, runFlags.concurrent)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if runFlags.interval == 0 {
		res, err := r.Reconcile(ctx)
		report(logger, cfg.Core().FQDN(), res, err)
		if !passOK(res, err) {
			return errPassFailed
		}
		return nil
	}

	logger.Info("starting daemon", "name", cfg.Core().FQDN(), "interval", runFlags.interval.String())
	done := ddns.RunDaemon(ctx, r, runFlags.interval, func(res ddns.Result, err error) {
		report(logger, cfg.Core().FQDN(), res, err)
	})
	<-ctx.Done()
	logger.Info("stopping daemon")
	<-done
	return nil
}

func newReconciler(cfg *config.File, logger logr.Logger, ips []string, concurrent bool) (*ddns.Reconciler, error) {
	resolver, err := buildResolver(cfg.Resolver, ips)
	if err != nil {
		return nil, err
	}
	policy, err := cfg.RetryPolicy()
	if err != nil {
		return nil, err
	}

	var store ddns.Option
	switch cfg.Provider {
	case config.ProviderCloudflare:
		cf, err := ddns.NewCloudflare(cfg.Secret())
		if err != nil {
			return nil, err
		}
		if cfg.DNS.TTL > 0 {
			cf.SetTTL(cfg.DNS.TTL)
		}
		store = ddns.UsingStore(cf)
	default:
		store = ddns.UsingGandi(cfg.Gandi.URL, cfg.DNS.TTL)
	}

	opts := []ddns.Option{
		store,
		ddns.UsingResolver(resolver),
		ddns.WithRetryPolicy(policy),
		ddns.WithFamilies(cfg.Families()...),
		ddns.WithLogger(logger),
	}
	if concurrent {
		opts = append(opts, ddns.Concurrent())
	}
	return ddns.New(cfg.Core(), opts...)
}

// buildResolver picks the address source; addresses given on the command line win over the config file.
func buildResolver(rc config.Resolver, ips []string) (ddns.AddressResolver, error) {
	if len(ips) > 0 {
		return ddns.StaticResolver(ips...)
	}
	switch rc.Method {
	case config.MethodDNS:
		return ddns.OpenDNSResolver(), nil
	case config.MethodInterface:
		return ddns.InterfaceResolver(rc.Interfaces...), nil
	case config.MethodStatic:
		return ddns.StaticResolver(rc.Addresses...)
	case config.MethodWeb, "":
		if len(rc.URLs) == 0 {
			return ddns.DefaultResolver, nil
		}
		return ddns.WebResolver(rc.URLs...)
	}
	return nil, fmt.Errorf("unknown resolver method %q", rc.Method)
}

func report(logger logr.Logger, name string, res ddns.Result, err error) {
	if err != nil {
		logger.Error(err, "pass aborted", "name", name)
	}
	for _, o := range []ddns.Outcome{res.IPv4, res.IPv6} {
		kv := []any{"name", name, "type", o.Family.RecordType(), "action", o.Action.String()}
		if o.Address.IsValid() {
			kv = append(kv, "address", o.Address.String())
		}
		switch o.Action {
		case ddns.Failed:
			logger.Error(o.Err, "record not reconciled", kv...)
		case ddns.Updated:
			logger.Info("record updated", append(kv, "previous", o.Previous)...)
		case ddns.Unchanged:
			logger.Info("record up to date", kv...)
		default:
			logger.V(1).Info("family skipped", kv...)
		}
	}
}

// passOK reports whether the process should exit successfully.
func passOK(res ddns.Result, err error) bool {
	return err == nil && res.Succeeded()
}
