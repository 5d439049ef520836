package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/cloudflare/cloudflare-go"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Travis-Britz/livedns-ddns"
	"github.com/Travis-Britz/livedns-ddns/internal/config"
)

var setupFlags = struct {
	configPath string
	provider   string
}{}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactively create the configuration file",
	RunE:  runSetup,
}

func init() {
	setupCmd.Flags().StringVarP(&setupFlags.configPath, "config", "c", config.DefaultPath, "Path of the configuration file to create")
	setupCmd.Flags().StringVarP(&setupFlags.provider, "provider", "p", config.ProviderGandi, "DNS provider (gandi, cloudflare)")
	rootCmd.AddCommand(setupCmd)
}

func runSetup(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(setupFlags.configPath); err == nil {
		return fmt.Errorf("\"%s\" already exists", setupFlags.configPath)
	}
	in := bufio.NewReader(os.Stdin)
	out := cmd.OutOrStdout()

	f := &config.File{Provider: setupFlags.provider}
	var err error
	if f.DNS.Domain, err = prompt(in, out, "Domain (e.g. example.com): "); err != nil {
		return err
	}
	if f.DNS.Record, err = prompt(in, out, "Record name (@ for the apex): "); err != nil {
		return err
	}

	fmt.Fprintf(out, "Enter %s API key: \n", setupFlags.provider)
	bytekey, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return fmt.Errorf("runSetup: error reading from stdin: %w", err)
	}
	key := strings.TrimSpace(string(bytekey))

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	switch setupFlags.provider {
	case config.ProviderCloudflare:
		f.Cloudflare.Token = key
		err = verifyCloudflare(ctx, key)
	case config.ProviderGandi:
		f.Gandi.Key = key
		err = verifyGandi(ctx, key, f.DNS.Domain, f.DNS.Record)
	default:
		return fmt.Errorf("unknown provider %q", setupFlags.provider)
	}
	if err != nil {
		return err
	}
	if err := f.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := config.Write(setupFlags.configPath, f); err != nil {
		return err
	}
	fmt.Fprintf(out, "configuration written to \"%s\"\n", setupFlags.configPath)
	return nil
}

func prompt(in *bufio.Reader, out io.Writer, question string) (string, error) {
	fmt.Fprint(out, question)
	line, err := in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("error reading from stdin: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func verifyCloudflare(ctx context.Context, token string) error {
	api, err := cloudflare.NewWithAPIToken(token)
	if err != nil {
		return fmt.Errorf("error creating api client: %w", err)
	}
	result, err := api.VerifyAPIToken(ctx)
	if err != nil {
		return fmt.Errorf("unable to verify api token: %w", err)
	}
	if result.Status != "active" {
		return fmt.Errorf("expected api token status to be \"active\"; got \"%s\"", result.Status)
	}
	return nil
}

// verifyGandi reads the A record to check that the key is accepted. A missing record is fine.
func verifyGandi(ctx context.Context, key, domain, record string) error {
	_, err := ddns.NewGandi(key).ReadRecord(ctx, domain, record, ddns.IPv4)
	switch {
	case err == nil, errors.Is(err, ddns.ErrNotFound):
		return nil
	case errors.Is(err, ddns.ErrUnauthorized):
		return fmt.Errorf("gandi rejected the API key: %w", err)
	}
	return fmt.Errorf("unable to verify api key: %w", err)
}
