// Command livedns keeps the A and AAAA records of one name in sync with the public addresses of this host.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// errPassFailed is returned when a pass completed without updating or confirming any family.
// The outcomes have already been logged.
var errPassFailed = errors.New("no address family was reconciled")

var rootCmd = &cobra.Command{
	Use:   "livedns",
	Short: "Dynamic DNS client for Gandi LiveDNS and Cloudflare",
	Long: `livedns looks up the public IPv4 and IPv6 addresses of this host
and updates the A and AAAA records of a single name when they differ.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errPassFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
