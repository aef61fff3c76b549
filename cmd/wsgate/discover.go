package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/wsgate/internal/discovery"
	"github.com/muurk/wsgate/internal/logging"
)

var (
	discoverTimeout  time.Duration
	discoverInstance string
	discoverQuick    bool
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find wsgate servers on the local network",
	Long: `Browse mDNS for wsgate servers started with 'wsgate serve --advertise'.

Each server is listed with the URL to pass to 'wsgate dial'. Use --instance
to wait for one named server instead of listing all of them.`,
	Example: `  # List servers
  wsgate discover

  # Browse longer on a slow network
  wsgate discover --timeout 15s

  # Wait for a specific server
  wsgate discover --instance build-box

  # Short two second browse
  wsgate discover --quick`,
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().DurationVar(&discoverTimeout, "timeout", discovery.DefaultScanTimeout, "How long to browse")
	discoverCmd.Flags().StringVar(&discoverInstance, "instance", "", "Wait for the server with this instance name")
	discoverCmd.Flags().BoolVar(&discoverQuick, "quick", false, "Browse for two seconds only")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	if err := logging.InitializeFromEnv(); err != nil {
		return err
	}
	defer logging.Sync()

	scanner := discovery.NewScanner()
	scanner.Timeout = discoverTimeout
	ctx := context.Background()

	timeout := discoverTimeout
	if discoverQuick {
		timeout = discovery.QuickScanTimeout
	}
	fmt.Printf("Browsing for %s servers (timeout: %s)...\n\n", discovery.ServiceType, timeout)

	if discoverInstance != "" {
		ep, err := scanner.WaitFor(ctx, discoverInstance)
		if err != nil {
			return fmt.Errorf("server %q not found: %w", discoverInstance, err)
		}
		printEndpoints([]*discovery.Endpoint{ep})
		return nil
	}

	var endpoints []*discovery.Endpoint
	var err error
	if discoverQuick {
		endpoints, err = discovery.QuickScan(ctx)
	} else {
		endpoints, err = scanner.Scan(ctx)
	}
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}

	if len(endpoints) == 0 {
		fmt.Println("No servers found.")
		fmt.Println()
		fmt.Println("Troubleshooting:")
		fmt.Println("  - Start the server with --advertise")
		fmt.Println("  - Make sure this machine is on the same network segment")
		fmt.Println("  - Multicast DNS (UDP 5353) may be blocked by a firewall")
		fmt.Println("  - Try a longer --timeout")
		return nil
	}

	printEndpoints(endpoints)
	return nil
}

func printEndpoints(endpoints []*discovery.Endpoint) {
	fmt.Printf("Found %d server(s):\n\n", len(endpoints))
	for i, ep := range endpoints {
		fmt.Printf("  %d. %s\n", i+1, ep.Instance)
		fmt.Printf("     URL:  %s\n", ep.URL())
		fmt.Printf("     Host: %s\n", ep.Hostname)
		if v := ep.GetMetadata("version"); v != "" {
			fmt.Printf("     Version: %s\n", v)
		}
		fmt.Println()
	}
	fmt.Println("Connect with: wsgate dial <URL> <message>")
}
