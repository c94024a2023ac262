// Package cmd holds the cqlwire CLI, a small harness for exercising the
// connection core against a live node.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const (
	Version = "0.1.0"
)

var (
	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "cqlwire",
		Short: "wire-protocol connection core harness",
		Long: fmt.Sprintf(`cqlwire (v%s)

Low-level connection core of a CQL wire-protocol driver: session
handshake, stream multiplexing and coalesced request flushing. This
harness connects to a single node and reports what it negotiated.`, Version),
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of cqlwire",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("cqlwire v%s\n", Version)
		},
	}
)

func init() {
	RootCmd.AddCommand(versionCmd)
	RootCmd.AddCommand(pingCmd)
}

// Execute runs the root command.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
