package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "surge-core",
	Short: "a concurrent, resumable file downloader engine",
	Long:  `surge-core splits a remote file into byte segments, downloads them in parallel, and resumes interrupted transfers.`,
}

// Execute adds all child commands to the root command and runs it. Called
// once from main.main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = Version
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
