package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "print the daemon's bearer auth token, minting one if needed",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp()
		if err != nil {
			fatalf("error: %v", err)
		}
		defer a.Close()

		token, err := ensureAuthToken(a.dir)
		if err != nil {
			fatalf("error: %v", err)
		}
		fmt.Println(token)
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
}
