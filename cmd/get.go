package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/surge-downloader/surge-core/internal/events"
	"github.com/surge-downloader/surge-core/internal/lifecycle"
)

var getCmd = &cobra.Command{
	Use:   "get [url]",
	Short: "download a file from a URL and block until it finishes",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		url := args[0]
		path, _ := cmd.Flags().GetString("path")
		headers, _ := cmd.Flags().GetStringToString("header")

		a, err := newApp()
		if err != nil {
			fatalf("error: %v", err)
		}
		defer a.Close()

		if path != "" {
			settings := a.mgr.GetSettings()
			settings.Download.Location = path
			if err := a.mgr.UpdateSettings(settings); err != nil {
				fatalf("error: updating download location: %v", err)
			}
		}

		runGet(a.mgr, url, headers)
	},
}

func init() {
	getCmd.Flags().StringP("path", "p", "", "destination directory")
	getCmd.Flags().StringToString("header", nil, "extra request header as key=value (repeatable)")
	rootCmd.AddCommand(getCmd)
}

// runGet queues url through the lifecycle manager and blocks on its event
// stream until a terminal event arrives for it, printing a one-line status
// on every progress tick. Exit code is 0 on success, 1 on any failure.
func runGet(mgr *lifecycle.Manager, url string, headers map[string]string) {
	stream, unsubscribe := mgr.Subscribe()
	defer unsubscribe()

	ctx := context.Background()
	if err := mgr.New(ctx, []lifecycle.Request{{URL: url, Headers: headers}}); err != nil {
		fatalf("error: %v", err)
	}

	var id string
	for ev := range stream {
		switch e := ev.(type) {
		case events.QueueDownload:
			if e.URL != url || id != "" {
				continue
			}
			id = e.ID
			fmt.Printf("queued %s -> %s\n", e.URL, e.Destination)
		case events.DownloadProgress:
			if e.ID != id {
				continue
			}
			fmt.Printf("\r%s  %.1f%%  %.1f KB/s", id, e.Progress*100, e.Speed/1024)
		case events.DownloadComplete:
			if e.ID != id {
				continue
			}
			fmt.Printf("\ncompleted: %s\n", e.Destination)
			return
		case events.DownloadFailed:
			if e.ID != id {
				continue
			}
			fmt.Printf("\nfailed: %s\n", e.Reason)
			os.Exit(1)
		case events.DownloadCancelled:
			if e.ID != id {
				continue
			}
			fmt.Println("\ncancelled")
			os.Exit(1)
		}
	}
}
