package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

var (
	connectHost string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&connectHost, "host", "", "talk to a remote daemon at http(s)://host:port instead of the local one")
}

// resolveConnection picks between the local daemon (discovered via its port
// file and token file under the app-data directory) and a remote one named
// by --host.
func resolveConnection(a *app) (baseURL, token string, err error) {
	if connectHost != "" {
		return connectHost, "", nil
	}

	port := readPort(a.dir)
	if port == 0 {
		return "", "", fmt.Errorf("cmd: no local daemon running; start one with 'server start' or pass --host")
	}
	token, err = ensureAuthToken(a.dir)
	if err != nil {
		return "", "", err
	}
	return fmt.Sprintf("http://127.0.0.1:%d", port), token, nil
}

func apiRequest(method, baseURL, token, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, strings.TrimRight(baseURL, "/")+path, reader)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return http.DefaultClient.Do(req)
}

var pauseCmd = &cobra.Command{
	Use:   "pause [id]",
	Short: "pause a running download",
	Args:  cobra.ExactArgs(1),
	Run:   simpleAction("POST", "/pause?id=%s"),
}

var cancelCmd = &cobra.Command{
	Use:   "cancel [id]",
	Short: "cancel a download and delete its journal",
	Args:  cobra.ExactArgs(1),
	Run:   simpleAction("POST", "/cancel?id=%s"),
}

var resumeCmd = &cobra.Command{
	Use:   "resume [id]",
	Short: "resume a paused or interrupted download",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp()
		if err != nil {
			fatalf("error: %v", err)
		}
		defer a.Close()

		baseURL, token, err := resolveConnection(a)
		if err != nil {
			fatalf("error: %v", err)
		}
		resp, err := apiRequest("POST", baseURL, token, "/resume", map[string][]string{"ids": {args[0]}})
		if err != nil {
			fatalf("error: %v", err)
		}
		defer resp.Body.Close()
		printResponse(resp)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "list all known downloads",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp()
		if err != nil {
			fatalf("error: %v", err)
		}
		defer a.Close()

		baseURL, token, err := resolveConnection(a)
		if err != nil {
			fatalf("error: %v", err)
		}
		resp, err := apiRequest("GET", baseURL, token, "/list", nil)
		if err != nil {
			fatalf("error: %v", err)
		}
		defer resp.Body.Close()
		printResponse(resp)
	},
}

func simpleAction(method, pathFmt string) func(cmd *cobra.Command, args []string) {
	return func(cmd *cobra.Command, args []string) {
		a, err := newApp()
		if err != nil {
			fatalf("error: %v", err)
		}
		defer a.Close()

		baseURL, token, err := resolveConnection(a)
		if err != nil {
			fatalf("error: %v", err)
		}
		resp, err := apiRequest(method, baseURL, token, fmt.Sprintf(pathFmt, url.QueryEscape(args[0])), nil)
		if err != nil {
			fatalf("error: %v", err)
		}
		defer resp.Body.Close()
		printResponse(resp)
	}
}

func printResponse(resp *http.Response) {
	var buf bytes.Buffer
	_, _ = io.Copy(&buf, resp.Body)
	if resp.StatusCode >= 400 {
		fmt.Printf("error (%s): %s\n", resp.Status, buf.String())
		return
	}
	fmt.Println(buf.String())
}

func init() {
	rootCmd.AddCommand(pauseCmd, cancelCmd, resumeCmd, listCmd)
}
