package cmd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/surge-downloader/surge-core/internal/api"
	"github.com/surge-downloader/surge-core/internal/lifecycle"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "manage the background surge-core daemon",
}

var serverStartCmd = &cobra.Command{
	Use:   "start [url]...",
	Short: "start the daemon in the foreground, optionally queuing URLs",
	Run: func(cmd *cobra.Command, args []string) {
		port, _ := cmd.Flags().GetInt("port")
		noResume, _ := cmd.Flags().GetBool("no-resume")
		runServer(args, port, noResume)
	},
}

var serverStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "stop the running daemon",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp()
		if err != nil {
			fatalf("error: %v", err)
		}
		defer a.Close()

		pid := readPID(a.dir)
		if pid == 0 {
			fmt.Println("surge-core daemon is not running (no PID file).")
			return
		}
		process, err := os.FindProcess(pid)
		if err != nil {
			fmt.Printf("error finding process %d: %v\n", pid, err)
			return
		}
		if err := process.Signal(syscall.SIGTERM); err != nil {
			fmt.Printf("error stopping daemon: %v\n", err)
			return
		}
		fmt.Printf("sent stop signal to process %d\n", pid)
	},
}

var serverStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "check whether the daemon is running",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp()
		if err != nil {
			fatalf("error: %v", err)
		}
		defer a.Close()

		pid := readPID(a.dir)
		if pid == 0 {
			fmt.Println("surge-core daemon is NOT running.")
			return
		}
		process, err := os.FindProcess(pid)
		if err != nil || process.Signal(syscall.Signal(0)) != nil {
			fmt.Println("surge-core daemon is NOT running (stale PID file).")
			return
		}
		fmt.Printf("surge-core daemon is running (PID %d, port %d).\n", pid, readPort(a.dir))
	},
}

func init() {
	serverStartCmd.Flags().IntP("port", "p", 0, "port to listen on (0 = pick any free port)")
	serverStartCmd.Flags().Bool("no-resume", false, "skip auto-resuming in-progress downloads on startup")

	serverCmd.AddCommand(serverStartCmd, serverStopCmd, serverStatusCmd)
	rootCmd.AddCommand(serverCmd)
}

// runServer is the body of "server start": it acquires the single-instance
// lock, brings up the lifecycle manager and HTTP API, auto-resumes
// in-progress downloads, queues any URLs passed on the command line, and
// blocks until SIGINT/SIGTERM, pausing every live download before exit.
func runServer(urls []string, portFlag int, noResume bool) {
	a, err := newApp()
	if err != nil {
		fatalf("error: %v", err)
	}
	defer a.Close()

	lock, acquired, err := acquireInstanceLock(a.dir)
	if err != nil {
		fatalf("error acquiring instance lock: %v", err)
	}
	if !acquired {
		fatalf("surge-core daemon is already running")
	}
	defer lock.release()

	token, err := ensureAuthToken(a.dir)
	if err != nil {
		fatalf("error: %v", err)
	}

	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", portFlag))
	if err != nil {
		fatalf("error binding to port %d: %v", portFlag, err)
	}
	port := listener.Addr().(*net.TCPAddr).Port

	savePID(a.dir, os.Getpid())
	savePort(a.dir, port)
	defer removePID(a.dir)
	defer removePort(a.dir)

	srv := &http.Server{Handler: api.NewRouter(a.mgr, a.catalog, token)}
	go func() {
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		}
	}()

	fmt.Printf("surge-core %s listening on 127.0.0.1:%d\n", Version, port)
	fmt.Printf("auth token: %s\n", token)

	if !noResume {
		for _, err := range a.mgr.AutoResumePaused(context.Background()) {
			fmt.Fprintf(os.Stderr, "resume error: %v\n", err)
		}
	}
	if len(urls) > 0 {
		reqs := make([]lifecycle.Request, 0, len(urls))
		for _, u := range urls {
			reqs = append(reqs, lifecycle.Request{URL: u})
		}
		if err := a.mgr.New(context.Background(), reqs); err != nil {
			fmt.Fprintf(os.Stderr, "error queuing downloads: %v\n", err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nshutting down...")
	a.mgr.Shutdown()
	_ = srv.Close()
}
