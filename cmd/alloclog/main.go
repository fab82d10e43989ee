package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/five82/alloclog/internal/app"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const defaultListen = "127.0.0.1:4680"

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "alloclog: %v\n", err)
		return 1
	}
	return 0
}

// globalFlags are shared by every command that opens an allocation.
type globalFlags struct {
	configPath string
	prefsPath  string
	stderr     bool
	polling    bool
	plain      bool
	verbose    bool
	pollEvery  time.Duration
}

func (g *globalFlags) options(args []string) app.Options {
	opts := app.Options{
		ConfigPath: g.configPath,
		PrefsPath:  g.prefsPath,
		Alloc:      args[0],
		Polling:    g.polling,
		Plain:      g.plain,
		Verbose:    g.verbose,
		PollEvery:  g.pollEvery,
		Version:    version,
	}
	if len(args) > 1 {
		opts.Task = args[1]
	}
	if g.stderr {
		opts.Type = "stderr"
	}
	return opts
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	cmd := &cobra.Command{
		Use:   "alloclog ALLOC [TASK]",
		Short: "Browse and follow the logs of a Nomad allocation",
		Long: `Opens a terminal viewer on one task's stdout or stderr.

ALLOC is a full allocation ID or a unique prefix. TASK defaults to the
first task of the allocation. Logs are read from the node agent when it
is reachable and through the servers otherwise.`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Run(cmd.Context(), g.options(args))
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "config file (default ~/.config/alloclog/config.toml)")
	pf.StringVar(&g.prefsPath, "prefs", "", "preferences file (default ~/.config/alloclog/prefs.toml)")
	pf.BoolVar(&g.stderr, "stderr", false, "read stderr instead of stdout")
	pf.BoolVar(&g.polling, "polling", false, "poll for new output instead of holding a stream open")
	pf.BoolVar(&g.plain, "plain", false, "request plain log bodies instead of framed ones")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "debug logging")
	pf.DurationVar(&g.pollEvery, "poll", 0, "allocation and usage refresh interval (default from config)")

	cmd.AddCommand(newLogsCmd(g), newServeCmd(g), newVersionCmd())
	return cmd
}

func newLogsCmd(g *globalFlags) *cobra.Command {
	var head, follow bool

	cmd := &cobra.Command{
		Use:   "logs ALLOC [TASK]",
		Short: "Print a task log without the viewer",
		Long: `Prints the tail of the log, or the head with --head. With --follow the
output keeps streaming until interrupted.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Logs(cmd.Context(), g.options(args), logsMode(head, follow), cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&head, "head", false, "print the start of the log")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "stream new output")
	cmd.MarkFlagsMutuallyExclusive("head", "follow")
	return cmd
}

func logsMode(head, follow bool) app.LogsMode {
	switch {
	case head:
		return app.LogsHead
	case follow:
		return app.LogsFollow
	default:
		return app.LogsTail
	}
}

func newServeCmd(g *globalFlags) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve ALLOC [TASK]",
		Short: "Serve the log viewer over HTTP",
		Long: `Starts a local web page showing the task log. Output is pushed to the
browser over a websocket while streaming.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			gin.SetMode(gin.ReleaseMode)
			return app.Serve(cmd.Context(), g.options(args), listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", defaultListen, "address to listen on")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of alloclog",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "alloclog version %s\n", version)
}
