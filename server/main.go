package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"oracle-bluff/server/config"
)

//
// ===== pretty printing =====
//

var useColor bool
var debugState bool

const (
	colReset  = "\033[0m"
	colBold   = "\033[1m"
	colDim    = "\033[2m"
	colGreen  = "\033[32m"
	colRed    = "\033[31m"
	colYellow = "\033[33m"
	colMag    = "\033[35m"
	colCyan   = "\033[36m"
)

func c(code, s string) string {
	if !useColor {
		return s
	}
	return code + s + colReset
}
func bold(s string) string { return c(colBold, s) }
func dim(s string) string  { return c(colDim, s) }
func good(s string) string { return c(colGreen, s) }
func warn(s string) string { return c(colYellow, s) }
func bad(s string) string  { return c(colRed, s) }
func cyan(s string) string { return c(colCyan, s) }
func mag(s string) string  { return c(colMag, s) }
func modelShort(m string) string {
	m = strings.TrimSpace(m)
	if len(m) <= 28 {
		return m
	}
	return m[:28]
}
func section(title string) { fmt.Printf("\n%s %s %s\n", dim("──"), bold(title), dim("──")) }
func sub(title string)     { fmt.Printf("%s %s\n", dim("•"), bold(title)) }

//
// ===== bootstrap =====
//

// Tries: env var file, ./secrets/openai_api_key.txt, ./server/openai_api_key.txt,
// ./openai_api_key.txt, /app/server/openai_api_key.txt (in container), and /run/secrets/openai_api_key.
func loadAPIKeyFromSecret() {
	if os.Getenv("OPENAI_API_KEY") != "" {
		return
	}
	var candidates []string
	if p := os.Getenv("OPENAI_API_KEY_FILE"); strings.TrimSpace(p) != "" {
		candidates = append(candidates, p)
	}
	candidates = append(candidates,
		"./secrets/openai_api_key.txt",
		"./server/openai_api_key.txt",
		"./openai_api_key.txt",
		"/app/server/openai_api_key.txt",
		"/run/secrets/openai_api_key",
	)
	for _, path := range candidates {
		if b, err := os.ReadFile(path); err == nil {
			key := strings.TrimSpace(string(b))
			if key != "" {
				os.Setenv("OPENAI_API_KEY", key)
				return
			}
		}
	}
}

type rootOptions struct {
	configPath string
}

// load reads the layered config and applies the process-wide print flags.
func (o *rootOptions) load() (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return cfg, err
	}
	useColor = cfg.Server.Color
	debugState = cfg.Server.Debug
	if cfg.Path != "" {
		log.Printf("[config] loaded %s", cfg.Path)
	}
	return cfg, nil
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "oracle-bluff",
		Short:         "Run Oracle's Bluff matches between language models and humans",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			_ = godotenv.Load()
			loadAPIKeyFromSecret()
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a TOML config file")
	cmd.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newPlayCmd(opts),
		newLeaderboardCmd(opts),
	)
	return cmd
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, bad("error: ")+err.Error())
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newRootCmd().ExecuteContext(ctx)
}
