// Command deepsense runs the agent server.
//
// Usage:
//
//	deepsense serve --config config.yaml
//	deepsense version
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"

	"github.com/deepsense-ai/deepsense/pkg/config"
	"github.com/deepsense-ai/deepsense/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Serve   ServeCmd   `cmd:"" help:"Start the agent server."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or verbose)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("deepsense version %s\n", version)
	return nil
}

func initLogging(cli *CLI) (func(), error) {
	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		return nil, err
	}

	output := os.Stderr
	cleanup := func() {}
	if cli.LogFile != "" {
		file, closeFn, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			return nil, err
		}
		output = file
		cleanup = closeFn
	}

	logger.Init(level, output, cli.LogFormat)
	return cleanup, nil
}

func loadConfig(path string) (*config.Config, error) {
	if err := config.LoadEnvFiles(); err != nil {
		return nil, err
	}
	if path == "" {
		return config.DefaultConfig()
	}
	return config.LoadFromFile(path)
}

func main() {
	cli := &CLI{}
	ctx := kong.Parse(cli,
		kong.Name("deepsense"),
		kong.Description("Agentic runtime with tool dispatch, compaction, and checkpointing."),
		kong.UsageOnError(),
	)

	cleanup, err := initLogging(cli)
	ctx.FatalIfErrorf(err)
	defer cleanup()

	ctx.FatalIfErrorf(ctx.Run(cli))
}
