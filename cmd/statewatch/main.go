package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/statewatch/internal/extract"
	"git.home.luguber.info/inful/statewatch/internal/version"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:""`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Daemon struct {
	} `cmd:"" help:"Watch save directories and serve snapshots continuously"`

	Extract struct {
		Tier        int    `help:"Extraction tier (1 or 2)" default:"2"`
		Format      string `help:"Output format" enum:"json,text" default:"text"`
		MaxColonies int    `help:"Colony list limit" default:"0"`
		MaxLeaders  int    `help:"Leader list limit" default:"0"`
		MaxTechs    int    `help:"Technology list limit" default:"0"`
		MaxWars     int    `help:"War list limit" default:"0"`
		Path        string `arg:"" help:"Path to the state container"`
	} `cmd:"" help:"Extract a snapshot from a state container and print it"`

	Search struct {
		Path  string `arg:"" help:"Path to the state container"`
		Query string `arg:"" help:"Free-text query"`
	} `cmd:"" help:"Search the raw state text of a container"`

	Status struct {
		Addr string `help:"Daemon API address" default:"http://localhost:8484"`
	} `cmd:"" help:"Show the status of a running daemon"`

	Events struct {
		Addr  string `help:"Daemon API address" default:"http://localhost:8484"`
		Limit int    `help:"Maximum number of events" default:"20"`
	} `cmd:"" help:"List recent events from a running daemon"`

	Version struct {
	} `cmd:"" help:"Print version information"`
}

func main() {
	ctx := kong.Parse(&CLI)

	logLevel := slog.LevelInfo
	if CLI.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	var err error
	switch ctx.Command() {
	case "daemon":
		err = runDaemon(CLI.Config, CLI.Verbose)
	case "extract <path>":
		opts := extract.Tier2Options{
			MaxColonies: CLI.Extract.MaxColonies,
			MaxLeaders:  CLI.Extract.MaxLeaders,
			MaxTechs:    CLI.Extract.MaxTechs,
			MaxWars:     CLI.Extract.MaxWars,
		}
		err = runExtract(CLI.Extract.Path, CLI.Extract.Tier, CLI.Extract.Format, opts, logger)
	case "search <path> <query>":
		err = runSearch(CLI.Search.Path, CLI.Search.Query, logger)
	case "status":
		err = runStatus(CLI.Status.Addr)
	case "events":
		err = runEvents(CLI.Events.Addr, CLI.Events.Limit)
	case "version":
		fmt.Printf("statewatch %s (built %s, commit %s)\n", version.Version, version.BuildTime, version.GitCommit)
	}
	if err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}
