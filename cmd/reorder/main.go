// Command reorder runs a single split-stack reorder on a local directory.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/intranda/goobi-plugin-step-reorder-images/internal/fsops"
	logpkg "github.com/intranda/goobi-plugin-step-reorder-images/internal/logger"
	"github.com/intranda/goobi-plugin-step-reorder-images/internal/pluginconf"
	"github.com/intranda/goobi-plugin-step-reorder-images/internal/reorder"
	"github.com/intranda/goobi-plugin-step-reorder-images/internal/report"
	"github.com/intranda/goobi-plugin-step-reorder-images/internal/store"
)

const (
	exitOK    = 0
	exitFail  = 1
	exitEmpty = 2
)

func main() {
	err := newApp(os.Stdout, os.Stderr).Run(os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "reorder:", err)
	}
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, reorder.ErrEmptySource):
		return exitEmpty
	default:
		return exitFail
	}
}

func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:      "reorder",
		Usage:     "put split-stack page scans into reading order and renumber them",
		UsageText: "reorder --source DIR [--target DIR] [options]",
		Writer:    stdout,
		ErrWriter: stderr,
		// exit codes are decided in main
		ExitErrHandler: func(*cli.Context, error) {},
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "source", Aliases: []string{"s"}, Usage: "directory holding the scans"},
			&cli.StringFlag{Name: "target", Aliases: []string{"t"}, Usage: "mirror the source here and reorder the copy; defaults to in place"},
			&cli.BoolFlag{Name: "use-prefix", Value: true, Usage: "keep the file name up to the last underscore"},
			&cli.BoolFlag{Name: "first-file-is-right", Usage: "the first half of the stack holds right-hand pages"},
			&cli.StringFlag{Name: "naming-format", Value: reorder.DefaultNamingFormat, Usage: "printf format for the page number"},
			&cli.StringSliceFlag{Name: "blacklist", Usage: "name fragment marking files kept out of the split (repeatable)"},
			&cli.StringFlag{Name: "odd-policy", Value: string(reorder.OddStrict), Usage: "strict or round-up"},
			&cli.BoolFlag{Name: "dry-run", Usage: "print the plan without renaming anything"},
			&cli.BoolFlag{Name: "json", Usage: "print the result as JSON"},

			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "plugin configuration file", EnvVars: []string{"PLUGIN_CONFIG"}},
			&cli.StringFlag{Name: "project", Value: pluginconf.Wildcard, Usage: "project used to pick the configuration block"},
			&cli.StringFlag{Name: "step", Value: pluginconf.Wildcard, Usage: "workflow step used to pick the configuration block"},
			&cli.IntFlag{Name: "process-id", Usage: "value for {processid} in configured folders"},
			&cli.StringFlag{Name: "process-title", Usage: "value for {processtitle} in configured folders"},
			&cli.StringFlag{Name: "images-dir", Usage: "process images directory configured folders are relative to"},

			&cli.StringFlag{Name: "redis-url", Usage: "write the process log and page mapping to this job store", EnvVars: []string{"REDIS_URL"}},
			&cli.StringFlag{Name: "job-id", Usage: "job id used for logs and the job store (random if empty)"},
			&cli.StringFlag{Name: "log-level", Value: "info", EnvVars: []string{"LOG_LEVEL"}},
		},
		Action: run,
	}
}

func run(c *cli.Context) error {
	if err := logpkg.Init(logpkg.Options{Level: c.String("log-level"), Pretty: true, Console: c.App.ErrWriter}); err != nil {
		return err
	}
	defer logpkg.Close()

	cfg, err := buildConfig(c)
	if err != nil {
		return err
	}

	jobID := c.String("job-id")
	if jobID == "" {
		jobID = uuid.NewString()
	}

	var rep reorder.Reporter = report.Log{}
	var pages *store.PageStore
	if url := c.String("redis-url"); url != "" {
		rs, err := store.NewRedisStatus(url)
		if err != nil {
			return fmt.Errorf("job store: %w", err)
		}
		defer rs.Close()
		pages, err = store.NewPageStore(url)
		if err != nil {
			return fmt.Errorf("job store: %w", err)
		}
		defer pages.Close()
		rep = report.Store{Logs: rs}
	}

	ctx := c.Context
	if ctx == nil {
		ctx = context.Background()
	}
	res, err := reorder.New(fsops.NewLocal(), rep).Reorder(ctx, jobID, cfg)
	if err != nil {
		return err
	}
	if pages != nil && !res.DryRun {
		if err := pages.SavePages(ctx, jobID, res.Operations); err != nil {
			log.Warn().Err(err).Str("job_id", jobID).Msg("saving page mapping failed")
		}
	}
	return printResult(c.App.Writer, res, c.Bool("json"))
}

// buildConfig starts from the configuration block when --config is given,
// otherwise from the plugin defaults, and applies explicitly set flags.
func buildConfig(c *cli.Context) (reorder.Config, error) {
	var cfg reorder.Config
	if path := c.String("config"); path != "" {
		f, err := pluginconf.Load(path)
		if err != nil {
			return cfg, err
		}
		block, err := f.Resolve(c.String("project"), c.String("step"))
		if err != nil {
			return cfg, err
		}
		imagesDir := c.String("images-dir")
		if imagesDir == "" {
			imagesDir = "."
		}
		cfg = block.Apply(pluginconf.Process{
			ID:        c.Int("process-id"),
			Title:     c.String("process-title"),
			ImagesDir: imagesDir,
		})
	} else {
		if c.String("source") == "" {
			return cfg, errors.New("--source is required without --config")
		}
		cfg = reorder.DefaultConfig(c.String("source"), c.String("target"))
		cfg.UsePrefix = c.Bool("use-prefix")
		cfg.FirstFileIsRight = c.Bool("first-file-is-right")
		cfg.NamingFormat = c.String("naming-format")
		cfg.OddPolicy = reorder.OddPolicy(c.String("odd-policy"))
		cfg.Blacklist = c.StringSlice("blacklist")
	}

	if c.IsSet("source") {
		cfg.SourceDir = c.String("source")
		if !c.IsSet("target") && c.IsSet("config") {
			cfg.TargetDir = cfg.SourceDir
		}
	}
	if c.IsSet("target") {
		cfg.TargetDir = c.String("target")
	}
	if c.IsSet("use-prefix") {
		cfg.UsePrefix = c.Bool("use-prefix")
	}
	if c.IsSet("first-file-is-right") {
		cfg.FirstFileIsRight = c.Bool("first-file-is-right")
	}
	if c.IsSet("naming-format") {
		cfg.NamingFormat = c.String("naming-format")
	}
	if c.IsSet("odd-policy") {
		cfg.OddPolicy = reorder.OddPolicy(c.String("odd-policy"))
	}
	if c.IsSet("blacklist") {
		cfg.Blacklist = c.StringSlice("blacklist")
	}
	cfg.DryRun = c.Bool("dry-run")
	return cfg, nil
}

func printResult(w io.Writer, res *reorder.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	for _, op := range res.Operations {
		mark := ""
		if op.Excluded {
			mark = " (blacklisted)"
		}
		if _, err := fmt.Fprintf(w, "%4d  %s -> %s%s\n", op.Position, filepath.Base(op.Source), filepath.Base(op.Final), mark); err != nil {
			return err
		}
	}
	verb := "renamed"
	if res.DryRun {
		verb = "would rename"
	}
	_, err := fmt.Fprintf(w, "%s %d files in %s\n", verb, len(res.Operations), res.WorkingDir)
	return err
}
