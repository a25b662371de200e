package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/tkrennwa/glacier-backup/pkg/buildinfo"
	"github.com/tkrennwa/glacier-backup/pkg/config"
	"github.com/tkrennwa/glacier-backup/pkg/engine"
	"github.com/tkrennwa/glacier-backup/pkg/flagparse"
	"github.com/tkrennwa/glacier-backup/pkg/glacier"
	"github.com/tkrennwa/glacier-backup/pkg/ledger"
	"github.com/tkrennwa/glacier-backup/pkg/metrics"
	"github.com/tkrennwa/glacier-backup/pkg/pathpack"
	"github.com/tkrennwa/glacier-backup/pkg/planner"
	"github.com/tkrennwa/glacier-backup/pkg/plog"
	"github.com/tkrennwa/glacier-backup/pkg/runlock"
)

// action defines a special command to execute instead of a backup.
type action int

const (
	actionRunBackup action = iota // The default action is to run a backup.
	actionShowVersion
	actionInitConfig
)

// init is called before main. We use it to set up a custom, more descriptive
// help message for the command-line flags.
func init() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s (version %s):\n", buildinfo.Name, buildinfo.Version)
		fmt.Fprintf(flag.CommandLine.Output(), "Uploads files and directories to an AWS S3 Glacier vault, tracking completed uploads so each path goes up once.\n\n")
		flag.PrintDefaults()
	}
}

// parseFlagConfig defines and parses command-line flags, and constructs a
// map containing only the values provided by those flags.
func parseFlagConfig() (action, map[string]interface{}, error) {
	// --- Flag Design Philosophy ---
	// Flags are exposed for options that are useful to override for a single
	// run (e.g., -dry-run, -path, -log-level=debug).
	//
	// Per-root upload policies (uploadDirs, uploadFiles, excludePrefix, ...)
	// have no flags. They define the long-term shape of a backup set and
	// belong in the config file.

	configFlag := flag.String("config", "", "Path to the configuration file. Defaults to ~/.config/glacier-backup/config.json.")
	pathFlag := flag.String("path", "", "Comma-separated list of paths to upload, replacing the configured roots for this run.")
	vaultFlag := flag.String("vault", "", "Name of the Glacier vault to upload into.")
	accountFlag := flag.String("account", "", "AWS account id owning the vault ('-' for the caller's own account).")
	regionFlag := flag.String("region", "", "AWS region of the vault. Defaults to the SDK's resolved region.")
	ledgerFlag := flag.String("ledger", "", "Path to the upload ledger database.")
	logLevelFlag := flag.String("log-level", "info", "Set the logging level: 'debug', 'info', 'warn', 'error'.")
	packFormatFlag := flag.String("pack-format", "", "Archive format for directory uploads: 'tar', 'tar.gz' or 'tar.zst'.")
	dryRunFlag := flag.Bool("dry-run", false, "Show what would be uploaded without making any changes.")
	quietFlag := flag.Bool("quiet", false, "Suppress informational output; warnings and errors still print.")
	initFlag := flag.Bool("init", false, "Generate a default config file and exit.")
	versionFlag := flag.Bool("version", false, "Print the application version and exit.")

	flag.Parse()

	// Create a map of the flags that were explicitly set by the user, along
	// with their values. This map is used to selectively override the base
	// configuration.
	usedFlags := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { usedFlags[f.Name] = true })

	flagMap := make(map[string]interface{})

	// Helper to add a value to the map only if the corresponding flag was set.
	addIfUsed := func(name string, value interface{}) {
		if usedFlags[name] {
			flagMap[name] = value
		}
	}

	addIfUsed("config", *configFlag)
	addIfUsed("vault", *vaultFlag)
	addIfUsed("account", *accountFlag)
	addIfUsed("region", *regionFlag)
	addIfUsed("ledger", *ledgerFlag)
	addIfUsed("log-level", *logLevelFlag)
	addIfUsed("dry-run", *dryRunFlag)
	addIfUsed("quiet", *quietFlag)

	if usedFlags["path"] {
		flagMap["paths"] = flagparse.ParsePathList(*pathFlag)
	}
	if usedFlags["pack-format"] {
		// Fail fast on a typo instead of carrying it into the run config.
		if _, err := pathpack.ParseFormat(*packFormatFlag); err != nil {
			return actionRunBackup, nil, err
		}
		flagMap["pack-format"] = *packFormatFlag
	}

	// Determine which action to take based on flags.
	if *versionFlag {
		return actionShowVersion, flagMap, nil
	}
	if *initFlag {
		return actionInitConfig, flagMap, nil
	}
	return actionRunBackup, flagMap, nil
}

// configPath returns the config file location, honoring the -config flag.
func configPath(flagMap map[string]interface{}) (string, error) {
	if p, ok := flagMap["config"].(string); ok && p != "" {
		return p, nil
	}
	return config.DefaultPath()
}

// runInit writes a default config file for the user to edit.
func runInit(flagMap map[string]interface{}) error {
	path, err := configPath(flagMap)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists, refusing to overwrite", path)
	}

	cfg := config.MergeWithFlags(config.NewDefault(), flagMap)
	if err := cfg.Save(path); err != nil {
		return err
	}
	plog.Info("Wrote default config. Set the vault name and roots before the first run.", "path", path)
	return nil
}

// runBackup handles the logic for the main backup action.
func runBackup(ctx context.Context, flagMap map[string]interface{}) error {
	path, err := configPath(flagMap)
	if err != nil {
		return err
	}

	loadedConfig, err := config.Load(path)
	if err != nil {
		return err
	}

	// Merge the flag values over the loaded config to get the final run config.
	runConfig := config.MergeWithFlags(loadedConfig, flagMap)
	if err := runConfig.Validate(); err != nil {
		return err
	}

	// Set the global log level and quiet mode based on the final configuration.
	plog.SetLevel(plog.LevelFromString(runConfig.LogLevel))
	plog.SetQuiet(runConfig.Runtime.Quiet)

	if !plog.IsQuiet() {
		runConfig.LogSummary()
	}

	packFormat, err := pathpack.ParseFormat(runConfig.PackFormat)
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}

	// One run per ledger at a time.
	lock, err := runlock.Acquire(runConfig.LedgerPath + ".lock")
	if err != nil {
		if errors.Is(err, runlock.ErrHeld) {
			return fmt.Errorf("another backup run is already in progress: %w", err)
		}
		return err
	}
	defer lock.Release()

	store, err := ledger.Open(runConfig.LedgerPath)
	if err != nil {
		return err
	}
	defer store.Close()

	policies, err := planner.PoliciesFrom(runConfig.Roots)
	if err != nil {
		return err
	}

	plan, err := planner.BuildPlan(policies, store, runConfig.Runtime.DryRun)
	if err != nil {
		return err
	}

	// The transport is only constructed for real runs; a dry run must work
	// without credentials or network access.
	var transport engine.Transport
	if !runConfig.Runtime.DryRun {
		client, err := glacier.NewClient(ctx, runConfig.Glacier.Region)
		if err != nil {
			return err
		}
		transport = glacier.NewUploader(client,
			runConfig.Glacier.AccountID,
			runConfig.Glacier.Vault,
			int64(runConfig.Upload.PartSizeMB)<<20,
			runConfig.Upload.ConcurrentParts,
		)
	}

	runMetrics := &metrics.RunMetrics{}
	runner := engine.NewRunner(transport, pathpack.NewPacker(packFormat, os.TempDir()), store, runMetrics)

	report, err := runner.Execute(ctx, plan)
	if report != nil {
		report.Log()
		runMetrics.Log()
	}
	if err != nil {
		return err
	}
	if n := report.FailedCount(); n > 0 {
		return fmt.Errorf("%d upload(s) failed", n)
	}
	return nil
}

// run encapsulates the main application logic and returns an error if
// something goes wrong, allowing the main function to handle exit codes.
func run(ctx context.Context) error {
	plog.Info("Starting "+buildinfo.Name, "version", buildinfo.Version, "pid", os.Getpid())

	action, flagMap, err := parseFlagConfig()
	if err != nil {
		return err
	}

	switch action {
	case actionShowVersion:
		fmt.Printf("%s version %s\n", buildinfo.Name, buildinfo.Version)
		return nil
	case actionInitConfig:
		return runInit(flagMap)
	case actionRunBackup:
		startTime := time.Now()
		if err := runBackup(ctx, flagMap); err != nil {
			return err
		}
		plog.Info(buildinfo.Name+" finished successfully.", "duration", time.Since(startTime).Round(time.Millisecond))
		return nil
	default:
		return fmt.Errorf("internal error: unknown action %d", action)
	}
}

func main() {
	// Set up a context that is canceled when an interrupt signal is received.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Listen for interrupt signals (like Ctrl+C) in a separate goroutine.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	go func() {
		<-sigChan
		cancel()
	}()

	if err := run(ctx); err != nil {
		plog.Error(buildinfo.Name+" exited with error", "error", err)
		os.Exit(1)
	}
}
