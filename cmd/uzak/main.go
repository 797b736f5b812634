// Package main implements the uzak command, which keeps a local collection
// of ZIM archives in sync with the remote Kiwix catalog.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bunburya/uzak"
	"github.com/bunburya/uzak/catalog"
	"github.com/bunburya/uzak/config"
	"github.com/bunburya/uzak/database"
	"github.com/bunburya/uzak/download"
	"github.com/bunburya/uzak/library"
	"github.com/bunburya/uzak/manager"
	"github.com/bunburya/uzak/torrent"
)

// Options holds command-line options across subcommands.
type Options struct {
	ConfigPath string
	LogLevel   string

	// update
	Prompt bool
	Quiet  bool

	// find-archives
	Lang string

	// add
	Copy bool
}

var (
	log = logrus.New()

	updateCmd       = flag.NewFlagSet("update", flag.ExitOnError)
	findArchivesCmd = flag.NewFlagSet("find-archives", flag.ExitOnError)
	addCmd          = flag.NewFlagSet("add", flag.ExitOnError)
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var opts Options

	switch os.Args[1] {
	case "update":
		parseUpdateFlags(&opts, updateCmd, os.Args[2:])
		if err := runUpdate(opts); err != nil {
			log.WithError(err).Fatal("update failed")
		}
	case "find-archives":
		parseFindArchivesFlags(&opts, findArchivesCmd, os.Args[2:])
		if err := runFindArchives(opts); err != nil {
			log.WithError(err).Fatal("find-archives failed")
		}
	case "add":
		args := parseAddFlags(&opts, addCmd, os.Args[2:])
		if err := runAdd(opts, args); err != nil {
			log.WithError(err).Fatal("add failed")
		}
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("uzak - fetch new ZIM archives from the Kiwix catalog")
	fmt.Println()
	fmt.Println("Usage: uzak <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  update          Download new versions of watched archives")
	fmt.Println("  find-archives   List available archives as config file sections")
	fmt.Println("  add             Register an already-downloaded ZIM file")
	fmt.Println()
	fmt.Println("Run 'uzak <command> --help' for more information on a command.")
}

func addCommonFlags(opts *Options, fs *flag.FlagSet) {
	fs.StringVar(&opts.ConfigPath, "config", "", "Path to config file (default: user config dir)")
	fs.StringVar(&opts.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}

func parseUpdateFlags(opts *Options, fs *flag.FlagSet, args []string) {
	addCommonFlags(opts, fs)
	fs.BoolVar(&opts.Prompt, "prompt", false, "Prompt for confirmation (once) before downloading")
	fs.BoolVar(&opts.Quiet, "quiet", false, "Suppress progress output (for scripting)")
	fs.Parse(args)
}

func parseFindArchivesFlags(opts *Options, fs *flag.FlagSet, args []string) {
	addCommonFlags(opts, fs)
	fs.StringVar(&opts.Lang, "lang", "", "Only list archives in this language")
	fs.Parse(args)
}

func parseAddFlags(opts *Options, fs *flag.FlagSet, args []string) []string {
	addCommonFlags(opts, fs)
	fs.BoolVar(&opts.Copy, "copy", false, "Copy the file into the archive directory rather than moving it")
	fs.Parse(args)

	rest := fs.Args()
	if len(rest) < 4 || len(rest) > 5 {
		fmt.Println("Usage: uzak add [options] <file> <project> <language> <flavor> [date]")
		fs.Usage()
		os.Exit(1)
	}
	return rest
}

func configureLogging(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// loadConfig resolves the config path and loads the file, checking the base
// layout on disk.
func loadConfig(opts Options) (*config.Config, error) {
	path := opts.ConfigPath
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	// The base dir holds the archive dir, library file and database; a
	// plain file in the way is unrecoverable, a missing dir is created.
	for _, dir := range []string{cfg.BaseDir, cfg.ArchiveDir()} {
		info, err := os.Stat(dir)
		switch {
		case err == nil && !info.IsDir():
			return nil, fmt.Errorf("already a non-directory file at %s", dir)
		case os.IsNotExist(err):
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating %s: %w", dir, err)
			}
		case err != nil:
			return nil, err
		}
	}
	return cfg, nil
}

// buildManager constructs the full dependency graph for a run. The download
// strategy follows the configuration: a [qbittorrent] section selects the
// torrent client, otherwise files are fetched directly over HTTP.
func buildManager(ctx context.Context, cfg *config.Config) (*manager.Manager, *database.DB, error) {
	db, err := database.New(database.DefaultConfig(cfg.DBPath()))
	if err != nil {
		return nil, nil, err
	}

	var downloader download.Downloader
	if qbt := cfg.QBittorrent; qbt != nil {
		client, err := torrent.NewWebUIClient(qbt.Host, qbt.Port)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		if err := client.Login(ctx, qbt.Username, qbt.Password); err != nil {
			db.Close()
			return nil, nil, err
		}
		downloader = &torrent.Downloader{
			Client:       client,
			ArchiveDir:   cfg.ArchiveDir(),
			PollInterval: qbt.PollInterval(),
			Logger:       log,
		}
	} else {
		downloader = &download.Direct{
			ArchiveDir:    cfg.ArchiveDir(),
			Logger:        log,
			MaxConcurrent: 4,
		}
	}

	source := &catalog.ScrapeSource{URL: cfg.ContentURL}
	lib := library.NewManager(cfg.KiwixManageExec, cfg.LibraryPath(), log)

	return manager.New(cfg, db, source, downloader, lib, log), db, nil
}

func runUpdate(opts Options) error {
	configureLogging(opts.LogLevel)
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	mgr, db, err := buildManager(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	return mgr.Update(ctx, manager.UpdateOptions{
		Prompt: opts.Prompt,
		Quiet:  opts.Quiet,
	})
}

func runFindArchives(opts Options) error {
	configureLogging(opts.LogLevel)
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	mgr, db, err := buildManager(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	out, err := mgr.ArchiveConfigs(ctx, opts.Lang)
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func runAdd(opts Options, args []string) error {
	configureLogging(opts.LogLevel)
	ctx, cancel := signalContext()
	defer cancel()

	file := args[0]
	ref := uzak.ArchiveReference{
		Project:  args[1],
		Language: args[2],
		Flavor:   args[3],
	}
	var dateCreated time.Time
	if len(args) == 5 {
		var err error
		dateCreated, err = uzak.ParseMonth(args[4])
		if err != nil {
			return err
		}
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	mgr, db, err := buildManager(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	arch, err := mgr.AddFile(ctx, file, ref, dateCreated, opts.Copy)
	if err != nil {
		return err
	}
	fmt.Printf("Added %s as %s\n", file, arch.FileName)
	return nil
}
