package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/phuslu/log"

	"github.com/ternarybob/petrel/internal/common"
	"github.com/ternarybob/petrel/internal/downloader"
	"github.com/ternarybob/petrel/internal/store"
	"github.com/ternarybob/petrel/internal/twitter"
)

var (
	configFile  = flag.String("config", "", "Configuration file path")
	tweetDBPath = flag.String("tweet-db", "", "Tweet store database path (overrides config)")
	destDir     = flag.String("dest", "", "Download destination directory (overrides config)")
	showVersion = flag.Bool("version", false, "Print version information")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("Petrel version %s\n", common.GetVersion())
		os.Exit(0)
	}

	// Progress output wants plain console lines, not the structured
	// multi-writer setup the crawler uses
	logger := log.Logger{
		Level:      log.InfoLevel,
		TimeFormat: "15:04:05",
		Writer:     &log.ConsoleWriter{ColorOutput: true},
	}

	configPath := *configFile
	if configPath == "" {
		if _, err := os.Stat("petrel.toml"); err == nil {
			configPath = "petrel.toml"
		}
	}
	config, err := common.LoadFromFiles(configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *tweetDBPath != "" {
		config.Storage.TweetStorePath = *tweetDBPath
	}
	if *destDir != "" {
		config.Downloader.DestDir = *destDir
	}
	if flag.NArg() > 0 {
		config.Downloader.DestDir = flag.Arg(0)
	}

	if info, err := os.Stat(config.Storage.TweetStorePath); err != nil || info.IsDir() {
		logger.Fatal().Str("path", config.Storage.TweetStorePath).Msg("tweet store database not found")
	}
	if info, err := os.Stat(config.Downloader.DestDir); err == nil && !info.IsDir() {
		logger.Fatal().Str("path", config.Downloader.DestDir).Msg("destination exists but is not a directory")
	}

	if err := run(config, &logger); err != nil {
		logger.Fatal().Err(err).Msg("download failed")
	}
}

func run(config *common.Config, logger *log.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	codec := twitter.NewURLCodec()
	tweets, err := store.OpenTweetStore(config.Storage.TweetStorePath, &config.Storage.SQLite, codec, common.GetLogger())
	if err != nil {
		return err
	}
	defer tweets.Close()

	rows, err := tweets.MediaTasks()
	if err != nil {
		return err
	}
	logger.Info().Int("media_rows", len(rows)).Msg("media rows loaded")

	tasks := downloader.NewTaskBuilder().Build(rows, config.Downloader.DestDir)
	logger.Info().Int("tasks", len(tasks)).Msg("tasks to download after skipping files already on disk")
	if len(tasks) == 0 {
		return nil
	}

	dl := downloader.New(downloader.Config{
		DestDir:     config.Downloader.DestDir,
		Concurrency: config.Downloader.Concurrency,
		Timeout:     config.Downloader.Timeout,
		UserAgent:   config.Downloader.UserAgent,
	}, logger)

	manifest, err := dl.Run(ctx, tasks)
	if err != nil {
		return err
	}
	if manifest != "" {
		logger.Warn().Str("file", manifest).Msg("failure manifest written")
	}
	return nil
}
