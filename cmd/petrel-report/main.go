package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/petrel/internal/common"
	"github.com/ternarybob/petrel/internal/pipeline"
	"github.com/ternarybob/petrel/internal/store"
	"github.com/ternarybob/petrel/internal/twitter"
)

var (
	configFile   = flag.String("config", "", "Configuration file path")
	urlList      = flag.String("urls", "", "URL list file (overrides config)")
	rawCachePath = flag.String("download-db", "", "Raw payload cache database path (overrides config)")
	tweetDBPath  = flag.String("tweet-db", "", "Tweet store database path (overrides config)")
	showVersion  = flag.Bool("version", false, "Print version information")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("Petrel version %s\n", common.GetVersion())
		os.Exit(0)
	}

	configPath := *configFile
	if configPath == "" {
		if _, err := os.Stat("petrel.toml"); err == nil {
			configPath = "petrel.toml"
		}
	}
	config, err := common.LoadFromFiles(configPath)
	if err != nil {
		arbor.NewLogger().Fatal().Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}
	if *urlList != "" {
		config.Fetcher.URLList = *urlList
	}
	if flag.NArg() > 0 {
		config.Fetcher.URLList = flag.Arg(0)
	}
	if *rawCachePath != "" {
		config.Storage.RawCachePath = *rawCachePath
	}
	if *tweetDBPath != "" {
		config.Storage.TweetStorePath = *tweetDBPath
	}

	logger := common.InitLogger(config)
	common.PrintBanner("Petrel")

	if info, err := os.Stat(config.Fetcher.URLList); err != nil || info.IsDir() {
		logger.Fatal().Str("path", config.Fetcher.URLList).Msg("URL list file not found")
		os.Exit(1)
	}

	if err := run(config, logger); err != nil {
		logger.Fatal().Err(err).Msg("Report failed")
		os.Exit(1)
	}
}

func run(config *common.Config, logger arbor.ILogger) error {
	codec := twitter.NewURLCodec()
	urls, err := codec.ReadURLList(config.Fetcher.URLList)
	if err != nil {
		return err
	}

	rawCache, err := store.OpenRawCache(config.Storage.RawCachePath, &config.Storage.SQLite, logger)
	if err != nil {
		return err
	}
	defer rawCache.Close()

	tweets, err := store.OpenTweetStore(config.Storage.TweetStorePath, &config.Storage.SQLite, codec, logger)
	if err != nil {
		return err
	}
	defer tweets.Close()

	reporter := pipeline.NewReporter(codec, rawCache, tweets, logger)
	reporter.Run(urls).Log(logger)
	return nil
}
