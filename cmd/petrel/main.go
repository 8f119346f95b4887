package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/petrel/internal/common"
	"github.com/ternarybob/petrel/internal/fetcher"
	"github.com/ternarybob/petrel/internal/pipeline"
	"github.com/ternarybob/petrel/internal/store"
	"github.com/ternarybob/petrel/internal/twitter"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles  configPaths
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")

	urlList       = flag.String("urls", "", "URL list file (overrides config)")
	rawCachePath  = flag.String("download-db", "", "Raw payload cache database path (overrides config)")
	tweetDBPath   = flag.String("tweet-db", "", "Tweet store database path (overrides config)")
	username      = flag.String("username", "", "Login username (overrides config)")
	password      = flag.String("password", "", "Login password (overrides config)")
	verification  = flag.String("verification-username", "", "Username to answer the login verification prompt")
	noLogin       = flag.Bool("no-login", false, "Skip the logged-in tier entirely")
	manualLogin   = flag.Bool("manual-login", false, "Sign in through the browser window instead of automated login")
	mustLogin     = flag.Bool("must-login", false, "Skip the anonymous tier, run logged-in only")
	noHeadless    = flag.Bool("no-headless", false, "Run Chrome with a visible window")
	chromeData    = flag.String("chrome-data-dir", "", "Chrome profile dir for the anonymous session")
	chromeDataLog = flag.String("chrome-data-dir-login", "", "Chrome profile dir for the logged-in session")
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("Petrel version %s\n", common.GetVersion())
		os.Exit(0)
	}

	// Startup sequence:
	// 1. Load config (defaults -> files -> env)
	// 2. Apply CLI overrides (highest priority)
	// 3. Initialize logger
	// 4. Print banner
	if len(configFiles) == 0 {
		if _, err := os.Stat("petrel.toml"); err == nil {
			configFiles = append(configFiles, "petrel.toml")
		}
	}

	config, err := common.LoadFromFiles(configFiles...)
	if err != nil {
		arbor.NewLogger().Fatal().Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}
	applyFlagOverrides(config)

	logger := common.InitLogger(config)
	common.PrintBanner("Petrel")

	if info, err := os.Stat(config.Fetcher.URLList); err != nil || info.IsDir() {
		logger.Fatal().Str("path", config.Fetcher.URLList).Msg("URL list file not found")
		os.Exit(1)
	}

	if err := run(config, logger); err != nil {
		logger.Fatal().Err(err).Msg("Crawl failed")
		os.Exit(1)
	}
}

func applyFlagOverrides(config *common.Config) {
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
	if *username != "" {
		config.Fetcher.Username = *username
	}
	if *password != "" {
		config.Fetcher.Password = *password
	}
	if *verification != "" {
		config.Fetcher.VerificationUsername = *verification
	}
	if *noLogin {
		config.Fetcher.NoLogin = true
	}
	if *manualLogin {
		config.Fetcher.ManualLogin = true
	}
	if *mustLogin {
		config.Fetcher.MustLogin = true
	}
	if *noHeadless {
		config.Fetcher.Headless = false
	}
	if *chromeData != "" {
		config.Fetcher.ChromeDataDir = *chromeData
	}
	if *chromeDataLog != "" {
		config.Fetcher.ChromeDataDirLogin = *chromeDataLog
	}
}

func run(config *common.Config, logger arbor.ILogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	codec := twitter.NewURLCodec()
	urls, err := codec.ReadURLList(config.Fetcher.URLList)
	if err != nil {
		return err
	}

	// Remember whether the store predates this run before opening creates it
	storeExisted := false
	if _, err := os.Stat(config.Storage.TweetStorePath); err == nil {
		storeExisted = true
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

	var anon fetcher.TweetFetcher
	if !config.Fetcher.MustLogin {
		logger.Info().Msg("Setting up anonymous fetcher")
		browser, err := fetcher.NewBrowser(fetcher.BrowserConfig{
			UserDataDir: config.Fetcher.ChromeDataDir,
			Headless:    config.Fetcher.Headless,
		}, codec, logger)
		if err != nil {
			return fmt.Errorf("anonymous browser: %w", err)
		}
		defer browser.Close()
		anon = browser
	}

	var auth fetcher.TweetFetcher
	if !config.Fetcher.NoLogin {
		logger.Info().Msg("Setting up logged-in fetcher")
		browser, err := fetcher.NewBrowser(fetcher.BrowserConfig{
			UserDataDir: config.Fetcher.ChromeDataDirLogin,
			Headless:    config.Fetcher.Headless,
		}, codec, logger)
		if err != nil {
			return fmt.Errorf("logged-in browser: %w", err)
		}
		defer browser.Close()

		if err := ensureLoggedIn(ctx, browser, config, logger); err != nil {
			return err
		}
		auth = browser
	}

	orch := fetcher.NewOrchestrator(codec, rawCache, logger)
	parser := twitter.NewParser(logger)
	tally := &pipeline.Tally{}
	proc := pipeline.NewProcessor(codec, rawCache, tweets, parser, tally, logger)
	runner := pipeline.NewRunner(codec, orch, proc, tweets, tally, config.Fetcher.MaxAuthRounds, logger)

	return runner.Run(ctx, anon, auth, urls, storeExisted)
}

// ensureLoggedIn verifies the login profile has a session, running the
// login flow when it does not.
func ensureLoggedIn(ctx context.Context, browser *fetcher.Browser, config *common.Config, logger arbor.ILogger) error {
	if name, ok, err := browser.Username(ctx); err == nil && ok {
		logger.Info().Str("username", name).Msg("Already logged in")
		return nil
	}
	logger.Info().Msg("Not logged in, running login flow")

	creds := gatherCredentials(config, logger)
	return browser.Login(ctx, creds)
}

// gatherCredentials assembles automated-login credentials from config,
// prompting for whatever is missing. Returns nil for manual login.
func gatherCredentials(config *common.Config, logger arbor.ILogger) *fetcher.Credentials {
	if config.Fetcher.ManualLogin {
		return nil
	}

	stdin := bufio.NewReader(os.Stdin)

	name := config.Fetcher.Username
	if name == "" {
		fmt.Print("Enter your username (empty to use manual login): ")
		line, err := stdin.ReadString('\n')
		if err != nil {
			return nil
		}
		name = strings.TrimSpace(line)
	}
	if name == "" {
		return nil
	}

	pass := config.Fetcher.Password
	for pass == "" {
		fmt.Print("Enter your password: ")
		line, err := stdin.ReadString('\n')
		if err != nil {
			logger.Warn().Err(err).Msg("Could not read password, falling back to manual login")
			return nil
		}
		pass = strings.TrimSpace(line)
	}

	return &fetcher.Credentials{
		Username:             name,
		Password:             pass,
		VerificationUsername: config.Fetcher.VerificationUsername,
	}
}
