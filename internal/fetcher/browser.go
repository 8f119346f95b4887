package fetcher

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/petrel/internal/twitter"
)

// detailWaitTimeout bounds how long a navigation may sit without the
// TweetDetail XHR arriving before the fetch is abandoned.
const detailWaitTimeout = 30 * time.Second

// sessionCeiling caps the lifetime of one Chrome instance. No crawl
// should run this long; hitting it means something is wedged.
const sessionCeiling = 24 * time.Hour

// Credentials drive the automated login flow. VerificationUsername is
// only consulted when the flow asks for an extra identity check.
type Credentials struct {
	Username             string
	Password             string
	VerificationUsername string
}

// Browser owns one Chrome instance bound to a profile directory. The
// anonymous and logged-in tiers each get their own Browser so their
// cookie jars never mix.
type Browser struct {
	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	codec           *twitter.URLCodec
	usernamePattern *regexp.Regexp
	logger          arbor.ILogger
}

// BrowserConfig holds the launch options for a Browser
type BrowserConfig struct {
	UserDataDir string
	Headless    bool
	UserAgent   string
}

// NewBrowser launches Chrome against the given profile directory and
// verifies it responds before returning.
func NewBrowser(config BrowserConfig, codec *twitter.URLCodec, logger arbor.ILogger) (*Browser, error) {
	allocatorOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", config.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserDataDir(config.UserDataDir),
	)
	if config.UserAgent != "" {
		allocatorOpts = append(allocatorOpts, chromedp.UserAgent(config.UserAgent))
	}

	rootCtx, rootCancel := context.WithTimeout(context.Background(), sessionCeiling)
	allocCtx, allocCancel := chromedp.NewExecAllocator(rootCtx, allocatorOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	allCancel := func() {
		allocCancel()
		rootCancel()
	}

	// Startup test so a broken Chrome install fails here, not mid-run
	testCtx, testCancel := context.WithTimeout(browserCtx, 30*time.Second)
	defer testCancel()
	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		browserCancel()
		allCancel()
		return nil, fmt.Errorf("browser failed startup test: %w", err)
	}

	logger.Info().
		Str("user_data_dir", config.UserDataDir).
		Bool("headless", config.Headless).
		Msg("Browser instance started")

	return &Browser{
		allocCtx:        allocCtx,
		allocCancel:     allCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		codec:           codec,
		usernamePattern: regexp.MustCompile(`https://analytics\.twitter\.com/user/(.*?)/`),
		logger:          logger,
	}, nil
}

// Close shuts the browser down
func (b *Browser) Close() {
	b.browserCancel()
	b.allocCancel()
	b.logger.Debug().Msg("Browser instance shut down")
}

// FetchTweet navigates to a tweet URL in a fresh tab and captures the
// TweetDetail GraphQL XHR the page issues. The returned body is the raw
// JSON payload; rate limiting and malformed responses surface as typed
// errors so the caller can decide between backoff and giving up.
func (b *Browser) FetchTweet(ctx context.Context, url string) (string, error) {
	if !twitter.IsTweetURL(url) {
		return "", twitter.E(twitter.KindNotATweet)
	}

	tabCtx, cancelTab := chromedp.NewContext(b.browserCtx)
	defer cancelTab()
	tabCtx, cancelWait := context.WithTimeout(tabCtx, detailWaitTimeout)
	defer cancelWait()
	go func() {
		// Propagate caller cancellation into the tab
		select {
		case <-ctx.Done():
			cancelWait()
		case <-tabCtx.Done():
		}
	}()

	bodyCh := make(chan string, 1)
	var mu sync.Mutex
	pending := make(map[network.RequestID]struct{})

	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventResponseReceived:
			if e.Type == network.ResourceTypeXHR && b.codec.IsDetailResponse(e.Response.URL) {
				mu.Lock()
				pending[e.RequestID] = struct{}{}
				mu.Unlock()
			}
		case *network.EventLoadingFinished:
			mu.Lock()
			_, wanted := pending[e.RequestID]
			mu.Unlock()
			if !wanted {
				return
			}
			// Body retrieval is a CDP round trip, keep it off the event loop
			go func(id network.RequestID) {
				c := chromedp.FromContext(tabCtx)
				body, err := network.GetResponseBody(id).Do(cdp.WithExecutor(tabCtx, c.Target))
				if err != nil {
					b.logger.Trace().Err(err).Str("url", url).Msg("Failed to read intercepted response body")
					return
				}
				select {
				case bodyCh <- string(body):
				default:
				}
			}(e.RequestID)
		}
	})

	// Navigate without waiting for the load event. The XHR we want lands
	// well before the page finishes rendering.
	err := chromedp.Run(tabCtx,
		network.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, _, errorText, _, err := page.Navigate(url).Do(ctx)
			if err != nil {
				return err
			}
			if errorText != "" {
				return fmt.Errorf("navigation failed: %s", errorText)
			}
			return nil
		}),
	)
	if err != nil {
		return "", twitter.Errorf(twitter.KindOther, "navigate %s: %v", url, err)
	}

	select {
	case body := <-bodyCh:
		return classifyPayload(body)
	case <-tabCtx.Done():
		return "", twitter.Errorf(twitter.KindOther, "no tweet detail response within %s for %s", detailWaitTimeout, url)
	}
}

// classifyPayload separates a usable TweetDetail body from the rate-limit
// and garbage responses the endpoint serves under pressure. Non-JSON
// bodies mentioning a limit are rate limiting in an HTML skin; JSON
// bodies can carry the same verdict inside their errors array.
func classifyPayload(body string) (string, error) {
	if !strings.HasPrefix(body, "{") {
		if strings.Contains(body, "limit") {
			return "", twitter.E(twitter.KindRateLimited)
		}
		return "", twitter.Errorf(twitter.KindOther, "unexpected tweet detail response body")
	}
	var envelope struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal([]byte(body), &envelope); err != nil {
		return "", twitter.E(twitter.KindSchemaInvalid)
	}
	for _, e := range envelope.Errors {
		if strings.Contains(e.Message, "Rate limit exceeded") || strings.Contains(e.Message, "OverCapacity") {
			return "", twitter.E(twitter.KindRateLimited)
		}
	}
	return body, nil
}

// Username probes the analytics host, which redirects logged-in sessions
// to a user-specific URL. Returns ok=false for an anonymous session.
func (b *Browser) Username(ctx context.Context) (string, bool, error) {
	probeCtx, cancel := context.WithTimeout(b.browserCtx, 30*time.Second)
	defer cancel()

	var location string
	err := chromedp.Run(probeCtx,
		chromedp.Navigate(twitter.AnalyticsURL),
		chromedp.Location(&location),
	)
	if err != nil {
		return "", false, fmt.Errorf("analytics probe: %w", err)
	}
	if strings.Contains(location, twitter.AnalyticsNoneURL) {
		return "", false, nil
	}
	m := b.usernamePattern.FindStringSubmatch(location)
	if m == nil {
		return "", false, twitter.Errorf(twitter.KindOther, "cannot extract username from %s", location)
	}
	return m[1], true, nil
}

// Login runs the sign-in flow on this browser's profile. With nil
// credentials the flow is manual: the operator signs in through the
// visible browser window and presses enter. Either way the session is
// verified with the analytics probe before returning.
func (b *Browser) Login(ctx context.Context, creds *Credentials) error {
	navCtx, cancel := context.WithTimeout(b.browserCtx, 30*time.Second)
	defer cancel()
	if err := chromedp.Run(navCtx, chromedp.Navigate(twitter.LoginURL)); err != nil {
		return fmt.Errorf("open login page: %w", err)
	}

	if creds == nil {
		b.logger.Info().Msg("Manual login: sign in through the browser window, then press enter here")
		if _, err := bufio.NewReader(os.Stdin).ReadString('\n'); err != nil {
			return fmt.Errorf("wait for manual login: %w", err)
		}
	} else {
		if err := b.automatedLogin(ctx, creds); err != nil {
			return err
		}
	}

	username, ok, err := b.Username(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return twitter.Errorf(twitter.KindLoginFailed, "session has no username after login")
	}
	b.logger.Info().Str("username", username).Msg("Logged in")
	return nil
}

func (b *Browser) automatedLogin(ctx context.Context, creds *Credentials) error {
	b.logger.Info().Str("username", creds.Username).Msg("Automated login")

	stepCtx, cancel := context.WithTimeout(b.browserCtx, 2*time.Minute)
	defer cancel()

	err := chromedp.Run(stepCtx,
		chromedp.WaitVisible(twitter.LoginUsernameSelector),
		chromedp.SendKeys(twitter.LoginUsernameSelector, creds.Username),
		chromedp.Click(twitter.LoginButtonNextSelector),
	)
	if err != nil {
		return twitter.Errorf(twitter.KindLoginFailed, "username step: %v", err)
	}

	// The next input is either the password box or an identity check.
	// The input's type attribute tells them apart.
	combined := twitter.LoginValidateSelector + ", " + twitter.LoginPasswordSelector
	var inputType string
	var hasType bool
	err = chromedp.Run(stepCtx,
		chromedp.WaitVisible(combined),
		chromedp.AttributeValue(combined, "type", &inputType, &hasType),
	)
	if err != nil {
		return twitter.Errorf(twitter.KindLoginFailed, "post-username step: %v", err)
	}

	if hasType && inputType == "password" {
		b.logger.Debug().Msg("No verification required, entering password")
		if err := chromedp.Run(stepCtx, chromedp.SendKeys(twitter.LoginPasswordSelector, creds.Password)); err != nil {
			return twitter.Errorf(twitter.KindLoginFailed, "password step: %v", err)
		}
	} else {
		b.logger.Debug().Msg("Login requires identity verification")
		vname := creds.VerificationUsername
		if vname == "" {
			fmt.Fprint(os.Stderr, "Enter your username for verification: ")
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil {
				return twitter.Errorf(twitter.KindLoginFailed, "read verification username: %v", err)
			}
			vname = strings.TrimSpace(line)
			if vname == "" {
				return twitter.Errorf(twitter.KindLoginFailed, "no verification username provided")
			}
		}
		err = chromedp.Run(stepCtx,
			chromedp.SendKeys(twitter.LoginValidateSelector, vname),
			chromedp.Click(twitter.LoginButtonVerify),
			chromedp.WaitVisible(twitter.LoginPasswordSelector),
			chromedp.SendKeys(twitter.LoginPasswordSelector, creds.Password),
		)
		if err != nil {
			return twitter.Errorf(twitter.KindLoginFailed, "verification step: %v", err)
		}
	}

	if err := chromedp.Run(stepCtx, chromedp.Click(twitter.LoginButtonLogin)); err != nil {
		return twitter.Errorf(twitter.KindLoginFailed, "submit step: %v", err)
	}

	// Wait for the post-login redirect to the home timeline
	for {
		var location string
		if err := chromedp.Run(stepCtx, chromedp.Location(&location)); err != nil {
			return twitter.Errorf(twitter.KindLoginFailed, "wait for redirect: %v", err)
		}
		if strings.Contains(location, "home") {
			return nil
		}
		select {
		case <-stepCtx.Done():
			return twitter.Errorf(twitter.KindLoginFailed, "timed out waiting for post-login redirect")
		case <-time.After(500 * time.Millisecond):
		}
	}
}
