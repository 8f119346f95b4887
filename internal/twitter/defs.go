package twitter

// Upstream constants: login flow URLs and selectors, and the tombstone
// phrases the parser matches. None of this is documented by the upstream;
// it is all observed behavior.

const (
	LoginURL = "https://twitter.com/i/flow/login"

	LoginUsernameSelector   = `input[autocomplete*="username"]`
	LoginPasswordSelector   = `input[autocomplete*="password"]`
	LoginValidateSelector   = `input[data-testid="ocfEnterTextTextInput"]`
	LoginButtonNextSelector = `div[role="button"][style*="background-color"]`
	LoginButtonVerify       = `div[role="button"][data-testid="ocfEnterTextNextButton"]`
	LoginButtonLogin        = `div[role="button"][data-testid="LoginForm_Login_Button"]`

	AnalyticsURL     = "https://analytics.twitter.com/"
	AnalyticsNoneURL = "https://analytics.twitter.com/about"
)

// Tombstone phrases are localized; these match the zh-CN strings the
// upstream serves for the session locale the crawler runs under.
const (
	tombstoneAccountSuspended  = "这条推文来自一个已冻结的账号"
	tombstoneAccountNotExisted = "这条推文来自一个已不存在的账号。"
	tombstoneAdultContent      = "受年龄限制的成人内容。这些内容可能不适合 18 岁以下的用户。"
	tombstoneUserRestricted    = "该账号所有者限制了可以查看其推文的用户。"
	tombstoneIllegalContent    = "此推文违反了 Twitter 规则。"
	tombstoneNotAvailable      = "这条推文不可用。"

	// Top-level errors array marker for a deleted tweet
	errorMessageDeleted = "_Missing: No status found with that ID."
)
