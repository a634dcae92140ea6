package login

import "github.com/xkilldash9x/autosetname/internal/browser"

// Selectors locates every element the login flow touches.
type Selectors struct {
	PromoClose     browser.ElementQuery
	LoginLink      browser.ElementQuery
	AnotherAccount browser.ElementQuery
	Identity       browser.ElementQuery
	Next           browser.ElementQuery
	Secret         browser.ElementQuery
	Submit         browser.ElementQuery
	Skip           browser.ElementQuery
	StayHeading    browser.ElementQuery
	Decline        browser.ElementQuery
	// WatcherClose is the modal the background watcher keeps dismissing.
	WatcherClose browser.ElementQuery
}

// DefaultSelectors returns the locators for the minecraft.net and Microsoft
// account pages (zh-hans locale).
func DefaultSelectors() Selectors {
	return Selectors{
		PromoClose:     browser.CSS("promo close", "button.MC_modal_close", browser.Clickable),
		LoginLink:      browser.CSS("login link", `a[data-testid="MSALoginButtonLink"]`, browser.Clickable),
		AnotherAccount: browser.XPath("use another account", `//div[@data-testid="mainText" and contains(., "使用另一个帐户")]`, browser.Clickable),
		Identity:       browser.CSS("email input", `input[name="loginfmt"]`, browser.Present),
		Next:           browser.ID("next button", "idSIButton9", browser.Clickable),
		Secret:         browser.CSS("password input", `input[name="passwd"]`, browser.Present),
		Submit:         browser.ID("sign-in button", "idSIButton9", browser.Clickable),
		Skip:           browser.ID("skip link", "iShowSkip", browser.Clickable),
		StayHeading:    browser.CSS("stay signed in heading", `div[role="heading"][aria-level="1"][id="kmsiTitle"]`, browser.Present),
		Decline:        browser.ID("decline button", "declineButton", browser.Clickable),
		WatcherClose:   browser.CSS("modal close", `button.MC_modal_close[aria-label="关闭 Aria"]`, browser.Clickable),
	}
}
