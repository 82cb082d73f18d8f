package myq

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// verificationTokenField is the hidden anti-forgery field the login form
// carries; its absence means we did not get a usable form.
const verificationTokenField = "__RequestVerificationToken"

// challengeMarkers identify an interactive bot-verification page served in
// place of the login form.
var challengeMarkers = []string{
	"cf-browser-verification",
	"challenge-platform",
}

// IsChallengePage reports whether the HTML is an edge-security verification
// page rather than a login form.
func IsChallengePage(html string) bool {
	for _, marker := range challengeMarkers {
		if strings.Contains(html, marker) {
			return true
		}
	}
	return false
}

// loginForm is the scraped state needed to submit credentials: the resolved
// action URL and every hidden field the form wants echoed back.
type loginForm struct {
	Action string
	Fields url.Values
}

// parseLoginForm extracts the login form from the authorization page HTML.
// pageURL is the URL the page was fetched from, used to resolve a relative
// form action; a form without an action posts back to the page itself.
func parseLoginForm(body []byte, pageURL *url.URL) (*loginForm, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	tokenInput := doc.Find("input[name='" + verificationTokenField + "']").First()
	if tokenInput.Length() == 0 {
		return nil, ErrFormNotFound
	}
	if val, _ := tokenInput.Attr("value"); val == "" {
		return nil, ErrFormNotFound
	}

	form := tokenInput.Closest("form")
	if form.Length() == 0 {
		form = doc.Find("form").First()
	}

	fields := url.Values{}
	form.Find("input[type='hidden']").Each(func(_ int, sel *goquery.Selection) {
		name, _ := sel.Attr("name")
		if name == "" {
			return
		}
		value, _ := sel.Attr("value")
		fields.Set(name, value)
	})

	action := pageURL.String()
	if raw, ok := form.Attr("action"); ok && raw != "" {
		if ref, err := url.Parse(raw); err == nil {
			action = pageURL.ResolveReference(ref).String()
		}
	}

	return &loginForm{Action: action, Fields: fields}, nil
}
