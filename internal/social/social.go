// Package social implements the Social Link Extractor (C8, Phase 5):
// strips consent-management overlays from retained page HTML, then
// scans anchors for links to a fixed set of social platforms.
package social

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"bizintel/internal/config"
	"bizintel/internal/model"
)

// consentOverlaySelectors removes the container elements of known
// cookie/consent-management platforms plus generic modal/backdrop
// patterns, so overlay-hidden footer links are reachable (§4.8 step 1).
var consentOverlaySelectors = []string{
	// OneTrust
	"#onetrust-consent-sdk", "#onetrust-banner-sdk", "#onetrust-pc-sdk",
	"div[id*=onetrust]", "div[class*=onetrust]",
	// Cookiebot
	"#CybotCookiebotDialog", "#CybotCookiebotDialogBodyUnderlay",
	"div[id*=Cybotcookiebot]", "div[class*=cookiebot]",
	// Quantcast / IAB TCF
	"div.qc-cmp2-container", "div[class*=qc-cmp]",
	// TrustArc
	"div#trustarc-banner-container", "div[id*=truste]", "div[class*=trustarc]",
	// Didomi
	"#didomi-host", "div[id*=didomi]", "div[class*=didomi]",
	// Generic consent/cookie/gdpr banners
	"div[id*=consent]", "div[class*=consent]",
	"div[id*=cookie-banner]", "div[class*=cookie-banner]",
	"div[id*=cookie-consent]", "div[class*=cookie-consent]",
	"div[id*=gdpr]", "div[class*=gdpr]",
	"[data-consent]", "[data-testid*=cookie]", "[data-testid*=consent]",
	// Generic modal/backdrop overlays that commonly host CMPs
	"div.modal-backdrop", "div[class*=modal-overlay]",
	"div[class*=overlay-backdrop]", "div[role=dialog][aria-label*=cookie]",
	"div[role=dialog][aria-label*=Cookie]", "div[class*=cookie-modal]",
	"div[class*=privacy-banner]", "div[id*=privacy-banner]",
}

// platformHosts maps a platform to the hostnames that identify it,
// covering the ≥12-platform closed set from §4.8 step 2.
var platformHosts = map[model.Platform][]string{
	model.PlatformFacebook:  {"facebook.com", "fb.com"},
	model.PlatformTwitter:   {"twitter.com", "x.com"},
	model.PlatformLinkedIn:  {"linkedin.com"},
	model.PlatformInstagram: {"instagram.com"},
	model.PlatformYouTube:   {"youtube.com", "youtu.be"},
	model.PlatformTikTok:    {"tiktok.com"},
	model.PlatformGitHub:    {"github.com"},
	model.PlatformPinterest: {"pinterest.com"},
	model.PlatformMedium:    {"medium.com"},
	model.PlatformReddit:    {"reddit.com"},
	model.PlatformDiscord:   {"discord.com", "discord.gg"},
	model.PlatformTwitch:    {"twitch.tv"},
	model.PlatformVimeo:     {"vimeo.com"},
	model.PlatformThreads:   {"threads.net"},
	model.PlatformMastodon:  {"mastodon.social"},
}

// sharePathPrefixes are false-positive share-intent paths excluded from
// the output even though their host matches a platform (§4.8 step 4).
var sharePathPrefixes = []string{
	"/intent/", "/sharer", "/share", "/sharer.php", "/cgi-bin/follow",
}

// Page is one input page's retained raw HTML, in fetch order.
type Page struct {
	URL  string
	HTML string
}

// Extract returns the platform→URL map for pages, honoring first-
// occurrence-wins across pages in fetch order (§4.8 step 4).
func Extract(pages []Page, cfg config.SocialConfig) map[model.Platform]string {
	out := make(map[model.Platform]string)

	for _, p := range pages {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(p.HTML))
		if err != nil {
			continue
		}
		if cfg.StripConsentOverlays {
			doc.Find(strings.Join(consentOverlaySelectors, ", ")).Remove()
		}

		doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
			href, _ := sel.Attr("href")
			platform, normalized, ok := classify(href)
			if !ok {
				return
			}
			if _, exists := out[platform]; exists {
				return
			}
			out[platform] = normalized
		})
	}

	return out
}

// classify reports the platform and normalized URL for href, or ok=false
// if href does not match a known platform host or is a share-intent
// false positive.
func classify(href string) (model.Platform, string, bool) {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil || u.Host == "" {
		return "", "", false
	}
	host := strings.ToLower(strings.TrimPrefix(u.Host, "www."))

	var platform model.Platform
	found := false
	for p, hosts := range platformHosts {
		for _, h := range hosts {
			if host == h {
				platform = p
				found = true
				break
			}
		}
		if found {
			break
		}
	}
	if !found {
		return "", "", false
	}

	path := strings.ToLower(u.Path)
	for _, prefix := range sharePathPrefixes {
		if strings.Contains(path, prefix) {
			return "", "", false
		}
	}

	normalized := "https://" + host
	if u.Path != "" && u.Path != "/" {
		normalized += strings.TrimRight(u.Path, "/")
	}
	return platform, normalized, true
}
