// Package referrers maps referrer URLs to the traffic source shown on the
// dashboard.
package referrers

import (
	"net/url"
	"strings"
	"sync"
)

// Direct is reported for events without a usable referrer.
const Direct = "Direct"

var sourceHosts = map[string][]string{
	"Google":     {"google.com", "google.co.uk", "google.de", "google.fr", "google.es", "google.it", "google.ca", "google.com.au", "google.co.jp", "google.com.br"},
	"Bing":       {"bing.com"},
	"DuckDuckGo": {"duckduckgo.com"},
	"Yahoo":      {"yahoo.com"},
	"Baidu":      {"baidu.com"},
	"Yandex":     {"yandex.ru"},
	"Ecosia":     {"ecosia.org"},
	"Kagi":       {"kagi.com"},

	"X/Twitter": {"x.com", "twitter.com", "t.co"},
	"Facebook":  {"facebook.com", "fb.com"},
	"Instagram": {"instagram.com"},
	"LinkedIn":  {"linkedin.com", "lnkd.in"},
	"TikTok":    {"tiktok.com"},
	"Pinterest": {"pinterest.com"},
	"Reddit":    {"reddit.com"},
	"Threads":   {"threads.net"},
	"Bluesky":   {"bsky.app"},
	"Mastodon":  {"mastodon.social"},
	"YouTube":   {"youtube.com", "youtu.be"},
	"Discord":   {"discord.com", "discordapp.com"},
	"Telegram":  {"telegram.org", "t.me"},
	"Slack":     {"slack.com"},

	"Hacker News":    {"news.ycombinator.com", "hn.algolia.com"},
	"Lobsters":       {"lobste.rs"},
	"Product Hunt":   {"producthunt.com"},
	"DEV Community":  {"dev.to"},
	"Medium":         {"medium.com"},
	"Substack":       {"substack.com"},
	"GitHub":         {"github.com"},
	"GitLab":         {"gitlab.com"},
	"Stack Overflow": {"stackoverflow.com"},

	"Gmail":       {"mail.google.com"},
	"Outlook":     {"outlook.live.com", "outlook.office.com"},
	"Proton Mail": {"protonmail.com", "mail.proton.me"},

	"Bitly":   {"bit.ly"},
	"TinyURL": {"tinyurl.com"},
}

var byHost = sync.OnceValue(func() map[string]string {
	m := make(map[string]string)
	for name, hosts := range sourceHosts {
		for _, h := range hosts {
			m[h] = name
		}
	}
	return m
})

// FriendlyName returns the source name of a referrer hostname. A host that
// is not known, and is not a subdomain of a known one, is returned without
// its www. prefix and with its first letter upper-cased.
func FriendlyName(hostname string) string {
	host := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(hostname)), ".")
	if host == "" {
		return Direct
	}
	known := byHost()

	// Longest suffix wins: mail.google.com is Gmail, not Google.
	for h := host; h != ""; {
		if name, ok := known[h]; ok {
			return name
		}
		i := strings.IndexByte(h, '.')
		if i < 0 {
			break
		}
		h = h[i+1:]
	}

	host = strings.TrimPrefix(host, "www.")
	return strings.ToUpper(host[:1]) + host[1:]
}

// Source returns the source name of a raw referrer. Values without a host
// count as Direct. Scheme-less values such as "google.com/search" are
// accepted.
func Source(referrer string) string {
	raw := strings.TrimSpace(referrer)
	if raw == "" {
		return Direct
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return Direct
	}
	return FriendlyName(u.Hostname())
}
