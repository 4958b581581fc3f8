package user_agent

import (
	_ "embed"
	"fmt"
	"sync"

	"go.elara.ws/pcre"
	"gopkg.in/yaml.v3"
)

// Device classes.
const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
)

// Browser families.
const (
	BrowserChrome  = "Chrome"
	BrowserFirefox = "Firefox"
	BrowserSafari  = "Safari"
	BrowserEdge    = "Edge"
	BrowserOpera   = "Opera"
	BrowserOther   = "Other"
)

// UserAgent is the classification of a raw User-Agent header.
type UserAgent struct {
	UserAgent string
	Device    string
	Browser   string
}

//go:embed rules.yml
var rulesFile []byte

type ruleEntry struct {
	Name  string `yaml:"name"`
	Regex string `yaml:"regex"`
}

type rulesDocument struct {
	Devices        []ruleEntry `yaml:"devices"`
	DefaultDevice  string      `yaml:"default_device"`
	Browsers       []ruleEntry `yaml:"browsers"`
	DefaultBrowser string      `yaml:"default_browser"`
}

type compiledRule struct {
	name  string
	regex *pcre.Regexp
}

type classifier struct {
	devices        []compiledRule
	defaultDevice  string
	browsers       []compiledRule
	defaultBrowser string
}

var (
	parser *classifier
	once   sync.Once
)

func getParser() *classifier {
	once.Do(func() {
		c, err := loadRules(rulesFile)
		if err != nil {
			fmt.Printf("Error loading user agent rules: %v\n", err)
			c = &classifier{defaultDevice: DeviceDesktop, defaultBrowser: BrowserOther}
		}
		parser = c
	})
	return parser
}

func loadRules(data []byte) (*classifier, error) {
	var doc rulesDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}

	c := &classifier{
		defaultDevice:  doc.DefaultDevice,
		defaultBrowser: doc.DefaultBrowser,
	}
	if c.defaultDevice == "" {
		c.defaultDevice = DeviceDesktop
	}
	if c.defaultBrowser == "" {
		c.defaultBrowser = BrowserOther
	}

	var err error
	if c.devices, err = compileRules(doc.Devices); err != nil {
		return nil, err
	}
	if c.browsers, err = compileRules(doc.Browsers); err != nil {
		return nil, err
	}
	return c, nil
}

func compileRules(entries []ruleEntry) ([]compiledRule, error) {
	rules := make([]compiledRule, 0, len(entries))
	for _, e := range entries {
		regex, err := pcre.Compile("(?i)" + e.Regex)
		if err != nil {
			return nil, fmt.Errorf("compile %q for %s: %w", e.Regex, e.Name, err)
		}
		rules = append(rules, compiledRule{name: e.Name, regex: regex})
	}
	return rules, nil
}

func firstMatch(rules []compiledRule, userAgent, fallback string) string {
	if userAgent == "" {
		return fallback
	}
	for _, r := range rules {
		if r.regex.MatchString(userAgent) {
			return r.name
		}
	}
	return fallback
}

// ParseUserAgent classifies a raw User-Agent header into a device class and a
// browser family. It never fails: empty or unrecognised input yields
// desktop and Other.
func ParseUserAgent(userAgent string) UserAgent {
	p := getParser()
	return UserAgent{
		UserAgent: userAgent,
		Device:    firstMatch(p.devices, userAgent, p.defaultDevice),
		Browser:   firstMatch(p.browsers, userAgent, p.defaultBrowser),
	}
}
