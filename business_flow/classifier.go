package businessflow

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// TrafficClass tells human opens apart from automated prefetchers
type TrafficClass string

const (
	TrafficReal  TrafficClass = "real"
	TrafficProxy TrafficClass = "proxy"
)

// ProxySignature is one user-agent substring that marks automated traffic
type ProxySignature struct {
	Name  string `yaml:"name"`
	Match string `yaml:"match"`
}

// DefaultProxySignatures lists known mail privacy proxies, prefetchers and link scanners.
// Matching is case-insensitive.
var DefaultProxySignatures = []ProxySignature{
	{Name: "Google image proxy", Match: "GoogleImageProxy"},
	{Name: "Gmail image fetcher", Match: "via ggpht.com"},
	{Name: "Yahoo mail proxy", Match: "YahooMailProxy"},
	{Name: "Apple Mail privacy protection", Match: "Mail Privacy Protection"},
	{Name: "Outlook safelinks", Match: "Safelinks"},
	{Name: "Office 365 link preview", Match: "Microsoft Office Existence Discovery"},
	{Name: "Outlook prefetch", Match: "ms-office; MSOffice"},
	{Name: "Proofpoint URL defense", Match: "Proofpoint"},
	{Name: "Mimecast scanner", Match: "Mimecast"},
	{Name: "Barracuda scanner", Match: "Barracuda"},
	{Name: "Generic bot", Match: "bot"},
	{Name: "Generic crawler", Match: "crawler"},
	{Name: "Generic spider", Match: "spider"},
	{Name: "Headless browser", Match: "HeadlessChrome"},
	{Name: "curl", Match: "curl/"},
	{Name: "python requests", Match: "python-requests"},
}

type compiledSignature struct {
	name  string
	match string
}

// Classifier matches user agents against a swappable signature table
type Classifier struct {
	table atomic.Pointer[[]compiledSignature]
}

func NewClassifier(signatures []ProxySignature) *Classifier {
	c := &Classifier{}
	c.Replace(signatures)
	return c
}

// NewDefaultClassifier uses DefaultProxySignatures
func NewDefaultClassifier() *Classifier {
	return NewClassifier(DefaultProxySignatures)
}

// Replace swaps the whole table; entries with an empty match are ignored
func (c *Classifier) Replace(signatures []ProxySignature) {
	compiled := make([]compiledSignature, 0, len(signatures))
	for _, s := range signatures {
		m := strings.ToLower(strings.TrimSpace(s.Match))
		if m == "" {
			continue
		}
		compiled = append(compiled, compiledSignature{name: s.Name, match: m})
	}
	c.table.Store(&compiled)
}

// Classify is total: empty and unknown agents are real
func (c *Classifier) Classify(userAgent string) TrafficClass {
	if _, ok := c.Match(userAgent); ok {
		return TrafficProxy
	}
	return TrafficReal
}

// Match returns the name of the first matching signature
func (c *Classifier) Match(userAgent string) (string, bool) {
	ua := strings.ToLower(userAgent)
	if ua == "" {
		return "", false
	}
	for _, s := range *c.table.Load() {
		if strings.Contains(ua, s.match) {
			return s.name, true
		}
	}
	return "", false
}

// Len is the number of active signatures
func (c *Classifier) Len() int {
	return len(*c.table.Load())
}

type signatureFile struct {
	Proxies []ProxySignature `yaml:"proxies"`
}

// LoadProxySignatures reads extra signatures from a YAML file of the form
//
//	proxies:
//	  - name: Example scanner
//	    match: example-scanner
func LoadProxySignatures(path string) ([]ProxySignature, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signature file: %w", err)
	}
	var f signatureFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("failed to parse signature file: %w", err)
	}
	return f.Proxies, nil
}

// ReloadFrom replaces the table with the defaults plus the file's entries
func (c *Classifier) ReloadFrom(path string) error {
	extra, err := LoadProxySignatures(path)
	if err != nil {
		return err
	}
	table := make([]ProxySignature, 0, len(DefaultProxySignatures)+len(extra))
	table = append(table, DefaultProxySignatures...)
	table = append(table, extra...)
	c.Replace(table)
	return nil
}
