package businessflow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifier_Classify(t *testing.T) {
	c := NewDefaultClassifier()

	tests := []struct {
		name string
		ua   string
		want TrafficClass
	}{
		{"empty agent", "", TrafficReal},
		{"desktop chrome", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/124.0 Safari/537.36", TrafficReal},
		{"iphone mail", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Mobile/15E148", TrafficReal},
		{"gmail image proxy", "Mozilla/5.0 (Windows NT 5.1; rv:11.0) Gecko Firefox/11.0 (via ggpht.com GoogleImageProxy)", TrafficProxy},
		{"yahoo proxy", "YahooMailProxy; https://help.yahoo.com/kb/yahoo-mail-proxy-SLN28749.html", TrafficProxy},
		{"case insensitive", "googleimageproxy", TrafficProxy},
		{"generic bot", "Mozilla/5.0 (compatible; Googlebot/2.1)", TrafficProxy},
		{"link scanner", "Mozilla/5.0 Proofpoint URL Defense", TrafficProxy},
		{"curl", "curl/8.4.0", TrafficProxy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.ua))
		})
	}
}

func TestClassifier_ReplaceIgnoresEmptyMatches(t *testing.T) {
	c := NewClassifier([]ProxySignature{{Name: "blank", Match: "  "}, {Name: "custom", Match: "Acme-Scanner"}})

	assert.Equal(t, 1, c.Len())
	assert.Equal(t, TrafficReal, c.Classify("Mozilla/5.0"))

	name, ok := c.Match("acme-scanner/1.0")
	assert.True(t, ok)
	assert.Equal(t, "custom", name)
}

func TestClassifier_ReloadFrom(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signatures.yaml")
	require.NoError(t, os.WriteFile(path, []byte("proxies:\n  - name: Acme\n    match: acme-prefetch\n"), 0o600))

	c := NewDefaultClassifier()
	assert.Equal(t, TrafficReal, c.Classify("acme-prefetch/2"))

	require.NoError(t, c.ReloadFrom(path))
	assert.Equal(t, len(DefaultProxySignatures)+1, c.Len())
	assert.Equal(t, TrafficProxy, c.Classify("acme-prefetch/2"))
	assert.Equal(t, TrafficProxy, c.Classify("GoogleImageProxy"))
}

func TestLoadProxySignatures_Errors(t *testing.T) {
	_, err := LoadProxySignatures(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("proxies: [unterminated"), 0o600))
	_, err = LoadProxySignatures(path)
	assert.Error(t, err)

	c := NewDefaultClassifier()
	assert.Error(t, c.ReloadFrom(path))
	assert.Equal(t, len(DefaultProxySignatures), c.Len(), "a failed reload keeps the current table")
}
