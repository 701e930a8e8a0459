package policy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isdmx/runbox/execution"
)

func newDefaultFilter(t *testing.T) *Filter {
	t.Helper()
	f, err := NewFilter(DefaultSignatures())
	require.NoError(t, err)
	return f
}

func TestScreen(t *testing.T) {
	f := newDefaultFilter(t)

	tests := []struct {
		name       string
		unit       execution.SourceUnit
		capability string
	}{
		{
			name: "CleanConsoleProgram",
			unit: execution.SourceUnit{Code: "public class Main { public static void main(String[] a) {} }"},
		},
		{
			name:       "SeleniumImport",
			unit:       execution.SourceUnit{Code: "import org.openqa.selenium.WebDriver;"},
			capability: "Selenium WebDriver",
		},
		{
			name:       "MixedCaseInDescriptor",
			unit:       execution.SourceUnit{Code: "class A {}", BuildDescriptor: "<artifactId>SeLeNiUm-java</artifactId>"},
			capability: "Selenium WebDriver",
		},
		{
			name:       "Playwright",
			unit:       execution.SourceUnit{Code: "import com.microsoft.playwright.*;"},
			capability: "Playwright",
		},
		{
			name:       "Swing",
			unit:       execution.SourceUnit{Code: "import javax.swing.JFrame;"},
			capability: "GUI frameworks (JavaFX/Swing)",
		},
		{
			name:       "AwtFrame",
			unit:       execution.SourceUnit{Code: "new java.awt.Frame();"},
			capability: "GUI frameworks (JavaFX/Swing)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := f.Screen(tt.unit)
			if tt.capability == "" {
				assert.Nil(t, v)
				return
			}
			require.NotNil(t, v)
			assert.Equal(t, tt.capability, v.Capability)
			assert.Contains(t, v.Error(), tt.capability)
		})
	}
}

func TestScreenFirstMatchWins(t *testing.T) {
	f := newDefaultFilter(t)
	v := f.Screen(execution.SourceUnit{Code: "// puppeteer and selenium"})
	require.NotNil(t, v)
	assert.Equal(t, "Selenium WebDriver", v.Capability)
}

func TestNewFilterRejectsBadPattern(t *testing.T) {
	_, err := NewFilter([]Signature{{Name: "broken", Pattern: "("}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid pattern for broken")

	_, err = NewFilter([]Signature{{Pattern: "x"}})
	require.Error(t, err)
}

func TestLoadSignatures(t *testing.T) {
	doc := `
signatures:
  - name: Headless Chrome
    pattern: chromedp
    reason: requires Chrome
`
	sigs, err := LoadSignatures(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, sigs, 1)

	f, err := NewFilter(sigs)
	require.NoError(t, err)
	v := f.Screen(execution.SourceUnit{Code: `import "github.com/ChromeDP/chromedp"`})
	require.NotNil(t, v)
	assert.Equal(t, "Headless Chrome", v.Capability)
	assert.Equal(t, "requires Chrome", v.Reason)

	_, err = LoadSignatures(strings.NewReader("signatures: []"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		f, err := Load("")
		require.NoError(t, err)
		assert.Len(t, f.Signatures(), len(DefaultSignatures()))
	})

	t.Run("File", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "signatures.yaml")
		require.NoError(t, os.WriteFile(path, []byte("signatures:\n  - name: Robot\n    pattern: java\\.awt\\.Robot\n    reason: needs a display\n"), 0o600))

		f, err := Load(path)
		require.NoError(t, err)
		require.Len(t, f.Signatures(), 1)
		assert.NotNil(t, f.Screen(execution.SourceUnit{Code: "new java.awt.Robot()"}))
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.ErrorContains(t, err, "failed to open signature file")
	})
}
