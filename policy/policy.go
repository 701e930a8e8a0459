package policy

import (
	"fmt"
	"io"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/isdmx/runbox/execution"
)

// Signature describes one denylisted capability.
type Signature struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
	Reason  string `yaml:"reason"`

	re *regexp.Regexp
}

// Violation is returned when a submission references a denylisted capability.
type Violation struct {
	Capability string
	Reason     string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("Unsupported Dependency Detected\n\n%s %s.\n\n"+
		"This environment supports console applications, unit tests and "+
		"headless libraries only. Use a local environment with display or "+
		"browser support for %s.", v.Capability, v.Reason, v.Capability)
}

// DefaultSignatures returns the built-in denylist in match order.
func DefaultSignatures() []Signature {
	return []Signature{
		{
			Name:    "Selenium WebDriver",
			Pattern: `selenium|webdriver`,
			Reason:  "requires a browser (Chrome/Firefox) which is not available in this containerized environment",
		},
		{
			Name:    "Playwright",
			Pattern: `playwright`,
			Reason:  "requires a browser which is not available in this containerized environment",
		},
		{
			Name:    "Puppeteer",
			Pattern: `puppeteer`,
			Reason:  "requires Chrome which is not available in this containerized environment",
		},
		{
			Name:    "GUI frameworks (JavaFX/Swing)",
			Pattern: `javafx|swing|awt\.Frame`,
			Reason:  "require a display server which is not available in this headless environment",
		},
	}
}

// Filter matches submissions against an ordered signature list.
type Filter struct {
	signatures []Signature
}

// NewFilter compiles the signatures. Matching is always case-insensitive.
func NewFilter(signatures []Signature) (*Filter, error) {
	compiled := make([]Signature, 0, len(signatures))
	for _, sig := range signatures {
		if sig.Name == "" {
			return nil, fmt.Errorf("signature name is required")
		}
		re, err := regexp.Compile("(?i)" + sig.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern for %s: %w", sig.Name, err)
		}
		sig.re = re
		compiled = append(compiled, sig)
	}
	return &Filter{signatures: compiled}, nil
}

// Screen returns the first violated signature, or nil when the unit is clean.
func (f *Filter) Screen(unit execution.SourceUnit) *Violation {
	for _, sig := range f.signatures {
		if sig.re.MatchString(unit.BuildDescriptor) || sig.re.MatchString(unit.Code) {
			return &Violation{Capability: sig.Name, Reason: sig.Reason}
		}
	}
	return nil
}

// Signatures returns the configured signatures in match order.
func (f *Filter) Signatures() []Signature {
	out := make([]Signature, len(f.signatures))
	copy(out, f.signatures)
	return out
}

type signatureFile struct {
	Signatures []Signature `yaml:"signatures"`
}

// LoadSignatures reads a YAML document of the form
//
//	signatures:
//	  - name: Selenium WebDriver
//	    pattern: selenium|webdriver
//	    reason: requires a browser
func LoadSignatures(r io.Reader) ([]Signature, error) {
	var doc signatureFile
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode signatures: %w", err)
	}
	if len(doc.Signatures) == 0 {
		return nil, fmt.Errorf("signature file contains no signatures")
	}
	return doc.Signatures, nil
}

// Load builds the filter from a signature file, or from the built-in
// denylist when path is empty.
func Load(path string) (*Filter, error) {
	if path == "" {
		return NewFilter(DefaultSignatures())
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open signature file: %w", err)
	}
	defer f.Close()

	signatures, err := LoadSignatures(f)
	if err != nil {
		return nil, err
	}
	return NewFilter(signatures)
}
