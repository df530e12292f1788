// Package iec62443 holds the IEC 62443-3-3 requirement catalogue and scores
// a set of satisfied system requirements into per-category and overall
// security levels.
package iec62443

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"sort"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed catalogue/iec62443-3-3.yaml
var builtinCatalogueYAML []byte

// MaxSecurityLevel is the highest level a requirement may be tagged with.
const MaxSecurityLevel = 4

// DefaultLanguage is used when no requested language matches.
const DefaultLanguage = "en"

// Requirement is one system requirement (SR). Scoring reads only ID and
// RequiredForSL.
type Requirement struct {
	ID            string            `yaml:"id" json:"id"`
	RequiredForSL int               `yaml:"required_for_sl" json:"requiredForSL"`
	Text          map[string]string `yaml:"text" json:"text,omitempty"`
}

// FoundationalRequirement is a top-level category (FR1..FR7).
type FoundationalRequirement struct {
	ID           string            `yaml:"id" json:"id"`
	Name         map[string]string `yaml:"name" json:"name,omitempty"`
	Requirements []Requirement     `yaml:"requirements" json:"requirements"`
}

// Catalogue is an ordered set of foundational requirements.
type Catalogue struct {
	Standard string                    `yaml:"standard" json:"standard"`
	Version  string                    `yaml:"version" json:"version"`
	FRs      []FoundationalRequirement `yaml:"foundational_requirements" json:"foundationalRequirements"`
}

// DefaultCatalogue returns the embedded IEC 62443-3-3 catalogue.
func DefaultCatalogue() (*Catalogue, error) {
	return ParseCatalogue(builtinCatalogueYAML)
}

// DefaultCatalogueYAML returns a copy of the embedded catalogue source, a
// starting point for site-specific catalogues.
func DefaultCatalogueYAML() []byte {
	return bytes.Clone(builtinCatalogueYAML)
}

// LoadCatalogue reads a catalogue from path. Empty path returns the built-in
// catalogue.
func LoadCatalogue(path string) (*Catalogue, error) {
	if path == "" {
		return DefaultCatalogue()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalogue: %w", err)
	}
	return ParseCatalogue(data)
}

// ParseCatalogue decodes and validates catalogue YAML.
func ParseCatalogue(data []byte) (*Catalogue, error) {
	var c Catalogue
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalogue: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate rejects duplicate ids and levels outside 1..MaxSecurityLevel.
func (c *Catalogue) Validate() error {
	frSeen := make(map[string]bool, len(c.FRs))
	srSeen := make(map[string]string)
	for _, fr := range c.FRs {
		if fr.ID == "" {
			return fmt.Errorf("catalogue: foundational requirement without id")
		}
		if frSeen[fr.ID] {
			return fmt.Errorf("catalogue: duplicate foundational requirement %q", fr.ID)
		}
		frSeen[fr.ID] = true

		for _, sr := range fr.Requirements {
			if sr.ID == "" {
				return fmt.Errorf("catalogue: %s: requirement without id", fr.ID)
			}
			if owner, dup := srSeen[sr.ID]; dup {
				return fmt.Errorf("catalogue: requirement %q appears in %s and %s", sr.ID, owner, fr.ID)
			}
			srSeen[sr.ID] = fr.ID
			if sr.RequiredForSL < 1 || sr.RequiredForSL > MaxSecurityLevel {
				return fmt.Errorf("catalogue: %s: required_for_sl %d outside 1..%d", sr.ID, sr.RequiredForSL, MaxSecurityLevel)
			}
		}
	}
	return nil
}

// RequirementIDs returns every requirement id in catalogue order.
func (c *Catalogue) RequirementIDs() []string {
	var ids []string
	for _, fr := range c.FRs {
		for _, sr := range fr.Requirements {
			ids = append(ids, sr.ID)
		}
	}
	return ids
}

// Lookup finds a requirement and its owning FR id.
func (c *Catalogue) Lookup(id string) (Requirement, string, bool) {
	for _, fr := range c.FRs {
		for _, sr := range fr.Requirements {
			if sr.ID == id {
				return sr, fr.ID, true
			}
		}
	}
	return Requirement{}, "", false
}

// FR returns the foundational requirement with the given id.
func (c *Catalogue) FR(id string) (FoundationalRequirement, bool) {
	for _, fr := range c.FRs {
		if fr.ID == id {
			return fr, true
		}
	}
	return FoundationalRequirement{}, false
}

// Description returns the requirement text best matching lang.
func (r Requirement) Description(lang string) string {
	return localize(r.Text, lang, r.ID)
}

// Title returns the category name best matching lang.
func (fr FoundationalRequirement) Title(lang string) string {
	return localize(fr.Name, lang, fr.ID)
}

// localize picks the entry of text whose BCP 47 tag best matches lang,
// falling back to DefaultLanguage and then to fallback.
func localize(text map[string]string, lang, fallback string) string {
	if len(text) == 0 {
		return fallback
	}
	if v, ok := text[lang]; ok {
		return v
	}

	keys := make([]string, 0, len(text))
	for k := range text {
		keys = append(keys, k)
	}
	// The matcher falls back to the first supported tag.
	sort.Slice(keys, func(i, j int) bool {
		if keys[i] == DefaultLanguage || keys[j] == DefaultLanguage {
			return keys[i] == DefaultLanguage
		}
		return keys[i] < keys[j]
	})

	want, err := language.Parse(lang)
	if err != nil {
		return text[keys[0]]
	}

	supported := make([]language.Tag, len(keys))
	for i, k := range keys {
		supported[i] = language.Make(k)
	}
	_, idx, conf := language.NewMatcher(supported).Match(want)
	if conf == language.No {
		return text[keys[0]]
	}
	return text[keys[idx]]
}
