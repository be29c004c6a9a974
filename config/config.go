// Package config holds the typed settings of the converter. Every field has
// a default; files only override what they mention.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const DefaultStatePath = ".confluence-build-state.json"

const (
	StateBackendJSON   = "json"
	StateBackendSQLite = "sqlite"

	UnknownMacroComment      = "comment"
	UnknownMacroStrip        = "strip"
	UnknownMacroPreserveText = "preserve_text"

	ParseFallbackRaw     = "raw"
	ParseFallbackConvert = "convert"

	LinkStyleRelativePath = "relative_path"
	LinkStyleTitleOnly    = "title_only"

	MissingLinkComment  = "comment"
	MissingLinkStrip    = "strip"
	MissingLinkPreserve = "preserve"

	FilenameStyleSlugify  = "slugify"
	FilenameStylePreserve = "preserve"

	LayoutHierarchy = "hierarchy"
	LayoutFlat      = "flat"

	FieldTitle        = "title"
	FieldCreatedDate  = "created_date"
	FieldModifiedDate = "modified_date"
	FieldLabels       = "labels"
)

type Settings struct {
	ImportsDir      string   `yaml:"imports_dir" json:"-"`
	ExportsDir      string   `yaml:"exports_dir" json:"-"`
	State           State    `yaml:"state" json:"-"`
	Logging         Logging  `yaml:"logging" json:"-"`
	ExcludePages    []string `yaml:"exclude_pages" json:"exclude_pages"`
	ExcludeSections []string `yaml:"exclude_sections" json:"exclude_sections"`
	Content         Content  `yaml:"content" json:"content"`
	Output          Output   `yaml:"output" json:"output"`
}

type State struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

type Logging struct {
	Level  string `yaml:"level"`
	File   string `yaml:"file"`
	Format string `yaml:"format"`
}

type Content struct {
	IncludeFrontmatter   bool     `yaml:"include_frontmatter" json:"include_frontmatter"`
	FrontmatterFields    []string `yaml:"frontmatter_fields" json:"frontmatter_fields"`
	UnknownMacroHandling string   `yaml:"unknown_macro_handling" json:"unknown_macro_handling"`
	ParseFallback        string   `yaml:"parse_fallback" json:"parse_fallback"`
	Links                Links    `yaml:"links" json:"links"`
}

type Links struct {
	InternalLinkStyle string `yaml:"internal_link_style" json:"internal_link_style"`
	MissingPageLinks  string `yaml:"missing_page_links" json:"missing_page_links"`
	// ResolveTitles resolves links that carry no page id by page title.
	// Off, they are missing links.
	ResolveTitles bool `yaml:"resolve_titles" json:"resolve_titles"`
}

type Output struct {
	FilenameStyle   string `yaml:"filename_style" json:"filename_style"`
	MaxHeadingLevel int    `yaml:"max_heading_level" json:"max_heading_level"`
	Layout          string `yaml:"layout" json:"layout"`
}

func Default() *Settings {
	return &Settings{
		ImportsDir: "./imports",
		ExportsDir: "./exports",
		State: State{
			Backend: StateBackendJSON,
			Path:    DefaultStatePath,
		},
		Logging: Logging{
			Level:  "info",
			Format: "console",
		},
		ExcludePages:    []string{},
		ExcludeSections: []string{},
		Content: Content{
			IncludeFrontmatter:   true,
			FrontmatterFields:    []string{FieldTitle},
			UnknownMacroHandling: UnknownMacroComment,
			ParseFallback:        ParseFallbackRaw,
			Links: Links{
				InternalLinkStyle: LinkStyleRelativePath,
				MissingPageLinks:  MissingLinkComment,
			},
		},
		Output: Output{
			FilenameStyle:   FilenameStyleSlugify,
			MaxHeadingLevel: 6,
			Layout:          LayoutHierarchy,
		},
	}
}

// Load reads a YAML file on top of the defaults and validates the result.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Settings, error) {
	s := Default()
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}

// Fingerprint digests the settings that change rendered output. Paths,
// logging and state options are excluded through their json tags.
func (s *Settings) Fingerprint() string {
	canonical := *s
	canonical.ExcludePages = nonNil(s.ExcludePages)
	canonical.ExcludeSections = nonNil(s.ExcludeSections)
	canonical.Content.FrontmatterFields = nonNil(s.Content.FrontmatterFields)
	data, err := json.Marshal(canonical)
	if err != nil {
		// plain structs of strings, ints and bools always marshal
		panic(err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}

func (s *Settings) HasFrontmatterField(field string) bool {
	for _, f := range s.Content.FrontmatterFields {
		if f == field {
			return true
		}
	}
	return false
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
