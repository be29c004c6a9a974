package render

import (
	"bytes"
	"fmt"
	"time"

	"github.com/foomo/confluence-markdown/config"
	"github.com/foomo/confluence-markdown/service/vo"
	"gopkg.in/yaml.v3"
)

type Frontmatter struct {
	Title        string   `yaml:"title,omitempty" json:"title,omitempty"`
	CreatedDate  string   `yaml:"created_date,omitempty" json:"createdDate,omitempty"`
	ModifiedDate string   `yaml:"modified_date,omitempty" json:"modifiedDate,omitempty"`
	Labels       []string `yaml:"labels,omitempty" json:"labels,omitempty"`
}

func buildFrontmatter(page *vo.Page, settings *config.Settings) *Frontmatter {
	if !settings.Content.IncludeFrontmatter {
		return nil
	}
	fm := &Frontmatter{}
	if settings.HasFrontmatterField(config.FieldTitle) {
		fm.Title = page.Title
	}
	if settings.HasFrontmatterField(config.FieldCreatedDate) && page.Created != nil {
		fm.CreatedDate = page.Created.Format(time.RFC3339)
	}
	if settings.HasFrontmatterField(config.FieldModifiedDate) && page.Modified != nil {
		fm.ModifiedDate = page.Modified.Format(time.RFC3339)
	}
	if settings.HasFrontmatterField(config.FieldLabels) && len(page.Labels) > 0 {
		fm.Labels = append([]string(nil), page.Labels...)
	}
	return fm
}

func (f *Frontmatter) empty() bool {
	return f == nil || (f.Title == "" && f.CreatedDate == "" && f.ModifiedDate == "" && len(f.Labels) == 0)
}

// Marshal renders the block including its "---" delimiters.
func (f *Frontmatter) Marshal() (string, error) {
	var buf bytes.Buffer
	buf.WriteString("---\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(f); err != nil {
		return "", fmt.Errorf("failed to encode frontmatter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to encode frontmatter: %w", err)
	}
	buf.WriteString("---\n")
	return buf.String(), nil
}
