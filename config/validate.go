package config

import (
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/gobwas/glob"
)

var errBadPattern = validation.NewError("config.pattern_invalid", "must be a valid glob pattern")

// Validate checks enumerations, ranges and patterns once, at load time.
func (s Settings) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.ExportsDir, validation.Required),
		validation.Field(&s.State),
		validation.Field(&s.Logging),
		validation.Field(&s.ExcludePages, validation.Each(validation.By(isGlob))),
		validation.Field(&s.ExcludeSections, validation.Each(validation.By(isGlob))),
		validation.Field(&s.Content),
		validation.Field(&s.Output),
	)
}

func (s State) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Backend, validation.Required, validation.In(StateBackendJSON, StateBackendSQLite)),
		validation.Field(&s.Path, validation.Required),
	)
}

func (l Logging) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level, validation.In("debug", "info", "warn", "error")),
		validation.Field(&l.Format, validation.In("console", "json")),
	)
}

func (c Content) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.FrontmatterFields, validation.Each(validation.In(FieldTitle, FieldCreatedDate, FieldModifiedDate, FieldLabels))),
		validation.Field(&c.UnknownMacroHandling, validation.Required, validation.In(UnknownMacroComment, UnknownMacroStrip, UnknownMacroPreserveText)),
		validation.Field(&c.ParseFallback, validation.Required, validation.In(ParseFallbackRaw, ParseFallbackConvert)),
		validation.Field(&c.Links),
	)
}

func (l Links) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.InternalLinkStyle, validation.Required, validation.In(LinkStyleRelativePath, LinkStyleTitleOnly)),
		validation.Field(&l.MissingPageLinks, validation.Required, validation.In(MissingLinkComment, MissingLinkStrip, MissingLinkPreserve)),
	)
}

func (o Output) Validate() error {
	return validation.ValidateStruct(&o,
		validation.Field(&o.FilenameStyle, validation.Required, validation.In(FilenameStyleSlugify, FilenameStylePreserve)),
		validation.Field(&o.MaxHeadingLevel, validation.Min(1), validation.Max(6)),
		validation.Field(&o.Layout, validation.Required, validation.In(LayoutHierarchy, LayoutFlat)),
	)
}

func isGlob(value any) error {
	pattern, ok := value.(string)
	if !ok {
		return errors.New("must be a string")
	}
	if _, err := glob.Compile(pattern); err != nil {
		return errBadPattern
	}
	return nil
}
