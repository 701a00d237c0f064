package model

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// ValidateStructTags runs go-playground/validator's scalar/struct-tag
// validation (non-empty, url, oneof, etc.) over a run spec or build info
// variant, translating field errors into ValidationError (spec.md §4.1).
func ValidateStructTags(field string, v any) []ValidationError {
	if err := structValidator.Struct(v); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return []ValidationError{{Field: field, Message: err.Error()}}
		}
		out := make([]ValidationError, 0, len(verrs))
		for _, fe := range verrs {
			out = append(out, ValidationError{
				Field:   fmt.Sprintf("%s.%s", field, fe.Namespace()),
				Message: fmt.Sprintf("failed %q validation", fe.Tag()),
			})
		}
		return out
	}
	return nil
}

// ValidateToolConfig is the entry point used by the config handler and the
// source_url fetcher (spec.md §4.1): struct-tag validation of each
// component's SourceBuildInfo, followed by ToolConfig.Validate (per-variant
// run checks and the cross-field reuse_from graph check).
func ValidateToolConfig(cfg ToolConfig) []ValidationError {
	var errs []ValidationError
	for name, info := range cfg.Components {
		if sb, ok := info.GetBuild().(SourceBuildInfo); ok {
			errs = append(errs, ValidateStructTags(fmt.Sprintf("components.%s.build", name), sb)...)
		}
	}
	errs = append(errs, cfg.Validate()...)
	return errs
}
