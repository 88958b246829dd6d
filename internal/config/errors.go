package config

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConfigMissing        = errors.New("config_missing")
	ErrConfigUnreadable     = errors.New("config_unreadable")
	ErrConfigSectionMissing = errors.New("config_section_missing")
	ErrConfigSectionEmpty   = errors.New("config_section_empty")
	ErrConfigValueMissing   = errors.New("config_value_missing")
	ErrConfigInvalid        = errors.New("config_invalid")
)

// Error is a configuration failure. Kind is one of the ErrConfig* sentinels
// and can be matched with errors.Is.
type Error struct {
	Kind    error
	Path    string
	Section string
	Fields  []string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Path != "" {
		fmt.Fprintf(&b, " path=%s", e.Path)
	}
	if e.Section != "" {
		fmt.Fprintf(&b, " section=%s", e.Section)
	}
	if len(e.Fields) > 0 {
		fmt.Fprintf(&b, " fields=%s", strings.Join(e.Fields, ","))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
