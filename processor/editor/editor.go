// Package editor provides a processing object that applies ordered text
// edits to every line.
package editor

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/michieltjampens/dcafs-sub002/config"
	"github.com/michieltjampens/dcafs-sub002/errors"
	"github.com/michieltjampens/dcafs-sub002/processor/base"
)

// Kind is the processor kind used in forwarding specs
const Kind = "editor"

type edit func(line string) string

// Editor rewrites lines
type Editor struct {
	*base.Processor
	edits []edit
}

// New builds an editor. Supported steps:
//
//	replace  value -> with
//	regex    pattern -> with ($1 style groups)
//	prefix   value
//	suffix   value
//	remove   value
//	trim     value (empty trims white space)
//	resplit  delimiter -> template with i0, i1 ... placeholders
func New(cfg config.ProcessorConfig, deps base.Deps) (*Editor, error) {
	if cfg.ID == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Editor", "New", "id")
	}
	if len(cfg.Rules) == 0 {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Editor", "New", "edits of "+cfg.ID)
	}

	e := &Editor{}
	for _, rc := range cfg.Rules {
		ed, err := parseEdit(rc)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Editor", "New", "parse edit of "+cfg.ID)
		}
		e.edits = append(e.edits, ed)
	}
	e.Processor = base.New(Kind, cfg.ID, e.apply, deps)
	return e, nil
}

func parseEdit(rc config.RuleConfig) (edit, error) {
	value, with := rc.Value, rc.With
	switch strings.ToLower(strings.TrimSpace(rc.Type)) {
	case "replace":
		if value == "" {
			return nil, fmt.Errorf("replace needs a value")
		}
		return func(line string) string { return strings.ReplaceAll(line, value, with) }, nil
	case "regex":
		re, err := regexp.Compile(value)
		if err != nil {
			return nil, err
		}
		return func(line string) string { return re.ReplaceAllString(line, with) }, nil
	case "prefix":
		return func(line string) string { return value + line }, nil
	case "suffix":
		return func(line string) string { return line + value }, nil
	case "remove":
		return func(line string) string { return strings.ReplaceAll(line, value, "") }, nil
	case "trim":
		if value == "" {
			return strings.TrimSpace, nil
		}
		return func(line string) string { return strings.Trim(line, value) }, nil
	case "resplit":
		if value == "" {
			return nil, fmt.Errorf("resplit needs a delimiter")
		}
		return resplit(value, with), nil
	default:
		return nil, fmt.Errorf("unknown edit %q", rc.Type)
	}
}

var placeholder = regexp.MustCompile(`i(\d+)`)

// resplit rebuilds a line from a template referring to its fields
func resplit(delimiter, template string) edit {
	return func(line string) string {
		fields := strings.Split(line, delimiter)
		return placeholder.ReplaceAllStringFunc(template, func(ph string) string {
			var idx int
			if _, err := fmt.Sscanf(ph, "i%d", &idx); err != nil || idx >= len(fields) {
				return ph
			}
			return fields[idx]
		})
	}
}

func (e *Editor) apply(line string) (string, bool, error) {
	return e.Edit(line), true, nil
}

// Edit applies every step in order
func (e *Editor) Edit(line string) string {
	for _, ed := range e.edits {
		line = ed(line)
	}
	return line
}
