package config

import (
	"fmt"
	"strings"

	"github.com/hotfold/hotfold/internal/expr"
)

// ValidationError points at one semantic problem in the configuration.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors aggregates every problem found in one pass.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks semantic rules the structural schema cannot express:
// unique IDs, kind/target agreement and parseable templates. All problems
// are reported, not just the first.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors

	seen := make(map[string]bool)
	for i := range c.Hotfolders {
		h := &c.Hotfolders[i]
		field := fmt.Sprintf("hotfolders[%d]", i)
		if h.ID != "" {
			if seen[h.ID] {
				errs = append(errs, ValidationError{
					Field:   field + ".id",
					Message: fmt.Sprintf("duplicate hotfolder id %q", h.ID),
				})
			}
			seen[h.ID] = true
		}
		errs = append(errs, h.Validate()...)
	}
	return errs
}

// Validate checks one hotfolder. The pipeline manager uses this to disable
// a broken hotfolder while the rest keep running.
func (h *Hotfolder) Validate() ValidationErrors {
	var errs ValidationErrors
	field := "hotfolder " + h.ID

	if h.OnSuccess == "archive" && h.ArchiveDir == "" {
		errs = append(errs, ValidationError{
			Field:   field + ".archive_dir",
			Message: "required when on_success is archive",
		})
	}

	ids := make(map[string]bool)
	for i := range h.Exports {
		e := &h.Exports[i]
		prefix := fmt.Sprintf("%s.exports[%d]", field, i)
		if e.ID != "" {
			if ids[e.ID] {
				errs = append(errs, ValidationError{
					Field:   prefix + ".id",
					Message: fmt.Sprintf("duplicate export id %q", e.ID),
				})
			}
			ids[e.ID] = true
		}
		errs = append(errs, validateExport(e, prefix)...)
	}
	return errs
}

func validateExport(e *Export, prefix string) ValidationErrors {
	var errs ValidationErrors

	targets := map[string]bool{
		KindFolder:  e.Folder != nil,
		KindArchive: e.Archive != nil,
		KindEmail:   e.Email != nil,
		KindFTP:     e.FTP != nil,
	}
	if !targets[e.Kind] {
		errs = append(errs, ValidationError{
			Field:   prefix,
			Message: fmt.Sprintf("kind %q requires a %q block", e.Kind, e.Kind),
		})
	}
	for kind, set := range targets {
		if set && kind != e.Kind {
			errs = append(errs, ValidationError{
				Field:   prefix + "." + kind,
				Message: fmt.Sprintf("target block does not match kind %q", e.Kind),
			})
		}
	}

	// The filename template renders exactly once per delivery. Every other
	// template may render again on retry or when writing sidecars, so a
	// counter allocation there would burn values.
	checkTemplate := func(name, src string, allowCounter bool) {
		if src == "" {
			return
		}
		tpl, err := expr.Parse(src)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   prefix + "." + name,
				Message: err.Error(),
			})
			return
		}
		if !allowCounter && tpl.HasCall("AUTOINCREMENT") {
			errs = append(errs, ValidationError{
				Field:   prefix + "." + name,
				Message: "AUTOINCREMENT is only allowed in the filename template",
			})
		}
	}
	checkTemplate("filename", e.Filename, true)
	if e.Folder != nil {
		checkTemplate("folder.path", e.Folder.Path, false)
		checkTemplate("folder.subfolder", e.Folder.Subfolder, false)
	}
	if e.Email != nil {
		checkTemplate("email.subject", e.Email.Subject, false)
		checkTemplate("email.body", e.Email.Body, false)
	}
	if e.FTP != nil {
		checkTemplate("ftp.dir", e.FTP.Dir, false)
	}
	if e.Metadata != nil {
		for k, v := range e.Metadata.Fields {
			checkTemplate("metadata.fields."+k, v, false)
		}
	}

	if e.When != nil {
		if err := e.When.Validate(); err != nil {
			errs = append(errs, ValidationError{
				Field:   prefix + ".when",
				Message: err.Error(),
			})
		}
	}
	return errs
}
