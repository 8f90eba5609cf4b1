// Package config loads and validates hotfolder definitions.
//
// Configuration comes from two places: a JSON or YAML file describing the
// hotfolders, their actions and export destinations, and environment
// variables for process-level settings (paths, logging, metrics).
package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hotfold/hotfold/internal/condition"
)

// Config is the root of a hotfolder configuration file.
type Config struct {
	Hotfolders []Hotfolder `json:"hotfolders"`
}

// Hotfolder describes one watched input directory and what happens to
// documents that appear in it.
type Hotfolder struct {
	ID        string   `json:"id"`
	Path      string   `json:"path"`
	Enabled   *bool    `json:"enabled,omitempty"`
	Patterns  []string `json:"patterns,omitempty"`
	Recursive bool     `json:"recursive,omitempty"`
	Debounce  Duration `json:"debounce,omitempty"`

	// ErrorDir receives inputs whose processing failed, together with an
	// error report. Defaults to <path>/error.
	ErrorDir string `json:"error_dir,omitempty"`

	// OnSuccess decides what happens to the original file once every
	// eligible destination succeeded: "archive" moves it to ArchiveDir,
	// "delete" removes it.
	OnSuccess  string `json:"on_success,omitempty"`
	ArchiveDir string `json:"archive_dir,omitempty"`

	Actions []Action `json:"actions,omitempty"`

	// Export is the deprecated single-destination form. The loader folds
	// it into Exports.
	Export  *Export  `json:"export,omitempty"`
	Exports []Export `json:"exports,omitempty"`
}

// IsEnabled reports whether the hotfolder should be watched. Unset means
// enabled.
func (h Hotfolder) IsEnabled() bool {
	return h.Enabled == nil || *h.Enabled
}

// Action is one processing step applied to a document before export.
type Action struct {
	Kind    string            `json:"kind"`
	Enabled *bool             `json:"enabled,omitempty"`
	Params  map[string]string `json:"params,omitempty"`
}

// IsEnabled reports whether the action should run. Unset means enabled.
func (a Action) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// Export describes one destination a processed document is delivered to.
// Exactly one of the kind-specific blocks must be set, matching Kind.
type Export struct {
	ID       string           `json:"id"`
	Kind     string           `json:"kind"`
	Enabled  *bool            `json:"enabled,omitempty"`
	Filename string           `json:"filename,omitempty"`
	When     *condition.Group `json:"when,omitempty"`
	Retry    *Retry           `json:"retry,omitempty"`
	Metadata *Metadata        `json:"metadata,omitempty"`

	Folder  *FolderTarget  `json:"folder,omitempty"`
	Archive *ArchiveTarget `json:"archive,omitempty"`
	Email   *EmailTarget   `json:"email,omitempty"`
	FTP     *FTPTarget     `json:"ftp,omitempty"`
}

// IsEnabled reports whether the destination participates in dispatch.
func (e Export) IsEnabled() bool {
	return e.Enabled == nil || *e.Enabled
}

// Export kinds.
const (
	KindFolder  = "folder"
	KindArchive = "archive"
	KindEmail   = "email"
	KindFTP     = "ftp"
)

// FolderTarget delivers into a directory. Path and Subfolder are templates.
type FolderTarget struct {
	Path      string `json:"path"`
	Subfolder string `json:"subfolder,omitempty"`

	// OnCollision: "suffix" (default) appends _1, _2, ... to the stem,
	// "overwrite" replaces the existing file, "fail" reports an error.
	OnCollision string `json:"on_collision,omitempty"`
}

// ArchiveTarget delivers into a date-partitioned tree under Root
// (Root/YYYY/MM/DD/).
type ArchiveTarget struct {
	Root string `json:"root"`
}

// EmailTarget sends the document as an attachment. Subject and Body are
// templates.
type EmailTarget struct {
	To      []string `json:"to"`
	CC      []string `json:"cc,omitempty"`
	From    string   `json:"from,omitempty"`
	Subject string   `json:"subject,omitempty"`
	Body    string   `json:"body,omitempty"`
}

// FTPTarget uploads to a remote directory. Dir is a template.
type FTPTarget struct {
	Host     string `json:"host"`
	Port     int    `json:"port,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Dir      string `json:"dir,omitempty"`
}

// Metadata controls the sidecar written next to the delivered file.
type Metadata struct {
	Sidecar     bool              `json:"sidecar,omitempty"`
	IncludeText bool              `json:"include_text,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
}

// Retry shapes the backoff applied to a failing destination.
type Retry struct {
	MaxAttempts     int      `json:"max_attempts,omitempty"`
	InitialInterval Duration `json:"initial_interval,omitempty"`
	MaxInterval     Duration `json:"max_interval,omitempty"`
	Multiplier      float64  `json:"multiplier,omitempty"`
}

// Duration is a time.Duration that unmarshals from a Go duration string
// ("2s", "500ms") or a bare number of seconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case string:
		parsed, err := time.ParseDuration(t)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", t, err)
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(time.Duration(t * float64(time.Second)))
	default:
		return fmt.Errorf("invalid duration value %v", v)
	}
	return nil
}
