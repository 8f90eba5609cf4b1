// Package action implements the processing steps applied to a document
// between discovery and export: OCR, compression, normalization, page
// counting and field extraction.
//
// Steps communicate through the job context (write-once string variables)
// and through the working path: a step that rewrites the document, such as
// compress, points the working path at its output so later steps and the
// export engine pick up the derived file.
package action

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hotfold/hotfold/internal/artifact"
	"github.com/hotfold/hotfold/internal/config"
	"github.com/hotfold/hotfold/internal/job"
)

// PDFEngine covers the document-level operations built-in steps need.
type PDFEngine interface {
	PageCount(path string) (int, error)
	// Optimize rewrites src into dst with compressed streams and garbage
	// collected objects.
	Optimize(src, dst string) error
	// Normalize validates src leniently and rewrites it into dst with a
	// repaired cross-reference table.
	Normalize(src, dst string) error
}

// Recognizer produces the text layer of a document.
type Recognizer interface {
	Recognize(ctx context.Context, path, language string) (string, error)
}

// Env is everything a step may touch while running.
type Env struct {
	Job   *job.Job
	Cache *artifact.Cache
	Log   *slog.Logger
	PDF   PDFEngine
	OCR   Recognizer

	// workPath is the document the next step operates on. It starts as
	// the job's source path and moves to derived files as steps rewrite
	// the document.
	workPath string
}

// NewEnv prepares an environment rooted at the job's source file.
func NewEnv(j *job.Job, cache *artifact.Cache, log *slog.Logger, pdf PDFEngine, ocr Recognizer) *Env {
	return &Env{Job: j, Cache: cache, Log: log, PDF: pdf, OCR: ocr, workPath: j.Path}
}

// Path returns the current working document.
func (e *Env) Path() string { return e.workPath }

// SetPath points later steps and the export engine at a derived file.
func (e *Env) SetPath(p string) { e.workPath = p }

// Action is one executable processing step.
type Action interface {
	Kind() string
	Run(ctx context.Context, env *Env) error
}

type factory func(params map[string]string) (Action, error)

var factories = map[string]factory{
	"ocr":       newOCR,
	"compress":  newCompress,
	"normalize": newNormalize,
	"pagecount": newPageCount,
	"fields":    newFields,
}

// New builds the step described by a configuration entry.
func New(spec config.Action) (Action, error) {
	f, ok := factories[spec.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown action kind %q", spec.Kind)
	}
	a, err := f(spec.Params)
	if err != nil {
		return nil, fmt.Errorf("configure action %q: %w", spec.Kind, err)
	}
	return a, nil
}

// Build compiles a hotfolder's action list, skipping disabled entries.
func Build(specs []config.Action) ([]Action, error) {
	actions := make([]Action, 0, len(specs))
	for _, spec := range specs {
		if !spec.IsEnabled() {
			continue
		}
		a, err := New(spec)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, nil
}
