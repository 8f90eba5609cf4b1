package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hotfold/hotfold/internal/config"
	"github.com/hotfold/hotfold/internal/job"
)

// sidecar is the metadata document written next to a delivered file.
type sidecar struct {
	File        string            `json:"file"`
	Source      string            `json:"source"`
	Hotfolder   string            `json:"hotfolder"`
	Destination string            `json:"destination"`
	ExportedAt  time.Time         `json:"exported_at"`
	Variables   map[string]string `json:"variables,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
}

// writeSidecars emits the metadata JSON and, when configured, the recognized
// text next to the delivered file. Only filesystem destinations get
// sidecars; for email and ftp the target is not a local path.
func (e *Engine) writeSidecars(j *job.Job, vars map[string]string, dest config.Export, target string, render func(string) (string, error)) error {
	if dest.Metadata == nil {
		return nil
	}
	if dest.Kind != config.KindFolder && dest.Kind != config.KindArchive {
		return nil
	}

	if dest.Metadata.Sidecar {
		meta := sidecar{
			File:        target,
			Source:      j.Path,
			Hotfolder:   j.HotfolderID,
			Destination: dest.ID,
			ExportedAt:  e.now().UTC(),
			Variables:   make(map[string]string, len(vars)),
		}
		for k, v := range vars {
			// The full text layer does not belong in metadata.
			if k == "OCRText" {
				continue
			}
			meta.Variables[k] = v
		}
		if len(dest.Metadata.Fields) > 0 {
			meta.Fields = make(map[string]string, len(dest.Metadata.Fields))
			for name, tmpl := range dest.Metadata.Fields {
				value, err := render(tmpl)
				if err != nil {
					return fmt.Errorf("render metadata field %q: %w", name, err)
				}
				meta.Fields[name] = value
			}
		}
		data, err := json.MarshalIndent(meta, "", "  ")
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		if err := os.WriteFile(target+".meta.json", data, 0o644); err != nil {
			return fmt.Errorf("write metadata sidecar: %w", err)
		}
	}

	if dest.Metadata.IncludeText {
		text, ok := vars["OCRText"]
		if !ok {
			return nil
		}
		txtPath := strings.TrimSuffix(target, filepath.Ext(target)) + ".txt"
		if err := os.WriteFile(txtPath, []byte(text), 0o644); err != nil {
			return fmt.Errorf("write text sidecar: %w", err)
		}
	}
	return nil
}
