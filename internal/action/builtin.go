package action

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/hotfold/hotfold/internal/artifact"
)

// Context variables populated by built-in steps.
const (
	VarPageCount = "PageCount"
	VarOCRText   = "OCRText"
)

type ocrAction struct {
	language string
}

func newOCR(params map[string]string) (Action, error) {
	lang := params["language"]
	if lang == "" {
		lang = "eng"
	}
	return &ocrAction{language: lang}, nil
}

func (a *ocrAction) Kind() string { return "ocr" }

func (a *ocrAction) Run(ctx context.Context, env *Env) error {
	if env.OCR == nil {
		return fmt.Errorf("ocr: no recognizer configured")
	}
	key := artifact.Key{Kind: "ocr", Fingerprint: artifact.Fingerprint(a.language)}
	v, err := env.Cache.Do(ctx, env.Job.ID.String(), key, func(ctx context.Context) (any, error) {
		return env.OCR.Recognize(ctx, env.Path(), a.language)
	})
	if err != nil {
		return fmt.Errorf("ocr: %w", err)
	}
	return env.Job.Set(VarOCRText, v.(string))
}

type compressAction struct{}

func newCompress(map[string]string) (Action, error) { return compressAction{}, nil }

func (compressAction) Kind() string { return "compress" }

func (compressAction) Run(ctx context.Context, env *Env) error {
	if env.PDF == nil {
		return fmt.Errorf("compress: no pdf engine configured")
	}
	src := env.Path()
	key := artifact.Key{Kind: "compress", Fingerprint: artifact.Fingerprint(src)}
	v, err := env.Cache.Do(ctx, env.Job.ID.String(), key, func(ctx context.Context) (any, error) {
		dir, err := env.Cache.Dir(env.Job.ID.String())
		if err != nil {
			return nil, err
		}
		dst := filepath.Join(dir, "compressed.pdf")
		if err := env.PDF.Optimize(src, dst); err != nil {
			return nil, err
		}
		return dst, nil
	})
	if err != nil {
		return fmt.Errorf("compress: %w", err)
	}
	env.SetPath(v.(string))
	return nil
}

type normalizeAction struct{}

func newNormalize(map[string]string) (Action, error) { return normalizeAction{}, nil }

func (normalizeAction) Kind() string { return "normalize" }

func (normalizeAction) Run(ctx context.Context, env *Env) error {
	if env.PDF == nil {
		return fmt.Errorf("normalize: no pdf engine configured")
	}
	src := env.Path()
	key := artifact.Key{Kind: "normalize", Fingerprint: artifact.Fingerprint(src)}
	v, err := env.Cache.Do(ctx, env.Job.ID.String(), key, func(ctx context.Context) (any, error) {
		dir, err := env.Cache.Dir(env.Job.ID.String())
		if err != nil {
			return nil, err
		}
		dst := filepath.Join(dir, "normalized.pdf")
		if err := env.PDF.Normalize(src, dst); err != nil {
			return nil, err
		}
		return dst, nil
	})
	if err != nil {
		return fmt.Errorf("normalize: %w", err)
	}
	env.SetPath(v.(string))
	return nil
}

type pageCountAction struct{}

func newPageCount(map[string]string) (Action, error) { return pageCountAction{}, nil }

func (pageCountAction) Kind() string { return "pagecount" }

func (pageCountAction) Run(ctx context.Context, env *Env) error {
	if env.PDF == nil {
		return fmt.Errorf("pagecount: no pdf engine configured")
	}
	path := env.Path()
	key := artifact.Key{Kind: "pagecount", Fingerprint: artifact.Fingerprint(path)}
	v, err := env.Cache.Do(ctx, env.Job.ID.String(), key, func(ctx context.Context) (any, error) {
		return env.PDF.PageCount(path)
	})
	if err != nil {
		return fmt.Errorf("pagecount: %w", err)
	}
	return env.Job.Set(VarPageCount, strconv.Itoa(v.(int)))
}

// fieldsAction extracts one named variable from previously recognized text
// with a regular expression.
type fieldsAction struct {
	name    string
	pattern *regexp.Regexp
	group   int
	source  string
}

func newFields(params map[string]string) (Action, error) {
	name := params["name"]
	if name == "" {
		return nil, fmt.Errorf("fields: param %q is required", "name")
	}
	raw := params["pattern"]
	if raw == "" {
		return nil, fmt.Errorf("fields: param %q is required", "pattern")
	}
	re, err := regexp.Compile(raw)
	if err != nil {
		return nil, fmt.Errorf("fields: invalid pattern: %w", err)
	}
	group := 1
	if g := params["group"]; g != "" {
		group, err = strconv.Atoi(g)
		if err != nil || group < 0 {
			return nil, fmt.Errorf("fields: invalid group %q", g)
		}
	}
	if group > re.NumSubexp() {
		return nil, fmt.Errorf("fields: pattern has %d groups, group %d requested", re.NumSubexp(), group)
	}
	source := params["source"]
	if source == "" {
		source = VarOCRText
	}
	return &fieldsAction{name: name, pattern: re, group: group, source: source}, nil
}

func (a *fieldsAction) Kind() string { return "fields" }

func (a *fieldsAction) Run(ctx context.Context, env *Env) error {
	text, ok := env.Job.Get(a.source)
	if !ok {
		env.Log.Warn("field source variable not set",
			"field", a.name, "source", a.source)
		return env.Job.Set(a.name, "")
	}
	m := a.pattern.FindStringSubmatch(text)
	if m == nil {
		env.Log.Warn("field pattern did not match",
			"field", a.name, "pattern", a.pattern.String())
		return env.Job.Set(a.name, "")
	}
	return env.Job.Set(a.name, m[a.group])
}
