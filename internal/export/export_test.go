package export

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hotfold/hotfold/internal/condition"
	"github.com/hotfold/hotfold/internal/config"
	"github.com/hotfold/hotfold/internal/job"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastRetry(maxAttempts int) *config.Retry {
	return &config.Retry{
		MaxAttempts:     maxAttempts,
		InitialInterval: config.Duration(time.Millisecond),
		MaxInterval:     config.Duration(5 * time.Millisecond),
		Multiplier:      1.5,
	}
}

// fakeSender lets tests script per-destination behavior.
type fakeSender struct {
	kind string
	fn   func(req Request) (string, error)
}

func (f *fakeSender) Kind() string { return f.kind }

func (f *fakeSender) Send(ctx context.Context, req Request) (string, error) {
	return f.fn(req)
}

func folderDest(id string) config.Export {
	return config.Export{
		ID:     id,
		Kind:   config.KindFolder,
		Retry:  fastRetry(1),
		Folder: &config.FolderTarget{Path: "/out"},
	}
}

func TestDispatchAllSucceed(t *testing.T) {
	sender := &fakeSender{kind: config.KindFolder, fn: func(req Request) (string, error) {
		return "/out/" + req.Filename, nil
	}}
	e := NewEngine(testLogger(), nil, []Sender{sender})

	j := job.New("invoices", "/in/scan.pdf")
	sum := e.Dispatch(context.Background(), j, j.Path, []config.Export{
		folderDest("a"), folderDest("b"),
	})

	assert.Equal(t, Summary{Eligible: 2, Succeeded: 2}, sum)
	assert.True(t, sum.AllSucceeded())
	assert.Len(t, j.Outcomes(), 2)
}

func TestDispatchIsolatesFailures(t *testing.T) {
	calls := atomic.Int32{}
	sender := &fakeSender{kind: config.KindFolder, fn: func(req Request) (string, error) {
		calls.Add(1)
		if req.Dest.ID == "broken" {
			return "", errors.New("disk full")
		}
		return "/out/" + req.Filename, nil
	}}
	e := NewEngine(testLogger(), nil, []Sender{sender})

	j := job.New("invoices", "/in/scan.pdf")
	sum := e.Dispatch(context.Background(), j, j.Path, []config.Export{
		folderDest("broken"), folderDest("healthy"),
	})

	assert.Equal(t, 2, sum.Eligible)
	assert.Equal(t, 1, sum.Succeeded)
	assert.Equal(t, 1, sum.Failed)
	assert.False(t, sum.AllSucceeded())

	byID := make(map[string]job.Outcome)
	for _, o := range j.Outcomes() {
		byID[o.DestinationID] = o
	}
	assert.Equal(t, job.OutcomeFailed, byID["broken"].Status)
	assert.Contains(t, byID["broken"].Err, "disk full")
	assert.Equal(t, job.OutcomeSucceeded, byID["healthy"].Status)
	assert.Empty(t, byID["healthy"].Err)
}

func TestDispatchSkipsDisabled(t *testing.T) {
	sender := &fakeSender{kind: config.KindFolder, fn: func(Request) (string, error) {
		t.Fatal("disabled destination must not send")
		return "", nil
	}}
	e := NewEngine(testLogger(), nil, []Sender{sender})

	off := false
	dest := folderDest("off")
	dest.Enabled = &off

	j := job.New("invoices", "/in/scan.pdf")
	sum := e.Dispatch(context.Background(), j, j.Path, []config.Export{dest})

	assert.Equal(t, Summary{}, sum)
	assert.Empty(t, j.Outcomes())
}

func TestDispatchGatesOnConditions(t *testing.T) {
	sent := atomic.Int32{}
	sender := &fakeSender{kind: config.KindFolder, fn: func(Request) (string, error) {
		sent.Add(1)
		return "/out/x", nil
	}}
	e := NewEngine(testLogger(), nil, []Sender{sender})

	gated := folderDest("gated")
	gated.When = &condition.Group{
		Logic: condition.LogicAnd,
		Conditions: []condition.Condition{
			{Variable: "DocType", Operator: condition.OpEquals, Value: "invoice", Enabled: true},
		},
	}

	j := job.New("scans", "/in/letter.pdf")
	require.NoError(t, j.Set("DocType", "letter"))

	sum := e.Dispatch(context.Background(), j, j.Path, []config.Export{gated})

	assert.Equal(t, int32(0), sent.Load())
	assert.Equal(t, 0, sum.Eligible)
	assert.Equal(t, 1, sum.Skipped)

	outcomes := j.Outcomes()
	require.Len(t, outcomes, 1)
	assert.Equal(t, job.OutcomeSkipped, outcomes[0].Status)
}

func TestDispatchRetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	sender := &fakeSender{kind: config.KindFolder, fn: func(req Request) (string, error) {
		if calls.Add(1) < 3 {
			return "", errors.New("connection reset")
		}
		return "/out/" + req.Filename, nil
	}}
	e := NewEngine(testLogger(), nil, []Sender{sender})

	dest := folderDest("flaky")
	dest.Retry = fastRetry(5)

	j := job.New("invoices", "/in/scan.pdf")
	sum := e.Dispatch(context.Background(), j, j.Path, []config.Export{dest})

	assert.Equal(t, 1, sum.Succeeded)
	outcomes := j.Outcomes()
	require.Len(t, outcomes, 1)
	assert.Equal(t, 3, outcomes[0].Attempts)
}

func TestDispatchGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	sender := &fakeSender{kind: config.KindFolder, fn: func(Request) (string, error) {
		calls.Add(1)
		return "", errors.New("still down")
	}}
	e := NewEngine(testLogger(), nil, []Sender{sender})

	dest := folderDest("down")
	dest.Retry = fastRetry(3)

	j := job.New("invoices", "/in/scan.pdf")
	sum := e.Dispatch(context.Background(), j, j.Path, []config.Export{dest})

	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDispatchPermanentErrorSkipsRetry(t *testing.T) {
	var calls atomic.Int32
	sender := &fakeSender{kind: config.KindFolder, fn: func(Request) (string, error) {
		calls.Add(1)
		return "", backoff.Permanent(errors.New("file exists"))
	}}
	e := NewEngine(testLogger(), nil, []Sender{sender})

	dest := folderDest("strict")
	dest.Retry = fastRetry(5)

	j := job.New("invoices", "/in/scan.pdf")
	sum := e.Dispatch(context.Background(), j, j.Path, []config.Export{dest})

	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDispatchUnknownKind(t *testing.T) {
	e := NewEngine(testLogger(), nil, nil)

	j := job.New("invoices", "/in/scan.pdf")
	sum := e.Dispatch(context.Background(), j, j.Path, []config.Export{folderDest("x")})

	assert.Equal(t, 1, sum.Failed)
	outcomes := j.Outcomes()
	require.Len(t, outcomes, 1)
	assert.Contains(t, outcomes[0].Err, "no sender")
}

func TestDispatchRendersFilenameOnceDespiteRetries(t *testing.T) {
	var calls atomic.Int32
	var lastFilename string
	sender := &fakeSender{kind: config.KindFolder, fn: func(req Request) (string, error) {
		lastFilename = req.Filename
		if calls.Add(1) < 3 {
			return "", errors.New("transient")
		}
		return "/out/" + req.Filename, nil
	}}

	counters := &memCounters{next: 100}
	e := NewEngine(testLogger(), counters, []Sender{sender})

	dest := folderDest("numbered")
	dest.Filename = `scan_AUTOINCREMENT("batch", 100, 1)`
	dest.Retry = fastRetry(5)

	j := job.New("invoices", "/in/scan.pdf")
	sum := e.Dispatch(context.Background(), j, j.Path, []config.Export{dest})

	assert.Equal(t, 1, sum.Succeeded)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, "scan_100.pdf", lastFilename)
	// A retried delivery must not consume a fresh counter value.
	assert.Equal(t, int64(1), counters.calls.Load())
}

func TestRenderFilenameKeepsSourceExtension(t *testing.T) {
	e := NewEngine(testLogger(), nil, nil)
	render := func(src string) (string, error) { return "renamed", nil }

	name, err := e.renderFilename(render, "/in/scan.pdf", config.Export{Filename: "<X>"})
	require.NoError(t, err)
	assert.Equal(t, "renamed.pdf", name)
}

func TestRenderFilenameDefaultsToSourceName(t *testing.T) {
	e := NewEngine(testLogger(), nil, nil)
	name, err := e.renderFilename(nil, "/in/scan 01.pdf", config.Export{})
	require.NoError(t, err)
	assert.Equal(t, "scan 01.pdf", name)
}

func TestRenderFilenameRejectsEmpty(t *testing.T) {
	e := NewEngine(testLogger(), nil, nil)
	render := func(string) (string, error) { return "   ", nil }
	_, err := e.renderFilename(render, "/in/scan.pdf", config.Export{Filename: "<Missing>"})
	assert.Error(t, err)
}

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		"plain.pdf":          "plain.pdf",
		"a/b\\c":             "a_b_c",
		`inv:2024*final?`:    "inv_2024_final_",
		"  spaced  ":         "spaced",
		"trailing.dots...":   "trailing.dots",
		"quo\"ted<name>|x":   "quo_ted_name__x",
		"umlaut_größe.pdf":   "umlaut_größe.pdf",
	}
	for in, want := range cases {
		assert.Equal(t, want, Sanitize(in), "input %q", in)
	}
}

// memCounters is an in-memory expr.Incrementer.
type memCounters struct {
	next  int64
	calls atomic.Int64
}

func (m *memCounters) Increment(ctx context.Context, name string, start, step int64) (int64, error) {
	m.calls.Add(1)
	v := m.next
	m.next += step
	return v, nil
}

func TestSummaryAllSucceededNeedsEligible(t *testing.T) {
	assert.False(t, Summary{}.AllSucceeded())
	assert.True(t, Summary{Eligible: 1, Succeeded: 1}.AllSucceeded())
	assert.False(t, Summary{Eligible: 2, Succeeded: 1, Failed: 1}.AllSucceeded())
}
