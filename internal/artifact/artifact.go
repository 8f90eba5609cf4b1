// Package artifact caches derived results per job so that multiple export
// destinations share one OCR pass, one compression run, one page count.
//
// A result is keyed by the producing action kind plus a fingerprint of its
// parameters. When a job reaches a terminal state the caller releases the
// job, which drops cached values and removes the job's scratch directory.
package artifact

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Key identifies one cached artifact within a job.
type Key struct {
	Kind        string
	Fingerprint uint64
}

// Fingerprint hashes parameter strings into a stable cache key component.
// Parameter order matters.
func Fingerprint(params ...string) uint64 {
	h := fnv.New64a()
	for _, p := range params {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return h.Sum64()
}

type entry struct {
	value any
	err   error
}

// Cache holds per-job artifacts. Concurrent lookups of the same key block on
// a single computation instead of running it twice.
type Cache struct {
	root string

	mu   sync.Mutex
	jobs map[string]map[Key]entry

	group singleflight.Group
}

// NewCache creates a cache whose scratch directories live under root.
func NewCache(root string) *Cache {
	return &Cache{
		root: root,
		jobs: make(map[string]map[Key]entry),
	}
}

// Dir returns the scratch directory for a job, creating it if needed.
// Computations write their intermediate files here; Release removes it.
func (c *Cache) Dir(jobID string) (string, error) {
	dir := filepath.Join(c.root, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create scratch dir for job %s: %w", jobID, err)
	}
	return dir, nil
}

// Do returns the cached value for key within the given job, computing it
// with fn on first use. Concurrent callers with the same job and key share
// one invocation of fn. A failed computation is cached too: retrying the
// same parameters on the same input would fail the same way.
func (c *Cache) Do(ctx context.Context, jobID string, key Key, fn func(context.Context) (any, error)) (any, error) {
	c.mu.Lock()
	if e, ok := c.jobs[jobID][key]; ok {
		c.mu.Unlock()
		return e.value, e.err
	}
	c.mu.Unlock()

	flightKey := fmt.Sprintf("%s/%s:%x", jobID, key.Kind, key.Fingerprint)
	v, err, _ := c.group.Do(flightKey, func() (any, error) {
		value, err := fn(ctx)
		c.mu.Lock()
		if _, ok := c.jobs[jobID]; !ok {
			c.jobs[jobID] = make(map[Key]entry)
		}
		c.jobs[jobID][key] = entry{value: value, err: err}
		c.mu.Unlock()
		return value, err
	})
	return v, err
}

// Release drops all cached values for a job and removes its scratch
// directory. Call once the job is terminal.
func (c *Cache) Release(jobID string) error {
	c.mu.Lock()
	delete(c.jobs, jobID)
	c.mu.Unlock()

	dir := filepath.Join(c.root, jobID)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove scratch dir for job %s: %w", jobID, err)
	}
	return nil
}
