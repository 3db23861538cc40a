// Package flat is an embedded vector engine backing the adapter
// contract. Vectors and extra columns live in memory as flat arrays;
// durability comes from a compressed append-only frame log per dataset.
// Search is an exhaustive scan, so the accelerator build operations are
// recorded but change nothing about query execution.
package flat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/hupe1980/annbridge/backend"
	"github.com/hupe1980/annbridge/model"
	"github.com/hupe1980/annbridge/resource"
)

const (
	metaFileName = "schema.json"
	logFileName  = "data.vlog"
)

// accelerator records one requested index build. The flat engine scans
// exhaustively regardless, but remembers what was asked for so that
// reopened datasets report it.
type accelerator struct {
	Kind           string `json:"kind"` // "ivf" or "graph"
	NumPartitions  int    `json:"num_partitions,omitempty"`
	NumSubvectors  int    `json:"num_subvectors,omitempty"`
	M              int    `json:"m,omitempty"`
	EfConstruction int    `json:"ef_construction,omitempty"`
}

type meta struct {
	Dimension    int           `json:"dimension"`
	Metric       model.Metric  `json:"metric"`
	Columns      model.Schema  `json:"columns,omitempty"`
	Accelerators []accelerator `json:"accelerators,omitempty"`
}

// Option configures the Engine.
type Option func(*Engine)

// WithResourceController throttles maintenance work (Compact) through
// rc. A nil controller imposes no limits.
func WithResourceController(rc *resource.Controller) Option {
	return func(e *Engine) { e.rc = rc }
}

// Engine creates, opens and destroys flat datasets on the local
// filesystem. A dataset lives in its own subdirectory of the location.
type Engine struct {
	rc *resource.Controller
}

var _ backend.Engine = (*Engine)(nil)

// NewEngine creates an Engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Create creates a vector-only dataset at location.
func (e *Engine) Create(ctx context.Context, location string, dimension int, metric model.Metric, dataset string) (backend.Dataset, error) {
	return e.create(ctx, location, dataset, meta{Dimension: dimension, Metric: metric})
}

// CreateFromSchema creates a dataset carrying extra scalar columns.
func (e *Engine) CreateFromSchema(ctx context.Context, location string, dimension int, schema model.Schema, metric model.Metric, dataset string) (backend.Dataset, error) {
	if err := schema.Validate(); err != nil {
		return nil, backend.Wrap("create", err)
	}
	return e.create(ctx, location, dataset, meta{Dimension: dimension, Metric: metric, Columns: schema})
}

func (e *Engine) create(ctx context.Context, location, dataset string, m meta) (backend.Dataset, error) {
	if m.Dimension <= 0 {
		return nil, backend.Errorf("create", "dimension must be positive, got %d", m.Dimension)
	}
	if _, err := model.ParseMetric(string(m.Metric)); err != nil {
		return nil, backend.Wrap("create", err)
	}

	dir := filepath.Join(location, dataset)
	if _, err := os.Stat(filepath.Join(dir, metaFileName)); err == nil {
		return nil, backend.Errorf("create", "dataset %q already exists at %s", dataset, location)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, backend.Wrap("create", err)
	}
	if err := writeMeta(dir, m); err != nil {
		return nil, backend.Wrap("create", err)
	}

	logFile, err := os.OpenFile(filepath.Join(dir, logFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, backend.Wrap("create", err)
	}
	return newDataset(dir, m, logFile, e.rc), nil
}

// Open reopens an existing dataset, deriving the extra-column schema
// from the stored metadata. The stored metric must match the expected
// one; a mismatch here means the host's index definition and the
// dataset have diverged.
func (e *Engine) Open(ctx context.Context, location string, dataset string, metric model.Metric) (backend.Dataset, error) {
	dir := filepath.Join(location, dataset)
	m, err := readMeta(dir)
	if err != nil {
		return nil, backend.Wrap("open", err)
	}
	if !m.Metric.Equal(metric) {
		return nil, backend.Errorf("open", "dataset metric %q does not match expected %q", m.Metric, metric)
	}

	logPath := filepath.Join(dir, logFileName)
	d := newDataset(dir, m, nil, e.rc)

	f, err := os.Open(logPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, backend.Wrap("open", err)
		}
	} else {
		valid, replayErr := d.replay(f)
		f.Close()
		if replayErr != nil {
			if !errors.Is(replayErr, errTruncatedFrame) {
				return nil, backend.Wrap("open", replayErr)
			}
			// A crash mid-append leaves a torn frame at the tail.
			// Everything before it replayed cleanly; drop the tail so
			// later appends land on a frame boundary.
			if err := os.Truncate(logPath, valid); err != nil {
				return nil, backend.Wrap("open", err)
			}
		}
	}

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, backend.Wrap("open", err)
	}
	d.logFile = logFile
	return d, nil
}

// Destroy removes the dataset location recursively.
func (e *Engine) Destroy(location string) error {
	return backend.Wrap("destroy", os.RemoveAll(location))
}

func writeMeta(dir string, m meta) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(dir, metaFileName+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, metaFileName))
}

func readMeta(dir string) (meta, error) {
	var m meta
	data, err := os.ReadFile(filepath.Join(dir, metaFileName))
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, err
	}
	return m, nil
}

// replay applies every frame in the log to the in-memory state. It
// returns the byte length of the fully-applied prefix so a torn tail
// can be truncated away.
func (d *Dataset) replay(r io.Reader) (int64, error) {
	cr := &countingReader{r: r}
	var valid int64
	for {
		ft, payload, err := readFrame(cr)
		if err == io.EOF {
			return valid, nil
		}
		if err != nil {
			return valid, err
		}
		c := &cursor{b: payload}
		switch ft {
		case frameAdd:
			rb, err := decodeRowBlock(c, d.meta.Dimension, d.meta.Columns)
			if err != nil {
				return valid, err
			}
			d.applyRows(rb)
		case frameDelete:
			labels, err := decodeDeleteBlock(c)
			if err != nil {
				return valid, err
			}
			for _, l := range labels {
				d.live.Remove(uint64(l))
			}
		case frameSnapshot:
			nextLabel := model.Label(c.uint64())
			rb, err := decodeRowBlock(c, d.meta.Dimension, d.meta.Columns)
			if err != nil {
				return valid, err
			}
			d.resetTo(rb, nextLabel)
		}
		valid = cr.n
	}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
