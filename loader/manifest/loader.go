package manifest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shaban/fxhost/loader"
	"github.com/shaban/fxhost/plugins"
)

// Loader finds and instantiates manifest-declared plugins.
type Loader struct {
	logger *zap.Logger
	// sleep is replaced in tests.
	sleep func(time.Duration)
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(ld *Loader) {
		if l != nil {
			ld.logger = l
		}
	}
}

// New creates a manifest loader.
func New(opts ...Option) *Loader {
	l := &Loader{logger: zap.NewNop(), sleep: sleepFor}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

var _ loader.Loader = (*Loader)(nil)

func (l *Loader) Format() plugins.Format { return plugins.FormatManifest }

// FindCandidates walks path and returns a descriptor for every manifest file.
// A manifest that fails to decode still yields a candidate (named after the file,
// with no channels) so the probe reports the failure instead of hiding it.
func (l *Loader) FindCandidates(ctx context.Context, path string) ([]plugins.Descriptor, error) {
	var out []plugins.Descriptor
	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == path {
				return err
			}
			l.logger.Warn("skipping unreadable entry", zap.String("path", p), zap.Error(err))
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || !IsManifestFile(p) {
			return nil
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		m, err := ReadFile(abs)
		if err != nil {
			l.logger.Warn("unreadable manifest", zap.String("path", abs), zap.Error(err))
			out = append(out, plugins.Descriptor{
				Format:           plugins.FormatManifest,
				FileOrIdentifier: abs,
				Name:             strings.SplitN(filepath.Base(abs), ".", 2)[0],
			})
			return nil
		}
		out = append(out, m.Descriptor(abs))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("find manifests in %s: %w", path, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FileOrIdentifier < out[j].FileOrIdentifier })
	return out, nil
}

// Instantiate re-reads the manifest so edits on disk are picked up.
func (l *Loader) Instantiate(d plugins.Descriptor, sampleRate float64, blockSize int) (loader.Instance, error) {
	m, err := ReadFile(d.FileOrIdentifier)
	if err != nil {
		return nil, err
	}
	if m.InitDelay != 0 {
		l.sleep(m.InitDelay)
	}
	if m.Fail != "" {
		return nil, errors.New(m.Fail)
	}
	return newNode(m), nil
}

func sleepFor(d time.Duration) {
	if d < 0 {
		select {}
	}
	time.Sleep(d)
}
