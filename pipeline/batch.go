package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	garminhealth "github.com/lucasjlepore/garmin-health"
)

// AnalyzeFiles summarizes each path in parallel. A file that fails to decode
// or summarize is reported in its FileResult; only cancellation of ctx fails
// the batch. Results keep the order of paths.
func AnalyzeFiles(ctx context.Context, paths []string, opts garminhealth.Options) ([]FileResult, error) {
	results := make([]FileResult, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i, path := range paths {
		i, path := i, path
		results[i].Path = path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			s, err := garminhealth.AnalyzeFile(path, opts)
			results[i] = newFileResult(path, s, err)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// ExportFiles runs Run for every path, each into its own subdirectory of
// outDir named after the file. opts.InputPath and opts.OutDir are ignored.
func ExportFiles(ctx context.Context, paths []string, outDir string, opts Options) ([]*Result, error) {
	dirs := exportDirs(outDir, paths)
	results := make([]*Result, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			o := opts
			o.InputPath = path
			o.OutDir = dirs[i]
			res, err := Run(o)
			if err != nil {
				return fmt.Errorf("export %s: %w", path, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func newFileResult(path string, s *garminhealth.Summary, err error) FileResult {
	if err != nil {
		return FileResult{
			Path:  path,
			Kind:  garminhealth.ErrorKind(err),
			Error: err.Error(),
			Err:   err,
		}
	}
	return FileResult{Path: path, Summary: s}
}

// exportDirs names one output directory per path after the file stem,
// suffixing a taken name with -2, -3 and so on until it is unused.
func exportDirs(outDir string, paths []string) []string {
	used := make(map[string]bool, len(paths))
	dirs := make([]string, len(paths))
	for i, path := range paths {
		base := filepath.Base(path)
		stem := strings.TrimSuffix(base, filepath.Ext(base))
		if stem == "" {
			stem = "track"
		}
		name := stem
		for n := 2; used[name]; n++ {
			name = fmt.Sprintf("%s-%d", stem, n)
		}
		used[name] = true
		dirs[i] = filepath.Join(outDir, name)
	}
	return dirs
}
