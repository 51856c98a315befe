package forensics

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/sthembisoo/api-error-monitor/monitor/types"
)

const maxSearchDepth = 8

var (
	errSourceNotFound = errors.New("source file not found under search roots")
	errLineOutOfRange = errors.New("line number out of range")
)

// skippedDirs are never descended into by the directory search.
var skippedDirs = map[string]bool{
	".git": true, ".dart_tool": true, "build": true, "node_modules": true, "vendor": true, ".idea": true,
}

// sourceLookupKey tries the locators in order until one resolves to a source line that
// holds a key. Every lookup draws on the same SourceLookupTimeout budget.
func (e *Extractor) sourceLookupKey(ctx context.Context, locators []locatedLine, excluded TypeNameSet) (string, types.StackFrame) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.SourceLookupTimeout)
	defer cancel()

	frames := lo.UniqBy(lo.Map(locators, func(l locatedLine, _ int) types.StackFrame {
		return l.frame
	}), types.StackFrame.String)
	for _, frame := range frames {
		line, err := e.lookupSourceLine(ctx, frame)
		if err != nil {
			e.logger.Debug("source lookup failed", zap.Stringer("locator", frame), zap.Error(err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if key := ScanKey(line, excluded); key != "" {
			return key, frame
		}
	}
	return "", types.StackFrame{}
}

// lookupSourceLine reads the exact line a locator points at, giving up when ctx ends.
func (e *Extractor) lookupSourceLine(ctx context.Context, frame types.StackFrame) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("source lookup for %s: %w", frame, err)
	}

	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := readSourceLine(ctx, e.opts.SourceSearchRoots, frame)
		ch <- result{line: line, err: err}
	}()

	select {
	case r := <-ch:
		return r.line, r.err
	case <-ctx.Done():
		return "", fmt.Errorf("source lookup for %s: %w", frame, ctx.Err())
	}
}

func readSourceLine(ctx context.Context, roots []string, frame types.StackFrame) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path, err := resolveSourcePath(ctx, roots, frame.FileName)
	if err != nil {
		return "", err
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open source file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for n := 1; scanner.Scan(); n++ {
		if n == frame.LineNumber {
			return scanner.Text(), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read source file: %w", err)
	}
	return "", errLineOutOfRange
}

// resolveSourcePath maps a locator file name to a file beneath one of roots.
func resolveSourcePath(ctx context.Context, roots []string, fileName string) (string, error) {
	rels := relativeCandidates(fileName)
	if len(rels) == 0 {
		return "", errSourceNotFound
	}

	for _, root := range roots {
		absRoot, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		if filepath.IsAbs(fileName) && within(absRoot, fileName) && isRegularFile(fileName) {
			return fileName, nil
		}
		for _, rel := range rels {
			candidate := filepath.Join(absRoot, rel)
			if within(absRoot, candidate) && isRegularFile(candidate) {
				return candidate, nil
			}
		}
	}

	for _, root := range roots {
		absRoot, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		found, err := searchTree(ctx, absRoot, rels)
		if err != nil {
			return "", err
		}
		if found != "" {
			return found, nil
		}
	}
	return "", errSourceNotFound
}

// relativeCandidates lists root-relative paths to try for a locator file name.
// `package:app/models/product.dart` yields `lib/models/product.dart` and `models/product.dart`.
func relativeCandidates(fileName string) []string {
	name := strings.TrimPrefix(fileName, "file://")
	name = filepath.ToSlash(name)
	var out []string
	if rest, ok := strings.CutPrefix(name, "package:"); ok {
		if _, tail, ok := strings.Cut(rest, "/"); ok && tail != "" {
			out = append(out, filepath.FromSlash("lib/"+tail), filepath.FromSlash(tail))
		}
		return out
	}
	name = strings.TrimLeft(name, "/")
	if name == "" {
		return nil
	}
	parts := strings.Split(name, "/")
	for i := range parts {
		out = append(out, filepath.FromSlash(strings.Join(parts[i:], "/")))
	}
	return out
}

// searchTree walks root looking for a file whose path ends with one of rels.
func searchTree(ctx context.Context, root string, rels []string) (string, error) {
	var found string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && (skippedDirs[d.Name()] || depth(root, path) > maxSearchDepth) {
				return filepath.SkipDir
			}
			return nil
		}
		for _, rel := range rels {
			if strings.HasSuffix(path, string(filepath.Separator)+rel) {
				found = path
				return filepath.SkipAll
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to search %s: %w", root, err)
	}
	return found, nil
}

func depth(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return 0
	}
	return len(strings.Split(rel, string(filepath.Separator)))
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
