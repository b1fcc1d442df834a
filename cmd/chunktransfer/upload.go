package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bitrise-io/go-chunktransfer/transfer"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/docker/go-units"
	"github.com/spf13/cobra"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <path|pattern>...",
	Short: "Upload files",
	Long: `Upload files as concurrently transferred chunks.

Paths may contain doublestar patterns ('dist/**/*.zip'), quote them so the shell
does not expand them. Files are admitted in the order they are given.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runUpload(args)
	},
}

func init() {
	rootCmd.AddCommand(uploadCmd)
}

func runUpload(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	paths, err := expandPaths(args, pathutil.NewPathModifier(), pathutil.NewPathChecker())
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no file matches %s", strings.Join(args, ", "))
	}

	// Files are only stat-ed here, they are opened once their upload starts.
	names := uploadNames(paths)
	var files []*transfer.File
	var totalBytes uint64
	for i, path := range paths {
		file, err := transfer.NewFileFromPath(path)
		if err != nil {
			return err
		}
		file.Name = names[i]
		files = append(files, file)
		totalBytes += file.Size
	}
	logger.Infof("Uploading %d file(s), %s in total", len(files), units.HumanSizeWithPrecision(float64(totalBytes), 3))

	ctx, cancel := createContext()
	defer cancel()

	sink := newProgressSink(os.Stderr, "Uploading", int64(totalBytes), logger)
	session, cleanup, err := newSession(ctx, cfg, sink)
	if err != nil {
		return err
	}
	defer cleanup()

	enqueueErr := session.Enqueue(files...)
	if enqueueErr != nil {
		logger.Warnf("Skipped: %s", enqueueErr)
	}

	if err := session.Close(ctx); err != nil {
		return fmt.Errorf("upload interrupted: %w", err)
	}

	if n := sink.failed(); n > 0 {
		return fmt.Errorf("%d of %d upload(s) failed", n, len(files))
	}
	logger.Donef("Uploaded %d file(s)", len(sink.succeeded))

	return enqueueErr
}

// expandPaths resolves doublestar patterns to regular files. Plain paths are kept
// as they are and fail later if they do not exist.
func expandPaths(args []string, pathModifier pathutil.PathModifier, pathChecker pathutil.PathChecker) ([]string, error) {
	var paths []string
	seen := map[string]bool{}
	add := func(path string) {
		if seen[path] {
			return
		}
		seen[path] = true
		paths = append(paths, path)
	}

	for _, arg := range args {
		if !strings.ContainsAny(arg, "*?[{") {
			absPath, err := pathModifier.AbsPath(arg)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve %s: %w", arg, err)
			}
			add(absPath)
			continue
		}

		base, pattern := doublestar.SplitPattern(arg)
		absBase, err := pathModifier.AbsPath(base)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", base, err)
		}
		matches, err := doublestar.Glob(os.DirFS(absBase), pattern, doublestar.WithNoFollow())
		if err != nil {
			if errors.Is(err, doublestar.ErrBadPattern) {
				return nil, fmt.Errorf("invalid pattern %s: %w", arg, err)
			}
			logger.Warnf("Error in path pattern '%s': %s", arg, err)
			continue
		}
		if len(matches) == 0 {
			logger.Warnf("No match for path pattern: %s", arg)
			continue
		}

		for _, match := range matches {
			path := filepath.Join(absBase, match)
			isDir, err := pathChecker.IsDirExists(path)
			if err != nil {
				logger.Warnf("Failed to check path %s, error: %s", path, err)
				continue
			}
			if isDir {
				continue
			}
			add(path)
		}
	}

	return paths, nil
}

// uploadNames returns the name every path is uploaded as. Names are base names,
// except where base names collide: those files are named by their slash separated
// path relative to the deepest directory the colliding paths share.
func uploadNames(paths []string) []string {
	byBase := map[string][]int{}
	for i, path := range paths {
		base := filepath.Base(path)
		byBase[base] = append(byBase[base], i)
	}

	names := make([]string, len(paths))
	for base, indexes := range byBase {
		if len(indexes) == 1 {
			names[indexes[0]] = base
			continue
		}

		common := filepath.Dir(paths[indexes[0]])
		for _, i := range indexes[1:] {
			common = commonDir(common, filepath.Dir(paths[i]))
		}
		for _, i := range indexes {
			rel, err := filepath.Rel(common, paths[i])
			if err != nil {
				rel = paths[i]
			}
			names[i] = filepath.ToSlash(rel)
		}
	}

	return names
}

func commonDir(a, b string) string {
	for {
		if a == b || strings.HasPrefix(b, a+string(filepath.Separator)) {
			return a
		}
		parent := filepath.Dir(a)
		if parent == a {
			return a
		}
		a = parent
	}
}
