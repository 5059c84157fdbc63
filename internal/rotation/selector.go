// Package rotation classifies local backup files into kept and stale sets
// under a rotation policy keyed on the date stamp embedded in file names.
package rotation

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	apperrors "github.com/UoA-eResearch/s3backupdb/internal/errors"
	"github.com/UoA-eResearch/s3backupdb/internal/logging"
)

// stampPattern extracts the fixed-width date stamp that makes reverse
// lexicographic name order equal reverse chronological order
var stampPattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)

// File is a local backup candidate
type File struct {
	Path string
	Name string
	Size int64
}

// Selection is the outcome of classifying a backup directory
type Selection struct {
	// Kept are the most recent rotate-level files, newest first
	Kept []File
	// Stale are older matches slated for local deletion
	Stale []File
	// Empty are zero-length matches, excluded from the set and deleted
	Empty []File
	// Skipped are matched names without a parseable date stamp; their
	// rotation order would be undefined, so they are left untouched
	Skipped []string
}

// Select lists entries in dir matching pattern and splits them at rotateLvl.
// Names sort in reverse lexicographic order, which the embedded fixed-width
// date stamp makes reverse chronological. rotateLvl <= 0 disables rotation:
// everything conforming is kept and nothing is stale.
func Select(dir, pattern string, rotateLvl int, removeEmpty bool) (*Selection, error) {
	if pattern == "" {
		return nil, apperrors.NewConfigurationError("backup file pattern is required", nil)
	}

	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, apperrors.NewConfigurationError("invalid backup file pattern", err).
			WithContext("pattern", pattern)
	}

	sel := &Selection{}
	var conforming []File

	for _, path := range matches {
		name := filepath.Base(path)

		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			sel.Skipped = append(sel.Skipped, name)
			continue
		}

		if !hasValidStamp(name) {
			sel.Skipped = append(sel.Skipped, name)
			continue
		}

		file := File{Path: path, Name: name, Size: info.Size()}
		if removeEmpty && info.Size() == 0 {
			sel.Empty = append(sel.Empty, file)
			continue
		}
		conforming = append(conforming, file)
	}

	sort.Slice(conforming, func(i, j int) bool {
		return conforming[i].Name > conforming[j].Name
	})

	if rotateLvl <= 0 || len(conforming) <= rotateLvl {
		sel.Kept = conforming
	} else {
		sel.Kept = conforming[:rotateLvl]
		sel.Stale = conforming[rotateLvl:]
	}

	return sel, nil
}

// hasValidStamp checks the name embeds a real date in sortable form
func hasValidStamp(name string) bool {
	stamp := stampPattern.FindString(name)
	if stamp == "" {
		return false
	}
	_, err := time.Parse("2006-01-02", stamp)
	return err == nil
}

// PruneResult reports which local files were removed
type PruneResult struct {
	Deleted []string
	Failed  []string
}

// Prune deletes the stale and empty files of the selection. A failed delete
// is logged and skipped so one bad file cannot block rotation of the rest.
// In dry-run mode nothing is removed.
func (s *Selection) Prune(logger *logging.Logger, dryRun bool) *PruneResult {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	result := &PruneResult{}
	targets := append(append([]File{}, s.Stale...), s.Empty...)

	for _, file := range targets {
		if dryRun {
			logger.Infof("dry-run: would remove local file %s", file.Path)
			continue
		}
		if err := os.Remove(file.Path); err != nil {
			logger.Errorf("failed to remove local file %s: %v", file.Path, err)
			result.Failed = append(result.Failed, file.Path)
			continue
		}
		logger.Debugf("removed local file %s", file.Path)
		result.Deleted = append(result.Deleted, file.Path)
	}

	return result
}
