package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/enku/gbp/internal/gbp"
	"github.com/enku/gbp/internal/records"
	"github.com/enku/gbp/internal/storage"
)

// Finding is a single integrity-check result.
type Finding struct {
	Check   string
	Message string
}

// CheckResult separates hard failures from advisory warnings, matching
// the (errors, warnings) pairs the spec assigns each check.
type CheckResult struct {
	Errors   []Finding
	Warnings []Finding
}

func (r *CheckResult) addError(check, format string, args ...any) {
	r.Errors = append(r.Errors, Finding{Check: check, Message: fmt.Sprintf(format, args...)})
}

func (r *CheckResult) addWarning(check, format string, args ...any) {
	r.Warnings = append(r.Warnings, Finding{Check: check, Message: fmt.Sprintf(format, args...)})
}

// Checker runs the integrity checks over one storage root and RecordDB.
type Checker struct {
	DB    records.DB
	Store *storage.Storage
}

// RunAll executes every check and merges their results.
func (c *Checker) RunAll() (CheckResult, error) {
	var result CheckResult

	if err := c.checkBuildContent(&result); err != nil {
		return result, err
	}
	if err := c.checkOrphans(&result); err != nil {
		return result, err
	}
	if err := c.checkInconsistentTags(&result); err != nil {
		return result, err
	}
	c.checkDirtyTemp(&result)
	if err := c.checkGBPMetadata(&result); err != nil {
		return result, err
	}
	return result, nil
}

// checkBuildContent verifies every completed record's four Content
// directories exist on disk.
func (c *Checker) checkBuildContent(result *CheckResult) error {
	machines, err := c.DB.ListMachines()
	if err != nil {
		return fmt.Errorf("stats: check build content: %w", err)
	}
	for _, machine := range machines {
		rows, err := c.DB.ForMachine(machine)
		if err != nil {
			return fmt.Errorf("stats: check build content: %w", err)
		}
		for _, r := range rows {
			if r.Completed == nil {
				continue
			}
			if !c.Store.Pulled(r.Build) {
				result.addError("build_content", "completed build %s is missing content directories", r.Build)
			}
		}
	}
	return nil
}

// checkOrphans verifies every per-build directory under each Content
// directory has a corresponding record, and that no tag symlink dangles.
func (c *Checker) checkOrphans(result *CheckResult) error {
	known := make(map[gbp.Build]bool)
	machines, err := c.DB.ListMachines()
	if err != nil {
		return fmt.Errorf("stats: check orphans: %w", err)
	}
	for _, machine := range machines {
		rows, err := c.DB.ForMachine(machine)
		if err != nil {
			return fmt.Errorf("stats: check orphans: %w", err)
		}
		for _, r := range rows {
			known[r.Build] = true
		}
	}

	for _, content := range gbp.Contents {
		dir := filepath.Join(c.Store.Root, string(content))
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("stats: check orphans: list %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.Type()&os.ModeSymlink != 0 {
				target, err := os.Readlink(filepath.Join(dir, e.Name()))
				if err != nil || !pathExists(filepath.Join(dir, target)) {
					result.addError("orphans", "dangling tag symlink %s/%s", content, e.Name())
				}
				continue
			}
			if !e.IsDir() {
				continue
			}
			b, err := gbp.ParseBuild(e.Name())
			if err != nil {
				continue
			}
			if !known[b] {
				result.addError("orphans", "build directory %s/%s has no record", content, e.Name())
			}
		}
	}
	return nil
}

func pathExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// checkInconsistentTags verifies each tag's four per-Content symlinks
// resolve to the same build directory.
func (c *Checker) checkInconsistentTags(result *CheckResult) error {
	machines, err := c.DB.ListMachines()
	if err != nil {
		return fmt.Errorf("stats: check tags: %w", err)
	}
	for _, machine := range machines {
		entries, err := os.ReadDir(filepath.Join(c.Store.Root, string(gbp.ContentRepos)))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("stats: check tags: %w", err)
		}
		tagNames := map[string]bool{}
		for _, e := range entries {
			name := e.Name()
			if name == machine {
				tagNames[gbp.PublishedTag] = true
			} else if rest, ok := strings.CutPrefix(name, machine+"@"); ok {
				tagNames[rest] = true
			}
		}
		for tag := range tagNames {
			var want string
			for i, content := range gbp.Contents {
				linkName := gbp.TagSymlinkName(machine, tag)
				target, err := os.Readlink(filepath.Join(c.Store.Root, string(content), linkName))
				if err != nil {
					result.addError("inconsistent_tags", "tag %s/%q missing in %s", machine, tag, content)
					continue
				}
				if i == 0 {
					want = target
				} else if target != want {
					result.addError("inconsistent_tags", "tag %s/%q resolves inconsistently across content dirs", machine, tag)
				}
			}
		}
	}
	return nil
}

// checkDirtyTemp warns if the staging directory is non-empty.
func (c *Checker) checkDirtyTemp(result *CheckResult) {
	dir := filepath.Join(c.Store.Root, "tmp")
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) == 0 {
		return
	}
	result.addWarning("dirty_temp", "tmp/ contains %d stale staging director(ies)", len(entries))
}

// WatchTmp is the live companion to checkDirtyTemp: rather than waiting
// for an on-demand RunAll sweep, it watches the storage root's tmp/
// directory with fsnotify and invokes onDirty the moment staging activity
// settles, as long as tmp/ is non-empty. It blocks until ctx is cancelled.
func (c *Checker) WatchTmp(ctx context.Context, delay time.Duration, onDirty func(Finding)) error {
	w, err := NewTempWatcher(c.Store.Root, delay)
	if err != nil {
		return fmt.Errorf("stats: watch tmp: %w", err)
	}
	return w.Run(ctx, func() {
		entries, err := os.ReadDir(filepath.Join(c.Store.Root, "tmp"))
		if err != nil || len(entries) == 0 {
			return
		}
		onDirty(Finding{Check: "dirty_temp", Message: fmt.Sprintf("tmp/ contains %d stale staging director(ies)", len(entries))})
	})
}

// checkGBPMetadata warns on missing gbp.json sidecars for completed
// builds, and errors on ones that fail to parse.
func (c *Checker) checkGBPMetadata(result *CheckResult) error {
	machines, err := c.DB.ListMachines()
	if err != nil {
		return fmt.Errorf("stats: check gbp.json: %w", err)
	}
	for _, machine := range machines {
		rows, err := c.DB.ForMachine(machine)
		if err != nil {
			return fmt.Errorf("stats: check gbp.json: %w", err)
		}
		for _, r := range rows {
			if r.Completed == nil {
				continue
			}
			path := filepath.Join(c.Store.Root, string(gbp.ContentBinpkgs), r.Build.Dir(), "gbp.json")
			data, err := os.ReadFile(path)
			if err != nil {
				if os.IsNotExist(err) {
					result.addWarning("gbp_metadata", "missing gbp.json for %s", r.Build)
				}
				continue
			}
			var meta gbp.GBPMetadata
			if err := json.Unmarshal(data, &meta); err != nil {
				result.addError("gbp_metadata", "corrupt gbp.json for %s: %v", r.Build, err)
			}
		}
	}
	return nil
}
