// Package build implements the host pipeline around the coverage pass: it
// loads a program's source files, runs the instrumentation over them in
// program order, and writes the instrumented sources and the parameter
// mapping out.
package build

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/printer"
	"go/token"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/tools/go/ast/astutil"

	"github.com/prodcov/prodcov/compiler/coverage"
	"github.com/prodcov/prodcov/internal/errlist"
)

// parseErrorLimit caps how many parse errors a failed session reports.
const parseErrorLimit = 10

// Options configure a Session.
type Options struct {
	// Files lists the program's source files in program order. The order is
	// semantic: it drives hook-file gating and first-seen identifier
	// assignment, so it must be stable between builds that are expected to
	// produce comparable mappings.
	Files []string

	// OutputDir receives the instrumented sources, one file per input file,
	// under the input's base name.
	OutputDir string

	// MappingFile is where the finalized parameter mapping is written.
	// Empty suppresses the mapping output.
	MappingFile string

	// Watch keeps the session alive, re-instrumenting whenever an input file
	// changes.
	Watch bool
}

// Session orchestrates instrumentation of one program. Every Run performs a
// complete compilation with a fresh registry; registries are never reused
// across runs.
type Session struct {
	options *Options

	// files is the effective program order: the input files with the
	// hook-defining file hoisted to the front, the way the pipeline orders
	// the program so that every other file's functions are eligible.
	files []string

	// Watcher is non-nil in watch mode and observes all input files.
	Watcher *fsnotify.Watcher

	// currentFile names the file being instrumented, for change attribution.
	currentFile string
	// changedFiles counts instrumented blocks per input file of the current run.
	changedFiles map[string]int
}

// NewSession validates the options and, in watch mode, sets up the file
// watcher.
func NewSession(options *Options) (*Session, error) {
	if len(options.Files) == 0 {
		return nil, fmt.Errorf("build: no input files")
	}
	seen := make(map[string]string, len(options.Files))
	for _, name := range options.Files {
		base := filepath.Base(name)
		if prev, ok := seen[base]; ok {
			return nil, fmt.Errorf("build: input files %s and %s would collide in the output directory", prev, name)
		}
		seen[base] = name
	}

	s := &Session{options: options, files: hoistHookFile(options.Files)}
	if options.Watch {
		var err error
		s.Watcher, err = fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("build: failed to create file watcher: %w", err)
		}
		for _, name := range options.Files {
			if err := s.Watcher.Add(name); err != nil {
				s.Watcher.Close()
				return nil, fmt.Errorf("build: failed to watch %s: %w", name, err)
			}
		}
	}
	return s, nil
}

// hoistHookFile moves the hook-defining file to the front of the program
// order so that every other file's functions are eligible for
// instrumentation. The relative order of the remaining files is preserved,
// since it determines identifier assignment.
func hoistHookFile(files []string) []string {
	ordered := make([]string, 0, len(files))
	var rest []string
	for _, name := range files {
		if strings.HasSuffix(filepath.Base(name), coverage.HookFileName) {
			ordered = append(ordered, name)
		} else {
			rest = append(rest, name)
		}
	}
	return append(ordered, rest...)
}

// Run performs one complete instrumentation pass over the program.
func (s *Session) Run() error {
	fset := token.NewFileSet()
	files, err := s.parse(fset)
	if err != nil {
		return err
	}

	hookPresent := false
	for _, name := range s.files {
		if strings.HasSuffix(filepath.Base(name), coverage.HookFileName) {
			hookPresent = true
			break
		}
	}
	if !hookPresent {
		log.Warningf("No %s among the inputs; only code after an externally provided hook file would be instrumented.", coverage.HookFileName)
	}

	s.changedFiles = make(map[string]int)
	inst := coverage.New(fset, s)
	for i, file := range files {
		s.currentFile = s.files[i]
		if err := inst.File(file); err != nil {
			return err
		}
	}

	total := 0
	for i, file := range files {
		name := s.files[i]
		n := s.changedFiles[name]
		total += n
		if n > 0 {
			// The injected calls reference the hook package, which the
			// original file has no reason to import yet.
			astutil.AddImport(fset, file, coverage.HookImportPath)
		}
		log.Debugf("Instrumented %d functions in %s.", n, name)
	}

	if err := s.writeSources(fset, files); err != nil {
		return err
	}
	if s.options.MappingFile != "" {
		mapping := inst.InstrumentationMapping()
		if err := mapping.Save(s.options.MappingFile); err != nil {
			return err
		}
		log.Infof("Wrote parameter mapping with %d identifiers to %s.", mapping.Len(), s.options.MappingFile)
	}

	log.Infof("Instrumented %d functions across %d files.", total, len(files))
	return nil
}

// parse loads all input files into the fset. Files are parsed concurrently;
// the returned slice preserves input order. All parse failures are reported,
// not just the first.
func (s *Session) parse(fset *token.FileSet) ([]*ast.File, error) {
	files := make([]*ast.File, len(s.files))
	parseErrs := make([]error, len(s.files))

	var group errgroup.Group
	for i, name := range s.files {
		i, name := i, name
		group.Go(func() error {
			file, err := parser.ParseFile(fset, name, nil, parser.ParseComments)
			files[i], parseErrs[i] = file, err
			return nil
		})
	}
	// The closures never fail; per-file errors are collected in parseErrs.
	_ = group.Wait()

	var errs errlist.List
	for _, err := range parseErrs {
		errs = errs.Append(err)
	}
	if err := errs.Trim(parseErrorLimit).ErrOrNil(); err != nil {
		return nil, fmt.Errorf("build: failed to parse inputs: %w", err)
	}
	return files, nil
}

// writeSources prints the instrumented trees into the output directory.
func (s *Session) writeSources(fset *token.FileSet, files []*ast.File) error {
	if err := os.MkdirAll(s.options.OutputDir, 0o755); err != nil {
		return fmt.Errorf("build: failed to create output directory: %w", err)
	}
	cfg := &printer.Config{Mode: printer.UseSpaces | printer.TabIndent, Tabwidth: 8}
	for i, file := range files {
		name := filepath.Join(s.options.OutputDir, filepath.Base(s.files[i]))
		out, err := os.Create(name)
		if err != nil {
			return fmt.Errorf("build: failed to create %s: %w", name, err)
		}
		if err := cfg.Fprint(out, fset, file); err != nil {
			out.Close()
			return fmt.Errorf("build: failed to print %s: %w", name, err)
		}
		if err := out.Close(); err != nil {
			return fmt.Errorf("build: failed to write %s: %w", name, err)
		}
	}
	return nil
}

// ReportChange implements coverage.ChangeReporter by attributing the mutated
// block to the file currently being instrumented.
func (s *Session) ReportChange(block *ast.BlockStmt) {
	s.changedFiles[s.currentFile]++
}

// WaitForChange blocks until one of the watched input files changes.
func (s *Session) WaitForChange() {
	select {
	case ev := <-s.Watcher.Events:
		log.Infof("File %s changed, re-instrumenting.", ev.Name)
		// Editors often replace the file, which drops it from the watch list.
		if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
			if err := s.Watcher.Add(ev.Name); err != nil {
				log.Warningf("Failed to re-watch %s: %v", ev.Name, err)
			}
		}
	case err := <-s.Watcher.Errors:
		log.Errorf("File watcher error: %v", err)
	}
}

// Close releases the session's watcher, if any.
func (s *Session) Close() error {
	if s.Watcher != nil {
		return s.Watcher.Close()
	}
	return nil
}
