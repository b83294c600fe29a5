package tools

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/generative-ai-go/genai"
	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/spf13/afero"
)

const maxGlobMatches = 500

func cleanPath(p string) string {
	if p == "" {
		return "."
	}
	return filepath.Clean(p)
}

type listDirectory struct{}

func (listDirectory) Name() string { return "list_directory" }

func (listDirectory) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        "list_directory",
		Description: "Lists the entries of a directory in the workspace. Directories end with '/'.",
		Parameters: objectSchema(nil, map[string]*genai.Schema{
			"path": stringProp("Directory path relative to the workspace root. Defaults to the root."),
		}),
	}
}

func (listDirectory) Run(ctx context.Context, env *Env, args map[string]any) (Output, error) {
	path, err := stringArg(args, "path", false)
	if err != nil {
		return Output{}, err
	}
	entries, err := afero.ReadDir(env.FS, cleanPath(path))
	if err != nil {
		return Output{}, fmt.Errorf("failed to list %s: %w", cleanPath(path), err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)

	if len(names) == 0 {
		return Output{Content: "(empty directory)", Display: "0 entries"}, nil
	}
	return Output{
		Content: strings.Join(names, "\n"),
		Display: fmt.Sprintf("%d entries", len(names)),
	}, nil
}

type readFile struct{}

func (readFile) Name() string { return "read_file" }

func (readFile) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        "read_file",
		Description: "Reads a text file from the workspace. Use offset and limit to page through long files.",
		Parameters: objectSchema([]string{"path"}, map[string]*genai.Schema{
			"path":   stringProp("File path relative to the workspace root."),
			"offset": {Type: genai.TypeInteger, Description: "First line to read, 0-based."},
			"limit":  {Type: genai.TypeInteger, Description: "Maximum number of lines to read."},
		}),
	}
}

func (readFile) Run(ctx context.Context, env *Env, args map[string]any) (Output, error) {
	path, err := stringArg(args, "path", true)
	if err != nil {
		return Output{}, err
	}
	offset, err := intArg(args, "offset", 0)
	if err != nil {
		return Output{}, err
	}
	limit, err := intArg(args, "limit", 0)
	if err != nil {
		return Output{}, err
	}

	f, err := env.FS.Open(cleanPath(path))
	if err != nil {
		return Output{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	mtype, err := mimetype.DetectReader(f)
	if err != nil {
		return Output{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if !isText(mtype) {
		return Output{
			Content: fmt.Sprintf("%s is a binary file (%s)", path, mtype.String()),
			Display: "binary file",
		}, nil
	}
	if _, err := f.Seek(0, 0); err != nil {
		return Output{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var (
		b       strings.Builder
		line    int
		read    int
		budget  = env.Limits.MaxReadBytes
		cut     bool
		scanner = bufio.NewScanner(f)
	)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line < offset {
			line++
			continue
		}
		if limit > 0 && read >= limit {
			cut = true
			break
		}
		text := scanner.Text()
		if budget > 0 && int64(b.Len()+len(text)+1) > budget {
			cut = true
			break
		}
		b.WriteString(text)
		b.WriteByte('\n')
		line++
		read++
	}
	if err := scanner.Err(); err != nil {
		return Output{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	content := b.String()
	if cut {
		content += fmt.Sprintf("[truncated: continue with offset %d]\n", offset+read)
	}
	return Output{Content: content, Display: fmt.Sprintf("read %d lines", read)}, nil
}

func isText(m *mimetype.MIME) bool {
	for ; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

type writeFile struct{}

func (writeFile) Name() string { return "write_file" }

func (writeFile) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        "write_file",
		Description: "Writes content to a file in the workspace, creating parent directories and replacing any existing content.",
		Parameters: objectSchema([]string{"path", "content"}, map[string]*genai.Schema{
			"path":    stringProp("File path relative to the workspace root."),
			"content": stringProp("The full new content of the file."),
		}),
	}
}

func (writeFile) Run(ctx context.Context, env *Env, args map[string]any) (Output, error) {
	path, err := stringArg(args, "path", true)
	if err != nil {
		return Output{}, err
	}
	content, err := stringArg(args, "content", false)
	if err != nil {
		return Output{}, err
	}
	path = cleanPath(path)

	var previous string
	old, err := afero.ReadFile(env.FS, path)
	switch {
	case err == nil:
		previous = string(old)
	case !errors.Is(err, os.ErrNotExist):
		return Output{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := env.FS.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Output{}, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := afero.WriteFile(env.FS, path, []byte(content), 0o644); err != nil {
		return Output{}, fmt.Errorf("failed to write %s: %w", path, err)
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(previous, content, false)
	patch := dmp.PatchToText(dmp.PatchMake(previous, diffs))

	verb := "updated"
	if previous == "" && old == nil {
		verb = "created"
	}
	return Output{
		Content: fmt.Sprintf("%s %s (%d bytes)", verb, path, len(content)),
		Display: patch,
	}, nil
}

type globTool struct{}

func (globTool) Name() string { return "glob" }

func (globTool) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        "glob",
		Description: "Finds workspace files matching a glob pattern such as '**/*.go'.",
		Parameters: objectSchema([]string{"pattern"}, map[string]*genai.Schema{
			"pattern": stringProp("Glob pattern relative to the workspace root; supports '**'."),
		}),
	}
}

func (globTool) Run(ctx context.Context, env *Env, args map[string]any) (Output, error) {
	pattern, err := stringArg(args, "pattern", true)
	if err != nil {
		return Output{}, err
	}
	pattern = strings.TrimPrefix(filepath.ToSlash(pattern), "/")
	if !doublestar.ValidatePattern(pattern) {
		return Output{}, fmt.Errorf("invalid glob pattern %q", pattern)
	}

	matches, err := doublestar.Glob(afero.NewIOFS(env.FS), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return Output{}, fmt.Errorf("glob failed: %w", err)
	}
	sort.Strings(matches)

	display := fmt.Sprintf("%d matches", len(matches))
	if len(matches) == 0 {
		return Output{Content: "no files matched", Display: display}, nil
	}
	if len(matches) > maxGlobMatches {
		matches = append(matches[:maxGlobMatches], fmt.Sprintf("... %d more", len(matches)-maxGlobMatches))
	}
	return Output{Content: strings.Join(matches, "\n"), Display: display}, nil
}
