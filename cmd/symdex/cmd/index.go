package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/symdex/symdex/internal/engine"
	"github.com/symdex/symdex/internal/ui"
)

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index <elements.jsonl>",
		Short: "Index pre-extracted elements",
		Long: `Index elements from a JSONL file produced by a structure extractor.
Each line is one element: id, signature, kind, file_path, content,
metadata, and relationship arrays (super_class, implements, calls,
overrides, accesses_fields).

Elements are grouped by file_path and indexed in batches; files whose
modification time is unchanged since their last indexing are skipped.
Use "-" to read from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd.Context(), args[0])
		},
	}
	return cmd
}

func runIndex(ctx context.Context, source string) error {
	elements, err := readElements(source)
	if err != nil {
		return err
	}
	if len(elements) == 0 {
		return fmt.Errorf("no elements found in %s", source)
	}

	eng, _, err := openEngine()
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	byFile := groupByFile(elements)
	files := make([]string, 0, len(byFile))
	for path := range byFile {
		files = append(files, path)
	}
	sort.Strings(files)

	extract := func(_ context.Context, path string) ([]engine.ElementInput, error) {
		return byFile[path], nil
	}

	result, err := eng.IndexFiles(ctx, files, extract)
	if err != nil {
		return err
	}

	p := ui.NewPrinter(os.Stdout)
	p.Title("Indexing complete")
	p.KeyValue("files processed", fmt.Sprint(result.FilesProcessed))
	p.KeyValue("files skipped", fmt.Sprint(result.FilesSkipped))
	p.KeyValue("elements indexed", fmt.Sprint(result.SignaturesIndexed))
	p.KeyValue("failed files", fmt.Sprint(result.FailedFiles))
	p.KeyValue("batches", fmt.Sprint(result.Batches))
	p.KeyValue("duration", result.Duration.String())
	return nil
}

func readElements(source string) ([]engine.ElementInput, error) {
	var r io.Reader
	if source == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(source)
		if err != nil {
			return nil, fmt.Errorf("open elements file: %w", err)
		}
		defer func() { _ = f.Close() }()
		r = f
	}

	var elements []engine.ElementInput
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var el engine.ElementInput
		if err := json.Unmarshal(raw, &el); err != nil {
			return nil, fmt.Errorf("parse element at line %d: %w", line, err)
		}
		elements = append(elements, el)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read elements: %w", err)
	}
	return elements, nil
}

func groupByFile(elements []engine.ElementInput) map[string][]engine.ElementInput {
	byFile := make(map[string][]engine.ElementInput)
	for _, el := range elements {
		path := el.FilePath
		if path == "" {
			path = "(unknown)"
		}
		byFile[path] = append(byFile[path], el)
	}
	return byFile
}
