// Package gitignore keeps index data directories out of version control.
// Every persisted directory gets a ".gitignore" containing "*", and each
// ancestor up to the project root gets an entry for the child directory it
// contains on the path down to the data directory.
package gitignore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const ignoreAll = "*\n"

// Ensure maintains .gitignore coverage for dataDir. dataDir must live under
// projectRoot; both are cleaned before use. The call is idempotent.
func Ensure(projectRoot, dataDir string) error {
	root, err := filepath.Abs(projectRoot)
	if err != nil {
		return fmt.Errorf("resolve project root: %w", err)
	}
	dir, err := filepath.Abs(dataDir)
	if err != nil {
		return fmt.Errorf("resolve data dir: %w", err)
	}

	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("data dir %s is not under project root %s", dir, root)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// The data directory itself ignores everything.
	if err := writeIfChanged(filepath.Join(dir, ".gitignore"), ignoreAll); err != nil {
		return err
	}

	// Walk ancestors up to (and including) the project root, adding an
	// entry for the next path segment down.
	child := dir
	for {
		parent := filepath.Dir(child)
		entry := filepath.Base(child) + "/"
		if err := appendEntry(filepath.Join(parent, ".gitignore"), entry); err != nil {
			return err
		}
		if parent == root {
			return nil
		}
		child = parent
	}
}

// HasEntry reports whether the .gitignore at path already lists entry.
func HasEntry(path, entry string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("open gitignore: %w", err)
	}
	defer func() { _ = f.Close() }()

	want := strings.TrimSuffix(entry, "/")
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "*" || line == entry || strings.TrimSuffix(line, "/") == want {
			return true, nil
		}
	}
	return false, scanner.Err()
}

func appendEntry(path, entry string) error {
	ok, err := HasEntry(path, entry)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open gitignore for append: %w", err)
	}
	if _, err := f.WriteString(entry + "\n"); err != nil {
		_ = f.Close()
		return fmt.Errorf("append gitignore entry: %w", err)
	}
	return f.Close()
}

func writeIfChanged(path, content string) error {
	if existing, err := os.ReadFile(path); err == nil && string(existing) == content {
		return nil
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write gitignore: %w", err)
	}
	return nil
}
