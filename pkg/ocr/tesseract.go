package ocr

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Tesseract runs the tesseract command line tool. The image is piped on
// stdin and the text read from stdout, so nothing touches the disk.
type Tesseract struct {
	path  string
	langs string
}

// NewTesseractFactory returns a Factory for the tesseract engine. binary is
// the executable name or path, "tesseract" when empty.
func NewTesseractFactory(binary string) Factory {
	return func(ctx context.Context) (Engine, error) {
		return NewTesseract(ctx, binary)
	}
}

// NewTesseract locates the binary and checks that every language in
// Languages has its traineddata installed.
func NewTesseract(ctx context.Context, binary string) (*Tesseract, error) {
	if binary == "" {
		binary = "tesseract"
	}

	path, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("tesseract binary not found: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, "--list-langs")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("tesseract --list-langs failed: %v, stderr: %s", err, stderr.String())
	}

	// Older releases print the list on stderr.
	installed := parseLangs(stdout.String() + "\n" + stderr.String())
	for _, lang := range Languages {
		if !installed[lang] {
			return nil, fmt.Errorf("tesseract language %q is not installed", lang)
		}
	}

	return &Tesseract{
		path:  path,
		langs: strings.Join(Languages, "+"),
	}, nil
}

func (t *Tesseract) Name() string { return "tesseract" }

func (t *Tesseract) Recognize(ctx context.Context, image []byte) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, t.path, "stdin", "stdout", "-l", t.langs)
	cmd.Stdin = bytes.NewReader(image)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tesseract failed: %v, stderr: %s", err, strings.TrimSpace(stderr.String()))
	}

	return stdout.String(), nil
}

// Close is a no-op, every Recognize call runs its own process.
func (t *Tesseract) Close() error { return nil }

func parseLangs(out string) map[string]bool {
	langs := make(map[string]bool)
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "List of available languages") {
			continue
		}
		langs[line] = true
	}
	return langs
}
