package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

var ErrEmptyTargetsFile = errors.New("no targets found in file")

// ReadTargetsFile reads journal slugs from a file, one per line. Blank lines
// and lines starting with # are skipped.
func ReadTargetsFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open targets file: %w", err)
	}
	defer file.Close()

	var targets []string
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Tolerate comma separated lists pasted from elsewhere
		for _, part := range strings.Split(line, ",") {
			if part = strings.TrimSpace(part); part != "" {
				targets = append(targets, part)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading targets file at line %d: %w", lineNum, err)
	}

	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyTargetsFile, path)
	}

	return targets, nil
}
