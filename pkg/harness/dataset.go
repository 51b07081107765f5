package harness

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// maxLineBytes bounds a single JSONL record. Results carry full chunk
// text when stored with store-full-text, so lines can run long.
const maxLineBytes = 16 * 1024 * 1024

// LoadEvalSet reads the ground-truth test cases from a JSONL file, one
// object per line. Malformed lines and records missing an id or question
// are skipped with a warning; a partial eval set is still usable.
func LoadEvalSet(path string) ([]*TestCase, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open eval set: %w", err)
	}
	defer f.Close()

	var cases []*TestCase
	seen := make(map[string]bool)

	lineNum := 0
	scanner := newLineScanner(f)
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 || isBlank(line) {
			continue
		}

		var tc TestCase
		if err := json.Unmarshal(line, &tc); err != nil {
			slog.Warn("skipping malformed eval set line", "path", path, "line", lineNum, "error", err)
			continue
		}
		if tc.ID == "" || tc.Question == "" {
			slog.Warn("skipping eval set record missing id or question", "path", path, "line", lineNum)
			continue
		}
		if seen[tc.ID] {
			slog.Warn("duplicate test case id, keeping first occurrence", "id", tc.ID, "line", lineNum)
			continue
		}
		seen[tc.ID] = true
		cases = append(cases, &tc)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read eval set: %w", err)
	}

	return cases, nil
}

// IndexTestCases maps test cases by id for result lookup.
func IndexTestCases(cases []*TestCase) map[string]*TestCase {
	byID := make(map[string]*TestCase, len(cases))
	for _, tc := range cases {
		byID[tc.ID] = tc
	}
	return byID
}

// HashEvalSet returns the hex sha256 of the eval set file's content. Used
// as the dataset version pinned into run configs so two runs can be
// checked for ground-truth drift without the file itself.
func HashEvalSet(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open eval set: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash eval set: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func newLineScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return scanner
}

func isBlank(line []byte) bool {
	for _, b := range line {
		if b != ' ' && b != '\t' && b != '\r' {
			return false
		}
	}
	return true
}
