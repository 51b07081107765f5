// Package label implements the interactive ground-truth labeling
// workflow: fetch candidate chunks for a question, let a human mark the
// ones that support the answer, and write anchor-based gold supports back
// to the eval set.
package label

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/google/uuid"

	"github.com/blib/vaulteval/pkg/harness"
)

// labelK retrieves more candidates than a scoring run would, so the
// labeler sees supports the ranker puts past the usual cutoff.
const labelK = 20

// snippetMaxLen caps an auto-extracted snippet.
const snippetMaxLen = 100

// ErrQuit is returned when the labeler quits mid-session; cases labeled
// before quitting are already saved.
var ErrQuit = fmt.Errorf("labeling session ended")

// Labeler drives an interactive labeling session on a terminal.
type Labeler struct {
	client *harness.Client
	rl     *readline.Instance
}

// New opens a labeler against the QA service.
func New(client *harness.Client) (*Labeler, error) {
	rl, err := readline.New("> ")
	if err != nil {
		return nil, fmt.Errorf("open terminal: %w", err)
	}
	return &Labeler{client: client, rl: rl}, nil
}

func (l *Labeler) Close() error { return l.rl.Close() }

// Run labels every test case in the eval set in order, saving after each
// case so a quit or crash loses nothing. Already-labeled cases are
// skipped unless relabel is set or the operator asks to re-label.
func (l *Labeler) Run(ctx context.Context, evalSetPath string, relabel bool) error {
	cases, err := harness.LoadEvalSet(evalSetPath)
	if err != nil {
		return err
	}
	if len(cases) == 0 {
		return fmt.Errorf("eval set %s contains no test cases", evalSetPath)
	}

	for _, tc := range cases {
		err := l.labelCase(ctx, tc, relabel)
		if err == ErrQuit {
			return saveEvalSet(evalSetPath, cases)
		}
		if err != nil {
			return err
		}
		if err := saveEvalSet(evalSetPath, cases); err != nil {
			return err
		}
	}

	fmt.Println("\nAll test cases labeled.")
	return nil
}

// AddCase appends a fresh test case for a question and immediately labels
// it. The id is generated; hand-picking ids invites collisions across
// labeling sessions.
func (l *Labeler) AddCase(ctx context.Context, evalSetPath, question string, vaults, folders []string) error {
	var cases []*harness.TestCase
	if _, err := os.Stat(evalSetPath); err == nil {
		cases, err = harness.LoadEvalSet(evalSetPath)
		if err != nil {
			return err
		}
	}

	tc := &harness.TestCase{
		ID:       "tc_" + uuid.NewString(),
		Question: question,
		Vaults:   vaults,
		Folders:  folders,
	}
	cases = append(cases, tc)

	if err := l.labelCase(ctx, tc, true); err != nil && err != ErrQuit {
		return err
	}
	return saveEvalSet(evalSetPath, cases)
}

func (l *Labeler) labelCase(ctx context.Context, tc *harness.TestCase, relabel bool) error {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Printf("TEST CASE: %s\n", tc.ID)
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Question: %s\n", tc.Question)

	if len(tc.GoldSupports) > 0 && !relabel {
		fmt.Println("\nAlready labeled. Current gold supports:")
		for i, support := range tc.GoldSupports {
			fmt.Printf("  %d. %s\n     Heading: %s\n", i+1, support.RelPath, support.HeadingPath)
		}
		if !l.confirm("Re-label?") {
			return nil
		}
	}

	fmt.Println("\nFetching candidate chunks...")
	resp, err := l.client.Ask(ctx, &harness.AskRequest{
		Question: tc.Question,
		Vaults:   tc.Vaults,
		Folders:  tc.Folders,
		K:        labelK,
	})
	if err != nil {
		fmt.Printf("API call failed: %v\n", err)
		if !l.confirm("Continue anyway?") {
			return nil
		}
		resp = &harness.AskResponse{}
	}

	var chunks []harness.RetrievedChunk
	if resp.Debug != nil {
		chunks = resp.Debug.RetrievedChunks
		if fs := resp.Debug.FolderSelection; fs != nil && len(fs.SelectedFolders) > 0 {
			fmt.Printf("\nFolder selection searched %d folder(s)\n", len(fs.SelectedFolders))
		}
	}

	if len(chunks) == 0 {
		fmt.Println("\nNo chunks retrieved. This question may be unanswerable.")
		tc.GoldSupports = []harness.GoldSupport{}
		answerable := !l.confirm("Mark as unanswerable?")
		tc.Answerable = &answerable
		return nil
	}

	selected, err := l.selectChunks(chunks)
	if err != nil {
		return err
	}

	if len(selected) > 0 {
		tc.GoldSupports = buildGoldSupports(chunks, selected)
		answerable := true
		tc.Answerable = &answerable
		fmt.Printf("\nCreated %d gold support(s)\n", len(tc.GoldSupports))
	} else {
		fmt.Println("\nNo chunks selected.")
		tc.GoldSupports = []harness.GoldSupport{}
		answerable := !l.confirm("Mark as unanswerable?")
		tc.Answerable = &answerable
	}
	return nil
}

// selectChunks runs the toggle loop. Returns ErrQuit when the operator
// quits.
func (l *Labeler) selectChunks(chunks []harness.RetrievedChunk) (map[int]bool, error) {
	selected := map[int]bool{}

	for {
		displayChunks(chunks, selected)
		fmt.Println("\nCommands: <number> toggle, all, none, done, quit")

		line, err := l.rl.Readline()
		if err != nil {
			return nil, ErrQuit
		}

		switch cmd := strings.ToLower(strings.TrimSpace(line)); cmd {
		case "done":
			return selected, nil
		case "quit":
			return nil, ErrQuit
		case "all":
			for i := range chunks {
				selected[i] = true
			}
		case "none":
			selected = map[int]bool{}
		default:
			n, err := strconv.Atoi(cmd)
			if err != nil || n < 1 || n > len(chunks) {
				fmt.Printf("Enter a chunk number 1-%d, or all/none/done/quit\n", len(chunks))
				continue
			}
			if selected[n-1] {
				delete(selected, n-1)
			} else {
				selected[n-1] = true
			}
		}
	}
}

func (l *Labeler) confirm(prompt string) bool {
	l.rl.SetPrompt(prompt + " (y/n): ")
	defer l.rl.SetPrompt("> ")
	line, err := l.rl.Readline()
	if err != nil {
		return false
	}
	return strings.ToLower(strings.TrimSpace(line)) == "y"
}

func displayChunks(chunks []harness.RetrievedChunk, selected map[int]bool) {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("RETRIEVED CHUNKS")
	fmt.Println(strings.Repeat("=", 80))
	for i, chunk := range chunks {
		mark := " "
		if selected[i] {
			mark = "x"
		}
		text := chunk.Text
		if len(text) > 200 {
			text = text[:200] + "..."
		}
		fmt.Printf("\n[%s] %d. Rank %d | Score: %.3f\n", mark, i+1, chunk.Rank, chunk.ScoreFinal)
		fmt.Printf("   File: %s\n   Heading: %s\n   Text: %s\n", chunk.RelPath, chunk.HeadingPath, text)
		fmt.Println(strings.Repeat("-", 80))
	}
}

// buildGoldSupports converts selected chunks to anchors, deduplicated by
// (rel_path, normalized heading). The first sentence of each chunk is
// kept as a snippet so later re-chunks still gate on content.
func buildGoldSupports(chunks []harness.RetrievedChunk, selected map[int]bool) []harness.GoldSupport {
	indices := make([]int, 0, len(selected))
	for i := range selected {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	seen := map[string]bool{}
	var supports []harness.GoldSupport
	for _, i := range indices {
		chunk := chunks[i]
		heading := harness.NormalizeHeadingPath(chunk.HeadingPath)
		key := chunk.RelPath + "\x00" + heading
		if seen[key] {
			continue
		}
		seen[key] = true

		support := harness.GoldSupport{RelPath: chunk.RelPath, HeadingPath: heading}
		if snippet := extractSnippet(chunk.Text); snippet != "" {
			support.Snippets = []string{snippet}
		}
		supports = append(supports, support)
	}
	return supports
}

func extractSnippet(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if i := strings.Index(text, ". "); i > 0 {
		text = text[:i]
	}
	if len(text) > snippetMaxLen {
		text = text[:snippetMaxLen] + "..."
	}
	return strings.TrimSpace(text)
}

func saveEvalSet(path string, cases []*harness.TestCase) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "eval_set-*.jsonl.tmp")
	if err != nil {
		return fmt.Errorf("create temp eval set: %w", err)
	}
	defer os.Remove(tmp.Name())

	for _, tc := range cases {
		line, err := json.Marshal(tc)
		if err != nil {
			tmp.Close()
			return fmt.Errorf("marshal test case %s: %w", tc.ID, err)
		}
		if _, err := tmp.Write(append(line, '\n')); err != nil {
			tmp.Close()
			return fmt.Errorf("write eval set: %w", err)
		}
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp eval set: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace eval set: %w", err)
	}
	return nil
}
