// Package puzzle is the puzzle content collaborator: a catalog of multiple
// choice puzzles loaded from a YAML file, looked up by ref.
package puzzle

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

var ErrNotFound = errors.New("puzzle: not found")

// Puzzle is one multiple-choice question.
type Puzzle struct {
	ID          string   `yaml:"id" json:"id"`
	Prompt      string   `yaml:"prompt" json:"prompt"`
	Options     []string `yaml:"options" json:"options"`
	AnswerIndex int      `yaml:"answerIndex" json:"answerIndex"`
}

// Catalog is an in-memory puzzle set.
type Catalog struct {
	mu   sync.Mutex
	byID map[string]Puzzle
	ids  []string
	rng  *rand.Rand
}

// New builds a catalog from a fixed set of puzzles.
func New(puzzles []Puzzle) (*Catalog, error) {
	if len(puzzles) == 0 {
		return nil, errors.New("empty puzzle catalog")
	}
	c := &Catalog{
		byID: make(map[string]Puzzle, len(puzzles)),
		rng:  rand.New(rand.NewSource(rand.Int63())),
	}
	for _, p := range puzzles {
		if p.ID == "" {
			return nil, errors.New("puzzle with empty id")
		}
		if p.AnswerIndex < 0 || p.AnswerIndex >= len(p.Options) {
			return nil, fmt.Errorf("puzzle %s: answer index %d out of range", p.ID, p.AnswerIndex)
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate puzzle id %s", p.ID)
		}
		c.byID[p.ID] = p
		c.ids = append(c.ids, p.ID)
	}
	return c, nil
}

// Load reads a YAML catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read puzzle catalog: %w", err)
	}
	var doc struct {
		Puzzles []Puzzle `yaml:"puzzles"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse puzzle catalog: %w", err)
	}
	return New(doc.Puzzles)
}

// Lookup returns the puzzle for a ref.
func (c *Catalog) Lookup(ref string) (Puzzle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.byID[ref]
	if !ok {
		return Puzzle{}, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return p, nil
}

// PickPuzzle selects a random puzzle ref for a new invitation.
func (c *Catalog) PickPuzzle() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ids[c.rng.Intn(len(c.ids))], nil
}

// Grade reports whether selectedIndex is the right answer for the puzzle.
// Out-of-range indexes (including the -1 timeout auto-submit) are simply
// wrong, never an error.
func (c *Catalog) Grade(ref string, selectedIndex int) (bool, error) {
	p, err := c.Lookup(ref)
	if err != nil {
		return false, err
	}
	if selectedIndex < 0 || selectedIndex >= len(p.Options) {
		return false, nil
	}
	return selectedIndex == p.AnswerIndex, nil
}
