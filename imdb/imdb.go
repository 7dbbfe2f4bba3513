// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package imdb downloads and prepares datasets with the IMDB corpus of 50k movie reviews,
// labeled as positive or negative.
//
// Call Download to materialize the vocabulary and the parsed examples, and then create
// train.Dataset objects with NewDataset to feed a training loop. See the sentiment package
// at the repository root for model training built on top of it.
package imdb

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/pkg/errors"
)

const (
	DownloadURL  = "https://ai.stanford.edu/~amaas/data/sentiment/aclImdb_v1.tar.gz"
	LocalTarFile = "aclImdb_v1.tar.gz"
	TarHash      = "c40f74a18d3b61f90feba1e17730e0d38e8b97c05fde7008942e91923d1658fe"
	LocalDir     = "aclImdb"
	BinaryFile   = "aclImdb.bin"
)

var (
	// IncludeSeparators indicates whether when parsing files it should create tokens out of the
	// separators (commas, dots, etc).
	IncludeSeparators = false

	// CaseSensitive indicates whether token collection should be case-sensitive.
	CaseSensitive = false

	// LoadedVocab is materialized after calling Download.
	LoadedVocab *Vocab

	// LoadedExamples is materialized after calling Download. It is based on LoadedVocab.
	LoadedExamples []*Example

	// reWords captures what are considered tokens.
	reWords = regexp.MustCompile("[[:word:]]+")
)

// Download the IMDB reviews dataset to baseDir, un-tar it, parse all individual files and
// save the binary file version.
//
// The vocabulary and examples loaded are set to LoadedVocab and LoadedExamples.
//
// If it was already downloaded, it simply loads the binary file version.
func Download(baseDir string) error {
	baseDir = fsutil.MustReplaceTildeInDir(baseDir)
	loaded, err := loadBinary(baseDir)
	if err != nil {
		return err
	}
	if loaded {
		fmt.Printf("Loaded data from %q: %d examples, %d unique tokens, %d tokens in total.\n",
			BinaryFile, len(LoadedExamples), len(LoadedVocab.ListEntries), LoadedVocab.TotalCount)
		return nil
	}

	if err := downloadAndUntarIfMissing(DownloadURL, baseDir, LocalTarFile, LocalDir, TarHash); err != nil {
		return errors.Wrapf(err, "imdb.Download failed")
	}
	LoadedVocab, LoadedExamples, err = LoadIndividualFiles(baseDir)
	if err != nil {
		return err
	}
	return saveBinary(baseDir)
}

func loadBinary(baseDir string) (loaded bool, err error) {
	f, err := os.Open(path.Join(baseDir, BinaryFile))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "failed loadBinary(%q) while opening file", BinaryFile)
	}
	defer func() {
		_ = f.Close()
	}()

	// Check that the configuration matches.
	dec := gob.NewDecoder(f)
	var loadedIncludeSeparators, loadedCaseSensitive bool
	if err := dec.Decode(&loadedIncludeSeparators); err != nil {
		return false, errors.Wrapf(err, "failed loadBinary(%q) while reading", BinaryFile)
	}
	if err := dec.Decode(&loadedCaseSensitive); err != nil {
		return false, errors.Wrapf(err, "failed loadBinary(%q) while reading", BinaryFile)
	}
	if (loadedIncludeSeparators != IncludeSeparators) || (loadedCaseSensitive != CaseSensitive) {
		// Configuration is different from the one saved on BinaryFile, consider it not loaded,
		// to force regeneration.
		return false, nil
	}

	fmt.Println("> Loading previously generated preprocessed binary file.")
	if err := dec.Decode(&LoadedVocab); err != nil {
		return false, errors.Wrapf(err, "failed loadBinary(%q) while reading", BinaryFile)
	}
	if err := dec.Decode(&LoadedExamples); err != nil {
		return false, errors.Wrapf(err, "failed loadBinary(%q) while reading", BinaryFile)
	}
	return true, nil
}

func saveBinary(baseDir string) error {
	fmt.Println("> Saving preprocessed binary file.")
	f, err := os.Create(path.Join(baseDir, BinaryFile))
	if err != nil {
		return errors.Wrapf(err, "failed to saveBinary(%q)", BinaryFile)
	}
	closed := false
	defer func() {
		if !closed {
			_ = f.Close()
		}
	}()

	// Save configuration first, then vocabulary and examples.
	enc := gob.NewEncoder(f)
	for _, value := range []any{IncludeSeparators, CaseSensitive, LoadedVocab, LoadedExamples} {
		if err := enc.Encode(value); err != nil {
			return errors.Wrapf(err, "failed saveBinary(%q) while writing", BinaryFile)
		}
	}

	// Report back result of close.
	err = f.Close()
	closed = true
	return err
}

// VocabEntry includes the Token and its count in the corpus.
type VocabEntry struct {
	Token string
	Count int
}

// Vocab stores vocabulary information for the whole corpus.
//
// Token id 0 is reserved for "<INVALID>" (used as padding) and token id 1 for "<START>".
type Vocab struct {
	ListEntries []VocabEntry
	MapTokens   map[string]int
	TotalCount  int
}

// NewVocab creates a new vocabulary, with the first token set to "<INVALID>", a placeholder
// for padding, and the second token set to "<START>" to indicate start of sentence.
func NewVocab() *Vocab {
	v := &Vocab{
		MapTokens:   make(map[string]int),
		ListEntries: []VocabEntry{{"<INVALID>", 0}, {"<START>", 1}},
	}
	for ii, entry := range v.ListEntries {
		v.MapTokens[entry.Token] = ii
	}
	return v
}

// RegisterToken returns the index for the token, and increments the count for the token.
func (v *Vocab) RegisterToken(token string) (idx int) {
	v.TotalCount++
	var found bool
	idx, found = v.MapTokens[token]
	if !found {
		idx = len(v.ListEntries)
		v.MapTokens[token] = idx
		v.ListEntries = append(v.ListEntries, VocabEntry{token, 1})
	} else {
		v.ListEntries[idx].Count++
	}
	return idx
}

// SortByFrequency sorts the vocabulary entries by their frequency, and returns a map to
// convert the token ids from before the sorting to their new values.
//
// After sorting, clipping token ids at some maximum vocabulary size keeps the most frequent
// tokens. Special tokens "<INVALID>" and "<START>" remain unchanged.
func (v *Vocab) SortByFrequency() (oldIDtoNewID map[int]int) {
	subSlice := v.ListEntries[2:] // "<INVALID>" and "<START>" remain unchanged.
	sort.Slice(subSlice, func(i, j int) bool {
		return subSlice[i].Count > subSlice[j].Count
	})

	// Create new map of tokens to their ids.
	newMapTokens := make(map[string]int, len(v.MapTokens))
	for ii, entry := range v.ListEntries {
		newMapTokens[entry.Token] = ii
	}

	// Create conversion map.
	oldIDtoNewID = make(map[int]int, len(v.MapTokens))
	for token, oldID := range v.MapTokens {
		oldIDtoNewID[oldID] = newMapTokens[token]
	}
	v.MapTokens = newMapTokens
	return
}

// SetType refers to the split an example belongs to.
type SetType int

const (
	// TypeTrain tags the examples of the training split not carved out for validation.
	TypeTrain SetType = iota

	// TypeValidation tags the fraction of the training split reserved for early stopping.
	TypeValidation

	// TypeTest tags the examples of the held-out test split.
	TypeTest
)

// String implements fmt.Stringer.
func (s SetType) String() string {
	switch s {
	case TypeTrain:
		return "train"
	case TypeValidation:
		return "validation"
	case TypeTest:
		return "test"
	}
	return fmt.Sprintf("SetType(%d)", int(s))
}

// Example encapsulates all the information of one review in the IMDB 50k dataset:
//
//   - Set says to which split the example belongs.
//   - Label is 0 for negative and 1 for positive reviews.
//   - Length is the length (in # of tokens) of the content.
//   - Content are the token ids of the review, according to the corpus vocabulary.
type Example struct {
	Set     SetType
	Label   int
	Length  int
	Content []int
}

// NewExample parses an IMDB content file, tokenizes it using the given Vocab and returns the
// parsed example.
//
// It doesn't fill the Set and Label attributes.
func NewExample(contents []byte, vocab *Vocab) *Example {
	e := &Example{}
	// Remove line breaks <br />.
	contents = bytes.Replace(contents, []byte("<br />"), []byte(" "), -1)
	partsIndices := reWords.FindAllIndex(contents, -1)
	appendTokenFn := func(token string) {
		id := vocab.RegisterToken(token)
		e.Content = append(e.Content, id)
	}
	last := 0
	for idx := range partsIndices {
		start, end := partsIndices[idx][0], partsIndices[idx][1]
		if IncludeSeparators && start > last {
			// Get separator token, between last word.
			sep := string(contents[last:start])
			if sep != " " {
				appendTokenFn(sep)
			}
		}
		token := string(contents[start:end])
		if !CaseSensitive {
			token = strings.ToLower(token)
		}
		appendTokenFn(token)
		last = end
	}
	e.Length = len(e.Content)
	return e
}

// String renders the example content back to tokens, using the given vocabulary.
func (e *Example) String(vocab *Vocab) string {
	parts := make([]string, 0, len(e.Content))
	for _, tokenID := range e.Content {
		parts = append(parts, vocab.ListEntries[tokenID].Token)
	}
	return "[" + strings.Join(parts, "] [") + "]"
}

// LoadIndividualFiles parses the individual review files of the un-tar'ed corpus under
// baseDir, building the vocabulary on the fly.
//
// A fraction of the training examples (see ValidationFraction) is carved out as the
// validation split. Token ids are re-mapped so that they are sorted by frequency -- token
// id 2 is the most common token in the corpus.
func LoadIndividualFiles(baseDir string) (vocab *Vocab, examples []*Example, err error) {
	vocab = NewVocab()
	for setIdx, setDir := range []string{"train", "test"} {
		set := SetType(2 * setIdx) // TypeTrain or TypeTest.
		for label, labelDir := range []string{"neg", "pos"} {
			dir := path.Join(baseDir, LocalDir, setDir, labelDir)
			var files []os.DirEntry
			files, err = os.ReadDir(dir)
			if err != nil {
				err = errors.Wrapf(err, "failed to read examples from %s", dir)
				return
			}
			for _, f := range files {
				if f.IsDir() || !strings.HasSuffix(f.Name(), ".txt") {
					continue
				}
				var contents []byte
				contents, err = os.ReadFile(path.Join(dir, f.Name()))
				if err != nil {
					err = errors.Wrapf(err, "failed to read example %s from %s", f.Name(), dir)
					return
				}
				e := NewExample(contents, vocab)
				e.Set = set
				e.Label = label
				examples = append(examples, e)
			}
		}
	}
	splitValidation(examples)

	// Sort token ids by their frequencies.
	oldIDToNewID := vocab.SortByFrequency()
	for _, e := range examples {
		for ii, oldID := range e.Content {
			e.Content[ii] = oldIDToNewID[oldID]
		}
	}
	return
}

// ValidationFraction is the fraction of the training examples carved out as the validation
// split by Download. It must be set before calling Download to have an effect.
var ValidationFraction = 0.05

// splitValidation re-tags every "stride"-th training example as TypeValidation, where stride
// is derived from ValidationFraction. Using a fixed stride (instead of sampling) makes the
// split deterministic across runs, so models resumed from a checkpoint never see their
// validation examples during training.
func splitValidation(examples []*Example) {
	if ValidationFraction <= 0 {
		return
	}
	stride := int(1.0/ValidationFraction + 0.5)
	if stride < 2 {
		stride = 2
	}
	countTrain := 0
	for _, e := range examples {
		if e.Set != TypeTrain {
			continue
		}
		if countTrain%stride == 0 {
			e.Set = TypeValidation
		}
		countTrain++
	}
}
