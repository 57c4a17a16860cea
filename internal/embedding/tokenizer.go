package embedding

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/hyperjump/shashin/pkg/utils"
)

const (
	startOfText = "<|startoftext|>"
	endOfText   = "<|endoftext|>"

	// VocabFile and MergesFile are the tokenizer resources looked up in the tokenizer directory.
	VocabFile  = "vocab.json"
	MergesFile = "merges.txt"

	endOfWord = "</w>"
)

// ErrTokenizerUnavailable is returned when no tokenizer could be loaded locally or fetched.
var ErrTokenizerUnavailable = errors.New("tokenizer unavailable")

var clipPattern = regexp.MustCompile(`<\|startoftext\|>|<\|endoftext\|>|'s|'t|'re|'ve|'m|'ll|'d|[\p{L}]+|[\p{N}]|[^\s\p{L}\p{N}]+`)

// Tokenizer is the CLIP byte-level BPE tokenizer.
type Tokenizer struct {
	encoder     map[string]int64
	ranks       map[[2]string]int
	byteEncoder [256]string
	sot, eot    int64

	mu    sync.Mutex
	cache map[string][]string
}

// NewTokenizer builds a tokenizer from a vocabulary and ranked merge list (lowest index merges first).
func NewTokenizer(vocab map[string]int64, merges [][2]string) (*Tokenizer, error) {
	sot, ok := vocab[startOfText]
	if !ok {
		return nil, fmt.Errorf("vocabulary has no %s token", startOfText)
	}
	eot, ok := vocab[endOfText]
	if !ok {
		return nil, fmt.Errorf("vocabulary has no %s token", endOfText)
	}
	t := &Tokenizer{
		encoder:     vocab,
		ranks:       make(map[[2]string]int, len(merges)),
		byteEncoder: bytesToUnicode(),
		sot:         sot,
		eot:         eot,
		cache: map[string][]string{
			startOfText: {startOfText},
			endOfText:   {endOfText},
		},
	}
	for i, m := range merges {
		if _, dup := t.ranks[m]; !dup {
			t.ranks[m] = i
		}
	}
	return t, nil
}

// LoadTokenizer reads vocab.json and merges.txt from dir.
func LoadTokenizer(dir string) (*Tokenizer, error) {
	data, err := os.ReadFile(filepath.Join(dir, VocabFile))
	if err != nil {
		return nil, fmt.Errorf("read vocab: %w", err)
	}
	var vocab map[string]int64
	if err := json.Unmarshal(data, &vocab); err != nil {
		return nil, fmt.Errorf("parse vocab: %w", err)
	}

	f, err := os.Open(filepath.Join(dir, MergesFile))
	if err != nil {
		return nil, fmt.Errorf("read merges: %w", err)
	}
	defer f.Close()
	merges, err := parseMerges(f)
	if err != nil {
		return nil, err
	}
	return NewTokenizer(vocab, merges)
}

func parseMerges(r io.Reader) ([][2]string, error) {
	var merges [][2]string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" || strings.HasPrefix(line, "#version") {
			continue
		}
		parts := strings.Split(line, " ")
		if len(parts) != 2 {
			return nil, fmt.Errorf("parse merges: malformed line %q", line)
		}
		merges = append(merges, [2]string{parts[0], parts[1]})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read merges: %w", err)
	}
	return merges, nil
}

// ResolveTokenizer loads the tokenizer from dir. Files missing locally are downloaded from
// remote (a base URL serving vocab.json and merges.txt) into dir first. The error wraps
// ErrTokenizerUnavailable when neither source works.
func ResolveTokenizer(ctx context.Context, dir, remote string, client *http.Client, logger *zap.Logger) (*Tokenizer, error) {
	logger = utils.OrNop(logger)
	tok, err := LoadTokenizer(dir)
	if err == nil {
		return tok, nil
	}
	if remote == "" {
		return nil, fmt.Errorf("%w: %v", ErrTokenizerUnavailable, err)
	}
	logger.Info("tokenizer not found locally, downloading", zap.String("dir", dir), zap.String("remote", remote))
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	for _, name := range []string{VocabFile, MergesFile} {
		if _, statErr := os.Stat(filepath.Join(dir, name)); statErr == nil {
			continue
		}
		if err := download(ctx, client, strings.TrimRight(remote, "/")+"/"+name, filepath.Join(dir, name)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTokenizerUnavailable, err)
		}
	}
	tok, err = LoadTokenizer(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenizerUnavailable, err)
	}
	return tok, nil
}

func download(ctx context.Context, client *http.Client, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: status %d", url, resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("download %s: %w", url, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), dest)
}

// Encode tokenises text into exactly contextLength ids framed by the start and end tokens,
// with an attention mask of 1 for real tokens. Longer input is truncated keeping the end
// token; shorter input is zero padded.
func (t *Tokenizer) Encode(text string, contextLength int) (ids, mask []int64) {
	seq := make([]int64, 0, contextLength)
	seq = append(seq, t.sot)
	seq = append(seq, t.Tokens(text)...)
	seq = append(seq, t.eot)
	if len(seq) > contextLength {
		seq = seq[:contextLength]
		seq[contextLength-1] = t.eot
	}

	ids = make([]int64, contextLength)
	mask = make([]int64, contextLength)
	copy(ids, seq)
	for i := range seq {
		mask[i] = 1
	}
	return ids, mask
}

// Tokens returns the BPE token ids of text without start/end framing.
// Pieces missing from the vocabulary map to the end token, as the reference tokenizer
// uses it for unknowns.
func (t *Tokenizer) Tokens(text string) []int64 {
	var out []int64
	for _, word := range clipPattern.FindAllString(text, -1) {
		var sb strings.Builder
		for i := 0; i < len(word); i++ {
			sb.WriteString(t.byteEncoder[word[i]])
		}
		for _, piece := range t.bpe(sb.String()) {
			id, ok := t.encoder[piece]
			if !ok {
				id = t.eot
			}
			out = append(out, id)
		}
	}
	return out
}

func (t *Tokenizer) bpe(token string) []string {
	t.mu.Lock()
	if cached, ok := t.cache[token]; ok {
		t.mu.Unlock()
		return cached
	}
	t.mu.Unlock()

	runes := []rune(token)
	word := make([]string, len(runes))
	for i, r := range runes {
		word[i] = string(r)
	}
	word[len(word)-1] += endOfWord

	for len(word) > 1 {
		best, bestRank := -1, 0
		for i := 0; i < len(word)-1; i++ {
			if r, ok := t.ranks[[2]string{word[i], word[i+1]}]; ok && (best < 0 || r < bestRank) {
				best, bestRank = i, r
			}
		}
		if best < 0 {
			break
		}
		first, second := word[best], word[best+1]
		merged := make([]string, 0, len(word))
		for i := 0; i < len(word); i++ {
			if i < len(word)-1 && word[i] == first && word[i+1] == second {
				merged = append(merged, first+second)
				i++
				continue
			}
			merged = append(merged, word[i])
		}
		word = merged
	}

	t.mu.Lock()
	t.cache[token] = word
	t.mu.Unlock()
	return word
}

// bytesToUnicode maps every byte to a printable rune so BPE never sees whitespace or
// control characters.
func bytesToUnicode() [256]string {
	var printable [256]bool
	for b := '!'; b <= '~'; b++ {
		printable[b] = true
	}
	for b := '¡'; b <= '¬'; b++ {
		printable[b] = true
	}
	for b := '®'; b <= 'ÿ'; b++ {
		printable[b] = true
	}
	var out [256]string
	n := 0
	for b := 0; b < 256; b++ {
		if printable[b] {
			out[b] = string(rune(b))
			continue
		}
		out[b] = string(rune(256 + n))
		n++
	}
	return out
}
