// Package chunker splits document text into bounded, overlapping windows.
//
// Splitting is recursive over a priority list of separators: the coarsest
// separator present in the text is tried first, and any piece that is still
// too long is split again with the next, finer separator. The empty separator
// splits between every character. Lengths are measured in code points.
package chunker

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// DefaultMaxSize is the maximum chunk length in characters.
	DefaultMaxSize = 1000
	// DefaultOverlap is the number of trailing characters carried into the next chunk.
	DefaultOverlap = 200
)

// DefaultSeparators go from paragraph break down to single characters.
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

// Options configures a Splitter.
type Options struct {
	MaxSize    int
	Overlap    int
	Separators []string
	// TrimSpace strips surrounding whitespace from each chunk and drops
	// chunks that are whitespace only.
	TrimSpace bool
}

// DefaultOptions returns the 1000/200 paragraph-first configuration.
func DefaultOptions() Options {
	seps := make([]string, len(DefaultSeparators))
	copy(seps, DefaultSeparators)
	return Options{
		MaxSize:    DefaultMaxSize,
		Overlap:    DefaultOverlap,
		Separators: seps,
		TrimSpace:  true,
	}
}

// Span is a half-open byte range [Start, End) of the input text.
type Span struct {
	Start int
	End   int
}

// Len returns the byte length of the span.
func (s Span) Len() int { return s.End - s.Start }

// piece is a span plus its length in code points.
type piece struct {
	Span
	n int
}

// Splitter is safe for concurrent use; it holds no mutable state.
type Splitter struct {
	opts Options
}

// New validates opts and returns a Splitter.
func New(opts Options) (*Splitter, error) {
	if opts.MaxSize <= 0 {
		return nil, fmt.Errorf("chunker: max size must be positive, got %d", opts.MaxSize)
	}
	if opts.Overlap < 0 {
		return nil, fmt.Errorf("chunker: overlap must not be negative, got %d", opts.Overlap)
	}
	if opts.Overlap > opts.MaxSize {
		return nil, fmt.Errorf("chunker: overlap %d is larger than max size %d", opts.Overlap, opts.MaxSize)
	}
	if len(opts.Separators) == 0 {
		opts.Separators = DefaultSeparators
	}
	return &Splitter{opts: opts}, nil
}

// MustNew is like New but panics on invalid options.
func MustNew(opts Options) *Splitter {
	s, err := New(opts)
	if err != nil {
		panic(err)
	}
	return s
}

// Options returns the effective configuration.
func (s *Splitter) Options() Options { return s.opts }

// Split returns the chunk texts in input order. Empty or whitespace-only
// input yields no chunks.
func (s *Splitter) Split(text string) []string {
	spans := s.SplitSpans(text)
	out := make([]string, len(spans))
	for i, sp := range spans {
		out[i] = text[sp.Start:sp.End]
	}
	return out
}

// SplitSpans is Split reporting byte offsets into text instead of copies.
func (s *Splitter) SplitSpans(text string) []Span {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	spans := s.split(text, Span{0, len(text)}, s.opts.Separators)
	if !s.opts.TrimSpace {
		return spans
	}
	out := spans[:0]
	for _, sp := range spans {
		if sp = trimSpan(text, sp); sp.Len() > 0 {
			out = append(out, sp)
		}
	}
	return out
}

func (s *Splitter) split(text string, win Span, seps []string) []Span {
	sub := text[win.Start:win.End]

	sep := seps[len(seps)-1]
	var finer []string
	for i, candidate := range seps {
		if candidate == "" {
			sep = candidate
			break
		}
		if strings.Contains(sub, candidate) {
			sep = candidate
			finer = seps[i+1:]
			break
		}
	}

	var (
		out  []Span
		good []piece
	)
	for _, p := range splitKeepSeparator(text, win, sep) {
		if p.n < s.opts.MaxSize {
			good = append(good, p)
			continue
		}
		if len(good) > 0 {
			out = append(out, s.merge(good)...)
			good = nil
		}
		if len(finer) == 0 {
			out = append(out, p.Span)
		} else {
			out = append(out, s.split(text, p.Span, finer)...)
		}
	}
	if len(good) > 0 {
		out = append(out, s.merge(good)...)
	}
	return out
}

// merge packs adjacent pieces into windows of at most MaxSize characters,
// carrying up to Overlap trailing characters from one window into the next.
func (s *Splitter) merge(pieces []piece) []Span {
	var (
		out   []Span
		cur   []piece
		total int
	)
	for _, p := range pieces {
		if total+p.n > s.opts.MaxSize && len(cur) > 0 {
			out = append(out, joined(cur))
			for total > s.opts.Overlap || (total+p.n > s.opts.MaxSize && total > 0) {
				total -= cur[0].n
				cur = cur[1:]
			}
		}
		cur = append(cur, p)
		total += p.n
	}
	if len(cur) > 0 {
		out = append(out, joined(cur))
	}
	return out
}

// joined relies on pieces being contiguous in the source text.
func joined(ps []piece) Span {
	return Span{Start: ps[0].Start, End: ps[len(ps)-1].End}
}

// splitKeepSeparator cuts text[win] before every occurrence of sep so each
// separator stays attached to the start of the piece that follows it. Empty
// pieces are dropped. An empty sep yields one piece per character.
func splitKeepSeparator(text string, win Span, sep string) []piece {
	sub := text[win.Start:win.End]
	var out []piece

	if sep == "" {
		for i, r := range sub {
			start := win.Start + i
			out = append(out, piece{Span: Span{start, start + utf8.RuneLen(r)}, n: 1})
		}
		return out
	}

	add := func(from, to int) {
		if to > from {
			out = append(out, piece{
				Span: Span{win.Start + from, win.Start + to},
				n:    utf8.RuneCountInString(sub[from:to]),
			})
		}
	}

	last := 0
	for off := 0; off < len(sub); {
		idx := strings.Index(sub[off:], sep)
		if idx < 0 {
			break
		}
		at := off + idx
		add(last, at)
		last = at
		off = at + len(sep)
	}
	add(last, len(sub))
	return out
}

func trimSpan(text string, sp Span) Span {
	for sp.Start < sp.End {
		r, size := utf8.DecodeRuneInString(text[sp.Start:sp.End])
		if !unicode.IsSpace(r) {
			break
		}
		sp.Start += size
	}
	for sp.End > sp.Start {
		r, size := utf8.DecodeLastRuneInString(text[sp.Start:sp.End])
		if !unicode.IsSpace(r) {
			break
		}
		sp.End -= size
	}
	return sp
}
