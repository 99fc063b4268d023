package chunker

import (
	"math/rand"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func letters(n int, seed int64) string {
	rng := rand.New(rand.NewSource(seed))
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('a' + rng.Intn(26))
	}
	return string(b)
}

func randomProse(words int, seed int64) string {
	rng := rand.New(rand.NewSource(seed))
	seps := []string{" ", " ", " ", " ", "\n", "\n\n"}
	var b strings.Builder
	for i := 0; i < words; i++ {
		if i > 0 {
			b.WriteString(seps[rng.Intn(len(seps))])
		}
		n := 1 + rng.Intn(12)
		for j := 0; j < n; j++ {
			b.WriteByte(byte('a' + rng.Intn(26)))
		}
	}
	return b.String()
}

func TestNew_RejectsInvalidOptions(t *testing.T) {
	_, err := New(Options{MaxSize: 0})
	assert.Error(t, err)
	_, err = New(Options{MaxSize: 10, Overlap: -1})
	assert.Error(t, err)
	_, err = New(Options{MaxSize: 10, Overlap: 11})
	assert.Error(t, err)

	s, err := New(Options{MaxSize: 10, Overlap: 10})
	require.NoError(t, err)
	assert.Equal(t, DefaultSeparators, s.Options().Separators)
}

func TestMustNew_Panics(t *testing.T) {
	assert.Panics(t, func() { MustNew(Options{}) })
}

func TestSplit_EmptyAndWhitespace(t *testing.T) {
	s := MustNew(DefaultOptions())
	assert.Empty(t, s.Split(""))
	assert.Empty(t, s.Split("   \n\n\t "))
	assert.Empty(t, s.SplitSpans(""))
}

func TestSplit_ShortInputIsSingleChunk(t *testing.T) {
	s := MustNew(DefaultOptions())
	text := "The quick brown fox.\n\nJumps over the lazy dog."
	assert.Equal(t, []string{text}, s.Split(text))
}

func TestSplit_ThreeThousandCharacters(t *testing.T) {
	s := MustNew(DefaultOptions())
	text := letters(3000, 1)

	spans := s.SplitSpans(text)
	require.Equal(t, []Span{{0, 1000}, {800, 1800}, {1600, 2600}, {2400, 3000}}, spans)

	chunks := s.Split(text)
	require.Len(t, chunks, 4)
	assert.Len(t, chunks[0], 1000)
	assert.Len(t, chunks[1], 1000)
	assert.Len(t, chunks[2], 1000)
	assert.Len(t, chunks[3], 600)
	for i := 1; i < len(chunks); i++ {
		assert.Equal(t, chunks[i-1][800:], chunks[i][:200], "chunk %d should start with the tail of chunk %d", i, i-1)
	}
}

func TestSplit_PrefersParagraphs(t *testing.T) {
	s := MustNew(Options{MaxSize: 12, Overlap: 0, TrimSpace: true})
	assert.Equal(t, []string{"para one.", "para two."}, s.Split("para one.\n\npara two."))
}

func TestSplit_CarriesOverlap(t *testing.T) {
	s := MustNew(Options{MaxSize: 10, Overlap: 5, TrimSpace: true})
	assert.Equal(t, []string{"aaa bbb", "bbb ccc", "ccc ddd"}, s.Split("aaa bbb ccc ddd"))
}

func TestSplit_OversizedAtomicUnitKept(t *testing.T) {
	s := MustNew(Options{MaxSize: 10, Overlap: 2, Separators: []string{" "}, TrimSpace: true})
	long := strings.Repeat("x", 50)
	chunks := s.Split("ab " + long + " cd")
	require.Equal(t, []string{"ab", long, "cd"}, chunks)
}

func TestSplit_RecursesIntoLongParagraph(t *testing.T) {
	s := MustNew(Options{MaxSize: 20, Overlap: 0, TrimSpace: true})
	text := "short para\n\n" + "one two three four five six seven eight nine ten"
	chunks := s.Split(text)
	require.NotEmpty(t, chunks)
	assert.Equal(t, "short para", chunks[0])
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 20)
	}
}

func TestSplit_CountsCodePoints(t *testing.T) {
	s := MustNew(Options{MaxSize: 5, Overlap: 0, TrimSpace: true})
	chunks := s.Split("héllo wörld")
	require.NotEmpty(t, chunks)
	assert.Equal(t, "héllo", chunks[0])
	for _, c := range chunks {
		assert.True(t, utf8.ValidString(c))
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 5)
	}
}

// Removing each chunk's overlap with its predecessor must give back the input.
func TestSplitSpans_Reconstructs(t *testing.T) {
	opts := Options{MaxSize: 50, Overlap: 10, Separators: DefaultSeparators}
	s := MustNew(opts)

	for seed := int64(1); seed <= 25; seed++ {
		text := randomProse(200, seed)
		spans := s.SplitSpans(text)
		require.NotEmpty(t, spans)
		require.Equal(t, 0, spans[0].Start)
		require.Equal(t, len(text), spans[len(spans)-1].End)

		var b strings.Builder
		b.WriteString(text[spans[0].Start:spans[0].End])
		for i := 1; i < len(spans); i++ {
			prev, cur := spans[i-1], spans[i]
			require.LessOrEqual(t, cur.Start, prev.End, "gap before span %d (seed %d)", i, seed)
			require.Greater(t, cur.End, prev.End, "span %d does not advance (seed %d)", i, seed)
			overlap := utf8.RuneCountInString(text[cur.Start:prev.End])
			require.LessOrEqual(t, overlap, opts.Overlap)
			b.WriteString(text[prev.End:cur.End])
		}
		require.Equal(t, text, b.String(), "seed %d", seed)

		for _, sp := range spans {
			assert.LessOrEqual(t, utf8.RuneCountInString(text[sp.Start:sp.End]), opts.MaxSize)
		}
	}
}

func TestSplit_ChunksAreNonEmptyAndOrdered(t *testing.T) {
	s := MustNew(Options{MaxSize: 40, Overlap: 8, TrimSpace: true})
	text := randomProse(300, 42)
	spans := s.SplitSpans(text)
	for i, sp := range spans {
		assert.Greater(t, sp.Len(), 0)
		if i > 0 {
			assert.GreaterOrEqual(t, sp.Start, spans[i-1].Start)
			assert.Greater(t, sp.End, spans[i-1].End)
		}
	}
}

func TestSplitKeepSeparator(t *testing.T) {
	text := "a\n\nb\n\nc"
	ps := splitKeepSeparator(text, Span{0, len(text)}, "\n\n")
	got := make([]string, len(ps))
	for i, p := range ps {
		got[i] = text[p.Start:p.End]
	}
	assert.Equal(t, []string{"a", "\n\nb", "\n\nc"}, got)

	lead := "\n\nx"
	ps = splitKeepSeparator(lead, Span{0, len(lead)}, "\n\n")
	require.Len(t, ps, 1)
	assert.Equal(t, lead, lead[ps[0].Start:ps[0].End])
}
