package textsplit

import (
	"strings"
	"testing"
)

func assertLossless(t *testing.T, input string, max int, chunks []string) {
	t.Helper()
	if strings.Join(chunks, "") != input {
		t.Errorf("concatenation of chunks != input\nchunks: %q", chunks)
	}
	for i, c := range chunks {
		if c == "" {
			t.Errorf("chunk %d is empty", i)
		}
		if len(c) > max {
			t.Errorf("chunk %d exceeds max %d: %d bytes", i, max, len(c))
		}
	}
}

func TestChunk_ShortTextPassesThrough(t *testing.T) {
	got := Chunk("hello", 100)
	if len(got) != 1 || got[0] != "hello" {
		t.Errorf("Chunk = %q, want [hello]", got)
	}
}

func TestChunk_Empty(t *testing.T) {
	if got := Chunk("", 100); got != nil {
		t.Errorf("Chunk(\"\") = %q, want nil", got)
	}
}

func TestChunk_ParagraphBoundary(t *testing.T) {
	input := "First paragraph.\n\nSecond paragraph.\n\nThird paragraph."
	chunks := Chunk(input, 35)
	if len(chunks) < 2 {
		t.Fatalf("expected at least 2 chunks, got %d: %q", len(chunks), chunks)
	}
	assertLossless(t, input, 35, chunks)
	if !strings.HasSuffix(chunks[0], "\n\n") {
		t.Errorf("first chunk should end at a paragraph break, got %q", chunks[0])
	}
}

func TestChunk_SentenceBoundary(t *testing.T) {
	input := "This is the first sentence. Then comes another one that continues."
	chunks := Chunk(input, 40)
	assertLossless(t, input, 40, chunks)
	if chunks[0] != "This is the first sentence. " {
		t.Errorf("first chunk = %q, want sentence-aligned cut", chunks[0])
	}
}

func TestChunk_WordBoundary(t *testing.T) {
	input := "Hello world this is a long message without punctuation breaks"
	chunks := Chunk(input, 20)
	assertLossless(t, input, 20, chunks)
	for i, c := range chunks[:len(chunks)-1] {
		if !strings.HasSuffix(c, " ") {
			t.Errorf("chunk %d should end on a word boundary, got %q", i, c)
		}
	}
}

func TestChunk_HardCut(t *testing.T) {
	input := strings.Repeat("a", 100)
	chunks := Chunk(input, 30)
	assertLossless(t, input, 30, chunks)
	if len(chunks) != 4 {
		t.Errorf("expected 4 chunks, got %d", len(chunks))
	}
}

func TestChunk_RejectsTinyLeadingBoundary(t *testing.T) {
	// A paragraph break at 10% of the window must be ignored in favor of a
	// later boundary.
	input := "ab\n\n" + strings.Repeat("c", 50) + " " + strings.Repeat("d", 30)
	chunks := Chunk(input, 60)
	assertLossless(t, input, 60, chunks)
	if len(chunks[0]) < 18 {
		t.Errorf("first chunk too small (%d bytes): boundary before 30%% of max accepted", len(chunks[0]))
	}
}

func TestChunk_UTF8SafeHardCut(t *testing.T) {
	input := strings.Repeat("é", 40) // 2 bytes each
	chunks := Chunk(input, 15)
	assertLossless(t, input, 15, chunks)
	for i, c := range chunks {
		if !utf8Valid(c) {
			t.Errorf("chunk %d is not valid UTF-8: %q", i, c)
		}
	}
}

func utf8Valid(s string) bool {
	for _, r := range s {
		if r == '�' {
			return false
		}
	}
	return true
}

func TestChunk_LosslessAcrossInputs(t *testing.T) {
	inputs := []string{
		"one\ntwo\nthree\nfour\nfive\nsix\nseven\neight",
		"A. B. C. D. E. F. G. H. I. J. K. L. M. N.",
		strings.Repeat("word ", 200),
		"para one\n\npara two\n\npara three\n\npara four",
	}
	for _, input := range inputs {
		for _, max := range []int{10, 16, 35, 64} {
			assertLossless(t, input, max, Chunk(input, max))
		}
	}
}

func TestMaxFor(t *testing.T) {
	tests := []struct {
		channelType string
		fallback    int
		want        int
	}{
		{"telegram", 0, 4096},
		{"discord", 0, 2000},
		{"whatsapp", 0, 65536},
		{"slack", 0, 40000},
		{"webchat", 8192, 8192},
		{"webchat", 0, 4096},
	}
	for _, tt := range tests {
		if got := MaxFor(tt.channelType, tt.fallback); got != tt.want {
			t.Errorf("MaxFor(%q, %d) = %d, want %d", tt.channelType, tt.fallback, got, tt.want)
		}
	}
}
