package textchunk

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestPack(t *testing.T) {
	t.Run("empty input returns no chunks", func(t *testing.T) {
		for _, text := range []string{"", "   ", "\n\n", " \t\n "} {
			if got := Pack(text, 100); got != nil {
				t.Errorf("Pack(%q) = %v, want nil", text, got)
			}
		}
	})

	t.Run("short input is a single trimmed chunk", func(t *testing.T) {
		got := Pack("  hello world  \n", 100)
		if len(got) != 1 || got[0] != "hello world" {
			t.Errorf("Pack() = %v, want [hello world]", got)
		}
	})

	t.Run("non-positive limit disables splitting", func(t *testing.T) {
		text := strings.Repeat("a", 500)
		got := Pack(text, 0)
		if len(got) != 1 || got[0] != text {
			t.Errorf("Pack(limit=0) returned %d chunks, want 1 untouched", len(got))
		}
	})

	t.Run("groups lines up to the limit", func(t *testing.T) {
		got := Pack("aaa\nbbb\nccc\nddd", 7)
		want := []string{"aaa\nbbb", "ccc\nddd"}
		assertChunks(t, got, want)
	})

	t.Run("keeps blank interior lines", func(t *testing.T) {
		got := Pack("a\n\nb", 3)
		want := []string{"a\n", "b"}
		assertChunks(t, got, want)
		if rejoined := strings.Join(got, "\n"); rejoined != "a\n\nb" {
			t.Errorf("rejoined = %q, want %q", rejoined, "a\n\nb")
		}
	})

	t.Run("drops whitespace-only chunks", func(t *testing.T) {
		got := Pack("aaaa\n \nbbbb", 4)
		want := []string{"aaaa", "bbbb"}
		assertChunks(t, got, want)
	})

	t.Run("drops slices of an oversized blank run", func(t *testing.T) {
		got := Pack("aaaa\n"+strings.Repeat(" ", 9)+"\nbbbb", 4)
		want := []string{"aaaa", "bbbb"}
		assertChunks(t, got, want)
	})

	t.Run("hard-splits an oversized line", func(t *testing.T) {
		line := strings.Repeat("x", 25)
		got := Pack(line, 10)
		want := []string{strings.Repeat("x", 10), strings.Repeat("x", 10), strings.Repeat("x", 5)}
		assertChunks(t, got, want)
		if rejoined := strings.Join(got, ""); rejoined != line {
			t.Errorf("pieces do not concatenate back to the original line")
		}
	})

	t.Run("folds the remainder back into the stream", func(t *testing.T) {
		text := "aaa\n" + strings.Repeat("b", 25) + "\ncc"
		got := Pack(text, 10)
		want := []string{
			"aaa",
			strings.Repeat("b", 10),
			strings.Repeat("b", 10),
			strings.Repeat("b", 5) + "\ncc",
		}
		assertChunks(t, got, want)
	})

	t.Run("counts characters not bytes", func(t *testing.T) {
		got := Pack("日本語の文", 2)
		want := []string{"日本", "語の", "文"}
		assertChunks(t, got, want)
	})
}

func TestPackRoundTrip(t *testing.T) {
	texts := []string{
		"single line",
		"one\ntwo\nthree\nfour\nfive",
		"intro paragraph here\n\nsecond paragraph with more words\n\nthird",
		"short\nmedium length line\ntiny\nanother medium line here\nend",
	}
	limits := []int{5, 12, 30, 80, 1000}

	for _, text := range texts {
		for _, limit := range limits {
			chunks := Pack(text, limit)
			trimmed := strings.TrimSpace(text)

			longest := 0
			for _, line := range strings.Split(trimmed, "\n") {
				if n := utf8.RuneCountInString(line); n > longest {
					longest = n
				}
			}

			for i, c := range chunks {
				if strings.TrimSpace(c) == "" {
					t.Fatalf("Pack(%q, %d) chunk %d is blank", text, limit, i)
				}
				if n := utf8.RuneCountInString(c); n > limit {
					t.Errorf("Pack(%q, %d) chunk %d has %d chars", text, limit, i, n)
				}
			}

			// Without oversized lines the chunk boundaries all fall on line
			// boundaries, so a newline join restores the input exactly.
			if longest <= limit {
				if rejoined := strings.Join(chunks, "\n"); rejoined != trimmed {
					t.Errorf("Pack(%q, %d) round-trip = %q, want %q", text, limit, rejoined, trimmed)
				}
			}
		}
	}
}

func assertChunks(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d chunks %q, want %d chunks %q", len(got), got, len(want), want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("chunk %d = %q, want %q", i, got[i], want[i])
		}
	}
}
