// Package textchunk splits text into provider-sized chunks.
//
// Speech-synthesis backends cap the request size at different limits, so the
// same message is re-packed per backend before synthesis. Packing prefers
// paragraph boundaries and only falls back to hard slicing when a single
// paragraph exceeds the limit on its own.
package textchunk

import (
	"strings"
	"unicode/utf8"
)

// Pack splits text into an ordered sequence of non-empty chunks of at most
// maxChars characters each.
//
// The input is trimmed first. If the trimmed text fits, it is returned as a
// single chunk. Otherwise the text is split on line boundaries and consecutive
// lines are greedily packed into chunks, joined by a newline, flushing before
// a line would push the chunk over the limit. A single line longer than
// maxChars is sliced at the limit boundary; the full slices become chunks of
// their own and the remainder rejoins the stream at its original position.
//
// Joining the chunks with a newline reproduces the trimmed input wherever no
// hard slice was needed; hard slices of one line concatenate back without a
// separator. Whitespace-only chunks are never emitted. maxChars values below
// one disable splitting.
func Pack(text string, maxChars int) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if maxChars < 1 || utf8.RuneCountInString(trimmed) <= maxChars {
		return []string{trimmed}
	}

	var (
		chunks []string
		buf    []string
		bufLen int
	)

	flush := func() {
		if len(buf) == 0 {
			return
		}
		chunk := strings.Join(buf, "\n")
		if strings.TrimSpace(chunk) != "" {
			chunks = append(chunks, chunk)
		}
		buf = buf[:0]
		bufLen = 0
	}

	for _, line := range strings.Split(trimmed, "\n") {
		n := utf8.RuneCountInString(line)

		if n > maxChars {
			flush()
			pieces, rest := slice(line, maxChars)
			for _, p := range pieces {
				if strings.TrimSpace(p) != "" {
					chunks = append(chunks, p)
				}
			}
			if rest != "" {
				buf = append(buf, rest)
				bufLen = utf8.RuneCountInString(rest)
			}
			continue
		}

		if len(buf) > 0 {
			// +1 for the joining newline.
			if bufLen+1+n > maxChars {
				flush()
			} else {
				buf = append(buf, line)
				bufLen += 1 + n
				continue
			}
		}
		buf = append(buf, line)
		bufLen = n
	}
	flush()

	return chunks
}

// slice cuts a line into maxChars-sized pieces. All pieces except the last
// are exactly maxChars long; the last, possibly empty, is returned separately
// so the caller can fold it back into the paragraph stream.
func slice(line string, maxChars int) (full []string, rest string) {
	runes := []rune(line)
	for len(runes) > maxChars {
		full = append(full, string(runes[:maxChars]))
		runes = runes[maxChars:]
	}
	return full, string(runes)
}
