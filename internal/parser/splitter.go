package parser

import (
	"fmt"

	"document-chat/internal/models"
)

// SplitOptions controls SplitText. Size and Overlap count characters (runes).
type SplitOptions struct {
	Size      int
	Overlap   int
	Separator string
}

func (o SplitOptions) validate() error {
	if o.Size <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", models.ErrConfiguration, o.Size)
	}
	if o.Overlap < 0 || o.Overlap >= o.Size {
		return fmt.Errorf("%w: chunk overlap must be in [0, %d), got %d", models.ErrConfiguration, o.Size, o.Overlap)
	}
	return nil
}

// SplitText cuts text into chunks of at most opts.Size characters. A chunk
// ends right after the last separator inside its window when there is one,
// otherwise exactly at opts.Size. Every chunk after the first repeats the last
// opts.Overlap characters of its predecessor, so dropping that prefix from
// each later chunk and concatenating gives back text unchanged.
func SplitText(text string, opts SplitOptions) ([]string, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil, nil
	}
	sep := []rune(opts.Separator)

	var chunks []string
	start := 0
	for {
		end := min(start+opts.Size, n)
		if end < n && len(sep) > 0 {
			// the cut must land past start+Overlap or the next chunk would not advance
			if cut := lastSeparatorEnd(runes[start:end], sep); cut > opts.Overlap {
				end = start + cut
			}
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == n {
			break
		}
		start = end - opts.Overlap
	}
	return chunks, nil
}

// lastSeparatorEnd returns the offset just past the last occurrence of sep in
// window, or -1.
func lastSeparatorEnd(window, sep []rune) int {
	for i := len(window) - len(sep); i >= 0; i-- {
		match := true
		for j := range sep {
			if window[i+j] != sep[j] {
				match = false
				break
			}
		}
		if match {
			return i + len(sep)
		}
	}
	return -1
}

// JoinChunks reverses SplitText given the same overlap.
func JoinChunks(chunks []string, overlap int) string {
	var b []rune
	for i, c := range chunks {
		r := []rune(c)
		if i > 0 {
			r = r[min(overlap, len(r)):]
		}
		b = append(b, r...)
	}
	return string(b)
}
