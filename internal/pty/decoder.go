package pty

import "unicode/utf8"

// utf8StreamDecoder buffers partial multibyte sequences across reads so a
// chunk boundary never splits a rune: feed arbitrary byte slices in, get
// back only well-formed UTF-8 text. Grounded in the "only emit well-formed
// text chunks" requirement of spec §4.5; no third-party streaming-UTF-8
// library appears anywhere in the retrieved pack, so this is hand-rolled
// against stdlib unicode/utf8 rather than sourced from an example.
type utf8StreamDecoder struct {
	pending []byte
}

// Feed consumes p and returns the well-formed text decoded so far, holding
// back any trailing incomplete sequence for the next call.
func (d *utf8StreamDecoder) Feed(p []byte) string {
	buf := append(d.pending, p...)
	d.pending = nil

	var out []byte
	i := 0
	for i < len(buf) {
		r, size := utf8.DecodeRune(buf[i:])
		if r == utf8.RuneError && size <= 1 {
			if len(buf)-i < utf8.UTFMax && !utf8.FullRune(buf[i:]) {
				// Could still be completed by the next Feed; hold it back.
				d.pending = append(d.pending, buf[i:]...)
				return string(out)
			}
			// A genuinely invalid byte, not just a truncated sequence.
			out = utf8.AppendRune(out, utf8.RuneError)
			i++
			continue
		}
		out = append(out, buf[i:i+size]...)
		i += size
	}
	return string(out)
}

// Flush returns U+FFFD for any residual incomplete sequence held back by a
// prior Feed, per spec §4.5's EOF/error handling, and resets the decoder.
func (d *utf8StreamDecoder) Flush() string {
	if len(d.pending) == 0 {
		return ""
	}
	d.pending = nil
	return string(utf8.RuneError)
}
