package pty

import (
	"testing"
	"unicode/utf8"
)

func TestUTF8StreamDecoderPassesPlainASCII(t *testing.T) {
	var d utf8StreamDecoder
	if got := d.Feed([]byte("hello world")); got != "hello world" {
		t.Fatalf("Feed() = %q", got)
	}
}

func TestUTF8StreamDecoderHoldsPartialMultibyteSequence(t *testing.T) {
	emoji := "🎉" // 4-byte UTF-8 sequence
	raw := []byte(emoji)

	var d utf8StreamDecoder
	first := d.Feed(raw[:2])
	if first != "" {
		t.Fatalf("expected no output from a truncated sequence, got %q", first)
	}

	second := d.Feed(raw[2:])
	if second != emoji {
		t.Fatalf("Feed() across boundary = %q, want %q", second, emoji)
	}
}

func TestUTF8StreamDecoderFlushEmitsReplacementForResidual(t *testing.T) {
	emoji := "🎉"
	raw := []byte(emoji)

	var d utf8StreamDecoder
	d.Feed(raw[:2])
	flushed := d.Flush()
	if flushed != string(utf8.RuneError) {
		t.Fatalf("Flush() = %q, want U+FFFD", flushed)
	}
	if d.Feed(nil) != "" {
		t.Fatalf("decoder should be reset after Flush")
	}
}

func TestUTF8StreamDecoderReplacesInvalidByte(t *testing.T) {
	var d utf8StreamDecoder
	out := d.Feed([]byte{'a', 0xff, 'b'})
	want := "a" + string(utf8.RuneError) + "b"
	if out != want {
		t.Fatalf("Feed() = %q, want %q", out, want)
	}
}
