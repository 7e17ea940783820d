package telegram

import (
	"strings"
	"testing"
)

func TestEscapeHTML(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"plain", "hola mundo", "hola mundo"},
		{"allowed tags kept", "hola <b>mundo</b>!", "hola <b>mundo</b>!"},
		{"link kept", `<a href="https://x.y">x</a>`, `<a href="https://x.y">x</a>`},
		{"unknown tag escaped", "<script>alert(1)</script>", "&lt;script&gt;alert(1)&lt;/script&gt;"},
		{"bare comparison", "2 < 3 > 1", "2 &lt; 3 &gt; 1"},
		{"mixed", "<i>a</i> <div>b</div>", "<i>a</i> &lt;div&gt;b&lt;/div&gt;"},
		{"uppercase allowed", "<B>x</B>", "<B>x</B>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := EscapeHTML(tt.input); got != tt.want {
				t.Errorf("EscapeHTML(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestChunkMessage(t *testing.T) {
	t.Parallel()

	t.Run("short text is one chunk", func(t *testing.T) {
		got := ChunkMessage("hola", 10)
		if len(got) != 1 || got[0] != "hola" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("empty text", func(t *testing.T) {
		if got := ChunkMessage("", 10); len(got) != 0 {
			t.Errorf("got %q", got)
		}
	})

	t.Run("prefers newline", func(t *testing.T) {
		got := ChunkMessage("aaaa bbbb\ncccc dddd", 12)
		want := []string{"aaaa bbbb", "cccc dddd"}
		if strings.Join(got, "|") != strings.Join(want, "|") {
			t.Errorf("got %q, want %q", got, want)
		}
	})

	t.Run("falls back to space", func(t *testing.T) {
		got := ChunkMessage("one two three four", 9)
		want := []string{"one two", "three", "four"}
		if strings.Join(got, "|") != strings.Join(want, "|") {
			t.Errorf("got %q, want %q", got, want)
		}
	})

	t.Run("hard cut for giant word", func(t *testing.T) {
		got := ChunkMessage(strings.Repeat("x", 25), 10)
		if len(got) != 3 || got[0] != strings.Repeat("x", 10) || got[2] != "xxxxx" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("counts runes not bytes", func(t *testing.T) {
		text := strings.Repeat("ñ", MaxMessageLength)
		if got := ChunkMessage(text, MaxMessageLength); len(got) != 1 {
			t.Errorf("expected one chunk for exactly the limit, got %d", len(got))
		}
	})
}
