package textutil

import "testing"

func TestSingleLine(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{
			name: "collapses whitespace",
			in:   "  Hallo\nTeam\tBRT  ",
			max:  50,
			want: "Hallo Team BRT",
		},
		{
			name: "empty input",
			in:   "",
			max:  50,
			want: "",
		},
		{
			name: "cuts to max runes",
			in:   "abcdefgh",
			max:  4,
			want: "abcd",
		},
		{
			name: "multibyte runes survive the cut",
			in:   "Über-Äther",
			max:  4,
			want: "Über",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SingleLine(tt.in, tt.max); got != tt.want {
				t.Errorf("SingleLine(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
			}
		})
	}
}

func TestMultiline(t *testing.T) {
	got := Multiline(" \rLine 1\r\nLine 2\r ", 50)
	if got != "Line 1\nLine 2" {
		t.Errorf("Multiline() = %q, want %q", got, "Line 1\nLine 2")
	}
}

func TestSanitize(t *testing.T) {
	if got := Sanitize("Hallo\r\nWelt"); got != "Hallo  Welt" {
		t.Errorf("Sanitize() = %q, want %q", got, "Hallo  Welt")
	}
}

func TestPathHint(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "absolute path kept", in: "/sponsoring-anfrage", want: "/sponsoring-anfrage"},
		{name: "relative path dropped", in: "sponsoring", want: ""},
		{name: "traversal dropped", in: "/a/../b", want: ""},
		{name: "empty", in: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PathHint(tt.in); got != tt.want {
				t.Errorf("PathHint(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCountURLs(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int
	}{
		{name: "no urls", in: "nur Text", want: 0},
		{name: "mixed schemes", in: "http://a https://b www.c HTTPS://d", want: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CountURLs(tt.in); got != tt.want {
				t.Errorf("CountURLs(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestValidEmail(t *testing.T) {
	tests := []struct {
		email string
		want  bool
	}{
		{"user@example.com", true},
		{"user+tag@mail.example.com", true},
		{"userexample.com", false},
		{"user@", false},
		{"a@b", false},
		{"user @example.com", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			if got := ValidEmail(tt.email); got != tt.want {
				t.Errorf("ValidEmail(%q) = %v, want %v", tt.email, got, tt.want)
			}
		})
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "simple", in: "Mehr Motorleistung", want: "mehr-motorleistung"},
		{name: "punctuation", in: "Aero / Fahrwerk!", want: "aero-fahrwerk"},
		{name: "leading and trailing separators", in: "--Boxenstopp--", want: "boxenstopp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Slugify(tt.in); got != tt.want {
				t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}

	t.Run("unmappable label still yields an id", func(t *testing.T) {
		if got := Slugify("???"); len(got) != 8 {
			t.Errorf("Slugify(\"???\") = %q, want 8-char fallback", got)
		}
	})
}

func TestBoundedInt(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		fallback int
		min      int
		max      int
		want     int
	}{
		{name: "in range", in: "42", fallback: 5, min: 1, max: 100, want: 42},
		{name: "below range falls back", in: "0", fallback: 5, min: 1, max: 100, want: 5},
		{name: "garbage falls back", in: "abc", fallback: 5, min: 1, max: 100, want: 5},
		{name: "above range falls back", in: "1000", fallback: 5, min: 1, max: 100, want: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BoundedInt(tt.in, tt.fallback, tt.min, tt.max); got != tt.want {
				t.Errorf("BoundedInt(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}
