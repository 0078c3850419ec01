package identity

import "testing"

func TestHash(t *testing.T) {
	h := Hash("203.0.113.9", "salt-a")
	if len(h) != 24 {
		t.Fatalf("Hash() length = %d, want 24", len(h))
	}
	if h != Hash("203.0.113.9", "salt-a") {
		t.Error("Hash() not deterministic for identical input")
	}
	if h == Hash("203.0.113.9", "salt-b") {
		t.Error("Hash() ignored the salt")
	}
	if h == Hash("203.0.113.10", "salt-a") {
		t.Error("Hash() ignored the value")
	}
}

func TestHashSaltValueBoundary(t *testing.T) {
	// "ab"+"c" and "a"+"bc" must not collide.
	if Hash("c", "ab") == Hash("bc", "a") {
		t.Error("salt/value boundary is ambiguous")
	}
}

func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		want bool
	}{
		{name: "equal", a: "secret-token", b: "secret-token", want: true},
		{name: "different", a: "secret-token", b: "secret-tokem", want: false},
		{name: "different lengths", a: "short", b: "a much longer value", want: false},
		{name: "both empty", a: "", b: "", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Equal(tt.a, tt.b); got != tt.want {
				t.Errorf("Equal(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}
