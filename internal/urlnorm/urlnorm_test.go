package urlnorm

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"fragment stripped", "https://a.com/x#section", "https://a.com/x"},
		{"trailing slash stripped", "https://a.com/x/", "https://a.com/x"},
		{"both", "https://a.com/x/#top", "https://a.com/x"},
		{"root slash kept", "https://a.com/", "https://a.com/"},
		{"no change", "https://a.com/x?q=1", "https://a.com/x?q=1"},
		{"only one slash stripped", "https://a.com/x//", "https://a.com/x/"},
		{"deep path", "https://a.com/x/y/z/", "https://a.com/x/y/z"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	urls := []string{
		"https://a.com/x/#frag",
		"https://a.com/",
		"http://b.org/path/sub/?q=2#x",
		"https://a.com/x//",
	}
	for _, u := range urls {
		once := Normalize(u)
		twice := Normalize(once)
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: %q != %q", u, once, twice)
		}
	}
}

func TestIsSelfPage(t *testing.T) {
	if !IsSelfPage("file:///Users/me/TabTriage/index.html", 5111) {
		t.Error("file triage page should be self")
	}
	if !IsSelfPage("http://localhost:5111/", 5111) {
		t.Error("own port should be self")
	}
	if !IsSelfPage("http://localhost:5111", 5111) {
		t.Error("own port without slash should be self")
	}
	if IsSelfPage("https://example.com/article", 5111) {
		t.Error("regular page should not be self")
	}
	if IsSelfPage("http://localhost:5112/", 5111) {
		t.Error("other port should not be self")
	}
}

func TestDomain(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://www.example.com/a", "example.com"},
		{"https://sub.example.com/", "sub.example.com"},
		{"not a url", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Domain(tt.in); got != tt.want {
			t.Errorf("Domain(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
