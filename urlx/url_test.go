package urlx

import "testing"

func TestCanonicalizeIdempotent(t *testing.T) {
	cases := []string{
		"example.com/a/b/?x=1&y=",
		"HTTPS://Example.COM/path/",
		"example.com",
	}
	for _, c := range cases {
		info1, err := Canonicalize(c)
		if err != nil {
			t.Fatalf("canonicalize(%q): %v", c, err)
		}
		info2, err := Canonicalize(info1.FullDomain + info1.Path)
		if err != nil {
			t.Fatalf("canonicalize twice(%q): %v", c, err)
		}
		if info1.UniquePageName != info2.UniquePageName {
			t.Errorf("not idempotent: %q vs %q", info1.UniquePageName, info2.UniquePageName)
		}
	}
}

func TestUniquePageNameAlnumOnly(t *testing.T) {
	info, err := Canonicalize("https://example.com/a/b?c=d")
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range info.UniquePageName {
		if !(r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			t.Fatalf("unexpected char %q in %q", r, info.UniquePageName)
		}
	}
}

func TestRejectsPrivateHosts(t *testing.T) {
	for _, raw := range []string{"http://localhost/x", "http://127.0.0.1/x", "http://10.0.0.5/x", "http://site.internal/x"} {
		if _, err := ValidateAndCorrect(raw); err == nil {
			t.Errorf("expected rejection for %q", raw)
		}
	}
}

func TestMatchPathSpecificity(t *testing.T) {
	pattern, ok := MatchPath("/a/b/c", []string{"/a/*/c", "/a/*/*", "/*"})
	if !ok || pattern != "/a/*/c" {
		t.Fatalf("got %q ok=%v, want /a/*/c", pattern, ok)
	}
}

func TestMatchPathExactBeatsGlob(t *testing.T) {
	pattern, ok := MatchPath("/a/b", []string{"/*/*", "/a/b"})
	if !ok || pattern != "/a/b" {
		t.Fatalf("got %q ok=%v, want /a/b", pattern, ok)
	}
}

func TestJoinProtocolRelative(t *testing.T) {
	got := Join("https://example.com", "//cdn.example.com/x.png")
	if got != "https://cdn.example.com/x.png" {
		t.Fatalf("got %q", got)
	}
}

func TestJoinRelative(t *testing.T) {
	got := Join("https://example.com/a/", "b/c")
	if got != "https://example.com/a/b/c" {
		t.Fatalf("got %q", got)
	}
}

func TestIsDataURL(t *testing.T) {
	isData, isB64 := IsDataURL("data:image/png;base64,aaaa")
	if !isData || !isB64 {
		t.Fatalf("expected data+base64, got %v %v", isData, isB64)
	}
	isData, _ = IsDataURL("https://example.com/x.png")
	if isData {
		t.Fatalf("expected non-data url")
	}
}
