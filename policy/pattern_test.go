package policy

import "testing"

func TestPatternMatch(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"/resources/**", "/resources", true},
		{"/resources/**", "/resources/", true},
		{"/resources/**", "/resources/a/b/c.js", true},
		{"/resources/**", "/resourcesX", false},
		{"/**", "/", true},
		{"/**", "/anything/at/all", true},
		{"/a/**/z", "/a/z", true},
		{"/a/**/z", "/a/b/c/z", true},
		{"/a/**/z", "/a/b/c/y", false},
		{"/a/*", "/a", false},
		{"/a/*", "/a/b", true},
		{"/a/*", "/a/b/c", false},
		{"/a/*/c", "/a//c", false},
		{"/static/*.css", "/static/site.css", true},
		{"/static/*.css", "/static/css/site.css", false},
		{"/api/v?/users", "/api/v1/users", true},
		{"/api/{v1,v2}/users", "/api/v2/users", true},
		{"/api/{v1,v2}/users", "/api/v3/users", false},
		{"/signup", "/signup/", true},
		{"/signup", "//signup", true},
		{"/signup", "/Signup", false},
		{"/admin/**", "/resources/../admin/panel", true},
		{"/resources/**", "/resources/../admin/panel", false},
		{"/", "/", true},
		{"/", "", true},
	}

	for _, tc := range tests {
		p, err := CompilePattern(tc.pattern)
		if err != nil {
			t.Fatalf("CompilePattern(%q): %v", tc.pattern, err)
		}
		if got := p.Match(tc.path); got != tc.want {
			t.Errorf("%q.Match(%q) = %v, want %v", tc.pattern, tc.path, got, tc.want)
		}
	}
}

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"":              "/",
		"about":         "/about",
		"/about/":       "/about",
		"//a///b//":     "/a/b",
		"/a/./b/../c":   "/a/c",
		"/../../etc":    "/etc",
		"/resources/**": "/resources/**",
	}
	for in, want := range cases {
		if got := NormalizePath(in); got != want {
			t.Errorf("NormalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPatternCovers(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"/db/**", "/db/**", true},
		{"/**", "/db/**", true},
		{"/db/**", "/db/x", true},
		{"/db/*", "/db/x", true},
		{"/db/*", "/db/**", false},
		{"/db/x", "/db/*", false},
		{"/a/**/z", "/a/b/z", true},
		{"/a/**/z", "/a/**/z", true},
		{"/a/**/z", "/a/**", false},
		{"/*.css", "/site.css", true},
		{"/*.css", "/*.js", false},
		{"/*", "/*.css", true},
		{"/x", "/y", false},
	}

	for _, tc := range tests {
		a := MustCompilePattern(tc.a)
		b := MustCompilePattern(tc.b)
		if got := a.covers(b); got != tc.want {
			t.Errorf("%q covers %q = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestConsecutiveDoubleStarsCollapse(t *testing.T) {
	p := MustCompilePattern("/a/**/**/b")
	if len(p.segments) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(p.segments))
	}
	if !p.Match("/a/b") || !p.Match("/a/x/y/b") {
		t.Fatal("collapsed pattern should still match")
	}
}

// FuzzPatternMatch checks that compilation and matching never panic and that
// a catch-all pattern accepts every path.
func FuzzPatternMatch(f *testing.F) {
	f.Add("/resources/**", "/resources/a.css")
	f.Add("/a/*/c", "/a//c")
	f.Add("/{a,b}/[x-z]", "/b/y")
	f.Add("/", "")

	all := MustCompilePattern("/**")

	f.Fuzz(func(t *testing.T, pattern, path string) {
		if p, err := CompilePattern(pattern); err == nil {
			_ = p.Match(path)
			_ = all.covers(p)
		}
		if !all.Match(path) {
			t.Fatalf("/** must match %q", path)
		}
	})
}
