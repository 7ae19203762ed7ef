package fetch

import (
	"errors"
	"strings"
	"testing"
)

const samplePage = `<!doctype html>
<html><head><title>Prices</title><style>body { color: red }</style></head>
<body>
  <nav>Home | About</nav>
  <main id="content">
    <h1>Plans</h1>
    <p>Basic   plan costs <b>$5</b>.</p>
    <script>console.log("tracking")</script>
    <ul><li>One</li><li>Two</li></ul>
    <p>Line one<br>Line two</p>
    <!-- hidden comment -->
  </main>
</body></html>`

func TestExtractText(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		selector string
		want     string
	}{
		{
			name: "whole body",
			want: "Home | About\nPlans\nBasic plan costs $5.\nOne\nTwo\nLine one\nLine two",
		},
		{
			name:     "xpath selector",
			selector: `//main[@id="content"]/p[1]`,
			want:     "Basic plan costs $5.",
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := Extract(samplePage, "https://example.com/", ExtractText, tc.selector)
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got:\n%q\nwant:\n%q", got, tc.want)
			}
		})
	}
}

func TestExtractIsDeterministic(t *testing.T) {
	t.Parallel()

	a, _ := Extract(samplePage, "https://example.com/", ExtractText, "")
	b, _ := Extract(strings.ReplaceAll(samplePage, "\n", "\n\n  "), "https://example.com/", ExtractText, "")
	if a != b {
		t.Fatalf("whitespace-only differences changed the text:\n%q\n%q", a, b)
	}
}

func TestExtractSelectorErrors(t *testing.T) {
	t.Parallel()

	if _, err := Extract(samplePage, "", ExtractText, "//article"); !errors.Is(err, ErrSelectorNotFound) {
		t.Fatalf("err=%v", err)
	}
	if _, err := Extract(samplePage, "", ExtractText, "//["); err == nil || errors.Is(err, ErrSelectorNotFound) {
		t.Fatalf("invalid xpath err=%v", err)
	}
}

func TestExtractMarkdown(t *testing.T) {
	t.Parallel()

	got, err := Extract(samplePage, "https://example.com/", ExtractMarkdown, `//main`)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	for _, want := range []string{"# Plans", "**$5**", "- One"} {
		if !strings.Contains(got, want) {
			t.Fatalf("markdown missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "tracking") {
		t.Fatalf("script leaked into markdown:\n%s", got)
	}
}

func TestExtractReadabilityFallsBackToText(t *testing.T) {
	t.Parallel()

	got, err := Extract(`<html><body><p>tiny</p></body></html>`, "https://example.com/", ExtractReadability, "")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !strings.Contains(got, "tiny") {
		t.Fatalf("got %q", got)
	}
}
