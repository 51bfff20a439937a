package listener

import "testing"

func TestSemanticHash_IgnoresVolatileContent(t *testing.T) {
	base := `<html><head><title>Pricing</title><style>body{color:red}</style></head>
<body><h1>Pricing</h1><p>Pro plan: $20/month</p>
<script>var t = Date.now();</script>
<!-- build 1234 -->
<footer>Updated 2026-03-01T12:00:00Z</footer></body></html>`

	variants := map[string]string{
		"different script": `<html><head><title>Pricing</title><style>body{color:red}</style></head>
<body><h1>Pricing</h1><p>Pro plan: $20/month</p>
<script>var t = 42; track();</script>
<!-- build 1234 -->
<footer>Updated 2026-03-01T12:00:00Z</footer></body></html>`,
		"different comment": `<html><head><title>Pricing</title><style>body{color:red}</style></head>
<body><h1>Pricing</h1><p>Pro plan: $20/month</p>
<script>var t = Date.now();</script>
<!-- build 9999 -->
<footer>Updated 2026-03-01T12:00:00Z</footer></body></html>`,
		"different timestamp": `<html><head><title>Pricing</title><style>body{color:blue}</style></head>
<body><h1>Pricing</h1><p>Pro plan: $20/month</p>
<script>var t = Date.now();</script>
<footer>Updated 2026-04-15T08:30:12Z</footer></body></html>`,
		"different whitespace": `<html><head><title>Pricing</title></head><body>
  <h1>Pricing</h1>

  <p>Pro plan:    $20/month</p>
  <footer>Updated 2026-03-01T12:00:00Z</footer>
</body></html>`,
	}

	want := SemanticHash([]byte(base), "text/html; charset=utf-8")
	if len(want) != 64 {
		t.Fatalf("hash length = %d, want 64", len(want))
	}
	for name, body := range variants {
		t.Run(name, func(t *testing.T) {
			if got := SemanticHash([]byte(body), "text/html"); got != want {
				t.Errorf("hash changed for %s", name)
			}
		})
	}
}

func TestSemanticHash_DetectsContentChange(t *testing.T) {
	a := SemanticHash([]byte(`<p>Pro plan: $20/month</p>`), "text/html")
	b := SemanticHash([]byte(`<p>Pro plan: $25/month</p>`), "text/html")
	if a == b {
		t.Error("price change not detected")
	}
}

func TestSemanticHash_Timestamps(t *testing.T) {
	tests := []struct {
		name string
		a, b string
	}{
		{"rfc1123", "as of Sun, 01 Mar 2026 12:00:00 GMT", "as of Mon, 02 Mar 2026 09:15:00 GMT"},
		{"long date", "published March 1, 2026", "published April 12, 2026"},
		{"clock", "refreshed at 12:04:55", "refreshed at 3:15 PM"},
		{"unix", "ts=1767225600", "ts=1767225999123"},
		{"relative", "updated 5 minutes ago", "updated 2 hours ago"},
		{"slash date", "on 3/1/2026", "on 12/31/2026"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if SemanticHash([]byte(tt.a), "text/plain") != SemanticHash([]byte(tt.b), "text/plain") {
				t.Errorf("%q and %q hash differently", tt.a, tt.b)
			}
		})
	}
}

func TestSemanticHash_PlainTextKeepsMarkupLikeContent(t *testing.T) {
	a := SemanticHash([]byte(`{"script": "<script>a</script>"}`), "application/json")
	b := SemanticHash([]byte(`{"script": "<script>b</script>"}`), "application/json")
	if a == b {
		t.Error("non-HTML bodies must hash their raw text")
	}
}
