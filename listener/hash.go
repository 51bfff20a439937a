package listener

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// volatileSelectors never contribute to the semantic hash.
const volatileSelectors = "script, style, noscript, template, iframe, svg, canvas"

// timestampPatterns match common rendered timestamps. Order matters: the
// full ISO form must go before its date-only prefix.
var timestampPatterns = []*regexp.Regexp{
	// 2026-03-01T12:00:00Z, 2026-03-01 12:00:00.123+02:00
	regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}(:\d{2}(\.\d+)?)?(Z|[+-]\d{2}:?\d{2})?`),
	// Sun, 01 Mar 2026 12:00:00 GMT
	regexp.MustCompile(`(?i)(mon|tue|wed|thu|fri|sat|sun)[a-z]*,?\s+\d{1,2}\s+[a-z]{3,9}\s+\d{4}(\s+\d{2}:\d{2}(:\d{2})?(\s*[a-z]{2,4})?)?`),
	// March 1, 2026 / Mar 1 2026
	regexp.MustCompile(`(?i)\b(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+\d{1,2},?\s+\d{4}\b`),
	regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),
	regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{2,4}\b`),
	// 12:00, 12:00:59, 3:04 PM
	regexp.MustCompile(`(?i)\b\d{1,2}:\d{2}(:\d{2})?(\s*[ap]\.?m\.?)?\b`),
	// unix seconds or milliseconds
	regexp.MustCompile(`\b1\d{9}(\d{3})?\b`),
	// "updated 5 minutes ago"
	regexp.MustCompile(`(?i)\b\d+\s+(second|minute|hour|day|week)s?\s+ago\b`),
}

// SemanticHash hashes the meaningful content of a document. HTML is reduced
// to its visible text with script, style and similar elements removed;
// comments never reach the text. Timestamps are stripped and whitespace
// runs collapsed before hashing, so two fetches that differ only in those
// produce the same hash.
func SemanticHash(body []byte, contentType string) string {
	text := string(body)
	if isHTML(contentType, body) {
		if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body)); err == nil {
			doc.Find(volatileSelectors).Remove()
			text = doc.Text()
		}
	}
	for _, re := range timestampPatterns {
		text = re.ReplaceAllString(text, " ")
	}
	text = strings.Join(strings.Fields(text), " ")

	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func isHTML(contentType string, body []byte) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "html") || strings.Contains(ct, "xml") {
		return true
	}
	if ct != "" {
		return false
	}
	head := bytes.ToLower(bytes.TrimSpace(body[:min(len(body), 512)]))
	return bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html"))
}
