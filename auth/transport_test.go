package auth

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewAuthRequest_RestoresBody(t *testing.T) {
	r := httptest.NewRequest("POST", "http://cachegate.test/cache/set?x=1", strings.NewReader(`{"a":1}`))
	r.Header.Set(HeaderAPIKey, testLiveKey)

	ar, err := NewAuthRequest(r, 0)
	if err != nil {
		t.Fatalf("NewAuthRequest() error = %v", err)
	}
	if string(ar.Body) != `{"a":1}` {
		t.Errorf("Body = %s", ar.Body)
	}
	if ar.Host != "cachegate.test" || ar.URL.RawQuery != "x=1" {
		t.Errorf("Host/URL = %s %s", ar.Host, ar.URL)
	}
	again, _ := io.ReadAll(r.Body)
	if string(again) != `{"a":1}` {
		t.Errorf("handler body = %s", again)
	}
}

func TestNewAuthRequest_TooLarge(t *testing.T) {
	r := httptest.NewRequest("POST", "/cache/set", strings.NewReader(strings.Repeat("x", 11)))
	if _, err := NewAuthRequest(r, 10); err == nil {
		t.Error("NewAuthRequest() accepted an oversized body")
	}
}
