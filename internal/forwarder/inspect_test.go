package forwarder

import (
	"bytes"
	"compress/gzip"
	"testing"
)

func TestRewriteContentType(t *testing.T) {
	got := RewriteContentType("application/vnd.ogc.wms_xml; charset=utf-8")
	want := "text/xml; charset=utf-8"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestRewriteContentTypeLeavesOthersUntouched(t *testing.T) {
	got := RewriteContentType("application/json")
	if got != "application/json" {
		t.Fatalf("got %q", got)
	}
}

func TestDetectAuthFailureCodePlain(t *testing.T) {
	body := []byte(`{"error":{"code":498,"message":"Invalid Token"}}`)
	code, ok := DetectAuthFailureCode(body, "")
	if !ok || code != 498 {
		t.Fatalf("got code=%d ok=%v", code, ok)
	}
}

func TestDetectAuthFailureCodeIgnoresNonAuthCodes(t *testing.T) {
	body := []byte(`{"error":{"code":400,"message":"Bad Request"}}`)
	_, ok := DetectAuthFailureCode(body, "")
	if ok {
		t.Fatalf("expected no auth failure for code 400")
	}
}

func TestDetectAuthFailureCodeGzipped(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, _ = gw.Write([]byte(`{"error":{"code":403,"message":"Token Required"}}`))
	_ = gw.Close()

	code, ok := DetectAuthFailureCode(buf.Bytes(), "gzip")
	if !ok || code != 403 {
		t.Fatalf("got code=%d ok=%v", code, ok)
	}
}

func TestDetectAuthFailureCodeNoMatch(t *testing.T) {
	body := []byte(`<html>not json</html>`)
	_, ok := DetectAuthFailureCode(body, "")
	if ok {
		t.Fatalf("expected no match")
	}
}
