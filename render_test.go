package pyroxy

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/kiliczsh/pyroxy/cache"
)

func TestRenderRawIsUntouched(t *testing.T) {
	entry := cache.Entry{
		Body:        []byte{0xde, 0xad, 0xbe, 0xef},
		ContentType: "application/octet-stream",
		StatusCode:  203,
	}

	out, err := render(&RequestOptions{Format: FormatRaw}, entry, time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}

	if string(out.body) != string(entry.Body) {
		t.Fatalf("Body is %v", out.body)
	}
	if out.contentType != "application/octet-stream" {
		t.Fatalf("Content type is %s", out.contentType)
	}
	if out.statusCode != 203 {
		t.Fatalf("Status code is %d", out.statusCode)
	}
}

func TestRenderJSONStatusBlock(t *testing.T) {
	entry := cache.Entry{
		Body:        []byte("Hello world"),
		ContentType: "text/plain",
		StatusCode:  200,
		FinalURL:    "http://example.com/page",
	}
	opts := &RequestOptions{Format: FormatJSON, Charset: "utf-8"}

	out, err := render(opts, entry, 1500*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}

	var body jsonBody
	if err := json.Unmarshal(out.body, &body); err != nil {
		t.Fatal(err)
	}
	if body.Contents != "Hello world" {
		t.Fatalf("Contents is %q", body.Contents)
	}
	if body.Status.URL != "http://example.com/page" {
		t.Fatalf("url is %s", body.Status.URL)
	}
	if body.Status.ContentLength != 11 {
		t.Fatalf("content_length is %d", body.Status.ContentLength)
	}
	if body.Status.ResponseTime != 1.5 {
		t.Fatalf("response_time is %v", body.Status.ResponseTime)
	}
}

func TestRenderJSONDecodesCharset(t *testing.T) {
	// "é" in latin-1 is a single 0xE9 byte
	entry := cache.Entry{
		Body:        []byte{0xE9},
		ContentType: "text/plain",
		StatusCode:  200,
	}
	opts := &RequestOptions{Format: FormatJSON, Charset: "iso-8859-1"}

	out, err := render(opts, entry, 0)
	if err != nil {
		t.Fatal(err)
	}

	var body jsonBody
	if err := json.Unmarshal(out.body, &body); err != nil {
		t.Fatal(err)
	}
	if body.Contents != "é" {
		t.Fatalf("Contents is %q", body.Contents)
	}
	// decoded length, not raw length
	if body.Status.ContentLength != int64(len("é")) {
		t.Fatalf("content_length is %d", body.Status.ContentLength)
	}
}

func TestRenderJSONUnknownCharsetDegrades(t *testing.T) {
	entry := cache.Entry{
		Body:        []byte("Hello world"),
		ContentType: "text/plain",
		StatusCode:  200,
	}
	opts := &RequestOptions{Format: FormatJSON, Charset: "no-such-charset"}

	out, err := render(opts, entry, 0)
	if err != nil {
		t.Fatal(err)
	}

	var body jsonBody
	if err := json.Unmarshal(out.body, &body); err != nil {
		t.Fatal(err)
	}
	if body.Contents != "Hello world" {
		t.Fatalf("Contents is %q", body.Contents)
	}
	if body.Warning == "" {
		t.Fatal("No warning on decode failure")
	}
}

func TestRenderInfoUsesProbeLength(t *testing.T) {
	entry := cache.Entry{
		ContentType:   "text/html",
		ContentLength: 4242,
		StatusCode:    200,
		FinalURL:      "http://example.com/",
	}
	opts := &RequestOptions{Format: FormatInfo, Charset: "utf-8"}

	out, err := render(opts, entry, 0)
	if err != nil {
		t.Fatal(err)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(out.body, &body); err != nil {
		t.Fatal(err)
	}
	if _, ok := body["contents"]; ok {
		t.Fatalf("Info body includes contents: %s", out.body)
	}
	if body["content_length"] != float64(4242) {
		t.Fatalf("content_length is %v", body["content_length"])
	}
}

func TestRenderJSONPFraming(t *testing.T) {
	out, err := renderJSON(map[string]string{"a": "b"}, "handle.it_1", "utf-8")
	if err != nil {
		t.Fatal(err)
	}

	if body := string(out.body); body != `handle.it_1({"a":"b"});` {
		t.Fatalf("Body is %s", body)
	}
	if out.contentType != "application/javascript" {
		t.Fatalf("Content type is %s", out.contentType)
	}
}

func TestRenderJSONContentTypeCarriesCharset(t *testing.T) {
	out, err := renderJSON(map[string]string{}, "", "iso-8859-1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(out.contentType, "charset=iso-8859-1") {
		t.Fatalf("Content type is %s", out.contentType)
	}
}
