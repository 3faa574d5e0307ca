//go:build debug

package debug

import (
	"net/http"
	"testing"
)

func TestRedactHeader(t *testing.T) {
	secretHeaders := []string{
		"Authorization",
		"X-Auth-Token",
		"X-Auth-Key",
	}

	header := make(http.Header)
	header["Authorization"] = []string{"123"}
	header["X-Auth-Token"] = []string{"1234"}
	header["X-Auth-Key"] = []string{"12345"}
	header["Host"] = []string{"my.host"}

	origHeaders := redactHeader(header)

	for _, hdr := range secretHeaders {
		if header[hdr][0] != "**redacted**" {
			t.Fatalf("header %v was not redacted", hdr)
		}
	}
	if header["Host"][0] != "my.host" {
		t.Fatalf("unrelated header was modified")
	}

	restoreHeader(header, origHeaders)
	if header["Authorization"][0] != "123" || header["X-Auth-Token"][0] != "1234" || header["X-Auth-Key"][0] != "12345" {
		t.Fatalf("header was not restored correctly: %v", header)
	}
}
