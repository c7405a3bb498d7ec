package httpx

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExpectedVersion(t *testing.T) {
	cases := []struct {
		header  string
		version int64
		present bool
		wantErr bool
	}{
		{``, 0, false, false},
		{`"3"`, 3, true, false},
		{`3`, 3, true, false},
		{`W/"12"`, 12, true, false},
		{`"abc"`, 0, true, true},
		{`"-1"`, 0, true, true},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPut, "/x", nil)
		if tc.header != "" {
			req.Header.Set("If-Match", tc.header)
		}
		v, present, err := ExpectedVersion(req)
		if present != tc.present {
			t.Fatalf("%q: present=%v, want %v", tc.header, present, tc.present)
		}
		if (err != nil) != tc.wantErr {
			t.Fatalf("%q: err=%v, wantErr=%v", tc.header, err, tc.wantErr)
		}
		if err == nil && v != tc.version {
			t.Fatalf("%q: version=%d, want %d", tc.header, v, tc.version)
		}
	}
}

func TestExpectedToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodPut, "/x", nil)
	req.Header.Set("If-Match", `"tok-42"`)
	tok, ok := ExpectedToken(req)
	if !ok || tok != "tok-42" {
		t.Fatalf("got %q/%v", tok, ok)
	}
}

func TestVersionETagRoundTrip(t *testing.T) {
	rw := httptest.NewRecorder()
	SetVersionETag(rw, 7)
	req := httptest.NewRequest(http.MethodPut, "/x", nil)
	req.Header.Set("If-Match", rw.Header().Get("ETag"))
	v, present, err := ExpectedVersion(req)
	if err != nil || !present || v != 7 {
		t.Fatalf("round trip: v=%d present=%v err=%v", v, present, err)
	}
}

func TestWriteVersionConflict(t *testing.T) {
	rw := httptest.NewRecorder()
	WriteVersionConflict(rw, 5)
	if rw.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rw.Code)
	}
	if got := rw.Body.String(); got == "" {
		t.Fatal("expected a body naming the current version")
	}
}
