package models

import "testing"

func TestCompositeCursorRoundTrip(t *testing.T) {
	c := EncodeCompositeCursor("2024-05-01T10:00:00Z", "0b6c9a1e-1111-2222-3333-444455556666")
	ts, id := DecodeCompositeCursor(&c)
	if ts != "2024-05-01T10:00:00Z" || id != "0b6c9a1e-1111-2222-3333-444455556666" {
		t.Fatalf("unexpected decode: %q %q", ts, id)
	}
}

func TestDecodeCompositeCursor_Invalid(t *testing.T) {
	cases := []string{"", "not-base64!!", EncodeCursor("no-separator"), EncodeCursor("ts|")}
	for _, in := range cases {
		in := in
		ts, id := DecodeCompositeCursor(&in)
		if ts != "" || id != "" {
			t.Fatalf("cursor %q: expected empty decode, got %q %q", in, ts, id)
		}
	}
	if ts, id := DecodeCompositeCursor(nil); ts != "" || id != "" {
		t.Fatalf("nil cursor should decode empty")
	}
}
