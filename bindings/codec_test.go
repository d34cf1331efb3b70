package bindings

import "testing"

func TestCodecEncodeDecodeRoundTrip(t *testing.T) {
	c := NewCodec(InternerNone, nil)
	for _, s := range []string{"", "widgets", "\x00embedded-nul-is-fine-before-terminator"} {
		enc := c.Encode(s)
		if len(enc) != len(s)+1 || enc[len(enc)-1] != 0 {
			t.Fatalf("Encode(%q): want a trailing zero byte, got %v", s, enc)
		}
		dec, err := c.Decode(enc)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if dec != s {
			t.Fatalf("round trip: want %q, got %q", s, dec)
		}
	}
}

func TestCodecDecodeRejectsMissingTerminator(t *testing.T) {
	c := NewCodec(InternerNone, nil)
	if _, err := c.Decode([]byte("no-terminator")); err == nil {
		t.Fatalf("Decode must reject a binding with no terminating zero byte")
	}
	if _, err := c.Decode(nil); err == nil {
		t.Fatalf("Decode must reject an empty binding")
	}
}

func TestJavaInternerDeduplicatesByValue(t *testing.T) {
	c := NewCodec(InternerJava, nil)
	a, err := c.Decode(c.Encode("widgets"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	b, err := c.Decode(c.Encode("widgets"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if a != b {
		t.Fatalf("interned strings must be equal: %q vs %q", a, b)
	}
}

func TestXodusInternerRoundTripsThroughCache(t *testing.T) {
	c := NewCodec(InternerXodus, nil)
	got, err := c.Decode(c.Encode("gadgets"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != "gadgets" {
		t.Fatalf("want gadgets, got %q", got)
	}
}
