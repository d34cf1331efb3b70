package txlog

import (
	"context"
	"testing"
)

func TestMemLogAppendReadRoundTrip(t *testing.T) {
	l := NewMemLog()
	ctx := context.Background()

	addr1, err := l.Append(ctx, []byte("first"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	addr2, err := l.Append(ctx, []byte("second"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if addr2 <= addr1 {
		t.Fatalf("addresses must be monotonically increasing: %d, %d", addr1, addr2)
	}

	got, err := l.Read(ctx, addr1)
	if err != nil || string(got) != "first" {
		t.Fatalf("Read(addr1): got (%q,%v)", got, err)
	}
	got, err = l.Read(ctx, addr2)
	if err != nil || string(got) != "second" {
		t.Fatalf("Read(addr2): got (%q,%v)", got, err)
	}

	if l.HighAddress() != addr2+Address(len("second")) {
		t.Fatalf("HighAddress: want one past the last record")
	}
}

func TestMemLogSetHighAddressTruncates(t *testing.T) {
	l := NewMemLog()
	ctx := context.Background()

	addr1, _ := l.Append(ctx, []byte("keep"))
	_, _ = l.Append(ctx, []byte("discard"))

	if err := l.SetHighAddress(addr1 + Address(len("keep"))); err != nil {
		t.Fatalf("SetHighAddress: %v", err)
	}
	if l.HighAddress() != addr1+Address(len("keep")) {
		t.Fatalf("HighAddress after truncation: got %d", l.HighAddress())
	}
	if _, err := l.Read(ctx, addr1); err != nil {
		t.Fatalf("Read of the retained record must still succeed: %v", err)
	}
}

func TestMemLogSetHighAddressRejectsPastHigh(t *testing.T) {
	l := NewMemLog()
	if err := l.SetHighAddress(100); err == nil {
		t.Fatalf("SetHighAddress must reject an address beyond the current high mark")
	}
}

func TestMemLogClearResetsHighAddress(t *testing.T) {
	l := NewMemLog()
	ctx := context.Background()
	_, _ = l.Append(ctx, []byte("data"))
	if err := l.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if l.HighAddress() != 0 {
		t.Fatalf("HighAddress after Clear: want 0, got %d", l.HighAddress())
	}
}

func TestMemLogCacheHitRateTracksReads(t *testing.T) {
	l := NewMemLog()
	ctx := context.Background()
	if l.CacheHitRate() != 0 {
		t.Fatalf("CacheHitRate with no reads must be 0")
	}
	addr, _ := l.Append(ctx, []byte("x"))
	if _, err := l.Read(ctx, addr); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if l.CacheHitRate() != 1 {
		t.Fatalf("every successful MemLog read counts as a hit, got %f", l.CacheHitRate())
	}
}
