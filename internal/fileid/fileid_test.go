package fileid

import (
	"strings"
	"testing"
)

func TestChecksum(t *testing.T) {
	id1 := Checksum([]byte("hello"))
	id2 := Checksum([]byte("hello"))
	if id1 != id2 {
		t.Errorf("same content should give same checksum: %q vs %q", id1, id2)
	}
	if !strings.HasPrefix(id1, prefix) {
		t.Errorf("checksum should have prefix %q: got %q", prefix, id1)
	}
	if len(id1) != len(prefix)+64 {
		t.Errorf("unexpected checksum length: %q", id1)
	}
}

func TestChecksum_differentContent(t *testing.T) {
	if Checksum([]byte("a")) == Checksum([]byte("b")) {
		t.Error("different content should give different checksums")
	}
}

func TestChecksum_empty(t *testing.T) {
	// sha256 of the empty string
	want := prefix + "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := Checksum(nil); got != want {
		t.Errorf("empty checksum = %s, want %s", got, want)
	}
}
