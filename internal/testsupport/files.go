package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// mediaHeader mimics the start of an ISO base media file so staged fixtures
// are distinguishable from stray padding when a test inspects what landed on
// disk.
var mediaHeader = []byte{
	0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p',
	'i', 's', 'o', 'm', 0x00, 0x00, 0x02, 0x00,
	'i', 's', 'o', 'm', 'm', 'p', '4', '1',
}

// WriteMediaFixture creates a stub media file of the requested size: the
// container header followed by zero padding. Sizes below the header length
// truncate it.
func WriteMediaFixture(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = int64(len(mediaHeader))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}

	payload := make([]byte, size)
	copy(payload, mediaHeader)
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
