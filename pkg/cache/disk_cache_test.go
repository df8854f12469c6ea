package cache

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewDiskCache(t *testing.T) {
	t.Run("absolute directory enables disk tier", func(t *testing.T) {
		dc, err := NewDiskCache(time.Hour, t.TempDir())
		if err != nil {
			t.Fatalf("NewDiskCache: %v", err)
		}
		if !dc.enabled {
			t.Error("expected disk tier to be enabled")
		}
	})

	t.Run("empty directory is memory-only", func(t *testing.T) {
		dc, err := NewDiskCache(time.Hour, "")
		if err != nil {
			t.Fatalf("NewDiskCache: %v", err)
		}
		if dc.enabled {
			t.Error("expected memory-only cache for empty directory")
		}
	})

	t.Run("relative directory is rejected", func(t *testing.T) {
		if _, err := NewDiskCache(time.Hour, "relative/cache/dir"); err == nil {
			t.Error("expected error for relative cache directory")
		}
	})
}

func TestDiskCache_MemoryFirst(t *testing.T) {
	dc, err := NewDiskCache(time.Hour, t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskCache: %v", err)
	}

	dc.SetWithTTL("branch:acme/widgets", "main", time.Hour)

	value, hit := dc.Lookup("branch:acme/widgets")
	if hit != HitMemory {
		t.Errorf("hit = %q, want %q", hit, HitMemory)
	}
	if value != "main" {
		t.Errorf("value = %v, want %q", value, "main")
	}

	if v, found := dc.Get("branch:acme/widgets"); !found || v != "main" {
		t.Errorf("Get = (%v, %v), want (main, true)", v, found)
	}
}

// Disk values survive a JSON round trip, so these tests store strings;
// numeric types come back as float64 after promotion.
func TestDiskCache_PersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()

	first, err := NewDiskCache(time.Hour, dir)
	if err != nil {
		t.Fatalf("NewDiskCache: %v", err)
	}
	first.SetWithTTL("config:acme/widgets", "issue_evals_per_user_per_day: 3", time.Hour)

	second, err := NewDiskCache(time.Hour, dir)
	if err != nil {
		t.Fatalf("NewDiskCache: %v", err)
	}

	value, hit := second.Lookup("config:acme/widgets")
	if hit != HitDisk {
		t.Fatalf("hit = %q, want %q", hit, HitDisk)
	}
	if value != "issue_evals_per_user_per_day: 3" {
		t.Errorf("value = %v, want the stored config", value)
	}

	// The disk hit promotes the entry, so the next lookup is served
	// from memory.
	if _, hit := second.Lookup("config:acme/widgets"); hit != HitMemory {
		t.Errorf("hit after promotion = %q, want %q", hit, HitMemory)
	}
}

func TestDiskCache_ExpiredDiskEntryRemoved(t *testing.T) {
	dir := t.TempDir()

	first, err := NewDiskCache(time.Hour, dir)
	if err != nil {
		t.Fatalf("NewDiskCache: %v", err)
	}
	first.SetWithTTL("branch:acme/widgets", "main", 20*time.Millisecond)

	path := filepath.Join(dir, first.fileKey("branch:acme/widgets")+".json")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected disk entry to exist: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	// Fresh instance so the memory tier cannot mask the disk path.
	second, err := NewDiskCache(time.Hour, dir)
	if err != nil {
		t.Fatalf("NewDiskCache: %v", err)
	}
	if _, hit := second.Lookup("branch:acme/widgets"); hit != HitMiss {
		t.Errorf("hit = %q, want %q for expired entry", hit, HitMiss)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expired entry should be removed from disk, stat err = %v", err)
	}
}

func TestDiskCache_CorruptedFileIgnored(t *testing.T) {
	dir := t.TempDir()

	dc, err := NewDiskCache(time.Hour, dir)
	if err != nil {
		t.Fatalf("NewDiskCache: %v", err)
	}

	path := filepath.Join(dir, dc.fileKey("context:acme/widgets")+".json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, hit := dc.Lookup("context:acme/widgets"); hit != HitMiss {
		t.Errorf("hit = %q, want %q for corrupted file", hit, HitMiss)
	}
}

func TestDiskCache_MemoryOnly(t *testing.T) {
	dc, err := NewDiskCache(time.Hour, "")
	if err != nil {
		t.Fatalf("NewDiskCache: %v", err)
	}

	dc.SetWithTTL("key", "value", time.Hour)

	if v, hit := dc.Lookup("key"); hit != HitMemory || v != "value" {
		t.Errorf("Lookup = (%v, %q), want (value, %q)", v, hit, HitMemory)
	}
	if _, hit := dc.Lookup("missing"); hit != HitMiss {
		t.Errorf("hit = %q, want %q for missing key", hit, HitMiss)
	}
}

func TestDiskCache_AtomicWriteLeavesNoTemp(t *testing.T) {
	dir := t.TempDir()

	dc, err := NewDiskCache(time.Hour, dir)
	if err != nil {
		t.Fatalf("NewDiskCache: %v", err)
	}
	dc.SetWithTTL("files:acme/widgets#7", "pkg/frob/frob.go", time.Hour)

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}

	var jsonFiles, tmpFiles int
	for _, ent := range entries {
		switch {
		case strings.HasSuffix(ent.Name(), ".tmp"):
			tmpFiles++
		case strings.HasSuffix(ent.Name(), ".json"):
			jsonFiles++
		}
	}
	if jsonFiles != 1 {
		t.Errorf("json files = %d, want 1", jsonFiles)
	}
	if tmpFiles != 0 {
		t.Errorf("temp files left behind: %d", tmpFiles)
	}
}

func TestDiskCache_HashedFilenames(t *testing.T) {
	dir := t.TempDir()

	dc, err := NewDiskCache(time.Hour, dir)
	if err != nil {
		t.Fatalf("NewDiskCache: %v", err)
	}

	key := "config:acme/widgets"
	name := dc.fileKey(key)
	if name != dc.fileKey(key) {
		t.Error("fileKey is not deterministic")
	}
	if len(name) != 64 {
		t.Errorf("fileKey length = %d, want 64", len(name))
	}
	for _, r := range name {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			t.Fatalf("fileKey contains non-hex character %q", r)
		}
	}
	if dc.fileKey("config:acme/widgets") == dc.fileKey("config:acme/gadgets") {
		t.Error("distinct keys should hash to distinct filenames")
	}

	dc.SetWithTTL(key, "value", time.Hour)
	if _, err := os.Stat(filepath.Join(dir, name+".json")); err != nil {
		t.Errorf("expected file at hashed path: %v", err)
	}
}

func TestDiskCache_UnmarshalableValue(t *testing.T) {
	dir := t.TempDir()

	dc, err := NewDiskCache(time.Hour, dir)
	if err != nil {
		t.Fatalf("NewDiskCache: %v", err)
	}

	// Channels cannot be marshaled; the value stays memory-only.
	dc.SetWithTTL("bad", make(chan int), time.Hour)

	if _, hit := dc.Lookup("bad"); hit != HitMemory {
		t.Errorf("hit = %q, want %q from memory tier", hit, HitMemory)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("unmarshalable value should not reach disk, found %d files", len(entries))
	}
}
