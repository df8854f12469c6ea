package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	ttl := time.Hour
	c := New(ttl)

	if c == nil {
		t.Fatal("New returned nil")
	}
	if c.ttl != ttl {
		t.Errorf("expected TTL %v, got %v", ttl, c.ttl)
	}
	if c.entries == nil {
		t.Error("entries map not initialized")
	}
}

func TestCache_SetAndGet(t *testing.T) {
	c := New(time.Hour)

	c.Set("config:acme/widgets", "limits-doc")
	val, found := c.Get("config:acme/widgets")
	if !found {
		t.Fatal("expected to find key")
	}
	if val != "limits-doc" {
		t.Errorf("expected limits-doc, got %v", val)
	}

	val, found = c.Get("config:other/repo")
	if found {
		t.Error("expected miss for unknown key")
	}
	if val != nil {
		t.Errorf("expected nil value on miss, got %v", val)
	}
}

func TestCache_SetOverwrite(t *testing.T) {
	c := New(time.Hour)

	c.Set("branch:acme/widgets", "main")
	c.Set("branch:acme/widgets", "trunk")

	val, found := c.Get("branch:acme/widgets")
	if !found {
		t.Fatal("expected to find key")
	}
	if val != "trunk" {
		t.Errorf("expected overwritten value, got %v", val)
	}
}

func TestCache_SetWithTTL_Expires(t *testing.T) {
	c := New(time.Hour)

	c.SetWithTTL("short", "lived", 50*time.Millisecond)

	if _, found := c.Get("short"); !found {
		t.Fatal("expected fresh entry to be found")
	}

	time.Sleep(80 * time.Millisecond)

	if val, found := c.Get("short"); found {
		t.Errorf("expected entry to expire, got %v", val)
	}
	// The expired read also evicts the entry.
	c.mu.RLock()
	_, still := c.entries["short"]
	c.mu.RUnlock()
	if still {
		t.Error("expired entry not evicted on read")
	}
}

func TestCache_ZeroAndNilValues(t *testing.T) {
	c := New(time.Hour)

	c.Set("empty", "")
	if val, found := c.Get("empty"); !found || val != "" {
		t.Errorf("empty string: found=%v val=%v", found, val)
	}

	c.Set("nil", nil)
	if _, found := c.Get("nil"); !found {
		t.Error("nil value should still count as a hit")
	}
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New(time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			c.Set(fmt.Sprintf("key%d", n), n)
		}(i)
		go func(n int) {
			defer wg.Done()
			c.Get(fmt.Sprintf("key%d", n))
		}(i)
	}
	wg.Wait()

	for i := 0; i < 50; i++ {
		if _, found := c.Get(fmt.Sprintf("key%d", i)); !found {
			t.Errorf("key%d missing after concurrent writes", i)
		}
	}
}

// The recommended TTLs are part of the freshness contract: config edits
// take effect within minutes while stable metadata is cached for hours.
func TestRecommendedTTLs(t *testing.T) {
	if TTLRepoConfig != 5*time.Minute {
		t.Errorf("TTLRepoConfig = %v", TTLRepoConfig)
	}
	if TTLRepoContext != 1*time.Hour {
		t.Errorf("TTLRepoContext = %v", TTLRepoContext)
	}
	if TTLPullRequestFiles != 6*time.Hour {
		t.Errorf("TTLPullRequestFiles = %v", TTLPullRequestFiles)
	}
	if TTLRepoMetadata != 12*time.Hour {
		t.Errorf("TTLRepoMetadata = %v", TTLRepoMetadata)
	}
}
