package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scholarfinder/reviewflow/shared/logger"
)

func testTable() Table {
	t := make(Table, len(AllResources()))
	for _, resource := range AllResources() {
		t[resource] = TTL{StaleAfter: time.Minute, EvictAfter: 10 * time.Minute}
	}
	return t
}

func testCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(testTable(), logger.NewDefault().Logger)
	require.NoError(t, err)
	return c
}

func TestTable_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(Table)
		wantErr string
	}{
		{
			name:   "valid table",
			mutate: func(Table) {},
		},
		{
			name:    "missing resource",
			mutate:  func(tbl Table) { delete(tbl, ResourceShortlists) },
			wantErr: "missing resource type",
		},
		{
			name:    "zero stale window",
			mutate:  func(tbl Table) { tbl[ResourceMetadata] = TTL{StaleAfter: 0, EvictAfter: time.Minute} },
			wantErr: "stale_after must be positive",
		},
		{
			name: "evict not past stale",
			mutate: func(tbl Table) {
				tbl[ResourceKeywords] = TTL{StaleAfter: time.Minute, EvictAfter: time.Minute}
			},
			wantErr: "must exceed stale_after",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl := testTable()
			tt.mutate(tbl)
			err := tbl.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestCache_ReadWriteRoundTrip(t *testing.T) {
	c := testCache(t)

	_, ok := c.Read("inst1", ResourceMetadata)
	assert.False(t, ok)

	c.Write("inst1", ResourceMetadata, "payload")

	entry, ok := c.Read("inst1", ResourceMetadata)
	require.True(t, ok)
	assert.Equal(t, "payload", entry.Payload)
	assert.False(t, entry.Stale)
}

func TestCache_StaleThenEvicted(t *testing.T) {
	c := testCache(t)
	current := time.Unix(1000, 0)
	c.now = func() time.Time { return current }

	c.Write("inst1", ResourceSearchResults, "results")

	// inside stale window: fresh
	current = current.Add(30 * time.Second)
	entry, ok := c.Read("inst1", ResourceSearchResults)
	require.True(t, ok)
	assert.False(t, entry.Stale)

	// past stale, before evict: returned but flagged
	current = current.Add(2 * time.Minute)
	entry, ok = c.Read("inst1", ResourceSearchResults)
	require.True(t, ok)
	assert.True(t, entry.Stale)
	assert.Equal(t, "results", entry.Payload)

	// past evict: gone
	current = current.Add(10 * time.Minute)
	_, ok = c.Read("inst1", ResourceSearchResults)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestCache_WriteRestartsWindows(t *testing.T) {
	c := testCache(t)
	current := time.Unix(1000, 0)
	c.now = func() time.Time { return current }

	c.Write("inst1", ResourceKeywords, "v1")
	current = current.Add(2 * time.Minute)

	c.Write("inst1", ResourceKeywords, "v2")
	current = current.Add(30 * time.Second)

	entry, ok := c.Read("inst1", ResourceKeywords)
	require.True(t, ok)
	assert.Equal(t, "v2", entry.Payload)
	assert.False(t, entry.Stale)
}

func TestCache_InstancesAreIsolated(t *testing.T) {
	c := testCache(t)

	c.Write("inst1", ResourceMetadata, "one")
	c.Write("inst2", ResourceMetadata, "two")

	c.InvalidateAll("inst1")

	_, ok := c.Read("inst1", ResourceMetadata)
	assert.False(t, ok)

	entry, ok := c.Read("inst2", ResourceMetadata)
	require.True(t, ok)
	assert.Equal(t, "two", entry.Payload)
}

func TestCache_SelectiveInvalidation(t *testing.T) {
	c := testCache(t)

	for _, resource := range AllResources() {
		c.Write("inst1", resource, string(resource))
	}

	c.InvalidateFor("inst1", ActionUpload)

	_, ok := c.Read("inst1", ResourceMetadata)
	assert.False(t, ok, "upload must invalidate metadata")
	_, ok = c.Read("inst1", ResourceProcessMeta)
	assert.False(t, ok, "upload must invalidate processMeta")

	// everything else untouched
	for _, resource := range []ResourceType{
		ResourceKeywords, ResourceSearchResults, ResourceValidation,
		ResourceRecommendations, ResourceShortlists,
	} {
		_, ok := c.Read("inst1", resource)
		assert.True(t, ok, "upload must not invalidate %s", resource)
	}
}

func TestResourcesFor(t *testing.T) {
	tests := []struct {
		action Action
		want   []ResourceType
	}{
		{action: ActionUpload, want: []ResourceType{ResourceMetadata, ResourceProcessMeta}},
		{action: ActionValidation, want: []ResourceType{ResourceValidation, ResourceRecommendations}},
		{action: ActionShortlistChange, want: []ResourceType{ResourceShortlists}},
		{action: Action("unknown"), want: nil},
	}

	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			assert.Equal(t, tt.want, ResourcesFor(tt.action))
		})
	}
}
