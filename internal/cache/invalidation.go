package cache

// Action names a completed workflow action for invalidation purposes
type Action string

const (
	ActionUpload          Action = "upload"
	ActionKeywordEnhance  Action = "keyword_enhance"
	ActionKeywordString   Action = "keyword_string"
	ActionDatabaseSearch  Action = "database_search"
	ActionManualAuthor    Action = "manual_author"
	ActionValidation      Action = "validation"
	ActionShortlistChange Action = "shortlist_change"
)

// invalidationTable maps each workflow action to the resource types it can
// have changed. Anything not listed stays cached; completing an upload must
// never touch recommendations, and vice versa.
var invalidationTable = map[Action][]ResourceType{
	ActionUpload:          {ResourceMetadata, ResourceProcessMeta},
	ActionKeywordEnhance:  {ResourceKeywords, ResourceProcessMeta},
	ActionKeywordString:   {ResourceKeywords},
	ActionDatabaseSearch:  {ResourceSearchResults, ResourceProcessMeta},
	ActionManualAuthor:    {ResourceSearchResults, ResourceShortlists},
	ActionValidation:      {ResourceValidation, ResourceRecommendations},
	ActionShortlistChange: {ResourceShortlists},
}

// ResourcesFor returns the resource types action invalidates
func ResourcesFor(action Action) []ResourceType {
	return invalidationTable[action]
}

// InvalidateFor applies the selective invalidation for one completed action
func (c *Cache) InvalidateFor(instance string, action Action) {
	c.Invalidate(instance, invalidationTable[action]...)
}
