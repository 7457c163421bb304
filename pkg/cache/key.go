package cache

import (
	"net/url"
	"sort"
	"strings"
)

// credentialParam is the query parameter carrying the API key.
const credentialParam = "key"

// CacheKey represents a unique identifier for a cached Census API response.
type CacheKey struct {
	// Endpoint is the dataset path (e.g., "/2016/acs/acs5")
	Endpoint string

	// QueryParams are the query parameters (e.g., {"get": "NAME", "for": "county:*"})
	QueryParams url.Values
}

// String generates a deterministic cache key string.
// Format: census:endpoint:param1=val1:param2=val2a,val2b
//
// Example:
//
//	census:2016/acs/acs5:for=county:*:get=NAME:in=state:01
func (k CacheKey) String() string {
	parts := []string{"census"}

	endpoint := strings.Trim(k.Endpoint, "/")
	if endpoint != "" {
		parts = append(parts, endpoint)
	}

	if len(k.QueryParams) > 0 {
		queryKeys := make([]string, 0, len(k.QueryParams))
		for key := range k.QueryParams {
			if key == credentialParam {
				continue
			}
			queryKeys = append(queryKeys, key)
		}
		sort.Strings(queryKeys)

		for _, key := range queryKeys {
			parts = append(parts, key+"="+strings.Join(k.QueryParams[key], ","))
		}
	}

	return strings.Join(parts, ":")
}
