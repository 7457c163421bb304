package cache

import (
	"net/url"
	"testing"
)

func TestCacheKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  CacheKey
		want string
	}{
		{
			name: "endpoint only",
			key:  CacheKey{Endpoint: "/2016/acs/acs5/variables.json"},
			want: "census:2016/acs/acs5/variables.json",
		},
		{
			name: "query params sorted",
			key: CacheKey{
				Endpoint: "/2016/acs/acs5",
				QueryParams: url.Values{
					"in":  []string{"state:01"},
					"get": []string{"NAME"},
					"for": []string{"county:*"},
				},
			},
			want: "census:2016/acs/acs5:for=county:*:get=NAME:in=state:01",
		},
		{
			name: "api key excluded",
			key: CacheKey{
				Endpoint: "/2016/acs/acs5",
				QueryParams: url.Values{
					"get": []string{"B01001_001E"},
					"key": []string{"secret"},
				},
			},
			want: "census:2016/acs/acs5:get=B01001_001E",
		},
		{
			name: "multi-valued param keeps order",
			key: CacheKey{
				Endpoint:    "2016/acs/acs5/",
				QueryParams: url.Values{"in": []string{"state:01", "county:001"}},
			},
			want: "census:2016/acs/acs5:in=state:01,county:001",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCacheKey_Deterministic(t *testing.T) {
	key := CacheKey{
		Endpoint: "/2016/acs/acs5",
		QueryParams: url.Values{
			"get": []string{"B01001_001E,B01001_002E"},
			"for": []string{"block group:*"},
			"in":  []string{"state:01 county:001 tract:*"},
		},
	}

	first := key.String()
	for i := 0; i < 10; i++ {
		if got := key.String(); got != first {
			t.Fatalf("String() not deterministic: %q vs %q", got, first)
		}
	}
}
