package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	data := map[string]interface{}{
		"name": "order",
		"user": map[string]interface{}{
			"address": map[string]interface{}{"city": "Lisbon"},
		},
		"a.b": "literal",
	}

	tests := []struct {
		name  string
		path  string
		want  interface{}
		found bool
	}{
		{"plain key", "name", "order", true},
		{"nested path", "user.address.city", "Lisbon", true},
		{"jsonpath", "$.user.address.city", "Lisbon", true},
		{"literal dotted key wins", "a.b", "literal", true},
		{"missing key", "missing", nil, false},
		{"missing nested", "user.phone", nil, false},
		{"empty path", "", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Lookup(data, tt.path)
			assert.Equal(t, tt.found, ok)
			if tt.found {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestApplyPassesThroughUnmapped(t *testing.T) {
	src := map[string]interface{}{
		"query": "hello",
		"meta":  map[string]interface{}{"lang": "en"},
	}

	out := Apply(src, map[string]string{
		"question": "query",
		"language": "meta.lang",
		"ignored":  "does.not.exist",
	})

	assert.Equal(t, "hello", out["question"])
	assert.Equal(t, "en", out["language"])
	assert.Equal(t, "hello", out["query"])
	assert.NotContains(t, out, "ignored")
	assert.NotContains(t, src, "question", "source must not be modified")
}

func TestExtractKeepsOnlyTargets(t *testing.T) {
	src := map[string]interface{}{"body": map[string]interface{}{"status": "approved"}, "other": 1}

	out := Extract(src, map[string]string{"decision": "body.status"})

	assert.Equal(t, map[string]interface{}{"decision": "approved"}, out)
}

func TestCloneMapIsDeep(t *testing.T) {
	src := map[string]interface{}{
		"nested": map[string]interface{}{"k": "v"},
		"list":   []interface{}{map[string]interface{}{"x": 1}},
	}

	cp := CloneMap(src)
	cp["nested"].(map[string]interface{})["k"] = "changed"
	cp["list"].([]interface{})[0].(map[string]interface{})["x"] = 2

	require.Equal(t, "v", src["nested"].(map[string]interface{})["k"])
	require.Equal(t, 1, src["list"].([]interface{})[0].(map[string]interface{})["x"])
}

func TestWithoutReserved(t *testing.T) {
	out := WithoutReserved(map[string]interface{}{"__input__": 1, "x": 2})
	assert.Equal(t, map[string]interface{}{"x": 2}, out)
}
