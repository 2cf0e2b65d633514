package callapi_test

import (
	"testing"

	"github.com/fivetwenty-io/callapi/pkg/callapi"
	"github.com/stretchr/testify/assert"
)

func TestDeriveKey(t *testing.T) {
	t.Parallel()

	t.Run("endpoint only", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, `["/users"]`, callapi.DeriveKey("/users", nil).String())
		assert.Equal(t, `["/users"]`, callapi.DeriveKey("/users", callapi.Params{}).String())
		assert.Equal(t, `["/users"]`, callapi.DeriveKey("/users", callapi.Params{"a": nil}).String())
	})

	t.Run("params included", func(t *testing.T) {
		t.Parallel()

		key := callapi.DeriveKey("/users", callapi.Params{"page": 1, "q": nil})
		assert.Equal(t, `["/users",{"page":1}]`, key.String())
	})

	t.Run("map order does not matter", func(t *testing.T) {
		t.Parallel()

		a := callapi.DeriveKey("/users", map[string]any{"a": 1, "b": "x"})
		b := callapi.DeriveKey("/users", map[string]any{"b": "x", "a": 1})

		assert.True(t, a.Equal(b))
		assert.Equal(t, a.Hash(), b.Hash())
	})

	t.Run("different inputs differ", func(t *testing.T) {
		t.Parallel()

		a := callapi.DeriveKey("/users", callapi.Params{"page": 1})
		b := callapi.DeriveKey("/users", callapi.Params{"page": 2})

		assert.False(t, a.Equal(b))
		assert.NotEqual(t, a.Hash(), b.Hash())
	})
}

func TestKeyForRequest(t *testing.T) {
	t.Parallel()

	get := &callapi.RequestDescriptor{Params: callapi.Params{"id": 1}}
	post := &callapi.RequestDescriptor{
		Method: callapi.MethodPost,
		Params: callapi.Params{"id": 1},
		Body:   map[string]any{"name": "x"},
	}

	assert.Equal(t, `["/items",{"id":1}]`, callapi.KeyForRequest("/items", get).String())
	assert.Equal(t, `["/items",{"name":"x"}]`, callapi.KeyForRequest("/items", post).String())
	assert.Equal(t, `["/items"]`, callapi.KeyForRequest("/items", nil).String())
}

func TestQueryKey_HasPrefix(t *testing.T) {
	t.Parallel()

	users := callapi.NewKeyFactory("users")

	assert.True(t, users.Detail(5).HasPrefix(users.All()))
	assert.True(t, users.Detail(5).HasPrefix(users.Details()))
	assert.True(t, users.List(map[string]any{"page": 1}).HasPrefix(users.Lists()))
	assert.False(t, users.Detail(5).HasPrefix(users.Lists()))
	assert.False(t, users.All().HasPrefix(users.Details()))
	assert.True(t, users.Detail(5).HasPrefix(callapi.QueryKey{}))
}

func TestKeyFactory(t *testing.T) {
	t.Parallel()

	orders := callapi.NewKeyFactory("orders")

	assert.Equal(t, `["orders"]`, orders.All().String())
	assert.Equal(t, `["orders","list"]`, orders.Lists().String())
	assert.Equal(t, `["orders","list",{}]`, orders.List(nil).String())
	assert.Equal(t, `["orders","list",{"status":"open"}]`, orders.List(map[string]any{"status": "open", "x": nil}).String())
	assert.Equal(t, `["orders","detail","o-1"]`, orders.Detail("o-1").String())
}

func TestQueryKey_AppendDoesNotAlias(t *testing.T) {
	t.Parallel()

	base := make(callapi.QueryKey, 1, 4)
	base[0] = "users"

	a := base.Append("a")
	b := base.Append("b")

	assert.Equal(t, `["users","a"]`, a.String())
	assert.Equal(t, `["users","b"]`, b.String())
}
