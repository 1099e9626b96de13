package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttributes_String(t *testing.T) {
	t.Parallel()

	a := Attributes{
		"name":   "  Riot Games ",
		"count":  float64(42),
		"number": json.Number("7"),
		"nil":    nil,
	}
	assert.Equal(t, "Riot Games", a.String("name"))
	assert.Equal(t, "42", a.String("count"))
	assert.Equal(t, "7", a.String("number"))
	assert.Equal(t, "", a.String("nil"))
	assert.Equal(t, "", a.String("missing"))
}

func TestAttributes_Strings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		val  any
		want []string
	}{
		{"string slice", []string{"a", " b ", ""}, []string{"a", "b"}},
		{"any slice", []any{"x", nil, "y"}, []string{"x", "y"}},
		{"semicolon cell", "https://a.com; https://b.com", []string{"https://a.com", "https://b.com"}},
		{"pipe cell", "Unity|Unreal", []string{"Unity", "Unreal"}},
		{"single", "only", []string{"only"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := Attributes{"k": tt.val}
			assert.Equal(t, tt.want, a.Strings("k"))
		})
	}
	assert.Nil(t, Attributes{}.Strings("k"))
}

func TestAttributes_Int(t *testing.T) {
	t.Parallel()

	a := Attributes{
		"int":    2006,
		"float":  float64(1999),
		"string": " 2010 ",
		"json":   json.Number("2001"),
		"bad":    "soon",
	}
	for key, want := range map[string]int{"int": 2006, "float": 1999, "string": 2010, "json": 2001} {
		got, ok := a.Int(key)
		require.True(t, ok, key)
		assert.Equal(t, want, got, key)
	}
	_, ok := a.Int("bad")
	assert.False(t, ok)
	_, ok = a.Int("missing")
	assert.False(t, ok)
}

func TestAttributes_Time(t *testing.T) {
	t.Parallel()

	a := Attributes{
		"rfc":  "2020-05-01T10:00:00Z",
		"date": "2011-09-15",
		"year": 2004,
		"text": "soon",
	}

	got, ok := a.Time("rfc")
	require.True(t, ok)
	assert.Equal(t, 2020, got.Year())

	got, ok = a.Time("date")
	require.True(t, ok)
	assert.Equal(t, time.September, got.Month())

	got, ok = a.Time("year")
	require.True(t, ok)
	assert.Equal(t, 2004, got.Year())

	_, ok = a.Time("text")
	assert.False(t, ok)
}

func TestAttributes_Items(t *testing.T) {
	t.Parallel()

	a := Attributes{
		"games": []any{
			map[string]any{"name": "League of Legends", "release_date": "2009-10-27"},
			"Valorant",
			42,
		},
	}
	items := a.Items("games")
	require.Len(t, items, 2)
	assert.Equal(t, "League of Legends", items[0].String("name"))
	assert.Equal(t, "Valorant", items[1].String("name"))

	csv := Attributes{"games": "Celeste; TowerFall"}
	require.Len(t, csv.Items("games"), 2)
}

func TestAttributes_Unknown(t *testing.T) {
	t.Parallel()

	a := Attributes{"name": "Supergiant", "twitter": "@SupergiantGames", "employees": 20}
	assert.Equal(t, map[string]any{"twitter": "@SupergiantGames", "employees": 20}, a.Unknown())
	assert.Nil(t, Attributes{"name": "x"}.Unknown())
}
