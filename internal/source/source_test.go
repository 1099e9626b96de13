package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/studio-catalog/internal/fetcher"
	"github.com/sells-group/studio-catalog/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func day(d int) time.Time {
	return time.Date(2024, 5, d, 0, 0, 0, 0, time.UTC)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func fullSync() model.IngestionJob {
	return model.IngestionJob{Type: model.JobFullSync}
}

func TestSelect(t *testing.T) {
	records := []model.RawEntity{
		{SourceEntityID: "a", LastUpdated: day(1)},
		{SourceEntityID: "b", LastUpdated: day(5)},
		{SourceEntityID: "c"},
		{SourceEntityID: "d", LastUpdated: day(9)},
	}
	cutoff := day(4)

	ids := func(rs []model.RawEntity) []string {
		var out []string
		for _, r := range rs {
			out = append(out, r.SourceEntityID)
		}
		return out
	}

	tests := []struct {
		name string
		job  model.IngestionJob
		want []string
	}{
		{name: "full sync", job: fullSync(), want: []string{"a", "b", "c", "d"}},
		{name: "full sync limit", job: model.IngestionJob{Type: model.JobFullSync, Options: model.JobOptions{Limit: 2}}, want: []string{"a", "b"}},
		{name: "incremental", job: model.IngestionJob{Type: model.JobIncremental, Options: model.JobOptions{Since: &cutoff}}, want: []string{"b", "c", "d"}},
		{name: "incremental without since", job: model.IngestionJob{Type: model.JobIncremental}, want: []string{"a", "b", "c", "d"}},
		{name: "single entity", job: model.IngestionJob{Type: model.JobSingleEntity, Options: model.JobOptions{EntityID: "d"}}, want: []string{"d"}},
		{name: "single entity missing", job: model.IngestionJob{Type: model.JobSingleEntity, Options: model.JobOptions{EntityID: "zz"}}, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(Select(tt.job, records)))
		})
	}
}

func TestConfig_ToRaw(t *testing.T) {
	cfg := Config{ID: "igdb"}
	r := cfg.toRaw(model.Attributes{"id": 42.0, "name": "Valve", "updated_at": "2024-05-01"})
	assert.Equal(t, "igdb", r.SourceID)
	assert.Equal(t, "42", r.SourceEntityID)
	assert.Equal(t, day(1), r.LastUpdated)
	assert.Equal(t, model.Attributes{"name": "Valve"}, r.Attributes)

	r = cfg.toRaw(model.Attributes{"name": "Supergiant Games, LLC"})
	assert.Equal(t, "supergiant games", r.SourceEntityID)
	assert.True(t, r.LastUpdated.IsZero())

	custom := Config{ID: "steam", IDField: "appid", UpdatedField: "modified"}
	r = custom.toRaw(model.Attributes{"appid": "570", "modified": "2024-05-03", "id": "kept"})
	assert.Equal(t, "570", r.SourceEntityID)
	assert.Equal(t, day(3), r.LastUpdated)
	assert.Equal(t, "kept", r.Attributes.String("id"))
}

func TestConfig_Format(t *testing.T) {
	assert.Equal(t, "json", Config{URL: "https://x/studios.JSON?page=1"}.format())
	assert.Equal(t, "xlsx", Config{URL: "/data/export.xlsx"}.format())
	assert.Equal(t, "xml", Config{URL: "https://x/feed", Format: "XML"}.format())
	assert.Equal(t, "", Config{URL: "https://x/feed"}.format())
}

func TestFeed_JSONOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		if r.Method == http.MethodHead {
			return
		}
		_, _ = w.Write([]byte(`{"count":2,"results":[
			{"id":1,"name":"Riot Games","games":[{"name":"Valorant","release_date":"2020-06-02"}],"updated_at":"2024-05-01"},
			{"id":2,"name":"Valve","website":"valvesoftware.com","updated_at":"2024-05-07"}
		]}`))
	}))
	defer srv.Close()

	src, err := Build(Config{
		ID:         "igdb",
		Kind:       KindFeed,
		URL:        srv.URL + "/studios.json",
		RecordsKey: "results",
		Headers:    map[string]string{"Authorization": "Bearer k"},
	}, Deps{})
	require.NoError(t, err)
	require.NoError(t, src.TestConnection(context.Background()))

	cutoff := day(5)
	recs, err := src.FetchData(context.Background(), model.IngestionJob{Type: model.JobIncremental, Options: model.JobOptions{Since: &cutoff}})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "2", recs[0].SourceEntityID)
	assert.Equal(t, "Valve", recs[0].Attributes.String("name"))

	recs, err = src.FetchData(context.Background(), fullSync())
	require.NoError(t, err)
	require.Len(t, recs, 2)
	games := recs[0].Attributes.Items("games")
	require.Len(t, games, 1)
	assert.Equal(t, "Valorant", games[0].String("name"))
}

func TestFeed_XMLFile(t *testing.T) {
	path := writeFile(t, "studios.xml", `<?xml version="1.0"?>
<catalog>
  <studio>
    <id>remedy</id>
    <name>Remedy Entertainment</name>
    <location>Espoo, Finland</location>
    <website>https://remedygames.com</website>
    <website>http://www.remedygames.com</website>
    <games><game>Control</game></games>
    <technologies><technology>Northlight</technology></technologies>
  </studio>
  <studio>
    <id>supercell</id>
    <name>Supercell</name>
    <games>
      <game><name>Clash of Clans</name><platforms>iOS; Android</platforms></game>
      <game><name>Brawl Stars</name></game>
    </games>
  </studio>
</catalog>`)

	src, err := Build(Config{ID: "wikidata", Kind: KindFeed, URL: path}, Deps{Fetch: fetcher.NewMux(nil, nil)})
	require.NoError(t, err)
	require.NoError(t, src.TestConnection(context.Background()))

	recs, err := src.FetchData(context.Background(), fullSync())
	require.NoError(t, err)
	require.Len(t, recs, 2)

	remedy := recs[0].Attributes
	assert.Equal(t, "remedy", recs[0].SourceEntityID)
	assert.Equal(t, []string{"https://remedygames.com", "http://www.remedygames.com"}, remedy.Strings("website"))
	assert.Equal(t, []string{"Control"}, remedy.Strings("games"))
	assert.Equal(t, []string{"Northlight"}, remedy.Strings("technologies"))

	games := recs[1].Attributes.Items("games")
	require.Len(t, games, 2)
	assert.Equal(t, "Clash of Clans", games[0].String("name"))
	assert.Equal(t, []string{"iOS", "Android"}, games[0].Strings("platforms"))
}

func TestFeed_CSVSingleEntity(t *testing.T) {
	path := writeFile(t, "studios.csv", "ID,Name,Games\n10,Mojang,Minecraft\n11,Supergiant Games,Hades; Bastion\n")

	src, err := Build(Config{ID: "steam", Kind: KindFeed, URL: "file://" + path}, Deps{Fetch: fetcher.NewMux(nil, nil)})
	require.NoError(t, err)

	recs, err := src.FetchData(context.Background(), model.IngestionJob{Type: model.JobSingleEntity, Options: model.JobOptions{EntityID: "11"}})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, []string{"Hades", "Bastion"}, recs[0].Attributes.Strings("games"))
}

func TestFeed_Errors(t *testing.T) {
	_, err := NewFeed(Config{ID: "x"}, fetcher.NewMux(nil, nil))
	assert.ErrorContains(t, err, "needs a url")
	_, err = NewFeed(Config{ID: "x", URL: "https://x/feed.yaml"}, fetcher.NewMux(nil, nil))
	assert.ErrorContains(t, err, "unsupported feed format")

	path := writeFile(t, "broken.json", `{"results": [`)
	src, err := NewFeed(Config{ID: "x", URL: path, RecordsKey: "results"}, fetcher.NewMux(nil, nil))
	require.NoError(t, err)
	_, err = src.FetchData(context.Background(), fullSync())
	assert.ErrorContains(t, err, "source x: decode json")

	src, err = NewFeed(Config{ID: "x", URL: path + ".missing.json"}, fetcher.NewMux(nil, nil))
	require.NoError(t, err)
	assert.Error(t, src.TestConnection(context.Background()))
	_, err = src.FetchData(context.Background(), fullSync())
	assert.ErrorContains(t, err, "source x: download")
}

func TestSheet_XLSX(t *testing.T) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Studios")
	require.NoError(t, err)
	for _, row := range [][]string{
		{"Name", "Location", "Founded Year", "Updated At"},
		{"CD Projekt Red", "Warsaw, Poland", "2002", "2024-05-02"},
		{"Remedy", "Espoo, Finland", "1995", "2024-05-06"},
	} {
		r := sheet.AddRow()
		for _, cell := range row {
			r.AddCell().SetString(cell)
		}
	}
	path := filepath.Join(t.TempDir(), "studios.xlsx")
	require.NoError(t, f.Save(path))

	src, err := Build(Config{ID: "manual", Kind: KindSheet, URL: path, Sheet: "Studios", Name: "Manual entries"}, Deps{Fetch: fetcher.NewMux(nil, nil)})
	require.NoError(t, err)
	assert.Equal(t, "Manual entries", src.Info().Name)
	require.NoError(t, src.TestConnection(context.Background()))

	recs, err := src.FetchData(context.Background(), model.IngestionJob{Type: model.JobFullSync, Options: model.JobOptions{Limit: 1}})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "cd projekt red", recs[0].SourceEntityID)
	assert.Equal(t, day(2), recs[0].LastUpdated)
	year, ok := recs[0].Attributes.Int("founded_year")
	assert.True(t, ok)
	assert.Equal(t, 2002, year)
}

func TestSheet_CSVAndErrors(t *testing.T) {
	path := writeFile(t, "export.csv", "name,city\nRemedy,Espoo\n")
	src, err := NewSheet(Config{ID: "s", URL: path}, fetcher.NewMux(nil, nil))
	require.NoError(t, err)
	recs, err := src.FetchData(context.Background(), fullSync())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Espoo", recs[0].Attributes.String("city"))

	_, err = NewSheet(Config{ID: "s", URL: "/data/export.json"}, fetcher.NewMux(nil, nil))
	assert.ErrorContains(t, err, "unsupported sheet format")
	_, err = NewSheet(Config{ID: "s"}, fetcher.NewMux(nil, nil))
	assert.Error(t, err)

	bad := writeFile(t, "bad.xlsx", "not a workbook")
	src, err = NewSheet(Config{ID: "s", URL: bad}, fetcher.NewMux(nil, nil))
	require.NoError(t, err)
	_, err = src.FetchData(context.Background(), fullSync())
	assert.ErrorContains(t, err, "read workbook")
}

func TestCurated(t *testing.T) {
	wrapped := writeFile(t, "curated.yaml", `
studios:
  - id: supergiant
    name: Supergiant Games
    location: San Francisco, CA
    founded: 2009
    websites: [https://supergiantgames.com]
    games:
      - name: Hades
        release_date: 2020-09-17
        platforms: [PC, Switch]
    tags: [award-winning]
  - name: Mojang Studios
`)
	src, err := Build(Config{ID: "manual", Kind: KindCurated, URL: wrapped, DataQuality: 0.95}, Deps{Fetch: fetcher.NewMux(nil, nil)})
	require.NoError(t, err)
	assert.InDelta(t, 0.95, src.Info().DataQuality, 1e-9)

	recs, err := src.FetchData(context.Background(), fullSync())
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "supergiant", recs[0].SourceEntityID)
	year, ok := recs[0].Attributes.Int("founded")
	assert.True(t, ok)
	assert.Equal(t, 2009, year)
	games := recs[0].Attributes.Items("games")
	require.Len(t, games, 1)
	assert.Equal(t, []string{"PC", "Switch"}, games[0].Strings("platforms"))
	assert.Contains(t, recs[0].Attributes.Unknown(), "tags")
	assert.Equal(t, "mojang", recs[1].SourceEntityID)

	list := writeFile(t, "list.yaml", "- name: Valve\n- name: Remedy\n")
	src, err = NewCurated(Config{ID: "manual", URL: list}, fetcher.NewMux(nil, nil))
	require.NoError(t, err)
	recs, err = src.FetchData(context.Background(), fullSync())
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	empty := writeFile(t, "empty.yaml", "\n")
	src, err = NewCurated(Config{ID: "manual", URL: empty}, fetcher.NewMux(nil, nil))
	require.NoError(t, err)
	recs, err = src.FetchData(context.Background(), fullSync())
	require.NoError(t, err)
	assert.Empty(t, recs)

	bad := writeFile(t, "bad.yaml", "studios: [name: : x")
	src, err = NewCurated(Config{ID: "manual", URL: bad}, fetcher.NewMux(nil, nil))
	require.NoError(t, err)
	_, err = src.FetchData(context.Background(), fullSync())
	assert.Error(t, err)
}

func TestBuild_Errors(t *testing.T) {
	_, err := Build(Config{Kind: KindFeed}, Deps{})
	assert.ErrorContains(t, err, "missing id")
	_, err = Build(Config{ID: "x", Kind: "ftp"}, Deps{})
	assert.ErrorContains(t, err, "unknown kind")
	_, err = Build(Config{ID: "x", Kind: KindNotion, NotionDatabase: "db"}, Deps{})
	assert.ErrorContains(t, err, "needs a token")
	_, err = Build(Config{ID: "x", Kind: KindFeed}, Deps{})
	assert.ErrorContains(t, err, "needs a url")
}
