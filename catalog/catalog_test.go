package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/use-agent/otakuscrape/extractor"
	"github.com/use-agent/otakuscrape/models"
)

func TestBuiltinCatalog(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	wantEndpoints := map[string][]string{
		"manhwaindo": {"latest", "popular", "project", "lastupdate", "series-list", "genres", "series", "chapter", "search"},
		"otakudesu":  {"ongoing", "complete", "anime", "episode", "search", "schedule", "genres"},
		"anoboy":     {"ongoing", "detail", "search"},
	}
	for site, eps := range wantEndpoints {
		s, ok := c.Site(site)
		if !ok {
			t.Errorf("site %s missing", site)
			continue
		}
		for _, name := range eps {
			ep, ok := s.Endpoint(name)
			if !ok {
				t.Errorf("%s: endpoint %s missing", site, name)
				continue
			}
			if _, ok := c.Schema(ep.Schema); !ok {
				t.Errorf("%s/%s: schema %s missing", site, name, ep.Schema)
			}
		}
	}

	e, ok := c.Schema("otakudesu.anime")
	if !ok || e.Headers["Referer"] == "" {
		t.Errorf("otakudesu schemas should carry the site Referer header, got %+v", e)
	}
	if e.Schema.TTL == 0 {
		t.Errorf("otakudesu.anime ttl not decoded")
	}
}

func TestResolve(t *testing.T) {
	r, err := NewRegistry("")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		site, endpoint string
		params         map[string]string
		wantURL        string
		wantSchema     string
		wantPage       int
	}{
		{"manhwaindo", "latest", nil, "https://manhwaindo.app/", "manhwaindo.latest", 1},
		{"manhwaindo", "latest", map[string]string{"page": "3"}, "https://manhwaindo.app/series/?page=3&order=update", "manhwaindo.latest", 3},
		{
			"manhwaindo", "series-list",
			map[string]string{"page": "2", "order": "popular", "type": "manhwa", "ignored": "x"},
			"https://manhwaindo.app/series/?order=popular&page=2&type=manhwa", "manhwaindo.list", 2,
		},
		{"manhwaindo", "series", map[string]string{"slug": "/solo-leveling/"}, "https://manhwaindo.app/series/solo-leveling/", "manhwaindo.series", 1},
		{"otakudesu", "ongoing", map[string]string{"page": "2"}, "https://otakudesu.best/ongoing-anime/page/2/", "otakudesu.ongoing", 2},
		{"otakudesu", "search", map[string]string{"q": "one piece"}, "https://otakudesu.best/?s=one+piece&post_type=anime", "otakudesu.search", 1},
		{"anoboy", "search", map[string]string{"q": "naruto", "page": "2"}, "https://anoboy.gg/page/2/?s=naruto", "anoboy.search", 2},
	}

	for _, tt := range tests {
		t.Run(tt.site+"/"+tt.endpoint, func(t *testing.T) {
			req, err := r.Resolve(tt.site, tt.endpoint, tt.params)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if req.URL != tt.wantURL || req.Schema != tt.wantSchema || req.Page != tt.wantPage {
				t.Errorf("Resolve = %+v, want url=%s schema=%s page=%d", req, tt.wantURL, tt.wantSchema, tt.wantPage)
			}
		})
	}
}

func TestResolveErrors(t *testing.T) {
	r, err := NewRegistry("")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name, site, endpoint string
		params               map[string]string
		want                 models.ErrorKind
	}{
		{"unknown site", "nyaa", "latest", nil, models.KindNotFound},
		{"unknown endpoint", "anoboy", "popular", nil, models.KindNotFound},
		{"missing slug", "manhwaindo", "series", nil, models.KindInvalid},
		{"missing query", "otakudesu", "search", map[string]string{"q": "  "}, models.KindInvalid},
		{"zero page", "anoboy", "ongoing", map[string]string{"page": "0"}, models.KindInvalid},
		{"bad page", "anoboy", "ongoing", map[string]string{"page": "two"}, models.KindInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(tt.site, tt.endpoint, tt.params)
			if got := models.KindOf(err); got != tt.want {
				t.Errorf("kind = %s (%v), want %s", got, err, tt.want)
			}
		})
	}
}

const customSite = `
name: anoboy
category: anime
base_url: https://anoboy.example/
endpoints:
  - name: ongoing
    schema: anoboy.home
    path: /page/{page}/
schemas:
  - id: anoboy.home
    fields:
      - name: items
        kind: list
        selectors: ["article a"]
`

func TestLoadOverrideDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "anoboy.yaml"), []byte(customSite), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	s, _ := c.Site("anoboy")
	if s.BaseURL != "https://anoboy.example" {
		t.Errorf("override not applied, base_url = %q", s.BaseURL)
	}
	if _, ok := c.Schema("anoboy.list"); ok {
		t.Errorf("replaced site's schemas still present")
	}
	if _, ok := c.Site("manhwaindo"); !ok {
		t.Errorf("builtin sites dropped")
	}
}

func TestParseReportsAllProblems(t *testing.T) {
	bad := `
name: broken
base_url: example.com
endpoints:
  - name: a
    schema: missing.schema
    path: /x/{id}
  - name: b
    schema: broken.ok
    path: nope
schemas:
  - id: broken.ok
    fields:
      - name: title
        selectors: ["h1"]
  - id: broken.bad
    fields:
      - name: title
        selectors: ["h1[["]
        transforms: [explode]
`
	_, err := Parse(map[string][]byte{"broken.yaml": []byte(bad)})
	if err == nil {
		t.Fatal("Parse accepted a broken site")
	}
	for _, want := range []string{
		"not absolute",
		`unknown schema "missing.schema"`,
		"unknown placeholder {id}",
		"must start with /",
		`unknown transform "explode"`,
		`selector "h1[["`,
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q lacks %q", err, want)
		}
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse(map[string][]byte{"x.yaml": []byte("name: x\nbase_url: https://x\nendpointz: []\n")})
	if err == nil {
		t.Fatal("unknown key accepted")
	}
}

func TestReloadKeepsPreviousOnError(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "anoboy.yaml")
	if err := os.WriteFile(file, []byte(customSite), 0o644); err != nil {
		t.Fatal(err)
	}
	r, err := NewRegistry(dir)
	if err != nil {
		t.Fatal(err)
	}
	before := r.Current()

	if err := os.WriteFile(file, []byte("name: anoboy\nbase_url: [\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Reload(); err == nil {
		t.Fatal("Reload accepted broken file")
	}
	if r.Current() != before {
		t.Fatal("catalog swapped despite reload error")
	}

	updated := strings.Replace(customSite, "anoboy.example", "anoboy.test", 1)
	if err := os.WriteFile(file, []byte(updated), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := r.Reload()
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if s, _ := c.Site("anoboy"); s.BaseURL != "https://anoboy.test" {
		t.Errorf("reload did not apply, base_url = %q", s.BaseURL)
	}
}

func TestSitesListing(t *testing.T) {
	r, err := NewRegistry("")
	if err != nil {
		t.Fatal(err)
	}
	sites := r.Sites()
	if len(sites) != 3 || sites[0].Name != "anoboy" {
		t.Fatalf("Sites = %+v, want 3 sorted sites", sites)
	}
	for _, ep := range sites[1].Endpoints {
		if ep.Name == "series-list" {
			want := "page,order,type,status,genre"
			if got := strings.Join(ep.Params, ","); got != want {
				t.Errorf("series-list params = %s, want %s", got, want)
			}
		}
	}
}

func TestBuiltinSchemasOnFixtures(t *testing.T) {
	r, err := NewRegistry("")
	if err != nil {
		t.Fatal(err)
	}
	x := extractor.New()

	chapter := `<html><body>
		<h1 class="entry-title">Solo Leveling Chapter 1</h1>
		<div class="allc"><a href="https://manhwaindo.app/series/solo-leveling/">Solo Leveling</a></div>
		<div id="readerarea">
			<img src="https:///cdn.manhwaindo.app/1.jpg">
			<img data-src="/uploads/2.jpg">
		</div>
	</body></html>`
	e, _ := r.Schema("manhwaindo.chapter")
	res := x.Extract(chapter, "https://manhwaindo.app/solo-leveling-chapter-1/", e.Schema)
	if res.Degraded {
		t.Fatalf("chapter degraded: missing %v", res.MissingRequired)
	}
	imgs, _ := res.Record.Get("images")
	want := []string{"https://cdn.manhwaindo.app/1.jpg", "https://manhwaindo.app/uploads/2.jpg"}
	if got, _ := imgs.([]string); strings.Join(got, " ") != strings.Join(want, " ") {
		t.Errorf("images = %v, want %v", imgs, want)
	}
	if got := res.Record.String("series_slug"); got != "solo-leveling" {
		t.Errorf("series_slug = %q", got)
	}

	episode := `<html><body><div class="venutama">
		<h1 class="posttl">Spy x Family Episode 3</h1>
		<div class="mirrorstream"><ul class="m720p">
			<li><a href="#" data-content="eyJpZCI6MTIzLCJpIjowLCJxIjoiNzIwcCJ9">filedon</a></li>
		</ul></div>
	</div></body></html>`
	e, _ = r.Schema("otakudesu.episode")
	res = x.Extract(episode, "https://otakudesu.best/episode/spy-x-family-episode-3/", e.Schema)
	mirrors, _ := res.Record.Get("mirrors")
	recs, _ := mirrors.([]*extractor.Record)
	if len(recs) != 1 || recs[0].String("quality") != "720p" {
		t.Fatalf("mirrors = %v", mirrors)
	}
	servers, _ := recs[0].Get("servers")
	srv, _ := servers.([]*extractor.Record)
	if len(srv) != 1 || srv[0].String("id") != "123" || srv[0].String("name") != "filedon" {
		t.Errorf("servers = %v", servers)
	}
}
