// Package catalog holds the site and schema definitions that drive the
// pipeline. Sites are YAML files: the built-in set is embedded, and an
// optional directory can add sites or replace built-in ones by name.
package catalog

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/use-agent/otakuscrape/extractor"
)

//go:embed sites/*.yaml
var builtin embed.FS

// Endpoint maps a friendly name to a URL template and a schema.
type Endpoint struct {
	Name   string `yaml:"name"`
	Schema string `yaml:"schema"`

	// Path is appended to the site's base URL. {page}, {slug} and {q}
	// are substituted from the request.
	Path string `yaml:"path"`

	// FirstPagePath replaces Path for page 1 when set, for listings whose
	// first page lives at a different address.
	FirstPagePath string `yaml:"first_page_path,omitempty"`

	// Query names optional filters copied into the query string when the
	// caller supplies them.
	Query []string `yaml:"query,omitempty"`
}

// Site is one scraped website.
type Site struct {
	Name     string            `yaml:"name"`
	Category string            `yaml:"category"`
	BaseURL  string            `yaml:"base_url"`
	Headers  map[string]string `yaml:"headers,omitempty"`

	Endpoints []Endpoint         `yaml:"endpoints"`
	Schemas   []extractor.Schema `yaml:"schemas"`

	source string
}

// Entry is a schema together with the site it belongs to.
type Entry struct {
	Schema  *extractor.Schema
	Site    string
	Headers map[string]string
}

// Catalog is an immutable, validated set of sites.
type Catalog struct {
	sites   map[string]*Site
	order   []string
	schemas map[string]*Entry
}

var placeholder = regexp.MustCompile(`\{([a-z_]+)\}`)

// knownParams are the placeholders Resolve knows how to fill.
var knownParams = map[string]bool{"page": true, "slug": true, "q": true}

// Load reads the built-in sites and, if dir is non-empty, every *.yaml
// file in dir. A file in dir whose site name matches a built-in site
// replaces it.
func Load(dir string) (*Catalog, error) {
	sites := make(map[string]*Site)

	builtinFiles, err := fs.Glob(builtin, "sites/*.yaml")
	if err != nil {
		return nil, fmt.Errorf("catalog: list builtin sites: %w", err)
	}
	for _, name := range builtinFiles {
		data, err := builtin.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("catalog: read %s: %w", name, err)
		}
		site, err := parseSite(data, "builtin:"+name)
		if err != nil {
			return nil, err
		}
		sites[site.Name] = site
	}

	if dir != "" {
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("catalog: %w", err)
		}
		files, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
		if err != nil {
			return nil, fmt.Errorf("catalog: list %s: %w", dir, err)
		}
		for _, name := range files {
			data, err := os.ReadFile(name)
			if err != nil {
				return nil, fmt.Errorf("catalog: read %s: %w", name, err)
			}
			site, err := parseSite(data, name)
			if err != nil {
				return nil, err
			}
			sites[site.Name] = site
		}
	}

	return build(sites)
}

// Parse builds a catalog from raw site files only, without the built-in
// set. Used by the validate command and tests.
func Parse(files map[string][]byte) (*Catalog, error) {
	sites := make(map[string]*Site)
	for name, data := range files {
		site, err := parseSite(data, name)
		if err != nil {
			return nil, err
		}
		if prev, dup := sites[site.Name]; dup {
			return nil, fmt.Errorf("catalog: site %q defined in %s and %s", site.Name, prev.source, name)
		}
		sites[site.Name] = site
	}
	return build(sites)
}

func parseSite(data []byte, source string) (*Site, error) {
	var site Site
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&site); err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", source, err)
	}
	if site.Name == "" {
		return nil, fmt.Errorf("catalog: %s: missing site name", source)
	}
	site.source = source
	return &site, nil
}

// build validates sites and indexes their schemas. Every problem found is
// reported.
func build(sites map[string]*Site) (*Catalog, error) {
	c := &Catalog{
		sites:   sites,
		schemas: make(map[string]*Entry),
	}
	var errs []error

	for name, site := range sites {
		c.order = append(c.order, name)
		if !strings.HasPrefix(site.BaseURL, "http://") && !strings.HasPrefix(site.BaseURL, "https://") {
			errs = append(errs, fmt.Errorf("site %s: base_url %q is not absolute", name, site.BaseURL))
		}
		site.BaseURL = strings.TrimRight(site.BaseURL, "/")

		for i := range site.Schemas {
			s := &site.Schemas[i]
			if err := s.Validate(); err != nil {
				errs = append(errs, fmt.Errorf("site %s: %w", name, err))
				continue
			}
			if prev, dup := c.schemas[s.ID]; dup {
				errs = append(errs, fmt.Errorf("site %s: schema %s already defined by site %s", name, s.ID, prev.Site))
				continue
			}
			c.schemas[s.ID] = &Entry{Schema: s, Site: name, Headers: site.Headers}
		}
	}

	for _, name := range c.order {
		site := sites[name]
		seen := make(map[string]bool)
		for _, ep := range site.Endpoints {
			fail := func(format string, args ...any) {
				errs = append(errs, fmt.Errorf("site %s: endpoint %s: %s", name, ep.Name, fmt.Sprintf(format, args...)))
			}
			if ep.Name == "" {
				fail("missing name")
			}
			if seen[ep.Name] {
				fail("duplicate name")
			}
			seen[ep.Name] = true
			if e, ok := c.schemas[ep.Schema]; !ok {
				fail("unknown schema %q", ep.Schema)
			} else if e.Site != name {
				fail("schema %q belongs to site %s", ep.Schema, e.Site)
			}
			if !strings.HasPrefix(ep.Path, "/") {
				fail("path %q must start with /", ep.Path)
			}
			for _, p := range slices.Concat(placeholders(ep.Path), placeholders(ep.FirstPagePath)) {
				if !knownParams[p] {
					fail("unknown placeholder {%s}", p)
				}
			}
		}
	}

	sort.Strings(c.order)
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return c, nil
}

func placeholders(tmpl string) []string {
	var out []string
	for _, m := range placeholder.FindAllStringSubmatch(tmpl, -1) {
		out = append(out, m[1])
	}
	return out
}

// Schema looks up a schema by id.
func (c *Catalog) Schema(id string) (*Entry, bool) {
	e, ok := c.schemas[id]
	return e, ok
}

// Site looks up a site by name.
func (c *Catalog) Site(name string) (*Site, bool) {
	s, ok := c.sites[name]
	return s, ok
}

// Sites returns all sites sorted by name.
func (c *Catalog) Sites() []*Site {
	out := make([]*Site, len(c.order))
	for i, name := range c.order {
		out[i] = c.sites[name]
	}
	return out
}

// SchemaCount returns the number of schemas.
func (c *Catalog) SchemaCount() int { return len(c.schemas) }

// Endpoint looks up an endpoint of the site by name.
func (s *Site) Endpoint(name string) (*Endpoint, bool) {
	for i := range s.Endpoints {
		if s.Endpoints[i].Name == name {
			return &s.Endpoints[i], true
		}
	}
	return nil, false
}

// Params lists the request parameters the endpoint understands.
func (e *Endpoint) Params() []string {
	var out []string
	for _, p := range slices.Concat(placeholders(e.FirstPagePath), placeholders(e.Path), e.Query) {
		if !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}
