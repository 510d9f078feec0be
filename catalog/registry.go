package catalog

import (
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/use-agent/otakuscrape/models"
)

// Registry serves the current catalog and swaps in a new one on Reload.
// Readers never see a half-loaded catalog.
type Registry struct {
	dir    string
	static bool
	cur    atomic.Pointer[Catalog]
}

// NewRegistry loads the catalog from the built-in sites and dir.
func NewRegistry(dir string) (*Registry, error) {
	c, err := Load(dir)
	if err != nil {
		return nil, err
	}
	r := &Registry{dir: dir}
	r.cur.Store(c)
	return r, nil
}

// NewStaticRegistry wraps an already built catalog. Reload keeps it.
func NewStaticRegistry(c *Catalog) *Registry {
	r := &Registry{static: true}
	r.cur.Store(c)
	return r
}

// Current returns the catalog in effect.
func (r *Registry) Current() *Catalog { return r.cur.Load() }

// Reload re-reads the site files. On error the previous catalog stays in
// effect.
func (r *Registry) Reload() (*Catalog, error) {
	if r.static {
		return r.Current(), nil
	}
	c, err := Load(r.dir)
	if err != nil {
		slog.Error("catalog reload failed, keeping previous catalog", "dir", r.dir, "error", err)
		return nil, err
	}
	r.cur.Store(c)
	slog.Info("catalog reloaded", "sites", len(c.order), "schemas", len(c.schemas))
	return c, nil
}

// Schema looks up a schema in the current catalog.
func (r *Registry) Schema(id string) (*Entry, bool) {
	return r.Current().Schema(id)
}

// Sites describes the current catalog for listing.
func (r *Registry) Sites() []models.SiteInfo {
	c := r.Current()
	out := make([]models.SiteInfo, 0, len(c.order))
	for _, s := range c.Sites() {
		info := models.SiteInfo{
			Name:     s.Name,
			Category: s.Category,
			BaseURL:  s.BaseURL,
		}
		for i := range s.Endpoints {
			ep := &s.Endpoints[i]
			info.Endpoints = append(info.Endpoints, models.EndpointInfo{
				Name:   ep.Name,
				Schema: ep.Schema,
				Path:   ep.Path,
				Params: ep.Params(),
			})
		}
		out = append(out, info)
	}
	return out
}

// Resolve turns a site endpoint and its parameters into a ResourceRequest.
// Unknown sites and endpoints are not_found errors; bad or missing
// parameters are invalid.
func (r *Registry) Resolve(site, endpoint string, params map[string]string) (models.ResourceRequest, error) {
	c := r.Current()
	s, ok := c.Site(site)
	if !ok {
		return models.ResourceRequest{}, models.NewScrapeError(models.KindNotFound, fmt.Sprintf("unknown site %q", site), nil)
	}
	ep, ok := s.Endpoint(endpoint)
	if !ok {
		return models.ResourceRequest{}, models.NewScrapeError(models.KindNotFound, fmt.Sprintf("site %s has no endpoint %q", site, endpoint), nil)
	}

	page := 1
	if raw := params["page"]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return models.ResourceRequest{}, models.NewScrapeError(models.KindInvalid, fmt.Sprintf("page must be a positive integer, got %q", raw), nil)
		}
		page = n
	}

	tmpl := ep.Path
	if page == 1 && ep.FirstPagePath != "" {
		tmpl = ep.FirstPagePath
	}

	var missing []string
	path := placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := m[1 : len(m)-1]
		switch name {
		case "page":
			return strconv.Itoa(page)
		case "q":
			v := strings.TrimSpace(params["q"])
			if v == "" {
				missing = append(missing, name)
			}
			return url.QueryEscape(v)
		default:
			v := strings.Trim(params[name], "/")
			if v == "" {
				missing = append(missing, name)
			}
			return escapePath(v)
		}
	})
	if len(missing) > 0 {
		return models.ResourceRequest{}, models.NewScrapeError(models.KindInvalid,
			fmt.Sprintf("missing parameter %s for %s/%s", strings.Join(missing, ", "), site, endpoint), nil)
	}

	target := s.BaseURL + path
	if len(ep.Query) > 0 {
		u, err := url.Parse(target)
		if err != nil {
			return models.ResourceRequest{}, models.NewScrapeError(models.KindInvalid, "bad endpoint url", err)
		}
		q := u.Query()
		for _, name := range ep.Query {
			if v := params[name]; v != "" {
				q.Set(name, v)
			}
		}
		u.RawQuery = q.Encode()
		target = u.String()
	}

	return models.ResourceRequest{
		URL:    target,
		Schema: ep.Schema,
		Page:   page,
	}, nil
}

// escapePath escapes each segment of a slug, keeping its slashes.
func escapePath(v string) string {
	segs := strings.Split(v, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}
