package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// resourceResponse mirrors the otakuscrape resource envelope.
type resourceResponse struct {
	Success     bool            `json:"success"`
	Data        json.RawMessage `json:"data"`
	Degraded    bool            `json:"degraded"`
	Missing     []string        `json:"missing"`
	Warning     string          `json:"warning"`
	Schema      string          `json:"schema"`
	SourceURL   string          `json:"source_url"`
	Strategy    string          `json:"strategy"`
	CacheStatus string          `json:"cache_status"`
	Message     string          `json:"message"`
	Error       *struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

// sitesResponse mirrors the otakuscrape sites listing.
type sitesResponse struct {
	Success bool `json:"success"`
	Sites   []struct {
		Name      string `json:"name"`
		Category  string `json:"category"`
		BaseURL   string `json:"base_url"`
		Endpoints []struct {
			Name   string   `json:"name"`
			Schema string   `json:"schema"`
			Path   string   `json:"path"`
			Params []string `json:"params"`
		} `json:"endpoints"`
	} `json:"sites"`
}

type apiClient struct {
	http   *http.Client
	base   string
	apiKey string
}

func main() {
	apiURL := os.Getenv("OTAKU_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	api := &apiClient{
		http:   &http.Client{Timeout: 130 * time.Second},
		base:   strings.TrimRight(apiURL, "/"),
		apiKey: os.Getenv("OTAKU_API_KEY"),
	}

	s := server.NewMCPServer(
		"otakuscrape",
		"0.1.0",
		server.WithToolCapabilities(false),
	)

	listSitesTool := mcp.NewTool("list_sites",
		mcp.WithDescription("List the anime and manhwa sites otakuscrape knows, with their endpoints and parameters."),
	)
	s.AddTool(listSitesTool, handleListSites(api))

	siteResourceTool := mcp.NewTool("get_site_resource",
		mcp.WithDescription("Fetch a catalog endpoint of a site (e.g. manhwaindo/series, otakudesu/episode) and return the extracted record as JSON."),
		mcp.WithString("site",
			mcp.Required(),
			mcp.Description("Site name from list_sites, e.g. 'manhwaindo'"),
		),
		mcp.WithString("endpoint",
			mcp.Required(),
			mcp.Description("Endpoint name from list_sites, e.g. 'series', 'chapter', 'latest'"),
		),
		mcp.WithString("slug",
			mcp.Description("Slug for detail endpoints, e.g. 'solo-leveling'"),
		),
		mcp.WithString("q",
			mcp.Description("Search query for search endpoints"),
		),
		mcp.WithNumber("page",
			mcp.Description("Page number for listings (default: 1)"),
		),
		mcp.WithString("filters",
			mcp.Description("Extra query filters as key=value pairs joined by '&', e.g. 'order=popular&type=manhwa'"),
		),
	)
	s.AddTool(siteResourceTool, handleSiteResource(api))

	resourceTool := mcp.NewTool("get_resource",
		mcp.WithDescription("Fetch any URL and extract it with a named schema. Returns the record as JSON. For later pages of a listing, put the page in the url or use get_site_resource."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The page to fetch"),
		),
		mcp.WithString("schema",
			mcp.Required(),
			mcp.Description("Schema id, e.g. 'manhwaindo.series'"),
		),
		mcp.WithArray("strategies",
			mcp.Description("Restrict fetching to these strategies: 'direct', 'proxy', 'headless'"),
			mcp.WithStringItems(),
		),
	)
	s.AddTool(resourceTool, handleResource(api))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

// do sends a request to the otakuscrape API and returns the response body.
func (a *apiClient) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.base+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.apiKey != "" {
		req.Header.Set("X-API-Key", a.apiKey)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

func handleListSites(api *apiClient) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		body, err := api.do(ctx, http.MethodGet, "/api/v1/sites", nil)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		var resp sitesResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}
		if !resp.Success {
			return mcp.NewToolResultError("listing sites failed: " + string(body)), nil
		}

		var sb strings.Builder
		for _, site := range resp.Sites {
			fmt.Fprintf(&sb, "%s (%s) %s\n", site.Name, site.Category, site.BaseURL)
			for _, ep := range site.Endpoints {
				fmt.Fprintf(&sb, "  %-12s %s", ep.Name, ep.Path)
				if len(ep.Params) > 0 {
					fmt.Fprintf(&sb, "  params: %s", strings.Join(ep.Params, ", "))
				}
				sb.WriteString("\n")
			}
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

func handleSiteResource(api *apiClient) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		site, err := request.RequireString("site")
		if err != nil {
			return mcp.NewToolResultError("site is required"), nil
		}
		endpoint, err := request.RequireString("endpoint")
		if err != nil {
			return mcp.NewToolResultError("endpoint is required"), nil
		}

		q, err := url.ParseQuery(request.GetString("filters", ""))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("bad filters: %v", err)), nil
		}
		if v := request.GetString("slug", ""); v != "" {
			q.Set("slug", v)
		}
		if v := request.GetString("q", ""); v != "" {
			q.Set("q", v)
		}
		if page := request.GetInt("page", 0); page > 0 {
			q.Set("page", strconv.Itoa(page))
		}

		path := "/api/v1/sites/" + url.PathEscape(site) + "/" + url.PathEscape(endpoint)
		if len(q) > 0 {
			path += "?" + q.Encode()
		}
		body, err := api.do(ctx, http.MethodGet, path, nil)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return resourceResult(body), nil
	}
}

func handleResource(api *apiClient) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		target, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}
		schema, err := request.RequireString("schema")
		if err != nil {
			return mcp.NewToolResultError("schema is required"), nil
		}

		payload := map[string]any{"url": target, "schema": schema}
		if strategies := request.GetStringSlice("strategies", nil); len(strategies) > 0 {
			payload["strategies"] = strategies
		}

		body, err := api.do(ctx, http.MethodPost, "/api/v1/resource", payload)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return resourceResult(body), nil
	}
}

// resourceResult renders a resource envelope as tool output: a short
// header followed by the record as indented JSON.
func resourceResult(body []byte) *mcp.CallToolResult {
	var resp resourceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err))
	}

	if !resp.Success {
		errMsg := "request failed"
		switch {
		case resp.Error != nil:
			errMsg = fmt.Sprintf("[%s] %s", resp.Error.Kind, resp.Error.Message)
		case resp.Message != "":
			errMsg = resp.Message
		}
		return mcp.NewToolResultError(errMsg)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Schema: %s\nSource: %s\nStrategy: %s (cache %s)\n", resp.Schema, resp.SourceURL, resp.Strategy, resp.CacheStatus)
	if resp.Degraded {
		fmt.Fprintf(&sb, "Warning: %s\n", resp.Warning)
	}
	sb.WriteString("\n")

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, resp.Data, "", "  "); err != nil {
		sb.Write(resp.Data)
	} else {
		sb.Write(pretty.Bytes())
	}
	return mcp.NewToolResultText(sb.String())
}
