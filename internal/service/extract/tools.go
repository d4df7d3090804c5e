package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino-ext/components/tool/duckduckgo/v2"
	"github.com/cloudwego/eino-ext/components/tool/googlesearch"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
)

const (
	lookupHTTPTimeout = 10 * time.Second
	lookupRateLimit   = 10
	lookupRateWindow  = time.Minute
	maxLookupBody     = 64 * 1024
)

type geocodeTool struct {
	google     tool.InvokableTool
	duck       tool.InvokableTool
	httpClient *http.Client
	limiter    *rateLimiter
}

type geocodeParams struct {
	Query string `json:"query"`
}

// newGeocodeTool exposes address lookup to the model. Map links are
// followed to their final url, which usually carries the coordinates;
// anything else goes to web search with google first and duckduckgo as the
// fallback.
func newGeocodeTool() tool.InvokableTool {
	g := &geocodeTool{
		google:     initGoogleSearch(),
		duck:       initDDGSearch(),
		httpClient: &http.Client{Timeout: lookupHTTPTimeout},
		limiter:    newRateLimiter(lookupRateLimit, lookupRateWindow),
	}
	info := &schema.ToolInfo{
		Name: "geocode_lookup",
		Desc: "Find where a listing is. Pass a street address to search the web for its coordinates, " +
			"or a shortened map link to resolve it to the full map url.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Desc:     "Street address or map link",
				Type:     schema.String,
				Required: true,
			},
		}),
	}
	return utils.NewTool(info, g.run)
}

func (g *geocodeTool) run(ctx context.Context, params *geocodeParams) (string, error) {
	if params == nil {
		return "", errors.New("missing lookup parameters")
	}
	query := strings.TrimSpace(params.Query)
	if query == "" {
		return "", errors.New("query must not be empty")
	}
	if !g.limiter.Allow("geocode") {
		return "", errors.New("lookup rate limit exceeded")
	}

	if looksLikeURL(query) {
		resolved, err := g.resolveURL(ctx, query)
		if err == nil {
			return "resolved url: " + resolved, nil
		}
		log.Printf("map link resolve failed: %v", err)
	}

	payloadBytes, err := json.Marshal(map[string]string{"query": query + " coordinates"})
	if err != nil {
		return "", fmt.Errorf("marshal search params: %w", err)
	}
	payload := string(payloadBytes)

	if g.google != nil {
		if result, err := g.google.InvokableRun(ctx, payload); err == nil {
			return result, nil
		} else {
			log.Printf("google search failed: %v", err)
		}
	}
	if g.duck != nil {
		if result, err := g.duck.InvokableRun(ctx, payload); err == nil {
			return result, nil
		} else {
			log.Printf("duckduckgo search failed: %v", err)
		}
	}
	return "", errors.New("no search provider succeeded")
}

// resolveURL follows redirects and returns the final location.
func (g *geocodeTool) resolveURL(ctx context.Context, target string) (string, error) {
	parsed, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.New("unsupported url scheme")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "listingbot-geocode/1.0")
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxLookupBody))
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetch url: %s", resp.Status)
	}
	return resp.Request.URL.String(), nil
}

func looksLikeURL(input string) bool {
	lower := strings.ToLower(input)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func initDDGSearch() tool.InvokableTool {
	duckTool, err := duckduckgo.NewTextSearchTool(context.Background(), &duckduckgo.Config{
		ToolName:   "geocode_search_ddg",
		ToolDesc:   "DuckDuckGo Search Tool (no token required)",
		MaxResults: 3,
		Region:     duckduckgo.RegionWT,
		Timeout:    lookupHTTPTimeout,
	})
	if err != nil {
		log.Printf("duckduckgo search disabled: %v", err)
		return nil
	}
	return duckTool
}

func initGoogleSearch() tool.InvokableTool {
	apiKey := os.Getenv("GOOGLE_API_KEY")
	engineID := os.Getenv("GOOGLE_SEARCH_ENGINE_ID")
	if apiKey == "" || engineID == "" {
		log.Printf("google search disabled: missing GOOGLE_API_KEY or GOOGLE_SEARCH_ENGINE_ID")
		return nil
	}
	googleTool, err := googlesearch.NewTool(context.Background(), &googlesearch.Config{
		ToolName:       "geocode_search_google",
		ToolDesc:       "Google Search Tool",
		APIKey:         apiKey,
		SearchEngineID: engineID,
		Lang:           "en",
		Num:            5,
	})
	if err != nil {
		log.Printf("google search disabled: %v", err)
		return nil
	}
	return googleTool
}

type rateLimiter struct {
	limit  int
	window time.Duration
	mu     sync.Mutex
	hits   map[string][]time.Time
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{limit: limit, window: window, hits: make(map[string][]time.Time)}
}

func (l *rateLimiter) Allow(key string) bool {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	queue := l.hits[key]
	cutoff := now.Add(-l.window)
	idx := 0
	for _, t := range queue {
		if t.After(cutoff) {
			break
		}
		idx++
	}
	queue = queue[idx:]
	if len(queue) >= l.limit {
		l.hits[key] = queue
		return false
	}
	l.hits[key] = append(queue, now)
	return true
}
