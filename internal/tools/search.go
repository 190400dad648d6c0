package tools

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
)

const SearchToolName = "internetSearch"

type SearchParams struct {
	SearchQuery string `json:"searchQuery"`
}

type SearchResult struct {
	Content string `json:"content"`
	Source  string `json:"source"`
}

type cannedEntry struct {
	keyword string
	result  SearchResult
}

// Checked in order; the first keyword contained in the query wins.
var cannedResults = []cannedEntry{
	{"ubuntu", SearchResult{
		Content: "Ubuntu is a popular open-source Linux distribution based on Debian. It is developed by Canonical Ltd. and is known for its ease of use, strong community support, and regular release cycle. Ubuntu is widely used for desktops, servers, and cloud computing.",
		Source:  "simulated-search-engine.com/ubuntu-overview",
	}},
	{"next.js", SearchResult{
		Content: "Next.js is an open-source web development framework created by Vercel, enabling React-based web applications with server-side rendering and static site generation.",
		Source:  "simulated-search-engine.com/nextjs-framework",
	}},
	{"weather in paris", SearchResult{
		Content: "The simulated weather in Paris is currently sunny with a high of 22°C. Remember, this is not real-time data!",
		Source:  "simulated-weather-service.com/paris",
	}},
	{"linux", SearchResult{
		Content: "Linux is a family of open-source Unix-like operating systems based on the Linux kernel. Distributions include the Linux kernel and supporting system software and libraries, many of which are provided by the GNU Project. Popular Linux distributions include Debian, Ubuntu, Fedora, CentOS, and Mint.",
		Source:  "simulated-search-engine.com/linux-general",
	}},
}

// Search answers from the canned table.
func Search(query string) SearchResult {
	lower := strings.ToLower(query)
	for _, entry := range cannedResults {
		if strings.Contains(lower, entry.keyword) {
			return entry.result
		}
	}
	return SearchResult{
		Content: fmt.Sprintf("This is a general simulated search result for \"%s\". Specific details would require a real search.", query),
		Source:  "simulated-search-engine.com/search?q=" + strings.ReplaceAll(url.QueryEscape(query), "+", "%20"),
	}
}

func NewSearchTool() tool.InvokableTool {
	info := &schema.ToolInfo{
		Name: SearchToolName,
		Desc: "Performs a simulated internet search to find up-to-date information or information beyond your training data. " +
			"Returns the content found and its source URL. Cite the source and integrate the content in your own words.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"searchQuery": {
				Desc:     "The query to search the internet for",
				Type:     schema.String,
				Required: true,
			},
		}),
	}
	return utils.NewTool(info, runSearch)
}

func runSearch(ctx context.Context, params *SearchParams) (*SearchResult, error) {
	if params == nil {
		return nil, errors.New("missing search parameters")
	}
	query := strings.TrimSpace(params.SearchQuery)
	if query == "" {
		return nil, errors.New("searchQuery must not be empty")
	}
	res := Search(query)
	return &res, nil
}
