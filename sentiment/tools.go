package sentiment

import (
	"fmt"
	"strings"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/internal/util"
	"github.com/hupe1980/toolmesh/masa"
	"github.com/hupe1980/toolmesh/tool"
)

// DefaultMaxResults is how many tweets a search collects when the
// caller does not say otherwise.
const DefaultMaxResults = 10

const sentimentPromptTemplate = `Analyze sentiment for {{.crypto_name}} from these tweets. Provide:
1. Overall sentiment (positive/negative/neutral)
2. Sentiment percentage breakdown
3. Key positive/negative themes
4. Notable emotional indicators`

// Tools returns the full crypto sentiment tool set backed by the given
// Masa API client.
func Tools(client *masa.Client) []tool.Tool {
	return []tool.Tool{
		NewSearchTweetsTool(client),
		NewAnalyzeTweetsTool(client),
		NewCryptoSentimentTool(client),
	}
}

// NewSearchTweetsTool returns a tool that searches Twitter for recent
// tweets about a cryptocurrency. The collected tweets are returned to
// the caller and the search parameters are recorded as session
// variables.
func NewSearchTweetsTool(client *masa.Client) tool.Tool {
	inputSchema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"crypto_name": map[string]any{
				"type":        "string",
				"description": "Name or ticker of the cryptocurrency to search for.",
			},
			"max_results": map[string]any{
				"type":        "integer",
				"description": "Maximum number of tweets to collect.",
				"default":     DefaultMaxResults,
			},
		},
		"required": []string{"crypto_name"},
	}

	outputSchema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"tweets": map[string]any{"type": "array"},
			"count":  map[string]any{"type": "integer"},
		},
		"required": []string{"tweets", "count"},
	}

	return tool.NewFunctionTool(
		"search_tweets",
		"Search Twitter for recent tweets about the given cryptocurrency.",
		inputSchema,
		func(callCtx *core.CallContext, args map[string]any) (map[string]any, error) {
			cryptoName, _ := args["crypto_name"].(string)
			maxResults := intArg(args, "max_results", DefaultMaxResults)

			tweets, err := client.Search(callCtx.Context(), cryptoName, maxResults)
			if err != nil {
				return nil, fmt.Errorf("twitter search for %q failed: %w", cryptoName, err)
			}

			callCtx.Logger().Debug("sentiment.search.completed", "crypto", cryptoName, "count", len(tweets))

			callCtx.SetOutput("last_search_crypto", cryptoName)
			callCtx.SetOutput("last_search_count", len(tweets))

			return map[string]any{
				"tweets": tweetMaps(tweets),
				"count":  len(tweets),
			}, nil
		},
	).WithOutputSchema(outputSchema)
}

// NewAnalyzeTweetsTool returns a tool that runs a sentiment analysis
// prompt over previously collected tweets.
func NewAnalyzeTweetsTool(client *masa.Client) tool.Tool {
	inputSchema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			// Items carry whatever fields the search returned, so their
			// shape is deliberately left open.
			"tweets": map[string]any{
				"type":        "array",
				"description": "Tweet objects as returned by search_tweets.",
			},
			"crypto_name": map[string]any{
				"type":        "string",
				"description": "Cryptocurrency the tweets are about.",
			},
		},
		"required": []string{"tweets", "crypto_name"},
	}

	outputSchema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"analysis": map[string]any{"type": "string"},
		},
		"required": []string{"analysis"},
	}

	return tool.NewFunctionTool(
		"analyze_tweets",
		"Analyze sentiment of previously collected tweets for the given cryptocurrency.",
		inputSchema,
		func(callCtx *core.CallContext, args map[string]any) (map[string]any, error) {
			cryptoName, _ := args["crypto_name"].(string)
			items, _ := args["tweets"].([]any)

			analysis, err := analyze(callCtx, client, joinTweetArg(items), cryptoName)
			if err != nil {
				return nil, err
			}

			return map[string]any{"analysis": analysis}, nil
		},
	).WithOutputSchema(outputSchema)
}

// NewCryptoSentimentTool returns the high level tool: it fetches tweets
// for a cryptocurrency and analyzes their sentiment in one call.
func NewCryptoSentimentTool(client *masa.Client) tool.Tool {
	inputSchema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"crypto_name": map[string]any{
				"type":        "string",
				"description": "Name or ticker of the cryptocurrency to analyze.",
			},
			"max_results": map[string]any{
				"type":        "integer",
				"description": "Maximum number of tweets to collect.",
				"default":     DefaultMaxResults,
			},
		},
		"required": []string{"crypto_name"},
	}

	outputSchema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"analysis":    map[string]any{"type": "string"},
			"tweet_count": map[string]any{"type": "integer"},
		},
		"required": []string{"analysis", "tweet_count"},
	}

	return tool.NewFunctionTool(
		"get_crypto_sentiment",
		"Fetch tweets for a cryptocurrency and analyze their sentiment in one call.",
		inputSchema,
		func(callCtx *core.CallContext, args map[string]any) (map[string]any, error) {
			cryptoName, _ := args["crypto_name"].(string)
			maxResults := intArg(args, "max_results", DefaultMaxResults)

			tweets, err := client.Search(callCtx.Context(), cryptoName, maxResults)
			if err != nil {
				return nil, fmt.Errorf("twitter search for %q failed: %w", cryptoName, err)
			}

			callCtx.SetOutput("last_search_crypto", cryptoName)
			callCtx.SetOutput("last_search_count", len(tweets))

			analysis, err := analyze(callCtx, client, masa.JoinTweets(tweets), cryptoName)
			if err != nil {
				return nil, err
			}

			return map[string]any{
				"analysis":    analysis,
				"tweet_count": len(tweets),
			}, nil
		},
	).WithOutputSchema(outputSchema)
}

func analyze(callCtx *core.CallContext, client *masa.Client, tweetText, cryptoName string) (string, error) {
	prompt, err := util.RenderTemplate(sentimentPromptTemplate, map[string]any{
		"crypto_name": cryptoName,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render sentiment prompt: %w", err)
	}

	analysis, err := client.Analyze(callCtx.Context(), tweetText, prompt)
	if err != nil {
		return "", fmt.Errorf("sentiment analysis for %q failed: %w", cryptoName, err)
	}

	callCtx.Logger().Debug("sentiment.analysis.completed", "crypto", cryptoName)

	callCtx.SetOutput("last_analysis_crypto", cryptoName)

	return analysis, nil
}

// tweetMaps converts tweets into plain JSON objects so they can be fed
// back to analyze_tweets unchanged.
func tweetMaps(tweets []masa.Tweet) []any {
	out := make([]any, 0, len(tweets))
	for _, tweet := range tweets {
		m := map[string]any{"Content": tweet.Content}
		if tweet.ID != "" {
			m["ID"] = tweet.ID
		}
		if tweet.ExternalID != "" {
			m["ExternalID"] = tweet.ExternalID
		}
		if tweet.Metadata != nil {
			m["Metadata"] = tweet.Metadata
		}
		out = append(out, m)
	}

	return out
}

// joinTweetArg flattens tweet objects from tool arguments into the
// newline separated blob the analysis endpoint expects.
func joinTweetArg(items []any) string {
	contents := make([]string, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}

		content, _ := m["Content"].(string)
		contents = append(contents, content)
	}

	return strings.Join(contents, "\n")
}

func intArg(args map[string]any, key string, fallback int) int {
	switch n := args[key].(type) {
	case int64:
		return int(n)
	case float64:
		return int(n)
	case int:
		return n
	}

	return fallback
}
