package trend

import (
	"context"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"hybrid-scalper/internal/schema"
)

// NewsConfig configures the live headline connector.
type NewsConfig struct {
	URL          string        `mapstructure:"url"`
	APIKey       string        `mapstructure:"api_key"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// headline is the normalized feed item shape.
type headline struct {
	Title       string    `json:"title"`
	Source      string    `json:"source"`
	Symbols     []string  `json:"symbols"`
	PublishedAt time.Time `json:"publishedAt"`
}

type newsResponse struct {
	Items []headline `json:"items"`
}

// NewsFeed polls a headline endpoint and scores items against the crypto
// lexicon. Items that mention none of the tracked symbols are skipped.
type NewsFeed struct {
	cfg     NewsConfig
	symbols []string
	client  *resty.Client

	seen map[string]struct{}
}

// NewNewsFeed builds a live sentiment feed for the tracked symbols.
func NewNewsFeed(cfg NewsConfig, symbols []string) *NewsFeed {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(2)
	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}
	return &NewsFeed{
		cfg:     cfg,
		symbols: symbols,
		client:  client,
		seen:    make(map[string]struct{}),
	}
}

// Name implements Feed.
func (f *NewsFeed) Name() string { return "news" }

// Run polls until the context is done. Poll failures are logged and retried
// on the next tick; they never stop the feed.
func (f *NewsFeed) Run(ctx context.Context, emit func(schema.SentimentSignal)) error {
	logs.Infof("news feed started, polling %s every %s", f.cfg.URL, f.cfg.PollInterval)
	ticker := time.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := f.poll(ctx, emit); err != nil {
				logs.Warnf("news poll failed: %+v", err)
			}
		}
	}
}

func (f *NewsFeed) poll(ctx context.Context, emit func(schema.SentimentSignal)) error {
	var resp newsResponse
	res, err := f.client.R().
		SetContext(ctx).
		SetResult(&resp).
		Get(f.cfg.URL)
	if err != nil {
		return errors.Wrap(err, "fetch headlines")
	}
	if res.IsError() {
		return errors.Errorf("fetch headlines, status: %s", res.Status())
	}

	for _, item := range resp.Items {
		for _, sig := range f.Score(item, time.Now()) {
			emit(sig)
		}
	}
	return nil
}

// Score converts one headline into per-symbol observations. Exported for
// tests; duplicate headlines are emitted once.
func (f *NewsFeed) Score(item headline, now time.Time) []schema.SentimentSignal {
	key := item.Source + "|" + item.Title
	if _, ok := f.seen[key]; ok {
		return nil
	}
	f.seen[key] = struct{}{}

	score, confidence := ScoreText(item.Title)
	if confidence == 0 {
		return nil
	}

	ts := item.PublishedAt
	if ts.IsZero() {
		ts = now
	}

	var out []schema.SentimentSignal
	for _, symbol := range f.matchSymbols(item) {
		out = append(out, schema.SentimentSignal{
			Symbol:     symbol,
			Ts:         ts,
			Source:     schema.TrendSourceLive + ":" + f.Name(),
			Score:      score,
			Confidence: confidence,
		})
	}
	return out
}

func (f *NewsFeed) matchSymbols(item headline) []string {
	if len(item.Symbols) > 0 {
		var matched []string
		for _, tracked := range f.symbols {
			for _, s := range item.Symbols {
				if strings.EqualFold(s, tracked) || strings.EqualFold(s+"USDT", tracked) {
					matched = append(matched, tracked)
					break
				}
			}
		}
		return matched
	}

	// No explicit tags: fall back to base-asset mentions in the title.
	title := strings.ToUpper(item.Title)
	var matched []string
	for _, tracked := range f.symbols {
		base := strings.TrimSuffix(tracked, "USDT")
		if base != "" && strings.Contains(title, base) {
			matched = append(matched, tracked)
		}
	}
	return matched
}
