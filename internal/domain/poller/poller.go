// Опрос синдикационных лент: по тику parse_rss поллер обходит все каналы,
// скачивает фиды с условным GET, нормализует записи и ставит по одной задаче
// process_news_item на канал. Сбой одной ленты не прерывает обход остальных.
package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"feedfusion/internal/infra/db"
	"feedfusion/internal/infra/logger"
	"feedfusion/internal/infra/texts"
	"feedfusion/internal/infra/timeutil"
	"feedfusion/internal/repos"
)

// enqueuer — постановка батча в очередь задач.
type enqueuer interface {
	Enqueue(ctx context.Context, task string, payload any) error
}

// Options — параметры и зависимости поллера.
type Options struct {
	DB       *db.DB
	Enqueuer enqueuer
	Cache    *FeedCache

	// EmptyText подставляется вместо пустых link/title/summary.
	EmptyText string
	// MaxAge — предельный возраст принимаемой записи.
	MaxAge time.Duration
	// MaxEntries ограничивает число записей, берущихся из одной ленты.
	MaxEntries int
	// FetchTimeout — таймаут скачивания одной ленты.
	FetchTimeout time.Duration
	// ProcessTask — имя задачи, в которую уходит нормализованный батч.
	ProcessTask string

	// Clock внедряется в тестах; по умолчанию time.Now.
	Clock func() time.Time
}

// Poller обходит каналы и превращает записи лент в батчи для инжеста.
type Poller struct {
	db       *db.DB
	enqueuer enqueuer
	cache    *FeedCache
	client   *http.Client
	parser   *gofeed.Parser

	emptyText   string
	maxAge      time.Duration
	maxEntries  int
	processTask string
	now         func() time.Time
}

// New создаёт поллер. Cache может быть nil — тогда условный GET отключён.
func New(opts Options) *Poller {
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Poller{
		db:       opts.DB,
		enqueuer: opts.Enqueuer,
		cache:    opts.Cache,
		client: &http.Client{
			Timeout: opts.FetchTimeout,
		},
		parser:      gofeed.NewParser(),
		emptyText:   opts.EmptyText,
		maxAge:      opts.MaxAge,
		maxEntries:  opts.MaxEntries,
		processTask: opts.ProcessTask,
		now:         now,
	}
}

// HandleParseRSS — обработчик задачи parse_rss.
func (p *Poller) HandleParseRSS(ctx context.Context, _ json.RawMessage) error {
	session, err := p.db.Begin(ctx)
	if err != nil {
		return err
	}
	channels, err := repos.New(session.Tx()).Channels.GetAll(ctx)
	session.Close()
	if err != nil {
		return fmt.Errorf("load channels: %w", err)
	}

	logger.Infof("Poller: polling %d channel(s)", len(channels))
	for _, ch := range channels {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.pollChannel(ctx, ch); err != nil {
			// Одна упавшая лента не должна срывать остальные.
			logger.Errorf("Poller: channel %d (%s): %v", ch.ID, ch.Link, err)
		}
	}
	return nil
}

// pollChannel скачивает и нормализует одну ленту, затем ставит батч в очередь.
func (p *Poller) pollChannel(ctx context.Context, ch repos.Channel) error {
	feed, err := p.fetch(ctx, ch.Link)
	if err != nil {
		return err
	}
	if feed == nil {
		logger.Debugf("Poller: channel %d not modified", ch.ID)
		return nil
	}

	source := strings.TrimSpace(feed.Title)
	if source == "" {
		source = p.emptyText
	}

	entries := feed.Items
	if p.maxEntries > 0 && len(entries) > p.maxEntries {
		entries = entries[:p.maxEntries]
	}

	drafts := make([]repos.NewsDraft, 0, len(entries))
	for i, entry := range entries {
		draft, ok := p.normalize(ch.ID, source, entry)
		if !ok {
			logger.Debugf("Poller: entry #%d of channel %d skipped", i+1, ch.ID)
			continue
		}
		drafts = append(drafts, draft)
	}

	logger.Infof("Poller: channel %d: %d/%d entries accepted", ch.ID, len(drafts), len(entries))
	if len(drafts) == 0 {
		return nil
	}
	return p.enqueuer.Enqueue(ctx, p.processTask, drafts)
}

// fetch скачивает ленту с условным GET. Возвращает nil без ошибки при 304.
func (p *Poller) fetch(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if p.cache != nil {
		v := p.cache.Get(feedURL)
		if v.ETag != "" {
			req.Header.Set("If-None-Match", v.ETag)
		}
		if v.LastModified != "" {
			req.Header.Set("If-Modified-Since", v.LastModified)
		}
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch feed: unexpected status %s", resp.Status)
	}

	feed, err := p.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	if p.cache != nil {
		p.cache.Put(feedURL, Validators{
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		})
	}
	return feed, nil
}

// normalize приводит запись ленты к черновику новости. Возвращает ok=false,
// если запись отбрасывается: нет разборчивой даты публикации или запись
// старше допустимого возраста.
func (p *Poller) normalize(channelID int64, source string, entry *gofeed.Item) (repos.NewsDraft, bool) {
	published, ok := p.entryPublished(entry)
	if !ok {
		return repos.NewsDraft{}, false
	}
	if p.now().UTC().Sub(published) > p.maxAge {
		return repos.NewsDraft{}, false
	}

	return repos.NewsDraft{
		ChannelID: channelID,
		Link:      p.textOrEmpty(entry.Link),
		Title:     p.textOrEmpty(entry.Title),
		Summary:   p.textOrEmpty(texts.StripHTML(entry.Description)),
		Source:    source,
		Image:     entryImage(entry),
		Published: timeutil.Naive(published),
	}, true
}

// entryPublished извлекает дату публикации: сперва уже распарсенную парсером
// ленты, затем толерантный разбор сырой строки.
func (p *Poller) entryPublished(entry *gofeed.Item) (time.Time, bool) {
	if entry.PublishedParsed != nil {
		return timeutil.ToNaiveUTC(*entry.PublishedParsed), true
	}
	if t, ok := timeutil.ParseFlexible(entry.Published); ok {
		return t, true
	}
	return time.Time{}, false
}

// textOrEmpty подставляет заглушку вместо пустого текста.
func (p *Poller) textOrEmpty(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return p.emptyText
	}
	return value
}

// entryImage возвращает URL первого вложения с типом image/*.
func entryImage(entry *gofeed.Item) *string {
	for _, enc := range entry.Enclosures {
		if enc == nil {
			continue
		}
		if strings.Contains(strings.ToLower(enc.Type), "image") && enc.URL != "" {
			url := enc.URL
			return &url
		}
	}
	return nil
}
