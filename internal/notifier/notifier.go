package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"neurodigest/internal/model"
	"neurodigest/internal/text"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const summaryWidth = 600

type ArticleProvider interface {
	AllNotPosted(ctx context.Context, since time.Time, limit uint64) ([]model.Article, error)
	MarkAsPosted(ctx context.Context, id int64) error
}

// Sender is satisfied by *tgbotapi.BotAPI.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier posts freshly ingested articles to a Telegram channel, one per tick.
type Notifier struct {
	articles         ArticleProvider
	bot              Sender
	sendInterval     time.Duration
	lookupTimeWindow time.Duration
	channelID        int64
	log              *slog.Logger
}

func New(articleProvider ArticleProvider, bot Sender,
	sendInterval time.Duration, lookupTimeWindow time.Duration, channelID int64, log *slog.Logger) *Notifier {

	return &Notifier{
		articles:         articleProvider,
		bot:              bot,
		sendInterval:     sendInterval,
		lookupTimeWindow: lookupTimeWindow,
		channelID:        channelID,
		log:              log.With("component", "notifier"),
	}
}

func (n *Notifier) Run(ctx context.Context) error {
	ticker := time.NewTicker(n.sendInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := n.SelectAndSendArticle(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}

				n.log.Error("failed to post article", "error", err)
			}
		}
	}
}

// SelectAndSendArticle posts the newest unposted article inside the lookup window.
func (n *Notifier) SelectAndSendArticle(ctx context.Context) error {
	articles, err := n.articles.AllNotPosted(ctx, time.Now().Add(-n.lookupTimeWindow), 1)

	if err != nil {
		return fmt.Errorf("select article: %w", err)
	}

	if len(articles) == 0 {
		return nil
	}

	article := articles[0]

	if err := n.SendArticle(article, text.Excerpt(article.Summary, summaryWidth)); err != nil {
		return fmt.Errorf("send article %d: %w", article.ID, err)
	}

	return n.articles.MarkAsPosted(ctx, article.ID)
}

func (n *Notifier) SendArticle(article model.Article, summary string) error {
	const msgFormat = "*%s*\n_%s_\n\n%s\n\n%s"

	msg := tgbotapi.NewMessage(n.channelID, fmt.Sprintf(
		msgFormat,
		EscapeForMarkdown(article.Title),
		EscapeForMarkdown(article.Source),
		EscapeForMarkdown(summary),
		EscapeForMarkdown(article.URL),
	))
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	_, err := n.bot.Send(msg)

	return err
}

var replacer = strings.NewReplacer(
	`\`, `\\`,
	"_", `\_`,
	"*", `\*`,
	"[", `\[`,
	"]", `\]`,
	"(", `\(`,
	")", `\)`,
	"~", `\~`,
	"`", "\\`",
	">", `\>`,
	"#", `\#`,
	"+", `\+`,
	"-", `\-`,
	"=", `\=`,
	"|", `\|`,
	"{", `\{`,
	"}", `\}`,
	".", `\.`,
	"!", `\!`,
)

// EscapeForMarkdown escapes every character MarkdownV2 reserves.
func EscapeForMarkdown(src string) string {
	return replacer.Replace(src)
}
