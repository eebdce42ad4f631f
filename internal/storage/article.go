package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"neurodigest/internal/model"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"
)

const schema = `
CREATE TABLE IF NOT EXISTS articles (
    id                BIGSERIAL PRIMARY KEY,
    title             TEXT NOT NULL,
    summary           TEXT NOT NULL,
    url               TEXT NOT NULL,
    source            TEXT NOT NULL,
    date_published    TIMESTAMPTZ NOT NULL DEFAULT now(),
    feed_published_at TIMESTAMPTZ,
    posted_at         TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS articles_url_key ON articles (url);
CREATE INDEX IF NOT EXISTS articles_date_published_idx ON articles (date_published DESC);
`

const articleColumns = `id, title, summary, url, source, date_published, feed_published_at, posted_at`

type ArticlePostgresStorage struct {
	db *sqlx.DB
}

type dbArticle struct {
	ID              int64        `db:"id"`
	Title           string       `db:"title"`
	Summary         string       `db:"summary"`
	URL             string       `db:"url"`
	Source          string       `db:"source"`
	PublishedAt     time.Time    `db:"date_published"`
	FeedPublishedAt sql.NullTime `db:"feed_published_at"`
	PostedAt        sql.NullTime `db:"posted_at"`
}

func (a dbArticle) toModel() model.Article {
	return model.Article{
		ID:              a.ID,
		Title:           a.Title,
		Summary:         a.Summary,
		URL:             a.URL,
		Source:          a.Source,
		PublishedAt:     a.PublishedAt,
		FeedPublishedAt: nullTimePtr(a.FeedPublishedAt),
		PostedAt:        nullTimePtr(a.PostedAt),
	}
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}

	return &t.Time
}

func toModels(rows []dbArticle) []model.Article {
	return lo.Map(rows, func(article dbArticle, _ int) model.Article {
		return article.toModel()
	})
}

func NewArticleStorage(db *sqlx.DB) *ArticlePostgresStorage {
	return &ArticlePostgresStorage{
		db: db,
	}
}

// Ensure creates the articles table and its indexes when missing.
func (s *ArticlePostgresStorage) Ensure(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	return nil
}

func (s *ArticlePostgresStorage) Count(ctx context.Context) (int64, error) {
	var n int64

	if err := s.db.GetContext(ctx, &n, `SELECT count(*) FROM articles`); err != nil {
		return 0, err
	}

	return n, nil
}

func (s *ArticlePostgresStorage) ExistsByURL(ctx context.Context, url string) (bool, error) {
	var exists bool

	if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM articles WHERE url = $1)`, url); err != nil {
		return false, err
	}

	return exists, nil
}

// StoreBatch inserts all articles in one transaction. Rows whose url is
// already stored are ignored, so concurrent cycles cannot create duplicates.
func (s *ArticlePostgresStorage) StoreBatch(ctx context.Context, articles []model.Article) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var inserted int64

	for _, article := range articles {
		res, err := tx.ExecContext(
			ctx,
			`INSERT INTO articles (title, summary, url, source, date_published, feed_published_at)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (url) DO NOTHING`,
			article.Title,
			article.Summary,
			article.URL,
			article.Source,
			article.PublishedAt,
			article.FeedPublishedAt,
		)
		if err != nil {
			return 0, fmt.Errorf("insert %q: %w", article.URL, err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}

		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	return int(inserted), nil
}

func (s *ArticlePostgresStorage) All(ctx context.Context) ([]model.Article, error) {
	var articles []dbArticle

	if err := s.db.SelectContext(
		ctx,
		&articles,
		`SELECT `+articleColumns+` FROM articles ORDER BY date_published DESC, id DESC`,
	); err != nil {
		return nil, err
	}

	return toModels(articles), nil
}

// SearchByTitle matches a case-insensitive substring of the title.
func (s *ArticlePostgresStorage) SearchByTitle(ctx context.Context, q string) ([]model.Article, error) {
	var articles []dbArticle

	if err := s.db.SelectContext(
		ctx,
		&articles,
		`SELECT `+articleColumns+` FROM articles
			WHERE title ILIKE '%' || $1 || '%'
			ORDER BY date_published DESC, id DESC`,
		escapeLike(q),
	); err != nil {
		return nil, err
	}

	return toModels(articles), nil
}

func (s *ArticlePostgresStorage) ByID(ctx context.Context, id int64) (*model.Article, error) {
	var article dbArticle

	err := s.db.GetContext(ctx, &article, `SELECT `+articleColumns+` FROM articles WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	result := article.toModel()

	return &result, nil
}

func (s *ArticlePostgresStorage) MarkAsPosted(ctx context.Context, id int64) error {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.ExecContext(ctx, `UPDATE articles SET posted_at = $1 WHERE id = $2`, time.Now().UTC(), id)

	return err
}

func (s *ArticlePostgresStorage) AllNotPosted(ctx context.Context, since time.Time, limit uint64) ([]model.Article, error) {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var articles []dbArticle

	if err := conn.SelectContext(
		ctx,
		&articles,
		`SELECT `+articleColumns+` FROM articles
			WHERE posted_at IS NULL AND date_published >= $1
			ORDER BY date_published DESC LIMIT $2`,
		since.UTC(),
		limit,
	); err != nil {
		return nil, err
	}

	return toModels(articles), nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
