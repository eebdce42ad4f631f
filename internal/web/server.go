// Package web serves the read-only article listing, detail and about pages,
// plus a JSON mirror of the listing and detail under /api.
package web

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"neurodigest/internal/model"
	"neurodigest/internal/text"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

//go:embed templates/*.html
var templatesFS embed.FS

const excerptWidth = 280

type ArticleProvider interface {
	All(ctx context.Context) ([]model.Article, error)
	SearchByTitle(ctx context.Context, q string) ([]model.Article, error)
	ByID(ctx context.Context, id int64) (*model.Article, error)
}

type handler struct {
	articles ArticleProvider
	log      *slog.Logger
}

func NewRouter(articles ArticleProvider, log *slog.Logger) *gin.Engine {
	log = log.With("component", "web")

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))
	r.SetHTMLTemplate(template.Must(
		template.New("").Funcs(template.FuncMap{
			"date":    formatDate,
			"excerpt": func(s string) string { return text.Excerpt(s, excerptWidth) },
			"plain":   text.PlainText,
		}).ParseFS(templatesFS, "templates/*.html"),
	))

	h := &handler{articles: articles, log: log}

	r.GET("/", h.index)
	r.GET("/article/:id", h.detail)
	r.GET("/about", h.about)

	api := r.Group("/api")
	api.GET("/articles", h.apiList)
	api.GET("/articles/:id", h.apiDetail)

	r.NoRoute(h.notFound)

	return r
}

func page(title, query string, data gin.H) gin.H {
	out := gin.H{"Title": title, "Query": query}
	for k, v := range data {
		out[k] = v
	}

	return out
}

func formatDate(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04 UTC")
}

// list returns all articles, or those whose title contains q, newest first.
func (h *handler) list(ctx context.Context, q string) ([]model.Article, error) {
	if q == "" {
		return h.articles.All(ctx)
	}

	return h.articles.SearchByTitle(ctx, q)
}

// lookup resolves the :id parameter; a malformed id is reported as not found.
func (h *handler) lookup(c *gin.Context) (*model.Article, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return nil, model.ErrNotFound
	}

	return h.articles.ByID(c.Request.Context(), id)
}

func (h *handler) index(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))

	articles, err := h.list(c.Request.Context(), q)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.HTML(http.StatusOK, "index.html", page("Articles", q, gin.H{"Articles": articles}))
}

func (h *handler) detail(c *gin.Context) {
	article, err := h.lookup(c)
	if errors.Is(err, model.ErrNotFound) {
		h.notFound(c)
		return
	}

	if err != nil {
		h.fail(c, err)
		return
	}

	c.HTML(http.StatusOK, "article.html", page(article.Title, "", gin.H{"Article": article}))
}

func (h *handler) about(c *gin.Context) {
	c.HTML(http.StatusOK, "about.html", page("About", "", nil))
}

func (h *handler) notFound(c *gin.Context) {
	if strings.HasPrefix(c.Request.URL.Path, "/api/") {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	c.HTML(http.StatusNotFound, "not_found.html", page("Not found", "", nil))
}

func (h *handler) fail(c *gin.Context, err error) {
	h.log.Error("request failed", "path", c.Request.URL.Path, "error", err)

	if strings.HasPrefix(c.Request.URL.Path, "/api/") {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.String(http.StatusInternalServerError, "Internal error")
}

func (h *handler) apiList(c *gin.Context) {
	articles, err := h.list(c.Request.Context(), strings.TrimSpace(c.Query("q")))
	if err != nil {
		h.fail(c, err)
		return
	}

	if articles == nil {
		articles = []model.Article{}
	}

	c.JSON(http.StatusOK, gin.H{"articles": articles})
}

func (h *handler) apiDetail(c *gin.Context) {
	article, err := h.lookup(c)
	if errors.Is(err, model.ErrNotFound) {
		h.notFound(c)
		return
	}

	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, article)
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		log.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
