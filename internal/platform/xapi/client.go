package xapi

import (
	"context"
	"fmt"
	"time"

	twitterscraper "github.com/imperatrona/twitter-scraper"

	"xscraper/internal/logger"
)

// Gateway is the platform-access boundary. The engine only sequences and
// retries these two calls; everything below them belongs to the scraping
// library.
type Gateway interface {
	Authenticate(ctx context.Context, cred Credential) (*Session, error)
	FetchPage(ctx context.Context, sess *Session, spec FetchSpec, cursor string, count int) (Page, error)
}

// Client implements Gateway on top of the twitter-scraper library.
type Client struct {
	log *logger.Logger
}

func NewClient() *Client {
	return &Client{log: logger.New("XAPI")}
}

func (c *Client) Authenticate(_ context.Context, cred Credential) (*Session, error) {
	sc := twitterscraper.New()
	if err := sc.Login(cred.AccountID, cred.Secret); err != nil {
		c.log.LogWarnf("login failed for %s: %v", cred.AccountID, err)
		return nil, WrapError(KindAuth, "login rejected", err)
	}
	c.log.LogInfof("authenticated account %s", cred.AccountID)
	return &Session{
		AccountID: cred.AccountID,
		Cookies:   sc.GetCookies(),
		CreatedAt: time.Now().UTC(),
	}, nil
}

func (c *Client) FetchPage(_ context.Context, sess *Session, spec FetchSpec, cursor string, count int) (Page, error) {
	sc := twitterscraper.New()
	sc.SetCookies(sess.Cookies)

	var (
		tweets []*twitterscraper.Tweet
		next   string
		err    error
	)
	switch spec.Kind {
	case FetchTimeline:
		tweets, next, err = sc.FetchTweets(spec.Handle, count, cursor)
	case FetchSearch:
		if spec.SearchKind == SearchLatest {
			sc.SetSearchMode(twitterscraper.SearchLatest)
		} else {
			sc.SetSearchMode(twitterscraper.SearchTop)
		}
		tweets, next, err = sc.FetchSearchTweets(spec.Query, count, cursor)
	default:
		return Page{}, NewError(KindInternal, fmt.Sprintf("unknown fetch kind %q", spec.Kind))
	}
	if err != nil {
		return Page{}, classify(err)
	}

	posts := make([]Post, 0, len(tweets))
	for _, t := range tweets {
		posts = append(posts, fromTweet(t))
	}
	return Page{Posts: posts, NextCursor: next}, nil
}

func fromTweet(t *twitterscraper.Tweet) Post {
	return Post{
		ID:        t.ID,
		Author:    t.Username,
		AuthorID:  t.UserID,
		Text:      t.Text,
		CreatedAt: time.Unix(t.Timestamp, 0).UTC(),
		URL:       fmt.Sprintf("https://twitter.com/%s/status/%s", t.Username, t.ID),
		Engagement: Engagement{
			Reposts: t.Retweets,
			Likes:   t.Likes,
			Replies: t.Replies,
		},
	}
}
