package remote

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/sakif/captured-thinkings/internal/model"
)

type countResponse struct {
	Count int `json:"count"`
}

// Probe performs the cheapest read the store offers.
func (c *Client) Probe(ctx context.Context) error {
	var resp countResponse
	return c.doJSON(ctx, "probe", http.MethodGet, "/rest/v1/poems/count", nil, &resp)
}

// ListPoems returns poems joined with likes and comments, newest first.
func (c *Client) ListPoems(ctx context.Context, listedOnly bool) ([]model.PoemRecord, error) {
	var out []model.PoemRecord
	path := "/rest/v1/poems?listed=" + strconv.FormatBool(listedOnly)
	if err := c.doJSON(ctx, "list_poems", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) InsertPoem(ctx context.Context, in model.PoemInput) (*model.PoemRow, error) {
	var row model.PoemRow
	if err := c.doJSON(ctx, "insert_poem", http.MethodPost, "/rest/v1/poems", in, &row); err != nil {
		return nil, err
	}
	return &row, nil
}

func (c *Client) UpdatePoem(ctx context.Context, id string, patch model.PoemPatch) (*model.PoemRow, error) {
	var row model.PoemRow
	if err := c.doJSON(ctx, "update_poem", http.MethodPatch, "/rest/v1/poems/"+url.PathEscape(id), patch, &row); err != nil {
		return nil, err
	}
	return &row, nil
}

func (c *Client) DeletePoem(ctx context.Context, id string) error {
	return c.doJSON(ctx, "delete_poem", http.MethodDelete, "/rest/v1/poems/"+url.PathEscape(id), nil, nil)
}

// InsertLike likes poemID as the session's user.
func (c *Client) InsertLike(ctx context.Context, poemID string) error {
	return c.doJSON(ctx, "insert_like", http.MethodPost, "/rest/v1/poem_likes",
		map[string]string{"poem_id": poemID}, nil)
}

func (c *Client) DeleteLike(ctx context.Context, poemID string) error {
	return c.doJSON(ctx, "delete_like", http.MethodDelete,
		"/rest/v1/poem_likes?poem_id="+url.QueryEscape(poemID), nil, nil)
}

func (c *Client) InsertComment(ctx context.Context, poemID, content string) (*model.Comment, error) {
	var out model.Comment
	err := c.doJSON(ctx, "insert_comment", http.MethodPost, "/rest/v1/poem_comments",
		map[string]string{"poem_id": poemID, "content": content}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteComment(ctx context.Context, id string) error {
	return c.doJSON(ctx, "delete_comment", http.MethodDelete, "/rest/v1/poem_comments/"+url.PathEscape(id), nil, nil)
}
