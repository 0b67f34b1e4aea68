// Package api implements the request/response fallback client for the chat
// sync layer. The endpoints themselves belong to an external collaborator;
// only their contract is encoded here.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tether/cmd/internal/chat"
)

const (
	defaultTimeout   = 15 * time.Second
	defaultPageSize  = 30
	maxResponseBytes = 4 << 20 // 4 MiB

	roomsPath      = "/api/chat/rooms/"
	directRoomPath = "/api/chat/rooms/direct/"
)

// Client talks to the fallback REST endpoints.
//
// The ambient credential (session cookie) is carried by the injected
// http.Client's cookie jar; this package never handles tokens directly.
type Client struct {
	base     *url.URL
	http     *http.Client
	log      *slog.Logger
	pageSize int
}

// Option configures Client behavior.
type Option func(*Client) error

// WithPageSize sets the message page size requested from the server.
func WithPageSize(n int) Option {
	return func(c *Client) error {
		if n <= 0 {
			return errors.New("api: non-positive page size")
		}
		c.pageSize = n
		return nil
	}
}

// WithHTTPClient sets the underlying http.Client (cookie jar, timeouts).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) error {
		if h == nil {
			return errors.New("api: nil http client")
		}
		c.http = h
		return nil
	}
}

// New constructs a Client for the given base URL.
func New(baseURL string, log *slog.Logger, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("api: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api: unsupported scheme: %q", u.Scheme)
	}

	c := &Client{
		base:     u,
		http:     &http.Client{Timeout: defaultTimeout},
		log:      log,
		pageSize: defaultPageSize,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// PageSize returns the configured message page size.
func (c *Client) PageSize() int { return c.pageSize }

// ListRooms fetches the full room list.
func (c *Client) ListRooms(ctx context.Context) ([]chat.Room, error) {
	var dtos []roomDTO
	if err := c.getJSON(ctx, roomsPath, nil, &dtos); err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	rooms := make([]chat.Room, 0, len(dtos))
	for _, d := range dtos {
		rooms = append(rooms, toRoom(d))
	}
	return rooms, nil
}

// GetRoom fetches a single room by id.
func (c *Client) GetRoom(ctx context.Context, roomID int64) (chat.Room, error) {
	var d roomDTO
	if err := c.getJSON(ctx, c.roomPath(roomID, ""), nil, &d); err != nil {
		return chat.Room{}, fmt.Errorf("get room %d: %w", roomID, err)
	}
	return toRoom(d), nil
}

// Messages fetches one page of a room's history, page 1 being the most recent.
// Messages within the page are returned ascending by timestamp.
func (c *Client) Messages(ctx context.Context, roomID int64, page int) (chat.MessagePage, error) {
	if page <= 0 {
		page = 1
	}
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(c.pageSize))

	var d messagePageDTO
	if err := c.getJSON(ctx, c.roomPath(roomID, "messages/"), q, &d); err != nil {
		return chat.MessagePage{}, fmt.Errorf("messages room=%d page=%d: %w", roomID, page, err)
	}

	msgs := make([]chat.Message, 0, len(d.Messages))
	for _, m := range d.Messages {
		msgs = append(msgs, toMessage(m))
	}
	return chat.MessagePage{Messages: msgs, HasMore: d.HasMore}, nil
}

// SendMessage posts a message through the request/response path. Attachments,
// when present, are carried as a multipart form; the realtime channel is
// unsuitable for binary payloads.
func (c *Client) SendMessage(ctx context.Context, roomID int64, content string, attachments []chat.Upload) (chat.Message, error) {
	var (
		body        io.Reader
		contentType string
	)

	if len(attachments) == 0 {
		b, err := json.Marshal(map[string]string{"content": content})
		if err != nil {
			return chat.Message{}, err
		}
		body = bytes.NewReader(b)
		contentType = "application/json; charset=utf-8"
	} else {
		buf := &bytes.Buffer{}
		mw := multipart.NewWriter(buf)
		if err := mw.WriteField("content", content); err != nil {
			return chat.Message{}, err
		}
		for _, a := range attachments {
			fw, err := mw.CreateFormFile("attachments", a.Name)
			if err != nil {
				return chat.Message{}, err
			}
			if _, err := io.Copy(fw, a.Reader); err != nil {
				return chat.Message{}, fmt.Errorf("copy attachment %q: %w", a.Name, err)
			}
		}
		if err := mw.Close(); err != nil {
			return chat.Message{}, err
		}
		body = buf
		contentType = mw.FormDataContentType()
	}

	var d messageDTO
	if err := c.do(ctx, http.MethodPost, c.roomPath(roomID, "messages/"), nil, body, contentType, &d); err != nil {
		return chat.Message{}, fmt.Errorf("send message room=%d: %w", roomID, err)
	}
	return toMessage(d), nil
}

// MarkRead marks every message in the room as read.
func (c *Client) MarkRead(ctx context.Context, roomID int64) error {
	if err := c.do(ctx, http.MethodPost, c.roomPath(roomID, "read/"), nil, nil, "", nil); err != nil {
		return fmt.Errorf("mark read room=%d: %w", roomID, err)
	}
	return nil
}

// CreateDirectRoom creates (or returns the existing) direct room with a user.
func (c *Client) CreateDirectRoom(ctx context.Context, userID int64) (chat.Room, error) {
	b, err := json.Marshal(createDirectRequest{UserID: userID})
	if err != nil {
		return chat.Room{}, err
	}

	var d roomDTO
	if err := c.do(ctx, http.MethodPost, directRoomPath, nil, bytes.NewReader(b), "application/json; charset=utf-8", &d); err != nil {
		return chat.Room{}, fmt.Errorf("create direct room user=%d: %w", userID, err)
	}
	return toRoom(d), nil
}

// ---- request plumbing ----

func (c *Client) roomPath(roomID int64, suffix string) string {
	return roomsPath + strconv.FormatInt(roomID, 10) + "/" + suffix
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, dst any) error {
	return c.do(ctx, http.MethodGet, path, q, nil, "", dst)
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body io.Reader, contentType string, dst any) error {
	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	if q != nil {
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Bounded read keeps error bodies from ballooning logs.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if dst == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil
	}

	dec := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
