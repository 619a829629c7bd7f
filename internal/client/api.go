// Package client is the messaging SDK used by a signed-in client session: a
// typed REST client, a keyed query cache, the push Connection Manager and the
// Conversation View Controller.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gigboard/marketplace/internal/logger"
	"github.com/gigboard/marketplace/internal/models"
)

var log = logger.New("client")

// File is a local file queued for upload
type File struct {
	Name string
	Data []byte
}

// APIError is a non-2xx response from the server
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.Status, e.Message)
}

// IsStatus reports whether err is an APIError with the given status
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// MessagingAPI is the slice of the REST surface the controller needs
type MessagingAPI interface {
	SendMessage(ctx context.Context, req *models.SendMessageRequest) (*models.Message, error)
	Conversation(ctx context.Context, contactID int64) ([]*models.Message, error)
	AllMessages(ctx context.Context) ([]*models.Message, error)
	Contacts(ctx context.Context) ([]models.ContactSummary, error)
	UnreadCount(ctx context.Context) (int, error)
	MarkRead(ctx context.Context, messageID int64) error
	Upload(ctx context.Context, files []File) ([]models.Attachment, error)
}

// API talks to the REST surface with a bearer token
type API struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

var _ MessagingAPI = (*API)(nil)

func NewAPI(baseURL, token string) *API {
	return &API{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// WebSocketURL derives the push endpoint from the API origin
func (a *API) WebSocketURL() (string, error) {
	u, err := url.Parse(a.BaseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/ws"
	u.RawQuery = url.Values{"token": {a.Token}}.Encode()
	return u.String(), nil
}

func (a *API) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, a.BaseURL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if a.Token != "" {
		req.Header.Set("Authorization", "Bearer "+a.Token)
	}

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (a *API) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}
	return a.do(ctx, method, path, body, contentType, out)
}

func (a *API) SendMessage(ctx context.Context, req *models.SendMessageRequest) (*models.Message, error) {
	var msg models.Message
	if err := a.doJSON(ctx, http.MethodPost, "/api/messages", req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (a *API) Conversation(ctx context.Context, contactID int64) ([]*models.Message, error) {
	var msgs []*models.Message
	err := a.doJSON(ctx, http.MethodGet, "/api/messages?userId="+strconv.FormatInt(contactID, 10), nil, &msgs)
	return msgs, err
}

func (a *API) AllMessages(ctx context.Context) ([]*models.Message, error) {
	var msgs []*models.Message
	err := a.doJSON(ctx, http.MethodGet, "/api/messages?type=all", nil, &msgs)
	return msgs, err
}

func (a *API) Contacts(ctx context.Context) ([]models.ContactSummary, error) {
	var contacts []models.ContactSummary
	err := a.doJSON(ctx, http.MethodGet, "/api/messages/contacts", nil, &contacts)
	return contacts, err
}

func (a *API) UnreadCount(ctx context.Context) (int, error) {
	var resp struct {
		Count int `json:"count"`
	}
	err := a.doJSON(ctx, http.MethodGet, "/api/messages/unread-count", nil, &resp)
	return resp.Count, err
}

func (a *API) MarkRead(ctx context.Context, messageID int64) error {
	return a.doJSON(ctx, http.MethodPatch, "/api/messages/"+strconv.FormatInt(messageID, 10)+"/read", nil, nil)
}

// Upload sends files through the multi-file endpoint in one batch
func (a *API) Upload(ctx context.Context, files []File) ([]models.Attachment, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, f := range files {
		part, err := mw.CreateFormFile("files", f.Name)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var resp struct {
		Files []models.Attachment `json:"files"`
	}
	if err := a.do(ctx, http.MethodPost, "/api/upload/multiple", &body, mw.FormDataContentType(), &resp); err != nil {
		return nil, err
	}
	return resp.Files, nil
}
