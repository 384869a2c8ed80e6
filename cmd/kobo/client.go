// Package kobo provides a read-only client for the KoboToolbox v2 API:
// form listing, paginated submission fetching, and streaming media download.
package kobo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"
)

// Static errors surfaced to callers for errors.Is checks.
var (
	ErrUnauthorized = errors.New("Kobo API rejected the token")
	ErrNotFound     = errors.New("Kobo API resource not found")
)

const userAgent = "kobo-sharepoint-pipeline/1.0"

// Client provides access to the Kobo API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a Kobo API client with token authentication.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Token "+c.token)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return resp, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrUnauthorized, resp.Status)
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, url)
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("Kobo API error: %s", resp.Status)
	}
}

type pagedForms struct {
	Next    string `json:"next"`
	Results []Form `json:"results"`
}

// ListForms fetches every available form, following pagination.
func (c *Client) ListForms(ctx context.Context) ([]Form, error) {
	url := c.baseURL + "/api/v2/assets/?format=json"

	var forms []Form
	for url != "" {
		resp, err := c.get(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("failed to list forms: %w", err)
		}

		var page pagedForms
		err = json.NewDecoder(resp.Body).Decode(&page)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to decode form list: %w", err)
		}

		forms = append(forms, page.Results...)
		url = page.Next
	}

	return forms, nil
}

type pagedSubmissions struct {
	Next    string            `json:"next"`
	Results []json.RawMessage `json:"results"`
}

// ListSubmissions fetches all submissions of a form, following pagination to
// completion before assigning row numbers. Row numbers are 1-based and
// reflect the server's export order.
func (c *Client) ListSubmissions(ctx context.Context, formUID string) ([]Submission, error) {
	url := fmt.Sprintf("%s/api/v2/assets/%s/data.json", c.baseURL, formUID)

	var raw []json.RawMessage
	for url != "" {
		resp, err := c.get(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch submissions for %s: %w", formUID, err)
		}

		var page pagedSubmissions
		err = json.NewDecoder(resp.Body).Decode(&page)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to decode submissions for %s: %w", formUID, err)
		}

		raw = append(raw, page.Results...)
		url = page.Next
	}

	subs := make([]Submission, 0, len(raw))
	for i, r := range raw {
		sub, err := parseSubmission(r)
		if err != nil {
			// A malformed record should not sink the whole form.
			continue
		}
		sub.Row = i + 1
		subs = append(subs, sub)
	}

	return subs, nil
}

// rawAttachment mirrors the _attachments entries of a submission record.
type rawAttachment struct {
	ID                json.Number `json:"id"`
	Filename          string      `json:"filename"`
	MimeType          string      `json:"mimetype"`
	FileSize          int64       `json:"file_size"`
	DownloadURL       string      `json:"download_url"`
	DownloadLargeURL  string      `json:"download_large_url"`
	DownloadMediumURL string      `json:"download_medium_url"`
}

func parseSubmission(raw json.RawMessage) (Submission, error) {
	var record map[string]json.RawMessage
	if err := json.Unmarshal(raw, &record); err != nil {
		return Submission{}, err
	}

	sub := Submission{Values: make(map[string]string)}

	if idRaw, ok := record["_id"]; ok {
		var id json.Number
		if err := json.Unmarshal(idRaw, &id); err == nil {
			sub.ID = id.String()
		}
	}

	var atts []rawAttachment
	if attRaw, ok := record["_attachments"]; ok {
		_ = json.Unmarshal(attRaw, &atts)
	}

	for key, val := range record {
		if strings.HasPrefix(key, "_") {
			continue
		}
		sub.Values[key] = stringifyValue(val)
	}

	for _, ra := range atts {
		sub.Attachments = append(sub.Attachments, Attachment{
			ID:                ra.ID.String(),
			Column:            columnForAttachment(sub.Values, ra.Filename),
			Filename:          path.Base(ra.Filename),
			ContentType:       ra.MimeType,
			Size:              ra.FileSize,
			DownloadURL:       ra.DownloadURL,
			DownloadLargeURL:  ra.DownloadLargeURL,
			DownloadMediumURL: ra.DownloadMediumURL,
		})
	}

	// CSV-shaped exports embed attachment JSON (or bare URLs) in column
	// values instead of a structured _attachments array.
	if len(sub.Attachments) == 0 {
		sub.Attachments = attachmentsFromValues(sub.Values)
	}

	return sub, nil
}

// columnForAttachment matches an attachment file to the column that
// references it: Kobo stores the media question's answer as the bare file
// name while the attachment record carries a user/uuid-prefixed path.
func columnForAttachment(values map[string]string, filename string) string {
	base := path.Base(filename)
	for col, val := range values {
		if val == base || strings.HasSuffix(val, "/"+base) {
			return col
		}
	}
	return ""
}

func stringifyValue(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return strings.Trim(string(raw), `"`)
}

// AttachmentURL reconstructs a download URL from identifiers, used when an
// attachment record carries no usable direct URL.
func (c *Client) AttachmentURL(formUID, submissionID, attachmentID string) string {
	return fmt.Sprintf("%s/api/v2/assets/%s/data/%s/attachments/%s/",
		c.baseURL, formUID, submissionID, attachmentID)
}

// Open starts a streaming download. The returned length is the declared
// Content-Length, or -1 when the server does not announce one. The caller
// owns the returned body.
func (c *Client) Open(ctx context.Context, url string) (io.ReadCloser, int64, error) {
	resp, err := c.get(ctx, url)
	if err != nil {
		return nil, 0, err
	}

	length := int64(-1)
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			length = n
		}
	}

	return resp.Body, length, nil
}
