// Package sharepoint provides a write-capable client for a SharePoint
// document library through the Microsoft Graph drive API: folder listing and
// creation, simple uploads, and chunked upload sessions.
package sharepoint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Static errors surfaced to callers for errors.Is checks.
var (
	ErrNoDriveFound   = errors.New("no document library found on the SharePoint site")
	ErrFolderNotFound = errors.New("destination folder not found")
	ErrNameConflict   = errors.New("an item with this name already exists")
)

const (
	defaultGraphURL = "https://graph.microsoft.com/v1.0"

	// Graph accepts simple PUT uploads below 4 MiB; larger bodies need an
	// upload session.
	simpleUploadLimit = 4 * 1024 * 1024
)

// Client accesses one site drive. Connect must be called before any other
// operation to resolve the drive ID.
type Client struct {
	graphURL   string
	siteID     string
	driveID    string
	tokens     *TokenSource
	httpClient *http.Client
	chunkSize  int
}

// NewClient creates a drive client for the given site. chunkSize is the
// upload session chunk length in bytes and must be a multiple of 320 KiB.
func NewClient(siteID string, tokens *TokenSource, timeout time.Duration, chunkSize int) *Client {
	return &Client{
		graphURL:   defaultGraphURL,
		siteID:     strings.Trim(siteID, `'"`),
		tokens:     tokens,
		httpClient: &http.Client{Timeout: timeout},
		chunkSize:  chunkSize,
	}
}

// SetGraphURL overrides the API base URL; used by tests.
func (c *Client) SetGraphURL(u string) {
	c.graphURL = strings.TrimSuffix(u, "/")
}

func (c *Client) do(ctx context.Context, method, url string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	return c.httpClient.Do(req)
}

// Connect authenticates and resolves the site's default document library.
// It returns the library's display name.
func (c *Client) Connect(ctx context.Context) (string, error) {
	url := fmt.Sprintf("%s/sites/%s/drives", c.graphURL, c.siteID)

	resp, err := c.do(ctx, http.MethodGet, url, nil, "")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to list site drives: %s", resp.Status)
	}

	var drives struct {
		Value []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&drives); err != nil {
		return "", fmt.Errorf("failed to decode drive list: %w", err)
	}
	if len(drives.Value) == 0 {
		return "", ErrNoDriveFound
	}

	c.driveID = drives.Value[0].ID
	return drives.Value[0].Name, nil
}

// itemURL builds a drive-root-relative URL; suffix is appended after the
// path address (e.g. ":/children").
func (c *Client) itemURL(folderPath, suffix string) string {
	if folderPath == "" {
		return fmt.Sprintf("%s/sites/%s/drives/%s/root%s",
			c.graphURL, c.siteID, c.driveID, strings.TrimPrefix(suffix, ":"))
	}
	return fmt.Sprintf("%s/sites/%s/drives/%s/root:/%s%s",
		c.graphURL, c.siteID, c.driveID, escapePath(folderPath), suffix)
}

func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

// ListChildren lists the direct children of a folder (non-recursive),
// following pagination. A missing folder yields ErrFolderNotFound.
func (c *Client) ListChildren(ctx context.Context, folderPath string) ([]DriveItem, error) {
	next := c.itemURL(folderPath, ":/children")

	var items []DriveItem
	for next != "" {
		resp, err := c.do(ctx, http.MethodGet, next, nil, "")
		if err != nil {
			return nil, err
		}

		if resp.StatusCode == http.StatusNotFound {
			resp.Body.Close()
			return nil, fmt.Errorf("%w: %s", ErrFolderNotFound, folderPath)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("failed to list folder %s: %s", folderPath, resp.Status)
		}

		var page struct {
			Value    []driveItemJSON `json:"value"`
			NextLink string          `json:"@odata.nextLink"`
		}
		err = json.NewDecoder(resp.Body).Decode(&page)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to decode folder listing: %w", err)
		}

		for _, it := range page.Value {
			items = append(items, it.toDriveItem())
		}
		next = page.NextLink
	}

	return items, nil
}

// EnsureFolder creates the folder path level by level. Levels that already
// exist are not an error.
func (c *Client) EnsureFolder(ctx context.Context, folderPath string) error {
	// Fast path: the full path already exists.
	resp, err := c.do(ctx, http.MethodGet, c.itemURL(folderPath, ""), nil, "")
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	segs := strings.Split(folderPath, "/")
	for i := range segs {
		parent := strings.Join(segs[:i], "/")
		if err := c.createFolder(ctx, parent, segs[i]); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) createFolder(ctx context.Context, parent, name string) error {
	body, _ := json.Marshal(map[string]any{
		"name":                              name,
		"folder":                            map[string]any{},
		"@microsoft.graph.conflictBehavior": "fail",
	})

	resp, err := c.do(ctx, http.MethodPost, c.itemURL(parent, ":/children"), bytes.NewReader(body), "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return nil
	case http.StatusConflict:
		// Already exists, which is the state we want.
		return nil
	default:
		return fmt.Errorf("failed to create folder %s/%s: %s", parent, name, resp.Status)
	}
}

// Upload writes body to destPath (folder path plus filename). Small bodies
// with a known size go through a single PUT; everything else goes through a
// chunked upload session. A name conflict yields ErrNameConflict.
func (c *Client) Upload(ctx context.Context, destPath string, body io.Reader, size int64) (UploadResult, error) {
	if size >= 0 && size < simpleUploadLimit {
		return c.uploadSimple(ctx, destPath, body, size)
	}
	return c.uploadSession(ctx, destPath, body, size)
}

func (c *Client) uploadSimple(ctx context.Context, destPath string, body io.Reader, size int64) (UploadResult, error) {
	url := c.itemURL(destPath, ":/content") + "?@microsoft.graph.conflictBehavior=fail"

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, body)
	if err != nil {
		return UploadResult{}, err
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return UploadResult{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/octet-stream")
	req.ContentLength = size

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return UploadResult{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return decodeUploadResult(resp.Body)
	case http.StatusConflict:
		return UploadResult{}, fmt.Errorf("%w: %s", ErrNameConflict, destPath)
	default:
		return UploadResult{}, fmt.Errorf("upload of %s failed: %s", destPath, resp.Status)
	}
}

func (c *Client) uploadSession(ctx context.Context, destPath string, body io.Reader, size int64) (UploadResult, error) {
	sessionBody, _ := json.Marshal(map[string]any{
		"item": map[string]any{
			"@microsoft.graph.conflictBehavior": "fail",
		},
	})

	resp, err := c.do(ctx, http.MethodPost, c.itemURL(destPath, ":/createUploadSession"), bytes.NewReader(sessionBody), "application/json")
	if err != nil {
		return UploadResult{}, err
	}

	if resp.StatusCode == http.StatusConflict {
		resp.Body.Close()
		return UploadResult{}, fmt.Errorf("%w: %s", ErrNameConflict, destPath)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		resp.Body.Close()
		return UploadResult{}, fmt.Errorf("failed to create upload session for %s: %s", destPath, resp.Status)
	}

	var session struct {
		UploadURL string `json:"uploadUrl"`
	}
	err = json.NewDecoder(resp.Body).Decode(&session)
	resp.Body.Close()
	if err != nil || session.UploadURL == "" {
		return UploadResult{}, fmt.Errorf("invalid upload session response for %s", destPath)
	}

	return c.uploadChunks(ctx, destPath, session.UploadURL, body, size)
}

// uploadChunks pipes body to the session URL in sequential ranges. When size
// is unknown the total is announced as "*" until the final chunk, whose end
// offset fixes the length.
func (c *Client) uploadChunks(ctx context.Context, destPath, uploadURL string, body io.Reader, size int64) (UploadResult, error) {
	buf := make([]byte, c.chunkSize)
	var offset int64

	for {
		n, readErr := io.ReadFull(body, buf)
		if readErr != nil && !errors.Is(readErr, io.EOF) && !errors.Is(readErr, io.ErrUnexpectedEOF) {
			return UploadResult{}, fmt.Errorf("source read failed at offset %d: %w", offset, readErr)
		}
		last := errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) || n < len(buf)
		if n == 0 {
			// Nothing to send: either the source was empty, or it ended
			// exactly on a chunk boundary and the previous chunk already
			// finalized the session. A zero-byte range is not expressible in
			// a Content-Range header.
			break
		}

		total := "*"
		if size >= 0 {
			total = fmt.Sprintf("%d", size)
		} else if last {
			total = fmt.Sprintf("%d", offset+int64(n))
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(buf[:n]))
		if err != nil {
			return UploadResult{}, err
		}
		req.Header.Set("Content-Length", fmt.Sprintf("%d", n))
		req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%s", offset, offset+int64(n)-1, total))

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return UploadResult{}, fmt.Errorf("chunk upload failed at offset %d: %w", offset, err)
		}

		switch resp.StatusCode {
		case http.StatusAccepted:
			resp.Body.Close()
		case http.StatusOK, http.StatusCreated:
			defer resp.Body.Close()
			return decodeUploadResult(resp.Body)
		case http.StatusConflict:
			resp.Body.Close()
			return UploadResult{}, fmt.Errorf("%w: %s", ErrNameConflict, destPath)
		default:
			resp.Body.Close()
			return UploadResult{}, fmt.Errorf("chunk upload of %s failed at offset %d: %s", destPath, offset, resp.Status)
		}

		offset += int64(n)
		if last {
			break
		}
	}

	// The server finalized without returning the item (empty source or a
	// boundary-aligned final chunk acknowledged with 202).
	return UploadResult{Name: destPath, Size: offset}, nil
}

func decodeUploadResult(r io.Reader) (UploadResult, error) {
	var item driveItemJSON
	if err := json.NewDecoder(r).Decode(&item); err != nil {
		return UploadResult{}, fmt.Errorf("failed to decode upload response: %w", err)
	}
	return UploadResult{ID: item.ID, Name: item.Name, Size: item.Size}, nil
}
