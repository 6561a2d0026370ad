package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"stitchsync/internal/common"
	"stitchsync/internal/logging"
	"stitchsync/internal/models"
)

const userAgent = "stitchsync-client/1.0"

// HTTPStore implements Store over the pattern server's JSON API.
type HTTPStore struct {
	client  *http.Client
	baseURL string
	log     logging.Logger
}

// NewHTTPStore returns a Store talking to baseURL. timeout bounds each
// individual request.
func NewHTTPStore(baseURL string, timeout time.Duration, log logging.Logger) *HTTPStore {
	return &HTTPStore{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		log:     log,
	}
}

func (s *HTTPStore) Create(ctx context.Context, draft Draft) (*models.Record, error) {
	var w wireRecord
	if err := s.doJSON(ctx, http.MethodPost, "/api/v1/patterns", draft, &w); err != nil {
		return nil, err
	}
	return decodeRecord(w)
}

func (s *HTTPStore) Get(ctx context.Context, id string) (*models.Record, error) {
	var w wireRecord
	err := s.doJSON(ctx, http.MethodGet, "/api/v1/patterns/"+url.PathEscape(id), nil, &w)
	if err != nil {
		return nil, err
	}
	return decodeRecord(w)
}

func (s *HTTPStore) List(ctx context.Context, filter *ListFilter) ([]models.Record, error) {
	path := "/api/v1/patterns"
	if filter != nil {
		q := url.Values{}
		if filter.Category != "" {
			q.Set("category", filter.Category)
		}
		if filter.Tag != "" {
			q.Set("tag", filter.Tag)
		}
		if len(q) > 0 {
			path += "?" + q.Encode()
		}
	}

	var wires []wireRecord
	if err := s.doJSON(ctx, http.MethodGet, path, nil, &wires); err != nil {
		return nil, err
	}

	records := make([]models.Record, 0, len(wires))
	for _, w := range wires {
		rec, err := decodeRecord(w)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, nil
}

func (s *HTTPStore) Update(ctx context.Context, id string, draft Draft) (*models.Record, error) {
	var w wireRecord
	err := s.doJSON(ctx, http.MethodPatch, "/api/v1/patterns/"+url.PathEscape(id), draft, &w)
	if err != nil {
		return nil, err
	}
	return decodeRecord(w)
}

func (s *HTTPStore) Delete(ctx context.Context, id string) error {
	return s.doJSON(ctx, http.MethodDelete, "/api/v1/patterns/"+url.PathEscape(id), nil, nil)
}

func (s *HTTPStore) Ping(ctx context.Context) error {
	return s.doJSON(ctx, http.MethodGet, "/api/v1/health", nil, nil)
}

// doJSON performs one request and decodes the response body into out
// (when out is non-nil). Transport failures and 5xx responses map to
// common.ErrRemoteUnavailable, 404 to common.ErrRemoteNotFound and
// 401/403 to common.ErrPermissionDenied.
func (s *HTTPStore) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	s.log.Debug(ctx, "remote request", "method", method, "path", path)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w: %w", method, path, common.ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// fall through to decode
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", method, path, common.ErrRemoteNotFound)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s %s: %w", method, path, common.ErrPermissionDenied)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%s %s: status %d: %w", method, path, resp.StatusCode, common.ErrRemoteUnavailable)
	default:
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: %w: %w", method, path, common.ErrMalformedRecord, err)
	}
	return nil
}
