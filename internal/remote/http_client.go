package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"tasksync/pkg/metrics"
)

// HTTPClient talks to a ClickUp-style task API: Bearer token, JSON
// bodies, page-numbered task listings under list/{id}/task.
type HTTPClient struct {
	baseURL string
	token   string
	hc      *http.Client
	logger  *zap.Logger
}

func NewHTTPClient(baseURL, token string, timeout time.Duration, logger *zap.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		hc:      &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// wire shapes

type taskWire struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Status      struct {
		Status string `json:"status"`
	} `json:"status"`
	Priority *struct {
		ID string `json:"id"`
	} `json:"priority"`
	DueDate   *string `json:"due_date"`
	Assignees []struct {
		ID json.Number `json:"id"`
	} `json:"assignees"`
	CustomFields []struct {
		ID    string          `json:"id"`
		Name  string          `json:"name"`
		Value json.RawMessage `json:"value"`
	} `json:"custom_fields"`
}

func (w taskWire) record() Record {
	rec := Record{
		ID:          w.ID,
		Name:        w.Name,
		Description: w.Description,
		Status:      w.Status.Status,
	}
	if w.Priority != nil {
		if p, err := strconv.Atoi(w.Priority.ID); err == nil {
			rec.Priority = p
		}
	}
	if w.DueDate != nil && *w.DueDate != "" {
		if ms, err := strconv.ParseInt(*w.DueDate, 10, 64); err == nil {
			rec.DueDate = &ms
		}
	}
	for _, a := range w.Assignees {
		rec.Assignees = append(rec.Assignees, a.ID.String())
	}
	for _, f := range w.CustomFields {
		var v string
		if err := json.Unmarshal(f.Value, &v); err != nil {
			v = string(f.Value)
		}
		rec.CustomFields = append(rec.CustomFields, CustomFieldValue{ID: f.ID, Name: f.Name, Value: v})
	}
	return rec
}

func (c *HTTPClient) Create(ctx context.Context, listID string, p Payload) (string, error) {
	var created struct {
		ID string `json:"id"`
	}
	path := fmt.Sprintf("list/%s/task", listID)
	err := c.do(ctx, "create", http.MethodPost, path, nil, p, &created)
	if err != nil && p.Status != "" && isShapeRejection(err) {
		// Some lists reject status or other optional fields; retry once
		// with a minimal payload instead of failing the whole task.
		c.logger.Warn("Remote rejected create payload, retrying with minimal shape",
			zap.String("list_id", listID),
			zap.Error(err),
		)
		err = c.do(ctx, "create", http.MethodPost, path, nil, minimalPayload(p), &created)
	}
	if err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", newError(KindFatal, "create", errors.New("remote returned no task id"))
	}
	return created.ID, nil
}

func (c *HTTPClient) Update(ctx context.Context, id string, p Payload) error {
	err := c.do(ctx, "update", http.MethodPut, "task/"+id, nil, p, nil)
	if err != nil && p.Status != "" && isShapeRejection(err) {
		c.logger.Warn("Remote rejected update payload, retrying with minimal shape",
			zap.String("task_id", id),
			zap.Error(err),
		)
		err = c.do(ctx, "update", http.MethodPut, "task/"+id, nil, minimalPayload(p), nil)
	}
	return err
}

// minimalPayload drops the status field, the one the 400/422 shape
// complaints are about. Everything else is kept.
func minimalPayload(p Payload) Payload {
	p.Status = ""
	return p
}

func (c *HTTPClient) Get(ctx context.Context, id string) (Record, error) {
	var w taskWire
	if err := c.do(ctx, "get", http.MethodGet, "task/"+id, nil, nil, &w); err != nil {
		return Record{}, err
	}
	return w.record(), nil
}

func (c *HTTPClient) Delete(ctx context.Context, id string) error {
	return c.do(ctx, "delete", http.MethodDelete, "task/"+id, nil, nil, nil)
}

// List returns a restartable iterator over all tasks of a list. The page
// cursor only advances after a page decodes successfully, so a transient
// failure mid-listing resumes without re-yielding seen records.
func (c *HTTPClient) List(listID string) Iterator {
	return &pageIterator{
		fetch: func(ctx context.Context, page int) ([]Record, bool, error) {
			params := url.Values{}
			params.Set("page", strconv.Itoa(page))
			params.Set("include_closed", "true")

			var resp struct {
				Tasks    []taskWire `json:"tasks"`
				LastPage bool       `json:"last_page"`
			}
			path := fmt.Sprintf("list/%s/task", listID)
			if err := c.do(ctx, "list", http.MethodGet, path, params, nil, &resp); err != nil {
				return nil, false, err
			}
			recs := make([]Record, 0, len(resp.Tasks))
			for _, w := range resp.Tasks {
				recs = append(recs, w.record())
			}
			last := resp.LastPage || len(resp.Tasks) == 0
			return recs, last, nil
		},
	}
}

func (c *HTTPClient) do(ctx context.Context, op, method, path string, params url.Values, body, out any) error {
	u := c.baseURL + "/" + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return newError(KindFatal, op, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return newError(KindFatal, op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		metrics.RecordRemoteCall(op, "network_error", time.Since(start))
		// Timeouts and connection failures are transient by definition.
		return newError(KindTransient, op, err)
	}
	defer resp.Body.Close()
	metrics.RecordRemoteCall(op, strconv.Itoa(resp.StatusCode), time.Since(start))

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return c.classify(op, resp, raw)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return newError(KindTransient, op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (c *HTTPClient) classify(op string, resp *http.Response, body []byte) error {
	msg := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return newError(KindNotFound, op, msg)
	case resp.StatusCode == http.StatusTooManyRequests:
		e := newError(KindRateLimited, op, msg)
		if after, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && after > 0 {
			e.RetryAfter = time.Duration(after) * time.Second
		}
		return e
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return newError(KindUnauthorized, op, msg)
	case resp.StatusCode >= 500:
		return newError(KindTransient, op, msg)
	default:
		return newError(KindFatal, op, msg)
	}
}

// isShapeRejection detects the 400/422 class of payload-shape complaints
// that some lists produce for optional fields.
func isShapeRejection(err error) bool {
	var re *Error
	if !errors.As(err, &re) || re.Kind != KindFatal || re.Err == nil {
		return false
	}
	s := re.Err.Error()
	return strings.HasPrefix(s, "status 400") || strings.HasPrefix(s, "status 422")
}

// pageIterator walks a paged listing, buffering one page at a time.
type pageIterator struct {
	fetch func(ctx context.Context, page int) ([]Record, bool, error)
	buf   []Record
	idx   int
	page  int
	done  bool
}

func (it *pageIterator) Next(ctx context.Context) (Record, bool, error) {
	for {
		if it.idx < len(it.buf) {
			rec := it.buf[it.idx]
			it.idx++
			return rec, true, nil
		}
		if it.done {
			return Record{}, false, nil
		}
		recs, last, err := it.fetch(ctx, it.page)
		if err != nil {
			// Position unchanged; the caller may retry Next.
			return Record{}, false, err
		}
		it.buf = recs
		it.idx = 0
		it.page++
		it.done = last
		if len(recs) == 0 && last {
			return Record{}, false, nil
		}
	}
}
