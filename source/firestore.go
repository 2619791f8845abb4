package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/billenewman4/itemcache/record"
)

// FirestoreConfig configures a FirestoreSource.
type FirestoreConfig struct {
	// ProjectID is the Cloud project. If empty and TokenSource exposes a
	// ProjectID, that one is used.
	ProjectID string

	// DatabaseID selects the Firestore database.
	// Default: "(default)"
	DatabaseID string

	// BaseURL is the API endpoint. Intended for tests and emulators.
	// Default: https://firestore.googleapis.com/v1
	BaseURL string

	// PageSize bounds each list page.
	// Default: 300
	PageSize int

	// UpdatedField is the document field FetchSince filters on.
	// Default: "updated_at"
	UpdatedField string

	// Mapping names the identifier and approval fields inside each
	// document. Zero value uses the package defaults.
	Mapping record.FieldMapping

	// TokenSource authenticates requests. Required.
	TokenSource TokenSource

	// HTTPClient is used for all requests.
	// If nil, a default client with 30s timeout is used.
	HTTPClient *http.Client
}

// FirestoreSource pulls records from Cloud Firestore over its REST API.
//
// FetchAll lists the collection page by page; FetchSince runs a structured
// query filtering on the configured updated-at field. Connectivity
// failures, non-2xx statuses, and undecodable responses wrap
// ErrUnavailable.
type FirestoreSource struct {
	config FirestoreConfig
}

var _ Source = (*FirestoreSource)(nil)

// NewFirestoreSource validates the config and applies defaults.
func NewFirestoreSource(config FirestoreConfig) (*FirestoreSource, error) {
	if config.TokenSource == nil {
		return nil, fmt.Errorf("source: firestore requires a token source")
	}
	if config.ProjectID == "" {
		if p, ok := config.TokenSource.(interface{ ProjectID() string }); ok {
			config.ProjectID = p.ProjectID()
		}
	}
	if config.ProjectID == "" {
		return nil, fmt.Errorf("source: firestore requires a project id")
	}
	if config.DatabaseID == "" {
		config.DatabaseID = "(default)"
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://firestore.googleapis.com/v1"
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.PageSize <= 0 {
		config.PageSize = 300
	}
	if config.UpdatedField == "" {
		config.UpdatedField = "updated_at"
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &FirestoreSource{config: config}, nil
}

// FetchAll implements Source. It follows nextPageToken until the
// collection is exhausted.
func (f *FirestoreSource) FetchAll(ctx context.Context, sourceID string) ([]record.Record, error) {
	var out []record.Record
	pageToken := ""
	for {
		docs, next, err := f.listPage(ctx, sourceID, pageToken)
		if err != nil {
			return nil, err
		}
		for _, doc := range docs {
			out = append(out, f.toRecord(doc))
		}
		if next == "" {
			return out, nil
		}
		pageToken = next
	}
}

// FetchSince implements Source. It queries for documents whose updated-at
// field is strictly greater than since.
func (f *FirestoreSource) FetchSince(ctx context.Context, sourceID string, since time.Time) ([]record.Record, error) {
	body := map[string]any{
		"structuredQuery": map[string]any{
			"from": []map[string]any{{"collectionId": sourceID}},
			"where": map[string]any{
				"fieldFilter": map[string]any{
					"field": map[string]any{"fieldPath": f.config.UpdatedField},
					"op":    "GREATER_THAN",
					"value": map[string]any{"timestampValue": since.UTC().Format(time.RFC3339Nano)},
				},
			},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("source: encode query: %w", err)
	}

	endpoint := fmt.Sprintf("%s/projects/%s/databases/%s/documents:runQuery",
		f.config.BaseURL, f.config.ProjectID, f.config.DatabaseID)
	data, err := f.do(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Document *firestoreDocument `json:"document"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("%w: decode query response: %v", ErrUnavailable, err)
	}

	var out []record.Record
	for _, row := range rows {
		// Result rows without a document only carry a read time.
		if row.Document == nil {
			continue
		}
		out = append(out, f.toRecord(*row.Document))
	}
	return out, nil
}

func (f *FirestoreSource) listPage(ctx context.Context, sourceID, pageToken string) ([]firestoreDocument, string, error) {
	endpoint := fmt.Sprintf("%s/projects/%s/databases/%s/documents/%s",
		f.config.BaseURL, f.config.ProjectID, f.config.DatabaseID, url.PathEscape(sourceID))
	params := url.Values{"pageSize": {strconv.Itoa(f.config.PageSize)}}
	if pageToken != "" {
		params.Set("pageToken", pageToken)
	}

	data, err := f.do(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, "", err
	}

	var page struct {
		Documents     []firestoreDocument `json:"documents"`
		NextPageToken string              `json:"nextPageToken"`
	}
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, "", fmt.Errorf("%w: decode list response: %v", ErrUnavailable, err)
	}
	return page.Documents, page.NextPageToken, nil
}

func (f *FirestoreSource) do(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
	token, err := f.config.TokenSource.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: token: %v", ErrUnavailable, err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("source: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.config.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: status 404", ErrUnknownCollection)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(firstBytes(data, 256))))
	}
	return data, nil
}

func (f *FirestoreSource) toRecord(doc firestoreDocument) record.Record {
	fields := make(map[string]any, len(doc.Fields))
	for name, value := range doc.Fields {
		fields[name] = value.decode()
	}
	return record.FromDocument(doc.id(), fields, f.config.Mapping)
}

func firstBytes(data []byte, n int) []byte {
	if len(data) > n {
		return data[:n]
	}
	return data
}

// firestoreDocument is one document in REST wire form.
type firestoreDocument struct {
	Name       string                    `json:"name"`
	Fields     map[string]firestoreValue `json:"fields"`
	UpdateTime string                    `json:"updateTime"`
}

// id extracts the document id from the fully qualified resource name.
func (d firestoreDocument) id() string {
	if i := strings.LastIndexByte(d.Name, '/'); i >= 0 {
		return d.Name[i+1:]
	}
	return d.Name
}

// firestoreValue is the typed value wrapper the REST API uses for every
// field. Exactly one branch is set.
type firestoreValue struct {
	StringValue    *string         `json:"stringValue"`
	IntegerValue   *string         `json:"integerValue"`
	DoubleValue    *float64        `json:"doubleValue"`
	BooleanValue   *bool           `json:"booleanValue"`
	TimestampValue *string         `json:"timestampValue"`
	ReferenceValue *string         `json:"referenceValue"`
	BytesValue     *string         `json:"bytesValue"`
	MapValue       *firestoreMap   `json:"mapValue"`
	ArrayValue     *firestoreArray `json:"arrayValue"`
}

type firestoreMap struct {
	Fields map[string]firestoreValue `json:"fields"`
}

type firestoreArray struct {
	Values []firestoreValue `json:"values"`
}

// decode converts the wire value to a plain Go value. Integer values
// arrive as decimal strings and come back as int64. Null and unsupported
// kinds decode to nil.
func (v firestoreValue) decode() any {
	switch {
	case v.StringValue != nil:
		return *v.StringValue
	case v.IntegerValue != nil:
		if n, err := strconv.ParseInt(*v.IntegerValue, 10, 64); err == nil {
			return n
		}
		return *v.IntegerValue
	case v.DoubleValue != nil:
		return *v.DoubleValue
	case v.BooleanValue != nil:
		return *v.BooleanValue
	case v.TimestampValue != nil:
		return *v.TimestampValue
	case v.ReferenceValue != nil:
		return *v.ReferenceValue
	case v.BytesValue != nil:
		return *v.BytesValue
	case v.MapValue != nil:
		m := make(map[string]any, len(v.MapValue.Fields))
		for name, field := range v.MapValue.Fields {
			m[name] = field.decode()
		}
		return m
	case v.ArrayValue != nil:
		arr := make([]any, 0, len(v.ArrayValue.Values))
		for _, item := range v.ArrayValue.Values {
			arr = append(arr, item.decode())
		}
		return arr
	default:
		return nil
	}
}
