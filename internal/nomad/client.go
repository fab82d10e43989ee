package nomad

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// API defines the calls alloclog makes against the agent.
// This interface is implemented by *Client and can be used for testing.
type API interface {
	Fetch(ctx context.Context, rawURL string) (*http.Response, error)
	Allocation(ctx context.Context, id string) (*Allocation, error)
	Node(ctx context.Context, id string) (*Node, error)
	AllocationStats(ctx context.Context, id string) (*AllocResourceUsage, error)
}

// Ensure Client implements API at compile time.
var _ API = (*Client)(nil)

// ErrNotFound is returned when the agent answers 404.
var ErrNotFound = errors.New("not found")

// StatusError is returned for HTTP responses of 400 and above.
type StatusError struct {
	Path string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api %s returned status %d", e.Path, e.Code)
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Code == http.StatusNotFound
}

// Client talks to the agent HTTP API.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	token     string
	region    string
	namespace string
	userAgent string
}

// Options configure a Client.
type Options struct {
	Address   string
	Token     string
	Region    string
	Namespace string
	UserAgent string
}

const (
	defaultAddress   = "http://127.0.0.1:4646"
	defaultUserAgent = "alloclog/0.1"
	requestTimeout   = 5 * time.Second

	// TokenHeader carries the ACL token.
	TokenHeader = "X-Nomad-Token"
)

// NewClient builds a Client for the agent at opts.Address.
// The underlying http.Client has no overall timeout so log streams can stay
// open; JSON calls apply requestTimeout through their context.
func NewClient(opts Options) (*Client, error) {
	base, err := parseBaseURL(opts.Address)
	if err != nil {
		return nil, err
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	return &Client{
		baseURL:   base,
		http:      &http.Client{},
		token:     strings.TrimSpace(opts.Token),
		region:    strings.TrimSpace(opts.Region),
		namespace: strings.TrimSpace(opts.Namespace),
		userAgent: ua,
	}, nil
}

// BaseURL returns the agent address the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Fetch issues an authorized GET for rawURL, which may be a path, a
// scheme-relative "//host:port/path" address, or an absolute URL. The caller
// owns the response body.
func (c *Client) Fetch(ctx context.Context, rawURL string) (*http.Response, error) {
	if c == nil {
		return nil, errors.New("client is nil")
	}
	rel, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrapf(err, "parse url %q", rawURL)
	}
	req, err := c.newRequest(ctx, http.MethodGet, rel)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "execute request")
	}
	return resp, nil
}

// Allocation retrieves a single allocation by full ID.
func (c *Client) Allocation(ctx context.Context, id string) (*Allocation, error) {
	if c == nil {
		return nil, errors.New("client is nil")
	}
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("allocation id required")
	}
	var payload Allocation
	if err := c.do(ctx, "/v1/allocation/"+url.PathEscape(id), nil, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// ResolveAllocation accepts a full ID or a unique prefix.
func (c *Client) ResolveAllocation(ctx context.Context, prefix string) (*Allocation, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil, errors.New("allocation id required")
	}
	if len(prefix) == 36 {
		return c.Allocation(ctx, prefix)
	}
	values := url.Values{}
	values.Set("prefix", prefix)
	var stubs []AllocationStub
	if err := c.do(ctx, "/v1/allocations", values, &stubs); err != nil {
		return nil, err
	}
	switch len(stubs) {
	case 0:
		return nil, errors.Wrapf(ErrNotFound, "no allocation matches prefix %q", prefix)
	case 1:
		return c.Allocation(ctx, stubs[0].ID)
	default:
		ids := make([]string, 0, len(stubs))
		for _, s := range stubs {
			ids = append(ids, s.ID)
		}
		return nil, errors.Errorf("prefix %q matched %d allocations: %s", prefix, len(stubs), strings.Join(ids, ", "))
	}
}

// Node retrieves a client node by ID.
func (c *Client) Node(ctx context.Context, id string) (*Node, error) {
	if c == nil {
		return nil, errors.New("client is nil")
	}
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("node id required")
	}
	var payload Node
	if err := c.do(ctx, "/v1/node/"+url.PathEscape(id), nil, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// AllocationStats retrieves live resource usage for a running allocation.
func (c *Client) AllocationStats(ctx context.Context, id string) (*AllocResourceUsage, error) {
	if c == nil {
		return nil, errors.New("client is nil")
	}
	var payload AllocResourceUsage
	if err := c.do(ctx, "/v1/client/allocation/"+url.PathEscape(id)+"/stats", nil, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// ServerLogURL is the log endpoint proxied through the agent at the base address.
func ServerLogURL(allocID string) string {
	return "/v1/client/fs/logs/" + url.PathEscape(allocID)
}

// ClientLogURL is the log endpoint served directly by the node agent. An
// empty httpAddr yields "".
func ClientLogURL(httpAddr, allocID string) string {
	addr := FormatHost(httpAddr)
	if addr == "" {
		return ""
	}
	return "//" + addr + ServerLogURL(allocID)
}

// FormatHost brackets a bare IPv6 "host:port" address. Anything else is
// returned trimmed.
func FormatHost(addr string) string {
	addr = strings.TrimSpace(addr)
	if strings.HasPrefix(addr, "[") || strings.Count(addr, ":") < 2 {
		return addr
	}
	i := strings.LastIndex(addr, ":")
	return net.JoinHostPort(addr[:i], addr[i+1:])
}

func (c *Client) do(ctx context.Context, path string, query url.Values, dest any) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	rel := &url.URL{Path: path}
	if len(query) > 0 {
		rel.RawQuery = query.Encode()
	}
	req, err := c.newRequest(ctx, http.MethodGet, rel)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "execute request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return &StatusError{Path: rel.Path, Code: resp.StatusCode}
	}
	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method string, rel *url.URL) (*http.Request, error) {
	reqURL := c.baseURL.ResolveReference(rel)
	query := reqURL.Query()
	if c.region != "" && query.Get("region") == "" {
		query.Set("region", c.region)
	}
	if c.namespace != "" && query.Get("namespace") == "" {
		query.Set("namespace", c.namespace)
	}
	reqURL.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set(TokenHeader, c.token)
	}
	return req, nil
}

func parseBaseURL(address string) (*url.URL, error) {
	trimmed := strings.TrimSpace(address)
	if trimmed == "" {
		trimmed = defaultAddress
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, errors.Wrapf(err, "parse address %q", address)
	}
	u.Path = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}
