package cache

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Request 描述一次被拦截的请求。URL 必须是绝对地址；Body 仅用于透传，不参与缓存键。
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// NewRequest 构造一个不带请求头的 GET 请求，常用于按 URL 直接查找缓存。
func NewRequest(rawURL string) *Request {
	return &Request{Method: http.MethodGet, URL: rawURL, Header: http.Header{}}
}

// Response 是完整的响应快照（状态码、响应头、正文）。
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// OK 对应 fetch Response.ok：状态码位于 200-299。
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status <= 299
}

// Clone 深拷贝响应，写缓存与返回调用方各持一份。
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	return &Response{
		Status: r.Status,
		Header: r.Header.Clone(),
		Body:   append([]byte(nil), r.Body...),
	}
}

// entry 是各后端共用的持久化形态。
type entry struct {
	URL      string      `json:"url"`
	Vary     http.Header `json:"vary,omitempty"`
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	StoredAt time.Time   `json:"stored_at"`
	Body     []byte      `json:"-"`
}

func (e *entry) response() *Response {
	return &Response{
		Status: e.Status,
		Header: e.Header.Clone(),
		Body:   append([]byte(nil), e.Body...),
	}
}

// matches 按 Vary 记录比较请求头，未记录 Vary 的条目只比较 URL。
func (e *entry) matches(req *Request) bool {
	for name, values := range e.Vary {
		got := ""
		if req.Header != nil {
			got = strings.Join(req.Header.Values(name), ",")
		}
		if got != strings.Join(values, ",") {
			return false
		}
	}
	return true
}

// newEntry 校验请求/响应是否可写入，并抽取 Vary 命中的请求头。
func newEntry(req *Request, resp *Response) (*entry, string, error) {
	if req == nil || resp == nil {
		return nil, "", fmt.Errorf("%w: nil request or response", ErrUncacheable)
	}
	if req.Method != "" && req.Method != http.MethodGet {
		return nil, "", fmt.Errorf("%w: method %s", ErrUncacheable, req.Method)
	}
	if resp.Status == http.StatusPartialContent {
		return nil, "", fmt.Errorf("%w: partial content", ErrUncacheable)
	}
	key, err := RequestKey(req)
	if err != nil {
		return nil, "", err
	}

	var vary http.Header
	for _, raw := range resp.Header.Values("Vary") {
		for _, name := range strings.Split(raw, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if name == "*" {
				return nil, "", ErrVaryWildcard
			}
			if vary == nil {
				vary = http.Header{}
			}
			canonical := http.CanonicalHeaderKey(name)
			vary[canonical] = nil
			if req.Header != nil {
				if values := req.Header.Values(canonical); len(values) > 0 {
					vary[canonical] = []string{strings.Join(values, ",")}
				}
			}
		}
	}

	return &entry{
		URL:      key,
		Vary:     vary,
		Status:   resp.Status,
		Header:   resp.Header.Clone(),
		StoredAt: time.Now().UTC(),
		Body:     append([]byte(nil), resp.Body...),
	}, key, nil
}

// RequestKey 返回请求的缓存键：去掉 fragment、省略默认端口的绝对 URL。
func RequestKey(req *Request) (string, error) {
	if req == nil {
		return "", fmt.Errorf("%w: nil request", ErrUncacheable)
	}
	parsed, err := url.Parse(req.URL)
	if err != nil {
		return "", fmt.Errorf("parse request url: %w", err)
	}
	if !parsed.IsAbs() {
		return "", fmt.Errorf("%w: relative url %q", ErrUncacheable, req.URL)
	}
	parsed.Fragment = ""
	parsed.RawFragment = ""
	parsed.Host = strings.ToLower(parsed.Host)
	if port := parsed.Port(); port != "" && port == defaultPorts[parsed.Scheme] {
		parsed.Host = strings.TrimSuffix(parsed.Host, ":"+port)
	}
	return parsed.String(), nil
}

// defaultPorts 中的端口在缓存键里省略，http://host:80/ 与 http://host/ 是同一条目。
var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}
