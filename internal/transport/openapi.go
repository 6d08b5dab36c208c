package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kagenti/mcp-hub/internal/config"
)

// openapiOperation is one synthesized MCP tool: the HTTP method/path plus
// enough shape information to build a request from tool arguments.
type openapiOperation struct {
	method      string
	path        string
	description string
	// paramLocations maps argument name -> "path" | "query" | "header".
	paramLocations map[string]string
	hasBody        bool
}

// openapiClient synthesizes one MCP tool per OpenAPI operation, per spec
// §4.C2's openapi adapter. It never holds a persistent upstream connection:
// every CallTool constructs and issues a fresh HTTP request.
type openapiClient struct {
	name       string
	baseURL    string
	security   *config.OpenAPISecurity
	credential string
	httpClient *http.Client

	mu         sync.RWMutex
	operations map[string]openapiOperation
	tools      []mcp.Tool
}

func newOpenAPIClient(ctx context.Context, spec *config.UpstreamSpec) (UpstreamClient, error) {
	loader := openapi3.NewLoader()
	var (
		doc *openapi3.T
		err error
	)
	if strings.HasPrefix(spec.OpenAPIDocument, "http://") || strings.HasPrefix(spec.OpenAPIDocument, "https://") {
		doc, err = loader.LoadFromURI(mustParseURI(spec.OpenAPIDocument))
	} else {
		doc, err = loader.LoadFromFile(spec.OpenAPIDocument)
	}
	if err != nil {
		return nil, fmt.Errorf("loading openapi document %q: %w", spec.OpenAPIDocument, err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("validating openapi document: %w", err)
	}

	baseURL := spec.URL
	if baseURL == "" && len(doc.Servers) > 0 {
		baseURL = doc.Servers[0].URL
	}

	c := &openapiClient{
		name:       spec.Name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		security:   spec.OpenAPISecurity,
		credential: spec.Credential(),
		httpClient: &http.Client{},
		operations: make(map[string]openapiOperation),
	}
	c.synthesize(doc)
	return c, nil
}

func mustParseURI(raw string) (u *urlLike) {
	return &urlLike{raw: raw}
}

// urlLike satisfies openapi3's *url.URL parameter without importing net/url
// twice in this file; LoadFromURI only needs String().
type urlLike struct{ raw string }

func (u *urlLike) String() string { return u.raw }

func (c *openapiClient) synthesize(doc *openapi3.T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for path, item := range doc.Paths.Map() {
		for method, op := range item.Operations() {
			toolName := operationToolName(op.OperationID, method, path)
			params := make(map[string]string)
			properties := map[string]any{}
			var required []string

			for _, pref := range op.Parameters {
				p := pref.Value
				if p == nil {
					continue
				}
				params[p.Name] = p.In
				properties[p.Name] = schemaToJSONSchema(p.Schema)
				if p.Required {
					required = append(required, p.Name)
				}
			}

			hasBody := false
			if op.RequestBody != nil && op.RequestBody.Value != nil {
				hasBody = true
				if media, ok := op.RequestBody.Value.Content["application/json"]; ok && media.Schema != nil {
					properties["body"] = schemaToJSONSchema(media.Schema)
					if op.RequestBody.Value.Required {
						required = append(required, "body")
					}
				}
			}

			desc := op.Description
			if desc == "" {
				desc = op.Summary
			}

			c.operations[toolName] = openapiOperation{
				method:         strings.ToUpper(method),
				path:           path,
				description:    desc,
				paramLocations: params,
				hasBody:        hasBody,
			}
			c.tools = append(c.tools, mcp.Tool{
				Name:        toolName,
				Description: desc,
				InputSchema: mcp.ToolInputSchema{
					Type:       "object",
					Properties: properties,
					Required:   required,
				},
			})
		}
	}
}

func operationToolName(operationID, method, path string) string {
	if operationID != "" {
		return operationID
	}
	sanitized := strings.NewReplacer("/", "_", "{", "", "}", "").Replace(path)
	return strings.ToLower(method) + sanitized
}

func schemaToJSONSchema(ref *openapi3.SchemaRef) map[string]any {
	if ref == nil || ref.Value == nil {
		return map[string]any{"type": "string"}
	}
	s := ref.Value
	out := map[string]any{}
	if len(s.Type.Slice()) > 0 {
		out["type"] = s.Type.Slice()[0]
	} else {
		out["type"] = "string"
	}
	if s.Description != "" {
		out["description"] = s.Description
	}
	return out
}

func (c *openapiClient) Initialize(_ context.Context) (*mcp.InitializeResult, error) {
	res := &mcp.InitializeResult{
		ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
		Capabilities:    mcp.ServerCapabilities{},
		ServerInfo: mcp.Implementation{
			Name:    c.name,
			Version: "openapi-synthesized",
		},
	}
	return res, nil
}

func (c *openapiClient) ListTools(_ context.Context) ([]mcp.Tool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]mcp.Tool, len(c.tools))
	copy(out, c.tools)
	return out, nil
}

func (c *openapiClient) CallTool(ctx context.Context, name string, arguments map[string]any) (*mcp.CallToolResult, error) {
	c.mu.RLock()
	op, ok := c.operations[name]
	c.mu.RUnlock()
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("unknown openapi-synthesized tool %q", name)), nil
	}

	path := op.path
	query := make(map[string]string)
	headers := make(map[string]string)
	var body io.Reader

	for argName, loc := range op.paramLocations {
		v, present := arguments[argName]
		if !present {
			continue
		}
		strVal := fmt.Sprintf("%v", v)
		switch loc {
		case "path":
			path = strings.ReplaceAll(path, "{"+argName+"}", strVal)
		case "query":
			query[argName] = strVal
		case "header":
			headers[argName] = strVal
		}
	}
	if op.hasBody {
		if raw, ok := arguments["body"]; ok {
			b, err := json.Marshal(raw)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("encoding request body: %v", err)), nil
			}
			body = bytes.NewReader(b)
		}
	}

	reqURL := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, op.method, reqURL, body)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("building request: %v", err)), nil
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	q := req.URL.Query()
	for k, v := range query {
		q.Set(k, v)
	}
	req.URL.RawQuery = q.Encode()
	c.applySecurity(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("calling %s %s: %v", op.method, reqURL, err)), nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("reading response: %v", err)), nil
	}
	if resp.StatusCode >= 400 {
		return mcp.NewToolResultError(fmt.Sprintf("upstream returned %d: %s", resp.StatusCode, string(respBody))), nil
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "text/") || strings.Contains(contentType, "json") || contentType == "" {
		return mcp.NewToolResultText(string(respBody)), nil
	}
	// Non-textual media type: surface it as a resource reference rather
	// than inlining arbitrary bytes into a text block.
	return mcp.NewToolResultResource(reqURL, mcp.BlobResourceContents{
		URI:      reqURL,
		MIMEType: contentType,
		Blob:     string(respBody),
	}), nil
}

func (c *openapiClient) applySecurity(req *http.Request) {
	sec := c.security
	if sec == nil || c.credential == "" {
		return
	}
	switch sec.Type {
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+c.credential)
	case "basic":
		req.Header.Set("Authorization", "Basic "+c.credential)
	case "apiKey":
		name := sec.Name
		if name == "" {
			name = "X-API-Key"
		}
		if sec.In == "query" {
			q := req.URL.Query()
			q.Set(name, c.credential)
			req.URL.RawQuery = q.Encode()
		} else {
			req.Header.Set(name, c.credential)
		}
	}
}

func (c *openapiClient) Ping(_ context.Context) error {
	return nil
}

func (c *openapiClient) Close() error {
	return nil
}

func (c *openapiClient) OnToolsChanged(func()) {
	// openapi upstreams never push notifications; the supervisor re-fetches
	// the document on its own reconciliation schedule instead.
}
