package connector

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"jenn_worker/core/domain"
)

// =============================================================================
// QuickBooks Online query API
// =============================================================================

const (
	quickBooksProductionURL = "https://quickbooks.api.intuit.com"
	quickBooksSandboxURL    = "https://sandbox-quickbooks.api.intuit.com"
	quickBooksMinorVersion  = "65"
)

// QuickBooksEndpoint is Intuit's OAuth2 endpoint.
var QuickBooksEndpoint = oauth2.Endpoint{
	AuthURL:  "https://appcenter.intuit.com/connect/oauth2",
	TokenURL: "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer",
}

// QuickBooksClient implements out.QuickBooksClient. Access tokens are refreshed by the
// oauth2 token source when they expire.
type QuickBooksClient struct {
	t       *transport
	baseURL string
	realmID string
	tokens  oauth2.TokenSource
}

func newQuickBooksClient(t *transport, baseURL string, creds domain.QuickBooksCredentials, tokens oauth2.TokenSource) *QuickBooksClient {
	return &QuickBooksClient{
		t:       t,
		baseURL: strings.TrimRight(baseURL, "/"),
		realmID: creds.RealmID,
		tokens:  tokens,
	}
}

func quickBooksBaseURL(creds domain.QuickBooksCredentials) string {
	if creds.Sandbox {
		return quickBooksSandboxURL
	}
	return quickBooksProductionURL
}

// Query runs a QuickBooks SQL-like query and returns the raw QueryResponse envelope.
func (c *QuickBooksClient) Query(ctx context.Context, query string) (map[string]any, error) {
	tok, err := c.tokens.Token()
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("query", query)
	q.Set("minorversion", quickBooksMinorVersion)
	endpoint := c.baseURL + "/v3/company/" + url.PathEscape(c.realmID) + "/query?" + q.Encode()

	var resp map[string]any
	err = c.t.do(ctx, http.MethodGet, endpoint, nil, &resp, func(r *http.Request) {
		tok.SetAuthHeader(r)
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}
