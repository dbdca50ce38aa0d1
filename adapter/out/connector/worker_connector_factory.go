package connector

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"

	"jenn_worker/core/domain"
	"jenn_worker/core/port/out"
	"jenn_worker/pkg/httputil"
	"jenn_worker/pkg/ratelimit"
)

// FactoryConfig wires the shared HTTP machinery into every connector client.
type FactoryConfig struct {
	HTTPClient *http.Client
	Limiter    *ratelimit.KeyedLimiter

	// QuickBooksOAuth holds the app's client id and secret. Endpoint defaults to Intuit's.
	QuickBooksOAuth oauth2.Config
	// QuickBooksBaseURL overrides the production/sandbox API host.
	QuickBooksBaseURL string

	DisableBreakers bool
}

// Factory implements out.ConnectorClientFactory.
type Factory struct {
	cfg      FactoryConfig
	breakers breakers
}

func NewFactory(cfg FactoryConfig) *Factory {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = httputil.NewOptimizedClient(httputil.ConnectorClientConfig())
	}
	if cfg.Limiter == nil {
		cfg.Limiter = ratelimit.NewKeyedLimiter(ratelimit.DefaultConfig())
	}
	if cfg.QuickBooksOAuth.Endpoint.TokenURL == "" {
		cfg.QuickBooksOAuth.Endpoint = QuickBooksEndpoint
	}
	return &Factory{cfg: cfg}
}

func (f *Factory) transport(system, baseURL string) *transport {
	host := hostOf(baseURL)
	t := &transport{http: f.cfg.HTTPClient, host: host, limiter: f.cfg.Limiter}
	if !f.cfg.DisableBreakers {
		t.breaker = f.breakers.get(system, host)
	}
	return t
}

func (f *Factory) Odoo(creds domain.OdooCredentials) out.OdooClient {
	return newOdooClient(f.transport("odoo", creds.URL), creds)
}

func (f *Factory) PrestaShop(creds domain.PrestaShopCredentials) out.PrestaShopClient {
	return newPrestaShopClient(f.transport("prestashop", creds.URL), creds)
}

func (f *Factory) QuickBooks(creds domain.QuickBooksCredentials) out.QuickBooksClient {
	base := f.cfg.QuickBooksBaseURL
	if base == "" {
		base = quickBooksBaseURL(creds)
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, f.cfg.HTTPClient)
	tokens := f.cfg.QuickBooksOAuth.TokenSource(ctx, &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		Expiry:       creds.Expiry,
		TokenType:    "Bearer",
	})
	return newQuickBooksClient(f.transport("quickbooks", base), base, creds, tokens)
}
