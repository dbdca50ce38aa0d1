package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// =============================================================================
// Connector connections - 외부 비즈니스 시스템 연결
// =============================================================================

type ConnectorType string

const (
	ConnectorOdoo       ConnectorType = "odoo"
	ConnectorPrestaShop ConnectorType = "prestashop"
	ConnectorQuickBooks ConnectorType = "quickbooks"
)

var ErrInvalidCredentials = errors.New("invalid connector credentials")

// ConnectorCredentials is the closed set of typed credential payloads.
// The blob is decoded and validated once at the repository boundary.
type ConnectorCredentials interface {
	Connector() ConnectorType
	Validate() error
}

// OdooCredentials authenticate JSON-RPC calls against one Odoo database.
type OdooCredentials struct {
	URL      string `json:"url"`
	Database string `json:"database"`
	Username string `json:"username"`
	APIKey   string `json:"api_key"`
}

func (OdooCredentials) Connector() ConnectorType { return ConnectorOdoo }

func (c OdooCredentials) Validate() error {
	if err := validateBaseURL(c.URL); err != nil {
		return err
	}
	if c.Database == "" || c.Username == "" || c.APIKey == "" {
		return fmt.Errorf("%w: odoo requires database, username and api_key", ErrInvalidCredentials)
	}
	return nil
}

// PrestaShopCredentials authenticate against the PrestaShop webservice.
type PrestaShopCredentials struct {
	URL    string `json:"url"`
	APIKey string `json:"api_key"`
}

func (PrestaShopCredentials) Connector() ConnectorType { return ConnectorPrestaShop }

func (c PrestaShopCredentials) Validate() error {
	if err := validateBaseURL(c.URL); err != nil {
		return err
	}
	if c.APIKey == "" {
		return fmt.Errorf("%w: prestashop requires api_key", ErrInvalidCredentials)
	}
	return nil
}

// QuickBooksCredentials hold the OAuth2 grant for one QuickBooks company.
type QuickBooksCredentials struct {
	RealmID      string    `json:"realm_id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Expiry       time.Time `json:"expiry"`
	Sandbox      bool      `json:"sandbox"`
}

func (QuickBooksCredentials) Connector() ConnectorType { return ConnectorQuickBooks }

func (c QuickBooksCredentials) Validate() error {
	if c.RealmID == "" || c.RefreshToken == "" {
		return fmt.Errorf("%w: quickbooks requires realm_id and refresh_token", ErrInvalidCredentials)
	}
	return nil
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: url %q", ErrInvalidCredentials, raw)
	}
	return nil
}

// DecodeCredentials turns a decrypted blob into its typed credential struct.
func DecodeCredentials(t ConnectorType, raw []byte) (ConnectorCredentials, error) {
	var creds ConnectorCredentials
	switch t {
	case ConnectorOdoo:
		var c OdooCredentials
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
		}
		creds = c
	case ConnectorPrestaShop:
		var c PrestaShopCredentials
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
		}
		creds = c
	case ConnectorQuickBooks:
		var c QuickBooksCredentials
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
		}
		creds = c
	default:
		return nil, fmt.Errorf("%w: unknown connector %q", ErrInvalidCredentials, t)
	}
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	return creds, nil
}

// Connection is an active connector for one email account.
type Connection struct {
	ID             int64                `json:"id"`
	EmailAccountID int64                `json:"email_account_id"`
	Type           ConnectorType        `json:"type"`
	Credentials    ConnectorCredentials `json:"-"`
	IsActive       bool                 `json:"is_active"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

// =============================================================================
// Agent audit
// =============================================================================

// ToolResultPreviewLen bounds the tool result kept in audit records.
const ToolResultPreviewLen = 200

// ToolCallRecord is one tool invocation made during an agent run.
type ToolCallRecord struct {
	ToolName  string         `json:"tool_name" bson:"tool_name"`
	Arguments map[string]any `json:"arguments" bson:"arguments"`
	Result    string         `json:"result" bson:"result"`
	Success   bool           `json:"success" bson:"success"`
	Model     string         `json:"model,omitempty" bson:"model,omitempty"`
}

// TruncateToolResult keeps the first ToolResultPreviewLen runes.
func TruncateToolResult(s string) string {
	r := []rune(s)
	if len(r) <= ToolResultPreviewLen {
		return s
	}
	return string(r[:ToolResultPreviewLen]) + "..."
}

// AgentRun is the audit document for one business agent run.
type AgentRun struct {
	ID             string           `json:"id" bson:"_id"`
	EmailAccountID int64            `json:"email_account_id" bson:"email_account_id"`
	AccountEmail   string           `json:"account_email" bson:"account_email"`
	ThreadKey      string           `json:"thread_key,omitempty" bson:"thread_key,omitempty"`
	Tools          []string         `json:"tools" bson:"tools"`
	ToolCalls      []ToolCallRecord `json:"tool_calls" bson:"tool_calls"`
	Actionable     bool             `json:"actionable" bson:"actionable"`
	Response       string           `json:"response,omitempty" bson:"response,omitempty"`
	Steps          int              `json:"steps" bson:"steps"`
	Error          string           `json:"error,omitempty" bson:"error,omitempty"`
	CreatedAt      time.Time        `json:"created_at" bson:"created_at"`
}
