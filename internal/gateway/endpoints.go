package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
)

// PathInfo is the validate_path result.
type PathInfo struct {
	DSRoot       string `json:"ds_root"`
	CustomerName string `json:"customer_name"`
}

// SetupRequest is the form body of the setup call.
type SetupRequest struct {
	DSPath    string
	Operation string
	Account   string
}

// JobStatus is one config_status poll result.
type JobStatus struct {
	Progress float64 `json:"progress"`
	Status   string  `json:"status"`
}

// RankRow is one initiative and its rank.
type RankRow struct {
	InitiativeName string `json:"initiativename"`
	Rank           int    `json:"rank"`
}

// PeriodID is the backend's opaque batch identifier. The backend may send it
// as a string or a number.
type PeriodID string

// UnmarshalJSON accepts JSON strings, numbers and null.
func (p *PeriodID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*p = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*p = PeriodID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*p = PeriodID(n.String())
	return nil
}

// RankUpdate is the update_ranks result.
type RankUpdate struct {
	Updated  int      `json:"updated"`
	PeriodID PeriodID `json:"periodid"`
}

// RecommendationUpdate is the update_recommendations result.
type RecommendationUpdate struct {
	PeriodID    PeriodID `json:"periodid"`
	UpdatedRows int      `json:"updated_rows"`
}

// rowsBody is the JSON body shared by update_ranks and update_recommendations.
type rowsBody[T any] struct {
	Account string `json:"account"`
	Rows    []T    `json:"rows"`
}

func customerForm(customerID string) url.Values {
	return url.Values{"customer_id": {customerID}}
}

// ValidatePath resolves a customer id to its data root and display name.
func (c *Client) ValidatePath(ctx context.Context, customerID string) (*PathInfo, error) {
	var out PathInfo
	err := c.doJSON(ctx, request{method: http.MethodPost, endpoint: "validate_path", form: customerForm(customerID)}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// AccountNames lists the customer's accounts in backend order.
func (c *Client) AccountNames(ctx context.Context, customerID string) ([]string, error) {
	var out struct {
		Accounts []string `json:"accounts"`
	}
	err := c.doJSON(ctx, request{method: http.MethodPost, endpoint: "accountnames", form: customerForm(customerID)}, &out)
	if err != nil {
		return nil, err
	}
	return out.Accounts, nil
}

// Setup binds the backend to a data root and account. Only success matters.
func (c *Client) Setup(ctx context.Context, s SetupRequest) error {
	form := url.Values{
		"ds_path":   {s.DSPath},
		"operation": {s.Operation},
		"account":   {s.Account},
	}
	_, err := c.do(ctx, request{method: http.MethodPost, endpoint: "setup", form: form})
	return err
}

// UploadContacts sends a contacts CSV for an account. The success payload is
// opaque and returned as decoded JSON.
func (c *Client) UploadContacts(ctx context.Context, account, filename string, data []byte) (map[string]any, error) {
	var out map[string]any
	err := c.doJSON(ctx, request{
		method:   http.MethodPost,
		endpoint: "upload_contacts",
		form:     url.Values{"account": {account}},
		file:     &filePart{field: "file", name: filename, data: data},
	}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DownloadProductsExcel returns the generated product offerings workbook.
func (c *Client) DownloadProductsExcel(ctx context.Context, customerID string) ([]byte, error) {
	return c.do(ctx, request{method: http.MethodGet, endpoint: "download_products_excel", query: customerForm(customerID), download: true})
}

// DownloadUsageTracking returns the generated usage tracking workbook. The
// number of sheets inside is backend-defined.
func (c *Client) DownloadUsageTracking(ctx context.Context, customerID string) ([]byte, error) {
	return c.do(ctx, request{method: http.MethodGet, endpoint: "download_usage_tracking", query: customerForm(customerID), download: true})
}

// RefreshConfig starts the backend config refresh job and reports whether the
// backend accepted it.
func (c *Client) RefreshConfig(ctx context.Context, customerID string) (bool, error) {
	var out struct {
		Success bool `json:"success"`
	}
	err := c.doJSON(ctx, request{method: http.MethodPost, endpoint: "refreshconfig", form: customerForm(customerID)}, &out)
	if err != nil {
		return false, err
	}
	return out.Success, nil
}

// ConfigStatus polls the config refresh job.
func (c *Client) ConfigStatus(ctx context.Context, customerID string) (JobStatus, error) {
	var out JobStatus
	err := c.doJSON(ctx, request{method: http.MethodGet, endpoint: "config_status", query: customerForm(customerID)}, &out)
	return out, err
}

// RanksTable loads the initiative ranks for an account.
func (c *Client) RanksTable(ctx context.Context, account string) ([]RankRow, error) {
	var out struct {
		Rows []RankRow `json:"rows"`
	}
	err := c.doJSON(ctx, request{method: http.MethodGet, endpoint: "ranks_table", query: url.Values{"account": {account}}}, &out)
	if err != nil {
		return nil, err
	}
	return out.Rows, nil
}

// UpdateRanks writes the full rank set for an account as one batch.
func (c *Client) UpdateRanks(ctx context.Context, account string, rows []RankRow) (*RankUpdate, error) {
	var out RankUpdate
	err := c.doJSON(ctx, request{
		method:   http.MethodPost,
		endpoint: "update_ranks",
		json:     rowsBody[RankRow]{Account: account, Rows: rows},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DownloadRecommendationsTemplate returns the recommendations workbook for an account.
func (c *Client) DownloadRecommendationsTemplate(ctx context.Context, account string) ([]byte, error) {
	return c.do(ctx, request{method: http.MethodGet, endpoint: "download_recommendations_template", query: url.Values{"account": {account}}, download: true})
}

// UpdateRecommendations writes recommendation rows for an account as one batch.
func (c *Client) UpdateRecommendations(ctx context.Context, account string, rows []map[string]any) (*RecommendationUpdate, error) {
	var out RecommendationUpdate
	err := c.doJSON(ctx, request{
		method:   http.MethodPost,
		endpoint: "update_recommendations",
		json:     rowsBody[map[string]any]{Account: account, Rows: rows},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// String renders the period id for display.
func (p PeriodID) String() string {
	if p == "" {
		return "n/a"
	}
	return string(p)
}
