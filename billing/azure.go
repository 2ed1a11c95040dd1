// Package billing 实现 Azure 成本查询子系统：按固定周期通过
// Cost Management API 拉取认知服务的费用明细并落盘。它复用与冷却回收
// 任务相同的周期运行器，是该模式的第二个消费者。
package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	tokenURLFmt      = "https://login.microsoftonline.com/%s/oauth2/v2.0/token"
	managementScope  = "https://management.azure.com/.default"
	subscriptionsURL = "https://management.azure.com/subscriptions?api-version=2020-01-01"
	costQueryURLFmt  = "https://management.azure.com/subscriptions/%s/providers/Microsoft.CostManagement/query?api-version=2021-10-01"
)

// Credentials 是从 JSON 文件加载的 Azure 服务主体凭据。
// 字段名沿用 `az ad sp create-for-rbac` 的输出格式。
type Credentials struct {
	AppID       string `json:"appId"`
	DisplayName string `json:"displayName"`
	Password    string `json:"password"`
	Tenant      string `json:"tenant"`
}

// LoadCredentials 从 JSON 文件加载并校验 Azure 凭据。
func LoadCredentials(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credentials file %q: %w", path, err)
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parse credentials file %q: %w", path, err)
	}
	if creds.AppID == "" || creds.Password == "" || creds.Tenant == "" {
		return nil, fmt.Errorf("credentials file %q missing required fields (appId/password/tenant)", path)
	}
	return &creds, nil
}

// Subscription 是订阅列表中的一项。
type Subscription struct {
	SubscriptionID string `json:"subscriptionId"`
	DisplayName    string `json:"displayName"`
	State          string `json:"state"`
}

// Client 封装对 Azure 管理面的访问。
type Client struct {
	http *http.Client
	log  *logrus.Logger
}

// NewClient 创建账单查询客户端。client 为 nil 时使用 http.DefaultClient。
func NewClient(client *http.Client, logger *logrus.Logger) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{http: client, log: logger}
}

// GetAccessToken 用客户端凭据流获取管理面访问令牌。
func (c *Client) GetAccessToken(ctx context.Context, creds *Credentials) (string, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {creds.AppID},
		"client_secret": {creds.Password},
		"scope":         {managementScope},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf(tokenURLFmt, creds.Tenant), strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token request failed: %d %s", resp.StatusCode, string(body))
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("parse token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("token response contains no access_token")
	}
	return payload.AccessToken, nil
}

// ListSubscriptions 获取当前凭据可见的订阅列表。
func (c *Client) ListSubscriptions(ctx context.Context, token string) ([]Subscription, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, subscriptionsURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list subscriptions failed: %d %s", resp.StatusCode, string(body))
	}

	var payload struct {
		Value []Subscription `json:"value"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parse subscriptions response: %w", err)
	}
	return payload.Value, nil
}

// QueryCognitiveCosts 查询一个订阅当月认知服务的实际成本，
// 按资源与计量器分组。返回原始响应 JSON，由调用方落盘或透传。
func (c *Client) QueryCognitiveCosts(ctx context.Context, token, subscriptionID string) (json.RawMessage, error) {
	now := time.Now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	queryBody := map[string]interface{}{
		"type":      "ActualCost",
		"timeframe": "Custom",
		"timePeriod": map[string]string{
			"from": monthStart.Format("2006-01-02"),
			"to":   now.Format("2006-01-02"),
		},
		"dataset": map[string]interface{}{
			"granularity": "Daily",
			"aggregation": map[string]interface{}{
				"totalCost": map[string]string{"name": "PreTaxCost", "function": "Sum"},
				"quantity":  map[string]string{"name": "UsageQuantity", "function": "Sum"},
			},
			"grouping": []map[string]string{
				{"type": "Dimension", "name": "ResourceId"},
				{"type": "Dimension", "name": "Meter"},
			},
			"filter": map[string]interface{}{
				"dimensions": map[string]interface{}{
					"name":     "ServiceName",
					"operator": "In",
					"values":   []string{"Cognitive Services"},
				},
			},
		},
	}
	payload, err := json.Marshal(queryBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf(costQueryURLFmt, subscriptionID), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cost query failed for subscription %s: %d %s", subscriptionID, resp.StatusCode, string(body))
	}
	return json.RawMessage(body), nil
}
