// Package keytest 对密钥做主动有效性探测：用最小代价的真实请求调用
// 对应服务的端点，返回上游结果码。结果码随后经由密钥池的 ReportOutcome
// 路径驱动状态机，保证探测与线上失败走完全相同的状态变更逻辑。
package keytest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/OnlyCanLightRGB/azure-speech-keymanager-sub002/storage"
	"github.com/OnlyCanLightRGB/azure-speech-keymanager-sub002/utils"
)

const (
	// 翻译服务探测：翻译一句最短文本。
	translatorEndpoint = "https://api.cognitive.microsofttranslator.com/translate?api-version=3.0&from=en&to=zh-Hans"
	translatorPayload  = `[{"text":"Hello"}]`

	// 语音服务探测：签发一个短期访问令牌，不产生识别用量。
	speechTokenEndpointFmt = "https://%s.api.cognitive.microsoft.com/sts/v1.0/issueToken"
)

// Tester 执行密钥探测。
type Tester struct {
	client *http.Client
	log    *logrus.Logger
}

// NewTester 创建探测器。client 为 nil 时使用 http.DefaultClient。
func NewTester(client *http.Client, logger *logrus.Logger) *Tester {
	if client == nil {
		client = http.DefaultClient
	}
	return &Tester{client: client, log: logger}
}

// TestKey 用真实请求探测一个密钥，返回上游 HTTP 结果码。
// 网络错误（连接失败、超时）返回 err，此时结果码为 0，不应计入状态机。
func (t *Tester) TestKey(ctx context.Context, rec *storage.KeyRecord) (int, error) {
	var req *http.Request
	var err error

	switch rec.Service {
	case storage.ServiceTranslation:
		req, err = http.NewRequestWithContext(ctx, http.MethodPost,
			translatorEndpoint, bytes.NewBufferString(translatorPayload))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Ocp-Apim-Subscription-Key", rec.Key)
			if rec.Region != "" {
				req.Header.Set("Ocp-Apim-Subscription-Region", rec.Region)
			}
		}
	case storage.ServiceSpeech:
		// 语音令牌端点是区域化的，通配密钥无法探测。
		if rec.Region == "" {
			return 0, fmt.Errorf("speech key %s has no region, cannot probe the regional token endpoint", utils.SafeSuffix(rec.Key))
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost,
			fmt.Sprintf(speechTokenEndpointFmt, rec.Region), nil)
		if err == nil {
			req.Header.Set("Ocp-Apim-Subscription-Key", rec.Key)
		}
	default:
		return 0, fmt.Errorf("unsupported service class: %s", rec.Service)
	}
	if err != nil {
		return 0, err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if t.log != nil {
			t.log.Warnf("密钥探测: 密钥 %s 的请求失败: %v", utils.SafeSuffix(rec.Key), err)
		}
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if t.log != nil {
		t.log.Infof("密钥探测: 密钥 %s (%s, 区域 '%s') 返回状态 %d。",
			utils.SafeSuffix(rec.Key), rec.Service, rec.Region, resp.StatusCode)
	}
	return resp.StatusCode, nil
}
