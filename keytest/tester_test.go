package keytest

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OnlyCanLightRGB/azure-speech-keymanager-sub002/storage"
)

// cannedTransport 捕获出站请求并返回固定的结果码。
type cannedTransport struct {
	status  int
	lastReq *http.Request
}

func (c *cannedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	c.lastReq = req
	return &http.Response{
		StatusCode: c.status,
		Body:       io.NopCloser(strings.NewReader("{}")),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

func newCannedTester(status int) (*Tester, *cannedTransport) {
	transport := &cannedTransport{status: status}
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewTester(&http.Client{Transport: transport}, logger), transport
}

func TestTestKeyTranslation(t *testing.T) {
	tester, transport := newCannedTester(http.StatusUnauthorized)

	rec := &storage.KeyRecord{Service: storage.ServiceTranslation, Key: "trans-key", Region: "eastasia"}
	code, err := tester.TestKey(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, code)

	req := transport.lastReq
	assert.Equal(t, "api.cognitive.microsofttranslator.com", req.URL.Host)
	assert.Equal(t, "trans-key", req.Header.Get("Ocp-Apim-Subscription-Key"))
	assert.Equal(t, "eastasia", req.Header.Get("Ocp-Apim-Subscription-Region"))
}

func TestTestKeyTranslationWildcardOmitsRegionHeader(t *testing.T) {
	tester, transport := newCannedTester(http.StatusOK)

	rec := &storage.KeyRecord{Service: storage.ServiceTranslation, Key: "trans-key"}
	code, err := tester.TestKey(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, transport.lastReq.Header.Get("Ocp-Apim-Subscription-Region"))
}

func TestTestKeySpeech(t *testing.T) {
	tester, transport := newCannedTester(http.StatusOK)

	rec := &storage.KeyRecord{Service: storage.ServiceSpeech, Key: "speech-key", Region: "japaneast"}
	code, err := tester.TestKey(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "japaneast.api.cognitive.microsoft.com", transport.lastReq.URL.Host)
	assert.Contains(t, transport.lastReq.URL.Path, "issueToken")
}

func TestTestKeySpeechRequiresRegion(t *testing.T) {
	tester, _ := newCannedTester(http.StatusOK)

	rec := &storage.KeyRecord{Service: storage.ServiceSpeech, Key: "speech-key"}
	_, err := tester.TestKey(context.Background(), rec)
	assert.Error(t, err, "语音令牌端点是区域化的，通配密钥无法探测")
}

func TestTestKeyUnsupportedService(t *testing.T) {
	tester, _ := newCannedTester(http.StatusOK)

	rec := &storage.KeyRecord{Service: "vision", Key: "some-key"}
	_, err := tester.TestKey(context.Background(), rec)
	assert.Error(t, err)
}
