package controller

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const delivery = `[{"type":"NFT_SALE","signature":"sig1","timestamp":1700000000,"events":{"nft":{"mint":"MintA"}}}]`

func TestWebhookProcessesBatch(t *testing.T) {
	h := newHarness(t)
	rec := h.do(httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(delivery)))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[webhookResponse](t, rec)
	assert.True(t, body.Success)
	assert.Equal(t, "Webhook received and processed", body.Message)
	assert.Equal(t, 1, h.batch.calls)
	assert.Equal(t, 1, h.batch.events)
}

func TestWebhookReportsFailureWith200(t *testing.T) {
	h := newHarness(t)
	h.batch.err = errors.New("registry unavailable")

	rec := h.do(httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(delivery)))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[webhookResponse](t, rec)
	assert.False(t, body.Success)
	assert.Equal(t, "Error processing webhook event", body.Message)
}

func TestWebhookRejectsMalformedBody(t *testing.T) {
	for name, payload := range map[string]string{
		"empty":     "",
		"truncated": `[{"type":`,
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			rec := h.do(httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(payload)))
			require.Equal(t, http.StatusOK, rec.Code)
			assert.False(t, decode[webhookResponse](t, rec).Success)
			assert.Zero(t, h.batch.calls)
		})
	}
}

func TestWebhookBodyLimit(t *testing.T) {
	h := newHarness(t)
	h.ctl.MaxBodyBytes = 16

	rec := h.do(httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(delivery)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[webhookResponse](t, rec).Success)
	assert.Zero(t, h.batch.calls)
}

func TestWebhookSharedSecret(t *testing.T) {
	h := newHarness(t)
	h.ctl.WebhookAuth = "hook-secret"

	rec := h.do(httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(delivery)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, h.batch.calls)

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(delivery))
	req.Header.Set("Authorization", "hook-secret")
	rec = h.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, h.batch.calls)
}

func TestWebhookSurvivesClientDisconnect(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(delivery)).WithContext(ctx)
	rec := h.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, h.batch.ctxErr)
	assert.True(t, h.batch.hasDeadline, "batch runs under its own deadline")
}
