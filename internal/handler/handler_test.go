package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/resident-gate/internal/dispatch"
	"github.com/iliyamo/resident-gate/internal/middleware"
	"github.com/iliyamo/resident-gate/internal/model"
	"github.com/iliyamo/resident-gate/internal/service"
)

type recordingDispatcher struct {
	got  dispatch.Request
	resp dispatch.Response
}

func (d *recordingDispatcher) Handle(_ context.Context, req dispatch.Request) dispatch.Response {
	d.got = req
	return d.resp
}

type stubRedeemer struct {
	token model.AccessToken
	err   error
}

func (s stubRedeemer) RedeemToken(context.Context, string) (model.AccessToken, error) {
	return s.token, s.err
}

func TestHealth(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/healthz", nil), rec)
	require.NoError(t, Health(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestCommandForwardsAuthenticatedCaller(t *testing.T) {
	d := &recordingDispatcher{resp: dispatch.Response{Text: "hello"}}
	h := NewCommandHandler(d, time.Second)

	e := echo.New()
	body := `{"command":"/open","args":["x"],"chat":{"id":-5,"private":true}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/commands", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set(middleware.TelegramIDKey, int64(42))

	require.NoError(t, h.Handle(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(42), d.got.TelegramID)
	assert.Equal(t, "/open", d.got.Command)
	assert.Equal(t, []string{"x"}, d.got.Args)
	assert.Equal(t, dispatch.Chat{ID: -5, Private: true}, d.got.Chat)

	var resp dispatch.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "hello", resp.Text)
}

func TestCommandRejectsMissingCommand(t *testing.T) {
	h := NewCommandHandler(&recordingDispatcher{}, time.Second)
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/commands", strings.NewReader(`{"command":"  "}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set(middleware.TelegramIDKey, int64(42))

	require.NoError(t, h.Handle(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCommandRequiresCaller(t *testing.T) {
	h := NewCommandHandler(&recordingDispatcher{}, time.Second)
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/v1/commands", strings.NewReader(`{}`)), rec)

	require.NoError(t, h.Handle(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGuestRedeemStatuses(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{nil, http.StatusOK},
		{service.ErrNotFound, http.StatusNotFound},
		{service.ErrExpired, http.StatusGone},
		{service.ErrRevoked, http.StatusGone},
		{service.ErrExhausted, http.StatusGone},
		{fmt.Errorf("%w: door.trigger_open: timeout", service.ErrTransient), http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		h := NewGuestHandler(stubRedeemer{token: model.AccessToken{UsesRemaining: 2}, err: tc.err}, time.Second)
		e := echo.New()
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodPost, "/v1/guest/abc", nil), rec)
		c.SetParamNames("token")
		c.SetParamValues("abc")

		require.NoError(t, h.Redeem(c))
		assert.Equal(t, tc.status, rec.Code, "err=%v", tc.err)

		var resp guestResp
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		if tc.err == nil {
			require.NotNil(t, resp.UsesRemaining)
			assert.Equal(t, 2, *resp.UsesRemaining)
		} else {
			assert.Equal(t, service.Message(tc.err), resp.Message)
			assert.Nil(t, resp.UsesRemaining)
		}
	}
}

type panicRedeemer struct{}

func (panicRedeemer) RedeemToken(context.Context, string) (model.AccessToken, error) {
	panic("redeem must not run on GET")
}

func TestGuestShowRendersConfirmationOnly(t *testing.T) {
	h := NewGuestHandler(panicRedeemer{}, time.Second)
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/v1/guest/abc", nil), rec)
	c.SetParamNames("token")
	c.SetParamValues("abc")

	require.NoError(t, h.Show(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	body := rec.Body.String()
	assert.Contains(t, body, `<form method="post" action="/v1/guest/abc">`)
	assert.Contains(t, body, "Open the door")
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(fmt.Errorf("%w: bad", service.ErrValidation)))
	assert.Equal(t, http.StatusConflict, statusFor(service.ErrConflict))
	assert.Equal(t, http.StatusForbidden, statusFor(service.ErrUnauthorized))
	assert.Equal(t, http.StatusInternalServerError, statusFor(fmt.Errorf("boom")))
}
