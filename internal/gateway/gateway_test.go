package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/supportbot/internal/models"
)

type captured struct {
	path   string
	auth   string
	ctype  string
	fields map[string]string
}

func newService(t *testing.T, status int, body string, got *captured) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		got.path = r.URL.Path
		got.auth = r.Header.Get("authorization")
		got.ctype = r.Header.Get("Content-Type")
		got.fields = map[string]string{}
		for k := range r.PostForm {
			got.fields[k] = r.PostForm.Get(k)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLookupTracking(t *testing.T) {
	var got captured
	srv := newService(t, http.StatusOK,
		`{"status":"in transit","delivery_forecast":"2023-05-02","destination_zip_code":"01001000"}`, &got)
	c := New(Config{LogisticsURL: srv.URL, TelecomURL: "http://unused", Token: "teste"}, zerolog.Nop())

	out, err := c.Lookup(context.Background(), models.IntentTracking, "  98 ")
	require.NoError(t, err)

	assert.Equal(t, "The product is in transit with a delivery forecast for 2023-05-02 to be delivered to Zip Code 01001000", out)
	assert.Equal(t, "/tracking", got.path)
	assert.Equal(t, "teste", got.auth)
	assert.Contains(t, got.ctype, "application/x-www-form-urlencoded")
	assert.Equal(t, map[string]string{"id_sale": "  98 "}, got.fields, "identifier is forwarded as-is")
}

func TestLookupChipStatusUsesTelecom(t *testing.T) {
	var got captured
	srv := newService(t, http.StatusOK,
		`{"chip_id":37648,"status":"active","description":"Chip is working"}`, &got)
	c := New(Config{LogisticsURL: "http://unused", TelecomURL: srv.URL + "/", Token: "secret"}, zerolog.Nop())

	out, err := c.Lookup(context.Background(), models.IntentChipStatus, "37648")
	require.NoError(t, err)

	assert.Equal(t, "Chip with ID 37648 is active.\nMessage is 'Chip is working'", out)
	assert.Equal(t, "/chip_status", got.path)
	assert.Equal(t, "secret", got.auth)
	assert.Equal(t, "37648", got.fields["chip_id"])
}

func TestLookupZipCodeDefaultTemplate(t *testing.T) {
	var got captured
	srv := newService(t, http.StatusOK,
		`{"zip_code":"01001000","street":"Praca da Se","city":"Sao Paulo","complement":"","number":0}`, &got)
	c := New(Config{LogisticsURL: srv.URL, Token: "teste"}, zerolog.Nop())

	out, err := c.Lookup(context.Background(), models.IntentZipCode, "01001000")
	require.NoError(t, err)

	assert.Equal(t, "City: Sao Paulo\nStreet: Praca da Se\nZip Code: 01001000", out)
	assert.Equal(t, "01001000", got.fields["zip_code"])
}

func TestLookupFailuresAreNotFound(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{"error":"boom"}`},
		{"not found", http.StatusNotFound, ``},
		{"empty body", http.StatusOK, ``},
		{"empty object", http.StatusOK, `{}`},
		{"malformed", http.StatusOK, `{"status":`},
		{"missing template field", http.StatusOK, `{"status":"late"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got captured
			srv := newService(t, tt.status, tt.body, &got)
			c := New(Config{LogisticsURL: srv.URL}, zerolog.Nop())

			out, err := c.Lookup(context.Background(), models.IntentTracking, "1")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.Empty(t, out)
		})
	}
}

func TestLookupUnreachableService(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(Config{LogisticsURL: url}, zerolog.Nop())
	_, err := c.Lookup(context.Background(), models.IntentTracking, "1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCallAPIRejectsEmptyInput(t *testing.T) {
	c := New(Config{}, zerolog.Nop())

	_, err := c.CallAPI(context.Background(), "", map[string]string{"a": "b"}, models.IntentTracking)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = c.CallAPI(context.Background(), "http://example.invalid", nil, models.IntentTracking)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestLookupUnsupportedIntent(t *testing.T) {
	c := New(Config{}, zerolog.Nop())
	_, err := c.Lookup(context.Background(), models.IntentSales, "1")
	assert.ErrorIs(t, err, ErrUnsupportedIntent)
	assert.False(t, Supports(models.IntentReceipt))
	assert.True(t, Supports(models.IntentZipCode))
}
