package ghl

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewClient(Config{BaseURL: srv.URL, APIVersion: "2021-07-28"}, logger)
}

func TestUpsertContactCreates(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/contacts/", r.URL.Path)
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
		assert.Equal(t, "2021-07-28", r.Header.Get("Version"))

		var body Contact
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "loc-1", body.LocationID)
		assert.Equal(t, "Jane", body.FirstName)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"contact":{"id":"c-1"}}`))
	})

	id, created, err := c.UpsertContact(context.Background(), "p1", "key-1", &Contact{LocationID: "loc-1", FirstName: "Jane", LastName: "Doe"})
	require.NoError(t, err)
	assert.Equal(t, "c-1", id)
	assert.True(t, created)
}

func TestUpsertContactUpdatesDuplicate(t *testing.T) {
	var puts int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"statusCode":400,"message":"This location does not allow duplicated contacts.","meta":{"contactId":"c-9"}}`))
		case http.MethodPut:
			atomic.AddInt32(&puts, 1)
			assert.Equal(t, "/contacts/c-9", r.URL.Path)
			var body map[string]interface{}
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			_, hasLocation := body["locationId"]
			assert.False(t, hasLocation)
			_, _ = w.Write([]byte(`{"succeded":true}`))
		}
	})

	id, created, err := c.UpsertContact(context.Background(), "p1", "key", &Contact{LocationID: "loc-1", FirstName: "Jane"})
	require.NoError(t, err)
	assert.Equal(t, "c-9", id)
	assert.False(t, created)
	assert.Equal(t, int32(1), atomic.LoadInt32(&puts))
}

func TestUpsertContactPlainBadRequest(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"statusCode":422,"message":["email must be an email"]}`))
	})

	_, _, err := c.UpsertContact(context.Background(), "p1", "key", &Contact{})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 422, apiErr.StatusCode)
	assert.Equal(t, "email must be an email", apiErr.Message)
}

func TestCreateOpportunityDefaultsOpen(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/opportunities/", r.URL.Path)
		var body Opportunity
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "open", body.Status)
		assert.Equal(t, "c-1", body.ContactID)
		_, _ = w.Write([]byte(`{"opportunity":{"id":"o-1"}}`))
	})

	id, err := c.CreateOpportunity(context.Background(), "p1", "key", &Opportunity{PipelineID: "pl", PipelineStageID: "st", ContactID: "c-1"})
	require.NoError(t, err)
	assert.Equal(t, "o-1", id)
}

func TestBreakerOpensPerPartner(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	})

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, _, err := c.UpsertContact(ctx, "broken", "key", &Contact{})
		require.Error(t, err)
	}
	_, _, err := c.UpsertContact(ctx, "broken", "key", &Contact{})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(5), atomic.LoadInt32(&calls))

	_, _, err = c.UpsertContact(ctx, "healthy", "key", &Contact{})
	assert.NotErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(6), atomic.LoadInt32(&calls))
}
