package metadata

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaewoo-rain/webide/pkg/errs"
)

func discardLogger() *logrus.Entry {
	logger := logrus.New()
	logger.Out = io.Discard
	return logger.WithField("test", true)
}

func TestCountInstances(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.EqualValues(t, "/containers/count/jaewoo", r.URL.Path)
		assert.EqualValues(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"count": 2}`))
	}))
	defer server.Close()

	count, err := NewClient(discardLogger(), server.URL).CountInstances(context.Background(), "tok", "jaewoo")
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestRegisterInstanceSendsRecord(t *testing.T) {
	var got Record
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.EqualValues(t, http.MethodPost, r.Method)
		assert.EqualValues(t, "/containers", r.URL.Path)
		assert.EqualValues(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	record := Record{
		ContainerID:   "abc",
		ContainerName: "jaewoo-12345678",
		OwnerUsername: "jaewoo",
		ImageName:     "jaewoo6257/vnc:1.0.0",
		Status:        "running",
		ProjectName:   "demo",
	}
	err := NewClient(discardLogger(), server.URL).RegisterInstance(context.Background(), "tok", record)
	require.NoError(t, err)
	assert.EqualValues(t, record, got)
}

func TestDeleteInstanceTreatsMissingAsSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such record", http.StatusNotFound)
	}))
	defer server.Close()

	err := NewClient(discardLogger(), server.URL).DeleteInstance(context.Background(), "tok", "abc", "jaewoo")
	assert.NoError(t, err)
}

func TestDeleteInstance(t *testing.T) {
	var gotPath, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	err := NewClient(discardLogger(), server.URL).DeleteInstance(context.Background(), "tok", "abc", "jaewoo")
	require.NoError(t, err)
	assert.EqualValues(t, "/containers/abc", gotPath)
	assert.EqualValues(t, "Bearer tok", gotAuth)
}

func TestClientSurfaces4xxVerbatim(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("not your container"))
	}))
	defer server.Close()

	_, err := NewClient(discardLogger(), server.URL).ListInstances(context.Background(), "tok")
	var se *StatusError
	require.True(t, stderrors.As(err, &se))
	assert.EqualValues(t, http.StatusForbidden, se.Code)
	assert.EqualValues(t, "not your container", se.Body)
}

func TestClientMaps5xxToInternal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := NewClient(discardLogger(), server.URL).ListInstances(context.Background(), "tok")
	assert.True(t, errs.HasKind(err, errs.KindInternal))
}

func TestClientUnreachableIsServiceUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // nothing listening anymore

	_, err := NewClient(discardLogger(), server.URL).ListInstances(context.Background(), "tok")
	assert.True(t, errs.HasKind(err, errs.KindServiceUnavailable))
}

func TestRenameInstance(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.EqualValues(t, http.MethodPatch, r.Method)
		assert.EqualValues(t, "/containers/abc", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.EqualValues(t, "renamed", body["projectName"])
	}))
	defer server.Close()

	err := NewClient(discardLogger(), server.URL).RenameInstance(context.Background(), "tok", "abc", "renamed")
	assert.NoError(t, err)
}
