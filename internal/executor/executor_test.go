package executor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chronos/internal/models"
)

type noopExecutor struct{}

func (noopExecutor) Execute(ctx context.Context, job *models.Job, run *models.JobRun) error {
	return nil
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register("http", noopExecutor{}))
	assert.Error(t, r.Register("http", noopExecutor{}), "duplicate registration must fail")

	ex, err := r.Lookup("http")
	require.NoError(t, err)
	assert.NotNil(t, ex)

	_, err = r.Lookup("smoke-signal")
	assert.Error(t, err)

	assert.True(t, r.Exists("http"))
	assert.False(t, r.Exists("smoke-signal"))
	assert.Equal(t, []string{"http"}, r.Types())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ConditionTag
	}{
		{name: "classified error", err: Fail(TagTimeout, "slow"), want: TagTimeout},
		{name: "wrapped classified error", err: errors.Join(errors.New("outer"), Fail(TagValidationError, "bad")), want: TagValidationError},
		{name: "deadline exceeded", err: context.DeadlineExceeded, want: TagTimeout},
		{name: "plain error defaults to server_error", err: errors.New("boom"), want: TagServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func httpJob(payload string) *models.Job {
	return &models.Job{ID: "j1", Type: "http", Payload: []byte(payload)}
}

func TestHTTPExecutor(t *testing.T) {
	t.Run("success on 2xx", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		ex := NewHTTPExecutor(nil)
		err := ex.Execute(context.Background(), httpJob(`{"url":"`+srv.URL+`"}`), &models.JobRun{})
		assert.NoError(t, err)
	})

	t.Run("5xx classified as server_error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		ex := NewHTTPExecutor(nil)
		err := ex.Execute(context.Background(), httpJob(`{"url":"`+srv.URL+`"}`), &models.JobRun{})
		require.Error(t, err)
		assert.Equal(t, TagServerError, Classify(err))
	})

	t.Run("4xx classified as validation_error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		ex := NewHTTPExecutor(nil)
		err := ex.Execute(context.Background(), httpJob(`{"url":"`+srv.URL+`"}`), &models.JobRun{})
		require.Error(t, err)
		assert.Equal(t, TagValidationError, Classify(err))
	})

	t.Run("timeout classified as timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(500 * time.Millisecond)
		}))
		defer srv.Close()

		ex := NewHTTPExecutor(&http.Client{Timeout: 50 * time.Millisecond})
		err := ex.Execute(context.Background(), httpJob(`{"url":"`+srv.URL+`"}`), &models.JobRun{})
		require.Error(t, err)
		assert.Equal(t, TagTimeout, Classify(err))
	})

	t.Run("connection refused classified as connection_error", func(t *testing.T) {
		ex := NewHTTPExecutor(nil)
		err := ex.Execute(context.Background(), httpJob(`{"url":"http://127.0.0.1:1"}`), &models.JobRun{})
		require.Error(t, err)
		assert.Equal(t, TagConnectionError, Classify(err))
	})

	t.Run("garbage payload rejected", func(t *testing.T) {
		ex := NewHTTPExecutor(nil)
		err := ex.Execute(context.Background(), httpJob(`{{`), &models.JobRun{})
		require.Error(t, err)
		assert.Equal(t, TagValidationError, Classify(err))
	})

	t.Run("missing url rejected", func(t *testing.T) {
		ex := NewHTTPExecutor(nil)
		err := ex.Execute(context.Background(), httpJob(`{"method":"GET"}`), &models.JobRun{})
		require.Error(t, err)
		assert.Equal(t, TagValidationError, Classify(err))
	})
}

func TestScriptExecutor(t *testing.T) {
	ex := NewScriptExecutor()

	t.Run("successful command", func(t *testing.T) {
		job := &models.Job{Type: "script", Payload: []byte(`{"command":"true"}`)}
		assert.NoError(t, ex.Execute(context.Background(), job, &models.JobRun{}))
	})

	t.Run("failing command classified as server_error", func(t *testing.T) {
		job := &models.Job{Type: "script", Payload: []byte(`{"command":"false"}`)}
		err := ex.Execute(context.Background(), job, &models.JobRun{})
		require.Error(t, err)
		assert.Equal(t, TagServerError, Classify(err))
	})

	t.Run("unbalanced quoting rejected", func(t *testing.T) {
		job := &models.Job{Type: "script", Payload: []byte(`{"command":"echo 'oops"}`)}
		err := ex.Execute(context.Background(), job, &models.JobRun{})
		require.Error(t, err)
		assert.Equal(t, TagValidationError, Classify(err))
	})

	t.Run("timeout classified as timeout", func(t *testing.T) {
		job := &models.Job{Type: "script", Payload: []byte(`{"command":"sleep 5","timeout_seconds":1}`)}
		start := time.Now()
		err := ex.Execute(context.Background(), job, &models.JobRun{})
		require.Error(t, err)
		assert.Equal(t, TagTimeout, Classify(err))
		assert.Less(t, time.Since(start), 3*time.Second)
	})
}

func TestCacheExecutorPayloadValidation(t *testing.T) {
	ex := NewCacheExecutor(nil)

	t.Run("missing key rejected before touching redis", func(t *testing.T) {
		job := &models.Job{Type: "cache", Payload: []byte(`{"op":"set"}`)}
		err := ex.Execute(context.Background(), job, &models.JobRun{})
		require.Error(t, err)
		assert.Equal(t, TagValidationError, Classify(err))
	})

	t.Run("unknown op rejected", func(t *testing.T) {
		job := &models.Job{Type: "cache", Payload: []byte(`{"op":"compact","key":"k"}`)}
		err := ex.Execute(context.Background(), job, &models.JobRun{})
		require.Error(t, err)
		assert.Equal(t, TagValidationError, Classify(err))
	})
}
