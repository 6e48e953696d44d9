package site

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHomePage(t *testing.T) {
	log, _ := test.NewNullLogger()
	rec := httptest.NewRecorder()
	HomePage(log)(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "<title>eggbot</title>")
}

func TestStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	Status(func() interface{} { return map[string]int{"cycles": 42} })(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	var got map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 42, got["cycles"])
}

func TestJobs(t *testing.T) {
	log, _ := test.NewNullLogger()
	var name, body string
	submit := func(n string, src io.Reader) <-chan error {
		b, _ := io.ReadAll(src)
		name, body = n, string(b)
		return make(chan error, 1)
	}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/jobs?name=star.txt", strings.NewReader("SP,1,500\n"))
	Jobs(submit, log)(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "star.txt", name)
	assert.Equal(t, "SP,1,500\n", body)
}

func TestJobsRejectedWhenClosed(t *testing.T) {
	log, _ := test.NewNullLogger()
	submit := func(string, io.Reader) <-chan error {
		c := make(chan error, 1)
		c <- errors.New("feeder closed")
		return c
	}
	rec := httptest.NewRecorder()
	Jobs(submit, log)(rec, httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader("")))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStop(t *testing.T) {
	log, _ := test.NewNullLogger()
	called := make(chan struct{})
	rec := httptest.NewRecorder()
	Stop(func() { close(called) }, log)(rec, httptest.NewRequest(http.MethodPost, "/stop", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("shutdown not called")
	}
}

func TestVideo(t *testing.T) {
	log, _ := test.NewNullLogger()
	frames := make(chan []byte, 1)
	frames <- []byte("jpegdata")
	cancelled := false
	subscribe := func() (<-chan []byte, func()) { return frames, func() { cancelled = true } }

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/video", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	Video(subscribe, log)(rec, req)

	assert.True(t, cancelled)
	assert.Equal(t, "multipart/x-mixed-replace;boundary=frame", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "--frame")
	assert.Contains(t, rec.Body.String(), "jpegdata")
}
