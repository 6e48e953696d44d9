// Package site holds the HTTP handlers of the control page.
package site

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"

	"github.com/sirupsen/logrus"
)

//go:embed index.html
var index []byte

// MaxJobSize bounds an uploaded command file.
const MaxJobSize = 16 << 20

// HomePage serves the control page.
func HomePage(log logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log.WithField("remote", r.RemoteAddr).Debug("home page")
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write(index); err != nil {
			log.WithError(err).Warn("write home page")
		}
	}
}

// Status serves whatever fn returns as JSON.
func Status(fn func() interface{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(fn()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// Submitter queues a command file for printing.
type Submitter func(name string, src io.Reader) <-chan error

// Jobs accepts a command file in the request body. It answers as soon as the
// job is queued; printing happens in the background.
func Jobs(submit Submitter, log logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, MaxJobSize+1))
		if err != nil {
			http.Error(w, "error reading job", http.StatusBadRequest)
			return
		}
		if len(body) > MaxJobSize {
			http.Error(w, "job too large", http.StatusRequestEntityTooLarge)
			return
		}
		name := r.URL.Query().Get("name")
		if name == "" {
			name = "upload"
		}
		log.WithFields(logrus.Fields{"remote": r.RemoteAddr, "job": name, "bytes": len(body)}).Info("job received")
		done := submit(name, bytes.NewReader(body))
		select {
		case err := <-done:
			// only a closed feeder answers this fast
			if err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		default:
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

// Stop runs shutdown; it is expected to end the process.
func Stop(shutdown func(), log logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log.WithField("remote", r.RemoteAddr).Info("stop requested")
		w.WriteHeader(http.StatusAccepted)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		go shutdown()
	}
}

// Video streams JPEG frames as multipart/x-mixed-replace until the client
// goes away.
func Video(subscribe func() (<-chan []byte, func()), log logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log.WithField("remote", r.RemoteAddr).Info("video client connected")
		frames, cancel := subscribe()
		defer cancel()

		const boundary = "frame"
		w.Header().Set("Content-Type", "multipart/x-mixed-replace;boundary="+boundary)
		mw := multipart.NewWriter(w)
		if err := mw.SetBoundary(boundary); err != nil {
			log.WithError(err).Warn("video boundary")
			return
		}
		for {
			var frame []byte
			select {
			case frame = <-frames:
			case <-r.Context().Done():
				return
			}
			part, err := mw.CreatePart(textproto.MIMEHeader{
				"Content-Type":   []string{"image/jpeg"},
				"Content-Length": []string{strconv.Itoa(len(frame))},
			})
			if err != nil {
				log.WithError(err).Debug("video client gone")
				return
			}
			if _, err := part.Write(frame); err != nil {
				log.WithError(err).Debug("video client gone")
				return
			}
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
	}
}
