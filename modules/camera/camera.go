// Package camera streams the workpiece from a V4L2 webcam as JPEG frames so
// a drawing can be watched remotely.
package camera

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"sort"
	"sync"

	"github.com/blackjack/webcam"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	pixFmtMJPG = 0x47504A4D
	pixFmtPJPG = 0x47504A50
	pixFmtYUYV = 0x56595559
)

// formats the stream can turn into JPEG.
var formats = map[webcam.PixelFormat]bool{
	pixFmtMJPG: true,
	pixFmtPJPG: true,
	pixFmtYUYV: true,
}

// waitTimeout is how long Run waits for a frame, in seconds.
const waitTimeout = 5

type Stream struct {
	cam    *webcam.Webcam
	format webcam.PixelFormat
	width  uint32
	height uint32
	log    logrus.FieldLogger

	mu      sync.Mutex
	clients map[chan []byte]struct{}
}

// Open picks a pixel format (the first supported one when format is empty)
// and a frame size (the largest when size is empty), then starts streaming.
func Open(device, format, size string, log logrus.FieldLogger) (*Stream, error) {
	cam, err := webcam.Open(device)
	if err != nil {
		return nil, errors.Wrapf(err, "open camera %s", device)
	}
	s := &Stream{cam: cam, log: log.WithField("camera", device), clients: map[chan []byte]struct{}{}}
	if err := s.configure(format, size); err != nil {
		cam.Close()
		return nil, err
	}
	if err := cam.StartStreaming(); err != nil {
		cam.Close()
		return nil, errors.Wrap(err, "start streaming")
	}
	return s, nil
}

func (s *Stream) configure(format, size string) error {
	supported := s.cam.GetSupportedFormats()
	f, err := pickFormat(supported, format)
	if err != nil {
		return err
	}
	sizes := s.cam.GetSupportedFrameSizes(f)
	fs, err := pickSize(sizes, size)
	if err != nil {
		return err
	}
	f, w, h, err := s.cam.SetImageFormat(f, fs.MaxWidth, fs.MaxHeight)
	if err != nil {
		return errors.Wrap(err, "set image format")
	}
	if !formats[f] {
		return errors.Errorf("camera switched to unsupported format %s", supported[f])
	}
	s.format, s.width, s.height = f, w, h
	s.log.WithFields(logrus.Fields{"format": supported[f], "width": w, "height": h}).Info("camera ready")
	return nil
}

func pickFormat(supported map[webcam.PixelFormat]string, want string) (webcam.PixelFormat, error) {
	keys := make([]webcam.PixelFormat, 0, len(supported))
	for f := range supported {
		keys = append(keys, f)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, f := range keys {
		if want == "" && formats[f] {
			return f, nil
		}
		if want == supported[f] {
			if !formats[f] {
				return 0, errors.Errorf("format %s is not supported", want)
			}
			return f, nil
		}
	}
	return 0, errors.New("no usable camera format")
}

func pickSize(sizes []webcam.FrameSize, want string) (webcam.FrameSize, error) {
	if len(sizes) == 0 {
		return webcam.FrameSize{}, errors.New("camera reports no frame sizes")
	}
	sort.Slice(sizes, func(i, j int) bool {
		return sizes[i].MaxWidth*sizes[i].MaxHeight < sizes[j].MaxWidth*sizes[j].MaxHeight
	})
	if want == "" {
		return sizes[len(sizes)-1], nil
	}
	for _, fs := range sizes {
		if fs.GetString() == want {
			return fs, nil
		}
	}
	return webcam.FrameSize{}, errors.Errorf("no frame size %s", want)
}

// Subscribe returns a channel of JPEG frames. Slow readers miss frames.
func (s *Stream) Subscribe() (<-chan []byte, func()) {
	c := make(chan []byte, 1)
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	return c, func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
	}
}

func (s *Stream) broadcast(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c <- frame:
		default:
		}
	}
}

// Run reads frames until ctx is done.
func (s *Stream) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		err := s.cam.WaitForFrame(waitTimeout)
		switch err.(type) {
		case nil:
		case *webcam.Timeout:
			s.log.Debug("camera timeout")
			continue
		default:
			return errors.Wrap(err, "wait for frame")
		}

		raw, err := s.cam.ReadFrame()
		if err != nil {
			return errors.Wrap(err, "read frame")
		}
		if len(raw) == 0 {
			continue
		}
		s.mu.Lock()
		idle := len(s.clients) == 0
		s.mu.Unlock()
		if idle {
			continue
		}
		frame, err := s.encode(raw)
		if err != nil {
			s.log.WithError(err).Warn("drop frame")
			continue
		}
		s.broadcast(frame)
	}
	return ctx.Err()
}

func (s *Stream) encode(raw []byte) ([]byte, error) {
	if s.format == pixFmtYUYV {
		return encodeYUYV(raw, int(s.width), int(s.height))
	}
	// the driver already hands out JPEG; the buffer is reused on the next read
	return append([]byte(nil), raw...), nil
}

func encodeYUYV(raw []byte, w, h int) ([]byte, error) {
	if len(raw) < w*h*2 {
		return nil, errors.Errorf("short YUYV frame: %d bytes for %dx%d", len(raw), w, h)
	}
	img := image.NewYCbCr(image.Rect(0, 0, w, h), image.YCbCrSubsampleRatio422)
	for i := range img.Cb {
		ii := i * 4
		img.Y[i*2] = raw[ii]
		img.Y[i*2+1] = raw[ii+2]
		img.Cb[i] = raw[ii+1]
		img.Cr[i] = raw[ii+3]
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		return nil, errors.Wrap(err, "encode jpeg")
	}
	return buf.Bytes(), nil
}

func (s *Stream) Close() error {
	return s.cam.Close()
}
