package media

import (
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/pion/webrtc/v3"
	pionmedia "github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/ivfreader"
	"github.com/pion/webrtc/v3/pkg/media/oggreader"
	"github.com/pkg/errors"
)

const (
	deviceMicrophone = "microphone"
	deviceCamera     = "camera"

	opusSampleRate = 48000
)

// Capability hands out local capture tracks.
type Capability interface {
	AcquireAudio() (*Track, error)
	AcquireVideo() (*Track, error)
}

// FileCapability stands in for capture devices by playing an Ogg/Opus file
// as the microphone and an IVF/VP8 file as the camera. An empty path means
// the device is absent.
type FileCapability struct {
	AudioFile string
	VideoFile string

	// Open defaults to os.Open.
	Open func(name string) (io.ReadCloser, error)
}

var _ Capability = (*FileCapability)(nil)

func (c *FileCapability) AcquireAudio() (*Track, error) {
	f, err := c.open(deviceMicrophone, c.AudioFile)
	if err != nil {
		return nil, err
	}

	src, err := newOggSource(f)
	if err != nil {
		f.Close()

		return nil, errors.Wrap(err, c.AudioFile)
	}

	return NewTrack(webrtc.RTPCodecTypeAudio, webrtc.MimeTypeOpus, src)
}

func (c *FileCapability) AcquireVideo() (*Track, error) {
	f, err := c.open(deviceCamera, c.VideoFile)
	if err != nil {
		return nil, err
	}

	src, err := newIVFSource(f)
	if err != nil {
		f.Close()

		return nil, errors.Wrap(err, c.VideoFile)
	}

	return NewTrack(webrtc.RTPCodecTypeVideo, webrtc.MimeTypeVP8, src)
}

func (c *FileCapability) open(device, path string) (io.ReadCloser, error) {
	if path == "" {
		return nil, unavailable(device, ErrDeviceNotFound)
	}

	open := c.Open
	if open == nil {
		open = func(name string) (io.ReadCloser, error) { return os.Open(name) }
	}

	f, err := open(path)

	switch {
	case err == nil:
		return f, nil
	case errors.Is(err, fs.ErrNotExist):
		return nil, unavailable(device, ErrDeviceNotFound)
	case errors.Is(err, fs.ErrPermission):
		return nil, unavailable(device, ErrPermissionDenied)
	}

	return nil, errors.Wrap(err, device)
}

type oggSource struct {
	file        io.ReadCloser
	reader      *oggreader.OggReader
	lastGranule uint64
}

func newOggSource(f io.ReadCloser) (*oggSource, error) {
	reader, _, err := oggreader.NewWith(f)
	if err != nil {
		return nil, err
	}

	return &oggSource{file: f, reader: reader}, nil
}

func (s *oggSource) Next() (pionmedia.Sample, error) {
	page, header, err := s.reader.ParseNextPage()
	if err != nil {
		return pionmedia.Sample{}, err
	}

	samples := header.GranulePosition - s.lastGranule
	s.lastGranule = header.GranulePosition

	return pionmedia.Sample{
		Data:     page,
		Duration: time.Duration(samples) * time.Second / opusSampleRate,
	}, nil
}

func (s *oggSource) Close() error {
	return s.file.Close()
}

type ivfSource struct {
	file   io.ReadCloser
	reader *ivfreader.IVFReader
	frame  time.Duration
}

func newIVFSource(f io.ReadCloser) (*ivfSource, error) {
	reader, header, err := ivfreader.NewWith(f)
	if err != nil {
		return nil, err
	}

	frame := 33 * time.Millisecond
	if header.TimebaseDenominator != 0 {
		frame = time.Duration(header.TimebaseNumerator) * time.Second / time.Duration(header.TimebaseDenominator)
	}

	return &ivfSource{file: f, reader: reader, frame: frame}, nil
}

func (s *ivfSource) Next() (pionmedia.Sample, error) {
	frame, _, err := s.reader.ParseNextFrame()
	if err != nil {
		return pionmedia.Sample{}, err
	}

	return pionmedia.Sample{Data: frame, Duration: s.frame}, nil
}

func (s *ivfSource) Close() error {
	return s.file.Close()
}
