package media

import (
	"io"
	"sync"

	"github.com/pion/webrtc/v3"
	pionmedia "github.com/pion/webrtc/v3/pkg/media"
)

type eofSource struct {
	mx     sync.Mutex
	closes int
}

func (s *eofSource) Next() (pionmedia.Sample, error) {
	return pionmedia.Sample{}, io.EOF
}

func (s *eofSource) Close() error {
	s.mx.Lock()
	defer s.mx.Unlock()

	s.closes++

	return nil
}

func (s *eofSource) closed() int {
	s.mx.Lock()
	defer s.mx.Unlock()

	return s.closes
}

type fakeCapability struct {
	audioErr error
	videoErr error

	audio *eofSource
	video *eofSource
}

func (c *fakeCapability) AcquireAudio() (*Track, error) {
	if c.audioErr != nil {
		return nil, c.audioErr
	}

	c.audio = &eofSource{}

	return NewTrack(webrtc.RTPCodecTypeAudio, webrtc.MimeTypeOpus, c.audio)
}

func (c *fakeCapability) AcquireVideo() (*Track, error) {
	if c.videoErr != nil {
		return nil, c.videoErr
	}

	c.video = &eofSource{}

	return NewTrack(webrtc.RTPCodecTypeVideo, webrtc.MimeTypeVP8, c.video)
}
