// Recorder saves every remote track it is handed to DestinationDir, one file
// per peer and media kind: Opus audio as "${peer}-audio.ogg", VP8 video as
// "${peer}-video.ivf". Other codecs are not recorded.
//
// Up to Versions recordings are kept per file name. Older ones get a version
// suffix, ".1" being the most recent of them; once Versions is reached the
// oldest is removed (see: rotate()).
//
// If ArchivePassword is set, Close packs the recordings of the run into a
// password protected zip named ArchiveName, versioned the same way, and
// removes the loose files (see: archive()).

package recorder

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"media-coordinator/pkg/log"
	"media-coordinator/pkg/media"

	"github.com/TelenLiu/go-zip"
	"github.com/pion/webrtc/v3"
	pionmedia "github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v3/pkg/media/oggwriter"
	"github.com/pkg/errors"
)

var errNotDirectory = errors.New("not a directory")

const DefaultArchiveName = "recordings.zip"

type Recorder struct {
	cfg RecorderConfig

	wg sync.WaitGroup

	filesMx sync.Mutex
	files   []string
}

type RecorderConfig struct {
	DestinationDir  string
	Versions        uint16
	ArchivePassword string
	ArchiveName     string
}

var _ media.Sink = (*Recorder)(nil)

func NewRecorder(cfg RecorderConfig) (*Recorder, error) {
	// A bad path would otherwise only show once a call is connected.
	fi, err := os.Stat(cfg.DestinationDir)
	if err != nil {
		return nil, err
	}

	if !fi.IsDir() {
		return nil, errors.Wrap(errNotDirectory, cfg.DestinationDir)
	}

	if cfg.Versions == 0 {
		cfg.Versions = 1
	}

	if len(cfg.ArchiveName) == 0 {
		cfg.ArchiveName = DefaultArchiveName
	}

	return &Recorder{cfg: cfg}, nil
}

func (r *Recorder) OnRemoteTrack(peerID string, track media.RemoteTrack) {
	r.wg.Add(1)

	go func() {
		defer r.wg.Done()

		if err := r.record(peerID, track); err != nil {
			log.Error(errors.Wrapf(err, "recording %s from %s", track.Kind(), peerID))
		}
	}()
}

// Close waits for running recordings to end, then archives them if
// configured.
func (r *Recorder) Close() error {
	r.wg.Wait()

	if len(r.cfg.ArchivePassword) == 0 {
		return nil
	}

	r.filesMx.Lock()
	files := r.files
	r.files = nil
	r.filesMx.Unlock()

	if len(files) == 0 {
		return nil
	}

	return r.archive(files)
}

func (r *Recorder) record(peerID string, track media.RemoteTrack) error {
	var ext string

	mime := track.Codec().MimeType

	switch {
	case strings.EqualFold(mime, webrtc.MimeTypeOpus):
		ext = "ogg"
	case strings.EqualFold(mime, webrtc.MimeTypeVP8):
		ext = "ivf"
	default:
		log.Infof("not recording %s track from %s: codec %s unsupported", track.Kind(), peerID, mime)

		return nil
	}

	path := filepath.Join(r.cfg.DestinationDir, fmt.Sprintf("%s-%s.%s", peerID, track.Kind(), ext))

	r.rotate(path)

	var (
		w   pionmedia.Writer
		err error
	)

	if ext == "ogg" {
		w, err = oggwriter.New(path, 48000, 2)
	} else {
		w, err = ivfwriter.New(path)
	}

	if err != nil {
		return err
	}

	log.Info("recording to: ", path)

	err = r.copyRTP(w, track)

	if cerr := w.Close(); err == nil {
		err = cerr
	}

	r.filesMx.Lock()
	r.files = append(r.files, path)
	r.filesMx.Unlock()

	return err
}

func (r *Recorder) copyRTP(w pionmedia.Writer, track media.RemoteTrack) error {
	for {
		packet, _, err := track.ReadRTP()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}

			return err
		}

		if err := w.WriteRTP(packet); err != nil {
			return err
		}
	}
}

func (r *Recorder) archive(files []string) error {
	path := filepath.Join(r.cfg.DestinationDir, r.cfg.ArchiveName)

	r.rotate(path)

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	z := zip.NewWriter(f)

	for _, file := range files {
		if err := r.archiveFile(z, file); err != nil {
			z.Close()

			return err
		}
	}

	if err := z.Close(); err != nil {
		return err
	}

	for _, file := range files {
		if err := os.Remove(file); err != nil {
			log.Error(err)
		}
	}

	log.Info("recordings archived to: ", path)

	return nil
}

func (r *Recorder) archiveFile(z *zip.Writer, path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}

	fh, err := zip.FileInfoHeader(fi)
	if err != nil {
		return err
	}

	fh.Name = filepath.Base(path)
	fh.Method = zip.Deflate
	fh.SetPassword(r.cfg.ArchivePassword)
	fh.SetEncryptionType(zip.StandardEncryption)

	w, err := z.CreateHeader(fh)
	if err != nil {
		return err
	}

	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	_, err = io.Copy(w, src)

	return err
}

// rotate makes room for a new file at path. Older versions move one number
// up; the one that would exceed Versions is removed.
func (r *Recorder) rotate(path string) {
	last := int(r.cfg.Versions) - 1

	if err := os.Remove(versionPath(path, last)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Error(err)
	}

	for n := last - 1; n >= 0; n-- {
		err := os.Rename(versionPath(path, n), versionPath(path, n+1))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Error(err)
		}
	}
}

// versionPath names version n of path; version 0 is the newest.
func versionPath(path string, n int) string {
	if n == 0 {
		return path
	}

	return path + "." + strconv.Itoa(n)
}
