package internal

import (
	"context"
	"os"
	ossignal "os/signal"
	"sync"
	"syscall"

	"media-coordinator/pkg/credentials"
	"media-coordinator/pkg/crypto"
	"media-coordinator/pkg/log"
	"media-coordinator/pkg/media"
	"media-coordinator/pkg/peer"
	"media-coordinator/pkg/recorder"
	"media-coordinator/pkg/room"
	"media-coordinator/pkg/signal"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

type App struct {
	credentialMode bool
	credentialFile string
	credentialKey  string

	signalURL    string
	codec        string
	roomID       string
	instanceUUID string
	stunServers  []string
	turnServers  []string
	turnUsername string
	turnPassword string

	audioFile string
	videoFile string

	recordDir       string
	recordVersions  uint16
	archivePassword string

	logLevel string

	credentials *credentials.Store
	recorder    *recorder.Recorder
	signal      *signal.Client
	coordinator *room.Coordinator
	webrtc      peer.WebRTCConfig
}

func NewApp() *App {
	return &App{
		instanceUUID: uuid.New().String(),
	}
}

func (a *App) Setup() (err error) {
	a.parseCmdline()

	log.SetupLogger(a.logLevel)

	if len(a.credentialFile) != 0 {
		if err := a.setupCredentials(); err != nil {
			return err
		}
	}

	if a.credentialMode {
		if a.credentials == nil {
			return errors.New("credential mode requires --credfile")
		}

		return nil
	}

	return a.setupCallMode()
}

func (a *App) Run(ctx context.Context, cancel context.CancelFunc) error {
	if a.credentialMode {
		return a.runCredentialMode()
	}

	return a.runCallMode(ctx, cancel)
}

func (a *App) parseCmdline() {
	// Options of the credential encryption mode.
	pflag.BoolVarP(&a.credentialMode, "store-credentials", "e", false, "Encrypt --turn-user and --turn-pass into --credfile and exit")
	pflag.StringVarP(&a.credentialFile, "credfile", "p", os.Getenv("CREDENTIALS_FILE"), "Path to a file where encrypted relay credentials are saved to or taken from (see: --store-credentials)")
	pflag.StringVar(&a.credentialKey, "credkey", os.Getenv("CREDENTIALS_KEY"), "Passphrase protecting --credfile")

	// Signaling options.
	pflag.StringVarP(&a.signalURL, "signal", "s", envOr("SIGNAL_URL", DefaultSignalURL), "WebSocket URL of the signaling relay")
	pflag.StringVar(&a.codec, "codec", envOr("SIGNAL_CODEC", DefaultCodec), "Signaling wire codec: json or msgpack")
	pflag.StringVarP(&a.roomID, "room", "r", os.Getenv("ROOM"), "Room to join")

	// Network traversal options.
	pflag.StringSliceVarP(&a.stunServers, "stun", "S", envList("STUN_SERVERS", []string{DefaultSTUN}), "List of used STUN servers")
	pflag.StringSliceVarP(&a.turnServers, "turn", "T", envList("TURN_SERVERS", nil), "List of TURN server URLs")
	pflag.StringVar(&a.turnUsername, "turn-user", os.Getenv("TURN_USERNAME"), "TURN username")
	pflag.StringVar(&a.turnPassword, "turn-pass", os.Getenv("TURN_PASSWORD"), "TURN password")

	// Local media options.
	pflag.StringVarP(&a.audioFile, "audio", "a", os.Getenv("AUDIO_FILE"), "Ogg/Opus file played as the microphone")
	pflag.StringVarP(&a.videoFile, "video", "v", os.Getenv("VIDEO_FILE"), "IVF/VP8 file played as the camera; without it the call is audio-only")

	// Remote media options.
	pflag.StringVarP(&a.recordDir, "record", "d", os.Getenv("RECORD_DIR"), "Directory where remote tracks are recorded")
	pflag.Uint16Var(&a.recordVersions, "versions", 1, "Number of recording versions kept per file name")
	pflag.StringVar(&a.archivePassword, "archive-password", os.Getenv("ARCHIVE_PASSWORD"), "Pack recordings into a password protected zip on exit")

	pflag.StringVar(&a.logLevel, "log-level", envOr("LOG_LEVEL", DefaultLogLevel), "Log level: trace, debug, info, warn, error")

	pflag.Parse()
}

func (a *App) setupCredentials() error {
	aes, err := crypto.NewAesCbc(crypto.AesCbcConfig{
		Passphrase: a.credentialKey,
	})
	if err != nil {
		return errors.Wrap(err, "credentials crypto")
	}

	a.credentials = credentials.NewStore(credentials.StoreConfig{
		CredentialFile: a.credentialFile,
	}, aes)

	return nil
}

func (a *App) setupCallMode() (err error) {
	if len(a.roomID) == 0 {
		return errors.New("--room is required")
	}

	codec, err := signal.CodecByName(a.codec)
	if err != nil {
		return err
	}

	if a.credentials != nil {
		a.turnUsername, a.turnPassword, err = a.credentials.Load()
		if err != nil {
			return errors.Wrap(err, "credentials")
		}
	}

	a.webrtc = peer.WebRTCConfig{
		STUN:         a.stunServers,
		TURN:         a.turnServers,
		TURNUsername: a.turnUsername,
		TURNPassword: a.turnPassword,
	}

	if len(a.recordDir) != 0 {
		a.recorder, err = recorder.NewRecorder(recorder.RecorderConfig{
			DestinationDir:  a.recordDir,
			Versions:        a.recordVersions,
			ArchivePassword: a.archivePassword,
		})
		if err != nil {
			return errors.Wrap(err, "recorder")
		}
	}

	a.signal, err = signal.Dial(context.Background(), signal.ClientConfig{
		URL:   a.signalURL,
		Codec: codec,
	})
	if err != nil {
		return errors.Wrap(err, "signaling")
	}

	cfg := room.Config{
		Signal:     a.signal,
		Transports: a.webrtc.Factory(),
		Capability: &media.FileCapability{
			AudioFile: a.audioFile,
			VideoFile: a.videoFile,
		},
		WithVideo: true,
		OnPeerLeft: func(peerID string) {
			log.Infof("peer %s disconnected", peerID)
		},
	}

	if a.recorder != nil {
		cfg.Sink = a.recorder
	}

	a.coordinator = room.New(cfg)

	return nil
}

func (a *App) runCredentialMode() error {
	err := a.credentials.Save(a.turnUsername, a.turnPassword)

	return errors.Wrap(err, "credentials")
}

func (a *App) runCallMode(ctx context.Context, cancel context.CancelFunc) error {
	log.Infof("Starting media coordinator, room: %s, instance UUID: %s", a.roomID, a.instanceUUID)
	defer log.Info("Ending media coordinator")

	a.listenOS(cancel)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()

		a.coordinator.Run(ctx)
	}()

	go func() {
		for msg := range a.signal.Incoming() {
			a.coordinator.Dispatch(msg)
		}

		log.Info("signaling connection closed")
		cancel()
	}()

	err := a.coordinator.Join(ctx, a.roomID)
	if err != nil {
		cancel()
	}

	<-ctx.Done()
	wg.Wait()

	a.signal.Close()

	if a.recorder != nil {
		if rerr := a.recorder.Close(); rerr != nil {
			log.Error(errors.Wrap(rerr, "recorder"))
		}
	}

	return errors.Wrap(err, "join")
}

func (a *App) listenOS(cancel context.CancelFunc) {
	sigchan := make(chan os.Signal, 1)
	ossignal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigchan
		cancel()
	}()
}
