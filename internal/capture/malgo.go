package capture

import (
	"context"
	"sync"

	"github.com/gen2brain/malgo"

	scerrors "github.com/private-scribe/scribe/internal/errors"
	"github.com/private-scribe/scribe/internal/logging"
)

// MalgoSource opens the default capture device through miniaudio.
type MalgoSource struct{}

func NewMalgoSource() *MalgoSource { return &MalgoSource{} }

// Open initialises a miniaudio context and capture device. Both are owned by
// the returned stream and freed by Close.
func (s *MalgoSource) Open(ctx context.Context, f Format, fn FrameFunc) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, scerrors.NewDeviceUnavailable(err)
	}
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		logging.Debugw("capture: miniaudio", "msg", msg)
	})
	if err != nil {
		return nil, scerrors.NewDeviceUnavailable(err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(f.Channels)
	deviceConfig.SampleRate = uint32(f.SampleRate)

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, inputSamples []byte, _ uint32) {
			if len(inputSamples) > 0 {
				fn(inputSamples)
			}
		},
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, scerrors.NewDeviceUnavailable(err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return nil, scerrors.NewDeviceUnavailable(err)
	}
	logging.Infow("capture: microphone opened", "sample_rate", f.SampleRate, "channels", f.Channels)
	return &malgoStream{ctx: mctx, device: device}, nil
}

type malgoStream struct {
	once   sync.Once
	ctx    *malgo.AllocatedContext
	device *malgo.Device
}

func (m *malgoStream) Close() error {
	var err error
	m.once.Do(func() {
		err = m.device.Stop()
		m.device.Uninit()
		if uerr := m.ctx.Uninit(); uerr != nil && err == nil {
			err = uerr
		}
		m.ctx.Free()
		logging.Infow("capture: microphone released")
	})
	return err
}
