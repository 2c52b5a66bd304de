package gstreamer

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/tinyzimmer/go-gst/gst"

	framecount "github.com/Bwavrita/Compare-frame-read"
)

// busPollInterval is the TimedPop timeout, short for responsive shutdown
const busPollInterval = 50 * time.Millisecond

// monitor polls the source pipeline bus until the demuxer is closed
//
// This goroutine:
//  1. Forwards the first pipeline error to ReadPacket/Open (classified)
//  2. Turns an EOS message into end of input
//  3. Logs pipeline state changes
func (d *demuxer) monitor() {
	defer d.wg.Done()

	watchBus("source", d.elements.Pipeline, d.done,
		func() { d.eosOnce.Do(func() { close(d.eos) }) },
		func(err error) {
			select {
			case d.errs <- err:
			default:
			}
		},
	)
}

// watchBus runs the bus loop for one pipeline until done is closed
func watchBus(role string, pipeline *gst.Pipeline, done <-chan struct{}, onEOS func(), onError func(error)) {
	bus := pipeline.GetPipelineBus()

	for {
		select {
		case <-done:
			slog.Debug("gstreamer: pipeline closed, stopping bus monitor", "pipeline", role)
			return
		default:
		}

		msg := bus.TimedPop(busPollInterval)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			slog.Info("gstreamer: end of stream received", "pipeline", role)
			onEOS()

		case gst.MessageError:
			err := busError(msg.ParseError())
			slog.Error("gstreamer: pipeline error",
				"pipeline", role,
				"error", err,
				"category", framecount.Classify(err).String(),
				"source", msg.Source(),
			)
			onError(err)

		case gst.MessageStateChanged:
			if msg.Source() == pipeline.GetName() {
				oldState, newState := msg.ParseStateChanged()
				slog.Debug("gstreamer: pipeline state changed",
					"pipeline", role,
					"from", oldState,
					"to", newState,
				)
			}
		}
	}
}

// busError converts a GError into an error carrying both the message and
// the debug string, so keyword classification sees the element details
func busError(gerr *gst.GError) error {
	if gerr == nil {
		return fmt.Errorf("unknown pipeline error")
	}
	if debug := gerr.DebugString(); debug != "" {
		return fmt.Errorf("%s (%s)", gerr.Error(), debug)
	}
	return fmt.Errorf("%s", gerr.Error())
}
