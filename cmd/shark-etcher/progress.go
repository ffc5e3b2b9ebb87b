package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"shark-etcher/internal/worker"
)

// progressRenderer drives one progressbar per phase. On a non-tty stderr it
// degrades to occasional log lines instead of control-character spam.
type progressRenderer struct {
	out        *os.File
	isTerminal bool
	phase      worker.Phase
	bar        *progressbar.ProgressBar
	lastLogged int64
}

const progressLogStep = 256 * 1024 * 1024

func newProgressRenderer(out *os.File) *progressRenderer {
	return &progressRenderer{
		out:        out,
		isTerminal: term.IsTerminal(int(out.Fd())),
	}
}

func (r *progressRenderer) update(phase worker.Phase, current int64, total *int64) {
	if !r.isTerminal {
		if current-r.lastLogged >= progressLogStep {
			r.lastLogged = current
			log.Info().Str("phase", string(phase)).Int64("bytes", current).Msg("progress")
		}
		return
	}

	if r.bar == nil || r.phase != phase {
		r.finishBar()
		r.phase = phase
		r.bar = newPhaseBar(r.out, phase, total)
	}
	_ = r.bar.Set64(current)
}

func newPhaseBar(out *os.File, phase worker.Phase, total *int64) *progressbar.ProgressBar {
	description := "Writing"
	if phase == worker.PhaseVerify {
		description = "Verifying"
	}
	// -1 renders an indeterminate spinner for sources of unknown size.
	length := int64(-1)
	if total != nil {
		length = *total
	}
	return progressbar.NewOptions64(length,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(out),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSpinnerType(14),
	)
}

// pause clears the current bar so a log line does not collide with it.
func (r *progressRenderer) pause() {
	if r.bar != nil {
		_ = r.bar.Clear()
	}
}

func (r *progressRenderer) finishBar() {
	if r.bar != nil {
		_ = r.bar.Finish()
		r.bar = nil
	}
}

func (r *progressRenderer) close() {
	r.finishBar()
}
