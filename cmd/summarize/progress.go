package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/ineyio/summarizer"
)

// countdown prints backoff waits as a single line rewritten every second.
type countdown struct {
	w     io.Writer
	label *color.Color
	info  summarizer.WaitInfo
}

var _ summarizer.Progress = (*countdown)(nil)

func newCountdown(w io.Writer) *countdown {
	return &countdown{w: w, label: color.New(color.FgYellow)}
}

func (c *countdown) WaitStarted(info summarizer.WaitInfo) {
	c.info = info
	c.print(info.Duration)
}

func (c *countdown) WaitTick(remaining time.Duration) {
	c.print(remaining)
}

func (c *countdown) WaitDone() {
	fmt.Fprint(c.w, "\r\033[K")
}

func (c *countdown) print(remaining time.Duration) {
	fmt.Fprintf(c.w, "\r\033[K%s %s on %s, retry %d/%d in %ds",
		c.label.Sprint("⏳"),
		c.info.TaskName,
		c.info.Tier,
		c.info.Retry,
		c.info.MaxRetries,
		int(remaining.Round(time.Second)/time.Second),
	)
}
