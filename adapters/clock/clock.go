package clock

import (
	"time"

	"github.com/layer-3/sentry/ports"
)

// Wall is the real clock
type Wall struct{}

func New() ports.Clock { return Wall{} }

func (Wall) Now() time.Time { return time.Now() }

func (Wall) AfterFunc(d time.Duration, f func()) ports.Timer {
	return time.AfterFunc(d, f)
}
