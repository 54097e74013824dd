package main

import (
	"context"
	"sync"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/himanishpuri/AcousticSync/pkg/acousticsync"
)

const refreshInterval = 100 * time.Millisecond

// trackClips renders one bar per clip until every clip is done or ctx
// ends. The bar follows whichever phase the clip is in.
func trackClips(ctx context.Context, clips []*acousticsync.Clip) error {
	p := mpb.New(mpb.WithWidth(48), mpb.WithRefreshRate(refreshInterval))

	var wg sync.WaitGroup
	for _, c := range clips {
		c := c
		label := c.Name()
		if c.IsMaster() {
			label += " (master)"
		}
		bar := p.AddBar(0,
			mpb.PrependDecorators(
				decor.Name(label, decor.WC{C: decor.DindentRight | decor.DextraSpace}),
				decor.Any(func(decor.Statistics) string {
					return c.Progress().Phase.String()
				}, decor.WCSyncSpaceR),
			),
			mpb.AppendDecorators(
				decor.OnCompleteOrOnAbort(decor.Percentage(decor.WC{W: 5}), ""),
				decor.Any(func(decor.Statistics) string {
					return outcome(c)
				}),
			),
		)

		wg.Add(1)
		go func() {
			defer wg.Done()
			follow(ctx, c, bar)
		}()
	}

	wg.Wait()
	p.Wait()
	return ctx.Err()
}

func follow(ctx context.Context, c *acousticsync.Clip, bar *mpb.Bar) {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.Done():
			update(c, bar)
			if c.State() == acousticsync.StateMatched || c.State() == acousticsync.StateHashed {
				bar.SetTotal(-1, true)
			} else {
				bar.Abort(false)
			}
			return
		case <-ctx.Done():
			bar.Abort(false)
			return
		case <-ticker.C:
			update(c, bar)
		}
	}
}

func update(c *acousticsync.Clip, bar *mpb.Bar) {
	pr := c.Progress()
	if pr.Max > 0 {
		bar.SetTotal(int64(pr.Max), false)
	}
	bar.SetCurrent(int64(pr.Value))
}

func outcome(c *acousticsync.Clip) string {
	select {
	case <-c.Done():
	default:
		return ""
	}
	switch c.State() {
	case acousticsync.StateMatched:
		return "✅ " + formatOffset(c.Offset())
	case acousticsync.StateHashed:
		return "✅"
	case acousticsync.StateFailed:
		return "❌ failed"
	default:
		return "⏹ " + c.State().String()
	}
}
