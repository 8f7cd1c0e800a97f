package capture

import (
	"time"

	"github.com/banshee-data/lidarcap/internal/lidar/vlp16"
	"github.com/banshee-data/lidarcap/internal/monitoring"
)

// PreviewDecoder is the external decoding boundary used by live mode. An
// error means the payload is not parseable telemetry; the datagram is simply
// skipped.
type PreviewDecoder interface {
	Decode(ts time.Time, payload []byte) (*vlp16.PointBatch, error)
}

// previewLogEvery throttles per-batch logging at sensor packet rates.
const previewLogEvery = 1000

// PreviewConsumer is the live-mode queue consumer: it decodes each datagram
// to confirm the stream is healthy and logs point counts. Decode failures are
// recoverable and never terminate the session.
type PreviewConsumer struct {
	decoder  PreviewDecoder
	batches  uint64
	points   uint64
	failures uint64
}

// NewPreviewConsumer creates a PreviewConsumer around the given decoder.
func NewPreviewConsumer(decoder PreviewDecoder) *PreviewConsumer {
	return &PreviewConsumer{decoder: decoder}
}

// Run drains the queue until it is closed, decoding as it goes.
func (p *PreviewConsumer) Run(queue *Queue) error {
	for {
		d, ok := queue.Pop()
		if !ok {
			return nil
		}
		batch, err := p.decoder.Decode(d.Timestamp, d.Payload)
		if err != nil {
			p.failures++
			if p.failures == 1 || p.failures%previewLogEvery == 0 {
				monitoring.Logf("preview: undecodable datagram (%d so far): %v", p.failures, err)
			}
			continue
		}
		p.batches++
		p.points += uint64(len(batch.Points))
		if p.batches == 1 || p.batches%previewLogEvery == 0 {
			monitoring.Logf("preview: %s batch at %s with %d points (%d batches, %d points total)",
				vlp16.ReturnModeName(batch.ReturnMode),
				batch.Timestamp.Format("15:04:05.000000"),
				len(batch.Points), p.batches, p.points)
		}
	}
}

// Batches returns how many datagrams decoded successfully.
func (p *PreviewConsumer) Batches() uint64 { return p.batches }

// Failures returns how many datagrams failed to decode.
func (p *PreviewConsumer) Failures() uint64 { return p.failures }

// Close logs the preview summary.
func (p *PreviewConsumer) Close() error {
	monitoring.Logf("preview finished: %d batches, %d points, %d undecodable datagrams",
		p.batches, p.points, p.failures)
	return nil
}
