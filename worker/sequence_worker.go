package worker

import (
	"context"
	"errors"
	"log"
	"time"

	"leadpilot/sequence"
)

// SequenceWorker triggers the batch processor on a fixed interval so the
// drip schedule keeps moving even when no external scheduler hits the run
// endpoint.
type SequenceWorker struct {
	Processor *sequence.Processor
	Logger    *log.Logger
	Interval  time.Duration
}

func NewSequenceWorker(processor *sequence.Processor, interval time.Duration, logger *log.Logger) *SequenceWorker {
	return &SequenceWorker{
		Processor: processor,
		Logger:    logger,
		Interval:  interval,
	}
}

func (sw *SequenceWorker) Start(ctx context.Context) {
	// Initial delay to let the server start up
	time.Sleep(10 * time.Second)

	sw.Logger.Println("Sequence worker started")

	ticker := time.NewTicker(sw.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sw.Logger.Println("Sequence worker shutting down...")
			return
		case <-ticker.C:
			sw.runOnce(ctx)
		}
	}
}

func (sw *SequenceWorker) runOnce(ctx context.Context) {
	result, err := sw.Processor.Run(ctx)
	if err != nil {
		if errors.Is(err, sequence.ErrRunInProgress) {
			sw.Logger.Println("Skipping scheduled run: another run is in progress")
			return
		}
		sw.Logger.Printf("Scheduled sequence run failed to start: %v", err)
		return
	}
	sw.Logger.Printf("Scheduled run %s finished: sent=%d skipped=%d completed=%d unenrolled=%d errors=%d",
		result.RunID, result.Sent, result.Skipped, result.Completed, result.Unenrolled, len(result.Errors))
}
