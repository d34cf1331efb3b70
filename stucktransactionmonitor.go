package xodus

import (
	"context"
	log "log/slog"
	"time"
)

// StuckTransactionMonitor periodically scans an Environment's live
// transactions and logs any whose age exceeds the configured timeout, along
// with the stack captured at its begin. It never aborts a transaction; it
// only reports.
type StuckTransactionMonitor struct {
	set     *TransactionSet
	timeout time.Duration
	period  time.Duration
	cancel  context.CancelFunc
	done    chan struct{}
}

// startStuckTransactionMonitor spawns the monitor's scan loop and returns a
// handle whose stop() blocks until the loop has exited. It is only called
// from Environment.Activate, never from a constructor, so a transaction
// timeout of zero (the default) never spins up a goroutine.
func startStuckTransactionMonitor(set *TransactionSet, timeout time.Duration) *StuckTransactionMonitor {
	period := timeout / 4
	if period < time.Second {
		period = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &StuckTransactionMonitor{
		set:     set,
		timeout: timeout,
		period:  period,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go m.loop(ctx)
	return m
}

func (m *StuckTransactionMonitor) loop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.scan()
		}
	}
}

func (m *StuckTransactionMonitor) scan() {
	now := time.Now()
	for _, txn := range m.set.Live() {
		age := now.Sub(txn.created)
		if age > m.timeout {
			log.Warn("transaction exceeded timeout",
				"id", txn.id.String(),
				"age", age,
				"stack", string(txn.creatingStack))
		}
	}
}

// stop signals the loop to exit and waits for it to finish.
func (m *StuckTransactionMonitor) stop() {
	m.cancel()
	<-m.done
}
