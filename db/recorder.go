package db

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// RecorderConfig controls batching of detection writes.
type RecorderConfig struct {
	BatchSize     int           `yaml:"batch_size" json:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval" json:"flush_interval"`
	MaxRetries    int           `yaml:"max_retries" json:"max_retries"`
}

// DetectionStore persists batches of detection records.
type DetectionStore interface {
	SaveDetections(records []DetectionRecord) error
}

// RecorderStats counts what the recorder has done so far.
type RecorderStats struct {
	Recorded  int64     `json:"recorded"`
	Failed    int64     `json:"failed"`
	Batches   int64     `json:"batches"`
	LastFlush time.Time `json:"last_flush"`
}

// DetectionRecorder buffers detection records and writes them in batches,
// keeping sqlite out of the frame hot path.
type DetectionRecorder struct {
	config RecorderConfig
	store  DetectionStore
	logger *zap.Logger

	buffer     []DetectionRecord
	bufferLock sync.Mutex

	flushChan chan struct{}
	stopChan  chan struct{}
	wg        sync.WaitGroup

	stats     RecorderStats
	statsLock sync.RWMutex
}

// NewDetectionRecorder creates a recorder writing to store.
func NewDetectionRecorder(config RecorderConfig, store DetectionStore, logger *zap.Logger) *DetectionRecorder {
	if config.BatchSize == 0 {
		config.BatchSize = 64
	}
	if config.FlushInterval == 0 {
		config.FlushInterval = 2 * time.Second
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DetectionRecorder{
		config:    config,
		store:     store,
		logger:    logger,
		buffer:    make([]DetectionRecord, 0, config.BatchSize),
		flushChan: make(chan struct{}, 1),
		stopChan:  make(chan struct{}),
	}
}

// Start launches the background flush loop.
func (r *DetectionRecorder) Start() {
	r.wg.Add(1)
	go r.run()
}

// Stop flushes whatever is buffered and stops the loop.
func (r *DetectionRecorder) Stop() {
	close(r.stopChan)
	r.wg.Wait()
	if err := r.flush(); err != nil {
		r.logger.Error("final detection flush failed", zap.Error(err))
	}
}

// Record buffers one detection. The write happens later, on the flush loop.
func (r *DetectionRecorder) Record(rec DetectionRecord) {
	r.bufferLock.Lock()
	r.buffer = append(r.buffer, rec)
	full := len(r.buffer) >= r.config.BatchSize
	r.bufferLock.Unlock()

	r.statsLock.Lock()
	r.stats.Recorded++
	r.statsLock.Unlock()

	if full {
		select {
		case r.flushChan <- struct{}{}:
		default:
		}
	}
}

// Flush writes out everything buffered right now. Session-end paths use
// it so final counters are current before the summary query.
func (r *DetectionRecorder) Flush() error {
	return r.flush()
}

// Stats returns a copy of the recorder counters.
func (r *DetectionRecorder) Stats() RecorderStats {
	r.statsLock.RLock()
	defer r.statsLock.RUnlock()
	return r.stats
}

func (r *DetectionRecorder) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChan:
			return
		case <-r.flushChan:
		case <-ticker.C:
		}
		if err := r.flush(); err != nil {
			r.logger.Error("detection flush failed", zap.Error(err))
		}
	}
}

// flush swaps the buffer out and writes it with retries. A batch that
// still fails after the last retry is dropped and counted as failed.
func (r *DetectionRecorder) flush() error {
	r.bufferLock.Lock()
	batch := r.buffer
	r.buffer = make([]DetectionRecord, 0, r.config.BatchSize)
	r.bufferLock.Unlock()

	if len(batch) == 0 {
		return nil
	}

	var err error
	for retry := 0; retry < r.config.MaxRetries; retry++ {
		if err = r.store.SaveDetections(batch); err == nil {
			break
		}
		if retry < r.config.MaxRetries-1 {
			time.Sleep(time.Duration(retry+1) * 100 * time.Millisecond)
		}
	}
	if err != nil {
		r.statsLock.Lock()
		r.stats.Failed += int64(len(batch))
		r.statsLock.Unlock()
		return err
	}

	r.statsLock.Lock()
	r.stats.Batches++
	r.stats.LastFlush = time.Now()
	r.statsLock.Unlock()

	r.logger.Debug("flushed detections", zap.Int("count", len(batch)))
	return nil
}
