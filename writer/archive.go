// Package writer batches archive records into parquet files and uploads
// them to S3, partitioned by meter and day.
package writer

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	appconfig "meterflow/config"
	"meterflow/logger"
	"meterflow/models"
)

// memoryFile implements source.ParquetFile over a byte buffer so parquet
// files are assembled in memory before upload.
type memoryFile struct {
	buffer *bytes.Buffer
}

func newMemoryFile() *memoryFile {
	return &memoryFile{buffer: &bytes.Buffer{}}
}

func (mf *memoryFile) Create(name string) (source.ParquetFile, error) { return mf, nil }
func (mf *memoryFile) Open(name string) (source.ParquetFile, error)   { return mf, nil }

func (mf *memoryFile) Seek(offset int64, whence int) (int64, error) {
	// Write-only usage; the parquet writer never seeks backwards here.
	return int64(mf.buffer.Len()), nil
}

func (mf *memoryFile) Read(b []byte) (int, error)  { return mf.buffer.Read(b) }
func (mf *memoryFile) Write(b []byte) (int, error) { return mf.buffer.Write(b) }
func (mf *memoryFile) Close() error                { return nil }
func (mf *memoryFile) Bytes() []byte               { return mf.buffer.Bytes() }

// ArchiveWriter consumes archive records, buffers them per meter, and
// flushes each buffer to S3 as a parquet file on an interval or when the
// buffer grows past the configured cap.
type ArchiveWriter struct {
	config      *appconfig.Config
	records     <-chan models.ArchiveRecord
	s3Client    *s3.Client
	ctx         context.Context
	wg          *sync.WaitGroup
	mu          sync.RWMutex
	running     bool
	log         *logger.Log
	buffer      map[string][]models.ArchiveRecord
	flushTicker *time.Ticker

	// Metrics
	batchesWritten int64
	rowsWritten    int64
	errorsCount    int64
}

// NewArchiveWriter configures the AWS SDK and validates credentials before
// any polling starts, so a misconfigured archive fails fast.
func NewArchiveWriter(cfg *appconfig.Config, records <-chan models.ArchiveRecord) (*ArchiveWriter, error) {
	log := logger.GetLogger()
	ctx := context.Background()

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Storage.S3.Region),
	}
	if cfg.Storage.S3.AccessKeyID != "" && cfg.Storage.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Storage.S3.AccessKeyID,
				cfg.Storage.S3.SecretAccessKey,
				"",
			),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		log.WithComponent("archive_writer").WithError(err).Warn("failed to load AWS configuration")
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	creds, err := awsConfig.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Storage.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.S3.Endpoint)
		}
		o.UsePathStyle = cfg.Storage.S3.PathStyle
	})

	w := &ArchiveWriter{
		config:   cfg,
		records:  records,
		s3Client: s3Client,
		wg:       &sync.WaitGroup{},
		log:      log,
	}

	log.WithComponent("archive_writer").WithFields(logger.Fields{
		"bucket":     cfg.Storage.S3.Bucket,
		"region":     cfg.Storage.S3.Region,
		"endpoint":   cfg.Storage.S3.Endpoint,
		"path_style": cfg.Storage.S3.PathStyle,
	}).Info("archive writer initialized")

	return w, nil
}

func (w *ArchiveWriter) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("archive writer already running")
	}
	w.running = true
	w.ctx = ctx
	w.buffer = make(map[string][]models.ArchiveRecord)
	w.flushTicker = time.NewTicker(w.config.Writer.FlushInterval)
	w.mu.Unlock()

	log := w.log.WithComponent("archive_writer").WithFields(logger.Fields{"operation": "start"})
	log.Info("starting archive writer")

	w.wg.Add(1)
	go w.consumeWorker()

	w.wg.Add(1)
	go w.flushWorker()

	go w.metricsReporter(ctx)

	log.Info("archive writer started")
	return nil
}

func (w *ArchiveWriter) Stop() {
	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	w.log.WithComponent("archive_writer").Info("stopping archive writer")
	w.wg.Wait()
	w.log.WithComponent("archive_writer").Info("archive writer stopped")
}

func (w *ArchiveWriter) consumeWorker() {
	defer w.wg.Done()

	log := w.log.WithComponent("archive_writer").WithFields(logger.Fields{"worker": "consume"})
	log.Info("starting consume worker")

	for {
		select {
		case <-w.ctx.Done():
			log.Info("consume worker stopped due to context cancellation")
			return
		case rec, ok := <-w.records:
			if !ok {
				log.Info("archive channel closed, consume worker stopping")
				return
			}
			w.addRecord(rec)
		}
	}
}

func (w *ArchiveWriter) addRecord(rec models.ArchiveRecord) {
	w.mu.Lock()
	w.buffer[rec.MeterID] = append(w.buffer[rec.MeterID], rec)
	full := len(w.buffer[rec.MeterID]) >= w.config.Writer.MaxBufferedRecords
	var records []models.ArchiveRecord
	if full {
		records = w.buffer[rec.MeterID]
		delete(w.buffer, rec.MeterID)
	}
	w.mu.Unlock()

	if full {
		w.flushMeter(rec.MeterID, records, "buffer_full")
	}
}

func (w *ArchiveWriter) flushWorker() {
	defer w.wg.Done()

	log := w.log.WithComponent("archive_writer").WithFields(logger.Fields{"worker": "flush"})
	log.Info("starting flush worker")

	for {
		select {
		case <-w.ctx.Done():
			w.flushAll("shutdown")
			log.Info("flush worker stopped due to context cancellation")
			return
		case <-w.flushTicker.C:
			w.flushAll("interval")
		}
	}
}

func (w *ArchiveWriter) flushAll(reason string) {
	w.mu.Lock()
	buffers := w.buffer
	w.buffer = make(map[string][]models.ArchiveRecord)
	w.mu.Unlock()

	if len(buffers) == 0 {
		return
	}

	w.log.WithComponent("archive_writer").WithFields(logger.Fields{
		"flushed_buffers": len(buffers),
		"reason":          reason,
	}).Info("flushing buffers")

	for meterID, records := range buffers {
		if len(records) == 0 {
			continue
		}
		w.flushMeter(meterID, records, reason)
	}
}

func (w *ArchiveWriter) flushMeter(meterID string, records []models.ArchiveRecord, reason string) {
	log := w.log.WithComponent("archive_writer").WithFields(logger.Fields{
		"meter_id":     meterID,
		"record_count": len(records),
		"reason":       reason,
	})

	data, err := w.buildParquet(records)
	if err != nil {
		atomic.AddInt64(&w.errorsCount, 1)
		log.WithError(err).Error("failed to build parquet file")
		return
	}

	key := w.objectKey(meterID, time.Now().UTC())
	if err := w.upload(key, data); err != nil {
		atomic.AddInt64(&w.errorsCount, 1)
		log.WithError(err).WithFields(logger.Fields{
			"bucket": w.config.Storage.S3.Bucket,
			"s3_key": key,
		}).Error("failed to upload archive file")
		return
	}

	atomic.AddInt64(&w.batchesWritten, 1)
	atomic.AddInt64(&w.rowsWritten, int64(len(records)))
	log.WithFields(logger.Fields{
		"s3_key":    key,
		"file_size": len(data),
	}).Info("archive file uploaded")
}

func (w *ArchiveWriter) objectKey(meterID string, ts time.Time) string {
	parts := []string{}
	if w.config.Storage.S3.Prefix != "" {
		parts = append(parts, w.config.Storage.S3.Prefix)
	}
	parts = append(parts,
		fmt.Sprintf("meter_id=%s", meterID),
		ts.Format("2006-01-02"),
		fmt.Sprintf("%s.parquet", uuid.New().String()),
	)
	return filepath.ToSlash(filepath.Join(parts...))
}

func (w *ArchiveWriter) buildParquet(records []models.ArchiveRecord) ([]byte, error) {
	mf := newMemoryFile()
	pw, err := writer.NewParquetWriter(mf, new(models.ArchiveRecord), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, rec := range records {
		if err := pw.Write(rec); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet file: %w", err)
	}

	return mf.Bytes(), nil
}

func (w *ArchiveWriter) upload(key string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.config.Storage.S3.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":      "parquet",
			"meterflow-version": w.config.Meterflow.Version,
		},
	}

	// Uploads in flight at shutdown still complete.
	ctx := context.WithoutCancel(w.ctx)
	_, err := w.s3Client.PutObject(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", w.config.Storage.S3.Bucket, err)
	}
	return nil
}

func (w *ArchiveWriter) metricsReporter(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.reportMetrics()
		}
	}
}

func (w *ArchiveWriter) reportMetrics() {
	batchesWritten := atomic.LoadInt64(&w.batchesWritten)
	rowsWritten := atomic.LoadInt64(&w.rowsWritten)
	errorsCount := atomic.LoadInt64(&w.errorsCount)

	w.log.LogMetric("archive_writer", "batches_written", batchesWritten, "counter", logger.Fields{})
	w.log.LogMetric("archive_writer", "rows_written", rowsWritten, "counter", logger.Fields{})
	w.log.LogMetric("archive_writer", "errors_count", errorsCount, "counter", logger.Fields{})

	w.log.WithComponent("archive_writer").WithFields(logger.Fields{
		"batches_written": batchesWritten,
		"rows_written":    rowsWritten,
		"errors_count":    errorsCount,
	}).Debug("archive writer metrics")
}
