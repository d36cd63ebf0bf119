// internal/ocr/extractor.go
package ocr

import (
	"context"
	"time"

	"go.uber.org/zap"

	"verification-service/internal/domain"
	"verification-service/pkg/xerrors"
)

// Extractor turns a stored receipt image into text.
type Extractor struct {
	storage *StorageClient
	ocr     *Client
	timeout time.Duration
	logger  *zap.Logger
}

func NewExtractor(storage *StorageClient, ocr *Client, timeout time.Duration, logger *zap.Logger) *Extractor {
	return &Extractor{
		storage: storage,
		ocr:     ocr,
		timeout: timeout,
		logger:  logger,
	}
}

// ExtractText fetches imageRef and runs OCR on it. Every failure is
// transient: the job is retried rather than parsed as empty text.
func (e *Extractor) ExtractText(ctx context.Context, imageRef string) (*domain.OCRResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	data, err := e.storage.Fetch(ctx, imageRef)
	if err != nil {
		return nil, xerrors.Transient("fetch receipt image", err)
	}

	img, contentType, err := Preprocess(data)
	if err != nil {
		e.logger.Warn("preprocess failed, sending original image",
			zap.String("path", imageRef),
			zap.Error(err))
		img = data
	}

	res, err := e.ocr.Recognize(ctx, img, contentType)
	if err != nil {
		return nil, xerrors.Transient("recognize receipt text", err)
	}

	e.logger.Info("receipt text extracted",
		zap.String("path", imageRef),
		zap.Float64("confidence", res.Confidence))

	return res, nil
}
