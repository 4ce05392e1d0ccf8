package offer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"offerflow/document"
	"offerflow/notify"
	"offerflow/verification"
)

const (
	MessageVerifiedActive = "Identity document verified and offer is active."
	MessageActiveReview   = "Offer is active; identity details were flagged for owner review."
	MessagePendingReview  = "Document uploaded, pending review."
)

// UploadDocument stores the buyer's identity document, scans it and, when the
// scan succeeds, activates the offer. A failed or slow scan leaves the offer in
// PENDING_DOCUMENT with the document recorded.
func (s *Service) UploadDocument(ctx context.Context, params UploadParams) (UploadResult, error) {
	o, err := s.store.GetOffer(ctx, params.OfferID)
	if err != nil {
		return UploadResult{}, err
	}
	if params.Actor.UserID == "" || params.Actor.UserID != o.BuyerID {
		return UploadResult{}, fmt.Errorf("%w: only the buyer can upload a document", ErrForbidden)
	}

	o, err = s.expireIfDue(ctx, o)
	if err != nil {
		return UploadResult{}, err
	}
	if o.Status != StatusPendingDocument {
		return UploadResult{}, invalidState("upload a document for", o.Status)
	}

	if _, err := document.DetectType(params.Data); err != nil {
		return UploadResult{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	p, err := s.loadProperty(ctx, o.PropertyID)
	if err != nil {
		return UploadResult{}, err
	}

	scope := fmt.Sprintf("properties/%s/offers/%s", o.PropertyID, o.ID)
	stored, err := s.documents.Put(ctx, scope, params.Data)
	if err != nil {
		s.metrics.IncrementCounter("document_uploads", map[string]string{"outcome": "failed"})
		s.logger.Error("document store failed", zap.String("offer_id", o.ID), zap.Error(err))
		return UploadResult{}, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	s.metrics.IncrementCounter("document_uploads", map[string]string{"outcome": "stored"})

	report := s.scan(ctx, o.ID, stored.PrivatePath)
	needsReview := report.NeedsReview(s.cfg.MinConfidence)

	identity := &Identity{
		DocumentURL:  stored.Reference,
		DocumentPath: stored.PrivatePath,
		UploadedAt:   s.now(),
	}
	next := StatusPendingDocument
	var msgs []notify.Message
	// OCR fields stay empty until a scan succeeds.
	if report.OCRSucceeded {
		conf, processed := report.Confidence, report.ProcessedAt
		identity.Fields = report.Fields
		identity.OCRConfidence = &conf
		identity.OCRProcessedAt = &processed
		next = StatusActive
		msgs = append(msgs, s.ownerMessage(notify.TemplateIdentitySubmitted, o, p, identitySummary(report, needsReview)))
	}

	updated, err := s.store.UpdateOffer(ctx, o.ID, StatusPendingDocument, Patch{
		Status:   next,
		Identity: identity,
		ActorID:  params.Actor.UserID,
		At:       s.now(),
	}, msgs...)
	if err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			s.logger.Warn("offer changed during document upload",
				zap.String("offer_id", o.ID),
				zap.String("status", string(conflict.Actual)),
				zap.String("document_path", stored.PrivatePath))
		}
		return UploadResult{}, err
	}

	result := UploadResult{Offer: updated, Report: report, NeedsReview: needsReview}
	switch {
	case !report.OCRSucceeded:
		result.Message = MessagePendingReview
	case needsReview:
		result.Message = MessageActiveReview
	default:
		result.Message = MessageVerifiedActive
	}

	s.logger.Info("identity document processed",
		zap.String("offer_id", o.ID),
		zap.String("status", string(updated.Status)),
		zap.Bool("ocr_succeeded", report.OCRSucceeded),
		zap.Float64("confidence", report.Confidence))

	return result, nil
}

// scan runs OCR against a signed link to the stored document. Any failure is
// folded into the report.
func (s *Service) scan(ctx context.Context, offerID, privatePath string) verification.Report {
	link, _, err := s.signer.SignedURL(privatePath, document.MaxSignedURLTTL)
	if err != nil {
		s.logger.Error("sign document link", zap.String("offer_id", offerID), zap.Error(err))
		return verification.FailedReport(err, s.now())
	}

	scanCtx, cancel := context.WithTimeout(ctx, s.cfg.OCRTimeout)
	defer cancel()

	started := time.Now()
	res, err := s.scanner.Scan(scanCtx, link)
	s.metrics.ObserveLatency("ocr_scan", time.Since(started))
	if err != nil {
		s.metrics.IncrementCounter("ocr_scans", map[string]string{"outcome": "failed"})
		s.logger.Warn("ocr scan failed", zap.String("offer_id", offerID), zap.Error(err))
		return verification.FailedReport(err, s.now())
	}

	s.metrics.IncrementCounter("ocr_scans", map[string]string{"outcome": "succeeded"})
	return verification.Evaluate(res, s.now())
}
