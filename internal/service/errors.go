package service

import "errors"

var (
	// ErrNotFound means the subject has no knowledge yet. Distinct from a
	// known subject with zero confidence.
	ErrNotFound = errors.New("subject not found")

	// ErrBusy is returned when ingestion is attempted during an active
	// rollback. Transient; callers may retry.
	ErrBusy = errors.New("engine busy: rollback in progress")

	// ErrGated means a prediction was refused because the subject's
	// evidence completion has not reached the configured gate.
	ErrGated = errors.New("prediction gated by completion threshold")

	// ErrPromotionDenied means predicted knowledge has not accumulated
	// enough independent validations to promote.
	ErrPromotionDenied = errors.New("promotion denied: insufficient validations")

	// ErrReflecting means a reflection cycle is already running.
	ErrReflecting = errors.New("reflection already in progress")

	// ErrIntegrity means a checkpoint or journal failed verification during
	// restore. The live state is left untouched.
	ErrIntegrity = errors.New("restore integrity check failed")
)
