// Copyright © 2023 Niko Carpenter <niko@nikocarpenter.com>
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

// Package media converts audio clips into the encoding every client can play.
package media

import (
	"context"
	"encoding/base64"
	"mime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"
)

// Defaults used when a Config field is unset.
const (
	DefaultCanonical = "audio/mpeg"
	DefaultTimeout   = 10 * time.Second
	DefaultWorkers   = 4
)

// ErrConversionTimeout is reported when a conversion doesn't finish in time.
var ErrConversionTimeout = errors.New("conversion timed out")

// Config holds the settings for a Normalizer.
type Config struct {
	// Canonical is the mime type every client can play.
	Canonical string
	// Timeout bounds a conversion, including the wait for a free worker.
	Timeout time.Duration
	// Workers is the number of conversions that may run at once.
	Workers int64
}

// A Normalizer converts clips to the canonical encoding.
// It is safe for concurrent use; at most Config.Workers conversions run at once,
// and callers beyond that wait for a slot.
type Normalizer struct {
	log        *logrus.Logger
	canonical  string
	timeout    time.Duration
	slots      *semaphore.Weighted
	transcoder Transcoder

	conversions atomic.Uint64
	failures    atomic.Uint64
	timeouts    atomic.Uint64
}

// NewNormalizer creates a Normalizer that converts with transcoder.
func NewNormalizer(log *logrus.Logger, transcoder Transcoder, config Config) *Normalizer {
	if config.Canonical == "" {
		config.Canonical = DefaultCanonical
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Workers <= 0 {
		config.Workers = DefaultWorkers
	}
	return &Normalizer{
		log:        log,
		canonical:  baseType(config.Canonical),
		timeout:    config.Timeout,
		slots:      semaphore.NewWeighted(config.Workers),
		transcoder: transcoder,
	}
}

// Canonical gets the canonical mime type.
func (n *Normalizer) Canonical() string {
	return n.canonical
}

// IsCanonical reports whether mimeType needs no conversion.
func (n *Normalizer) IsCanonical(mimeType string) bool {
	return baseType(mimeType) == n.canonical
}

// Normalize converts a base64 payload declared as mimeType to the canonical encoding.
// It never fails: if the payload is already canonical, or conversion fails or times out,
// the payload and mimeType are returned unchanged.
func (n *Normalizer) Normalize(ctx context.Context, payload, mimeType string) (string, string) {
	if n.IsCanonical(mimeType) {
		return payload, mimeType
	}

	ctx, span := otel.Tracer("github.com/n0ot/radiod/pkg/media").Start(ctx, "media.Normalize")
	defer span.End()
	span.SetAttributes(
		attribute.String("media.from", mimeType),
		attribute.String("media.to", n.canonical),
		attribute.Int("media.payload_len", len(payload)),
	)

	out, err := n.convert(ctx, payload, mimeType)
	if err != nil {
		n.failures.Add(1)
		if errors.Cause(err) == ErrConversionTimeout {
			n.timeouts.Add(1)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		n.log.WithFields(logrus.Fields{
			"from":  mimeType,
			"to":    n.canonical,
			"error": err,
		}).Warn("Cannot convert audio; relaying it unconverted")
		return payload, mimeType
	}

	n.conversions.Add(1)
	return out, n.canonical
}

func (n *Normalizer) convert(ctx context.Context, payload, mimeType string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", errors.Wrap(err, "decode audio_data")
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	if err := n.slots.Acquire(ctx, 1); err != nil {
		return "", errors.Wrap(ErrConversionTimeout, "waiting for a worker")
	}
	defer n.slots.Release(1)

	out, err := n.transcoder.Transcode(ctx, data, mimeType, n.canonical)
	if ctx.Err() == context.DeadlineExceeded {
		return "", errors.Wrapf(ErrConversionTimeout, "after %s", n.timeout)
	}
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

// Stats contains conversion counts.
type Stats struct {
	Conversions uint64 `json:"conversions"`
	Failures    uint64 `json:"conversion_failures"`
	Timeouts    uint64 `json:"conversion_timeouts"`
}

// Stats gets conversion counts since the Normalizer was created.
func (n *Normalizer) Stats() Stats {
	return Stats{
		Conversions: n.conversions.Load(),
		Failures:    n.failures.Load(),
		Timeouts:    n.timeouts.Load(),
	}
}

// baseType strips parameters, such as codecs, from a mime type.
func baseType(mimeType string) string {
	if t, _, err := mime.ParseMediaType(mimeType); err == nil {
		return t
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}
