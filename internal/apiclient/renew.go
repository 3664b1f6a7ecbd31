package apiclient

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Renew exchanges the refresh cookie for a new access cookie.
//
// Concurrent callers share a single in-flight attempt and its result. An
// attempt starting within the cooldown of the previous attempt's start
// makes no network call and succeeds, unless ReplayFailedRenewal is set and
// the previous attempt failed. On failure the navigator is sent to the
// login screen unless it is already on a public screen.
func (c *Client) Renew(ctx context.Context) error {
	// The shared attempt must not die with whichever caller happened to
	// start it.
	opCtx := context.WithoutCancel(ctx)

	executed := false
	_, err, _ := c.flight.Do(renewKey, func() (any, error) {
		executed = true
		return nil, c.renew(opCtx)
	})
	if !executed {
		c.metrics.renewal("shared")
	}
	return err
}

func (c *Client) renew(ctx context.Context) error {
	start := c.now()

	c.mu.Lock()
	if c.cooldown > 0 && !c.lastRenewal.IsZero() && start.Sub(c.lastRenewal) < c.cooldown {
		prev := c.lastRenewErr
		c.mu.Unlock()

		c.metrics.renewal("skipped")
		if c.replayFailed && prev != nil {
			return prev
		}
		return nil
	}
	c.lastRenewal = start
	c.mu.Unlock()

	err := c.refresh(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrRenewalFailed, err)
	}

	c.mu.Lock()
	c.lastRenewErr = err
	c.mu.Unlock()

	if err == nil {
		c.metrics.renewal("success")
		c.log.Debug("apiclient.renew.ok")
		return nil
	}

	c.metrics.renewal("failure")

	nav := navigatorFrom(ctx, c.nav)
	redirected := false
	if nav != nil && !IsPublicPath(nav.CurrentPath()) {
		nav.Navigate(LoginPath)
		redirected = true
	}
	c.log.Warn("apiclient.renew.failed", "err", err, "redirected", redirected)
	return err
}

// refresh performs the renewal call directly on the HTTP client so that a
// 401 from the refresh endpoint is never fed back into renewal.
func (c *Client) refresh(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "apiclient renew",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("apiclient.path", renewPath)),
	)
	defer span.End()

	target, err := c.endpoint(renewPath)
	if err != nil {
		return err
	}
	hr, err := http.NewRequestWithContext(ctx, http.MethodPost, target, nil)
	if err != nil {
		return err
	}
	hr.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(hr)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		return err
	}
	c.observe(resp)
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if err := c.decode(resp, nil); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}
