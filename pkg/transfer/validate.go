package transfer

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/transloadr/transloader/pkg/logx"
	"github.com/transloadr/transloader/pkg/transfer/engine"
)

// Resolver resolves hostnames to IPs. *net.Resolver satisfies it; tests
// inject a fake.
type Resolver interface {
	LookupIP(ctx context.Context, network, host string) ([]net.IP, error)
}

// Validator runs the once-per-job admission checks: scheme allow-list,
// address blocking for web URLs, an optional size probe, and primary
// engine availability for magnet sources. Every rejection is permanent.
type Validator struct {
	resolver    Resolver
	selector    *engine.Selector
	httpClient  *http.Client
	maxFileSize int64
}

// NewValidator wires a validator. httpClient may be nil to skip the size
// probe; maxFileSize <= 0 disables the size check.
func NewValidator(resolver Resolver, selector *engine.Selector, httpClient *http.Client, maxFileSize int64) *Validator {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &Validator{
		resolver:    resolver,
		selector:    selector,
		httpClient:  httpClient,
		maxFileSize: maxFileSize,
	}
}

// Validate checks a source reference before any fetch work happens.
func (v *Validator) Validate(ctx context.Context, source string) error {
	if engine.IsMagnet(source) {
		// Magnet links bypass address checks (peers are not dialed from
		// this process) but hard-require the primary engine.
		if err := v.selector.PrimaryAvailable(ctx); err != nil {
			return engine.Errors().NewWithCause(engine.ErrPrimaryRequired, err)
		}
		return nil
	}

	u, err := url.Parse(source)
	if err != nil {
		return transferErrors.NewWithCause(ErrInvalidSource, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return transferErrors.New(ErrSchemeBlocked).WithDetail("scheme", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return transferErrors.New(ErrInvalidSource).WithDetail("source", source)
	}

	ips, err := v.resolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return transferErrors.NewWithCause(ErrInvalidSource, err).WithDetail("host", host)
	}
	for _, ip := range ips {
		if BlockedIP(ip) {
			return transferErrors.New(ErrAddressBlocked).
				WithDetail("host", host).
				WithDetail("ip", ip.String())
		}
	}

	return v.probeSize(ctx, source)
}

// probeSize issues a HEAD request and rejects sources that declare a size
// over the limit. An unreachable or HEAD-less origin is not a rejection;
// the streaming engine enforces the limit again during transfer.
func (v *Validator) probeSize(ctx context.Context, source string) error {
	if v.httpClient == nil || v.maxFileSize <= 0 {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, source, nil)
	if err != nil {
		return nil
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		logx.WithError(err).WithField("source", source).Debug("transfer: size probe skipped")
		return nil
	}
	defer resp.Body.Close()

	if resp.ContentLength > v.maxFileSize {
		return transferErrors.New(ErrSourceTooLarge).
			WithDetail("content_length", resp.ContentLength).
			WithDetail("limit", v.maxFileSize)
	}
	return nil
}

// BlockedIP reports whether dialing ip would reach non-public address
// space: loopback, RFC1918 private, link-local, multicast or unspecified.
func BlockedIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsMulticast() ||
		ip.IsUnspecified()
}
