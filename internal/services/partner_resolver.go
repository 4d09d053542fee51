package services

import (
	"bytes"
	"context"
	"encoding/gob"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"quote-funnel-service/internal/metrics"
	"quote-funnel-service/internal/models"
	"quote-funnel-service/internal/redis"
	"quote-funnel-service/internal/repository"
)

const partnerCachePrefix = "partner:resolve:"

// PartnerResolver maps request hostnames to partners
type PartnerResolver struct {
	repo       *repository.PartnerRepository
	cache      redis.Store
	baseDomain string
	ttl        time.Duration
	logger     *logrus.Entry
}

// NewPartnerResolver creates a resolver. cache may be nil.
func NewPartnerResolver(repo *repository.PartnerRepository, cache redis.Store, baseDomain string, ttl time.Duration, logger *logrus.Logger) *PartnerResolver {
	return &PartnerResolver{
		repo:       repo,
		cache:      cache,
		baseDomain: strings.TrimSuffix(strings.ToLower(baseDomain), "."),
		ttl:        ttl,
		logger:     logger.WithField("component", "partner_resolver"),
	}
}

// NormalizeHost strips the port, lowercases and drops a trailing dot
func NormalizeHost(host string) string {
	host = strings.TrimSpace(host)
	// X-Forwarded-Host may carry a list; the first entry is the client's
	if i := strings.Index(host, ","); i >= 0 {
		host = strings.TrimSpace(host[:i])
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	return strings.TrimSuffix(strings.ToLower(host), ".")
}

func isLocalHost(host string) bool {
	if host == "" || host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Resolve returns the partner owning hostname, or nil when none does.
// Datastore errors are returned as errors, never as a partial match.
func (r *PartnerResolver) Resolve(ctx context.Context, hostname string) (*models.Partner, error) {
	host := NormalizeHost(hostname)
	if isLocalHost(host) {
		return nil, nil
	}

	if partner := r.fromCache(ctx, host); partner != nil {
		metrics.PartnerResolutions.WithLabelValues("cache").Inc()
		return partner, nil
	}

	partner, err := r.lookup(ctx, host)
	if err != nil {
		metrics.PartnerResolutions.WithLabelValues("error").Inc()
		return nil, err
	}
	if partner == nil {
		metrics.PartnerResolutions.WithLabelValues("miss").Inc()
		return nil, nil
	}

	metrics.PartnerResolutions.WithLabelValues("db").Inc()
	r.toCache(ctx, host, partner)
	return partner, nil
}

func (r *PartnerResolver) lookup(ctx context.Context, host string) (*models.Partner, error) {
	partner, err := r.repo.GetByCustomDomain(ctx, host)
	if err != nil || partner != nil {
		return partner, err
	}
	if bare := strings.TrimPrefix(host, "www."); bare != host {
		partner, err = r.repo.GetByCustomDomain(ctx, bare)
		if err != nil || partner != nil {
			return partner, err
		}
	}

	subdomain := r.subdomain(host)
	if subdomain == "" {
		return nil, nil
	}
	return r.repo.GetBySubdomain(ctx, subdomain)
}

// subdomain returns the partner label of a platform hostname, or "" when
// host is not under the base domain
func (r *PartnerResolver) subdomain(host string) string {
	if r.baseDomain == "" || !strings.HasSuffix(host, "."+r.baseDomain) {
		return ""
	}
	rest := strings.TrimSuffix(host, "."+r.baseDomain)
	rest = strings.TrimPrefix(rest, "www.")
	if rest == "" || rest == "www" {
		return ""
	}
	if i := strings.Index(rest, "."); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

// Partners are gob encoded because their JSON form hides credentials
func (r *PartnerResolver) fromCache(ctx context.Context, host string) *models.Partner {
	if r.cache == nil {
		return nil
	}
	raw, found, err := r.cache.Get(ctx, partnerCachePrefix+host)
	if err != nil {
		r.logger.WithError(err).Warn("Partner cache read failed")
		return nil
	}
	if !found {
		return nil
	}
	var partner models.Partner
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&partner); err != nil {
		r.logger.WithError(err).Warn("Discarding undecodable cached partner")
		return nil
	}
	return &partner
}

func (r *PartnerResolver) toCache(ctx context.Context, host string, partner *models.Partner) {
	if r.cache == nil || r.ttl <= 0 {
		return
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(partner); err != nil {
		r.logger.WithError(err).Warn("Failed to encode partner for cache")
		return
	}
	if err := r.cache.Set(ctx, partnerCachePrefix+host, buf.Bytes(), r.ttl); err != nil {
		r.logger.WithError(err).Warn("Partner cache write failed")
	}
}
