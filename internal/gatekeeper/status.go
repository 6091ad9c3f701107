package gatekeeper

import (
	"net/http"
	"net/netip"
	"time"

	"form-gateway/internal/secevent"
	"form-gateway/middleware/ratelimit"
	"form-gateway/middleware/ratelimit/infra"
	"form-gateway/middleware/reputation"
	"form-gateway/middleware/session"
)

const (
	RouteHealth         = "/api/health"
	RouteSecurityStatus = "/api/security-status"
)

type healthResponse struct {
	Status    string         `json:"status"`
	Timestamp string         `json:"timestamp"`
	Version   string         `json:"version"`
	Security  healthSecurity `json:"security"`
	Config    healthConfig   `json:"config"`
}

type healthSecurity struct {
	ActiveSessions    int  `json:"activeSessions"`
	SuspiciousIPs     int  `json:"suspiciousIPs"`
	RateLimitEnabled  bool `json:"rateLimitEnabled"`
	HoneypotEnabled   bool `json:"honeypotEnabled"`
	SessionManagement bool `json:"sessionManagement"`
}

type healthConfig struct {
	WebhookConfigured bool  `json:"webhookConfigured"`
	APIKeyConfigured  bool  `json:"apiKeyConfigured"`
	SessionDuration   int64 `json:"sessionDuration"`
	MaxLoginAttempts  int   `json:"maxLoginAttempts"`
}

// Health nunca expõe a URL nem a credencial, só se estão configuradas.
func (p *Pipeline) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: p.nowF().UTC().Format(time.RFC3339),
		Version:   p.opts.Version,
		Security: healthSecurity{
			ActiveSessions:    p.deps.Sessions.Len(),
			SuspiciousIPs:     p.deps.Reputation.FlaggedCount(),
			RateLimitEnabled:  p.deps.Limits.General != nil || p.deps.Limits.Submit != nil,
			HoneypotEnabled:   p.opts.HoneypotField != "",
			SessionManagement: true,
		},
		Config: healthConfig{
			WebhookConfigured: p.opts.WebhookConfigured,
			APIKeyConfigured:  p.opts.APIKeyConfigured,
			SessionDuration:   p.deps.Sessions.Duration().Milliseconds(),
			MaxLoginAttempts:  p.deps.Reputation.MaxAttempts(),
		},
	})
}

type securityStatus struct {
	Timestamp      string               `json:"timestamp"`
	ActiveSessions []session.Session    `json:"activeSessions"`
	TotalSessions  int                  `json:"totalSessions"`
	SuspiciousIPs  []string             `json:"suspiciousIPs"`
	Reputation     []reputation.Record  `json:"reputation"`
	RateLimit      *rateLimitStatus     `json:"rateLimit,omitempty"`
	Cluster        *infra.StatsSnapshot `json:"cluster,omitempty"`
	InFlight       int64                `json:"inFlight"`
}

type rateLimitStatus struct {
	Total  infra.Counters            `json:"total"`
	ByTier map[string]infra.Counters `json:"byTier"`
}

// SecurityStatus lista sessões (sem token) e IPs marcados. Só para ADMIN_IPS.
func (p *Pipeline) SecurityStatus(w http.ResponseWriter, r *http.Request) {
	ip := ratelimit.ClientIP(r, p.opts.TrustedHops)
	if !p.isAdmin(r, ip) {
		p.deps.Events.Emit(secevent.Event{Kind: secevent.KindAdminDenied, IP: ip, Route: RouteSecurityStatus, UserAgent: r.UserAgent()})
		writeJSON(w, http.StatusForbidden, errorBody{Error: msgAccessDenied})
		return
	}

	sessions := p.deps.Sessions.Snapshot()
	st := securityStatus{
		Timestamp:      p.nowF().UTC().Format(time.RFC3339),
		ActiveSessions: sessions,
		TotalSessions:  len(sessions),
		SuspiciousIPs:  p.deps.Reputation.Flagged(),
		Reputation:     p.deps.Reputation.Snapshot(),
	}
	if p.deps.StatsReader != nil {
		st.RateLimit = &rateLimitStatus{
			Total:  p.deps.StatsReader.Total(),
			ByTier: p.deps.StatsReader.ByTier(),
		}
	}
	if p.deps.SharedStats != nil {
		snap, err := p.deps.SharedStats.Snapshot(r.Context())
		if err != nil {
			p.deps.Log.WithError(err).Warn("shared rate stats unavailable")
		} else {
			st.Cluster = &snap
		}
	}
	if p.deps.InFlight != nil {
		st.InFlight = p.deps.InFlight()
	}
	writeJSON(w, http.StatusOK, st)
}

// isAdmin exige o IP resolvido em ADMIN_IPS. Quando ele veio do
// X-Forwarded-For, o par da conexão também precisa ser um proxy local ou da
// rede privada; um cliente direto não se promove a admin pelo header.
func (p *Pipeline) isAdmin(r *http.Request, ip string) bool {
	if _, ok := p.admin[ip]; !ok {
		return false
	}
	peer := ratelimit.ClientIP(r, 0)
	if peer == ip {
		return true
	}
	addr, err := netip.ParseAddr(peer)
	return err == nil && (addr.IsLoopback() || addr.IsPrivate())
}
