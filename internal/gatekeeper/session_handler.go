package gatekeeper

import (
	"net/http"

	"form-gateway/internal/secevent"
	"form-gateway/middleware/ratelimit"
	"form-gateway/middleware/ratelimit/domain"
)

const RouteSession = "/api/create-session"

type sessionResponse struct {
	Success      bool   `json:"success"`
	SessionToken string `json:"sessionToken"`
	// ExpiresIn em milissegundos, como o cliente do formulário espera.
	ExpiresIn int64  `json:"expiresIn"`
	Message   string `json:"message"`
}

// IssueSession emite um token novo para o navegador.
func (p *Pipeline) IssueSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	f := &flow{
		route:     RouteSession,
		ip:        ratelimit.ClientIP(r, p.opts.TrustedHops),
		userAgent: r.UserAgent(),
		reached:   Received,
	}

	if rej := p.checkIP(f); rej != nil {
		writeRejection(w, rej, domain.Decision{}, "")
		p.finish(ctx, f, rej)
		return
	}
	rej, dec := p.checkRate(ctx, f, r.Method,
		tier{"general", p.deps.Limits.General},
		tier{"session", p.deps.Limits.Session},
	)
	if rej != nil {
		writeRejection(w, rej, dec, "")
		p.finish(ctx, f, rej)
		return
	}
	ratelimit.WriteDecisionHeaders(w.Header(), dec)

	sess, err := p.deps.Sessions.Issue(f.ip, f.userAgent)
	if err != nil {
		rej := &Rejection{Class: ClassServiceUnavailable, Status: http.StatusServiceUnavailable, Message: msgInternal, Err: err}
		writeRejection(w, rej, domain.Decision{}, "")
		p.finish(ctx, f, rej)
		return
	}
	f.sessionID = sess.ID
	p.deps.Metrics.SessionIssued(ctx)
	p.emit(f, secevent.KindSessionIssued, "")

	writeJSON(w, http.StatusOK, sessionResponse{
		Success:      true,
		SessionToken: sess.Token,
		ExpiresIn:    p.deps.Sessions.Duration().Milliseconds(),
		Message:      "Session created successfully",
	})
	p.finish(ctx, f, nil)
}
