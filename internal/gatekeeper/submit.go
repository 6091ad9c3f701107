package gatekeeper

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"form-gateway/internal/clientinfo"
	"form-gateway/internal/delivery"
	"form-gateway/internal/sanitize"
	"form-gateway/internal/secevent"
	"form-gateway/middleware/ratelimit"
	"form-gateway/middleware/ratelimit/domain"
	"form-gateway/middleware/session"
)

const RouteSubmit = "/api/submit-form"

type submitResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	RequestID string `json:"requestId"`
}

// SubmitForm recebe o formulário e entrega ao webhook.
func (p *Pipeline) SubmitForm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	f := &flow{
		route:     RouteSubmit,
		ip:        ratelimit.ClientIP(r, p.opts.TrustedHops),
		userAgent: r.UserAgent(),
		reached:   Received,
	}

	dec, rej := p.submit(w, r, f)
	if rej != nil {
		writeRejection(w, rej, dec, f.requestID)
		p.finish(ctx, f, rej)
		return
	}

	writeJSON(w, http.StatusOK, submitResponse{
		Success:   true,
		Message:   "Form submitted successfully",
		RequestID: f.requestID,
	})
	p.finish(ctx, f, nil)
}

func (p *Pipeline) submit(w http.ResponseWriter, r *http.Request, f *flow) (domain.Decision, *Rejection) {
	ctx := r.Context()

	if rej := p.checkIP(f); rej != nil {
		return domain.Decision{}, rej
	}

	tiers := []tier{{"general", p.deps.Limits.General}}
	if !(p.opts.Development && isLoopback(f.ip)) {
		tiers = append(tiers, tier{"submit", p.deps.Limits.Submit})
	}
	rej, dec := p.checkRate(ctx, f, r.Method, tiers...)
	if rej != nil {
		return dec, rej
	}
	ratelimit.WriteDecisionHeaders(w.Header(), dec)

	fields, rej := p.readBody(w, r)
	if rej != nil {
		return domain.Decision{}, rej
	}

	if honeypotFilled(fields[p.opts.HoneypotField]) {
		p.deps.Reputation.Flag(f.ip)
		p.deps.Reputation.RecordAttempt(f.ip)
		p.emit(f, secevent.KindHoneypot, p.opts.HoneypotField)
		return p.disguised(), tooManyRequests(p.deps.Limits.SubmitWindow)
	}
	if p.opts.BlockBots && clientinfo.ParseDevice(f.userAgent).Bot {
		p.deps.Reputation.RecordAttempt(f.ip)
		p.emit(f, secevent.KindBotBlocked, f.userAgent)
		return p.disguised(), tooManyRequests(p.deps.Limits.SubmitWindow)
	}
	f.advance(HoneypotChecked)

	sess, err := p.deps.Sessions.Validate(session.TokenFromRequest(r))
	switch {
	case err == nil:
	case errors.Is(err, session.ErrRequestLimit):
		f.sessionID = sess.ID
		p.emit(f, secevent.KindSessionLimit, fmt.Sprintf("requests=%d", sess.RequestCount))
		return domain.Decision{}, &Rejection{
			Class:   ClassTooManyRequests,
			Status:  http.StatusTooManyRequests,
			Message: msgSessionExhausted,
			Err:     err,
		}
	default:
		p.emit(f, secevent.KindSessionRejected, err.Error())
		msg := msgSessionInvalid
		if session.TokenFromRequest(r) == "" {
			msg = msgSessionRequired
		}
		return domain.Decision{}, unauthorized(msg, err)
	}
	f.sessionID = sess.ID
	f.advance(SessionValidated)

	clean := sanitize.Fields(fields, p.opts.HoneypotField)
	f.advance(Sanitized)

	valid, err := p.opts.Rules.Validate(clean)
	if err != nil {
		var ve *sanitize.ValidationError
		details := []string(nil)
		if errors.As(err, &ve) {
			details = ve.Fields
		}
		p.emit(f, secevent.KindValidationFailed, err.Error())
		return domain.Decision{}, badRequest(http.StatusBadRequest, err.Error(), details, err)
	}
	f.advance(Validated)

	f.requestID = p.newID()
	sub := delivery.Submission{
		Fields:    valid,
		RequestID: f.requestID,
		At:        p.nowF(),
		SessionID: sess.ID,
		IP:        f.ip,
		UserAgent: f.userAgent,
		Country:   p.country(f.ip),
	}
	f.advance(Delivering)

	res, err := p.deps.Deliverer.Deliver(ctx, sub)
	if err != nil {
		var cr *delivery.ClientRejectedError
		if errors.As(err, &cr) {
			p.emit(f, secevent.KindDeliveryRejected, fmt.Sprintf("status=%d", cr.Status))
			return domain.Decision{}, &Rejection{
				Class:   ClassClientRejected,
				Status:  cr.Status,
				Message: msgClientRejected,
				Err:     err,
			}
		}
		p.emit(f, secevent.KindDeliveryFailed, err.Error())
		return domain.Decision{}, &Rejection{
			Class:   ClassServiceUnavailable,
			Status:  http.StatusServiceUnavailable,
			Message: msgUnavailable,
			Err:     err,
		}
	}
	p.emit(f, secevent.KindDelivered, fmt.Sprintf("attempts=%d", res.Attempts))
	return domain.Decision{}, nil
}

// disguised monta a decisão que o limite de envio daria ao negar, para que a
// resposta do honeypot seja igual à de rate limit.
func (p *Pipeline) disguised() domain.Decision {
	return domain.Decision{
		Allowed:    false,
		RetryAfter: p.deps.Limits.SubmitWindow,
		Limit:      p.deps.Limits.SubmitMax,
		Remaining:  0,
		Reset:      p.deps.Limits.SubmitWindow,
	}
}

func (p *Pipeline) readBody(w http.ResponseWriter, r *http.Request) (map[string]any, *Rejection) {
	body := http.MaxBytesReader(w, r.Body, p.opts.MaxBodyBytes)
	defer body.Close()

	var fields map[string]any
	dec := json.NewDecoder(body)
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, badRequest(http.StatusRequestEntityTooLarge, msgBodyTooLarge, nil, err)
		}
		return nil, badRequest(http.StatusBadRequest, msgInvalidBody, nil, err)
	}
	if fields == nil {
		return nil, badRequest(http.StatusBadRequest, msgInvalidBody, nil, errors.New("empty body"))
	}
	return fields, nil
}

func honeypotFilled(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(x) != ""
	case bool:
		return x
	default:
		return true
	}
}
