package delivery

import "time"

type Meta struct {
	RequestID      string `json:"requestId"`
	Timestamp      string `json:"timestamp"`
	ServerVersion  string `json:"serverVersion"`
	Source         string `json:"source"`
	SessionID      string `json:"sessionId"`
	IP             string `json:"ip"`
	UserAgent      string `json:"userAgent"`
	Country        string `json:"country,omitempty"`
	SecurityPassed bool   `json:"securityPassed"`
}

// Submission é o payload já limpo e validado mais os dados da requisição.
// Não deve ser alterada depois de montada.
type Submission struct {
	Fields map[string]any

	RequestID string
	At        time.Time

	SessionID string
	IP        string
	UserAgent string
	Country   string
}

// body junta os campos com o objeto meta; um "meta" enviado pelo cliente é sobrescrito.
func (s Submission) body(cfg Config) map[string]any {
	out := make(map[string]any, len(s.Fields)+1)
	for k, v := range s.Fields {
		out[k] = v
	}
	out["meta"] = Meta{
		RequestID:      s.RequestID,
		Timestamp:      timestamp(s.At),
		ServerVersion:  cfg.ServerVersion,
		Source:         cfg.Source,
		SessionID:      s.SessionID,
		IP:             s.IP,
		UserAgent:      s.UserAgent,
		Country:        s.Country,
		SecurityPassed: true,
	}
	return out
}

func timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
