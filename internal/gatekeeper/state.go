package gatekeeper

// State é a etapa do pipeline alcançada por uma requisição.
// As etapas rodam sempre nesta ordem; Accepted, Rejected e Errored são finais.
type State int

const (
	Received State = iota
	IPChecked
	RateChecked
	HoneypotChecked
	SessionValidated
	Sanitized
	Validated
	Delivering
	Accepted
	Rejected
	Errored
)

var stateNames = [...]string{
	Received:         "received",
	IPChecked:        "ip_checked",
	RateChecked:      "rate_checked",
	HoneypotChecked:  "honeypot_checked",
	SessionValidated: "session_validated",
	Sanitized:        "sanitized",
	Validated:        "validated",
	Delivering:       "delivering",
	Accepted:         "accepted",
	Rejected:         "rejected",
	Errored:          "errored",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

func (s State) Final() bool {
	return s == Accepted || s == Rejected || s == Errored
}

// Outcome resume uma requisição terminada: Reached é a última etapa
// concluída antes do estado final.
type Outcome struct {
	Route     string
	IP        string
	Reached   State
	Final     State
	Class     Class
	Status    int
	RequestID string
	SessionID string
}
