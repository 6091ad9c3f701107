package sanitize

import (
	"regexp"
	"strings"
)

type Kind int

const (
	MissingFields Kind = iota + 1
	InvalidEmail
	InvalidPhone
)

func (k Kind) String() string {
	switch k {
	case MissingFields:
		return "missing_fields"
	case InvalidEmail:
		return "invalid_email"
	case InvalidPhone:
		return "invalid_phone"
	default:
		return "unknown"
	}
}

// ValidationError descreve por que os campos foram recusados.
// Fields lista os campos envolvidos; a mensagem é segura para o cliente.
type ValidationError struct {
	Kind   Kind
	Fields []string
}

func (e *ValidationError) Error() string {
	switch e.Kind {
	case MissingFields:
		return "Missing required fields: " + strings.Join(e.Fields, ", ")
	case InvalidEmail:
		return "Invalid email format"
	case InvalidPhone:
		return "Invalid phone number format"
	default:
		return "Invalid form data"
	}
}

var (
	emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phoneRe = regexp.MustCompile(`^[\d\s\-+()]+$`)
	spaceRe = regexp.MustCompile(`\s+`)
)

type Rules struct {
	Required    []string
	EmailField  string
	PhoneField  string
	PhonePrefix string
}

func DefaultRules() Rules {
	return Rules{
		Required:    []string{"localidad", "departamento", "provincia", "nombre", "apellido", "telefono", "email"},
		EmailField:  "email",
		PhoneField:  "telefono",
		PhonePrefix: "+54",
	}
}

// Validate confere presença e formato e devolve uma cópia com o telefone
// normalizado. Em erro o mapa de entrada não é tocado e nada é devolvido.
func (r Rules) Validate(fields map[string]any) (map[string]any, error) {
	var missing []string
	for _, name := range r.Required {
		if blank(fields[name]) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, &ValidationError{Kind: MissingFields, Fields: missing}
	}

	if r.EmailField != "" {
		if v, ok := fields[r.EmailField]; ok {
			if s, isStr := v.(string); !isStr || !emailRe.MatchString(s) {
				return nil, &ValidationError{Kind: InvalidEmail, Fields: []string{r.EmailField}}
			}
		}
	}

	var phone string
	hasPhone := false
	if r.PhoneField != "" {
		if v, ok := fields[r.PhoneField]; ok {
			s, isStr := v.(string)
			if !isStr || !phoneRe.MatchString(s) {
				return nil, &ValidationError{Kind: InvalidPhone, Fields: []string{r.PhoneField}}
			}
			phone, hasPhone = s, true
		}
	}

	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	if hasPhone {
		out[r.PhoneField] = r.NormalizePhone(phone)
	}
	return out, nil
}

// NormalizePhone tira o prefixo do país (e os espaços logo após) e todos os
// espaços internos.
func (r Rules) NormalizePhone(s string) string {
	if r.PhonePrefix != "" && strings.HasPrefix(s, r.PhonePrefix) {
		s = strings.TrimLeft(s[len(r.PhonePrefix):], " \t\r\n")
	}
	return spaceRe.ReplaceAllString(s, "")
}

func blank(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	default:
		return false
	}
}
