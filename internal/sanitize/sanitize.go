// Package sanitize limpa e valida os campos do formulário público.
package sanitize

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxLength é o tamanho máximo (em runes) de um campo texto após limpeza.
const MaxLength = 1000

var (
	blockRe   = regexp.MustCompile(`(?is)<(script|style)\b[^>]*>.*?</(script|style)\s*>`)
	tagRe     = regexp.MustCompile(`<[^<>]*>`)
	bracketRe = regexp.MustCompile(`[<>]`)
)

// String remove blocos script/style com conteúdo, tags e sobras de < >,
// corta em MaxLength e apara espaços. O resultado nunca contém < ou >,
// então aplicar duas vezes dá o mesmo valor.
func String(s string) string {
	s = strings.TrimSpace(s)
	s = blockRe.ReplaceAllString(s, "")
	s = tagRe.ReplaceAllString(s, "")
	s = bracketRe.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > MaxLength {
		s = string([]rune(s)[:MaxLength])
		s = strings.TrimSpace(s)
	}
	return s
}

// Value limpa strings e devolve qualquer outro tipo sem mudança.
func Value(v any) any {
	if s, ok := v.(string); ok {
		return String(s)
	}
	return v
}

// Fields devolve uma cópia limpa dos campos, sem as chaves em drop
// (ex: o honeypot).
func Fields(in map[string]any, drop ...string) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if contains(drop, k) {
			continue
		}
		out[k] = Value(v)
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
