// Package delivery entrega submissões aceitas ao webhook de automação.
//
// Cada chamada de Deliver é independente: tenta uma vez e repete até
// MaxRetries vezes em 5xx/erro de transporte, com backoff exponencial
// limitado. 4xx encerra sem repetir. A credencial vem só da configuração.
package delivery
