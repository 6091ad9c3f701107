// Package session guarda as sessões curtas emitidas para o formulário público.
//
// O token é um segredo opaco (256 bits aleatórios) apresentado no header
// X-Session-Token; o ID é só para log e correlação e nunca serve de credencial.
// A expiração é deslizante: cada validação bem sucedida empurra ExpiresAt.
//
// Tudo fica em memória; reiniciar o processo invalida todas as sessões.
package session
