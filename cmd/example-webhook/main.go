// example-webhook é um destino falso para testar o gateway localmente.
//
//	EXAMPLE_WEBHOOK_ADDR     endereço (padrão :8081)
//	EXAMPLE_WEBHOOK_API_KEY  bearer esperado (vazio aceita qualquer um)
//	EXAMPLE_WEBHOOK_FAIL_FIRST  responde 503 nas N primeiras chamadas
//	EXAMPLE_WEBHOOK_STATUS   status fixo depois das falhas (padrão 200)
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"form-gateway/internal/logger"
)

type settings struct {
	Addr      string `mapstructure:"EXAMPLE_WEBHOOK_ADDR"`
	APIKey    string `mapstructure:"EXAMPLE_WEBHOOK_API_KEY"`
	FailFirst int64  `mapstructure:"EXAMPLE_WEBHOOK_FAIL_FIRST"`
	Status    int    `mapstructure:"EXAMPLE_WEBHOOK_STATUS"`
}

func main() {
	log := logger.New("info", "text")

	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("EXAMPLE_WEBHOOK_ADDR", ":8081")
	v.SetDefault("EXAMPLE_WEBHOOK_API_KEY", "")
	v.SetDefault("EXAMPLE_WEBHOOK_FAIL_FIRST", 0)
	v.SetDefault("EXAMPLE_WEBHOOK_STATUS", http.StatusOK)
	var s settings
	if err := v.Unmarshal(&s); err != nil {
		log.WithError(err).Fatal("config error")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           newHandler(s, log),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.WithFields(logrus.Fields{"addr": s.Addr, "failFirst": s.FailFirst, "status": s.Status}).Info("example webhook listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Fatal("server error")
	}
}

func newHandler(s settings, log logrus.FieldLogger) http.Handler {
	var calls int64
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if s.APIKey != "" && r.Header.Get("Authorization") != "Bearer "+s.APIKey {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		n := atomic.AddInt64(&calls, 1)
		entry := log.WithFields(logrus.Fields{
			"call":       n,
			"request_id": r.Header.Get("X-Request-ID"),
			"source":     r.Header.Get("X-Source"),
			"fields":     len(payload),
		})

		if n <= s.FailFirst {
			entry.Warn("failing on purpose")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		entry.Info("submission received")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(s.Status)
		_ = json.NewEncoder(w).Encode(map[string]any{"received": true, "call": n})
	})
}
