// SPDX-FileCopyrightText: 2025 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0
package culvert

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xmidt-org/httpaux"
	"github.com/xmidt-org/sallust"
	"go.uber.org/zap"

	"github.com/xmidt-org/culvert/internal/handler"
)

const apiBase = "/api/v1"

func sanitizeHeaders(headers http.Header) (filtered http.Header) {
	filtered = headers.Clone()
	if authHeader := filtered.Get("Authorization"); authHeader != "" {
		filtered.Del("Authorization")
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 {
			filtered.Set("Authorization-Type", parts[0])
		}
	}
	return
}

// setLogger decorates each request context with a logger carrying request
// scoped fields, retrievable downstream with sallust.Get.
func setLogger(logger *zap.Logger) func(delegate http.Handler) http.Handler {
	return func(delegate http.Handler) http.Handler {
		return http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				ctx := sallust.With(r.Context(), logger.With(
					zap.Any("requestHeaders", sanitizeHeaders(r.Header)),
					zap.String("requestURL", r.URL.EscapedPath()),
					zap.String("method", r.Method),
				))
				delegate.ServeHTTP(w, r.WithContext(ctx))
			})
	}
}

func newPrimaryRouter(logger *zap.Logger, sh *handler.ServerHandler) *mux.Router {
	router := mux.NewRouter()
	chain := alice.New(setLogger(logger))
	router.Handle(apiBase+"/events", chain.Then(sh)).Methods("POST")
	return router
}

func newMetricsRouter(path string, registry *prometheus.Registry) *mux.Router {
	router := mux.NewRouter()
	router.Handle(path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods("GET")
	return router
}

func newHealthRouter(path string) *mux.Router {
	router := mux.NewRouter()
	router.Handle(path, httpaux.ConstantHandler{
		StatusCode: http.StatusOK,
	}).Methods("GET")
	return router
}
