package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	logger "github.com/sirupsen/logrus"

	"pnldash/src/bech32util"
	"pnldash/src/connectors"
	"pnldash/src/model"
)

type dashboardService interface {
	Trades(ctx context.Context, network, address string, limit, offset int) (*model.TradesResponse, error)
	Positions(ctx context.Context, network, address string) (*model.PositionsResponse, error)
	VaultPositions(ctx context.Context, network, address string) (*model.VaultPositionsResponse, error)
	Stats(ctx context.Context, network string) (*model.StatsResponse, error)
}

// requestParams validates the address/network query parameters before any
// upstream call is issued. Violations are client errors.
func requestParams(r *http.Request, needAddress bool) (network, address string, ok bool) {
	network = r.URL.Query().Get("network")
	if network == "" {
		network = connectors.NetworkMainnet
	}
	if !connectors.ValidNetwork(network) {
		return "", "", false
	}
	if needAddress {
		address = r.URL.Query().Get("address")
		if !bech32util.IsHexAddress(address) {
			return "", "", false
		}
	}
	return network, address, true
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.WithError(err).Error("write response failed")
	}
}

// All finer-grained degradation is absorbed into the payload; a failed
// request surfaces as this single generic error.
func writeInternalError(w http.ResponseWriter) {
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load data"})
}

// TradesHandler serves GET /trades?address=&network=&limit=&offset=.
func TradesHandler(svc dashboardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		network, address, ok := requestParams(r, true)
		if !ok {
			http.Error(w, "invalid address or network", http.StatusBadRequest)
			return
		}

		limit := 0
		if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
			parsed, err := strconv.Atoi(limitParam)
			if err != nil || parsed < 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = parsed
		}
		offset := 0
		if offsetParam := r.URL.Query().Get("offset"); offsetParam != "" {
			parsed, err := strconv.Atoi(offsetParam)
			if err != nil || parsed < 0 {
				http.Error(w, "invalid offset", http.StatusBadRequest)
				return
			}
			offset = parsed
		}

		resp, err := svc.Trades(r.Context(), network, address, limit, offset)
		if err != nil {
			logger.WithError(err).WithField("address", address).Error("trades request failed")
			writeInternalError(w)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// PositionsHandler serves GET /positions?address=&network=.
func PositionsHandler(svc dashboardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		network, address, ok := requestParams(r, true)
		if !ok {
			http.Error(w, "invalid address or network", http.StatusBadRequest)
			return
		}

		resp, err := svc.Positions(r.Context(), network, address)
		if err != nil {
			logger.WithError(err).WithField("address", address).Error("positions request failed")
			writeInternalError(w)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// VaultPositionsHandler serves GET /vault-positions?address=&network=.
func VaultPositionsHandler(svc dashboardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		network, address, ok := requestParams(r, true)
		if !ok {
			http.Error(w, "invalid address or network", http.StatusBadRequest)
			return
		}

		resp, err := svc.VaultPositions(r.Context(), network, address)
		if err != nil {
			logger.WithError(err).WithField("address", address).Error("vault positions request failed")
			writeInternalError(w)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// StatsHandler serves GET /stats?network=.
func StatsHandler(svc dashboardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		network, _, ok := requestParams(r, false)
		if !ok {
			http.Error(w, "invalid network", http.StatusBadRequest)
			return
		}

		resp, err := svc.Stats(r.Context(), network)
		if err != nil {
			logger.WithError(err).WithField("network", network).Error("stats request failed")
			writeInternalError(w)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
