package models

import (
	"log/slog"
	"net/http"

	"github.com/HatiCode/lagcast/cmd/forecaster/config"
	"github.com/HatiCode/lagcast/pkg/models"
)

// New returns the regressor factory for a series and the parameters to fit
// with when no search is configured. Nil parameters mean the defaults.
// client is used for byom requests and may be nil.
func New(sc config.SeriesConfig, client *http.Client, logger *slog.Logger) (models.Factory, *models.Params) {
	var params *models.Params
	if sc.Model.Params != nil {
		p := models.Params(*sc.Model.Params)
		params = &p
	}

	switch sc.Model.Kind {
	case "byom":
		logger.Info("initializing BYOM regressor",
			"series", sc.Name,
			"endpoint", sc.Model.Endpoint,
		)
		var opts []models.BYOMOption
		if client != nil {
			opts = append(opts, models.WithHTTPClient(client))
		}
		return models.BYOMFactory(sc.Model.Endpoint, opts...), params

	default:
		logger.Info("initializing GBRT regressor",
			"series", sc.Name,
			"trials", sc.Model.Trials,
			"params_override", params != nil,
		)
		return models.GBRTFactory, params
	}
}
